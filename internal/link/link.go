// Package link decorates publishable links so every post is unique on the
// destination side, and strips that decoration back off for ledger keys.
package link

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	refParam = "ref"
	tsParam  = "ts"
)

// Render returns base decorated with a random token and a unix timestamp.
func Render(base string, now time.Time) string {
	token := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	// A fragment stays last so the decoration lands in the query.
	frag := ""
	if i := strings.IndexByte(base, '#'); i >= 0 {
		base, frag = base[:i], base[i:]
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + refParam + "=" + token + "&" + tsParam + "=" + strconv.FormatInt(now.Unix(), 10) + frag
}

// Fingerprint identifies the underlying content of link: the link without
// the ref/ts decoration Render adds and without a fragment. Remaining query
// parameters are kept in sorted order. Host case and a trailing slash are
// normalized. Any rendering of the same base yields the same fingerprint.
func Fingerprint(link string) string {
	s := strings.TrimSpace(link)
	if i := strings.IndexByte(s, '#'); i >= 0 {
		s = s[:i]
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		if i := strings.IndexByte(s, '?'); i >= 0 {
			s = s[:i]
		}
		return strings.TrimSuffix(s, "/")
	}
	q := u.Query()
	q.Del(refParam)
	q.Del(tsParam)
	u.RawQuery = q.Encode()
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Path = strings.TrimSuffix(u.Path, "/")
	u.RawPath = ""
	u.Fragment, u.RawFragment = "", ""
	return u.String()
}
