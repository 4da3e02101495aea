// Package httpactor is an actor.Actor that drives a browser automation
// sidecar over JSON/HTTP. The sidecar owns the browser; this client only
// forwards capability calls and maps the replies.
//
// Wire protocol (all bodies JSON unless noted):
//
//	POST   /v1/sessions                   {"proxy"}               -> {"session_id"}
//	POST   /v1/sessions/{id}/probe        {"deep"}                -> {"logged_in","login_form","url"}
//	POST   /v1/sessions/{id}/reload
//	POST   /v1/sessions/{id}/login        {"email","password"}
//	GET    /v1/sessions/{id}/artifact                             -> raw token set
//	PUT    /v1/sessions/{id}/artifact     raw token set           -> {"installed"}
//	GET    /v1/sessions/{id}/screenshot                           -> image/png
//	POST   /v1/sessions/{id}/post         {"destination","link"}  -> {"outcome"}
//	POST   /v1/sessions/{id}/warmup
//	POST   /v1/sessions/{id}/identity     {"identity"}
//	DELETE /v1/sessions/{id}
//
// Error replies carry {"error": "..."} and a non-2xx status.
package httpactor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"campaignd/internal/actor"
	logx "campaignd/pkg/logx"
)

type Config struct {
	Endpoint string
	// Timeout bounds one request. PostOnce and SubmitLogin can take minutes
	// on the sidecar side.
	Timeout time.Duration
	// RatePerSec paces requests to the sidecar. <=0 means 2.
	RatePerSec int
	// ProxyURL is handed to the sidecar for the browser, not used by this client.
	ProxyURL string
}

// Factory opens one sidecar session per New call.
type Factory struct {
	cfg     Config
	base    *url.URL
	http    *http.Client
	limiter *rate.Limiter
	log     logx.Logger
}

var _ actor.Factory = (*Factory)(nil)

func NewFactory(cfg Config, log logx.Logger) (*Factory, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("httpactor: invalid endpoint %q", cfg.Endpoint)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 2
	}
	d := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	tr := &http.Transport{
		DialContext:         d.DialContext,
		MaxIdleConns:        4,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Factory{
		cfg:     cfg,
		base:    u,
		http:    &http.Client{Transport: tr, Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		log:     log.With(logx.String("comp", "httpactor")),
	}, nil
}

func (f *Factory) New(ctx context.Context) (actor.Actor, error) {
	var out struct {
		SessionID string `json:"session_id"`
	}
	if err := f.call(ctx, http.MethodPost, "/v1/sessions", map[string]string{"proxy": f.cfg.ProxyURL}, &out); err != nil {
		return nil, fmt.Errorf("open actor session: %w", err)
	}
	if out.SessionID == "" {
		return nil, errors.New("open actor session: empty session id")
	}
	f.log.Info("actor session opened", logx.String("session", out.SessionID))
	return &Client{f: f, id: out.SessionID, log: f.log.With(logx.String("session", out.SessionID))}, nil
}

// StatusError is a non-2xx reply from the sidecar.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("sidecar: %s (http %d)", e.Message, e.Status)
	}
	return fmt.Sprintf("sidecar: http %d", e.Status)
}

func (f *Factory) call(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	ctype := ""
	switch v := in.(type) {
	case nil:
	case []byte:
		body, ctype = bytes.NewReader(v), "application/octet-stream"
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		body, ctype = bytes.NewReader(b), "application/json"
	}
	raw, err := f.do(ctx, method, path, body, ctype)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if p, ok := out.(*[]byte); ok {
		*p = raw
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func (f *Factory) do(ctx context.Context, method, path string, body io.Reader, ctype string) ([]byte, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, f.base.String()+path, body)
	if err != nil {
		return nil, err
	}
	if ctype != "" {
		req.Header.Set("Content-Type", ctype)
	}
	resp, err := f.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(raw, &e)
		return nil, &StatusError{Status: resp.StatusCode, Message: e.Error}
	}
	return raw, nil
}

// Client is one sidecar session.
type Client struct {
	f   *Factory
	id  string
	log logx.Logger

	mu     sync.Mutex
	closed bool
}

var (
	_ actor.Actor            = (*Client)(nil)
	_ actor.Warmer           = (*Client)(nil)
	_ actor.IdentitySwitcher = (*Client)(nil)
)

func (c *Client) path(op string) string {
	p := "/v1/sessions/" + url.PathEscape(c.id)
	if op != "" {
		p += "/" + op
	}
	return p
}

func (c *Client) call(ctx context.Context, method, op string, in, out any) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return actor.ErrClosed
	}
	return c.f.call(ctx, method, c.path(op), in, out)
}

func (c *Client) Probe(ctx context.Context, deep bool) (actor.Probe, error) {
	var out struct {
		LoggedIn  bool   `json:"logged_in"`
		LoginForm bool   `json:"login_form"`
		URL       string `json:"url"`
	}
	if err := c.call(ctx, http.MethodPost, "probe", map[string]bool{"deep": deep}, &out); err != nil {
		return actor.Probe{}, err
	}
	return actor.Probe{LoggedIn: out.LoggedIn, LoginForm: out.LoginForm, URL: out.URL}, nil
}

func (c *Client) Reload(ctx context.Context) error {
	return c.call(ctx, http.MethodPost, "reload", nil, nil)
}

func (c *Client) SubmitLogin(ctx context.Context, login actor.Login) error {
	return c.call(ctx, http.MethodPost, "login", map[string]string{"email": login.Email, "password": login.Password}, nil)
}

func (c *Client) ExportSession(ctx context.Context) ([]byte, error) {
	var b []byte
	if err := c.call(ctx, http.MethodGet, "artifact", nil, &b); err != nil {
		return nil, err
	}
	return b, nil
}

func (c *Client) RestoreSession(ctx context.Context, artifact []byte) (bool, error) {
	var out struct {
		Installed bool `json:"installed"`
	}
	if err := c.call(ctx, http.MethodPut, "artifact", artifact, &out); err != nil {
		return false, err
	}
	return out.Installed, nil
}

func (c *Client) Screenshot(ctx context.Context, path string) error {
	var png []byte
	if err := c.call(ctx, http.MethodGet, "screenshot", nil, &png); err != nil {
		return err
	}
	if len(png) == 0 {
		return errors.New("empty screenshot")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, png, 0o644)
}

// PostOnce maps the sidecar's outcome string; transport failures are
// returned as errors and classified by the caller.
func (c *Client) PostOnce(ctx context.Context, destination, link string) (actor.Outcome, error) {
	var out struct {
		Outcome string `json:"outcome"`
	}
	if err := c.call(ctx, http.MethodPost, "post", map[string]string{"destination": destination, "link": link}, &out); err != nil {
		return "", err
	}
	return actor.ParseOutcome(out.Outcome), nil
}

func (c *Client) Warmup(ctx context.Context) error {
	return c.call(ctx, http.MethodPost, "warmup", nil, nil)
}

func (c *Client) SwitchIdentity(ctx context.Context, identity string) error {
	return c.call(ctx, http.MethodPost, "identity", map[string]string{"identity": identity}, nil)
}

// Close ends the sidecar session. It is safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if _, err := c.f.do(ctx, http.MethodDelete, c.path(""), nil, ""); err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Status == http.StatusNotFound {
			return nil
		}
		return fmt.Errorf("close actor session: %w", err)
	}
	c.log.Info("actor session closed")
	return nil
}
