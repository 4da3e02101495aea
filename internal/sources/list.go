package sources

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"go.yaml.in/yaml/v3"
)

var (
	numberedLineRe = regexp.MustCompile(`^\d+\.\s+(.+)$`)
	// Trailing member counts such as "3.4K", "1,2 M" or "12.5".
	memberCountRe = regexp.MustCompile(`\s*\d+[.,]\d+\s*[KkMm]?\s*$`)
)

// minNameLen drops fragments that are too short to be a real destination name.
const minNameLen = 4

// ErrUnsupportedFormat is returned for a list file whose extension has no
// reader.
var ErrUnsupportedFormat = errors.New("unsupported list format")

// ExtractPool reads the destination list at path. YAML files hold either a
// top-level sequence or a "destinations" key. PDF and text files are read
// as numbered lines ("12. Name 3.4K"). Order is kept and names are
// deduplicated.
func ExtractPool(path string) ([]string, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	name := filepath.Base(path)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		names, err := yamlNames(b)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		return dedup(names), nil
	case ".pdf":
		text, err := pdfText(path)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		return ParseNumberedList([]byte(text)), nil
	case ".txt", ".text", ".md", "":
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return ParseNumberedList(b), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

// ParseNumberedList extracts destination names from numbered lines.
// Unnumbered lines are ignored.
func ParseNumberedList(b []byte) []string {
	var names []string
	sc := bufio.NewScanner(bytes.NewReader(b))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		m := numberedLineRe.FindStringSubmatch(strings.TrimSpace(sc.Text()))
		if m == nil {
			continue
		}
		names = append(names, memberCountRe.ReplaceAllString(m[1], ""))
	}
	return dedup(names)
}

func yamlNames(b []byte) ([]string, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(b, &node); err != nil {
		return nil, err
	}
	if len(node.Content) == 0 {
		return nil, nil
	}
	root := node.Content[0]
	if root.Kind == yaml.MappingNode {
		var doc struct {
			Destinations []string `yaml:"destinations"`
		}
		if err := root.Decode(&doc); err != nil {
			return nil, err
		}
		return doc.Destinations, nil
	}
	var names []string
	if err := root.Decode(&names); err != nil {
		return nil, err
	}
	return names, nil
}

func dedup(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(strings.ReplaceAll(n, "...", ""))
		if utf8.RuneCountInString(n) < minNameLen {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
