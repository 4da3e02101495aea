package sources

import (
	"archive/zip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var urlRe = regexp.MustCompile(`https?://[^\s<>"']+`)

// ExtractLink returns the publishable link for dayOfMonth: links are
// discovered in document order and the one at (day-1) mod count is chosen,
// giving a fixed monthly rotation. Links pointing at destination pages
// (containing "/groups/") are ignored. ok is false when the document holds
// no usable link.
func ExtractLink(path string, dayOfMonth int) (link string, ok bool, err error) {
	text, err := readDocument(path)
	if err != nil {
		return "", false, err
	}
	links := Links(text)
	if len(links) == 0 {
		return "", false, nil
	}
	if dayOfMonth < 1 {
		dayOfMonth = 1
	}
	return links[(dayOfMonth-1)%len(links)], true, nil
}

// Links returns every publishable link in text, in order.
func Links(text string) []string {
	var out []string
	for _, m := range urlRe.FindAllString(text, -1) {
		m = strings.TrimRight(m, ".,;")
		if strings.Contains(m, "/groups/") {
			continue
		}
		out = append(out, m)
	}
	return out
}

func readDocument(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".docx":
		return docxText(path)
	case ".pdf":
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return pdfText(path)
	default:
		b, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return string(b), err
	}
}

// docxText flattens word/document.xml: text runs are concatenated and every
// paragraph, table cell and line break becomes a newline. Tables are covered
// because their cells are paragraphs too.
func docxText(path string) (string, error) {
	zr, err := zip.OpenReader(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", err
		}
		defer rc.Close()
		return wordprocessingText(rc)
	}
	return "", errors.New("docx: word/document.xml missing")
}

func wordprocessingText(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var (
		sb     strings.Builder
		inText bool
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return sb.String(), nil
		}
		if err != nil {
			return "", fmt.Errorf("docx xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "br", "cr", "tab":
				sb.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p", "tc":
				sb.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				sb.Write(t)
			}
		}
	}
}
