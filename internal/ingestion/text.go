// Package ingestion turns raw document files into clean text ready for
// chunking.
package ingestion

import (
	"bytes"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// Format is the detected kind of a raw file.
type Format string

const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
)

// ErrUnsupportedFormat is returned for files that are not text, Markdown or HTML.
var ErrUnsupportedFormat = errors.New("unsupported document format")

var (
	spaceRunRe      = regexp.MustCompile(`[ \t\f\v]+`)
	excessBlankRe   = regexp.MustCompile(`\n{3,}`)
	noiseSelector   = "script, style, noscript, nav, footer, header, iframe, form, svg"
	blockSelector   = "h1, h2, h3, h4, h5, h6, p, li, pre, blockquote, td, th, dt, dd"
	headingLevelTag = map[string]int{"h1": 1, "h2": 2, "h3": 3, "h4": 4, "h5": 5, "h6": 6}
)

// DetectFormat picks the format from the MIME type, then the file extension,
// then the content itself.
func DetectFormat(data []byte, filename, mimeType string) (Format, error) {
	if mimeType != "" {
		mediaType, _, err := mime.ParseMediaType(mimeType)
		if err == nil {
			switch mediaType {
			case "text/html", "application/xhtml+xml":
				return FormatHTML, nil
			case "text/markdown", "text/x-markdown":
				return FormatMarkdown, nil
			case "text/plain":
				return FormatText, nil
			}
		}
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".html", ".htm", ".xhtml":
		return FormatHTML, nil
	case ".md", ".markdown":
		return FormatMarkdown, nil
	case ".txt", ".text":
		return FormatText, nil
	}

	sniffed := http.DetectContentType(data)
	switch {
	case strings.HasPrefix(sniffed, "text/html"):
		return FormatHTML, nil
	case strings.HasPrefix(sniffed, "text/plain"):
		return FormatText, nil
	}
	return "", fmt.Errorf("%w: %s (%s)", ErrUnsupportedFormat, filename, sniffed)
}

// ExtractText returns the cleaned text of a raw file. HTML is reduced to its
// readable blocks with headings rendered as Markdown headers so the chunker
// can track sections.
func ExtractText(data []byte, filename, mimeType string) (string, error) {
	format, err := DetectFormat(data, filename, mimeType)
	if err != nil {
		return "", err
	}

	switch format {
	case FormatHTML:
		return htmlToText(data)
	default:
		data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
		if !utf8.Valid(data) {
			return "", fmt.Errorf("%w: %s is not valid UTF-8", ErrUnsupportedFormat, filename)
		}
		return CleanText(string(data)), nil
	}
}

func htmlToText(data []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}
	doc.Find(noiseSelector).Remove()

	root := doc.Find("main, article").First()
	if root.Length() == 0 {
		root = doc.Find("body")
	}

	var blocks []string
	root.Find(blockSelector).Each(func(_ int, s *goquery.Selection) {
		// Nested blocks are emitted by their innermost element.
		if s.Find(blockSelector).Length() > 0 {
			return
		}
		text := strings.Join(strings.Fields(s.Text()), " ")
		if text == "" {
			return
		}
		tag := goquery.NodeName(s)
		switch {
		case headingLevelTag[tag] > 0:
			text = strings.Repeat("#", headingLevelTag[tag]) + " " + text
		case tag == "li":
			text = "- " + text
		}
		blocks = append(blocks, text)
	})

	if len(blocks) == 0 {
		return CleanText(root.Text()), nil
	}
	return CleanText(strings.Join(blocks, "\n\n")), nil
}

// CleanText normalizes line endings, collapses runs of spaces and limits
// blank lines to one, keeping Markdown headings and bullets intact.
func CleanText(content string) string {
	if content == "" {
		return ""
	}
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")

	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = cleanLine(line)
	}
	result := excessBlankRe.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(result)
}

// cleanLine trims trailing whitespace and collapses inner runs of spaces.
// Leading indentation is kept for nested bullets.
func cleanLine(line string) string {
	line = strings.TrimRight(line, " \t")
	trimmed := strings.TrimLeft(line, " \t")
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(trimmed, "#") {
		return spaceRunRe.ReplaceAllString(trimmed, " ")
	}
	indent := ""
	if isBulletLine(trimmed) {
		indent = strings.Repeat(" ", len(line)-len(trimmed))
	}
	return indent + spaceRunRe.ReplaceAllString(trimmed, " ")
}

func isBulletLine(line string) bool {
	return strings.HasPrefix(line, "- ") || strings.HasPrefix(line, "* ") ||
		strings.HasPrefix(line, "• ") || strings.HasPrefix(line, "· ")
}
