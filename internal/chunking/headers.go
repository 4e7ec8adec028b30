package chunking

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	markdownHeaderRe = regexp.MustCompile(`^(#{1,6})\s+\S`)
	numberedHeaderRe = regexp.MustCompile(`^(\d+(?:\.\d+)+\.?|\d+\.)\s+\S`)
	keywordHeaderRe  = regexp.MustCompile(`(?i)^(chapter|part|annex|appendix|section|article)\s+[0-9IVXLCA-Z]`)
)

// maxHeaderLength bounds how long a line may be and still count as a header.
const maxHeaderLength = 100

// headerLevel returns the nesting level of a header-like line, or 0 for body text.
func headerLevel(line string) int {
	line = strings.TrimSpace(line)
	if line == "" || len(line) > maxHeaderLength {
		return 0
	}

	if m := markdownHeaderRe.FindStringSubmatch(line); m != nil {
		return len(m[1])
	}

	// Numbered list items read as sentences; numbered headers do not.
	if m := numberedHeaderRe.FindStringSubmatch(line); m != nil {
		if endsLikeSentence(line) {
			return 0
		}
		return strings.Count(strings.TrimSuffix(m[1], "."), ".") + 1
	}

	if m := keywordHeaderRe.FindStringSubmatch(line); m != nil {
		switch strings.ToLower(m[1]) {
		case "section", "article":
			return 2
		default:
			return 1
		}
	}

	if isAllCaps(line) && !endsLikeSentence(line) {
		return 1
	}
	return 0
}

// headerText strips Markdown heading markers from a header line.
func headerText(line string) string {
	return strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "#"))
}

func endsLikeSentence(line string) bool {
	return strings.HasSuffix(line, ".") || strings.HasSuffix(line, ";") || strings.HasSuffix(line, ",")
}

func isAllCaps(line string) bool {
	letters := 0
	for _, r := range line {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsLetter(r) {
			letters++
		}
	}
	return letters >= 3
}

// headerStack tracks the enclosing headers at the current position of the document.
type headerStack struct {
	entries []headerEntry
}

type headerEntry struct {
	level int
	text  string
}

// enter pops every header at the same or deeper level and pushes the new one.
func (s *headerStack) enter(level int, text string) {
	s.close(level)
	s.entries = append(s.entries, headerEntry{level: level, text: text})
}

// close pops headers that a new header at level would end.
func (s *headerStack) close(level int) {
	for len(s.entries) > 0 && s.entries[len(s.entries)-1].level >= level {
		s.entries = s.entries[:len(s.entries)-1]
	}
}

func (s *headerStack) snapshot() []string {
	if len(s.entries) == 0 {
		return nil
	}
	out := make([]string, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.text
	}
	return out
}
