// Package chunking splits document text into bounded, header-aware segments
// suitable for language-model prompts.
//
// Chunks are spans of the (newline-normalized) input: concatenating
// Content[Overlap:] of every chunk in order reproduces the input exactly.
package chunking

import (
	"strings"
	"unicode/utf8"
)

// Options control how text is split.
type Options struct {
	// MaxChunkSize is the upper bound, in bytes, of a chunk's content.
	MaxChunkSize int `json:"max_chunk_size" yaml:"max_chunk_size"`
	// MinChunkSize is the size below which a trailing chunk is folded into its predecessor.
	MinChunkSize int `json:"min_chunk_size" yaml:"min_chunk_size"`
	// ChunkOverlap is the number of bytes repeated from the previous chunk.
	ChunkOverlap int `json:"chunk_overlap" yaml:"chunk_overlap"`
	// PreserveHeaders prefixes each chunk's Text with its enclosing headers.
	PreserveHeaders bool `json:"preserve_headers" yaml:"preserve_headers"`
}

// DefaultOptions returns the options used for reference documents.
func DefaultOptions() Options {
	return Options{
		MaxChunkSize:    2000,
		MinChunkSize:    200,
		ChunkOverlap:    200,
		PreserveHeaders: true,
	}
}

func (o Options) normalized() Options {
	if o.MaxChunkSize <= 0 {
		o.MaxChunkSize = DefaultOptions().MaxChunkSize
	}
	if o.ChunkOverlap < 0 {
		o.ChunkOverlap = 0
	}
	if o.ChunkOverlap*2 > o.MaxChunkSize {
		o.ChunkOverlap = o.MaxChunkSize / 4
	}
	if o.MinChunkSize < 0 {
		o.MinChunkSize = 0
	}
	if o.MinChunkSize > o.MaxChunkSize {
		o.MinChunkSize = o.MaxChunkSize
	}
	return o
}

// Chunk is one segment of a document.
type Chunk struct {
	Index int `json:"index"`
	// Text is what gets sent to the model: header breadcrumb plus trimmed content.
	Text string `json:"text"`
	// Content is the raw span, including the overlap copied from the previous chunk.
	Content string `json:"content"`
	// Overlap is the length of the leading part of Content repeated from the previous chunk.
	Overlap int      `json:"overlap"`
	Headers []string `json:"headers,omitempty"`
	// Start and End are byte offsets of the chunk's own span, excluding overlap.
	Start int `json:"start"`
	End   int `json:"end"`
}

// span is a half-open byte range of the input with the headers enclosing its start.
type span struct {
	start, end int
	headers    []string
}

// block is a header line or a paragraph; blocks tile the whole input.
type block struct {
	start, end int
	level      int
	header     string
}

// Split divides text into ordered chunks. It is pure and deterministic.
// Whitespace-only input yields no chunks; input no longer than
// MaxChunkSize yields exactly one.
func Split(text string, opts Options) []Chunk {
	opts = opts.normalized()
	text = normalizeNewlines(text)
	if strings.TrimSpace(text) == "" {
		return nil
	}

	if len(text) <= opts.MaxChunkSize {
		return []Chunk{{
			Index:   0,
			Text:    strings.TrimSpace(text),
			Content: text,
			Start:   0,
			End:     len(text),
		}}
	}

	sp := &splitter{text: text, opts: opts, budget: opts.MaxChunkSize - opts.ChunkOverlap}
	spans := sp.collect(scanBlocks(text))
	spans = compact(text, spans, opts)
	return sp.emit(spans)
}

func normalizeNewlines(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(text, "\r", "\n")
}

// scanBlocks tiles text into header lines and paragraphs. Blank lines
// belong to the block before them; leading whitespace to the first block.
func scanBlocks(text string) []block {
	var blocks []block
	inParagraph := false
	for lineStart := 0; lineStart < len(text); {
		lineEnd, next := len(text), len(text)
		if nl := strings.IndexByte(text[lineStart:], '\n'); nl >= 0 {
			lineEnd = lineStart + nl
			next = lineEnd + 1
		}
		line := text[lineStart:lineEnd]

		switch {
		case strings.TrimSpace(line) == "":
			inParagraph = false
		case headerLevel(line) > 0:
			blocks = append(blocks, block{start: lineStart, level: headerLevel(line), header: headerText(line)})
			inParagraph = false
		case !inParagraph:
			blocks = append(blocks, block{start: lineStart})
			inParagraph = true
		}
		lineStart = next
	}

	for i := range blocks {
		if i+1 < len(blocks) {
			blocks[i].end = blocks[i+1].start
		} else {
			blocks[i].end = len(text)
		}
	}
	if len(blocks) > 0 {
		blocks[0].start = 0
	}
	return blocks
}

type splitter struct {
	text   string
	opts   Options
	budget int

	stack   headerStack
	spans   []span
	current *span
}

func (s *splitter) collect(blocks []block) []span {
	for _, b := range blocks {
		size := b.end - b.start
		if s.current != nil && (s.current.end-s.current.start)+size > s.budget {
			s.flush()
		}

		if size > s.budget {
			s.flush()
			pieces := s.splitOversized(b.start, b.end)
			for i, p := range pieces {
				if i == 0 {
					s.begin(p.start, b.level)
					if b.level > 0 {
						s.stack.enter(b.level, b.header)
					}
				} else {
					s.begin(p.start, 0)
				}
				s.current.end = p.end
				if i < len(pieces)-1 {
					s.flush()
				}
			}
			continue
		}

		if s.current == nil {
			s.begin(b.start, b.level)
		}
		if b.level > 0 {
			s.stack.enter(b.level, b.header)
		}
		s.current.end = b.end
	}
	s.flush()
	return s.spans
}

// begin opens a new span. A span starting on a header is prefixed with the
// headers enclosing that header, not the header itself.
func (s *splitter) begin(start, level int) {
	if level > 0 {
		s.stack.close(level)
	}
	s.current = &span{start: start, end: start, headers: s.stack.snapshot()}
}

func (s *splitter) flush() {
	if s.current == nil {
		return
	}
	if s.current.end > s.current.start {
		s.spans = append(s.spans, *s.current)
	}
	s.current = nil
}

// splitOversized cuts a block larger than the budget, preferring paragraph,
// line, sentence and word boundaries before falling back to a raw offset.
func (s *splitter) splitOversized(start, end int) []span {
	var pieces []span
	pos := start
	for end-pos > s.budget {
		cut := s.breakPoint(pos, pos+s.budget)
		pieces = append(pieces, span{start: pos, end: cut})
		pos = cut
	}
	return append(pieces, span{start: pos, end: end})
}

func (s *splitter) breakPoint(pos, limit int) int {
	window := s.text[pos:limit]
	minCut := s.budget / 2
	for _, sep := range []string{"\n\n", "\n", ". ", " "} {
		if idx := strings.LastIndex(window, sep); idx >= minCut {
			return pos + idx + len(sep)
		}
	}
	cut := limit
	for cut > pos && !utf8.RuneStart(s.text[cut]) {
		cut--
	}
	if cut == pos {
		return limit
	}
	return cut
}

// compact folds blank spans and a tiny trailing span into their predecessor.
// The last chunk may therefore exceed MaxChunkSize by up to MinChunkSize.
func compact(text string, spans []span, opts Options) []span {
	out := make([]span, 0, len(spans))
	for _, sp := range spans {
		if len(out) > 0 && strings.TrimSpace(text[sp.start:sp.end]) == "" {
			out[len(out)-1].end = sp.end
			continue
		}
		out = append(out, sp)
	}
	if len(out) > 1 && strings.TrimSpace(text[out[0].start:out[0].end]) == "" {
		out[1].start = out[0].start
		out = out[1:]
	}

	if n := len(out); n > 1 {
		last, prev := out[n-1], out[n-2]
		if len(strings.TrimSpace(text[last.start:last.end])) < opts.MinChunkSize &&
			last.end-prev.start <= opts.MaxChunkSize+opts.MinChunkSize {
			out[n-2].end = last.end
			out = out[:n-1]
		}
	}
	return out
}

func (s *splitter) emit(spans []span) []Chunk {
	chunks := make([]Chunk, 0, len(spans))
	for i, sp := range spans {
		contentStart := sp.start
		if i > 0 && s.opts.ChunkOverlap > 0 {
			contentStart = s.overlapStart(spans[i-1].start, sp.start)
		}
		content := s.text[contentStart:sp.end]

		var prefix string
		if s.opts.PreserveHeaders && len(sp.headers) > 0 {
			prefix = strings.Join(sp.headers, " > ") + "\n\n"
		}

		chunks = append(chunks, Chunk{
			Index:   i,
			Text:    prefix + strings.TrimSpace(content),
			Content: content,
			Overlap: sp.start - contentStart,
			Headers: sp.headers,
			Start:   sp.start,
			End:     sp.end,
		})
	}
	return chunks
}

// overlapStart picks where the repeated context begins: at most ChunkOverlap
// bytes back, never before the previous chunk, aligned to a word when possible.
func (s *splitter) overlapStart(prevStart, start int) int {
	from := start - s.opts.ChunkOverlap
	if from < prevStart {
		from = prevStart
	}
	if idx := strings.IndexAny(s.text[from:start], " \n\t"); idx >= 0 {
		return from + idx + 1
	}
	for from < start && !utf8.RuneStart(s.text[from]) {
		from++
	}
	return from
}
