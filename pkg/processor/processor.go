package processor

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	DefaultChunkSize      = 1000
	DefaultChunkOverlap   = 200
	DefaultMinChunkLength = 50

	// NoOverlap disables the carried tail; a zero ChunkOverlap means default.
	NoOverlap = -1
)

// ProcessorConfig bounds chunk sizes. Lengths count Unicode code points.
type ProcessorConfig struct {
	ChunkSize      int
	ChunkOverlap   int
	MinChunkLength int
}

type Processor struct {
	config ProcessorConfig
}

func NewWithConfig(config ProcessorConfig) Processor {
	if config.ChunkSize == 0 {
		config.ChunkSize = DefaultChunkSize
	}
	switch {
	case config.ChunkOverlap < 0:
		config.ChunkOverlap = 0
	case config.ChunkOverlap == 0:
		config.ChunkOverlap = DefaultChunkOverlap
	}
	if config.MinChunkLength == 0 {
		config.MinChunkLength = DefaultMinChunkLength
	}

	return Processor{
		config: config,
	}
}

func (p Processor) Config() ProcessorConfig { return p.config }

// Split cuts text into overlapping chunks along sentence boundaries.
// A sentence longer than ChunkSize becomes its own oversized chunk.
func (p Processor) Split(text string) []string {
	var chunks []string
	current := ""

	for _, sentence := range splitIntoSentences(text) {
		if utf8.RuneCountInString(current)+utf8.RuneCountInString(sentence) > p.config.ChunkSize {
			if current != "" {
				chunks = append(chunks, strings.TrimSpace(current))
			}
			// Carry the tail of the closed chunk into the next one.
			if carry := tail(current, p.config.ChunkOverlap); carry != "" {
				current = carry + " " + sentence
			} else {
				current = sentence
			}
			continue
		}
		if current == "" {
			current = sentence
		} else {
			current += " " + sentence
		}
	}

	if rest := strings.TrimSpace(current); rest != "" {
		chunks = append(chunks, rest)
	}

	kept := chunks[:0]
	for _, chunk := range chunks {
		if utf8.RuneCountInString(chunk) >= p.config.MinChunkLength {
			kept = append(kept, chunk)
		}
	}
	if len(kept) == 0 {
		return nil
	}
	return kept
}

// splitIntoSentences breaks text after '.', '!' or '?' when followed by
// whitespace. The whitespace run between sentences is dropped.
func splitIntoSentences(text string) []string {
	var sentences []string
	start := 0

	for i := 0; i < len(text); {
		c := text[i]
		if c != '.' && c != '!' && c != '?' {
			i++
			continue
		}
		j := i + 1
		for j < len(text) {
			r, size := utf8.DecodeRuneInString(text[j:])
			if !unicode.IsSpace(r) {
				break
			}
			j += size
		}
		if j == i+1 {
			i++
			continue
		}
		if s := text[start : i+1]; s != "" {
			sentences = append(sentences, s)
		}
		start = j
		i = j
	}

	if start < len(text) {
		sentences = append(sentences, text[start:])
	}
	return sentences
}

// tail returns the last n code points of s.
func tail(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := utf8.RuneCountInString(s)
	if count <= n {
		return s
	}
	skip := count - n
	for i := range s {
		if skip == 0 {
			return s[i:]
		}
		skip--
	}
	return ""
}

// JoinPages collapses whitespace inside each page and joins the pages with a
// single space. starts holds the byte offset at which each page begins.
func JoinPages(pages []string) (text string, starts []int) {
	var b strings.Builder
	for _, page := range pages {
		clean := strings.Join(strings.Fields(page), " ")
		if clean == "" {
			starts = append(starts, b.Len())
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		starts = append(starts, b.Len())
		b.WriteString(clean)
	}
	return b.String(), starts
}

// LocatePages maps every chunk to the 1-based position, within the pages
// given to JoinPages, of the page on which it starts, or 0 when the chunk
// cannot be found in text. Chunks must be in emission order.
func LocatePages(text string, starts []int, chunks []string) []int {
	pages := make([]int, len(chunks))
	cursor := 0
	for i, chunk := range chunks {
		idx := strings.Index(text[cursor:], chunk)
		if idx < 0 {
			continue
		}
		pos := cursor + idx
		cursor = pos
		// Last page whose start is <= pos.
		page := sort.Search(len(starts), func(k int) bool { return starts[k] > pos })
		pages[i] = page
	}
	return pages
}
