package processor_test

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/docchat/pkg/processor"
)

func longText(sentences int) string {
	var b strings.Builder
	for i := 0; i < sentences; i++ {
		if i > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "Sentence number %03d describes the quarterly report and its many findings in some detail.", i)
	}
	return b.String()
}

func lastRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}

func TestNewWithConfig_Defaults(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{})
	cfg := p.Config()
	assert.Equal(t, processor.DefaultChunkSize, cfg.ChunkSize)
	assert.Equal(t, processor.DefaultChunkOverlap, cfg.ChunkOverlap)
	assert.Equal(t, processor.DefaultMinChunkLength, cfg.MinChunkLength)
}

func TestProcessor_Split_NoOverlap(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{
		ChunkSize:      100,
		ChunkOverlap:   processor.NoOverlap,
		MinChunkLength: 10,
	})
	assert.Equal(t, 0, p.Config().ChunkOverlap)

	var parts []string
	for i := 0; i < 4; i++ {
		parts = append(parts, fmt.Sprintf("Sentence number %d covers a separate idea at some length.", i))
	}
	text := strings.Join(parts, " ")

	chunks := p.Split(text)
	assert.Equal(t, parts, chunks)
	assert.Equal(t, text, strings.Join(chunks, " "))
}

func TestProcessor_Split_ShortInput(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{})

	tests := []struct {
		name string
		text string
	}{
		{"empty", ""},
		{"whitespace", "   \n\t  "},
		{"below minimum", "Too short. Still short."},
		{"49 runes", strings.Repeat("a", 49)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Empty(t, p.Split(tt.text))
		})
	}
}

func TestProcessor_Split_SingleChunk(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{})
	text := "This is a test document. It contains several sentences to demonstrate text processing."

	chunks := p.Split(text)

	require.Len(t, chunks, 1)
	assert.Equal(t, text, chunks[0])
}

func TestProcessor_Split_Overlap(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{})
	text := longText(60)

	chunks := p.Split(text)
	require.GreaterOrEqual(t, len(chunks), 2)

	for i := 0; i+1 < len(chunks); i++ {
		window := strings.TrimLeft(lastRunes(chunks[i], processor.DefaultChunkOverlap), " ")
		assert.True(t, strings.HasPrefix(chunks[i+1], window),
			"chunk %d does not start with the tail of chunk %d", i+1, i)
	}
}

func TestProcessor_Split_NoSentenceLost(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{})
	text := longText(40)

	joined := strings.Join(p.Split(text), "\n")
	for i := 0; i < 40; i++ {
		assert.Contains(t, joined, fmt.Sprintf("Sentence number %03d", i))
	}
}

func TestProcessor_Split_Deterministic(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{})
	text := longText(35)

	assert.Equal(t, p.Split(text), p.Split(text))
}

func TestProcessor_Split_OversizedSentence(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{ChunkSize: 100, ChunkOverlap: 20, MinChunkLength: 10})
	giant := strings.Repeat("word ", 60) + "end."
	text := "A short opening sentence here. " + giant + " A closing remark follows."

	chunks := p.Split(text)

	found := false
	for _, c := range chunks {
		if strings.Contains(c, giant) {
			found = true
			assert.Greater(t, utf8.RuneCountInString(c), 100)
		}
	}
	assert.True(t, found, "oversized sentence must be emitted whole")
}

func TestProcessor_Split_CountsRunes(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{ChunkSize: 100, ChunkOverlap: 10, MinChunkLength: 5})
	// 83 runes, 165 bytes.
	sentence := strings.Repeat("é", 40) + "."
	text := sentence + " " + sentence

	chunks := p.Split(text)
	require.Len(t, chunks, 1)
}

func TestJoinPages(t *testing.T) {
	text, starts := processor.JoinPages([]string{"  first\npage  ", "", "second   page"})

	assert.Equal(t, "first page second page", text)
	assert.Equal(t, []int{0, 10, 11}, starts)
}

func TestLocatePages(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{ChunkSize: 120, ChunkOverlap: 20, MinChunkLength: 10})
	var pages []string
	for n := 1; n <= 3; n++ {
		var b strings.Builder
		for i := 0; i < 3; i++ {
			fmt.Fprintf(&b, "Page %d paragraph %d explains a distinct part of the onboarding guide.\n", n, i)
		}
		pages = append(pages, b.String())
	}
	text, starts := processor.JoinPages(pages)

	chunks := p.Split(text)
	got := processor.LocatePages(text, starts, chunks)

	require.Len(t, got, len(chunks))
	assert.Equal(t, 1, got[0])
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i], got[i-1])
		assert.LessOrEqual(t, got[i], 3)
	}
	assert.Equal(t, 3, got[len(got)-1])
}

func TestLocatePages_Missing(t *testing.T) {
	got := processor.LocatePages("alpha beta", []int{0}, []string{"gamma"})
	assert.Equal(t, []int{0}, got)
}
