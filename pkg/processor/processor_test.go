package processor_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/ragsync/pkg/processor"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"nul bytes removed", "a\x00b", "ab"},
		{"control chars removed", "a\x01\x02\x1fb", "ab"},
		{"tab and newline survive", "a\tb\nc", "a\tb\nc"},
		{"space runs collapse", "a    b", "a b"},
		{"trimmed", "  hello world  ", "hello world"},
		{"c1 range removed", "ab", "ab"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, processor.Sanitize(tt.in))
		})
	}
}

func TestSanitizeIdempotent(t *testing.T) {
	inputs := []string{
		"  a\x00b   c\t\nd  ",
		"plain text",
		"\x01\x02\x03",
	}

	for _, in := range inputs {
		once := processor.Sanitize(in)
		assert.Equal(t, once, processor.Sanitize(once))
	}
}

func TestChunk(t *testing.T) {
	chunks := processor.Chunk(strings.Repeat("a", 1000), 400, 0)

	assert.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 400)
	assert.Len(t, chunks[1], 400)
	assert.Len(t, chunks[2], 200)
}

func TestChunkEmpty(t *testing.T) {
	assert.Empty(t, processor.Chunk("", 400, 0))
	assert.Empty(t, processor.Chunk("   \x00  ", 400, 0))
}

func TestChunkReassembles(t *testing.T) {
	text := processor.Sanitize(strings.Repeat("the quick brown fox ", 100))
	chunks := processor.Chunk(text, 400, 0)

	assert.Equal(t, text, strings.Join(chunks, ""))
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 400)
	}
}

func TestChunkWithOverlap(t *testing.T) {
	text := strings.Repeat("ab", 500)
	chunks := processor.Chunk(text, 400, 100)

	// Window advances by 300: starts at 0, 300, 600, 900 — ceil(1000/300)
	// chunks, including the final overlap-start window.
	require.Len(t, chunks, 4)
	assert.Equal(t, text[:400], chunks[0])
	assert.Equal(t, text[300:700], chunks[1])
	assert.Equal(t, text[600:1000], chunks[2])
	assert.Equal(t, text[900:], chunks[3])
}

func TestChunkCountsCharactersNotBytes(t *testing.T) {
	// 150 three-byte runes fit a single 400-character window.
	text := strings.Repeat("日", 150)
	chunks := processor.Chunk(text, 400, 0)

	require.Len(t, chunks, 1)
	assert.Equal(t, text, chunks[0])
}

func TestChunkNeverSplitsRunes(t *testing.T) {
	text := strings.Repeat("日", 500)
	chunks := processor.Chunk(text, 400, 0)

	require.Len(t, chunks, 2)
	assert.Equal(t, 400, utf8.RuneCountInString(chunks[0]))
	assert.Equal(t, 100, utf8.RuneCountInString(chunks[1]))
	for _, c := range chunks {
		assert.True(t, utf8.ValidString(c))
	}
	assert.Equal(t, text, strings.Join(chunks, ""))
}

func TestChunkDeterministic(t *testing.T) {
	text := strings.Repeat("determinism matters ", 50)

	first := processor.Chunk(text, 400, 80)
	second := processor.Chunk(text, 400, 80)

	assert.Equal(t, first, second)
}

func TestChunkTerminatesWhenOverlapExceedsSize(t *testing.T) {
	text := strings.Repeat("c", 500)

	// An overlap >= chunk size cannot move the window forward; the chunker
	// must stop instead of looping.
	chunks := processor.Chunk(text, 100, 100)
	assert.NotEmpty(t, chunks)

	chunks = processor.Chunk(text, 100, 150)
	assert.NotEmpty(t, chunks)
}

func TestNewWithConfigDefaults(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{})

	assert.Equal(t, 400, p.ChunkSize())
	assert.Equal(t, 0, p.ChunkOverlap())

	chunks := p.Chunk(strings.Repeat("a", 850))
	assert.Len(t, chunks, 3)
}
