package processor

import (
	"regexp"
	"strings"
)

// DefaultChunkSize and DefaultChunkOverlap are a compatibility contract:
// previously stored vectors were produced with these values, so changing
// them invalidates the index. They are configurable but never silently
// altered.
const (
	DefaultChunkSize    = 400
	DefaultChunkOverlap = 0
)

type ProcessorConfig struct {
	ChunkSize    int
	ChunkOverlap int
}

type Processor struct {
	config ProcessorConfig
}

func NewWithConfig(config ProcessorConfig) Processor {
	if config.ChunkSize <= 0 {
		config.ChunkSize = DefaultChunkSize
	}
	if config.ChunkOverlap < 0 {
		config.ChunkOverlap = DefaultChunkOverlap
	}

	return Processor{
		config: config,
	}
}

// controlChars matches NUL, the C0 range except tab/newline, DEL and the C1
// range.
var controlChars = regexp.MustCompile("[\x00-\x08\x0B\x0C\x0E-\x1F\x7F-]")

var spaceRuns = regexp.MustCompile(" +")

// Sanitize strips control characters, collapses runs of spaces and trims
// surrounding whitespace. It is idempotent: Sanitize(Sanitize(s)) ==
// Sanitize(s). It is applied defensively inside every extraction branch and
// again before chunking and embedding.
func Sanitize(text string) string {
	if text == "" {
		return ""
	}

	text = strings.ReplaceAll(text, "\x00", "")
	text = controlChars.ReplaceAllString(text, "")
	text = spaceRuns.ReplaceAllString(text, " ")

	return strings.TrimSpace(text)
}

// Chunk splits text into windows of up to size characters, advancing by
// size-overlap each step and terminating when the window stops moving
// forward. The input is sanitized first; empty input yields no chunks. The
// sequence is deterministic for a given input.
func Chunk(text string, size, overlap int) []string {
	text = Sanitize(text)
	if text == "" {
		return []string{}
	}
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}

	// Windows are measured in characters, never bytes: slicing the raw
	// string would split multi-byte runes at window boundaries and store
	// invalid UTF-8.
	runes := []rune(text)
	length := len(runes)

	var chunks []string
	start := 0

	for start < length {
		end := start + size
		if end > length {
			end = length
		}
		chunks = append(chunks, string(runes[start:end]))

		next := end
		if overlap > 0 {
			next = end - overlap
		}
		if next <= start {
			break
		}
		start = next
	}

	return chunks
}

// Chunk applies the processor's configured size and overlap.
func (p *Processor) Chunk(text string) []string {
	return Chunk(text, p.config.ChunkSize, p.config.ChunkOverlap)
}

// ChunkSize reports the configured chunk size.
func (p *Processor) ChunkSize() int {
	return p.config.ChunkSize
}

// ChunkOverlap reports the configured chunk overlap.
func (p *Processor) ChunkOverlap() int {
	return p.config.ChunkOverlap
}
