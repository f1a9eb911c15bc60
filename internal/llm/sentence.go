package llm

import (
	"strings"
)

const danda = "।"

// SentenceBuffer accumulates streamed text and extracts complete sentences,
// so synthesis can start on the first sentence while the rest is still generating.
type SentenceBuffer struct {
	buffer strings.Builder
}

// NewSentenceBuffer creates a new sentence buffer
func NewSentenceBuffer() *SentenceBuffer {
	return &SentenceBuffer{}
}

// Add adds text to the buffer and returns any complete sentences.
// A terminator only counts once the following whitespace has arrived.
func (b *SentenceBuffer) Add(text string) []string {
	b.buffer.WriteString(text)

	content := b.buffer.String()
	var sentences []string

	lastEnd := 0
	for i := 0; i < len(content); i++ {
		if end, ok := sentenceEnd(content, i); ok {
			if sentence := strings.TrimSpace(content[lastEnd:end]); sentence != "" {
				sentences = append(sentences, sentence)
			}
			lastEnd = end
			i = end - 1
		}
	}

	if lastEnd > 0 {
		b.buffer.Reset()
		b.buffer.WriteString(content[lastEnd:])
	}

	return sentences
}

// Flush returns any remaining text and clears the buffer
func (b *SentenceBuffer) Flush() string {
	result := strings.TrimSpace(b.buffer.String())
	b.buffer.Reset()
	return result
}

// Pending returns the current pending text without clearing
func (b *SentenceBuffer) Pending() string {
	return b.buffer.String()
}

// sentenceEnd reports whether a terminator starts at i and returns the index just past it
func sentenceEnd(s string, i int) (int, bool) {
	var end int
	switch {
	case s[i] == '.' || s[i] == '!' || s[i] == '?':
		end = i + 1
	case strings.HasPrefix(s[i:], danda):
		end = i + len(danda)
	default:
		return 0, false
	}

	// Collapse runs like "?!" or "..."
	for end < len(s) && (s[end] == '.' || s[end] == '!' || s[end] == '?') {
		end++
	}

	if end >= len(s) || !isSpace(s[end]) {
		return 0, false
	}
	if s[end-1] == '.' && isAbbreviation(s, end-1) {
		return 0, false
	}
	return end, true
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\r' || c == '\t'
}

var commonAbbreviations = []string{
	"Dr.", "Mr.", "Mrs.", "Ms.", "Jr.", "Sr.",
	"Prof.", "St.", "Inc.", "Ltd.", "Co.", "vs.", "etc.",
	"i.e.", "e.g.", "a.m.", "p.m.", "U.S.", "U.K.",
}

// isAbbreviation checks if the period at position i is likely an abbreviation
func isAbbreviation(s string, i int) bool {
	start := i
	for start > 0 && !isSpace(s[start-1]) {
		start--
	}
	word := s[start : i+1]

	for _, abbr := range commonAbbreviations {
		if strings.EqualFold(word, abbr) {
			return true
		}
	}

	// Single uppercase initial, e.g. "J. Smith"
	return i-start == 1 && s[start] >= 'A' && s[start] <= 'Z'
}
