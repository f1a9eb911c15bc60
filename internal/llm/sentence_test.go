package llm

import (
	"testing"
)

func TestSentenceBuffer_Add(t *testing.T) {
	tests := []struct {
		name      string
		chunks    []string
		sentences []string
		pending   string
	}{
		{
			name:      "single sentence waits for whitespace",
			chunks:    []string{"Hello there."},
			sentences: nil,
			pending:   "Hello there.",
		},
		{
			name:      "sentence completed by next chunk",
			chunks:    []string{"Hello there.", " How are"},
			sentences: []string{"Hello there."},
			pending:   " How are",
		},
		{
			name:      "multiple terminators",
			chunks:    []string{"Really?! Yes. Ok"},
			sentences: []string{"Really?!", "Yes."},
			pending:   " Ok",
		},
		{
			name:      "abbreviation is not a boundary",
			chunks:    []string{"Call Dr. Smith today. Thanks"},
			sentences: []string{"Call Dr. Smith today."},
			pending:   " Thanks",
		},
		{
			name:      "decimal number is not a boundary",
			chunks:    []string{"It costs 3.50 dollars. Ok"},
			sentences: []string{"It costs 3.50 dollars."},
			pending:   " Ok",
		},
		{
			name:      "danda",
			chunks:    []string{"नमस्ते। आप कैसे"},
			sentences: []string{"नमस्ते।"},
			pending:   " आप कैसे",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewSentenceBuffer()
			var got []string
			for _, c := range tt.chunks {
				got = append(got, b.Add(c)...)
			}
			if len(got) != len(tt.sentences) {
				t.Fatalf("Expected %d sentences %q, got %d %q", len(tt.sentences), tt.sentences, len(got), got)
			}
			for i := range got {
				if got[i] != tt.sentences[i] {
					t.Errorf("Expected sentence %d to be %q, got %q", i, tt.sentences[i], got[i])
				}
			}
			if b.Pending() != tt.pending {
				t.Errorf("Expected pending %q, got %q", tt.pending, b.Pending())
			}
		})
	}
}

func TestSentenceBuffer_Flush(t *testing.T) {
	b := NewSentenceBuffer()
	b.Add("Goodbye")
	b.Add(" for now")

	if got := b.Flush(); got != "Goodbye for now" {
		t.Errorf("Expected flushed text %q, got %q", "Goodbye for now", got)
	}
	if b.Pending() != "" {
		t.Errorf("Expected empty buffer after flush, got %q", b.Pending())
	}
	if got := b.Flush(); got != "" {
		t.Errorf("Expected empty second flush, got %q", got)
	}
}
