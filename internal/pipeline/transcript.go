package pipeline

import (
	"fmt"
	"io"
)

// TranscriptWriter writes one "<label>: <text>" line per entry, as soon as
// the entry arrives.
type TranscriptWriter struct {
	w     io.Writer
	lines int
}

func NewTranscriptWriter(w io.Writer) *TranscriptWriter {
	return &TranscriptWriter{w: w}
}

func (t *TranscriptWriter) Write(e Entry) error {
	if _, err := fmt.Fprintf(t.w, "%s: %s\n", e.Label, e.Text); err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}
	t.lines++
	return nil
}

func (t *TranscriptWriter) Lines() int {
	return t.lines
}
