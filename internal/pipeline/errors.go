package pipeline

import (
	"errors"
	"fmt"
)

var (
	ErrTranscription   = errors.New("transcription failed")
	ErrInvalidInterval = errors.New("invalid interval")
)

// SegmentError reports a diarized interval that could not be turned into a
// segment clip. Ordinal is the interval's 1-based position.
type SegmentError struct {
	Ordinal int
	Label   string
	Err     error
}

func (e *SegmentError) Error() string {
	return fmt.Sprintf("segment %d (%s): %v", e.Ordinal, e.Label, e.Err)
}

func (e *SegmentError) Unwrap() error {
	return e.Err
}

// ChunkError reports a failure while splitting or transcribing one chunk of
// a segment. Chunk is 0-based; Chunks is zero when the split itself failed
// before the part count was known.
type ChunkError struct {
	Segment int
	Label   string
	Chunk   int
	Chunks  int
	Err     error
}

func (e *ChunkError) Error() string {
	if e.Chunks == 0 {
		return fmt.Sprintf("segment %d (%s): %v", e.Segment, e.Label, e.Err)
	}
	return fmt.Sprintf("segment %d (%s) chunk %d/%d: %v", e.Segment, e.Label, e.Chunk+1, e.Chunks, e.Err)
}

func (e *ChunkError) Unwrap() error {
	return e.Err
}

// segmentErrors flattens a joined extraction error into its SegmentErrors.
func segmentErrors(err error) []*SegmentError {
	if err == nil {
		return nil
	}

	var out []*SegmentError
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			out = append(out, segmentErrors(e)...)
		}
		return out
	}

	var segErr *SegmentError
	if errors.As(err, &segErr) {
		out = append(out, segErr)
	}
	return out
}
