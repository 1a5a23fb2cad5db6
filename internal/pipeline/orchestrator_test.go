package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fmueller/speakerscribe/internal/media"
	"github.com/fmueller/speakerscribe/internal/transcribe"
)

// makeSegments writes one clip per label; each clip is duration seconds at
// 100 bytes per second.
func makeSegments(t *testing.T, tool *fakeTool, duration float64, labels ...string) []Segment {
	t.Helper()

	dir := t.TempDir()
	segments := make([]Segment, 0, len(labels))
	for i, label := range labels {
		path := filepath.Join(dir, fmt.Sprintf("segment_%d_%s.m4a", i+1, label))
		require.NoError(t, tool.Cut(context.Background(), "in.m4a", 0, duration, path))
		clip, err := media.StatClip(path, duration)
		require.NoError(t, err)
		segments = append(segments, Segment{Ordinal: i + 1, Label: label, Clip: clip})
	}
	return segments
}

func collect(entries *[]Entry) func(Entry) error {
	var mu sync.Mutex
	return func(e Entry) error {
		mu.Lock()
		defer mu.Unlock()
		*entries = append(*entries, e)
		return nil
	}
}

func TestTranscribeSegmentJoinsChunksInOrder(t *testing.T) {
	t.Parallel()

	tool := newFakeTool(100)
	seg := makeSegments(t, tool, 10, "A")[0]
	work := t.TempDir()

	transcriber := &scriptedTranscriber{respond: func(req transcribe.Request) (string, error) {
		base := filepath.Base(req.AudioPath)
		return fmt.Sprintf("  %s  ", strings.TrimSuffix(base, ".m4a")), nil
	}}

	o := &Orchestrator{
		Chunker:     &Chunker{Tool: tool, MaxBytes: 400},
		Transcriber: transcriber,
		Language:    "ja",
		WorkDir:     work,
	}

	entry, err := o.TranscribeSegment(context.Background(), seg)
	require.NoError(t, err)
	require.Equal(t, "A", entry.Label)
	require.Equal(t, "segment_1_A_part_1  \n  segment_1_A_part_2  \n  segment_1_A_part_3", entry.Text)

	reqs := transcriber.requests()
	require.Len(t, reqs, 3)
	for _, req := range reqs {
		require.Equal(t, "ja", req.Language)
		require.Equal(t, transcribe.FormatText, req.Format)
	}

	leftover, err := os.ReadDir(work)
	require.NoError(t, err)
	require.Empty(t, leftover, "chunk files must be removed")
}

func TestTranscribeSegmentSendsSmallClipAsIs(t *testing.T) {
	t.Parallel()

	tool := newFakeTool(100)
	seg := makeSegments(t, tool, 2, "B")[0]
	transcriber := &scriptedTranscriber{}

	o := &Orchestrator{Chunker: &Chunker{Tool: tool, MaxBytes: 1000}, Transcriber: transcriber}
	entry, err := o.TranscribeSegment(context.Background(), seg)
	require.NoError(t, err)
	require.Equal(t, Entry{Label: "B", Text: "text of segment_1_B"}, entry)
	require.Equal(t, seg.Clip.Path, transcriber.requests()[0].AudioPath)

	_, err = os.Stat(seg.Clip.Path)
	require.NoError(t, err, "the segment clip belongs to the caller")
}

func TestTranscribeSegmentFailureNamesChunk(t *testing.T) {
	t.Parallel()

	tool := newFakeTool(100)
	seg := makeSegments(t, tool, 10, "A")[0]
	work := t.TempDir()
	apiErr := &transcribe.APIError{Status: 500, Body: "upstream"}

	transcriber := &scriptedTranscriber{respond: func(req transcribe.Request) (string, error) {
		if strings.Contains(req.AudioPath, "_part_2") {
			return "", apiErr
		}
		return "ok", nil
	}}

	o := &Orchestrator{Chunker: &Chunker{Tool: tool, MaxBytes: 400}, Transcriber: transcriber, WorkDir: work}
	_, err := o.TranscribeSegment(context.Background(), seg)
	require.ErrorIs(t, err, ErrTranscription)

	var chunkErr *ChunkError
	require.ErrorAs(t, err, &chunkErr)
	require.Equal(t, 1, chunkErr.Segment)
	require.Equal(t, 1, chunkErr.Chunk)
	require.Equal(t, 3, chunkErr.Chunks)
	require.Contains(t, err.Error(), "chunk 2/3")

	var gotAPI *transcribe.APIError
	require.ErrorAs(t, err, &gotAPI)
	require.Len(t, transcriber.requests(), 2, "chunk 3 is never sent")

	leftover, err := os.ReadDir(work)
	require.NoError(t, err)
	require.Empty(t, leftover)
}

func TestTranscribeSegmentSplitFailureCarriesSegment(t *testing.T) {
	t.Parallel()

	tool := newFakeTool(100)
	seg := makeSegments(t, tool, 10, "A")[0]
	seg.Ordinal = 7
	tool.probeErr = errors.New("probe exploded")

	o := &Orchestrator{Chunker: &Chunker{Tool: tool, MaxBytes: 400}, Transcriber: &scriptedTranscriber{}}
	_, err := o.TranscribeSegment(context.Background(), seg)
	require.ErrorIs(t, err, media.ErrTool)

	var chunkErr *ChunkError
	require.ErrorAs(t, err, &chunkErr)
	require.Equal(t, 7, chunkErr.Segment)
	require.Equal(t, "A", chunkErr.Label)
}

func failOn(label string) func(transcribe.Request) (string, error) {
	return func(req transcribe.Request) (string, error) {
		if strings.Contains(filepath.Base(req.AudioPath), "_"+label) {
			return "", errors.New("boom")
		}
		return "hello " + label, nil
	}
}

func TestRunAbortsOnFirstFailure(t *testing.T) {
	t.Parallel()

	tool := newFakeTool(100)
	segments := makeSegments(t, tool, 1, "A", "B", "C")
	transcriber := &scriptedTranscriber{respond: failOn("B")}

	var entries []Entry
	var done []int
	o := &Orchestrator{
		Chunker:     &Chunker{Tool: tool, MaxBytes: 1000},
		Transcriber: transcriber,
		Done:        func(seg Segment, _ error) { done = append(done, seg.Ordinal) },
	}

	summary, err := o.Run(context.Background(), segments, collect(&entries))
	require.ErrorIs(t, err, ErrTranscription)
	require.Equal(t, Summary{Emitted: 1}, summary)
	require.Len(t, entries, 1)
	require.Equal(t, "A", entries[0].Label)
	require.Equal(t, []int{1, 2}, done)
	require.Len(t, transcriber.requests(), 2)
}

func TestRunSkipsFailedSegments(t *testing.T) {
	t.Parallel()

	tool := newFakeTool(100)
	segments := makeSegments(t, tool, 1, "A", "B", "C")

	var entries []Entry
	o := &Orchestrator{
		Chunker:     &Chunker{Tool: tool, MaxBytes: 1000},
		Transcriber: &scriptedTranscriber{respond: failOn("B")},
		OnError:     SkipOnError,
	}

	summary, err := o.Run(context.Background(), segments, collect(&entries))
	require.NoError(t, err)
	require.Equal(t, Summary{Emitted: 2, Skipped: 1}, summary)
	require.Equal(t, []Entry{{Label: "A", Text: "hello A"}, {Label: "C", Text: "hello C"}}, entries)
}

func TestRunStopsWhenEmitFails(t *testing.T) {
	t.Parallel()

	tool := newFakeTool(100)
	segments := makeSegments(t, tool, 1, "A", "B")
	writeErr := errors.New("disk full")

	o := &Orchestrator{
		Chunker:     &Chunker{Tool: tool, MaxBytes: 1000},
		Transcriber: &scriptedTranscriber{},
		OnError:     SkipOnError,
	}

	_, err := o.Run(context.Background(), segments, func(Entry) error { return writeErr })
	require.ErrorIs(t, err, writeErr)
}

func TestRunParallelKeepsSegmentOrder(t *testing.T) {
	t.Parallel()

	tool := newFakeTool(100)
	labels := []string{"A", "B", "C", "D", "E", "F", "G", "H"}
	segments := makeSegments(t, tool, 1, labels...)

	var inFlight, peak atomic.Int32
	transcriber := &scriptedTranscriber{respond: func(req transcribe.Request) (string, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		// Earlier segments finish last.
		base := filepath.Base(req.AudioPath)
		var ordinal int
		_, _ = fmt.Sscanf(base, "segment_%d_", &ordinal)
		time.Sleep(time.Duration(len(labels)-ordinal) * 3 * time.Millisecond)
		return "text " + base, nil
	}}

	var entries []Entry
	o := &Orchestrator{
		Chunker:     &Chunker{Tool: tool, MaxBytes: 1000},
		Transcriber: transcriber,
		Workers:     3,
	}

	summary, err := o.Run(context.Background(), segments, collect(&entries))
	require.NoError(t, err)
	require.Equal(t, len(labels), summary.Emitted)
	require.Len(t, entries, len(labels))
	for i, entry := range entries {
		require.Equal(t, labels[i], entry.Label)
	}
	require.LessOrEqual(t, peak.Load(), int32(3))
}

func TestRunParallelAbortEmitsOnlyEarlierSegments(t *testing.T) {
	t.Parallel()

	tool := newFakeTool(100)
	segments := makeSegments(t, tool, 1, "A", "B", "C", "D", "E")

	var entries []Entry
	o := &Orchestrator{
		Chunker:     &Chunker{Tool: tool, MaxBytes: 1000},
		Transcriber: &scriptedTranscriber{respond: failOn("C")},
		Workers:     4,
	}

	summary, err := o.Run(context.Background(), segments, collect(&entries))
	require.ErrorIs(t, err, ErrTranscription)
	require.Equal(t, 2, summary.Emitted)
	require.Equal(t, []string{"A", "B"}, []string{entries[0].Label, entries[1].Label})
	require.Len(t, entries, 2)
}

func TestRunCancellationIsNeverSkipped(t *testing.T) {
	t.Parallel()

	tool := newFakeTool(100)
	segments := makeSegments(t, tool, 1, "A", "B", "C")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	transcriber := &scriptedTranscriber{respond: func(req transcribe.Request) (string, error) {
		if strings.Contains(req.AudioPath, "_B") {
			cancel()
			return "", context.Canceled
		}
		return "ok", nil
	}}

	for _, workers := range []int{1, 2} {
		var entries []Entry
		o := &Orchestrator{
			Chunker:     &Chunker{Tool: tool, MaxBytes: 1000},
			Transcriber: transcriber,
			OnError:     SkipOnError,
			Workers:     workers,
		}
		_, err := o.Run(ctx, segments, collect(&entries))
		require.ErrorIs(t, err, context.Canceled, "workers=%d", workers)
		for _, e := range entries {
			require.NotEqual(t, "C", e.Label)
		}
	}
}

func TestTranscriptWriter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w := NewTranscriptWriter(&buf)
	require.NoError(t, w.Write(Entry{Label: "SPEAKER_00", Text: "こんにちは"}))
	require.NoError(t, w.Write(Entry{Label: "SPEAKER_01", Text: ""}))
	require.Equal(t, "SPEAKER_00: こんにちは\nSPEAKER_01: \n", buf.String())
	require.Equal(t, 2, w.Lines())
}

func TestParseFailurePolicy(t *testing.T) {
	t.Parallel()

	p, err := ParseFailurePolicy("")
	require.NoError(t, err)
	require.Equal(t, AbortOnError, p)

	p, err = ParseFailurePolicy(" Skip ")
	require.NoError(t, err)
	require.Equal(t, SkipOnError, p)
	require.Equal(t, "skip", p.String())

	_, err = ParseFailurePolicy("retry")
	require.Error(t, err)
}
