package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/fmueller/speakerscribe/internal/transcribe"
)

// Entry is one line of the transcript.
type Entry struct {
	Label string
	Text  string
}

type Summary struct {
	Emitted int
	Skipped int
}

// Orchestrator transcribes segments chunk by chunk and emits one entry per
// segment in segment order.
type Orchestrator struct {
	Chunker     *Chunker
	Transcriber transcribe.Transcriber
	Language    string
	Workers     int
	OnError     FailurePolicy
	// WorkDir receives chunk files; empty means next to each segment clip.
	WorkDir string
	Logger  *zap.Logger
	// Done is called once per attempted segment after its transcription
	// step has finished, whether it succeeded or not. With Workers > 1 it
	// is called from several goroutines.
	Done func(Segment, error)
}

// TranscribeSegment splits seg, transcribes each chunk in order and joins
// the texts with newlines. Chunks it created are removed before it returns.
func (o *Orchestrator) TranscribeSegment(ctx context.Context, seg Segment) (Entry, error) {
	chunks, err := o.Chunker.Split(ctx, seg.Clip, o.WorkDir)
	if err != nil {
		var chunkErr *ChunkError
		if errors.As(err, &chunkErr) {
			chunkErr.Segment = seg.Ordinal
			chunkErr.Label = seg.Label
		}
		return Entry{}, err
	}
	defer func() {
		if err := Cleanup(chunks); err != nil {
			o.logger().Warn("could not remove chunk files", zap.Int("segment", seg.Ordinal), zap.Error(err))
		}
	}()

	texts := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		text, err := o.Transcriber.Transcribe(ctx, transcribe.Request{
			AudioPath: chunk.Clip.Path,
			Language:  o.Language,
			Format:    transcribe.FormatText,
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Entry{}, ctxErr
			}
			return Entry{}, &ChunkError{
				Segment: seg.Ordinal,
				Label:   seg.Label,
				Chunk:   i,
				Chunks:  len(chunks),
				Err:     fmt.Errorf("%w: %w", ErrTranscription, err),
			}
		}
		texts = append(texts, text)
	}

	return Entry{Label: seg.Label, Text: strings.TrimSpace(strings.Join(texts, "\n"))}, nil
}

// Run transcribes segments and passes entries to emit in segment order. An
// emit error always stops the run. A failed segment stops it too under
// AbortOnError; under SkipOnError it is logged and left out. Cancellation is
// never skipped.
func (o *Orchestrator) Run(ctx context.Context, segments []Segment, emit func(Entry) error) (Summary, error) {
	if o.Workers > 1 && len(segments) > 1 {
		return o.runParallel(ctx, segments, emit)
	}

	var summary Summary
	for _, seg := range segments {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		entry, err := o.TranscribeSegment(ctx, seg)
		o.finish(seg, err)

		if done, err := o.handle(ctx, seg, entry, err, emit, &summary); done {
			return summary, err
		}
	}
	return summary, nil
}

type outcome struct {
	entry Entry
	err   error
}

func (o *Orchestrator) runParallel(parent context.Context, segments []Segment, emit func(Entry) error) (Summary, error) {
	ctx, cancel := context.WithCancel(parent)

	results := make([]chan outcome, len(segments))
	for i := range results {
		results[i] = make(chan outcome, 1)
	}

	sem := newSemaphore(o.Workers)
	var wg sync.WaitGroup
	dispatched := make(chan struct{})

	go func() {
		defer close(dispatched)
		for i, seg := range segments {
			if err := sem.acquire(ctx); err != nil {
				for j := i; j < len(segments); j++ {
					results[j] <- outcome{err: err}
				}
				return
			}

			i, seg := i, seg
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer sem.release()

				entry, err := o.TranscribeSegment(ctx, seg)
				o.finish(seg, err)
				results[i] <- outcome{entry: entry, err: err}
			}()
		}
	}()

	defer func() {
		cancel()
		<-dispatched
		wg.Wait()
	}()

	var summary Summary
	for i, seg := range segments {
		var r outcome
		select {
		case r = <-results[i]:
		case <-parent.Done():
			return summary, parent.Err()
		}

		if done, err := o.handle(parent, seg, r.entry, r.err, emit, &summary); done {
			return summary, err
		}
	}
	return summary, nil
}

// handle applies the failure policy to one segment's result. It reports
// whether the run has to stop.
func (o *Orchestrator) handle(ctx context.Context, seg Segment, entry Entry, err error, emit func(Entry) error, summary *Summary) (bool, error) {
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return true, ctxErr
		}
		if o.OnError == SkipOnError {
			o.logger().Warn("skipping segment after transcription failure",
				zap.Int("segment", seg.Ordinal),
				zap.String("label", seg.Label),
				zap.Error(err),
			)
			summary.Skipped++
			return false, nil
		}
		return true, err
	}

	if err := emit(entry); err != nil {
		return true, err
	}
	summary.Emitted++
	return false, nil
}

func (o *Orchestrator) finish(seg Segment, err error) {
	if o.Done != nil {
		o.Done(seg, err)
	}
}

func (o *Orchestrator) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}
