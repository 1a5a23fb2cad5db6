// Package pipeline turns a recording into a speaker-labelled transcript:
// diarize, cut one clip per speaker turn, split clips to the upload ceiling,
// transcribe, and write "<label>: <text>" lines.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fmueller/speakerscribe/internal/diarize"
	"github.com/fmueller/speakerscribe/internal/media"
	"github.com/fmueller/speakerscribe/internal/transcribe"
)

var ErrOutputLocked = errors.New("transcript is being written by another run")

// Progress receives coarse run milestones. Implementations must tolerate
// SegmentDone being called from several goroutines.
type Progress interface {
	Stage(name string)
	Segments(total int)
	SegmentDone()
	Done()
}

type Result struct {
	RunID     string
	Intervals int
	Kept      int
	Dropped   int
	Failed    int
	Skipped   int
	Entries   int
	Output    string
}

// Runner drives one recording through the whole pipeline. A nil Resampler
// hands the input to the diarizer unchanged, which suits replayed intervals.
type Runner struct {
	Options     Options
	Tool        media.Tool
	Resampler   media.Resampler
	Diarizer    diarize.Diarizer
	Transcriber transcribe.Transcriber
	Logger      *zap.Logger
	// WorkRoot is where the per-run scratch directory is created; empty
	// means the system temp directory.
	WorkRoot    string
	KeepWorkDir bool
	Progress    Progress
}

// OutputPathFor is the default transcript path: the input with its
// extension replaced by .txt.
func OutputPathFor(input string) string {
	return strings.TrimSuffix(input, filepath.Ext(input)) + ".txt"
}

func (r *Runner) Run(ctx context.Context, input, output string) (Result, error) {
	result := Result{RunID: uuid.NewString()}
	logger := r.logger().With(zap.String("run_id", result.RunID))
	progress := r.progress()
	defer progress.Done()

	if output == "" {
		output = OutputPathFor(input)
	}
	result.Output = output

	if err := checkPaths(input, output); err != nil {
		return result, err
	}

	unlock, err := lockOutput(output)
	if err != nil {
		return result, err
	}
	defer unlock()

	workDir, err := os.MkdirTemp(r.WorkRoot, "speakerscribe-"+result.RunID[:8]+"-")
	if err != nil {
		return result, fmt.Errorf("create work directory: %w", err)
	}
	if r.KeepWorkDir {
		logger.Info("keeping work directory", zap.String("path", workDir))
	} else {
		defer func() {
			if err := os.RemoveAll(workDir); err != nil {
				logger.Warn("could not remove work directory", zap.String("path", workDir), zap.Error(err))
			}
		}()
	}

	started := time.Now()
	logger.Info("processing recording", zap.String("input", input), zap.String("output", output))

	waveform := input
	if r.Resampler != nil {
		progress.Stage("resampling")
		waveform = filepath.Join(workDir, "input.16k.wav")
		if err := r.Resampler.Resample(ctx, input, waveform); err != nil {
			return result, fmt.Errorf("resample input: %w", err)
		}
		info, err := media.InspectWaveform(waveform)
		if err != nil {
			return result, fmt.Errorf("inspect resampled input: %w", err)
		}
		logger.Debug("waveform ready", zap.Float64("duration", info.Duration()), zap.Float64("rms_dbfs", info.RMSdBFS))
		if info.Silent(media.SilenceThresholdDBFS) {
			logger.Warn("recording appears to be silent", zap.Float64("rms_dbfs", info.RMSdBFS), zap.Float64("peak_dbfs", info.PeakdBFS))
		}
	}

	progress.Stage("diarizing")
	intervals, err := r.Diarizer.Diarize(ctx, waveform, diarize.Params{
		MinDurationOff: r.Options.MinDurationOff,
		Threshold:      r.Options.Threshold,
	})
	if err != nil {
		return result, fmt.Errorf("diarize: %w", err)
	}
	result.Intervals = len(intervals)
	logger.Info("diarization finished", zap.Int("intervals", len(intervals)), zap.Duration("elapsed", time.Since(started)))

	if len(intervals) == 0 {
		logger.Warn("no speaker turns found; transcript is empty", zap.String("output", output))
		return result, writeEmpty(output)
	}

	progress.Stage("cutting segments")
	extractor := &Extractor{Tool: r.Tool, MinDuration: r.Options.MinSegmentDuration, Logger: logger}
	segments, extractErr := extractor.Extract(ctx, input, intervals, workDir)
	if err := ctx.Err(); err != nil {
		return result, err
	}

	failures := segmentErrors(extractErr)
	for _, failure := range failures {
		logger.Warn("could not cut segment", zap.Int("segment", failure.Ordinal), zap.String("label", failure.Label), zap.Error(failure.Err))
	}
	result.Kept = len(segments)
	result.Failed = len(failures)
	result.Dropped = len(intervals) - result.Kept - result.Failed

	if len(segments) == 0 {
		if result.Failed > 0 {
			return result, fmt.Errorf("no segment could be cut: %w", extractErr)
		}
		logger.Warn("every speaker turn was shorter than the minimum; transcript is empty",
			zap.Float64("min_duration", r.Options.MinSegmentDuration))
		return result, writeEmpty(output)
	}

	// An earlier transcript is only replaced once there is something to
	// transcribe.
	out, err := os.Create(output)
	if err != nil {
		return result, fmt.Errorf("create transcript: %w", err)
	}
	closed := false
	defer func() {
		if !closed {
			_ = out.Close()
		}
	}()

	progress.Stage("transcribing")
	progress.Segments(len(segments))

	writer := NewTranscriptWriter(out)
	orchestrator := &Orchestrator{
		Chunker:     &Chunker{Tool: r.Tool, MaxBytes: r.Options.MaxChunkBytes, Logger: logger},
		Transcriber: r.Transcriber,
		Language:    r.Options.Language,
		Workers:     r.Options.Workers,
		OnError:     r.Options.OnError,
		WorkDir:     workDir,
		Logger:      logger,
		Done: func(seg Segment, _ error) {
			if err := os.Remove(seg.Clip.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
				logger.Debug("could not remove segment clip", zap.String("path", seg.Clip.Path), zap.Error(err))
			}
			progress.SegmentDone()
		},
	}

	summary, runErr := orchestrator.Run(ctx, segments, writer.Write)
	result.Entries = summary.Emitted
	result.Skipped = summary.Skipped

	if err := r.closeOutput(out, &closed); err != nil && runErr == nil {
		runErr = err
	}
	if runErr != nil {
		return result, runErr
	}

	logger.Info("transcript written",
		zap.String("output", output),
		zap.Int("entries", result.Entries),
		zap.Int("dropped", result.Dropped),
		zap.Int("failed", result.Failed),
		zap.Int("skipped", result.Skipped),
		zap.Duration("elapsed", time.Since(started)),
	)
	return result, nil
}

func (r *Runner) closeOutput(out *os.File, closed *bool) error {
	*closed = true
	if err := out.Close(); err != nil {
		return fmt.Errorf("close transcript: %w", err)
	}
	return nil
}

func writeEmpty(output string) error {
	if err := os.WriteFile(output, nil, 0o644); err != nil {
		return fmt.Errorf("create transcript: %w", err)
	}
	return nil
}

func (r *Runner) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

func (r *Runner) progress() Progress {
	if r.Progress == nil {
		return nopProgress{}
	}
	return r.Progress
}

func checkPaths(input, output string) error {
	info, err := os.Stat(input)
	if err != nil {
		return fmt.Errorf("input not found: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("input %s is a directory", input)
	}

	absIn, errIn := filepath.Abs(input)
	absOut, errOut := filepath.Abs(output)
	if errIn == nil && errOut == nil && absIn == absOut {
		return fmt.Errorf("output %s would overwrite the input", output)
	}
	return nil
}

// lockOutput takes an advisory lock for output so two runs cannot write the
// same transcript. The lock file lives in the temp directory, keyed by the
// absolute output path.
func lockOutput(output string) (func(), error) {
	path, err := lockPath(output)
	if err != nil {
		return nil, err
	}
	lock := flock.New(path)

	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock transcript: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOutputLocked, output)
	}
	return func() {
		_ = lock.Unlock()
		_ = os.Remove(lock.Path())
	}, nil
}

func lockPath(output string) (string, error) {
	abs, err := filepath.Abs(output)
	if err != nil {
		return "", fmt.Errorf("resolve output path: %w", err)
	}
	sum := sha256.Sum256([]byte(abs))
	return filepath.Join(os.TempDir(), "speakerscribe-"+hex.EncodeToString(sum[:8])+".lock"), nil
}

type nopProgress struct{}

func (nopProgress) Stage(string) {}
func (nopProgress) Segments(int) {}
func (nopProgress) SegmentDone() {}
func (nopProgress) Done()        {}
