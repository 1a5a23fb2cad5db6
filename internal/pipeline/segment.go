package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/fmueller/speakerscribe/internal/diarize"
	"github.com/fmueller/speakerscribe/internal/media"
)

// Segment is one speaker turn cut out of the original recording.
type Segment struct {
	Ordinal  int
	Label    string
	Interval diarize.Interval
	Clip     media.Clip
}

type Extractor struct {
	Tool        media.Tool
	MinDuration float64
	Logger      *zap.Logger
}

// Extract cuts every interval at least MinDuration long out of source into
// dir, named segment_<ordinal>_<label><ext>. Intervals are taken in the order
// given. A failed cut does not stop the others; all failures come back as
// *SegmentError values joined into the returned error.
func (e *Extractor) Extract(ctx context.Context, source string, intervals []diarize.Interval, dir string) ([]Segment, error) {
	logger := e.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ext := clipExt(source)
	segments := make([]Segment, 0, len(intervals))
	var errs []error

	for i, interval := range intervals {
		if err := ctx.Err(); err != nil {
			return segments, errors.Join(append(errs, err)...)
		}

		ordinal := i + 1
		if !interval.Valid() {
			errs = append(errs, &SegmentError{
				Ordinal: ordinal,
				Label:   interval.Label,
				Err:     fmt.Errorf("%w: start=%v end=%v", ErrInvalidInterval, interval.Start, interval.End),
			})
			continue
		}

		duration := interval.Duration()
		if duration < e.MinDuration {
			logger.Debug("dropping short interval",
				zap.Int("ordinal", ordinal),
				zap.String("label", interval.Label),
				zap.Float64("duration", duration),
			)
			continue
		}

		dst := filepath.Join(dir, fmt.Sprintf("segment_%d_%s%s", ordinal, fileSafeLabel(interval.Label), ext))
		if err := e.Tool.Cut(ctx, source, interval.Start, duration, dst); err != nil {
			_ = os.Remove(dst)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return segments, errors.Join(append(errs, ctxErr)...)
			}
			errs = append(errs, &SegmentError{Ordinal: ordinal, Label: interval.Label, Err: err})
			continue
		}

		clip, err := media.StatClip(dst, duration)
		if err != nil {
			errs = append(errs, &SegmentError{Ordinal: ordinal, Label: interval.Label, Err: err})
			continue
		}

		segments = append(segments, Segment{
			Ordinal:  ordinal,
			Label:    interval.Label,
			Interval: interval,
			Clip:     clip,
		})
	}

	return segments, errors.Join(errs...)
}

// fallbackClipExt names clips cut from a file without an extension, so
// ffmpeg can still pick a muxer for the stream copy.
const fallbackClipExt = ".m4a"

func clipExt(path string) string {
	if ext := filepath.Ext(path); ext != "" {
		return ext
	}
	return fallbackClipExt
}

// fileSafeLabel keeps speaker labels usable as a file name component.
func fileSafeLabel(label string) string {
	label = strings.TrimSpace(label)
	if label == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\' || r == ':' || r == 0:
			return '_'
		case r < 0x20:
			return '_'
		default:
			return r
		}
	}, label)
}
