// Package media wraps the ffmpeg toolchain: probing durations, cutting
// lossless sub-ranges and resampling to the waveform format the diarizer
// expects.
package media

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// ErrTool marks failures of an external media tool invocation.
var ErrTool = errors.New("media tool failed")

// Clip is an audio file on disk. Duration is zero until probed.
type Clip struct {
	Path     string
	Size     int64
	Duration float64
}

// Tool probes and cuts media files.
type Tool interface {
	ProbeDuration(ctx context.Context, path string) (float64, error)
	// Cut copies [start, start+duration) of src into dst without re-encoding.
	Cut(ctx context.Context, src string, start, duration float64, dst string) error
}

// Resampler converts src into a 16 kHz mono PCM WAV at dst.
type Resampler interface {
	Resample(ctx context.Context, src, dst string) error
}

// StatClip returns a Clip for path with its current size. duration is
// carried through as given.
func StatClip(path string, duration float64) (Clip, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Clip{}, fmt.Errorf("stat clip: %w", err)
	}
	if info.IsDir() {
		return Clip{}, fmt.Errorf("stat clip: %s is a directory", path)
	}
	return Clip{Path: path, Size: info.Size(), Duration: duration}, nil
}
