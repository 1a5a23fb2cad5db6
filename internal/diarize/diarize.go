// Package diarize turns a waveform into speaker-labelled time intervals.
package diarize

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// Interval is one speaker turn, in seconds from the start of the recording.
type Interval struct {
	Label string  `json:"label"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

func (i Interval) Duration() float64 {
	return i.End - i.Start
}

// Valid reports whether the interval has a finite, non-negative start and
// ends after it starts.
func (i Interval) Valid() bool {
	if math.IsNaN(i.Start) || math.IsNaN(i.End) || math.IsInf(i.Start, 0) || math.IsInf(i.End, 0) {
		return false
	}
	return i.Start >= 0 && i.End > i.Start
}

type Params struct {
	MinDurationOff float64
	Threshold      float64
}

type Diarizer interface {
	Diarize(ctx context.Context, waveformPath string, p Params) ([]Interval, error)
}

// Static replays a fixed interval list regardless of input.
type Static []Interval

func (s Static) Diarize(ctx context.Context, _ string, _ Params) ([]Interval, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return append([]Interval(nil), s...), nil
}

// LoadIntervals reads a JSON array of intervals, as printed by the diarize
// command.
func LoadIntervals(path string) (Static, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read intervals: %w", err)
	}
	var intervals []Interval
	if err := json.Unmarshal(content, &intervals); err != nil {
		return nil, fmt.Errorf("parse intervals %s: %w", path, err)
	}
	return Static(intervals), nil
}
