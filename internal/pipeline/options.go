package pipeline

import (
	"fmt"
	"strings"

	"github.com/fmueller/speakerscribe/internal/config"
)

const (
	// DefaultMaxChunkBytes is the upload ceiling of the hosted transcription API.
	DefaultMaxChunkBytes int64 = 25 << 20

	DefaultMinSegmentDuration = 0.5
)

// FailurePolicy decides what a transcription failure does to the rest of a run.
type FailurePolicy int

const (
	// AbortOnError stops at the first failing segment. Entries already
	// written stay on disk.
	AbortOnError FailurePolicy = iota
	// SkipOnError logs the failing segment, leaves it out and continues.
	SkipOnError
)

func ParseFailurePolicy(value string) (FailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", config.PolicyAbort:
		return AbortOnError, nil
	case config.PolicySkip:
		return SkipOnError, nil
	default:
		return 0, fmt.Errorf("%w: unknown failure policy %q", config.ErrConfiguration, value)
	}
}

func (p FailurePolicy) String() string {
	if p == SkipOnError {
		return config.PolicySkip
	}
	return config.PolicyAbort
}

// Options holds the tunables of one run. It is never mutated once a run starts.
type Options struct {
	MinDurationOff     float64
	Threshold          float64
	MinSegmentDuration float64
	MaxChunkBytes      int64
	Language           string
	Workers            int
	OnError            FailurePolicy
}

func OptionsFromConfig(cfg *config.Config) (Options, error) {
	policy, err := ParseFailurePolicy(cfg.Transcription.OnError)
	if err != nil {
		return Options{}, err
	}
	return Options{
		MinDurationOff:     cfg.Diarization.MinDurationOff,
		Threshold:          cfg.Diarization.Threshold,
		MinSegmentDuration: cfg.Segments.MinDuration,
		MaxChunkBytes:      cfg.Chunking.MaxBytes,
		Language:           cfg.Transcription.Language,
		Workers:            cfg.Transcription.Workers,
		OnError:            policy,
	}, nil
}
