package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/language"
)

func (c *Config) normalize() error {
	c.Transcription.Backend = strings.ToLower(strings.TrimSpace(c.Transcription.Backend))
	c.Transcription.OnError = strings.ToLower(strings.TrimSpace(c.Transcription.OnError))
	c.Transcription.Model = strings.TrimSpace(c.Transcription.Model)
	c.Transcription.BaseURL = strings.TrimRight(strings.TrimSpace(c.Transcription.BaseURL), "/")
	c.Diarization.Pipeline = strings.TrimSpace(c.Diarization.Pipeline)
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))

	lang, err := NormalizeLanguage(c.Transcription.Language)
	if err != nil {
		return err
	}
	c.Transcription.Language = lang

	maxBytes, err := ParseSize(c.Chunking.MaxSize)
	if err != nil {
		return err
	}
	c.Chunking.MaxBytes = maxBytes

	for _, p := range []*string{&c.Local.ModelDir, &c.Tools.WorkDir} {
		expanded, err := expandPath(*p)
		if err != nil {
			return err
		}
		*p = expanded
	}

	if c.Tools.FFmpeg == "" {
		c.Tools.FFmpeg = "ffmpeg"
	}
	if c.Tools.FFprobe == "" {
		c.Tools.FFprobe = "ffprobe"
	}
	if c.Diarization.UVXPath == "" {
		c.Diarization.UVXPath = "uvx"
	}
	if c.Diarization.Pipeline == "" {
		c.Diarization.Pipeline = DefaultPyannotePipeline
	}
	if c.Transcription.Model == "" && c.Transcription.Backend == BackendOpenAI {
		c.Transcription.Model = DefaultOpenAIModel
	}
	if c.Local.Model == "" {
		c.Local.Model = DefaultLocalModel
	}

	return nil
}

// Validate reports the first invalid setting, wrapped in ErrConfiguration.
func (c *Config) Validate() error {
	switch {
	case !finiteNonNegative(c.Diarization.MinDurationOff):
		return invalid("diarization.min_duration_off must be a non-negative number, got %v", c.Diarization.MinDurationOff)
	case !finiteNonNegative(c.Diarization.Threshold) || c.Diarization.Threshold == 0:
		return invalid("diarization.threshold must be positive, got %v", c.Diarization.Threshold)
	case !finiteNonNegative(c.Segments.MinDuration):
		return invalid("segments.min_duration must be a non-negative number, got %v", c.Segments.MinDuration)
	case c.Chunking.MaxBytes <= 0:
		return invalid("chunking.max_size must be positive, got %q", c.Chunking.MaxSize)
	case c.Transcription.Workers < 1:
		return invalid("transcription.workers must be at least 1, got %d", c.Transcription.Workers)
	case c.Transcription.TimeoutSeconds < 0:
		return invalid("transcription.timeout_seconds must not be negative, got %d", c.Transcription.TimeoutSeconds)
	}

	switch c.Transcription.Backend {
	case BackendOpenAI, BackendLocal:
	default:
		return invalid("transcription.backend must be %q or %q, got %q", BackendOpenAI, BackendLocal, c.Transcription.Backend)
	}

	switch c.Transcription.OnError {
	case PolicyAbort, PolicySkip:
	default:
		return invalid("transcription.on_error must be %q or %q, got %q", PolicyAbort, PolicySkip, c.Transcription.OnError)
	}

	if c.Transcription.Backend == BackendOpenAI && c.Transcription.BaseURL == "" {
		return invalid("transcription.base_url is required for the openai backend")
	}

	return nil
}

// ParseSize accepts "25MiB", "20 MB" or a plain byte count.
func ParseSize(value string) (int64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, invalid("size must not be empty")
	}
	if n, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return n, nil
	}
	n, err := humanize.ParseBytes(trimmed)
	if err != nil {
		return 0, invalid("parse size %q: %v", value, err)
	}
	if n > math.MaxInt64 {
		return 0, invalid("size %q is too large", value)
	}
	return int64(n), nil
}

// NormalizeLanguage canonicalizes a language hint to its ISO 639 base code.
// "auto" and the empty string both mean automatic detection.
func NormalizeLanguage(value string) (string, error) {
	trimmed := strings.ToLower(strings.TrimSpace(value))
	if trimmed == "" || trimmed == "auto" {
		return "auto", nil
	}

	tag, err := language.Parse(trimmed)
	if err != nil {
		return "", invalid("unknown language %q: %v", value, err)
	}
	base, _ := tag.Base()
	return base.String(), nil
}

func finiteNonNegative(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}
