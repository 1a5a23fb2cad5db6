// Package transcribe turns an audio file into text.
package transcribe

import (
	"context"
	"strings"
)

type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

type Request struct {
	AudioPath string
	// Language is an ISO 639-1 hint; "" or "auto" lets the backend detect it.
	Language string
	Format   Format
}

type Transcriber interface {
	Transcribe(ctx context.Context, req Request) (string, error)
}

const blankAudioToken = "[BLANK_AUDIO]"

// IsBlank reports whether text carries no speech.
func IsBlank(text string) bool {
	trimmed := strings.TrimSpace(text)
	return trimmed == "" || strings.EqualFold(trimmed, blankAudioToken)
}

func languageHint(lang string) string {
	lang = strings.TrimSpace(lang)
	if strings.EqualFold(lang, "auto") {
		return ""
	}
	return lang
}
