package transcribe

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/fmueller/speakerscribe/internal/media"
	"github.com/fmueller/speakerscribe/internal/whisper"
)

// Local transcribes with a whisper.cpp engine. whisper-cli only reads WAV, so
// each clip is resampled next to itself first.
type Local struct {
	Engine    whisper.Engine
	ModelPath string
	Resampler media.Resampler
	Logger    *zap.Logger
}

func (l *Local) Transcribe(ctx context.Context, req Request) (string, error) {
	wavPath := strings.TrimSuffix(req.AudioPath, filepath.Ext(req.AudioPath)) + ".16k.wav"
	if err := l.Resampler.Resample(ctx, req.AudioPath, wavPath); err != nil {
		return "", fmt.Errorf("prepare audio for whisper: %w", err)
	}
	defer os.Remove(wavPath)

	text, err := l.Engine.Transcribe(ctx, whisper.Request{
		AudioPath: wavPath,
		ModelPath: l.ModelPath,
		Language:  languageHint(req.Language),
	})
	if err != nil {
		return "", err
	}

	if IsBlank(text) {
		if l.Logger != nil {
			l.Logger.Debug("whisper reported no speech", zap.String("audio", req.AudioPath))
		}
		return "", nil
	}
	return text, nil
}
