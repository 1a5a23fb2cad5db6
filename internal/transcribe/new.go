package transcribe

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fmueller/speakerscribe/internal/config"
	"github.com/fmueller/speakerscribe/internal/media"
	"github.com/fmueller/speakerscribe/internal/whisper"
)

// New builds the backend selected by cfg. modelPath and resampler are only
// used by the local backend.
func New(cfg *config.Config, modelPath string, resampler media.Resampler, logger *zap.Logger) (Transcriber, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Transcription.Backend {
	case config.BackendOpenAI:
		timeout := time.Duration(cfg.Transcription.TimeoutSeconds) * time.Second
		return NewOpenAI(cfg.Credentials.OpenAIAPIKey, cfg.Transcription.Model, cfg.Transcription.BaseURL, timeout, logger), nil
	case config.BackendLocal:
		if modelPath == "" {
			return nil, fmt.Errorf("%w: local backend needs a resolved model", config.ErrConfiguration)
		}
		if resampler == nil {
			return nil, fmt.Errorf("%w: local backend needs ffmpeg", config.ErrConfiguration)
		}
		engine, err := whisper.NewCLIEngine(logger)
		if err != nil {
			return nil, err
		}
		return &Local{Engine: engine, ModelPath: modelPath, Resampler: resampler, Logger: logger}, nil
	default:
		return nil, fmt.Errorf("%w: unknown transcription backend %q", config.ErrConfiguration, cfg.Transcription.Backend)
	}
}
