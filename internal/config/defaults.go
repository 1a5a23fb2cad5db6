package config

const (
	DefaultMinDurationOff     = 0.1
	DefaultClusterThreshold   = 0.715
	DefaultMinSegmentDuration = 0.5
	DefaultMaxChunkSize       = "25MiB"
	DefaultLanguage           = "ja"
	DefaultOpenAIModel        = "whisper-1"
	DefaultOpenAIBaseURL      = "https://api.openai.com"
	DefaultPyannotePipeline   = "pyannote/speaker-diarization-3.1"
	DefaultLocalModel         = "small"
	DefaultTimeoutSeconds     = 600
)

// Default returns the built-in configuration. It does not include credentials.
func Default() Config {
	return Config{
		Diarization: Diarization{
			MinDurationOff: DefaultMinDurationOff,
			Threshold:      DefaultClusterThreshold,
			Pipeline:       DefaultPyannotePipeline,
			UVXPath:        "uvx",
		},
		Segments: Segments{
			MinDuration: DefaultMinSegmentDuration,
		},
		Chunking: Chunking{
			MaxSize: DefaultMaxChunkSize,
		},
		Transcription: Transcription{
			Backend:        BackendOpenAI,
			Model:          DefaultOpenAIModel,
			Language:       DefaultLanguage,
			BaseURL:        DefaultOpenAIBaseURL,
			TimeoutSeconds: DefaultTimeoutSeconds,
			Workers:        1,
			OnError:        PolicyAbort,
		},
		Local: Local{
			Model:        DefaultLocalModel,
			AutoDownload: true,
		},
		Tools: Tools{
			FFmpeg:  "ffmpeg",
			FFprobe: "ffprobe",
		},
		Logging: Logging{
			Level: "info",
		},
	}
}
