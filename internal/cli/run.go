package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fmueller/speakerscribe/internal/config"
	"github.com/fmueller/speakerscribe/internal/diarize"
	"github.com/fmueller/speakerscribe/internal/download"
	"github.com/fmueller/speakerscribe/internal/media"
	"github.com/fmueller/speakerscribe/internal/pipeline"
	"github.com/fmueller/speakerscribe/internal/platform"
	"github.com/fmueller/speakerscribe/internal/transcribe"
	"github.com/fmueller/speakerscribe/internal/whisper"
)

func newRunCmd(app *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <media-file>",
		Short: "Diarize and transcribe a recording into a speaker-labelled transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runRecording(cmd, args[0])
		},
	}

	bindRunFlags(cmd, app)
	return cmd
}

func (a *appState) runRecording(cmd *cobra.Command, input string) error {
	runFn := a.runFn
	if runFn == nil {
		runFn = a.transcribeRecording
	}

	result, err := runFn(cmd.Context(), filepath.Clean(input), a.output)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), result.Output)
	return nil
}

func (a *appState) transcribeRecording(ctx context.Context, input, output string) (pipeline.Result, error) {
	runner, err := a.newRunner(ctx)
	if err != nil {
		return pipeline.Result{}, err
	}
	return runner.Run(ctx, input, output)
}

// newRunner wires the collaborators selected by the config. Missing
// credentials and models are reported here, before any work starts.
func (a *appState) newRunner(ctx context.Context) (*pipeline.Runner, error) {
	cfg, err := a.config()
	if err != nil {
		return nil, err
	}

	replay := a.intervalsPath != ""
	if err := cfg.RequireCredentials(!replay); err != nil {
		return nil, err
	}

	opts, err := pipeline.OptionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	ffmpeg := media.NewFFmpeg(cfg.Tools.FFmpeg, cfg.Tools.FFprobe, a.log())

	var modelPath string
	if cfg.Transcription.Backend == config.BackendLocal {
		model, err := a.ensureModelAvailable(ctx)
		if err != nil {
			return nil, err
		}
		modelPath = model.Path
	}

	transcriber, err := transcribe.New(cfg, modelPath, ffmpeg, a.log())
	if err != nil {
		return nil, err
	}

	runner := &pipeline.Runner{
		Options:     opts,
		Tool:        ffmpeg,
		Transcriber: transcriber,
		Logger:      a.log(),
		WorkRoot:    cfg.Tools.WorkDir,
		KeepWorkDir: a.keepWorkDir,
		Progress:    newRunProgress(a.progressEnabled()),
	}

	if replay {
		intervals, err := diarize.LoadIntervals(a.intervalsPath)
		if err != nil {
			return nil, err
		}
		a.log().Info("replaying speaker turns", zap.String("path", a.intervalsPath), zap.Int("intervals", len(intervals)))
		runner.Diarizer = intervals
	} else {
		runner.Diarizer = diarize.NewPyannote(
			cfg.Diarization.UVXPath,
			cfg.Credentials.HuggingFaceToken,
			cfg.Diarization.Pipeline,
			cfg.Diarization.CUDA,
			a.log(),
		)
		runner.Resampler = ffmpeg
	}

	return runner, nil
}

func (a *appState) ensureModelAvailable(ctx context.Context) (whisper.ResolvedModel, error) {
	cfg, err := a.config()
	if err != nil {
		return whisper.ResolvedModel{}, err
	}

	modelDir, err := modelStorageDir(cfg.Local.ModelDir)
	if err != nil {
		return whisper.ResolvedModel{}, err
	}

	resolved, err := whisper.ResolveModel(cfg.Local.Model, modelDir)
	if err != nil {
		return whisper.ResolvedModel{}, err
	}
	if !resolved.NeedsDownload {
		return resolved, nil
	}

	if !cfg.Local.AutoDownload {
		return whisper.ResolvedModel{}, fmt.Errorf("model %q is missing at %s; run `speakerscribe setup --model %s` or use --auto-download=true", resolved.Name, resolved.Path, resolved.Name)
	}

	a.log().Info("model not found, downloading", zap.String("model", resolved.Name), zap.String("destination", resolved.Path))
	if err := download.File(ctx, download.Options{
		URL:            resolved.URL(),
		Destination:    resolved.Path,
		ExpectedSHA256: resolved.SHA256,
		NoProgress:     a.noProgress,
		Logger:         a.log(),
	}); err != nil {
		return whisper.ResolvedModel{}, fmt.Errorf("download model %q: %w", resolved.Name, err)
	}

	resolved.NeedsDownload = false
	return resolved, nil
}

func modelStorageDir(override string) (string, error) {
	dir, err := platform.ResolveModelDir(override)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create model directory %s: %w", dir, err)
	}
	return dir, nil
}
