package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fmueller/speakerscribe/internal/config"
	"github.com/fmueller/speakerscribe/internal/diarize"
	"github.com/fmueller/speakerscribe/internal/media"
)

func newDiarizeCmd(app *appState) *cobra.Command {
	return &cobra.Command{
		Use:   "diarize <media-file>",
		Short: "Print the speaker turns of a recording as JSON",
		Long: `diarize runs only the speaker diarization step and prints the turns as a
JSON array. The output can be replayed with "speakerscribe run --intervals".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			diarizeFn := app.diarizeFn
			if diarizeFn == nil {
				diarizeFn = app.diarizeRecording
			}

			intervals, err := diarizeFn(cmd.Context(), filepath.Clean(args[0]))
			if err != nil {
				return err
			}
			if intervals == nil {
				intervals = []diarize.Interval{}
			}

			encoded, err := json.MarshalIndent(intervals, "", "  ")
			if err != nil {
				return fmt.Errorf("encode intervals: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
			return nil
		},
	}
}

func (a *appState) diarizeRecording(ctx context.Context, input string) ([]diarize.Interval, error) {
	cfg, err := a.config()
	if err != nil {
		return nil, err
	}
	if cfg.Credentials.HuggingFaceToken == "" {
		return nil, fmt.Errorf("%w: %s is not set; it is required to load the pyannote diarization pipeline", config.ErrConfiguration, config.EnvHuggingFaceToken)
	}
	if _, err := os.Stat(input); err != nil {
		return nil, fmt.Errorf("input not found: %w", err)
	}

	workDir, err := os.MkdirTemp(cfg.Tools.WorkDir, "speakerscribe-diarize-")
	if err != nil {
		return nil, fmt.Errorf("create work directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	ffmpeg := media.NewFFmpeg(cfg.Tools.FFmpeg, cfg.Tools.FFprobe, a.log())
	waveform := filepath.Join(workDir, "input.16k.wav")
	if err := ffmpeg.Resample(ctx, input, waveform); err != nil {
		return nil, fmt.Errorf("resample input: %w", err)
	}

	pyannote := diarize.NewPyannote(
		cfg.Diarization.UVXPath,
		cfg.Credentials.HuggingFaceToken,
		cfg.Diarization.Pipeline,
		cfg.Diarization.CUDA,
		a.log(),
	)

	stopSpinner := startSpinner(a.progressEnabled(), "Diarizing")
	started := time.Now()
	intervals, err := pyannote.Diarize(ctx, waveform, diarize.Params{
		MinDurationOff: cfg.Diarization.MinDurationOff,
		Threshold:      cfg.Diarization.Threshold,
	})
	stopSpinner()
	if err != nil {
		return nil, fmt.Errorf("diarize: %w", err)
	}

	a.log().Info("diarization finished", zap.Int("intervals", len(intervals)), zap.Duration("elapsed", time.Since(started)))
	return intervals, nil
}
