package cli

import (
	"fmt"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fmueller/speakerscribe/internal/media"
	"github.com/fmueller/speakerscribe/internal/pipeline"
)

func newSplitCmd(app *appState) *cobra.Command {
	var outDir string

	cmd := &cobra.Command{
		Use:   "split <clip>",
		Short: "Split a clip into parts no larger than --max-size",
		Long: `split cuts a clip into equal-duration parts so each part stays under the
transcription upload ceiling, and prints one path per line. A clip that
already fits is printed unchanged.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.config()
			if err != nil {
				return err
			}

			clip, err := media.StatClip(filepath.Clean(args[0]), 0)
			if err != nil {
				return fmt.Errorf("clip not found: %w", err)
			}

			chunker := &pipeline.Chunker{
				Tool:     media.NewFFmpeg(cfg.Tools.FFmpeg, cfg.Tools.FFprobe, app.log()),
				MaxBytes: cfg.Chunking.MaxBytes,
				Logger:   app.log(),
			}

			chunks, err := chunker.Split(cmd.Context(), clip, outDir)
			if err != nil {
				return err
			}

			for _, chunk := range chunks {
				app.log().Debug("chunk",
					zap.String("path", chunk.Clip.Path),
					zap.String("size", humanize.IBytes(uint64(chunk.Clip.Size))),
					zap.Float64("start", chunk.Start),
					zap.Float64("end", chunk.End),
				)
				fmt.Fprintln(cmd.OutOrStdout(), chunk.Clip.Path)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&outDir, "out-dir", "", "Directory for the parts (default: next to the clip)")
	return cmd
}
