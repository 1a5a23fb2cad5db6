package cli

import (
	"context"
	"errors"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fmueller/speakerscribe/internal/pipeline"
	"github.com/fmueller/speakerscribe/internal/watch"
)

func newWatchCmd(app *appState) *cobra.Command {
	var existing bool

	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Transcribe recordings as they appear in a directory",
		Long: `watch processes new media files in a directory one at a time and writes
each transcript next to its recording. It runs until interrupted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runFn := app.runFn
			if runFn == nil {
				runFn = app.transcribeRecording
			}

			w, err := watch.New(args[0], func(ctx context.Context, path string) error {
				output := pipeline.OutputPathFor(path)
				if upToDate(path, output) {
					app.log().Info("transcript already up to date", zap.String("output", output))
					return nil
				}
				result, err := runFn(ctx, path, output)
				if err != nil {
					return err
				}
				app.log().Info("transcript ready",
					zap.String("output", result.Output),
					zap.Int("entries", result.Entries),
					zap.String("run_id", result.RunID),
				)
				return nil
			}, app.log())
			if err != nil {
				return err
			}
			w.Existing = existing

			if err := w.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&existing, "existing", false, "Also process recordings already in the directory")
	return cmd
}

// upToDate reports whether output exists and is not older than input.
func upToDate(input, output string) bool {
	in, err := os.Stat(input)
	if err != nil {
		return false
	}
	out, err := os.Stat(output)
	if err != nil {
		return false
	}
	return !out.ModTime().Before(in.ModTime())
}
