package cli

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/fmueller/speakerscribe/internal/config"
	"github.com/fmueller/speakerscribe/internal/diarize"
	"github.com/fmueller/speakerscribe/internal/logging"
	"github.com/fmueller/speakerscribe/internal/pipeline"
	"github.com/fmueller/speakerscribe/internal/version"
)

type appState struct {
	configPath string
	verbose    bool
	jsonLogs   bool
	noProgress bool

	// Tunables. They only override the config file when set on the command line.
	minDurationOff float64
	threshold      float64
	minSegment     float64
	maxSize        string
	language       string
	backend        string
	workers        int
	onError        string
	model          string
	modelDir       string
	autoDownload   bool
	cuda           bool
	workDir        string

	output        string
	intervalsPath string
	keepWorkDir   bool

	cfg        *config.Config
	configFile string
	logger     *zap.Logger
	getenv     func(string) string
	lookPath   func(string) (string, error)

	runFn     func(ctx context.Context, input, output string) (pipeline.Result, error)
	diarizeFn func(ctx context.Context, input string) ([]diarize.Interval, error)
}

func newAppState() *appState {
	defaults := config.Default()
	app := &appState{
		minDurationOff: defaults.Diarization.MinDurationOff,
		threshold:      defaults.Diarization.Threshold,
		minSegment:     defaults.Segments.MinDuration,
		maxSize:        defaults.Chunking.MaxSize,
		language:       defaults.Transcription.Language,
		backend:        defaults.Transcription.Backend,
		workers:        defaults.Transcription.Workers,
		onError:        defaults.Transcription.OnError,
		model:          defaults.Local.Model,
		autoDownload:   defaults.Local.AutoDownload,
		getenv:         os.Getenv,
		lookPath:       exec.LookPath,
	}
	app.runFn = app.transcribeRecording
	app.diarizeFn = app.diarizeRecording
	return app
}

func NewRootCmd() *cobra.Command {
	return newRootCmd(newAppState())
}

func newRootCmd(app *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "speakerscribe [media-file]",
		Short: "Transcribe a recording into speaker-labelled lines",
		Long: `speakerscribe splits a recording into speaker turns with pyannote,
transcribes every turn and writes one "<speaker>: <text>" line per turn.

Running it with a single media file is the same as "speakerscribe run <file>".`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.Resolve().String(),
		Args:          mediaArg,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return app.prepare(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			return app.runRecording(cmd, args[0])
		},
	}

	cmd.SetVersionTemplate("{{.Name}} v{{.Version}}\n")

	bindGlobalFlags(cmd, app)
	bindDiarizationFlags(cmd, app)
	bindTranscriptionFlags(cmd, app)
	bindLocalModelFlags(cmd, app)
	bindRunFlags(cmd, app)

	cmd.AddCommand(newRunCmd(app))
	cmd.AddCommand(newSplitCmd(app))
	cmd.AddCommand(newDiarizeCmd(app))
	cmd.AddCommand(newWatchCmd(app))
	cmd.AddCommand(newDoctorCmd(app))
	cmd.AddCommand(newSetupCmd(app))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// mediaArg accepts at most one argument. A bare word that is not a file is
// reported as an unknown command so typos in subcommand names stay obvious.
func mediaArg(cmd *cobra.Command, args []string) error {
	if err := cobra.MaximumNArgs(1)(cmd, args); err != nil {
		return err
	}
	if len(args) == 1 && !strings.ContainsAny(args[0], `./\`) {
		if _, err := os.Stat(args[0]); err != nil {
			return fmt.Errorf("unknown command %q for %q", args[0], cmd.CommandPath())
		}
	}
	return nil
}

func bindGlobalFlags(cmd *cobra.Command, app *appState) {
	flags := cmd.PersistentFlags()
	flags.StringVar(&app.configPath, "config", app.configPath, "Config file (.yaml or .toml); default searches the user config directory")
	flags.BoolVar(&app.verbose, "verbose", app.verbose, "Enable verbose logs")
	flags.BoolVar(&app.jsonLogs, "json", app.jsonLogs, "Enable JSON logging")
	flags.BoolVar(&app.noProgress, "no-progress", app.noProgress, "Disable progress indicators")
	flags.StringVar(&app.workDir, "work-dir", app.workDir, "Parent directory for per-run scratch files")
}

func bindDiarizationFlags(cmd *cobra.Command, app *appState) {
	flags := cmd.PersistentFlags()
	flags.Float64Var(&app.minDurationOff, "min-duration-off", app.minDurationOff, "Shortest pause in seconds that separates two turns of one speaker")
	flags.Float64Var(&app.threshold, "threshold", app.threshold, "Speaker clustering threshold")
	flags.Float64Var(&app.minSegment, "min-segment-duration", app.minSegment, "Drop speaker turns shorter than this many seconds")
	flags.BoolVar(&app.cuda, "cuda", app.cuda, "Run diarization on a CUDA device")
}

func bindTranscriptionFlags(cmd *cobra.Command, app *appState) {
	flags := cmd.PersistentFlags()
	flags.StringVar(&app.maxSize, "max-size", app.maxSize, "Largest clip sent to the transcriber, e.g. 25MiB")
	flags.StringVar(&app.language, "language", app.language, "Language code (auto|ja|en|...) for transcription")
	flags.StringVar(&app.backend, "backend", app.backend, "Transcription backend: openai|local")
	flags.IntVar(&app.workers, "workers", app.workers, "Segments transcribed concurrently")
	flags.StringVar(&app.onError, "on-error", app.onError, "What a failed segment does to the run: abort|skip")
}

func bindLocalModelFlags(cmd *cobra.Command, app *appState) {
	flags := cmd.PersistentFlags()
	flags.StringVar(&app.model, "model", app.model, "Local whisper model name or model file path")
	flags.StringVar(&app.modelDir, "model-dir", app.modelDir, "Directory where local models are stored")
	flags.BoolVar(&app.autoDownload, "auto-download", app.autoDownload, "Automatically download missing local models")
}

func bindRunFlags(cmd *cobra.Command, app *appState) {
	cmd.Flags().StringVarP(&app.output, "output", "o", app.output, "Transcript path (default: the input path with a .txt extension)")
	cmd.Flags().StringVar(&app.intervalsPath, "intervals", app.intervalsPath, "Replay speaker turns from a JSON file written by \"speakerscribe diarize\"")
	cmd.Flags().BoolVar(&app.keepWorkDir, "keep-work-dir", app.keepWorkDir, "Keep the scratch directory for inspection")
}

// prepare loads the config, applies explicit flags on top and builds the
// logger. It runs before every command.
func (a *appState) prepare(cmd *cobra.Command) error {
	cfg, resolved, err := config.Load(a.configPath, a.getenv)
	if err != nil {
		return err
	}
	a.applyFlags(cmd.Flags(), cfg)
	if err := cfg.Finalize(); err != nil {
		return err
	}

	logger, err := logging.New(logging.Options{
		Verbose: a.verbose,
		JSON:    a.jsonLogs || cfg.Logging.JSON,
		Level:   cfg.Logging.Level,
	})
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}

	a.cfg = cfg
	a.configFile = resolved
	a.logger = logger
	if resolved != "" {
		logger.Debug("loaded config", zap.String("path", resolved))
	}
	return nil
}

func (a *appState) applyFlags(flags *pflag.FlagSet, cfg *config.Config) {
	set := func(name string, apply func()) {
		if flags.Changed(name) {
			apply()
		}
	}

	set("min-duration-off", func() { cfg.Diarization.MinDurationOff = a.minDurationOff })
	set("threshold", func() { cfg.Diarization.Threshold = a.threshold })
	set("cuda", func() { cfg.Diarization.CUDA = a.cuda })
	set("min-segment-duration", func() { cfg.Segments.MinDuration = a.minSegment })
	set("max-size", func() { cfg.Chunking.MaxSize = a.maxSize })
	set("language", func() { cfg.Transcription.Language = a.language })
	set("backend", func() { cfg.Transcription.Backend = a.backend })
	set("workers", func() { cfg.Transcription.Workers = a.workers })
	set("on-error", func() { cfg.Transcription.OnError = a.onError })
	set("model", func() { cfg.Local.Model = a.model })
	set("model-dir", func() { cfg.Local.ModelDir = a.modelDir })
	set("auto-download", func() { cfg.Local.AutoDownload = a.autoDownload })
	set("work-dir", func() { cfg.Tools.WorkDir = a.workDir })
}

func (a *appState) config() (*config.Config, error) {
	if a.cfg == nil {
		return nil, fmt.Errorf("%w: configuration was not loaded", config.ErrConfiguration)
	}
	return a.cfg, nil
}

func (a *appState) log() *zap.Logger {
	if a.logger == nil {
		return zap.NewNop()
	}
	return a.logger
}

func (a *appState) env(key string) string {
	if a.getenv == nil {
		return os.Getenv(key)
	}
	return a.getenv(key)
}

func (a *appState) progressEnabled() bool {
	if a.noProgress {
		return false
	}
	return term.IsTerminal(int(os.Stderr.Fd()))
}
