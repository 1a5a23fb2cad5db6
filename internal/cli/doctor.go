package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fmueller/speakerscribe/internal/config"
	"github.com/fmueller/speakerscribe/internal/whisper"
)

var errDoctorFailed = errors.New("required components are missing")

const (
	statusOK       = "ok"
	statusMissing  = "missing"
	statusOptional = "not needed"
)

type check struct {
	component string
	required  bool
	found     bool
	detail    string
}

func (c check) row() []string {
	status := statusOK
	switch {
	case !c.found && c.required:
		status = statusMissing
	case !c.found:
		status = statusOptional
	}
	return []string{c.component, status, c.detail}
}

func newDoctorCmd(app *appState) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check external tools, models and credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.config()
			if err != nil {
				return err
			}

			checks := app.runChecks(cfg)
			rows := make([][]string, 0, len(checks))
			failed := 0
			for _, c := range checks {
				rows = append(rows, c.row())
				if c.required && !c.found {
					failed++
				}
			}

			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Component", "Status", "Detail"}, rows))
			if app.configFile != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "config: %s\n", app.configFile)
			}

			if failed > 0 {
				return fmt.Errorf("%w (%d)", errDoctorFailed, failed)
			}
			return nil
		},
	}
}

func (a *appState) runChecks(cfg *config.Config) []check {
	local := cfg.Transcription.Backend == config.BackendLocal

	checks := []check{
		a.toolCheck("ffmpeg", cfg.Tools.FFmpeg, true),
		a.toolCheck("ffprobe", cfg.Tools.FFprobe, true),
		a.toolCheck("uvx", cfg.Diarization.UVXPath, true),
	}

	engine := check{component: "whisper-cli", required: local}
	self, _ := os.Executable()
	if path, err := whisper.FindEngine(a.env, self); err == nil {
		engine.found = true
		engine.detail = path
	} else {
		engine.detail = "only needed by the local backend"
		if local {
			engine.detail = err.Error()
		}
	}
	checks = append(checks, engine)

	if local {
		checks = append(checks, a.modelCheck(cfg))
	}

	checks = append(checks,
		credentialCheck(config.EnvHuggingFaceToken, cfg.Credentials.HuggingFaceToken, true, "pyannote diarization"),
		credentialCheck(config.EnvOpenAIAPIKey, cfg.Credentials.OpenAIAPIKey, !local, "openai transcription"),
	)
	return checks
}

func (a *appState) toolCheck(name, configured string, required bool) check {
	c := check{component: name, required: required}
	lookPath := a.lookPath
	if lookPath == nil {
		return c
	}
	path, err := lookPath(configured)
	if err != nil {
		c.detail = fmt.Sprintf("%s not found on PATH", configured)
		return c
	}
	c.found = true
	c.detail = path
	return c
}

func (a *appState) modelCheck(cfg *config.Config) check {
	c := check{component: "model " + cfg.Local.Model, required: true}
	dir, err := modelStorageDir(cfg.Local.ModelDir)
	if err != nil {
		c.detail = err.Error()
		return c
	}
	resolved, err := whisper.ResolveModel(cfg.Local.Model, dir)
	switch {
	case err != nil:
		c.detail = err.Error()
	case resolved.NeedsDownload && cfg.Local.AutoDownload:
		// Downloaded on first use.
		c.found = true
		c.detail = "downloads on first run to " + resolved.Path
	case resolved.NeedsDownload:
		c.detail = "run `speakerscribe setup` to install " + resolved.Path
	default:
		c.found = true
		c.detail = resolved.Path
	}
	return c
}

func credentialCheck(name, value string, required bool, usedBy string) check {
	c := check{component: name, required: required, found: value != ""}
	if c.found {
		c.detail = "set"
	} else {
		c.detail = "not set; needed for " + usedBy
	}
	return c
}
