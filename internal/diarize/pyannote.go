package diarize

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

//go:embed assets/diarize.py
var diarizeScript []byte

const (
	DefaultPipeline = "pyannote/speaker-diarization-3.1"
	cudaIndexURL    = "https://download.pytorch.org/whl/cu128"
	pypiIndexURL    = "https://pypi.org/simple"
)

var ErrModelAccess = errors.New("huggingface model access denied")

// unauthorizedPattern matches the HTTP status line requests/huggingface_hub
// print for a rejected token.
var unauthorizedPattern = regexp.MustCompile(`\b(401|403) (Client Error|Unauthorized|Forbidden)\b`)

type commandRunner func(ctx context.Context, env []string, name string, args ...string) (stdout, stderr []byte, err error)

// Pyannote runs the pyannote speaker-diarization pipeline through uvx. The
// helper script is written into ScriptDir (or the waveform's directory).
type Pyannote struct {
	UVXPath   string
	HFToken   string
	Pipeline  string
	CUDA      bool
	ScriptDir string
	Logger    *zap.Logger

	run commandRunner
}

func NewPyannote(uvxPath, hfToken, pipeline string, cuda bool, logger *zap.Logger) *Pyannote {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pyannote{
		UVXPath:  uvxPath,
		HFToken:  hfToken,
		Pipeline: pipeline,
		CUDA:     cuda,
		Logger:   logger,
		run:      runCommand,
	}
}

func (p *Pyannote) Diarize(ctx context.Context, waveformPath string, params Params) ([]Interval, error) {
	if strings.TrimSpace(p.HFToken) == "" {
		return nil, errors.New("pyannote: huggingface token is required")
	}

	dir := p.ScriptDir
	if dir == "" {
		dir = filepath.Dir(waveformPath)
	}
	scriptPath := filepath.Join(dir, "diarize.py")
	if err := os.WriteFile(scriptPath, diarizeScript, 0o644); err != nil {
		return nil, fmt.Errorf("write diarization script: %w", err)
	}
	defer os.Remove(scriptPath)

	args := p.buildArgs(scriptPath, waveformPath, params)

	env := append(os.Environ(), "HF_TOKEN="+p.HFToken)
	if os.Getenv("TORCH_FORCE_NO_WEIGHTS_ONLY_LOAD") == "" {
		env = append(env, "TORCH_FORCE_NO_WEIGHTS_ONLY_LOAD=1")
	}

	run := p.run
	if run == nil {
		run = runCommand
	}

	p.logger().Debug("running pyannote", zap.String("uvx", p.uvx()), zap.Strings("args", args))
	stdout, stderr, err := run(ctx, env, p.uvx(), args...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, describeFailure(err, stderr)
	}

	var intervals []Interval
	if err := json.Unmarshal(bytes.TrimSpace(stdout), &intervals); err != nil {
		return nil, fmt.Errorf("parse pyannote output: %w", err)
	}
	return intervals, nil
}

func (p *Pyannote) buildArgs(scriptPath, waveformPath string, params Params) []string {
	args := []string{
		"--quiet",
		"--with", "pyannote.audio",
		"--with", "torchaudio",
		"--with", "soundfile",
	}
	if p.CUDA {
		args = append(args, "--index-url", cudaIndexURL, "--extra-index-url", pypiIndexURL)
	}

	pipeline := strings.TrimSpace(p.Pipeline)
	if pipeline == "" {
		pipeline = DefaultPipeline
	}

	args = append(args, "python", scriptPath,
		"--audio", waveformPath,
		"--pipeline", pipeline,
		"--min-duration-off", strconv.FormatFloat(params.MinDurationOff, 'f', -1, 64),
		"--threshold", strconv.FormatFloat(params.Threshold, 'f', -1, 64),
	)
	if p.CUDA {
		args = append(args, "--cuda")
	}
	return args
}

func (p *Pyannote) uvx() string {
	if strings.TrimSpace(p.UVXPath) == "" {
		return "uvx"
	}
	return p.UVXPath
}

func (p *Pyannote) logger() *zap.Logger {
	if p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}

func describeFailure(err error, stderr []byte) error {
	raw := strings.TrimSpace(string(stderr))
	if strings.Contains(raw, "GatedRepoError") || unauthorizedPattern.MatchString(raw) {
		return fmt.Errorf("pyannote: %w; visit https://hf.co/pyannote/speaker-diarization-3.1 and https://hf.co/pyannote/segmentation-3.0 to accept the model terms, then retry", ErrModelAccess)
	}

	lines := strings.Split(raw, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal([]byte(line), &payload) == nil && payload.Error != "" {
			line = payload.Error
		}
		return fmt.Errorf("pyannote: %w: %s", err, line)
	}
	return fmt.Errorf("pyannote: %w", err)
}

func runCommand(ctx context.Context, env []string, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = env
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}
