// Package whisper drives a local whisper.cpp command-line binary and manages
// the ggml models it needs.
package whisper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"go.uber.org/zap"
)

// EnvEnginePath overrides engine discovery.
const EnvEnginePath = "SPEAKERSCRIBE_WHISPER_PATH"

var ErrEngineNotFound = errors.New("whisper engine not found")

type Request struct {
	AudioPath string
	ModelPath string
	Language  string
}

type Engine interface {
	Transcribe(ctx context.Context, req Request) (string, error)
}

// CLIEngine runs whisper-cli once per request and reads back its text output.
type CLIEngine struct {
	Executable string
	Logger     *zap.Logger
}

// FindEngine resolves the whisper-cli executable: the override variable
// first, then the locations next to self, then PATH.
func FindEngine(getenv func(string) string, self string) (string, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	if override := strings.TrimSpace(getenv(EnvEnginePath)); override != "" {
		if err := ensureExecutable(override); err != nil {
			return "", fmt.Errorf("%s is not executable: %w", EnvEnginePath, err)
		}
		return override, nil
	}

	if self != "" {
		for _, candidate := range EnginePathCandidates(self) {
			if err := ensureExecutable(candidate); err == nil {
				return candidate, nil
			}
		}
	}

	if path, err := exec.LookPath(engineBinaryName()); err == nil {
		return path, nil
	}

	return "", fmt.Errorf("%w: install whisper.cpp so %s is on PATH, place it under ../libexec/whisper/ next to speakerscribe, or set %s", ErrEngineNotFound, engineBinaryName(), EnvEnginePath)
}

func NewCLIEngine(logger *zap.Logger) (*CLIEngine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	self, err := os.Executable()
	if err != nil {
		self = ""
	}

	executable, err := FindEngine(os.Getenv, self)
	if err != nil {
		return nil, err
	}
	return &CLIEngine{Executable: executable, Logger: logger}, nil
}

func EnginePathCandidates(self string) []string {
	binDir := filepath.Dir(self)
	name := engineBinaryName()
	hostTarget := fmt.Sprintf("%s_%s", runtime.GOOS, normalizeArch(runtime.GOARCH))

	return []string{
		filepath.Join(binDir, "..", "libexec", "whisper", name),
		filepath.Join(binDir, "libexec", "whisper", name),
		filepath.Join(binDir, "packaging", "whisper", hostTarget, name),
		filepath.Join(binDir, name),
	}
}

func (e *CLIEngine) Transcribe(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(req.AudioPath) == "" {
		return "", errors.New("audio path is required")
	}
	if strings.TrimSpace(req.ModelPath) == "" {
		return "", errors.New("model path is required")
	}
	if err := ensureExecutable(e.Executable); err != nil {
		return "", fmt.Errorf("whisper engine missing or not executable: %w", err)
	}

	// whisper-cli appends .txt to the -of base.
	outBase := strings.TrimSuffix(req.AudioPath, filepath.Ext(req.AudioPath)) + ".whisper"
	txtOut := outBase + ".txt"
	defer os.Remove(txtOut)

	args := buildArgs(req, outBase)

	cmd := exec.CommandContext(ctx, e.Executable, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	e.logger().Debug("running whisper engine", zap.String("engine", e.Executable), zap.Strings("args", args))
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", describeFailure(e.Executable, err, strings.TrimSpace(stderr.String()))
	}

	content, err := os.ReadFile(txtOut)
	if err != nil {
		return "", fmt.Errorf("read whisper output: %w", err)
	}
	return strings.TrimSpace(string(content)), nil
}

func (e *CLIEngine) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

func buildArgs(req Request, outBase string) []string {
	args := []string{"-m", req.ModelPath, "-f", req.AudioPath, "-nt", "-otxt", "-of", outBase}
	if lang := strings.TrimSpace(req.Language); lang != "" && lang != "auto" {
		args = append(args, "-l", lang)
	}
	return args
}

func describeFailure(executable string, err error, stderr string) error {
	switch {
	case isMissingSharedLibraryError(stderr):
		return fmt.Errorf("whisper engine at %s is missing required shared libraries (%s); rebuild whisper-cli with BUILD_SHARED_LIBS=OFF or set %s", executable, stderr, EnvEnginePath)
	case isIllegalInstructionError(stderr) || isIllegalInstructionError(err.Error()):
		return fmt.Errorf("whisper engine crashed with an illegal CPU instruction; set %s to a whisper-cli binary built for this CPU", EnvEnginePath)
	default:
		return fmt.Errorf("whisper transcribe failed: %w (%s)", err, stderr)
	}
}

func engineBinaryName() string {
	if runtime.GOOS == "windows" {
		return "whisper-cli.exe"
	}
	return "whisper-cli"
}

func ensureExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	if runtime.GOOS != "windows" && info.Mode()&0o111 == 0 {
		return fmt.Errorf("%s is not executable", path)
	}
	return nil
}

func isMissingSharedLibraryError(stderr string) bool {
	value := strings.ToLower(stderr)
	for _, pattern := range []string{
		"error while loading shared libraries",
		"cannot open shared object file",
		"dyld: library not loaded",
		"image not found",
	} {
		if strings.Contains(value, pattern) {
			return true
		}
	}
	return false
}

func isIllegalInstructionError(stderr string) bool {
	return strings.Contains(strings.ToLower(stderr), "illegal instruction")
}

func normalizeArch(arch string) string {
	switch arch {
	case "x86_64":
		return "amd64"
	case "aarch64":
		return "arm64"
	default:
		return arch
	}
}
