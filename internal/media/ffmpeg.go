package media

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

const (
	WaveformSampleRate = 16000
	WaveformChannels   = 1
)

type commandRunner func(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)

// FFmpeg implements Tool and Resampler on top of the ffmpeg and ffprobe
// executables.
type FFmpeg struct {
	FFmpegPath  string
	FFprobePath string
	Logger      *zap.Logger

	run commandRunner
}

func NewFFmpeg(ffmpegPath, ffprobePath string, logger *zap.Logger) *FFmpeg {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(ffmpegPath) == "" {
		ffmpegPath = "ffmpeg"
	}
	if strings.TrimSpace(ffprobePath) == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpeg{
		FFmpegPath:  ffmpegPath,
		FFprobePath: ffprobePath,
		Logger:      logger,
		run:         runCommand,
	}
}

func (f *FFmpeg) ProbeDuration(ctx context.Context, path string) (float64, error) {
	if strings.TrimSpace(path) == "" {
		return 0, fmt.Errorf("%w: ffprobe: empty path", ErrTool)
	}

	args := []string{"-v", "error", "-hide_banner", "-show_format", "-of", "json", "--", path}
	stdout, err := f.exec(ctx, f.FFprobePath, args)
	if err != nil {
		return 0, err
	}

	result, err := parseProbe(stdout)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrTool, path, err)
	}

	duration := result.DurationSeconds()
	if math.IsNaN(duration) || math.IsInf(duration, 0) || duration <= 0 {
		return 0, fmt.Errorf("%w: ffprobe reported no usable duration for %s (%q)", ErrTool, path, result.Format.Duration)
	}
	return duration, nil
}

func (f *FFmpeg) Cut(ctx context.Context, src string, start, duration float64, dst string) error {
	if start < 0 || duration <= 0 || math.IsNaN(start) || math.IsNaN(duration) {
		return fmt.Errorf("%w: invalid cut range start=%v duration=%v", ErrTool, start, duration)
	}

	args := []string{
		"-nostdin", "-hide_banner", "-loglevel", "error", "-y",
		"-ss", formatSeconds(start),
		"-i", src,
		"-t", formatSeconds(duration),
		"-vn",
		"-c", "copy",
		dst,
	}
	_, err := f.exec(ctx, f.FFmpegPath, args)
	return err
}

func (f *FFmpeg) Resample(ctx context.Context, src, dst string) error {
	args := []string{
		"-nostdin", "-hide_banner", "-loglevel", "error", "-y",
		"-i", src,
		"-vn",
		"-ac", strconv.Itoa(WaveformChannels),
		"-ar", strconv.Itoa(WaveformSampleRate),
		"-c:a", "pcm_s16le",
		dst,
	}
	_, err := f.exec(ctx, f.FFmpegPath, args)
	return err
}

func (f *FFmpeg) exec(ctx context.Context, name string, args []string) ([]byte, error) {
	run := f.run
	if run == nil {
		run = runCommand
	}

	f.logger().Debug("running media tool", zap.String("tool", name), zap.Strings("args", args))
	stdout, stderr, err := run(ctx, name, args...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		errText := strings.TrimSpace(string(stderr))
		if errText == "" {
			errText = "no stderr output"
		}
		return nil, fmt.Errorf("%w: %s %s: %w (%s)", ErrTool, name, lastArg(args), err, errText)
	}
	return stdout, nil
}

func (f *FFmpeg) logger() *zap.Logger {
	if f.Logger == nil {
		return zap.NewNop()
	}
	return f.Logger
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func lastArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[len(args)-1]
}
