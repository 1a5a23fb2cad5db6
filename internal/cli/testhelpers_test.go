package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fmueller/speakerscribe/internal/pipeline"
)

// newTestApp returns an app with an empty environment and a recording
// runFn, so commands never touch real credentials or tools.
func newTestApp(env map[string]string) (*appState, *[]runCall) {
	app := newAppState()
	app.getenv = func(key string) string { return env[key] }
	app.noProgress = true

	calls := &[]runCall{}
	app.runFn = func(_ context.Context, input, output string) (pipeline.Result, error) {
		*calls = append(*calls, runCall{input: input, output: output, cfg: *app.cfg})
		if output == "" {
			output = pipeline.OutputPathFor(input)
		}
		return pipeline.Result{Output: output}, nil
	}
	return app, calls
}

func runCommand(t *testing.T, app *appState, args []string) (stdout string, stderr string, err error) {
	t.Helper()

	if app == nil {
		app, _ = newTestApp(nil)
	}

	cmd := newRootCmd(app)
	outBuf := new(bytes.Buffer)
	errBuf := new(bytes.Buffer)

	cmd.SetOut(outBuf)
	cmd.SetErr(errBuf)
	cmd.SetArgs(append([]string{"--config", emptyConfig(t)}, args...))

	err = cmd.Execute()
	return outBuf.String(), errBuf.String(), err
}

func emptyConfig(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	return path
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
