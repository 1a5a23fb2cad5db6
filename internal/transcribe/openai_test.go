package transcribe

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

type capturedRequest struct {
	path     string
	auth     string
	fields   map[string]string
	fileName string
	file     []byte
}

func newCapturingServer(t *testing.T, status int, response string) (*httptest.Server, <-chan capturedRequest) {
	t.Helper()

	captured := make(chan capturedRequest, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := capturedRequest{path: r.URL.Path, auth: r.Header.Get("Authorization"), fields: map[string]string{}}
		if err := r.ParseMultipartForm(1 << 20); err == nil {
			for key, values := range r.MultipartForm.Value {
				c.fields[key] = values[0]
			}
			if file, header, err := r.FormFile("file"); err == nil {
				c.fileName = header.Filename
				c.file, _ = io.ReadAll(file)
				_ = file.Close()
			}
		}
		captured <- c
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(server.Close)
	return server, captured
}

func writeAudio(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func TestOpenAISendsMultipartRequest(t *testing.T) {
	t.Parallel()

	server, captured := newCapturingServer(t, http.StatusOK, "こんにちは\n")
	audio := writeAudio(t, "segment_1_SPEAKER_00.m4a", []byte("m4a-bytes"))

	client := NewOpenAI("sk-test", "", server.URL+"/", time.Minute, nil)
	text, err := client.Transcribe(context.Background(), Request{AudioPath: audio, Language: "ja", Format: FormatText})
	require.NoError(t, err)
	require.Equal(t, "こんにちは\n", text)

	got := <-captured
	require.Equal(t, "/v1/audio/transcriptions", got.path)
	require.Equal(t, "Bearer sk-test", got.auth)
	require.Equal(t, map[string]string{"model": "whisper-1", "response_format": "text", "language": "ja"}, got.fields)
	require.Equal(t, "segment_1_SPEAKER_00.m4a", got.fileName)
	require.Equal(t, []byte("m4a-bytes"), got.file)
}

func TestOpenAIOmitsAutoLanguage(t *testing.T) {
	t.Parallel()

	server, captured := newCapturingServer(t, http.StatusOK, `{"text":"hello"}`)
	audio := writeAudio(t, "a.m4a", []byte("x"))

	client := NewOpenAI("sk", "gpt-4o-transcribe", server.URL, time.Minute, nil)
	text, err := client.Transcribe(context.Background(), Request{AudioPath: audio, Language: "auto", Format: FormatJSON})
	require.NoError(t, err)
	require.Equal(t, "hello", text)

	got := <-captured
	require.NotContains(t, got.fields, "language")
	require.Equal(t, "gpt-4o-transcribe", got.fields["model"])
	require.Equal(t, "json", got.fields["response_format"])
}

func TestOpenAIReturnsAPIError(t *testing.T) {
	t.Parallel()

	server, _ := newCapturingServer(t, http.StatusRequestEntityTooLarge, `{"error":{"message":"Maximum content size limit exceeded"}}`)
	audio := writeAudio(t, "a.m4a", []byte("x"))

	client := NewOpenAI("sk", "", server.URL, time.Minute, nil)
	_, err := client.Transcribe(context.Background(), Request{AudioPath: audio})

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusRequestEntityTooLarge, apiErr.Status)
	require.Contains(t, apiErr.Body, "Maximum content size")
}

func TestOpenAIAPIErrorBodyKeepsWholeRunes(t *testing.T) {
	t.Parallel()

	server, _ := newCapturingServer(t, http.StatusBadRequest, strings.Repeat("音声", 1000))
	audio := writeAudio(t, "a.m4a", []byte("x"))

	client := NewOpenAI("sk", "", server.URL, time.Minute, nil)
	_, err := client.Transcribe(context.Background(), Request{AudioPath: audio})

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.True(t, utf8.ValidString(apiErr.Body))
	require.Len(t, apiErr.Body, maxErrorBody-maxErrorBody%3)
}

func TestOpenAIMissingFile(t *testing.T) {
	t.Parallel()

	client := NewOpenAI("sk", "", "http://127.0.0.1:1", time.Second, nil)
	_, err := client.Transcribe(context.Background(), Request{AudioPath: filepath.Join(t.TempDir(), "gone.m4a")})
	require.ErrorContains(t, err, "open audio")
}

func TestOpenAIHonoursCancellation(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		server.Close()
	})

	audio := writeAudio(t, "a.m4a", []byte("x"))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	client := NewOpenAI("sk", "", server.URL, time.Minute, nil)
	_, err := client.Transcribe(ctx, Request{AudioPath: audio})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
