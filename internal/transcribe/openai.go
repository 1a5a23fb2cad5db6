package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

const (
	DefaultOpenAIBaseURL = "https://api.openai.com"
	DefaultOpenAIModel   = "whisper-1"

	maxErrorBody = 4096
)

// APIError is a non-2xx answer from the transcription endpoint.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("openai transcription: status %d: %s", e.Status, e.Body)
}

// OpenAI calls the /v1/audio/transcriptions endpoint. The endpoint rejects
// uploads over 25 MiB.
type OpenAI struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

func NewOpenAI(apiKey, model, baseURL string, timeout time.Duration, logger *zap.Logger) *OpenAI {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAI{
		APIKey:     apiKey,
		Model:      model,
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: timeout},
		Logger:     logger,
	}
}

func (o *OpenAI) Transcribe(ctx context.Context, req Request) (string, error) {
	f, err := os.Open(req.AudioPath)
	if err != nil {
		return "", fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	format := req.Format
	if format == "" {
		format = FormatText
	}

	body, contentType, err := o.multipartBody(f, filepath.Base(req.AudioPath), languageHint(req.Language), format)
	if err != nil {
		return "", fmt.Errorf("build transcription upload: %w", err)
	}

	endpoint := strings.TrimRight(o.baseURL(), "/") + "/v1/audio/transcriptions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return "", fmt.Errorf("create transcription request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+o.APIKey)
	httpReq.Header.Set("Content-Type", contentType)

	started := time.Now()
	resp, err := o.client().Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("openai transcription: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read transcription response: %w", err)
	}

	o.logger().Debug("openai transcription response",
		zap.String("audio", req.AudioPath),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(started)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &APIError{Status: resp.StatusCode, Body: truncateBody(strings.TrimSpace(string(payload)), maxErrorBody)}
	}

	if format == FormatJSON {
		var parsed struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(payload, &parsed); err != nil {
			return "", fmt.Errorf("parse transcription response: %w", err)
		}
		return parsed.Text, nil
	}
	return string(payload), nil
}

// truncateBody cuts text to at most limit bytes without splitting a rune.
func truncateBody(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

func (o *OpenAI) multipartBody(audio io.Reader, fileName, language string, format Format) (*bytes.Buffer, string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fields := [][2]string{{"model", o.model()}, {"response_format", string(format)}}
	if language != "" {
		fields = append(fields, [2]string{"language", language})
	}
	for _, field := range fields {
		if err := mw.WriteField(field[0], field[1]); err != nil {
			return nil, "", err
		}
	}

	fw, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(fw, audio); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &body, mw.FormDataContentType(), nil
}

func (o *OpenAI) model() string {
	if strings.TrimSpace(o.Model) == "" {
		return DefaultOpenAIModel
	}
	return o.Model
}

func (o *OpenAI) baseURL() string {
	if strings.TrimSpace(o.BaseURL) == "" {
		return DefaultOpenAIBaseURL
	}
	return o.BaseURL
}

func (o *OpenAI) client() *http.Client {
	if o.HTTPClient == nil {
		return http.DefaultClient
	}
	return o.HTTPClient
}

func (o *OpenAI) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}
