// Package asr transcribes audio through an OpenAI-compatible
// /audio/transcriptions endpoint.
package asr

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

	"github.com/user/notetaker/internal/types"
	"github.com/user/notetaker/pkg/llm"
)

// Config configures the transcription endpoint.
type Config struct {
	BaseURL  string
	APIKey   string
	Model    string
	Language string
	Timeout  time.Duration
}

// Client implements types.Transcriber.
type Client struct {
	config     Config
	httpClient *http.Client
}

// New creates a transcription client.
func New(config Config) *Client {
	if config.Model == "" {
		config.Model = "whisper-1"
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type verboseResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Segments []struct {
		ID    int     `json:"id"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

// Transcribe uploads the audio file and returns its text, detected
// language and timed segments.
func (c *Client) Transcribe(ctx context.Context, audioPath string) (*types.TranscriptResult, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("model", c.config.Model); err != nil {
		return nil, err
	}
	if err := mw.WriteField("response_format", "verbose_json"); err != nil {
		return nil, err
	}
	if c.config.Language != "" {
		if err := mw.WriteField("language", c.config.Language); err != nil {
			return nil, err
		}
	}
	fw, err := mw.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(fw, f); err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	url := strings.TrimRight(c.config.BaseURL, "/") + "/audio/transcriptions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, llm.NewAPIError("transcription", resp.StatusCode, b)
	}

	var vr verboseResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	return toResult(vr), nil
}

func toResult(vr verboseResponse) *types.TranscriptResult {
	lang := NormalizeLanguage(vr.Language)

	result := &types.TranscriptResult{
		Text:      strings.TrimSpace(vr.Text),
		Languages: []string{},
		Segments:  make([]types.Segment, 0, len(vr.Segments)),
	}
	if lang != "" {
		result.Languages = append(result.Languages, lang)
	}
	segLang := lang
	if segLang == "" {
		segLang = "unknown"
	}
	for _, s := range vr.Segments {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		result.Segments = append(result.Segments, types.Segment{
			ID:       fmt.Sprintf("seg-%d", s.ID),
			Start:    s.Start,
			End:      s.End,
			Text:     text,
			Language: segLang,
		})
	}
	return result
}

var _ types.Transcriber = (*Client)(nil)
