package asr

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/user/notetaker/pkg/llm"
)

func writeAudio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chunk.wav")
	if err := os.WriteFile(path, []byte("RIFF....WAVE"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestTranscribe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer k" {
			t.Error("missing auth header")
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Error(err)
			return
		}
		if r.FormValue("response_format") != "verbose_json" {
			t.Errorf("unexpected response_format %q", r.FormValue("response_format"))
		}
		if _, hdr, err := r.FormFile("file"); err != nil || hdr.Filename != "chunk.wav" {
			t.Errorf("expected file part, got %v", err)
		}

		json.NewEncoder(w).Encode(map[string]any{
			"text":     " hello world ",
			"language": "english",
			"segments": []map[string]any{
				{"id": 0, "start": 0.0, "end": 1.5, "text": " hello"},
				{"id": 1, "start": 1.5, "end": 2.0, "text": " "},
				{"id": 2, "start": 2.0, "end": 3.0, "text": "world"},
			},
		})
	}))
	defer server.Close()

	c := New(Config{BaseURL: server.URL + "/v1", APIKey: "k"})
	res, err := c.Transcribe(context.Background(), writeAudio(t))
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "hello world" {
		t.Errorf("unexpected text %q", res.Text)
	}
	if len(res.Languages) != 1 || res.Languages[0] != "en" {
		t.Errorf("unexpected languages %v", res.Languages)
	}
	if len(res.Segments) != 2 || res.Segments[1].Start != 2.0 || res.Segments[0].Language != "en" {
		t.Errorf("unexpected segments %+v", res.Segments)
	}
}

func TestTranscribeAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad audio", http.StatusBadRequest)
	}))
	defer server.Close()

	c := New(Config{BaseURL: server.URL})
	_, err := c.Transcribe(context.Background(), writeAudio(t))
	var apiErr *llm.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *llm.APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || apiErr.Message != "bad audio" || apiErr.Temporary() {
		t.Errorf("unexpected error %+v", apiErr)
	}
}

func TestTranscribeMissingFile(t *testing.T) {
	c := New(Config{BaseURL: "http://127.0.0.1:0"})
	if _, err := c.Transcribe(context.Background(), "/nonexistent.wav"); err == nil {
		t.Fatal("expected error")
	}
}

func TestNormalizeLanguage(t *testing.T) {
	cases := map[string]string{
		"English": "en",
		"fr":      "fr",
		"":        "",
		"klingon": "",
	}
	for in, want := range cases {
		if got := NormalizeLanguage(in); got != want {
			t.Errorf("NormalizeLanguage(%q) = %q, want %q", in, got, want)
		}
	}
}
