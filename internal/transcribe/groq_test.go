package transcribe

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTranscribeSuccess(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/openai/v1/audio/transcriptions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer gsk_test" {
			t.Errorf("Authorization = %q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			return
		}
		if r.FormValue("model") != "whisper-large-v3" {
			t.Errorf("model = %q", r.FormValue("model"))
		}
		if r.FormValue("response_format") != "text" {
			t.Errorf("response_format = %q", r.FormValue("response_format"))
		}
		if r.FormValue("language") != "en" {
			t.Errorf("language = %q", r.FormValue("language"))
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		if hdr.Filename != "memo.webm" || string(data) != "RIFF" {
			t.Errorf("file = %q (%q)", hdr.Filename, data)
		}
		w.Write([]byte("  Pick up the dry cleaning.\n"))
	}))
	defer ts.Close()

	c := New(Config{APIKey: "gsk_test", BaseURL: ts.URL})
	text, err := c.Transcribe(context.Background(), "memo.webm", []byte("RIFF"))
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if text != "Pick up the dry cleaning." {
		t.Errorf("text = %q", text)
	}
}

func TestTranscribeMissingKey(t *testing.T) {
	c := New(Config{})
	_, err := c.Transcribe(context.Background(), "memo.webm", []byte("x"))
	if !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("err = %v, want ErrNoAPIKey", err)
	}
}

func TestTranscribeAPIError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer ts.Close()

	c := New(Config{APIKey: "k", BaseURL: ts.URL})
	_, err := c.Transcribe(context.Background(), "memo.webm", []byte("x"))
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", apiErr.StatusCode)
	}
}

func TestTranscribeEmpty(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("   "))
	}))
	defer ts.Close()

	c := New(Config{APIKey: "k", BaseURL: ts.URL})
	_, err := c.Transcribe(context.Background(), "memo.webm", []byte("x"))
	if !errors.Is(err, ErrEmptyTranscript) {
		t.Errorf("err = %v, want ErrEmptyTranscript", err)
	}
}
