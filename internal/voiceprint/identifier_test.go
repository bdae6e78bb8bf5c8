package voiceprint

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/voxlabs/vox-core/internal/config"
)

func TestHTTPIdentify(t *testing.T) {
	var gotContentType, gotAuth string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		gotAuth = r.Header.Get("Authorization")
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"speaker":"alice"}`))
	}))
	defer server.Close()

	id := NewHTTPIdentifier(config.VoiceprintConfig{
		Endpoint: server.URL,
		APIKey:   "secret",
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	speaker, err := id.Identify(context.Background(), []byte("RIFFfake"))
	if err != nil {
		t.Fatalf("identify failed: %v", err)
	}
	if speaker != "alice" {
		t.Fatalf("expected alice, got %q", speaker)
	}
	if gotContentType != "audio/wav" {
		t.Fatalf("expected audio/wav content type, got %q", gotContentType)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("expected bearer auth, got %q", gotAuth)
	}
	if string(gotBody) != "RIFFfake" {
		t.Fatalf("body not forwarded: %q", gotBody)
	}
}

func TestHTTPIdentifyUnknownSpeaker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"speaker":""}`))
	}))
	defer server.Close()

	id := NewHTTPIdentifier(config.VoiceprintConfig{Endpoint: server.URL},
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	speaker, err := id.Identify(context.Background(), nil)
	if err != nil {
		t.Fatalf("unknown speaker should not be an error: %v", err)
	}
	if speaker != "" {
		t.Fatalf("expected empty label, got %q", speaker)
	}
}

func TestHTTPIdentifyServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer server.Close()

	id := NewHTTPIdentifier(config.VoiceprintConfig{Endpoint: server.URL},
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	if _, err := id.Identify(context.Background(), nil); err == nil {
		t.Fatal("expected error on 500 response")
	}
}
