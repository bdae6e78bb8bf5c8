package voiceprint

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/voxlabs/vox-core/internal/config"
)

// HTTPIdentifier asks an external voiceprint service to label the speaker
// of a WAV-encoded utterance. An empty label means the service did not
// recognize the voice; that is not an error.
type HTTPIdentifier struct {
	endpoint string
	apiKey   string
	client   *http.Client
	logger   *slog.Logger
}

func NewHTTPIdentifier(cfg config.VoiceprintConfig, logger *slog.Logger) *HTTPIdentifier {
	return &HTTPIdentifier{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: 60 * time.Second},
		logger:   logger.With(slog.String("component", "voiceprint")),
	}
}

type identifyResponse struct {
	Speaker string `json:"speaker"`
}

func (h *HTTPIdentifier) Identify(ctx context.Context, wavData []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(wavData))
	if err != nil {
		return "", fmt.Errorf("build voiceprint request: %w", err)
	}
	req.Header.Set("Content-Type", "audio/wav")
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call voiceprint service: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read voiceprint response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("voiceprint service returned %d: %s", resp.StatusCode, string(body))
	}

	var parsed identifyResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("parse voiceprint response: %w", err)
	}
	h.logger.Debug("speaker identified", slog.String("speaker", parsed.Speaker))
	return parsed.Speaker, nil
}

// MockIdentifier returns a fixed label for every utterance. Useful in
// development when no voiceprint service is running.
type MockIdentifier struct {
	Label string
}

func (m *MockIdentifier) Identify(context.Context, []byte) (string, error) {
	return m.Label, nil
}
