package asr

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/voxlabs/vox-core/internal/config"
)

// wsRecognizer speaks a Vosk-style websocket protocol: binary PCM frames
// in, JSON results out, `{"eof": 1}` to flush the final segment. It
// implements both the batch contract and the Streamer extension.
type wsRecognizer struct {
	cfg    config.ASRConfig
	logger *slog.Logger
}

type wsResult struct {
	Text    string `json:"text"`
	Partial string `json:"partial"`
}

func NewWSRecognizer(cfg config.ASRConfig, logger *slog.Logger) Recognizer {
	return &wsRecognizer{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "ws-recognizer")),
	}
}

func (r *wsRecognizer) dial(ctx context.Context, sampleRate int) (*websocket.Conn, error) {
	url := fmt.Sprintf("%s?sample_rate=%d", r.cfg.Endpoint, sampleRate)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("connect to recognition server: %w", err)
	}
	return conn, nil
}

// SpeechToText streams the whole utterance in one shot and collects the
// finalized segments.
func (r *wsRecognizer) SpeechToText(ctx context.Context, pcm []byte, sampleRate int, _ int) (Result, error) {
	conn, err := r.dial(ctx, sampleRate)
	if err != nil {
		return Result{}, err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
		_ = conn.SetWriteDeadline(deadline)
	}

	// 4000-byte writes keep individual websocket messages small without
	// mattering for correctness.
	const chunk = 4000
	for off := 0; off < len(pcm); off += chunk {
		end := min(off+chunk, len(pcm))
		if err := conn.WriteMessage(websocket.BinaryMessage, pcm[off:end]); err != nil {
			return Result{}, fmt.Errorf("send audio: %w", err)
		}
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"eof": 1}`)); err != nil {
		return Result{}, fmt.Errorf("send eof: %w", err)
	}

	var full strings.Builder
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var res wsResult
		if err := json.Unmarshal(message, &res); err != nil {
			r.logger.Warn("failed to parse recognition result", slog.String("error", err.Error()))
			continue
		}
		if res.Text != "" {
			if full.Len() > 0 {
				full.WriteString(" ")
			}
			full.WriteString(res.Text)
		}
	}
	return Result{Text: strings.TrimSpace(full.String())}, nil
}

// OpenStream starts an incremental recognition session for one utterance.
func (r *wsRecognizer) OpenStream(ctx context.Context, sessionID string) (Stream, error) {
	conn, err := r.dial(ctx, r.cfg.SampleRate)
	if err != nil {
		return nil, err
	}
	s := &wsStream{
		conn:    conn,
		results: make(chan string, 64),
		done:    make(chan struct{}),
		logger:  r.logger.With(slog.String("session_id", sessionID)),
	}
	go s.readLoop()
	return s, nil
}

type wsStream struct {
	conn    *websocket.Conn
	results chan string
	done    chan struct{}
	logger  *slog.Logger
	writeMu sync.Mutex
	closed  bool
}

func (s *wsStream) readLoop() {
	defer close(s.done)
	defer close(s.results)
	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("recognition stream read error", slog.String("error", err.Error()))
			}
			return
		}
		var res wsResult
		if err := json.Unmarshal(message, &res); err != nil {
			s.logger.Warn("failed to parse partial result", slog.String("error", err.Error()))
			continue
		}
		text := res.Text
		if text == "" {
			text = res.Partial
		}
		if text == "" {
			continue
		}
		select {
		case s.results <- text:
		default:
			// Consumer is behind; newer partials supersede dropped ones.
		}
	}
}

func (s *wsStream) ProcessChunk(ctx context.Context, frame []byte, final bool) ([]string, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("stream closed")
	}

	if len(frame) > 0 {
		if err := s.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			return nil, fmt.Errorf("send chunk: %w", err)
		}
	}

	if !final {
		return s.drain(), nil
	}

	if err := s.conn.WriteMessage(websocket.TextMessage, []byte(`{"eof": 1}`)); err != nil {
		return s.drain(), fmt.Errorf("send eof: %w", err)
	}
	// Collect everything the server flushes before it closes the stream.
	select {
	case <-s.done:
	case <-ctx.Done():
		return s.drain(), ctx.Err()
	}
	return s.drain(), nil
}

func (s *wsStream) drain() []string {
	var out []string
	for {
		select {
		case text, ok := <-s.results:
			if !ok {
				return out
			}
			out = append(out, text)
		default:
			return out
		}
	}
}

func (s *wsStream) Close() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}
