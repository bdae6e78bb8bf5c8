package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/voxlabs/vox-core/internal/bus"
	"github.com/voxlabs/vox-core/internal/protocol"
	"github.com/voxlabs/vox-core/internal/report"
)

// publisher is the slice of the bus connection the sink needs.
type publisher interface {
	Publish(subject string, data []byte) error
}

// BusSink publishes session engine output onto the message bus and
// journals finalized utterances into the report store. It is the single
// downstream door for transcripts, speech notices, and synthesis control.
type BusSink struct {
	pub    publisher
	store  *report.Store
	logger *slog.Logger
}

func New(busClient *bus.Client, store *report.Store, logger *slog.Logger) *BusSink {
	return &BusSink{
		pub:    busClient.Conn(),
		store:  store,
		logger: logger.With(slog.String("component", "sink")),
	}
}

// Deliver echoes the recognized text to the device, hands the transcript
// to the conversational engine, and journals it. The echo and the journal
// are best-effort: their failures are logged, never allowed to block the
// conversation.
func (s *BusSink) Deliver(ctx context.Context, sessionID, transcript string, frames [][]byte) error {
	content, speaker := splitSpeakerTag(transcript)

	// Devices display what was heard before the reply arrives.
	if err := s.SpeechNotice(ctx, sessionID, content, false); err != nil {
		s.logger.Warn("failed to echo recognized text",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()))
	}

	dispatch := protocol.ChatDispatch{
		SessionID: sessionID,
		Content:   transcript,
		Timestamp: time.Now().UTC(),
	}
	data, err := json.Marshal(dispatch)
	if err != nil {
		return fmt.Errorf("marshal chat dispatch: %w", err)
	}
	if err := s.pub.Publish(protocol.SubjectChatDispatch, data); err != nil {
		return fmt.Errorf("publish chat dispatch: %w", err)
	}

	go s.journal(sessionID, content, speaker, len(frames))
	return nil
}

func (s *BusSink) journal(sessionID, content, speaker string, frameCount int) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.store.RecordUtterance(ctx, report.Utterance{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		Transcript: content,
		Speaker:    speaker,
		FrameCount: frameCount,
	})
	if err != nil {
		s.logger.Warn("failed to journal utterance",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()))
	}
}

// splitSpeakerTag pulls the plain text and speaker label back out of a
// speaker-tagged transcript; untagged text passes through unchanged.
func splitSpeakerTag(transcript string) (content, speaker string) {
	var tagged struct {
		Speaker string `json:"speaker"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal([]byte(transcript), &tagged); err == nil && tagged.Content != "" {
		return tagged.Content, tagged.Speaker
	}
	return transcript, ""
}

// SpeechNotice echoes text back to the device for display.
func (s *BusSink) SpeechNotice(_ context.Context, sessionID, text string, partial bool) error {
	notice := protocol.SpeechNotice{
		SessionID: sessionID,
		Text:      text,
		Partial:   partial,
		Timestamp: time.Now().UTC(),
	}
	data, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("marshal speech notice: %w", err)
	}
	return s.pub.Publish(protocol.SubjectSpeechNotice, data)
}

// StopSynthesis tells the device-facing synthesis path to go quiet.
func (s *BusSink) StopSynthesis(_ context.Context, sessionID string) error {
	cmd := protocol.SynthCommand{SessionID: sessionID, State: "stop"}
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal synth command: %w", err)
	}
	return s.pub.Publish(protocol.SubjectSynthCommand, data)
}
