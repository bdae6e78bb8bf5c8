package sink

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/voxlabs/vox-core/internal/protocol"
)

type fakePublisher struct {
	subjects []string
	payloads [][]byte
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, data)
	return nil
}

func newTestSink(pub publisher) *BusSink {
	return &BusSink{
		pub:    pub,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestDeliverEchoesBeforeDispatch(t *testing.T) {
	pub := &fakePublisher{}
	s := newTestSink(pub)

	if err := s.Deliver(context.Background(), "dev-1", "turn on the lights", nil); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	if len(pub.subjects) != 2 {
		t.Fatalf("expected notice then dispatch, got %v", pub.subjects)
	}
	if pub.subjects[0] != protocol.SubjectSpeechNotice || pub.subjects[1] != protocol.SubjectChatDispatch {
		t.Fatalf("wrong publish order: %v", pub.subjects)
	}

	var notice protocol.SpeechNotice
	if err := json.Unmarshal(pub.payloads[0], &notice); err != nil {
		t.Fatalf("decode notice: %v", err)
	}
	if notice.Text != "turn on the lights" || notice.Partial {
		t.Fatalf("unexpected notice: %+v", notice)
	}

	var dispatch protocol.ChatDispatch
	if err := json.Unmarshal(pub.payloads[1], &dispatch); err != nil {
		t.Fatalf("decode dispatch: %v", err)
	}
	if dispatch.SessionID != "dev-1" || dispatch.Content != "turn on the lights" {
		t.Fatalf("unexpected dispatch: %+v", dispatch)
	}
}

func TestDeliverSpeakerTaggedEchoesContentOnly(t *testing.T) {
	pub := &fakePublisher{}
	s := newTestSink(pub)

	tagged := `{"speaker":"alice","content":"play some jazz"}`
	if err := s.Deliver(context.Background(), "dev-2", tagged, nil); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	var notice protocol.SpeechNotice
	if err := json.Unmarshal(pub.payloads[0], &notice); err != nil {
		t.Fatalf("decode notice: %v", err)
	}
	if notice.Text != "play some jazz" {
		t.Fatalf("device echo should carry plain text, got %q", notice.Text)
	}

	var dispatch protocol.ChatDispatch
	if err := json.Unmarshal(pub.payloads[1], &dispatch); err != nil {
		t.Fatalf("decode dispatch: %v", err)
	}
	if dispatch.Content != tagged {
		t.Fatalf("dispatch should keep the speaker tag, got %q", dispatch.Content)
	}
}

func TestStopSynthesis(t *testing.T) {
	pub := &fakePublisher{}
	s := newTestSink(pub)

	if err := s.StopSynthesis(context.Background(), "dev-3"); err != nil {
		t.Fatalf("stop synthesis: %v", err)
	}
	if len(pub.subjects) != 1 || pub.subjects[0] != protocol.SubjectSynthCommand {
		t.Fatalf("unexpected subjects: %v", pub.subjects)
	}
	var cmd protocol.SynthCommand
	if err := json.Unmarshal(pub.payloads[0], &cmd); err != nil {
		t.Fatalf("decode command: %v", err)
	}
	if cmd.State != "stop" {
		t.Fatalf("expected stop state, got %q", cmd.State)
	}
}
