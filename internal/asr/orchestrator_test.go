package asr

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/voxlabs/vox-core/internal/audio"
	"github.com/voxlabs/vox-core/internal/listen"
	"github.com/voxlabs/vox-core/internal/protocol"
)

type fakeRecognizer struct {
	fn func(ctx context.Context) (Result, error)
}

func (f *fakeRecognizer) SpeechToText(ctx context.Context, _ []byte, _, _ int) (Result, error) {
	return f.fn(ctx)
}

type fakeIdentifier struct {
	fn func(ctx context.Context) (string, error)
}

func (f *fakeIdentifier) Identify(ctx context.Context, _ []byte) (string, error) {
	return f.fn(ctx)
}

type captureSink struct {
	mu         sync.Mutex
	deliveries []string
	frames     int
}

func (c *captureSink) Deliver(_ context.Context, _ string, transcript string, frames [][]byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deliveries = append(c.deliveries, transcript)
	c.frames = len(frames)
	return nil
}

func (c *captureSink) delivered() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.deliveries...)
}

func testOrchestrator(t *testing.T, rec Recognizer, id SpeakerIdentifier, sink Sink, timeout time.Duration) *Orchestrator {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewOrchestrator(OrchestratorOptions{
		Recognizer: rec,
		Identifier: id,
		Sink:       sink,
		Decoder:    audio.NewFrameDecoder(16000, 1, logger),
		Pool:       NewPool(4, logger),
		Timeout:    timeout,
		SampleRate: 16000,
		Channels:   1,
		Logger:     logger,
	})
}

func pcmUtterance(frames int) listen.Utterance {
	utt := listen.Utterance{
		ID:        "utt-1",
		SessionID: "sess-1",
		Format:    protocol.AudioFormatPCM,
	}
	for i := 0; i < frames; i++ {
		utt.Frames = append(utt.Frames, make([]byte, 320))
	}
	return utt
}

func TestFinalizeDeliversTranscriptWithSpeaker(t *testing.T) {
	rec := &fakeRecognizer{fn: func(context.Context) (Result, error) {
		return Result{Text: "turn on the lights"}, nil
	}}
	id := &fakeIdentifier{fn: func(context.Context) (string, error) {
		return "alice", nil
	}}
	sink := &captureSink{}

	o := testOrchestrator(t, rec, id, sink, time.Second)
	o.Finalize(context.Background(), pcmUtterance(8))

	got := sink.delivered()
	if len(got) != 1 {
		t.Fatalf("expected exactly one delivery, got %d", len(got))
	}
	var payload map[string]string
	if err := json.Unmarshal([]byte(got[0]), &payload); err != nil {
		t.Fatalf("delivery is not speaker-tagged JSON: %v", err)
	}
	if payload["speaker"] != "alice" || payload["content"] != "turn on the lights" {
		t.Fatalf("unexpected payload: %v", payload)
	}
	if sink.frames != 8 {
		t.Fatalf("expected original 8 frames forwarded, got %d", sink.frames)
	}
}

func TestFinalizeWithoutIdentifierDeliversPlainText(t *testing.T) {
	rec := &fakeRecognizer{fn: func(context.Context) (Result, error) {
		return Result{Text: "what time is it"}, nil
	}}
	sink := &captureSink{}

	o := testOrchestrator(t, rec, nil, sink, time.Second)
	o.Finalize(context.Background(), pcmUtterance(6))

	got := sink.delivered()
	if len(got) != 1 || got[0] != "what time is it" {
		t.Fatalf("expected plain transcript, got %v", got)
	}
}

func TestFinalizeTimeoutSuppressesEmptyTranscript(t *testing.T) {
	// Recognition never returns; speaker identification answers almost
	// immediately. Finalize must come back around the deadline and must
	// not deliver a speaker label with no words attached.
	rec := &fakeRecognizer{fn: func(ctx context.Context) (Result, error) {
		<-ctx.Done()
		return Result{}, ctx.Err()
	}}
	id := &fakeIdentifier{fn: func(context.Context) (string, error) {
		return "X", nil
	}}
	sink := &captureSink{}

	o := testOrchestrator(t, rec, id, sink, 100*time.Millisecond)
	start := time.Now()
	o.Finalize(context.Background(), pcmUtterance(8))
	elapsed := time.Since(start)

	if elapsed > 2*time.Second {
		t.Fatalf("finalize took %v, expected to honor the deadline", elapsed)
	}
	if got := sink.delivered(); len(got) != 0 {
		t.Fatalf("expected no delivery for empty transcript, got %v", got)
	}
}

func TestFinalizeRecognizerErrorNoDelivery(t *testing.T) {
	rec := &fakeRecognizer{fn: func(context.Context) (Result, error) {
		return Result{}, errors.New("backend unavailable")
	}}
	sink := &captureSink{}

	o := testOrchestrator(t, rec, nil, sink, time.Second)
	o.Finalize(context.Background(), pcmUtterance(8))

	if got := sink.delivered(); len(got) != 0 {
		t.Fatalf("expected no delivery on backend error, got %v", got)
	}
}

func TestFinalizePanickingBackendAbsorbed(t *testing.T) {
	rec := &fakeRecognizer{fn: func(context.Context) (Result, error) {
		panic("model crashed")
	}}
	sink := &captureSink{}

	o := testOrchestrator(t, rec, nil, sink, 50*time.Millisecond)
	o.Finalize(context.Background(), pcmUtterance(8))

	if got := sink.delivered(); len(got) != 0 {
		t.Fatalf("expected no delivery after backend panic, got %v", got)
	}
}

func TestFinalizeSpeakerFailureStillDelivers(t *testing.T) {
	rec := &fakeRecognizer{fn: func(context.Context) (Result, error) {
		return Result{Text: "play some jazz"}, nil
	}}
	id := &fakeIdentifier{fn: func(context.Context) (string, error) {
		return "", errors.New("voiceprint service down")
	}}
	sink := &captureSink{}

	o := testOrchestrator(t, rec, id, sink, time.Second)
	o.Finalize(context.Background(), pcmUtterance(8))

	got := sink.delivered()
	if len(got) != 1 || got[0] != "play some jazz" {
		t.Fatalf("expected plain transcript when speaker path degrades, got %v", got)
	}
}

func TestFinalizePrefersStitchedPartials(t *testing.T) {
	called := false
	rec := &fakeRecognizer{fn: func(context.Context) (Result, error) {
		called = true
		return Result{Text: "should not be used"}, nil
	}}
	sink := &captureSink{}

	utt := pcmUtterance(8)
	utt.Partials = []string{"set a timer", "a timer for ten minutes"}

	o := testOrchestrator(t, rec, nil, sink, time.Second)
	o.Finalize(context.Background(), utt)

	got := sink.delivered()
	if len(got) != 1 || got[0] != "set a timer for ten minutes" {
		t.Fatalf("expected stitched partials, got %v", got)
	}
	if called {
		t.Fatal("batch recognition should be skipped when partials exist")
	}
}

func TestFinalizeWhitespaceTranscriptDropped(t *testing.T) {
	rec := &fakeRecognizer{fn: func(context.Context) (Result, error) {
		return Result{Text: " ... "}, nil
	}}
	sink := &captureSink{}

	o := testOrchestrator(t, rec, nil, sink, time.Second)
	o.Finalize(context.Background(), pcmUtterance(8))

	if got := sink.delivered(); len(got) != 0 {
		t.Fatalf("expected punctuation-only transcript to be dropped, got %v", got)
	}
}
