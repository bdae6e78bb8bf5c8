package listen

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/voxlabs/vox-core/internal/config"
	"github.com/voxlabs/vox-core/internal/protocol"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeDeliverer struct {
	calls []string
}

func (f *fakeDeliverer) Deliver(_ context.Context, _, transcript string, _ [][]byte) error {
	f.calls = append(f.calls, transcript)
	return nil
}

type fakeNotifier struct {
	notices []string
	stops   int
}

func (f *fakeNotifier) SpeechNotice(_ context.Context, _, text string, _ bool) error {
	f.notices = append(f.notices, text)
	return nil
}

func (f *fakeNotifier) StopSynthesis(_ context.Context, _ string) error {
	f.stops++
	return nil
}

func listenCfg() config.ListenConfig {
	return config.ListenConfig{
		DefaultMode:        "auto",
		IdleKeepFrames:     10,
		MinUtteranceFrames: 5,
		FrameDurationMS:    60,
	}
}

func newTestMachine(t *testing.T, mode protocol.ListenMode, wake config.WakeConfig) (*Machine, *fakeDeliverer, *fakeNotifier, *[]Utterance) {
	t.Helper()
	var emitted []Utterance
	deliver := &fakeDeliverer{}
	notifier := &fakeNotifier{}
	sess := NewSession("session-1", mode, protocol.AudioFormatPCM)
	m := NewMachine(sess, listenCfg(), wake, deliver, notifier, func(u Utterance) {
		emitted = append(emitted, u)
	}, newLogger())
	return m, deliver, notifier, &emitted
}

func TestIdleBufferNeverExceedsKeepLimit(t *testing.T) {
	m, _, _, _ := newTestMachine(t, protocol.ListenModeAuto, config.WakeConfig{})
	for i := 0; i < 50; i++ {
		m.OnFrame([]byte{byte(i)}, false)
		if got := m.Session().BufferedFrames(); got > 10 {
			t.Fatalf("buffer grew to %d frames while idle", got)
		}
	}
	if got := m.Session().BufferedFrames(); got != 10 {
		t.Fatalf("expected buffer trimmed to 10, got %d", got)
	}
}

func TestManualModeTrustsStickyFlag(t *testing.T) {
	m, _, _, emitted := newTestMachine(t, protocol.ListenModeManual, config.WakeConfig{})
	m.Start("")
	// Local detection says silence, but manual mode trusts the client's
	// declared voice state, so frames accumulate past the idle limit.
	for i := 0; i < 20; i++ {
		m.OnFrame([]byte{byte(i)}, false)
	}
	if got := m.Session().BufferedFrames(); got != 20 {
		t.Fatalf("expected 20 buffered frames, got %d", got)
	}
	m.Stop()
	if len(*emitted) != 1 {
		t.Fatalf("expected one utterance, got %d", len(*emitted))
	}
	if got := len((*emitted)[0].Frames); got != 20 {
		t.Fatalf("expected 20 frames in snapshot, got %d", got)
	}
}

func TestStopWithEmptyBufferEmitsNothing(t *testing.T) {
	m, _, _, emitted := newTestMachine(t, protocol.ListenModeAuto, config.WakeConfig{})
	m.Start("")
	m.Stop()
	if len(*emitted) != 0 {
		t.Fatalf("expected no utterance, got %d", len(*emitted))
	}
	if m.Session().VoiceStopped {
		t.Fatal("expected voice-stopped flag reset after finalize attempt")
	}
}

func TestShortSnapshotDiscarded(t *testing.T) {
	m, _, _, emitted := newTestMachine(t, protocol.ListenModeAuto, config.WakeConfig{})
	m.Start("")
	for i := 0; i < 5; i++ {
		m.OnFrame([]byte{byte(i)}, true)
	}
	m.Stop()
	if len(*emitted) != 0 {
		t.Fatalf("expected short snapshot discarded, got %d utterances", len(*emitted))
	}
	if got := m.Session().BufferedFrames(); got != 0 {
		t.Fatalf("expected buffer cleared, got %d frames", got)
	}
}

func TestFinalizeSnapshotsAndClears(t *testing.T) {
	m, _, _, emitted := newTestMachine(t, protocol.ListenModeAuto, config.WakeConfig{})
	m.Start("")
	for i := 0; i < 8; i++ {
		m.OnFrame([]byte{byte(i)}, true)
	}
	m.PushPartial("hello")
	m.PushPartial("hello")
	m.PushPartial("hello world")
	m.Stop()

	if len(*emitted) != 1 {
		t.Fatalf("expected one utterance, got %d", len(*emitted))
	}
	utt := (*emitted)[0]
	if len(utt.Frames) != 8 {
		t.Fatalf("expected 8 frames, got %d", len(utt.Frames))
	}
	if utt.ID == "" || utt.SessionID != "session-1" {
		t.Fatalf("unexpected utterance identity: %+v", utt)
	}
	if len(utt.Partials) != 2 {
		t.Fatalf("expected deduplicated partial log of 2, got %v", utt.Partials)
	}
	if m.Session().BufferedFrames() != 0 {
		t.Fatal("expected live buffer cleared after snapshot")
	}

	// The next utterance starts clean.
	m.Start("")
	for i := 0; i < 6; i++ {
		m.OnFrame([]byte{byte(i)}, true)
	}
	m.Stop()
	if len(*emitted) != 2 {
		t.Fatalf("expected second utterance, got %d", len(*emitted))
	}
	if got := len((*emitted)[1].Frames); got != 6 {
		t.Fatalf("expected 6 frames in second snapshot, got %d", got)
	}
}

func TestStartModeOverride(t *testing.T) {
	m, _, _, _ := newTestMachine(t, protocol.ListenModeAuto, config.WakeConfig{})
	m.Start(protocol.ListenModeManual)
	if m.Session().Mode != protocol.ListenModeManual {
		t.Fatalf("expected mode override, got %s", m.Session().Mode)
	}
	m.Start("")
	if m.Session().Mode != protocol.ListenModeManual {
		t.Fatal("expected empty mode to leave override in place")
	}
}

func TestDetectClearsBufferAndForwardsText(t *testing.T) {
	m, deliver, _, _ := newTestMachine(t, protocol.ListenModeAuto, config.WakeConfig{})
	m.Start("")
	for i := 0; i < 8; i++ {
		m.OnFrame([]byte{byte(i)}, true)
	}
	m.Detect(context.Background(), "turn on the lights")
	if m.Session().BufferedFrames() != 0 {
		t.Fatal("expected buffer cleared by detect")
	}
	if m.Session().VoicePresent {
		t.Fatal("expected voice-present cleared by detect")
	}
	if len(deliver.calls) != 1 || deliver.calls[0] != "turn on the lights" {
		t.Fatalf("expected literal text dispatched, got %v", deliver.calls)
	}
}

func TestDetectWakePhraseGreetingDisabled(t *testing.T) {
	wake := config.WakeConfig{Phrases: []string{"嘿，你好呀"}, EnableGreeting: false, GreetingText: "嘿，你好呀"}
	m, deliver, notifier, _ := newTestMachine(t, protocol.ListenModeAuto, wake)
	m.Detect(context.Background(), "嘿，你好呀")
	if len(deliver.calls) != 0 {
		t.Fatalf("expected no chat dispatch, got %v", deliver.calls)
	}
	if len(notifier.notices) != 1 || notifier.notices[0] != "嘿，你好呀" {
		t.Fatalf("expected speech notice echo, got %v", notifier.notices)
	}
	if notifier.stops != 1 {
		t.Fatalf("expected one synthesis stop, got %d", notifier.stops)
	}
}

func TestDetectWakePhraseGreetingEnabled(t *testing.T) {
	wake := config.WakeConfig{Phrases: []string{"嘿，你好呀"}, EnableGreeting: true, GreetingText: "嘿，你好呀"}
	m, deliver, notifier, _ := newTestMachine(t, protocol.ListenModeAuto, wake)
	m.Detect(context.Background(), "嘿!你好呀")
	if len(deliver.calls) != 1 || deliver.calls[0] != "嘿，你好呀" {
		t.Fatalf("expected canned greeting dispatched, got %v", deliver.calls)
	}
	if len(notifier.notices) != 0 || notifier.stops != 0 {
		t.Fatal("expected no suppression path calls")
	}
}

func TestDetectEmptyTextOnlyClearsState(t *testing.T) {
	m, deliver, notifier, _ := newTestMachine(t, protocol.ListenModeAuto, config.WakeConfig{})
	m.Detect(context.Background(), "")
	if len(deliver.calls) != 0 || len(notifier.notices) != 0 {
		t.Fatal("expected no dispatch for empty detect text")
	}
}
