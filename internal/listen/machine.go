package listen

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/voxlabs/vox-core/internal/config"
	"github.com/voxlabs/vox-core/internal/protocol"
)

// Deliverer receives finalized transcript text. Detect-supplied text takes
// this path directly, bypassing recognition.
type Deliverer interface {
	Deliver(ctx context.Context, sessionID, transcript string, audio [][]byte) error
}

// DeviceNotifier echoes text to the device and controls its synthesis path.
type DeviceNotifier interface {
	SpeechNotice(ctx context.Context, sessionID, text string, partial bool) error
	StopSynthesis(ctx context.Context, sessionID string) error
}

// Machine drives one session's listen state: voice gating, the rolling
// audio buffer, finalize triggering and the detect/wake-phrase path.
// All methods must be called from the session's single handling goroutine.
type Machine struct {
	cfg      config.ListenConfig
	wakeCfg  config.WakeConfig
	wake     *WakeMatcher
	sess     *Session
	deliver  Deliverer
	notifier DeviceNotifier
	emit     func(Utterance)
	logger   *slog.Logger
	clock    func() time.Time
}

func NewMachine(sess *Session, cfg config.ListenConfig, wakeCfg config.WakeConfig, deliver Deliverer, notifier DeviceNotifier, emit func(Utterance), logger *slog.Logger) *Machine {
	return &Machine{
		cfg:      cfg,
		wakeCfg:  wakeCfg,
		wake:     NewWakeMatcher(wakeCfg.Phrases),
		sess:     sess,
		deliver:  deliver,
		notifier: notifier,
		emit:     emit,
		logger:   logger.With(slog.String("component", "listen"), slog.String("session_id", sess.ID)),
		clock:    time.Now,
	}
}

// Session exposes the machine's session state for its owner.
func (m *Machine) Session() *Session {
	return m.sess
}

// Start opens a listening period. A non-empty mode overrides the session's
// listen mode for subsequent frames.
func (m *Machine) Start(mode protocol.ListenMode) {
	if mode != "" {
		m.sess.Mode = mode
		m.logger.Debug("listen mode set", slog.String("mode", string(mode)))
	}
	m.sess.VoicePresent = true
	m.sess.VoiceStopped = false
	m.sess.LastActivity = m.clock()
	m.logger.Info("listen started")
}

// OnFrame appends one raw frame to the rolling buffer and applies the
// voice-gating rule. hasVoice is the transport-side detection flag; in
// manual mode the session's sticky flag wins instead.
func (m *Machine) OnFrame(frame []byte, hasVoice bool) {
	effective := hasVoice
	if m.sess.Mode != protocol.ListenModeAuto && m.sess.Mode != protocol.ListenModeRealtime {
		effective = m.sess.VoicePresent
	}

	m.sess.frames = append(m.sess.frames, frame)
	m.sess.LastActivity = m.clock()
	if !effective && !m.sess.VoicePresent {
		if keep := m.cfg.IdleKeepFrames; len(m.sess.frames) > keep {
			m.sess.frames = m.sess.frames[len(m.sess.frames)-keep:]
		}
		return
	}

	if m.sess.VoiceStopped {
		m.finalize()
	}
}

// Stop closes the listening period. The finalize attempt always runs, even
// on an empty buffer, guarding against the previous frame having already
// consumed the utterance.
func (m *Machine) Stop() {
	m.sess.VoicePresent = true
	m.sess.VoiceStopped = true
	if m.sess.BufferedFrames() == 0 {
		m.logger.Warn("listen stop with no buffered audio")
	}
	m.logger.Info("listen stopped, finalizing")
	m.finalize()
}

// PushPartial appends a streaming recognizer's partial transcript to the
// current utterance's log.
func (m *Machine) PushPartial(text string) {
	if text == "" {
		return
	}
	if n := len(m.sess.partials); n > 0 && m.sess.partials[n-1] == text {
		return
	}
	m.sess.partials = append(m.sess.partials, text)
}

// finalize snapshots the buffer into an Utterance and hands it to the
// emit callback. Snapshots at or below the minimum frame count are
// discarded: recognizing them would only transcribe VAD-truncated noise.
func (m *Machine) finalize() {
	if !m.sess.VoiceStopped {
		return
	}
	frames := m.sess.frames
	m.sess.frames = nil
	m.sess.VoicePresent = false
	m.sess.VoiceStopped = false

	partials := m.sess.partials
	m.sess.partials = nil

	if len(frames) <= m.cfg.MinUtteranceFrames {
		m.logger.Warn("utterance too short, discarding",
			slog.Int("frames", len(frames)),
			slog.Int("minimum", m.cfg.MinUtteranceFrames))
		return
	}

	estimated := time.Duration(len(frames)*m.cfg.FrameDurationMS) * time.Millisecond
	m.logger.Debug("utterance finalized",
		slog.Int("frames", len(frames)),
		slog.Duration("estimated_duration", estimated))

	m.emit(Utterance{
		ID:        uuid.NewString(),
		SessionID: m.sess.ID,
		Format:    m.sess.Format,
		Frames:    frames,
		Partials:  partials,
	})
}

// Detect handles the out-of-band text path: the buffer is cleared and, if
// text is supplied, it bypasses audio recognition entirely. A wake-phrase
// match either suppresses downstream chat (greetings disabled, replying
// with a speech echo plus a synthesis stop) or substitutes the canned
// greeting for the literal text.
func (m *Machine) Detect(ctx context.Context, text string) {
	m.sess.VoicePresent = false
	m.sess.frames = nil
	m.sess.partials = nil

	if text == "" {
		return
	}
	m.sess.LastActivity = m.clock()

	isWake := m.wake.Match(text)
	switch {
	case isWake && !m.wakeCfg.EnableGreeting:
		if err := m.notifier.SpeechNotice(ctx, m.sess.ID, text, false); err != nil {
			m.logger.Warn("speech notice failed", slog.String("error", err.Error()))
		}
		if err := m.notifier.StopSynthesis(ctx, m.sess.ID); err != nil {
			m.logger.Warn("synthesis stop failed", slog.String("error", err.Error()))
		}
	case isWake:
		if err := m.deliver.Deliver(ctx, m.sess.ID, m.wakeCfg.GreetingText, nil); err != nil {
			m.logger.Warn("greeting dispatch failed", slog.String("error", err.Error()))
		}
	default:
		if err := m.deliver.Deliver(ctx, m.sess.ID, text, nil); err != nil {
			m.logger.Warn("detect dispatch failed", slog.String("error", err.Error()))
		}
	}
}
