package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/voxlabs/vox-core/internal/asr"
	"github.com/voxlabs/vox-core/internal/audio"
	"github.com/voxlabs/vox-core/internal/bus"
	"github.com/voxlabs/vox-core/internal/config"
	"github.com/voxlabs/vox-core/internal/listen"
	"github.com/voxlabs/vox-core/internal/protocol"
	"github.com/voxlabs/vox-core/internal/report"
)

// Notifier is the device-facing side of the sink that the gateway and the
// listen machines share.
type Notifier interface {
	listen.Deliverer
	listen.DeviceNotifier
}

// Service owns the per-session listen machines. Control and audio
// messages arrive on the bus; finalized utterances are queued per session
// and handed to the orchestrator one at a time, so a session's
// transcripts are delivered in the order its utterances ended.
type Service struct {
	cfg      config.Config
	bus      *bus.Client
	orch     *asr.Orchestrator
	notifier Notifier
	streamer asr.Streamer
	decoder  *audio.FrameDecoder
	store    *report.Store
	logger   *slog.Logger

	subControl *nats.Subscription
	subAudio   *nats.Subscription

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*sessionEntry
}

// finalizeQueueDepth bounds how many finished utterances a single session
// can have waiting on the orchestrator before new ones are dropped.
const finalizeQueueDepth = 8

const sessionIdleTimeout = 10 * time.Minute

type sessionEntry struct {
	mu         sync.Mutex
	machine    *listen.Machine
	stream     asr.Stream
	decoder    *audio.StreamDecoder
	finalizeCh chan listen.Utterance
	closed     bool
}

func NewService(parent context.Context, cfg config.Config, busClient *bus.Client, orch *asr.Orchestrator, notifier Notifier, streamer asr.Streamer, store *report.Store, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:      cfg,
		bus:      busClient,
		orch:     orch,
		notifier: notifier,
		streamer: streamer,
		decoder:  audio.NewFrameDecoder(cfg.ASR.SampleRate, cfg.ASR.Channels, logger),
		store:    store,
		logger:   logger.With(slog.String("component", "gateway")),
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*sessionEntry),
	}
}

func (s *Service) Start() error {
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectControlPrefix+".>", s.handleControl)
	if err != nil {
		return err
	}
	s.subControl = sub

	subAudio, err := s.bus.Conn().Subscribe(protocol.SubjectAudioPrefix+".>", s.handleAudio)
	if err != nil {
		s.subControl.Drain()
		return err
	}
	s.subAudio = subAudio

	s.wg.Add(1)
	go s.reapLoop()
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.subControl != nil {
		_ = s.subControl.Drain()
	}
	if s.subAudio != nil {
		_ = s.subAudio.Drain()
	}

	s.mu.Lock()
	for id, entry := range s.sessions {
		s.closeEntry(entry)
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return s.subControl != nil && s.subAudio != nil
}

// session returns the entry for id, creating the machine and its finalize
// consumer on first sight.
func (s *Service) session(id string, mode protocol.ListenMode, format protocol.AudioFormat) *sessionEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.sessions[id]; ok {
		return entry
	}

	entry := &sessionEntry{
		finalizeCh: make(chan listen.Utterance, finalizeQueueDepth),
	}
	emit := func(utt listen.Utterance) {
		entry.enqueue(utt, s.logger)
	}
	entry.machine = listen.NewMachine(
		listen.NewSession(id, mode, format),
		s.cfg.Listen, s.cfg.Wake,
		s.notifier, s.notifier, emit, s.logger)
	s.sessions[id] = entry

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for utt := range entry.finalizeCh {
			s.orch.Finalize(s.ctx, utt)
		}
	}()

	s.logger.Info("session opened",
		slog.String("session_id", id),
		slog.String("mode", string(mode)),
		slog.String("format", string(format)))
	return entry
}

func (e *sessionEntry) enqueue(utt listen.Utterance, logger *slog.Logger) {
	if e.closed {
		return
	}
	select {
	case e.finalizeCh <- utt:
	default:
		logger.Warn("finalize queue full, dropping utterance",
			slog.String("session_id", utt.SessionID),
			slog.Int("frames", len(utt.Frames)))
	}
}

func (s *Service) handleControl(msg *nats.Msg) {
	var ctl protocol.ControlMessage
	if err := json.Unmarshal(msg.Data, &ctl); err != nil {
		s.logger.Warn("failed to decode control message", slog.String("error", err.Error()))
		return
	}
	if ctl.SessionID == "" {
		s.logger.Warn("control message without session id")
		return
	}

	// The config default seeds a brand-new session only; an existing
	// session's mode changes just when the device supplies one.
	createMode := ctl.Mode
	if createMode == "" {
		createMode = protocol.ListenMode(s.cfg.Listen.DefaultMode)
	}
	entry := s.session(ctl.SessionID, createMode, protocol.AudioFormatOpus)
	entry.mu.Lock()
	defer entry.mu.Unlock()

	switch ctl.State {
	case protocol.ListenStateStart:
		entry.machine.Start(ctl.Mode)
		s.openStream(entry, ctl.SessionID)
		if s.store != nil {
			go s.recordSession(ctl.SessionID, string(entry.machine.Session().Mode))
		}
	case protocol.ListenStateStop:
		s.flushStream(entry, ctl.SessionID)
		entry.machine.Stop()
	case protocol.ListenStateDetect:
		entry.machine.Detect(s.ctx, ctl.Text)
	default:
		s.logger.Warn("unknown listen state",
			slog.String("session_id", ctl.SessionID),
			slog.String("state", string(ctl.State)))
	}
}

func (s *Service) handleAudio(msg *nats.Msg) {
	var frame protocol.AudioFrame
	if err := json.Unmarshal(msg.Data, &frame); err != nil {
		s.logger.Warn("failed to decode audio frame", slog.String("error", err.Error()))
		return
	}
	if frame.SessionID == "" || len(frame.Payload) == 0 {
		return
	}

	entry := s.session(frame.SessionID,
		protocol.ListenMode(s.cfg.Listen.DefaultMode), frame.Format)
	entry.mu.Lock()
	defer entry.mu.Unlock()

	entry.machine.Session().Format = frame.Format
	entry.machine.OnFrame(frame.Payload, frame.HasVoice)
	s.feedStream(entry, frame)
}

// openStream starts an incremental recognition pass when the configured
// backend supports it.
func (s *Service) openStream(entry *sessionEntry, sessionID string) {
	if s.streamer == nil || entry.stream != nil {
		return
	}
	stream, err := s.streamer.OpenStream(s.ctx, sessionID)
	if err != nil {
		s.logger.Warn("failed to open recognition stream, falling back to batch",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()))
		return
	}
	entry.stream = stream
	// One decoder per utterance: opus carries prediction state across
	// packets, so the stream's frames must share a decoder instance.
	entry.decoder = s.decoder.NewStream()
}

// feedStream forwards decoded PCM to the open recognition stream and
// turns its partial results into interim notices.
func (s *Service) feedStream(entry *sessionEntry, frame protocol.AudioFrame) {
	if entry.stream == nil {
		return
	}
	pcm, err := entry.decoder.DecodeFrame(frame.Payload, frame.Format)
	if err != nil {
		s.logger.Warn("opus decode error, skipping stream frame",
			slog.String("session_id", frame.SessionID),
			slog.String("error", err.Error()))
		return
	}
	if len(pcm) == 0 {
		return
	}
	partials, err := entry.stream.ProcessChunk(s.ctx, pcm, false)
	if err != nil {
		s.logger.Warn("recognition stream failed, falling back to batch",
			slog.String("session_id", frame.SessionID),
			slog.String("error", err.Error()))
		_ = entry.stream.Close()
		entry.stream = nil
		entry.decoder = nil
		return
	}
	s.pushPartials(entry, frame.SessionID, partials)
}

// flushStream forces the stream to produce its final segments before the
// machine snapshots the utterance, so the partial log is complete.
func (s *Service) flushStream(entry *sessionEntry, sessionID string) {
	if entry.stream == nil {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	partials, err := entry.stream.ProcessChunk(ctx, nil, true)
	if err != nil {
		s.logger.Warn("recognition stream flush failed",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()))
	}
	s.pushPartials(entry, sessionID, partials)
	_ = entry.stream.Close()
	entry.stream = nil
	entry.decoder = nil
}

func (s *Service) pushPartials(entry *sessionEntry, sessionID string, partials []string) {
	for _, text := range partials {
		entry.machine.PushPartial(text)
		if s.cfg.ASR.PublishInterim {
			if err := s.notifier.SpeechNotice(s.ctx, sessionID, text, true); err != nil {
				s.logger.Warn("failed to publish interim notice",
					slog.String("session_id", sessionID),
					slog.String("error", err.Error()))
			}
		}
	}
}

func (s *Service) recordSession(sessionID, mode string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.RecordSession(ctx, sessionID, mode); err != nil {
		s.logger.Warn("failed to record session",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()))
	}
}

// reapLoop drops sessions that have gone quiet so the session map does
// not grow without bound.
func (s *Service) reapLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.reapIdle()
		}
	}
}

func (s *Service) reapIdle() {
	cutoff := time.Now().Add(-sessionIdleTimeout)
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, entry := range s.sessions {
		entry.mu.Lock()
		idle := entry.machine.Session().LastActivity.Before(cutoff) &&
			entry.machine.Session().BufferedFrames() == 0
		entry.mu.Unlock()
		if !idle {
			continue
		}
		s.closeEntry(entry)
		delete(s.sessions, id)
		s.logger.Info("session reaped", slog.String("session_id", id))
	}
}

func (s *Service) closeEntry(entry *sessionEntry) {
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.closed {
		return
	}
	entry.closed = true
	if entry.stream != nil {
		_ = entry.stream.Close()
		entry.stream = nil
		entry.decoder = nil
	}
	close(entry.finalizeCh)
}
