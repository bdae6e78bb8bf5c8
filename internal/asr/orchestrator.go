package asr

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/voxlabs/vox-core/internal/audio"
	"github.com/voxlabs/vox-core/internal/listen"
)

// Sink receives the finalized transcript along with the utterance audio.
type Sink interface {
	Deliver(ctx context.Context, sessionID, transcript string, frames [][]byte) error
}

// SpeakerIdentifier labels the speaker of an utterance from its WAV
// rendering. Implementations live in internal/voiceprint.
type SpeakerIdentifier interface {
	Identify(ctx context.Context, wavData []byte) (string, error)
}

// Orchestrator turns a finalized utterance into a delivered transcript.
// Recognition and speaker identification run concurrently under a shared
// deadline; each side degrades independently so a slow voiceprint service
// never blocks the conversation.
type Orchestrator struct {
	recognizer Recognizer
	identifier SpeakerIdentifier
	sink       Sink
	decoder    *audio.FrameDecoder
	pool       *Pool
	timeout    time.Duration
	sampleRate int
	channels   int
	logger     *slog.Logger

	finalized metric.Int64Counter
	dropped   metric.Int64Counter
	timeouts  metric.Int64Counter
}

type OrchestratorOptions struct {
	Recognizer Recognizer
	Identifier SpeakerIdentifier
	Sink       Sink
	Decoder    *audio.FrameDecoder
	Pool       *Pool
	Timeout    time.Duration
	SampleRate int
	Channels   int
	Logger     *slog.Logger
	Meter      metric.Meter
}

func NewOrchestrator(opts OrchestratorOptions) *Orchestrator {
	o := &Orchestrator{
		recognizer: opts.Recognizer,
		identifier: opts.Identifier,
		sink:       opts.Sink,
		decoder:    opts.Decoder,
		pool:       opts.Pool,
		timeout:    opts.Timeout,
		sampleRate: opts.SampleRate,
		channels:   opts.Channels,
		logger:     opts.Logger.With(slog.String("component", "orchestrator")),
	}
	if opts.Meter != nil {
		o.finalized, _ = opts.Meter.Int64Counter("vox.utterances.finalized")
		o.dropped, _ = opts.Meter.Int64Counter("vox.utterances.dropped")
		o.timeouts, _ = opts.Meter.Int64Counter("vox.finalize.timeouts")
	}
	return o
}

type speakerOutcome struct {
	name string
	err  error
}

// Finalize processes one utterance end to end. It never panics outward
// and delivers downstream at most once.
func (o *Orchestrator) Finalize(ctx context.Context, utt listen.Utterance) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("finalize panicked",
				slog.String("session_id", utt.SessionID),
				slog.Any("panic", r))
		}
	}()

	logger := o.logger.With(
		slog.String("session_id", utt.SessionID),
		slog.String("utterance_id", utt.ID))

	pcmFrames, err := o.decoder.DecodeFrames(utt.Frames, utt.Format)
	if err != nil {
		logger.Warn("audio decode failed", slog.String("error", err.Error()))
		o.drop(ctx, "decode_error")
		return
	}
	pcm := audio.Combine(pcmFrames)
	if len(pcm) == 0 {
		logger.Warn("utterance decoded to no audio")
		o.drop(ctx, "empty_audio")
		return
	}

	// The WAV rendering is only for the voiceprint service. If encoding
	// fails the speaker path is disabled and recognition proceeds alone.
	var wavData []byte
	if o.identifier != nil {
		wavData, err = audio.EncodeWAV(pcm, o.sampleRate, o.channels)
		if err != nil {
			logger.Warn("wav encode failed, skipping speaker identification",
				slog.String("error", err.Error()))
			wavData = nil
		}
	}

	taskCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	recCh := make(chan Result, 1)
	if len(utt.Partials) > 0 {
		// A streaming backend already produced incremental transcripts;
		// stitching them replaces a second full-audio pass.
		recCh <- Result{Text: Stitch(utt.Partials)}
	} else {
		o.pool.Submit(func() {
			res, err := o.recognizer.SpeechToText(taskCtx, pcm, o.sampleRate, o.channels)
			if err != nil {
				logger.Warn("speech recognition failed", slog.String("error", err.Error()))
				recCh <- Result{}
				return
			}
			recCh <- res
		})
	}

	var spkCh chan speakerOutcome
	if wavData != nil {
		spkCh = make(chan speakerOutcome, 1)
		wav := wavData
		o.pool.Submit(func() {
			name, err := o.identifier.Identify(taskCtx, wav)
			spkCh <- speakerOutcome{name: name, err: err}
		})
	}

	var transcript, speaker string
	deadline := time.After(o.timeout)
	recPending, spkPending := true, spkCh != nil
	for recPending || spkPending {
		select {
		case res := <-recCh:
			transcript = res.Text
			recPending = false
		case out := <-spkCh:
			if out.err != nil {
				logger.Warn("speaker identification failed", slog.String("error", out.err.Error()))
			} else {
				speaker = out.name
			}
			spkPending = false
		case <-deadline:
			// Grab anything that landed in the same instant, then give up
			// on whatever is still running.
			if recPending {
				select {
				case res := <-recCh:
					transcript = res.Text
				default:
				}
			}
			if spkPending {
				select {
				case out := <-spkCh:
					if out.err == nil {
						speaker = out.name
					}
				default:
				}
			}
			logger.Warn("finalize deadline exceeded",
				slog.Bool("recognition_pending", recPending),
				slog.Bool("speaker_pending", spkPending),
				slog.Duration("timeout", o.timeout))
			if o.timeouts != nil {
				o.timeouts.Add(ctx, 1)
			}
			recPending, spkPending = false, false
		}
	}

	if length, _ := listen.NormalizeText(transcript); length == 0 {
		logger.Info("discarding utterance with empty transcript",
			slog.Int("frames", len(utt.Frames)))
		o.drop(ctx, "empty_transcript")
		return
	}

	text := transcript
	if speaker != "" {
		text = buildSpeakerText(speaker, transcript)
	}

	logger.Info("utterance finalized",
		slog.String("transcript", transcript),
		slog.String("speaker", speaker),
		slog.Int("frames", len(utt.Frames)))
	if o.finalized != nil {
		o.finalized.Add(ctx, 1)
	}

	if err := o.sink.Deliver(ctx, utt.SessionID, text, utt.Frames); err != nil {
		logger.Error("transcript delivery failed", slog.String("error", err.Error()))
	}
}

func (o *Orchestrator) drop(ctx context.Context, reason string) {
	if o.dropped != nil {
		o.dropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	}
}

// buildSpeakerText folds the speaker label into the transcript payload so
// downstream consumers can address the speaker by name.
func buildSpeakerText(speaker, transcript string) string {
	enhanced, err := json.Marshal(map[string]string{
		"speaker": speaker,
		"content": transcript,
	})
	if err != nil {
		return transcript
	}
	return string(enhanced)
}
