package audio

import (
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/hraban/opus"
	"github.com/voxlabs/vox-core/internal/protocol"
)

// maxFrameSamples covers a 120ms opus frame, the longest the codec allows.
const maxFrameSamples = 5760

// FrameDecoder converts buffered utterance frames into linear PCM.
// PCM input passes through untouched; opus frames are decoded one by one
// and malformed packets are skipped rather than failing the utterance.
type FrameDecoder struct {
	sampleRate int
	channels   int
	logger     *slog.Logger
}

func NewFrameDecoder(sampleRate, channels int, logger *slog.Logger) *FrameDecoder {
	return &FrameDecoder{
		sampleRate: sampleRate,
		channels:   channels,
		logger:     logger.With(slog.String("component", "frame-decoder")),
	}
}

// NewStream returns a decoder that keeps codec state for one utterance.
// Opus prediction spans packets, so the same instance must decode every
// frame of an utterance in order.
func (d *FrameDecoder) NewStream() *StreamDecoder {
	return &StreamDecoder{sampleRate: d.sampleRate, channels: d.channels}
}

// DecodeFrames returns the per-frame PCM payloads for an utterance snapshot.
func (d *FrameDecoder) DecodeFrames(frames [][]byte, format protocol.AudioFormat) ([][]byte, error) {
	if format == protocol.AudioFormatPCM {
		return frames, nil
	}

	stream := d.NewStream()
	pcm := make([][]byte, 0, len(frames))
	for i, frame := range frames {
		out, err := stream.DecodeFrame(frame, format)
		if err != nil {
			d.logger.Warn("opus decode error, skipping frame",
				slog.Int("frame", i), slog.String("error", err.Error()))
			continue
		}
		if len(out) == 0 {
			continue
		}
		pcm = append(pcm, out)
	}
	return pcm, nil
}

// StreamDecoder decodes one utterance's frames incrementally, holding the
// opus decoder (and its inter-packet state) for the utterance's lifetime.
type StreamDecoder struct {
	sampleRate int
	channels   int
	dec        *opus.Decoder
	buf        []int16
}

// DecodeFrame converts one frame to 16-bit little-endian PCM. PCM frames
// pass through; empty input yields empty output.
func (s *StreamDecoder) DecodeFrame(frame []byte, format protocol.AudioFormat) ([]byte, error) {
	if format == protocol.AudioFormatPCM {
		return frame, nil
	}
	if len(frame) == 0 {
		return nil, nil
	}

	if s.dec == nil {
		dec, err := opus.NewDecoder(s.sampleRate, s.channels)
		if err != nil {
			return nil, fmt.Errorf("create opus decoder: %w", err)
		}
		s.dec = dec
		s.buf = make([]int16, maxFrameSamples*s.channels)
	}

	n, err := s.dec.Decode(frame, s.buf)
	if err != nil {
		return nil, fmt.Errorf("decode opus frame: %w", err)
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]byte, n*s.channels*2)
	for i := 0; i < n*s.channels; i++ {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s.buf[i]))
	}
	return out, nil
}

// Combine flattens per-frame PCM into one contiguous buffer.
func Combine(pcm [][]byte) []byte {
	total := 0
	for _, p := range pcm {
		total += len(p)
	}
	out := make([]byte, 0, total)
	for _, p := range pcm {
		out = append(out, p...)
	}
	return out
}
