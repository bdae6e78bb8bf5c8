package asr

import (
	"context"
)

// Result captures recognition backend output.
type Result struct {
	Text       string
	Confidence float64
}

// Recognizer is the capability contract every recognition backend must
// satisfy: decode a finalized utterance's PCM into a transcript. A failed
// call is treated as an empty transcript by the orchestrator.
type Recognizer interface {
	SpeechToText(ctx context.Context, pcm []byte, sampleRate int, channels int) (Result, error)
}

// Stream consumes one utterance's audio incrementally and emits partial
// transcripts. Output must be monotonically extending so the stitcher's
// ordering assumption holds.
type Stream interface {
	ProcessChunk(ctx context.Context, frame []byte, final bool) ([]string, error)
	Close() error
}

// Streamer is the optional extension interface implemented by backends
// that support incremental recognition. Callers discover it with a type
// assertion on the Recognizer.
type Streamer interface {
	Recognizer
	OpenStream(ctx context.Context, sessionID string) (Stream, error)
}
