package listen

import (
	"time"

	"github.com/voxlabs/vox-core/internal/protocol"
)

// Session holds the per-connection listening state. It is owned exclusively
// by the connection's handling goroutine; nothing here is safe for
// concurrent mutation.
type Session struct {
	ID           string
	Mode         protocol.ListenMode
	Format       protocol.AudioFormat
	VoicePresent bool
	VoiceStopped bool
	LastActivity time.Time

	frames   [][]byte
	partials []string
}

func NewSession(id string, mode protocol.ListenMode, format protocol.AudioFormat) *Session {
	return &Session{
		ID:     id,
		Mode:   mode,
		Format: format,
	}
}

// BufferedFrames reports the current rolling buffer length.
func (s *Session) BufferedFrames() int {
	return len(s.frames)
}

// Utterance is a finalized snapshot of a session's buffered audio, copied
// out so the live buffer can be reused for the next utterance immediately.
type Utterance struct {
	ID        string
	SessionID string
	Format    protocol.AudioFormat
	Frames    [][]byte
	// Partials holds the streaming recognizer's partial-transcript log for
	// this utterance, in production order. Empty for batch backends.
	Partials []string
}
