package protocol

import "time"

// ListenState is a control-channel state transition requested by a device.
type ListenState string

const (
	ListenStateStart  ListenState = "start"
	ListenStateStop   ListenState = "stop"
	ListenStateDetect ListenState = "detect"
)

// ListenMode selects how voice presence is decided for incoming frames.
type ListenMode string

const (
	ListenModeAuto     ListenMode = "auto"
	ListenModeManual   ListenMode = "manual"
	ListenModeRealtime ListenMode = "realtime"
)

// AudioFormat identifies the encoding of buffered audio frames.
type AudioFormat string

const (
	AudioFormatOpus AudioFormat = "opus"
	AudioFormatPCM  AudioFormat = "pcm"
)

// ControlMessage is one listen control event from a connected device.
type ControlMessage struct {
	SessionID string      `json:"session_id"`
	State     ListenState `json:"state"`
	Mode      ListenMode  `json:"mode,omitempty"`
	Text      string      `json:"text,omitempty"`
}

// AudioFrame carries one raw audio frame plus the transport-side voice
// detection flag. Frames are sequenced relative to control messages by
// arrival order on the session's subjects.
type AudioFrame struct {
	SessionID string      `json:"session_id"`
	Sequence  int         `json:"sequence"`
	Format    AudioFormat `json:"format"`
	Payload   []byte      `json:"payload"`
	HasVoice  bool        `json:"has_voice"`
}

// SpeechNotice echoes recognized (or client-supplied) text back to the
// device for display.
type SpeechNotice struct {
	SessionID string    `json:"session_id"`
	Text      string    `json:"text"`
	Partial   bool      `json:"partial,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SynthCommand instructs the device-facing synthesis path. Only the stop
// state is issued by the session engine.
type SynthCommand struct {
	SessionID string `json:"session_id"`
	State     string `json:"state"`
}

// ChatDispatch hands a finalized enhanced transcript to the downstream
// conversational engine.
type ChatDispatch struct {
	SessionID string    `json:"session_id"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectControlPrefix = "listen.control"
	SubjectAudioPrefix   = "listen.audio"
	SubjectSpeechNotice  = "speech.notice"
	SubjectSynthCommand  = "synth.command"
	SubjectChatDispatch  = "chat.dispatch"
)
