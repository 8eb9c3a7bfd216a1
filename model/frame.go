package model

// Frame types exchanged over a room websocket. JSON objects discriminated by
// the "type" field.
const (
	FrameInit              = "INIT"
	FrameState             = "STATE"
	FrameEdit              = "EDIT"
	FramePatch             = "PATCH"
	FrameCursor            = "CURSOR"
	FrameParticipantJoined = "PARTICIPANT_JOINED"
	FrameParticipantLeft   = "PARTICIPANT_LEFT"
	FrameError             = "ERROR"
	FramePing              = "PING"
	FramePong              = "PONG"
)

// Frame is the single wire envelope for every websocket message. Unused
// fields are omitted per frame type.
//
// Code carries the full document text (STATE, EDIT, PATCH), never a partial
// diff. The room code itself travels in the connection URL, not in frames.
type Frame struct {
	Type             string     `json:"type"`
	ClientID         string     `json:"clientId,omitempty"`
	ParticipantID    string     `json:"participantId,omitempty"`
	Code             *string    `json:"code,omitempty"`
	Version          int64      `json:"version,omitempty"`
	Language         string     `json:"language,omitempty"`
	Participants     int        `json:"participants,omitempty"`
	ParticipantCount int        `json:"participantCount,omitempty"`
	Position         *Position  `json:"position,omitempty"`
	Selection        *Selection `json:"selection,omitempty"`
	Message          string     `json:"message,omitempty"`
}

// ErrorFrame builds an ERROR frame with the given message.
func ErrorFrame(message string) Frame {
	return Frame{Type: FrameError, Message: message}
}

// StateFrame builds the STATE snapshot sent to a freshly initialized
// connection.
func StateFrame(snap Snapshot) Frame {
	doc := snap.Document
	return Frame{
		Type:         FrameState,
		Code:         &doc,
		Version:      snap.Version,
		Language:     snap.Language,
		Participants: len(snap.Participants),
	}
}
