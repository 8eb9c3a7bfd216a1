package model

import "time"

// Languages a room can be created with.
const (
	LanguagePython     = "python"
	LanguageCPP        = "cpp"
	LanguageJavaScript = "javascript"
	LanguageGo         = "go"
)

var languageTemplates = map[string]string{
	LanguagePython: "def solution():\n    # Write your code here\n    pass\n\n# Test your solution\nif __name__ == '__main__':\n    result = solution()\n    print(result)",
}

const defaultTemplate = "# Start coding here"

// KnownLanguage reports whether lang is one of the supported room languages.
func KnownLanguage(lang string) bool {
	switch lang {
	case LanguagePython, LanguageCPP, LanguageJavaScript, LanguageGo:
		return true
	}
	return false
}

// Template returns the starter document for a language.
func Template(language string) string {
	if t, ok := languageTemplates[language]; ok {
		return t
	}
	return defaultTemplate
}

// Participant roles. The first seat taken in a room is the owner.
const (
	RoleOwner       = "owner"
	RoleParticipant = "participant"
)

type Participant struct {
	ID       string    `json:"id"`
	ClientID string    `json:"client_id"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

// Snapshot is a point-in-time copy of a room's state. The document is always
// complete text, never a diff.
type Snapshot struct {
	ID              string        `json:"room_id"`
	Code            string        `json:"room_code"`
	Language        string        `json:"language"`
	Document        string        `json:"document"`
	Version         int64         `json:"version"`
	Participants    []Participant `json:"participants"`
	MaxParticipants int           `json:"max_participants"`
	CreatedAt       time.Time     `json:"created_at"`
	ExpiresAt       time.Time     `json:"expires_at"`
}

// Position is a caret location. Line and Column are 1-based, editor style.
type Position struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Selection is a range between two positions. Start == End means caret only.
type Selection struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Presence is a participant's transient caret/selection state. It is kept
// apart from document state and discarded on leave.
type Presence struct {
	Position  *Position  `json:"position,omitempty"`
	Selection *Selection `json:"selection,omitempty"`
}

// Wire is the outbound half of a room member's connection as seen by the
// relay. Frames are enqueued into TX by the relay and drained by the
// connection's sender. The relay alone closes TX.
type Wire struct {
	TX chan Frame
}

func NewWire(buffer int) Wire {
	return Wire{
		TX: make(chan Frame, buffer),
	}
}
