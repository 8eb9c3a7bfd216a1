package memory

import (
	"strings"
	"sync"

	"github.com/pairpad/pairpad/model"
)

// PresenceTracker keeps per-room caret/selection state keyed by client
// identity. It never owns document content; entries are ephemeral and vanish
// with the participant or the room.
type PresenceTracker struct {
	mx    sync.RWMutex
	rooms map[string]map[string]model.Presence
}

func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{
		rooms: make(map[string]map[string]model.Presence),
	}
}

// Update replaces the prior entry unconditionally. Last write wins, same as
// the document convergence policy.
func (pt *PresenceTracker) Update(code, clientID string, pos *model.Position, sel *model.Selection) {
	code = strings.ToUpper(code)

	pt.mx.Lock()
	defer pt.mx.Unlock()

	room, ok := pt.rooms[code]
	if !ok {
		room = make(map[string]model.Presence)
		pt.rooms[code] = room
	}
	room[clientID] = model.Presence{Position: pos, Selection: sel}
}

// Get returns the presence entry for a client, if any.
func (pt *PresenceTracker) Get(code, clientID string) (model.Presence, bool) {
	pt.mx.RLock()
	defer pt.mx.RUnlock()

	p, ok := pt.rooms[strings.ToUpper(code)][clientID]
	return p, ok
}

// Clear drops all decoration state for a departed client so stale carets are
// never shown.
func (pt *PresenceTracker) Clear(code, clientID string) {
	code = strings.ToUpper(code)

	pt.mx.Lock()
	defer pt.mx.Unlock()

	if room, ok := pt.rooms[code]; ok {
		delete(room, clientID)
		if len(room) == 0 {
			delete(pt.rooms, code)
		}
	}
}

// DropRoom discards every entry for a deleted room.
func (pt *PresenceTracker) DropRoom(code string) {
	pt.mx.Lock()
	defer pt.mx.Unlock()
	delete(pt.rooms, strings.ToUpper(code))
}
