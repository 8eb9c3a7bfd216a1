package relay

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/pairpad/pairpad/metric"
	"github.com/pairpad/pairpad/model"
)

// Relay fans frames out to room members. Each member is addressed by client
// identity and owns a bounded wire; enqueueing never blocks. A member whose
// buffer is full is treated as dead: its wire is closed, which its connection
// observes as a leave, and delivery to the rest of the room proceeds.
//
// Per-room frame order is the enqueue order. Callers that need fan-out order
// to match mutation order hold their room serialization across both.
type Relay struct {
	logger zerolog.Logger
	mx     sync.RWMutex
	rooms  map[string]*roomMembers
}

type roomMembers struct {
	mx      sync.Mutex
	members map[string]*member
}

type member struct {
	wire   model.Wire
	closed bool
}

func New(logger *zerolog.Logger) *Relay {
	return &Relay{
		logger: logger.With().Str("component", "relay").Logger(),
		rooms:  make(map[string]*roomMembers),
	}
}

// Connect registers a member's wire in the room.
func (rl *Relay) Connect(code, clientID string, wire model.Wire) {
	rl.mx.Lock()
	rm, ok := rl.rooms[code]
	if !ok {
		rm = &roomMembers{members: make(map[string]*member)}
		rl.rooms[code] = rm
	}
	rl.mx.Unlock()

	rm.mx.Lock()
	if prev, ok := rm.members[clientID]; ok && !prev.closed {
		// a reconnect raced the old connection's teardown
		close(prev.wire.TX)
		prev.closed = true
	}
	rm.members[clientID] = &member{wire: wire}
	rm.mx.Unlock()

	rl.logger.Debug().
		Str("roomCode", code).
		Str("clientID", clientID).
		Msg("member connected")
}

// Disconnect removes the member and closes its wire, but only while wire is
// still the one registered for the identity. It reports whether the caller
// still owned the seat: false means a newer connection for the same clientID
// superseded this wire, and the member table was left untouched. Idempotent.
func (rl *Relay) Disconnect(code, clientID string, wire model.Wire) bool {
	rm, ok := rl.room(code)
	if !ok {
		return true
	}

	rm.mx.Lock()
	m, ok := rm.members[clientID]
	if ok && m.wire != wire {
		rm.mx.Unlock()
		return false
	}
	if ok {
		if !m.closed {
			close(m.wire.TX)
			m.closed = true
		}
		delete(rm.members, clientID)
	}
	rm.mx.Unlock()

	rl.logger.Debug().
		Str("roomCode", code).
		Str("clientID", clientID).
		Msg("member disconnected")
	return true
}

// Broadcast enqueues the frame for every member of the room except
// excludeClientID. A failed enqueue evicts only that member.
func (rl *Relay) Broadcast(code string, frame model.Frame, excludeClientID string) {
	rm, ok := rl.room(code)
	if !ok {
		return
	}

	rm.mx.Lock()
	defer rm.mx.Unlock()

	var delivered bool
	for clientID, m := range rm.members {
		if clientID == excludeClientID || m.closed {
			continue
		}
		if rl.enqueue(m, frame) {
			delivered = true
		} else {
			delete(rm.members, clientID)
			rl.logger.Warn().
				Str("roomCode", code).
				Str("clientID", clientID).
				Str("type", frame.Type).
				Msg("member wire full, evicting")
		}
	}

	metric.FrameRelayed(frame.Type)
	if !delivered {
		rl.logger.Debug().
			Str("roomCode", code).
			Str("type", frame.Type).
			Msg("broadcast did not reach anyone")
	}
}

// CloseRoom pushes a final frame to every member best-effort, then closes all
// wires and forgets the room. Used by room expiry and deletion.
func (rl *Relay) CloseRoom(code string, frame model.Frame) {
	rl.mx.Lock()
	rm, ok := rl.rooms[code]
	if ok {
		delete(rl.rooms, code)
	}
	rl.mx.Unlock()
	if !ok {
		return
	}

	rm.mx.Lock()
	defer rm.mx.Unlock()

	for clientID, m := range rm.members {
		if !m.closed {
			// enqueue closes the wire itself when the buffer is full
			if rl.enqueue(m, frame) {
				close(m.wire.TX)
			}
			m.closed = true
		}
		delete(rm.members, clientID)
	}

	rl.logger.Debug().
		Str("roomCode", code).
		Msg("room closed")
}

// DropRoom forgets an emptied room's member table.
func (rl *Relay) DropRoom(code string) {
	rl.mx.Lock()
	defer rl.mx.Unlock()
	delete(rl.rooms, code)
}

// MemberCount reports how many wires are attached to the room.
func (rl *Relay) MemberCount(code string) int {
	rm, ok := rl.room(code)
	if !ok {
		return 0
	}
	rm.mx.Lock()
	defer rm.mx.Unlock()
	return len(rm.members)
}

func (rl *Relay) room(code string) (*roomMembers, bool) {
	rl.mx.RLock()
	defer rl.mx.RUnlock()
	rm, ok := rl.rooms[code]
	return rm, ok
}

// enqueue must be called with the room member mutex held. Returns false and
// closes the wire when the member's buffer is full.
func (rl *Relay) enqueue(m *member, frame model.Frame) bool {
	select {
	case m.wire.TX <- frame:
		return true
	default:
		close(m.wire.TX)
		m.closed = true
		return false
	}
}
