package service

import (
	"errors"

	"github.com/pairpad/pairpad/model"
)

// Session is one live websocket attachment to a room. The websocket server
// obtains it from Attach and calls back into it for every inbound frame.
type Session struct {
	svc *Service

	Room          string
	ClientID      string
	ParticipantID string
	Wire          model.Wire
}

// Attach seats the client (or re-seats it on rejoin), registers its wire with
// the relay and announces the join to the other member. The returned snapshot
// is what the connection unicasts as its STATE frame.
//
// Seat check-and-take and the JOINED fan-out happen under the room key lock,
// so two racing INITs cannot both claim the last seat.
func (svc *Service) Attach(code, clientID string, wire model.Wire) (*Session, model.Snapshot, error) {
	key := roomKey(code)

	unlock := svc.locks.lock(key)
	defer unlock()

	p, count, err := svc.store.Join(key, clientID)
	if err != nil {
		return nil, model.Snapshot{}, errors.Join(ErrAttach, err)
	}

	snap, err := svc.store.Snapshot(key)
	if err != nil {
		return nil, model.Snapshot{}, errors.Join(ErrAttach, err)
	}

	svc.relay.Connect(key, p.ClientID, wire)

	svc.relay.Broadcast(key, model.Frame{
		Type:             model.FrameParticipantJoined,
		ClientID:         p.ClientID,
		ParticipantCount: count,
	}, p.ClientID)

	svc.logger.Debug().
		Str("roomCode", key).
		Str("clientID", p.ClientID).
		Int("participants", count).
		Msg("session attached")

	return &Session{
		svc:           svc,
		Room:          key,
		ClientID:      p.ClientID,
		ParticipantID: p.ID,
		Wire:          wire,
	}, snap, nil
}

// Edit replaces the room document and fans the new text out to the other
// member as a PATCH carrying this session's identity, so receivers can
// suppress their own echo even across reconnects.
func (s *Session) Edit(document string) error {
	unlock := s.svc.locks.lock(s.Room)
	defer unlock()

	version, err := s.svc.store.ApplyEdit(s.Room, document)
	if err != nil {
		return errors.Join(ErrEdit, err)
	}

	doc := document
	s.svc.relay.Broadcast(s.Room, model.Frame{
		Type:     model.FramePatch,
		ClientID: s.ClientID,
		Code:     &doc,
		Version:  version,
	}, s.ClientID)
	return nil
}

// Cursor records the caret/selection and relays it. Last write wins; the
// server does not coalesce rapid updates, senders debounce.
func (s *Session) Cursor(pos *model.Position, sel *model.Selection) {
	unlock := s.svc.locks.lock(s.Room)
	defer unlock()

	s.svc.presence.Update(s.Room, s.ClientID, pos, sel)

	s.svc.relay.Broadcast(s.Room, model.Frame{
		Type:      model.FrameCursor,
		ClientID:  s.ClientID,
		Position:  pos,
		Selection: sel,
	}, s.ClientID)
}

// Detach releases the seat, clears presence and announces the departure.
// Safe to call once per session, for any close reason. An emptied room is
// reclaimed immediately.
//
// When a reconnect with the same identity has already re-taken the seat, the
// relay holds the newer connection's wire; this stale teardown must not touch
// the seat, the presence entry or the fresh wire.
func (s *Session) Detach() {
	unlock := s.svc.locks.lock(s.Room)
	defer unlock()

	if !s.svc.relay.Disconnect(s.Room, s.ClientID, s.Wire) {
		s.svc.logger.Debug().
			Str("roomCode", s.Room).
			Str("clientID", s.ClientID).
			Msg("session superseded by reconnect, seat kept")
		return
	}

	s.svc.presence.Clear(s.Room, s.ClientID)

	remaining, err := s.svc.store.Leave(s.Room, s.ParticipantID)
	if err != nil {
		// room already reclaimed
		return
	}

	if remaining == 0 {
		s.svc.reclaimLocked(s.Room)
		return
	}

	s.svc.relay.Broadcast(s.Room, model.Frame{
		Type:             model.FrameParticipantLeft,
		ClientID:         s.ClientID,
		ParticipantCount: remaining,
	}, s.ClientID)

	s.svc.logger.Debug().
		Str("roomCode", s.Room).
		Str("clientID", s.ClientID).
		Int("participants", remaining).
		Msg("session detached")
}
