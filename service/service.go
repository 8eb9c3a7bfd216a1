package service

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/pairpad/pairpad/executor"
	"github.com/pairpad/pairpad/metric"
	"github.com/pairpad/pairpad/model"
	"github.com/pairpad/pairpad/relay"
	"github.com/pairpad/pairpad/storage/memory"
)

var (
	ErrCreate = errors.New("unable to create room")
	ErrJoin   = errors.New("unable to join room")
	ErrAttach = errors.New("unable to attach session")
	ErrEdit   = errors.New("unable to apply edit")
	ErrRun    = errors.New("unable to run code")
)

// Service orchestrates the room store, presence tracker and relay. Every
// mutation of a room and the broadcast it produces happen under that room's
// key lock, so fan-out order always matches mutation order. Different rooms
// proceed in parallel.
type Service struct {
	store    *memory.Store
	presence *memory.PresenceTracker
	relay    *relay.Relay
	runner   executor.Runner
	logger   zerolog.Logger

	locks      keyedLocks
	wireBuffer int
}

type Config struct {
	Store      *memory.Store
	Presence   *memory.PresenceTracker
	Relay      *relay.Relay
	Runner     executor.Runner
	Logger     *zerolog.Logger
	WireBuffer int
}

const defaultWireBuffer = 256

func New(cfg Config) *Service {
	svc := &Service{
		store:      cfg.Store,
		presence:   cfg.Presence,
		relay:      cfg.Relay,
		runner:     cfg.Runner,
		logger:     cfg.Logger.With().Str("component", "service").Logger(),
		wireBuffer: cfg.WireBuffer,
	}
	if svc.runner == nil {
		svc.runner = executor.NopRunner{}
	}
	if svc.wireBuffer <= 0 {
		svc.wireBuffer = defaultWireBuffer
	}
	return svc
}

// CreateRoom allocates a fresh room. The creator is seated later, when it
// joins over REST or connects its websocket, because its identity is only
// known then.
func (svc *Service) CreateRoom(language, initialCode string) (model.Snapshot, error) {
	snap, err := svc.store.Create(language, initialCode)
	if err != nil {
		return model.Snapshot{}, errors.Join(ErrCreate, err)
	}
	metric.SetActiveRooms(svc.store.Count())
	svc.logger.Info().
		Str("roomCode", snap.Code).
		Str("language", snap.Language).
		Msg("room created")
	return snap, nil
}

// RoomStatus reads the live store state, uncached.
func (svc *Service) RoomStatus(code string) (model.Snapshot, error) {
	return svc.store.Snapshot(code)
}

// JoinRoom seats a participant over REST. The websocket connection attaches
// separately; until then the seat has no live connection.
func (svc *Service) JoinRoom(code, clientID string) (model.Participant, model.Snapshot, error) {
	unlock := svc.locks.lock(roomKey(code))
	defer unlock()

	p, _, err := svc.store.Join(code, clientID)
	if err != nil {
		return model.Participant{}, model.Snapshot{}, errors.Join(ErrJoin, err)
	}
	snap, err := svc.store.Snapshot(code)
	if err != nil {
		return model.Participant{}, model.Snapshot{}, errors.Join(ErrJoin, err)
	}
	svc.logger.Debug().
		Str("roomCode", snap.Code).
		Str("clientID", p.ClientID).
		Msg("participant joined room")
	return p, snap, nil
}

// LeaveRoom removes a participant. Idempotent; leaving an unknown seat is a
// no-op. An emptied room is reclaimed immediately.
func (svc *Service) LeaveRoom(code, participantID string) (int, error) {
	unlock := svc.locks.lock(roomKey(code))
	defer unlock()

	// presence is keyed by client identity, resolve it before the seat goes
	if snap, err := svc.store.Snapshot(code); err == nil {
		for _, p := range snap.Participants {
			if p.ID == participantID || p.ClientID == participantID {
				svc.presence.Clear(code, p.ClientID)
				break
			}
		}
	}

	remaining, err := svc.store.Leave(code, participantID)
	if err != nil {
		return 0, err
	}
	if remaining == 0 {
		svc.reclaimLocked(roomKey(code))
	}
	return remaining, nil
}

// DeleteRoom tears down all attached connections and removes the room.
func (svc *Service) DeleteRoom(code string) error {
	key := roomKey(code)

	unlock := svc.locks.lock(key)
	defer unlock()

	if _, err := svc.store.Snapshot(code); err != nil {
		return err
	}
	svc.relay.CloseRoom(key, model.ErrorFrame("room deleted"))
	svc.reclaimLocked(key)
	svc.logger.Info().Str("roomCode", key).Msg("room deleted")
	return nil
}

// ListRooms sweeps expired rooms first, then snapshots the rest.
func (svc *Service) ListRooms() []model.Snapshot {
	svc.expireRooms()
	return svc.store.List()
}

// RunCode forwards the document to the execution sandbox. An empty code body
// runs the room's current document.
func (svc *Service) RunCode(ctx context.Context, code string, req executor.Request) (executor.Result, error) {
	snap, err := svc.store.Snapshot(code)
	if err != nil {
		return executor.Result{}, err
	}
	if req.Code == "" {
		req.Code = snap.Document
	}
	if req.Language == "" {
		req.Language = snap.Language
	}

	res, err := svc.runner.Run(ctx, req)
	if err != nil {
		return executor.Result{}, errors.Join(ErrRun, err)
	}
	return res, nil
}

// NewWire allocates an outbound wire with the configured bounded buffer.
func (svc *Service) NewWire() model.Wire {
	return model.NewWire(svc.wireBuffer)
}

// MaxParticipants exposes the store's seat cap for status responses.
func (svc *Service) MaxParticipants() int {
	return svc.store.MaxParticipants()
}

// reclaimLocked removes every trace of a room. Caller holds the room key lock.
func (svc *Service) reclaimLocked(key string) {
	svc.store.Remove(key)
	svc.presence.DropRoom(key)
	svc.relay.DropRoom(key)
	metric.SetActiveRooms(svc.store.Count())
}

func roomKey(code string) string {
	return strings.ToUpper(code)
}
