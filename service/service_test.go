package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/rs/zerolog"

	"github.com/pairpad/pairpad/executor"
	"github.com/pairpad/pairpad/model"
	"github.com/pairpad/pairpad/relay"
	"github.com/pairpad/pairpad/storage/memory"
)

func newTestService() *Service {
	logger := zerolog.Nop()
	return New(Config{
		Store:      memory.NewStore(memory.Config{}),
		Presence:   memory.NewPresenceTracker(),
		Relay:      relay.New(&logger),
		Logger:     &logger,
		WireBuffer: 16,
	})
}

func drain(w model.Wire) []model.Frame {
	var frames []model.Frame
	for {
		select {
		case f, ok := <-w.TX:
			if !ok {
				return frames
			}
			frames = append(frames, f)
		default:
			return frames
		}
	}
}

func TestAttachSeatsAndAnnounces(t *testing.T) {
	svc := newTestService()
	snap, _ := svc.CreateRoom(model.LanguagePython, "")

	aliceWire := svc.NewWire()
	_, aliceSnap, err := svc.Attach(snap.Code, "alice", aliceWire)
	if err != nil {
		t.Fatalf("attach alice: %v", err)
	}
	if aliceSnap.Document != snap.Document {
		t.Errorf("STATE snapshot mismatch:\n%s", spew.Sdump(aliceSnap))
	}

	bobWire := svc.NewWire()
	if _, _, err = svc.Attach(snap.Code, "bob", bobWire); err != nil {
		t.Fatalf("attach bob: %v", err)
	}

	frames := drain(aliceWire)
	if len(frames) != 1 || frames[0].Type != model.FrameParticipantJoined {
		t.Fatalf("expected one PARTICIPANT_JOINED at alice, got %s", spew.Sdump(frames))
	}
	if frames[0].ClientID != "bob" || frames[0].ParticipantCount != 2 {
		t.Errorf("unexpected join announcement %+v", frames[0])
	}

	// the joiner itself gets no broadcast, its snapshot is unicast
	if frames := drain(bobWire); len(frames) != 0 {
		t.Errorf("bob should see nothing yet, got %s", spew.Sdump(frames))
	}
}

func TestAttachRoomFull(t *testing.T) {
	svc := newTestService()
	snap, _ := svc.CreateRoom(model.LanguagePython, "")

	svc.Attach(snap.Code, "alice", svc.NewWire())
	svc.Attach(snap.Code, "bob", svc.NewWire())

	if _, _, err := svc.Attach(snap.Code, "carol", svc.NewWire()); !errors.Is(err, memory.ErrRoomIsFull) {
		t.Fatalf("expected ErrRoomIsFull, got %v", err)
	}
}

func TestEditFansOutPatchToOtherMember(t *testing.T) {
	svc := newTestService()
	snap, _ := svc.CreateRoom(model.LanguagePython, "")

	aliceWire := svc.NewWire()
	alice, _, _ := svc.Attach(snap.Code, "alice", aliceWire)
	bobWire := svc.NewWire()
	svc.Attach(snap.Code, "bob", bobWire)
	drain(aliceWire)

	if err := alice.Edit("x = 1"); err != nil {
		t.Fatalf("edit: %v", err)
	}

	frames := drain(bobWire)
	if len(frames) != 1 || frames[0].Type != model.FramePatch {
		t.Fatalf("expected one PATCH at bob, got %s", spew.Sdump(frames))
	}
	if *frames[0].Code != "x = 1" || frames[0].ClientID != "alice" || frames[0].Version != 1 {
		t.Errorf("unexpected PATCH %+v", frames[0])
	}

	// no echo back to the sender
	if frames := drain(aliceWire); len(frames) != 0 {
		t.Errorf("alice received her own edit: %s", spew.Sdump(frames))
	}

	got, _ := svc.RoomStatus(snap.Code)
	if got.Document != "x = 1" || got.Version != 1 {
		t.Errorf("store not updated: %q v%d", got.Document, got.Version)
	}
}

func TestCursorUpdatesPresenceAndRelays(t *testing.T) {
	svc := newTestService()
	snap, _ := svc.CreateRoom(model.LanguagePython, "")

	alice, _, _ := svc.Attach(snap.Code, "alice", svc.NewWire())
	bobWire := svc.NewWire()
	svc.Attach(snap.Code, "bob", bobWire)

	pos := &model.Position{Line: 2, Column: 5}
	alice.Cursor(pos, nil)

	frames := drain(bobWire)
	if len(frames) != 1 || frames[0].Type != model.FrameCursor {
		t.Fatalf("expected one CURSOR at bob, got %s", spew.Sdump(frames))
	}
	if frames[0].Position == nil || *frames[0].Position != *pos {
		t.Errorf("unexpected cursor frame %+v", frames[0])
	}
}

func TestDetachClearsPresenceAndAnnounces(t *testing.T) {
	svc := newTestService()
	snap, _ := svc.CreateRoom(model.LanguagePython, "")

	alice, _, _ := svc.Attach(snap.Code, "alice", svc.NewWire())
	bobWire := svc.NewWire()
	svc.Attach(snap.Code, "bob", bobWire)
	drain(bobWire)

	alice.Cursor(&model.Position{Line: 1, Column: 1}, nil)
	drain(bobWire)

	alice.Detach()

	if _, ok := svc.presence.Get(snap.Code, "alice"); ok {
		t.Error("presence should be cleared on detach")
	}

	frames := drain(bobWire)
	if len(frames) != 1 || frames[0].Type != model.FrameParticipantLeft {
		t.Fatalf("expected one PARTICIPANT_LEFT, got %s", spew.Sdump(frames))
	}
	if frames[0].ClientID != "alice" || frames[0].ParticipantCount != 1 {
		t.Errorf("unexpected leave announcement %+v", frames[0])
	}

	got, _ := svc.RoomStatus(snap.Code)
	if len(got.Participants) != 1 {
		t.Errorf("expected one seat left, got %d", len(got.Participants))
	}
}

func TestLastDetachReclaimsRoom(t *testing.T) {
	svc := newTestService()
	snap, _ := svc.CreateRoom(model.LanguagePython, "")

	alice, _, _ := svc.Attach(snap.Code, "alice", svc.NewWire())
	alice.Detach()

	if _, err := svc.RoomStatus(snap.Code); !errors.Is(err, memory.ErrRoomNotFound) {
		t.Fatalf("expected the emptied room reclaimed, got %v", err)
	}
}

func TestRejoinAfterReconnect(t *testing.T) {
	svc := newTestService()
	snap, _ := svc.CreateRoom(model.LanguagePython, "")

	first, _, _ := svc.Attach(snap.Code, "alice", svc.NewWire())
	svc.Attach(snap.Code, "bob", svc.NewWire())

	// alice reconnects while the room is full; same identity, same seat
	again, _, err := svc.Attach(snap.Code, "alice", svc.NewWire())
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if again.ParticipantID != first.ParticipantID {
		t.Errorf("rejoin moved seats: %s != %s", again.ParticipantID, first.ParticipantID)
	}
}

func TestStaleDetachAfterRejoinKeepsSeat(t *testing.T) {
	svc := newTestService()
	snap, _ := svc.CreateRoom(model.LanguagePython, "")

	staleWire := svc.NewWire()
	stale, _, _ := svc.Attach(snap.Code, "alice", staleWire)

	freshWire := svc.NewWire()
	fresh, _, err := svc.Attach(snap.Code, "alice", freshWire)
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	fresh.Cursor(&model.Position{Line: 2, Column: 3}, nil)

	// the old connection's sender observes its closed wire and tears down
	// after the reconnect already re-took the seat
	stale.Detach()

	got, err := svc.RoomStatus(snap.Code)
	if err != nil {
		t.Fatalf("room vanished after rejoin: %v", err)
	}
	if len(got.Participants) != 1 || got.Participants[0].ID != fresh.ParticipantID {
		t.Fatalf("stale detach disturbed the seat: %s", spew.Sdump(got.Participants))
	}
	if _, ok := svc.presence.Get(snap.Code, "alice"); !ok {
		t.Error("stale detach cleared the fresh session's presence")
	}

	// the fresh wire must remain usable
	select {
	case _, ok := <-freshWire.TX:
		if !ok {
			t.Fatal("stale detach closed the fresh wire")
		}
	default:
	}

	// the fresh session's own detach still releases everything
	fresh.Detach()
	if _, err := svc.RoomStatus(snap.Code); !errors.Is(err, memory.ErrRoomNotFound) {
		t.Fatalf("expected the emptied room reclaimed, got %v", err)
	}
}

func TestExpireRoomsTearsDownConnections(t *testing.T) {
	logger := zerolog.Nop()
	// a clock far from wall time, so the sweep only works if it reads the
	// store's injected clock
	clock := time.Date(2030, time.June, 1, 12, 0, 0, 0, time.UTC)
	st := memory.NewStore(memory.Config{
		Now: func() time.Time { return clock },
	})
	svc := New(Config{
		Store:      st,
		Presence:   memory.NewPresenceTracker(),
		Relay:      relay.New(&logger),
		Logger:     &logger,
		WireBuffer: 16,
	})

	fresh, _ := svc.CreateRoom(model.LanguagePython, "")

	// the second room is created in the past, already past its 24h TTL
	// once the clock returns to the present
	clock = clock.Add(-25 * time.Hour)
	stale, _ := svc.CreateRoom(model.LanguagePython, "")
	clock = clock.Add(25 * time.Hour)

	aliceWire := svc.NewWire()
	svc.Attach(stale.Code, "alice", aliceWire)
	drain(aliceWire)

	svc.expireRooms()

	if _, err := svc.RoomStatus(stale.Code); !errors.Is(err, memory.ErrRoomNotFound) {
		t.Fatalf("expected expired room gone, got %v", err)
	}
	if _, err := svc.RoomStatus(fresh.Code); err != nil {
		t.Fatalf("fresh room should survive the sweep: %v", err)
	}

	frame, ok := <-aliceWire.TX
	if !ok || frame.Type != model.FrameError {
		t.Fatalf("expected a final ERROR frame, got ok=%v frame=%+v", ok, frame)
	}
	if _, ok = <-aliceWire.TX; ok {
		t.Error("wire should be closed after expiry")
	}
}

func TestRunCodeDefaultsToRoomDocument(t *testing.T) {
	svc := newTestService()
	svc.runner = recordingRunner{t: t, wantCode: "x = 1", wantLanguage: model.LanguagePython}

	snap, _ := svc.CreateRoom(model.LanguagePython, "x = 1")

	res, err := svc.RunCode(context.Background(), snap.Code, executor.Request{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Stdout != "ok" {
		t.Errorf("unexpected result %+v", res)
	}
}

type recordingRunner struct {
	t            *testing.T
	wantCode     string
	wantLanguage string
}

func (r recordingRunner) Run(_ context.Context, req executor.Request) (executor.Result, error) {
	if req.Code != r.wantCode {
		r.t.Errorf("expected code %q, got %q", r.wantCode, req.Code)
	}
	if req.Language != r.wantLanguage {
		r.t.Errorf("expected language %q, got %q", r.wantLanguage, req.Language)
	}
	return executor.Result{Stdout: "ok"}, nil
}
