package memory

import (
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pairpad/pairpad/model"
)

const (
	defaultMaxParticipants = 2
	defaultRoomTTL         = 24 * time.Hour

	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeLength   = 6

	// how many fresh codes we try before declaring the code space exhausted
	maxCodeAttempts = 64
)

var (
	ErrRoomIsFull        = errors.New("room is full")
	ErrRoomNotFound      = errors.New("room is not found")
	ErrCapacityExhausted = errors.New("room code space exhausted")
	ErrUnknownLanguage   = errors.New("unknown language")
)

// Store is the in-memory room table. The registry mutex guards only the map;
// each room carries its own mutex so rooms mutate independently.
type Store struct {
	mx              sync.RWMutex
	rooms           map[string]*room
	ttl             time.Duration
	maxParticipants int
	now             func() time.Time
}

type room struct {
	mx sync.Mutex

	id           string
	code         string
	language     string
	document     string
	version      int64
	createdAt    time.Time
	expiresAt    time.Time
	participants []model.Participant
}

type Config struct {
	RoomTTL         time.Duration
	MaxParticipants int
	Now             func() time.Time
}

func NewStore(cfg Config) *Store {
	st := &Store{
		rooms:           make(map[string]*room),
		ttl:             cfg.RoomTTL,
		maxParticipants: cfg.MaxParticipants,
		now:             cfg.Now,
	}
	if st.ttl <= 0 {
		st.ttl = defaultRoomTTL
	}
	if st.maxParticipants <= 0 {
		st.maxParticipants = defaultMaxParticipants
	}
	if st.now == nil {
		st.now = time.Now
	}
	return st
}

// Create allocates a room with a fresh unique code and a starter document.
// An empty language defaults to python, matching room creation over REST.
func (st *Store) Create(language, initialCode string) (model.Snapshot, error) {
	if language == "" {
		language = model.LanguagePython
	}
	if !model.KnownLanguage(language) {
		return model.Snapshot{}, ErrUnknownLanguage
	}

	doc := initialCode
	if doc == "" {
		doc = model.Template(language)
	}

	st.mx.Lock()
	defer st.mx.Unlock()

	code, err := st.freeCode()
	if err != nil {
		return model.Snapshot{}, err
	}

	now := st.now()
	r := &room{
		id:        uuid.NewString(),
		code:      code,
		language:  language,
		document:  doc,
		createdAt: now,
		expiresAt: now.Add(st.ttl),
	}
	st.rooms[code] = r
	return r.snapshot(st.maxParticipants), nil
}

// freeCode must be called with the registry mutex held.
func (st *Store) freeCode() (string, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code := randomCode()
		if _, taken := st.rooms[code]; !taken {
			return code, nil
		}
	}
	return "", ErrCapacityExhausted
}

func randomCode() string {
	var b strings.Builder
	b.Grow(codeLength)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := 0; i < codeLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand failure means the process is in a bad way
			panic(err)
		}
		b.WriteByte(codeAlphabet[n.Int64()])
	}
	return b.String()
}

func (st *Store) get(code string) (*room, bool) {
	st.mx.RLock()
	defer st.mx.RUnlock()
	r, ok := st.rooms[strings.ToUpper(code)]
	return r, ok
}

// Join seats clientID in the room, or returns the existing seat when the
// identity already holds one (rejoin after reconnect). An empty clientID gets
// a generated identity. Check-and-seat is atomic under the room mutex.
func (st *Store) Join(code, clientID string) (model.Participant, int, error) {
	r, ok := st.get(code)
	if !ok {
		return model.Participant{}, 0, ErrRoomNotFound
	}

	r.mx.Lock()
	defer r.mx.Unlock()

	if clientID != "" {
		for _, p := range r.participants {
			if p.ClientID == clientID {
				return p, len(r.participants), nil
			}
		}
	}

	if len(r.participants) >= st.maxParticipants {
		return model.Participant{}, len(r.participants), ErrRoomIsFull
	}

	p := model.Participant{
		ID:       uuid.NewString(),
		ClientID: clientID,
		Role:     model.RoleParticipant,
		JoinedAt: st.now(),
	}
	if p.ClientID == "" {
		p.ClientID = p.ID
	}
	if len(r.participants) == 0 {
		p.Role = model.RoleOwner
	}
	r.participants = append(r.participants, p)
	return p, len(r.participants), nil
}

// Leave removes the participant and reports the remaining seat count.
// Removing an absent participant is a no-op, not an error.
func (st *Store) Leave(code, participantID string) (int, error) {
	r, ok := st.get(code)
	if !ok {
		return 0, ErrRoomNotFound
	}

	r.mx.Lock()
	defer r.mx.Unlock()

	for i, p := range r.participants {
		if p.ID == participantID || p.ClientID == participantID {
			r.participants = append(r.participants[:i], r.participants[i+1:]...)
			break
		}
	}
	return len(r.participants), nil
}

// ApplyEdit replaces the whole document unconditionally and bumps the
// version. Last write wins; there is no merge.
func (st *Store) ApplyEdit(code, document string) (int64, error) {
	r, ok := st.get(code)
	if !ok {
		return 0, ErrRoomNotFound
	}

	r.mx.Lock()
	defer r.mx.Unlock()

	r.document = document
	r.version++
	return r.version, nil
}

func (st *Store) Snapshot(code string) (model.Snapshot, error) {
	r, ok := st.get(code)
	if !ok {
		return model.Snapshot{}, ErrRoomNotFound
	}

	r.mx.Lock()
	defer r.mx.Unlock()
	return r.snapshot(st.maxParticipants), nil
}

// Remove deletes the room. Idempotent.
func (st *Store) Remove(code string) {
	st.mx.Lock()
	defer st.mx.Unlock()
	delete(st.rooms, strings.ToUpper(code))
}

// List snapshots every room, for the admin endpoint.
func (st *Store) List() []model.Snapshot {
	st.mx.RLock()
	rooms := make([]*room, 0, len(st.rooms))
	for _, r := range st.rooms {
		rooms = append(rooms, r)
	}
	st.mx.RUnlock()

	snaps := make([]model.Snapshot, 0, len(rooms))
	for _, r := range rooms {
		r.mx.Lock()
		snaps = append(snaps, r.snapshot(st.maxParticipants))
		r.mx.Unlock()
	}
	return snaps
}

// Expired returns codes of rooms past their expiry at the given instant.
func (st *Store) Expired(now time.Time) []string {
	st.mx.RLock()
	defer st.mx.RUnlock()

	var codes []string
	for code, r := range st.rooms {
		if r.expiresAt.Before(now) {
			codes = append(codes, code)
		}
	}
	return codes
}

// Now reads the store's clock, real or injected.
func (st *Store) Now() time.Time {
	return st.now()
}

// Count reports the number of live rooms.
func (st *Store) Count() int {
	st.mx.RLock()
	defer st.mx.RUnlock()
	return len(st.rooms)
}

// MaxParticipants is the per-room seat cap.
func (st *Store) MaxParticipants() int {
	return st.maxParticipants
}

// snapshot must be called with the room mutex held.
func (r *room) snapshot(maxParticipants int) model.Snapshot {
	parts := make([]model.Participant, len(r.participants))
	copy(parts, r.participants)
	return model.Snapshot{
		ID:              r.id,
		Code:            r.code,
		Language:        r.language,
		Document:        r.document,
		Version:         r.version,
		Participants:    parts,
		MaxParticipants: maxParticipants,
		CreatedAt:       r.createdAt,
		ExpiresAt:       r.expiresAt,
	}
}
