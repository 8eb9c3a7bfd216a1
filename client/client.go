package client

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/pairpad/pairpad/model"
)

// ConnState is the reconnection state machine of a room session.
type ConnState int

const (
	StateConnecting ConnState = iota
	StateConnected
	StateDisconnected
	// StateClosed is terminal: either the user left, or the retry budget
	// ran out and the connection is lost for good.
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

var ErrClosed = errors.New("session is closed")

// Editor is the boundary to the local editable buffer. The UI widget behind
// it must call LocalEdit/LocalCursor from its change handlers; the session
// mutates it only through this interface.
type Editor interface {
	Text() string
	SetText(string)
	Selection() (model.Selection, bool)
	Select(model.Selection)
}

const (
	defaultEditDebounce   = 30 * time.Millisecond
	defaultCursorDebounce = 50 * time.Millisecond
	defaultRetryBaseDelay = 500 * time.Millisecond
	defaultMaxRetries     = 5
	defaultPingInterval   = 15 * time.Second
)

type Config struct {
	// URL is the full websocket endpoint of the room,
	// e.g. "ws://localhost:8888/ws/rooms/AB12CD".
	URL string
	// ClientID identifies this participant in every frame it originates.
	ClientID string
	// ParticipantID is the seat handle from a prior REST join, if any.
	ParticipantID string

	Editor Editor
	Logger *zerolog.Logger

	EditDebounce   time.Duration
	CursorDebounce time.Duration
	RetryBaseDelay time.Duration
	MaxRetries     int

	OnState       func(ConnState)
	OnPeerCursor  func(clientID string, pos *model.Position, sel *model.Selection)
	OnPeerJoined  func(clientID string, count int)
	OnPeerLeft    func(clientID string, count int)
	OnServerError func(message string)
}

// Session keeps a local editor consistent with the room's converged document.
// Inbound frames are applied in arrival order by a single read goroutine;
// outbound edits and cursor moves are debounced. Abnormal closes trigger
// linear-backoff reconnects until the retry budget is spent.
type Session struct {
	cfg    Config
	logger zerolog.Logger
	dialer *websocket.Dialer

	// set while a remote STATE/PATCH is being applied to the editor, so
	// the editor's own change handler does not echo it back as an EDIT
	applyingRemote atomic.Bool

	mu          sync.Mutex
	state       ConnState
	conn        *websocket.Conn
	manualClose bool
	attempt     int

	writeMu sync.Mutex

	editTimer      *time.Timer
	cursorTimer    *time.Timer
	reconnectTimer *time.Timer
	pingDone       chan struct{}

	pendingDoc  *string
	pendingPos  *model.Position
	pendingSel  *model.Selection
	lastSentPos *model.Position
	lastSentSel *model.Selection
}

func New(cfg Config) *Session {
	if cfg.EditDebounce <= 0 {
		cfg.EditDebounce = defaultEditDebounce
	}
	if cfg.CursorDebounce <= 0 {
		cfg.CursorDebounce = defaultCursorDebounce
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = defaultRetryBaseDelay
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}

	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = cfg.Logger.With().Str("component", "room-client").Logger()
	}

	return &Session{
		cfg:    cfg,
		logger: logger,
		dialer: &websocket.Dialer{HandshakeTimeout: 5 * time.Second},
		state:  StateDisconnected,
	}
}

// Connect dials the room and performs the INIT handshake. Further dials
// happen automatically on abnormal closes.
func (s *Session) Connect() error {
	s.mu.Lock()
	if s.manualClose || s.state == StateClosed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.mu.Unlock()

	s.dial()
	return nil
}

func (s *Session) dial() {
	s.setState(StateConnecting)

	conn, resp, err := s.dialer.Dial(s.cfg.URL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		s.logger.Warn().Err(err).Msg("dial failed")
		s.scheduleReconnect()
		return
	}

	init := model.Frame{
		Type:          model.FrameInit,
		ClientID:      s.cfg.ClientID,
		ParticipantID: s.cfg.ParticipantID,
	}
	if err = conn.WriteJSON(init); err != nil {
		s.logger.Warn().Err(err).Msg("init write failed")
		_ = conn.Close()
		s.scheduleReconnect()
		return
	}

	s.mu.Lock()
	if s.manualClose {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.conn = conn
	s.attempt = 0
	// the peer lost our caret with the old connection
	s.lastSentPos, s.lastSentSel = nil, nil
	s.pingDone = make(chan struct{})
	pingDone := s.pingDone
	s.mu.Unlock()

	s.setState(StateConnected)
	go s.readLoop(conn)
	go s.pingLoop(conn, pingDone)
}

// readLoop applies inbound frames strictly in arrival order.
func (s *Session) readLoop(conn *websocket.Conn) {
	for {
		var frame model.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			s.mu.Lock()
			manual := s.manualClose
			if s.conn == conn {
				s.conn = nil
			}
			if s.pingDone != nil {
				close(s.pingDone)
				s.pingDone = nil
			}
			s.mu.Unlock()
			_ = conn.Close()

			if manual {
				return
			}
			s.logger.Warn().Err(err).Msg("connection lost")
			s.scheduleReconnect()
			return
		}
		s.handleFrame(frame)
	}
}

func (s *Session) handleFrame(frame model.Frame) {
	switch frame.Type {
	case model.FrameState:
		if frame.Code != nil {
			s.applyRemoteDocument(*frame.Code)
		}

	case model.FramePatch:
		// own edits are already reflected locally before broadcast
		if frame.ClientID == s.cfg.ClientID {
			return
		}
		if frame.Code != nil {
			s.applyRemoteDocument(*frame.Code)
		}

	case model.FrameCursor:
		if s.cfg.OnPeerCursor != nil {
			s.cfg.OnPeerCursor(frame.ClientID, frame.Position, frame.Selection)
		}

	case model.FrameParticipantJoined:
		if s.cfg.OnPeerJoined != nil {
			s.cfg.OnPeerJoined(frame.ClientID, frame.ParticipantCount)
		}

	case model.FrameParticipantLeft:
		if s.cfg.OnPeerLeft != nil {
			s.cfg.OnPeerLeft(frame.ClientID, frame.ParticipantCount)
		}

	case model.FrameError:
		s.logger.Warn().Str("message", frame.Message).Msg("server error")
		if s.cfg.OnServerError != nil {
			s.cfg.OnServerError(frame.Message)
		}

	case model.FramePong:
		// keepalive acknowledgment, nothing to do
	}
}

func (s *Session) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(defaultPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if !s.write(model.Frame{Type: model.FramePing}) {
				return
			}
		}
	}
}

// LocalEdit must be called by the editor's change handler with the complete
// new document. Calls made while a remote change is being applied are
// dropped, which is what breaks the echo loop. Rapid calls are coalesced into
// one EDIT frame per debounce window.
func (s *Session) LocalEdit(document string) {
	if s.applyingRemote.Load() {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.manualClose {
		return
	}

	doc := document
	s.pendingDoc = &doc
	if s.editTimer == nil {
		s.editTimer = time.AfterFunc(s.cfg.EditDebounce, s.flushEdit)
	} else {
		s.editTimer.Reset(s.cfg.EditDebounce)
	}
}

func (s *Session) flushEdit() {
	s.mu.Lock()
	s.editTimer = nil
	doc := s.pendingDoc
	s.pendingDoc = nil
	connected := s.state == StateConnected
	s.mu.Unlock()

	if doc == nil || !connected {
		return
	}
	s.write(model.Frame{
		Type:     model.FrameEdit,
		ClientID: s.cfg.ClientID,
		Code:     doc,
	})
}

// LocalCursor must be called by the editor's cursor handler. Updates equal to
// the last sent position and selection are suppressed entirely.
func (s *Session) LocalCursor(pos *model.Position, sel *model.Selection) {
	if s.applyingRemote.Load() {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.manualClose {
		return
	}

	s.pendingPos = pos
	s.pendingSel = sel
	if s.cursorTimer == nil {
		s.cursorTimer = time.AfterFunc(s.cfg.CursorDebounce, s.flushCursor)
	} else {
		s.cursorTimer.Reset(s.cfg.CursorDebounce)
	}
}

func (s *Session) flushCursor() {
	s.mu.Lock()
	s.cursorTimer = nil
	pos, sel := s.pendingPos, s.pendingSel
	if s.state != StateConnected {
		s.mu.Unlock()
		return
	}
	if samePosition(pos, s.lastSentPos) && sameSelection(sel, s.lastSentSel) {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	// record last-sent only when the frame actually went out, so an update
	// dropped while disconnected is not suppressed after reconnecting
	if s.write(model.Frame{
		Type:      model.FrameCursor,
		ClientID:  s.cfg.ClientID,
		Position:  pos,
		Selection: sel,
	}) {
		s.mu.Lock()
		s.lastSentPos, s.lastSentSel = pos, sel
		s.mu.Unlock()
	}
}

// Close is the user-initiated leave. It suppresses every reconnect attempt,
// cancels pending debounce timers and moves the session to its terminal
// state.
func (s *Session) Close() {
	s.mu.Lock()
	s.manualClose = true
	if s.editTimer != nil {
		s.editTimer.Stop()
		s.editTimer = nil
	}
	if s.cursorTimer != nil {
		s.cursorTimer.Stop()
		s.cursorTimer = nil
	}
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		_ = conn.Close()
	}
	s.setState(StateClosed)
}

// State reports the current connection state.
func (s *Session) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// scheduleReconnect arms the next dial attempt with a linearly growing
// delay (attempt x base). Past the attempt cap the session becomes
// terminally closed and requires a fresh Session to recover.
func (s *Session) scheduleReconnect() {
	s.mu.Lock()
	if s.manualClose {
		s.mu.Unlock()
		return
	}
	s.attempt++
	if s.attempt > s.cfg.MaxRetries {
		s.mu.Unlock()
		s.logger.Error().Int("attempts", s.cfg.MaxRetries).Msg("retry budget spent, giving up")
		s.setState(StateClosed)
		return
	}
	attempt := s.attempt
	delay := time.Duration(attempt) * s.cfg.RetryBaseDelay
	s.reconnectTimer = time.AfterFunc(delay, s.dial)
	s.mu.Unlock()

	s.logger.Info().Int("attempt", attempt).Dur("delay", delay).Msg("reconnect scheduled")
	s.setState(StateDisconnected)
}

// NextRetryDelay exposes the backoff schedule: the delay that would precede
// the given attempt number (1-based).
func (s *Session) NextRetryDelay(attempt int) time.Duration {
	return time.Duration(attempt) * s.cfg.RetryBaseDelay
}

func (s *Session) setState(state ConnState) {
	s.mu.Lock()
	if s.state == state || s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = state
	s.mu.Unlock()

	if s.cfg.OnState != nil {
		s.cfg.OnState(state)
	}
}

// write marshals one frame to the current connection. Gorilla allows a
// single concurrent writer, hence the write mutex.
func (s *Session) write(frame model.Frame) bool {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return false
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := conn.WriteJSON(frame); err != nil {
		s.logger.Warn().Err(err).Str("type", frame.Type).Msg("write failed")
		return false
	}
	return true
}

func samePosition(a, b *model.Position) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func sameSelection(a, b *model.Selection) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
