package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/pairpad/pairpad/metric"
	"github.com/pairpad/pairpad/model"
	"github.com/pairpad/pairpad/service"
	"github.com/pairpad/pairpad/storage/memory"
)

// handleConn owns one websocket from upgrade to close. It performs the INIT
// handshake, then runs a sender/receiver goroutine pair until either side
// fails, and finally detaches the session exactly once.
func (srv *Server) handleConn(conn *websocket.Conn, roomCode string) {
	logger := srv.logger.With().Str("roomCode", roomCode).Logger()

	conn.SetReadLimit(defaultWebSocketMaxMessageSize)

	init, err := readInit(conn)
	if err != nil {
		closeWithError(conn, err.Error(), &logger)
		return
	}

	wire := srv.svc.NewWire()
	session, snap, err := srv.svc.Attach(roomCode, init.ClientID, wire)
	if err != nil {
		switch {
		case errors.Is(err, memory.ErrRoomNotFound):
			closeWithError(conn, "Room not found", &logger)
		case errors.Is(err, memory.ErrRoomIsFull):
			closeWithError(conn, "Room is full", &logger)
		default:
			logger.Error().Err(err).Msg("failed to attach session")
			closeWithError(conn, "internal error", &logger)
		}
		return
	}

	logger = logger.With().Str("clientID", session.ClientID).Logger()
	metric.SessionOpened()

	// STATE must reach the socket before the sender drains any relay frame
	// enqueued after the attach, or a racing PATCH could overtake the
	// older snapshot and regress the joiner's buffer
	if !writeFrame(conn, model.StateFrame(snap), &logger) {
		closeConn(conn, &logger)
		session.Detach()
		metric.SessionClosed()
		return
	}

	// unicast lane for PONG and per-connection errors; the relay never
	// touches it
	direct := make(chan model.Frame, 8)

	ctx, cancel := context.WithCancel(context.Background())
	wg := &sync.WaitGroup{}

	wg.Add(2)
	go func() {
		receiver(ctx, wg, conn, session, direct, &logger)
		cancel()
	}()
	go func() {
		sender(ctx, wg, conn, wire.TX, direct, &logger)
		cancel()
	}()

	go func() {
		// unblock a receiver parked in ReadMessage once the sender side
		// is gone
		<-ctx.Done()
		_ = conn.SetReadDeadline(time.Now())
	}()

	wg.Wait()
	closeConn(conn, &logger)
	session.Detach()
	metric.SessionClosed()
	logger.Debug().Msg("connection closed")
}

// readInit enforces the awaitingInit state: the first frame must be a
// well-formed INIT carrying a client identity, within the init deadline.
func readInit(conn *websocket.Conn) (model.Frame, error) {
	if err := conn.SetReadDeadline(time.Now().Add(defaultInitDeadline)); err != nil {
		return model.Frame{}, errors.New("internal error")
	}

	_, msg, err := conn.ReadMessage()
	if err != nil {
		return model.Frame{}, errors.New("expected INIT message")
	}

	var frame model.Frame
	if err = json.Unmarshal(msg, &frame); err != nil {
		return model.Frame{}, errors.New("malformed frame")
	}
	if frame.Type != model.FrameInit {
		return model.Frame{}, errors.New("expected INIT message")
	}
	if frame.ClientID == "" {
		return model.Frame{}, errors.New("clientId required")
	}
	return frame, nil
}

func receiver(
	ctx context.Context,
	wg *sync.WaitGroup,
	conn *websocket.Conn,
	session *service.Session,
	direct chan<- model.Frame,
	logger *zerolog.Logger,
) {
	defer wg.Done()

	readDeadLineFunc := func(deadline time.Duration) error {
		return conn.SetReadDeadline(time.Now().Add(deadline))
	}
	conn.SetPongHandler(func(string) error {
		return readDeadLineFunc(defaultPongWait)
	})
	if err := readDeadLineFunc(defaultPongWait); err != nil {
		logger.Error().Err(err).Msg("failed to set websocket read deadline")
		return
	}

RecvLoop:
	for {
		select {
		case <-ctx.Done():
			break RecvLoop
		default:
			_, msg, wsErr := conn.ReadMessage()
			if wsErr != nil {
				if websocket.IsCloseError(wsErr,
					websocket.CloseNormalClosure,
					websocket.CloseGoingAway) {
					logger.Debug().Msg("connection closed by peer")
				} else {
					logger.Warn().Err(wsErr).Msg("unexpected error during receive")
				}
				break RecvLoop
			}

			var frame model.Frame
			if wsErr = json.Unmarshal(msg, &frame); wsErr != nil {
				unicast(direct, model.ErrorFrame("malformed frame"))
				continue
			}

			switch frame.Type {
			case model.FrameInit:
				// already past the handshake
				unicast(direct, model.ErrorFrame("already initialized"))

			case model.FrameEdit:
				if frame.Code == nil {
					unicast(direct, model.ErrorFrame("EDIT frame requires code"))
					continue
				}
				if err := session.Edit(*frame.Code); err != nil {
					logger.Error().Err(err).Msg("failed to apply edit")
					break RecvLoop
				}

			case model.FrameCursor:
				session.Cursor(frame.Position, frame.Selection)

			case model.FramePing:
				_ = readDeadLineFunc(defaultPongWait)
				unicast(direct, model.Frame{Type: model.FramePong})

			default:
				unicast(direct, model.ErrorFrame("unknown frame type"))
			}
		}
	}
}

func sender(
	ctx context.Context,
	wg *sync.WaitGroup,
	conn *websocket.Conn,
	tx <-chan model.Frame,
	direct <-chan model.Frame,
	logger *zerolog.Logger,
) {
	pingTicker := time.NewTicker(defaultPingInterval)
	defer func() {
		pingTicker.Stop()
		wg.Done()
	}()

SendLoop:
	for {
		select {
		case <-ctx.Done():
			break SendLoop

		case <-pingTicker.C:
			if wsErr := conn.SetWriteDeadline(time.Now().Add(defaultWebSocketWriteDeadline)); wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to set websocket write deadline")
				break SendLoop
			}
			if wsErr := conn.WriteMessage(websocket.PingMessage, []byte{}); wsErr != nil {
				logger.Warn().Err(wsErr).Msg("failed to send ping")
				break SendLoop
			}

		case frame := <-direct:
			if !writeFrame(conn, frame, logger) {
				break SendLoop
			}

		case frame, ok := <-tx:
			if !ok {
				// relay closed the wire: evicted as a stalled
				// member, or the room was torn down
				break SendLoop
			}
			if !writeFrame(conn, frame, logger) {
				break SendLoop
			}
		}
	}
}

func writeFrame(conn *websocket.Conn, frame model.Frame, logger *zerolog.Logger) bool {
	if wsErr := conn.SetWriteDeadline(time.Now().Add(defaultWebSocketWriteDeadline)); wsErr != nil {
		logger.Error().Err(wsErr).Msg("failed to set websocket write deadline")
		return false
	}
	if wsErr := conn.WriteJSON(frame); wsErr != nil {
		logger.Warn().Err(wsErr).Str("type", frame.Type).Msg("failed to write frame")
		return false
	}
	return true
}

// unicast drops the frame rather than block the receive loop when the direct
// lane is saturated.
func unicast(direct chan<- model.Frame, frame model.Frame) {
	select {
	case direct <- frame:
	default:
	}
}

// closeWithError reports a handshake failure to the peer and closes.
func closeWithError(conn *websocket.Conn, message string, logger *zerolog.Logger) {
	if err := conn.SetWriteDeadline(time.Now().Add(defaultWebSocketWriteDeadline)); err == nil {
		_ = conn.WriteJSON(model.ErrorFrame(message))
	}
	closeConn(conn, logger)
}

func closeConn(conn *websocket.Conn, logger *zerolog.Logger) {
	wsErr := conn.SetWriteDeadline(time.Now().Add(defaultWebSocketCloseWriteDeadline))
	if wsErr == nil {
		wsErr = conn.WriteMessage(websocket.CloseMessage, []byte{})
		if wsErr != nil && !errors.Is(wsErr, websocket.ErrCloseSent) {
			logger.Debug().Err(wsErr).Msg("failed to send close message")
		}
	}
	if wsErr = conn.Close(); wsErr != nil {
		logger.Debug().Err(wsErr).Msg("failed to close websocket connection")
	}
}
