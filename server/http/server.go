package http

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/pairpad/pairpad/service"
)

const defaultShutdownDeadline = 10 * time.Second

var ErrUnexpected = errors.New("unexpected server error")

// Server is the REST API: room creation, status, seat management and the
// run-code passthrough. The realtime protocol lives on the websocket server.
type Server struct {
	logger zerolog.Logger
	svc    *service.Service
	wsURL  string
	echo   *echo.Echo
	addr   string
}

type Config struct {
	Logger *zerolog.Logger
	// Service handles every room operation.
	Service *service.Service
	// WebsocketURL is the externally visible base for room websockets,
	// e.g. "ws://localhost:8888/ws/rooms". Returned on room creation.
	WebsocketURL string
	ListenAddr   string
}

func NewServer(cfg Config) *Server {
	srv := &Server{
		logger: cfg.Logger.With().Str("component", "api-server").Logger(),
		svc:    cfg.Service,
		wsURL:  cfg.WebsocketURL,
		addr:   cfg.ListenAddr,
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
	}))
	e.Use(RequestLogger(&srv.logger))
	e.Use(Prometheus())

	e.GET("/health", srv.health)

	e.POST("/rooms", srv.createRoom)
	e.GET("/rooms", srv.listRooms)
	e.GET("/rooms/:code/status", srv.roomStatus)
	e.POST("/rooms/:code/join", srv.joinRoom)
	e.POST("/rooms/:code/leave", srv.leaveRoom)
	e.POST("/rooms/:code/run", srv.runCode)
	e.DELETE("/rooms/:code", srv.deleteRoom)

	srv.echo = e
	return srv
}

// Echo exposes the underlying router for tests.
func (srv *Server) Echo() *echo.Echo {
	return srv.echo
}

func (srv *Server) Run(ctx context.Context, wg *sync.WaitGroup, errc chan<- error) {
	defer func() {
		srv.logger.Debug().Msg("server stopped")
		wg.Done()
	}()

	hErr := make(chan error)
	go func() {
		hErr <- srv.echo.Start(srv.addr)
	}()

	srv.logger.Info().Str("addr", srv.addr).Msg("server started")

	select {
	case err := <-hErr:
		if !errors.Is(err, http.ErrServerClosed) {
			errc <- errors.Join(ErrUnexpected, err)
		}
	case <-ctx.Done():
		shCtx, shCancel := context.WithTimeout(context.Background(), defaultShutdownDeadline)
		defer shCancel()
		if err := srv.echo.Shutdown(shCtx); err != nil {
			srv.logger.Error().Err(err).Msg("server shutdown failed")
		}
	}
}
