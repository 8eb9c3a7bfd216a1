package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/pairpad/pairpad/executor"
	"github.com/pairpad/pairpad/model"
	"github.com/pairpad/pairpad/storage/memory"
)

type CreateRoomRequest struct {
	Language    string `json:"language"`
	InitialCode string `json:"initial_code"`
}

type CreateRoomResponse struct {
	RoomID          string `json:"room_id"`
	RoomCode        string `json:"room_code"`
	Language        string `json:"language"`
	Code            string `json:"code"`
	MaxParticipants int    `json:"max_participants"`
	WebsocketURL    string `json:"websocket_url"`
}

type RoomStatusResponse struct {
	Exists          bool   `json:"exists"`
	RoomID          string `json:"room_id,omitempty"`
	Language        string `json:"language,omitempty"`
	Participants    int    `json:"participants"`
	MaxParticipants int    `json:"max_participants"`
	IsFull          bool   `json:"is_full"`
}

type JoinRoomRequest struct {
	ClientID string `json:"client_id"`
}

type JoinRoomResponse struct {
	ParticipantID string `json:"participant_id"`
	Role          string `json:"role"`
	Code          string `json:"code"`
	Version       int64  `json:"version"`
}

type LeaveRoomRequest struct {
	ParticipantID string `json:"participant_id"`
}

type LeaveRoomResponse struct {
	Message               string `json:"message"`
	ParticipantsRemaining int    `json:"participants_remaining"`
}

type RunCodeRequest struct {
	Code     string `json:"code"`
	Language string `json:"language"`
	Input    string `json:"input"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type RoomListEntry struct {
	RoomCode     string `json:"room_code"`
	RoomID       string `json:"room_id"`
	Language     string `json:"language"`
	Participants int    `json:"participants"`
	CreatedAt    string `json:"created_at"`
	ExpiresAt    string `json:"expires_at"`
}

type RoomListResponse struct {
	TotalRooms int             `json:"total_rooms"`
	Rooms      []RoomListEntry `json:"rooms"`
}

func (srv *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (srv *Server) createRoom(c echo.Context) error {
	var req CreateRoomRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "BAD_REQUEST", Message: "invalid request body"})
	}

	snap, err := srv.svc.CreateRoom(req.Language, req.InitialCode)
	if err != nil {
		if errors.Is(err, memory.ErrUnknownLanguage) {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "UNKNOWN_LANGUAGE", Message: "unsupported language"})
		}
		srv.logger.Error().Err(err).Msg("create room")
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "INTERNAL", Message: "could not create room"})
	}

	return c.JSON(http.StatusCreated, CreateRoomResponse{
		RoomID:          snap.ID,
		RoomCode:        snap.Code,
		Language:        snap.Language,
		Code:            snap.Document,
		MaxParticipants: snap.MaxParticipants,
		WebsocketURL:    srv.wsURL + "/" + snap.Code,
	})
}

func (srv *Server) roomStatus(c echo.Context) error {
	snap, err := srv.svc.RoomStatus(c.Param("code"))
	if err != nil {
		return c.JSON(http.StatusOK, RoomStatusResponse{
			Exists:          false,
			MaxParticipants: srv.svc.MaxParticipants(),
		})
	}

	return c.JSON(http.StatusOK, RoomStatusResponse{
		Exists:          true,
		RoomID:          snap.ID,
		Language:        snap.Language,
		Participants:    len(snap.Participants),
		MaxParticipants: snap.MaxParticipants,
		IsFull:          len(snap.Participants) >= snap.MaxParticipants,
	})
}

func (srv *Server) joinRoom(c echo.Context) error {
	var req JoinRoomRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "BAD_REQUEST", Message: "invalid request body"})
	}

	p, snap, err := srv.svc.JoinRoom(c.Param("code"), req.ClientID)
	if err != nil {
		switch {
		case errors.Is(err, memory.ErrRoomNotFound):
			return c.JSON(http.StatusNotFound, ErrorResponse{Error: "ROOM_NOT_FOUND", Message: "room not found"})
		case errors.Is(err, memory.ErrRoomIsFull):
			return c.JSON(http.StatusConflict, ErrorResponse{Error: "ROOM_FULL", Message: "room is full, maximum 2 participants allowed"})
		default:
			srv.logger.Error().Err(err).Msg("join room")
			return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "INTERNAL", Message: "could not join room"})
		}
	}

	return c.JSON(http.StatusOK, JoinRoomResponse{
		ParticipantID: p.ID,
		Role:          p.Role,
		Code:          snap.Document,
		Version:       snap.Version,
	})
}

func (srv *Server) leaveRoom(c echo.Context) error {
	var req LeaveRoomRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "BAD_REQUEST", Message: "invalid request body"})
	}

	remaining, err := srv.svc.LeaveRoom(c.Param("code"), req.ParticipantID)
	if err != nil {
		if errors.Is(err, memory.ErrRoomNotFound) {
			return c.JSON(http.StatusNotFound, ErrorResponse{Error: "ROOM_NOT_FOUND", Message: "room not found"})
		}
		srv.logger.Error().Err(err).Msg("leave room")
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "INTERNAL", Message: "could not leave room"})
	}

	return c.JSON(http.StatusOK, LeaveRoomResponse{
		Message:               "Left room successfully",
		ParticipantsRemaining: remaining,
	})
}

func (srv *Server) runCode(c echo.Context) error {
	var req RunCodeRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "BAD_REQUEST", Message: "invalid request body"})
	}

	res, err := srv.svc.RunCode(c.Request().Context(), c.Param("code"), executor.Request{
		Code:     req.Code,
		Language: req.Language,
		Stdin:    req.Input,
	})
	if err != nil {
		if errors.Is(err, memory.ErrRoomNotFound) {
			return c.JSON(http.StatusNotFound, ErrorResponse{Error: "ROOM_NOT_FOUND", Message: "room not found"})
		}
		srv.logger.Error().Err(err).Msg("run code")
		return c.JSON(http.StatusBadGateway, ErrorResponse{Error: "EXECUTION_FAILED", Message: "sandbox unavailable"})
	}

	return c.JSON(http.StatusOK, res)
}

func (srv *Server) deleteRoom(c echo.Context) error {
	if err := srv.svc.DeleteRoom(c.Param("code")); err != nil {
		if errors.Is(err, memory.ErrRoomNotFound) {
			return c.JSON(http.StatusNotFound, ErrorResponse{Error: "ROOM_NOT_FOUND", Message: "room not found"})
		}
		srv.logger.Error().Err(err).Msg("delete room")
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "INTERNAL", Message: "could not delete room"})
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "room deleted"})
}

func (srv *Server) listRooms(c echo.Context) error {
	snaps := srv.svc.ListRooms()

	resp := RoomListResponse{
		TotalRooms: len(snaps),
		Rooms:      make([]RoomListEntry, 0, len(snaps)),
	}
	for _, snap := range snaps {
		resp.Rooms = append(resp.Rooms, roomListEntry(snap))
	}
	return c.JSON(http.StatusOK, resp)
}

func roomListEntry(snap model.Snapshot) RoomListEntry {
	return RoomListEntry{
		RoomCode:     snap.Code,
		RoomID:       snap.ID,
		Language:     snap.Language,
		Participants: len(snap.Participants),
		CreatedAt:    snap.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		ExpiresAt:    snap.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}
