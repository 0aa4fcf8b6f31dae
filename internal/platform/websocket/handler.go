package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/telemed/telemed/internal/platform/videoconf"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Inbound event names.
const (
	EventJoin        = "join"
	EventLeave       = "leave"
	EventSignal      = "signal"
	EventToggleMedia = "toggle_media"
	EventChatMessage = "chat_message"
	EventGetMessages = "get_messages"
	EventRoomStatus  = "room_status"
	EventEndRoom     = "end_room"
)

// Outbound event names used only on direct replies.
const (
	EventMessages = "messages"
	EventError    = "error"
)

// ErrSessionNotFound is returned by a SessionResolver for an unknown token.
var ErrSessionNotFound = errors.New("room session not found")

// ErrRoomClosed is returned by a SessionResolver for cancelled or closed rooms.
var ErrRoomClosed = errors.New("room is closed")

// Session is what a room token resolves to.
type Session struct {
	RoomID        uuid.UUID
	AppointmentID uuid.UUID
	DoctorID      uuid.UUID
	PatientID     uuid.UUID
	UserID        uuid.UUID
	Role          string
	MaxMinutes    int
	// Active is true once the doctor has started the room.
	Active bool
}

type SessionResolver interface {
	ResolveSession(ctx context.Context, token string) (*Session, error)
}

// ChatRecorder persists chat messages sent inside a room.
type ChatRecorder interface {
	Record(ctx context.Context, roomID, userID uuid.UUID, content string) error
}

// RoomFinisher completes the appointment behind a room the doctor ended.
type RoomFinisher interface {
	FinishFromRoom(ctx context.Context, appointmentID, doctorID uuid.UUID) error
}

// Handler upgrades room connections and routes their frames to the video
// room manager.
type Handler struct {
	hub      *Hub
	rooms    *videoconf.Manager
	sessions SessionResolver
	chat     ChatRecorder
	finisher RoomFinisher
	upgrader gorillawebsocket.Upgrader
	logger   zerolog.Logger
}

// NewHandler builds the handler. allowedOrigins restricts the Origin header;
// an empty list accepts any origin.
func NewHandler(hub *Hub, rooms *videoconf.Manager, sessions SessionResolver, chat ChatRecorder, finisher RoomFinisher, allowedOrigins []string, logger zerolog.Logger) *Handler {
	h := &Handler{
		hub:      hub,
		rooms:    rooms,
		sessions: sessions,
		chat:     chat,
		finisher: finisher,
		logger:   logger.With().Str("component", "ws").Logger(),
	}
	h.upgrader = gorillawebsocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws/rooms/:token", h.HandleConnect)
}

// HandleConnect resolves the room token, upgrades the connection and starts
// the read and write pumps.
func (h *Handler) HandleConnect(c echo.Context) error {
	sess, err := h.sessions.ResolveSession(c.Request().Context(), c.Param("token"))
	if err != nil {
		switch {
		case errors.Is(err, ErrSessionNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "room not found")
		case errors.Is(err, ErrRoomClosed):
			return echo.NewHTTPError(http.StatusGone, "room is closed")
		default:
			return err
		}
	}

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	if sess.Active {
		h.rooms.Create(sess.RoomID, sess.DoctorID, sess.PatientID, sess.MaxMinutes)
	}

	client := NewClient(sess.RoomID, sess.UserID, sess.Role)
	h.hub.Register(client)
	h.logger.Debug().
		Str("room_id", sess.RoomID.String()).
		Str("conn_id", client.ID).
		Str("role", sess.Role).
		Msg("room connection opened")

	go h.writePump(client, ws)
	go h.readPump(client, sess, ws)

	return nil
}

func (h *Handler) readPump(client *Client, sess *Session, ws *gorillawebsocket.Conn) {
	defer func() {
		h.rooms.Leave(client.RoomID, client.ID)
		h.hub.Unregister(client)
		ws.Close()
		h.logger.Debug().Str("conn_id", client.ID).Msg("room connection closed")
	}()

	ws.SetReadLimit(maxMessageSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			if gorillawebsocket.IsUnexpectedCloseError(err, gorillawebsocket.CloseGoingAway, gorillawebsocket.CloseNormalClosure) {
				h.logger.Warn().Err(err).Str("conn_id", client.ID).Msg("unexpected close")
			}
			return
		}

		var in InboundFrame
		if err := json.Unmarshal(message, &in); err != nil {
			h.hub.Send(client, EventError, errorData("", "malformed frame"))
			continue
		}
		h.Dispatch(context.Background(), client, sess, in)
	}
}

func (h *Handler) writePump(client *Client, ws *gorillawebsocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				ws.WriteMessage(gorillawebsocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

type signalData struct {
	To     string          `json:"to"`
	Signal json.RawMessage `json:"signal"`
}

// joinedData is the join reply: the room snapshot plus the caller's own
// connection id.
type joinedData struct {
	videoconf.RoomStatus
	ConnID string `json:"conn_id"`
}

type toggleData struct {
	Media   string `json:"media"`
	Enabled bool   `json:"enabled"`
}

type chatData struct {
	Content string `json:"content"`
}

type messagesData struct {
	Count int `json:"count"`
}

// Dispatch handles one inbound frame from client. Failures are reported back
// to the sender as error frames.
func (h *Handler) Dispatch(ctx context.Context, client *Client, sess *Session, in InboundFrame) {
	switch in.Event {
	case EventJoin:
		st, err := h.rooms.Join(client.RoomID, client.UserID, client.Role, client.ID)
		if err != nil {
			h.fail(client, in.Event, err)
			return
		}
		h.hub.Send(client, EventRoomStatus, joinedData{RoomStatus: st, ConnID: client.ID})

	case EventLeave:
		h.rooms.Leave(client.RoomID, client.ID)

	case EventSignal:
		var d signalData
		if !h.decode(client, in, &d) {
			return
		}
		if err := h.rooms.Signal(client.RoomID, client.ID, d.To, d.Signal); err != nil {
			h.fail(client, in.Event, err)
		}

	case EventToggleMedia:
		var d toggleData
		if !h.decode(client, in, &d) {
			return
		}
		if err := h.rooms.ToggleMedia(client.RoomID, client.ID, d.Media, d.Enabled); err != nil {
			h.fail(client, in.Event, err)
		}

	case EventChatMessage:
		var d chatData
		if !h.decode(client, in, &d) {
			return
		}
		msg, err := h.rooms.AddMessage(client.RoomID, client.UserID, client.Role, d.Content)
		if err != nil {
			h.fail(client, in.Event, err)
			return
		}
		if h.chat != nil {
			if err := h.chat.Record(ctx, client.RoomID, client.UserID, msg.Content); err != nil {
				h.logger.Error().Err(err).Str("room_id", client.RoomID.String()).Msg("failed to persist chat message")
			}
		}

	case EventGetMessages:
		var d messagesData
		if len(in.Data) > 0 && !h.decode(client, in, &d) {
			return
		}
		msgs, err := h.rooms.Messages(client.RoomID, d.Count)
		if err != nil {
			h.fail(client, in.Event, err)
			return
		}
		h.hub.Send(client, EventMessages, msgs)

	case EventRoomStatus:
		st, err := h.rooms.Status(client.RoomID)
		if err != nil {
			h.fail(client, in.Event, err)
			return
		}
		h.hub.Send(client, EventRoomStatus, st)

	case EventEndRoom:
		if client.Role != videoconf.RoleDoctor {
			h.fail(client, in.Event, videoconf.ErrNotAuthorized)
			return
		}
		if _, err := h.rooms.End(client.RoomID); err != nil {
			h.fail(client, in.Event, err)
			return
		}
		if h.finisher != nil {
			if err := h.finisher.FinishFromRoom(ctx, sess.AppointmentID, client.UserID); err != nil {
				h.logger.Error().Err(err).Str("appointment_id", sess.AppointmentID.String()).Msg("failed to complete appointment")
			}
		}

	default:
		h.hub.Send(client, EventError, errorData(in.Event, "unknown event"))
	}
}

func (h *Handler) decode(client *Client, in InboundFrame, v interface{}) bool {
	if err := json.Unmarshal(in.Data, v); err != nil {
		h.hub.Send(client, EventError, errorData(in.Event, "invalid data"))
		return false
	}
	return true
}

func (h *Handler) fail(client *Client, event string, err error) {
	h.hub.Send(client, EventError, errorData(event, err.Error()))
}

func errorData(event, message string) map[string]string {
	return map[string]string{"event": event, "message": message}
}
