// Package videoconf tracks live video rooms: who is connected, media state,
// in-room chat and room lifetime. Delivery of events to browsers is delegated
// to an Emitter, implemented by the websocket hub.
package videoconf

import (
	"errors"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	RoleDoctor  = "doctor"
	RolePatient = "patient"

	StateWaiting  = "waiting"
	StateActive   = "active"
	StateFinished = "finished"

	MediaVideo = "video"
	MediaAudio = "audio"
)

// Outbound event names.
const (
	EventUserJoined  = "user_joined"
	EventUserLeft    = "user_left"
	EventSignal      = "signal"
	EventMediaToggle = "media_toggle"
	EventChatMessage = "chat_message"
	EventRoomEnded   = "room_ended"
)

const (
	defaultMessageCount = 20
	maxMessageLength    = 2000
	// finishedRetention is how long a finished, empty room stays in memory
	// before Sweep drops it.
	finishedRetention = 10 * time.Minute
)

var (
	ErrRoomNotFound   = errors.New("room not found")
	ErrNotAuthorized  = errors.New("user is not a participant of this room")
	ErrRoomNotActive  = errors.New("room is not active")
	ErrNotParticipant = errors.New("connection is not in this room")
	ErrInvalidMedia   = errors.New("media must be video or audio")
	ErrInvalidRole    = errors.New("role must be doctor or patient")
	ErrInvalidMessage = errors.New("message must be between 1 and 2000 characters")
)

// Emitter delivers room events. EmitRoom fans out to every connection in the
// room, EmitTo targets one connection.
type Emitter interface {
	EmitRoom(roomID uuid.UUID, event string, data interface{})
	EmitTo(roomID uuid.UUID, connID string, event string, data interface{})
}

type Participant struct {
	UserID       uuid.UUID `json:"user_id"`
	Role         string    `json:"role"`
	ConnID       string    `json:"conn_id"`
	JoinedAt     time.Time `json:"joined_at"`
	LastActivity time.Time `json:"last_activity"`
	VideoOn      bool      `json:"video_on"`
	AudioOn      bool      `json:"audio_on"`
}

type Message struct {
	ID      uuid.UUID `json:"id"`
	UserID  uuid.UUID `json:"user_id"`
	Role    string    `json:"role"`
	Content string    `json:"content"`
	SentAt  time.Time `json:"sent_at"`
}

type liveRoom struct {
	id           uuid.UUID
	doctorID     uuid.UUID
	patientID    uuid.UUID
	participants []*Participant
	state        string
	startedAt    *time.Time
	endedAt      *time.Time
	maxMinutes   int
	messages     []Message
	lastActivity time.Time
}

// RoomStatus is a point-in-time snapshot of a live room.
type RoomStatus struct {
	ID                 uuid.UUID           `json:"id"`
	State              string              `json:"state"`
	StartedAt          *time.Time          `json:"started_at"`
	EndedAt            *time.Time          `json:"ended_at"`
	Participants       []ParticipantStatus `json:"participants"`
	MessageCount       int                 `json:"message_count"`
	MaxDurationMinutes int                 `json:"max_duration_minutes"`
}

// ParticipantStatus carries the connection id peers address signals to.
type ParticipantStatus struct {
	UserID  uuid.UUID `json:"user_id"`
	Role    string    `json:"role"`
	ConnID  string    `json:"conn_id"`
	VideoOn bool      `json:"video_on"`
	AudioOn bool      `json:"audio_on"`
}

// emission is an event captured under the lock and sent after it is released.
type emission struct {
	roomID uuid.UUID
	connID string
	event  string
	data   interface{}
}

// Manager is the in-memory registry of live rooms. All methods are safe for
// concurrent use.
type Manager struct {
	mu      sync.Mutex
	rooms   map[uuid.UUID]*liveRoom
	emitter Emitter
	now     func() time.Time
}

func NewManager(emitter Emitter) *Manager {
	return &Manager{
		rooms:   make(map[uuid.UUID]*liveRoom),
		emitter: emitter,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetEmitter replaces the emitter. The hub and the manager reference each
// other, so one of them is wired after construction.
func (m *Manager) SetEmitter(e Emitter) {
	m.mu.Lock()
	m.emitter = e
	m.mu.Unlock()
}

func (m *Manager) emit(events ...emission) {
	m.mu.Lock()
	e := m.emitter
	m.mu.Unlock()
	if e == nil {
		return
	}
	for _, ev := range events {
		if ev.connID != "" {
			e.EmitTo(ev.roomID, ev.connID, ev.event, ev.data)
		} else {
			e.EmitRoom(ev.roomID, ev.event, ev.data)
		}
	}
}

// Create registers a room. Creating a room that already exists returns the
// existing room unchanged.
func (m *Manager) Create(roomID, doctorID, patientID uuid.UUID, maxMinutes int) RoomStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.rooms[roomID]; ok {
		return r.status()
	}
	if maxMinutes <= 0 {
		maxMinutes = 60
	}
	r := &liveRoom{
		id:           roomID,
		doctorID:     doctorID,
		patientID:    patientID,
		state:        StateWaiting,
		maxMinutes:   maxMinutes,
		lastActivity: m.now(),
	}
	m.rooms[roomID] = r
	return r.status()
}

// Exists reports whether the room is registered.
func (m *Manager) Exists(roomID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.rooms[roomID]
	return ok
}

// Join adds a user to the room. A user who is already present is treated as
// reconnecting: the connection id is replaced and user_joined is sent again
// with reconnected set, so the peer learns the new id.
func (m *Manager) Join(roomID, userID uuid.UUID, role, connID string) (RoomStatus, error) {
	m.mu.Lock()
	r, ok := m.rooms[roomID]
	if !ok {
		m.mu.Unlock()
		return RoomStatus{}, ErrRoomNotFound
	}
	switch role {
	case RoleDoctor:
		if userID != r.doctorID {
			m.mu.Unlock()
			return RoomStatus{}, ErrNotAuthorized
		}
	case RolePatient:
		if userID != r.patientID {
			m.mu.Unlock()
			return RoomStatus{}, ErrNotAuthorized
		}
	default:
		m.mu.Unlock()
		return RoomStatus{}, ErrInvalidRole
	}

	now := m.now()
	for _, p := range r.participants {
		if p.UserID == userID {
			p.ConnID = connID
			p.LastActivity = now
			st := r.status()
			m.mu.Unlock()
			m.emit(joinedEvent(st, userID, role, connID, true))
			return st, nil
		}
	}

	r.participants = append(r.participants, &Participant{
		UserID:       userID,
		Role:         role,
		ConnID:       connID,
		JoinedAt:     now,
		LastActivity: now,
		VideoOn:      true,
		AudioOn:      true,
	})
	r.lastActivity = now

	switch len(r.participants) {
	case 1:
		if r.state != StateFinished {
			r.state = StateWaiting
		}
	case 2:
		if r.state == StateWaiting {
			r.state = StateActive
			r.startedAt = &now
		}
	}

	st := r.status()
	m.mu.Unlock()

	m.emit(joinedEvent(st, userID, role, connID, false))
	return st, nil
}

// Leave removes the participant holding connID. It returns false when the
// room or the connection is unknown.
func (m *Manager) Leave(roomID uuid.UUID, connID string) bool {
	m.mu.Lock()
	r, ok := m.rooms[roomID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	idx := r.indexOf(connID)
	if idx < 0 {
		m.mu.Unlock()
		return false
	}

	p := r.participants[idx]
	r.participants = append(r.participants[:idx], r.participants[idx+1:]...)
	now := m.now()
	r.lastActivity = now
	if len(r.participants) == 0 && r.state == StateActive {
		r.finish(now)
	}
	state, remaining := r.state, len(r.participants)
	m.mu.Unlock()

	m.emit(emission{roomID: roomID, event: EventUserLeft, data: map[string]interface{}{
		"user_id":      p.UserID,
		"role":         p.Role,
		"conn_id":      p.ConnID,
		"room_state":   state,
		"participants": remaining,
	}})
	return true
}

// Signal relays a WebRTC signalling payload to one connection in the room.
func (m *Manager) Signal(roomID uuid.UUID, fromConn, toConn string, payload interface{}) error {
	m.mu.Lock()
	r, ok := m.rooms[roomID]
	if !ok {
		m.mu.Unlock()
		return ErrRoomNotFound
	}
	if r.indexOf(fromConn) < 0 || r.indexOf(toConn) < 0 {
		m.mu.Unlock()
		return ErrNotParticipant
	}
	r.touch(fromConn, m.now())
	m.mu.Unlock()

	m.emit(emission{roomID: roomID, connID: toConn, event: EventSignal, data: map[string]interface{}{
		"from":   fromConn,
		"signal": payload,
	}})
	return nil
}

// ToggleMedia records a participant turning video or audio on or off.
func (m *Manager) ToggleMedia(roomID uuid.UUID, connID, media string, enabled bool) error {
	if media != MediaVideo && media != MediaAudio {
		return ErrInvalidMedia
	}

	m.mu.Lock()
	r, ok := m.rooms[roomID]
	if !ok {
		m.mu.Unlock()
		return ErrRoomNotFound
	}
	idx := r.indexOf(connID)
	if idx < 0 {
		m.mu.Unlock()
		return ErrNotParticipant
	}
	p := r.participants[idx]
	if media == MediaVideo {
		p.VideoOn = enabled
	} else {
		p.AudioOn = enabled
	}
	p.LastActivity = m.now()
	userID, role := p.UserID, p.Role
	m.mu.Unlock()

	m.emit(emission{roomID: roomID, event: EventMediaToggle, data: map[string]interface{}{
		"user_id": userID,
		"role":    role,
		"media":   media,
		"enabled": enabled,
	}})
	return nil
}

// Status returns a snapshot of the room. An active room past its maximum
// duration is finished first.
func (m *Manager) Status(roomID uuid.UUID) (RoomStatus, error) {
	m.mu.Lock()
	r, ok := m.rooms[roomID]
	if !ok {
		m.mu.Unlock()
		return RoomStatus{}, ErrRoomNotFound
	}
	expired := r.expire(m.now())
	st := r.status()
	m.mu.Unlock()

	if expired {
		m.emit(endedEvent(st))
	}
	return st, nil
}

// AddMessage appends a chat message. Only active rooms accept messages.
func (m *Manager) AddMessage(roomID, userID uuid.UUID, role, content string) (Message, error) {
	if n := utf8.RuneCountInString(content); n == 0 || n > maxMessageLength {
		return Message{}, ErrInvalidMessage
	}

	m.mu.Lock()
	r, ok := m.rooms[roomID]
	if !ok {
		m.mu.Unlock()
		return Message{}, ErrRoomNotFound
	}
	if r.state != StateActive {
		m.mu.Unlock()
		return Message{}, ErrRoomNotActive
	}
	now := m.now()
	msg := Message{
		ID:      uuid.New(),
		UserID:  userID,
		Role:    role,
		Content: content,
		SentAt:  now,
	}
	r.messages = append(r.messages, msg)
	r.lastActivity = now
	m.mu.Unlock()

	m.emit(emission{roomID: roomID, event: EventChatMessage, data: msg})
	return msg, nil
}

// Messages returns the last n messages, oldest first. n <= 0 means 20.
func (m *Manager) Messages(roomID uuid.UUID, n int) ([]Message, error) {
	if n <= 0 {
		n = defaultMessageCount
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	start := len(r.messages) - n
	if start < 0 {
		start = 0
	}
	out := make([]Message, len(r.messages)-start)
	copy(out, r.messages[start:])
	return out, nil
}

// End finishes the room and tells everyone in it. Ending a finished room is
// a no-op.
func (m *Manager) End(roomID uuid.UUID) (RoomStatus, error) {
	m.mu.Lock()
	r, ok := m.rooms[roomID]
	if !ok {
		m.mu.Unlock()
		return RoomStatus{}, ErrRoomNotFound
	}
	if r.state == StateFinished {
		st := r.status()
		m.mu.Unlock()
		return st, nil
	}
	r.finish(m.now())
	st := r.status()
	m.mu.Unlock()

	m.emit(endedEvent(st))
	return st, nil
}

// Remove drops the room from memory.
func (m *Manager) Remove(roomID uuid.UUID) {
	m.mu.Lock()
	delete(m.rooms, roomID)
	m.mu.Unlock()
}

// Sweep finishes active rooms that outlived their maximum duration and drops
// finished rooms that have been empty for a while. It returns the ids of the
// rooms it finished.
func (m *Manager) Sweep(now time.Time) []uuid.UUID {
	var ended []uuid.UUID
	var events []emission

	m.mu.Lock()
	for id, r := range m.rooms {
		if r.expire(now) {
			ended = append(ended, id)
			events = append(events, endedEvent(r.status()))
			continue
		}
		if r.state == StateFinished && len(r.participants) == 0 &&
			r.endedAt != nil && now.Sub(*r.endedAt) > finishedRetention {
			delete(m.rooms, id)
		}
	}
	m.mu.Unlock()

	m.emit(events...)
	return ended
}

// Count returns the number of rooms held in memory.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}

func joinedEvent(st RoomStatus, userID uuid.UUID, role, connID string, reconnected bool) emission {
	return emission{roomID: st.ID, event: EventUserJoined, data: map[string]interface{}{
		"user_id":      userID,
		"role":         role,
		"conn_id":      connID,
		"reconnected":  reconnected,
		"room_state":   st.State,
		"participants": len(st.Participants),
	}}
}

func endedEvent(st RoomStatus) emission {
	return emission{roomID: st.ID, event: EventRoomEnded, data: map[string]interface{}{
		"room_id":  st.ID,
		"ended_at": st.EndedAt,
	}}
}

func (r *liveRoom) indexOf(connID string) int {
	for i, p := range r.participants {
		if p.ConnID == connID {
			return i
		}
	}
	return -1
}

func (r *liveRoom) touch(connID string, now time.Time) {
	if i := r.indexOf(connID); i >= 0 {
		r.participants[i].LastActivity = now
	}
	r.lastActivity = now
}

func (r *liveRoom) finish(now time.Time) {
	r.state = StateFinished
	r.endedAt = &now
}

// expire finishes an active room that ran past its maximum duration.
func (r *liveRoom) expire(now time.Time) bool {
	if r.state != StateActive || r.startedAt == nil {
		return false
	}
	if now.Sub(*r.startedAt) <= time.Duration(r.maxMinutes)*time.Minute {
		return false
	}
	r.finish(now)
	return true
}

func (r *liveRoom) status() RoomStatus {
	st := RoomStatus{
		ID:                 r.id,
		State:              r.state,
		StartedAt:          r.startedAt,
		EndedAt:            r.endedAt,
		Participants:       make([]ParticipantStatus, 0, len(r.participants)),
		MessageCount:       len(r.messages),
		MaxDurationMinutes: r.maxMinutes,
	}
	for _, p := range r.participants {
		st.Participants = append(st.Participants, ParticipantStatus{
			UserID:  p.UserID,
			Role:    p.Role,
			ConnID:  p.ConnID,
			VideoOn: p.VideoOn,
			AudioOn: p.AudioOn,
		})
	}
	return st
}
