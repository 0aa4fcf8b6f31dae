package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type published struct {
	roomID  uuid.UUID
	connID  string
	payload []byte
}

type mockRelay struct {
	mu   sync.Mutex
	sent []published
	err  error
}

func (m *mockRelay) Publish(_ context.Context, roomID uuid.UUID, connID string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, published{roomID, connID, payload})
	return m.err
}

func (m *mockRelay) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func newTestHub() *Hub {
	return NewHub(zerolog.Nop())
}

func readFrame(t *testing.T, c *Client) Frame {
	t.Helper()
	select {
	case msg := <-c.Send:
		var f Frame
		if err := json.Unmarshal(msg, &f); err != nil {
			t.Fatalf("failed to unmarshal frame: %v", err)
		}
		return f
	case <-time.After(time.Second):
		t.Fatal("client did not receive frame")
	}
	return Frame{}
}

func expectNoFrame(t *testing.T, c *Client) {
	t.Helper()
	select {
	case msg := <-c.Send:
		t.Fatalf("unexpected frame %s", msg)
	default:
	}
}

func TestHub_RegisterClient(t *testing.T) {
	hub := newTestHub()
	room := uuid.New()
	hub.Register(NewClient(room, uuid.New(), "doctor"))

	if hub.ClientCount() != 1 {
		t.Fatalf("expected 1 client, got %d", hub.ClientCount())
	}
	if hub.RoomCount(room) != 1 {
		t.Fatalf("expected 1 client in room, got %d", hub.RoomCount(room))
	}
}

func TestHub_UnregisterClosesChannel(t *testing.T) {
	hub := newTestHub()
	client := NewClient(uuid.New(), uuid.New(), "patient")
	hub.Register(client)
	hub.Unregister(client)

	if hub.ClientCount() != 0 {
		t.Fatalf("expected 0 clients, got %d", hub.ClientCount())
	}
	if _, ok := <-client.Send; ok {
		t.Fatal("expected Send channel to be closed")
	}

	// second unregister must not panic on double close
	hub.Unregister(client)
}

func TestHub_EmitRoomOnlyReachesRoom(t *testing.T) {
	hub := newTestHub()
	room, other := uuid.New(), uuid.New()
	a := NewClient(room, uuid.New(), "doctor")
	b := NewClient(room, uuid.New(), "patient")
	outsider := NewClient(other, uuid.New(), "patient")
	hub.Register(a)
	hub.Register(b)
	hub.Register(outsider)

	hub.EmitRoom(room, "user_joined", map[string]string{"role": "doctor"})

	for _, c := range []*Client{a, b} {
		f := readFrame(t, c)
		if f.Event != "user_joined" || f.RoomID != room {
			t.Errorf("unexpected frame %+v", f)
		}
		if f.Timestamp.IsZero() {
			t.Error("expected timestamp on frame")
		}
	}
	expectNoFrame(t, outsider)
}

func TestHub_EmitToTargetsConnection(t *testing.T) {
	hub := newTestHub()
	room := uuid.New()
	a := NewClient(room, uuid.New(), "doctor")
	b := NewClient(room, uuid.New(), "patient")
	hub.Register(a)
	hub.Register(b)

	hub.EmitTo(room, b.ID, "signal", map[string]string{"from": a.ID})

	f := readFrame(t, b)
	if f.Event != "signal" {
		t.Errorf("expected signal, got %s", f.Event)
	}
	expectNoFrame(t, a)
}

func TestHub_FullBufferSkipsClient(t *testing.T) {
	hub := newTestHub()
	room := uuid.New()
	slow := &Client{ID: "slow", RoomID: room, Send: make(chan []byte, 1)}
	hub.Register(slow)

	hub.EmitRoom(room, "one", nil)
	hub.EmitRoom(room, "two", nil)

	if f := readFrame(t, slow); f.Event != "one" {
		t.Errorf("expected first frame to be kept, got %s", f.Event)
	}
	expectNoFrame(t, slow)
}

func TestHub_RelayForwarding(t *testing.T) {
	hub := newTestHub()
	relay := &mockRelay{}
	hub.SetRelay(relay)
	room := uuid.New()
	local := NewClient(room, uuid.New(), "doctor")
	hub.Register(local)

	hub.EmitRoom(room, "chat_message", "hola")
	if relay.count() != 1 {
		t.Fatalf("expected room broadcast to be relayed, got %d", relay.count())
	}

	hub.EmitTo(room, local.ID, "signal", nil)
	if relay.count() != 1 {
		t.Error("direct frame delivered locally must not be relayed")
	}

	hub.EmitTo(room, "remote-conn", "signal", nil)
	if relay.count() != 2 {
		t.Fatalf("expected frame for unknown connection to be relayed, got %d", relay.count())
	}
	if relay.sent[1].connID != "remote-conn" {
		t.Errorf("expected target conn id on relayed frame, got %q", relay.sent[1].connID)
	}
}

func TestHub_RelayErrorDoesNotBlockLocal(t *testing.T) {
	hub := newTestHub()
	hub.SetRelay(&mockRelay{err: errors.New("redis down")})
	room := uuid.New()
	c := NewClient(room, uuid.New(), "doctor")
	hub.Register(c)

	hub.EmitRoom(room, "room_ended", nil)
	if f := readFrame(t, c); f.Event != "room_ended" {
		t.Errorf("expected room_ended, got %s", f.Event)
	}
}

func TestHub_SendSkipsRelay(t *testing.T) {
	hub := newTestHub()
	relay := &mockRelay{}
	hub.SetRelay(relay)
	c := NewClient(uuid.New(), uuid.New(), "patient")
	hub.Register(c)

	hub.Send(c, "room_status", map[string]string{"state": "waiting"})
	readFrame(t, c)
	if relay.count() != 0 {
		t.Error("direct replies must stay local")
	}
}

func TestHub_ConcurrentRegisterUnregister(t *testing.T) {
	hub := newTestHub()
	room := uuid.New()
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := NewClient(room, uuid.New(), "patient")
			hub.Register(c)
			hub.EmitRoom(room, "ping", nil)
			hub.Unregister(c)
		}()
	}
	wg.Wait()

	if hub.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after concurrent churn, got %d", hub.ClientCount())
	}
}
