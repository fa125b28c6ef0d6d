package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// mockClient creates a Client with a send channel but no real connection.
func mockClient(hub *Hub, householdID string) *Client {
	return &Client{
		hub:         hub,
		conn:        nil,
		householdID: householdID,
		send:        make(chan []byte, sendBufferSize),
	}
}

func TestRegisterUnregister(t *testing.T) {
	hub := NewHub(slog.Default())

	c1 := mockClient(hub, "h1")
	c2 := mockClient(hub, "h2")

	hub.Register(c1)
	hub.Register(c2)

	if got := hub.ClientCount(); got != 2 {
		t.Fatalf("expected 2 clients, got %d", got)
	}
	if got := hub.RoomCount(); got != 2 {
		t.Fatalf("expected 2 rooms, got %d", got)
	}

	hub.Unregister(c1)

	if got := hub.ClientCount(); got != 1 {
		t.Fatalf("expected 1 client after unregister, got %d", got)
	}
	if got := hub.RoomCount(); got != 1 {
		t.Fatalf("expected empty room to be removed, got %d rooms", got)
	}

	hub.Unregister(c2)

	if got := hub.ClientCount(); got != 0 {
		t.Fatalf("expected 0 clients, got %d", got)
	}
}

func TestDoubleUnregister(t *testing.T) {
	hub := NewHub(slog.Default())
	c := mockClient(hub, "h1")
	hub.Register(c)
	hub.Unregister(c)
	// Should not panic
	hub.Unregister(c)

	if got := hub.ClientCount(); got != 0 {
		t.Fatalf("expected 0 clients, got %d", got)
	}
}

func TestBroadcastScopedToRoom(t *testing.T) {
	hub := NewHub(slog.Default())

	member1 := mockClient(hub, "h1")
	member2 := mockClient(hub, "h1")
	outsider := mockClient(hub, "h2")
	hub.Register(member1)
	hub.Register(member2)
	hub.Register(outsider)

	msg := NewMessage("items", "created", "item-42", map[string]any{"name": "ladder"})
	hub.Broadcast("h1", msg)

	for _, c := range []*Client{member1, member2} {
		select {
		case data := <-c.send:
			var got Message
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got.Type != "items_created" {
				t.Errorf("expected type items_created, got %s", got.Type)
			}
			if got.ID != "item-42" {
				t.Errorf("expected id item-42, got %s", got.ID)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatal("timeout waiting for message")
		}
	}

	select {
	case <-outsider.send:
		t.Fatal("client in another room received the message")
	default:
	}

	hub.Unregister(member1)
	hub.Unregister(member2)
	hub.Unregister(outsider)
}

func TestBroadcastEmptyRoom(t *testing.T) {
	hub := NewHub(slog.Default())
	// Should not panic
	hub.Broadcast("h1", NewMessage("items", "deleted", "x", nil))
}

func TestBroadcastFullBuffer(t *testing.T) {
	hub := NewHub(slog.Default())

	c := mockClient(hub, "h1")
	hub.Register(c)

	// Fill the send buffer
	for i := 0; i < sendBufferSize; i++ {
		hub.Broadcast("h1", NewMessage("items", "updated", "fill", nil))
	}

	// This should drop the message, not panic or block
	hub.Broadcast("h1", NewMessage("items", "updated", "dropped", nil))

	// Drain to verify buffer was full
	count := 0
	for {
		select {
		case <-c.send:
			count++
		default:
			goto done
		}
	}
done:
	if count != sendBufferSize {
		t.Errorf("expected %d messages, got %d", sendBufferSize, count)
	}

	hub.Unregister(c)
}

func TestNewMessage(t *testing.T) {
	msg := NewMessage("households", "updated", "h5", nil)
	if msg.Type != "households_updated" {
		t.Errorf("expected type households_updated, got %s", msg.Type)
	}
	if msg.Collection != "households" {
		t.Errorf("expected collection households, got %s", msg.Collection)
	}
	if msg.Action != "updated" {
		t.Errorf("expected action updated, got %s", msg.Action)
	}
	if msg.ID != "h5" {
		t.Errorf("expected id h5, got %s", msg.ID)
	}
}

func TestSnapshotMessage(t *testing.T) {
	docs := []map[string]any{{"id": "a"}, {"id": "b"}}
	msg := SnapshotMessage("items", docs)
	if msg.Type != "snapshot" {
		t.Errorf("expected type snapshot, got %s", msg.Type)
	}
	if len(msg.Docs) != 2 {
		t.Errorf("expected 2 docs, got %d", len(msg.Docs))
	}
}

func TestConcurrentAccess(t *testing.T) {
	hub := NewHub(slog.Default())
	var wg sync.WaitGroup

	// Spawn goroutines that register, broadcast, and unregister concurrently
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := mockClient(hub, "h1")
			hub.Register(c)
			hub.Broadcast("h1", NewMessage("items", "updated", "x", nil))
			// Drain any messages
			for {
				select {
				case <-c.send:
				default:
					hub.Unregister(c)
					return
				}
			}
		}()
	}

	wg.Wait()

	if got := hub.ClientCount(); got != 0 {
		t.Errorf("expected 0 clients after concurrent test, got %d", got)
	}
}
