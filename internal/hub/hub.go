// Package hub is the room-scoped publish/subscribe transport consumed by the
// workflow engine. Rooms are plain strings: each team token is a room, and
// the shared observer rooms carry full component updates for UI consistency.
package hub

import (
	"context"
	"sync"

	"decoflow/internal/domain"
)

// Publisher delivers one notification to everyone joined to its room.
type Publisher interface {
	Publish(ctx context.Context, n domain.Notification) error
}

const subscriptionBuffer = 32

// Hub is an in-process room registry.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]map[*Subscription]struct{}
}

// Subscription is one connection's membership in a set of rooms. Messages
// arrive on C; the channel is closed when the subscription is dropped.
type Subscription struct {
	C chan domain.Notification

	hub    *Hub
	rooms  []string
	closed bool
}

// New returns an empty hub.
func New() *Hub {
	return &Hub{rooms: make(map[string]map[*Subscription]struct{})}
}

// Subscribe joins the given rooms and returns the subscription.
func (h *Hub) Subscribe(rooms ...string) *Subscription {
	sub := &Subscription{
		C:     make(chan domain.Notification, subscriptionBuffer),
		hub:   h,
		rooms: rooms,
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, room := range rooms {
		if room == "" {
			continue
		}
		members, ok := h.rooms[room]
		if !ok {
			members = make(map[*Subscription]struct{})
			h.rooms[room] = members
		}
		members[sub] = struct{}{}
	}
	return sub
}

// Publish fans a notification out to every member of its room. A subscriber
// whose buffer is full is dropped rather than stalling the batch; delivery
// ordering within one subscription follows publish order.
func (h *Hub) Publish(_ context.Context, n domain.Notification) error {
	h.mu.Lock()
	var dropped []*Subscription
	for sub := range h.rooms[n.Room] {
		select {
		case sub.C <- n:
		default:
			dropped = append(dropped, sub)
		}
	}
	h.mu.Unlock()
	for _, sub := range dropped {
		sub.Close()
	}
	return nil
}

// Close leaves all rooms and closes the message channel. Safe to call more
// than once.
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for _, room := range s.rooms {
		members, ok := s.hub.rooms[room]
		if !ok {
			continue
		}
		delete(members, s)
		if len(members) == 0 {
			delete(s.hub.rooms, room)
		}
	}
	close(s.C)
}

// Rooms returns the rooms this subscription joined.
func (s *Subscription) Rooms() []string { return s.rooms }
