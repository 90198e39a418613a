// Package realtime implements the in-process fanout of poll updates to
// live viewers. Rooms are keyed by poll id and exist only for the process
// uptime; nothing here touches persisted state.
package realtime

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/livepoll/api/internal/core/domain"
)

// Update is one fanout message: a full, self-consistent poll snapshot.
type Update struct {
	PollID uuid.UUID
	Poll   *domain.Poll
}

// Subscriber is the handle for one live connection. Updates for every room
// the subscriber has joined arrive on a single buffered channel.
type Subscriber struct {
	ID uuid.UUID
	ch chan Update
}

// Updates returns the channel the hub delivers on. It is closed when the
// subscriber is detached.
func (s *Subscriber) Updates() <-chan Update {
	return s.ch
}

// Hub is an explicit room registry mapping poll ids to subscriber sets. A
// single instance is constructed at the composition root and handed to the
// vote pipeline and the websocket handler.
type Hub struct {
	logger *slog.Logger

	mu    sync.RWMutex
	rooms map[uuid.UUID]map[*Subscriber]struct{}
	subs  map[*Subscriber]map[uuid.UUID]struct{}
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger: logger,
		rooms:  make(map[uuid.UUID]map[*Subscriber]struct{}),
		subs:   make(map[*Subscriber]map[uuid.UUID]struct{}),
	}
}

// Attach registers a new connection with the hub. The buffer bounds how
// many undelivered updates a subscriber may fall behind before publishes
// to it are dropped.
func (h *Hub) Attach(buffer int) *Subscriber {
	sub := &Subscriber{
		ID: uuid.New(),
		ch: make(chan Update, buffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[sub] = make(map[uuid.UUID]struct{})
	return sub
}

// Join adds the subscriber to the poll's room. Joining a room the
// subscriber is already in is a no-op, so a double join never results in
// duplicate deliveries. Join reports whether the subscriber is attached.
func (h *Hub) Join(sub *Subscriber, pollID uuid.UUID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	joined, ok := h.subs[sub]
	if !ok {
		return false
	}
	if _, already := joined[pollID]; already {
		return true
	}
	joined[pollID] = struct{}{}

	room, ok := h.rooms[pollID]
	if !ok {
		room = make(map[*Subscriber]struct{})
		h.rooms[pollID] = room
	}
	room[sub] = struct{}{}
	return true
}

// Leave removes the subscriber from one room. Safe to call for rooms the
// subscriber never joined.
func (h *Hub) Leave(sub *Subscriber, pollID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(sub, pollID)
}

// Detach removes the subscriber from every room and closes its channel.
// Safe to call multiple times and on subscribers already detached.
func (h *Hub) Detach(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	joined, ok := h.subs[sub]
	if !ok {
		return
	}
	for pollID := range joined {
		h.leaveLocked(sub, pollID)
	}
	delete(h.subs, sub)
	close(sub.ch)
}

// Publish delivers the snapshot to every subscriber currently in the
// poll's room. Delivery is fire-and-forget: a subscriber whose buffer is
// full is skipped rather than blocking the publisher.
func (h *Hub) Publish(pollID uuid.UUID, poll *domain.Poll) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.rooms[pollID] {
		select {
		case sub.ch <- Update{PollID: pollID, Poll: poll}:
		default:
			h.logger.Warn("dropping update for slow subscriber",
				"poll_id", pollID, "subscriber_id", sub.ID)
		}
	}
}

// RoomSize reports how many subscribers are currently in the poll's room.
func (h *Hub) RoomSize(pollID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[pollID])
}

func (h *Hub) leaveLocked(sub *Subscriber, pollID uuid.UUID) {
	if joined, ok := h.subs[sub]; ok {
		delete(joined, pollID)
	}
	if room, ok := h.rooms[pollID]; ok {
		delete(room, sub)
		if len(room) == 0 {
			delete(h.rooms, pollID)
		}
	}
}
