package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/livepoll/api/internal/core/domain"
	"github.com/livepoll/api/internal/realtime"
)

const (
	// subscriberBuffer bounds how far a connection may fall behind before
	// the hub starts dropping snapshots for it. Each message carries full
	// state, so dropped intermediates are recovered by the next delivery.
	subscriberBuffer = 16
	wsWriteTimeout   = 5 * time.Second
)

type WSHandler struct {
	hub    *realtime.Hub
	logger *slog.Logger
}

func NewWSHandler(hub *realtime.Hub, logger *slog.Logger) *WSHandler {
	return &WSHandler{
		hub:    hub,
		logger: logger,
	}
}

type clientEvent struct {
	Event  string `json:"event"`
	PollID string `json:"poll_id"`
}

type serverEvent struct {
	Event        string       `json:"event"`
	PollID       string       `json:"poll_id,omitempty"`
	ConnectionID string       `json:"connection_id,omitempty"`
	Poll         *domain.Poll `json:"poll,omitempty"`
}

// Serve upgrades the connection and runs its lifecycle: a read loop turns
// joinPoll events into room membership, while the write loop interleaves
// join acknowledgments with voteUpdated deliveries from the hub. All
// writes go through the single loop below.
func (h *WSHandler) Serve(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		return
	}

	sub := h.hub.Attach(subscriberBuffer)
	defer h.hub.Detach(sub)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	h.logger.Info("client connected", "connection_id", sub.ID)

	joins := make(chan uuid.UUID)
	readErr := make(chan error, 1)
	go func() {
		for {
			var evt clientEvent
			if err := wsjson.Read(ctx, conn, &evt); err != nil {
				readErr <- err
				return
			}
			if evt.Event != "joinPoll" {
				continue
			}
			pollID, err := uuid.Parse(evt.PollID)
			if err != nil {
				h.logger.Warn("ignoring joinPoll with bad poll id",
					"connection_id", sub.ID, "poll_id", evt.PollID)
				continue
			}
			select {
			case joins <- pollID:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case <-readErr:
			h.logger.Info("client disconnected", "connection_id", sub.ID)
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case pollID := <-joins:
			h.hub.Join(sub, pollID)
			ack := serverEvent{
				Event:        "joinedPoll",
				PollID:       pollID.String(),
				ConnectionID: sub.ID.String(),
			}
			if !h.write(ctx, conn, ack) {
				return
			}
		case upd, ok := <-sub.Updates():
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "closed")
				return
			}
			evt := serverEvent{
				Event:  "voteUpdated",
				PollID: upd.PollID.String(),
				Poll:   upd.Poll,
			}
			if !h.write(ctx, conn, evt) {
				return
			}
		}
	}
}

func (h *WSHandler) write(ctx context.Context, conn *websocket.Conn, evt serverEvent) bool {
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()

	if err := wsjson.Write(writeCtx, conn, evt); err != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "write_failed")
		return false
	}
	return true
}
