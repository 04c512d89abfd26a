package rpc

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"metatx/core/events"
	"metatx/core/types"
	"metatx/observability"
)

const (
	wsWriteTimeout       = 10 * time.Second
	subscriberBufferSize = 64
)

type subscriber struct {
	filter string
	ch     chan *types.Event
}

// Hub fans committed events out to websocket subscribers. It implements
// events.Emitter. Subscribers that fall behind lose events rather than
// blocking the node.
type Hub struct {
	logger *slog.Logger

	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{
		logger: slog.Default().With(slog.String("component", "rpc.ws")),
		subs:   make(map[*subscriber]struct{}),
	}
}

// Emit implements events.Emitter.
func (h *Hub) Emit(evt events.Event) {
	if h == nil || evt == nil {
		return
	}
	payload := evt.Event()
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		if sub.filter != "" && sub.filter != payload.Type {
			continue
		}
		select {
		case sub.ch <- payload:
		default:
			h.logger.Warn("dropping event for slow subscriber", slog.String("type", payload.Type))
		}
	}
}

// Subscribe registers a subscriber for events of eventType, or every event
// when eventType is empty. The returned cancel function must be called.
func (h *Hub) Subscribe(eventType string) (<-chan *types.Event, func()) {
	sub := &subscriber{filter: strings.TrimSpace(eventType), ch: make(chan *types.Event, subscriberBufferSize)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	observability.Events().SubscriberDelta(1)

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, sub)
			h.mu.Unlock()
			observability.Events().SubscriberDelta(-1)
		})
	}
}

func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		http.Error(w, "event stream unavailable", http.StatusServiceUnavailable)
		return
	}
	eventType := r.URL.Query().Get("type")
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	// Peers never send messages; CloseRead cancels ctx once they disconnect.
	ctx := conn.CloseRead(r.Context())
	if err := s.streamEvents(ctx, conn, eventType); err != nil {
		if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, eventType string) error {
	updates, cancel := s.hub.Subscribe(eventType)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt := <-updates:
			if err := writeEvent(ctx, conn, evt); err != nil {
				return err
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, evt *types.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
