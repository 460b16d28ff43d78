package watchbus

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
)

// SnapshotFunc returns the messages a new watcher receives before live
// updates, e.g. the countdowns already running. An empty recordID asks
// for every record.
type SnapshotFunc func(recordID string) [][]byte

// HandlerOption configures SSEHandler and WebSocketHandler.
type HandlerOption func(*handler)

// WithSnapshot sends the output of fn when a watcher connects.
func WithSnapshot(fn SnapshotFunc) HandlerOption {
	return func(h *handler) { h.snapshot = fn }
}

type handler struct {
	bus      WatchBus
	snapshot SnapshotFunc
}

func newHandler(bus WatchBus, opts []HandlerOption) *handler {
	h := &handler{bus: bus}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// stream watches the feed selected by the "record" query parameter, or the
// shared feed without one, and hands every message to send until the
// request ends or send fails. The snapshot is sent after the watch is in
// place so no update falls in between.
func (h *handler) stream(r *http.Request, ready func(), send func([]byte) error) error {
	id := r.URL.Query().Get("record")
	key := AllKey
	if id != "" {
		key = RecordKey(id)
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	ch, err := h.bus.Watch(ctx, key)
	if err != nil {
		return err
	}
	defer func() { _ = h.bus.Unwatch(context.Background(), key, ch) }()

	ready()
	if h.snapshot != nil {
		for _, msg := range h.snapshot(id) {
			if err := send(msg); err != nil {
				return nil
			}
		}
	}
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if err := send(msg); err != nil {
				return nil
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// SSEHandler streams countdown updates over Server-Sent Events.
func SSEHandler(bus WatchBus, opts ...HandlerOption) http.HandlerFunc {
	h := newHandler(bus, opts)
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "stream unsupported", http.StatusInternalServerError)
			return
		}
		ready := func() {
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("Connection", "keep-alive")
			w.WriteHeader(http.StatusOK)
			flusher.Flush()
		}
		send := func(msg []byte) error {
			if _, err := fmt.Fprintf(w, "event: countdown\ndata: %s\n\n", msg); err != nil {
				return err
			}
			flusher.Flush()
			return nil
		}
		if err := h.stream(r, ready, send); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

var upgrader = websocket.Upgrader{}

// WebSocketHandler streams countdown updates over WebSocket, one text
// message per update.
func WebSocketHandler(bus WatchBus, opts ...HandlerOption) http.HandlerFunc {
	h := newHandler(bus, opts)
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		send := func(msg []byte) error {
			return conn.WriteMessage(websocket.TextMessage, msg)
		}
		if err := h.stream(r, func() {}, send); err != nil {
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseInternalServerErr, err.Error()))
		}
	}
}
