package watchbus

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

const r1Countdown = `{"record_id":"r1","remaining":{"wt":299}}`

// snapshotOf records which record each connecting watcher asked for.
func snapshotOf(asked chan<- string) SnapshotFunc {
	return func(recordID string) [][]byte {
		asked <- recordID
		if recordID == "" || recordID == "r1" {
			return [][]byte{[]byte(r1Countdown)}
		}
		return nil
	}
}

func openSSE(t *testing.T, ctx context.Context, url string) *bufio.Reader {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	return bufio.NewReader(resp.Body)
}

// readEvent returns the data of the next countdown event.
func readEvent(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	var lines []string
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		if line == "" {
			break
		}
		lines = append(lines, line)
	}
	if len(lines) != 2 || lines[0] != "event: countdown" || !strings.HasPrefix(lines[1], "data: ") {
		t.Fatalf("malformed event %q", lines)
	}
	return strings.TrimPrefix(lines[1], "data: ")
}

func TestSSEHandlerSendsSnapshotThenUpdates(t *testing.T) {
	bus := NewInMemory()
	asked := make(chan string, 1)
	srv := httptest.NewServer(SSEHandler(bus, WithSnapshot(snapshotOf(asked))))
	t.Cleanup(srv.Close)

	events := openSSE(t, context.Background(), srv.URL+"?record=r1")
	if got := <-asked; got != "r1" {
		t.Fatalf("snapshot asked for %q", got)
	}
	if got := readEvent(t, events); got != r1Countdown {
		t.Fatalf("expected the snapshot first, got %s", got)
	}

	waitWatchers(t, bus, RecordKey("r1"), 1)
	if err := bus.Publish(context.Background(), RecordKey("r1"), []byte(`{"record_id":"r1","remaining":{"wt":298}}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if got := readEvent(t, events); !strings.Contains(got, "298") {
		t.Fatalf("unexpected update %s", got)
	}
}

func TestSSEHandlerDefaultsToSharedFeed(t *testing.T) {
	bus := NewInMemory()
	asked := make(chan string, 1)
	srv := httptest.NewServer(SSEHandler(bus, WithSnapshot(snapshotOf(asked))))
	t.Cleanup(srv.Close)

	events := openSSE(t, context.Background(), srv.URL)
	if got := <-asked; got != "" {
		t.Fatalf("shared feed snapshot asked for %q", got)
	}
	readEvent(t, events)

	waitWatchers(t, bus, AllKey, 1)
	if bus.Watchers(RecordKey("r9")) != 0 {
		t.Fatal("shared feed must not register a record watcher")
	}
	if err := Broadcast(context.Background(), bus, "r9", []byte("tick")); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	if got := readEvent(t, events); got != "tick" {
		t.Fatalf("unexpected update %s", got)
	}
}

func TestSSEHandlerUnwatchesOnDisconnect(t *testing.T) {
	bus := NewInMemory()
	srv := httptest.NewServer(SSEHandler(bus))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	openSSE(t, ctx, srv.URL+"?record=r1")
	waitWatchers(t, bus, RecordKey("r1"), 1)
	cancel()
	waitWatchers(t, bus, RecordKey("r1"), 0)
}

type failingWriter struct{ header http.Header }

func (w *failingWriter) Header() http.Header       { return w.header }
func (w *failingWriter) Write([]byte) (int, error) { return 0, errors.New("write failed") }
func (w *failingWriter) WriteHeader(int)           {}
func (w *failingWriter) Flush()                    {}

func TestSSEHandlerWriteErrorUnwatches(t *testing.T) {
	bus := NewInMemory()
	req := httptest.NewRequest(http.MethodGet, "/?record=r1", nil)
	done := make(chan struct{})
	go func() {
		SSEHandler(bus)(&failingWriter{header: make(http.Header)}, req)
		close(done)
	}()

	waitWatchers(t, bus, RecordKey("r1"), 1)
	_ = bus.Publish(context.Background(), RecordKey("r1"), []byte("tick"))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler kept running after a failed write")
	}
	if n := bus.Watchers(RecordKey("r1")); n != 0 {
		t.Fatalf("expected watcher removed after write error, got %d", n)
	}
}

type plainWriter struct {
	header http.Header
	status int
}

func (w *plainWriter) Header() http.Header         { return w.header }
func (w *plainWriter) Write(b []byte) (int, error) { return len(b), nil }
func (w *plainWriter) WriteHeader(s int)           { w.status = s }

func TestSSEHandlerRequiresFlusher(t *testing.T) {
	w := &plainWriter{header: make(http.Header)}
	SSEHandler(NewInMemory())(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.status != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.status)
	}
}

func dialFeed(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+query, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	return conn
}

func TestWebSocketHandlerSendsSnapshotThenUpdates(t *testing.T) {
	bus := NewInMemory()
	asked := make(chan string, 1)
	srv := httptest.NewServer(WebSocketHandler(bus, WithSnapshot(snapshotOf(asked))))
	defer srv.Close()

	conn := dialFeed(t, srv, "?record=r1")
	if _, msg, err := conn.ReadMessage(); err != nil || string(msg) != r1Countdown {
		t.Fatalf("expected the snapshot first, got %s (%v)", msg, err)
	}
	waitWatchers(t, bus, RecordKey("r1"), 1)

	if err := Broadcast(context.Background(), bus, "r1", []byte("tick")); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	if _, msg, err := conn.ReadMessage(); err != nil || string(msg) != "tick" {
		t.Fatalf("unexpected update %s (%v)", msg, err)
	}
}

func TestWebSocketHandlerUnwatchesOnShutdown(t *testing.T) {
	bus := NewInMemory()
	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewUnstartedServer(WebSocketHandler(bus))
	srv.Config.BaseContext = func(net.Listener) context.Context { return ctx }
	srv.Start()
	defer srv.Close()

	dialFeed(t, srv, "")
	waitWatchers(t, bus, AllKey, 1)
	cancel()
	waitWatchers(t, bus, AllKey, 0)
}

func waitWatchers(t *testing.T, bus *InMemoryWatchBus, key string, n int) {
	t.Helper()
	for i := 0; i < 100; i++ {
		if bus.Watchers(key) == n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected %d watchers on %s, got %d", n, key, bus.Watchers(key))
}
