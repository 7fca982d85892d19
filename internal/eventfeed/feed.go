// Package eventfeed broadcasts session updates to websocket subscribers.
package eventfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/rbright/murmur/internal/fsm"
	"github.com/rbright/murmur/internal/remote"
	"github.com/rbright/murmur/internal/session"
)

const (
	clientBuffer = 64
	writeTimeout = 5 * time.Second
)

// Event types.
const (
	TypeInterim   = "interim"
	TypeSegment   = "segment"
	TypeState     = "state"
	TypeWarning   = "warning"
	TypeFatal     = "fatal"
	TypeFinalized = "finalized"
)

// Event is one JSON message on the feed.
type Event struct {
	Type      string    `json:"type"`
	State     string    `json:"state,omitempty"`
	Text      string    `json:"text,omitempty"`
	Kind      string    `json:"kind,omitempty"`
	Message   string    `json:"message,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	At        time.Time `json:"at"`
}

var _ session.Presenter = (*Feed)(nil)

// Feed is a session.Presenter fanning events out to websocket clients.
// Slow clients are disconnected rather than allowed to block the session.
type Feed struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader
	now      func() time.Time

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

// New constructs an empty feed.
func New(logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Feed{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		now:     time.Now,
		clients: make(map[*client]struct{}),
	}
}

// Routes mounts /healthz and /events.
func (f *Feed) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Get("/events", f.handleEvents)
	return r
}

// Serve accepts HTTP connections on listener until ctx is cancelled.
func (f *Feed) Serve(ctx context.Context, listener net.Listener) error {
	server := &http.Server{
		Handler:           f.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(listener)
	}()
	f.logger.Info("event feed listening", "addr", listener.Addr().String())

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		err := server.Shutdown(shutdownCtx)
		f.closeAll()
		<-errCh
		return err
	case err := <-errCh:
		f.closeAll()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve event feed: %w", err)
	}
}

// Clients reports connected subscribers.
func (f *Feed) Clients() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

func (f *Feed) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Warn("event feed upgrade failed", "error", err.Error())
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientBuffer)}
	f.mu.Lock()
	f.clients[c] = struct{}{}
	f.mu.Unlock()

	go f.writeLoop(c)
	f.readLoop(c)
}

// readLoop discards client messages and notices disconnects.
func (f *Feed) readLoop(c *client) {
	defer f.drop(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (f *Feed) writeLoop(c *client) {
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			f.drop(c)
			return
		}
	}
	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeTimeout),
	)
}

func (f *Feed) drop(c *client) {
	f.mu.Lock()
	delete(f.clients, c)
	f.mu.Unlock()
	c.once.Do(func() { close(c.send) })
}

func (f *Feed) closeAll() {
	f.mu.Lock()
	clients := make([]*client, 0, len(f.clients))
	for c := range f.clients {
		clients = append(clients, c)
	}
	f.mu.Unlock()

	for _, c := range clients {
		f.drop(c)
	}
}

func (f *Feed) broadcast(ev Event) {
	ev.At = f.now().UTC()
	msg, err := json.Marshal(ev)
	if err != nil {
		f.logger.Error("encode feed event", "error", err.Error())
		return
	}

	f.mu.Lock()
	var slow []*client
	for c := range f.clients {
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	f.mu.Unlock()

	for _, c := range slow {
		f.logger.Warn("dropping slow event feed client")
		f.drop(c)
	}
}

func (f *Feed) OnInterimUpdate(text string) {
	f.broadcast(Event{Type: TypeInterim, Text: text})
}

func (f *Feed) OnSegmentAccepted(text string) {
	f.broadcast(Event{Type: TypeSegment, Text: text})
}

func (f *Feed) OnSessionStateChanged(state fsm.State) {
	f.broadcast(Event{Type: TypeState, State: string(state)})
}

func (f *Feed) OnWarning(kind, message string) {
	f.broadcast(Event{Type: TypeWarning, Kind: kind, Message: message})
}

func (f *Feed) OnFatalError(kind, message string) {
	f.broadcast(Event{Type: TypeFatal, Kind: kind, Message: message})
}

func (f *Feed) OnTranscriptFinalized(id remote.SessionID, text string) {
	f.broadcast(Event{Type: TypeFinalized, SessionID: string(id), Text: text})
}
