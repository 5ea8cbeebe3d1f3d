package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/roadside-dispatch/internal/models"
	"github.com/example/roadside-dispatch/internal/observability"
)

const wsWriteTimeout = 5 * time.Second

// WSSession represents one client following a request's status.
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
	// since is the time of the snapshot the client started from; older
	// events are not sent.
	since time.Time
}

func (s *WSSession) Send(e models.StatusEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.At.Before(s.since) {
		return nil
	}
	return s.write(e)
}

func (s *WSSession) write(e models.StatusEvent) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return s.conn.WriteJSON(e)
}

// WSRegistry holds status feed sessions keyed by request id. It is an
// events.Sink.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]map[*WSSession]struct{}
	Logger   *slog.Logger
}

func NewWSRegistry(logger *slog.Logger) *WSRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSRegistry{sessions: make(map[string]map[*WSSession]struct{}), Logger: logger}
}

func (r *WSRegistry) Add(requestID string, conn *websocket.Conn) *WSSession {
	s := &WSSession{conn: conn}
	r.register(requestID, s)
	return s
}

// Subscribe registers conn for requestID before reading the current state,
// then writes that state as the first frame. Events published meanwhile
// wait behind the snapshot, so no transition is lost.
func (r *WSRegistry) Subscribe(requestID string, conn *websocket.Conn, current func() (models.StatusEvent, error)) (*WSSession, error) {
	s := &WSSession{conn: conn}
	s.mu.Lock()
	r.register(requestID, s)
	snap, err := current()
	if err == nil {
		s.since = snap.At
		err = s.write(snap)
	}
	s.mu.Unlock()
	if err != nil {
		r.Remove(requestID, s)
		return nil, err
	}
	return s, nil
}

func (r *WSRegistry) register(requestID string, s *WSSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[requestID] == nil {
		r.sessions[requestID] = make(map[*WSSession]struct{})
	}
	r.sessions[requestID][s] = struct{}{}
	observability.WSSessions.Inc()
}

func (r *WSRegistry) Remove(requestID string, s *WSSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.sessions[requestID]
	if !ok {
		return
	}
	if _, ok := set[s]; !ok {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(r.sessions, requestID)
	}
	observability.WSSessions.Dec()
	_ = s.conn.Close()
}

func (r *WSRegistry) Count(requestID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions[requestID])
}

// Listen blocks reading from the session until the peer goes away, then
// unregisters it. Incoming frames are ignored.
func (r *WSRegistry) Listen(requestID string, s *WSSession) {
	defer r.Remove(requestID, s)
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Publish pushes e to every session following e.RequestID. Sessions that
// fail are dropped; the event itself never fails.
func (r *WSRegistry) Publish(_ context.Context, e models.StatusEvent) error {
	r.mu.RLock()
	targets := make([]*WSSession, 0, len(r.sessions[e.RequestID]))
	for s := range r.sessions[e.RequestID] {
		targets = append(targets, s)
	}
	r.mu.RUnlock()

	for _, s := range targets {
		if err := s.Send(e); err != nil {
			r.Logger.Debug("ws send error", "request_id", e.RequestID, "error", err)
			r.Remove(e.RequestID, s)
		}
	}
	return nil
}
