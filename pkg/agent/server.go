package agent

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ServerConfig configures a Server.
type ServerConfig struct {
	Backend Backend

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Server exposes a Backend to websocket clients. It is an http.Handler; mount
// it wherever the agent listens. Requests from all connections are served one
// at a time, in arrival order per connection.
type Server struct {
	backend  Backend
	logger   *slog.Logger
	upgrader websocket.Upgrader

	// serializes backend calls across connections
	backendMu sync.Mutex

	connMu sync.RWMutex
	conns  map[*serverConn]struct{}
	closed bool
	// guarded by connMu, replayed to clients that connect late
	world *world
}

type serverConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func (c *serverConn) write(m Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// NewServer creates a server over cfg.Backend.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{
		backend: cfg.Backend,
		logger:  cfg.Logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: map[*serverConn]struct{}{},
		world: newWorld(),
	}
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.connMu.RLock()
	closed := s.closed
	s.connMu.RUnlock()
	if closed {
		http.Error(w, "agent shutting down", http.StatusServiceUnavailable)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}
	s.logger.Info("client connected", "remote", r.RemoteAddr)

	c := &serverConn{ws: ws}
	s.connMu.Lock()
	for _, n := range s.world.replay() {
		if err := s.send(c, n); err != nil {
			s.connMu.Unlock()
			ws.Close()
			return
		}
	}
	s.conns[c] = struct{}{}
	s.connMu.Unlock()

	s.serve(c)
}

func (s *Server) serve(c *serverConn) {
	defer func() {
		s.connMu.Lock()
		delete(s.conns, c)
		s.connMu.Unlock()

		c.ws.Close()
		s.logger.Info("client disconnected", "remote", c.ws.RemoteAddr())
	}()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !errors.Is(err, net.ErrClosed) {
				s.logger.Warn("websocket read error", "error", err)
			}
			return
		}

		var m Message
		if err := json.Unmarshal(data, &m); err != nil {
			s.logger.Warn("malformed client message", "error", err)
			continue
		}
		if m.Kind != KindRequest {
			s.logger.Debug("ignoring client message", "kind", m.Kind, "type", m.Type)
			continue
		}

		s.backendMu.Lock()
		reply, err := dispatch(s.backend, m)
		s.backendMu.Unlock()
		if err != nil {
			s.logger.Warn("bad request", "type", m.Type, "id", m.ID, "error", err)
			reply, err = newMessage(KindReply, m.Type, m.ID, struct {
				Status Status `json:"status"`
			}{Errorf(StatusInvalidArgs, "%v", err)})
			if err != nil {
				continue
			}
		}

		if err := c.write(reply); err != nil {
			s.logger.Warn("write reply failed", "type", m.Type, "error", err)
			return
		}
	}
}

// Notify pushes n to every connected client. Process, thread and module
// notifications are also remembered so a client connecting later learns about
// everything that is still alive.
func (s *Server) Notify(n Notification) {
	m, err := NotificationMessage(n)
	if err != nil {
		s.logger.Error("encode notification", "error", err)
		return
	}

	s.connMu.Lock()
	defer s.connMu.Unlock()
	s.world.apply(n)
	for c := range s.conns {
		if err := c.write(m); err != nil {
			s.logger.Debug("notify failed", "remote", c.ws.RemoteAddr(), "error", err)
		}
	}
}

func (s *Server) send(c *serverConn, n Notification) error {
	m, err := NotificationMessage(n)
	if err != nil {
		return err
	}
	if err := c.write(m); err != nil {
		s.logger.Debug("replay failed", "remote", c.ws.RemoteAddr(), "error", err)
		return err
	}
	return nil
}

// Connections reports the number of connected clients.
func (s *Server) Connections() int {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return len(s.conns)
}

// Close disconnects every client and rejects new ones.
func (s *Server) Close() error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	s.closed = true
	for c := range s.conns {
		c.writeMu.Lock()
		_ = c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "agent shutdown"),
			time.Now().Add(time.Second),
		)
		c.writeMu.Unlock()
		c.ws.Close()
	}
	return nil
}
