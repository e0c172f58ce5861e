package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/atomic"
)

// ClientConfig configures a websocket connection to an agent.
type ClientConfig struct {
	// URL of the agent endpoint, e.g. ws://127.0.0.1:7788/agent.
	URL string

	// Timeout fails a request the agent did not answer in time with
	// ErrTimeout. Zero waits forever.
	Timeout time.Duration

	// OnNotification is called from the reader goroutine for every
	// notification the agent pushes.
	OnNotification NotifyFunc

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
}

type pendingCall struct {
	complete func(Message, error)
	timer    *time.Timer
}

// Client is a Remote backed by a websocket connection. Completions are called
// from the reader goroutine, from a timer, or synchronously when the request
// cannot be sent; wrap it with WithPoster.
type Client struct {
	cfg    ClientConfig
	logger *slog.Logger
	conn   *websocket.Conn

	nextID  *atomic.Uint64
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[uint64]*pendingCall
	closed  bool

	done chan struct{}
}

// Dial connects to the agent at cfg.URL and starts reading.
func Dial(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	conn, _, err := dialer.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial agent %s: %w", cfg.URL, err)
	}

	c := &Client{
		cfg:     cfg,
		logger:  cfg.Logger,
		conn:    conn,
		nextID:  atomic.NewUint64(0),
		pending: map[uint64]*pendingCall{},
		done:    make(chan struct{}),
	}
	go c.readLoop()

	c.logger.Info("agent connected", "url", cfg.URL)
	return c, nil
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close closes the connection. Pending requests fail with ErrDisconnected.
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.writeMu.Unlock()

	err := c.conn.Close()
	<-c.done
	return err
}

func (c *Client) readLoop() {
	defer close(c.done)
	defer c.failAll()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !errors.Is(err, net.ErrClosed) {
				c.logger.Warn("agent read error", "error", err)
			}
			return
		}

		var m Message
		if err := json.Unmarshal(data, &m); err != nil {
			c.logger.Warn("malformed agent message", "error", err)
			continue
		}

		switch m.Kind {
		case KindReply:
			if call := c.take(m.ID); call != nil {
				call.complete(m, nil)
			}
		case KindNotification:
			n, err := DecodeNotification(m)
			if err != nil {
				c.logger.Warn("dropping notification", "type", m.Type, "error", err)
				continue
			}
			if c.cfg.OnNotification != nil {
				c.cfg.OnNotification(n)
			}
		default:
			c.logger.Debug("unhandled agent message", "kind", m.Kind, "type", m.Type)
		}
	}
}

func (c *Client) failAll() {
	c.mu.Lock()
	c.closed = true
	calls := c.pending
	c.pending = map[uint64]*pendingCall{}
	c.mu.Unlock()

	for _, call := range calls {
		if call.timer != nil {
			call.timer.Stop()
		}
		call.complete(Message{}, ErrDisconnected)
	}
}

// take removes the pending call id. Whoever takes it completes it.
func (c *Client) take(id uint64) *pendingCall {
	c.mu.Lock()
	defer c.mu.Unlock()

	call, ok := c.pending[id]
	if !ok {
		return nil
	}
	delete(c.pending, id)
	if call.timer != nil {
		call.timer.Stop()
	}
	return call
}

func (c *Client) register(id uint64, call *pendingCall) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	c.pending[id] = call
	if c.cfg.Timeout > 0 {
		call.timer = time.AfterFunc(c.cfg.Timeout, func() {
			if call := c.take(id); call != nil {
				call.complete(Message{}, ErrTimeout)
			}
		})
	}
	return true
}

func (c *Client) write(m Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func roundTrip[Req, Rep any](c *Client, typ string, req Req, cb func(error, Rep)) {
	complete := func(m Message, err error) {
		var rep Rep
		if err == nil {
			if jerr := json.Unmarshal(m.Payload, &rep); jerr != nil {
				err = fmt.Errorf("decode %s reply: %w", typ, jerr)
			}
		}
		cb(err, rep)
	}

	id := c.nextID.Inc()
	m, err := newMessage(KindRequest, typ, id, req)
	if err != nil {
		complete(Message{}, err)
		return
	}
	if !c.register(id, &pendingCall{complete: complete}) {
		complete(Message{}, ErrDisconnected)
		return
	}
	if err := c.write(m); err != nil {
		if call := c.take(id); call != nil {
			call.complete(Message{}, fmt.Errorf("%w: %v", ErrDisconnected, err))
		}
	}
}

func (c *Client) AddOrChangeBreakpoint(req AddOrChangeBreakpointRequest, cb func(error, AddOrChangeBreakpointReply)) {
	roundTrip(c, TypeAddOrChangeBreakpoint, req, cb)
}

func (c *Client) RemoveBreakpoint(req RemoveBreakpointRequest, cb func(error, RemoveBreakpointReply)) {
	roundTrip(c, TypeRemoveBreakpoint, req, cb)
}

func (c *Client) Resume(req ResumeRequest, cb func(error, ResumeReply)) {
	roundTrip(c, TypeResume, req, cb)
}

func (c *Client) ReadRegisters(req ReadRegistersRequest, cb func(error, ReadRegistersReply)) {
	roundTrip(c, TypeReadRegisters, req, cb)
}

func (c *Client) ReadMemory(req ReadMemoryRequest, cb func(error, ReadMemoryReply)) {
	roundTrip(c, TypeReadMemory, req, cb)
}
