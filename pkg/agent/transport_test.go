package agent

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	mu        sync.Mutex
	calls     []string
	addStatus Status
	memory    []byte
	block     chan struct{}
}

func (b *fakeBackend) record(call string) {
	b.mu.Lock()
	b.calls = append(b.calls, call)
	b.mu.Unlock()
}

func (b *fakeBackend) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

func (b *fakeBackend) AddOrChangeBreakpoint(req AddOrChangeBreakpointRequest) AddOrChangeBreakpointReply {
	b.record(TypeAddOrChangeBreakpoint)
	if !b.addStatus.OK() {
		return AddOrChangeBreakpointReply{Status: b.addStatus}
	}
	return AddOrChangeBreakpointReply{Locations: req.Breakpoint.Locations}
}

func (b *fakeBackend) RemoveBreakpoint(req RemoveBreakpointRequest) RemoveBreakpointReply {
	b.record(TypeRemoveBreakpoint)
	return RemoveBreakpointReply{}
}

func (b *fakeBackend) Resume(req ResumeRequest) ResumeReply {
	b.record(TypeResume)
	if b.block != nil {
		<-b.block
	}
	return ResumeReply{}
}

func (b *fakeBackend) ReadRegisters(req ReadRegistersRequest) ReadRegistersReply {
	b.record(TypeReadRegisters)
	return ReadRegistersReply{Registers: Registers{IP: 0x1000, SP: 0x7ff0, BP: 0x7ff8}}
}

func (b *fakeBackend) ReadMemory(req ReadMemoryRequest) ReadMemoryReply {
	b.record(TypeReadMemory)
	return ReadMemoryReply{Data: b.memory[:req.Size]}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startServer(t *testing.T, b Backend) (*Server, string) {
	t.Helper()
	srv := NewServer(ServerConfig{Backend: b, Logger: discardLogger()})
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	t.Cleanup(func() { srv.Close() })
	return srv, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func dial(t *testing.T, url string, cfg ClientConfig) *Client {
	t.Helper()
	cfg.URL = url
	cfg.Logger = discardLogger()
	c, err := Dial(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

type result[T any] struct {
	err   error
	reply T
}

func await[T any](t *testing.T, ch chan result[T]) result[T] {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("no completion")
		return result[T]{}
	}
}

func capture[T any]() (chan result[T], func(error, T)) {
	ch := make(chan result[T], 1)
	return ch, func(err error, reply T) { ch <- result[T]{err, reply} }
}

func TestClientServerRoundTrip(t *testing.T) {
	b := &fakeBackend{memory: []byte{0x55, 0x48, 0x89, 0xe5}}
	_, url := startServer(t, b)
	c := dial(t, url, ClientConfig{})

	locs := []ProcessBreakpointSettings{{ProcessKoid: 100, Address: 0x1000}}
	addCh, addCb := capture[AddOrChangeBreakpointReply]()
	c.AddOrChangeBreakpoint(AddOrChangeBreakpointRequest{Breakpoint: BreakpointSettings{ID: 1, Locations: locs}}, addCb)
	add := await(t, addCh)
	require.NoError(t, add.err)
	assert.True(t, add.reply.Status.OK())
	assert.Equal(t, locs, add.reply.Locations)

	regCh, regCb := capture[ReadRegistersReply]()
	c.ReadRegisters(ReadRegistersRequest{ProcessKoid: 100, ThreadKoid: 101}, regCb)
	regs := await(t, regCh)
	require.NoError(t, regs.err)
	assert.Equal(t, uint64(0x7ff8), regs.reply.Registers.BP)

	memCh, memCb := capture[ReadMemoryReply]()
	c.ReadMemory(ReadMemoryRequest{ProcessKoid: 100, Address: 0x1000, Size: 2}, memCb)
	mem := await(t, memCh)
	require.NoError(t, mem.err)
	assert.Equal(t, []byte{0x55, 0x48}, mem.reply.Data)

	rmCh, rmCb := capture[RemoveBreakpointReply]()
	c.RemoveBreakpoint(RemoveBreakpointRequest{ID: 1}, rmCb)
	require.NoError(t, await(t, rmCh).err)

	assert.Equal(t, []string{TypeAddOrChangeBreakpoint, TypeReadRegisters, TypeReadMemory, TypeRemoveBreakpoint}, b.Calls())
}

func TestClientSurfacesAgentStatus(t *testing.T) {
	b := &fakeBackend{addStatus: Errorf(StatusIOError, "cannot write %#x", 0x1000)}
	_, url := startServer(t, b)
	c := dial(t, url, ClientConfig{})

	ch, cb := capture[AddOrChangeBreakpointReply]()
	c.AddOrChangeBreakpoint(AddOrChangeBreakpointRequest{}, cb)
	r := await(t, ch)
	require.NoError(t, r.err)

	var statusErr *StatusError
	require.ErrorAs(t, r.reply.Status.Err(), &statusErr)
	assert.Equal(t, StatusIOError, statusErr.Status.Code)
	assert.Equal(t, "agent error 3: cannot write 0x1000", statusErr.Error())
}

func TestServerRejectsUnknownRequest(t *testing.T) {
	_, url := startServer(t, &fakeBackend{})

	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.WriteJSON(Message{Kind: KindRequest, Type: "format_disk", ID: 7}))

	var reply Message
	require.NoError(t, ws.ReadJSON(&reply))
	assert.Equal(t, KindReply, reply.Kind)
	assert.Equal(t, uint64(7), reply.ID)

	var body struct {
		Status Status `json:"status"`
	}
	require.NoError(t, json.Unmarshal(reply.Payload, &body))
	assert.Equal(t, StatusInvalidArgs, body.Status.Code)
}

func TestNotificationsReachClient(t *testing.T) {
	srv, url := startServer(t, &fakeBackend{})

	got := make(chan Notification, 4)
	dial(t, url, ClientConfig{OnNotification: func(n Notification) { got <- n }})
	require.Eventually(t, func() bool { return srv.Connections() == 1 }, 5*time.Second, 10*time.Millisecond)

	sent := []Notification{
		NotifyProcessStarting{Koid: 100, Name: "demo"},
		NotifyModules{ProcessKoid: 100, Modules: []Module{{Name: "demo", Path: "/bin/demo", Base: 0x400000, Size: 0x1000}}},
		NotifyException{
			ProcessKoid:    100,
			ThreadKoid:     101,
			Type:           ExceptionSoftwareBreakpoint,
			IP:             0x401000,
			HitBreakpoints: []BreakpointStats{{ID: 1, HitCount: 2, ShouldDelete: true}},
		},
		NotifyProcessExiting{Koid: 100, ReturnCode: 3},
	}
	for _, n := range sent {
		srv.Notify(n)
	}

	for _, want := range sent {
		select {
		case n := <-got:
			assert.Equal(t, want, n)
		case <-time.After(5 * time.Second):
			t.Fatalf("missing %T", want)
		}
	}
}

func TestLateClientGetsReplay(t *testing.T) {
	srv, url := startServer(t, &fakeBackend{})

	mods := NotifyModules{ProcessKoid: 100, Modules: []Module{{Name: "demo", Path: "/bin/demo", Base: 0x400000}}}
	for _, n := range []Notification{
		NotifyProcessStarting{Koid: 200, Name: "gone"},
		NotifyProcessStarting{Koid: 100, Name: "demo"},
		NotifyThreadStarting{ProcessKoid: 100, ThreadKoid: 102},
		NotifyThreadStarting{ProcessKoid: 100, ThreadKoid: 101},
		NotifyThreadStarting{ProcessKoid: 100, ThreadKoid: 103},
		NotifyThreadExiting{ProcessKoid: 100, ThreadKoid: 103},
		mods,
		NotifyException{ProcessKoid: 100, ThreadKoid: 101, Type: ExceptionSignal},
		NotifyProcessExiting{Koid: 200},
	} {
		srv.Notify(n)
	}

	got := make(chan Notification, 8)
	dial(t, url, ClientConfig{OnNotification: func(n Notification) { got <- n }})

	want := []Notification{
		NotifyProcessStarting{Koid: 100, Name: "demo"},
		NotifyThreadStarting{ProcessKoid: 100, ThreadKoid: 101},
		NotifyThreadStarting{ProcessKoid: 100, ThreadKoid: 102},
		mods,
	}
	for _, w := range want {
		select {
		case n := <-got:
			assert.Equal(t, w, n)
		case <-time.After(5 * time.Second):
			t.Fatalf("missing %T", w)
		}
	}
	select {
	case n := <-got:
		t.Fatalf("unexpected %#v", n)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDecodeNotificationUnknown(t *testing.T) {
	_, err := DecodeNotification(Message{Kind: KindNotification, Type: "reboot"})
	assert.ErrorIs(t, err, ErrUnknownMessage)
}

func TestClientTimeout(t *testing.T) {
	b := &fakeBackend{block: make(chan struct{})}
	_, url := startServer(t, b)
	c := dial(t, url, ClientConfig{Timeout: 20 * time.Millisecond})
	t.Cleanup(func() { close(b.block) })

	ch, cb := capture[ResumeReply]()
	c.Resume(ResumeRequest{ProcessKoid: 100}, cb)
	assert.ErrorIs(t, await(t, ch).err, ErrTimeout)
}

func TestClientDisconnect(t *testing.T) {
	srv, url := startServer(t, &fakeBackend{})
	c := dial(t, url, ClientConfig{})
	require.Eventually(t, func() bool { return srv.Connections() == 1 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, srv.Close())
	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("client did not notice the disconnect")
	}

	ch, cb := capture[ResumeReply]()
	c.Resume(ResumeRequest{}, cb)
	assert.ErrorIs(t, await(t, ch).err, ErrDisconnected)
}

func TestLocal(t *testing.T) {
	b := &fakeBackend{memory: []byte{1, 2, 3}}
	l := NewLocal(b)

	var (
		mu    sync.Mutex
		order []int
	)
	done := make(chan struct{})
	for i := 0; i < 3; i++ {
		i := i
		l.Resume(ResumeRequest{}, func(err error, _ ResumeReply) {
			assert.NoError(t, err)
			mu.Lock()
			order = append(order, i)
			n := len(order)
			mu.Unlock()
			if n == 3 {
				close(done)
			}
		})
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("local requests did not complete")
	}
	assert.Equal(t, []int{0, 1, 2}, order)

	require.NoError(t, l.Close())
	ch, cb := capture[RemoveBreakpointReply]()
	l.RemoveBreakpoint(RemoveBreakpointRequest{ID: 1}, cb)
	assert.ErrorIs(t, await(t, ch).err, ErrDisconnected)
	assert.Equal(t, []string{TypeResume, TypeResume, TypeResume}, b.Calls())
}
