package relay

import (
	"bytes"
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"rigrelay/internal/protocol"
)

type delivered struct {
	fromUID uint32
	msgType protocol.MessageType
	payload []byte
}

// fakeOutbound records deliveries instead of writing to a socket. A non-zero
// capacity makes it behave like a full channel once reached.
type fakeOutbound struct {
	mu       sync.Mutex
	capacity int
	discard  bool
	queued   []delivered
	resets   int
	stops    int
	running  bool
}

func (f *fakeOutbound) Reset(slot int, conn net.Conn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	f.running = true
}

func (f *fakeOutbound) Queue(fromUID uint32, t protocol.MessageType, payload []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		return false
	}
	if f.capacity > 0 && len(f.queued) >= f.capacity {
		return false
	}
	if f.discard {
		return true
	}
	f.queued = append(f.queued, delivered{
		fromUID: fromUID,
		msgType: t,
		payload: append([]byte(nil), payload...),
	})
	return true
}

func (f *fakeOutbound) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.running = false
}

func (f *fakeOutbound) messages() []delivered {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]delivered(nil), f.queued...)
}

func (f *fakeOutbound) countType(t protocol.MessageType) int {
	count := 0
	for _, d := range f.messages() {
		if d.msgType == t {
			count++
		}
	}
	return count
}

func (f *fakeOutbound) setCapacity(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.capacity = n
}

type fakeInbound struct {
	mu     sync.Mutex
	resets int
	stops  int
}

func (f *fakeInbound) Reset(slot int, conn net.Conn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
}

func (f *fakeInbound) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
}

type fakeAddr string

func (a fakeAddr) Network() string { return "tcp" }
func (a fakeAddr) String() string  { return string(a) }

// fakeConn captures writes (the WELCOME frame) and reports EOF on reads.
type fakeConn struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (c *fakeConn) Read(p []byte) (int, error) { return 0, net.ErrClosed }
func (c *fakeConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(p)
}
func (c *fakeConn) Close() error                       { return nil }
func (c *fakeConn) LocalAddr() net.Addr                { return fakeAddr("local") }
func (c *fakeConn) RemoteAddr() net.Addr               { return fakeAddr("10.0.0.1:5000") }
func (c *fakeConn) SetDeadline(t time.Time) error      { return nil }
func (c *fakeConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *fakeConn) SetWriteDeadline(t time.Time) error { return nil }

func (c *fakeConn) written() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.buf.Bytes()...)
}

func newTestLogger() *zerolog.Logger {
	logger := zerolog.Nop()
	return &logger
}

func testContext(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	return context.WithTimeout(context.Background(), 2*time.Second)
}

func newTestRegistry(t *testing.T, capacity int) (*Registry, []*fakeOutbound) {
	t.Helper()

	logger := zerolog.Nop()
	outs := make([]*fakeOutbound, 0, capacity)
	r, err := New(capacity, &logger, Deps{
		NewOutbound: func() Outbound {
			f := &fakeOutbound{}
			outs = append(outs, f)
			return f
		},
		NewInbound: func(*Registry) Inbound { return &fakeInbound{} },
	})
	require.NoError(t, err)

	r.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		require.NoError(t, r.Shutdown(ctx))
	})
	return r, outs
}

func join(t *testing.T, r *Registry, name string) (int, uint32, *fakeConn) {
	t.Helper()

	conn := &fakeConn{}
	slot, uid, err := r.CreateClient(conn, protocol.Credential{Username: name, UniqueID: name + "-id"})
	require.NoError(t, err)
	return slot, uid, conn
}

func joinFlowing(t *testing.T, r *Registry, name string) (int, uint32) {
	t.Helper()

	slot, uid, _ := join(t, r, name)
	r.EnableFlow(slot)
	return slot, uid
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func waitSlotFree(t *testing.T, r *Registry, slot int) {
	t.Helper()

	waitFor(t, func() bool {
		for _, info := range r.Snapshot() {
			if info.Slot == slot {
				return false
			}
		}
		return true
	}, "slot teardown")
}
