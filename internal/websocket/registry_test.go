package websocket

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chatrelay/pkg/types"
)

type stubConn struct {
	id       string
	mu       sync.Mutex
	written  []any
	writeErr error
	closes   atomic.Int32
}

func newStubConn(id string) *stubConn { return &stubConn{id: id} }

func (c *stubConn) ID() string                   { return c.id }
func (c *stubConn) ReadMessage() ([]byte, error) { return nil, io.EOF }

func (c *stubConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.written = append(c.written, v)
	return nil
}

func (c *stubConn) Close() error {
	c.closes.Add(1)
	return nil
}

func (c *stubConn) frames() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]any(nil), c.written...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(testLogger())
	conn := newStubConn("a")

	req.NoError(registry.Register(42, conn))
	got, ok := registry.Lookup(42)
	req.True(ok)
	req.Equal(conn, got)
	req.Equal(1, registry.Count())

	_, ok = registry.Lookup(43)
	req.False(ok)
}

func TestRegistry_RegisterRejectsInvalid(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(testLogger())

	req.ErrorIs(registry.Register(42, nil), ErrNilConnection)
	req.ErrorIs(registry.Register(0, newStubConn("a")), types.ErrInvalidParticipant)
	req.Zero(registry.Count())
}

func TestRegistry_ReplaceClosesOldConnection(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(testLogger())
	first := newStubConn("first")
	second := newStubConn("second")

	req.NoError(registry.Register(42, first))
	req.NoError(registry.Register(42, second))

	got, _ := registry.Lookup(42)
	req.Equal(second, got)
	req.Eventually(func() bool { return first.closes.Load() == 1 }, time.Second, time.Millisecond)
	req.Zero(second.closes.Load())

	// The superseded session's teardown must not remove the new binding.
	req.False(registry.Unregister(42, first))
	got, ok := registry.Lookup(42)
	req.True(ok)
	req.Equal(second, got)

	req.True(registry.Unregister(42, second))
	req.False(registry.Unregister(42, second))
	req.Zero(registry.Count())
}

func TestRegistry_SendTo(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(testLogger())
	conn := newStubConn("a")
	req.NoError(registry.Register(42, conn))

	req.True(registry.SendTo(42, "hello"))
	req.Equal([]any{"hello"}, conn.frames())

	req.False(registry.SendTo(99, "nobody"))

	conn.writeErr = errors.New("broken")
	req.False(registry.SendTo(42, "lost"))
}

func TestRegistry_Broadcast(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(testLogger())
	admin := newStubConn("admin")
	a := newStubConn("a")
	b := newStubConn("b")
	broken := newStubConn("broken")
	broken.writeErr = errors.New("broken")

	req.NoError(registry.Register(types.AdminID, admin))
	req.NoError(registry.Register(10, a))
	req.NoError(registry.Register(11, b))
	req.NoError(registry.Register(12, broken))

	delivered := registry.Broadcast("notice", types.AdminID)
	req.Equal(2, delivered)
	req.Empty(admin.frames())
	req.Len(a.frames(), 1)
	req.Len(b.frames(), 1)
}

func TestRegistry_StatsAndCloseAll(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(testLogger())
	req.False(registry.Stats().AdminOnline)

	admin := newStubConn("admin")
	user := newStubConn("user")
	req.NoError(registry.Register(types.AdminID, admin))
	req.NoError(registry.Register(42, user))

	stats := registry.Stats()
	req.Equal(2, stats.Connections)
	req.True(stats.AdminOnline)
	req.Equal([]int64{1, 42}, stats.Participants)

	req.Equal(2, registry.CloseAll())
	req.Equal(int32(1), admin.closes.Load())
	req.Equal(int32(1), user.closes.Load())
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	registry := NewRegistry(testLogger())
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			conn := newStubConn("c")
			_ = registry.Register(id, conn)
			registry.SendTo(id, "x")
			registry.Stats()
			registry.Unregister(id, conn)
		}(int64(i%10 + 2))
	}
	wg.Wait()
}
