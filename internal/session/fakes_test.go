package session

import (
	"errors"
	"sync"
	"testing"
	"time"

	"chatrelay/pkg/interfaces"
	"chatrelay/pkg/types"
)

var errFakeClosed = errors.New("fake connection closed")

// eventLog records side effects across fakes so tests can assert ordering.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(event string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *eventLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type fakeConn struct {
	id       string
	inbound  chan []byte
	writes   chan any
	hangupCh chan struct{}
	closed   chan struct{}
	events   *eventLog

	mu         sync.Mutex
	writeErr   error
	closeCount int
	hangupOnce sync.Once
	closeOnce  sync.Once
}

func newFakeConn(id string, events *eventLog) *fakeConn {
	return &fakeConn{
		id:       id,
		inbound:  make(chan []byte, 16),
		writes:   make(chan any, 256),
		hangupCh: make(chan struct{}),
		closed:   make(chan struct{}),
		events:   events,
	}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.inbound:
		return data, nil
	case <-c.hangupCh:
		return nil, errFakeClosed
	case <-c.closed:
		return nil, errFakeClosed
	}
}

func (c *fakeConn) WriteJSON(v any) error {
	select {
	case <-c.closed:
		return errFakeClosed
	default:
	}
	c.mu.Lock()
	err := c.writeErr
	c.mu.Unlock()
	if err != nil {
		return err
	}
	if _, ok := v.(types.NewMessageFrame); ok && c.events != nil {
		c.events.add("conn.write_message")
	}
	c.writes <- v
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closeCount++
	c.mu.Unlock()
	c.closeOnce.Do(func() {
		if c.events != nil {
			c.events.add("conn.close")
		}
		close(c.closed)
	})
	return nil
}

func (c *fakeConn) send(data string) { c.inbound <- []byte(data) }

// hangup makes the next read fail as if the peer dropped.
func (c *fakeConn) hangup() { c.hangupOnce.Do(func() { close(c.hangupCh) }) }

func (c *fakeConn) setWriteErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
}

func (c *fakeConn) closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCount
}

func (c *fakeConn) nextWrite(t *testing.T) any {
	t.Helper()
	select {
	case v := <-c.writes:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a write")
		return nil
	}
}

func (c *fakeConn) assertNoWrite(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case v := <-c.writes:
		t.Fatalf("unexpected write: %#v", v)
	case <-time.After(wait):
	}
}

type sentFrame struct {
	to      int64
	payload any
}

type fakeRegistry struct {
	mu          sync.Mutex
	conns       map[int64]interfaces.Connection
	sent        []sentFrame
	registerErr error
	events      *eventLog
}

func newFakeRegistry(events *eventLog) *fakeRegistry {
	return &fakeRegistry{conns: make(map[int64]interfaces.Connection), events: events}
}

func (r *fakeRegistry) Register(id int64, conn interfaces.Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.registerErr != nil {
		return r.registerErr
	}
	r.conns[id] = conn
	return nil
}

func (r *fakeRegistry) Unregister(id int64, conn interfaces.Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.events != nil {
		r.events.add("registry.unregister")
	}
	if r.conns[id] != conn {
		return false
	}
	delete(r.conns, id)
	return true
}

func (r *fakeRegistry) SendTo(id int64, payload any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.events != nil {
		r.events.add("registry.send_to")
	}
	r.sent = append(r.sent, sentFrame{to: id, payload: payload})
	_, ok := r.conns[id]
	return ok
}

func (r *fakeRegistry) registered(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.conns[id]
	return ok
}

func (r *fakeRegistry) sentFrames() []sentFrame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sentFrame(nil), r.sent...)
}
