package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"chatrelay/internal/router"
	"chatrelay/pkg/interfaces/mocks"
	"chatrelay/pkg/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	config := DefaultConfig()
	config.PingInterval = time.Hour
	config.MaxMissedPongs = 0
	config.PersistTimeout = time.Second
	return config
}

type harness struct {
	conn         *fakeConn
	registry     *fakeRegistry
	store        *mocks.MockMessageStore
	storeSession *mocks.MockStoreSession
	events       *eventLog
	session      *Session
	done         chan error
}

func newHarness(t *testing.T, role types.Role, participantID int64, config Config) *harness {
	ctrl := gomock.NewController(t)
	events := &eventLog{}
	h := &harness{
		conn:         newFakeConn("conn-1", events),
		registry:     newFakeRegistry(events),
		store:        mocks.NewMockMessageStore(ctrl),
		storeSession: mocks.NewMockStoreSession(ctrl),
		events:       events,
		done:         make(chan error, 1),
	}
	deps := Dependencies{
		Registry: h.registry,
		Store:    h.store,
		Router:   router.NewRouter(router.DefaultConfig(), discardLogger()),
	}
	h.session = New(role, participantID, h.conn, deps, config, discardLogger())
	return h
}

func (h *harness) expectHandshake() {
	h.store.EXPECT().OpenSession(gomock.Any()).Return(h.storeSession, nil)
	h.storeSession.EXPECT().Close().DoAndReturn(func() error {
		h.events.add("store.close")
		return nil
	})
}

func (h *harness) start(ctx context.Context) {
	go func() { h.done <- h.session.Run(ctx) }()
}

func (h *harness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("session did not finish")
		return nil
	}
}

func (h *harness) expectConnected(t *testing.T, participantID int64) {
	t.Helper()
	frame, ok := h.conn.nextWrite(t).(types.ConnectedFrame)
	require.True(t, ok)
	require.Equal(t, types.FrameTypeConnected, frame.Type)
	require.Equal(t, participantID, frame.UserID)
}

func storedMessage(id, sender, receiver int64, content string) *types.Message {
	return &types.Message{
		ID:         id,
		Content:    content,
		SenderID:   sender,
		ReceiverID: &receiver,
		CreatedAt:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestSession_UserMessageRoutesToAdmin(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, types.RoleUser, 42, testConfig())
	h.expectHandshake()
	h.storeSession.EXPECT().
		Append(gomock.Any(), int64(42), types.AdminID, "hi").
		Return(storedMessage(7, 42, types.AdminID, "hi"), nil)

	h.start(context.Background())
	h.expectConnected(t, 42)
	req.Equal(StateEstablished, h.session.State())
	req.True(h.registry.registered(42))

	h.conn.send(`{"type":"message","content":"hi","message_id":"c1"}`)

	echo, ok := h.conn.nextWrite(t).(types.NewMessageFrame)
	req.True(ok)
	req.Equal("c1", echo.MessageID)
	req.Equal(int64(42), echo.UserID)
	req.Equal(int64(42), echo.SenderID)
	req.False(echo.IsFromAdmin)

	h.conn.hangup()
	req.NoError(h.wait(t))

	sent := h.registry.sentFrames()
	req.Len(sent, 1)
	req.Equal(types.AdminID, sent[0].to)
	req.Equal(echo, sent[0].payload)
}

func TestSession_PersistsBeforeDelivery(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, types.RoleUser, 42, testConfig())
	h.expectHandshake()
	h.storeSession.EXPECT().
		Append(gomock.Any(), int64(42), types.AdminID, "in order").
		DoAndReturn(func(context.Context, int64, int64, string) (*types.Message, error) {
			h.events.add("store.append")
			return storedMessage(11, 42, types.AdminID, "in order"), nil
		})

	h.start(context.Background())
	h.expectConnected(t, 42)

	h.conn.send(`{"type":"message","content":"in order"}`)
	_, ok := h.conn.nextWrite(t).(types.NewMessageFrame)
	req.True(ok)

	h.conn.hangup()
	req.NoError(h.wait(t))

	req.Equal([]string{
		"store.append",
		"conn.write_message",
		"registry.send_to",
		"registry.unregister",
		"store.close",
		"conn.close",
	}, h.events.all())
}

func TestSession_AdminMessageRoutesToTarget(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, types.RoleAdmin, types.AdminID, testConfig())
	h.expectHandshake()
	h.storeSession.EXPECT().
		Append(gomock.Any(), types.AdminID, int64(99), "hello").
		Return(storedMessage(8, types.AdminID, 99, "hello"), nil)

	h.start(context.Background())
	h.expectConnected(t, types.AdminID)

	h.conn.send(`{"type":"admin_message","user_id":99,"content":"hello"}`)
	echo, ok := h.conn.nextWrite(t).(types.NewMessageFrame)
	req.True(ok)
	req.Empty(echo.MessageID)
	req.Equal(int64(99), echo.UserID)
	req.True(echo.IsFromAdmin)

	h.conn.hangup()
	req.NoError(h.wait(t))

	sent := h.registry.sentFrames()
	req.Len(sent, 1)
	req.Equal(int64(99), sent[0].to)
}

func TestSession_IgnoresInvalidFrames(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, types.RoleAdmin, types.AdminID, testConfig())
	h.expectHandshake()
	h.storeSession.EXPECT().
		Append(gomock.Any(), types.AdminID, int64(5), "valid").
		Return(storedMessage(1, types.AdminID, 5, "valid"), nil)

	h.start(context.Background())
	h.expectConnected(t, types.AdminID)

	h.conn.send(`not json`)
	h.conn.send(`{"type":"typing"}`)
	h.conn.send(`{"type":"admin_message","content":"no target"}`)
	h.conn.send(`{"type":"admin_message","user_id":5,"content":""}`)
	h.conn.send(`{"type":"message","content":"wrong role"}`)
	h.conn.send(`{"type":"admin_message","user_id":5,"content":"valid"}`)

	// Only the valid frame produces output, and it arrives after the others
	// were consumed in order.
	echo, ok := h.conn.nextWrite(t).(types.NewMessageFrame)
	req.True(ok)
	req.Equal("valid", echo.Content)
	req.Equal(StateEstablished, h.session.State())

	h.conn.hangup()
	req.NoError(h.wait(t))
}

func TestSession_PersistFailureSendsErrorAndContinues(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, types.RoleUser, 42, testConfig())
	h.expectHandshake()
	gomock.InOrder(
		h.storeSession.EXPECT().
			Append(gomock.Any(), int64(42), types.AdminID, "first").
			Return(nil, errors.New("disk full")),
		h.storeSession.EXPECT().
			Append(gomock.Any(), int64(42), types.AdminID, "second").
			Return(storedMessage(2, 42, types.AdminID, "second"), nil),
	)

	h.start(context.Background())
	h.expectConnected(t, 42)

	h.conn.send(`{"type":"message","content":"first","message_id":"a"}`)
	errFrame, ok := h.conn.nextWrite(t).(types.ErrorFrame)
	req.True(ok)
	req.Equal(types.ErrorCodePersistFailed, errFrame.Code)
	req.Equal("a", errFrame.MessageID)

	h.conn.send(`{"type":"message","content":"second","message_id":"b"}`)
	echo, ok := h.conn.nextWrite(t).(types.NewMessageFrame)
	req.True(ok)
	req.Equal("b", echo.MessageID)

	h.conn.hangup()
	req.NoError(h.wait(t))

	// Nothing about the failed message reached the counterpart.
	sent := h.registry.sentFrames()
	req.Len(sent, 1)
	req.Equal(echo, sent[0].payload)
}

func TestSession_RateLimitedSenderGetsErrorFrame(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	store := mocks.NewMockMessageStore(ctrl)
	storeSession := mocks.NewMockStoreSession(ctrl)
	store.EXPECT().OpenSession(gomock.Any()).Return(storeSession, nil)
	storeSession.EXPECT().Close().Return(nil)
	storeSession.EXPECT().
		Append(gomock.Any(), int64(42), types.AdminID, "one").
		Return(storedMessage(1, 42, types.AdminID, "one"), nil)

	conn := newFakeConn("conn-rl", nil)
	registry := newFakeRegistry(nil)
	deps := Dependencies{
		Registry: registry,
		Store:    store,
		Router:   router.NewRouter(router.Config{RateLimit: 1, RateWindow: time.Hour}, discardLogger()),
	}
	s := New(types.RoleUser, 42, conn, deps, testConfig(), discardLogger())

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()
	_ = conn.nextWrite(t)

	conn.send(`{"type":"message","content":"one"}`)
	_, ok := conn.nextWrite(t).(types.NewMessageFrame)
	req.True(ok)

	conn.send(`{"type":"message","content":"two","message_id":"x"}`)
	errFrame, ok := conn.nextWrite(t).(types.ErrorFrame)
	req.True(ok)
	req.Equal(types.ErrorCodeRateLimited, errFrame.Code)
	req.Equal("x", errFrame.MessageID)

	conn.hangup()
	req.NoError(<-done)
}

func TestSession_TeardownOrder(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, types.RoleUser, 42, testConfig())
	h.expectHandshake()

	h.start(context.Background())
	h.expectConnected(t, 42)

	h.conn.hangup()
	req.NoError(h.wait(t))

	req.Equal(StateClosed, h.session.State())
	req.False(h.registry.registered(42))
	req.Equal([]string{"registry.unregister", "store.close", "conn.close"}, h.events.all())
	req.Equal(1, h.conn.closes())
}

func TestSession_ContextCancellationClosesSession(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, types.RoleUser, 42, testConfig())
	h.expectHandshake()

	ctx, cancel := context.WithCancel(context.Background())
	h.start(ctx)
	h.expectConnected(t, 42)

	cancel()
	req.NoError(h.wait(t))
	req.Equal(StateClosed, h.session.State())
	req.False(h.registry.registered(42))
}

func TestSession_StoreUnavailable(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, types.RoleUser, 42, testConfig())
	h.store.EXPECT().OpenSession(gomock.Any()).Return(nil, errors.New("db down"))

	err := h.session.Run(context.Background())
	req.ErrorIs(err, ErrStoreUnavailable)
	req.Equal(StateClosed, h.session.State())
	req.False(h.registry.registered(42))
	req.Equal(1, h.conn.closes())
}

func TestSession_RegistrationFailureReleasesStoreSession(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, types.RoleUser, 42, testConfig())
	h.expectHandshake()
	h.registry.registerErr = errors.New("rejected")

	err := h.session.Run(context.Background())
	req.ErrorIs(err, ErrRegistration)
	req.Contains(h.events.all(), "store.close")
	req.Equal(StateClosed, h.session.State())
}

func TestSession_HandshakeWriteFailure(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, types.RoleUser, 42, testConfig())
	h.expectHandshake()
	h.conn.setWriteErr(errors.New("broken pipe"))

	err := h.session.Run(context.Background())
	req.ErrorIs(err, ErrHandshake)
	req.False(h.registry.registered(42))
	req.Equal(StateClosed, h.session.State())
}

func TestSession_KeepalivePingsAndPongResets(t *testing.T) {
	req := require.New(t)
	config := testConfig()
	config.PingInterval = 20 * time.Millisecond
	config.MaxMissedPongs = 0
	h := newHarness(t, types.RoleUser, 42, config)
	h.expectHandshake()

	h.start(context.Background())
	h.expectConnected(t, 42)

	ping, ok := h.conn.nextWrite(t).(types.PingFrame)
	req.True(ok)
	req.Equal(types.FrameTypePing, ping.Type)

	h.conn.send(`{"type":"pong"}`)
	_, ok = h.conn.nextWrite(t).(types.PingFrame)
	req.True(ok)
	req.Equal(StateEstablished, h.session.State())

	h.conn.hangup()
	req.NoError(h.wait(t))
}

func TestState_String(t *testing.T) {
	require.Equal(t, "CONNECTING", StateConnecting.String())
	require.Equal(t, "ESTABLISHED", StateEstablished.String())
	require.Equal(t, "CLOSING", StateClosing.String())
	require.Equal(t, "CLOSED", StateClosed.String())
}
