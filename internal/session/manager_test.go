package session

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"wa-blast/internal/metrics"
	"wa-blast/internal/repo"
	"wa-blast/internal/wa"
)

type fakeConn struct {
	events chan wa.Event
	once   sync.Once

	mu           sync.Mutex
	loggedIn     bool
	connects     int
	loggedOut    bool
	disconnected bool
	purged       bool
}

func newFakeConn(pending ...wa.Event) *fakeConn {
	c := &fakeConn{events: make(chan wa.Event, 16)}
	for _, e := range pending {
		c.events <- e
	}
	return c
}

func (c *fakeConn) Events() <-chan wa.Event { return c.events }

func (c *fakeConn) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	return nil
}

func (c *fakeConn) IsLoggedIn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loggedIn
}

func (c *fakeConn) Logout(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loggedOut = true
	return nil
}

func (c *fakeConn) Disconnect() {
	c.mu.Lock()
	c.disconnected = true
	c.mu.Unlock()
	c.once.Do(func() { close(c.events) })
}

func (c *fakeConn) PurgeCredentials() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purged = true
	return nil
}

func (c *fakeConn) SendText(ctx context.Context, to, body string) (string, error) {
	return "", nil
}

func (c *fakeConn) SendMedia(ctx context.Context, to string, media wa.Media) (string, error) {
	return "", nil
}

func (c *fakeConn) IsRegistered(ctx context.Context, phone string) (bool, error) {
	return true, nil
}

func (c *fakeConn) JoinedGroups(ctx context.Context) ([]wa.Group, error) { return nil, nil }

func (c *fakeConn) GroupMembers(ctx context.Context, groupJID string) ([]string, error) {
	return nil, nil
}

func (c *fakeConn) wasPurged() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.purged
}

func (c *fakeConn) connectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects
}

type fakeStore struct {
	repo.Store

	mu       sync.Mutex
	statuses map[string]repo.SessionStatus
	phones   map[string]string
	restore  []repo.Session
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		statuses: make(map[string]repo.SessionStatus),
		phones:   make(map[string]string),
	}
}

func (s *fakeStore) UpsertSession(ctx context.Context, sess repo.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[sess.ID] = sess.Status
	return nil
}

func (s *fakeStore) UpdateSessionStatus(ctx context.Context, id string, status repo.SessionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[id] = status
	return nil
}

func (s *fakeStore) SetSessionConnected(ctx context.Context, id, phoneNumber string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[id] = repo.SessionConnected
	s.phones[id] = phoneNumber
	return nil
}

func (s *fakeStore) ListSessionsByStatus(ctx context.Context, status repo.SessionStatus) ([]repo.Session, error) {
	return s.restore, nil
}

func (s *fakeStore) statusOf(id string) repo.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statuses[id]
}

func (s *fakeStore) phoneOf(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phones[id]
}

func newTestManager(store *fakeStore, conn Conn, qrTimeout time.Duration) *Manager {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dialer := DialerFunc(func(ctx context.Context, sessionID string) (Conn, error) {
		return conn, nil
	})
	m := NewManager(dialer, store, metrics.Registry("test"), logger, qrTimeout)
	m.sleep = func(time.Duration) {}
	return m
}

func TestStartReturnsQRCode(t *testing.T) {
	store := newFakeStore()
	conn := newFakeConn(wa.QRCode{Code: "qr-payload"})
	m := newTestManager(store, conn, time.Second)

	res, err := m.Start(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, repo.SessionWaitingQR, res.Status)
	require.Equal(t, "qr-payload", res.QRCode)

	code, err := m.QR(res.SessionID)
	require.NoError(t, err)
	require.Equal(t, "qr-payload", code)
	require.Equal(t, repo.SessionWaitingQR, store.statusOf(res.SessionID))
}

func TestStartWithRestoredCredentials(t *testing.T) {
	store := newFakeStore()
	conn := newFakeConn(wa.Connected{PhoneNumber: "628123"})
	m := newTestManager(store, conn, time.Second)

	res, err := m.Start(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, repo.SessionConnected, res.Status)
	require.Equal(t, "628123", res.PhoneNumber)
	require.Equal(t, "628123", store.phoneOf(res.SessionID))

	_, err = m.QR(res.SessionID)
	require.ErrorIs(t, err, ErrNoQRCode)
}

func TestStartQRTimeout(t *testing.T) {
	store := newFakeStore()
	conn := newFakeConn()
	m := newTestManager(store, conn, 50*time.Millisecond)

	_, err := m.Start(context.Background(), "user-1")
	require.ErrorIs(t, err, ErrQRTimeout)
	require.True(t, conn.wasPurged())
}

func TestEndLogsOutAndPurges(t *testing.T) {
	store := newFakeStore()
	conn := newFakeConn(wa.Connected{PhoneNumber: "628123"})
	conn.loggedIn = true
	m := newTestManager(store, conn, time.Second)

	res, err := m.Start(context.Background(), "user-1")
	require.NoError(t, err)

	require.NoError(t, m.End(context.Background(), res.SessionID))
	require.True(t, conn.loggedOut)
	require.True(t, conn.wasPurged())
	require.Equal(t, repo.SessionDisconnected, store.statusOf(res.SessionID))

	_, err = m.Handle(res.SessionID)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestEndUnknownSession(t *testing.T) {
	m := newTestManager(newFakeStore(), newFakeConn(), time.Second)
	require.ErrorIs(t, m.End(context.Background(), "missing"), ErrSessionNotFound)
}

func TestInboundRoutedToHandler(t *testing.T) {
	store := newFakeStore()
	conn := newFakeConn(wa.Connected{PhoneNumber: "628123"})
	m := newTestManager(store, conn, time.Second)

	got := make(chan wa.Inbound, 1)
	m.SetInboundHandler(func(ctx context.Context, sessionID string, msg wa.Inbound) {
		got <- msg
	})

	_, err := m.Start(context.Background(), "user-1")
	require.NoError(t, err)

	conn.events <- wa.Inbound{Sender: "628999@s.whatsapp.net", Text: "price?"}

	select {
	case msg := <-got:
		require.Equal(t, "price?", msg.Text)
	case <-time.After(time.Second):
		t.Fatal("inbound message not routed")
	}
}

func TestRemoteLogoutPurgesSession(t *testing.T) {
	store := newFakeStore()
	conn := newFakeConn(wa.Connected{PhoneNumber: "628123"})
	m := newTestManager(store, conn, time.Second)

	res, err := m.Start(context.Background(), "user-1")
	require.NoError(t, err)

	conn.events <- wa.Disconnected{LoggedOut: true, Reason: "device removed"}

	require.Eventually(t, func() bool {
		_, err := m.Handle(res.SessionID)
		return err != nil && conn.wasPurged()
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, repo.SessionDisconnected, store.statusOf(res.SessionID))
}

func TestTransientDisconnectReconnectsOnce(t *testing.T) {
	store := newFakeStore()
	conn := newFakeConn(wa.Connected{PhoneNumber: "628123"})
	m := newTestManager(store, conn, time.Second)

	res, err := m.Start(context.Background(), "user-1")
	require.NoError(t, err)

	conn.events <- wa.Disconnected{LoggedOut: false, Reason: "stream error"}

	require.Eventually(t, func() bool {
		return conn.connectCount() == 2
	}, time.Second, 10*time.Millisecond)

	_, err = m.Handle(res.SessionID)
	require.NoError(t, err)
	require.False(t, conn.wasPurged())
}

func TestRestoreSessionsReopensConnected(t *testing.T) {
	store := newFakeStore()
	store.restore = []repo.Session{{ID: "old-1", Status: repo.SessionConnected}}
	conn := newFakeConn(wa.Connected{PhoneNumber: "628123"})
	m := newTestManager(store, conn, time.Second)

	require.NoError(t, m.RestoreSessions(context.Background()))

	require.Eventually(t, func() bool {
		_, err := m.Handle("old-1")
		return err == nil
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, 1, conn.connectCount())
}
