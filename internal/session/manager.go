package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"wa-blast/internal/metrics"
	"wa-blast/internal/repo"
	"wa-blast/internal/wa"
)

// Conn is a live connection to the messaging network for one session.
type Conn interface {
	Events() <-chan wa.Event
	Connect(ctx context.Context) error
	IsLoggedIn() bool
	Logout(ctx context.Context) error
	Disconnect()
	PurgeCredentials() error
	SendText(ctx context.Context, to, body string) (string, error)
	SendMedia(ctx context.Context, to string, media wa.Media) (string, error)
	IsRegistered(ctx context.Context, phone string) (bool, error)
	JoinedGroups(ctx context.Context) ([]wa.Group, error)
	GroupMembers(ctx context.Context, groupJID string) ([]string, error)
}

// Dialer opens a Conn backed by the credential store for a session id.
type Dialer interface {
	Dial(ctx context.Context, sessionID string) (Conn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, sessionID string) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, sessionID string) (Conn, error) {
	return f(ctx, sessionID)
}

// InboundHandler receives incoming messages from any live session.
type InboundHandler func(ctx context.Context, sessionID string, msg wa.Inbound)

// AckHandler receives delivery receipts from any live session.
type AckHandler func(ctx context.Context, sessionID string, ack wa.Ack)

// StartResult reports the outcome of starting a session.
type StartResult struct {
	SessionID   string             `json:"sessionId"`
	Status      repo.SessionStatus `json:"status"`
	QRCode      string             `json:"qrCode,omitempty"`
	PhoneNumber string             `json:"phoneNumber,omitempty"`
}

type liveSession struct {
	conn Conn

	mu sync.Mutex
	qr string
}

func (ls *liveSession) setQR(code string) {
	ls.mu.Lock()
	ls.qr = code
	ls.mu.Unlock()
}

func (ls *liveSession) lastQR() string {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.qr
}

// Manager owns the registry of live sessions and their event loops.
type Manager struct {
	dialer    Dialer
	store     repo.Store
	metrics   *metrics.Metrics
	logger    *slog.Logger
	qrTimeout time.Duration

	inboundHandler InboundHandler
	ackHandler     AckHandler

	sleep func(time.Duration)

	mu           sync.Mutex
	conns        map[string]*liveSession
	reconnecting map[string]bool
}

const reconnectDelay = 2 * time.Second

// NewManager builds a Manager. Handlers may be attached before any session
// starts via SetInboundHandler and SetAckHandler.
func NewManager(dialer Dialer, store repo.Store, m *metrics.Metrics, logger *slog.Logger, qrTimeout time.Duration) *Manager {
	if qrTimeout <= 0 {
		qrTimeout = 60 * time.Second
	}
	return &Manager{
		dialer:       dialer,
		store:        store,
		metrics:      m,
		logger:       logger.With("component", "session"),
		qrTimeout:    qrTimeout,
		sleep:        time.Sleep,
		conns:        make(map[string]*liveSession),
		reconnecting: make(map[string]bool),
	}
}

// SetInboundHandler attaches the incoming message handler.
func (m *Manager) SetInboundHandler(h InboundHandler) { m.inboundHandler = h }

// SetAckHandler attaches the delivery receipt handler.
func (m *Manager) SetAckHandler(h AckHandler) { m.ackHandler = h }

// Start creates a new session record, opens its connection and waits for the
// first pairing outcome: a QR code to scan, an immediate login from restored
// credentials, or a timeout.
func (m *Manager) Start(ctx context.Context, ownerUserID string) (*StartResult, error) {
	id := uuid.NewString()
	now := time.Now().UTC()

	err := m.store.UpsertSession(ctx, repo.Session{
		ID:          id,
		OwnerUserID: ownerUserID,
		Status:      repo.SessionInitializing,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}

	conn, err := m.dialer.Dial(ctx, id)
	if err != nil {
		m.markDisconnected(ctx, id)
		return nil, fmt.Errorf("dial session %s: %w", id, err)
	}

	ls := &liveSession{conn: conn}
	m.register(id, ls)

	first := make(chan wa.Event, 1)
	go m.consume(id, ls, first)

	if err := conn.Connect(ctx); err != nil {
		m.teardown(ctx, id, ls, true)
		return nil, fmt.Errorf("connect session %s: %w", id, err)
	}

	select {
	case evt := <-first:
		switch e := evt.(type) {
		case wa.QRCode:
			return &StartResult{SessionID: id, Status: repo.SessionWaitingQR, QRCode: e.Code}, nil
		case wa.Connected:
			return &StartResult{SessionID: id, Status: repo.SessionConnected, PhoneNumber: e.PhoneNumber}, nil
		default:
			m.teardown(ctx, id, ls, true)
			return nil, fmt.Errorf("unexpected pairing event %T", evt)
		}
	case <-time.After(m.qrTimeout):
		m.teardown(ctx, id, ls, true)
		return nil, ErrQRTimeout
	case <-ctx.Done():
		m.teardown(context.WithoutCancel(ctx), id, ls, true)
		return nil, ctx.Err()
	}
}

// RestoreSessions reopens every session that was connected before the last
// shutdown. Failures are logged per session and do not abort the sweep.
func (m *Manager) RestoreSessions(ctx context.Context) error {
	sessions, err := m.store.ListSessionsByStatus(ctx, repo.SessionConnected)
	if err != nil {
		return fmt.Errorf("list connected sessions: %w", err)
	}

	for _, s := range sessions {
		if err := m.restore(ctx, s.ID); err != nil {
			m.logger.Warn("session restore failed", "session_id", s.ID, "error", err)
			m.metrics.Errors.WithLabelValues("session").Inc()
			m.markDisconnected(ctx, s.ID)
		}
	}

	m.logger.Info("session restore sweep complete", "candidates", len(sessions))
	return nil
}

func (m *Manager) restore(ctx context.Context, id string) error {
	conn, err := m.dialer.Dial(ctx, id)
	if err != nil {
		return err
	}

	ls := &liveSession{conn: conn}
	m.register(id, ls)
	go m.consume(id, ls, nil)

	if err := conn.Connect(ctx); err != nil {
		m.teardown(ctx, id, ls, false)
		return err
	}
	return nil
}

// End logs the session out, tears down its connection and removes stored
// credentials.
func (m *Manager) End(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	ls, ok := m.conns[sessionID]
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	if ls.conn.IsLoggedIn() {
		if err := ls.conn.Logout(ctx); err != nil {
			m.logger.Warn("remote logout failed", "session_id", sessionID, "error", err)
			return fmt.Errorf("%w: %v", ErrLogoutFailure, err)
		}
	}

	m.teardown(ctx, sessionID, ls, true)
	m.logger.Info("session ended", "session_id", sessionID)
	return nil
}

// Handle returns the live connection for a session id.
func (m *Manager) Handle(sessionID string) (Conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ls, ok := m.conns[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return ls.conn, nil
}

// QR returns the most recent QR code for a session still waiting to pair.
func (m *Manager) QR(sessionID string) (string, error) {
	m.mu.Lock()
	ls, ok := m.conns[sessionID]
	m.mu.Unlock()
	if !ok {
		return "", ErrSessionNotFound
	}
	code := ls.lastQR()
	if code == "" {
		return "", ErrNoQRCode
	}
	return code, nil
}

func (m *Manager) register(id string, ls *liveSession) {
	m.mu.Lock()
	m.conns[id] = ls
	m.mu.Unlock()
	m.metrics.SessionsLive.Inc()
}

func (m *Manager) unregister(id string) bool {
	m.mu.Lock()
	_, ok := m.conns[id]
	if ok {
		delete(m.conns, id)
	}
	m.mu.Unlock()
	if ok {
		m.metrics.SessionsLive.Dec()
	}
	return ok
}

func (m *Manager) teardown(ctx context.Context, id string, ls *liveSession, purge bool) {
	ls.conn.Disconnect()
	if purge {
		if err := ls.conn.PurgeCredentials(); err != nil {
			m.logger.Warn("credential purge failed", "session_id", id, "error", err)
		}
	}
	m.unregister(id)
	m.markDisconnected(ctx, id)
}

func (m *Manager) markDisconnected(ctx context.Context, id string) {
	if err := m.store.UpdateSessionStatus(ctx, id, repo.SessionDisconnected); err != nil {
		m.logger.Warn("status update failed", "session_id", id, "error", err)
	}
}

// consume drains the connection's event stream until it closes. The first
// pairing-relevant event is forwarded once on the first channel when set.
func (m *Manager) consume(id string, ls *liveSession, first chan<- wa.Event) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("session event loop panic", "session_id", id, "panic", r)
			m.metrics.Errors.WithLabelValues("session").Inc()
		}
	}()

	ctx := context.Background()
	notified := false
	notify := func(evt wa.Event) {
		if first == nil || notified {
			return
		}
		notified = true
		select {
		case first <- evt:
		default:
		}
	}

	for evt := range ls.conn.Events() {
		switch e := evt.(type) {
		case wa.QRCode:
			ls.setQR(e.Code)
			m.metrics.SessionEvents.WithLabelValues("qr").Inc()
			if err := m.store.UpdateSessionStatus(ctx, id, repo.SessionWaitingQR); err != nil {
				m.logger.Warn("status update failed", "session_id", id, "error", err)
			}
			notify(evt)
		case wa.Connected:
			ls.setQR("")
			m.metrics.SessionEvents.WithLabelValues("connected").Inc()
			if err := m.store.SetSessionConnected(ctx, id, e.PhoneNumber); err != nil {
				m.logger.Warn("status update failed", "session_id", id, "error", err)
			}
			m.logger.Info("session connected", "session_id", id, "phone", e.PhoneNumber)
			notify(evt)
		case wa.Disconnected:
			m.handleDisconnect(ctx, id, ls, e)
		case wa.Inbound:
			if h := m.inboundHandler; h != nil {
				go h(ctx, id, e)
			}
		case wa.Ack:
			if h := m.ackHandler; h != nil {
				go h(ctx, id, e)
			}
		}
	}

	if m.unregister(id) {
		m.markDisconnected(ctx, id)
	}
}

func (m *Manager) handleDisconnect(ctx context.Context, id string, ls *liveSession, e wa.Disconnected) {
	m.metrics.SessionEvents.WithLabelValues("disconnected").Inc()
	m.markDisconnected(ctx, id)

	if e.LoggedOut {
		m.logger.Info("session logged out remotely", "session_id", id)
		ls.conn.Disconnect()
		if err := ls.conn.PurgeCredentials(); err != nil {
			m.logger.Warn("credential purge failed", "session_id", id, "error", err)
		}
		m.unregister(id)
		return
	}

	m.mu.Lock()
	if m.reconnecting[id] {
		m.mu.Unlock()
		return
	}
	m.reconnecting[id] = true
	m.mu.Unlock()

	go func() {
		defer func() {
			m.mu.Lock()
			delete(m.reconnecting, id)
			m.mu.Unlock()
		}()

		m.sleep(reconnectDelay)
		m.logger.Info("attempting reconnect", "session_id", id, "reason", e.Reason)
		if err := ls.conn.Connect(context.Background()); err != nil {
			m.logger.Warn("reconnect failed", "session_id", id, "error", err)
			m.metrics.Errors.WithLabelValues("session").Inc()
		}
	}()
}
