package connection

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JoshJarabek7/messenger-backend/internal/auth"
	"github.com/JoshJarabek7/messenger-backend/internal/authz"
	"github.com/JoshJarabek7/messenger-backend/internal/event"
	"github.com/JoshJarabek7/messenger-backend/internal/hub"
	"github.com/JoshJarabek7/messenger-backend/internal/ierr"
	"github.com/JoshJarabek7/messenger-backend/internal/metrics"
	"github.com/JoshJarabek7/messenger-backend/internal/protocol"
	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.uber.org/zap"
)

type Config struct {
	HandshakeTimeout time.Duration
	IdleTimeout      time.Duration
	QueueCapacity    int
}

const authzTimeout = 5 * time.Second

// Manager orchestrates connection lifecycle: handshake, registration,
// frame routing, deregistration, the idle sweep and shutdown.
type Manager struct {
	logger        *zap.Logger
	registry      *hub.Registry
	dispatcher    *hub.Dispatcher
	authenticator *auth.Authenticator
	authorizer    authz.Authorizer
	metrics       *metrics.Metrics
	cfg           Config

	mu    sync.Mutex
	conns map[string]*Conn

	accepting atomic.Bool
}

func NewManager(
	logger *zap.Logger,
	registry *hub.Registry,
	dispatcher *hub.Dispatcher,
	authenticator *auth.Authenticator,
	authorizer authz.Authorizer,
	m *metrics.Metrics,
	cfg Config,
) *Manager {
	manager := &Manager{
		logger:        logger,
		registry:      registry,
		dispatcher:    dispatcher,
		authenticator: authenticator,
		authorizer:    authorizer,
		metrics:       m,
		cfg:           cfg,
		conns:         make(map[string]*Conn),
	}
	manager.accepting.Store(true)

	return manager
}

// Accept performs the handshake on a freshly upgraded socket: exactly
// one auth frame must arrive within the handshake deadline. On success
// the connection is registered and its loops started; on failure the
// socket is closed without anything to roll back.
func (m *Manager) Accept(sock *websocket.Conn) (*Conn, error) {
	if !m.accepting.Load() {
		sock.Close()
		return nil, ierr.New(ierr.ErrorCodeInternal, errors.New("manager is shutting down"))
	}

	sock.SetReadLimit(maxFrameBytes)
	sock.SetReadDeadline(time.Now().Add(m.cfg.HandshakeTimeout))

	_, data, err := sock.ReadMessage()
	if err != nil {
		code := ierr.ErrorCodeTransportError
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			code = ierr.ErrorCodeAuthTimeout
		}

		return nil, m.rejectHandshake(sock, code, err)
	}

	frame, err := protocol.Decode(data)
	if err != nil {
		return nil, m.rejectHandshake(sock, ierr.ErrorCodeMalformedFrame, err)
	}

	if frame.Type != protocol.FrameAuth {
		return nil, m.rejectHandshake(sock, ierr.ErrorCodeMalformedFrame,
			errors.New("expected auth frame, got "+string(frame.Type)))
	}

	var credential protocol.AuthPayload
	if err := json.Unmarshal(frame.Payload, &credential); err != nil {
		return nil, m.rejectHandshake(sock, ierr.ErrorCodeMalformedFrame, err)
	}

	authentication, err := m.authenticator.ValidateCredential(credential.Token)
	if err != nil {
		return nil, m.rejectHandshake(sock, ierr.ErrorCodeInvalidCredential, err)
	}

	connectionId := gonanoid.Must()
	logger := m.logger.With(
		zap.String("connectionId", connectionId),
		zap.String("userId", authentication.UserId))

	c := newConn(connectionId, authentication.UserId, sock, hub.NewQueue(m.cfg.QueueCapacity), logger)
	c.setState(StateAuthenticated)

	if _, err := m.registry.Register(hub.Endpoint{
		ConnectionId: connectionId,
		UserId:       authentication.UserId,
		Queue:        c.queue,
	}); err != nil {
		sock.Close()
		return nil, ierr.New(ierr.ErrorCodeInternal, err)
	}

	m.mu.Lock()
	m.conns[connectionId] = c
	m.mu.Unlock()

	m.metrics.ActiveConnections.Inc()

	c.setState(StateActive)
	sock.SetReadDeadline(time.Time{})
	sock.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})

	go c.readLoop(m)
	go c.writeLoop(m)

	logger.Info("connection established")

	return c, nil
}

func (m *Manager) rejectHandshake(sock *websocket.Conn, code ierr.ErrorCode, cause error) error {
	m.metrics.HandshakeFailures.WithLabelValues(string(code)).Inc()

	failure := ierr.New(code, cause)

	sock.SetWriteDeadline(time.Now().Add(writeTimeout))
	_ = sock.WriteJSON(protocol.NewErrorFrame(failure))
	sock.Close()

	m.logger.Debug("handshake rejected", zap.Error(failure))

	return failure
}

// Deregister is the single teardown path. Idempotent; safe to call
// concurrently from the reader loop, the writer loop and the idle sweep.
func (m *Manager) Deregister(c *Conn, reason string) {
	c.closeOnce.Do(func() {
		c.setState(StateClosed)

		result := m.registry.Deregister(c.id)
		c.queue.Kill(reason)

		_ = c.sock.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.sock.Close()

		m.mu.Lock()
		delete(m.conns, c.id)
		m.mu.Unlock()

		m.metrics.ActiveConnections.Dec()

		for _, scopeId := range result.RemovedScopes {
			m.dispatcher.Publish(event.NewPresenceChanged(scopeId, c.userId, false))
		}

		close(c.done)

		c.logger.Info("connection closed", zap.String("reason", reason))
	})
}

// handleFrame routes one inbound frame. It reports whether the reader
// loop should keep going.
func (m *Manager) handleFrame(c *Conn, frame protocol.Frame) bool {
	switch frame.Type {
	case protocol.FramePing:
		c.enqueue(event.New(event.KindPong, "", nil))
		return true

	case protocol.FrameSubscribe:
		m.subscribe(c, frame.ScopeId)
		return true

	case protocol.FrameUnsubscribe:
		m.registry.Unsubscribe(frame.ScopeId, c.id)
		return true

	case protocol.FrameTyping:
		m.typing(c, frame)
		return true

	case protocol.FrameAuth:
		c.enqueue(event.NewError(ierr.New(ierr.ErrorCodeInvalidArgument,
			errors.New("connection is already authenticated"))))
		return true

	default:
		c.fail(ierr.New(ierr.ErrorCodeMalformedFrame,
			errors.New("unexpected frame type: "+string(frame.Type))))
		return false
	}
}

// subscribe checks scope membership with the authorization collaborator
// and adds the mapping. Rejections are reported as error frames; the
// connection stays open.
func (m *Manager) subscribe(c *Conn, scopeId string) {
	if !event.ValidScopeId(scopeId) {
		c.enqueue(event.NewError(ierr.New(ierr.ErrorCodeInvalidArgument,
			errors.New("invalid scopeId"))))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), authzTimeout)
	defer cancel()

	member, err := m.authorizer.IsMember(ctx, c.userId, scopeId)
	if err != nil {
		c.logger.Error("membership lookup failed",
			zap.String("scopeId", scopeId),
			zap.Error(err))
		c.enqueue(event.NewError(ierr.New(ierr.ErrorCodeInternal,
			errors.New("membership lookup failed"))))
		return
	}

	if !member {
		c.enqueue(event.NewError(ierr.New(ierr.ErrorCodeScopeForbidden,
			errors.New("user is not a member of scope "+scopeId))))
		return
	}

	newForScope, err := m.registry.Subscribe(scopeId, c.id)
	if err != nil {
		// Connection already torn down; nothing to acknowledge.
		return
	}

	ack, _ := json.Marshal(struct {
		ScopeId   string    `json:"scopeId"`
		Timestamp time.Time `json:"timestamp"`
	}{scopeId, time.Now()})
	c.enqueue(event.New(event.KindSubscriptionAck, scopeId, ack))

	if newForScope {
		m.dispatcher.Publish(event.NewPresenceChanged(scopeId, c.userId, true))
	}
}

// typing fans a typing indicator out to the scope, excluding the
// originating connection. Only subscribed connections may send them.
func (m *Manager) typing(c *Conn, frame protocol.Frame) {
	if !m.registry.Subscribed(frame.ScopeId, c.id) {
		c.enqueue(event.NewError(ierr.New(ierr.ErrorCodeScopeForbidden,
			errors.New("not subscribed to scope "+frame.ScopeId))))
		return
	}

	ev := event.New(event.KindTyping, frame.ScopeId, frame.Payload)
	ev.OriginConnectionId = c.id
	ev.ExcludeOrigin = true

	m.dispatcher.Publish(ev)
}

// Run drives the idle sweep until the context is cancelled, guarding
// against half-open sockets with no read or write activity.
func (m *Manager) Run(ctx context.Context) {
	interval := m.cfg.IdleTimeout / 2
	if interval < time.Second {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Manager) sweep() {
	cutoff := time.Now().Add(-m.cfg.IdleTimeout)

	for _, c := range m.snapshot() {
		if c.LastActive().Before(cutoff) {
			c.logger.Info("closing idle connection")
			m.Deregister(c, "idle timeout")
		}
	}
}

func (m *Manager) snapshot() []*Conn {
	m.mu.Lock()
	defer m.mu.Unlock()

	conns := make([]*Conn, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}

	return conns
}

func (m *Manager) ConnectionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.conns)
}

// Accepting reports whether new connections are being admitted; surfaced
// by the liveness probe.
func (m *Manager) Accepting() bool {
	return m.accepting.Load()
}

// Shutdown stops accepting, drains every connection's backlog and waits
// for teardown, force-closing whatever is left when the context expires.
func (m *Manager) Shutdown(ctx context.Context) {
	m.accepting.Store(false)

	conns := m.snapshot()
	for _, c := range conns {
		c.beginDrain("server shutdown")
	}

	for _, c := range conns {
		select {
		case <-c.Done():
		case <-ctx.Done():
			m.Deregister(c, "shutdown deadline exceeded")
		}
	}
}
