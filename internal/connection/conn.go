package connection

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JoshJarabek7/messenger-backend/internal/event"
	"github.com/JoshJarabek7/messenger-backend/internal/hub"
	"github.com/JoshJarabek7/messenger-backend/internal/ierr"
	"github.com/JoshJarabek7/messenger-backend/internal/protocol"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type State int32

const (
	StateConnecting State = iota
	StateAuthenticated
	StateActive
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	maxFrameBytes = 4096
	writeTimeout  = 10 * time.Second
)

// Conn wraps one authenticated websocket. It owns the outbound queue and
// the reader/writer goroutine pair; either loop failing routes through
// Manager.Deregister, which is the single teardown point.
type Conn struct {
	id     string
	userId string
	logger *zap.Logger

	sock  *websocket.Conn
	queue *hub.Queue

	state       atomic.Int32
	lastActive  atomic.Int64
	closeReason atomic.Value

	closeOnce sync.Once
	done      chan struct{}
}

func newConn(id string, userId string, sock *websocket.Conn, queue *hub.Queue, logger *zap.Logger) *Conn {
	c := &Conn{
		id:     id,
		userId: userId,
		logger: logger,
		sock:   sock,
		queue:  queue,
		done:   make(chan struct{}),
	}
	c.state.Store(int32(StateConnecting))
	c.touch()

	return c
}

func (c *Conn) Id() string {
	return c.id
}

func (c *Conn) UserId() string {
	return c.userId
}

func (c *Conn) State() State {
	return State(c.state.Load())
}

func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) setState(s State) {
	c.state.Store(int32(s))
}

func (c *Conn) touch() {
	c.lastActive.Store(time.Now().UnixNano())
}

func (c *Conn) LastActive() time.Time {
	return time.Unix(0, c.lastActive.Load())
}

// enqueue pushes a control reply onto the connection's own queue.
// Replies are best-effort; under backpressure they may be evicted.
func (c *Conn) enqueue(ev event.Event) {
	c.queue.Push(ev)
}

func (c *Conn) setCloseReason(reason string) {
	c.closeReason.CompareAndSwap(nil, reason)
}

// takeCloseReason prefers the reason recorded on the connection, then
// the one recorded by whoever killed the queue (the dispatcher's
// overflow teardown), and only then the transport-error default.
func (c *Conn) takeCloseReason() string {
	if reason, ok := c.closeReason.Load().(string); ok {
		return reason
	}
	if reason := c.queue.KillReason(); reason != "" {
		return reason
	}
	return string(ierr.ErrorCodeTransportError)
}

// beginDrain transitions Active -> Draining: no new reads are accepted
// and the writer flushes the remaining backlog before final teardown.
func (c *Conn) beginDrain(reason string) bool {
	if !c.state.CompareAndSwap(int32(StateActive), int32(StateDraining)) {
		return false
	}

	c.setCloseReason(reason)
	c.queue.Close()

	return true
}

// fail reports a recoverable-looking protocol failure to the client and
// then drains the connection shut.
func (c *Conn) fail(failure ierr.Error) {
	c.enqueue(event.NewError(failure))
	c.beginDrain(string(failure.Code))
}

func (c *Conn) readLoop(m *Manager) {
	for {
		_, data, err := c.sock.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				if c.beginDrain("client close") {
					return
				}
			}

			m.Deregister(c, string(ierr.ErrorCodeTransportError))
			return
		}

		c.touch()

		frame, err := protocol.Decode(data)
		if err != nil {
			var coded ierr.Error
			if !errors.As(err, &coded) {
				coded = ierr.New(ierr.ErrorCodeMalformedFrame, err)
			}

			c.fail(coded)
			return
		}

		if !m.handleFrame(c, frame) {
			return
		}
	}
}

func (c *Conn) writeLoop(m *Manager) {
	var seq uint64

	for {
		ev, ok := c.queue.Pop()
		if !ok {
			break
		}

		seq++
		frame := protocol.FromEvent(ev, seq)

		c.sock.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.sock.WriteJSON(frame); err != nil {
			c.logger.Debug("write failed", zap.Error(err))
			m.Deregister(c, string(ierr.ErrorCodeTransportError))
			return
		}

		c.touch()
	}

	m.Deregister(c, c.takeCloseReason())
}
