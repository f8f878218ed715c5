package broadcast

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ErrConnClosed is returned when sending on a connection that is no longer
// open.
var ErrConnClosed = errors.New("connection closed")

// ConnState is the lifecycle state of a client connection. Closed is
// terminal; a client resumes only with a new connection.
type ConnState int32

// Connection states.
const (
	Connecting ConnState = iota
	Open
	Closed
)

func (s ConnState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("ConnState(%d)", int32(s))
	}
}

// Socket is the transport under a client connection.
type Socket interface {
	// WriteMessage sends one text frame.
	WriteMessage(data []byte) error
	Close() error
}

// Conn is one live client connection.
type Conn struct {
	ID          string
	ConnectedAt time.Time
	// Agent is the User-Agent the client sent on the handshake, if any.
	Agent string

	sock    Socket
	state   atomic.Int32
	writeMu sync.Mutex
}

func newConn() *Conn {
	return &Conn{
		ID:          uuid.NewString(),
		ConnectedAt: time.Now(),
	}
}

// State returns the current connection state.
func (c *Conn) State() ConnState {
	return ConnState(c.state.Load())
}

func (c *Conn) open(sock Socket) bool {
	c.sock = sock
	return c.state.CompareAndSwap(int32(Connecting), int32(Open))
}

// send writes data to the socket. Writes on one connection are serialized.
func (c *Conn) send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.State() != Open {
		return ErrConnClosed
	}

	if err := c.sock.WriteMessage(data); err != nil {
		return fmt.Errorf("sending to %s: %w", c.ID, err)
	}

	return nil
}

// close moves the connection to Closed and releases the socket. It reports
// whether this call performed the transition.
func (c *Conn) close() bool {
	prev := ConnState(c.state.Swap(int32(Closed)))
	if prev == Closed {
		return false
	}

	if c.sock != nil {
		_ = c.sock.Close()
	}

	return true
}
