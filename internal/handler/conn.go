package handler

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

// Connection states.
const (
	StateConnected = "connected"
	StateSignedIn  = "signed_in"
	StateClosed    = "closed"
)

const (
	eventSignIn  = "sign_in"
	eventSignOut = "sign_out"
	eventClose   = "close"
)

var ErrConnClosed = errors.New("handler: connection closed")

// Conn is the per-socket context shared by the read loop and the handlers.
type Conn struct {
	ID          string
	Remote      string
	ConnectedAt time.Time

	raw   net.Conn
	state *fsm.FSM

	mu         sync.Mutex
	terminalID string
	merchantID string

	lastActivity *atomic.Time
	writeMu      sync.Mutex
	closeOnce    sync.Once
}

func newConn(raw net.Conn, now time.Time, log *logrus.Logger) *Conn {
	c := &Conn{
		ID:           uuid.NewString(),
		raw:          raw,
		ConnectedAt:  now,
		lastActivity: atomic.NewTime(now),
	}
	if addr := raw.RemoteAddr(); addr != nil {
		c.Remote = addr.String()
	}
	c.state = fsm.NewFSM(
		StateConnected,
		fsm.Events{
			{Name: eventSignIn, Src: []string{StateConnected, StateSignedIn}, Dst: StateSignedIn},
			{Name: eventSignOut, Src: []string{StateSignedIn}, Dst: StateConnected},
			{Name: eventClose, Src: []string{StateConnected, StateSignedIn}, Dst: StateClosed},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				log.WithFields(logrus.Fields{
					"conn_id":     c.ID,
					"terminal_id": c.TerminalID(),
				}).Debugf("conn -> %s: %s -> %s", e.Event, e.Src, e.Dst)
			},
		},
	)
	return c
}

func (c *Conn) State() string {
	return c.state.Current()
}

func (c *Conn) SignedIn() bool {
	return c.state.Is(StateSignedIn)
}

func (c *Conn) TerminalID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.terminalID
}

func (c *Conn) MerchantID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.merchantID
}

// fire runs one transition; staying in the same state is not an error.
func (c *Conn) fire(ctx context.Context, event string) error {
	err := c.state.Event(ctx, event)
	var noop fsm.NoTransitionError
	if err == nil || errors.As(err, &noop) {
		return nil
	}
	if c.state.Is(StateClosed) {
		return ErrConnClosed
	}
	return err
}

// bind attaches the connection to a terminal after a successful sign-in.
func (c *Conn) bind(ctx context.Context, terminalID, merchantID string) error {
	if err := c.fire(ctx, eventSignIn); err != nil {
		return err
	}
	c.mu.Lock()
	c.terminalID = terminalID
	c.merchantID = merchantID
	c.mu.Unlock()
	return nil
}

func (c *Conn) unbind(ctx context.Context) error {
	return c.fire(ctx, eventSignOut)
}

func (c *Conn) Touch(now time.Time) {
	c.lastActivity.Store(now)
}

func (c *Conn) LastActivity() time.Time {
	return c.lastActivity.Load()
}

// Write sends one packet. Writes from different goroutines do not interleave.
func (c *Conn) Write(p []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.state.Is(StateClosed) {
		return ErrConnClosed
	}
	_, err := c.raw.Write(p)
	return err
}

// Close moves the connection to closed and shuts the socket. Safe to call
// more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		_ = c.fire(context.Background(), eventClose)
		err = c.raw.Close()
	})
	return err
}
