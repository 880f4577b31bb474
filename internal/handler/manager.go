package handler

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

// Stats is a point-in-time view of live connections.
type Stats struct {
	Open                  int64
	SignedIn              int
	Accepted              int64
	Replaced              int64
	IdleClosed            int64
	ConnectionsByMerchant map[string]int
}

// Manager keeps one live connection per terminal. Binding a terminal that
// already has a connection closes the older one.
type Manager struct {
	terminals sync.Map // terminal id -> *Conn
	conns     sync.Map // conn id -> *Conn
	log       *logrus.Logger

	open       atomic.Int64
	accepted   atomic.Int64
	replaced   atomic.Int64
	idleClosed atomic.Int64
}

func NewManager(log *logrus.Logger) *Manager {
	return &Manager{log: log}
}

func (m *Manager) track(c *Conn) {
	m.conns.Store(c.ID, c)
	m.open.Inc()
	m.accepted.Inc()
}

func (m *Manager) untrack(c *Conn) {
	if _, ok := m.conns.LoadAndDelete(c.ID); ok {
		m.open.Dec()
	}
}

// Bind makes c the live connection of terminalID.
func (m *Manager) Bind(terminalID string, c *Conn) {
	old, loaded := m.terminals.Swap(terminalID, c)
	if !loaded {
		return
	}
	prev := old.(*Conn)
	if prev == c {
		return
	}
	m.replaced.Inc()
	m.log.WithFields(logrus.Fields{
		"terminal_id": terminalID,
		"conn_id":     prev.ID,
		"remote":      prev.Remote,
	}).Info("conn manager -> closing older connection")
	_ = prev.Close()
}

// Release drops the binding only if c still owns it, and reports whether it
// did.
func (m *Manager) Release(terminalID string, c *Conn) bool {
	if terminalID == "" {
		return false
	}
	return m.terminals.CompareAndDelete(terminalID, c)
}

func (m *Manager) Lookup(terminalID string) (*Conn, bool) {
	v, ok := m.terminals.Load(terminalID)
	if !ok {
		return nil, false
	}
	return v.(*Conn), true
}

// SweepIdle closes every connection silent for longer than idle and returns
// how many were closed.
func (m *Manager) SweepIdle(now time.Time, idle time.Duration) int {
	n := 0
	m.conns.Range(func(_, v any) bool {
		c := v.(*Conn)
		if now.Sub(c.LastActivity()) > idle {
			m.log.WithFields(logrus.Fields{
				"conn_id":     c.ID,
				"terminal_id": c.TerminalID(),
				"remote":      c.Remote,
			}).Info("conn manager -> closing idle connection")
			_ = c.Close()
			m.idleClosed.Inc()
			n++
		}
		return true
	})
	return n
}

// CloseAll closes every tracked connection.
func (m *Manager) CloseAll() {
	m.conns.Range(func(_, v any) bool {
		_ = v.(*Conn).Close()
		return true
	})
}

func (m *Manager) Stats() Stats {
	st := Stats{
		Open:                  m.open.Load(),
		Accepted:              m.accepted.Load(),
		Replaced:              m.replaced.Load(),
		IdleClosed:            m.idleClosed.Load(),
		ConnectionsByMerchant: make(map[string]int),
	}
	m.terminals.Range(func(_, v any) bool {
		st.SignedIn++
		st.ConnectionsByMerchant[v.(*Conn).MerchantID()]++
		return true
	})
	return st
}
