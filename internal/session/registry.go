package session

import (
	"context"
	"sync"
	"time"

	"github.com/alfianX/crossgate-gw/internal/publish"
	"github.com/alfianX/crossgate-gw/internal/repo"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

type entry struct {
	mu       sync.Mutex
	s        Session
	needSign atomic.Bool
}

// Registry is the in-memory table of terminal sessions. Each entry has its
// own lock; there is no registry-wide lock.
type Registry struct {
	entries sync.Map // id -> *entry
	unread  sync.Map // id -> *atomic.Int32

	store  Store
	source publish.Source
	events *EventRecorder
	log    *logrus.Logger
	now    func() time.Time

	activeMu      sync.Mutex
	pendingActive map[string]time.Time
}

type Option func(*Registry)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func WithEvents(ev *EventRecorder) Option {
	return func(r *Registry) { r.events = ev }
}

func NewRegistry(store Store, source publish.Source, log *logrus.Logger, opts ...Option) *Registry {
	r := &Registry{
		store:         store,
		source:        source,
		log:           log,
		now:           time.Now,
		pendingActive: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load fills the registry from the store. Nothing is connected yet, so every
// loaded session starts inactive in memory.
func (r *Registry) Load(ctx context.Context) (int, error) {
	recs, err := r.store.LoadAll(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, rec := range recs {
		s := fromRecord(rec)
		s.ActiveStatus = repo.ActiveStatusInactive
		if _, loaded := r.entries.LoadOrStore(s.ID, &entry{s: s}); !loaded {
			n++
		}
	}
	return n, nil
}

func (r *Registry) lookup(id string) (*entry, bool) {
	v, ok := r.entries.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*entry), true
}

// SignIn inserts or refreshes the entry for data.ID. CreateTime of an existing
// entry is kept.
func (r *Registry) SignIn(ctx context.Context, data SignInData) (Session, error) {
	now := r.now()
	fresh := &entry{}
	fresh.mu.Lock()
	e := fresh
	if v, loaded := r.entries.LoadOrStore(data.ID, fresh); loaded {
		fresh.mu.Unlock()
		e = v.(*entry)
		e.mu.Lock()
	}
	defer e.mu.Unlock()

	s := &e.s
	if s.CreateTime.IsZero() {
		s.ID = data.ID
		s.CreateTime = now
	}
	s.MerchantID = data.MerchantID
	s.MachineID = data.MachineID
	s.DeviceNO = data.DeviceNO
	s.LineNO = data.LineNO
	s.TerminalType = data.TerminalType
	s.ActiveStatus = repo.ActiveStatusActive
	s.LastActiveTime = now
	s.LoginInTime = now
	s.LoginOffTime = nil
	s.ConnectionProtocol = data.ConnectionProtocol
	s.EndPoint = data.EndPoint
	s.Token = data.Token

	if s.FileVersions == nil {
		s.FileVersions = make(map[string]repo.FileVersion)
	}
	if versions, changed := diffVersions(s.FileVersions, data.ClientVersions); changed {
		s.FileVersions = versions
		s.StatusUpdateTime = &now
	}
	if data.Properties != nil {
		if props, changed := diffProperties(s.Properties, data.Properties); changed {
			s.Properties = props
			s.StatusUpdateTime = &now
		}
	}
	if s.Properties == nil {
		s.Properties = make(map[string]string)
	}

	r.resolveExpected(ctx, s)
	e.needSign.Store(false)

	if err := r.store.Save(ctx, s.record()); err != nil {
		r.log.WithField("terminal_id", data.ID).Errorf("registry -> persist sign in: %v", err)
	}
	r.recordEvent(s, repo.EventSignIn, repo.SeverityInfo, "sign in from "+data.EndPoint)

	return s.clone(), nil
}

// Heartbeat marks the terminal active and reconciles reported state. changed
// is true only when a reported value differed from the stored one.
func (r *Registry) Heartbeat(ctx context.Context, id string, rep Report) (changed bool, found bool) {
	e, ok := r.lookup(id)
	if !ok {
		return false, false
	}
	now := r.now()
	r.Touch(id)

	e.mu.Lock()
	defer e.mu.Unlock()
	s := &e.s

	var versionChanged, propChanged bool
	var versions map[string]repo.FileVersion
	var props map[string]string
	if rep.ClientVersions != nil {
		versions, versionChanged = diffVersions(s.FileVersions, rep.ClientVersions)
	}
	if rep.Properties != nil {
		props, propChanged = diffProperties(s.Properties, rep.Properties)
	}
	if !versionChanged && !propChanged {
		return false, true
	}

	if versionChanged {
		s.FileVersions = versions
		r.recordEvent(s, repo.EventVersionChange, repo.SeverityInfo, "client versions changed")
	}
	if propChanged {
		s.Properties = props
		r.recordEvent(s, repo.EventPropertyChange, repo.SeverityInfo, "properties changed")
	}
	s.StatusUpdateTime = &now
	s.LastActiveTime = now
	r.resolveExpected(ctx, s)

	if err := r.store.Save(ctx, s.record()); err != nil {
		r.log.WithField("terminal_id", id).Errorf("registry -> persist status change: %v", err)
	}
	return true, true
}

// Touch records activity without persisting it; FlushActivity writes the
// batch.
func (r *Registry) Touch(id string) {
	e, ok := r.lookup(id)
	if !ok {
		return
	}
	now := r.now()
	e.mu.Lock()
	e.s.LastActiveTime = now
	e.mu.Unlock()

	r.activeMu.Lock()
	r.pendingActive[id] = now
	r.activeMu.Unlock()
}

// SignOut marks the terminal inactive. The entry and its history stay.
func (r *Registry) SignOut(ctx context.Context, id string) bool {
	e, ok := r.lookup(id)
	if !ok {
		return false
	}
	now := r.now()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.s.ActiveStatus == repo.ActiveStatusInactive {
		return false
	}
	e.s.ActiveStatus = repo.ActiveStatusInactive
	e.s.LoginOffTime = &now

	if err := r.store.SetInactive(ctx, id, now); err != nil {
		r.log.WithField("terminal_id", id).Errorf("registry -> persist sign out: %v", err)
	}
	r.recordEvent(&e.s, repo.EventSignOut, repo.SeverityInfo, "sign out")
	return true
}

// QueryExpectedVersions returns the out-of-date content types of id, or an
// empty map for an unknown terminal.
func (r *Registry) QueryExpectedVersions(id string) map[string]repo.FileVersion {
	e, ok := r.lookup(id)
	if !ok {
		return map[string]repo.FileVersion{}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return outdated(e.s.FileVersions)
}

func (r *Registry) Get(id string) (Session, bool) {
	e, ok := r.lookup(id)
	if !ok {
		return Session{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.s.clone(), true
}

// Range calls fn with a snapshot of every session until fn returns false.
func (r *Registry) Range(fn func(Session) bool) {
	r.entries.Range(func(_, v any) bool {
		e := v.(*entry)
		e.mu.Lock()
		s := e.s.clone()
		e.mu.Unlock()
		return fn(s)
	})
}

func (r *Registry) Len() int {
	n := 0
	r.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (r *Registry) NeedsSign(id string) bool {
	e, ok := r.lookup(id)
	return ok && e.needSign.Load()
}

func (r *Registry) MarkNeedsSign(id string) {
	if e, ok := r.lookup(id); ok {
		e.needSign.Store(true)
	}
}

func (r *Registry) unreadCounter(id string) *atomic.Int32 {
	v, _ := r.unread.LoadOrStore(id, atomic.NewInt32(0))
	return v.(*atomic.Int32)
}

func (r *Registry) Unread(id string) int {
	v, ok := r.unread.Load(id)
	if !ok {
		return 0
	}
	return int(v.(*atomic.Int32).Load())
}

// AddUnread adjusts the unread counter of id, never going below zero.
func (r *Registry) AddUnread(id string, delta int) {
	c := r.unreadCounter(id)
	for {
		old := c.Load()
		next := old + int32(delta)
		if next < 0 {
			next = 0
		}
		if c.CompareAndSwap(old, next) {
			return
		}
	}
}

// ResetUnread zeroes the counter of id, used when storage shows nothing
// unread.
func (r *Registry) ResetUnread(id string) {
	if v, ok := r.unread.Load(id); ok {
		v.(*atomic.Int32).Store(0)
	}
}

// SetUnread replaces every counter with counts.
func (r *Registry) SetUnread(counts map[string]int) {
	r.unread.Range(func(k, _ any) bool {
		if _, ok := counts[k.(string)]; !ok {
			r.unread.Delete(k)
		}
		return true
	})
	for id, n := range counts {
		r.unreadCounter(id).Store(int32(n))
	}
}

// FlushActivity persists LastActiveTime values collected by Touch.
func (r *Registry) FlushActivity(ctx context.Context) error {
	r.activeMu.Lock()
	batch := r.pendingActive
	r.pendingActive = make(map[string]time.Time)
	r.activeMu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	if err := r.store.UpdateLastActive(ctx, batch); err != nil {
		r.activeMu.Lock()
		for id, t := range batch {
			if cur, ok := r.pendingActive[id]; !ok || cur.Before(t) {
				r.pendingActive[id] = t
			}
		}
		r.activeMu.Unlock()
		r.log.Errorf("registry -> flush %d last active times: %v", len(batch), err)
		return err
	}
	return nil
}

func (r *Registry) recordEvent(s *Session, eventType, severity int, remark string) {
	if r.events == nil {
		return
	}
	r.events.Record(s.MerchantID, s.ID, eventType, severity, remark, r.now())
}
