package session

import (
	"context"

	"github.com/alfianX/crossgate-gw/internal/publish"
	"github.com/alfianX/crossgate-gw/internal/repo"
)

const (
	PublishActionPublish = "publish"
	PublishActionCancel  = "cancel"
)

// PublishEvent announces that a file version was published or cancelled.
type PublishEvent struct {
	Action        string `json:"action"`
	MerchantID    string `json:"merchantId"`
	PublishID     int64  `json:"publishId"`
	Code          string `json:"fileTypeId"`
	Version       string `json:"fileVer"`
	Crc           string `json:"crc"`
	Size          int    `json:"fileSize"`
	PublishType   int    `json:"publishType"`
	PublishTarget string `json:"publishTarget"`
}

// MsgboxEvent adjusts unread counters after messages were sent or withdrawn.
type MsgboxEvent struct {
	TerminalIDs []string `json:"terminalIds"`
	Delta       int      `json:"delta"`
}

type invalidator interface {
	Invalidate(merchantID string)
}

// resolveExpected refreshes the Expected side of s.FileVersions from the
// publish source. On a lookup failure resolved expectations are flagged
// expired so RefreshExpired retries them.
func (r *Registry) resolveExpected(ctx context.Context, s *Session) {
	if r.source == nil {
		return
	}
	exp, err := r.source.Expected(ctx, s.target())
	if err != nil {
		r.log.WithField("terminal_id", s.ID).Warnf("registry -> resolve expected versions: %v", err)
		versions := make(map[string]repo.FileVersion, len(s.FileVersions))
		for code, fv := range s.FileVersions {
			if fv.Expected != "" {
				fv.IsExpired = true
			}
			versions[code] = fv
		}
		s.FileVersions = versions
		return
	}

	versions := make(map[string]repo.FileVersion, len(s.FileVersions)+len(exp))
	for code, fv := range s.FileVersions {
		if e, ok := exp[code]; ok {
			fv = withExpectation(fv, e)
		} else {
			fv = clearExpectation(fv)
		}
		versions[code] = fv
	}
	for code, e := range exp {
		if _, ok := versions[code]; !ok {
			versions[code] = withExpectation(repo.FileVersion{}, e)
		}
	}
	s.FileVersions = versions
}

func withExpectation(fv repo.FileVersion, e publish.Expectation) repo.FileVersion {
	fv.Expected = e.Version
	fv.ExpectedCrc = e.Crc
	fv.ExpectedSize = e.Size
	fv.PublishType = e.PublishType
	fv.PublishID = e.PublishID
	fv.IsExpired = false
	return fv
}

func clearExpectation(fv repo.FileVersion) repo.FileVersion {
	return repo.FileVersion{Current: fv.Current}
}

// ApplyPublish pushes a publish or cancel event onto every affected session
// and returns how many sessions changed.
func (r *Registry) ApplyPublish(ctx context.Context, ev PublishEvent) int {
	if inv, ok := r.source.(invalidator); ok {
		inv.Invalidate(ev.MerchantID)
	}

	affected := 0
	r.entries.Range(func(_, v any) bool {
		e := v.(*entry)
		e.mu.Lock()
		defer e.mu.Unlock()

		s := &e.s
		if s.MerchantID != ev.MerchantID {
			return true
		}

		var changed bool
		switch ev.Action {
		case PublishActionPublish:
			changed = r.applyPublish(s, ev)
		case PublishActionCancel:
			changed = r.applyCancel(ctx, s, ev)
		default:
			r.log.Warnf("registry -> unknown publish action %q", ev.Action)
			return false
		}
		if !changed {
			return true
		}

		affected++
		now := r.now()
		s.StatusUpdateTime = &now
		if s.Active() && len(outdated(s.FileVersions)) > 0 {
			e.needSign.Store(true)
		}
		if err := r.store.Save(ctx, s.record()); err != nil {
			r.log.WithField("terminal_id", s.ID).Errorf("registry -> persist publish event: %v", err)
		}
		return true
	})
	return affected
}

// applyPublish never replaces an expectation coming from a more specific
// scope than the event.
func (r *Registry) applyPublish(s *Session, ev PublishEvent) bool {
	if !publish.Applies(ev.PublishType, ev.PublishTarget, s.target()) {
		return false
	}
	fv := s.FileVersions[ev.Code]
	if fv.Expected != "" && !fv.IsExpired && fv.PublishType > ev.PublishType {
		return false
	}
	next := withExpectation(fv, publish.Expectation{
		PublishID:   ev.PublishID,
		Code:        ev.Code,
		Version:     ev.Version,
		Crc:         ev.Crc,
		Size:        ev.Size,
		PublishType: ev.PublishType,
	})
	if next == fv {
		return false
	}
	s.FileVersions = copyVersions(s.FileVersions)
	s.FileVersions[ev.Code] = next
	return true
}

// applyCancel falls back to the next scope still published (line, then
// merchant) or clears the expectation.
func (r *Registry) applyCancel(ctx context.Context, s *Session, ev PublishEvent) bool {
	fv, ok := s.FileVersions[ev.Code]
	if !ok || fv.PublishID != ev.PublishID {
		return false
	}

	next := clearExpectation(fv)
	if r.source != nil {
		exp, err := r.source.Expected(ctx, s.target())
		switch {
		case err != nil:
			r.log.WithField("terminal_id", s.ID).Warnf("registry -> resolve fallback: %v", err)
			next = fv
			next.IsExpired = true
		default:
			if e, ok := exp[ev.Code]; ok {
				if e.PublishID == ev.PublishID {
					// source not updated yet
					next = fv
					next.IsExpired = true
				} else {
					next = withExpectation(fv, e)
				}
			}
		}
	}
	s.FileVersions = copyVersions(s.FileVersions)
	s.FileVersions[ev.Code] = next
	return true
}

func copyVersions(m map[string]repo.FileVersion) map[string]repo.FileVersion {
	out := make(map[string]repo.FileVersion, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

// CheckNeedsSign flags active terminals with outstanding versions. It
// returns how many are flagged.
func (r *Registry) CheckNeedsSign() int {
	n := 0
	r.entries.Range(func(_, v any) bool {
		e := v.(*entry)
		e.mu.Lock()
		pending := e.s.Active() && len(outdated(e.s.FileVersions)) > 0
		e.mu.Unlock()
		if pending {
			e.needSign.Store(true)
			n++
		}
		return true
	})
	return n
}

// RefreshExpired re-resolves sessions holding expired expectations.
func (r *Registry) RefreshExpired(ctx context.Context) int {
	n := 0
	r.entries.Range(func(_, v any) bool {
		e := v.(*entry)
		e.mu.Lock()
		defer e.mu.Unlock()

		expired := false
		for _, fv := range e.s.FileVersions {
			if fv.IsExpired {
				expired = true
				break
			}
		}
		if !expired {
			return true
		}
		r.resolveExpected(ctx, &e.s)
		if err := r.store.Save(ctx, e.s.record()); err != nil {
			r.log.WithField("terminal_id", e.s.ID).Errorf("registry -> persist refreshed versions: %v", err)
		}
		n++
		return true
	})
	return n
}

func (r *Registry) ApplyMsgbox(ev MsgboxEvent) {
	for _, id := range ev.TerminalIDs {
		r.AddUnread(id, ev.Delta)
	}
}
