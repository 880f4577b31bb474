package session

import (
	"context"
	"sync"
	"time"

	"github.com/alfianX/crossgate-gw/internal/repo"
	"github.com/sirupsen/logrus"
)

const maxBufferedEvents = 10000

// EventRecorder buffers terminal events and writes them in batches.
type EventRecorder struct {
	store Store
	log   *logrus.Logger

	mu  sync.Mutex
	buf []repo.TerminalEvent
}

func NewEventRecorder(store Store, log *logrus.Logger) *EventRecorder {
	return &EventRecorder{store: store, log: log}
}

func (r *EventRecorder) Record(merchantID, terminalID string, eventType, severity int, remark string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.buf) >= maxBufferedEvents {
		r.buf = r.buf[1:]
	}
	r.buf = append(r.buf, repo.TerminalEvent{
		MerchantID: merchantID,
		TerminalID: terminalID,
		EventType:  eventType,
		Severity:   severity,
		Remark:     remark,
		EventTime:  at,
	})
}

func (r *EventRecorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf)
}

// Flush writes buffered events. On failure they are put back in front of
// anything recorded meanwhile.
func (r *EventRecorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	batch := r.buf
	r.buf = nil
	r.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	if err := r.store.InsertEvents(ctx, batch); err != nil {
		r.mu.Lock()
		r.buf = append(batch, r.buf...)
		if over := len(r.buf) - maxBufferedEvents; over > 0 {
			r.buf = r.buf[over:]
		}
		r.mu.Unlock()
		r.log.Errorf("event recorder -> flush %d events: %v", len(batch), err)
		return err
	}
	return nil
}
