// Package increment assembles delta envelopes from the serial-numbered
// increment content log.
package increment

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/alfianX/crossgate-gw/internal/repo"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	// MaxCount bounds how many entries one envelope carries.
	MaxCount = 0xFFFF
	// MaxEnvelope is the capacity of the response field carrying the
	// envelope.
	MaxEnvelope = 999

	headerLen = 4 + 3*8
)

// Request is the parsed increment request of a terminal.
type Request struct {
	MerchantID    string
	IncrementType string
	CurSerialNum  int64
	Count         int
}

// ParseRequest reads type(4) + cur serial(8 hex) + count(4 hex).
func ParseRequest(merchantID, raw string) (Request, error) {
	if len(raw) != 16 {
		return Request{}, fmt.Errorf("increment request must be 16 chars, got %d", len(raw))
	}
	cur, err := strconv.ParseInt(raw[4:12], 16, 64)
	if err != nil {
		return Request{}, fmt.Errorf("increment serial %q: %w", raw[4:12], err)
	}
	count, err := strconv.ParseInt(raw[12:16], 16, 32)
	if err != nil {
		return Request{}, fmt.Errorf("increment count %q: %w", raw[12:16], err)
	}
	return Request{
		MerchantID:    merchantID,
		IncrementType: raw[:4],
		CurSerialNum:  cur,
		Count:         int(count),
	}, nil
}

// Log is the read side of the content log.
type Log interface {
	LastSerial(ctx context.Context, merchantID, incrementType string) (int64, bool, error)
	After(ctx context.Context, merchantID, incrementType string, cur int64, limit int) ([]repo.IncrementContent, error)
}

type GormLog struct {
	db *gorm.DB
}

func NewGormLog(db *gorm.DB) *GormLog {
	return &GormLog{db: db}
}

func (l *GormLog) LastSerial(ctx context.Context, merchantID, incrementType string) (int64, bool, error) {
	return repo.IncrementLastSerial(ctx, l.db, merchantID, incrementType)
}

func (l *GormLog) After(ctx context.Context, merchantID, incrementType string, cur int64, limit int) ([]repo.IncrementContent, error) {
	return repo.IncrementAfter(ctx, l.db, merchantID, incrementType, cur, limit)
}

type Service struct {
	log         Log
	logger      *logrus.Logger
	maxEnvelope int
}

func NewService(log Log, logger *logrus.Logger) *Service {
	return &Service{log: log, logger: logger, maxEnvelope: MaxEnvelope}
}

// Empty is the envelope for "nothing to send": the type followed by three
// zeroed 8-digit hex fields.
func Empty(incrementType string) string {
	return incrementType + strings.Repeat("0", 24)
}

// Build returns the envelope for req. degraded is true when a store failure
// forced the empty envelope; callers signal it in the response code.
func (s *Service) Build(ctx context.Context, req Request) (envelope string, degraded bool) {
	last, ok, err := s.log.LastSerial(ctx, req.MerchantID, req.IncrementType)
	if err != nil {
		s.fail(req, err)
		return Empty(req.IncrementType), true
	}
	if !ok {
		return Empty(req.IncrementType), false
	}
	if req.CurSerialNum >= last || req.Count <= 0 {
		return current(req.IncrementType, last), false
	}

	count := req.Count
	if count > MaxCount {
		count = MaxCount
	}
	entries, err := s.log.After(ctx, req.MerchantID, req.IncrementType, req.CurSerialNum, count)
	if err != nil {
		s.fail(req, err)
		return Empty(req.IncrementType), true
	}

	// items that do not fit wait for the next request, which starts after
	// maxSerial
	var b strings.Builder
	maxSerial := int64(0)
	n := 0
	for _, e := range entries {
		if e.SerialNum <= req.CurSerialNum {
			continue
		}
		if headerLen+b.Len()+len(e.Content) > s.maxEnvelope {
			break
		}
		if e.SerialNum > maxSerial {
			maxSerial = e.SerialNum
		}
		b.WriteString(e.Content)
		n++
	}
	if n == 0 && len(entries) > 0 {
		s.logger.WithFields(logrus.Fields{
			"merchant_id":    req.MerchantID,
			"increment_type": req.IncrementType,
		}).Warnf("increment -> entry after %d does not fit in %d bytes", req.CurSerialNum, s.maxEnvelope)
	}
	return fmt.Sprintf("%s%08X%08X%08X%s", req.IncrementType, last, maxSerial, n, b.String()), false
}

// current reports last with no items: the terminal is up to date or asked
// for none.
func current(incrementType string, last int64) string {
	return fmt.Sprintf("%s%08X%08X%08X", incrementType, last, 0, 0)
}

func (s *Service) fail(req Request, err error) {
	s.logger.WithFields(logrus.Fields{
		"merchant_id":    req.MerchantID,
		"increment_type": req.IncrementType,
	}).Errorf("increment -> build envelope: %v", err)
}
