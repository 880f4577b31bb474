// Package ingest batches consume-data deliveries from the broker into the
// database. A delivery is acked only after its batch committed and nacked
// with requeue when the batch failed, so records are stored at least once.
package ingest

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/alfianX/crossgate-gw/internal/repo"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
	"gorm.io/gorm"
)

const (
	DefaultBatchSize     = 200
	DefaultFlushInterval = 5 * time.Second
	DefaultMaxAttempts   = 5

	maxTrackedAttempts = 100000
)

// Handle settles one broker delivery.
type Handle interface {
	Ack() error
	Nack(requeue bool) error
}

// Writer persists one batch atomically.
type Writer interface {
	WriteBatch(ctx context.Context, rows []repo.ConsumeData) error
}

// DeadLetter takes records that will never persist.
type DeadLetter interface {
	Put(body []byte, reason string) error
}

// TransientStorageError wraps a batch write failure. The batch is requeued.
type TransientStorageError struct {
	Size int
	Err  error
}

func (e *TransientStorageError) Error() string {
	return fmt.Sprintf("ingest: write batch of %d: %v", e.Size, e.Err)
}

func (e *TransientStorageError) Unwrap() error {
	return e.Err
}

type GormWriter struct {
	db *gorm.DB
}

func NewGormWriter(db *gorm.DB) *GormWriter {
	return &GormWriter{db: db}
}

func (w *GormWriter) WriteBatch(ctx context.Context, rows []repo.ConsumeData) error {
	return repo.ConsumeDataInsertBatch(ctx, w.db, rows, len(rows))
}

type Config struct {
	BatchSize     int
	FlushInterval time.Duration
	MaxAttempts   int
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	return c
}

type item struct {
	rec    repo.ConsumeData
	body   []byte
	key    string
	handle Handle
}

// Stats is a point-in-time view of the pipeline.
type Stats struct {
	Buffered     int64
	Flushes      int64
	Committed    int64
	Requeued     int64
	DeadLettered int64
}

type Pipeline struct {
	cfg    Config
	writer Writer
	dead   DeadLetter
	log    *logrus.Logger
	now    func() time.Time

	mu   sync.Mutex
	buf  []item
	size atomic.Int64

	// gate admits one flush at a time
	gate chan struct{}

	attemptsMu sync.Mutex
	attempts   map[string]int

	closed  atomic.Bool
	pending sync.WaitGroup

	flushes      atomic.Int64
	committed    atomic.Int64
	requeued     atomic.Int64
	deadLettered atomic.Int64
}

func NewPipeline(cfg Config, writer Writer, dead DeadLetter, log *logrus.Logger) *Pipeline {
	return &Pipeline{
		cfg:      cfg.withDefaults(),
		writer:   writer,
		dead:     dead,
		log:      log,
		now:      time.Now,
		gate:     make(chan struct{}, 1),
		attempts: make(map[string]int),
	}
}

func (p *Pipeline) Stats() Stats {
	return Stats{
		Buffered:     p.size.Load(),
		Flushes:      p.flushes.Load(),
		Committed:    p.committed.Load(),
		Requeued:     p.requeued.Load(),
		DeadLettered: p.deadLettered.Load(),
	}
}

// Enqueue buffers one delivery. Undecodable bodies are dead-lettered and
// acked right away. Reaching the batch size starts a flush in the background.
func (p *Pipeline) Enqueue(ctx context.Context, body []byte, h Handle) {
	if p.closed.Load() {
		p.settle(h, false, true)
		return
	}

	rec, err := DecodeRecord(body, p.now())
	if err != nil {
		p.log.WithField("debug_tag", "mq_in").Warnf("ingest -> %v", err)
		p.deadLetter(item{body: body, handle: h}, err.Error())
		return
	}

	p.mu.Lock()
	p.buf = append(p.buf, item{rec: rec, body: body, key: bodyKey(body), handle: h})
	p.mu.Unlock()

	if p.size.Inc() >= int64(p.cfg.BatchSize) {
		p.pending.Add(1)
		go func() {
			defer p.pending.Done()
			p.TryFlush(ctx)
		}()
	}
}

// TryFlush runs one flush unless another is in progress, in which case it
// returns false at once.
func (p *Pipeline) TryFlush(ctx context.Context) bool {
	select {
	case p.gate <- struct{}{}:
	default:
		return false
	}
	defer func() { <-p.gate }()

	p.flushOnce(context.WithoutCancel(ctx))
	return true
}

// Run flushes on every tick until ctx ends, then drains the buffer.
func (p *Pipeline) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return p.Drain(context.WithoutCancel(ctx))
		case <-ticker.C:
			p.TryFlush(ctx)
		}
	}
}

// Drain stops intake, waits for the running flush and writes everything
// still buffered.
func (p *Pipeline) Drain(ctx context.Context) error {
	p.closed.Store(true)

	select {
	case p.gate <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-p.gate }()

	for p.size.Load() > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.flushOnce(ctx)
	}
	return nil
}

// Wait blocks until background flushes started by Enqueue return.
func (p *Pipeline) Wait() {
	p.pending.Wait()
}

func (p *Pipeline) take(n int) []item {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n > len(p.buf) {
		n = len(p.buf)
	}
	batch := make([]item, n)
	copy(batch, p.buf[:n])
	p.buf = p.buf[n:]
	p.size.Sub(int64(n))
	return batch
}

func (p *Pipeline) flushOnce(ctx context.Context) {
	batch := p.take(p.cfg.BatchSize)
	if len(batch) == 0 {
		return
	}
	p.flushes.Inc()

	err := p.writer.WriteBatch(ctx, rows(batch))
	if err == nil {
		p.commit(batch)
		return
	}

	terr := &TransientStorageError{Size: len(batch), Err: err}
	p.log.Errorf("ingest -> %v", terr)

	if !p.bumpAttempts(batch) {
		p.requeue(batch)
		return
	}
	p.isolate(ctx, batch)
}

// isolate retries a repeatedly failing batch record by record. When all of
// them fail the store is treated as down and everything is requeued;
// otherwise the failing records are poison and go to the dead-letter store.
func (p *Pipeline) isolate(ctx context.Context, batch []item) {
	var failed []item
	var reasons []string
	for _, it := range batch {
		if err := p.writer.WriteBatch(ctx, rows([]item{it})); err != nil {
			failed = append(failed, it)
			reasons = append(reasons, err.Error())
			continue
		}
		p.commit([]item{it})
	}

	if len(failed) == len(batch) {
		p.log.Warnf("ingest -> all %d records failed alone, requeue", len(batch))
		p.requeue(failed)
		return
	}
	for i, it := range failed {
		p.deadLetter(it, reasons[i])
	}
}

func (p *Pipeline) commit(batch []item) {
	for _, it := range batch {
		p.settle(it.handle, true, false)
		p.forget(it.key)
	}
	p.committed.Add(int64(len(batch)))
}

func (p *Pipeline) requeue(batch []item) {
	for _, it := range batch {
		p.settle(it.handle, false, true)
	}
	p.requeued.Add(int64(len(batch)))
}

func (p *Pipeline) deadLetter(it item, reason string) {
	if p.dead == nil {
		p.settle(it.handle, false, true)
		return
	}
	if err := p.dead.Put(it.body, reason); err != nil {
		p.log.Errorf("ingest -> dead letter: %v", err)
		p.settle(it.handle, false, true)
		return
	}
	p.deadLettered.Inc()
	p.settle(it.handle, true, false)
	p.forget(it.key)
}

func (p *Pipeline) settle(h Handle, ack, requeue bool) {
	var err error
	if ack {
		err = h.Ack()
	} else {
		err = h.Nack(requeue)
	}
	if err != nil {
		p.log.Errorf("ingest -> settle delivery (ack=%v): %v", ack, err)
	}
}

// bumpAttempts counts one more failure per record and reports whether any
// of them reached MaxAttempts.
func (p *Pipeline) bumpAttempts(batch []item) bool {
	p.attemptsMu.Lock()
	defer p.attemptsMu.Unlock()
	if len(p.attempts) > maxTrackedAttempts {
		p.attempts = make(map[string]int)
	}
	poisoned := false
	for _, it := range batch {
		p.attempts[it.key]++
		if p.attempts[it.key] >= p.cfg.MaxAttempts {
			poisoned = true
		}
	}
	return poisoned
}

func (p *Pipeline) forget(key string) {
	if key == "" {
		return
	}
	p.attemptsMu.Lock()
	delete(p.attempts, key)
	p.attemptsMu.Unlock()
}

func rows(batch []item) []repo.ConsumeData {
	out := make([]repo.ConsumeData, len(batch))
	for i, it := range batch {
		out[i] = it.rec
	}
	return out
}

func bodyKey(body []byte) string {
	sum := sha1.Sum(body)
	return hex.EncodeToString(sum[:])
}
