package sqlite

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentmesh-network/agentmesh/internal/domain"
	"github.com/agentmesh-network/agentmesh/internal/infra/metrics"
)

// ─── Admission Journal ──────────────────────────────────────────────────────

// JournalConfig controls the admission journal.
type JournalConfig struct {
	Retention time.Duration // Events older than this are pruned
	Buffer    int           // Pending events before new ones are dropped
}

// DefaultJournalConfig returns a 24h retention with a 1024-event buffer.
func DefaultJournalConfig() JournalConfig {
	return JournalConfig{
		Retention: 24 * time.Hour,
		Buffer:    1024,
	}
}

// Journal is an append-only log of admission decisions. RecordAdmission
// never blocks: events go through a bounded channel to a single writer
// goroutine and are dropped when the channel is full.
type Journal struct {
	db     *DB
	config JournalConfig
	log    *zap.Logger
	now    func() time.Time

	mu     sync.RWMutex
	closed bool
	events chan domain.AdmissionEvent
	wg     sync.WaitGroup
}

// NewJournal creates a journal on top of db. Call Start to begin writing.
func NewJournal(db *DB, cfg JournalConfig, log *zap.Logger) *Journal {
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultJournalConfig().Buffer
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultJournalConfig().Retention
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Journal{
		db:     db,
		config: cfg,
		log:    log,
		now:    time.Now,
		events: make(chan domain.AdmissionEvent, cfg.Buffer),
	}
}

// Start launches the writer and the retention loop. The retention loop
// stops with ctx; the writer drains until Close.
func (j *Journal) Start(ctx context.Context) {
	j.wg.Add(2)
	go func() {
		defer j.wg.Done()
		j.writeLoop()
	}()
	go func() {
		defer j.wg.Done()
		j.pruneLoop(ctx)
	}()
}

// RecordAdmission queues ev for writing. It implements
// domain.AdmissionRecorder.
func (j *Journal) RecordAdmission(ev domain.AdmissionEvent) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return
	}
	select {
	case j.events <- ev:
	default:
		metrics.JournalDropped.Inc()
	}
}

// Insert writes one event synchronously.
func (j *Journal) Insert(ctx context.Context, ev domain.AdmissionEvent) error {
	j.mu.RLock()
	closed := j.closed
	j.mu.RUnlock()
	if closed {
		return domain.ErrJournalClosed
	}
	return j.insert(ctx, ev)
}

// Recent returns up to limit events, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]domain.AdmissionEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := j.db.db.QueryContext(ctx,
		`SELECT id, at, ip, stage, allowed, reason
		 FROM admission_events ORDER BY at DESC, rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query admission events: %w", err)
	}
	defer rows.Close()

	var events []domain.AdmissionEvent
	for rows.Next() {
		var (
			ev    domain.AdmissionEvent
			at    int64
			stage string
		)
		if err := rows.Scan(&ev.ID, &at, &ev.IP, &stage, &ev.Allowed, &ev.Reason); err != nil {
			return nil, err
		}
		ev.At = time.UnixMilli(at)
		ev.Stage = domain.Stage(stage)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Prune deletes events older than the retention window.
func (j *Journal) Prune(ctx context.Context) (int64, error) {
	cutoff := j.now().Add(-j.config.Retention).UnixMilli()
	result, err := j.db.db.ExecContext(ctx, `DELETE FROM admission_events WHERE at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune admission events: %w", err)
	}
	return result.RowsAffected()
}

// Ping checks the underlying database.
func (j *Journal) Ping() error {
	return j.db.Ping()
}

// Close stops accepting events and waits for the writer to drain.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	close(j.events)
	j.mu.Unlock()

	j.wg.Wait()
	return nil
}

func (j *Journal) insert(ctx context.Context, ev domain.AdmissionEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = j.now()
	}

	start := time.Now()
	_, err := j.db.db.ExecContext(ctx,
		`INSERT INTO admission_events (id, at, ip, stage, allowed, reason)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.At.UnixMilli(), ev.IP, string(ev.Stage), ev.Allowed, ev.Reason,
	)
	metrics.JournalWriteLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("insert admission event: %w", err)
	}
	return nil
}

func (j *Journal) writeLoop() {
	for ev := range j.events {
		if err := j.insert(context.Background(), ev); err != nil {
			j.log.Warn("journal write failed", zap.String("id", ev.ID), zap.Error(err))
		}
	}
}

func (j *Journal) pruneLoop(ctx context.Context) {
	interval := min(j.config.Retention/4, 10*time.Minute)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := j.Prune(ctx)
			if err != nil {
				j.log.Warn("journal prune failed", zap.Error(err))
				continue
			}
			if n > 0 {
				j.log.Debug("journal pruned", zap.Int64("removed", n))
			}
		}
	}
}
