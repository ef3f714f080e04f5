package orchestrator

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ignite/outreach-monitor/internal/eventlog"
	"github.com/ignite/outreach-monitor/internal/intelligence"
)

// =============================================================================
// MONITORING ORCHESTRATOR
// =============================================================================
// The orchestrator is the central event consumer: it claims unprocessed
// event log entries, dispatches by event type to state-transition handlers,
// applies the discovery cascade, and emits follow-on events.
//
// Concurrency model: each event is claimed and handled inside its own
// transaction. The FOR UPDATE SKIP LOCKED claim keeps the row locked until
// that transaction commits or rolls back, so N orchestrator instances can
// run in parallel without processing the same event twice. Handler
// mutations and the processed flag commit atomically; a handler failure
// rolls everything back and records retry bookkeeping on a separate
// connection.

const (
	// DefaultPollInterval is how often the orchestrator scans for
	// claimable events.
	DefaultPollInterval = 10 * time.Second

	// DefaultBatchSize bounds how many events one tick processes.
	DefaultBatchSize = 10
)

// Orchestrator claims and processes event log entries.
type Orchestrator struct {
	db           *sql.DB
	classifier   intelligence.Classifier
	drafter      intelligence.Drafter
	workerID     string
	pollInterval time.Duration
	batchSize    int

	// Stats
	totalProcessed int64
	totalErrors    int64

	// Control
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.RWMutex
}

// New creates an orchestrator worker.
func New(db *sql.DB, classifier intelligence.Classifier, drafter intelligence.Drafter) *Orchestrator {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "unknown"
	}
	return &Orchestrator{
		db:           db,
		classifier:   classifier,
		drafter:      drafter,
		workerID:     fmt.Sprintf("orchestrator-%s-%d", hostname, time.Now().UnixNano()%10000),
		pollInterval: DefaultPollInterval,
		batchSize:    DefaultBatchSize,
	}
}

// SetPollInterval overrides the scan interval.
func (o *Orchestrator) SetPollInterval(d time.Duration) {
	o.pollInterval = d
}

// Start begins the orchestrator polling loop.
func (o *Orchestrator) Start() error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator already running")
	}
	o.running = true
	o.ctx, o.cancel = context.WithCancel(context.Background())
	o.mu.Unlock()

	log.Printf("[Orchestrator] Starting %s with poll interval %v", o.workerID, o.pollInterval)

	o.wg.Add(1)
	go o.eventLoop()

	return nil
}

// Stop gracefully stops the orchestrator: the current batch finishes, no
// new claim is started.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	o.mu.Unlock()

	log.Printf("[Orchestrator] Stopping...")
	o.cancel()
	o.wg.Wait()
	log.Printf("[Orchestrator] Stopped. Processed: %d, Errors: %d",
		atomic.LoadInt64(&o.totalProcessed), atomic.LoadInt64(&o.totalErrors))
}

// Stats returns processing counters.
func (o *Orchestrator) Stats() map[string]int64 {
	return map[string]int64{
		"total_processed": atomic.LoadInt64(&o.totalProcessed),
		"total_errors":    atomic.LoadInt64(&o.totalErrors),
	}
}

func (o *Orchestrator) eventLoop() {
	defer o.wg.Done()

	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.ctx.Done():
			return
		case <-ticker.C:
			if err := o.ProcessBatch(o.ctx); err != nil {
				// Systemic failure (store outage) degrades to slow
				// polling, never process death.
				log.Printf("[Orchestrator] Batch error: %v", err)
			}
		}
	}
}

// ProcessBatch claims and handles up to batchSize events, one transaction
// per event. Exported so the operator API can trigger an immediate drain.
func (o *Orchestrator) ProcessBatch(ctx context.Context) error {
	for i := 0; i < o.batchSize; i++ {
		processed, err := o.processOne(ctx)
		if err != nil {
			return err
		}
		if !processed {
			return nil
		}
	}
	return nil
}

// processOne claims a single event and runs its handler. Returns false when
// no claimable event exists. Handler failures are absorbed into retry
// bookkeeping and reported as processed=true so the batch keeps draining.
func (o *Orchestrator) processOne(ctx context.Context) (bool, error) {
	tx, err := o.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin event tx: %w", err)
	}

	entries, err := eventlog.Claim(ctx, tx, 1)
	if err != nil {
		tx.Rollback()
		return false, err
	}
	if len(entries) == 0 {
		tx.Rollback()
		return false, nil
	}
	entry := entries[0]

	if err := o.handleEvent(ctx, tx, entry); err != nil {
		tx.Rollback()
		atomic.AddInt64(&o.totalErrors, 1)
		log.Printf("[Orchestrator] Failure processing event %d (%s): %v", entry.ID, entry.EventType, err)
		if recErr := eventlog.RecordFailure(ctx, o.db, entry, err); recErr != nil {
			log.Printf("[Orchestrator] Failed to record failure for event %d: %v", entry.ID, recErr)
		}
		return true, nil
	}

	if err := eventlog.MarkProcessed(ctx, tx, entry.ID); err != nil {
		tx.Rollback()
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit event %d: %w", entry.ID, err)
	}

	atomic.AddInt64(&o.totalProcessed, 1)
	log.Printf("[Orchestrator] Processed event %d (%s)", entry.ID, entry.EventType)
	return true, nil
}
