package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ignite/outreach-monitor/internal/domain"
	"github.com/ignite/outreach-monitor/internal/eventlog"
)

// =============================================================================
// TIMER & REMINDER ENGINE
// =============================================================================
// Converts wall-clock deadlines into events: scans due pending
// scheduled_emails rows, applies cancellation rules against the current
// decision maker / company / campaign statuses, and emits TIMER_FIRED for
// the orchestrator to act on. The engine itself stays dumb - it never
// drafts or terminates.
//
// Claiming uses FOR UPDATE OF se SKIP LOCKED so multiple engine instances
// never double-fire the same timer.

const (
	// DefaultPollInterval is how often due timers are scanned.
	DefaultPollInterval = 1 * time.Minute

	// DefaultBatchSize bounds how many due timers one tick handles.
	DefaultBatchSize = 100
)

// TimerEngine polls for due follow-up schedules.
type TimerEngine struct {
	db           *sql.DB
	workerID     string
	pollInterval time.Duration
	batchSize    int

	// Stats
	totalFired     int64
	totalCancelled int64
	totalErrors    int64

	// Control
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.RWMutex
}

// New creates a timer engine.
func New(db *sql.DB) *TimerEngine {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "unknown"
	}
	return &TimerEngine{
		db:           db,
		workerID:     fmt.Sprintf("timer-%s-%d", hostname, time.Now().UnixNano()%10000),
		pollInterval: DefaultPollInterval,
		batchSize:    DefaultBatchSize,
	}
}

// SetPollInterval overrides the scan interval.
func (te *TimerEngine) SetPollInterval(d time.Duration) {
	te.pollInterval = d
}

// Start begins the timer polling loop.
func (te *TimerEngine) Start() error {
	te.mu.Lock()
	if te.running {
		te.mu.Unlock()
		return fmt.Errorf("timer engine already running")
	}
	te.running = true
	te.ctx, te.cancel = context.WithCancel(context.Background())
	te.mu.Unlock()

	log.Printf("[TimerEngine] Starting %s with poll interval %v", te.workerID, te.pollInterval)

	te.wg.Add(1)
	go te.timerLoop()
	return nil
}

// Stop gracefully stops the engine at the next loop boundary.
func (te *TimerEngine) Stop() {
	te.mu.Lock()
	if !te.running {
		te.mu.Unlock()
		return
	}
	te.running = false
	te.mu.Unlock()

	log.Printf("[TimerEngine] Stopping...")
	te.cancel()
	te.wg.Wait()
	log.Printf("[TimerEngine] Stopped. Fired: %d, Cancelled: %d, Errors: %d",
		atomic.LoadInt64(&te.totalFired), atomic.LoadInt64(&te.totalCancelled), atomic.LoadInt64(&te.totalErrors))
}

func (te *TimerEngine) timerLoop() {
	defer te.wg.Done()

	ticker := time.NewTicker(te.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-te.ctx.Done():
			return
		case <-ticker.C:
			if err := te.CheckTimers(te.ctx); err != nil {
				atomic.AddInt64(&te.totalErrors, 1)
				log.Printf("[TimerEngine] Error checking timers: %v", err)
			}
		}
	}
}

// dueTimer is one claimed scheduled_emails row joined against the statuses
// that decide its fate.
type dueTimer struct {
	ID             string
	Type           domain.TimerType
	Step           int
	DMID           string
	DMStatus       domain.DecisionMakerStatus
	CampaignStatus domain.CampaignStatus
	CompanyStatus  domain.CompanyStatus
}

// CheckTimers claims due pending schedules and fires or cancels each one.
// Everything runs in a single transaction so a fired timer and its event
// commit together. Exported for the operator API's manual tick.
func (te *TimerEngine) CheckTimers(ctx context.Context) error {
	tx, err := te.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin timer tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT se.id, se.type, se.step, se.decision_maker_id,
		       dm.status AS dm_status, c.status AS campaign_status, tc.status AS company_status
		FROM scheduled_emails se
		JOIN decision_makers dm ON dm.id = se.decision_maker_id
		JOIN campaigns c ON c.id = dm.campaign_id
		JOIN target_companies tc ON tc.id = dm.company_id
		WHERE se.status = 'pending' AND se.scheduled_at <= NOW()
		ORDER BY se.scheduled_at ASC
		LIMIT $1
		FOR UPDATE OF se SKIP LOCKED
	`, te.batchSize)
	if err != nil {
		return fmt.Errorf("claim due timers: %w", err)
	}

	var due []dueTimer
	for rows.Next() {
		var t dueTimer
		if err := rows.Scan(&t.ID, &t.Type, &t.Step, &t.DMID, &t.DMStatus, &t.CampaignStatus, &t.CompanyStatus); err != nil {
			rows.Close()
			return fmt.Errorf("scan due timer: %w", err)
		}
		due = append(due, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, t := range due {
		// The conversation moved on for a reason unrelated to this
		// timer: cancel silently.
		if t.DMStatus != domain.DecisionMakerActive || t.CompanyStatus == domain.CompanyDiscovery {
			if err := te.cancelTimer(ctx, tx, t); err != nil {
				return err
			}
			continue
		}

		// Paused campaign: leave pending so the timer fires once
		// monitoring resumes.
		if t.CampaignStatus != domain.CampaignMonitoringActive {
			continue
		}

		if err := te.fireTimer(ctx, tx, t); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (te *TimerEngine) cancelTimer(ctx context.Context, tx *sql.Tx, t dueTimer) error {
	log.Printf("[TimerEngine] Cancelling timer %s (%s): dm_status=%s company_status=%s",
		t.ID, t.Type, t.DMStatus, t.CompanyStatus)
	if _, err := tx.ExecContext(ctx, `
		UPDATE scheduled_emails SET status = $2 WHERE id = $1
	`, t.ID, string(domain.ScheduleCancelled)); err != nil {
		return fmt.Errorf("cancel timer %s: %w", t.ID, err)
	}
	atomic.AddInt64(&te.totalCancelled, 1)
	return nil
}

func (te *TimerEngine) fireTimer(ctx context.Context, tx *sql.Tx, t dueTimer) error {
	log.Printf("[TimerEngine] Firing %s for decision maker %s", t.Type, t.DMID)
	if _, err := tx.ExecContext(ctx, `
		UPDATE scheduled_emails SET status = $2 WHERE id = $1
	`, t.ID, string(domain.ScheduleProcessed)); err != nil {
		return fmt.Errorf("mark timer %s processed: %w", t.ID, err)
	}

	if err := eventlog.Append(ctx, tx, domain.EventTimerFired, t.DMID, domain.EntityDecisionMaker,
		map[string]interface{}{
			"timer_type":  string(t.Type),
			"next_turn":   t.Step,
			"schedule_id": t.ID,
		}); err != nil {
		return err
	}
	atomic.AddInt64(&te.totalFired, 1)
	return nil
}
