package mailbox

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/outreach-monitor/internal/domain"
	"github.com/ignite/outreach-monitor/internal/eventlog"
	"github.com/ignite/outreach-monitor/internal/pkg/distlock"
)

// =============================================================================
// MAILBOX POLLER
// =============================================================================
// Polls the inbox on a fixed interval, but only while at least one campaign
// is in active monitoring. Fetch runs outside any transaction (network I/O
// isolation); every ingested message is persisted together with its
// EMAIL_RECEIVED event in one transaction.
//
// Because IMAP fetch flips the \Seen flag, concurrent pollers would race on
// the same messages. A distributed lock keeps one instance polling at a
// time; the message-id dedup below is the safety net if the lock expires
// mid-fetch.

const (
	// DefaultPollInterval is how often the inbox is checked.
	DefaultPollInterval = 30 * time.Second

	// LockTTL bounds how long a crashed poller can hold the inbox lock.
	LockTTL = 2 * time.Minute
)

// Poller ingests inbound replies.
type Poller struct {
	db           *sql.DB
	transport    Transport
	lock         distlock.DistLock // optional; nil disables single-flight
	inboxAddress string
	workerID     string
	pollInterval time.Duration

	// Stats
	totalIngested int64
	totalIgnored  int64
	totalErrors   int64

	// Control
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.RWMutex
}

// New creates a mailbox poller. inboxAddress is recorded as the recipient
// on ingested emails.
func New(db *sql.DB, transport Transport, inboxAddress string) *Poller {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "unknown"
	}
	return &Poller{
		db:           db,
		transport:    transport,
		inboxAddress: inboxAddress,
		workerID:     fmt.Sprintf("mailbox-%s-%d", hostname, time.Now().UnixNano()%10000),
		pollInterval: DefaultPollInterval,
	}
}

// SetLock sets the distributed lock used to keep one poller instance
// active at a time.
func (p *Poller) SetLock(lock distlock.DistLock) {
	p.lock = lock
}

// SetPollInterval overrides the scan interval.
func (p *Poller) SetPollInterval(d time.Duration) {
	p.pollInterval = d
}

// Start begins the polling loop.
func (p *Poller) Start() error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("mailbox poller already running")
	}
	p.running = true
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.mu.Unlock()

	log.Printf("[MailboxPoller] Starting %s with poll interval %v", p.workerID, p.pollInterval)

	p.wg.Add(1)
	go p.pollLoop()
	return nil
}

// Stop gracefully stops the poller at the next loop boundary.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	log.Printf("[MailboxPoller] Stopping...")
	p.cancel()
	p.wg.Wait()
	log.Printf("[MailboxPoller] Stopped. Ingested: %d, Ignored: %d, Errors: %d",
		atomic.LoadInt64(&p.totalIngested), atomic.LoadInt64(&p.totalIgnored), atomic.LoadInt64(&p.totalErrors))
}

func (p *Poller) pollLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			if err := p.Poll(p.ctx); err != nil {
				atomic.AddInt64(&p.totalErrors, 1)
				log.Printf("[MailboxPoller] Poll error: %v", err)
			}
		}
	}
}

// Poll runs one inbox scan. Exported for the operator API's manual tick.
func (p *Poller) Poll(ctx context.Context) error {
	active, err := p.hasActiveCampaign(ctx)
	if err != nil {
		return err
	}
	if !active {
		return nil
	}

	if p.lock != nil {
		acquired, err := p.lock.Acquire(ctx)
		if err != nil {
			return fmt.Errorf("acquire inbox lock: %w", err)
		}
		if !acquired {
			return nil
		}
		defer p.lock.Release(ctx)
	}

	messages, err := p.transport.ListUnseen(ctx)
	if err != nil {
		return fmt.Errorf("list unseen: %w", err)
	}

	for _, msg := range messages {
		if err := p.Ingest(ctx, msg); err != nil {
			atomic.AddInt64(&p.totalErrors, 1)
			log.Printf("[MailboxPoller] Failed to ingest message from %s: %v", msg.From, err)
		}
	}
	return nil
}

func (p *Poller) hasActiveCampaign(ctx context.Context) (bool, error) {
	var active bool
	err := p.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM campaigns WHERE status = $1)
	`, string(domain.CampaignMonitoringActive)).Scan(&active)
	if err != nil {
		return false, fmt.Errorf("check active campaigns: %w", err)
	}
	return active, nil
}

// Ingest maps one inbound message to a decision maker, dedupes it, and
// persists the email together with its EMAIL_RECEIVED event in a single
// transaction.
func (p *Poller) Ingest(ctx context.Context, msg InboundMessage) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ingest tx: %w", err)
	}
	defer tx.Rollback()

	var dmID string
	err = tx.QueryRowContext(ctx, `
		SELECT dm.id
		FROM decision_makers dm
		JOIN campaigns c ON c.id = dm.campaign_id
		JOIN target_companies tc ON tc.id = dm.company_id
		WHERE LOWER(dm.email) = LOWER($1) AND c.status = $2 AND tc.status = $3
		LIMIT 1
	`, msg.From, string(domain.CampaignMonitoringActive), string(domain.CompanyActive)).Scan(&dmID)
	if err == sql.ErrNoRows {
		// Unmatched senders are expected noise, not an error.
		atomic.AddInt64(&p.totalIgnored, 1)
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolve sender %s: %w", msg.From, err)
	}

	dup, err := p.isDuplicate(ctx, tx, dmID, msg)
	if err != nil {
		return err
	}
	if dup {
		atomic.AddInt64(&p.totalIgnored, 1)
		return nil
	}

	emailID := uuid.New().String()
	var messageID interface{}
	if msg.MessageID != "" {
		messageID = msg.MessageID
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO emails (id, decision_maker_id, sender, recipient, subject, body, status, direction, type, message_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
	`, emailID, dmID, msg.From, p.inboxAddress, msg.Subject, msg.Body,
		string(domain.EmailReceived), string(domain.DirectionInbound), string(domain.EmailTypeReply), messageID); err != nil {
		return fmt.Errorf("persist inbound email: %w", err)
	}

	if err := eventlog.Append(ctx, tx, domain.EventEmailReceived, emailID, domain.EntityEmail,
		map[string]string{"dm_id": dmID}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ingest: %w", err)
	}

	atomic.AddInt64(&p.totalIngested, 1)
	log.Printf("[MailboxPoller] Ingested reply from %s (decision maker %s)", msg.From, dmID)
	return nil
}

// isDuplicate checks the transport message id when present, falling back
// to a (decision maker, body) match for transports that strip ids.
func (p *Poller) isDuplicate(ctx context.Context, tx *sql.Tx, dmID string, msg InboundMessage) (bool, error) {
	var exists bool
	if msg.MessageID != "" {
		err := tx.QueryRowContext(ctx, `
			SELECT EXISTS(SELECT 1 FROM emails WHERE message_id = $1)
		`, msg.MessageID).Scan(&exists)
		if err != nil {
			return false, fmt.Errorf("dedup by message id: %w", err)
		}
		return exists, nil
	}

	err := tx.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM emails WHERE decision_maker_id = $1 AND body = $2)
	`, dmID, msg.Body).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("dedup by body: %w", err)
	}
	return exists, nil
}
