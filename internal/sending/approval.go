package sending

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/outreach-monitor/internal/domain"
	"github.com/ignite/outreach-monitor/internal/eventlog"
	"github.com/ignite/outreach-monitor/internal/pkg/logger"
)

// Service approves or declines pending drafts. Approval delivers the
// message first and records the transition only after the provider
// accepted it, so a delivery failure leaves the draft PENDING_APPROVAL.
type Service struct {
	db     *sql.DB
	sender Sender
}

// NewService creates the approval service.
func NewService(db *sql.DB, sender Sender) *Service {
	return &Service{db: db, sender: sender}
}

// Approve delivers a PENDING_APPROVAL draft and marks it sent. Approving
// an already-SENT email is a no-op.
func (s *Service) Approve(ctx context.Context, emailID string) error {
	var (
		status domain.EmailStatus
		msg    OutboundMessage
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT e.status, e.recipient, e.subject, e.body, e.decision_maker_id, dm.campaign_id
		FROM emails e
		JOIN decision_makers dm ON dm.id = e.decision_maker_id
		WHERE e.id = $1
	`, emailID).Scan(&status, &msg.To, &msg.Subject, &msg.Body, &msg.DecisionMakerID, &msg.CampaignID)
	if err == sql.ErrNoRows {
		return fmt.Errorf("email %s not found", emailID)
	}
	if err != nil {
		return fmt.Errorf("load draft %s: %w", emailID, err)
	}

	if status == domain.EmailSent {
		return nil
	}
	if status != domain.EmailPendingApproval {
		return fmt.Errorf("email %s is %s, not %s", emailID, status, domain.EmailPendingApproval)
	}

	providerID, err := s.sender.Send(ctx, msg)
	if err != nil {
		logger.Error("Draft delivery failed, leaving pending",
			"email_id", emailID, "error", err.Error())
		return fmt.Errorf("deliver draft %s: %w", emailID, err)
	}

	return MarkEmailSent(ctx, s.db, emailID, providerID)
}

// Decline rejects a pending draft so it never sends.
func (s *Service) Decline(ctx context.Context, emailID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE emails SET status = $2 WHERE id = $1 AND status = $3
	`, emailID, string(domain.EmailDeclined), string(domain.EmailPendingApproval))
	if err != nil {
		return fmt.Errorf("decline draft %s: %w", emailID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("email %s is not a pending draft", emailID)
	}
	logger.Info("Draft declined", "email_id", emailID)
	return nil
}

// MarkEmailSent records a successful delivery and advances the
// conversation state machine in a single transaction:
//
//   - idempotent: an already-SENT email is a no-op
//   - aborts if the decision maker or company became ineligible after the
//     draft was created
//   - increments turn_count, stamps last_outbound_at, activates the
//     decision maker
//   - first send of a MONITORING_READY campaign activates it
//   - schedules the follow-up timer for the new turn, superseding any
//     pending schedule; a turn past the hard cap terminates instead
//   - appends EMAIL_SENT
//
// providerMessageID may be empty when the transport reported no id.
func MarkEmailSent(ctx context.Context, db *sql.DB, emailID, providerMessageID string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin mark-sent tx: %w", err)
	}
	defer tx.Rollback()

	var (
		status domain.EmailStatus
		dmID   string
	)
	err = tx.QueryRowContext(ctx, `
		SELECT status, decision_maker_id FROM emails WHERE id = $1 FOR UPDATE
	`, emailID).Scan(&status, &dmID)
	if err == sql.ErrNoRows {
		return fmt.Errorf("email %s not found", emailID)
	}
	if err != nil {
		return fmt.Errorf("load email %s: %w", emailID, err)
	}

	if status == domain.EmailSent {
		return nil
	}
	if status != domain.EmailPendingApproval {
		return fmt.Errorf("email %s is %s, not %s", emailID, status, domain.EmailPendingApproval)
	}

	var (
		dmEmail        string
		dmStatus       domain.DecisionMakerStatus
		turnCount      int
		campaignID     string
		campaignStatus domain.CampaignStatus
		companyStatus  domain.CompanyStatus
	)
	err = tx.QueryRowContext(ctx, `
		SELECT dm.email, dm.status, dm.turn_count, dm.campaign_id,
		       c.status AS campaign_status, tc.status AS company_status
		FROM decision_makers dm
		JOIN campaigns c ON c.id = dm.campaign_id
		JOIN target_companies tc ON tc.id = dm.company_id
		WHERE dm.id = $1
		FOR UPDATE OF dm
	`, dmID).Scan(&dmEmail, &dmStatus, &turnCount, &campaignID, &campaignStatus, &companyStatus)
	if err != nil {
		return fmt.Errorf("load decision maker %s: %w", dmID, err)
	}

	// Drafts can outlive the conversation that produced them.
	if !(&domain.DecisionMaker{Status: dmStatus}).CanReceiveOutbound() {
		return fmt.Errorf("decision maker %s is %s, refusing to send", dmID, dmStatus)
	}
	if companyStatus == domain.CompanyDiscovery {
		return fmt.Errorf("company of decision maker %s is in discovery, refusing to send", dmID)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE emails
		SET status = $2, sent_at = NOW(), message_id = COALESCE(NULLIF($3, ''), message_id)
		WHERE id = $1
	`, emailID, string(domain.EmailSent), providerMessageID); err != nil {
		return fmt.Errorf("mark email %s sent: %w", emailID, err)
	}

	newTurn := turnCount + 1
	if _, err := tx.ExecContext(ctx, `
		UPDATE decision_makers
		SET status = $2, turn_count = $3, last_outbound_at = NOW()
		WHERE id = $1
	`, dmID, string(domain.DecisionMakerActive), newTurn); err != nil {
		return fmt.Errorf("advance decision maker %s: %w", dmID, err)
	}

	if campaignStatus == domain.CampaignMonitoringReady {
		if err := activateCampaign(ctx, tx, campaignID); err != nil {
			return err
		}
	}

	if newTurn > domain.MaxTurnCount {
		if err := terminateAtTurnCap(ctx, tx, dmID, newTurn); err != nil {
			return err
		}
	} else if timer := domain.NextTimer(newTurn); timer != "" {
		if err := scheduleFollowUp(ctx, tx, dmID, dmEmail, timer, newTurn); err != nil {
			return err
		}
	}

	if err := eventlog.Append(ctx, tx, domain.EventEmailSent, emailID, domain.EntityEmail,
		map[string]interface{}{"dm_id": dmID, "turn": newTurn}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit mark-sent: %w", err)
	}

	logger.Info("Email sent", "email_id", emailID, "dm_id", dmID, "turn", newTurn)
	return nil
}

// activateCampaign flips a MONITORING_READY campaign live on its first
// approved send. The status guard makes concurrent first sends converge.
func activateCampaign(ctx context.Context, tx *sql.Tx, campaignID string) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE campaigns SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3
	`, campaignID, string(domain.CampaignMonitoringActive), string(domain.CampaignMonitoringReady))
	if err != nil {
		return fmt.Errorf("activate campaign %s: %w", campaignID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	return eventlog.Append(ctx, tx, domain.EventCampaignStatusUpdated, campaignID, domain.EntityCampaign,
		map[string]string{
			"from": string(domain.CampaignMonitoringReady),
			"to":   string(domain.CampaignMonitoringActive),
		})
}

// terminateAtTurnCap ends the conversation when a send pushed the turn
// count past the hard cap.
func terminateAtTurnCap(ctx context.Context, tx *sql.Tx, dmID string, turn int) error {
	if _, err := tx.ExecContext(ctx, `
		UPDATE decision_makers SET status = $2 WHERE id = $1
	`, dmID, string(domain.DecisionMakerTerminated)); err != nil {
		return fmt.Errorf("terminate decision maker %s: %w", dmID, err)
	}
	if err := cancelPendingSchedules(ctx, tx, dmID); err != nil {
		return err
	}
	logger.Warn("Turn cap reached, terminating conversation", "dm_id", dmID, "turn", turn)
	return eventlog.Append(ctx, tx, domain.EventDecisionMakerTerminated, dmID, domain.EntityDecisionMaker,
		map[string]interface{}{"reason": domain.ReasonMaxTurnLimit, "turn": turn})
}

// scheduleFollowUp supersedes any pending schedule with the follow-up for
// the turn just reached.
func scheduleFollowUp(ctx context.Context, tx *sql.Tx, dmID, dmEmail string, timer domain.TimerType, turn int) error {
	if err := cancelPendingSchedules(ctx, tx, dmID); err != nil {
		return err
	}

	scheduleID := uuid.New().String()
	scheduledAt := time.Now().UTC().Add(domain.FollowUpDelay)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO scheduled_emails (id, decision_maker_id, recipient_email, type, step, status, scheduled_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
	`, scheduleID, dmID, dmEmail, string(timer), turn+1, string(domain.SchedulePending), scheduledAt); err != nil {
		return fmt.Errorf("schedule %s for decision maker %s: %w", timer, dmID, err)
	}

	return eventlog.Append(ctx, tx, domain.EventTimerScheduled, scheduleID, domain.EntitySchedule,
		map[string]interface{}{
			"timer_type":   string(timer),
			"dm_id":        dmID,
			"scheduled_at": scheduledAt.Format(time.RFC3339),
		})
}

func cancelPendingSchedules(ctx context.Context, tx *sql.Tx, dmID string) error {
	if _, err := tx.ExecContext(ctx, `
		UPDATE scheduled_emails SET status = $2
		WHERE decision_maker_id = $1 AND status = $3
	`, dmID, string(domain.ScheduleCancelled), string(domain.SchedulePending)); err != nil {
		return fmt.Errorf("cancel schedules for decision maker %s: %w", dmID, err)
	}
	return nil
}
