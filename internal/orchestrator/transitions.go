package orchestrator

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/ignite/outreach-monitor/internal/domain"
	"github.com/ignite/outreach-monitor/internal/eventlog"
)

// Shared entity-transition helpers. Every mutation here checks current
// status before acting so redelivered events cannot double-terminate,
// double-cascade, or resurrect an entity.

// terminateDecisionMaker moves a decision maker to TERMINATED, cancels its
// pending follow-ups, and records the termination fact. Already-terminal
// decision makers are left untouched and no event is emitted.
func (o *Orchestrator) terminateDecisionMaker(ctx context.Context, tx *sql.Tx, dmID, reason string) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE decision_makers
		SET status = $2
		WHERE id = $1 AND status NOT IN ($3, $4, $5)
	`, dmID, string(domain.DecisionMakerTerminated),
		string(domain.DecisionMakerTerminated),
		string(domain.DecisionMakerDiscovery),
		string(domain.DecisionMakerBlacklisted))
	if err != nil {
		return fmt.Errorf("terminate decision maker %s: %w", dmID, err)
	}

	if err := cancelPendingSchedules(ctx, tx, dmID); err != nil {
		return err
	}

	if n, _ := res.RowsAffected(); n == 0 {
		log.Printf("[Orchestrator] Decision maker %s already terminal, skipping termination event", dmID)
		return nil
	}

	return eventlog.Append(ctx, tx, domain.EventDecisionMakerTerminated, dmID, domain.EntityDecisionMaker,
		map[string]string{"reason": reason})
}

// cancelPendingSchedules supersedes every pending follow-up for one
// decision maker. Cancellation, never deletion: the rows stay for audit.
func cancelPendingSchedules(ctx context.Context, ex eventlog.Execer, dmID string) error {
	_, err := ex.ExecContext(ctx, `
		UPDATE scheduled_emails
		SET status = $2
		WHERE decision_maker_id = $1 AND status = $3
	`, dmID, string(domain.ScheduleCancelled), string(domain.SchedulePending))
	if err != nil {
		return fmt.Errorf("cancel schedules for %s: %w", dmID, err)
	}
	return nil
}

// applyDiscoveryCascade is the single code path for the company-wide
// suppression rule: once one decision maker shows buying intent, cold
// outreach to colleagues stops. All four sub-updates commit atomically with
// the triggering event so a partial cascade is never visible.
func applyDiscoveryCascade(ctx context.Context, tx *sql.Tx, companyID, triggerDMID string) error {
	if _, err := tx.ExecContext(ctx, `
		UPDATE target_companies SET status = $2 WHERE id = $1
	`, companyID, string(domain.CompanyDiscovery)); err != nil {
		return fmt.Errorf("move company %s to discovery: %w", companyID, err)
	}

	// Colleagues already in DISCOVERY or BLACKLISTED keep their status.
	if _, err := tx.ExecContext(ctx, `
		UPDATE decision_makers
		SET status = $3
		WHERE company_id = $1 AND id != $2 AND status NOT IN ($4, $5)
	`, companyID, triggerDMID,
		string(domain.DecisionMakerTerminated),
		string(domain.DecisionMakerDiscovery),
		string(domain.DecisionMakerBlacklisted)); err != nil {
		return fmt.Errorf("cascade terminate colleagues at %s: %w", companyID, err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE scheduled_emails
		SET status = $3
		WHERE decision_maker_id IN (
			SELECT id FROM decision_makers WHERE company_id = $1 AND id != $2
		) AND status = $4
	`, companyID, triggerDMID,
		string(domain.ScheduleCancelled), string(domain.SchedulePending)); err != nil {
		return fmt.Errorf("cascade cancel schedules at %s: %w", companyID, err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE emails
		SET status = $3
		WHERE decision_maker_id IN (
			SELECT id FROM decision_makers WHERE company_id = $1 AND id != $2
		) AND status = $4
	`, companyID, triggerDMID,
		string(domain.EmailDeclined), string(domain.EmailPendingApproval)); err != nil {
		return fmt.Errorf("cascade decline drafts at %s: %w", companyID, err)
	}

	return eventlog.Append(ctx, tx, domain.EventCompanyDiscoveryCascade, companyID, domain.EntityCompany,
		map[string]string{"trigger_dm_id": triggerDMID})
}

// latestOutbound returns the most recent outbound message for a decision
// maker, or nil if none exists. When conversational is true the lookup is
// restricted to the message types that carry conversation context.
func latestOutbound(ctx context.Context, tx *sql.Tx, dmID string, conversational bool) (*domain.Email, error) {
	query := `
		SELECT id, decision_maker_id, subject, body, type
		FROM emails
		WHERE decision_maker_id = $1 AND direction = 'outbound'`
	if conversational {
		query += ` AND type IN ('pitch', 'reply', 'reminder_1', 'reminder_2')`
	}
	query += `
		ORDER BY created_at DESC
		LIMIT 1`

	var e domain.Email
	var emailType string
	err := tx.QueryRowContext(ctx, query, dmID).Scan(&e.ID, &e.DecisionMakerID, &e.Subject, &e.Body, &emailType)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load latest outbound for %s: %w", dmID, err)
	}
	e.Type = domain.EmailType(emailType)
	e.Direction = domain.DirectionOutbound
	return &e, nil
}
