package orchestrator

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/ignite/outreach-monitor/internal/domain"
	"github.com/ignite/outreach-monitor/internal/eventlog"
	"github.com/ignite/outreach-monitor/internal/intelligence"
)

// handleEvent dispatches one claimed entry to its handler. Event types the
// orchestrator does not consume (pure notification facts like
// DECISION_MAKER_TERMINATED) are marked processed without side effects.
func (o *Orchestrator) handleEvent(ctx context.Context, tx *sql.Tx, entry eventlog.Entry) error {
	switch entry.EventType {
	case domain.EventEmailReceived:
		return o.handleEmailReceived(ctx, tx, entry.EntityID)
	case domain.EventIntentClassified:
		return o.handleIntentClassified(ctx, tx, entry.EntityID)
	case domain.EventTimerFired:
		return o.handleTimerFired(ctx, tx, entry.EntityID, entry.Payload)
	}
	return nil
}

// handleEmailReceived classifies an inbound reply and records the verdict.
func (o *Orchestrator) handleEmailReceived(ctx context.Context, tx *sql.Tx, emailID string) error {
	var body, dmID string
	err := tx.QueryRowContext(ctx, `
		SELECT body, decision_maker_id FROM emails WHERE id = $1
	`, emailID).Scan(&body, &dmID)
	if err == sql.ErrNoRows {
		log.Printf("[Orchestrator] Orphan event: email %s no longer exists, skipping", emailID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load email %s: %w", emailID, err)
	}

	// Collaborator call: degrades to low-confidence NEUTRAL internally,
	// never fails the handler.
	result := o.classifier.Classify(ctx, body)

	_, err = tx.ExecContext(ctx, `
		UPDATE emails SET intent = $2, intent_confidence = $3 WHERE id = $1
	`, emailID, string(result.Intent), result.Confidence)
	if err != nil {
		return fmt.Errorf("persist intent for email %s: %w", emailID, err)
	}

	return eventlog.Append(ctx, tx, domain.EventIntentClassified, emailID, domain.EntityEmail,
		map[string]string{"intent": string(result.Intent), "dm_id": dmID})
}

// handleIntentClassified branches on the stored intent of an inbound reply.
func (o *Orchestrator) handleIntentClassified(ctx context.Context, tx *sql.Tx, emailID string) error {
	var (
		intentRaw  sql.NullString
		confidence sql.NullFloat64
		body       string
		dmID       string
		companyID  string
	)
	err := tx.QueryRowContext(ctx, `
		SELECT e.intent, e.intent_confidence, e.body, e.decision_maker_id, dm.company_id
		FROM emails e
		JOIN decision_makers dm ON dm.id = e.decision_maker_id
		WHERE e.id = $1
	`, emailID).Scan(&intentRaw, &confidence, &body, &dmID, &companyID)
	if err == sql.ErrNoRows {
		log.Printf("[Orchestrator] Orphan event: context for email %s missing, skipping", emailID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load classified email %s: %w", emailID, err)
	}

	if !intentRaw.Valid {
		log.Printf("[Orchestrator] Email %s has no persisted intent, dropping", emailID)
		return nil
	}
	intent, err := domain.ParseIntent(intentRaw.String)
	if err != nil {
		log.Printf("[Orchestrator] Email %s carries invalid intent %q, dropping", emailID, intentRaw.String)
		return nil
	}

	switch intent {
	case domain.IntentNegative:
		return o.terminateDecisionMaker(ctx, tx, dmID, domain.ReasonNegativeIntent)

	case domain.IntentPositive:
		// Redelivery guard: once the decision maker is in DISCOVERY the
		// cascade has already been applied and committed.
		res, err := tx.ExecContext(ctx, `
			UPDATE decision_makers SET status = $2 WHERE id = $1 AND status != $2
		`, dmID, string(domain.DecisionMakerDiscovery))
		if err != nil {
			return fmt.Errorf("move decision maker %s to discovery: %w", dmID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			log.Printf("[Orchestrator] Decision maker %s already in discovery, skipping cascade", dmID)
			return nil
		}
		if err := cancelPendingSchedules(ctx, tx, dmID); err != nil {
			return err
		}
		if err := eventlog.Append(ctx, tx, domain.EventDecisionMakerDiscovery, dmID, domain.EntityDecisionMaker,
			map[string]string{"email_id": emailID}); err != nil {
			return err
		}
		return applyDiscoveryCascade(ctx, tx, companyID, dmID)

	case domain.IntentNeutral:
		return o.draftNeutralResponse(ctx, tx, emailID, dmID, body, intent, confidence.Float64)
	}
	return nil
}

// draftNeutralResponse invokes the drafter against the most recent outbound
// message and persists the result as a PENDING_APPROVAL reply.
func (o *Orchestrator) draftNeutralResponse(ctx context.Context, tx *sql.Tx, emailID, dmID, replyBody string, intent domain.Intent, confidence float64) error {
	original, err := latestOutbound(ctx, tx, dmID, true)
	if err != nil {
		return err
	}
	if original == nil {
		// Malformed history: a reply with no prior outreach cannot be
		// answered in context. Not retryable.
		log.Printf("[Orchestrator] No outbound history for decision maker %s, dropping neutral reply", dmID)
		return nil
	}

	draft, err := o.drafter.DraftResponse(ctx, intelligence.IntentResult{
		Intent:     intent,
		Confidence: confidence,
		Reasoning:  "Neutral sentiment detected",
	}, *original, replyBody)
	if err != nil {
		return fmt.Errorf("draft response for %s: %w", dmID, err)
	}
	if draft == nil {
		log.Printf("[Orchestrator] Drafter produced no response for decision maker %s", dmID)
		return nil
	}

	draftID := uuid.New().String()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO emails (id, decision_maker_id, recipient, subject, body, status, direction, type, created_at)
		VALUES ($1, $2, (SELECT email FROM decision_makers WHERE id = $2), $3, $4, $5, $6, $7, NOW())
	`, draftID, dmID, draft.Subject, draft.Body,
		string(domain.EmailPendingApproval), string(domain.DirectionOutbound), string(domain.EmailTypeReply)); err != nil {
		return fmt.Errorf("persist response draft: %w", err)
	}

	return eventlog.Append(ctx, tx, domain.EventResponseDrafted, draftID, domain.EntityEmail,
		map[string]string{"parent_email_id": emailID})
}

// timerPayload is the TIMER_FIRED event payload.
type timerPayload struct {
	TimerType  string `json:"timer_type"`
	ScheduleID string `json:"schedule_id,omitempty"`
	NextTurn   int    `json:"next_turn,omitempty"`
}

// handleTimerFired reacts to a due follow-up: either the termination check
// at the end of the reminder sequence, or a reminder draft.
func (o *Orchestrator) handleTimerFired(ctx context.Context, tx *sql.Tx, dmID string, payload json.RawMessage) error {
	var p timerPayload
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &p); err != nil {
			log.Printf("[Orchestrator] TIMER_FIRED for %s carries malformed payload, dropping: %v", dmID, err)
			return nil
		}
	}

	if p.TimerType == string(domain.TimerTerminationCheck) {
		return o.terminateDecisionMaker(ctx, tx, dmID, domain.ReasonNoReplyAfterReminder)
	}

	stage := domain.TimerType(p.TimerType)
	if stage != domain.TimerReminder1 && stage != domain.TimerReminder2 {
		log.Printf("[Orchestrator] Unknown timer type %q for %s, dropping", p.TimerType, dmID)
		return nil
	}

	original, err := latestOutbound(ctx, tx, dmID, false)
	if err != nil {
		return err
	}
	if original == nil {
		log.Printf("[Orchestrator] Orphan timer: decision maker %s has no outreach history for %s, skipping", dmID, stage)
		return nil
	}

	draft, err := o.drafter.DraftReminder(ctx, stage, *original)
	if err != nil {
		return fmt.Errorf("draft %s for %s: %w", stage, dmID, err)
	}
	if draft == nil {
		log.Printf("[Orchestrator] Drafter produced no %s for decision maker %s", stage, dmID)
		return nil
	}

	draftID := uuid.New().String()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO emails (id, decision_maker_id, recipient, subject, body, status, direction, type, created_at)
		VALUES ($1, $2, (SELECT email FROM decision_makers WHERE id = $2), $3, $4, $5, $6, $7, NOW())
	`, draftID, dmID, draft.Subject, draft.Body,
		string(domain.EmailPendingApproval), string(domain.DirectionOutbound), string(stage.ReminderEmailType())); err != nil {
		return fmt.Errorf("persist reminder draft: %w", err)
	}

	return eventlog.Append(ctx, tx, domain.EventReminderDrafted, draftID, domain.EntityEmail,
		map[string]string{"timer_type": string(stage)})
}
