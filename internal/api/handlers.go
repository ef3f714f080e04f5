package api

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/outreach-monitor/internal/domain"
	"github.com/ignite/outreach-monitor/internal/eventlog"
	"github.com/ignite/outreach-monitor/internal/pkg/httputil"
	"github.com/ignite/outreach-monitor/internal/sending"
)

// Handlers holds dependencies for all API handlers.
type Handlers struct {
	db        *sql.DB
	approvals *sending.Service
	startTime time.Time
}

// NewHandlers creates the handler set.
func NewHandlers(db *sql.DB, approvals *sending.Service) *Handlers {
	return &Handlers{
		db:        db,
		approvals: approvals,
		startTime: time.Now(),
	}
}

// HealthCheck reports process liveness and database reachability.
//
//	GET /health
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	dbStatus := "up"
	if err := h.db.PingContext(ctx); err != nil {
		dbStatus = fmt.Sprintf("down: %v", err)
	}

	httputil.OK(w, map[string]interface{}{
		"status":   "ok",
		"database": dbStatus,
		"uptime":   time.Since(h.startTime).Round(time.Second).String(),
	})
}

// campaignSummary is one row of the campaign list.
type campaignSummary struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Status        string    `json:"status"`
	Companies     int       `json:"companies"`
	DecisionMaker int       `json:"decision_makers"`
	PendingDrafts int       `json:"pending_drafts"`
	CreatedAt     time.Time `json:"created_at"`
}

// ListCampaigns returns all campaigns with headline counts.
//
//	GET /api/campaigns
func (h *Handlers) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	rows, err := h.db.QueryContext(r.Context(), `
		SELECT c.id, c.name, c.status, c.created_at,
		       (SELECT COUNT(*) FROM target_companies tc WHERE tc.campaign_id = c.id) AS companies,
		       (SELECT COUNT(*) FROM decision_makers dm WHERE dm.campaign_id = c.id) AS decision_makers,
		       (SELECT COUNT(*) FROM emails e
		        JOIN decision_makers dm ON dm.id = e.decision_maker_id
		        WHERE dm.campaign_id = c.id AND e.status = 'PENDING_APPROVAL') AS pending_drafts
		FROM campaigns c
		ORDER BY c.created_at DESC
	`)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	defer rows.Close()

	campaigns := []campaignSummary{}
	for rows.Next() {
		var c campaignSummary
		if err := rows.Scan(&c.ID, &c.Name, &c.Status, &c.CreatedAt,
			&c.Companies, &c.DecisionMaker, &c.PendingDrafts); err != nil {
			httputil.InternalError(w, err)
			return
		}
		campaigns = append(campaigns, c)
	}
	if err := rows.Err(); err != nil {
		httputil.InternalError(w, err)
		return
	}

	httputil.OK(w, map[string]interface{}{"campaigns": campaigns})
}

type decisionMakerView struct {
	ID             string     `json:"id"`
	CompanyID      string     `json:"company_id"`
	Name           string     `json:"name"`
	Role           string     `json:"role"`
	Email          string     `json:"email"`
	Status         string     `json:"status"`
	TurnCount      int        `json:"turn_count"`
	LastOutboundAt *time.Time `json:"last_outbound_at"`
}

type companyView struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// GetCampaign returns one campaign with its companies and decision makers.
//
//	GET /api/campaigns/{id}
func (h *Handlers) GetCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var c domain.Campaign
	err := h.db.QueryRowContext(r.Context(), `
		SELECT id, name, product_description, status, created_at, updated_at
		FROM campaigns WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.ProductDescription, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		httputil.NotFound(w, "campaign not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	companies, err := h.loadCompanies(r.Context(), id)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	dms, err := h.loadDecisionMakers(r.Context(), id)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	httputil.OK(w, map[string]interface{}{
		"campaign":        c,
		"companies":       companies,
		"decision_makers": dms,
	})
}

func (h *Handlers) loadCompanies(ctx context.Context, campaignID string) ([]companyView, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT id, name, status FROM target_companies
		WHERE campaign_id = $1 ORDER BY name ASC
	`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	companies := []companyView{}
	for rows.Next() {
		var tc companyView
		if err := rows.Scan(&tc.ID, &tc.Name, &tc.Status); err != nil {
			return nil, err
		}
		companies = append(companies, tc)
	}
	return companies, rows.Err()
}

func (h *Handlers) loadDecisionMakers(ctx context.Context, campaignID string) ([]decisionMakerView, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT id, company_id, name, role, email, status, turn_count, last_outbound_at
		FROM decision_makers
		WHERE campaign_id = $1 ORDER BY name ASC
	`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	dms := []decisionMakerView{}
	for rows.Next() {
		var dm decisionMakerView
		if err := rows.Scan(&dm.ID, &dm.CompanyID, &dm.Name, &dm.Role, &dm.Email,
			&dm.Status, &dm.TurnCount, &dm.LastOutboundAt); err != nil {
			return nil, err
		}
		dms = append(dms, dm)
	}
	return dms, rows.Err()
}

// PauseCampaign suspends monitoring: timers stay pending and the inbox is
// left alone until the campaign resumes.
//
//	POST /api/campaigns/{id}/pause
func (h *Handlers) PauseCampaign(w http.ResponseWriter, r *http.Request) {
	h.transitionCampaign(w, r, domain.CampaignMonitoringActive, domain.CampaignMonitoringReady)
}

// ResumeCampaign re-activates a paused campaign.
//
//	POST /api/campaigns/{id}/resume
func (h *Handlers) ResumeCampaign(w http.ResponseWriter, r *http.Request) {
	h.transitionCampaign(w, r, domain.CampaignMonitoringReady, domain.CampaignMonitoringActive)
}

func (h *Handlers) transitionCampaign(w http.ResponseWriter, r *http.Request, from, to domain.CampaignStatus) {
	id := chi.URLParam(r, "id")

	tx, err := h.db.BeginTx(r.Context(), nil)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(r.Context(), `
		UPDATE campaigns SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3
	`, id, string(to), string(from))
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	n, err := res.RowsAffected()
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if n == 0 {
		httputil.Error(w, http.StatusConflict, fmt.Sprintf("campaign is not %s", from))
		return
	}

	if err := eventlog.Append(r.Context(), tx, domain.EventCampaignStatusUpdated, id, domain.EntityCampaign,
		map[string]string{"from": string(from), "to": string(to)}); err != nil {
		httputil.InternalError(w, err)
		return
	}
	if err := tx.Commit(); err != nil {
		httputil.InternalError(w, err)
		return
	}

	httputil.OK(w, map[string]string{"id": id, "status": string(to)})
}

type draftView struct {
	ID                string    `json:"id"`
	DecisionMakerID   string    `json:"decision_maker_id"`
	DecisionMakerName string    `json:"decision_maker_name"`
	Recipient         string    `json:"recipient"`
	Type              string    `json:"type"`
	Subject           string    `json:"subject"`
	Body              string    `json:"body"`
	CreatedAt         time.Time `json:"created_at"`
}

// ListPendingDrafts returns every draft awaiting approval, oldest first.
//
//	GET /api/drafts
func (h *Handlers) ListPendingDrafts(w http.ResponseWriter, r *http.Request) {
	rows, err := h.db.QueryContext(r.Context(), `
		SELECT e.id, e.decision_maker_id, dm.name, e.recipient, e.type, e.subject, e.body, e.created_at
		FROM emails e
		JOIN decision_makers dm ON dm.id = e.decision_maker_id
		WHERE e.status = 'PENDING_APPROVAL'
		ORDER BY e.created_at ASC
	`)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	defer rows.Close()

	drafts := []draftView{}
	for rows.Next() {
		var d draftView
		if err := rows.Scan(&d.ID, &d.DecisionMakerID, &d.DecisionMakerName,
			&d.Recipient, &d.Type, &d.Subject, &d.Body, &d.CreatedAt); err != nil {
			httputil.InternalError(w, err)
			return
		}
		drafts = append(drafts, d)
	}
	if err := rows.Err(); err != nil {
		httputil.InternalError(w, err)
		return
	}

	httputil.OK(w, map[string]interface{}{"drafts": drafts})
}

// ApproveDraft delivers a pending draft and records the send.
//
//	POST /api/emails/{id}/approve
func (h *Handlers) ApproveDraft(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.approvals.Approve(r.Context(), id); err != nil {
		httputil.Error(w, http.StatusConflict, err.Error())
		return
	}
	httputil.OK(w, map[string]string{"id": id, "status": string(domain.EmailSent)})
}

// DeclineDraft rejects a pending draft.
//
//	POST /api/emails/{id}/decline
func (h *Handlers) DeclineDraft(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.approvals.Decline(r.Context(), id); err != nil {
		httputil.Error(w, http.StatusConflict, err.Error())
		return
	}
	httputil.OK(w, map[string]string{"id": id, "status": string(domain.EmailDeclined)})
}

// RejectDecisionMaker blacklists a contact: no further outbound, pending
// schedules cancelled, pending drafts declined.
//
//	POST /api/decision-makers/{id}/reject
func (h *Handlers) RejectDecisionMaker(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	tx, err := h.db.BeginTx(r.Context(), nil)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(r.Context(), `
		UPDATE decision_makers SET status = $2
		WHERE id = $1 AND status != $2
	`, id, string(domain.DecisionMakerBlacklisted))
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	n, err := res.RowsAffected()
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if n == 0 {
		httputil.Error(w, http.StatusConflict, "decision maker not found or already blacklisted")
		return
	}

	if _, err := tx.ExecContext(r.Context(), `
		UPDATE scheduled_emails SET status = $2
		WHERE decision_maker_id = $1 AND status = $3
	`, id, string(domain.ScheduleCancelled), string(domain.SchedulePending)); err != nil {
		httputil.InternalError(w, err)
		return
	}
	if _, err := tx.ExecContext(r.Context(), `
		UPDATE emails SET status = $2
		WHERE decision_maker_id = $1 AND status = $3
	`, id, string(domain.EmailDeclined), string(domain.EmailPendingApproval)); err != nil {
		httputil.InternalError(w, err)
		return
	}

	if err := eventlog.Append(r.Context(), tx, domain.EventDecisionMakerTerminated, id, domain.EntityDecisionMaker,
		map[string]string{"reason": domain.ReasonOperatorRejected}); err != nil {
		httputil.InternalError(w, err)
		return
	}
	if err := tx.Commit(); err != nil {
		httputil.InternalError(w, err)
		return
	}

	httputil.OK(w, map[string]string{"id": id, "status": string(domain.DecisionMakerBlacklisted)})
}

type emailView struct {
	ID        string     `json:"id"`
	Direction string     `json:"direction"`
	Type      string     `json:"type"`
	Status    string     `json:"status"`
	Subject   string     `json:"subject"`
	Body      string     `json:"body"`
	Intent    *string    `json:"intent"`
	SentAt    *time.Time `json:"sent_at"`
	CreatedAt time.Time  `json:"created_at"`
}

// ListDecisionMakerEmails returns the full conversation for one contact.
//
//	GET /api/decision-makers/{id}/emails
func (h *Handlers) ListDecisionMakerEmails(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rows, err := h.db.QueryContext(r.Context(), `
		SELECT id, direction, type, status, subject, body, intent, sent_at, created_at
		FROM emails
		WHERE decision_maker_id = $1
		ORDER BY created_at ASC
	`, id)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	defer rows.Close()

	emails := []emailView{}
	for rows.Next() {
		var e emailView
		if err := rows.Scan(&e.ID, &e.Direction, &e.Type, &e.Status,
			&e.Subject, &e.Body, &e.Intent, &e.SentAt, &e.CreatedAt); err != nil {
			httputil.InternalError(w, err)
			return
		}
		emails = append(emails, e)
	}
	if err := rows.Err(); err != nil {
		httputil.InternalError(w, err)
		return
	}

	httputil.OK(w, map[string]interface{}{"emails": emails})
}

type stuckEventView struct {
	ID         int64     `json:"id"`
	EventType  string    `json:"event_type"`
	EntityID   string    `json:"entity_id"`
	EntityType string    `json:"entity_type"`
	RetryCount int       `json:"retry_count"`
	LastError  string    `json:"last_error"`
	CreatedAt  time.Time `json:"created_at"`
}

// ListStuckEvents returns events that exhausted their retries and need an
// operator decision.
//
//	GET /api/events/stuck
func (h *Handlers) ListStuckEvents(w http.ResponseWriter, r *http.Request) {
	entries, err := eventlog.Stuck(r.Context(), h.db)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	events := []stuckEventView{}
	for _, e := range entries {
		events = append(events, stuckEventView{
			ID:         e.ID,
			EventType:  e.EventType,
			EntityID:   e.EntityID,
			EntityType: string(e.EntityType),
			RetryCount: e.RetryCount,
			LastError:  e.LastError.String,
			CreatedAt:  e.CreatedAt,
		})
	}
	httputil.OK(w, map[string]interface{}{"events": events})
}

// RequeueEvent resets a stuck event so the orchestrator retries it.
//
//	POST /api/events/{id}/requeue
func (h *Handlers) RequeueEvent(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httputil.BadRequest(w, "invalid event id")
		return
	}
	if err := eventlog.Requeue(r.Context(), h.db, id); err != nil {
		httputil.Error(w, http.StatusConflict, err.Error())
		return
	}
	httputil.OK(w, map[string]interface{}{"id": id, "requeued": true})
}

type eventView struct {
	ID        int64     `json:"id"`
	EventType string    `json:"event_type"`
	Payload   *string   `json:"payload"`
	Processed bool      `json:"processed"`
	CreatedAt time.Time `json:"created_at"`
}

// ListEntityEvents returns the event history for one entity id, the audit
// trail behind any conversation state.
//
//	GET /api/entities/{id}/events
func (h *Handlers) ListEntityEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rows, err := h.db.QueryContext(r.Context(), `
		SELECT id, event_type, payload, processed, created_at
		FROM event_log
		WHERE entity_id = $1
		ORDER BY created_at ASC
	`, id)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	defer rows.Close()

	events := []eventView{}
	for rows.Next() {
		var e eventView
		if err := rows.Scan(&e.ID, &e.EventType, &e.Payload, &e.Processed, &e.CreatedAt); err != nil {
			httputil.InternalError(w, err)
			return
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		httputil.InternalError(w, err)
		return
	}

	httputil.OK(w, map[string]interface{}{"events": events})
}
