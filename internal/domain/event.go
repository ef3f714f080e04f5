package domain

// EntityType identifies which table an event log entry points at. The
// reference is weak: the entity may be deleted after the event is enqueued,
// and consumers must tolerate the orphan.
type EntityType string

const (
	EntityCampaign      EntityType = "CAMPAIGN"
	EntityCompany       EntityType = "COMPANY"
	EntityDecisionMaker EntityType = "DECISION_MAKER"
	EntityEmail         EntityType = "EMAIL"
	EntitySchedule      EntityType = "SCHEDULE"
)

// Domain event types carried through the event log.
const (
	EventEmailReceived           = "EMAIL_RECEIVED"
	EventIntentClassified        = "INTENT_CLASSIFIED"
	EventTimerFired              = "TIMER_FIRED"
	EventTimerScheduled          = "TIMER_SCHEDULED"
	EventEmailSent               = "EMAIL_SENT"
	EventResponseDrafted         = "RESPONSE_DRAFTED"
	EventReminderDrafted         = "REMINDER_DRAFTED"
	EventDecisionMakerTerminated = "DECISION_MAKER_TERMINATED"
	EventDecisionMakerDiscovery  = "DECISION_MAKER_DISCOVERY"
	EventCompanyDiscoveryCascade = "COMPANY_DISCOVERY_CASCADE"
	EventCampaignStatusUpdated   = "CAMPAIGN_STATUS_UPDATED"
)

// Termination reasons recorded in DECISION_MAKER_TERMINATED payloads.
const (
	ReasonNegativeIntent       = "NEGATIVE_INTENT"
	ReasonNoReplyAfterReminder = "NO_REPLY_AFTER_REMINDERS"
	ReasonMaxTurnLimit         = "MAX_TURN_LIMIT"
	ReasonDiscoveryCascade     = "COMPANY_DISCOVERY_CASCADE"
	ReasonOperatorRejected     = "OPERATOR_REJECTED"
)
