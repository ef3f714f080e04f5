package domain

import "time"

// CompanyStatus enumerates the states of a target company. DISCOVERY is a
// terminal suppression state: once any decision maker at the company shows
// buying intent, the whole company stops receiving cold outreach.
type CompanyStatus string

const (
	CompanyActive    CompanyStatus = "ACTIVE"
	CompanyDiscovery CompanyStatus = "DISCOVERY"
)

// TargetCompany is a prospect organization owned by a campaign.
type TargetCompany struct {
	ID         string        `json:"id" db:"id"`
	CampaignID string        `json:"campaign_id" db:"campaign_id"`
	Name       string        `json:"name" db:"name"`
	Website    string        `json:"website" db:"website"`
	Status     CompanyStatus `json:"status" db:"status"`
	CreatedAt  time.Time     `json:"created_at" db:"created_at"`
}

// DecisionMakerStatus enumerates the conversation states of a contact.
type DecisionMakerStatus string

const (
	DecisionMakerNew         DecisionMakerStatus = "new"
	DecisionMakerActive      DecisionMakerStatus = "ACTIVE"
	DecisionMakerDiscovery   DecisionMakerStatus = "DISCOVERY"
	DecisionMakerTerminated  DecisionMakerStatus = "TERMINATED"
	DecisionMakerBlacklisted DecisionMakerStatus = "BLACKLISTED"
)

// MaxTurnCount is the hard safety cap on outbound messages per decision
// maker. A send that pushes turn_count past this limit forces TERMINATED
// instead of scheduling another follow-up.
const MaxTurnCount = 10

// DecisionMaker is a contact at a target company and the unit of an
// individual outreach conversation.
type DecisionMaker struct {
	ID             string              `json:"id" db:"id"`
	CampaignID     string              `json:"campaign_id" db:"campaign_id"`
	CompanyID      string              `json:"company_id" db:"company_id"`
	Name           string              `json:"name" db:"name"`
	Role           string              `json:"role" db:"role"`
	Email          string              `json:"email" db:"email"`
	Status         DecisionMakerStatus `json:"status" db:"status"`
	TurnCount      int                 `json:"turn_count" db:"turn_count"`
	LastOutboundAt *time.Time          `json:"last_outbound_at" db:"last_outbound_at"`
	CreatedAt      time.Time           `json:"created_at" db:"created_at"`
}

// CanReceiveOutbound returns true if the decision maker is in a state where
// outbound mail is still permitted.
func (dm *DecisionMaker) CanReceiveOutbound() bool {
	switch dm.Status {
	case DecisionMakerTerminated, DecisionMakerDiscovery, DecisionMakerBlacklisted:
		return false
	}
	return true
}
