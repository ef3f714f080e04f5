package domain

import "time"

// CampaignStatus enumerates the lifecycle states of an outreach campaign.
// DRAFT campaigns are still being planned upstream. MONITORING_READY means
// drafts exist but nothing has been sent; the first approved send moves the
// campaign to MONITORING_ACTIVE. A human operator can pause a campaign back
// to MONITORING_READY and resume it later.
type CampaignStatus string

const (
	CampaignDraft            CampaignStatus = "DRAFT"
	CampaignMonitoringReady  CampaignStatus = "MONITORING_READY"
	CampaignMonitoringActive CampaignStatus = "MONITORING_ACTIVE"
)

// Campaign represents a sales outreach effort targeting many companies.
type Campaign struct {
	ID                 string         `json:"id" db:"id"`
	Name               string         `json:"name" db:"name"`
	ProductDescription string         `json:"product_description" db:"product_description"`
	Status             CampaignStatus `json:"status" db:"status"`
	CreatedAt          time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at" db:"updated_at"`
}

// IsMonitoring returns true if the campaign is live for reply monitoring.
func (c *Campaign) IsMonitoring() bool {
	return c.Status == CampaignMonitoringActive
}
