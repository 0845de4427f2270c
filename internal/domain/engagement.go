package domain

import "time"

// CampaignFunnel is the derived open/click funnel of one campaign. Rates are
// percentages in [0, 100].
type CampaignFunnel struct {
	CampaignID       string        `json:"campaign_id"`
	TotalEmails      int           `json:"total_emails"`
	TotalOpens       int           `json:"total_opens"`
	TotalClicks      int           `json:"total_clicks"`
	UniqueOpens      int           `json:"unique_opens"`
	UniqueClicks     int           `json:"unique_clicks"`
	OpenRate         float64       `json:"open_rate"`
	ClickRate        float64       `json:"click_rate"`
	ClickThroughRate float64       `json:"click_through_rate"`
	TopLinks         []LinkCount   `json:"top_links"`
	Timeline         []TimelineDay `json:"timeline"`
}

// LinkCount is one entry of a campaign's most clicked links.
type LinkCount struct {
	Label  string `json:"label"`
	Clicks int    `json:"clicks"`
}

// TimelineDay holds the resolved events of one UTC calendar day.
type TimelineDay struct {
	Date   string `json:"date"`
	Opens  int    `json:"opens"`
	Clicks int    `json:"clicks"`
}

// ContactEngagement summarizes one contact across all campaigns.
type ContactEngagement struct {
	ContactID       string           `json:"contact_id"`
	TotalEmails     int              `json:"total_emails"`
	TotalOpens      int              `json:"total_opens"`
	TotalClicks     int              `json:"total_clicks"`
	OpenRate        float64          `json:"open_rate"`
	ClickRate       float64          `json:"click_rate"`
	LastEngagement  *LastEngagement  `json:"last_engagement"`
	Campaigns       []CampaignRollup `json:"campaigns"`
	EngagementScore int              `json:"engagement_score"`
}

// LastEngagement is the most recent resolved open or click of a contact.
type LastEngagement struct {
	Type      RecordKind `json:"type"`
	Timestamp time.Time  `json:"timestamp"`
}

// CampaignRollup is a contact's activity within one campaign.
type CampaignRollup struct {
	CampaignID string `json:"campaign_id"`
	Emails     int    `json:"emails"`
	Opens      int    `json:"opens"`
	Clicks     int    `json:"clicks"`
}

// Priority ranks a recommendation.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Recommendation is an advisory generated from a campaign funnel.
type Recommendation struct {
	Category   string   `json:"category"`
	Priority   Priority `json:"priority"`
	Message    string   `json:"message"`
	Suggestion string   `json:"suggestion"`
}
