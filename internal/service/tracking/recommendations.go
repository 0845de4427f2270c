package tracking

import (
	"context"
	"fmt"

	"github.com/ignite/engagement-tracker/internal/domain"
)

// Recommendation thresholds, in percent.
const (
	lowOpenRate     = 20.0
	lowClickRate    = 5.0
	lowClickThrough = 10.0
	strongOpenRate  = 30.0
	strongClickRate = 10.0
)

// GenerateRecommendations turns a funnel into advisories. A campaign with
// no emails gets none.
func GenerateRecommendations(f *domain.CampaignFunnel) []domain.Recommendation {
	recs := []domain.Recommendation{}
	if f == nil || f.TotalEmails == 0 {
		return recs
	}

	if f.OpenRate < lowOpenRate {
		recs = append(recs, domain.Recommendation{
			Category:   "subject_line",
			Priority:   domain.PriorityHigh,
			Message:    fmt.Sprintf("Open rate is low (%.1f%%)", f.OpenRate),
			Suggestion: "Test shorter, more specific subject lines and check the sender name",
		})
	}
	if f.ClickRate < lowClickRate {
		recs = append(recs, domain.Recommendation{
			Category:   "content",
			Priority:   domain.PriorityMedium,
			Message:    fmt.Sprintf("Click rate is low (%.1f%%)", f.ClickRate),
			Suggestion: "Make the call to action clearer and place it above the fold",
		})
	}
	if f.UniqueOpens > 0 && f.ClickThroughRate < lowClickThrough {
		recs = append(recs, domain.Recommendation{
			Category:   "targeting",
			Priority:   domain.PriorityMedium,
			Message:    fmt.Sprintf("Few openers click through (%.1f%%)", f.ClickThroughRate),
			Suggestion: "Segment the audience and tailor the content to each segment",
		})
	}
	if f.OpenRate >= strongOpenRate && f.ClickRate >= strongClickRate {
		recs = append(recs, domain.Recommendation{
			Category:   "success",
			Priority:   domain.PriorityLow,
			Message:    "Campaign is performing well",
			Suggestion: "Scale this approach to similar audiences",
		})
	}
	return recs
}

// CampaignRecommendations computes the funnel of a campaign and the
// advisories derived from it.
func (s *Service) CampaignRecommendations(ctx context.Context, campaignID string) (*domain.CampaignFunnel, []domain.Recommendation, error) {
	f, err := s.GetCampaignStats(ctx, campaignID)
	if err != nil {
		return nil, nil, err
	}
	return f, GenerateRecommendations(f), nil
}
