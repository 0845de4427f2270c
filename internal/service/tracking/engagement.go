package tracking

import (
	"context"
	"sort"
	"time"

	"github.com/ignite/engagement-tracker/internal/domain"
)

const day = 24 * time.Hour

// GetContactEngagement summarizes one contact across every campaign.
func (s *Service) GetContactEngagement(ctx context.Context, contactID string) (*domain.ContactEngagement, error) {
	recs, err := s.Records(ctx, domain.RecordFilter{ContactID: contactID})
	if err != nil {
		return nil, err
	}
	return BuildContactEngagement(contactID, recs, s.now()), nil
}

type campaignAcc struct {
	emails map[string]struct{}
	opens  int
	clicks int
}

// BuildContactEngagement computes a contact's engagement as of now. Rates
// are resolved opens (or clicks) over distinct emails, so several clicks in
// one email push the click rate past that email's share and can exceed 100.
func BuildContactEngagement(contactID string, recs []domain.TrackingRecord, now time.Time) *domain.ContactEngagement {
	e := &domain.ContactEngagement{
		ContactID: contactID,
		Campaigns: []domain.CampaignRollup{},
	}

	emails := make(map[string]struct{})
	campaigns := make(map[string]*campaignAcc)
	var lastOpen, lastClick *time.Time

	for i := range recs {
		r := &recs[i]
		emails[r.EmailID] = struct{}{}
		acc, ok := campaigns[r.CampaignID]
		if !ok {
			acc = &campaignAcc{emails: make(map[string]struct{})}
			campaigns[r.CampaignID] = acc
		}
		acc.emails[r.EmailID] = struct{}{}

		if !r.Resolved || r.ResolvedAt == nil {
			continue
		}
		switch r.Kind {
		case domain.KindOpen:
			e.TotalOpens++
			acc.opens++
			lastOpen = later(lastOpen, r.ResolvedAt)
		case domain.KindClick:
			e.TotalClicks++
			acc.clicks++
			lastClick = later(lastClick, r.ResolvedAt)
		}
	}

	e.TotalEmails = len(emails)
	e.OpenRate = percent(e.TotalOpens, e.TotalEmails)
	e.ClickRate = percent(e.TotalClicks, e.TotalEmails)

	switch {
	case lastOpen != nil && (lastClick == nil || lastOpen.After(*lastClick)):
		e.LastEngagement = &domain.LastEngagement{Type: domain.KindOpen, Timestamp: *lastOpen}
	case lastClick != nil:
		e.LastEngagement = &domain.LastEngagement{Type: domain.KindClick, Timestamp: *lastClick}
	}

	for id, acc := range campaigns {
		e.Campaigns = append(e.Campaigns, domain.CampaignRollup{
			CampaignID: id,
			Emails:     len(acc.emails),
			Opens:      acc.opens,
			Clicks:     acc.clicks,
		})
	}
	sort.Slice(e.Campaigns, func(i, j int) bool { return e.Campaigns[i].CampaignID < e.Campaigns[j].CampaignID })

	e.EngagementScore = EngagementScore(e.OpenRate, e.ClickRate, e.LastEngagement, now)
	return e
}

// EngagementScore weighs open rate (up to 30), click rate (up to 40) and
// recency of the last engagement (up to 20), capped at 100.
func EngagementScore(openRate, clickRate float64, last *domain.LastEngagement, now time.Time) int {
	score := 0
	switch {
	case openRate > 50:
		score += 30
	case openRate > 25:
		score += 20
	case openRate > 10:
		score += 10
	}

	switch {
	case clickRate > 20:
		score += 40
	case clickRate > 10:
		score += 30
	case clickRate > 5:
		score += 20
	case clickRate > 0:
		score += 10
	}

	if last != nil {
		since := now.Sub(last.Timestamp)
		switch {
		case since < 7*day:
			score += 20
		case since < 30*day:
			score += 10
		}
	}

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return score
}

func later(cur, t *time.Time) *time.Time {
	if cur == nil || t.After(*cur) {
		return t
	}
	return cur
}
