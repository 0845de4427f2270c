package tracking

import (
	"context"
	"sort"
	"time"

	"github.com/ignite/engagement-tracker/internal/domain"
)

const (
	topLinksLimit  = 5
	timelineWindow = 7 * 24 * time.Hour
)

// GetCampaignStats derives the open/click funnel of a campaign from its
// records. Unknown campaigns yield an all-zero funnel.
func (s *Service) GetCampaignStats(ctx context.Context, campaignID string) (*domain.CampaignFunnel, error) {
	recs, err := s.Records(ctx, domain.RecordFilter{CampaignID: campaignID})
	if err != nil {
		return nil, err
	}
	return BuildCampaignFunnel(campaignID, recs, s.now()), nil
}

// BuildCampaignFunnel computes the funnel for the given records as of now.
func BuildCampaignFunnel(campaignID string, recs []domain.TrackingRecord, now time.Time) *domain.CampaignFunnel {
	f := &domain.CampaignFunnel{
		CampaignID: campaignID,
		TopLinks:   []domain.LinkCount{},
		Timeline:   []domain.TimelineDay{},
	}

	emails := make(map[string]struct{})
	openers := make(map[string]struct{})
	clickers := make(map[string]struct{})
	links := make(map[string]int)
	days := make(map[string]*domain.TimelineDay)
	cutoff := now.Add(-timelineWindow)

	for i := range recs {
		r := &recs[i]
		emails[r.EmailID] = struct{}{}
		if !r.Resolved || r.ResolvedAt == nil {
			continue
		}

		switch r.Kind {
		case domain.KindOpen:
			f.TotalOpens++
			openers[r.ContactID] = struct{}{}
		case domain.KindClick:
			f.TotalClicks++
			clickers[r.ContactID] = struct{}{}
			label := r.LinkLabel
			if label == "" {
				label = r.DestinationURL
			}
			links[label]++
		}

		if r.ResolvedAt.After(cutoff) {
			date := r.ResolvedAt.UTC().Format("2006-01-02")
			d, ok := days[date]
			if !ok {
				d = &domain.TimelineDay{Date: date}
				days[date] = d
			}
			if r.Kind == domain.KindOpen {
				d.Opens++
			} else {
				d.Clicks++
			}
		}
	}

	f.TotalEmails = len(emails)
	f.UniqueOpens = len(openers)
	f.UniqueClicks = len(clickers)
	f.OpenRate = percent(f.UniqueOpens, f.TotalEmails)
	f.ClickRate = percent(f.UniqueClicks, f.TotalEmails)
	f.ClickThroughRate = percent(f.UniqueClicks, f.UniqueOpens)

	for label, n := range links {
		f.TopLinks = append(f.TopLinks, domain.LinkCount{Label: label, Clicks: n})
	}
	sort.Slice(f.TopLinks, func(i, j int) bool {
		if f.TopLinks[i].Clicks != f.TopLinks[j].Clicks {
			return f.TopLinks[i].Clicks > f.TopLinks[j].Clicks
		}
		return f.TopLinks[i].Label < f.TopLinks[j].Label
	})
	if len(f.TopLinks) > topLinksLimit {
		f.TopLinks = f.TopLinks[:topLinksLimit]
	}

	for _, d := range days {
		f.Timeline = append(f.Timeline, *d)
	}
	sort.Slice(f.Timeline, func(i, j int) bool { return f.Timeline[i].Date < f.Timeline[j].Date })
	return f
}

func percent(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d) * 100
}
