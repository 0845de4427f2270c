package file

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ignite/engagement-tracker/internal/domain"
)

// legacyRecord is the camelCase record written by the Node tracker this
// store replaces. Times are epoch milliseconds.
type legacyRecord struct {
	Type        string `json:"type"`
	EmailID     string `json:"emailId"`
	ContactID   string `json:"contactId"`
	CampaignID  string `json:"campaignId"`
	Timestamp   int64  `json:"timestamp"`
	Opened      bool   `json:"opened"`
	OpenedAt    *int64 `json:"openedAt"`
	Clicked     bool   `json:"clicked"`
	ClickedAt   *int64 `json:"clickedAt"`
	UserAgent   string `json:"userAgent"`
	IP          string `json:"ip"`
	OriginalURL string `json:"originalUrl"`
	LinkText    string `json:"linkText"`
}

// recordLayout tells the two record layouts apart by their discriminator key.
type recordLayout struct {
	Kind string `json:"kind"`
	Type string `json:"type"`
}

// decodeRecord parses one stored record in either the current layout or the
// legacy camelCase one, then validates it.
func decodeRecord(id string, raw json.RawMessage) (*domain.TrackingRecord, error) {
	var layout recordLayout
	if err := json.Unmarshal(raw, &layout); err != nil {
		return nil, fmt.Errorf("parse record %s: %w", id, err)
	}

	var rec *domain.TrackingRecord
	if layout.Kind == "" && layout.Type != "" {
		var lr legacyRecord
		if err := json.Unmarshal(raw, &lr); err != nil {
			return nil, fmt.Errorf("parse legacy record %s: %w", id, err)
		}
		rec = lr.toRecord()
	} else {
		rec = &domain.TrackingRecord{}
		if err := json.Unmarshal(raw, rec); err != nil {
			return nil, fmt.Errorf("parse record %s: %w", id, err)
		}
	}
	rec.ID = id

	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid record %s: %w", id, err)
	}
	return rec, nil
}

// toRecord maps a legacy record onto the current model. The Node tracker
// kept only the latest hit, so a resolved legacy record counts one hit.
func (lr legacyRecord) toRecord() *domain.TrackingRecord {
	rec := &domain.TrackingRecord{
		Kind:             domain.RecordKind(lr.Type),
		EmailID:          lr.EmailID,
		ContactID:        lr.ContactID,
		CampaignID:       lr.CampaignID,
		CreatedAt:        fromMillis(lr.Timestamp),
		RequesterAgent:   lr.UserAgent,
		RequesterAddress: lr.IP,
		DestinationURL:   lr.OriginalURL,
		LinkLabel:        lr.LinkText,
	}

	resolved, at := lr.Opened, lr.OpenedAt
	if rec.Kind == domain.KindClick {
		resolved, at = lr.Clicked, lr.ClickedAt
	}
	if resolved {
		t := rec.CreatedAt
		if at != nil {
			t = fromMillis(*at)
		}
		last := t
		rec.Resolved = true
		rec.ResolvedAt = &t
		rec.LastHitAt = &last
		rec.HitCount = 1
	}
	return rec
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
