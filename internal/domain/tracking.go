package domain

import (
	"errors"
	"time"
)

// RecordKind distinguishes pixel records from link records.
type RecordKind string

const (
	KindOpen  RecordKind = "open"
	KindClick RecordKind = "click"
)

// Valid reports whether k is a known kind.
func (k RecordKind) Valid() bool {
	return k == KindOpen || k == KindClick
}

// TrackingRecord is the persisted unit of the tracker: one per embedded
// pixel and one per rewritten link. It is created pending and flips to
// resolved on the first matching request.
type TrackingRecord struct {
	ID         string     `json:"id" db:"id"`
	Kind       RecordKind `json:"kind" db:"kind"`
	EmailID    string     `json:"email_id" db:"email_id"`
	ContactID  string     `json:"contact_id" db:"contact_id"`
	CampaignID string     `json:"campaign_id" db:"campaign_id"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`

	Resolved         bool       `json:"resolved" db:"resolved"`
	ResolvedAt       *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
	RequesterAgent   string     `json:"requester_agent,omitempty" db:"requester_agent"`
	RequesterAddress string     `json:"requester_address,omitempty" db:"requester_address"`

	// Click records only.
	DestinationURL string `json:"destination_url,omitempty" db:"destination_url"`
	LinkLabel      string `json:"link_label,omitempty" db:"link_label"`

	HitCount  int        `json:"hit_count" db:"hit_count"`
	LastHitAt *time.Time `json:"last_hit_at,omitempty" db:"last_hit_at"`
}

// Hit carries the requester metadata captured when a pixel is fetched or a
// link is followed.
type Hit struct {
	Agent   string
	Address string
	At      time.Time
}

// RecordFilter selects records for Scan. Empty fields match everything.
type RecordFilter struct {
	CampaignID string
	ContactID  string
	Kind       RecordKind
}

// Matches reports whether r passes the filter.
func (f RecordFilter) Matches(r *TrackingRecord) bool {
	if f.CampaignID != "" && r.CampaignID != f.CampaignID {
		return false
	}
	if f.ContactID != "" && r.ContactID != f.ContactID {
		return false
	}
	if f.Kind != "" && r.Kind != f.Kind {
		return false
	}
	return true
}

// ApplyHit records a resolution request against r. The first hit sets
// Resolved and ResolvedAt; later hits leave ResolvedAt alone but refresh the
// requester metadata and the hit counters. Returns true on the first hit.
func (r *TrackingRecord) ApplyHit(h Hit) bool {
	first := !r.Resolved
	at := h.At.UTC()
	if first {
		r.Resolved = true
		r.ResolvedAt = &at
	}
	r.RequesterAgent = h.Agent
	r.RequesterAddress = h.Address
	r.HitCount++
	r.LastHitAt = &at
	return first
}

// Clone returns a deep copy so stores can hand records out without sharing
// the time pointers.
func (r *TrackingRecord) Clone() *TrackingRecord {
	c := *r
	if r.ResolvedAt != nil {
		t := *r.ResolvedAt
		c.ResolvedAt = &t
	}
	if r.LastHitAt != nil {
		t := *r.LastHitAt
		c.LastHitAt = &t
	}
	return &c
}

// Validate checks the record invariants.
func (r *TrackingRecord) Validate() error {
	if r.ID == "" {
		return errors.New("record id is required")
	}
	if !r.Kind.Valid() {
		return errors.New("record kind must be open or click")
	}
	if r.Resolved != (r.ResolvedAt != nil) {
		return errors.New("resolved_at must be set exactly when resolved")
	}
	switch r.Kind {
	case KindClick:
		if r.DestinationURL == "" {
			return errors.New("click record requires a destination url")
		}
	case KindOpen:
		if r.DestinationURL != "" || r.LinkLabel != "" {
			return errors.New("open record must not carry link fields")
		}
	}
	return nil
}

// TrackedEmail is the output of rewriting an email body.
type TrackedEmail struct {
	TrackedHTML   string   `json:"tracked_html"`
	PixelRecordID string   `json:"pixel_record_id"`
	LinkRecordIDs []string `json:"link_record_ids"`
}
