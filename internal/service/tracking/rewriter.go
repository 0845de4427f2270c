package tracking

import (
	"context"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/ignite/engagement-tracker/internal/domain"
)

// anchorRe matches <a ... href="..." ...>text</a> with either quote style.
// Anchors whose inner text contains nested tags are left alone.
// Groups: 1 = double-quoted href, 2 = single-quoted href, 3 = inner text.
var anchorRe = regexp.MustCompile(`(?i)<a\s(?:[^>]*?\s)?href\s*=\s*(?:"([^"]*)"|'([^']*)')[^>]*>([^<]+)</a>`)

var bodyCloseRe = regexp.MustCompile(`(?i)</body\s*>`)

// PrepareTrackedEmail rewrites html so that every eligible link goes through
// the click endpoint and a hidden pixel is appended to the body. One click
// record is registered per rewritten anchor, then one open record for the
// pixel. A registration failure aborts the rewrite; records created before
// the failure stay pending.
func (s *Service) PrepareTrackedEmail(ctx context.Context, htmlBody, emailID, contactID, campaignID string) (*domain.TrackedEmail, error) {
	if emailID == "" || contactID == "" || campaignID == "" {
		return nil, fmt.Errorf("%w: email, contact and campaign ids are required", ErrInvalidInput)
	}

	out := &domain.TrackedEmail{LinkRecordIDs: []string{}}
	var b strings.Builder
	b.Grow(len(htmlBody) + 256)

	last := 0
	for _, m := range anchorRe.FindAllStringSubmatchIndex(htmlBody, -1) {
		hrefStart, hrefEnd := m[2], m[3]
		if hrefStart < 0 {
			hrefStart, hrefEnd = m[4], m[5]
		}
		rawHref := htmlBody[hrefStart:hrefEnd]
		if !s.shouldTrack(rawHref) {
			continue
		}

		rec := &domain.TrackingRecord{
			Kind:           domain.KindClick,
			EmailID:        emailID,
			ContactID:      contactID,
			CampaignID:     campaignID,
			DestinationURL: strings.TrimSpace(html.UnescapeString(rawHref)),
			LinkLabel:      strings.TrimSpace(html.UnescapeString(htmlBody[m[6]:m[7]])),
		}
		if err := s.register(ctx, rec); err != nil {
			return nil, fmt.Errorf("register link %q: %w", rec.DestinationURL, err)
		}
		out.LinkRecordIDs = append(out.LinkRecordIDs, rec.ID)

		// "<a" then the original-url attribute, then the rest of the tag with
		// the href value swapped.
		tagStart := m[0]
		b.WriteString(htmlBody[last : tagStart+2])
		b.WriteString(` data-original-url="`)
		b.WriteString(html.EscapeString(rec.DestinationURL))
		b.WriteString(`"`)
		b.WriteString(htmlBody[tagStart+2 : hrefStart])
		b.WriteString(s.ClickURL(rec.ID))
		b.WriteString(htmlBody[hrefEnd:m[1]])
		last = m[1]
	}
	b.WriteString(htmlBody[last:])
	rewritten := b.String()

	pixel := &domain.TrackingRecord{
		Kind:       domain.KindOpen,
		EmailID:    emailID,
		ContactID:  contactID,
		CampaignID: campaignID,
	}
	if err := s.register(ctx, pixel); err != nil {
		return nil, fmt.Errorf("register pixel: %w", err)
	}
	out.PixelRecordID = pixel.ID
	out.TrackedHTML = insertPixel(rewritten, s.PixelTag(pixel.ID))
	return out, nil
}

// OpenURL returns the pixel URL for a record id.
func (s *Service) OpenURL(id string) string { return s.baseURL + "/open/" + id }

// ClickURL returns the redirect URL for a record id.
func (s *Service) ClickURL(id string) string { return s.baseURL + "/click/" + id }

// PixelTag returns the hidden 1x1 image markup for a record id.
func (s *Service) PixelTag(id string) string {
	return `<img src="` + s.OpenURL(id) + `" width="1" height="1" style="display:none;" alt="" />`
}

func (s *Service) shouldTrack(href string) bool {
	href = strings.TrimSpace(href)
	switch {
	case href == "":
		return false
	case strings.HasPrefix(href, "#"):
		return false
	case s.baseURL != "" && strings.HasPrefix(href, s.baseURL+"/"):
		return false
	case strings.Contains(href, "/track/open/"), strings.Contains(href, "/track/click/"):
		return false
	}
	return true
}

func (s *Service) register(ctx context.Context, rec *domain.TrackingRecord) error {
	id, err := s.newID()
	if err != nil {
		return err
	}
	rec.ID = id
	rec.CreatedAt = s.now().UTC()
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := s.store.Create(ctx, rec); err != nil {
		return storeErr("create", err)
	}
	s.observer.RecordRegistered(rec.Kind)
	return nil
}

// insertPixel places the pixel right before the last closing body tag, or at
// the end when the document has none.
func insertPixel(body, pixel string) string {
	locs := bodyCloseRe.FindAllStringIndex(body, -1)
	if len(locs) == 0 {
		return body + pixel
	}
	at := locs[len(locs)-1][0]
	return body[:at] + pixel + body[at:]
}
