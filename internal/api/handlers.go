package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/engagement-tracker/internal/domain"
	"github.com/ignite/engagement-tracker/internal/pkg/httputil"
	"github.com/ignite/engagement-tracker/internal/pkg/logger"
	svc "github.com/ignite/engagement-tracker/internal/service/tracking"
)

// Handlers contains the reporting API handlers
type Handlers struct {
	svc *svc.Service
	now func() time.Time
}

// NewHandlers creates a new Handlers instance
func NewHandlers(s *svc.Service) *Handlers {
	return &Handlers{svc: s, now: time.Now}
}

// GetCampaignStats returns the engagement funnel of a campaign.
//
//	GET /api/stats/{campaignID}
func (h *Handlers) GetCampaignStats(w http.ResponseWriter, r *http.Request) {
	funnel, err := h.svc.GetCampaignStats(r.Context(), chi.URLParam(r, "campaignID"))
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, funnel)
}

// GetContactEngagement returns the engagement summary of a contact.
//
//	GET /api/engagement/{contactID}
func (h *Handlers) GetContactEngagement(w http.ResponseWriter, r *http.Request) {
	eng, err := h.svc.GetContactEngagement(r.Context(), chi.URLParam(r, "contactID"))
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, eng)
}

// RecommendationsResponse pairs a funnel with the advice derived from it.
type RecommendationsResponse struct {
	Funnel          *domain.CampaignFunnel  `json:"funnel"`
	Recommendations []domain.Recommendation `json:"recommendations"`
}

// GetRecommendations returns improvement suggestions for a campaign.
//
//	GET /api/recommendations/{campaignID}
func (h *Handlers) GetRecommendations(w http.ResponseWriter, r *http.Request) {
	funnel, recs, err := h.svc.CampaignRecommendations(r.Context(), chi.URLParam(r, "campaignID"))
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, RecommendationsResponse{Funnel: funnel, Recommendations: recs})
}

// ExportCSV downloads the records of one campaign, or of all campaigns when
// no campaign is given.
//
//	GET /api/export
//	GET /api/export/{campaignID}
func (h *Handlers) ExportCSV(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "campaignID")
	body, err := h.svc.ExportCSV(r.Context(), campaignID)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.CSV(w, exportFilename(campaignID, h.now()), body)
}

func exportFilename(campaignID string, at time.Time) string {
	scope := campaignID
	if scope == "" {
		scope = "all"
	}
	return fmt.Sprintf("email-tracking-%s-%s.csv", scope, at.UTC().Format("20060102-150405"))
}

// GetData returns raw tracking records, optionally filtered.
//
//	GET /api/data?campaign_id=&contact_id=&kind=&page=&limit=
func (h *Handlers) GetData(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := domain.RecordFilter{
		CampaignID: q.Get("campaign_id"),
		ContactID:  q.Get("contact_id"),
		Kind:       domain.RecordKind(q.Get("kind")),
	}
	if f.Kind != "" && !f.Kind.Valid() {
		httputil.BadRequest(w, "kind must be open or click")
		return
	}
	recs, err := h.svc.Records(r.Context(), f)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if recs == nil {
		recs = []domain.TrackingRecord{}
	}
	if wantsPagination(r) {
		httputil.OK(w, Paginate(recs, ParsePagination(r, 100, 1000)))
		return
	}
	httputil.OK(w, recs)
}

// GetRecord returns one raw tracking record.
//
//	GET /api/data/{recordID}
func (h *Handlers) GetRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.Record(r.Context(), chi.URLParam(r, "recordID"))
	switch {
	case errors.Is(err, svc.ErrNotFound):
		httputil.NotFound(w, "tracking record not found")
		return
	case err != nil:
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, rec)
}

// PrepareEmailRequest is the body of POST /api/emails/prepare.
type PrepareEmailRequest struct {
	HTML       string `json:"html"`
	EmailID    string `json:"email_id"`
	ContactID  string `json:"contact_id"`
	CampaignID string `json:"campaign_id"`
}

// PrepareEmail rewrites an email body for tracking and registers its
// records.
//
//	POST /api/emails/prepare
func (h *Handlers) PrepareEmail(w http.ResponseWriter, r *http.Request) {
	var req PrepareEmailRequest
	if !httputil.Decode(w, r, &req) {
		return
	}

	out, err := h.svc.PrepareTrackedEmail(r.Context(), req.HTML, req.EmailID, req.ContactID, req.CampaignID)
	switch {
	case errors.Is(err, svc.ErrInvalidInput):
		httputil.BadRequest(w, err.Error())
		return
	case err != nil:
		httputil.InternalError(w, err)
		return
	}

	logger.Info("email prepared for tracking",
		"campaign_id", req.CampaignID, "email_id", req.EmailID, "links", len(out.LinkRecordIDs))
	httputil.Created(w, out)
}
