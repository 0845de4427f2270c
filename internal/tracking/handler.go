// Package tracking serves the pixel and link endpoints embedded in
// rewritten emails.
package tracking

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/engagement-tracker/internal/domain"
	"github.com/ignite/engagement-tracker/internal/pkg/httputil"
	"github.com/ignite/engagement-tracker/internal/pkg/logger"
	svc "github.com/ignite/engagement-tracker/internal/service/tracking"
)

// 1x1 transparent PNG
var pixelPNG = func() []byte {
	img := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	img.Set(0, 0, color.NRGBA{})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}()

// Resolver applies a request to a tracking record.
type Resolver interface {
	Resolve(ctx context.Context, kind domain.RecordKind, id string, hit domain.Hit) (*domain.TrackingRecord, error)
}

type Handler struct {
	resolver Resolver
	pub      EventPublisher
}

// NewHandler builds the resolution handler. pub may be nil.
func NewHandler(resolver Resolver, pub EventPublisher) *Handler {
	if pub == nil {
		pub = nopPublisher{}
	}
	return &Handler{resolver: resolver, pub: pub}
}

// Routes returns the resolution endpoints, to be mounted under /track.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/open/{pixelID}", h.HandleOpen)
	r.Get("/click/{linkID}", h.HandleClick)
	return r
}

func (h *Handler) HandleOpen(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.resolve(w, r, domain.KindOpen, chi.URLParam(r, "pixelID"))
	if !ok {
		return
	}

	logger.Info("open resolved",
		"record_id", rec.ID, "campaign_id", rec.CampaignID, "contact_id", rec.ContactID,
		"first", rec.HitCount == 1, "requester_address", rec.RequesterAddress)
	servePixel(w)
}

func (h *Handler) HandleClick(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.resolve(w, r, domain.KindClick, chi.URLParam(r, "linkID"))
	if !ok {
		return
	}

	logger.Info("click resolved",
		"record_id", rec.ID, "campaign_id", rec.CampaignID, "contact_id", rec.ContactID,
		"first", rec.HitCount == 1, "requester_address", rec.RequesterAddress)
	http.Redirect(w, r, rec.DestinationURL, http.StatusFound)
}

// resolve writes the error response itself and reports false on failure.
// The store write has completed by the time it returns true.
func (h *Handler) resolve(w http.ResponseWriter, r *http.Request, kind domain.RecordKind, id string) (*domain.TrackingRecord, bool) {
	hit := domain.Hit{Agent: r.UserAgent(), Address: realIP(r)}

	rec, err := h.resolver.Resolve(r.Context(), kind, id, hit)
	switch {
	case errors.Is(err, svc.ErrNotFound):
		logger.Warn("unknown tracking id", "kind", string(kind), "id", id, "requester_address", hit.Address)
		httputil.NotFound(w, "tracking record not found")
		return nil, false
	case err != nil:
		httputil.InternalError(w, err)
		return nil, false
	}

	h.pub.Publish(r.Context(), NewEvent(rec))
	return rec, true
}

func servePixel(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Write(pixelPNG)
}

func realIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
