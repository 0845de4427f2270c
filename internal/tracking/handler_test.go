package tracking

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/engagement-tracker/internal/domain"
	"github.com/ignite/engagement-tracker/internal/repository/memory"
	svc "github.com/ignite/engagement-tracker/internal/service/tracking"
)

var created = time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) Publish(_ context.Context, evt Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
}

func newTestRouter(t *testing.T) (http.Handler, *memory.TrackingStore, *recordingPublisher) {
	t.Helper()
	store := memory.NewTrackingStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, &domain.TrackingRecord{
		ID: "px1", Kind: domain.KindOpen, EmailID: "e1", ContactID: "c1", CampaignID: "k1", CreatedAt: created,
	}))
	require.NoError(t, store.Create(ctx, &domain.TrackingRecord{
		ID: "ln1", Kind: domain.KindClick, EmailID: "e1", ContactID: "c1", CampaignID: "k1", CreatedAt: created,
		DestinationURL: "https://shop.example.com/sale?x=1&y=2", LinkLabel: "Shop",
	}))

	pub := &recordingPublisher{}
	service := svc.NewService(store, "http://t.example.com/track")
	r := chi.NewRouter()
	r.Mount("/track", NewHandler(service, pub).Routes())
	return r, store, pub
}

func get(h http.Handler, path string, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = "198.51.100.7:53211"
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandleOpen_ServesPixelAndResolves(t *testing.T) {
	h, store, pub := newTestRouter(t)

	rec := get(h, "/track/open/px1", map[string]string{"User-Agent": "Mail/1.0"})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache, no-store, must-revalidate", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "no-cache", rec.Header().Get("Pragma"))
	assert.Equal(t, "0", rec.Header().Get("Expires"))

	img, err := png.Decode(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 1, img.Bounds().Dx())
	assert.Equal(t, 1, img.Bounds().Dy())
	_, _, _, a := img.At(0, 0).RGBA()
	assert.Zero(t, a)

	got, err := store.Get(context.Background(), "px1")
	require.NoError(t, err)
	assert.True(t, got.Resolved)
	assert.Equal(t, "Mail/1.0", got.RequesterAgent)
	assert.Equal(t, "198.51.100.7", got.RequesterAddress)

	require.Len(t, pub.events, 1)
	assert.Equal(t, EventOpen, pub.events[0].EventType)
	assert.True(t, pub.events[0].First)
}

func TestHandleOpen_SecondHitKeepsResolvedAt(t *testing.T) {
	h, store, pub := newTestRouter(t)

	require.Equal(t, http.StatusOK, get(h, "/track/open/px1", nil).Code)
	first, err := store.Get(context.Background(), "px1")
	require.NoError(t, err)

	time.Sleep(2 * time.Millisecond)
	require.Equal(t, http.StatusOK, get(h, "/track/open/px1", map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.1"}).Code)
	second, err := store.Get(context.Background(), "px1")
	require.NoError(t, err)

	assert.Equal(t, first.ResolvedAt, second.ResolvedAt)
	assert.Equal(t, 2, second.HitCount)
	assert.Equal(t, "203.0.113.9", second.RequesterAddress)
	require.Len(t, pub.events, 2)
	assert.False(t, pub.events[1].First)
}

func TestHandleClick_RedirectsToDestination(t *testing.T) {
	h, store, pub := newTestRouter(t)

	rec := get(h, "/track/click/ln1", nil)

	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://shop.example.com/sale?x=1&y=2", rec.Header().Get("Location"))

	got, err := store.Get(context.Background(), "ln1")
	require.NoError(t, err)
	assert.True(t, got.Resolved)

	require.Len(t, pub.events, 1)
	assert.Equal(t, EventClick, pub.events[0].EventType)
	assert.Equal(t, "Shop", pub.events[0].LinkLabel)
}

func TestHandleClick_UnknownIDIs404(t *testing.T) {
	h, store, pub := newTestRouter(t)

	rec := get(h, "/track/click/does-not-exist", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 2, store.Len())
	assert.Empty(t, pub.events)
}

func TestHandle_KindMismatchIs404(t *testing.T) {
	h, store, _ := newTestRouter(t)

	assert.Equal(t, http.StatusNotFound, get(h, "/track/open/ln1", nil).Code)
	assert.Equal(t, http.StatusNotFound, get(h, "/track/click/px1", nil).Code)

	got, err := store.Get(context.Background(), "ln1")
	require.NoError(t, err)
	assert.False(t, got.Resolved)
}

func TestHandleOpen_MalformedIDIs404(t *testing.T) {
	h, _, _ := newTestRouter(t)
	assert.Equal(t, http.StatusNotFound, get(h, "/track/open/bad%20id%21", nil).Code)
}

type brokenResolver struct{}

func (brokenResolver) Resolve(context.Context, domain.RecordKind, string, domain.Hit) (*domain.TrackingRecord, error) {
	return nil, errors.Join(svc.ErrStoreUnavailable, errors.New("connection refused"))
}

func TestHandle_StoreFailureIs500(t *testing.T) {
	r := chi.NewRouter()
	r.Mount("/track", NewHandler(brokenResolver{}, nil).Routes())

	open := get(r, "/track/open/px1", nil)
	assert.Equal(t, http.StatusInternalServerError, open.Code)
	assert.NotContains(t, open.Body.String(), "connection refused")

	assert.Equal(t, http.StatusInternalServerError, get(r, "/track/click/ln1", nil).Code)
}

func TestRealIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:4000"
	assert.Equal(t, "192.0.2.1", realIP(req))

	req.Header.Set("X-Real-Ip", "192.0.2.2")
	assert.Equal(t, "192.0.2.2", realIP(req))

	req.Header.Set("X-Forwarded-For", "192.0.2.3")
	assert.Equal(t, "192.0.2.3", realIP(req))
}

type fakeSQS struct {
	mu     sync.Mutex
	bodies []string
	err    error
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.bodies = append(f.bodies, *in.MessageBody)
	return &sqs.SendMessageOutput{}, nil
}

func TestPublisher_SendsJSON(t *testing.T) {
	client := &fakeSQS{}
	p := NewPublisher(client, "https://sqs.us-west-2.amazonaws.com/123/tracking")

	at := created.Add(time.Hour)
	p.Publish(context.Background(), NewEvent(&domain.TrackingRecord{
		ID: "ln1", Kind: domain.KindClick, EmailID: "e1", ContactID: "c1", CampaignID: "k1",
		Resolved: true, ResolvedAt: &at, LastHitAt: &at, HitCount: 1,
		DestinationURL: "https://a.example.com", LinkLabel: "A",
	}))
	p.Close()

	require.Len(t, client.bodies, 1)
	var evt Event
	require.NoError(t, json.Unmarshal([]byte(client.bodies[0]), &evt))
	assert.Equal(t, EventClick, evt.EventType)
	assert.Equal(t, "ln1", evt.RecordID)
	assert.Equal(t, "https://a.example.com", evt.LinkURL)
	assert.True(t, evt.First)
	assert.True(t, at.Equal(evt.ResolvedAt))
}

func TestPublisher_FailureIsSwallowed(t *testing.T) {
	client := &fakeSQS{err: errors.New("throttled")}
	p := NewPublisher(client, "q")

	p.Publish(context.Background(), Event{RecordID: "px1"})
	p.Close()

	assert.Empty(t, client.bodies)
}
