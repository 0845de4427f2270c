package tracking_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ignite/engagement-tracker/internal/domain"
	"github.com/ignite/engagement-tracker/internal/repository/memory"
	"github.com/ignite/engagement-tracker/internal/service/tracking"
)

const testBase = "https://t.example.com/track"

var testNow = time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC)

func seqIDs() func() (string, error) {
	var n atomic.Int64
	return func() (string, error) {
		return fmt.Sprintf("rec%04d", n.Add(1)), nil
	}
}

func newTestService(opts ...tracking.Option) (*tracking.Service, *memory.TrackingStore) {
	store := memory.NewTrackingStore()
	base := []tracking.Option{
		tracking.WithClock(func() time.Time { return testNow }),
		tracking.WithIDGenerator(seqIDs()),
	}
	return tracking.NewService(store, testBase, append(base, opts...)...), store
}

// seed inserts a record directly, resolving it at resolvedAt when non-zero.
func seed(store tracking.Store, id string, kind domain.RecordKind, email, contact, campaign string, resolvedAt time.Time) {
	r := &domain.TrackingRecord{
		ID: id, Kind: kind, EmailID: email, ContactID: contact, CampaignID: campaign,
		CreatedAt: testNow.Add(-30 * 24 * time.Hour),
	}
	if kind == domain.KindClick {
		r.DestinationURL = "https://dest.example.com/" + id
	}
	if err := store.Create(context.Background(), r); err != nil {
		panic(err)
	}
	if !resolvedAt.IsZero() {
		if _, err := store.Resolve(context.Background(), id, kind, domain.Hit{At: resolvedAt}); err != nil {
			panic(err)
		}
	}
}

// failingStore fails every call with the configured error.
type failingStore struct {
	err       error
	createsOK int
	creates   int
}

func (f *failingStore) Create(ctx context.Context, r *domain.TrackingRecord) error {
	f.creates++
	if f.creates <= f.createsOK {
		return nil
	}
	return f.err
}
func (f *failingStore) Get(ctx context.Context, id string) (*domain.TrackingRecord, error) {
	return nil, f.err
}
func (f *failingStore) Resolve(ctx context.Context, id string, kind domain.RecordKind, hit domain.Hit) (*domain.TrackingRecord, error) {
	return nil, f.err
}
func (f *failingStore) Scan(ctx context.Context, filter domain.RecordFilter) ([]domain.TrackingRecord, error) {
	return nil, f.err
}
func (f *failingStore) Ping(ctx context.Context) error { return f.err }
func (f *failingStore) Close() error                   { return nil }

var errBackend = errors.New("connection refused")
