package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/engagement-tracker/internal/domain"
	"github.com/ignite/engagement-tracker/internal/service/tracking"
)

var created = time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

func openRecord(id, campaign string) *domain.TrackingRecord {
	return &domain.TrackingRecord{
		ID: id, Kind: domain.KindOpen, EmailID: "e-" + id, ContactID: "c1", CampaignID: campaign, CreatedAt: created,
	}
}

func TestTrackingStore_CreateGet(t *testing.T) {
	s := NewTrackingStore()
	ctx := context.Background()

	rec := openRecord("px1", "k1")
	require.NoError(t, s.Create(ctx, rec))
	assert.ErrorIs(t, s.Create(ctx, openRecord("px1", "k2")), tracking.ErrDuplicateID)

	got, err := s.Get(ctx, "px1")
	require.NoError(t, err)
	assert.Equal(t, "k1", got.CampaignID)

	// Stored and returned records are copies.
	rec.CampaignID = "mutated"
	got.CampaignID = "mutated"
	again, err := s.Get(ctx, "px1")
	require.NoError(t, err)
	assert.Equal(t, "k1", again.CampaignID)

	_, err = s.Get(ctx, "nope")
	assert.ErrorIs(t, err, tracking.ErrNotFound)
}

func TestTrackingStore_ResolveKindMismatch(t *testing.T) {
	s := NewTrackingStore()
	require.NoError(t, s.Create(context.Background(), openRecord("px1", "k1")))

	_, err := s.Resolve(context.Background(), "px1", domain.KindClick, domain.Hit{At: created})
	assert.ErrorIs(t, err, tracking.ErrNotFound)
}

func TestTrackingStore_ConcurrentResolveFirstWins(t *testing.T) {
	s := NewTrackingStore()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, openRecord("px1", "k1")))

	const n = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	firsts := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec, err := s.Resolve(ctx, "px1", domain.KindOpen, domain.Hit{At: created.Add(time.Duration(i) * time.Second)})
			if !assert.NoError(t, err) {
				return
			}
			if rec.HitCount == 1 {
				mu.Lock()
				firsts++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	got, err := s.Get(ctx, "px1")
	require.NoError(t, err)
	assert.Equal(t, n, got.HitCount)
	assert.Equal(t, 1, firsts)
	assert.True(t, got.Resolved)
	require.NotNil(t, got.ResolvedAt)
}

func TestTrackingStore_ScanFiltersAndOrders(t *testing.T) {
	s := NewTrackingStore()
	ctx := context.Background()
	b := openRecord("b", "k1")
	a := openRecord("a", "k1")
	late := openRecord("c", "k1")
	late.CreatedAt = created.Add(-time.Hour)
	for _, r := range []*domain.TrackingRecord{b, a, late, openRecord("z", "k2")} {
		require.NoError(t, s.Create(ctx, r))
	}

	recs, err := s.Scan(ctx, domain.RecordFilter{CampaignID: "k1"})
	require.NoError(t, err)
	ids := []string{}
	for _, r := range recs {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"c", "a", "b"}, ids)
	assert.Equal(t, 4, s.Len())

	none, err := s.Scan(ctx, domain.RecordFilter{CampaignID: "missing"})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}
