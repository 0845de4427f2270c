package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/engagement-tracker/internal/domain"
	"github.com/ignite/engagement-tracker/internal/service/tracking"
)

func newTestRepo(t *testing.T) *TrackingRepo {
	t.Helper()
	repo, err := Open(context.Background(), filepath.Join(t.TempDir(), "tracking.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

var created = time.Date(2026, 6, 1, 8, 30, 0, 123456789, time.UTC)

func TestTrackingRepo_Lifecycle(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	link := &domain.TrackingRecord{
		ID: "lnk", Kind: domain.KindClick, EmailID: "e1", ContactID: "c1", CampaignID: "k1",
		CreatedAt: created, DestinationURL: "https://a.example.com", LinkLabel: "A",
	}
	require.NoError(t, repo.Create(ctx, link))
	assert.ErrorIs(t, repo.Create(ctx, link), tracking.ErrDuplicateID)

	got, err := repo.Get(ctx, "lnk")
	require.NoError(t, err)
	assert.Equal(t, link, got)

	first := created.Add(time.Minute)
	rec, err := repo.Resolve(ctx, "lnk", domain.KindClick, domain.Hit{Agent: "ua", Address: "10.0.0.1", At: first})
	require.NoError(t, err)
	assert.True(t, rec.Resolved)
	assert.Equal(t, first, *rec.ResolvedAt)

	rec, err = repo.Resolve(ctx, "lnk", domain.KindClick, domain.Hit{Agent: "ua2", At: first.Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, first, *rec.ResolvedAt)
	assert.Equal(t, 2, rec.HitCount)
	assert.Equal(t, first.Add(time.Hour), *rec.LastHitAt)

	_, err = repo.Resolve(ctx, "lnk", domain.KindOpen, domain.Hit{At: first})
	assert.ErrorIs(t, err, tracking.ErrNotFound)
	_, err = repo.Get(ctx, "nope")
	assert.ErrorIs(t, err, tracking.ErrNotFound)
}

func TestTrackingRepo_Scan(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	for i, c := range []struct{ id, campaign, contact string }{
		{"b", "k1", "c1"}, {"a", "k1", "c2"}, {"c", "k2", "c1"},
	} {
		require.NoError(t, repo.Create(ctx, &domain.TrackingRecord{
			ID: c.id, Kind: domain.KindOpen, EmailID: "e", ContactID: c.contact, CampaignID: c.campaign,
			CreatedAt: created.Add(time.Duration(i) * time.Second),
		}))
	}

	all, err := repo.Scan(ctx, domain.RecordFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"b", "a", "c"}, []string{all[0].ID, all[1].ID, all[2].ID})

	k1, err := repo.Scan(ctx, domain.RecordFilter{CampaignID: "k1"})
	require.NoError(t, err)
	assert.Len(t, k1, 2)

	c1k2, err := repo.Scan(ctx, domain.RecordFilter{CampaignID: "k2", ContactID: "c1", Kind: domain.KindOpen})
	require.NoError(t, err)
	require.Len(t, c1k2, 1)
	assert.Equal(t, "c", c1k2[0].ID)
}

func TestTrackingRepo_ConcurrentResolve(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, &domain.TrackingRecord{ID: "px", Kind: domain.KindOpen, CreatedAt: created}))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := repo.Resolve(ctx, "px", domain.KindOpen, domain.Hit{At: created.Add(time.Duration(i) * time.Second)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := repo.Get(ctx, "px")
	require.NoError(t, err)
	assert.Equal(t, 10, got.HitCount)
	assert.NoError(t, repo.Ping(ctx))
}

func TestTrackingRepo_Count(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, repo.Create(ctx, &domain.TrackingRecord{ID: "a", Kind: domain.KindOpen, EmailID: "e", CreatedAt: created}))
	require.NoError(t, repo.Create(ctx, &domain.TrackingRecord{ID: "b", Kind: domain.KindOpen, EmailID: "e", CreatedAt: created}))
	n, err = repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
