package redis

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/engagement-tracker/internal/domain"
	"github.com/ignite/engagement-tracker/internal/service/tracking"
)

func newTestStore(t *testing.T) (*TrackingStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	s := NewTrackingStore(client, "")
	t.Cleanup(func() { s.Close() })
	return s, mr
}

var created = time.Date(2026, 2, 3, 4, 5, 6, 789, time.UTC)

func clickRecord(id, campaign, contact string) *domain.TrackingRecord {
	return &domain.TrackingRecord{
		ID: id, Kind: domain.KindClick, EmailID: "e-" + id, ContactID: contact, CampaignID: campaign,
		CreatedAt: created, DestinationURL: "https://x.example.com/" + id, LinkLabel: "Link " + id,
	}
}

func TestTrackingStore_CreateGet(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, clickRecord("a1", "k1", "c1")))
	assert.ErrorIs(t, s.Create(ctx, clickRecord("a1", "k1", "c1")), tracking.ErrDuplicateID)

	got, err := s.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, clickRecord("a1", "k1", "c1"), got)

	assert.True(t, mr.Exists("{trk}:rec:a1"))
	members, err := mr.SMembers("{trk}:idx:campaign:k1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a1"}, members)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, tracking.ErrNotFound)
}

func TestTrackingStore_Resolve(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, clickRecord("a1", "k1", "c1")))

	first := created.Add(time.Minute)
	rec, err := s.Resolve(ctx, "a1", domain.KindClick, domain.Hit{Agent: "ua1", Address: "10.0.0.1", At: first})
	require.NoError(t, err)
	assert.True(t, rec.Resolved)
	assert.Equal(t, first, *rec.ResolvedAt)
	assert.Equal(t, 1, rec.HitCount)

	second := first.Add(time.Hour)
	rec, err = s.Resolve(ctx, "a1", domain.KindClick, domain.Hit{Agent: "ua2", Address: "10.0.0.2", At: second})
	require.NoError(t, err)
	assert.Equal(t, first, *rec.ResolvedAt)
	assert.Equal(t, second, *rec.LastHitAt)
	assert.Equal(t, 2, rec.HitCount)
	assert.Equal(t, "ua2", rec.RequesterAgent)

	_, err = s.Resolve(ctx, "a1", domain.KindOpen, domain.Hit{At: second})
	assert.ErrorIs(t, err, tracking.ErrNotFound)
	_, err = s.Resolve(ctx, "ghost", domain.KindClick, domain.Hit{At: second})
	assert.ErrorIs(t, err, tracking.ErrNotFound)
}

func TestTrackingStore_ConcurrentResolve(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, clickRecord("a1", "k1", "c1")))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Resolve(ctx, "a1", domain.KindClick, domain.Hit{At: created.Add(time.Duration(i+1) * time.Second)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := s.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, 20, got.HitCount)
}

func TestTrackingStore_Scan(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Create(ctx, clickRecord(fmt.Sprintf("k1-%d", i), "k1", "c1")))
	}
	require.NoError(t, s.Create(ctx, clickRecord("k2-0", "k2", "c1")))
	require.NoError(t, s.Create(ctx, clickRecord("k2-1", "k2", "c2")))

	all, err := s.Scan(ctx, domain.RecordFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 5)
	assert.Equal(t, "k1-0", all[0].ID)

	byCampaign, err := s.Scan(ctx, domain.RecordFilter{CampaignID: "k2"})
	require.NoError(t, err)
	assert.Len(t, byCampaign, 2)

	byContact, err := s.Scan(ctx, domain.RecordFilter{CampaignID: "k2", ContactID: "c1"})
	require.NoError(t, err)
	require.Len(t, byContact, 1)
	assert.Equal(t, "k2-0", byContact[0].ID)

	none, err := s.Scan(ctx, domain.RecordFilter{CampaignID: "nope"})
	require.NoError(t, err)
	assert.Empty(t, none)
	assert.NotNil(t, none)
}

func TestTrackingStore_CustomPrefix(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer client.Close()

	s := NewTrackingStore(client, "tenant1:")
	require.NoError(t, s.Create(context.Background(), clickRecord("x", "k", "c")))
	assert.True(t, mr.Exists("{tenant1}:rec:x"))
	require.NoError(t, s.Ping(context.Background()))
}

func TestSlotPrefix(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", "{trk}:"},
		{"trk:", "{trk}:"},
		{"tenant1", "{tenant1}:"},
		{"{tenant1}:", "{tenant1}:"},
		{"app:{t1}:", "app:{t1}:"},
		{"odd{}:", "{odd{}}:"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, slotPrefix(tt.in), tt.in)
	}
}

// hashTag is the part of key Redis Cluster hashes: the text between the
// first "{" and the next "}", when non-empty.
func hashTag(key string) string {
	open := strings.Index(key, "{")
	if open < 0 {
		return key
	}
	end := strings.Index(key[open+1:], "}")
	if end <= 0 {
		return key
	}
	return key[open+1 : open+1+end]
}

func TestTrackingStore_KeysShareSlot(t *testing.T) {
	s, _ := newTestStore(t)
	r := clickRecord("a1", "k1", "c1")

	keys := []string{s.recordKey(r.ID), s.allKey(), s.campaignKey(r.CampaignID), s.contactKey(r.ContactID)}
	for _, k := range keys {
		assert.Equal(t, "trk", hashTag(k), k)
	}
}

func TestTrackingStore_Count(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Create(ctx, clickRecord(fmt.Sprintf("r%d", i), "k1", "c1")))
	}
	n, err = s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
