// Package memory provides an in-process tracking store for tests and
// single-node development.
package memory

import (
	"context"
	"sync"

	"github.com/ignite/engagement-tracker/internal/domain"
	"github.com/ignite/engagement-tracker/internal/service/tracking"
)

// TrackingStore keeps records in a sync.Map of immutable snapshots. A
// resolution swaps in a new snapshot with CompareAndSwap, so concurrent hits
// on the same record never lose an update and different records never
// contend.
type TrackingStore struct {
	records sync.Map // id -> *domain.TrackingRecord
}

// NewTrackingStore returns an empty store.
func NewTrackingStore() *TrackingStore { return &TrackingStore{} }

func (s *TrackingStore) Create(ctx context.Context, r *domain.TrackingRecord) error {
	if _, loaded := s.records.LoadOrStore(r.ID, r.Clone()); loaded {
		return tracking.ErrDuplicateID
	}
	return nil
}

func (s *TrackingStore) Get(ctx context.Context, id string) (*domain.TrackingRecord, error) {
	v, ok := s.records.Load(id)
	if !ok {
		return nil, tracking.ErrNotFound
	}
	return v.(*domain.TrackingRecord).Clone(), nil
}

func (s *TrackingStore) Resolve(ctx context.Context, id string, kind domain.RecordKind, hit domain.Hit) (*domain.TrackingRecord, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v, ok := s.records.Load(id)
		if !ok {
			return nil, tracking.ErrNotFound
		}
		cur := v.(*domain.TrackingRecord)
		if cur.Kind != kind {
			return nil, tracking.ErrNotFound
		}
		next := cur.Clone()
		next.ApplyHit(hit)
		if s.records.CompareAndSwap(id, cur, next) {
			return next.Clone(), nil
		}
	}
}

func (s *TrackingStore) Scan(ctx context.Context, f domain.RecordFilter) ([]domain.TrackingRecord, error) {
	out := []domain.TrackingRecord{}
	s.records.Range(func(_, v any) bool {
		r := v.(*domain.TrackingRecord)
		if f.Matches(r) {
			out = append(out, *r.Clone())
		}
		return true
	})
	tracking.SortRecords(out)
	return out, nil
}

// Len returns the number of stored records.
func (s *TrackingStore) Len() int {
	n := 0
	s.records.Range(func(_, _ any) bool { n++; return true })
	return n
}

func (s *TrackingStore) Count(ctx context.Context) (int, error) { return s.Len(), nil }

func (s *TrackingStore) Ping(ctx context.Context) error { return nil }

func (s *TrackingStore) Close() error { return nil }

var (
	_ tracking.Store   = (*TrackingStore)(nil)
	_ tracking.Counter = (*TrackingStore)(nil)
)
