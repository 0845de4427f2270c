package tracking

import (
	"context"
	"sort"

	"github.com/ignite/engagement-tracker/internal/domain"
)

// Store defines the persistence contract for tracking records.
// Implementations must be safe for concurrent use.
type Store interface {
	// Create inserts a new pending record. Returns ErrDuplicateID if the id
	// is already taken.
	Create(ctx context.Context, r *domain.TrackingRecord) error

	// Get returns a single record. Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, id string) (*domain.TrackingRecord, error)

	// Resolve applies a hit to the record with the given id and kind as one
	// atomic read-modify-write (see domain.TrackingRecord.ApplyHit) and
	// returns the updated record. Returns ErrNotFound if no record with that
	// id and kind exists.
	Resolve(ctx context.Context, id string, kind domain.RecordKind, hit domain.Hit) (*domain.TrackingRecord, error)

	// Scan returns every record matching the filter, ordered by created_at
	// then id.
	Scan(ctx context.Context, filter domain.RecordFilter) ([]domain.TrackingRecord, error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// Counter is implemented by stores that can count records without loading
// them.
type Counter interface {
	Count(ctx context.Context) (int, error)
}

// SortRecords orders records by created_at then id, the order every Store
// returns from Scan.
func SortRecords(recs []domain.TrackingRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].CreatedAt.Before(recs[j].CreatedAt)
		}
		return recs[i].ID < recs[j].ID
	})
}
