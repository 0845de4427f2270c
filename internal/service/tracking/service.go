package tracking

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ignite/engagement-tracker/internal/domain"
)

// DefaultResolveTimeout bounds store access on the resolution path.
const DefaultResolveTimeout = 2 * time.Second

// Resolution outcomes reported to the Observer.
const (
	OutcomeFirst    = "first"
	OutcomeRepeat   = "repeat"
	OutcomeNotFound = "not_found"
	OutcomeError    = "error"
)

// Observer receives tracking activity for instrumentation.
type Observer interface {
	RecordRegistered(kind domain.RecordKind)
	RecordResolved(kind domain.RecordKind, outcome string, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) RecordRegistered(domain.RecordKind)                      {}
func (nopObserver) RecordResolved(domain.RecordKind, string, time.Duration) {}

// Service implements the tracking business logic on top of a Store.
// All methods are safe for concurrent use if the store is.
type Service struct {
	store          Store
	baseURL        string
	now            func() time.Time
	newID          func() (string, error)
	resolveTimeout time.Duration
	observer       Observer
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator overrides record id generation.
func WithIDGenerator(gen func() (string, error)) Option {
	return func(s *Service) { s.newID = gen }
}

// WithResolveTimeout sets the store deadline used while resolving.
func WithResolveTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.resolveTimeout = d
		}
	}
}

// WithObserver attaches instrumentation.
func WithObserver(o Observer) Option {
	return func(s *Service) {
		if o != nil {
			s.observer = o
		}
	}
}

// NewService creates a tracking service. baseURL is the public prefix of the
// resolution endpoints, e.g. "https://t.example.com/track"; pixel and link
// URLs are built as {baseURL}/open/{id} and {baseURL}/click/{id}.
func NewService(store Store, baseURL string, opts ...Option) *Service {
	s := &Service{
		store:          store,
		baseURL:        strings.TrimRight(baseURL, "/"),
		now:            time.Now,
		newID:          NewRecordID,
		resolveTimeout: DefaultResolveTimeout,
		observer:       nopObserver{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BaseURL returns the normalized tracking base URL.
func (s *Service) BaseURL() string { return s.baseURL }

// NewRecordID returns 128 random bits, hex-encoded.
func NewRecordID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate record id: %w", err)
	}
	return hex.EncodeToString(b), nil
}

var recordIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidRecordID reports whether id could have been issued by the service.
func ValidRecordID(id string) bool {
	return recordIDPattern.MatchString(id)
}

// Resolve looks up a record by id and kind and applies the hit. Malformed
// ids are rejected as ErrNotFound without touching the store. Backend errors
// and timeouts are reported as ErrStoreUnavailable.
func (s *Service) Resolve(ctx context.Context, kind domain.RecordKind, id string, hit domain.Hit) (*domain.TrackingRecord, error) {
	start := time.Now()
	if !ValidRecordID(id) {
		s.observer.RecordResolved(kind, OutcomeNotFound, time.Since(start))
		return nil, ErrNotFound
	}
	if hit.At.IsZero() {
		hit.At = s.now()
	}

	ctx, cancel := context.WithTimeout(ctx, s.resolveTimeout)
	defer cancel()

	rec, err := s.store.Resolve(ctx, id, kind, hit)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.observer.RecordResolved(kind, OutcomeNotFound, time.Since(start))
			return nil, ErrNotFound
		}
		s.observer.RecordResolved(kind, OutcomeError, time.Since(start))
		return nil, storeErr("resolve", err)
	}

	outcome := OutcomeRepeat
	if rec.HitCount == 1 {
		outcome = OutcomeFirst
	}
	s.observer.RecordResolved(kind, outcome, time.Since(start))
	return rec, nil
}

// Record returns a single record.
func (s *Service) Record(ctx context.Context, id string) (*domain.TrackingRecord, error) {
	if !ValidRecordID(id) {
		return nil, ErrNotFound
	}
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, storeErr("get", err)
	}
	return rec, nil
}

// Records returns the raw records matching the filter.
func (s *Service) Records(ctx context.Context, filter domain.RecordFilter) ([]domain.TrackingRecord, error) {
	recs, err := s.store.Scan(ctx, filter)
	if err != nil {
		return nil, storeErr("scan", err)
	}
	return recs, nil
}

// CountRecords returns the number of stored records, scanning when the
// store cannot count directly.
func (s *Service) CountRecords(ctx context.Context) (int, error) {
	if c, ok := s.store.(Counter); ok {
		n, err := c.Count(ctx)
		if err != nil {
			return 0, storeErr("count", err)
		}
		return n, nil
	}
	recs, err := s.Records(ctx, domain.RecordFilter{})
	if err != nil {
		return 0, err
	}
	return len(recs), nil
}

// Ping checks the store.
func (s *Service) Ping(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return storeErr("ping", err)
	}
	return nil
}

func storeErr(op string, err error) error {
	if errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrDuplicateID) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, ErrStoreUnavailable, err)
}
