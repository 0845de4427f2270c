// Package file persists tracking records to a single JSON document: an
// array of [id, record] pairs. Data files written by the earlier Node
// tracker (camelCase records, epoch-ms times) load as well and are
// rewritten in the current layout on the next flush. The store suits
// single-process deployments without a database.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ignite/engagement-tracker/internal/domain"
	"github.com/ignite/engagement-tracker/internal/pkg/logger"
	"github.com/ignite/engagement-tracker/internal/service/tracking"
)

// TrackingStore keeps every record in memory and rewrites the data file
// after each mutation. Writes go to a temp file that is renamed over the
// old one, so a crash never leaves a truncated document.
type TrackingStore struct {
	path string

	mu      sync.RWMutex
	records map[string]*domain.TrackingRecord
}

// Open loads path if it exists. A missing file starts an empty store; an
// unreadable file or a record that fails validation is an error.
func Open(path string) (*TrackingStore, error) {
	s := &TrackingStore{path: path, records: make(map[string]*domain.TrackingRecord)}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read tracking data: %w", err)
	}
	if len(data) == 0 {
		return s, nil
	}

	var pairs [][2]json.RawMessage
	if err := json.Unmarshal(data, &pairs); err != nil {
		return nil, fmt.Errorf("parse tracking data %s: %w", path, err)
	}
	for _, p := range pairs {
		var id string
		if err := json.Unmarshal(p[0], &id); err != nil {
			return nil, fmt.Errorf("parse record id: %w", err)
		}
		rec, err := decodeRecord(id, p[1])
		if err != nil {
			return nil, err
		}
		s.records[id] = rec
	}
	logger.Info("loaded tracking records", "count", len(s.records), "path", path)
	return s, nil
}

func (s *TrackingStore) Create(ctx context.Context, r *domain.TrackingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[r.ID]; ok {
		return tracking.ErrDuplicateID
	}
	s.records[r.ID] = r.Clone()
	if err := s.flushLocked(); err != nil {
		delete(s.records, r.ID)
		return err
	}
	return nil
}

func (s *TrackingStore) Get(ctx context.Context, id string) (*domain.TrackingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return nil, tracking.ErrNotFound
	}
	return r.Clone(), nil
}

func (s *TrackingStore) Resolve(ctx context.Context, id string, kind domain.RecordKind, hit domain.Hit) (*domain.TrackingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.records[id]
	if !ok || cur.Kind != kind {
		return nil, tracking.ErrNotFound
	}
	next := cur.Clone()
	next.ApplyHit(hit)
	s.records[id] = next
	if err := s.flushLocked(); err != nil {
		s.records[id] = cur
		return nil, err
	}
	return next.Clone(), nil
}

func (s *TrackingStore) Scan(ctx context.Context, f domain.RecordFilter) ([]domain.TrackingRecord, error) {
	s.mu.RLock()
	out := []domain.TrackingRecord{}
	for _, r := range s.records {
		if f.Matches(r) {
			out = append(out, *r.Clone())
		}
	}
	s.mu.RUnlock()
	tracking.SortRecords(out)
	return out, nil
}

func (s *TrackingStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

// Ping verifies the data directory is still writable.
func (s *TrackingStore) Ping(ctx context.Context) error {
	dir := filepath.Dir(s.path)
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("stat data dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("data dir %s is not a directory", dir)
	}
	return nil
}

func (s *TrackingStore) Close() error { return nil }

func (s *TrackingStore) flushLocked() error {
	recs := make([]domain.TrackingRecord, 0, len(s.records))
	for _, r := range s.records {
		recs = append(recs, *r)
	}
	tracking.SortRecords(recs)

	pairs := make([][2]any, 0, len(recs))
	for i := range recs {
		pairs = append(pairs, [2]any{recs[i].ID, &recs[i]})
	}
	data, err := json.MarshalIndent(pairs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode tracking data: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".tracking-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write tracking data: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace tracking data: %w", err)
	}
	return nil
}

var (
	_ tracking.Store   = (*TrackingStore)(nil)
	_ tracking.Counter = (*TrackingStore)(nil)
)
