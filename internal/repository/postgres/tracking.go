package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/ignite/engagement-tracker/internal/domain"
	"github.com/ignite/engagement-tracker/internal/service/tracking"
)

const recordColumns = `id, kind, email_id, contact_id, campaign_id, created_at,
	resolved, resolved_at, requester_agent, requester_address,
	destination_url, link_label, hit_count, last_hit_at`

// TrackingRepo implements tracking.Store against PostgreSQL
// (migrations/001_tracking_records.sql).
type TrackingRepo struct{ db *sql.DB }

// NewTrackingRepo creates a Postgres-backed tracking store.
func NewTrackingRepo(db *sql.DB) *TrackingRepo { return &TrackingRepo{db: db} }

func (r *TrackingRepo) Create(ctx context.Context, rec *domain.TrackingRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tracking_records (id, kind, email_id, contact_id, campaign_id, created_at,
			destination_url, link_label)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, rec.ID, string(rec.Kind), rec.EmailID, rec.ContactID, rec.CampaignID, rec.CreatedAt,
		rec.DestinationURL, rec.LinkLabel)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return tracking.ErrDuplicateID
	}
	if err != nil {
		return fmt.Errorf("insert tracking record: %w", err)
	}
	return nil
}

func (r *TrackingRepo) Get(ctx context.Context, id string) (*domain.TrackingRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM tracking_records WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, tracking.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tracking record: %w", err)
	}
	return rec, nil
}

// Resolve is a single conditional UPDATE; row locking makes concurrent hits
// on the same record serialize while COALESCE keeps the first resolved_at.
func (r *TrackingRepo) Resolve(ctx context.Context, id string, kind domain.RecordKind, hit domain.Hit) (*domain.TrackingRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE tracking_records
		SET resolved = TRUE,
		    resolved_at = COALESCE(resolved_at, $3),
		    requester_agent = $4,
		    requester_address = $5,
		    hit_count = hit_count + 1,
		    last_hit_at = $3
		WHERE id = $1 AND kind = $2
		RETURNING `+recordColumns,
		id, string(kind), hit.At.UTC(), hit.Agent, hit.Address)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, tracking.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve tracking record: %w", err)
	}
	return rec, nil
}

func (r *TrackingRepo) Scan(ctx context.Context, f domain.RecordFilter) ([]domain.TrackingRecord, error) {
	q := `SELECT ` + recordColumns + ` FROM tracking_records WHERE 1=1`
	args := []interface{}{}
	idx := 1

	if f.CampaignID != "" {
		q += fmt.Sprintf(" AND campaign_id = $%d", idx)
		args = append(args, f.CampaignID)
		idx++
	}
	if f.ContactID != "" {
		q += fmt.Sprintf(" AND contact_id = $%d", idx)
		args = append(args, f.ContactID)
		idx++
	}
	if f.Kind != "" {
		q += fmt.Sprintf(" AND kind = $%d", idx)
		args = append(args, string(f.Kind))
	}
	q += " ORDER BY created_at, id"

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("scan tracking records: %w", err)
	}
	defer rows.Close()

	out := []domain.TrackingRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tracking row: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (r *TrackingRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tracking_records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count tracking records: %w", err)
	}
	return n, nil
}

func (r *TrackingRepo) Ping(ctx context.Context) error { return r.db.PingContext(ctx) }

func (r *TrackingRepo) Close() error { return r.db.Close() }

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(s rowScanner) (*domain.TrackingRecord, error) {
	var (
		rec        domain.TrackingRecord
		kind       string
		resolvedAt sql.NullTime
		lastHitAt  sql.NullTime
	)
	err := s.Scan(
		&rec.ID, &kind, &rec.EmailID, &rec.ContactID, &rec.CampaignID, &rec.CreatedAt,
		&rec.Resolved, &resolvedAt, &rec.RequesterAgent, &rec.RequesterAddress,
		&rec.DestinationURL, &rec.LinkLabel, &rec.HitCount, &lastHitAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Kind = domain.RecordKind(kind)
	rec.CreatedAt = rec.CreatedAt.UTC()
	if resolvedAt.Valid {
		t := resolvedAt.Time.UTC()
		rec.ResolvedAt = &t
	}
	if lastHitAt.Valid {
		t := lastHitAt.Time.UTC()
		rec.LastHitAt = &t
	}
	return &rec, nil
}

var (
	_ tracking.Store   = (*TrackingRepo)(nil)
	_ tracking.Counter = (*TrackingRepo)(nil)
)
