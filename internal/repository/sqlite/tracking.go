// Package sqlite implements the tracking store on an embedded SQLite
// database (modernc.org/sqlite, no cgo). It is the durable option for
// single-host deployments.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/ignite/engagement-tracker/internal/domain"
	"github.com/ignite/engagement-tracker/internal/service/tracking"
)

const schema = `
CREATE TABLE IF NOT EXISTS tracking_records (
	id                TEXT PRIMARY KEY,
	kind              TEXT NOT NULL CHECK (kind IN ('open', 'click')),
	email_id          TEXT NOT NULL,
	contact_id        TEXT NOT NULL,
	campaign_id       TEXT NOT NULL,
	created_at        TEXT NOT NULL,
	resolved          INTEGER NOT NULL DEFAULT 0,
	resolved_at       TEXT,
	requester_agent   TEXT NOT NULL DEFAULT '',
	requester_address TEXT NOT NULL DEFAULT '',
	destination_url   TEXT NOT NULL DEFAULT '',
	link_label        TEXT NOT NULL DEFAULT '',
	hit_count         INTEGER NOT NULL DEFAULT 0,
	last_hit_at       TEXT
);
CREATE INDEX IF NOT EXISTS idx_tracking_records_campaign ON tracking_records(campaign_id, created_at);
CREATE INDEX IF NOT EXISTS idx_tracking_records_contact ON tracking_records(contact_id, created_at);
`

const recordColumns = `id, kind, email_id, contact_id, campaign_id, created_at,
	resolved, resolved_at, requester_agent, requester_address,
	destination_url, link_label, hit_count, last_hit_at`

// TrackingRepo implements tracking.Store on SQLite.
type TrackingRepo struct{ db *sql.DB }

// Open opens (creating if needed) the database at path and applies the
// schema. Use ":memory:" for a throwaway database.
func Open(ctx context.Context, path string) (*TrackingRepo, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// SQLite has one writer; a single connection avoids SQLITE_BUSY and
	// keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return &TrackingRepo{db: db}, nil
}

func (r *TrackingRepo) Create(ctx context.Context, rec *domain.TrackingRecord) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO tracking_records (id, kind, email_id, contact_id, campaign_id, created_at,
			destination_url, link_label)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, rec.ID, string(rec.Kind), rec.EmailID, rec.ContactID, rec.CampaignID, formatTime(rec.CreatedAt),
		rec.DestinationURL, rec.LinkLabel)
	if err != nil {
		return fmt.Errorf("insert tracking record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert tracking record: %w", err)
	}
	if n == 0 {
		return tracking.ErrDuplicateID
	}
	return nil
}

func (r *TrackingRepo) Get(ctx context.Context, id string) (*domain.TrackingRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM tracking_records WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, tracking.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tracking record: %w", err)
	}
	return rec, nil
}

func (r *TrackingRepo) Resolve(ctx context.Context, id string, kind domain.RecordKind, hit domain.Hit) (*domain.TrackingRecord, error) {
	at := formatTime(hit.At)
	row := r.db.QueryRowContext(ctx, `
		UPDATE tracking_records
		SET resolved = 1,
		    resolved_at = COALESCE(resolved_at, ?),
		    requester_agent = ?,
		    requester_address = ?,
		    hit_count = hit_count + 1,
		    last_hit_at = ?
		WHERE id = ? AND kind = ?
		RETURNING `+recordColumns,
		at, hit.Agent, hit.Address, at, id, string(kind))
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
	var args []interface{}
	if f.CampaignID != "" {
		q += " AND campaign_id = ?"
		args = append(args, f.CampaignID)
	}
	if f.ContactID != "" {
		q += " AND contact_id = ?"
		args = append(args, f.ContactID)
	}
	if f.Kind != "" {
		q += " AND kind = ?"
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

// DB exposes the handle for advisory locking and migrations.
func (r *TrackingRepo) DB() *sql.DB { return r.db }

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// Timestamps are stored as fixed-width UTC text so ORDER BY created_at
// sorts chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func scanRecord(s rowScanner) (*domain.TrackingRecord, error) {
	var (
		rec        domain.TrackingRecord
		kind       string
		created    string
		resolved   int
		resolvedAt sql.NullString
		lastHitAt  sql.NullString
	)
	err := s.Scan(
		&rec.ID, &kind, &rec.EmailID, &rec.ContactID, &rec.CampaignID, &created,
		&resolved, &resolvedAt, &rec.RequesterAgent, &rec.RequesterAddress,
		&rec.DestinationURL, &rec.LinkLabel, &rec.HitCount, &lastHitAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Kind = domain.RecordKind(kind)
	rec.Resolved = resolved != 0
	if rec.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("decode created_at: %w", err)
	}
	if resolvedAt.Valid {
		t, err := parseTime(resolvedAt.String)
		if err != nil {
			return nil, fmt.Errorf("decode resolved_at: %w", err)
		}
		rec.ResolvedAt = &t
	}
	if lastHitAt.Valid {
		t, err := parseTime(lastHitAt.String)
		if err != nil {
			return nil, fmt.Errorf("decode last_hit_at: %w", err)
		}
		rec.LastHitAt = &t
	}
	return &rec, nil
}

var (
	_ tracking.Store   = (*TrackingRepo)(nil)
	_ tracking.Counter = (*TrackingRepo)(nil)
)
