// Package archive uploads CSV exports of tracking records to S3.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/ignite/engagement-tracker/internal/pkg/distlock"
	"github.com/ignite/engagement-tracker/internal/pkg/logger"
)

// ErrInProgress is returned when another run holds the export lock for the
// same scope.
var ErrInProgress = errors.New("export already in progress")

// Exporter renders the CSV for a campaign ("" for all records).
type Exporter interface {
	ExportCSV(ctx context.Context, campaignID string) ([]byte, error)
}

// PutObjectAPI is the S3 call the archiver needs.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// LockFunc returns a fresh lock for key.
type LockFunc func(key string, ttl time.Duration) distlock.DistLock

// StatusRecorder counts upload outcomes.
type StatusRecorder interface {
	RecordArchive(status string)
}

// Result describes one upload.
type Result struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	Bytes  int    `json:"bytes"`
}

// Archiver writes one object per export run.
type Archiver struct {
	exporter Exporter
	client   PutObjectAPI
	bucket   string
	prefix   string
	newLock  LockFunc
	lockTTL  time.Duration
	recorder StatusRecorder

	now   func() time.Time
	newID func() string
}

// Config holds the archiver's destination and lock settings.
type Config struct {
	Bucket  string
	Prefix  string
	LockTTL time.Duration
}

// New builds an Archiver. newLock may be nil, in which case runs are only
// serialized within this process.
func New(exporter Exporter, client PutObjectAPI, cfg Config, newLock LockFunc, recorder StatusRecorder) *Archiver {
	if newLock == nil {
		newLock = func(key string, _ time.Duration) distlock.DistLock { return distlock.NewLocalLock(key) }
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}
	return &Archiver{
		exporter: exporter,
		client:   client,
		bucket:   cfg.Bucket,
		prefix:   cfg.Prefix,
		newLock:  newLock,
		lockTTL:  cfg.LockTTL,
		recorder: recorder,
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
	}
}

// Scope names the export target: the campaign id, or "all".
func Scope(campaignID string) string {
	if campaignID == "" {
		return "all"
	}
	return campaignID
}

// LockKey is the distributed lock name for a campaign export.
func LockKey(campaignID string) string {
	return "tracking-export:" + Scope(campaignID)
}

// ObjectKey is {prefix}/{campaign|all}/{timestamp}-{uuid}.csv.
func (a *Archiver) ObjectKey(campaignID string) string {
	name := fmt.Sprintf("%s-%s.csv", a.now().UTC().Format("20060102T150405Z"), a.newID())
	return path.Join(a.prefix, Scope(campaignID), name)
}

// Upload exports campaignID ("" for all) and stores it in S3. Concurrent
// runs for the same scope on any host get ErrInProgress.
func (a *Archiver) Upload(ctx context.Context, campaignID string) (*Result, error) {
	lock := a.newLock(LockKey(campaignID), a.lockTTL)
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		a.record("failed")
		return nil, fmt.Errorf("acquire export lock: %w", err)
	}
	if !acquired {
		a.record("skipped")
		return nil, ErrInProgress
	}
	defer func() {
		// The run may have outlived its TTL; another host then owns the key.
		if err := lock.Release(context.Background()); err != nil && !errors.Is(err, distlock.ErrNotHeld) {
			logger.Warn("release export lock", "key", LockKey(campaignID), "error", err)
		}
	}()

	body, err := a.exporter.ExportCSV(ctx, campaignID)
	if err != nil {
		a.record("failed")
		return nil, fmt.Errorf("export csv: %w", err)
	}

	key := a.ObjectKey(campaignID)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("text/csv; charset=utf-8"),
	})
	if err != nil {
		a.record("failed")
		return nil, fmt.Errorf("S3 PutObject %s/%s: %w", a.bucket, key, err)
	}

	a.record("uploaded")
	logger.Info("export archived", "bucket", a.bucket, "key", key, "bytes", len(body))
	return &Result{Bucket: a.bucket, Key: key, Bytes: len(body)}, nil
}

func (a *Archiver) record(status string) {
	if a.recorder != nil {
		a.recorder.RecordArchive(status)
	}
}
