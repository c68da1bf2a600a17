package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/ignite/lead-router/internal/pkg/distlock"
	"github.com/ignite/lead-router/internal/pkg/logger"
)

// S3API is the subset of *s3.Client used by Archiver.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archiver exports ledger periods to S3 as JSON lines.
type Archiver struct {
	ledger   *Ledger
	s3       S3API
	bucket   string
	interval time.Duration
	lock     distlock.DistLock
	now      func() time.Time
}

// NewArchiver creates an archiver that exports every interval. lock may be
// nil for single-process use.
func NewArchiver(l *Ledger, client S3API, bucket string, interval time.Duration, lock distlock.DistLock) *Archiver {
	if interval <= 0 {
		interval = time.Hour
	}
	if lock == nil {
		lock = distlock.NewLock(nil, nil, "ledger-archive", interval)
	}
	return &Archiver{ledger: l, s3: client, bucket: bucket, interval: interval, lock: lock, now: time.Now}
}

// ArchiveKey returns the object key for a period starting at from.
func ArchiveKey(from time.Time) string {
	from = from.UTC()
	return fmt.Sprintf("ledger/%s/%s.jsonl", from.Format("2006/01/02"), from.Format("20060102T150405Z"))
}

// Export writes entries in [from, to) to S3 and returns the key and count.
func (a *Archiver) Export(ctx context.Context, from, to time.Time) (string, int, error) {
	entries, err := a.ledger.Entries(ctx, Query{From: from, To: to})
	if err != nil {
		return "", 0, fmt.Errorf("failed to read ledger: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return "", 0, fmt.Errorf("failed to encode entry %s: %w", e.ID, err)
		}
	}

	key := ArchiveKey(from)
	_, err = a.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return "", 0, fmt.Errorf("putting object to S3: %w", err)
	}
	return key, len(entries), nil
}

// previousPeriod returns the last complete interval before now.
func (a *Archiver) previousPeriod() (time.Time, time.Time) {
	to := a.now().UTC().Truncate(a.interval)
	return to.Add(-a.interval), to
}

// RunOnce exports the previous period if this process holds the lock.
func (a *Archiver) RunOnce(ctx context.Context) error {
	from, to := a.previousPeriod()
	_, err := distlock.RunExclusive(ctx, a.lock, func(ctx context.Context) error {
		key, n, err := a.Export(ctx, from, to)
		if err != nil {
			return err
		}
		logger.Info("ledger period archived", "key", key, "entries", n)
		return nil
	})
	return err
}

// Start exports every interval until ctx is done.
func (a *Archiver) Start(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.RunOnce(ctx); err != nil {
				logger.Error("ledger archive failed", "error", err)
			}
		}
	}
}
