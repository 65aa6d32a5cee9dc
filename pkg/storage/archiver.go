// Package storage archives finished migration sessions to S3. The local
// history database is the working record; the archive gives a run a durable
// off-host copy the operator can hand to whoever owns the site.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/wpshift/wpshift/pkg/errors"
	"github.com/wpshift/wpshift/pkg/history"
)

// Archiver uploads session manifests to one S3 bucket.
type Archiver struct {
	s3Client *s3.Client
	bucket   string
}

// NewArchiver creates an archiver using the ambient AWS credential chain.
func NewArchiver(ctx context.Context, bucket, region string) (*Archiver, error) {
	slog.Info("archiver_init", "bucket", bucket, "region", region)

	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		slog.Error("aws_config_load_failed", "error", err)
		return nil, errors.Wrap(err, "failed to load AWS config")
	}

	return &Archiver{
		s3Client: s3.NewFromConfig(cfg),
		bucket:   bucket,
	}, nil
}

// Manifest is the JSON document uploaded per session: the session record plus
// its complete audit log. Log messages were redacted at write time, so the
// manifest is safe to store and share.
type Manifest struct {
	Session    *history.Session    `json:"session"`
	Entries    []*history.LogEntry `json:"entries"`
	ArchivedAt time.Time           `json:"archived_at"`
}

// ArchiveSession uploads the session's manifest and returns its object key.
func (a *Archiver) ArchiveSession(ctx context.Context, session *history.Session, entries []*history.LogEntry) (string, error) {
	manifest := Manifest{
		Session:    session,
		Entries:    entries,
		ArchivedAt: time.Now().UTC(),
	}

	body, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal session manifest")
	}

	key := objectKey(session.ID)
	_, err = a.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		slog.Error("archive_upload_failed", "session_id", session.ID, "s3_key", key, "error", err)
		return "", errors.Wrap(err, "failed to upload session manifest")
	}

	slog.Info("session_archived",
		"session_id", session.ID,
		"bucket", a.bucket,
		"s3_key", key,
		"size_bytes", len(body),
		"log_entries", len(entries))
	return key, nil
}

// objectKey places each session's manifest under a per-session prefix so the
// bucket can be listed by run.
func objectKey(sessionID string) string {
	return fmt.Sprintf("sessions/%s/audit.json", sessionID)
}
