// Copyright (C) 2026 canmaster authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/canmaster/can-backend/internal/config"
	"github.com/canmaster/can-backend/internal/repository"
	"github.com/canmaster/can-backend/pkg/log"
	"github.com/go-co-op/gocron/v2"
)

// newJSONReader marshals v and wraps it in a reader suitable for an S3
// PutObject body. Marshal errors are not expected here (HistoryEntry
// has no unmarshalable fields) so they fall back to an empty body
// rather than complicating the archiver's error surface.
func newJSONReader(v interface{}) io.Reader {
	data, err := json.Marshal(v)
	if err != nil {
		log.Errorf("scheduler: marshal history row for archive: %v", err)
		return bytes.NewReader(nil)
	}
	return bytes.NewReader(data)
}

// HistoryArchiver uploads an aged node_history snapshot before it is
// deleted. Only used when config.Keys.HistoryRetention == "archive".
type HistoryArchiver interface {
	Archive(ctx context.Context, e repository.HistoryEntry) error
}

// s3Archiver uploads one object per history row, keyed by node and
// row id, to the configured bucket.
type s3Archiver struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Archiver builds a HistoryArchiver from config.Keys.S3Archive.
// Grounded on the teacher's pkg/archive/parquet S3Target construction.
func NewS3Archiver(cfg config.S3ArchiveConfig) (HistoryArchiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("scheduler: s3 archive bucket must not be empty")
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("", "", "")),
	)
	if err != nil {
		return nil, fmt.Errorf("scheduler: load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return &s3Archiver{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (a *s3Archiver) Archive(ctx context.Context, e repository.HistoryEntry) error {
	key := fmt.Sprintf("%s%s/%d.json", a.prefix, e.NodeId, e.ID)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
		Body:   newJSONReader(e),
	})
	return err
}

// HistoryPruner is the persistence surface the retention job needs
// from internal/repository.HistoryRepository.
type HistoryPruner interface {
	SelectOlderThan(cutoff int64) ([]repository.HistoryEntry, error)
	DeleteOlderThan(cutoff int64) (int64, error)
}

// RetentionJob prunes node_history rows older than maxAge, optionally
// archiving each row to S3 first when policy is "archive". Runs once
// daily via gocron, mirroring the teacher's RegisterRetention*Service
// pattern.
type RetentionJob struct {
	histRepo HistoryPruner
	policy   string
	maxAge   time.Duration
	archiver HistoryArchiver
}

// NewRetentionJob builds a RetentionJob from the decoded config. A nil
// archiver is only valid when policy != "archive".
func NewRetentionJob(histRepo HistoryPruner, policy string, maxAge time.Duration, archiver HistoryArchiver) *RetentionJob {
	return &RetentionJob{histRepo: histRepo, policy: policy, maxAge: maxAge, archiver: archiver}
}

// Register schedules the job on s to run daily at 03:00, matching the
// teacher's retention services' fixed daily slot.
func (j *RetentionJob) Register(s gocron.Scheduler) error {
	_, err := s.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(3, 0, 0))),
		gocron.NewTask(j.run),
	)
	return err
}

func (j *RetentionJob) run() {
	if j.policy == "keep" || j.policy == "" {
		return
	}

	cutoff := time.Now().Add(-j.maxAge).UnixMilli()
	rows, err := j.histRepo.SelectOlderThan(cutoff)
	if err != nil {
		log.Errorf("scheduler: retention: select aged history: %v", err)
		return
	}
	if len(rows) == 0 {
		return
	}

	if j.policy == "archive" {
		ctx := context.Background()
		for _, row := range rows {
			if err := j.archiver.Archive(ctx, row); err != nil {
				log.Errorf("scheduler: retention: archive row %d for node %s: %v", row.ID, row.NodeId, err)
				return
			}
		}
	}

	n, err := j.histRepo.DeleteOlderThan(cutoff)
	if err != nil {
		log.Errorf("scheduler: retention: delete aged history: %v", err)
		return
	}
	log.Infof("scheduler: retention: removed %d node_history rows older than %s", n, j.maxAge)
}
