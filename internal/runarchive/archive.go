// Package runarchive stores finished Glue job runs as parquet objects in S3,
// partitioned by day and job so Athena and the catalog crawlers can read them.
package runarchive

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/writer"

	"gluetrigger/internal/config"
)

const DefaultPrefix = "job_runs/"

// Row matches the job_runs Glue table columns.
type Row struct {
	JobName   string `parquet:"name=job_name, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	RunID     string `parquet:"name=run_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	State     string `parquet:"name=state, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Message   string `parquet:"name=message, type=BYTE_ARRAY, convertedtype=UTF8"`
	EventTime string `parquet:"name=event_time, type=BYTE_ARRAY, convertedtype=UTF8"` // RFC3339
}

type S3Putter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type Config struct {
	Bucket string
	Prefix string
}

// ConfigFromEnv reads ARCHIVE_BUCKET and ARCHIVE_PREFIX. An empty bucket
// disables archiving.
func ConfigFromEnv(env config.Env) Config {
	return Config{
		Bucket: config.String(env, "ARCHIVE_BUCKET", ""),
		Prefix: config.String(env, "ARCHIVE_PREFIX", DefaultPrefix),
	}
}

func (c Config) Enabled() bool { return c.Bucket != "" }

type Writer struct {
	cfg    Config
	s3     S3Putter
	tmpDir string
}

func NewWriter(cfg Config, client S3Putter) *Writer {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	return &Writer{cfg: cfg, s3: client, tmpDir: os.TempDir()}
}

// Key is deterministic per run, so a redelivered event overwrites the same
// object.
func (w *Writer) Key(row Row, at time.Time) string {
	return fmt.Sprintf("%sdt=%s/job=%s/run-%s.parquet",
		ensureTrailingSlash(w.cfg.Prefix),
		at.UTC().Format("2006-01-02"),
		safeSegment(row.JobName),
		safeSegment(row.RunID),
	)
}

// Write uploads row as a single-row parquet object and returns its key.
func (w *Writer) Write(ctx context.Context, row Row, at time.Time) (string, error) {
	if !w.cfg.Enabled() {
		return "", fmt.Errorf("missing env ARCHIVE_BUCKET")
	}
	if row.EventTime == "" {
		row.EventTime = at.UTC().Format(time.RFC3339)
	}

	data, err := w.encode(row)
	if err != nil {
		return "", err
	}

	key := w.Key(row, at)
	_, err = w.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		ACL:         s3types.ObjectCannedACLPrivate,
	})
	if err != nil {
		return "", fmt.Errorf("s3 putobject %s: %w", key, err)
	}
	return key, nil
}

func (w *Writer) encode(row Row) ([]byte, error) {
	localPath := filepath.Join(w.tmpDir, "job_run_"+rand.Text()+".parquet")
	defer func() { _ = os.Remove(localPath) }()

	fw, err := local.NewLocalFileWriter(localPath)
	if err != nil {
		return nil, fmt.Errorf("parquet file writer: %w", err)
	}

	pw, err := writer.NewParquetWriter(fw, new(Row), 1)
	if err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("parquet writer: %w", err)
	}
	pw.PageSize = 8 * 1024
	pw.CompressionType = 0 // uncompressed

	if err := pw.Write(row); err != nil {
		_ = pw.WriteStop()
		_ = fw.Close()
		return nil, fmt.Errorf("parquet write row: %w", err)
	}
	if err := pw.WriteStop(); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("parquet write stop: %w", err)
	}
	if err := fw.Close(); err != nil {
		return nil, fmt.Errorf("parquet close: %w", err)
	}

	data, err := os.ReadFile(localPath)
	if err != nil {
		return nil, fmt.Errorf("read parquet tmp: %w", err)
	}
	return data, nil
}

func ensureTrailingSlash(s string) string {
	if s == "" || strings.HasSuffix(s, "/") {
		return s
	}
	return s + "/"
}

// safeSegment keeps a value usable as one S3 key path segment.
func safeSegment(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "/", "_")
	if s == "" {
		return "unknown"
	}
	return s
}
