// Package archive ships audit log exports to S3 for long-term retention.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"

	"github.com/pv-ae-server/internal/audit"
	"github.com/pv-ae-server/internal/domain"
)

// ObjectPutter is the subset of the S3 client the archiver needs
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archiver uploads audit exports to a bucket
type Archiver struct {
	client ObjectPutter
	bucket string
	prefix string
	logger *logrus.Logger
	now    func() time.Time
}

// Result describes an uploaded export
type Result struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	Bytes  int    `json:"bytes"`
}

// NewS3Archiver loads AWS configuration and creates an archiver. Static
// credentials are used when both keys are set, otherwise the default chain.
func NewS3Archiver(ctx context.Context, cfg domain.ArchiveConfig, logger *logrus.Logger) (*Archiver, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.S3Region)}
	if cfg.AWSAccessKey != "" && cfg.AWSSecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKey, cfg.AWSSecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})

	return NewArchiver(client, cfg.S3Bucket, cfg.S3Prefix, logger), nil
}

// NewArchiver creates an archiver over an existing client
func NewArchiver(client ObjectPutter, bucket, prefix string, logger *logrus.Logger) *Archiver {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if prefix == "" {
		prefix = "audit-exports"
	}
	return &Archiver{
		client: client,
		bucket: bucket,
		prefix: prefix,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ArchiveAudit exports records matching filter and uploads them as one
// JSON object keyed by export time.
func (a *Archiver) ArchiveAudit(ctx context.Context, store audit.Store, filter domain.AuditFilter) (*Result, error) {
	var buf bytes.Buffer
	if err := store.ExportJSON(ctx, filter, &buf); err != nil {
		return nil, fmt.Errorf("failed to export audit log: %w", err)
	}

	key := path.Join(a.prefix, fmt.Sprintf("audit-%s.json", a.now().Format("20060102T150405Z")))
	size := buf.Len()

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload to S3: %w", err)
	}

	a.logger.WithFields(logrus.Fields{
		"bucket": a.bucket,
		"key":    key,
		"bytes":  size,
	}).Info("Audit export archived")

	return &Result{Bucket: a.bucket, Key: key, Bytes: size}, nil
}
