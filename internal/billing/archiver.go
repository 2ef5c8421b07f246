package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"mission-dispatch/internal/config"
	"mission-dispatch/internal/models"
)

type uploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// Archiver writes finalized billing snapshots to durable object storage
// for the downstream settlement system. S3 when a bucket is configured,
// a local directory otherwise (dev).
type Archiver struct {
	prefix   string
	uploader uploader
}

// NewArchiver picks the destination from config.
func NewArchiver(ctx context.Context, cfg config.Config) (*Archiver, error) {
	a := &Archiver{prefix: cfg.BillingPrefix}

	if cfg.BillingBucket != "" {
		client, err := newS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		a.uploader = &s3Uploader{client: client, bucket: cfg.BillingBucket}
		return a, nil
	}

	dir := cfg.BillingLocalDir
	if dir == "" {
		dir = "./billing"
	}
	a.uploader = &localUploader{baseDir: dir}
	return a, nil
}

// Archive stores one snapshot as JSON keyed by mission id.
func (a *Archiver) Archive(ctx context.Context, snapshot models.BillingSnapshot) error {
	body, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal billing snapshot: %w", err)
	}
	key := sanitizeKey(a.prefix + snapshot.MissionID + ".json")
	if _, err := a.uploader.Upload(ctx, key, body, "application/json"); err != nil {
		return fmt.Errorf("archive billing snapshot %s: %w", snapshot.MissionID, err)
	}
	return nil
}

func newS3Client(ctx context.Context, cfg config.Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.BillingRegion),
	}
	if cfg.BillingEndpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:               cfg.BillingEndpoint,
					HostnameImmutable: cfg.BillingPathStyle,
					SigningRegion:     cfg.BillingRegion,
					Source:            aws.EndpointSourceCustom,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.BillingPathStyle
	}), nil
}

func sanitizeKey(key string) string {
	key = filepath.Clean(key)
	key = strings.TrimPrefix(key, string(filepath.Separator))
	key = strings.TrimPrefix(key, "./")
	return key
}

type localUploader struct {
	baseDir string
}

func (l *localUploader) Upload(_ context.Context, key string, body []byte, _ string) (string, error) {
	path := filepath.Join(l.baseDir, key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create dirs: %w", err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return path, nil
}

type s3Uploader struct {
	client *s3.Client
	bucket string
}

func (s *s3Uploader) Upload(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}
