package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"

	"github.com/maxiofs/dasi/internal/config"
	"github.com/maxiofs/dasi/pkg/engine"
)

const s3Scheme = "s3://"

// S3Backend stores payloads as objects in an S3-compatible bucket
type S3Backend struct {
	client   *s3.Client
	bucket   string
	prefix   string
	endpoint string
	wipe     bool
	logger   *logrus.Logger
}

// NewS3Backend creates a backend for the configured bucket. Wipe is
// refused when any configured root disallows it.
func NewS3Backend(cfg config.S3Config, roots []config.RootConfig, logger *logrus.Logger) (*S3Backend, error) {
	if cfg.Bucket == "" {
		return nil, NewError("InvalidBucket", "An S3 bucket is required")
	}
	if logger == nil {
		logger = logrus.New()
	}

	awsCfg := aws.Config{
		Region: cfg.Region,
	}
	if cfg.AccessKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
	}
	if cfg.Endpoint != "" {
		// Custom endpoint resolver for S3-compatible servers
		endpoint := cfg.Endpoint
		awsCfg.EndpointResolverWithOptions = aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{
				URL:               endpoint,
				HostnameImmutable: true,
				SigningRegion:     region,
			}, nil
		})
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true // Use path-style URLs for compatibility
	})

	wipe := true
	for _, root := range roots {
		if !root.Wipeable() {
			wipe = false
		}
	}

	return &S3Backend{
		client:   client,
		bucket:   cfg.Bucket,
		prefix:   strings.Trim(cfg.Prefix, "/"),
		endpoint: cfg.Endpoint,
		wipe:     wipe,
		logger:   logger,
	}, nil
}

// Put uploads a payload
func (b *S3Backend) Put(ctx context.Context, path string, data []byte) (engine.Location, error) {
	if path == "" || strings.Contains(path, "..") || strings.HasPrefix(path, "/") {
		return engine.Location{}, ErrInvalidPath
	}
	key := b.objectKey(path)

	b.logger.WithFields(logrus.Fields{
		"endpoint": b.endpoint,
		"bucket":   b.bucket,
		"key":      key,
		"size":     len(data),
	}).Debug("Uploading payload to S3")

	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/octet-stream"),
	})
	if err != nil {
		return engine.Location{}, NewErrorWithCause("PutObject", "Failed to upload payload", err)
	}

	return engine.Location{URI: b.uri(key), Offset: 0, Length: int64(len(data))}, nil
}

// Open issues a ranged GET for the requested bytes
func (b *S3Backend) Open(ctx context.Context, loc engine.Location, offset int64) (io.ReadCloser, error) {
	key, err := b.keyOf(loc.URI)
	if err != nil {
		return nil, err
	}
	if offset < 0 || offset > loc.Length {
		return nil, NewError("InvalidRange", "Offset outside the stored payload")
	}
	if offset == loc.Length {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}

	start := loc.Offset + offset
	end := loc.Offset + loc.Length - 1
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", start, end)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, ErrObjectNotFound
		}
		return nil, NewErrorWithCause("GetObject", "Failed to download payload", err)
	}
	return readCloser{Reader: io.LimitReader(out.Body, end-start+1), Closer: out.Body}, nil
}

// Delete removes a payload object
func (b *S3Backend) Delete(ctx context.Context, uri string) error {
	key, err := b.keyOf(uri)
	if err != nil {
		return err
	}
	if !b.wipe {
		return ErrNotWipeable
	}

	// DeleteObject succeeds on missing keys
	exists, err := b.Exists(ctx, uri)
	if err != nil {
		return err
	}
	if !exists {
		return ErrObjectNotFound
	}

	b.logger.WithFields(logrus.Fields{
		"bucket": b.bucket,
		"key":    key,
	}).Debug("Deleting payload from S3")

	if _, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return NewErrorWithCause("DeleteObject", "Failed to delete payload", err)
	}
	return nil
}

// Exists checks for a payload with HEAD
func (b *S3Backend) Exists(ctx context.Context, uri string) (bool, error) {
	key, err := b.keyOf(uri)
	if err != nil {
		return false, err
	}
	_, err = b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return false, nil
		}
		return false, NewErrorWithCause("HeadObject", "Failed to check payload", err)
	}
	return true, nil
}

// Wipeable reports whether deletes are allowed on this bucket
func (b *S3Backend) Wipeable(uri string) bool {
	_, err := b.keyOf(uri)
	return err == nil && b.wipe
}

// Sync is a no-op; a successful PUT is already durable.
func (b *S3Backend) Sync(ctx context.Context) error { return nil }

// Close releases nothing; the SDK client holds no open resources.
func (b *S3Backend) Close() error { return nil }

func (b *S3Backend) objectKey(path string) string {
	if b.prefix == "" {
		return path
	}
	return b.prefix + "/" + path
}

func (b *S3Backend) uri(key string) string {
	return s3Scheme + b.bucket + "/" + key
}

func (b *S3Backend) keyOf(uri string) (string, error) {
	rest, ok := strings.CutPrefix(uri, s3Scheme+b.bucket+"/")
	if !ok || rest == "" {
		return "", ErrInvalidURI
	}
	return rest, nil
}

func isS3NotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}

var _ Backend = (*S3Backend)(nil)
