// Package s3blob is the trade archive's cold-storage layer: closed trades
// past the retention window are written as JSONL batches to an S3 bucket and
// deleted from PostgreSQL. Any S3-compatible provider works through the
// Endpoint field (MinIO, Cloudflare R2, iDrive e2).
package s3blob

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ClientConfig holds the connection settings for the archive bucket.
type ClientConfig struct {
	// Endpoint overrides the AWS endpoint for S3-compatible providers.
	// Empty means standard AWS S3.
	Endpoint string

	// Region is the bucket region, or the provider's equivalent.
	Region string

	// Bucket receives the archive batches.
	Bucket string

	AccessKey string
	SecretKey string

	// UseSSL picks the scheme when Endpoint is given without one.
	UseSSL bool

	// ForcePathStyle puts the bucket in the URL path rather than the
	// subdomain. Most non-AWS providers need it.
	ForcePathStyle bool
}

// Client wraps the AWS SDK client with the archive bucket baked in. The
// archiver's writer and reader are the only consumers.
type Client struct {
	s3     *s3.Client
	bucket string
}

// New creates the archive storage client. Static credentials only: the
// archive runs headless and has no instance role to fall back on.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	var errs []error
	if cfg.Bucket == "" {
		errs = append(errs, errors.New("bucket name is required"))
	}
	if cfg.Region == "" {
		errs = append(errs, errors.New("region is required"))
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("s3blob: %w", errors.Join(errs...))
	}

	creds := credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(creds),
	)
	if err != nil {
		return nil, fmt.Errorf("s3blob: load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := ensureScheme(cfg.Endpoint, cfg.UseSSL)
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}
	if cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return &Client{
		s3:     s3.NewFromConfig(awsCfg, s3Opts...),
		bucket: cfg.Bucket,
	}, nil
}

// Health verifies the bucket is reachable with the configured credentials.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.s3.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(c.bucket),
	})
	if err != nil {
		return fmt.Errorf("s3blob: head bucket %s: %w", c.bucket, err)
	}
	return nil
}

// Close is a no-op kept for the closer chain; the SDK's HTTP client needs no
// teardown.
func (c *Client) Close() error {
	return nil
}

// S3 returns the underlying SDK client for the writer and reader.
func (c *Client) S3() *s3.Client {
	return c.s3
}

// Bucket returns the archive bucket name.
func (c *Client) Bucket() string {
	return c.bucket
}

// ensureScheme prepends https:// or http:// when the endpoint has no scheme.
func ensureScheme(endpoint string, useSSL bool) string {
	parsed, err := url.Parse(endpoint)
	if err == nil && parsed.Scheme != "" {
		return endpoint
	}
	scheme := "http"
	if useSSL {
		scheme = "https"
	}
	return scheme + "://" + endpoint
}
