// Package s3driver implements storagepool.Driver over S3 (or an
// S3-compatible endpoint), grounded on the aws-sdk-go-v2 config/client
// wiring used by the retrieval pack's Lode S3 backend.
package s3driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const scheme = "s3"

// Config holds the S3 backend's connection details.
type Config struct {
	Bucket string
	Prefix string
	// Region is the AWS region; empty uses the default credential/region
	// chain.
	Region string
	// Endpoint overrides the default AWS endpoint, for S3-compatible
	// providers (MinIO, R2, etc).
	Endpoint string
	// UsePathStyle forces bucket-in-path addressing, required by most
	// S3-compatible providers.
	UsePathStyle bool
}

func (c Config) validate() error {
	if c.Bucket == "" {
		return errors.New("s3driver: bucket is required")
	}
	return nil
}

// Driver addresses objects under one S3 bucket/prefix.
type Driver struct {
	client *s3.Client
	bucket string
	prefix string
}

// New loads the default AWS credential chain and constructs a Driver.
func New(ctx context.Context, cfg Config) (*Driver, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	var loadOpts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("s3driver: loading AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) { o.BaseEndpoint = &endpoint })
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.UsePathStyle = true })
	}

	return &Driver{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

func (d *Driver) Scheme() string { return scheme }

func (d *Driver) keyFor(uri string) (string, error) {
	name, err := stripScheme(uri)
	if err != nil {
		return "", err
	}
	if d.prefix == "" {
		return name, nil
	}
	return d.prefix + "/" + name, nil
}

func stripScheme(uri string) (string, error) {
	prefix := scheme + "://pool/"
	if !strings.HasPrefix(uri, prefix) {
		return "", fmt.Errorf("s3driver: uri %q missing %q prefix", uri, prefix)
	}
	return strings.TrimPrefix(uri, prefix), nil
}

func (d *Driver) Save(ctx context.Context, uri string, r io.Reader) error {
	key, err := d.keyFor(uri)
	if err != nil {
		return err
	}
	_, err = d.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
		Body:   r,
	})
	if err != nil {
		return fmt.Errorf("s3driver: putting %s: %w", key, err)
	}
	return nil
}

func (d *Driver) Load(ctx context.Context, uri string) (io.ReadCloser, error) {
	key, err := d.keyFor(uri)
	if err != nil {
		return nil, err
	}
	out, err := d.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("s3driver: getting %s: %w", key, err)
	}
	return out.Body, nil
}

func (d *Driver) Delete(ctx context.Context, uri string) error {
	key, err := d.keyFor(uri)
	if err != nil {
		return err
	}
	_, err = d.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("s3driver: deleting %s: %w", key, err)
	}
	return nil
}

func (d *Driver) Exists(ctx context.Context, uri string) (bool, error) {
	key, err := d.keyFor(uri)
	if err != nil {
		return false, err
	}
	_, err = d.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *s3.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("s3driver: heading %s: %w", key, err)
	}
	return true, nil
}
