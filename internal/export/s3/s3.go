// Package s3 implements the AWS S3-compatible export backend. It supports AWS
// S3, MinIO, and other S3-compatible services via a configurable endpoint.
// With no static credentials configured it uses the AWS default credential
// chain (env vars, shared config, IAM role, IMDS), which is the right setup
// for scheduled runs on EC2 or in containers with task roles.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	appconfig "github.com/ajayirepos/EchelonID/internal/config"
	"github.com/ajayirepos/EchelonID/internal/export"
)

func init() {
	// Register S3 export backend
	export.Register("s3", func(cfg *appconfig.Config) (export.Exporter, error) {
		return New(&cfg.Export.S3)
	})
}

// S3Exporter delivers artifacts to an S3 bucket.
type S3Exporter struct {
	client *s3.Client
	bucket string
	prefix string
}

// New creates an S3 exporter from configuration.
func New(cfg *appconfig.S3ExportConfig) (*S3Exporter, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket name is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("s3 region is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			// Path-style addressing for MinIO and other emulators
			o.UsePathStyle = true
		}
	})

	return &S3Exporter{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Put uploads the artifact to the bucket under the configured prefix.
func (e *S3Exporter) Put(ctx context.Context, name string, data []byte) error {
	key := name
	if e.prefix != "" {
		key = strings.TrimSuffix(e.prefix, "/") + "/" + name
	}
	_, err := e.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(e.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return fmt.Errorf("export %s to s3://%s/%s: %w", name, e.bucket, key, err)
	}
	return nil
}
