package blockstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Config holds S3 block store settings.
type S3Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// S3Store keeps blocks as objects in a bucket. Useful for ephemeral
// storage nodes whose local disk does not outlive the process.
type S3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store builds an S3 client for the configured bucket.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint := resolveEndpoint(cfg.Endpoint, cfg.UseSSL); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = true // MinIO and friends
	})

	return &S3Store{client: client, bucket: cfg.Bucket}, nil
}

// resolveEndpoint applies the UseSSL switch to scheme-less endpoints
// (MinIO-style host:port configs). An endpoint that already carries a
// scheme wins over the switch.
func resolveEndpoint(endpoint string, useSSL bool) string {
	if endpoint == "" || strings.Contains(endpoint, "://") {
		return endpoint
	}
	if useSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}

// Put spools the content to a temp file while hashing (S3 wants a sized,
// seekable body), then uploads it.
func (s *S3Store) Put(ctx context.Context, blockID string, r io.Reader) (BlockStat, error) {
	tmp, err := os.CreateTemp("", ".griddfs-s3-*.tmp")
	if err != nil {
		return BlockStat{}, fmt.Errorf("create spool for %s: %w", blockID, err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, h), r)
	if err != nil {
		return BlockStat{}, fmt.Errorf("spool %s: %w", blockID, err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return BlockStat{}, fmt.Errorf("rewind spool for %s: %w", blockID, err)
	}

	key := SanitizeID(blockID)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          tmp,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return BlockStat{}, fmt.Errorf("put object %s: %w", key, err)
	}

	return BlockStat{
		BlockID:  key,
		Size:     size,
		Checksum: hex.EncodeToString(h.Sum(nil)),
	}, nil
}

// Get streams a block from the bucket.
func (s *S3Store) Get(ctx context.Context, blockID string) (io.ReadCloser, int64, error) {
	key := SanitizeID(blockID)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NoSuchKey
		if errors.As(err, &notFound) {
			return nil, 0, fmt.Errorf("block %s: %w", blockID, os.ErrNotExist)
		}
		return nil, 0, fmt.Errorf("get object %s: %w", key, err)
	}
	return out.Body, aws.ToInt64(out.ContentLength), nil
}

// Delete removes a block; S3 deletes are idempotent by nature.
func (s *S3Store) Delete(ctx context.Context, blockID string) error {
	key := SanitizeID(blockID)
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

// List enumerates the bucket.
func (s *S3Store) List(ctx context.Context) ([]BlockStat, error) {
	var blocks []BlockStat
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list objects: %w", err)
		}
		for _, obj := range page.Contents {
			blocks = append(blocks, BlockStat{
				BlockID: aws.ToString(obj.Key),
				Size:    aws.ToInt64(obj.Size),
			})
		}
	}
	return blocks, nil
}

// Type returns "s3".
func (s *S3Store) Type() string { return "s3" }

// Close is a no-op; the S3 client holds no persistent connections.
func (s *S3Store) Close() error { return nil }
