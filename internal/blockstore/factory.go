package blockstore

import (
	"context"
	"fmt"

	"github.com/griddfs/griddfs/internal/config"
)

// NewFromConfig builds the configured block store backend.
func NewFromConfig(ctx context.Context, cfg *config.BlockNode) (Store, error) {
	switch cfg.StoreBackend {
	case "disk":
		return NewDiskStore(cfg.DataDir)
	case "s3":
		return NewS3Store(ctx, S3Config{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Region:    cfg.S3Region,
			UseSSL:    cfg.S3UseSSL,
		})
	default:
		return nil, fmt.Errorf("unknown block store backend %q", cfg.StoreBackend)
	}
}
