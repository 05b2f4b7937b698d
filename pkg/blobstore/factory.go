package blobstore

import (
	"context"
	"fmt"

	"github.com/ledgerline/ledgerline/pkg/config"
)

// New builds the configured driver. The memory driver exists for local
// development; production deployments use s3.
func New(ctx context.Context, cfg *config.BlobConfig) (Store, error) {
	switch cfg.Driver {
	case "s3", "":
		return NewS3Store(ctx, cfg)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %q", cfg.Driver)
	}
}
