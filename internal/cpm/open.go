package cpm

import (
	"fmt"

	"github.com/imrishuroy/go-checkout-orchestrator/internal/config"
)

// OpenBlobs returns the blob backend named by cfg.CPMBackend: "memory",
// "s3" or "postgres". The returned close func is never nil.
func OpenBlobs(cfg config.Config) (BlobStore, func() error, error) {
	noop := func() error { return nil }
	switch cfg.CPMBackend {
	case "", "memory":
		return NewMemoryBlobs(), noop, nil
	case "s3":
		b, err := NewS3Blobs(cfg.S3)
		if err != nil {
			return nil, noop, err
		}
		return b, noop, nil
	case "postgres":
		if cfg.CPMPostgresDSN == "" {
			return nil, noop, fmt.Errorf("cpm: CPM_PG_DSN is required for the postgres backend")
		}
		b, err := OpenPostgresBlobs(cfg.CPMPostgresDSN)
		if err != nil {
			return nil, noop, err
		}
		return b, b.Close, nil
	default:
		return nil, noop, fmt.Errorf("cpm: unknown backend %q", cfg.CPMBackend)
	}
}
