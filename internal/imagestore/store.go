// Package imagestore keeps captured label images and hands back a reference
// that is saved on the scan record.
package imagestore

import (
	"context"
	"fmt"
	"path"
	"strings"
)

// Store saves a JPEG under key and returns its reference.
type Store interface {
	Put(ctx context.Context, key string, jpegData []byte) (string, error)
}

// Config selects a backend.
type Config struct {
	Backend string // "none", "disk" or "s3"

	Dir string // disk

	Bucket        string // s3
	Region        string
	PublicBaseURL string
}

// New builds the configured store. It returns nil, nil for the "none" backend.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", "none":
		return nil, nil
	case "disk":
		store, err := NewDiskStore(cfg.Dir)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "s3":
		store, err := NewS3Store(ctx, cfg.Bucket, cfg.Region, cfg.PublicBaseURL)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported image store backend: %s", cfg.Backend)
	}
}

// cleanKey rejects keys that would escape the store root.
func cleanKey(key string) (string, error) {
	k := path.Clean("/" + strings.TrimSpace(key))
	k = strings.TrimPrefix(k, "/")
	if k == "" || k == "." {
		return "", fmt.Errorf("invalid image key %q", key)
	}
	return k, nil
}
