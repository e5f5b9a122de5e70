package storage

import (
	"context"
	"fmt"

	"decksaves/internal/config"
	"decksaves/internal/core"
)

// New constructs the StorageProvider selected by cfg: LocalFS when
// cfg.UseLocalStorage is set, otherwise an S3-backed provider using the
// sealed credentials and bucket/region from cfg.
func New(ctx context.Context, cfg *config.Config, unsealer config.Unsealer) (core.StorageProvider, error) {
	if cfg.UseLocalStorage {
		if cfg.LocalBasePath == "" {
			return nil, fmt.Errorf("%w: local_base_path is required when use_local_storage is set", core.ErrConfigInvalid)
		}
		base, err := core.ExpandHome(cfg.LocalBasePath)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrConfigInvalid, err)
		}
		return NewLocalFS(base, cfg.EnableCompression)
	}

	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("%w: s3_bucket is required when use_local_storage is false", core.ErrConfigInvalid)
	}
	accessKeyID, err := cfg.AccessKeyID(unsealer)
	if err != nil {
		return nil, err
	}
	secretKey, err := cfg.SecretAccessKey(unsealer)
	if err != nil {
		return nil, err
	}
	return NewS3(ctx, S3Options{
		Bucket:          cfg.S3Bucket,
		Region:          cfg.S3Region,
		AccessKeyID:     accessKeyID,
		SecretAccessKey: secretKey,
		Compress:        cfg.EnableCompression,
	})
}
