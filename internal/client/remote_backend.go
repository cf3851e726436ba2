package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/openmined/drivesync/internal/client/config"
	"github.com/openmined/drivesync/internal/remote"
	"github.com/openmined/drivesync/internal/remote/drive"
	"github.com/openmined/drivesync/internal/remote/s3store"
)

// NewService builds the configured backend wrapped in the retry decorator.
// The returned closer is nil when the backend holds no resources.
func NewService(ctx context.Context, cfg *config.Config, log *slog.Logger) (remote.Service, io.Closer, error) {
	if log == nil {
		log = slog.Default()
	}

	var (
		svc    remote.Service
		closer io.Closer
	)

	rc := cfg.Remote
	switch rc.Backend {
	case config.BackendDrive:
		oauthCfg, err := drive.LoadOAuthConfig(rc.Drive.CredentialsFile)
		if err != nil {
			return nil, nil, err
		}
		tokens, err := drive.TokenSource(ctx, oauthCfg, rc.Drive.TokenFile)
		if err != nil {
			return nil, nil, fmt.Errorf("drive token (run login first): %w", err)
		}
		opts := []drive.Option{drive.WithLogger(log)}
		if rc.Drive.APIURL != "" {
			opts = append(opts, drive.WithAPIURL(rc.Drive.APIURL))
		}
		if rc.Drive.UploadURL != "" {
			opts = append(opts, drive.WithUploadURL(rc.Drive.UploadURL))
		}
		svc = drive.New(tokens, opts...)

	case config.BackendS3:
		store, err := s3store.New(ctx, &s3store.Config{
			Bucket:    rc.S3.Bucket,
			Region:    rc.S3.Region,
			AccessKey: rc.S3.AccessKey,
			SecretKey: rc.S3.SecretKey,
			Endpoint:  rc.S3.Endpoint,
			Prefix:    rc.S3.Prefix,
			IndexPath: cfg.S3IndexPath(),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("s3 backend: %w", err)
		}
		svc, closer = store, store

	case config.BackendMemory:
		log.Warn("memory backend selected, nothing leaves this process")
		svc = remote.NewMemoryService()

	default:
		return nil, nil, fmt.Errorf("%w: %q", config.ErrInvalidBackend, rc.Backend)
	}

	log.Info("remote backend", "backend", rc.Backend, "max_attempts", rc.Retry.MaxAttempts)
	return remote.WithRetry(svc, remote.RetryPolicy{
		MaxAttempts: rc.Retry.MaxAttempts,
		BaseDelay:   rc.Retry.BaseDelay,
		MaxDelay:    rc.Retry.MaxDelay,
	}, log), closer, nil
}
