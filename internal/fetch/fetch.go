// Package fetch downloads job input images with bounded retries and
// validates that each download decodes as an image before the pipeline
// touches it.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"stitch/internal/config"
	"stitch/internal/fileutil"
	"stitch/internal/logging"
	"stitch/internal/services"
)

// ObjectDownloader fetches one object reference to a local file. It resolves
// every accepted locator form, so callers can pass input references verbatim.
type ObjectDownloader interface {
	Download(ctx context.Context, ref, destPath string) error
}

// Fetcher retrieves remote images onto the local filesystem.
type Fetcher struct {
	objects     ObjectDownloader
	maxAttempts int
	retryDelay  time.Duration
	logger      *slog.Logger
}

// New builds a fetcher over the given object store client.
func New(cfg *config.Config, objects ObjectDownloader, logger *slog.Logger) *Fetcher {
	attempts := cfg.Fetch.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	return &Fetcher{
		objects:     objects,
		maxAttempts: attempts,
		retryDelay:  time.Duration(cfg.Fetch.RetryDelay) * time.Second,
		logger:      logging.NewComponentLogger(logger, "fetch"),
	}
}

// Download retrieves an input reference into destPath. Transfer errors and
// zero-length objects are retried up to the attempt budget; a malformed
// locator or a download that does not decode as an image fails immediately.
func (f *Fetcher) Download(ctx context.Context, ref, destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return services.Wrap(services.ErrTransferFailure, "", "fetch", destPath, err)
	}

	var lastErr error
	for attempt := 1; attempt <= f.maxAttempts; attempt++ {
		if attempt > 1 {
			if err := sleepContext(ctx, f.retryDelay); err != nil {
				return err
			}
		}

		err := f.downloadOnce(ctx, ref, destPath)
		if err == nil {
			if verr := ValidateImage(destPath); verr != nil {
				_ = os.Remove(destPath)
				return verr
			}
			return nil
		}
		if errors.Is(err, services.ErrInvalidLocator) {
			return err
		}
		lastErr = err
		f.logger.WarnContext(ctx, "download attempt failed",
			logging.String("ref", ref),
			logging.Int("attempt", attempt),
			logging.Int("max_attempts", f.maxAttempts),
			logging.Error(err))
	}
	return services.Wrap(services.ErrTransferFailure, "", "fetch",
		fmt.Sprintf("%s after %d attempts", ref, f.maxAttempts), lastErr)
}

func (f *Fetcher) downloadOnce(ctx context.Context, ref, destPath string) error {
	if err := f.objects.Download(ctx, ref, destPath); err != nil {
		return err
	}
	if !fileutil.NonEmptyFile(destPath) {
		_ = os.Remove(destPath)
		return errors.New("empty object body")
	}
	return nil
}

// ValidateImage confirms the file decodes as a known image format.
func ValidateImage(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return services.Wrap(services.ErrInvalidInput, "", "validate", path, err)
	}
	defer file.Close()

	if _, format, err := image.DecodeConfig(file); err != nil {
		return services.Wrap(services.ErrInvalidInput, "", "validate",
			fmt.Sprintf("%s is not a decodable image", filepath.Base(path)), err)
	} else if format == "" {
		return services.Wrap(services.ErrInvalidInput, "", "validate", path, nil)
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
