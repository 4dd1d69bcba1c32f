package objectstore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"stitch/internal/config"
	"stitch/internal/services"
)

// Bucket folder layout for pipeline artifacts.
const (
	FolderCloth        = "datasets/cloth"
	FolderPerson       = "datasets/image"
	FolderSegmentation = "datasets/image-parse"
	FolderPoseImage    = "datasets/openpose-img"
	FolderPoseJSON     = "datasets/openpose-json"
	FolderClothMask    = "datasets/cloth-mask"
	FolderResults      = "results"
)

// ResultKey returns the bucket key for a job's final try-on image.
func ResultKey(jobID int64) string {
	return fmt.Sprintf("%s/try_on_result_%d.jpg", FolderResults, jobID)
}

// HTTPDoer abstracts the HTTP client for testability.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client uploads and downloads objects over virtual-hosted-style HTTP URLs.
type Client struct {
	Bucket string
	Host   string
	Scheme string
	HTTP   HTTPDoer
}

// NewClient builds a client from the object store configuration.
func NewClient(cfg *config.Config) *Client {
	timeout := time.Duration(cfg.ObjectStore.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		Bucket: cfg.ObjectStore.Bucket,
		Host:   cfg.ObjectStore.Host,
		Scheme: "https",
		HTTP:   &http.Client{Timeout: timeout},
	}
}

// URLFor returns the public URL for a key in the configured bucket.
func (c *Client) URLFor(key string) string {
	return fmt.Sprintf("%s://%s.%s/%s", c.Scheme, c.Bucket, c.Host, key)
}

// Put uploads a local file under the given key and returns the object URL.
func (c *Client) Put(ctx context.Context, localPath, key string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", services.Wrap(services.ErrUploadFailure, "", "put", localPath, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return "", services.Wrap(services.ErrUploadFailure, "", "put", localPath, err)
	}

	target := c.URLFor(key)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, file)
	if err != nil {
		return "", services.Wrap(services.ErrUploadFailure, "", "put", target, err)
	}
	req.ContentLength = info.Size()
	req.Header.Set("Content-Type", contentTypeForKey(key))

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", services.Wrap(services.ErrUploadFailure, "", "put", target, err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", services.Wrap(services.ErrUploadFailure, "", "put", fmt.Sprintf("%s returned %s", target, resp.Status), nil)
	}
	return target, nil
}

// Get fetches an object reference into memory. Missing objects map to
// ErrNotFound; everything else surfaces as ErrTransferFailure.
func (c *Client) Get(ctx context.Context, ref string) ([]byte, error) {
	body, target, err := c.open(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer drainAndClose(body)

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, services.Wrap(services.ErrTransferFailure, "", "get", target, err)
	}
	return data, nil
}

// Download fetches an object reference into a local file. Missing objects
// map to ErrNotFound; everything else surfaces as ErrTransferFailure.
func (c *Client) Download(ctx context.Context, ref, destPath string) error {
	body, target, err := c.open(ctx, ref)
	if err != nil {
		return err
	}
	defer drainAndClose(body)

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return services.Wrap(services.ErrTransferFailure, "", "download", destPath, err)
	}
	out, err := os.Create(destPath)
	if err != nil {
		return services.Wrap(services.ErrTransferFailure, "", "download", destPath, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, body); err != nil {
		_ = os.Remove(destPath)
		return services.Wrap(services.ErrTransferFailure, "", "download", target, err)
	}
	return nil
}

func (c *Client) open(ctx context.Context, ref string) (io.ReadCloser, string, error) {
	locator, err := ParseLocator(ref)
	if err != nil {
		return nil, ref, err
	}

	target := ref
	if locator.Bucket == c.Bucket {
		target = c.URLFor(locator.Key)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, target, services.Wrap(services.ErrTransferFailure, "", "download", target, err)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, target, services.Wrap(services.ErrTransferFailure, "", "download", target, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		drainAndClose(resp.Body)
		return nil, target, services.Wrap(services.ErrNotFound, "", "download", target, nil)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		drainAndClose(resp.Body)
		return nil, target, services.Wrap(services.ErrTransferFailure, "", "download", fmt.Sprintf("%s returned %s", target, resp.Status), nil)
	}
	return resp.Body, target, nil
}

func contentTypeForKey(key string) string {
	switch filepath.Ext(key) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 1<<20))
	_ = body.Close()
}
