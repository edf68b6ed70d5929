// Package fetch downloads remote images into temporary files.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

// Config holds downloader configuration.
type Config struct {
	Timeout        time.Duration
	MaxBytes       int64
	UserAgent      string
	TempDir        string
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 50 * 1024 * 1024
	}
	if c.UserAgent == "" {
		c.UserAgent = "PostImageDownloader/1.0"
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status: %d", e.StatusCode)
}

var ErrTooLarge = errors.New("response body exceeds size limit")

type Downloader struct {
	httpClient     *http.Client
	maxBytes       int64
	userAgent      string
	tempDir        string
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	logger         *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Downloader {
	cfg.defaults()
	return &Downloader{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		maxBytes:       cfg.MaxBytes,
		userAgent:      cfg.UserAgent,
		tempDir:        cfg.TempDir,
		maxAttempts:    cfg.MaxAttempts,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		logger:         logger.With("component", "fetch"),
	}
}

// Download fetches url into a new temporary file and returns its path.
// The caller owns the file and must remove it.
func (d *Downloader) Download(ctx context.Context, url string) (string, error) {
	var err error

	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		var path string
		path, err = d.doRequest(ctx, url)
		if err == nil {
			return path, nil
		}

		if attempt == d.maxAttempts || !retryable(err) {
			break
		}

		backoff := d.calculateBackoff(attempt)
		d.logger.Warn("download failed, retrying",
			"url", url,
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff):
		}
	}

	if d.maxAttempts > 1 {
		return "", fmt.Errorf("after %d attempts: %w", d.maxAttempts, err)
	}
	return "", err
}

func (d *Downloader) doRequest(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &StatusError{StatusCode: resp.StatusCode}
	}

	f, err := os.CreateTemp(d.tempDir, "imagedownloader-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	n, err := io.Copy(f, io.LimitReader(resp.Body, d.maxBytes+1))
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil && n > d.maxBytes {
		err = ErrTooLarge
	}
	if err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("read body: %w", err)
	}

	d.logger.Debug("downloaded", "url", url, "bytes", n)
	return f.Name(), nil
}

func (d *Downloader) calculateBackoff(attempt int) time.Duration {
	backoff := d.initialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
	}
	if backoff > d.maxBackoff {
		backoff = d.maxBackoff
	}
	return backoff
}

// retryable reports whether a later attempt could succeed. Client errors
// (4xx) and oversized bodies are final.
func retryable(err error) bool {
	if errors.Is(err, ErrTooLarge) || errors.Is(err, context.Canceled) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 500 || statusErr.StatusCode == http.StatusTooManyRequests
	}
	return true
}

// ImageType sniffs the file's content and returns its image MIME type and
// extension with the leading dot, e.g. "image/png" and ".png". Both are
// empty when the file is not an image.
func ImageType(path string) (mime, ext string) {
	mtype, err := mimetype.DetectFile(path)
	if err != nil || !strings.HasPrefix(mtype.String(), "image/") {
		return "", ""
	}
	return mtype.String(), mtype.Extension()
}
