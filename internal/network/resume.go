package network

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tracksync/tracksync-go/internal/errors"
)

// DownloadConfig describes a file download
type DownloadConfig struct {
	URL        string
	OutputPath string
	Timeout    time.Duration
	Backoff    errors.Backoff
	Client     *http.Client
	Logger     *zap.Logger
}

// DownloadFile fetches URL into OutputPath. Data is written to a ".part"
// file first; when an attempt fails mid-body the next attempt resumes from
// the partial size with a Range request if the server honours it.
func DownloadFile(ctx context.Context, cfg DownloadConfig) error {
	if cfg.Client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Minute
		}
		cfg.Client = GetDownloadClient(timeout)
	}
	if cfg.Backoff.Attempts == 0 {
		cfg.Backoff = errors.DefaultBackoff()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	if err := os.MkdirAll(filepath.Dir(cfg.OutputPath), 0755); err != nil {
		return errors.NewFileSystemError("failed to create output directory", err)
	}

	partialPath := cfg.OutputPath + ".part"
	os.Remove(partialPath)

	err := cfg.Backoff.Retry(ctx, func(attempt int) error {
		if attempt > 0 {
			cfg.Logger.Debug("Retrying archive download",
				zap.String("url", cfg.URL),
				zap.Int("attempt", attempt+1))
		}
		err := downloadOnce(ctx, cfg.Client, cfg.URL, partialPath)
		if err != nil && errors.IsNetworkError(err) {
			cfg.Logger.Warn("Archive download attempt failed",
				zap.String("url", cfg.URL),
				zap.Int("status", errors.StatusCode(err)),
				zap.Error(err))
		}
		return err
	})
	if err != nil {
		os.Remove(partialPath)
		return err
	}

	if err := os.Rename(partialPath, cfg.OutputPath); err != nil {
		os.Remove(partialPath)
		return errors.NewFileSystemError("failed to move download to final location", err)
	}
	return nil
}

// downloadOnce performs one attempt, appending to partialPath
func downloadOnce(ctx context.Context, client *http.Client, url, partialPath string) error {
	var startByte int64
	if info, err := os.Stat(partialPath); err == nil {
		startByte = info.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.NewValidationError(fmt.Sprintf("invalid download URL: %v", err))
	}
	req.Header.Set("User-Agent", UserAgent)
	if startByte > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", startByte))
	}

	resp, err := client.Do(req)
	if err != nil {
		return errors.NewNetworkError("download request failed", err)
	}
	defer resp.Body.Close()

	flags := os.O_CREATE | os.O_WRONLY
	switch {
	case startByte > 0 && resp.StatusCode == http.StatusPartialContent:
		flags |= os.O_APPEND
	case resp.StatusCode == http.StatusOK:
		// Server ignored the range or this is a fresh start
		flags |= os.O_TRUNC
	default:
		return errors.NewHTTPStatusError(resp.StatusCode, ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()))
	}

	out, err := os.OpenFile(partialPath, flags, 0644)
	if err != nil {
		return errors.NewFileSystemError("failed to open partial file", err)
	}
	defer out.Close()

	bufferedWriter := bufio.NewWriterSize(out, 256*1024)
	written, err := io.Copy(bufferedWriter, resp.Body)
	if flushErr := bufferedWriter.Flush(); err == nil {
		err = flushErr
	}
	if err != nil {
		// Partial data stays on disk for the next attempt
		return errors.NewNetworkError("error reading response", err)
	}

	if resp.ContentLength > 0 && written < resp.ContentLength {
		return errors.NewNetworkError("download incomplete", nil)
	}
	return nil
}

// ParseRetryAfter reads a Retry-After header, given either as seconds or as
// an HTTP date. It returns zero when the header is absent, malformed or in
// the past.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	when, err := http.ParseTime(value)
	if err != nil {
		return 0
	}
	if d := when.Sub(now); d > 0 {
		return d
	}
	return 0
}
