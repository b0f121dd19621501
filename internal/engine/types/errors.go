package types

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DownloadError is returned by stream downloads: a range that exhausted its
// retries, a non-retryable HTTP status, or cancellation (wrapping context.Canceled).
type DownloadError struct {
	URL        string
	StatusCode int           // 0 when no HTTP status was involved
	Retryable  bool          // transient failure, worth another attempt
	RetryAfter time.Duration // server-requested wait, 0 if none
	Err        error
}

func (e *DownloadError) Error() string {
	switch {
	case e.Cancelled():
		return "download cancelled"
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("download failed: http %d: %v", e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("download failed: http %d", e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("download failed: %v", e.Err)
	}
	return "download failed"
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

// Cancelled reports whether the download stopped because its context ended.
func (e *DownloadError) Cancelled() bool {
	return errors.Is(e.Err, context.Canceled)
}

// StatusError classifies an unexpected HTTP status. 5xx and 429 are transient,
// every other status is fatal for the download.
func StatusError(url string, code int) *DownloadError {
	return &DownloadError{
		URL:        url,
		StatusCode: code,
		Retryable:  code == 429 || code >= 500,
		Err:        fmt.Errorf("unexpected status code: %d", code),
	}
}

// IsRetryable reports whether err is worth another attempt. Errors that are not
// DownloadErrors (connection resets, timeouts, short bodies) are transient unless
// they come from context cancellation.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var de *DownloadError
	if errors.As(err, &de) {
		return de.Retryable
	}
	return true
}

// WrapDownloadError turns any failure into a *DownloadError, keeping an existing one.
func WrapDownloadError(url string, err error) error {
	if err == nil {
		return nil
	}
	var de *DownloadError
	if errors.As(err, &de) {
		return err
	}
	return &DownloadError{URL: url, Retryable: IsRetryable(err), Err: err}
}
