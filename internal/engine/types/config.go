package types

import (
	"time"
)

// Size constants
const (
	KB = 1024
	MB = 1024 * KB
	GB = 1024 * MB

	// IncompleteSuffix is appended to files while downloading
	IncompleteSuffix = ".vfpart"
)

const (
	AlignSize    = 4 * KB // Align range boundaries to 4KB for the filesystem
	WorkerBuffer = 256 * KB
)

// Connection limits
const (
	DefaultRangeConcurrency     = 4
	DefaultMaxGlobalConnections = 32
	PerHostMax                  = 64
)

// HTTP Client Tuning
const (
	DefaultMaxIdleConns          = 100
	DefaultIdleConnTimeout       = 90 * time.Second
	DefaultTLSHandshakeTimeout   = 10 * time.Second
	DefaultResponseHeaderTimeout = 15 * time.Second
	DefaultExpectContinueTimeout = 1 * time.Second
	DialTimeout                  = 10 * time.Second
	KeepAliveDuration            = 30 * time.Second
	ProbeTimeout                 = 30 * time.Second
)

// Channel buffer sizes
const (
	ProgressChannelBuffer = 100
)

const (
	MaxTaskRetries = 3
	RetryBaseDelay = 200 * time.Millisecond
	RetryMaxDelay  = 5 * time.Second

	// Metadata calls are cheap but a stuck endpoint must not block the queue.
	MaxResolveAttempts = 2

	ProgressInterval  = 250 * time.Millisecond
	DurationTolerance = 2 * time.Second
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// RuntimeConfig holds dynamic settings that can override defaults.
// A nil *RuntimeConfig is valid and yields the defaults.
type RuntimeConfig struct {
	RangeConcurrency     int
	MaxGlobalConnections int
	MaxConcurrentJobs    int
	UserAgent            string
	ProxyURL             string
	WorkerBufferSize     int

	MaxTaskRetries     int
	RetryBaseDelay     time.Duration
	RetryMaxDelay      time.Duration
	MaxResolveAttempts int

	ProgressInterval  time.Duration
	DurationTolerance time.Duration
	AudioLanguage     string
}

// GetUserAgent returns the configured user agent or the default
func (r *RuntimeConfig) GetUserAgent() string {
	if r == nil || r.UserAgent == "" {
		return defaultUserAgent
	}
	return r.UserAgent
}

// GetProxyURL returns the configured proxy, empty for the environment default
func (r *RuntimeConfig) GetProxyURL() string {
	if r == nil {
		return ""
	}
	return r.ProxyURL
}

// GetRangeConcurrency returns configured value or default
func (r *RuntimeConfig) GetRangeConcurrency() int {
	if r == nil || r.RangeConcurrency <= 0 {
		return DefaultRangeConcurrency
	}
	if r.RangeConcurrency > PerHostMax {
		return PerHostMax
	}
	return r.RangeConcurrency
}

// GetMaxGlobalConnections returns configured value or default
func (r *RuntimeConfig) GetMaxGlobalConnections() int {
	if r == nil || r.MaxGlobalConnections <= 0 {
		return DefaultMaxGlobalConnections
	}
	return r.MaxGlobalConnections
}

// GetMaxConcurrentJobs returns configured value or default
func (r *RuntimeConfig) GetMaxConcurrentJobs() int {
	if r == nil || r.MaxConcurrentJobs <= 0 {
		return 3
	}
	return r.MaxConcurrentJobs
}

// GetWorkerBufferSize returns configured value or default
func (r *RuntimeConfig) GetWorkerBufferSize() int {
	if r == nil || r.WorkerBufferSize <= 0 {
		return WorkerBuffer
	}
	return r.WorkerBufferSize
}

// GetMaxTaskRetries returns the number of attempts a single range gets.
func (r *RuntimeConfig) GetMaxTaskRetries() int {
	if r == nil || r.MaxTaskRetries <= 0 {
		return MaxTaskRetries
	}
	return r.MaxTaskRetries
}

// GetRetryBaseDelay returns configured value or default
func (r *RuntimeConfig) GetRetryBaseDelay() time.Duration {
	if r == nil || r.RetryBaseDelay <= 0 {
		return RetryBaseDelay
	}
	return r.RetryBaseDelay
}

// GetRetryMaxDelay returns configured value or default
func (r *RuntimeConfig) GetRetryMaxDelay() time.Duration {
	if r == nil || r.RetryMaxDelay <= 0 {
		return RetryMaxDelay
	}
	return r.RetryMaxDelay
}

// GetMaxResolveAttempts returns the resolver attempt budget, never more than MaxResolveAttempts.
func (r *RuntimeConfig) GetMaxResolveAttempts() int {
	if r == nil || r.MaxResolveAttempts <= 0 || r.MaxResolveAttempts > MaxResolveAttempts {
		return MaxResolveAttempts
	}
	return r.MaxResolveAttempts
}

// GetProgressInterval returns configured value or default
func (r *RuntimeConfig) GetProgressInterval() time.Duration {
	if r == nil || r.ProgressInterval <= 0 {
		return ProgressInterval
	}
	return r.ProgressInterval
}

// GetDurationTolerance returns configured value or default
func (r *RuntimeConfig) GetDurationTolerance() time.Duration {
	if r == nil || r.DurationTolerance <= 0 {
		return DurationTolerance
	}
	return r.DurationTolerance
}

// GetAudioLanguage returns the preferred audio language, "en" by default
func (r *RuntimeConfig) GetAudioLanguage() string {
	if r == nil || r.AudioLanguage == "" {
		return "en"
	}
	return r.AudioLanguage
}

// RetryDelay returns the wait before the given attempt (1-based retry number).
// The delay doubles per attempt starting from the base delay and never exceeds the cap.
func (r *RuntimeConfig) RetryDelay(attempt int) time.Duration {
	base := r.GetRetryBaseDelay()
	maxDelay := r.GetRetryMaxDelay()
	if attempt <= 0 {
		return 0
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

// StreamConcurrency caps per-stream range concurrency so that
// jobs x streams x ranges stays under the global connection budget.
func (r *RuntimeConfig) StreamConcurrency() int {
	perStream := r.GetMaxGlobalConnections() / (r.GetMaxConcurrentJobs() * 2)
	if perStream < 1 {
		perStream = 1
	}
	return min(r.GetRangeConcurrency(), perStream)
}
