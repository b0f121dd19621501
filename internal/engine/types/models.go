package types

// Task represents a byte range to download
type Task struct {
	Offset int64 `json:"offset"`
	Length int64 `json:"length"`
}

// End returns the inclusive last byte of the range.
func (t Task) End() int64 {
	return t.Offset + t.Length - 1
}

// DownloadConfig contains all parameters needed to fetch one stream
type DownloadConfig struct {
	ID          string
	URL         string
	DestPath    string            // Final path; bytes land in DestPath+IncompleteSuffix first
	Headers     map[string]string // Per-variant request headers (cookies, referer, ...)
	Concurrency int               // Range count; <= 0 uses Runtime.GetRangeConcurrency
	State       *ProgressState
	Runtime     *RuntimeConfig
}

// GetConcurrency returns the effective range count for this download.
func (c *DownloadConfig) GetConcurrency() int {
	if c.Concurrency > 0 {
		return c.Concurrency
	}
	return c.Runtime.GetRangeConcurrency()
}
