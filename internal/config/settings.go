package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/vidfetch/vidfetch/internal/engine/types"
)

// EnvPrefix prefixes every environment override, e.g. VIDFETCH_OUTPUT_DIR.
const EnvPrefix = "VIDFETCH"

// Settings holds all user-configurable application settings organized by category.
type Settings struct {
	General     GeneralSettings     `json:"general"`
	Connections ConnectionSettings  `json:"connections"`
	Performance PerformanceSettings `json:"performance"`
	Media       MediaSettings       `json:"media"`
	History     HistorySettings     `json:"history"`
}

// GeneralSettings contains application behavior settings.
type GeneralSettings struct {
	OutputDir         string `json:"output_dir"`
	TempDir           string `json:"temp_dir"`
	ClipboardMonitor  bool   `json:"clipboard_monitor"`
	Theme             int    `json:"theme"`
	LogRetentionCount int    `json:"log_retention_count"`
}

const (
	ThemeAdaptive = 0
	ThemeLight    = 1
	ThemeDark     = 2
)

// ConnectionSettings contains network connection parameters.
type ConnectionSettings struct {
	RangeConcurrency     int    `json:"range_concurrency"`
	MaxGlobalConnections int    `json:"max_global_connections"`
	MaxConcurrentJobs    int    `json:"max_concurrent_jobs"`
	UserAgent            string `json:"user_agent"`
	ProxyURL             string `json:"proxy_url"`
}

// PerformanceSettings contains retry and buffering parameters.
type PerformanceSettings struct {
	WorkerBufferSize   int           `json:"worker_buffer_size"`
	MaxTaskRetries     int           `json:"max_task_retries"`
	RetryBaseDelay     time.Duration `json:"retry_base_delay"`
	RetryMaxDelay      time.Duration `json:"retry_max_delay"`
	MaxResolveAttempts int           `json:"max_resolve_attempts"`
	ProgressInterval   time.Duration `json:"progress_interval"`
}

// MediaSettings controls resolution, selection defaults and the external tools.
type MediaSettings struct {
	Resolver          string        `json:"resolver"` // "youtube" or "ytdlp"
	YTDLPPath         string        `json:"ytdlp_path"`
	FFmpegPath        string        `json:"ffmpeg_path"`
	FFprobePath       string        `json:"ffprobe_path"`
	DefaultFormat     string        `json:"default_format"`
	DefaultQuality    string        `json:"default_quality"`
	AudioLanguage     string        `json:"audio_language"`
	DurationTolerance time.Duration `json:"duration_tolerance"`
}

// HistorySettings controls where finished jobs are recorded.
type HistorySettings struct {
	Enabled   bool          `json:"enabled"`
	RedisAddr string        `json:"redis_addr"` // mirror snapshots to redis when set
	RedisTTL  time.Duration `json:"redis_ttl"`
}

// Resolver backends.
const (
	ResolverYouTube = "youtube"
	ResolverYTDLP   = "ytdlp"
)

// SettingMeta provides metadata for a single setting (for UI rendering).
type SettingMeta struct {
	Key         string // JSON key name
	Label       string // Human-readable label
	Description string // Help text
	Type        string // "string", "int", "bool", "duration"
}

// GetSettingsMetadata returns metadata for all settings organized by category.
func GetSettingsMetadata() map[string][]SettingMeta {
	return map[string][]SettingMeta{
		"General": {
			{Key: "output_dir", Label: "Output Dir", Description: "Directory finished files are written to.", Type: "string"},
			{Key: "temp_dir", Label: "Temp Dir", Description: "Directory for in-progress streams. Leave empty for the system temp dir.", Type: "string"},
			{Key: "clipboard_monitor", Label: "Clipboard Monitor", Description: "Watch the clipboard for video URLs in the dashboard.", Type: "bool"},
			{Key: "theme", Label: "App Theme", Description: "UI Theme (System, Light, Dark).", Type: "int"},
			{Key: "log_retention_count", Label: "Log Retention Count", Description: "Number of recent log files to keep.", Type: "int"},
		},
		"Network": {
			{Key: "range_concurrency", Label: "Range Concurrency", Description: "Parallel byte ranges per stream (1-64).", Type: "int"},
			{Key: "max_global_connections", Label: "Max Global Connections", Description: "Upper bound on connections across all jobs.", Type: "int"},
			{Key: "max_concurrent_jobs", Label: "Max Concurrent Jobs", Description: "Jobs running at once; the rest wait in order.", Type: "int"},
			{Key: "user_agent", Label: "User Agent", Description: "Custom User-Agent string. Leave empty for default.", Type: "string"},
			{Key: "proxy_url", Label: "Proxy URL", Description: "http://, https:// or socks5:// proxy. Leave empty for the system default.", Type: "string"},
		},
		"Performance": {
			{Key: "worker_buffer_size", Label: "Worker Buffer Size", Description: "I/O buffer per range in bytes.", Type: "int"},
			{Key: "max_task_retries", Label: "Max Task Retries", Description: "Attempts per byte range before the stream fails.", Type: "int"},
			{Key: "retry_base_delay", Label: "Retry Base Delay", Description: "First backoff delay; doubles per attempt.", Type: "duration"},
			{Key: "retry_max_delay", Label: "Retry Max Delay", Description: "Upper bound for a single backoff.", Type: "duration"},
			{Key: "max_resolve_attempts", Label: "Resolve Attempts", Description: "Metadata attempts on network failure (at most 2).", Type: "int"},
			{Key: "progress_interval", Label: "Progress Interval", Description: "How often progress is reported.", Type: "duration"},
		},
		"Media": {
			{Key: "resolver", Label: "Resolver", Description: "Metadata backend: youtube or ytdlp.", Type: "string"},
			{Key: "ytdlp_path", Label: "yt-dlp Path", Description: "yt-dlp executable for the ytdlp backend.", Type: "string"},
			{Key: "ffmpeg_path", Label: "ffmpeg Path", Description: "ffmpeg executable used to merge streams.", Type: "string"},
			{Key: "ffprobe_path", Label: "ffprobe Path", Description: "ffprobe executable used to verify output duration.", Type: "string"},
			{Key: "default_format", Label: "Default Format", Description: "mp4, webm or mkv.", Type: "string"},
			{Key: "default_quality", Label: "Default Quality", Description: "best, worst or a height like 1080p.", Type: "string"},
			{Key: "audio_language", Label: "Audio Language", Description: "Preferred audio track language.", Type: "string"},
			{Key: "duration_tolerance", Label: "Duration Tolerance", Description: "Allowed output duration drift.", Type: "duration"},
		},
		"History": {
			{Key: "enabled", Label: "Keep History", Description: "Record finished jobs in the local database.", Type: "bool"},
			{Key: "redis_addr", Label: "Redis Address", Description: "Also mirror finished jobs to this redis (host:port).", Type: "string"},
			{Key: "redis_ttl", Label: "Redis TTL", Description: "Expiry for mirrored entries, 0 keeps them.", Type: "duration"},
		},
	}
}

// CategoryOrder returns the order of categories for display.
func CategoryOrder() []string {
	return []string{"General", "Network", "Performance", "Media", "History"}
}

// DefaultSettings returns a new Settings instance with sensible defaults.
func DefaultSettings() *Settings {
	homeDir, _ := os.UserHomeDir()

	return &Settings{
		General: GeneralSettings{
			OutputDir:         filepath.Join(homeDir, "Downloads", "VidFetch"),
			ClipboardMonitor:  false,
			Theme:             ThemeAdaptive,
			LogRetentionCount: 5,
		},
		Connections: ConnectionSettings{
			RangeConcurrency:     types.DefaultRangeConcurrency,
			MaxGlobalConnections: types.DefaultMaxGlobalConnections,
			MaxConcurrentJobs:    3,
		},
		Performance: PerformanceSettings{
			WorkerBufferSize:   types.WorkerBuffer,
			MaxTaskRetries:     types.MaxTaskRetries,
			RetryBaseDelay:     types.RetryBaseDelay,
			RetryMaxDelay:      types.RetryMaxDelay,
			MaxResolveAttempts: types.MaxResolveAttempts,
			ProgressInterval:   types.ProgressInterval,
		},
		Media: MediaSettings{
			Resolver:          ResolverYouTube,
			YTDLPPath:         "yt-dlp",
			FFmpegPath:        "ffmpeg",
			FFprobePath:       "ffprobe",
			DefaultFormat:     "mp4",
			DefaultQuality:    "best",
			AudioLanguage:     "en",
			DurationTolerance: types.DurationTolerance,
		},
		History: HistorySettings{
			Enabled:  true,
			RedisTTL: 30 * 24 * time.Hour,
		},
	}
}

// GetSettingsPath returns the path to the settings JSON file.
func GetSettingsPath() string {
	return filepath.Join(GetAppDir(), "settings.json")
}

// LoadSettings loads settings from disk. Returns defaults if file doesn't exist.
func LoadSettings() (*Settings, error) {
	return LoadSettingsFrom(GetSettingsPath())
}

// LoadSettingsFrom reads settings from path. Missing fields keep their defaults.
func LoadSettingsFrom(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultSettings(), nil
		}
		return nil, err
	}

	settings := DefaultSettings()
	if err := json.Unmarshal(data, settings); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return settings, nil
}

// SaveSettings saves settings to disk atomically.
func SaveSettings(s *Settings) error {
	return SaveSettingsTo(s, GetSettingsPath())
}

// SaveSettingsTo writes s to path through a temp file and rename.
func SaveSettingsTo(s *Settings, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tempPath, path)
}

// envOverrides lists the settings that can be overridden from the environment.
// Unset variables leave the loaded value alone.
type envOverrides struct {
	OutputDir            string        `split_words:"true"`
	TempDir              string        `split_words:"true"`
	MaxConcurrentJobs    int           `split_words:"true"`
	RangeConcurrency     int           `split_words:"true"`
	MaxGlobalConnections int           `split_words:"true"`
	UserAgent            string        `split_words:"true"`
	ProxyURL             string        `split_words:"true"`
	MaxTaskRetries       int           `split_words:"true"`
	RetryBaseDelay       time.Duration `split_words:"true"`
	RetryMaxDelay        time.Duration `split_words:"true"`
	Resolver             string
	Ytdlp                string
	Ffmpeg               string
	Ffprobe              string
	AudioLanguage        string `split_words:"true"`
	RedisAddr            string `split_words:"true"`
}

// ApplyEnv overrides s with any VIDFETCH_* environment variables.
func (s *Settings) ApplyEnv() error {
	env := envOverrides{
		OutputDir:            s.General.OutputDir,
		TempDir:              s.General.TempDir,
		MaxConcurrentJobs:    s.Connections.MaxConcurrentJobs,
		RangeConcurrency:     s.Connections.RangeConcurrency,
		MaxGlobalConnections: s.Connections.MaxGlobalConnections,
		UserAgent:            s.Connections.UserAgent,
		ProxyURL:             s.Connections.ProxyURL,
		MaxTaskRetries:       s.Performance.MaxTaskRetries,
		RetryBaseDelay:       s.Performance.RetryBaseDelay,
		RetryMaxDelay:        s.Performance.RetryMaxDelay,
		Resolver:             s.Media.Resolver,
		Ytdlp:                s.Media.YTDLPPath,
		Ffmpeg:               s.Media.FFmpegPath,
		Ffprobe:              s.Media.FFprobePath,
		AudioLanguage:        s.Media.AudioLanguage,
		RedisAddr:            s.History.RedisAddr,
	}
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("parsing environment variables: %w", err)
	}

	s.General.OutputDir = env.OutputDir
	s.General.TempDir = env.TempDir
	s.Connections.MaxConcurrentJobs = env.MaxConcurrentJobs
	s.Connections.RangeConcurrency = env.RangeConcurrency
	s.Connections.MaxGlobalConnections = env.MaxGlobalConnections
	s.Connections.UserAgent = env.UserAgent
	s.Connections.ProxyURL = env.ProxyURL
	s.Performance.MaxTaskRetries = env.MaxTaskRetries
	s.Performance.RetryBaseDelay = env.RetryBaseDelay
	s.Performance.RetryMaxDelay = env.RetryMaxDelay
	s.Media.Resolver = env.Resolver
	s.Media.YTDLPPath = env.Ytdlp
	s.Media.FFmpegPath = env.Ffmpeg
	s.Media.FFprobePath = env.Ffprobe
	s.Media.AudioLanguage = env.AudioLanguage
	s.History.RedisAddr = env.RedisAddr
	return nil
}

// Load reads the settings file and applies environment overrides.
func Load() (*Settings, error) {
	s, err := LoadSettings()
	if err != nil {
		return nil, err
	}
	if err := s.ApplyEnv(); err != nil {
		return nil, err
	}
	return s, nil
}

// ToRuntimeConfig creates the engine's RuntimeConfig from user Settings.
func (s *Settings) ToRuntimeConfig() *types.RuntimeConfig {
	return &types.RuntimeConfig{
		RangeConcurrency:     s.Connections.RangeConcurrency,
		MaxGlobalConnections: s.Connections.MaxGlobalConnections,
		MaxConcurrentJobs:    s.Connections.MaxConcurrentJobs,
		UserAgent:            s.Connections.UserAgent,
		ProxyURL:             s.Connections.ProxyURL,
		WorkerBufferSize:     s.Performance.WorkerBufferSize,
		MaxTaskRetries:       s.Performance.MaxTaskRetries,
		RetryBaseDelay:       s.Performance.RetryBaseDelay,
		RetryMaxDelay:        s.Performance.RetryMaxDelay,
		MaxResolveAttempts:   s.Performance.MaxResolveAttempts,
		ProgressInterval:     s.Performance.ProgressInterval,
		DurationTolerance:    s.Media.DurationTolerance,
		AudioLanguage:        s.Media.AudioLanguage,
	}
}
