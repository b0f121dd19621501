package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidfetch/vidfetch/internal/engine/types"
)

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()
	require.NotNil(t, s)

	assert.True(t, strings.HasSuffix(s.General.OutputDir, filepath.Join("Downloads", "VidFetch")))
	assert.Equal(t, 3, s.Connections.MaxConcurrentJobs)
	assert.Equal(t, 4, s.Connections.RangeConcurrency)
	assert.Equal(t, 32, s.Connections.MaxGlobalConnections)
	assert.Equal(t, 3, s.Performance.MaxTaskRetries)
	assert.Equal(t, 200*time.Millisecond, s.Performance.RetryBaseDelay)
	assert.Equal(t, 5*time.Second, s.Performance.RetryMaxDelay)
	assert.Equal(t, 2, s.Performance.MaxResolveAttempts)
	assert.Equal(t, 2*time.Second, s.Media.DurationTolerance)
	assert.Equal(t, "ffmpeg", s.Media.FFmpegPath)
	assert.Equal(t, "ffprobe", s.Media.FFprobePath)
	assert.Equal(t, ResolverYouTube, s.Media.Resolver)
	assert.Equal(t, "en", s.Media.AudioLanguage)
	assert.Equal(t, 5, s.General.LogRetentionCount)

	assert.NotSame(t, DefaultSettings(), DefaultSettings())
}

func TestPaths(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	t.Setenv("XDG_RUNTIME_DIR", "")

	assert.Equal(t, filepath.Join(xdg, "vidfetch"), GetAppDir())
	assert.Equal(t, filepath.Join(xdg, "vidfetch", "settings.json"), GetSettingsPath())
	assert.Equal(t, filepath.Join(xdg, "vidfetch", "state", "history.db"), GetHistoryDBPath())
	assert.Equal(t, GetAppDir(), GetRuntimeDir())

	run := t.TempDir()
	t.Setenv("XDG_RUNTIME_DIR", run)
	assert.Equal(t, filepath.Join(run, "vidfetch"), GetRuntimeDir())

	require.NoError(t, EnsureDirs())
	for _, dir := range []string{GetStateDir(), GetLogsDir(), GetRuntimeDir()} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestSaveAndLoadSettings(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	s := DefaultSettings()
	s.General.OutputDir = "/srv/videos"
	s.Connections.MaxConcurrentJobs = 5
	s.Media.Resolver = ResolverYTDLP
	s.Performance.RetryMaxDelay = 9 * time.Second
	s.History.RedisAddr = "localhost:6379"
	require.NoError(t, SaveSettings(s))

	_, err := os.Stat(GetSettingsPath() + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file must be renamed away")

	loaded, err := LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, s, loaded)
}

func TestLoadSettings_MissingFile(t *testing.T) {
	s, err := LoadSettingsFrom(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), s)
}

func TestLoadSettings_CorruptedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte("{invalid json"), 0o644))

	_, err := LoadSettingsFrom(path)
	assert.ErrorContains(t, err, path)
}

func TestLoadSettings_PartialJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	partial := `{"general": {"output_dir": "/custom/path"}, "media": {"default_format": "mkv"}}`
	require.NoError(t, os.WriteFile(path, []byte(partial), 0o644))

	s, err := LoadSettingsFrom(path)
	require.NoError(t, err)
	assert.Equal(t, "/custom/path", s.General.OutputDir)
	assert.Equal(t, "mkv", s.Media.DefaultFormat)
	assert.Equal(t, "best", s.Media.DefaultQuality)
	assert.Equal(t, 3, s.Connections.MaxConcurrentJobs)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("VIDFETCH_OUTPUT_DIR", "/env/out")
	t.Setenv("VIDFETCH_MAX_CONCURRENT_JOBS", "7")
	t.Setenv("VIDFETCH_RANGE_CONCURRENCY", "2")
	t.Setenv("VIDFETCH_FFMPEG", "/opt/ffmpeg/bin/ffmpeg")
	t.Setenv("VIDFETCH_RESOLVER", "ytdlp")
	t.Setenv("VIDFETCH_REDIS_ADDR", "redis:6379")
	t.Setenv("VIDFETCH_RETRY_BASE_DELAY", "50ms")
	t.Setenv("VIDFETCH_PROXY_URL", "socks5://127.0.0.1:1080")

	s := DefaultSettings()
	s.Media.AudioLanguage = "de"
	require.NoError(t, s.ApplyEnv())

	assert.Equal(t, "/env/out", s.General.OutputDir)
	assert.Equal(t, 7, s.Connections.MaxConcurrentJobs)
	assert.Equal(t, 2, s.Connections.RangeConcurrency)
	assert.Equal(t, "/opt/ffmpeg/bin/ffmpeg", s.Media.FFmpegPath)
	assert.Equal(t, ResolverYTDLP, s.Media.Resolver)
	assert.Equal(t, "redis:6379", s.History.RedisAddr)
	assert.Equal(t, 50*time.Millisecond, s.Performance.RetryBaseDelay)
	assert.Equal(t, "socks5://127.0.0.1:1080", s.Connections.ProxyURL)

	// untouched values survive
	assert.Equal(t, "de", s.Media.AudioLanguage)
	assert.Equal(t, "ffprobe", s.Media.FFprobePath)
	assert.Equal(t, 32, s.Connections.MaxGlobalConnections)
}

func TestApplyEnv_Invalid(t *testing.T) {
	t.Setenv("VIDFETCH_MAX_CONCURRENT_JOBS", "many")
	assert.Error(t, DefaultSettings().ApplyEnv())
}

func TestToRuntimeConfig(t *testing.T) {
	s := DefaultSettings()
	s.Connections.ProxyURL = "http://proxy:3128"
	s.Media.AudioLanguage = "fr"

	r := s.ToRuntimeConfig()
	require.NotNil(t, r)
	assert.Equal(t, s.Connections.RangeConcurrency, r.GetRangeConcurrency())
	assert.Equal(t, s.Connections.MaxConcurrentJobs, r.GetMaxConcurrentJobs())
	assert.Equal(t, s.Connections.MaxGlobalConnections, r.GetMaxGlobalConnections())
	assert.Equal(t, "http://proxy:3128", r.GetProxyURL())
	assert.Equal(t, s.Performance.RetryBaseDelay, r.GetRetryBaseDelay())
	assert.Equal(t, s.Media.DurationTolerance, r.GetDurationTolerance())
	assert.Equal(t, "fr", r.GetAudioLanguage())
	assert.Equal(t, types.MaxResolveAttempts, r.GetMaxResolveAttempts())
	assert.Equal(t, 4, r.StreamConcurrency())
}

func TestGetSettingsMetadata(t *testing.T) {
	metadata := GetSettingsMetadata()
	for _, cat := range CategoryOrder() {
		metas, ok := metadata[cat]
		require.True(t, ok, "missing category %s", cat)
		for _, m := range metas {
			assert.NotEmpty(t, m.Key)
			assert.NotEmpty(t, m.Label)
			assert.Contains(t, []string{"string", "int", "bool", "duration"}, m.Type, m.Key)
		}
	}
	assert.Len(t, metadata, len(CategoryOrder()))
}
