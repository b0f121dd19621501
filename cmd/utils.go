package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/vidfetch/vidfetch/internal/config"
	"github.com/vidfetch/vidfetch/internal/core"
	"github.com/vidfetch/vidfetch/internal/engine"
	"github.com/vidfetch/vidfetch/internal/engine/transport"
	"github.com/vidfetch/vidfetch/internal/history"
	"github.com/vidfetch/vidfetch/internal/job"
	"github.com/vidfetch/vidfetch/internal/media"
	"github.com/vidfetch/vidfetch/internal/mux"
	"github.com/vidfetch/vidfetch/internal/utils"
)

const (
	defaultPort         = 1700
	redisConnectTimeout = 3 * time.Second
)

// initializeGlobalState creates the app directories, configures logging and
// returns the effective settings.
func initializeGlobalState() (*config.Settings, error) {
	if err := config.EnsureDirs(); err != nil {
		return nil, err
	}

	settings, err := config.Load()
	if err != nil {
		return nil, err
	}

	utils.ConfigureDebug(config.GetLogsDir())
	utils.CleanupLogs(settings.General.LogRetentionCount)
	return settings, nil
}

// newLocalService wires a queue, its collaborators and the history store
// from settings.
func newLocalService(settings *config.Settings) (*core.LocalDownloadService, error) {
	runtime := settings.ToRuntimeConfig()

	var resolver media.Resolver
	switch settings.Media.Resolver {
	case config.ResolverYTDLP:
		resolver = &media.YTDLPResolver{Binary: settings.Media.YTDLPPath}
	case config.ResolverYouTube, "":
		resolver = media.NewYouTubeResolver(transport.NewClient(runtime, runtime.GetRangeConcurrency()))
	default:
		return nil, fmt.Errorf("unknown resolver %q", settings.Media.Resolver)
	}

	store, err := openHistory(settings)
	if err != nil {
		return nil, err
	}

	q := job.NewQueue(job.Deps{
		Resolver: resolver,
		Fetcher:  engine.HTTPFetcher{},
		Muxer:    &mux.FFmpeg{Binary: settings.Media.FFmpegPath},
		Verifier: &job.Verifier{
			Prober:    &mux.FFprobe{Binary: settings.Media.FFprobePath},
			Tolerance: runtime.GetDurationTolerance(),
		},
		Runtime:   runtime,
		TempDir:   settings.General.TempDir,
		OutputDir: utils.EnsureAbsPath(settings.General.OutputDir),
	})
	return core.NewLocalDownloadService(q, store), nil
}

// openHistory opens the SQLite history database and, when configured,
// mirrors it to Redis. An unreachable Redis is logged and skipped.
func openHistory(settings *config.Settings) (history.Store, error) {
	if !settings.History.Enabled {
		return nil, nil
	}

	db, err := history.OpenSQLite(config.GetHistoryDBPath())
	if err != nil {
		return nil, err
	}
	if settings.History.RedisAddr == "" {
		return db, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisConnectTimeout)
	defer cancel()
	rs, err := history.NewRedisStore(ctx, settings.History.RedisAddr, settings.History.RedisTTL)
	if err != nil {
		utils.Debug("history: redis mirror disabled: %v", err)
		return db, nil
	}
	return &history.Mirrored{Primary: db, Secondary: rs}, nil
}

// queueURLs submits every URL to svc, fanning collections out into one job
// per entry. It returns the queued ids and one error per rejected URL.
func queueURLs(svc core.DownloadService, urls []string, template job.Request, forceCollection bool) ([]string, []error) {
	var ids []string
	var errs []error
	for _, raw := range urls {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		req := template
		req.URL = raw

		kind, err := media.ClassifyURL(raw)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if forceCollection || kind == media.URLCollection {
			got, err := svc.AddCollection(req)
			ids = append(ids, got...)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", raw, err))
			}
			continue
		}
		id, err := svc.Add(req)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", raw, err))
			continue
		}
		ids = append(ids, id)
	}
	return ids, errs
}

// findAvailablePort tries ports starting from 'start' until one is available
func findAvailablePort(start int) (int, net.Listener) {
	for port := start; port < start+100; port++ {
		ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err == nil {
			return port, ln
		}
	}
	return 0, nil
}

// listen binds the requested port, or the first free one from defaultPort.
func listen(port int) (int, net.Listener, error) {
	if port > 0 {
		ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err != nil {
			return 0, nil, fmt.Errorf("could not bind to port %d: %w", port, err)
		}
		return port, ln, nil
	}
	port, ln := findAvailablePort(defaultPort)
	if ln == nil {
		return 0, nil, errors.New("could not find available port")
	}
	return port, ln, nil
}

func portFile() string {
	return filepath.Join(config.GetRuntimeDir(), "port")
}

// saveActivePort records the daemon port for CLI discovery.
func saveActivePort(port int) {
	if err := os.MkdirAll(config.GetRuntimeDir(), 0o755); err != nil {
		utils.Debug("Error creating runtime dir: %v", err)
	}
	if err := os.WriteFile(portFile(), []byte(strconv.Itoa(port)), 0o644); err != nil {
		utils.Debug("Error writing port file: %v", err)
	}
	utils.Debug("HTTP server listening on port %d", port)
}

func removeActivePort() {
	if err := os.Remove(portFile()); err != nil && !os.IsNotExist(err) {
		utils.Debug("Error removing port file: %v", err)
	}
}

// readActivePort reads the port from the port file
func readActivePort() int {
	data, err := os.ReadFile(portFile())
	if err != nil {
		return 0
	}
	port, _ := strconv.Atoi(strings.TrimSpace(string(data)))
	return port
}

// readURLsFromFile reads URLs from a file, one per line. Blank lines and
// lines starting with # are skipped.
func readURLsFromFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var urls []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" && !strings.HasPrefix(line, "#") {
			urls = append(urls, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return urls, nil
}

func resolveLocalToken() string {
	if token := strings.TrimSpace(globalToken); token != "" {
		return token
	}
	if token := strings.TrimSpace(os.Getenv("VIDFETCH_TOKEN")); token != "" {
		return token
	}
	return ensureAuthToken()
}

func resolveHostTarget() string {
	if host := strings.TrimSpace(globalHost); host != "" {
		return host
	}
	return strings.TrimSpace(os.Getenv("VIDFETCH_HOST"))
}

// resolveAPIConnection finds the daemon to talk to: --host or VIDFETCH_HOST
// first, then the local port file.
func resolveAPIConnection() (string, string, error) {
	target := resolveHostTarget()
	if target == "" {
		port := readActivePort()
		if port == 0 {
			return "", "", errors.New("vidfetch is not running locally. Start it with 'vidfetch server start' or pass --host (or set VIDFETCH_HOST)")
		}
		return fmt.Sprintf("http://127.0.0.1:%d", port), resolveLocalToken(), nil
	}

	baseURL, err := resolveConnectBaseURL(target, false)
	if err != nil {
		return "", "", err
	}
	token := strings.TrimSpace(globalToken)
	if token == "" {
		token = strings.TrimSpace(os.Getenv("VIDFETCH_TOKEN"))
	}
	if token == "" {
		if !isLoopbackHost(hostnameFromTarget(target)) {
			return "", "", errors.New("no token provided for remote host. Use --token or set VIDFETCH_TOKEN")
		}
		token = ensureAuthToken()
	}
	return baseURL, token, nil
}

// remoteService connects to the running daemon.
func remoteService() (*core.RemoteDownloadService, error) {
	baseURL, token, err := resolveAPIConnection()
	if err != nil {
		return nil, err
	}
	return core.NewRemoteDownloadService(baseURL, token), nil
}

// resolveJobID expands an id prefix against the daemon's jobs and history.
func resolveJobID(svc core.DownloadService, partialID string) (string, error) {
	if len(partialID) >= 36 {
		return partialID, nil
	}

	var candidates []string
	if snaps, err := svc.List(); err == nil {
		for _, s := range snaps {
			candidates = append(candidates, s.ID)
		}
	}
	if entries, err := svc.History(); err == nil {
		for _, e := range entries {
			candidates = append(candidates, e.ID)
		}
	}
	return resolveIDFromCandidates(partialID, candidates)
}

func resolveIDFromCandidates(partialID string, candidates []string) (string, error) {
	var matches []string
	seen := make(map[string]bool)
	for _, id := range candidates {
		if strings.HasPrefix(id, partialID) && !seen[id] {
			matches = append(matches, id)
			seen[id] = true
		}
	}

	if len(matches) == 1 {
		return matches[0], nil
	}
	if len(matches) > 1 {
		return "", fmt.Errorf("ambiguous ID prefix '%s' matches %d jobs", partialID, len(matches))
	}
	return partialID, nil // No match, use as-is (will fail with "not found" later)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
