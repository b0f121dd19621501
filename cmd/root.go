package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/vidfetch/vidfetch/internal/config"
	"github.com/vidfetch/vidfetch/internal/core"
	"github.com/vidfetch/vidfetch/internal/job"
	"github.com/vidfetch/vidfetch/internal/tui"
	"github.com/vidfetch/vidfetch/internal/utils"
)

// Version information - set via ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// Remote daemon selection, shared by every client command.
var (
	globalHost  string
	globalToken string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "vidfetch [url]...",
	Short: "A video downloader that fetches and muxes the best streams",
	Long: `VidFetch resolves a video page, picks the best matching streams, downloads
them over parallel range requests and muxes them into one file.

Without a subcommand it runs the download engine in this process, serves the
HTTP API for other clients and opens the terminal dashboard.`,
	Version:      Version,
	Args:         cobra.ArbitraryArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := initializeGlobalState()
		if err != nil {
			return err
		}

		isMaster, err := AcquireLock()
		if err != nil {
			return err
		}
		if !isMaster {
			return fmt.Errorf("vidfetch is already running; use 'vidfetch add <url>' or 'vidfetch connect' instead")
		}
		defer func() {
			if err := ReleaseLock(); err != nil {
				utils.Debug("Error releasing lock: %v", err)
			}
		}()

		template, err := requestTemplate(cmd, settings)
		if err != nil {
			return err
		}
		urls, err := collectURLs(cmd, args)
		if err != nil {
			return err
		}

		svc, err := newLocalService(settings)
		if err != nil {
			return err
		}
		defer func() {
			if err := svc.Shutdown(); err != nil {
				utils.Debug("Error shutting down: %v", err)
			}
		}()

		portFlag, _ := cmd.Flags().GetInt("port")
		port, ln, err := listen(portFlag)
		if err != nil {
			return err
		}
		saveActivePort(port)
		defer removeActivePort()

		server := startHTTPServer(ln, newHTTPHandler(svc, ensureAuthToken(), port, template))
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = server.Shutdown(ctx)
		}()

		if len(urls) > 0 {
			go func() {
				_, errs := queueURLs(svc, urls, template, false)
				for _, err := range errs {
					utils.Debug("Error queueing: %v", err)
				}
			}()
		}

		return runTUI(cmd.Context(), svc, settings)
	},
}

// runTUI shows the dashboard for svc until the user quits.
func runTUI(ctx context.Context, svc core.DownloadService, settings *config.Settings) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m, err := tui.InitialRootModel(ctx, svc, settings)
	if err != nil {
		return fmt.Errorf("starting dashboard: %w", err)
	}
	defer m.Close()

	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running dashboard: %w", err)
	}
	return nil
}

// requestTemplate builds the format, quality and output defaults from flags,
// falling back to settings.
func requestTemplate(cmd *cobra.Command, settings *config.Settings) (job.Request, error) {
	req := job.Request{
		Format:    settings.Media.DefaultFormat,
		Quality:   settings.Media.DefaultQuality,
		OutputDir: settings.General.OutputDir,
	}
	if f := cmd.Flags().Lookup("format"); f != nil && f.Changed {
		req.Format = f.Value.String()
	}
	if f := cmd.Flags().Lookup("quality"); f != nil && f.Changed {
		req.Quality = f.Value.String()
	}
	if f := cmd.Flags().Lookup("output"); f != nil && f.Value.String() != "" {
		req.OutputDir = f.Value.String()
	}
	if req.OutputDir != "" {
		req.OutputDir = utils.EnsureAbsPath(req.OutputDir)
		if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
			return req, fmt.Errorf("creating output dir: %w", err)
		}
	}
	return req, nil
}

// collectURLs merges positional arguments with the --batch file.
func collectURLs(cmd *cobra.Command, args []string) ([]string, error) {
	urls := append([]string(nil), args...)
	if f := cmd.Flags().Lookup("batch"); f != nil && f.Value.String() != "" {
		fileURLs, err := readURLsFromFile(f.Value.String())
		if err != nil {
			return nil, fmt.Errorf("reading batch file: %w", err)
		}
		urls = append(urls, fileURLs...)
	}
	return urls, nil
}

// addRequestFlags registers the per-job flags shared by several commands.
func addRequestFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("format", "f", "", "Output container: mp4, webm or mkv (default from settings)")
	cmd.Flags().StringP("quality", "q", "", "Quality: best, worst, 1080p, 4k, ... (default from settings)")
	cmd.Flags().StringP("output", "o", "", "Output directory (default from settings)")
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&globalHost, "host", "", "Daemon to talk to, host:port or URL (or set VIDFETCH_HOST)")
	rootCmd.PersistentFlags().StringVar(&globalToken, "token", "", "Bearer token for the daemon (or set VIDFETCH_TOKEN)")

	addRequestFlags(rootCmd)
	rootCmd.Flags().StringP("batch", "b", "", "File containing URLs to download (one per line)")
	rootCmd.Flags().IntP("port", "p", 0, "Port to listen on (default: 1700 or first available)")
	rootCmd.SetVersionTemplate("VidFetch version {{.Version}}\n")
}
