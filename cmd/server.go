package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vidfetch/vidfetch/internal/config"
	"github.com/vidfetch/vidfetch/internal/core"
	"github.com/vidfetch/vidfetch/internal/engine/events"
	"github.com/vidfetch/vidfetch/internal/utils"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Manage the VidFetch background server (daemon)",
	Long:  `Start, stop, or check the status of the VidFetch background server.`,
}

var serverStartCmd = &cobra.Command{
	Use:          "start [url]...",
	Short:        "Start the VidFetch server in headless mode",
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
			return fmt.Errorf("vidfetch server is already running")
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

		portFlag, _ := cmd.Flags().GetInt("port")
		port, ln, err := listen(portFlag)
		if err != nil {
			return err
		}

		svc, err := newLocalService(settings)
		if err != nil {
			_ = ln.Close()
			return err
		}

		savePID()
		defer removePID()
		saveActivePort(port)
		defer removeActivePort()

		server := startHTTPServer(ln, newHTTPHandler(svc, ensureAuthToken(), port, template))

		fmt.Printf("VidFetch %s running in server mode.\n", Version)
		fmt.Printf("HTTP server listening on port %d\n", port)
		fmt.Println("Press Ctrl+C to exit.")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		stream, unsubscribe, err := svc.StreamEvents(ctx)
		if err != nil {
			return err
		}
		defer unsubscribe()

		if len(urls) > 0 {
			ids, errs := queueURLs(svc, urls, template, false)
			for _, err := range errs {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			}
			utils.Debug("server: queued %d initial jobs", len(ids))
		}

		exitWhenDone, _ := cmd.Flags().GetBool("exit-when-done")
		runHeadless(ctx, os.Stdout, svc, stream, exitWhenDone)

		fmt.Println("\nShutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return svc.Shutdown()
	},
}

var serverStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running VidFetch server",
	RunE: func(cmd *cobra.Command, args []string) error {
		pid := readPID()
		if pid == 0 {
			fmt.Println("No running VidFetch server found (PID file missing).")
			return nil
		}

		process, err := os.FindProcess(pid)
		if err != nil {
			return fmt.Errorf("finding process %d: %w", pid, err)
		}
		if err := process.Signal(syscall.SIGTERM); err != nil {
			return fmt.Errorf("stopping server: %w", err)
		}

		fmt.Printf("Sent stop signal to process %d\n", pid)
		return nil
	},
}

var serverStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check the status of the VidFetch server",
	Run: func(cmd *cobra.Command, args []string) {
		pid := readPID()
		if pid == 0 {
			fmt.Println("VidFetch server is NOT running.")
			return
		}

		process, err := os.FindProcess(pid)
		if err != nil {
			fmt.Printf("VidFetch server is NOT running (Process %d not found).\n", pid)
			return
		}

		// Sending signal 0 to check existence
		if err := process.Signal(syscall.Signal(0)); err != nil {
			fmt.Printf("VidFetch server is NOT running (Process %d dead).\n", pid)
			return
		}

		fmt.Printf("VidFetch server is running (PID: %d, Port: %d).\n", pid, readActivePort())
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.AddCommand(serverStartCmd)
	serverCmd.AddCommand(serverStopCmd)
	serverCmd.AddCommand(serverStatusCmd)

	addRequestFlags(serverStartCmd)
	serverStartCmd.Flags().StringP("batch", "b", "", "File containing URLs to download")
	serverStartCmd.Flags().IntP("port", "p", 0, "Port to listen on")
	serverStartCmd.Flags().Bool("exit-when-done", false, "Exit when all jobs have finished")
}

// runHeadless prints job events to out until ctx is done, or until no job is
// left running when exitWhenDone is set.
func runHeadless(ctx context.Context, out io.Writer, svc core.DownloadService, stream <-chan any, exitWhenDone bool) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-stream:
			if !ok {
				return
			}
			printEvent(out, msg)
			if exitWhenDone && isTerminalEvent(msg) && allFinished(svc) {
				fmt.Fprintln(out, "All jobs finished. Exiting...")
				return
			}
		}
	}
}

func printEvent(out io.Writer, msg any) {
	switch m := msg.(type) {
	case events.JobQueuedMsg:
		fmt.Fprintf(out, "Queued: %s [%s]\n", m.URL, shortID(m.JobID))
	case events.JobStateMsg:
		if m.Title != "" {
			fmt.Fprintf(out, "%s: %s [%s]\n", stateLabel(m.Status), m.Title, shortID(m.JobID))
		}
	case events.JobCompleteMsg:
		fmt.Fprintf(out, "Completed: %s [%s] -> %s (in %s)\n", m.Title, shortID(m.JobID), m.OutputPath, m.Elapsed.Round(time.Millisecond))
	case events.JobErrorMsg:
		fmt.Fprintf(out, "Error: %s [%s]: %v\n", m.Title, shortID(m.JobID), m.Err)
	case events.JobCancelledMsg:
		fmt.Fprintf(out, "Cancelled: %s [%s]\n", m.Title, shortID(m.JobID))
	case events.JobRemovedMsg:
		fmt.Fprintf(out, "Removed: [%s]\n", shortID(m.JobID))
	}
}

func stateLabel(status string) string {
	label := strings.ReplaceAll(status, "_", " ")
	if label == "" {
		return label
	}
	return strings.ToUpper(label[:1]) + label[1:]
}

func isTerminalEvent(msg any) bool {
	switch msg.(type) {
	case events.JobCompleteMsg, events.JobErrorMsg, events.JobCancelledMsg:
		return true
	}
	return false
}

func allFinished(svc core.DownloadService) bool {
	snaps, err := svc.List()
	if err != nil {
		return false
	}
	for _, s := range snaps {
		if !s.Status.Terminal() {
			return false
		}
	}
	return true
}

func pidFile() string {
	return filepath.Join(config.GetRuntimeDir(), "pid")
}

func savePID() {
	if err := os.WriteFile(pidFile(), []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		utils.Debug("Error writing PID file: %v", err)
	}
}

func removePID() {
	if err := os.Remove(pidFile()); err != nil && !os.IsNotExist(err) {
		utils.Debug("Error removing PID file: %v", err)
	}
}

func readPID() int {
	data, err := os.ReadFile(pidFile())
	if err != nil {
		return 0
	}
	pid, _ := strconv.Atoi(strings.TrimSpace(string(data)))
	return pid
}
