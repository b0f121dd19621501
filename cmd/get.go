package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/vidfetch/vidfetch/internal/core"
	"github.com/vidfetch/vidfetch/internal/engine/events"
	"github.com/vidfetch/vidfetch/internal/job"
)

const statusSweepInterval = 2 * time.Second

var getCmd = &cobra.Command{
	Use:   "get [url]...",
	Short: "Download URLs in this process and exit",
	Long: `get resolves, downloads and muxes the given URLs without a daemon, printing
progress to the terminal. It exits once every job has finished and fails if
any of them did not complete.`,
	Args:         cobra.MinimumNArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := initializeGlobalState()
		if err != nil {
			return err
		}
		template, err := requestTemplate(cmd, settings)
		if err != nil {
			return err
		}
		collection, _ := cmd.Flags().GetBool("collection")

		svc, err := newLocalService(settings)
		if err != nil {
			return err
		}
		defer func() { _ = svc.Shutdown() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		stream, unsubscribe, err := svc.StreamEvents(ctx)
		if err != nil {
			return err
		}
		defer unsubscribe()

		ids, errs := queueURLs(svc, args, template, collection)
		for _, err := range errs {
			fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
		}
		if len(ids) == 0 {
			return errors.New("nothing was queued")
		}

		failed := waitForJobs(ctx, cmd.OutOrStdout(), svc, stream, ids)
		if ctx.Err() != nil {
			for _, id := range ids {
				_ = svc.Cancel(id)
			}
			return errors.New("interrupted")
		}
		if failed > 0 || len(errs) > 0 {
			return fmt.Errorf("%d of %d jobs did not complete", failed+len(errs), len(ids)+len(errs))
		}
		return nil
	},
}

func init() {
	addRequestFlags(getCmd)
	getCmd.Flags().Bool("collection", false, "Treat every URL as a playlist or channel")
	rootCmd.AddCommand(getCmd)
}

// waitForJobs prints events for ids until all of them are terminal and
// returns how many did not complete.
func waitForJobs(ctx context.Context, out io.Writer, svc core.DownloadService, stream <-chan any, ids []string) int {
	pending := make(map[string]bool, len(ids))
	for _, id := range ids {
		pending[id] = true
	}

	failed := 0
	// sweep catches jobs whose terminal event was missed
	sweep := func() {
		for id := range pending {
			if snap, err := svc.GetStatus(id); err == nil && snap.Status.Terminal() {
				delete(pending, id)
				if snap.Status != job.StatusCompleted {
					failed++
				}
			}
		}
	}
	sweep()

	ticker := time.NewTicker(statusSweepInterval)
	defer ticker.Stop()

	lastPercent := make(map[string]int)
	for len(pending) > 0 {
		select {
		case <-ctx.Done():
			return failed + len(pending)
		case <-ticker.C:
			sweep()
		case msg, ok := <-stream:
			if !ok {
				return failed + len(pending)
			}
			if p, isProgress := msg.(events.ProgressMsg); isProgress {
				if pending[p.JobID] {
					printProgress(out, p, lastPercent)
				}
				continue
			}
			printEvent(out, msg)

			var id string
			completed := false
			switch m := msg.(type) {
			case events.JobCompleteMsg:
				id, completed = m.JobID, true
			case events.JobErrorMsg:
				id = m.JobID
			case events.JobCancelledMsg:
				id = m.JobID
			default:
				continue
			}
			if !pending[id] {
				continue
			}
			delete(pending, id)
			if !completed {
				failed++
			}
		}
	}
	return failed
}

// printProgress prints a line every ten percent, or every 10 MiB while the
// size is unknown.
func printProgress(out io.Writer, p events.ProgressMsg, last map[string]int) {
	var step int
	var label string
	if p.Fraction >= 0 {
		step = int(p.Fraction * 10)
		label = fmt.Sprintf("%3d%%", step*10)
	} else {
		step = int(p.Downloaded / (10 << 20))
		label = humanize.Bytes(uint64(p.Downloaded))
	}
	if prev, seen := last[p.JobID]; seen && prev >= step {
		return
	}
	last[p.JobID] = step
	fmt.Fprintf(out, "  [%s] %s at %s/s\n", shortID(p.JobID), label, humanize.Bytes(uint64(p.Speed)))
}
