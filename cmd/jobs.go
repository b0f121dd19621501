package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/atotto/clipboard"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/vidfetch/vidfetch/internal/config"
	"github.com/vidfetch/vidfetch/internal/history"
	"github.com/vidfetch/vidfetch/internal/job"
)

// readClipboard is swapped out in tests.
var readClipboard = clipboard.ReadAll

var addCmd = &cobra.Command{
	Use:   "add [url]...",
	Short: "Queue URLs on the running daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		urls, err := collectURLs(cmd, args)
		if err != nil {
			return err
		}
		if fromClipboard, _ := cmd.Flags().GetBool("clipboard"); fromClipboard {
			text, err := readClipboard()
			if err != nil {
				return fmt.Errorf("reading clipboard: %w", err)
			}
			if text = strings.TrimSpace(text); text != "" {
				urls = append(urls, text)
			}
		}
		if len(urls) == 0 {
			return errors.New("no URLs given")
		}

		svc, err := remoteService()
		if err != nil {
			return err
		}
		defer func() { _ = svc.Shutdown() }()

		settings, err := config.Load()
		if err != nil {
			settings = config.DefaultSettings()
		}
		template, err := requestTemplate(cmd, settings)
		if err != nil {
			return err
		}
		// Let the daemon apply its own output dir unless one was asked for
		if o, _ := cmd.Flags().GetString("output"); o == "" {
			template.OutputDir = ""
		}

		collection, _ := cmd.Flags().GetBool("collection")
		ids, errs := queueURLs(svc, urls, template, collection)
		for _, id := range ids {
			fmt.Fprintf(cmd.OutOrStdout(), "Queued %s\n", shortID(id))
		}
		for _, err := range errs {
			fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
		}
		if len(ids) == 0 && len(errs) > 0 {
			return errors.New("nothing was queued")
		}
		return nil
	},
}

var lsCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List the daemon's jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := remoteService()
		if err != nil {
			return err
		}
		defer func() { _ = svc.Shutdown() }()

		snaps, err := svc.List()
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeIndentedJSON(cmd.OutOrStdout(), snaps)
		}
		printJobTable(cmd.OutOrStdout(), snaps)
		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Cancel a queued or running job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobAction(cmd, args[0], "Cancelled", func(svc jobActions, id string) error { return svc.Cancel(id) })
	},
}

var dismissCmd = &cobra.Command{
	Use:     "dismiss <id>",
	Aliases: []string{"rm"},
	Short:   "Remove a finished job from the list",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobAction(cmd, args[0], "Dismissed", func(svc jobActions, id string) error { return svc.Dismiss(id) })
	},
}

var infoCmd = &cobra.Command{
	Use:   "info <id>",
	Short: "Show the details of one job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := remoteService()
		if err != nil {
			return err
		}
		defer func() { _ = svc.Shutdown() }()

		id, err := resolveJobID(svc, args[0])
		if err != nil {
			return err
		}
		snap, err := svc.GetStatus(id)
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeIndentedJSON(cmd.OutOrStdout(), snap)
		}
		printJobInfo(cmd.OutOrStdout(), snap)
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List finished jobs",
	Long: `List finished jobs. The running daemon is asked first; without one the
local history database is read directly.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := loadHistory()
		if err != nil {
			return err
		}
		if limit, _ := cmd.Flags().GetInt("limit"); limit > 0 && len(entries) > limit {
			entries = entries[:limit]
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeIndentedJSON(cmd.OutOrStdout(), entries)
		}
		printHistoryTable(cmd.OutOrStdout(), entries)
		return nil
	},
}

func init() {
	addRequestFlags(addCmd)
	addCmd.Flags().StringP("batch", "b", "", "File containing URLs to download")
	addCmd.Flags().Bool("clipboard", false, "Also queue the URL on the clipboard")
	addCmd.Flags().Bool("collection", false, "Treat every URL as a playlist or channel")

	lsCmd.Flags().Bool("json", false, "Print raw JSON")
	infoCmd.Flags().Bool("json", false, "Print raw JSON")
	historyCmd.Flags().Bool("json", false, "Print raw JSON")
	historyCmd.Flags().IntP("limit", "n", 50, "Show at most this many entries")

	rootCmd.AddCommand(addCmd, lsCmd, cancelCmd, dismissCmd, infoCmd, historyCmd)
}

type jobActions interface {
	Cancel(id string) error
	Dismiss(id string) error
}

func runJobAction(cmd *cobra.Command, partialID, verb string, fn func(jobActions, string) error) error {
	svc, err := remoteService()
	if err != nil {
		return err
	}
	defer func() { _ = svc.Shutdown() }()

	id, err := resolveJobID(svc, partialID)
	if err != nil {
		return err
	}
	if err := fn(svc, id); err != nil {
		switch {
		case errors.Is(err, job.ErrJobNotFound):
			return fmt.Errorf("job %s not found", partialID)
		case errors.Is(err, job.ErrJobActive):
			return fmt.Errorf("job %s is still running; cancel it first", shortID(id))
		case errors.Is(err, job.ErrJobFinished):
			return fmt.Errorf("job %s has already finished", shortID(id))
		}
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", verb, shortID(id))
	return nil
}

// loadHistory asks the daemon, falling back to the local database.
func loadHistory() ([]history.Entry, error) {
	if svc, err := remoteService(); err == nil {
		defer func() { _ = svc.Shutdown() }()
		entries, err := svc.History()
		if err == nil {
			return entries, nil
		}
		if resolveHostTarget() != "" {
			return nil, err
		}
	}

	if _, err := os.Stat(config.GetHistoryDBPath()); err != nil {
		return nil, nil
	}
	store, err := history.OpenSQLite(config.GetHistoryDBPath())
	if err != nil {
		return nil, err
	}
	defer func() { _ = store.Close() }()
	return store.List(context.Background(), 0)
}

func writeIndentedJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printJobTable(w io.Writer, snaps []job.Snapshot) {
	if len(snaps) == 0 {
		fmt.Fprintln(w, "No jobs.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tPROGRESS\tSIZE\tSPEED\tTITLE")
	for _, s := range snaps {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			shortID(s.ID), s.Status, progressLabel(s), sizeLabel(s.Total), speedLabel(s), titleOrURL(s.Title, s.URL))
	}
	_ = tw.Flush()
}

func printHistoryTable(w io.Writer, entries []history.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No history.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tFINISHED\tSIZE\tTITLE")
	for _, e := range entries {
		finished := "-"
		if !e.FinishedAt.IsZero() {
			finished = humanize.Time(e.FinishedAt)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			shortID(e.ID), e.Status, finished, sizeLabel(e.TotalSize), titleOrURL(e.Title, e.URL))
	}
	_ = tw.Flush()
}

func printJobInfo(w io.Writer, s *job.Snapshot) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	row := func(k, v string) {
		if v != "" {
			fmt.Fprintf(tw, "%s:\t%s\n", k, v)
		}
	}
	row("ID", s.ID)
	row("URL", s.URL)
	row("Title", s.Title)
	row("Status", string(s.Status))
	row("Request", s.Format+" / "+s.Quality)
	if s.Duration > 0 {
		row("Duration", s.Duration.Round(time.Second).String())
	}
	row("Progress", progressLabel(*s))
	row("Size", sizeLabel(s.Total))
	for _, v := range s.Selected {
		detail := fmt.Sprintf("%s %s %s", v.ID, v.Kind, v.Container)
		if v.Height > 0 {
			detail += fmt.Sprintf(" %dp", v.Height)
		}
		row("Variant", detail)
	}
	for _, st := range s.Streams {
		row("Stream "+string(st.Kind), fmt.Sprintf("%s of %s, %d retries", humanize.Bytes(uint64(st.Downloaded)), sizeLabel(st.Total), st.Retries))
	}
	row("Output", s.OutputPath)
	if s.Error != "" {
		row("Error", s.ErrorKind+": "+s.Error)
	}
	row("Created", s.CreatedAt.Format(time.RFC3339))
	if !s.FinishedAt.IsZero() {
		row("Finished", s.FinishedAt.Format(time.RFC3339))
	}
	_ = tw.Flush()
}

func progressLabel(s job.Snapshot) string {
	switch {
	case s.Status == job.StatusCompleted:
		return "100%"
	case s.Progress < 0:
		return humanize.Bytes(uint64(s.Downloaded))
	default:
		return fmt.Sprintf("%.1f%%", s.Progress*100)
	}
}

func sizeLabel(n int64) string {
	if n <= 0 {
		return "?"
	}
	return humanize.Bytes(uint64(n))
}

func speedLabel(s job.Snapshot) string {
	if s.Status != job.StatusDownloading || s.Speed <= 0 {
		return "-"
	}
	return humanize.Bytes(uint64(s.Speed)) + "/s"
}

func titleOrURL(title, url string) string {
	if title != "" {
		return title
	}
	return url
}
