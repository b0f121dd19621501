package job

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vidfetch/vidfetch/internal/engine/events"
	"github.com/vidfetch/vidfetch/internal/engine/types"
	"github.com/vidfetch/vidfetch/internal/media"
	"github.com/vidfetch/vidfetch/internal/mux"
	"github.com/vidfetch/vidfetch/internal/selector"
	"github.com/vidfetch/vidfetch/internal/utils"
)

// Fetcher downloads one stream variant to cfg.DestPath.
type Fetcher interface {
	Fetch(ctx context.Context, cfg *types.DownloadConfig) error
}

// Deps are the collaborators a Coordinator drives.
type Deps struct {
	Resolver media.Resolver
	Fetcher  Fetcher
	Muxer    mux.Muxer
	Verifier *Verifier
	Runtime  *types.RuntimeConfig

	TempDir   string // job temp dirs are created below it; os.TempDir()/vidfetch if empty
	OutputDir string // used when a request names none
}

func (d *Deps) tempRoot() string {
	if d.TempDir != "" {
		return d.TempDir
	}
	return filepath.Join(os.TempDir(), "vidfetch")
}

// Coordinator owns one job from submission to a terminal state.
type Coordinator struct {
	id   string
	req  Request
	deps *Deps

	item  *media.Item // pre-resolved metadata, skips the resolver call
	emit  func(any)
	paths *pathReserver

	mu              sync.Mutex
	snap            Snapshot
	states          []*types.ProgressState
	cancel          context.CancelFunc
	cancelRequested bool
	lastFraction    float64
	downloadStart   time.Time
	output          string
	outputPlaced    bool
	final           bool
}

// NewCoordinator creates a job in the Queued state.
func NewCoordinator(id string, req Request, deps *Deps) *Coordinator {
	return &Coordinator{
		id:   id,
		req:  req,
		deps: deps,
		snap: Snapshot{
			ID:        id,
			URL:       req.URL,
			Format:    req.Format,
			Quality:   req.Quality,
			Status:    StatusQueued,
			CreatedAt: time.Now(),
		},
	}
}

// ID returns the job id.
func (c *Coordinator) ID() string {
	return c.id
}

// Status returns the current lifecycle state.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap.Status
}

// Snapshot returns a copy of the job's current state.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Cancel asks a running or queued job to stop. It returns false when the
// job already reached a terminal state or is verifying a placed output.
func (c *Coordinator) Cancel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snap.Status.Terminal() || c.snap.Status == StatusVerifying {
		return false
	}
	c.cancelRequested = true
	if c.cancel != nil {
		c.cancel()
	}
	return true
}

// Run drives the job through its pipeline and returns its terminal status.
func (c *Coordinator) Run(parent context.Context) Status {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	c.mu.Lock()
	if c.snap.Status.Terminal() {
		st := c.snap.Status
		c.mu.Unlock()
		return st
	}
	c.cancel = cancel
	c.snap.StartedAt = time.Now()
	requested := c.cancelRequested
	c.mu.Unlock()

	var err error
	if requested {
		err = context.Canceled
	} else {
		err = c.run(ctx)
	}
	c.finish(err)
	return c.Status()
}

func (c *Coordinator) run(ctx context.Context) error {
	c.transition(StatusResolving)
	item, err := c.resolve(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.snap.Title = item.Title
	c.snap.Duration = item.Duration
	c.snap.Thumbnail = item.Thumbnail
	c.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	c.transition(StatusSelecting)
	sel, err := selector.Select(item.Variants, c.req.Format, c.req.Quality, selector.Options{
		AudioLanguage: c.deps.Runtime.GetAudioLanguage(),
	})
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.snap.Selected = sel.Variants()
	c.mu.Unlock()
	utils.Debug("job %s: selected %d variant(s), mux=%v", c.id, len(sel.Variants()), sel.NeedsMux())
	if err := ctx.Err(); err != nil {
		return err
	}

	c.transition(StatusDownloading)
	files, err := c.download(ctx, sel)
	if err != nil {
		return err
	}

	output, err := c.reserveOutput(item.Title, sel.Label())
	if err != nil {
		return err
	}

	if sel.NeedsMux() {
		c.transition(StatusMuxing)
		if err := c.deps.Muxer.Remux(ctx, files[0], files[1], output, c.req.Format); err != nil {
			return err
		}
	} else {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := moveFile(files[0], output); err != nil {
			return fmt.Errorf("failed to place output: %w", err)
		}
	}
	c.mu.Lock()
	c.outputPlaced = true
	c.mu.Unlock()

	c.transition(StatusVerifying)
	return c.deps.Verifier.Verify(ctx, output, c.req.Format, item.Duration)
}

func (c *Coordinator) resolve(ctx context.Context) (*media.Item, error) {
	if c.item != nil {
		return c.item, nil
	}

	kind, err := media.ClassifyURL(c.req.URL)
	if err != nil {
		return nil, err
	}
	if kind == media.URLCollection {
		return nil, &media.ResolutionError{Kind: media.UnsupportedURL, URL: c.req.URL, Err: media.ErrCollectionURL}
	}
	if c.deps.Resolver == nil {
		return nil, &media.ResolutionError{Kind: media.BackendFailure, URL: c.req.URL, Err: errors.New("no resolver configured")}
	}

	items, err := c.deps.Resolver.Resolve(ctx, c.req.URL)
	if err != nil {
		var re *media.ResolutionError
		if errors.As(err, &re) || ctx.Err() != nil {
			return nil, err
		}
		return nil, &media.ResolutionError{Kind: media.BackendFailure, URL: c.req.URL, Err: err}
	}
	switch {
	case len(items) == 0:
		return nil, &media.ResolutionError{Kind: media.Unavailable, URL: c.req.URL, Err: errors.New("resolver returned no items")}
	case len(items) > 1:
		return nil, &media.ResolutionError{Kind: media.UnsupportedURL, URL: c.req.URL, Err: media.ErrCollectionURL}
	}
	return &items[0], nil
}

// tempDir is private to this job so concurrent jobs never collide.
func (c *Coordinator) tempDir() string {
	return filepath.Join(c.deps.tempRoot(), c.id)
}

// download fetches every selected variant in parallel. The first stream to
// fail cancels its siblings.
func (c *Coordinator) download(ctx context.Context, sel selector.Selection) ([]string, error) {
	dir := c.tempDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}

	variants := sel.Variants()
	paths := make([]string, len(variants))
	states := make([]*types.ProgressState, len(variants))
	streams := make([]StreamSnapshot, len(variants))
	for i, v := range variants {
		name := "stream"
		if sel.NeedsMux() {
			name = string(v.Kind)
		}
		paths[i] = filepath.Join(dir, name+"."+v.Container)
		states[i] = types.NewProgressState(c.id+"/"+name, 0)
		streams[i] = StreamSnapshot{Kind: v.Kind, VariantID: v.ID, TempPath: paths[i]}
	}

	c.mu.Lock()
	c.states = states
	c.snap.Streams = streams
	c.downloadStart = time.Now()
	c.mu.Unlock()

	dlCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	reporterDone := make(chan struct{})
	go func() {
		defer close(reporterDone)
		c.reportProgress(done)
	}()

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	for i, v := range variants {
		wg.Add(1)
		go func(i int, v media.StreamVariant) {
			defer wg.Done()
			cfg := &types.DownloadConfig{
				ID:          states[i].ID,
				URL:         v.URL,
				DestPath:    paths[i],
				Headers:     v.Headers,
				Concurrency: c.deps.Runtime.StreamConcurrency(),
				State:       states[i],
				Runtime:     c.deps.Runtime,
			}
			if err := c.deps.Fetcher.Fetch(dlCtx, cfg); err != nil {
				errOnce.Do(func() {
					firstErr = err
					utils.Debug("job %s: %s failed, cancelling siblings: %v", c.id, states[i].ID, err)
					cancel()
				})
			}
		}(i, v)
	}
	wg.Wait()

	close(done)
	<-reporterDone
	c.emitProgress()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return paths, nil
}

func (c *Coordinator) reportProgress(done <-chan struct{}) {
	ticker := time.NewTicker(c.deps.Runtime.GetProgressInterval())
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.emitProgress()
		}
	}
}

func (c *Coordinator) emitProgress() {
	c.mu.Lock()
	if c.final {
		c.mu.Unlock()
		return
	}
	snap := c.snapshotLocked()
	var conns int
	for _, st := range c.states {
		conns += int(st.ActiveWorkers.Load())
	}
	elapsed := time.Since(c.downloadStart)
	c.mu.Unlock()

	msg := events.ProgressMsg{
		JobID:             c.id,
		Downloaded:        snap.Downloaded,
		Total:             snap.Total,
		Fraction:          snap.Progress,
		Speed:             snap.Speed,
		Elapsed:           elapsed,
		ActiveConnections: conns,
	}
	for _, s := range snap.Streams {
		msg.Streams = append(msg.Streams, events.StreamProgress{
			Kind:       string(s.Kind),
			Downloaded: s.Downloaded,
			Total:      s.Total,
			Retries:    s.Retries,
		})
	}
	c.publish(msg)
}

// snapshotLocked copies the job and folds in live stream progress. Once the
// job is terminal the stored snapshot is returned unchanged.
func (c *Coordinator) snapshotLocked() Snapshot {
	snap := c.snap
	snap.Selected = append([]media.StreamVariant(nil), c.snap.Selected...)
	snap.Streams = append([]StreamSnapshot(nil), c.snap.Streams...)
	if c.final || len(c.states) == 0 {
		return snap
	}

	var downloaded, total int64
	known := true
	for i, st := range c.states {
		d, t := st.Downloaded.Load(), st.TotalSize.Load()
		snap.Streams[i].Downloaded = d
		snap.Streams[i].Total = t
		snap.Streams[i].Retries = int(st.Retries.Load())
		downloaded += d
		total += t
		if t <= 0 {
			known = false
		}
	}
	snap.Downloaded = downloaded
	snap.Total = total

	// Weighted by size: the sum of bytes over the sum of totals.
	snap.Progress = -1
	if known && total > 0 {
		fraction := min(float64(downloaded)/float64(total), 1)
		if fraction < c.lastFraction {
			fraction = c.lastFraction
		}
		c.lastFraction = fraction
		snap.Progress = fraction
	}
	if snap.Status == StatusDownloading {
		if secs := time.Since(c.downloadStart).Seconds(); secs > 0 {
			snap.Speed = float64(downloaded) / secs
		}
	}
	return snap
}

func (c *Coordinator) transition(to Status) {
	c.mu.Lock()
	from := c.snap.Status
	if !CanTransition(from, to) {
		c.mu.Unlock()
		utils.Debug("job %s: ignoring transition %s -> %s", c.id, from, to)
		return
	}
	c.snap.Status = to
	title := c.snap.Title
	c.mu.Unlock()

	utils.Debug("job %s: %s -> %s", c.id, from, to)
	c.publish(events.JobStateMsg{JobID: c.id, Status: string(to), Title: title})
}

// finish maps the pipeline result to a terminal state, cleaning up first so
// that observers of the terminal state never see stale temp files.
func (c *Coordinator) finish(err error) {
	c.mu.Lock()
	cancelled := err != nil && (c.cancelRequested || errors.Is(err, context.Canceled))
	output, placed := c.output, c.outputPlaced
	c.mu.Unlock()

	kind := ErrorKind(err)
	if cancelled {
		kind = KindCancelled
	}

	if err != nil && placed {
		removeQuietly(output)
	}
	c.cleanup(kind)
	if c.paths != nil && output != "" {
		c.paths.release(output)
	}

	c.mu.Lock()
	snap := c.snapshotLocked()
	switch {
	case err == nil:
		snap.Status = StatusCompleted
		snap.OutputPath = output
		snap.Progress = 1
	case cancelled:
		snap.Status = StatusCancelled
	default:
		snap.Status = StatusFailed
		snap.Error = err.Error()
		snap.ErrorKind = kind
	}
	snap.Speed = 0
	snap.FinishedAt = time.Now()
	c.snap = snap
	c.final = true
	c.mu.Unlock()

	utils.Debug("job %s: %s (%v)", c.id, snap.Status, err)
	switch snap.Status {
	case StatusCompleted:
		c.publish(events.JobCompleteMsg{
			JobID:      c.id,
			Title:      snap.Title,
			OutputPath: snap.OutputPath,
			Total:      snap.Total,
			Elapsed:    snap.FinishedAt.Sub(snap.StartedAt),
		})
	case StatusCancelled:
		c.publish(events.JobCancelledMsg{JobID: c.id, Title: snap.Title})
	default:
		c.publish(events.JobErrorMsg{JobID: c.id, Title: snap.Title, Kind: kind, Err: err})
	}
}

// finishQueued cancels a job that was never admitted.
func (c *Coordinator) finishQueued() {
	c.mu.Lock()
	if c.snap.Status.Terminal() {
		c.mu.Unlock()
		return
	}
	c.cancelRequested = true
	c.snap.Status = StatusCancelled
	c.snap.FinishedAt = time.Now()
	c.final = true
	c.mu.Unlock()
	c.publish(events.JobCancelledMsg{JobID: c.id})
}

// cleanup removes the job's temp dir. After a mux tool fault the downloaded
// streams are kept so the user can retry the merge by hand.
func (c *Coordinator) cleanup(kind string) {
	dir := c.tempDir()
	if kind == KindMuxTool {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return
		}
		for _, e := range entries {
			if filepath.Ext(e.Name()) == types.IncompleteSuffix {
				removeQuietly(filepath.Join(dir, e.Name()))
			}
		}
		utils.Debug("job %s: keeping streams in %s for diagnosis", c.id, dir)
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		utils.Debug("job %s: failed to remove %s: %v", c.id, dir, err)
	}
}

func (c *Coordinator) reserveOutput(title, label string) (string, error) {
	dir := c.req.OutputDir
	if dir == "" {
		dir = c.deps.OutputDir
	}
	if dir == "" {
		dir = "."
	}
	dir = utils.EnsureAbsPath(dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output dir: %w", err)
	}

	path := filepath.Join(dir, utils.OutputFilename(title, label, c.req.Format))
	if c.paths != nil {
		path = c.paths.reserve(path)
	} else {
		path = utils.UniqueFilePath(path)
	}

	c.mu.Lock()
	c.output = path
	c.mu.Unlock()
	return path, nil
}

func (c *Coordinator) publish(msg any) {
	if c.emit != nil {
		c.emit(msg)
	}
}

// pathReserver hands out output paths that are unique on disk and among
// running jobs.
type pathReserver struct {
	mu   sync.Mutex
	held map[string]bool
}

func newPathReserver() *pathReserver {
	return &pathReserver{held: make(map[string]bool)}
}

func (r *pathReserver) reserve(path string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := utils.UniqueFilePathExcluding(path, func(p string) bool { return r.held[p] })
	r.held[p] = true
	return p
}

func (r *pathReserver) release(path string) {
	r.mu.Lock()
	delete(r.held, path)
	r.mu.Unlock()
}

// moveFile renames src to dst, copying when they sit on different filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		removeQuietly(dst)
		return err
	}
	if err := out.Close(); err != nil {
		removeQuietly(dst)
		return err
	}
	removeQuietly(src)
	return nil
}

func removeQuietly(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		utils.Debug("failed to remove %s: %v", path, err)
	}
}
