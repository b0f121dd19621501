package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vidfetch/vidfetch/internal/engine/events"
	"github.com/vidfetch/vidfetch/internal/engine/types"
	"github.com/vidfetch/vidfetch/internal/media"
	"github.com/vidfetch/vidfetch/internal/mux"
	"github.com/vidfetch/vidfetch/internal/selector"
	"github.com/vidfetch/vidfetch/internal/utils"
)

// How long a state or terminal event may wait for a slow subscriber.
const eventSendTimeout = 100 * time.Millisecond

// Queue tracks every job of the process and admits them in submission order
// while at most Runtime.GetMaxConcurrentJobs() are running.
type Queue struct {
	deps  *Deps
	paths *pathReserver
	limit int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	jobs    map[string]*Coordinator
	order   []string       // submission order, for Status
	pending []*Coordinator // waiting for a slot, oldest first
	active  int
	closed  bool

	subMu      sync.RWMutex
	subs       map[int]chan any
	nextSub    int
	subsClosed bool
}

// NewQueue creates a queue. The resolver is wrapped with the bounded
// metadata retry and a missing muxer defaults to ffmpeg from PATH.
func NewQueue(deps Deps) *Queue {
	if deps.Muxer == nil {
		deps.Muxer = &mux.FFmpeg{}
	}
	if deps.Verifier == nil {
		deps.Verifier = &Verifier{Prober: &mux.FFprobe{}, Tolerance: deps.Runtime.GetDurationTolerance()}
	}
	if deps.Resolver != nil {
		deps.Resolver = media.WithRetry(deps.Resolver, deps.Runtime)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		deps:   &deps,
		paths:  newPathReserver(),
		limit:  deps.Runtime.GetMaxConcurrentJobs(),
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[string]*Coordinator),
		subs:   make(map[int]chan any),
	}
}

// Submit queues a job for one item and returns its id.
func (q *Queue) Submit(url, format, quality string) (string, error) {
	return q.SubmitRequest(Request{URL: url, Format: format, Quality: quality})
}

// SubmitRequest queues req and returns the job id. Unknown containers are
// rejected here; everything else is reported through the job's state.
func (q *Queue) SubmitRequest(req Request) (string, error) {
	return q.add(req, nil)
}

// SubmitItem queues a job whose metadata is already resolved.
func (q *Queue) SubmitItem(item media.Item, req Request) (string, error) {
	if req.URL == "" {
		req.URL = item.SourceURL
	}
	return q.add(req, &item)
}

// SubmitCollection resolves req.URL once and queues one job per item.
func (q *Queue) SubmitCollection(ctx context.Context, req Request) ([]string, error) {
	if !selector.ValidFormat(req.Format) {
		return nil, fmt.Errorf("unsupported format %q", req.Format)
	}
	if q.deps.Resolver == nil {
		return nil, errors.New("no resolver configured")
	}
	if _, err := media.ClassifyURL(req.URL); err != nil {
		return nil, err
	}

	items, err := q.deps.Resolver.Resolve(ctx, req.URL)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(items))
	for _, item := range items {
		itemReq := req
		itemReq.URL = item.SourceURL
		if itemReq.URL == "" {
			itemReq.URL = req.URL
		}
		id, err := q.add(itemReq, &item)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (q *Queue) add(req Request, item *media.Item) (string, error) {
	if !selector.ValidFormat(req.Format) {
		return "", fmt.Errorf("unsupported format %q (want one of %v)", req.Format, selector.Formats)
	}
	if req.Quality == "" {
		req.Quality = "best"
	}

	c := NewCoordinator(uuid.NewString(), req, q.deps)
	c.item = item
	c.emit = q.publish
	c.paths = q.paths

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", ErrQueueShutdown
	}
	q.jobs[c.id] = c
	q.order = append(q.order, c.id)
	q.pending = append(q.pending, c)
	q.mu.Unlock()

	utils.Debug("queue: job %s submitted for %s (%s, %s)", c.id, req.URL, req.Format, req.Quality)
	q.publish(events.JobQueuedMsg{JobID: c.id, URL: req.URL, Format: req.Format, Quality: req.Quality})

	q.mu.Lock()
	q.dispatchLocked()
	q.mu.Unlock()
	return c.id, nil
}

// dispatchLocked admits pending jobs while slots are free.
func (q *Queue) dispatchLocked() {
	for !q.closed && q.active < q.limit && len(q.pending) > 0 {
		c := q.pending[0]
		q.pending = q.pending[1:]
		if c.Status().Terminal() {
			continue
		}
		q.active++
		q.wg.Add(1)
		go q.run(c)
	}
}

func (q *Queue) run(c *Coordinator) {
	defer q.wg.Done()
	c.Run(q.ctx)

	q.mu.Lock()
	q.active--
	q.dispatchLocked()
	q.mu.Unlock()
}

// Cancel stops a queued or running job.
func (q *Queue) Cancel(id string) error {
	q.mu.Lock()
	c, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return ErrJobNotFound
	}
	queued := false
	for i, p := range q.pending {
		if p == c {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			queued = true
			break
		}
	}
	q.mu.Unlock()

	if queued {
		c.finishQueued()
		return nil
	}
	if !c.Cancel() {
		return ErrJobFinished
	}
	utils.Debug("queue: cancel requested for %s", id)
	return nil
}

// Dismiss forgets a terminal job.
func (q *Queue) Dismiss(id string) error {
	q.mu.Lock()
	c, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return ErrJobNotFound
	}
	if !c.Status().Terminal() {
		q.mu.Unlock()
		return ErrJobActive
	}
	delete(q.jobs, id)
	for i, oid := range q.order {
		if oid == id {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	q.mu.Unlock()

	q.publish(events.JobRemovedMsg{JobID: id})
	return nil
}

// Status returns snapshots of every tracked job in submission order.
func (q *Queue) Status() []Snapshot {
	q.mu.Lock()
	coords := make([]*Coordinator, 0, len(q.order))
	for _, id := range q.order {
		coords = append(coords, q.jobs[id])
	}
	q.mu.Unlock()

	out := make([]Snapshot, 0, len(coords))
	for _, c := range coords {
		out = append(out, c.Snapshot())
	}
	return out
}

// Get returns the snapshot of one job.
func (q *Queue) Get(id string) (Snapshot, error) {
	q.mu.Lock()
	c, ok := q.jobs[id]
	q.mu.Unlock()
	if !ok {
		return Snapshot{}, ErrJobNotFound
	}
	return c.Snapshot(), nil
}

// Runtime returns the settings jobs run with.
func (q *Queue) Runtime() *types.RuntimeConfig {
	return q.deps.Runtime
}

// Subscribe returns a channel of job events and a function that ends the
// subscription. Progress events are dropped when the channel is full; state
// and terminal events wait briefly. Status stays the source of truth.
func (q *Queue) Subscribe() (<-chan any, func()) {
	ch := make(chan any, types.ProgressChannelBuffer)

	q.subMu.Lock()
	if q.subsClosed {
		q.subMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := q.nextSub
	q.nextSub++
	q.subs[id] = ch
	q.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			q.subMu.Lock()
			if sub, ok := q.subs[id]; ok {
				delete(q.subs, id)
				close(sub)
			}
			q.subMu.Unlock()
		})
	}
}

func (q *Queue) publish(msg any) {
	_, droppable := msg.(events.ProgressMsg)

	q.subMu.RLock()
	defer q.subMu.RUnlock()
	for _, ch := range q.subs {
		if droppable {
			select {
			case ch <- msg:
			default:
			}
			continue
		}
		timer := time.NewTimer(eventSendTimeout)
		select {
		case ch <- msg:
		case <-timer.C:
			utils.Debug("queue: dropped %T for slow subscriber", msg)
		}
		timer.Stop()
	}
}

// Shutdown cancels every job, waits for running ones to clean up and closes
// all subscriptions.
func (q *Queue) Shutdown() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	pending := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, c := range pending {
		c.finishQueued()
	}
	q.cancel()
	q.wg.Wait()

	q.subMu.Lock()
	q.subsClosed = true
	for id, ch := range q.subs {
		close(ch)
		delete(q.subs, id)
	}
	q.subMu.Unlock()
	utils.Debug("queue: shut down")
}
