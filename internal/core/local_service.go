package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vidfetch/vidfetch/internal/engine/events"
	"github.com/vidfetch/vidfetch/internal/history"
	"github.com/vidfetch/vidfetch/internal/job"
	"github.com/vidfetch/vidfetch/internal/utils"
)

const historyWriteTimeout = 5 * time.Second

// LocalDownloadService runs jobs in this process.
type LocalDownloadService struct {
	queue *job.Queue
	store history.Store // nil disables persistence

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

var _ DownloadService = (*LocalDownloadService)(nil)

// NewLocalDownloadService wraps q. Every job that reaches a terminal state is
// written to store when one is given.
func NewLocalDownloadService(q *job.Queue, store history.Store) *LocalDownloadService {
	ctx, cancel := context.WithCancel(context.Background())
	s := &LocalDownloadService{queue: q, store: store, ctx: ctx, cancel: cancel}

	if store != nil {
		ch, stop := q.Subscribe()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer stop()
			s.recordTerminal(ch)
		}()
	}
	return s
}

func (s *LocalDownloadService) recordTerminal(ch <-chan any) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var id string
			switch m := msg.(type) {
			case events.JobCompleteMsg:
				id = m.JobID
			case events.JobErrorMsg:
				id = m.JobID
			case events.JobCancelledMsg:
				id = m.JobID
			default:
				continue
			}
			if snap, err := s.queue.Get(id); err == nil {
				s.record(snap)
			}
		}
	}
}

func (s *LocalDownloadService) record(snap job.Snapshot) {
	if s.store == nil || !snap.Status.Terminal() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyWriteTimeout)
	defer cancel()
	if err := s.store.Record(ctx, history.FromSnapshot(snap)); err != nil {
		utils.Debug("history: %v", err)
	}
}

// Queue exposes the underlying queue.
func (s *LocalDownloadService) Queue() *job.Queue {
	return s.queue
}

func (s *LocalDownloadService) List() ([]job.Snapshot, error) {
	return s.queue.Status(), nil
}

// History lists the store, or the terminal jobs still in memory without one.
func (s *LocalDownloadService) History() ([]history.Entry, error) {
	if s.store != nil {
		return s.store.List(s.ctx, 0)
	}
	var out []history.Entry
	snaps := s.queue.Status()
	for i := len(snaps) - 1; i >= 0; i-- {
		if snaps[i].Status.Terminal() {
			out = append(out, history.FromSnapshot(snaps[i]))
		}
	}
	return out, nil
}

func (s *LocalDownloadService) Add(req job.Request) (string, error) {
	return s.queue.SubmitRequest(req)
}

func (s *LocalDownloadService) AddCollection(req job.Request) ([]string, error) {
	return s.queue.SubmitCollection(s.ctx, req)
}

func (s *LocalDownloadService) Cancel(id string) error {
	return s.queue.Cancel(id)
}

// Dismiss records the job before forgetting it.
func (s *LocalDownloadService) Dismiss(id string) error {
	snap, err := s.queue.Get(id)
	if err != nil {
		return err
	}
	if !snap.Status.Terminal() {
		return job.ErrJobActive
	}
	s.record(snap)
	return s.queue.Dismiss(id)
}

func (s *LocalDownloadService) GetStatus(id string) (*job.Snapshot, error) {
	snap, err := s.queue.Get(id)
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *LocalDownloadService) StreamEvents(ctx context.Context) (<-chan any, func(), error) {
	if s.ctx.Err() != nil {
		return nil, nil, errors.New("service is shut down")
	}
	ch, stop := s.queue.Subscribe()
	if ctx != nil {
		go func() {
			select {
			case <-ctx.Done():
				stop()
			case <-s.ctx.Done():
			}
		}()
	}
	return ch, stop, nil
}

// Shutdown cancels running jobs, waits for their cleanup and records every
// terminal job before closing the store.
func (s *LocalDownloadService) Shutdown() error {
	var err error
	s.once.Do(func() {
		s.queue.Shutdown()
		s.cancel()
		s.wg.Wait()

		if s.store != nil {
			for _, snap := range s.queue.Status() {
				s.record(snap)
			}
			err = s.store.Close()
		}
	})
	return err
}
