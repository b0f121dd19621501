// Package history records finished jobs so they can be listed after the
// process that ran them has exited.
package history

import (
	"context"
	"errors"
	"time"

	"github.com/vidfetch/vidfetch/internal/job"
	"github.com/vidfetch/vidfetch/internal/utils"
)

// ErrNotFound is returned by Get for an unknown id.
var ErrNotFound = errors.New("history entry not found")

// Entry is the persisted form of a terminal job.
type Entry struct {
	ID         string    `json:"id"`
	URL        string    `json:"url"`
	Title      string    `json:"title"`
	Format     string    `json:"format"`
	Quality    string    `json:"quality"`
	Status     string    `json:"status"`
	OutputPath string    `json:"output_path,omitempty"`
	TotalSize  int64     `json:"total_size"`
	Error      string    `json:"error,omitempty"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// FromSnapshot converts a terminal job snapshot.
func FromSnapshot(s job.Snapshot) Entry {
	finished := s.FinishedAt
	if finished.IsZero() {
		finished = time.Now()
	}
	return Entry{
		ID:         s.ID,
		URL:        s.URL,
		Title:      s.Title,
		Format:     s.Format,
		Quality:    s.Quality,
		Status:     string(s.Status),
		OutputPath: s.OutputPath,
		TotalSize:  s.Total,
		Error:      s.Error,
		ErrorKind:  s.ErrorKind,
		CreatedAt:  s.CreatedAt,
		FinishedAt: finished,
	}
}

// Store persists history entries. Record replaces an entry with the same id.
type Store interface {
	Record(ctx context.Context, e Entry) error
	Get(ctx context.Context, id string) (Entry, error)
	List(ctx context.Context, limit int) ([]Entry, error) // newest first; limit <= 0 means all
	Delete(ctx context.Context, id string) error
	Close() error
}

// Mirrored writes to a primary store and copies every write to a secondary
// one. Reads come from the primary; secondary failures are only logged.
type Mirrored struct {
	Primary   Store
	Secondary Store
}

var _ Store = (*Mirrored)(nil)

func (m *Mirrored) Record(ctx context.Context, e Entry) error {
	if err := m.Primary.Record(ctx, e); err != nil {
		return err
	}
	if err := m.Secondary.Record(ctx, e); err != nil {
		utils.Debug("history: mirror write for %s failed: %v", e.ID, err)
	}
	return nil
}

func (m *Mirrored) Get(ctx context.Context, id string) (Entry, error) {
	return m.Primary.Get(ctx, id)
}

func (m *Mirrored) List(ctx context.Context, limit int) ([]Entry, error) {
	return m.Primary.List(ctx, limit)
}

func (m *Mirrored) Delete(ctx context.Context, id string) error {
	if err := m.Primary.Delete(ctx, id); err != nil {
		return err
	}
	if err := m.Secondary.Delete(ctx, id); err != nil {
		utils.Debug("history: mirror delete for %s failed: %v", id, err)
	}
	return nil
}

func (m *Mirrored) Close() error {
	return errors.Join(m.Primary.Close(), m.Secondary.Close())
}
