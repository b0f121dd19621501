// Package events defines the messages a job queue publishes to the
// presentation layer. Every message is JSON encodable so the daemon can
// forward it over server-sent events.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// JobQueuedMsg is sent when a job is accepted by the queue
type JobQueuedMsg struct {
	JobID   string
	URL     string
	Format  string
	Quality string
}

// JobStateMsg is sent on every state transition of a job
type JobStateMsg struct {
	JobID  string
	Status string
	Title  string `json:",omitempty"`
}

// StreamProgress is the progress of one sub-stream of a job
type StreamProgress struct {
	Kind       string // "video", "audio" or "both"
	Downloaded int64
	Total      int64 // 0 while unknown
	Retries    int
}

// ProgressMsg reports aggregated download progress for a job.
// Fraction is -1 while any sub-stream size is unknown.
type ProgressMsg struct {
	JobID             string
	Downloaded        int64
	Total             int64
	Fraction          float64
	Speed             float64 // bytes per second
	Elapsed           time.Duration
	ActiveConnections int
	Streams           []StreamProgress `json:",omitempty"`
}

// JobCompleteMsg signals that a job produced its output file
type JobCompleteMsg struct {
	JobID      string
	Title      string
	OutputPath string
	Total      int64
	Elapsed    time.Duration
}

// JobErrorMsg signals that a job failed
type JobErrorMsg struct {
	JobID string
	Title string
	Kind  string // machine readable error class
	Err   error
}

func (m JobErrorMsg) MarshalJSON() ([]byte, error) {
	type encoded struct {
		JobID string `json:"JobID"`
		Title string `json:"Title,omitempty"`
		Kind  string `json:"Kind,omitempty"`
		Err   string `json:"Err,omitempty"`
	}

	out := encoded{JobID: m.JobID, Title: m.Title, Kind: m.Kind}
	if m.Err != nil {
		out.Err = m.Err.Error()
	}
	return json.Marshal(out)
}

func (m *JobErrorMsg) UnmarshalJSON(data []byte) error {
	var aux struct {
		JobID string          `json:"JobID"`
		Title string          `json:"Title"`
		Kind  string          `json:"Kind"`
		Err   json.RawMessage `json:"Err"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	m.JobID = aux.JobID
	m.Title = aux.Title
	m.Kind = aux.Kind
	m.Err = nil

	if len(aux.Err) == 0 {
		return nil
	}

	var errStr string
	if err := json.Unmarshal(aux.Err, &errStr); err == nil {
		if errStr != "" {
			m.Err = errors.New(errStr)
		}
		return nil
	}

	// Tolerate non-string payloads (e.g. {}) from older daemons.
	raw := string(aux.Err)
	if raw != "" && raw != "null" {
		m.Err = errors.New(raw)
	}
	return nil
}

// JobCancelledMsg signals that a job was cancelled by the user
type JobCancelledMsg struct {
	JobID string
	Title string `json:",omitempty"`
}

// JobRemovedMsg signals that a terminal job was dismissed
type JobRemovedMsg struct {
	JobID string
}

// Name returns the SSE event name for msg, or "" for unknown types.
func Name(msg any) string {
	switch msg.(type) {
	case JobQueuedMsg:
		return "queued"
	case JobStateMsg:
		return "state"
	case ProgressMsg:
		return "progress"
	case JobCompleteMsg:
		return "complete"
	case JobErrorMsg:
		return "error"
	case JobCancelledMsg:
		return "cancelled"
	case JobRemovedMsg:
		return "removed"
	}
	return ""
}

// Decode parses the data of an SSE event called name back into its message.
func Decode(name string, data []byte) (any, error) {
	switch name {
	case "queued":
		return decode[JobQueuedMsg](data)
	case "state":
		return decode[JobStateMsg](data)
	case "progress":
		return decode[ProgressMsg](data)
	case "complete":
		return decode[JobCompleteMsg](data)
	case "error":
		return decode[JobErrorMsg](data)
	case "cancelled":
		return decode[JobCancelledMsg](data)
	case "removed":
		return decode[JobRemovedMsg](data)
	}
	return nil, fmt.Errorf("unknown event %q", name)
}

func decode[T any](data []byte) (any, error) {
	var m T
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}
