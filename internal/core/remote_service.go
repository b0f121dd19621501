package core

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vidfetch/vidfetch/internal/engine/events"
	"github.com/vidfetch/vidfetch/internal/history"
	"github.com/vidfetch/vidfetch/internal/job"
)

// APIError is a non-2xx answer from the daemon.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Message)
}

// Unwrap maps well-known statuses back to the job package's sentinels.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return job.ErrJobNotFound
	case http.StatusConflict:
		return job.ErrJobActive
	case http.StatusGone:
		return job.ErrJobFinished
	}
	return nil
}

// RemoteDownloadService implements DownloadService for a remote daemon.
type RemoteDownloadService struct {
	BaseURL   string
	Token     string
	Client    *http.Client
	SSEClient *http.Client
	ctx       context.Context
	cancel    context.CancelFunc
}

var _ DownloadService = (*RemoteDownloadService)(nil)

// NewRemoteDownloadService creates a new remote service instance.
func NewRemoteDownloadService(baseURL string, token string) *RemoteDownloadService {
	ctx, cancel := context.WithCancel(context.Background())
	return &RemoteDownloadService{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		Token:     token,
		Client:    &http.Client{Timeout: 30 * time.Second},
		SSEClient: &http.Client{},
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (s *RemoteDownloadService) doRequest(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequestWithContext(s.ctx, method, s.BaseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", "Bearer "+s.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		defer func() { _ = resp.Body.Close() }()
		// Limit error body read to 1KB
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(bodyBytes))}
	}

	return resp, nil
}

func (s *RemoteDownloadService) getJSON(path string, out any) error {
	resp, err := s.doRequest(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	return json.NewDecoder(resp.Body).Decode(out)
}

func (s *RemoteDownloadService) post(path string) error {
	resp, err := s.doRequest(http.MethodPost, path, nil)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	return nil
}

// List returns the snapshots of all tracked jobs.
func (s *RemoteDownloadService) List() ([]job.Snapshot, error) {
	var snaps []job.Snapshot
	if err := s.getJSON("/list", &snaps); err != nil {
		return nil, err
	}
	return snaps, nil
}

// History returns finished jobs
func (s *RemoteDownloadService) History() ([]history.Entry, error) {
	var entries []history.Entry
	if err := s.getJSON("/history", &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// GetStatus returns the snapshot of a single job.
func (s *RemoteDownloadService) GetStatus(id string) (*job.Snapshot, error) {
	var snap job.Snapshot
	if err := s.getJSON("/download?id="+url.QueryEscape(id), &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Add queues a new job.
func (s *RemoteDownloadService) Add(req job.Request) (string, error) {
	ids, err := s.submit("/download", req)
	if err != nil {
		return "", err
	}
	if len(ids) == 0 {
		return "", fmt.Errorf("daemon returned no job id")
	}
	return ids[0], nil
}

// AddCollection queues one job per collection entry.
func (s *RemoteDownloadService) AddCollection(req job.Request) ([]string, error) {
	return s.submit("/download?collection=1", req)
}

func (s *RemoteDownloadService) submit(path string, req job.Request) ([]string, error) {
	resp, err := s.doRequest(http.MethodPost, path, req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var result struct {
		ID  string   `json:"id"`
		IDs []string `json:"ids"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	if result.ID != "" {
		return []string{result.ID}, nil
	}
	return result.IDs, nil
}

// Cancel stops a job on the daemon.
func (s *RemoteDownloadService) Cancel(id string) error {
	return s.post("/cancel?id=" + url.QueryEscape(id))
}

// Dismiss forgets a finished job on the daemon.
func (s *RemoteDownloadService) Dismiss(id string) error {
	return s.post("/dismiss?id=" + url.QueryEscape(id))
}

// Shutdown stops the client side; the daemon keeps running.
func (s *RemoteDownloadService) Shutdown() error {
	s.cancel()
	return nil
}

// StreamEvents returns a channel that receives job events via SSE.
func (s *RemoteDownloadService) StreamEvents(ctx context.Context) (<-chan any, func(), error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := context.WithCancel(ctx)
	ch := make(chan any, 100)
	go s.streamWithReconnect(ctx, ch)
	return ch, stop, nil
}

func (s *RemoteDownloadService) streamWithReconnect(ctx context.Context, ch chan any) {
	defer close(ch)
	backoff := 1 * time.Second
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ctx.Done():
			return
		default:
		}

		err := s.connectSSE(ctx, ch)
		if err == nil {
			return
		}
		select {
		case <-s.ctx.Done():
			return
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (s *RemoteDownloadService) connectSSE(ctx context.Context, ch chan any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.BaseURL+"/events", nil)
	if err != nil {
		return err
	}

	req.Header.Set("Authorization", "Bearer "+s.Token)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Connection", "keep-alive")

	resp, err := s.SSEClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to connect to event stream: %s", resp.Status)
	}

	return readSSE(resp.Body, func(name string, data []byte) {
		msg, err := events.Decode(name, data)
		if err != nil {
			return
		}
		if _, progress := msg.(events.ProgressMsg); progress {
			select {
			case ch <- msg:
			default:
			}
			return
		}
		select {
		case ch <- msg:
		case <-ctx.Done():
		}
	})
}

// readSSE parses a text/event-stream body and calls dispatch per event until
// the body ends.
func readSSE(body io.Reader, dispatch func(name string, data []byte)) error {
	reader := bufio.NewReader(body)
	for {
		eventType := ""
		var dataLines []string

		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				return err
			}
			line = strings.TrimRight(line, "\r\n")

			// Blank line dispatches event
			if line == "" {
				break
			}
			// Comment/heartbeat
			if strings.HasPrefix(line, ":") {
				continue
			}
			if strings.HasPrefix(line, "event:") {
				eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
				continue
			}
			if strings.HasPrefix(line, "data:") {
				dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
			}
		}

		if eventType == "" || len(dataLines) == 0 {
			continue
		}
		dispatch(eventType, []byte(strings.Join(dataLines, "\n")))
	}
}
