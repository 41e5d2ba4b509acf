// Package batchjob submits the offline ranking job to an Apache Livy server
// and reports its state.
package batchjob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
)

// JobState is the scheduler-neutral application state.
type JobState string

const (
	StateSubmitted        JobState = "Submitted"
	StateRunning          JobState = "Running"
	StateCompleted        JobState = "Completed"
	StateFailed           JobState = "Failed"
	StateSubmissionFailed JobState = "SubmissionFailed"
	StateNotFound         JobState = "NotFound"
	StateUnknown          JobState = "Unknown"
)

// Terminal reports whether polling can stop.
func (s JobState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateSubmissionFailed, StateNotFound:
		return true
	default:
		return false
	}
}

// Failed reports whether a terminal state is an error.
func (s JobState) Failed() bool {
	return s == StateFailed || s == StateSubmissionFailed
}

// Job is a submitted batch.
type Job struct {
	ID    int      `json:"id"`
	Name  string   `json:"name"`
	State JobState `json:"state"`
	AppID string   `json:"app_id,omitempty"`
}

// Runner is what the recompute coordinator needs from a batch scheduler.
type Runner interface {
	Submit(ctx context.Context, spec JobSpec) (Job, error)
	Status(ctx context.Context, job Job) (JobState, error)
}

type ClientOptions struct {
	HTTPClient *http.Client
	// FailureThreshold consecutive transport failures open the breaker.
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

// Client talks to the Livy REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[*http.Response]
	logger     zerolog.Logger
}

func NewClient(baseURL string, logger zerolog.Logger, opts ClientOptions) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("livy url is required")
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.FailureThreshold == 0 {
		opts.FailureThreshold = 5
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 30 * time.Second
	}

	c := &Client{baseURL: trimmed, httpClient: opts.HTTPClient, logger: logger}
	threshold := opts.FailureThreshold
	c.breaker = gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        "livy",
		MaxRequests: 1,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("batch job circuit breaker changed state")
		},
	})
	return c, nil
}

type livyBatch struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	State string `json:"state"`
	AppID string `json:"appId"`
}

type livyBatchList struct {
	From     int         `json:"from"`
	Total    int         `json:"total"`
	Sessions []livyBatch `json:"sessions"`
}

// Submit posts a new batch. Any failure to get the batch accepted is
// reported with state SubmissionFailed alongside the error.
func (c *Client) Submit(ctx context.Context, spec JobSpec) (Job, error) {
	body, err := json.Marshal(spec)
	if err != nil {
		return Job{Name: spec.Name, State: StateSubmissionFailed}, fmt.Errorf("marshal job spec: %w", err)
	}

	var created livyBatch
	if err := c.do(ctx, http.MethodPost, "/batches", body, &created); err != nil {
		return Job{Name: spec.Name, State: StateSubmissionFailed}, fmt.Errorf("submit batch %s: %w", spec.Name, err)
	}

	job := Job{ID: created.ID, Name: spec.Name, State: MapLivyState(created.State), AppID: created.AppID}
	c.logger.Info().Int("batch_id", job.ID).Str("name", job.Name).Str("state", string(job.State)).Msg("batch job submitted")
	return job, nil
}

// batchPageSize is the page size used when listing batches by name.
const batchPageSize = 100

// Status returns the state of job. A job with a batch ID is read directly
// from /batches/{id}; otherwise the newest batch with job.Name wins. A batch
// the server no longer knows is NotFound.
func (c *Client) Status(ctx context.Context, job Job) (JobState, error) {
	if job.ID > 0 {
		return c.statusByID(ctx, job.ID)
	}
	return c.statusByName(ctx, job.Name)
}

func (c *Client) statusByID(ctx context.Context, id int) (JobState, error) {
	var batch livyBatch
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/batches/%d", id), nil, &batch)
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.Code == http.StatusNotFound {
		return StateNotFound, nil
	}
	if err != nil {
		return StateUnknown, fmt.Errorf("get batch %d: %w", id, err)
	}
	return MapLivyState(batch.State), nil
}

// statusByName pages through every batch the server lists.
func (c *Client) statusByName(ctx context.Context, name string) (JobState, error) {
	var latest *livyBatch
	for from := 0; ; {
		var list livyBatchList
		path := fmt.Sprintf("/batches?from=%d&size=%d", from, batchPageSize)
		if err := c.do(ctx, http.MethodGet, path, nil, &list); err != nil {
			return StateUnknown, fmt.Errorf("list batches: %w", err)
		}
		for i := range list.Sessions {
			batch := list.Sessions[i]
			if batch.Name != name {
				continue
			}
			if latest == nil || batch.ID > latest.ID {
				latest = &batch
			}
		}
		from += len(list.Sessions)
		if len(list.Sessions) == 0 || from >= list.Total {
			break
		}
	}
	if latest == nil {
		return StateNotFound, nil
	}
	return MapLivyState(latest.State), nil
}

// MapLivyState folds Livy session states into JobState.
func MapLivyState(state string) JobState {
	switch strings.ToLower(strings.TrimSpace(state)) {
	case "not_started", "starting":
		return StateSubmitted
	case "running", "busy", "idle", "recovering", "shutting_down":
		return StateRunning
	case "success":
		return StateCompleted
	case "error", "dead", "killed":
		return StateFailed
	default:
		return StateUnknown
	}
}

// StatusError is a non-2xx Livy response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("livy returned status %d", e.Code)
	}
	return fmt.Sprintf("livy returned status %d: %s", e.Code, e.Body)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		// Livy rejects unsafe methods without this header when CSRF protection is on.
		req.Header.Set("X-Requested-By", "newsfeed")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			_ = resp.Body.Close()
			return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(payload))}
		}
		return resp, nil
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(payload))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode livy response: %w", err)
	}
	return nil
}
