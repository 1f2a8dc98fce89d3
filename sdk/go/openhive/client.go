// Package openhive provides a small Go client for the OpenHive Swarm REST API.
package openhive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// DefaultPollInterval is used by WaitUntilTerminal when no interval is given.
const DefaultPollInterval = 2 * time.Second

// Client wraps the HTTP interactions with the OpenHive Swarm REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	userID     string
}

// TaskSubmission represents the payload required to create a new task.
type TaskSubmission struct {
	Instructions     string  `json:"instructions"`
	QualityThreshold float64 `json:"quality_threshold,omitempty"`
	MaxIterations    int     `json:"max_iterations,omitempty"`
	WorkerCount      int     `json:"worker_count,omitempty"`
}

// WorkerExecution mirrors one worker result inside an iteration.
type WorkerExecution struct {
	AgentID         string `json:"agent_id"`
	AssignedSubtask string `json:"assigned_subtask"`
	Result          string `json:"result"`
	TokensUsed      int64  `json:"tokens_used"`
	ExecutionTimeMS int64  `json:"execution_time_ms"`
	Success         bool   `json:"success"`
	ErrorMessage    string `json:"error_message,omitempty"`
}

// PeerMessage mirrors one agent-to-agent message recorded during an iteration.
type PeerMessage struct {
	MessageID   string `json:"message_id"`
	FromAgent   string `json:"from_agent"`
	ToAgent     string `json:"to_agent"`
	MessageType string `json:"message_type"`
	Content     string `json:"content"`
	Timestamp   int64  `json:"timestamp"`
}

// Iteration mirrors one plan-dispatch-review cycle of a task.
type Iteration struct {
	IterationNum       int               `json:"iteration_num"`
	QueenPlan          string            `json:"queen_plan"`
	WorkerExecutions   []WorkerExecution `json:"worker_executions"`
	PeerCommunications []PeerMessage     `json:"peer_communications,omitempty"`
	QueenSynthesis     string            `json:"queen_synthesis"`
	QualityScore       float64           `json:"quality_score"`
	Timestamp          int64             `json:"timestamp"`
	DurationMS         int64             `json:"duration_ms"`
}

// Task is the full server side view of an orchestrated task.
type Task struct {
	ID               string      `json:"id"`
	UserID           string      `json:"user_id"`
	Instructions     string      `json:"instructions"`
	Status           string      `json:"status"`
	QueenAgentID     string      `json:"queen_agent_id,omitempty"`
	WorkerAgents     []string    `json:"worker_agents,omitempty"`
	Iterations       []Iteration `json:"iterations"`
	QualityScore     float64     `json:"quality_score"`
	QualityThreshold float64     `json:"quality_threshold"`
	MaxIterations    int         `json:"max_iterations"`
	CreatedAt        int64       `json:"created_at"`
	CompletedAt      *int64      `json:"completed_at,omitempty"`
	ErrorMessage     string      `json:"error_message,omitempty"`
}

// Terminal reports whether the task reached a final status.
func (t *Task) Terminal() bool {
	switch t.Status {
	case "completed", "failed", "cancelled":
		return true
	default:
		return false
	}
}

// Progress is the lightweight polling view of a task.
type Progress struct {
	TaskID             string  `json:"task_id"`
	Status             string  `json:"status"`
	CurrentIteration   int     `json:"current_iteration"`
	MaxIterations      int     `json:"max_iterations"`
	QualityScore       float64 `json:"quality_score"`
	QualityThreshold   float64 `json:"quality_threshold"`
	ProgressPercentage float64 `json:"progress_percentage"`
	QueenAgent         string  `json:"queen_agent,omitempty"`
	ActiveWorkers      int     `json:"active_workers"`
	TotalTokensUsed    int64   `json:"total_tokens_used"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("openhive api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("openhive api error (%d): %s", e.StatusCode, e.Message)
}

type envelope struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *APIError       `json:"error,omitempty"`
}

// NewClient instantiates a client for the OpenHive Swarm API. The userID is
// attached to every request as the caller identity. When httpClient is nil, a
// default client with a sensible timeout is used.
func NewClient(rawURL, userID string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient, userID: userID}, nil
}

// CreateTask submits a new orchestration task.
func (c *Client) CreateTask(ctx context.Context, submission TaskSubmission) (*Task, error) {
	var created Task
	if err := c.post(ctx, "/api/v1/tasks", submission, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// GetTask fetches the full task state including all iterations.
func (c *Client) GetTask(ctx context.Context, taskID string) (*Task, error) {
	var detail Task
	if err := c.get(ctx, "/api/v1/tasks/"+url.PathEscape(taskID), &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// GetProgress fetches the lightweight progress snapshot of a task.
func (c *Client) GetProgress(ctx context.Context, taskID string) (*Progress, error) {
	var progress Progress
	if err := c.get(ctx, "/api/v1/tasks/"+url.PathEscape(taskID)+"/progress", &progress); err != nil {
		return nil, err
	}
	return &progress, nil
}

// ListOptions narrows down ListTasks results.
type ListOptions struct {
	Limit    int
	Statuses []string
	Oldest   bool
}

// ListTasks returns the caller's tasks, most recent first unless Oldest is set.
func (c *Client) ListTasks(ctx context.Context, opts ListOptions) ([]Task, error) {
	query := url.Values{}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	if len(opts.Statuses) > 0 {
		query.Set("status", strings.Join(opts.Statuses, ","))
	}
	if opts.Oldest {
		query.Set("order", "asc")
	}
	endpoint := "/api/v1/tasks"
	if encoded := query.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}

	var tasks []Task
	if err := c.get(ctx, endpoint, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// IterateTask triggers exactly one iteration and returns its record.
func (c *Client) IterateTask(ctx context.Context, taskID string) (*Iteration, error) {
	var record Iteration
	if err := c.post(ctx, "/api/v1/tasks/"+url.PathEscape(taskID)+"/iterate", nil, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// RunTask hands the task over to the server side auto-iteration loop.
func (c *Client) RunTask(ctx context.Context, taskID string) error {
	return c.post(ctx, "/api/v1/tasks/"+url.PathEscape(taskID)+"/run", nil, nil)
}

// CancelTask cancels a non-terminal task.
func (c *Client) CancelTask(ctx context.Context, taskID string) (*Task, error) {
	var cancelled Task
	if err := c.post(ctx, "/api/v1/tasks/"+url.PathEscape(taskID)+"/cancel", nil, &cancelled); err != nil {
		return nil, err
	}
	return &cancelled, nil
}

// WaitUntilTerminal polls the progress endpoint until the task reaches a
// terminal status or the context is cancelled. A non-positive interval falls
// back to DefaultPollInterval.
func (c *Client) WaitUntilTerminal(ctx context.Context, taskID string, interval time.Duration) (*Task, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		progress, err := c.GetProgress(ctx, taskID)
		if err != nil {
			return nil, err
		}
		switch progress.Status {
		case "completed", "failed", "cancelled":
			return c.GetTask(ctx, taskID)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	parts := strings.SplitN(endpoint, "?", 2)
	rel := &url.URL{Path: path.Join(c.baseURL.Path, parts[0])}
	if len(parts) == 2 {
		rel.RawQuery = parts[1]
	}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.userID != "" {
		req.Header.Set("X-User-ID", c.userID)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var env envelope
	if len(data) > 0 {
		if err := json.Unmarshal(data, &env); err != nil {
			if resp.StatusCode >= 400 {
				return &APIError{StatusCode: resp.StatusCode, Message: string(bytes.TrimSpace(data))}
			}
			return fmt.Errorf("decode response: %w", err)
		}
	}

	if resp.StatusCode >= 400 || !env.OK {
		apiErr := env.Error
		if apiErr == nil {
			apiErr = &APIError{Message: http.StatusText(resp.StatusCode)}
		}
		apiErr.StatusCode = resp.StatusCode
		return apiErr
	}

	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
