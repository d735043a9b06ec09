package todoist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.todoist.com/rest/v2"

// TokenProvider supplies the API token. *paramstore.TokenSource satisfies it.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("todoist: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Due is the due date of a task as Todoist reports it.
type Due struct {
	String string `json:"string"`
	Date   string `json:"date"`
}

// Task is the subset of a Todoist task the assistant reads back.
type Task struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Due     *Due   `json:"due,omitempty"`
}

// NewTask describes a task to create. RequestID makes the call idempotent on
// Todoist's side.
type NewTask struct {
	Content   string
	DueString string
	RequestID string
}

type createTaskRequest struct {
	Content   string `json:"content"`
	DueString string `json:"due_string,omitempty"`
	ProjectID string `json:"project_id,omitempty"`
	SectionID string `json:"section_id,omitempty"`
}

// Client is a focused Todoist REST client scoped to one project and section.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenProvider
	projectID  string
	sectionID  string
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithProject scopes created and listed tasks. Empty values mean the inbox.
func WithProject(projectID, sectionID string) Option {
	return func(c *Client) {
		c.projectID = strings.TrimSpace(projectID)
		c.sectionID = strings.TrimSpace(sectionID)
	}
}

func NewClient(tokens TokenProvider, opts ...Option) (*Client, error) {
	if tokens == nil {
		return nil, errors.New("todoist: token provider must not be nil")
	}
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		tokens:     tokens,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// AddTask creates a task and returns it as stored.
func (c *Client) AddTask(ctx context.Context, t NewTask) (Task, error) {
	content := strings.TrimSpace(t.Content)
	if content == "" {
		return Task{}, errors.New("todoist: task content must not be empty")
	}
	body, err := json.Marshal(createTaskRequest{
		Content:   content,
		DueString: strings.TrimSpace(t.DueString),
		ProjectID: c.projectID,
		SectionID: c.sectionID,
	})
	if err != nil {
		return Task{}, fmt.Errorf("todoist: marshal task: %w", err)
	}

	endpoint := c.baseURL + "/tasks"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Task{}, fmt.Errorf("todoist: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.RequestID != "" {
		req.Header.Set("X-Request-Id", t.RequestID)
	}

	var out Task
	if err := c.do(ctx, req, endpoint, &out); err != nil {
		return Task{}, fmt.Errorf("todoist: add task: %w", err)
	}
	return out, nil
}

// ListTasks returns the open tasks of the configured project.
func (c *Client) ListTasks(ctx context.Context) ([]Task, error) {
	q := url.Values{}
	if c.projectID != "" {
		q.Set("project_id", c.projectID)
	}
	if c.sectionID != "" {
		q.Set("section_id", c.sectionID)
	}
	endpoint := c.baseURL + "/tasks"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("todoist: create request: %w", err)
	}

	var out []Task
	if err := c.do(ctx, req, endpoint, &out); err != nil {
		return nil, fmt.Errorf("todoist: list tasks: %w", err)
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, req *http.Request, endpoint string, out any) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("resolve token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return &HTTPStatusError{StatusCode: res.StatusCode, URL: endpoint, Body: string(buf)}
	}
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
