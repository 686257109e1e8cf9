package prosyncsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal prosync HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// User represents the API user model (partial).
type User struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Role     string `json:"role"`
	Username string `json:"username"`
	Status   string `json:"status"`
	IsAdmin  bool   `json:"isAdmin"`
}

type Task struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Completed     bool   `json:"completed"`
	Stage         string `json:"stage"`
	ResponsibleID string `json:"responsibleId,omitempty"`
	Observations  string `json:"observations,omitempty"`
	CompletedAt   string `json:"completedAt,omitempty"`
}

type Comment struct {
	ID         string `json:"id"`
	AuthorID   string `json:"authorId"`
	AuthorName string `json:"authorName"`
	Content    string `json:"content"`
	Timestamp  string `json:"timestamp"`
}

// Project is a project with its derived progress.
type Project struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	ResponsibleID   string    `json:"responsibleId"`
	ResponsibleName string    `json:"responsibleName"`
	AssignedUserIDs []string  `json:"assignedUserIds"`
	Status          string    `json:"status"`
	Progress        int       `json:"progress"`
	Tasks           []Task    `json:"tasks"`
	Comments        []Comment `json:"comments"`
	UpdatedAt       string    `json:"updatedAt"`
}

type Stats struct {
	TotalProjects int            `json:"totalProjects"`
	Members       int            `json:"members"`
	ByStatus      map[string]int `json:"byStatus"`
}

// Summary counts the collections written by an import or pull.
type Summary struct {
	Users    int `json:"users"`
	Projects int `json:"projects"`
	Agenda   int `json:"agenda"`
}

// Delivery reports where a pushed change script went.
type Delivery struct {
	Direct      bool   `json:"direct"`
	Location    string `json:"location,omitempty"`
	DirectError string `json:"directError,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d code=%s body=%s", e.StatusCode, e.Code, e.Body)
}

// Login opens a session and keeps its token on the client.
func (c *Client) Login(ctx context.Context, username, password string, remember bool) (User, error) {
	body := map[string]any{
		"username": username,
		"password": password,
		"remember": remember,
	}
	var resp struct {
		Token string `json:"token"`
		User  User   `json:"user"`
	}
	if err := c.do(ctx, http.MethodPost, "v1/auth/login", body, &resp); err != nil {
		return User{}, err
	}
	c.BearerToken = resp.Token
	return resp.User, nil
}

func (c *Client) Me(ctx context.Context) (User, error) {
	var resp User
	err := c.do(ctx, http.MethodGet, "v1/me", nil, &resp)
	return resp, err
}

func (c *Client) Users(ctx context.Context) ([]User, error) {
	var resp []User
	err := c.do(ctx, http.MethodGet, "v1/users", nil, &resp)
	return resp, err
}

// Projects lists projects, most recently updated first.
func (c *Client) Projects(ctx context.Context) ([]Project, error) {
	var resp []Project
	err := c.do(ctx, http.MethodGet, "v1/projects", nil, &resp)
	return resp, err
}

func (c *Client) Project(ctx context.Context, id string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodGet, projectPath(id, ""), nil, &resp)
	return resp, err
}

// CreateProject creates a project in the backlog column.
func (c *Client) CreateProject(ctx context.Context, title, description string) (Project, error) {
	body := map[string]any{
		"title":       title,
		"description": description,
	}
	var resp Project
	err := c.do(ctx, http.MethodPost, "v1/projects", body, &resp)
	return resp, err
}

func (c *Client) SetStatus(ctx context.Context, projectID, status string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPut, projectPath(projectID, "status"), map[string]any{"status": status}, &resp)
	return resp, err
}

func (c *Client) AddTask(ctx context.Context, projectID, title, stage string) (Task, error) {
	body := map[string]any{
		"title": title,
		"stage": stage,
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, projectPath(projectID, "tasks"), body, &resp)
	return resp, err
}

// ToggleTask flips a task between open and completed.
func (c *Client) ToggleTask(ctx context.Context, projectID, taskID string) (Task, error) {
	var resp Task
	endpoint := projectPath(projectID, fmt.Sprintf("tasks/%s/toggle", url.PathEscape(taskID)))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) AddComment(ctx context.Context, projectID, content string) (Comment, error) {
	var resp Comment
	err := c.do(ctx, http.MethodPost, projectPath(projectID, "comments"), map[string]any{"content": content}, &resp)
	return resp, err
}

func (c *Client) Stats(ctx context.Context) (Stats, error) {
	var resp Stats
	err := c.do(ctx, http.MethodGet, "v1/stats", nil, &resp)
	return resp, err
}

// Export downloads the full backup document.
func (c *Client) Export(ctx context.Context) ([]byte, error) {
	var resp json.RawMessage
	err := c.do(ctx, http.MethodGet, "v1/sync/export", nil, &resp)
	return resp, err
}

// Import replaces all server data with a backup document.
func (c *Client) Import(ctx context.Context, doc []byte) (Summary, error) {
	var resp Summary
	err := c.do(ctx, http.MethodPost, "v1/sync/import", json.RawMessage(doc), &resp)
	return resp, err
}

func (c *Client) Pull(ctx context.Context) (Summary, error) {
	var resp Summary
	err := c.do(ctx, http.MethodPost, "v1/sync/pull", nil, &resp)
	return resp, err
}

// Script returns the relational change script as text.
func (c *Client) Script(ctx context.Context) (string, error) {
	var buf bytes.Buffer
	err := c.do(ctx, http.MethodGet, "v1/sync/script", nil, &buf)
	return buf.String(), err
}

func (c *Client) Push(ctx context.Context) (Delivery, error) {
	var resp Delivery
	err := c.do(ctx, http.MethodPost, "v1/sync/push", nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
		}
		return apiErr
	}
	switch dst := out.(type) {
	case nil:
		return nil
	case *bytes.Buffer:
		_, err := io.Copy(dst, resp.Body)
		return err
	default:
		return json.NewDecoder(resp.Body).Decode(out)
	}
}

func projectPath(id, p string) string {
	endpoint := "v1/projects/" + url.PathEscape(id)
	if p != "" {
		endpoint += "/" + strings.TrimLeft(p, "/")
	}
	return endpoint
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
