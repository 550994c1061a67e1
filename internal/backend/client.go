// Package backend is the HTTP client for the task backend API: task creation
// for recurring instances, task listing for the reminder scanner, and user
// notification preferences.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"todoflow/pkg/metrics"
	"todoflow/pkg/trace"
)

type Client struct {
	baseURL     string
	serviceName string
	tokenSecret []byte
	httpClient  *http.Client
}

func NewClient(baseURL, serviceName, tokenSecret string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:     baseURL,
		serviceName: serviceName,
		tokenSecret: []byte(tokenSecret),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// serviceToken signs a short-lived token identifying the calling service.
func (c *Client) serviceToken() (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss": c.serviceName,
		"sub": c.serviceName,
		"iat": now.Unix(),
		"exp": now.Add(5 * time.Minute).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.tokenSecret)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Internal-Service", c.serviceName)
	if id := trace.FromContext(ctx); id != "" {
		req.Header.Set(trace.HeaderName(), id)
	}

	token, err := c.serviceToken()
	if err != nil {
		return nil, fmt.Errorf("failed to sign service token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	return req, nil
}

// CreateTaskRequest carries the fields of a new recurring instance along
// with the linkage back to its originating task.
type CreateTaskRequest struct {
	UserID         string     `json:"-"`
	Title          string     `json:"title"`
	Description    string     `json:"description,omitempty"`
	Priority       string     `json:"priority"`
	DueDate        *time.Time `json:"due_date,omitempty"`
	ReminderOffset int        `json:"reminder_offset"`
	ParentTaskID   string     `json:"-"`
	RecurrenceID   string     `json:"-"`
}

// IdempotencyKey is the natural key of a recurring instance. The backend can
// use it to upsert, so retrying creation after a crash cannot double-create.
func (r *CreateTaskRequest) IdempotencyKey() string {
	due := ""
	if r.DueDate != nil {
		due = r.DueDate.UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf("%s:%s:%s", r.ParentTaskID, r.RecurrenceID, due)
}

type CreatedTask struct {
	ID      string     `json:"id"`
	Title   string     `json:"title"`
	DueDate *time.Time `json:"due_date,omitempty"`
}

// CreateTask creates the next instance of a recurring task. 5xx responses
// are reported as retryable transport failures.
func (c *Client) CreateTask(ctx context.Context, req CreateTaskRequest) (*CreatedTask, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := c.newRequest(ctx, http.MethodPost, "/api/tasks", body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("X-User-Id", req.UserID)
	httpReq.Header.Set("X-Parent-Task-Id", req.ParentTaskID)
	httpReq.Header.Set("X-Recurrence-Id", req.RecurrenceID)
	httpReq.Header.Set("X-Idempotency-Key", req.IdempotencyKey())

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		metrics.RecordBackendCallLatency("create_task", "error", time.Since(start))
		return nil, fmt.Errorf("failed to call task backend: %w", err)
	}
	defer resp.Body.Close()
	metrics.RecordBackendCallLatency("create_task", fmt.Sprintf("%d", resp.StatusCode), time.Since(start))

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("task backend 5xx: %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("task backend error: %d", resp.StatusCode)
	}

	var created CreatedTask
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return nil, fmt.Errorf("failed to decode created task: %w", err)
	}
	return &created, nil
}

// UpcomingTask is a task row returned by the due-before listing.
type UpcomingTask struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	Title          string     `json:"title"`
	DueDate        *time.Time `json:"due_date"`
	ReminderOffset int        `json:"reminder_offset"`
}

type taskListResponse struct {
	Tasks []UpcomingTask `json:"tasks"`
}

// ListUpcomingTasks lists incomplete tasks due before the given time.
func (c *Client) ListUpcomingTasks(ctx context.Context, dueBefore time.Time) ([]UpcomingTask, error) {
	query := url.Values{}
	query.Set("due_before", dueBefore.UTC().Format(time.RFC3339))
	query.Set("completed", "false")

	req, err := c.newRequest(ctx, http.MethodGet, "/api/tasks?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordBackendCallLatency("list_tasks", "error", time.Since(start))
		return nil, fmt.Errorf("failed to call task backend: %w", err)
	}
	defer resp.Body.Close()
	metrics.RecordBackendCallLatency("list_tasks", fmt.Sprintf("%d", resp.StatusCode), time.Since(start))

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("task backend error: %d", resp.StatusCode)
	}

	var list taskListResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("failed to decode task list: %w", err)
	}
	return list.Tasks, nil
}

// Preference is a user's notification settings. Quiet hours are "HH:MM"
// strings and may wrap midnight.
type Preference struct {
	UserID                string `json:"user_id"`
	EmailEnabled          bool   `json:"email_enabled"`
	PushEnabled           bool   `json:"push_enabled"`
	QuietHoursStart       string `json:"quiet_hours_start,omitempty"`
	QuietHoursEnd         string `json:"quiet_hours_end,omitempty"`
	Timezone              string `json:"timezone"`
	DefaultReminderOffset int    `json:"default_reminder_offset"`
}

// DefaultPreference is what applies when a user has no stored record or the
// lookup fails: both channels on, no quiet hours.
func DefaultPreference(userID string) *Preference {
	return &Preference{
		UserID:                userID,
		EmailEnabled:          true,
		PushEnabled:           true,
		Timezone:              "UTC",
		DefaultReminderOffset: 30,
	}
}

// GetPreferences fetches a user's notification preferences, falling back to
// defaults on any failure.
func (c *Client) GetPreferences(ctx context.Context, userID string) *Preference {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/notifications/preferences", nil)
	if err != nil {
		return DefaultPreference(userID)
	}
	req.Header.Set("X-User-Id", userID)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordBackendCallLatency("get_preferences", "error", time.Since(start))
		return DefaultPreference(userID)
	}
	defer resp.Body.Close()
	metrics.RecordBackendCallLatency("get_preferences", fmt.Sprintf("%d", resp.StatusCode), time.Since(start))

	if resp.StatusCode != http.StatusOK {
		return DefaultPreference(userID)
	}

	var pref Preference
	if err := json.NewDecoder(resp.Body).Decode(&pref); err != nil {
		return DefaultPreference(userID)
	}
	if pref.UserID == "" {
		pref.UserID = userID
	}
	if pref.Timezone == "" {
		pref.Timezone = "UTC"
	}
	return &pref
}
