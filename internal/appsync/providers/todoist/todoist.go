// Package todoist implements the Todoist adapter over the REST v2 API.
//
// The adapter owns its transport concerns: a token-bucket rate limiter in
// front of every request and bounded exponential-backoff retries for
// transient failures. Priorities are translated between Todoist's inverted
// scale (4 = urgent) and the local one (4 = critical).
package todoist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/taskfuse/taskfuse/internal/appsync"
	"github.com/taskfuse/taskfuse/internal/credentials"
	"github.com/taskfuse/taskfuse/internal/todo"
)

const defaultBaseURL = "https://api.todoist.com/rest/v2"

func init() {
	appsync.Register(appsync.ProviderTodoist, New)
}

// Adapter talks to the Todoist REST API.
type Adapter struct {
	token      string
	baseURL    string
	client     *http.Client
	limiter    *rateLimiter
	maxRetries int
}

// New constructs the adapter from config and stored credentials.
// The API token is read at construction and validated by Authenticate at
// the start of every pass.
func New(cfg *appsync.Config, creds *credentials.Store) (appsync.Adapter, error) {
	token := creds.Get(string(appsync.ProviderTodoist), "api_token")
	if token == "" {
		return nil, fmt.Errorf("todoist: no api_token stored: %w", appsync.ErrAuth)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	baseURL := defaultBaseURL
	if u := cfg.Settings["base_url"]; u != "" {
		baseURL = u
	}

	return &Adapter{
		token:      token,
		baseURL:    baseURL,
		client:     &http.Client{Timeout: timeout},
		limiter:    newRateLimiter(cfg.RequestsPerMinute),
		maxRetries: cfg.MaxRetries,
	}, nil
}

// Provider returns the provider this adapter talks to.
func (a *Adapter) Provider() appsync.Provider {
	return appsync.ProviderTodoist
}

// Authenticate validates the token with a cheap projects request.
func (a *Adapter) Authenticate(ctx context.Context) error {
	_, err := a.request(ctx, http.MethodGet, "/projects", nil)
	return err
}

// task is the wire representation of a Todoist task.
type task struct {
	ID          string   `json:"id"`
	Content     string   `json:"content"`
	Description string   `json:"description,omitempty"`
	ProjectID   string   `json:"project_id,omitempty"`
	Labels      []string `json:"labels,omitempty"`
	Priority    int      `json:"priority,omitempty"`
	IsCompleted bool     `json:"is_completed,omitempty"`
	CreatedAt   string   `json:"created_at,omitempty"`
	URL         string   `json:"url,omitempty"`
	Due         *struct {
		Date     string `json:"date"`
		Datetime string `json:"datetime,omitempty"`
	} `json:"due,omitempty"`
}

// FetchItems returns tasks changed since the given time.
// The REST API has no modified-since filter, so the full active set is
// fetched and filtered client-side; a nil since returns everything.
func (a *Adapter) FetchItems(ctx context.Context, since *time.Time) ([]*appsync.ExternalItem, error) {
	body, err := a.request(ctx, http.MethodGet, "/tasks", nil)
	if err != nil {
		return nil, err
	}

	var tasks []task
	if err := json.Unmarshal(body, &tasks); err != nil {
		return nil, fmt.Errorf("todoist: decoding tasks: %w", err)
	}

	items := make([]*appsync.ExternalItem, 0, len(tasks))
	for i := range tasks {
		item := externalFromTask(&tasks[i])
		if since != nil && item.UpdatedAt != nil && item.UpdatedAt.Before(*since) {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// CreateItem creates the task and returns its Todoist ID.
func (a *Adapter) CreateItem(ctx context.Context, item *appsync.ExternalItem) (string, error) {
	payload := taskPayload(item)
	body, err := a.request(ctx, http.MethodPost, "/tasks", payload)
	if err != nil {
		return "", err
	}

	var created task
	if err := json.Unmarshal(body, &created); err != nil {
		return "", fmt.Errorf("todoist: decoding created task: %w", err)
	}

	// Completion is a separate endpoint in the REST API.
	if item.Completed {
		if _, err := a.request(ctx, http.MethodPost, "/tasks/"+created.ID+"/close", nil); err != nil {
			return created.ID, fmt.Errorf("todoist: closing created task: %w", err)
		}
	}
	return created.ID, nil
}

// UpdateItem updates the task identified by item.ExternalID.
func (a *Adapter) UpdateItem(ctx context.Context, item *appsync.ExternalItem) error {
	payload := taskPayload(item)
	if _, err := a.request(ctx, http.MethodPost, "/tasks/"+item.ExternalID, payload); err != nil {
		return err
	}

	// Reconcile completion state.
	endpoint := "/tasks/" + item.ExternalID + "/reopen"
	if item.Completed {
		endpoint = "/tasks/" + item.ExternalID + "/close"
	}
	if _, err := a.request(ctx, http.MethodPost, endpoint, nil); err != nil {
		return fmt.Errorf("todoist: updating completion: %w", err)
	}
	return nil
}

// DeleteItem deletes the task. A missing task is not an error.
func (a *Adapter) DeleteItem(ctx context.Context, externalID string) error {
	_, err := a.request(ctx, http.MethodDelete, "/tasks/"+externalID, nil)
	if appsync.IsItemNotFound(err) {
		return nil
	}
	return err
}

// VerifyItemExists checks the task with a direct GET. Transport failures
// report true: uncertainty must never authorize a local deletion.
func (a *Adapter) VerifyItemExists(ctx context.Context, externalID string) (bool, error) {
	_, err := a.request(ctx, http.MethodGet, "/tasks/"+externalID, nil)
	if err == nil {
		return true, nil
	}
	if appsync.IsItemNotFound(err) {
		return false, nil
	}
	return true, err
}

// SupportedFeatures reports the fields Todoist can represent.
func (a *Adapter) SupportedFeatures() map[string]bool {
	return map[string]bool{
		"due_dates":  true,
		"priorities": true,
		"tags":       true,
		"projects":   true,
		"completion": true,
	}
}

// RequiredCredentials lists the credential keys the adapter needs.
func (a *Adapter) RequiredCredentials() []string {
	return []string{"api_token"}
}

// request performs one rate-limited, retried API call and returns the
// response body.
func (a *Adapter) request(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var body []byte
	err := withRetry(ctx, a.maxRetries, func() error {
		if err := a.limiter.wait(ctx); err != nil {
			return err
		}

		var reqBody io.Reader
		if payload != nil {
			data, err := json.Marshal(payload)
			if err != nil {
				return fmt.Errorf("todoist: encoding request: %w", err)
			}
			reqBody = bytes.NewReader(data)
		}

		req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reqBody)
		if err != nil {
			return fmt.Errorf("todoist: building request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+a.token)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := a.client.Do(req)
		if err != nil {
			return fmt.Errorf("todoist: %v: %w", err, appsync.ErrNetwork)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("todoist: reading response: %w", appsync.ErrNetwork)
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			body = data
			return nil
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return fmt.Errorf("todoist: HTTP %d: %w", resp.StatusCode, appsync.ErrAuth)
		case resp.StatusCode == http.StatusNotFound:
			return fmt.Errorf("todoist: HTTP 404: %w", appsync.ErrItemNotFound)
		case resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("todoist: HTTP 429: %w", appsync.ErrRateLimited)
		case resp.StatusCode >= 500:
			return fmt.Errorf("todoist: HTTP %d: %w", resp.StatusCode, appsync.ErrNetwork)
		default:
			return fmt.Errorf("todoist: HTTP %d: %s: %w", resp.StatusCode, string(data), appsync.ErrValidation)
		}
	})
	return body, err
}

// taskPayload builds the request body for create and update calls.
func taskPayload(item *appsync.ExternalItem) map[string]any {
	payload := map[string]any{
		"content":     item.Title,
		"description": item.Description,
		"priority":    toTodoistPriority(item.Priority),
		"labels":      item.Tags,
	}
	if item.DueDate != nil {
		payload["due_datetime"] = item.DueDate.UTC().Format(time.RFC3339)
	}
	if item.ProjectID != "" {
		payload["project_id"] = item.ProjectID
	}
	return payload
}

// externalFromTask converts a wire task to the provider-agnostic form.
func externalFromTask(t *task) *appsync.ExternalItem {
	item := &appsync.ExternalItem{
		ExternalID:  t.ID,
		Provider:    appsync.ProviderTodoist,
		Title:       t.Content,
		Description: t.Description,
		Priority:    fromTodoistPriority(t.Priority),
		Tags:        t.Labels,
		ProjectID:   t.ProjectID,
		Completed:   t.IsCompleted,
		URL:         t.URL,
	}

	if t.CreatedAt != "" {
		if ts, err := time.Parse(time.RFC3339, t.CreatedAt); err == nil {
			item.CreatedAt = &ts
		}
	}
	if t.Due != nil {
		raw := t.Due.Datetime
		layout := time.RFC3339
		if raw == "" {
			raw = t.Due.Date
			layout = "2006-01-02"
		}
		if ts, err := time.Parse(layout, raw); err == nil {
			utc := ts.UTC()
			item.DueDate = &utc
		}
	}

	item.Normalize()
	return item
}

// Todoist priorities are inverted: 4 is urgent, 1 is normal.
func toTodoistPriority(p int) int {
	switch p {
	case todo.PriorityCritical:
		return 4
	case todo.PriorityHigh:
		return 3
	case todo.PriorityMedium:
		return 2
	default:
		return 1
	}
}

func fromTodoistPriority(p int) int {
	switch p {
	case 4:
		return todo.PriorityCritical
	case 3:
		return todo.PriorityHigh
	case 2:
		return todo.PriorityMedium
	default:
		return todo.PriorityLow
	}
}
