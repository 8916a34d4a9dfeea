// Package todo provides the local task data model shared by storage and sync.
package todo

import (
	"fmt"
	"time"
)

// Priority levels for local tasks, lowest to highest urgency.
// Adapters map these onto each provider's own scale.
const (
	PriorityLow      = 1
	PriorityMedium   = 2
	PriorityHigh     = 3
	PriorityCritical = 4
)

// Todo represents a locally stored task.
//
// All timestamp fields are kept in UTC. Use Normalize after constructing a
// Todo from external input to promote naive or zoned times to UTC.
type Todo struct {
	// ===== Core Identification =====
	ID int64 `json:"id"`

	// ===== Content =====
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`

	// ===== Organization =====
	Project string   `json:"project"`
	Tags    []string `json:"tags,omitempty"`

	// ===== Priority & Scheduling =====
	Priority int        `json:"priority"` // 1-4 (1=low, 4=critical)
	DueDate  *time.Time `json:"due_date,omitempty"`

	// ===== Completion =====
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Archived    bool       `json:"archived,omitempty"`

	// ===== Metadata =====
	URL       string    `json:"url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks that the Todo has usable field values.
func (t *Todo) Validate() error {
	if t.Title == "" {
		return fmt.Errorf("title is required")
	}
	if len(t.Title) > 500 {
		return fmt.Errorf("title must be 500 characters or less (got %d)", len(t.Title))
	}
	if t.Priority < PriorityLow || t.Priority > PriorityCritical {
		return fmt.Errorf("priority must be between %d and %d (got %d)", PriorityLow, PriorityCritical, t.Priority)
	}
	return nil
}

// SetDefaults applies default values for optional fields.
func (t *Todo) SetDefaults() {
	if t.Project == "" {
		t.Project = "inbox"
	}
	if t.Priority == 0 {
		t.Priority = PriorityMedium
	}
	if t.Tags == nil {
		t.Tags = []string{}
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = now
	}
}

// Normalize promotes every populated timestamp to UTC and keeps the
// completion fields consistent (a completed task always has CompletedAt).
func (t *Todo) Normalize() {
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	if t.DueDate != nil {
		utc := t.DueDate.UTC()
		t.DueDate = &utc
	}
	if t.CompletedAt != nil {
		utc := t.CompletedAt.UTC()
		t.CompletedAt = &utc
	}
	if t.Completed && t.CompletedAt == nil {
		now := time.Now().UTC()
		t.CompletedAt = &now
	}
	if !t.Completed {
		t.CompletedAt = nil
	}
}

// Touch sets UpdatedAt to the current time.
// Call whenever any field is modified.
func (t *Todo) Touch() {
	t.UpdatedAt = time.Now().UTC()
}

// Complete marks the task as done at the given time (now if zero).
func (t *Todo) Complete(at time.Time) {
	if at.IsZero() {
		at = time.Now()
	}
	utc := at.UTC()
	t.Completed = true
	t.CompletedAt = &utc
	t.Touch()
}

// Clone returns a deep copy of the Todo.
func (t *Todo) Clone() *Todo {
	c := *t
	if t.Tags != nil {
		c.Tags = append([]string(nil), t.Tags...)
	}
	if t.DueDate != nil {
		d := *t.DueDate
		c.DueDate = &d
	}
	if t.CompletedAt != nil {
		d := *t.CompletedAt
		c.CompletedAt = &d
	}
	return &c
}
