package appsync

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/taskfuse/taskfuse/internal/todo"
)

// Provider identifies an external task service.
type Provider string

const (
	ProviderTodoist        Provider = "todoist"
	ProviderTaskDir        Provider = "taskdir"
	ProviderAppleReminders Provider = "apple_reminders"
	ProviderTickTick       Provider = "ticktick"
	ProviderGoogleTasks    Provider = "google_tasks"
	ProviderMicrosoftTodo  Provider = "microsoft_todo"
)

// String returns the string representation of the provider.
func (p Provider) String() string {
	return string(p)
}

// Direction controls which way changes flow during a sync pass.
type Direction string

const (
	DirectionBidirectional Direction = "bidirectional"
	DirectionPushOnly      Direction = "push_only" // local to remote only
	DirectionPullOnly      Direction = "pull_only" // remote to local only
)

// Strategy selects how detected conflicts are resolved.
type Strategy string

const (
	StrategyLocalWins  Strategy = "local_wins"
	StrategyRemoteWins Strategy = "remote_wins"
	StrategyNewestWins Strategy = "newest_wins"
	StrategyManual     Strategy = "manual"
	StrategySkip       Strategy = "skip"
)

// ParseDirection validates a direction name.
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case DirectionBidirectional, DirectionPushOnly, DirectionPullOnly:
		return Direction(s), nil
	}
	return "", fmt.Errorf("unknown sync direction %q", s)
}

// ParseStrategy validates a conflict strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyLocalWins, StrategyRemoteWins, StrategyNewestWins, StrategyManual, StrategySkip:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("unknown conflict strategy %q", s)
}

// Status describes the outcome of one sync pass.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusConflict  Status = "conflict"
	StatusError     Status = "error"
	StatusNoChanges Status = "no_changes"
	StatusPartial   Status = "partial"
	StatusCancelled Status = "cancelled"
)

// ConflictType classifies a detected divergence.
type ConflictType string

const (
	// ConflictModifiedBoth: both sides changed since the last sync.
	ConflictModifiedBoth ConflictType = "modified_both"

	// ConflictDeletedLocal: deleted locally while the remote side changed.
	ConflictDeletedLocal ConflictType = "deleted_local"

	// ConflictDeletedRemote: changed locally while the remote side deleted.
	ConflictDeletedRemote ConflictType = "deleted_remote"

	// ConflictBothDeleted: both sides deleted the item independently.
	ConflictBothDeleted ConflictType = "both_deleted"
)

// ExternalItem is the provider-agnostic view of a remote task.
//
// Adapters build ExternalItems during FetchItems; the value is transient and
// never persisted directly — only its hash and the Todo derived from it are.
// Timestamps are promoted to UTC on construction via Normalize.
type ExternalItem struct {
	ExternalID  string     `json:"external_id"`
	Provider    Provider   `json:"provider"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	Priority    int        `json:"priority,omitempty"` // provider-defined scale, mapped by the adapter
	Tags        []string   `json:"tags,omitempty"`
	Project     string     `json:"project,omitempty"`
	ProjectID   string     `json:"project_id,omitempty"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
	ParentID    string     `json:"parent_id,omitempty"`
	URL         string     `json:"url,omitempty"`

	// RawData carries adapter-specific fields that have no unified mapping.
	// Never included in the content hash.
	RawData map[string]any `json:"raw_data,omitempty"`
}

// Normalize promotes all populated timestamps to UTC.
func (e *ExternalItem) Normalize() {
	for _, ts := range []**time.Time{&e.DueDate, &e.CompletedAt, &e.CreatedAt, &e.UpdatedAt} {
		if *ts != nil {
			utc := (*ts).UTC()
			*ts = &utc
		}
	}
}

// ToTodo converts the external item into a local Todo. When id is zero the
// returned Todo is unsaved and storage assigns an identity on Add.
func (e *ExternalItem) ToTodo(id int64) *todo.Todo {
	t := &todo.Todo{
		ID:          id,
		Title:       e.Title,
		Description: e.Description,
		Project:     e.Project,
		Tags:        append([]string(nil), e.Tags...),
		Priority:    mapExternalPriority(e.Priority),
		DueDate:     e.DueDate,
		Completed:   e.Completed,
		CompletedAt: e.CompletedAt,
		URL:         e.URL,
	}
	if e.CreatedAt != nil {
		t.CreatedAt = *e.CreatedAt
	}
	if e.UpdatedAt != nil {
		t.UpdatedAt = *e.UpdatedAt
	}
	t.SetDefaults()
	t.Normalize()
	return t
}

// mapExternalPriority maps a generic external priority onto the local scale.
// Adapters that know their provider's scale should map before constructing
// the ExternalItem; this is the fallback.
func mapExternalPriority(p int) int {
	switch {
	case p <= 1:
		return todo.PriorityLow
	case p == 2:
		return todo.PriorityMedium
	case p == 3:
		return todo.PriorityHigh
	default:
		return todo.PriorityCritical
	}
}

// Mapping is the identity link and change-detection record for one
// (local todo, provider) pair.
//
// At most one mapping exists per (TodoID, Provider) and per
// (ExternalID, Provider); the mapping store enforces both with UNIQUE
// constraints and the orchestrator never creates a second mapping for an
// identity it already tracks.
type Mapping struct {
	TodoID     int64     `json:"todo_id"`
	ExternalID string    `json:"external_id"`
	Provider   Provider  `json:"provider"`
	LastSynced time.Time `json:"last_synced"`

	// SyncHash summarizes both sides as of the last successful sync.
	// Conflict detection compares the per-side hashes; SyncHash exists only
	// as a single "anything changed" token.
	SyncHash   string `json:"sync_hash"`
	LocalHash  string `json:"local_hash,omitempty"`
	RemoteHash string `json:"remote_hash,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	SyncCount int       `json:"sync_count"`
	LastError string    `json:"last_error,omitempty"`
}

// UpdateSync records a successful sync of this pair.
func (m *Mapping) UpdateSync(localHash, remoteHash string) {
	m.LocalHash = localHash
	m.RemoteHash = remoteHash
	m.SyncHash = CombinedHash(localHash, remoteHash)
	m.LastSynced = time.Now().UTC()
	m.SyncCount++
	m.LastError = ""
}

// CombinedHash derives the mapping's summary hash from the per-side hashes.
func CombinedHash(localHash, remoteHash string) string {
	sum := sha256.Sum256([]byte(localHash + ":" + remoteHash))
	return hex.EncodeToString(sum[:])
}

// Conflict records a detected divergence awaiting resolution.
type Conflict struct {
	ID           int64         `json:"id,omitempty"`
	TodoID       int64         `json:"todo_id"`
	ExternalID   string        `json:"external_id,omitempty"`
	Provider     Provider      `json:"provider"`
	ConflictType ConflictType  `json:"conflict_type"`
	LocalTodo    *todo.Todo    `json:"local_todo,omitempty"`
	RemoteItem   *ExternalItem `json:"remote_item,omitempty"`
	DetectedAt   time.Time     `json:"detected_at"`
	Resolved     bool          `json:"resolved"`
	Resolution   string        `json:"resolution,omitempty"`
	ResolvedAt   *time.Time    `json:"resolved_at,omitempty"`
}

// Resolve marks the conflict resolved with the given label.
func (c *Conflict) Resolve(resolution string) {
	now := time.Now().UTC()
	c.Resolved = true
	c.Resolution = resolution
	c.ResolvedAt = &now
}

// Describe returns a human-readable description of the conflict.
func (c *Conflict) Describe() string {
	title := "unknown task"
	if c.LocalTodo != nil {
		title = c.LocalTodo.Title
	} else if c.RemoteItem != nil {
		title = c.RemoteItem.Title
	}
	switch c.ConflictType {
	case ConflictModifiedBoth:
		return "both local and remote versions of '" + title + "' were modified"
	case ConflictDeletedLocal:
		return "task was deleted locally but modified remotely"
	case ConflictDeletedRemote:
		return "'" + title + "' was modified locally but deleted remotely"
	case ConflictBothDeleted:
		return "task was deleted on both sides"
	default:
		return "unknown conflict type: " + string(c.ConflictType)
	}
}

// Result is the outcome of one provider's sync pass.
//
// A Result is mutated while the pass runs and frozen by Complete; it is
// never modified after being appended to the sync history.
type Result struct {
	Status   Status   `json:"status"`
	Provider Provider `json:"provider"`

	ItemsSynced       int `json:"items_synced"`
	ItemsCreated      int `json:"items_created"`
	ItemsUpdated      int `json:"items_updated"`
	ItemsDeleted      int `json:"items_deleted"`
	ConflictsDetected int `json:"conflicts_detected"`
	ConflictsResolved int `json:"conflicts_resolved"`

	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Duration    float64    `json:"duration_seconds"`
}

// NewResult starts a Result for the given provider.
func NewResult(provider Provider) *Result {
	return &Result{
		Status:    StatusSuccess,
		Provider:  provider,
		StartedAt: time.Now().UTC(),
	}
}

// AddError appends an error message and degrades the status.
func (r *Result) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
	if r.Status == StatusSuccess {
		r.Status = StatusError
	}
}

// AddWarning appends a warning message without affecting the status.
func (r *Result) AddWarning(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// Complete freezes the result, computing the final status and duration.
// A pass with errors where some items still succeeded reports partial;
// error is reserved for passes where nothing succeeded at all.
func (r *Result) Complete() {
	now := time.Now().UTC()
	r.CompletedAt = &now
	r.Duration = now.Sub(r.StartedAt).Seconds()
	r.ItemsSynced = r.ItemsCreated + r.ItemsUpdated + r.ItemsDeleted

	switch r.Status {
	case StatusCancelled:
		return
	case StatusError:
		if r.ItemsSynced > 0 {
			r.Status = StatusPartial
		}
	case StatusSuccess:
		if r.ConflictsDetected > r.ConflictsResolved {
			r.Status = StatusConflict
		} else if r.ItemsSynced == 0 && r.ConflictsDetected == 0 {
			r.Status = StatusNoChanges
		}
	}
}

// Config holds per-provider sync configuration.
type Config struct {
	Provider  Provider  `json:"provider" yaml:"provider"`
	Enabled   bool      `json:"enabled" yaml:"enabled"`
	Direction Direction `json:"sync_direction" yaml:"sync_direction"`
	Strategy  Strategy  `json:"conflict_strategy" yaml:"conflict_strategy"`

	AutoSync     bool          `json:"auto_sync" yaml:"auto_sync"`
	SyncInterval time.Duration `json:"sync_interval" yaml:"sync_interval"`

	// Inclusion filters applied by ShouldSyncTodo.
	SyncCompleted bool `json:"sync_completed" yaml:"sync_completed"`
	SyncArchived  bool `json:"sync_archived" yaml:"sync_archived"`

	// Local-to-remote name translations.
	ProjectMappings map[string]string `json:"project_mappings,omitempty" yaml:"project_mappings,omitempty"`
	TagMappings     map[string]string `json:"tag_mappings,omitempty" yaml:"tag_mappings,omitempty"`

	// Adapter tuning.
	MaxRetries        int           `json:"max_retries" yaml:"max_retries"`
	Timeout           time.Duration `json:"timeout" yaml:"timeout"`
	RequestsPerMinute int           `json:"rate_limit_rpm" yaml:"rate_limit_rpm"`

	// Settings carries provider-specific options (e.g. taskdir path).
	Settings map[string]string `json:"settings,omitempty" yaml:"settings,omitempty"`
}

// DefaultConfig returns the default configuration for a provider.
func DefaultConfig(provider Provider) *Config {
	return &Config{
		Provider:          provider,
		Enabled:           true,
		Direction:         DirectionBidirectional,
		Strategy:          StrategyNewestWins,
		SyncInterval:      5 * time.Minute,
		SyncCompleted:     true,
		MaxRetries:        3,
		Timeout:           30 * time.Second,
		RequestsPerMinute: 50,
	}
}
