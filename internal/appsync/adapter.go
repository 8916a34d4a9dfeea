package appsync

import (
	"context"
	"time"
)

// Adapter is the contract every external provider integration implements.
//
// The orchestrator drives adapters through this interface only; nothing
// outside an adapter's own package knows about the provider's wire format.
// Adapters own their transport concerns (rate limiting, retry with backoff,
// timeouts) — a call that returns has already exhausted its retries.
//
// All methods take a context for cancellation. Errors should wrap the
// sentinels in errors.go so callers can classify them with errors.Is.
type Adapter interface {
	// ===== Identity =====

	// Provider returns the provider this adapter talks to.
	Provider() Provider

	// ===== Authentication =====

	// Authenticate validates credentials with the provider.
	// Called at the start of every pass; a failure aborts the pass
	// before any items are touched.
	Authenticate(ctx context.Context) error

	// ===== Remote item operations =====

	// FetchItems returns remote items changed since the given time.
	// A nil since requests everything. The returned slice may be empty.
	FetchItems(ctx context.Context, since *time.Time) ([]*ExternalItem, error)

	// CreateItem creates the item remotely and returns its external ID.
	CreateItem(ctx context.Context, item *ExternalItem) (string, error)

	// UpdateItem updates the remote item identified by item.ExternalID.
	// Returns ErrItemNotFound (wrapped) when the remote item no longer
	// exists, which the orchestrator treats as a stale mapping.
	UpdateItem(ctx context.Context, item *ExternalItem) error

	// DeleteItem deletes the remote item. Deleting an already-deleted
	// item is not an error.
	DeleteItem(ctx context.Context, externalID string) error

	// VerifyItemExists reports whether the remote item still exists.
	// Implementations must return true when existence cannot be
	// determined (network trouble, provider ambiguity): a false return
	// authorizes a local deletion, so uncertainty must never produce
	// one.
	VerifyItemExists(ctx context.Context, externalID string) (bool, error)

	// ===== Capabilities =====

	// SupportedFeatures reports which optional fields the provider can
	// represent (e.g. "due_dates", "priorities", "tags", "projects").
	SupportedFeatures() map[string]bool

	// RequiredCredentials lists the credential keys the adapter needs
	// (e.g. "api_token").
	RequiredCredentials() []string
}

// ShouldSyncTodo applies the config's inclusion filters to a local task.
// Completed and archived tasks are excluded unless the config opts in.
func ShouldSyncTodo(cfg *Config, completed, archived bool) bool {
	if completed && !cfg.SyncCompleted {
		return false
	}
	if archived && !cfg.SyncArchived {
		return false
	}
	return true
}
