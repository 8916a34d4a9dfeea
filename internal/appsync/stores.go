package appsync

import (
	"context"

	"github.com/taskfuse/taskfuse/internal/todo"
)

// Storage is the local task store the orchestrator reads from and writes
// pulled changes into. The SQLite implementation lives in internal/storage;
// tests substitute in-memory fakes.
type Storage interface {
	// All returns every task, including completed and archived ones.
	All(ctx context.Context) ([]*todo.Todo, error)

	// Get retrieves a task by ID, or nil when it does not exist.
	Get(ctx context.Context, id int64) (*todo.Todo, error)

	// Add inserts a task and assigns its ID.
	Add(ctx context.Context, t *todo.Todo) error

	// Update replaces the stored task.
	Update(ctx context.Context, t *todo.Todo) error

	// Delete removes a task. Deleting a missing task is not an error.
	Delete(ctx context.Context, id int64) error
}

// MappingStore is the durable home of mappings and conflicts. The SQLite
// implementation lives in internal/appsync/mapstore.
//
// Implementations must enforce at most one mapping per (todo, provider)
// and per (external ID, provider).
type MappingStore interface {
	// ===== Mappings =====

	SaveMapping(ctx context.Context, m *Mapping) error
	GetMapping(ctx context.Context, todoID int64, provider Provider) (*Mapping, error)
	GetMappingByExternalID(ctx context.Context, externalID string, provider Provider) (*Mapping, error)
	ListMappings(ctx context.Context, provider Provider) ([]*Mapping, error)
	DeleteMapping(ctx context.Context, todoID int64, provider Provider) error

	// SetMappingError records a push failure on the mapping without
	// touching its hashes.
	SetMappingError(ctx context.Context, todoID int64, provider Provider, msg string) error

	// ===== Conflicts =====

	SaveConflict(ctx context.Context, c *Conflict) error
	GetConflict(ctx context.Context, id int64) (*Conflict, error)
	ListConflicts(ctx context.Context, provider Provider, includeResolved bool) ([]*Conflict, error)
	ResolveConflict(ctx context.Context, id int64, resolution string) error
}
