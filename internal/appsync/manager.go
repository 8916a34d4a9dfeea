// Package appsync reconciles the local task store with external providers.
//
// The Manager is the orchestrator: it fans out over configured providers,
// drives each adapter through a push/pull pass with hash-based change
// detection, detects deletions on both sides, and resolves conflicts
// according to the configured strategy. Results are kept in a bounded
// in-memory history; identity mappings and conflicts are durable in the
// mapping store.
package appsync

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/taskfuse/taskfuse/internal/credentials"
	"github.com/taskfuse/taskfuse/internal/todo"
)

// maxHistory bounds the in-memory result history per manager.
const maxHistory = 100

// Event types delivered to listeners registered with OnEvent.
const (
	EventSyncStarted      = "sync_started"
	EventSyncComplete     = "sync_complete"
	EventConflictDetected = "conflict_detected"
)

// Event describes something the dashboard and daemon may want to surface.
type Event struct {
	Type     string    `json:"type"`
	Provider Provider  `json:"provider"`
	Result   *Result   `json:"result,omitempty"`
	Conflict *Conflict `json:"conflict,omitempty"`
}

// Manager orchestrates sync passes across all configured providers.
//
// A Manager is safe for concurrent use. At most one pass runs per provider
// at a time; passes for different providers run concurrently.
type Manager struct {
	storage Storage
	maps    MappingStore
	creds   *credentials.Store
	logger  *log.Logger

	mu        sync.Mutex
	configs   map[Provider]*Config
	ops       map[Provider]*operation
	history   []*Result
	listeners []func(Event)
}

// New creates a Manager.
// If logger is nil, logs are written to stderr with a "[sync] " prefix.
func New(storage Storage, maps MappingStore, creds *credentials.Store, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &Manager{
		storage: storage,
		maps:    maps,
		creds:   creds,
		logger:  logger,
		configs: make(map[Provider]*Config),
		ops:     make(map[Provider]*operation),
	}
}

// Configure registers or replaces the configuration for a provider.
func (m *Manager) Configure(cfg *Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[cfg.Provider] = cfg
}

// Configs returns a snapshot of the registered provider configurations.
func (m *Manager) Configs() []*Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Config, 0, len(m.configs))
	for _, cfg := range m.configs {
		out = append(out, cfg)
	}
	return out
}

// OnEvent registers a listener for sync events. Listeners are called
// synchronously from the sync goroutine and must not block.
func (m *Manager) OnEvent(fn func(Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

func (m *Manager) emit(ev Event) {
	m.mu.Lock()
	listeners := append([]func(Event){}, m.listeners...)
	m.mu.Unlock()
	for _, fn := range listeners {
		fn(ev)
	}
}

// ===== Pass entry points =====

// SyncAll runs a pass for every enabled provider concurrently and returns
// the results keyed by provider. A provider whose pass could not start at
// all (unregistered, bad credentials) still gets an error-status result.
// An optional strategy overrides every provider's configured conflict
// strategy for this run only.
func (m *Manager) SyncAll(ctx context.Context, override ...Strategy) map[Provider]*Result {
	m.mu.Lock()
	var providers []Provider
	for p, cfg := range m.configs {
		if cfg.Enabled {
			providers = append(providers, p)
		}
	}
	m.mu.Unlock()

	results := make(map[Provider]*Result, len(providers))
	var resMu sync.Mutex
	var wg sync.WaitGroup

	for _, p := range providers {
		wg.Add(1)
		go func(p Provider) {
			defer wg.Done()
			res, err := m.SyncProvider(ctx, p, override...)
			if err != nil && res == nil {
				res = NewResult(p)
				res.AddError(err.Error())
				res.Complete()
			}
			resMu.Lock()
			results[p] = res
			resMu.Unlock()
		}(p)
	}

	wg.Wait()
	return results
}

// SyncProvider runs a single pass for one provider. An optional strategy
// overrides the configured conflict strategy for this run only; the
// registered configuration is left untouched.
//
// Returns ErrProviderNotRegistered, ErrProviderDisabled or
// ErrSyncInProgress without a result when the pass cannot start. Once a
// pass starts, failures are reported inside the returned Result and the
// error return is reserved for store-level failures.
func (m *Manager) SyncProvider(ctx context.Context, provider Provider, override ...Strategy) (*Result, error) {
	if !IsRegistered(provider) {
		return nil, fmt.Errorf("provider %s: %w", provider, ErrProviderNotRegistered)
	}

	m.mu.Lock()
	cfg, ok := m.configs[provider]
	if !ok || !cfg.Enabled {
		m.mu.Unlock()
		return nil, fmt.Errorf("provider %s: %w", provider, ErrProviderDisabled)
	}
	if len(override) > 0 && override[0] != "" {
		run := *cfg
		run.Strategy = override[0]
		cfg = &run
	}
	if _, running := m.ops[provider]; running {
		m.mu.Unlock()
		return nil, fmt.Errorf("provider %s: %w", provider, ErrSyncInProgress)
	}
	op := newOperation(provider)
	m.ops[provider] = op
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.ops, provider)
		m.mu.Unlock()
	}()

	m.emit(Event{Type: EventSyncStarted, Provider: provider})
	m.logger.Printf("starting %s pass for %s", cfg.Direction, provider)

	result := m.runPass(ctx, op, cfg)
	result.Complete()
	m.appendHistory(result)

	m.logger.Printf("%s pass finished: status=%s synced=%d conflicts=%d errors=%d (%.2fs)",
		provider, result.Status, result.ItemsSynced, result.ConflictsDetected,
		len(result.Errors), result.Duration)
	m.emit(Event{Type: EventSyncComplete, Provider: provider, Result: result})

	return result, nil
}

// runPass executes the phases of one sync pass. Store-level failures are
// recorded on the result rather than propagated; the pass always produces
// a Result.
func (m *Manager) runPass(ctx context.Context, op *operation, cfg *Config) *Result {
	provider := cfg.Provider
	result := NewResult(provider)

	constructor := getConstructor(provider)
	ad, err := constructor(cfg, m.creds)
	if err != nil {
		result.AddError(fmt.Sprintf("constructing adapter: %v", err))
		return result
	}

	// Phase: authenticate. A failure here aborts before any item is
	// touched.
	op.setPhase(PhaseAuth)
	if err := ad.Authenticate(ctx); err != nil {
		result.AddError(fmt.Sprintf("authentication: %v", err))
		return result
	}

	if op.isCancelled() {
		result.Status = StatusCancelled
		return result
	}

	// Phase: fetch remote changes since the last successful pass.
	op.setPhase(PhaseFetch)
	since := m.lastSuccess(provider)
	items, err := ad.FetchItems(ctx, since)
	if err != nil {
		result.AddError(fmt.Sprintf("fetching items: %v", err))
		return result
	}
	for _, item := range items {
		item.Normalize()
	}

	// Local snapshot and mapping indexes.
	todos, err := m.storage.All(ctx)
	if err != nil {
		result.AddError(fmt.Sprintf("reading local tasks: %v", err))
		return result
	}
	mappings, err := m.maps.ListMappings(ctx, provider)
	if err != nil {
		result.AddError(fmt.Sprintf("reading mappings: %v", err))
		return result
	}

	byTodoID := make(map[int64]*Mapping, len(mappings))
	byExternalID := make(map[string]*Mapping, len(mappings))
	for _, mp := range mappings {
		byTodoID[mp.TodoID] = mp
		byExternalID[mp.ExternalID] = mp
	}
	remoteByID := make(map[string]*ExternalItem, len(items))
	for _, item := range items {
		remoteByID[item.ExternalID] = item
	}
	localByID := make(map[int64]*todo.Todo, len(todos))
	for _, t := range todos {
		localByID[t.ID] = t
	}

	pushAllowed := cfg.Direction != DirectionPullOnly
	pullAllowed := cfg.Direction != DirectionPushOnly

	// Cross-phase bookkeeping: external IDs the push phase already
	// reconciled (pull must not re-apply the stale fetch over them), and
	// todo IDs whose mapping was rebound or resolved during push (the
	// deletion phase holds a pre-pass snapshot that no longer applies).
	handled := make(map[string]struct{})
	reconciled := make(map[int64]struct{})

	if pushAllowed {
		op.setPhase(PhasePush)
		if cancelled := m.pushPhase(ctx, op, ad, cfg, todos, byTodoID, remoteByID, handled, reconciled, result); cancelled {
			result.Status = StatusCancelled
			return result
		}
	}

	if pullAllowed {
		op.setPhase(PhasePull)
		if cancelled := m.pullPhase(ctx, op, ad, cfg, items, byExternalID, handled, result); cancelled {
			result.Status = StatusCancelled
			return result
		}
	}

	op.setPhase(PhaseDeletions)
	if cancelled := m.deletionPhase(ctx, op, ad, cfg, mappings, localByID, remoteByID, reconciled, pushAllowed, pullAllowed, result); cancelled {
		result.Status = StatusCancelled
		return result
	}

	op.setPhase(PhaseFinalizing)
	return result
}

// ===== Push phase =====

// pushPhase sends local creations and modifications to the provider.
// Returns true when the pass was cancelled mid-phase.
func (m *Manager) pushPhase(ctx context.Context, op *operation, ad Adapter, cfg *Config, todos []*todo.Todo, byTodoID map[int64]*Mapping, remoteByID map[string]*ExternalItem, handled map[string]struct{}, reconciled map[int64]struct{}, result *Result) bool {
	for _, t := range todos {
		if op.isCancelled() {
			return true
		}
		if !ShouldSyncTodo(cfg, t.Completed, t.Archived) {
			continue
		}

		mapping := byTodoID[t.ID]
		if mapping == nil {
			m.pushCreate(ctx, ad, cfg, t, result)
			op.itemDone()
			continue
		}

		localHash := HashTodo(t)
		if localHash == mapping.LocalHash {
			continue // unchanged since last sync
		}

		// Both sides changed: hand over to conflict resolution instead
		// of overwriting the remote edit.
		if remote, ok := remoteByID[mapping.ExternalID]; ok && HashExternal(remote) != mapping.RemoteHash {
			if err := m.resolveModifiedBoth(ctx, ad, cfg, t, remote, mapping, result); err != nil {
				result.AddError(err.Error())
			}
			handled[mapping.ExternalID] = struct{}{}
			op.itemDone()
			continue
		}

		m.pushUpdate(ctx, ad, cfg, t, mapping, localHash, handled, reconciled, result)
		op.itemDone()
	}
	return false
}

func (m *Manager) pushCreate(ctx context.Context, ad Adapter, cfg *Config, t *todo.Todo, result *Result) {
	item := m.externalFromTodo(t, cfg)
	externalID, err := ad.CreateItem(ctx, item)
	if err != nil {
		result.AddError(fmt.Sprintf("creating task %d remotely: %v", t.ID, err))
		return
	}
	item.ExternalID = externalID

	mapping := &Mapping{
		TodoID:     t.ID,
		ExternalID: externalID,
		Provider:   cfg.Provider,
	}
	mapping.UpdateSync(HashTodo(t), HashExternal(item))
	if err := m.maps.SaveMapping(ctx, mapping); err != nil {
		result.AddError(fmt.Sprintf("saving mapping for task %d: %v", t.ID, err))
		return
	}
	result.ItemsCreated++
}

func (m *Manager) pushUpdate(ctx context.Context, ad Adapter, cfg *Config, t *todo.Todo, mapping *Mapping, localHash string, handled map[string]struct{}, reconciled map[int64]struct{}, result *Result) {
	item := m.externalFromTodo(t, cfg)
	item.ExternalID = mapping.ExternalID

	err := ad.UpdateItem(ctx, item)
	if err != nil {
		if IsItemNotFound(err) {
			// The remote item vanished while the local task changed:
			// a deleted-remote conflict owned by the configured
			// strategy. local_wins and newest_wins re-create the item
			// and rebind the mapping; manual stores the conflict and
			// leaves the task alone.
			m.logger.Printf("remote item for task %d gone on %s, resolving as remote deletion", t.ID, cfg.Provider)
			handled[mapping.ExternalID] = struct{}{}
			reconciled[t.ID] = struct{}{}
			if rerr := m.resolveRemoteDeletion(ctx, ad, cfg, t, mapping, result); rerr != nil {
				result.AddError(rerr.Error())
			}
			return
		}
		result.AddError(fmt.Sprintf("updating task %d remotely: %v", t.ID, err))
		if serr := m.maps.SetMappingError(ctx, t.ID, cfg.Provider, err.Error()); serr != nil {
			result.AddWarning(fmt.Sprintf("recording error on mapping for task %d: %v", t.ID, serr))
		}
		return
	}

	// The fetch snapshot predates this push; without the handled mark
	// the pull phase would lay the stale remote content back over the
	// edit that was just pushed.
	handled[mapping.ExternalID] = struct{}{}
	mapping.UpdateSync(localHash, HashExternal(item))
	if err := m.maps.SaveMapping(ctx, mapping); err != nil {
		result.AddError(fmt.Sprintf("saving mapping for task %d: %v", t.ID, err))
		return
	}
	result.ItemsUpdated++
}

// ===== Pull phase =====

// pullPhase applies remote creations and modifications locally.
// Returns true when the pass was cancelled mid-phase.
func (m *Manager) pullPhase(ctx context.Context, op *operation, ad Adapter, cfg *Config, items []*ExternalItem, byExternalID map[string]*Mapping, handled map[string]struct{}, result *Result) bool {
	for _, item := range items {
		if op.isCancelled() {
			return true
		}
		if _, done := handled[item.ExternalID]; done {
			continue // conflict already resolved during push
		}

		mapping := byExternalID[item.ExternalID]
		if mapping == nil {
			m.pullCreate(ctx, cfg, item, result)
			op.itemDone()
			continue
		}

		remoteHash := HashExternal(item)
		if remoteHash == mapping.RemoteHash {
			continue // unchanged since last sync
		}

		local, err := m.storage.Get(ctx, mapping.TodoID)
		if err != nil {
			result.AddError(fmt.Sprintf("reading task %d: %v", mapping.TodoID, err))
			continue
		}
		if local == nil {
			// Deleted locally while modified remotely; the deletion
			// phase owns this mapping.
			continue
		}

		if HashTodo(local) != mapping.LocalHash {
			// Both sides changed. The push phase already resolved this
			// when pushing was allowed; in pull-only mode it is
			// detected here.
			if cfg.Direction == DirectionPullOnly {
				if err := m.resolveModifiedBoth(ctx, ad, cfg, local, item, mapping, result); err != nil {
					result.AddError(err.Error())
				}
				op.itemDone()
			}
			continue
		}

		m.pullUpdate(ctx, cfg, item, local, mapping, remoteHash, result)
		op.itemDone()
	}
	return false
}

func (m *Manager) pullCreate(ctx context.Context, cfg *Config, item *ExternalItem, result *Result) {
	t := item.ToTodo(0)
	if err := m.storage.Add(ctx, t); err != nil {
		result.AddError(fmt.Sprintf("creating item %s locally: %v", item.ExternalID, err))
		return
	}

	mapping := &Mapping{
		TodoID:     t.ID,
		ExternalID: item.ExternalID,
		Provider:   cfg.Provider,
	}
	mapping.UpdateSync(HashTodo(t), HashExternal(item))
	if err := m.maps.SaveMapping(ctx, mapping); err != nil {
		result.AddError(fmt.Sprintf("saving mapping for item %s: %v", item.ExternalID, err))
		return
	}
	result.ItemsCreated++
}

func (m *Manager) pullUpdate(ctx context.Context, cfg *Config, item *ExternalItem, local *todo.Todo, mapping *Mapping, remoteHash string, result *Result) {
	updated := item.ToTodo(local.ID)
	updated.CreatedAt = local.CreatedAt
	if err := m.storage.Update(ctx, updated); err != nil {
		result.AddError(fmt.Sprintf("updating task %d locally: %v", local.ID, err))
		return
	}

	mapping.UpdateSync(HashTodo(updated), remoteHash)
	if err := m.maps.SaveMapping(ctx, mapping); err != nil {
		result.AddError(fmt.Sprintf("saving mapping for task %d: %v", local.ID, err))
		return
	}
	result.ItemsUpdated++
}

// ===== Deletion phase =====

// deletionPhase reconciles deletions on both sides by walking the
// mappings recorded before this pass. Absence from an incremental fetch
// never proves deletion, so remote existence is always verified before a
// local task is removed.
func (m *Manager) deletionPhase(ctx context.Context, op *operation, ad Adapter, cfg *Config, mappings []*Mapping, localByID map[int64]*todo.Todo, remoteByID map[string]*ExternalItem, reconciled map[int64]struct{}, pushAllowed, pullAllowed bool, result *Result) bool {
	for _, mapping := range mappings {
		if op.isCancelled() {
			return true
		}
		if _, ok := reconciled[mapping.TodoID]; ok {
			continue // already reconciled during push
		}

		local, localExists := localByID[mapping.TodoID]
		remote := remoteByID[mapping.ExternalID]

		if localExists {
			if !pullAllowed || remote != nil {
				continue
			}
			// Local task exists, remote item absent from the fetch:
			// possibly deleted remotely.
			exists, err := ad.VerifyItemExists(ctx, mapping.ExternalID)
			if err != nil {
				result.AddWarning(fmt.Sprintf("verifying item %s: %v", mapping.ExternalID, err))
				continue
			}
			if exists {
				continue
			}
			if HashTodo(local) != mapping.LocalHash {
				// Deleted remotely while modified locally.
				if err := m.resolveRemoteDeletion(ctx, ad, cfg, local, mapping, result); err != nil {
					result.AddError(err.Error())
				}
				op.itemDone()
				continue
			}
			if err := m.storage.Delete(ctx, mapping.TodoID); err != nil {
				result.AddError(fmt.Sprintf("deleting task %d: %v", mapping.TodoID, err))
				continue
			}
			if err := m.maps.DeleteMapping(ctx, mapping.TodoID, cfg.Provider); err != nil {
				result.AddError(fmt.Sprintf("dropping mapping for task %d: %v", mapping.TodoID, err))
				continue
			}
			result.ItemsDeleted++
			op.itemDone()
			continue
		}

		// Local task is gone.
		if remote != nil && HashExternal(remote) != mapping.RemoteHash {
			// Deleted locally while modified remotely.
			if pullAllowed {
				if err := m.resolveLocalDeletion(ctx, ad, cfg, remote, mapping, result); err != nil {
					result.AddError(err.Error())
				}
				op.itemDone()
			}
			continue
		}

		if remote == nil {
			exists, err := ad.VerifyItemExists(ctx, mapping.ExternalID)
			if err != nil {
				result.AddWarning(fmt.Sprintf("verifying item %s: %v", mapping.ExternalID, err))
				continue
			}
			if !exists {
				// Both sides deleted independently: clean up the
				// mapping and auto-resolve the record.
				if err := m.maps.DeleteMapping(ctx, mapping.TodoID, cfg.Provider); err != nil {
					result.AddError(fmt.Sprintf("dropping mapping for task %d: %v", mapping.TodoID, err))
					continue
				}
				c := &Conflict{
					TodoID:       mapping.TodoID,
					ExternalID:   mapping.ExternalID,
					Provider:     cfg.Provider,
					ConflictType: ConflictBothDeleted,
					DetectedAt:   time.Now().UTC(),
				}
				c.Resolve(string(ConflictBothDeleted))
				if err := m.saveConflict(ctx, c); err != nil {
					result.AddError(err.Error())
				}
				op.itemDone()
				continue
			}
		}

		// Remote item still exists and is unchanged: propagate the
		// local deletion.
		if !pushAllowed {
			continue
		}
		if err := ad.DeleteItem(ctx, mapping.ExternalID); err != nil {
			result.AddError(fmt.Sprintf("deleting remote item %s: %v", mapping.ExternalID, err))
			continue
		}
		if err := m.maps.DeleteMapping(ctx, mapping.TodoID, cfg.Provider); err != nil {
			result.AddError(fmt.Sprintf("dropping mapping for task %d: %v", mapping.TodoID, err))
			continue
		}
		result.ItemsDeleted++
		op.itemDone()
	}
	return false
}

// ===== Cancellation and status =====

// CancelSync requests cancellation of the running pass for a provider.
// Returns false when no pass is running.
func (m *Manager) CancelSync(provider Provider) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	op, ok := m.ops[provider]
	if !ok {
		return false
	}
	op.cancel()
	return true
}

// CancelAllSyncs requests cancellation of every running pass and returns
// how many were signalled.
func (m *Manager) CancelAllSyncs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, op := range m.ops {
		op.cancel()
	}
	return len(m.ops)
}

// Status returns snapshots of all running passes.
func (m *Manager) Status() []OperationStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]OperationStatus, 0, len(m.ops))
	for _, op := range m.ops {
		out = append(out, op.status())
	}
	return out
}

// ===== History =====

func (m *Manager) appendHistory(r *Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, r)
	if len(m.history) > maxHistory {
		m.history = m.history[len(m.history)-maxHistory:]
	}
}

// History returns past results, newest first. An empty provider returns
// all providers; limit 0 returns everything retained.
func (m *Manager) History(provider Provider, limit int) []*Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Result
	for i := len(m.history) - 1; i >= 0; i-- {
		r := m.history[i]
		if provider != "" && r.Provider != provider {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// lastSuccess returns the StartedAt of the most recent successful pass for
// a provider, or nil when none is recorded. Used as the incremental fetch
// watermark: starting from the pass start, not its end, means a remote
// edit made during that pass is still picked up.
func (m *Manager) lastSuccess(provider Provider) *time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := len(m.history) - 1; i >= 0; i-- {
		r := m.history[i]
		if r.Provider != provider {
			continue
		}
		if r.Status == StatusSuccess || r.Status == StatusNoChanges {
			t := r.StartedAt
			return &t
		}
	}
	return nil
}

// ===== Conversion =====

// externalFromTodo builds the provider-facing view of a local task,
// applying the config's project and tag name translations.
func (m *Manager) externalFromTodo(t *todo.Todo, cfg *Config) *ExternalItem {
	project := t.Project
	if mapped, ok := cfg.ProjectMappings[project]; ok {
		project = mapped
	}

	tags := make([]string, 0, len(t.Tags))
	for _, tag := range t.Tags {
		if mapped, ok := cfg.TagMappings[tag]; ok {
			tag = mapped
		}
		tags = append(tags, tag)
	}

	updatedAt := t.UpdatedAt
	createdAt := t.CreatedAt
	return &ExternalItem{
		Provider:    cfg.Provider,
		Title:       t.Title,
		Description: t.Description,
		DueDate:     t.DueDate,
		Priority:    t.Priority,
		Tags:        tags,
		Project:     project,
		Completed:   t.Completed,
		CompletedAt: t.CompletedAt,
		CreatedAt:   &createdAt,
		UpdatedAt:   &updatedAt,
		URL:         t.URL,
	}
}
