package appsync

import (
	"context"
	"fmt"
	"time"

	"github.com/taskfuse/taskfuse/internal/todo"
)

// winner is the side a strategy picked for a conflict.
type winner int

const (
	winnerNone winner = iota // manual: leave for the user
	winnerSkip               // skip: resolve without changing either side
	winnerLocal
	winnerRemote
)

// pickWinner applies a strategy to a modified-both conflict.
//
// newest_wins compares UpdatedAt timestamps; when the remote side carries
// no timestamp the local side wins, since only it can prove recency.
func pickWinner(strategy Strategy, local *todo.Todo, remote *ExternalItem) winner {
	switch strategy {
	case StrategyLocalWins:
		return winnerLocal
	case StrategyRemoteWins:
		return winnerRemote
	case StrategyNewestWins:
		if remote != nil && remote.UpdatedAt != nil && local != nil &&
			remote.UpdatedAt.After(local.UpdatedAt) {
			return winnerRemote
		}
		return winnerLocal
	case StrategySkip:
		return winnerSkip
	default: // manual
		return winnerNone
	}
}

// resolveModifiedBoth handles a conflict where both sides changed since the
// last sync. The winning side's content is copied over the losing side and
// the mapping is refreshed; manual conflicts are stored unresolved for the
// conflicts command.
func (m *Manager) resolveModifiedBoth(ctx context.Context, ad Adapter, cfg *Config, local *todo.Todo, remote *ExternalItem, mapping *Mapping, result *Result) error {
	conflict := &Conflict{
		TodoID:       local.ID,
		ExternalID:   mapping.ExternalID,
		Provider:     cfg.Provider,
		ConflictType: ConflictModifiedBoth,
		LocalTodo:    local.Clone(),
		RemoteItem:   remote,
		DetectedAt:   time.Now().UTC(),
	}
	result.ConflictsDetected++

	switch pickWinner(cfg.Strategy, local, remote) {
	case winnerLocal:
		item := m.externalFromTodo(local, cfg)
		item.ExternalID = mapping.ExternalID
		if err := ad.UpdateItem(ctx, item); err != nil {
			result.AddError(fmt.Sprintf("resolving conflict for task %d: %v", local.ID, err))
			return m.saveConflict(ctx, conflict)
		}
		mapping.UpdateSync(HashTodo(local), HashExternal(item))
		if err := m.maps.SaveMapping(ctx, mapping); err != nil {
			return err
		}
		conflict.Resolve(string(StrategyLocalWins))
		result.ConflictsResolved++
		result.ItemsUpdated++

	case winnerRemote:
		updated := remote.ToTodo(local.ID)
		updated.CreatedAt = local.CreatedAt
		if err := m.storage.Update(ctx, updated); err != nil {
			result.AddError(fmt.Sprintf("resolving conflict for task %d: %v", local.ID, err))
			return m.saveConflict(ctx, conflict)
		}
		mapping.UpdateSync(HashTodo(updated), HashExternal(remote))
		if err := m.maps.SaveMapping(ctx, mapping); err != nil {
			return err
		}
		conflict.Resolve(string(StrategyRemoteWins))
		result.ConflictsResolved++
		result.ItemsUpdated++

	case winnerSkip:
		conflict.Resolve(string(StrategySkip))
		result.ConflictsResolved++
	}

	return m.saveConflict(ctx, conflict)
}

// resolveRemoteDeletion handles a conflict where the remote item was
// deleted while the local task changed. With newest_wins the local side
// wins: it is the only side that still has content.
func (m *Manager) resolveRemoteDeletion(ctx context.Context, ad Adapter, cfg *Config, local *todo.Todo, mapping *Mapping, result *Result) error {
	conflict := &Conflict{
		TodoID:       local.ID,
		ExternalID:   mapping.ExternalID,
		Provider:     cfg.Provider,
		ConflictType: ConflictDeletedRemote,
		LocalTodo:    local.Clone(),
		DetectedAt:   time.Now().UTC(),
	}
	result.ConflictsDetected++

	switch pickWinner(cfg.Strategy, local, nil) {
	case winnerLocal:
		// Re-create the item remotely and rebind the mapping.
		item := m.externalFromTodo(local, cfg)
		externalID, err := ad.CreateItem(ctx, item)
		if err != nil {
			result.AddError(fmt.Sprintf("re-creating task %d remotely: %v", local.ID, err))
			return m.saveConflict(ctx, conflict)
		}
		item.ExternalID = externalID
		mapping.ExternalID = externalID
		mapping.UpdateSync(HashTodo(local), HashExternal(item))
		if err := m.maps.SaveMapping(ctx, mapping); err != nil {
			return err
		}
		conflict.Resolve(string(StrategyLocalWins))
		result.ConflictsResolved++
		result.ItemsCreated++

	case winnerRemote:
		// The deletion wins: remove the local task too.
		if err := m.storage.Delete(ctx, local.ID); err != nil {
			result.AddError(fmt.Sprintf("deleting task %d: %v", local.ID, err))
			return m.saveConflict(ctx, conflict)
		}
		if err := m.maps.DeleteMapping(ctx, local.ID, cfg.Provider); err != nil {
			return err
		}
		conflict.Resolve(string(StrategyRemoteWins))
		result.ConflictsResolved++
		result.ItemsDeleted++

	case winnerSkip:
		conflict.Resolve(string(StrategySkip))
		result.ConflictsResolved++
	}

	return m.saveConflict(ctx, conflict)
}

// resolveLocalDeletion handles a conflict where the local task was deleted
// while the remote item changed. With newest_wins the remote side wins.
func (m *Manager) resolveLocalDeletion(ctx context.Context, ad Adapter, cfg *Config, remote *ExternalItem, mapping *Mapping, result *Result) error {
	conflict := &Conflict{
		TodoID:       mapping.TodoID,
		ExternalID:   mapping.ExternalID,
		Provider:     cfg.Provider,
		ConflictType: ConflictDeletedLocal,
		RemoteItem:   remote,
		DetectedAt:   time.Now().UTC(),
	}
	result.ConflictsDetected++

	// Invert the pick: for a local deletion the surviving content is
	// remote, so newest_wins resolves in its favor.
	w := pickWinner(cfg.Strategy, nil, remote)
	if cfg.Strategy == StrategyNewestWins {
		w = winnerRemote
	}

	switch w {
	case winnerLocal:
		// The deletion wins: remove the remote item too.
		if err := ad.DeleteItem(ctx, mapping.ExternalID); err != nil {
			result.AddError(fmt.Sprintf("deleting remote item %s: %v", mapping.ExternalID, err))
			return m.saveConflict(ctx, conflict)
		}
		if err := m.maps.DeleteMapping(ctx, mapping.TodoID, cfg.Provider); err != nil {
			return err
		}
		conflict.Resolve(string(StrategyLocalWins))
		result.ConflictsResolved++
		result.ItemsDeleted++

	case winnerRemote:
		// Bring the remote item back as a fresh local task. The old
		// mapping row is replaced so the new task can bind to the
		// same external ID.
		if err := m.maps.DeleteMapping(ctx, mapping.TodoID, cfg.Provider); err != nil {
			return err
		}
		t := remote.ToTodo(0)
		if err := m.storage.Add(ctx, t); err != nil {
			result.AddError(fmt.Sprintf("restoring item %s locally: %v", mapping.ExternalID, err))
			return m.saveConflict(ctx, conflict)
		}
		fresh := &Mapping{
			TodoID:     t.ID,
			ExternalID: mapping.ExternalID,
			Provider:   cfg.Provider,
		}
		fresh.UpdateSync(HashTodo(t), HashExternal(remote))
		if err := m.maps.SaveMapping(ctx, fresh); err != nil {
			return err
		}
		conflict.Resolve(string(StrategyRemoteWins))
		result.ConflictsResolved++
		result.ItemsCreated++

	case winnerSkip:
		conflict.Resolve(string(StrategySkip))
		result.ConflictsResolved++
	}

	return m.saveConflict(ctx, conflict)
}

// ResolveConflict applies a user decision to a stored conflict: the chosen
// side's content overwrites the other side immediately and the conflict is
// marked resolved. choice is "local_wins" or "remote_wins".
//
// Used by the interactive conflicts command; sync passes resolve through
// the configured strategy instead.
func (m *Manager) ResolveConflict(ctx context.Context, id int64, choice string) error {
	if choice != string(StrategyLocalWins) && choice != string(StrategyRemoteWins) {
		return fmt.Errorf("invalid resolution %q", choice)
	}

	c, err := m.maps.GetConflict(ctx, id)
	if err != nil {
		return err
	}
	if c == nil || c.Resolved {
		return fmt.Errorf("conflict %d: %w", id, ErrConflictNotFound)
	}

	m.mu.Lock()
	cfg, ok := m.configs[c.Provider]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("provider %s: %w", c.Provider, ErrProviderDisabled)
	}
	constructor := getConstructor(c.Provider)
	if constructor == nil {
		return fmt.Errorf("provider %s: %w", c.Provider, ErrProviderNotRegistered)
	}
	ad, err := constructor(cfg, m.creds)
	if err != nil {
		return err
	}
	if err := ad.Authenticate(ctx); err != nil {
		return err
	}

	mapping, err := m.maps.GetMapping(ctx, c.TodoID, c.Provider)
	if err != nil {
		return err
	}

	if err := m.applyResolution(ctx, ad, cfg, c, mapping, choice); err != nil {
		return err
	}
	return m.maps.ResolveConflict(ctx, id, choice)
}

func (m *Manager) applyResolution(ctx context.Context, ad Adapter, cfg *Config, c *Conflict, mapping *Mapping, choice string) error {
	localWins := choice == string(StrategyLocalWins)

	switch c.ConflictType {
	case ConflictModifiedBoth:
		if mapping == nil {
			return fmt.Errorf("conflict %d: mapping no longer exists", c.ID)
		}
		local, err := m.storage.Get(ctx, c.TodoID)
		if err != nil {
			return err
		}
		if local == nil {
			return fmt.Errorf("conflict %d: task %d no longer exists", c.ID, c.TodoID)
		}
		if localWins {
			item := m.externalFromTodo(local, cfg)
			item.ExternalID = mapping.ExternalID
			if err := ad.UpdateItem(ctx, item); err != nil {
				return err
			}
			mapping.UpdateSync(HashTodo(local), HashExternal(item))
			return m.maps.SaveMapping(ctx, mapping)
		}
		if c.RemoteItem == nil {
			return fmt.Errorf("conflict %d: no remote snapshot recorded", c.ID)
		}
		updated := c.RemoteItem.ToTodo(local.ID)
		updated.CreatedAt = local.CreatedAt
		if err := m.storage.Update(ctx, updated); err != nil {
			return err
		}
		mapping.UpdateSync(HashTodo(updated), HashExternal(c.RemoteItem))
		return m.maps.SaveMapping(ctx, mapping)

	case ConflictDeletedRemote:
		local, err := m.storage.Get(ctx, c.TodoID)
		if err != nil {
			return err
		}
		if local == nil {
			return fmt.Errorf("conflict %d: task %d no longer exists", c.ID, c.TodoID)
		}
		if localWins {
			// Re-create the item remotely and rebind.
			item := m.externalFromTodo(local, cfg)
			externalID, err := ad.CreateItem(ctx, item)
			if err != nil {
				return err
			}
			item.ExternalID = externalID
			fresh := mapping
			if fresh == nil {
				fresh = &Mapping{TodoID: local.ID, Provider: cfg.Provider}
			}
			fresh.ExternalID = externalID
			fresh.UpdateSync(HashTodo(local), HashExternal(item))
			return m.maps.SaveMapping(ctx, fresh)
		}
		// The deletion wins.
		if err := m.storage.Delete(ctx, c.TodoID); err != nil {
			return err
		}
		return m.maps.DeleteMapping(ctx, c.TodoID, cfg.Provider)

	case ConflictDeletedLocal:
		if localWins {
			// The deletion wins: remove the remote item too.
			if err := ad.DeleteItem(ctx, c.ExternalID); err != nil {
				return err
			}
			return m.maps.DeleteMapping(ctx, c.TodoID, cfg.Provider)
		}
		if c.RemoteItem == nil {
			return fmt.Errorf("conflict %d: no remote snapshot recorded", c.ID)
		}
		if err := m.maps.DeleteMapping(ctx, c.TodoID, cfg.Provider); err != nil {
			return err
		}
		t := c.RemoteItem.ToTodo(0)
		if err := m.storage.Add(ctx, t); err != nil {
			return err
		}
		fresh := &Mapping{
			TodoID:     t.ID,
			ExternalID: c.ExternalID,
			Provider:   cfg.Provider,
		}
		fresh.UpdateSync(HashTodo(t), HashExternal(c.RemoteItem))
		return m.maps.SaveMapping(ctx, fresh)

	default:
		return fmt.Errorf("conflict %d: type %s cannot be resolved manually", c.ID, c.ConflictType)
	}
}

// saveConflict persists the conflict record and notifies listeners when it
// remains unresolved.
func (m *Manager) saveConflict(ctx context.Context, c *Conflict) error {
	if err := m.maps.SaveConflict(ctx, c); err != nil {
		return fmt.Errorf("saving conflict for task %d: %w", c.TodoID, err)
	}
	if !c.Resolved {
		m.emit(Event{
			Type:     EventConflictDetected,
			Provider: c.Provider,
			Conflict: c,
		})
	}
	return nil
}
