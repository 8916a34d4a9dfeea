package mapstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/taskfuse/taskfuse/internal/appsync"
	"github.com/taskfuse/taskfuse/internal/todo"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "sync.db"))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestMappingRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	m := &appsync.Mapping{
		TodoID:     42,
		ExternalID: "ext-1",
		Provider:   appsync.ProviderTodoist,
	}
	m.UpdateSync("lh", "rh")

	if err := s.SaveMapping(ctx, m); err != nil {
		t.Fatalf("SaveMapping() error: %v", err)
	}

	got, err := s.GetMapping(ctx, 42, appsync.ProviderTodoist)
	if err != nil {
		t.Fatalf("GetMapping() error: %v", err)
	}
	if got == nil {
		t.Fatal("mapping should exist")
	}
	if got.ExternalID != "ext-1" || got.LocalHash != "lh" || got.RemoteHash != "rh" {
		t.Errorf("got %+v", got)
	}
	if got.SyncHash != appsync.CombinedHash("lh", "rh") {
		t.Error("SyncHash should survive the round trip")
	}
	if got.SyncCount != 1 {
		t.Errorf("SyncCount = %d, want 1", got.SyncCount)
	}
}

func TestGetMappingMissing(t *testing.T) {
	s := openTestStore(t)

	got, err := s.GetMapping(context.Background(), 99, appsync.ProviderTodoist)
	if err != nil {
		t.Fatalf("GetMapping() error: %v", err)
	}
	if got != nil {
		t.Error("missing mapping should return nil, not an error")
	}
}

func TestSaveMappingUpsertReplacesExternalID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	m := &appsync.Mapping{TodoID: 1, ExternalID: "old", Provider: appsync.ProviderTodoist}
	m.UpdateSync("a", "b")
	if err := s.SaveMapping(ctx, m); err != nil {
		t.Fatal(err)
	}

	// Rebinding after stale-mapping recovery: same (todo, provider), new
	// external ID.
	m.ExternalID = "new"
	m.UpdateSync("a2", "b2")
	if err := s.SaveMapping(ctx, m); err != nil {
		t.Fatalf("upsert error: %v", err)
	}

	got, _ := s.GetMapping(ctx, 1, appsync.ProviderTodoist)
	if got.ExternalID != "new" {
		t.Errorf("ExternalID = %q, want new", got.ExternalID)
	}
	if got.SyncCount != 2 {
		t.Errorf("SyncCount = %d, want 2", got.SyncCount)
	}

	if old, _ := s.GetMappingByExternalID(ctx, "old", appsync.ProviderTodoist); old != nil {
		t.Error("old external ID should no longer resolve")
	}
}

func TestGetMappingByExternalID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	m := &appsync.Mapping{TodoID: 7, ExternalID: "ext-7", Provider: appsync.ProviderTaskDir}
	m.UpdateSync("x", "y")
	if err := s.SaveMapping(ctx, m); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetMappingByExternalID(ctx, "ext-7", appsync.ProviderTaskDir)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.TodoID != 7 {
		t.Errorf("got %+v, want todo 7", got)
	}

	// Same external ID under a different provider is a different identity.
	other, _ := s.GetMappingByExternalID(ctx, "ext-7", appsync.ProviderTodoist)
	if other != nil {
		t.Error("lookup must be scoped by provider")
	}
}

func TestListMappingsScopedByProvider(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i, p := range []appsync.Provider{appsync.ProviderTodoist, appsync.ProviderTodoist, appsync.ProviderTaskDir} {
		m := &appsync.Mapping{TodoID: int64(i + 1), ExternalID: "e" + string(rune('0'+i)), Provider: p}
		m.UpdateSync("l", "r")
		if err := s.SaveMapping(ctx, m); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.ListMappings(ctx, appsync.ProviderTodoist)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("mappings = %d, want 2", len(got))
	}
}

func TestDeleteMappingIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	m := &appsync.Mapping{TodoID: 1, ExternalID: "e1", Provider: appsync.ProviderTodoist}
	m.UpdateSync("l", "r")
	if err := s.SaveMapping(ctx, m); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteMapping(ctx, 1, appsync.ProviderTodoist); err != nil {
		t.Fatalf("DeleteMapping() error: %v", err)
	}
	if got, _ := s.GetMapping(ctx, 1, appsync.ProviderTodoist); got != nil {
		t.Error("mapping should be gone")
	}
	if err := s.DeleteMapping(ctx, 1, appsync.ProviderTodoist); err != nil {
		t.Errorf("second delete should be a no-op, got %v", err)
	}
}

func TestSetMappingError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	m := &appsync.Mapping{TodoID: 1, ExternalID: "e1", Provider: appsync.ProviderTodoist}
	m.UpdateSync("l", "r")
	if err := s.SaveMapping(ctx, m); err != nil {
		t.Fatal(err)
	}

	if err := s.SetMappingError(ctx, 1, appsync.ProviderTodoist, "update failed"); err != nil {
		t.Fatal(err)
	}

	got, _ := s.GetMapping(ctx, 1, appsync.ProviderTodoist)
	if got.LastError != "update failed" {
		t.Errorf("LastError = %q", got.LastError)
	}
	if got.SyncCount != 1 {
		t.Error("recording an error must not touch the sync bookkeeping")
	}
}

func TestConflictRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	due := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	c := &appsync.Conflict{
		TodoID:       3,
		ExternalID:   "e3",
		Provider:     appsync.ProviderTodoist,
		ConflictType: appsync.ConflictModifiedBoth,
		LocalTodo:    &todo.Todo{ID: 3, Title: "local version", Tags: []string{"a"}},
		RemoteItem:   &appsync.ExternalItem{ExternalID: "e3", Title: "remote version", DueDate: &due},
		DetectedAt:   time.Now().UTC(),
	}

	if err := s.SaveConflict(ctx, c); err != nil {
		t.Fatalf("SaveConflict() error: %v", err)
	}
	if c.ID == 0 {
		t.Fatal("SaveConflict should fill in the ID")
	}

	got, err := s.GetConflict(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("conflict should exist")
	}
	if got.ConflictType != appsync.ConflictModifiedBoth {
		t.Errorf("ConflictType = %s", got.ConflictType)
	}
	if got.LocalTodo == nil || got.LocalTodo.Title != "local version" {
		t.Errorf("local snapshot = %+v", got.LocalTodo)
	}
	if got.RemoteItem == nil || got.RemoteItem.Title != "remote version" {
		t.Errorf("remote snapshot = %+v", got.RemoteItem)
	}
	if got.RemoteItem.DueDate == nil || !got.RemoteItem.DueDate.Equal(due) {
		t.Error("remote due date should survive the snapshot")
	}
	if got.Resolved {
		t.Error("conflict should be unresolved")
	}
}

func TestGetConflictMissing(t *testing.T) {
	s := openTestStore(t)

	got, err := s.GetConflict(context.Background(), 99)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Error("missing conflict should return nil")
	}
}

func TestListConflictsFiltering(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	unresolved := &appsync.Conflict{
		TodoID: 1, Provider: appsync.ProviderTodoist,
		ConflictType: appsync.ConflictModifiedBoth,
		DetectedAt:   time.Now().UTC(),
	}
	resolved := &appsync.Conflict{
		TodoID: 2, Provider: appsync.ProviderTodoist,
		ConflictType: appsync.ConflictBothDeleted,
		DetectedAt:   time.Now().UTC(),
	}
	resolved.Resolve("both_deleted")
	other := &appsync.Conflict{
		TodoID: 3, Provider: appsync.ProviderTaskDir,
		ConflictType: appsync.ConflictDeletedLocal,
		DetectedAt:   time.Now().UTC(),
	}

	for _, c := range []*appsync.Conflict{unresolved, resolved, other} {
		if err := s.SaveConflict(ctx, c); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.ListConflicts(ctx, appsync.ProviderTodoist, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].TodoID != 1 {
		t.Errorf("unresolved for todoist = %+v, want todo 1 only", got)
	}

	got, _ = s.ListConflicts(ctx, appsync.ProviderTodoist, true)
	if len(got) != 2 {
		t.Errorf("all for todoist = %d, want 2", len(got))
	}

	got, _ = s.ListConflicts(ctx, "", false)
	if len(got) != 2 {
		t.Errorf("unresolved across providers = %d, want 2", len(got))
	}
}

func TestResolveConflict(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	c := &appsync.Conflict{
		TodoID: 1, Provider: appsync.ProviderTodoist,
		ConflictType: appsync.ConflictModifiedBoth,
		DetectedAt:   time.Now().UTC(),
	}
	if err := s.SaveConflict(ctx, c); err != nil {
		t.Fatal(err)
	}

	if err := s.ResolveConflict(ctx, c.ID, "local_wins"); err != nil {
		t.Fatalf("ResolveConflict() error: %v", err)
	}

	got, _ := s.GetConflict(ctx, c.ID)
	if !got.Resolved || got.Resolution != "local_wins" || got.ResolvedAt == nil {
		t.Errorf("got %+v, want resolved with local_wins", got)
	}

	// Resolving again, or resolving a missing ID, reports not found.
	if err := s.ResolveConflict(ctx, c.ID, "local_wins"); !errors.Is(err, appsync.ErrConflictNotFound) {
		t.Errorf("double resolve err = %v, want ErrConflictNotFound", err)
	}
	if err := s.ResolveConflict(ctx, 999, "local_wins"); !errors.Is(err, appsync.ErrConflictNotFound) {
		t.Errorf("missing id err = %v, want ErrConflictNotFound", err)
	}
}

func TestReopenPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.db")
	ctx := context.Background()

	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	m := &appsync.Mapping{TodoID: 1, ExternalID: "e1", Provider: appsync.ProviderTodoist}
	m.UpdateSync("l", "r")
	if err := s.SaveMapping(ctx, m); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()

	got, err := s2.GetMapping(ctx, 1, appsync.ProviderTodoist)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ExternalID != "e1" {
		t.Errorf("got %+v after reopen", got)
	}
}
