package storage

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/taskfuse/taskfuse/internal/todo"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "todos.db"))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAddAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	due := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	task := &todo.Todo{
		Title:       "write tests",
		Description: "for the task store",
		Project:     "work",
		Tags:        []string{"go", "db"},
		Priority:    todo.PriorityHigh,
		DueDate:     &due,
	}

	if err := s.Add(ctx, task); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if task.ID == 0 {
		t.Fatal("Add should assign an ID")
	}

	got, err := s.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got == nil {
		t.Fatal("task should exist")
	}
	if got.Title != "write tests" || got.Project != "work" {
		t.Errorf("got %+v", got)
	}
	if len(got.Tags) != 2 || got.Tags[0] != "go" {
		t.Errorf("Tags = %v", got.Tags)
	}
	if got.DueDate == nil || !got.DueDate.Equal(due) {
		t.Errorf("DueDate = %v, want %v", got.DueDate, due)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("timestamps should be set")
	}
}

func TestAddRejectsInvalid(t *testing.T) {
	s := openTestStore(t)

	if err := s.Add(context.Background(), &todo.Todo{}); err == nil {
		t.Error("a task without a title should be rejected")
	}
}

func TestGetMissing(t *testing.T) {
	s := openTestStore(t)

	got, err := s.Get(context.Background(), 99)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got != nil {
		t.Error("missing task should return nil, not an error")
	}
}

func TestUpdate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	task := &todo.Todo{Title: "before"}
	if err := s.Add(ctx, task); err != nil {
		t.Fatal(err)
	}

	task.Title = "after"
	task.Complete(time.Time{})
	if err := s.Update(ctx, task); err != nil {
		t.Fatalf("Update() error: %v", err)
	}

	got, _ := s.Get(ctx, task.ID)
	if got.Title != "after" {
		t.Errorf("Title = %q, want after", got.Title)
	}
	if !got.Completed || got.CompletedAt == nil {
		t.Error("completion state should persist")
	}
}

func TestUpdateMissing(t *testing.T) {
	s := openTestStore(t)

	err := s.Update(context.Background(), &todo.Todo{ID: 99, Title: "ghost"})
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("err = %v, want sql.ErrNoRows", err)
	}
}

func TestDeleteIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	task := &todo.Todo{Title: "doomed"}
	if err := s.Add(ctx, task); err != nil {
		t.Fatal(err)
	}

	if err := s.Delete(ctx, task.ID); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if got, _ := s.Get(ctx, task.ID); got != nil {
		t.Error("task should be gone")
	}
	if err := s.Delete(ctx, task.ID); err != nil {
		t.Errorf("second delete should be a no-op, got %v", err)
	}
}

func TestListFilters(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	open := &todo.Todo{Title: "open", Project: "work"}
	done := &todo.Todo{Title: "done", Project: "work"}
	done.Complete(time.Time{})
	archived := &todo.Todo{Title: "archived", Project: "home", Archived: true}

	for _, task := range []*todo.Todo{open, done, archived} {
		if err := s.Add(ctx, task); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.List(ctx, ListFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Title != "open" {
		t.Errorf("default list = %v, want only the open task", titles(got))
	}

	got, _ = s.List(ctx, ListFilter{IncludeCompleted: true})
	if len(got) != 2 {
		t.Errorf("with completed = %d, want 2", len(got))
	}

	got, _ = s.List(ctx, ListFilter{Project: "home", IncludeArchived: true})
	if len(got) != 1 || got[0].Title != "archived" {
		t.Errorf("home project = %v", titles(got))
	}

	got, _ = s.List(ctx, ListFilter{IncludeCompleted: true, IncludeArchived: true, Limit: 2})
	if len(got) != 2 {
		t.Errorf("limited list = %d, want 2", len(got))
	}
}

func TestAllIncludesEverything(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	done := &todo.Todo{Title: "done"}
	done.Complete(time.Time{})
	archived := &todo.Todo{Title: "archived", Archived: true}
	for _, task := range []*todo.Todo{done, archived, {Title: "open"}} {
		if err := s.Add(ctx, task); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.All(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Errorf("All() = %d tasks, want 3", len(got))
	}
}

func TestReopenPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "todos.db")
	ctx := context.Background()

	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	task := &todo.Todo{Title: "durable"}
	if err := s.Add(ctx, task); err != nil {
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

	got, err := s2.Get(ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Title != "durable" {
		t.Errorf("got %+v after reopen", got)
	}
}

func titles(todos []*todo.Todo) []string {
	out := make([]string, len(todos))
	for i, t := range todos {
		out[i] = t.Title
	}
	return out
}
