package todoist

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/taskfuse/taskfuse/internal/appsync"
	"github.com/taskfuse/taskfuse/internal/credentials"
	"github.com/taskfuse/taskfuse/internal/todo"
)

func newTestAdapter(t *testing.T, handler http.Handler) appsync.Adapter {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	creds, err := credentials.Open(filepath.Join(t.TempDir(), "credentials.json"))
	if err != nil {
		t.Fatal(err)
	}
	if err := creds.Set(string(appsync.ProviderTodoist), "api_token", "test-token"); err != nil {
		t.Fatal(err)
	}

	cfg := appsync.DefaultConfig(appsync.ProviderTodoist)
	cfg.Settings = map[string]string{"base_url": srv.URL}

	a, err := New(cfg, creds)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return a
}

func TestNewRequiresToken(t *testing.T) {
	creds, err := credentials.Open(filepath.Join(t.TempDir(), "credentials.json"))
	if err != nil {
		t.Fatal(err)
	}

	_, err = New(appsync.DefaultConfig(appsync.ProviderTodoist), creds)
	if !appsync.IsAuthError(err) {
		t.Errorf("err = %v, want an auth error", err)
	}
}

func TestAuthenticateSendsBearerToken(t *testing.T) {
	var gotAuth string
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte("[]"))
	}))

	if err := a.Authenticate(context.Background()); err != nil {
		t.Fatalf("Authenticate() error: %v", err)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("Authorization = %q", gotAuth)
	}
}

func TestAuthenticateRejectedToken(t *testing.T) {
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	err := a.Authenticate(context.Background())
	if !appsync.IsAuthError(err) {
		t.Errorf("err = %v, want an auth error", err)
	}
}

func TestFetchItemsConvertsTasks(t *testing.T) {
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]any{
			{
				"id":       "100",
				"content":  "urgent task",
				"priority": 4,
				"labels":   []string{"work"},
				"due":      map[string]string{"date": "2026-08-01"},
			},
			{
				"id":       "101",
				"content":  "normal task",
				"priority": 1,
			},
		})
	}))

	items, err := a.FetchItems(context.Background(), nil)
	if err != nil {
		t.Fatalf("FetchItems() error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2", len(items))
	}

	urgent := items[0]
	if urgent.Title != "urgent task" {
		t.Errorf("Title = %q", urgent.Title)
	}
	// Todoist's scale is inverted: their 4 (urgent) is the local critical.
	if urgent.Priority != todo.PriorityCritical {
		t.Errorf("Priority = %d, want critical", urgent.Priority)
	}
	if urgent.DueDate == nil {
		t.Error("date-only due should still parse")
	}
	if items[1].Priority != todo.PriorityLow {
		t.Errorf("their priority 1 = %d, want low", items[1].Priority)
	}
}

func TestCreateItemInvertsPriority(t *testing.T) {
	var gotPayload map[string]any
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotPayload)
		json.NewEncoder(w).Encode(map[string]any{"id": "200"})
	}))

	id, err := a.CreateItem(context.Background(), &appsync.ExternalItem{
		Title:    "new task",
		Priority: todo.PriorityCritical,
	})
	if err != nil {
		t.Fatalf("CreateItem() error: %v", err)
	}
	if id != "200" {
		t.Errorf("id = %q, want 200", id)
	}
	if gotPayload["priority"] != float64(4) {
		t.Errorf("wire priority = %v, want 4 (their urgent)", gotPayload["priority"])
	}
}

func TestCreateCompletedItemCloses(t *testing.T) {
	var paths []string
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{"id": "201"})
	}))

	if _, err := a.CreateItem(context.Background(), &appsync.ExternalItem{Title: "done", Completed: true}); err != nil {
		t.Fatalf("CreateItem() error: %v", err)
	}

	if len(paths) != 2 || paths[1] != "/tasks/201/close" {
		t.Errorf("paths = %v, want a close call after the create", paths)
	}
}

func TestUpdateItemReconcilesCompletion(t *testing.T) {
	var paths []string
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.Write([]byte("{}"))
	}))

	err := a.UpdateItem(context.Background(), &appsync.ExternalItem{
		ExternalID: "300",
		Title:      "reopened",
		Completed:  false,
	})
	if err != nil {
		t.Fatalf("UpdateItem() error: %v", err)
	}

	if len(paths) != 2 || paths[0] != "/tasks/300" || paths[1] != "/tasks/300/reopen" {
		t.Errorf("paths = %v, want update then reopen", paths)
	}
}

func TestUpdateMissingItem(t *testing.T) {
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	err := a.UpdateItem(context.Background(), &appsync.ExternalItem{ExternalID: "ghost", Title: "x"})
	if !appsync.IsItemNotFound(err) {
		t.Errorf("err = %v, want item-not-found", err)
	}
}

func TestDeleteMissingItemIsNoop(t *testing.T) {
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	if err := a.DeleteItem(context.Background(), "ghost"); err != nil {
		t.Errorf("deleting a missing item should succeed, got %v", err)
	}
}

func TestVerifyItemExists(t *testing.T) {
	status := http.StatusOK
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		if status == http.StatusOK {
			w.Write([]byte("{}"))
		}
	}))

	ctx := context.Background()
	exists, err := a.VerifyItemExists(ctx, "1")
	if err != nil || !exists {
		t.Errorf("VerifyItemExists = %v, %v, want true", exists, err)
	}

	status = http.StatusNotFound
	exists, err = a.VerifyItemExists(ctx, "1")
	if err != nil || exists {
		t.Errorf("VerifyItemExists = %v, %v, want false", exists, err)
	}
}

func TestRequestRetriesServerErrors(t *testing.T) {
	attempts := 0
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("[]"))
	}))

	if err := a.Authenticate(context.Background()); err != nil {
		t.Fatalf("Authenticate() error after retry: %v", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestRequestDoesNotRetryValidationErrors(t *testing.T) {
	attempts := 0
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
	}))

	if err := a.Authenticate(context.Background()); err == nil {
		t.Fatal("bad request should fail")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (no retry)", attempts)
	}
}

func TestPriorityTranslation(t *testing.T) {
	for _, local := range []int{todo.PriorityLow, todo.PriorityMedium, todo.PriorityHigh, todo.PriorityCritical} {
		if got := fromTodoistPriority(toTodoistPriority(local)); got != local {
			t.Errorf("round trip of %d = %d", local, got)
		}
	}
	// Their 1 covers both unset and normal; it maps to low.
	if toTodoistPriority(todo.PriorityLow) != 1 {
		t.Error("local low should map to their 1")
	}
}
