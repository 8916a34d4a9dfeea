package appsync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/taskfuse/taskfuse/internal/credentials"
	"github.com/taskfuse/taskfuse/internal/todo"
)

// fakeStorage is an in-memory Storage implementation.
type fakeStorage struct {
	mu     sync.Mutex
	nextID int64
	todos  map[int64]*todo.Todo
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{todos: make(map[int64]*todo.Todo)}
}

func (s *fakeStorage) All(ctx context.Context) ([]*todo.Todo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*todo.Todo, 0, len(s.todos))
	for _, t := range s.todos {
		out = append(out, t.Clone())
	}
	return out, nil
}

func (s *fakeStorage) Get(ctx context.Context, id int64) (*todo.Todo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.todos[id]
	if !ok {
		return nil, nil
	}
	return t.Clone(), nil
}

func (s *fakeStorage) Add(ctx context.Context, t *todo.Todo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.SetDefaults()
	t.Normalize()
	s.nextID++
	t.ID = s.nextID
	s.todos[t.ID] = t.Clone()
	return nil
}

func (s *fakeStorage) Update(ctx context.Context, t *todo.Todo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.todos[t.ID]; !ok {
		return fmt.Errorf("task %d not found", t.ID)
	}
	s.todos[t.ID] = t.Clone()
	return nil
}

func (s *fakeStorage) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.todos, id)
	return nil
}

// put inserts a task with a fixed ID, bypassing Add's ID assignment.
func (s *fakeStorage) put(t *todo.Todo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.SetDefaults()
	t.Normalize()
	s.todos[t.ID] = t.Clone()
	if t.ID > s.nextID {
		s.nextID = t.ID
	}
}

// fakeMapStore is an in-memory MappingStore implementation.
type fakeMapStore struct {
	mu         sync.Mutex
	nextConfID int64
	mappings   map[string]*Mapping // key: todoID/provider
	conflicts  map[int64]*Conflict
}

func newFakeMapStore() *fakeMapStore {
	return &fakeMapStore{
		mappings:  make(map[string]*Mapping),
		conflicts: make(map[int64]*Conflict),
	}
}

func mapKey(todoID int64, provider Provider) string {
	return fmt.Sprintf("%d/%s", todoID, provider)
}

func (s *fakeMapStore) SaveMapping(ctx context.Context, m *Mapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	cp := *m
	s.mappings[mapKey(m.TodoID, m.Provider)] = &cp
	return nil
}

func (s *fakeMapStore) GetMapping(ctx context.Context, todoID int64, provider Provider) (*Mapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mappings[mapKey(todoID, provider)]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (s *fakeMapStore) GetMappingByExternalID(ctx context.Context, externalID string, provider Provider) (*Mapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.mappings {
		if m.ExternalID == externalID && m.Provider == provider {
			cp := *m
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeMapStore) ListMappings(ctx context.Context, provider Provider) ([]*Mapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Mapping
	for _, m := range s.mappings {
		if m.Provider == provider {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeMapStore) DeleteMapping(ctx context.Context, todoID int64, provider Provider) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.mappings, mapKey(todoID, provider))
	return nil
}

func (s *fakeMapStore) SetMappingError(ctx context.Context, todoID int64, provider Provider, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.mappings[mapKey(todoID, provider)]; ok {
		m.LastError = msg
	}
	return nil
}

func (s *fakeMapStore) SaveConflict(ctx context.Context, c *Conflict) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextConfID++
	c.ID = s.nextConfID
	cp := *c
	s.conflicts[c.ID] = &cp
	return nil
}

func (s *fakeMapStore) GetConflict(ctx context.Context, id int64) (*Conflict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conflicts[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (s *fakeMapStore) ListConflicts(ctx context.Context, provider Provider, includeResolved bool) ([]*Conflict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Conflict
	for _, c := range s.conflicts {
		if provider != "" && c.Provider != provider {
			continue
		}
		if !includeResolved && c.Resolved {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

func (s *fakeMapStore) ResolveConflict(ctx context.Context, id int64, resolution string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conflicts[id]
	if !ok || c.Resolved {
		return fmt.Errorf("conflict %d: %w", id, ErrConflictNotFound)
	}
	c.Resolve(resolution)
	return nil
}

// fakeAdapter is a scriptable in-memory Adapter.
type fakeAdapter struct {
	mu       sync.Mutex
	provider Provider
	nextID   int
	items    map[string]*ExternalItem

	authErr      error
	fetchErr     error
	createErr    error
	updateErr    error
	verifyErr    error
	onFetch      func() // called at the start of FetchItems
	creates      int
	updates      int
	deletes      int
	verifyCalls  int
	deletedItems []string
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		provider: ProviderTodoist,
		items:    make(map[string]*ExternalItem),
	}
}

// seed adds a remote item with a fixed ID.
func (a *fakeAdapter) seed(item *ExternalItem) {
	a.mu.Lock()
	defer a.mu.Unlock()
	item.Provider = a.provider
	item.Normalize()
	a.items[item.ExternalID] = item
}

func (a *fakeAdapter) get(externalID string) *ExternalItem {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.items[externalID]
}

func (a *fakeAdapter) Provider() Provider { return a.provider }

func (a *fakeAdapter) Authenticate(ctx context.Context) error { return a.authErr }

func (a *fakeAdapter) FetchItems(ctx context.Context, since *time.Time) ([]*ExternalItem, error) {
	if a.onFetch != nil {
		a.onFetch()
	}
	if a.fetchErr != nil {
		return nil, a.fetchErr
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []*ExternalItem
	for _, item := range a.items {
		cp := *item
		out = append(out, &cp)
	}
	return out, nil
}

func (a *fakeAdapter) CreateItem(ctx context.Context, item *ExternalItem) (string, error) {
	if a.createErr != nil {
		return "", a.createErr
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.creates++
	a.nextID++
	id := fmt.Sprintf("ext-%d", a.nextID)
	cp := *item
	cp.ExternalID = id
	a.items[id] = &cp
	return id, nil
}

func (a *fakeAdapter) UpdateItem(ctx context.Context, item *ExternalItem) error {
	if a.updateErr != nil {
		return a.updateErr
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.items[item.ExternalID]; !ok {
		return fmt.Errorf("item %s: %w", item.ExternalID, ErrItemNotFound)
	}
	a.updates++
	cp := *item
	a.items[item.ExternalID] = &cp
	return nil
}

func (a *fakeAdapter) DeleteItem(ctx context.Context, externalID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deletes++
	a.deletedItems = append(a.deletedItems, externalID)
	delete(a.items, externalID)
	return nil
}

func (a *fakeAdapter) VerifyItemExists(ctx context.Context, externalID string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.verifyCalls++
	if a.verifyErr != nil {
		return true, a.verifyErr
	}
	_, ok := a.items[externalID]
	return ok, nil
}

func (a *fakeAdapter) SupportedFeatures() map[string]bool { return nil }

func (a *fakeAdapter) RequiredCredentials() []string { return nil }

// newTestManager wires a manager to fakes and registers the fake adapter.
func newTestManager(t interface {
	Helper()
	Cleanup(func())
}, ad *fakeAdapter, strategy Strategy) (*Manager, *fakeStorage, *fakeMapStore) {
	t.Helper()

	UnregisterAll()
	t.Cleanup(UnregisterAll)
	Register(ad.provider, func(cfg *Config, creds *credentials.Store) (Adapter, error) {
		return ad, nil
	})

	store := newFakeStorage()
	maps := newFakeMapStore()
	m := New(store, maps, nil, testLogger())

	cfg := DefaultConfig(ad.provider)
	cfg.Strategy = strategy
	m.Configure(cfg)

	return m, store, maps
}
