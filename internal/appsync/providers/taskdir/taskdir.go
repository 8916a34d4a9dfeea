// Package taskdir implements a filesystem provider: one JSON file per
// item in a flat directory.
//
// It exists for local mirrors (a directory synced by other tooling) and
// exercises the full adapter contract without a network. File names are
// the external IDs, "<id>.json".
package taskdir

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/taskfuse/taskfuse/internal/appsync"
	"github.com/taskfuse/taskfuse/internal/credentials"
)

func init() {
	appsync.Register(appsync.ProviderTaskDir, New)
}

// itemFile is the on-disk representation of one item.
type itemFile struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Project     string     `json:"project,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	Priority    int        `json:"priority,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Adapter reads and writes items in a directory.
type Adapter struct {
	dir string
}

// New constructs the adapter. The directory comes from the provider
// config's "path" setting and is created on first use.
func New(cfg *appsync.Config, _ *credentials.Store) (appsync.Adapter, error) {
	dir := cfg.Settings["path"]
	if dir == "" {
		return nil, fmt.Errorf("taskdir: no path configured: %w", appsync.ErrValidation)
	}
	return &Adapter{dir: dir}, nil
}

// Provider returns the provider this adapter serves.
func (a *Adapter) Provider() appsync.Provider {
	return appsync.ProviderTaskDir
}

// Authenticate ensures the directory exists and is writable.
func (a *Adapter) Authenticate(ctx context.Context) error {
	if err := os.MkdirAll(a.dir, 0755); err != nil {
		return fmt.Errorf("taskdir: creating directory: %w", appsync.ErrAuth)
	}
	probe := filepath.Join(a.dir, ".probe")
	if err := os.WriteFile(probe, nil, 0644); err != nil {
		return fmt.Errorf("taskdir: directory not writable: %w", appsync.ErrAuth)
	}
	_ = os.Remove(probe)
	return nil
}

// FetchItems returns items changed since the given time.
func (a *Adapter) FetchItems(ctx context.Context, since *time.Time) ([]*appsync.ExternalItem, error) {
	entries, err := os.ReadDir(a.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("taskdir: reading directory: %w", err)
	}

	var items []*appsync.ExternalItem
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		f, err := a.readItem(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			return nil, err
		}
		if since != nil && f.UpdatedAt.Before(*since) {
			continue
		}
		items = append(items, externalFromFile(f))
	}
	return items, nil
}

// CreateItem writes a new item file and returns its generated ID.
func (a *Adapter) CreateItem(ctx context.Context, item *appsync.ExternalItem) (string, error) {
	if err := os.MkdirAll(a.dir, 0755); err != nil {
		return "", fmt.Errorf("taskdir: creating directory: %w", err)
	}

	id := newID()
	f := fileFromExternal(item)
	f.ID = id
	now := time.Now().UTC()
	f.CreatedAt = now
	f.UpdatedAt = now
	if item.CreatedAt != nil {
		f.CreatedAt = item.CreatedAt.UTC()
	}
	if item.UpdatedAt != nil {
		f.UpdatedAt = item.UpdatedAt.UTC()
	}

	if err := a.writeItem(f); err != nil {
		return "", err
	}
	return id, nil
}

// UpdateItem rewrites the item file.
func (a *Adapter) UpdateItem(ctx context.Context, item *appsync.ExternalItem) error {
	existing, err := a.readItem(item.ExternalID)
	if err != nil {
		return err
	}

	f := fileFromExternal(item)
	f.ID = existing.ID
	f.CreatedAt = existing.CreatedAt
	f.UpdatedAt = time.Now().UTC()
	if item.UpdatedAt != nil {
		f.UpdatedAt = item.UpdatedAt.UTC()
	}
	return a.writeItem(f)
}

// DeleteItem removes the item file. A missing file is not an error.
func (a *Adapter) DeleteItem(ctx context.Context, externalID string) error {
	err := os.Remove(a.itemPath(externalID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("taskdir: deleting item %s: %w", externalID, err)
	}
	return nil
}

// VerifyItemExists checks for the item file. Stat failures other than
// not-exist report true: uncertainty never authorizes a deletion.
func (a *Adapter) VerifyItemExists(ctx context.Context, externalID string) (bool, error) {
	_, err := os.Stat(a.itemPath(externalID))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return true, fmt.Errorf("taskdir: checking item %s: %w", externalID, err)
}

// SupportedFeatures reports the fields the file format can represent.
func (a *Adapter) SupportedFeatures() map[string]bool {
	return map[string]bool{
		"due_dates":  true,
		"priorities": true,
		"tags":       true,
		"projects":   true,
		"completion": true,
	}
}

// RequiredCredentials lists credential keys; the filesystem needs none.
func (a *Adapter) RequiredCredentials() []string {
	return nil
}

func (a *Adapter) itemPath(id string) string {
	return filepath.Join(a.dir, id+".json")
}

func (a *Adapter) readItem(id string) (*itemFile, error) {
	data, err := os.ReadFile(a.itemPath(id))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("taskdir: item %s: %w", id, appsync.ErrItemNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("taskdir: reading item %s: %w", id, err)
	}

	var f itemFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("taskdir: parsing item %s: %w", id, err)
	}
	if f.ID == "" {
		f.ID = id
	}
	return &f, nil
}

func (a *Adapter) writeItem(f *itemFile) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("taskdir: encoding item %s: %w", f.ID, err)
	}

	// Write-then-rename so readers never see a partial file.
	path := a.itemPath(f.ID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("taskdir: writing item %s: %w", f.ID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("taskdir: replacing item %s: %w", f.ID, err)
	}
	return nil
}

func externalFromFile(f *itemFile) *appsync.ExternalItem {
	createdAt := f.CreatedAt
	updatedAt := f.UpdatedAt
	item := &appsync.ExternalItem{
		ExternalID:  f.ID,
		Provider:    appsync.ProviderTaskDir,
		Title:       f.Title,
		Description: f.Description,
		Project:     f.Project,
		Tags:        f.Tags,
		Priority:    f.Priority,
		DueDate:     f.DueDate,
		Completed:   f.Completed,
		CompletedAt: f.CompletedAt,
		CreatedAt:   &createdAt,
		UpdatedAt:   &updatedAt,
	}
	item.Normalize()
	return item
}

func fileFromExternal(item *appsync.ExternalItem) *itemFile {
	return &itemFile{
		ID:          item.ExternalID,
		Title:       item.Title,
		Description: item.Description,
		Project:     item.Project,
		Tags:        item.Tags,
		Priority:    item.Priority,
		DueDate:     item.DueDate,
		Completed:   item.Completed,
		CompletedAt: item.CompletedAt,
	}
}

// newID returns a random 12-byte hex identifier.
func newID() string {
	var b [12]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
