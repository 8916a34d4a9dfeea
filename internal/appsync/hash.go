package appsync

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/taskfuse/taskfuse/internal/todo"
)

// hashFields is the canonical content projection used for change detection.
// Only fields that both sides can represent participate; identity, provider
// bookkeeping and raw payloads never do. encoding/json emits struct fields in
// declaration order, so keeping these alphabetical yields sorted-key output.
type hashFields struct {
	Completed   bool     `json:"completed"`
	CompletedAt string   `json:"completed_at"`
	Description string   `json:"description"`
	DueDate     string   `json:"due_date"`
	Priority    int      `json:"priority"`
	Project     string   `json:"project"`
	Tags        []string `json:"tags"`
	Title       string   `json:"title"`
}

func hashTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func contentHash(f hashFields) string {
	if f.Tags == nil {
		f.Tags = []string{}
	} else {
		f.Tags = append([]string(nil), f.Tags...)
		sort.Strings(f.Tags)
	}
	// Marshal of a flat struct with string/bool/int/[]string fields
	// cannot fail.
	data, _ := json.Marshal(f)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashTodo computes the content hash of a local task.
// Equal task content always produces an equal hash, regardless of tag order
// or timestamp zone.
func HashTodo(t *todo.Todo) string {
	return contentHash(hashFields{
		Completed:   t.Completed,
		CompletedAt: hashTime(t.CompletedAt),
		Description: t.Description,
		DueDate:     hashTime(t.DueDate),
		Priority:    t.Priority,
		Project:     t.Project,
		Tags:        t.Tags,
		Title:       t.Title,
	})
}

// HashExternal computes the content hash of a remote item using the same
// projection as HashTodo, so identical content hashes identically on both
// sides.
func HashExternal(e *ExternalItem) string {
	return contentHash(hashFields{
		Completed:   e.Completed,
		CompletedAt: hashTime(e.CompletedAt),
		Description: e.Description,
		DueDate:     hashTime(e.DueDate),
		Priority:    mapExternalPriority(e.Priority),
		Project:     e.Project,
		Tags:        e.Tags,
		Title:       e.Title,
	})
}
