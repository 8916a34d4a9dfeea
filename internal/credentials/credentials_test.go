package credentials

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestSetAndGet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}

	if got := s.Get("todoist", "api_token"); got != "" {
		t.Errorf("unset credential = %q, want empty", got)
	}

	if err := s.Set("todoist", "api_token", "secret"); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	if got := s.Get("todoist", "api_token"); got != "secret" {
		t.Errorf("Get() = %q, want secret", got)
	}
}

func TestPersistsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")

	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Set("todoist", "api_token", "secret"); err != nil {
		t.Fatal(err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := s2.Get("todoist", "api_token"); got != "secret" {
		t.Errorf("reloaded credential = %q, want secret", got)
	}
}

func TestFileMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Set("todoist", "api_token", "secret"); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if mode := info.Mode().Perm(); mode != 0o600 {
		t.Errorf("file mode = %o, want 600", mode)
	}
}

func TestDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Set("todoist", "api_token", "secret"); err != nil {
		t.Fatal(err)
	}
	if err := s.Set("todoist", "workspace", "personal"); err != nil {
		t.Fatal(err)
	}

	if err := s.Delete("todoist"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}

	if got := s.Get("todoist", "api_token"); got != "" {
		t.Error("deleted provider should have no credentials")
	}
	if got := s.Providers(); len(got) != 0 {
		t.Errorf("Providers() = %v, want empty", got)
	}
}

func TestProvidersAndKeysSorted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}

	for _, set := range [][3]string{
		{"todoist", "api_token", "a"},
		{"ticktick", "client_secret", "b"},
		{"ticktick", "client_id", "c"},
	} {
		if err := s.Set(set[0], set[1], set[2]); err != nil {
			t.Fatal(err)
		}
	}

	if got, want := s.Providers(), []string{"ticktick", "todoist"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Providers() = %v, want %v", got, want)
	}
	if got, want := s.Keys("ticktick"), []string{"client_id", "client_secret"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Keys() = %v, want %v", got, want)
	}
}

func TestOpenMissingFile(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "nope", "credentials.json"))
	if err != nil {
		t.Fatalf("Open() should tolerate a missing file, got %v", err)
	}
	if got := s.Providers(); len(got) != 0 {
		t.Errorf("fresh store Providers() = %v, want empty", got)
	}
}

func TestOpenCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := Open(path); err == nil {
		t.Error("corrupt file should be an error, not silently reset")
	}
}
