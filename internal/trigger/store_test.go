package trigger

import (
	"encoding/json"
	"testing"
	"time"
)

func TestStorePutListDelete(t *testing.T) {
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	def := Definition{
		Root:       "/tmp/watched",
		Name:       "build-on-go-change",
		Expression: json.RawMessage(`"go"`),
		Command:    []string{"go", "build", "./..."},
		CreatedAt:  time.Unix(1000, 0),
	}
	if err := store.Put(def); err != nil {
		t.Fatalf("put: %v", err)
	}

	list, err := store.List("/tmp/watched")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Name != "build-on-go-change" {
		t.Fatalf("expected one trigger back, got %+v", list)
	}
	if len(list[0].Command) != 3 || list[0].Command[0] != "go" {
		t.Fatalf("unexpected command round-trip: %+v", list[0].Command)
	}

	removed, err := store.Delete("/tmp/watched", "build-on-go-change")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !removed {
		t.Fatal("expected delete to report the trigger existed")
	}

	list, err = store.List("/tmp/watched")
	if err != nil {
		t.Fatalf("list after delete: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected no triggers left, got %+v", list)
	}
}

func TestStorePutReplacesExisting(t *testing.T) {
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	base := Definition{Root: "/r", Name: "t", Expression: json.RawMessage(`"go"`), Command: []string{"echo", "a"}, CreatedAt: time.Unix(1, 0)}
	if err := store.Put(base); err != nil {
		t.Fatalf("put: %v", err)
	}
	base.Command = []string{"echo", "b"}
	if err := store.Put(base); err != nil {
		t.Fatalf("put replacement: %v", err)
	}

	list, err := store.List("/r")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Command[1] != "b" {
		t.Fatalf("expected the replacement command to win, got %+v", list)
	}
}
