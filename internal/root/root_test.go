package root

import (
	"testing"
	"time"

	"github.com/codewiresh/fswatchd/internal/clock"
	"github.com/codewiresh/fswatchd/internal/query"
)

func TestAdvanceStampsClocksAndMarksNew(t *testing.T) {
	r := New("/tmp/watched")

	r.Advance([]FileState{{Name: "a.txt", Exists: true, Mtime: time.Unix(100, 0)}}, nil)
	recs := r.Find(nil)
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	if !recs[0].New {
		t.Fatal("first observation of a file should be New")
	}
	if recs[0].OClock != recs[0].CClock {
		t.Fatal("oclock and cclock should match on first observation")
	}

	r.Advance([]FileState{{Name: "a.txt", Exists: true, Mtime: time.Unix(200, 0)}}, nil)
	recs = r.Find(nil)
	if recs[0].New {
		t.Fatal("second observation should not be New")
	}
	if recs[0].OClock == recs[0].CClock {
		t.Fatal("oclock should stay fixed while cclock advances")
	}
}

func TestSinceReturnsOnlyChangedFiles(t *testing.T) {
	r := New("/tmp/watched")
	r.Advance([]FileState{{Name: "a.txt", Exists: true}}, nil)

	baseline := r.Clock.Value()

	r.Advance([]FileState{{Name: "b.txt", Exists: true}}, nil)

	recs := r.Since(clock.Since{Ticks: baseline}, nil)
	names := map[string]bool{}
	for _, rec := range recs {
		names[rec.Name] = true
	}
	if names["a.txt"] {
		t.Fatal("a.txt should not appear in a since query from after its own change")
	}
	if !names["b.txt"] {
		t.Fatal("b.txt should appear, it changed after baseline")
	}
}

func TestSubscribeDeliversOnlyMatchingChanges(t *testing.T) {
	r := New("/tmp/watched")
	suffixGo, err := query.Parse("go")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got []string
	r.Subscribe("sub1", suffixGo, func(n Notification) {
		for _, f := range n.Files {
			got = append(got, f.Name)
		}
	})

	r.Advance([]FileState{
		{Name: "main.go", Exists: true},
		{Name: "README.md", Exists: true},
	}, nil)

	if len(got) != 1 || got[0] != "main.go" {
		t.Fatalf("expected only main.go delivered, got %v", got)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	r := New("/tmp/watched")
	calls := 0
	r.Subscribe("sub1", nil, func(Notification) { calls++ })
	r.Unsubscribe("sub1")

	r.Advance([]FileState{{Name: "a.txt", Exists: true}}, nil)
	if calls != 0 {
		t.Fatalf("expected no delivery after unsubscribe, got %d calls", calls)
	}
}

func TestRegistryWatchOrCreateIsIdempotent(t *testing.T) {
	reg := NewRegistry()
	r1, created1, err := reg.WatchOrCreate("/tmp/watched")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created1 {
		t.Fatal("expected first WatchOrCreate to report creation")
	}
	r2, created2, err := reg.WatchOrCreate("/tmp/watched")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created2 {
		t.Fatal("expected second WatchOrCreate to report no creation")
	}
	if r1 != r2 {
		t.Fatal("expected the same root to be returned")
	}
}

func TestRegistryResolveUnwatchedFails(t *testing.T) {
	reg := NewRegistry()
	if _, ok := reg.Resolve("/tmp/never-watched"); ok {
		t.Fatal("expected Resolve to fail for an unwatched path")
	}
}

func TestRegistryRemove(t *testing.T) {
	reg := NewRegistry()
	reg.WatchOrCreate("/tmp/watched")
	if !reg.Remove("/tmp/watched") {
		t.Fatal("expected Remove to report the root was watched")
	}
	if reg.Remove("/tmp/watched") {
		t.Fatal("expected second Remove to report nothing to remove")
	}
}
