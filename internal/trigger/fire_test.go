package trigger

import (
	"testing"
	"time"

	"github.com/codewiresh/fswatchd/internal/match"
	"github.com/codewiresh/fswatchd/internal/query"
)

func TestManagerFiresOnlyMatchingTriggers(t *testing.T) {
	m := NewManager(nil, nil)

	goExpr, err := query.Parse("go")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	mdExpr, err := query.Parse("md")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	defs := []Definition{
		{Name: "on-go", Root: t.TempDir(), Command: []string{"true"}},
		{Name: "on-md", Root: t.TempDir(), Command: []string{"true"}},
	}
	exprs := map[string]query.Expr{"on-go": goExpr, "on-md": mdExpr}

	changed := []match.Record{{Name: "main.go", Exists: true}}
	m.Evaluate(defs, changed, exprs)

	reaper := NewReaper(m, 10*time.Millisecond)
	go reaper.Run()
	time.Sleep(100 * time.Millisecond)
	reaper.Stop()
}

func TestManagerSkipsTriggersWithoutAnExpression(t *testing.T) {
	m := NewManager(nil, nil)
	defs := []Definition{{Name: "orphan", Root: t.TempDir(), Command: []string{"true"}}}
	// exprs intentionally omits "orphan"; Evaluate must not panic or fire it.
	m.Evaluate(defs, []match.Record{{Name: "x", Exists: true}}, map[string]query.Expr{})
}
