// Package match defines the file-match record shape shared by find,
// since, query, and subscription responses, and the fixed field order
// spec.md's templated array encoding relies on.
package match

import "github.com/codewiresh/fswatchd/internal/clock"

// Fields is the reserved, positional field order for the templated
// array encoding (spec.md §4.2): 15 reserved slots, 14 used.
var Fields = []string{
	"name", "exists", "size", "mode", "uid", "gid",
	"mtime", "ctime", "ino", "dev", "nlink",
	"new", "oclock", "cclock",
}

// Record is one file's match result. Stat-derived fields are only
// meaningful when Exists is true (spec.md §8's exists/stat coupling
// invariant).
type Record struct {
	Name   string
	Exists bool

	Size  int64
	Mode  uint32
	UID   uint32
	GID   uint32
	Mtime int64
	Ctime int64
	Ino   uint64
	Dev   uint64
	Nlink uint32

	New    bool
	OClock string
	CClock string
}

// Row renders the record as the positional value slice the templated
// array encoding writes out, in the exact order of Fields. Stat fields
// are nil when Exists is false.
func (r Record) Row() []any {
	if !r.Exists {
		return []any{r.Name, false, nil, nil, nil, nil, nil, nil, nil, nil, nil, r.New, r.OClock, r.CClock}
	}
	return []any{
		r.Name, true, r.Size, r.Mode, r.UID, r.GID,
		r.Mtime, r.Ctime, r.Ino, r.Dev, r.Nlink,
		r.New, r.OClock, r.CClock,
	}
}

// WithClocks stamps a record's origin/change clocks.
func (r Record) WithClocks(oclock, cclock clock.Ticks) Record {
	r.OClock = clock.ID(oclock)
	r.CClock = clock.ID(cclock)
	return r
}
