package root

import (
	"os"
	"time"

	"github.com/codewiresh/fswatchd/internal/clock"
	"github.com/codewiresh/fswatchd/internal/match"
	"github.com/codewiresh/fswatchd/internal/query"
)

// FileState is one tracked file's last-known status plus the clocks
// naming when it was first observed (OClock) and last changed
// (CClock). A deleted file is retained with Exists=false until the
// next re-creation, so "since" queries can still report the deletion.
type FileState struct {
	Name   string
	Exists bool

	Size  int64
	Mode  uint32
	UID   uint32
	GID   uint32
	Mtime time.Time
	Ctime time.Time
	Ino   uint64
	Dev   uint64
	Nlink uint32
	IsDir bool

	OClock clock.Ticks
	CClock clock.Ticks
}

// toQueryInfo projects the fields the query package's expression
// language matches against.
func (f FileState) toQueryInfo() query.FileInfo {
	return query.FileInfo{
		Name:       f.Name,
		Exists:     f.Exists,
		Size:       f.Size,
		MtimeEpoch: f.Mtime.Unix(),
		CtimeEpoch: f.Ctime.Unix(),
		IsDir:      f.IsDir,
	}
}

// Record renders the file as the wire match.Record spec.md §3 defines,
// marking New when OClock == CClock (first observation at its current
// clock, i.e. never changed since creation).
func (f FileState) Record() match.Record {
	r := match.Record{
		Name:   f.Name,
		Exists: f.Exists,
		New:    f.OClock == f.CClock,
	}
	if f.Exists {
		r.Size = f.Size
		r.Mode = f.Mode
		r.UID = f.UID
		r.GID = f.GID
		r.Mtime = f.Mtime.Unix()
		r.Ctime = f.Ctime.Unix()
		r.Ino = f.Ino
		r.Dev = f.Dev
		r.Nlink = f.Nlink
	}
	return r.WithClocks(f.OClock, f.CClock)
}

// FromOSFileInfo builds the stat-derived portion of a FileState from a
// standard library os.FileInfo, as produced by the polling watch
// backend (internal/watchbackend).
func FromOSFileInfo(name string, fi os.FileInfo) FileState {
	st := FileState{
		Name:   name,
		Exists: true,
		Size:   fi.Size(),
		Mode:   uint32(fi.Mode()),
		Mtime:  fi.ModTime(),
		Ctime:  fi.ModTime(),
		IsDir:  fi.IsDir(),
		Nlink:  1,
	}
	fillPlatformStat(&st, fi)
	return st
}
