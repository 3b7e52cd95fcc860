//go:build linux || darwin

package root

import (
	"os"
	"syscall"
)

// fillPlatformStat populates the uid/gid/ino/dev/nlink fields from the
// underlying syscall.Stat_t, available on the platforms the out-of-scope
// inotify/FSEvents backend would actually run on.
func fillPlatformStat(st *FileState, fi os.FileInfo) {
	sys, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return
	}
	st.UID = sys.Uid
	st.GID = sys.Gid
	st.Ino = sys.Ino
	st.Dev = uint64(sys.Dev)
	st.Nlink = uint32(sys.Nlink)
}
