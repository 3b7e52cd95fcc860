//go:build !linux && !darwin

package root

import "os"

// fillPlatformStat is a no-op stand-in on platforms without a
// syscall.Stat_t (the uid/gid/ino/dev/nlink fields stay zero-valued).
func fillPlatformStat(st *FileState, fi os.FileInfo) {}
