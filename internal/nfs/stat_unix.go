//go:build linux || darwin

package nfs

import (
	"io/fs"
	"syscall"
)

func platformInode(info fs.FileInfo) uint64 {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return uint64(st.Ino)
	}
	return hashName(info.Name())
}

// platformOwner returns the file's owning uid/gid for ACCESS's
// mode-vs-requester comparison. ok is false when the platform doesn't
// expose POSIX ownership.
func platformOwner(info fs.FileInfo) (uid, gid uint32, ok bool) {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return st.Uid, st.Gid, true
	}
	return 0, 0, false
}
