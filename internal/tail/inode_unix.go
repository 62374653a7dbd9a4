//go:build unix

package tail

import (
	"os"
	"syscall"
)

// inodeOf extracts the inode number used for rotation detection. Returns 0
// when the platform stat does not expose one.
func inodeOf(info os.FileInfo) uint64 {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return uint64(st.Ino)
	}
	return 0
}
