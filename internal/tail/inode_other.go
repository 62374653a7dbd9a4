//go:build !unix

package tail

import "os"

// inodeOf has no inode to report on this platform; rotation detection falls
// back to size heuristics only.
func inodeOf(info os.FileInfo) uint64 {
	return 0
}
