//go:build windows

package file

// Windows has no umask equivalent; file creation mode is governed by ACLs
// instead, so this is a no-op that preserves the cross-platform call site.
func umask(mask int) int {
	return 0
}
