//go:build !windows

package file

import "syscall"

func umask(mask int) int {
	return syscall.Umask(mask)
}
