//go:build linux

package storage

import (
	"errors"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// openDirectFile opens path with O_DIRECT so transfers bypass the page
// cache. The caller falls back to buffered I/O if this is refused.
func openDirectFile(path string, write bool) (*os.File, error) {
	flags := os.O_RDONLY
	if write {
		flags = os.O_WRONLY | os.O_CREATE
	}
	return os.OpenFile(path, flags|syscall.O_DIRECT, 0644)
}

// dropDirectFlag clears O_DIRECT on an open descriptor. Used when an
// unaligned transfer is rejected mid-run and the handle must continue
// in buffered mode without losing its offset.
func dropDirectFlag(f *os.File) error {
	fd := uintptr(f.Fd())
	fl, err := unix.FcntlInt(fd, unix.F_GETFL, 0)
	if err != nil {
		return err
	}
	_, err = unix.FcntlInt(fd, unix.F_SETFL, fl&^unix.O_DIRECT)
	return err
}

// isAlignmentErr matches the EINVAL O_DIRECT raises for buffers,
// offsets or lengths that violate its alignment contract.
func isAlignmentErr(err error) bool {
	return errors.Is(err, unix.EINVAL)
}
