//go:build darwin

package storage

import (
	"os"

	"golang.org/x/sys/unix"
)

// openDirectFile opens path and disables caching with F_NOCACHE, the
// macOS equivalent of O_DIRECT. F_NOCACHE imposes no alignment rules.
func openDirectFile(path string, write bool) (*os.File, error) {
	flags := os.O_RDONLY
	if write {
		flags = os.O_WRONLY | os.O_CREATE
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, err
	}
	if _, err := unix.FcntlInt(f.Fd(), unix.F_NOCACHE, 1); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func dropDirectFlag(f *os.File) error {
	_, err := unix.FcntlInt(f.Fd(), unix.F_NOCACHE, 0)
	return err
}

func isAlignmentErr(err error) bool { return false }
