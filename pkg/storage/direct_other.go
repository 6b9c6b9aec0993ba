//go:build !linux && !darwin && !windows

package storage

import (
	"errors"
	"os"
)

// Platforms without a known no-cache mechanism always run on the
// buffered+flush variant.
func openDirectFile(path string, write bool) (*os.File, error) {
	return nil, errors.New("direct I/O not supported on this platform")
}

func dropDirectFlag(f *os.File) error { return nil }

func isAlignmentErr(err error) bool { return false }

func freeSpace(dir string) (int64, error) {
	return -1, errors.New("free space detection not supported on this platform")
}
