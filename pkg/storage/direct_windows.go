//go:build windows

package storage

import (
	"errors"
	"os"

	"golang.org/x/sys/windows"
)

// openDirectFile opens path with FILE_FLAG_NO_BUFFERING (plus
// FILE_FLAG_WRITE_THROUGH for writes) so transfers bypass the cache
// manager. Sector alignment is required; violations surface as
// ERROR_INVALID_PARAMETER and trigger the buffered fallback.
func openDirectFile(path string, write bool) (*os.File, error) {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return nil, err
	}

	access := uint32(windows.GENERIC_READ)
	disposition := uint32(windows.OPEN_EXISTING)
	attrs := uint32(windows.FILE_ATTRIBUTE_NORMAL | windows.FILE_FLAG_NO_BUFFERING)
	if write {
		access = windows.GENERIC_WRITE
		disposition = windows.OPEN_ALWAYS
		attrs |= windows.FILE_FLAG_WRITE_THROUGH
	}

	h, err := windows.CreateFile(p, access,
		uint32(windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE),
		nil, disposition, attrs, 0)
	if err != nil {
		return nil, err
	}
	return os.NewFile(uintptr(h), path), nil
}

// dropDirectFlag cannot alter buffering on an open Windows handle; the
// caller reopens the file at the preserved offset instead.
func dropDirectFlag(f *os.File) error {
	return errors.New("buffering flags are fixed at open on windows")
}

func isAlignmentErr(err error) bool {
	return errors.Is(err, windows.ERROR_INVALID_PARAMETER)
}

func freeSpace(dir string) (int64, error) {
	p, err := windows.UTF16PtrFromString(dir)
	if err != nil {
		return -1, err
	}
	var avail, total, free uint64
	if err := windows.GetDiskFreeSpaceEx(p, &avail, &total, &free); err != nil {
		return -1, err
	}
	return int64(avail), nil
}
