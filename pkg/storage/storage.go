// Package storage provides the cross-platform unbuffered-I/O layer the
// benchmark engine runs on. Opens attempt direct (no-cache) access
// first and degrade to buffered I/O with explicit flushing when the
// platform or filesystem refuses, signalling the degradation exactly
// once so callers can warn the user.
package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"spindle/internal/logger"
	"spindle/pkg/errs"
)

const (
	// ScratchPrefix starts every benchmark scratch file name.
	ScratchPrefix = "SPINDLE_TMP_"

	// DefaultBlockSize is the platform default returned by
	// OptimalBlockSize when no device introspection is available.
	DefaultBlockSize int64 = 64 * 1024
)

// scratchSeq disambiguates scratch files created by concurrent workers
// within one process; the PID alone only separates processes.
var scratchSeq atomic.Uint64

// File is the I/O contract the executors drive. Handles are owned by
// exactly one worker and are not safe for concurrent use.
type File interface {
	Write(p []byte) (int, error)
	Read(p []byte) (int, error)
	Seek(offset int64, whence int) (int64, error)
	Sync() error
	Size() (int64, error)
	Close() error
}

// Storage opens files for benchmarking. There are exactly two runtime
// variants behind this type: direct platform I/O and the
// buffered+flush fallback.
type Storage struct {
	lg         *logger.Logger
	onFallback func(error)

	fallbackOnce sync.Once
	fellBack     atomic.Bool
}

type Option func(*Storage)

// WithLogger routes the one-time fallback notice to lg.
func WithLogger(lg *logger.Logger) Option {
	return func(s *Storage) { s.lg = lg }
}

// WithFallbackNotice registers a callback invoked at most once, the
// first time direct I/O is refused and the fallback engages.
func WithFallbackNotice(fn func(error)) Option {
	return func(s *Storage) { s.onFallback = fn }
}

func New(opts ...Option) *Storage {
	s := &Storage{}
	for _, opt := range opts {
		opt(s)
	}
	s.lg = logger.Default(s.lg)
	return s
}

// UsingFallback reports whether any open or operation has degraded to
// buffered I/O.
func (s *Storage) UsingFallback() bool { return s.fellBack.Load() }

func (s *Storage) noteFallback(cause error) {
	s.fallbackOnce.Do(func() {
		s.fellBack.Store(true)
		err := errs.Wrap(errs.KindDirectIOUnsupported, "direct I/O unavailable, using buffered I/O with flush", cause)
		s.lg.Warn("%s", errs.UserMessage(err))
		if s.onFallback != nil {
			s.onFallback(err)
		}
	})
}

// OpenWrite opens path for writing, creating it if needed. Direct mode
// is attempted first; on refusal the handle falls back to buffered
// writes with a flush after every write.
func (s *Storage) OpenWrite(path string) (File, error) {
	if f, err := openDirectFile(path, true); err == nil {
		return &file{f: f, st: s, path: path, wr: true, direct: true}, nil
	} else if isFatalOpenErr(err) {
		return nil, errs.FromOS(fmt.Sprintf("open %s for write", path), err)
	} else {
		s.noteFallback(err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return nil, errs.FromOS(fmt.Sprintf("open %s for write", path), err)
	}
	return &file{f: f, st: s, path: path, wr: true, syncOnWrite: true}, nil
}

// OpenRead opens path for reading, preferring direct mode.
func (s *Storage) OpenRead(path string) (File, error) {
	if f, err := openDirectFile(path, false); err == nil {
		return &file{f: f, st: s, path: path}, nil
	} else if isFatalOpenErr(err) {
		return nil, errs.FromOS(fmt.Sprintf("open %s for read", path), err)
	} else {
		s.noteFallback(err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errs.FromOS(fmt.Sprintf("open %s for read", path), err)
	}
	return &file{f: f, st: s, path: path}, nil
}

// CreateScratch creates an empty, uniquely named benchmark file inside
// dir after verifying the filesystem has room for sizeHint bytes.
func (s *Storage) CreateScratch(dir string, sizeHint int64) (*ScratchFile, error) {
	if sizeHint > 0 {
		free, err := freeSpace(dir)
		if err == nil && free >= 0 && free < sizeHint {
			return nil, errs.Newf(errs.KindInsufficientSpace,
				"need %d bytes in %s but only %d available", sizeHint, dir, free)
		}
	}

	name := fmt.Sprintf("%s%d_%d.dat", ScratchPrefix, os.Getpid(), scratchSeq.Add(1))
	path := filepath.Join(dir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, errs.Wrap(errs.KindScratchFile, fmt.Sprintf("create scratch file %s", path), err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, errs.Wrap(errs.KindScratchFile, fmt.Sprintf("create scratch file %s", path), err)
	}

	return &ScratchFile{path: path}, nil
}

// OptimalBlockSize returns the preferred transfer size for path. With
// no portable device introspection this is the 64 KiB platform default.
func (s *Storage) OptimalBlockSize(path string) int64 {
	return DefaultBlockSize
}

// isFatalOpenErr separates errors that a buffered retry cannot fix
// (missing file, permissions) from direct-I/O refusals.
func isFatalOpenErr(err error) bool {
	return os.IsNotExist(err) || os.IsPermission(err)
}

// ScratchFile owns a benchmark file on disk. Close removes it unless
// Keep was called first; Close is safe to call more than once.
type ScratchFile struct {
	path   string
	keep   bool
	closed bool
	mu     sync.Mutex
}

func (sf *ScratchFile) Path() string { return sf.path }

// Keep marks the file to survive Close.
func (sf *ScratchFile) Keep() {
	sf.mu.Lock()
	sf.keep = true
	sf.mu.Unlock()
}

func (sf *ScratchFile) Close() error {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	if sf.closed || sf.keep {
		sf.closed = true
		return nil
	}
	sf.closed = true
	if err := os.Remove(sf.path); err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.KindScratchFile, fmt.Sprintf("remove scratch file %s", sf.path), err)
	}
	return nil
}

// file adapts an *os.File to the File contract, degrading from direct
// to buffered mode when the kernel rejects an unaligned transfer.
type file struct {
	f  *os.File
	st *Storage

	path        string
	wr          bool
	direct      bool
	syncOnWrite bool
}

func (f *file) Write(p []byte) (int, error) {
	n, err := f.f.Write(p)
	if err != nil && f.direct && isAlignmentErr(err) {
		if derr := f.degrade(err); derr != nil {
			return n, err
		}
		n, err = f.f.Write(p)
	}
	if err != nil {
		return n, err
	}
	if f.syncOnWrite {
		if serr := f.f.Sync(); serr != nil {
			return n, serr
		}
	}
	return n, nil
}

func (f *file) Read(p []byte) (int, error) {
	n, err := f.f.Read(p)
	if err != nil && err != io.EOF && f.direct && isAlignmentErr(err) {
		if derr := f.degrade(err); derr != nil {
			return n, err
		}
		n, err = f.f.Read(p)
	}
	return n, err
}

func (f *file) Seek(offset int64, whence int) (int64, error) {
	return f.f.Seek(offset, whence)
}

func (f *file) Sync() error { return f.f.Sync() }

func (f *file) Size() (int64, error) {
	info, err := f.f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (f *file) Close() error { return f.f.Close() }

// degrade switches an open direct handle to buffered mode, preserving
// the file offset. Platforms that cannot flip the flag in place get a
// reopen at the same position.
func (f *file) degrade(cause error) error {
	if err := dropDirectFlag(f.f); err != nil {
		pos, perr := f.f.Seek(0, io.SeekCurrent)
		if perr != nil {
			return perr
		}
		flags := os.O_RDONLY
		if f.wr {
			flags = os.O_WRONLY
		}
		nf, oerr := os.OpenFile(f.path, flags, 0644)
		if oerr != nil {
			return oerr
		}
		if _, serr := nf.Seek(pos, io.SeekStart); serr != nil {
			nf.Close()
			return serr
		}
		f.f.Close()
		f.f = nf
	}
	f.direct = false
	f.syncOnWrite = f.wr
	f.st.noteFallback(cause)
	return nil
}
