package storage

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"spindle/internal/logger"
	"spindle/pkg/errs"
)

func quietStorage(opts ...Option) *Storage {
	opts = append([]Option{WithLogger(logger.NewWithOutput(logger.ERROR, io.Discard))}, opts...)
	return New(opts...)
}

func TestCreateScratchNaming(t *testing.T) {
	dir := t.TempDir()
	st := quietStorage()

	sf, err := st.CreateScratch(dir, 0)
	if err != nil {
		t.Fatalf("CreateScratch: %v", err)
	}

	name := filepath.Base(sf.Path())
	if !strings.HasPrefix(name, ScratchPrefix) {
		t.Fatalf("scratch name %q lacks prefix %q", name, ScratchPrefix)
	}
	if !strings.HasSuffix(name, ".dat") {
		t.Fatalf("scratch name %q lacks .dat suffix", name)
	}
	if _, err := os.Stat(sf.Path()); err != nil {
		t.Fatalf("scratch file missing after create: %v", err)
	}

	if err := sf.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(sf.Path()); !os.IsNotExist(err) {
		t.Fatalf("scratch file still present after Close: %v", err)
	}
	if err := sf.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestCreateScratchUniqueNames(t *testing.T) {
	dir := t.TempDir()
	st := quietStorage()

	a, err := st.CreateScratch(dir, 0)
	if err != nil {
		t.Fatalf("CreateScratch: %v", err)
	}
	defer a.Close()
	b, err := st.CreateScratch(dir, 0)
	if err != nil {
		t.Fatalf("CreateScratch: %v", err)
	}
	defer b.Close()

	if a.Path() == b.Path() {
		t.Fatalf("two scratch files share the path %s", a.Path())
	}
}

func TestScratchKeep(t *testing.T) {
	dir := t.TempDir()
	st := quietStorage()

	sf, err := st.CreateScratch(dir, 0)
	if err != nil {
		t.Fatalf("CreateScratch: %v", err)
	}
	sf.Keep()
	if err := sf.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(sf.Path()); err != nil {
		t.Fatalf("kept scratch file was removed: %v", err)
	}
}

func TestScratchCloseAfterExternalRemove(t *testing.T) {
	dir := t.TempDir()
	st := quietStorage()

	sf, err := st.CreateScratch(dir, 0)
	if err != nil {
		t.Fatalf("CreateScratch: %v", err)
	}
	if err := os.Remove(sf.Path()); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := sf.Close(); err != nil {
		t.Fatalf("Close after external remove: %v", err)
	}
}

func TestCreateScratchInsufficientSpace(t *testing.T) {
	dir := t.TempDir()
	if _, err := freeSpace(dir); err != nil {
		t.Skip("free-space probe unavailable on this platform")
	}
	st := quietStorage()

	_, err := st.CreateScratch(dir, 1<<60)
	if err == nil {
		t.Fatal("expected insufficient-space error for a 1 EiB hint")
	}
	if !errs.Is(err, errs.KindInsufficientSpace) {
		t.Fatalf("error kind = %v, want insufficient space: %v", errs.KindOf(err), err)
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	st := quietStorage()

	sf, err := st.CreateScratch(dir, 0)
	if err != nil {
		t.Fatalf("CreateScratch: %v", err)
	}
	defer sf.Close()

	const blockSize = 4096
	block := make([]byte, blockSize)
	for i := range block {
		block[i] = byte(i % 256)
	}

	w, err := st.OpenWrite(sf.Path())
	if err != nil {
		t.Fatalf("OpenWrite: %v", err)
	}
	for i := 0; i < 4; i++ {
		if _, err := w.Write(block); err != nil {
			w.Close()
			t.Fatalf("Write block %d: %v", i, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close writer: %v", err)
	}

	r, err := st.OpenRead(sf.Path())
	if err != nil {
		t.Fatalf("OpenRead: %v", err)
	}
	defer r.Close()

	size, err := r.Size()
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != 4*blockSize {
		t.Fatalf("file size = %d, want %d", size, 4*blockSize)
	}

	got := make([]byte, blockSize)
	for i := 0; i < 4; i++ {
		if _, err := io.ReadFull(r, got); err != nil {
			t.Fatalf("Read block %d: %v", i, err)
		}
		for j := range got {
			if got[j] != block[j] {
				t.Fatalf("block %d byte %d = %#x, want %#x", i, j, got[j], block[j])
			}
		}
	}
}

func TestSeekAndPartialRead(t *testing.T) {
	dir := t.TempDir()
	st := quietStorage()

	sf, err := st.CreateScratch(dir, 0)
	if err != nil {
		t.Fatalf("CreateScratch: %v", err)
	}
	defer sf.Close()

	w, err := st.OpenWrite(sf.Path())
	if err != nil {
		t.Fatalf("OpenWrite: %v", err)
	}
	data := make([]byte, 8192)
	for i := range data {
		data[i] = byte(i % 256)
	}
	if _, err := w.Write(data); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := st.OpenRead(sf.Path())
	if err != nil {
		t.Fatalf("OpenRead: %v", err)
	}
	defer r.Close()

	if _, err := r.Seek(4096, io.SeekStart); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	got := make([]byte, 256)
	if _, err := io.ReadFull(r, got); err != nil {
		t.Fatalf("Read: %v", err)
	}
	for j := range got {
		want := byte((4096 + j) % 256)
		if got[j] != want {
			t.Fatalf("byte %d = %#x, want %#x", j, got[j], want)
		}
	}
}

func TestFallbackNoticeFiresOnce(t *testing.T) {
	var notices int
	var last error
	st := quietStorage(WithFallbackNotice(func(err error) {
		notices++
		last = err
	}))

	cause := errors.New("operation not supported")
	st.noteFallback(cause)
	st.noteFallback(cause)

	if notices != 1 {
		t.Fatalf("fallback notice fired %d times, want 1", notices)
	}
	if !st.UsingFallback() {
		t.Fatal("UsingFallback = false after fallback")
	}
	if !errs.Is(last, errs.KindDirectIOUnsupported) {
		t.Fatalf("notice error kind = %v, want direct I/O unsupported", errs.KindOf(last))
	}
	if !errors.Is(last, cause) {
		t.Fatal("notice error does not wrap the cause")
	}
}

func TestOpenReadMissingFile(t *testing.T) {
	st := quietStorage()
	_, err := st.OpenRead(filepath.Join(t.TempDir(), "absent.dat"))
	if err == nil {
		t.Fatal("expected error opening a missing file")
	}
	if errs.Is(err, errs.KindDirectIOUnsupported) {
		t.Fatal("missing file misreported as a direct I/O refusal")
	}
}
