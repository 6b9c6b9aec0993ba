package errs

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"syscall"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	plain := New(KindConfig, "bad block size")
	if got := plain.Error(); got != "config error: bad block size" {
		t.Errorf("Error() = %q", got)
	}

	cause := errors.New("disk on fire")
	wrapped := Wrap(KindIO, "write block", cause)
	if got := wrapped.Error(); got != "io error: write block: disk on fire" {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(wrapped, cause) {
		t.Error("wrapped error should unwrap to its cause")
	}

	formatted := Newf(KindWorker, "worker %d stalled", 3)
	if got := formatted.Error(); got != "worker error: worker 3 stalled" {
		t.Errorf("Error() = %q", got)
	}
}

func TestKindOfUnwraps(t *testing.T) {
	inner := New(KindInsufficientSpace, "no room")
	outer := fmt.Errorf("benchmark failed: %w", inner)

	k, ok := KindOf(outer)
	if !ok || k != KindInsufficientSpace {
		t.Errorf("KindOf = %v, %v; want KindInsufficientSpace, true", k, ok)
	}
	if !Is(outer, KindInsufficientSpace) {
		t.Error("Is should see through fmt.Errorf wrapping")
	}
	if Is(outer, KindIO) {
		t.Error("Is matched the wrong kind")
	}

	if _, ok := KindOf(errors.New("anonymous")); ok {
		t.Error("KindOf should reject errors outside the taxonomy")
	}
}

func TestFromOS(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"permission", fs.ErrPermission, KindPermission},
		{"eacces", syscall.EACCES, KindPermission},
		{"eperm", syscall.EPERM, KindPermission},
		{"enospc", syscall.ENOSPC, KindInsufficientSpace},
		{"not exist", fs.ErrNotExist, KindIO},
		{"anything else", errors.New("short read"), KindIO},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FromOS("open scratch", tt.err)
			if got.Kind != tt.want {
				t.Errorf("FromOS kind = %v, want %v", got.Kind, tt.want)
			}
			if !errors.Is(got, tt.err) {
				t.Error("FromOS should keep the cause wrapped")
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"io", New(KindIO, "x"), true},
		{"benchmark", New(KindBenchmark, "x"), true},
		{"scratch file", New(KindScratchFile, "x"), true},
		{"persistence", New(KindPersistence, "x"), true},
		{"worker", New(KindWorker, "x"), true},
		{"insufficient space", New(KindInsufficientSpace, "x"), true},
		{"config", New(KindConfig, "x"), false},
		{"permission", New(KindPermission, "x"), false},
		{"direct io unsupported", New(KindDirectIOUnsupported, "x"), false},
		{"cancelled", New(KindCancelled, "x"), false},
		{"unclassified", errors.New("x"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestUserMessage(t *testing.T) {
	if msg := UserMessage(New(KindPermission, "open")); !strings.Contains(msg, "Permission denied") {
		t.Errorf("permission message = %q", msg)
	}
	if msg := UserMessage(New(KindInsufficientSpace, "write")); !strings.Contains(msg, "disk space") {
		t.Errorf("space message = %q", msg)
	}
	if msg := UserMessage(New(KindConfig, "bad ratio")); !strings.Contains(msg, "bad ratio") {
		t.Errorf("config message should carry the detail, got %q", msg)
	}

	raw := errors.New("something odd")
	if msg := UserMessage(raw); msg != raw.Error() {
		t.Errorf("unclassified message = %q, want pass-through", msg)
	}
}

func TestFallbackHint(t *testing.T) {
	for _, kind := range []Kind{KindDirectIOUnsupported, KindPermission, KindInsufficientSpace} {
		if _, ok := FallbackHint(New(kind, "x")); !ok {
			t.Errorf("kind %v should have a fallback hint", kind)
		}
	}
	if _, ok := FallbackHint(New(KindBenchmark, "x")); ok {
		t.Error("benchmark errors have no fallback hint")
	}
	if _, ok := FallbackHint(errors.New("x")); ok {
		t.Error("unclassified errors have no fallback hint")
	}
}
