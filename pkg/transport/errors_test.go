package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"testing"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	err := NewError(CodeIncomplete, "send", "10.0.0.1:9000", io.ErrShortWrite)
	if !errors.Is(err, ErrIncomplete) {
		t.Fatalf("expected ErrIncomplete match for %v", err)
	}
	if errors.Is(err, ErrIO) {
		t.Fatalf("incomplete error must not match ErrIO")
	}
	if !errors.Is(err, io.ErrShortWrite) {
		t.Fatalf("cause lost: %v", err)
	}
	wrapped := fmt.Errorf("outer: %w", err)
	if CodeOf(wrapped) != CodeIncomplete {
		t.Fatalf("CodeOf through fmt wrap = %v", CodeOf(wrapped))
	}
	if CodeOf(io.EOF) != CodeUnknown {
		t.Fatalf("foreign errors should be CodeUnknown")
	}
}

func TestErrorString(t *testing.T) {
	err := NewError(CodeIO, "send", "h:1", errors.New("refused"))
	if got, want := err.Error(), "send: h:1: io: refused"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
	if got := ErrCapacityExceeded.Error(); got != "capacity exceeded" {
		t.Fatalf("sentinel Error() = %q", got)
	}
}

func TestErrClosedMatchesNetErrClosed(t *testing.T) {
	if !errors.Is(ErrClosed, net.ErrClosed) {
		t.Fatalf("ErrClosed should wrap net.ErrClosed")
	}
	if !errors.Is(ErrClosed, ErrIO) {
		t.Fatalf("ErrClosed should carry CodeIO")
	}
	if errors.Is(NewError(CodeIO, "send", "", nil), ErrClosed) {
		t.Fatalf("plain io error must not match ErrClosed")
	}
	if !errors.Is(ErrConfigSealed, ErrLockConflict) {
		t.Fatalf("ErrConfigSealed should carry CodeLockConflict")
	}
}

func TestWrapIO(t *testing.T) {
	if WrapIO("read", "", nil) != nil {
		t.Fatalf("nil in, nil out")
	}
	cases := []struct {
		in   error
		code Code
	}{
		{io.ErrShortWrite, CodeIncomplete},
		{fmt.Errorf("frame: %w", io.ErrUnexpectedEOF), CodeIncomplete},
		{io.ErrShortBuffer, CodeIncomplete},
		{errors.New("connection reset"), CodeIO},
		{ErrCapacityExceeded, CodeCapacityExceeded},
	}
	for _, c := range cases {
		if got := CodeOf(WrapIO("read", "x", c.in)); got != c.code {
			t.Errorf("WrapIO(%v) code = %v, want %v", c.in, got, c.code)
		}
	}
}

func TestCodeStrings(t *testing.T) {
	for c := CodeUnknown; c <= CodeInvalidArgument; c++ {
		if c != CodeUnknown && c.String() == "unknown" {
			t.Errorf("code %d has no name", int(c))
		}
	}
}
