package transport

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
)

// MaxFrameSize bounds a single length-prefixed frame.
const MaxFrameSize = 1 << 24

// WriteFrame writes b as one frame: a u32 little-endian length followed by
// the payload. The caller flushes buffered writers.
func WriteFrame(w io.Writer, b []byte) error {
	if len(b) > MaxFrameSize {
		return Errorf(CodeCapacityExceeded, "frame", "frame of %d bytes exceeds %d", len(b), MaxFrameSize)
	}
	var lenbuf [4]byte
	binary.LittleEndian.PutUint32(lenbuf[:], uint32(len(b)))
	if err := writeFull(w, lenbuf[:]); err != nil {
		return err
	}
	return writeFull(w, b)
}

func writeFull(w io.Writer, b []byte) error {
	n, err := w.Write(b)
	if err != nil {
		return err
	}
	if n < len(b) {
		return io.ErrShortWrite
	}
	return nil
}

// ReadFrame reads one frame written by WriteFrame. A stream that ends
// inside a frame yields io.ErrUnexpectedEOF; a clean end yields io.EOF.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenbuf [4]byte
	if _, err := io.ReadFull(r, lenbuf[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenbuf[:])
	if n > MaxFrameSize {
		return nil, Errorf(CodeCapacityExceeded, "frame", "frame of %d bytes exceeds %d", n, MaxFrameSize)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return buf, nil
}

func isIncomplete(err error) bool {
	return errors.Is(err, io.ErrShortWrite) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.ErrShortBuffer)
}

// ParseHostPort validates a "host:port" address and returns its parts. An
// empty host is allowed (wildcard bind).
func ParseHostPort(address string) (host string, port int, err error) {
	host, ps, err := net.SplitHostPort(strings.TrimSpace(address))
	if err != nil {
		return "", 0, NewError(CodeAddressParse, "parse", address, err)
	}
	p, err := strconv.ParseUint(ps, 10, 16)
	if err != nil {
		return "", 0, NewError(CodeAddressParse, "parse", address, err)
	}
	if strings.ContainsAny(host, " /") {
		return "", 0, Errorf(CodeAddressParse, "parse", "invalid host %q", host)
	}
	return host, int(p), nil
}
