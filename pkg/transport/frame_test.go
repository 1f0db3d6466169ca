package transport

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	msgs := [][]byte{[]byte("hello"), {}, bytes.Repeat([]byte{0xaa}, 70000)}
	for _, m := range msgs {
		if err := WriteFrame(&buf, m); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	for i, want := range msgs {
		got, err := ReadFrame(&buf)
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("frame %d mismatch: %d bytes vs %d", i, len(got), len(want))
		}
	}
	if _, err := ReadFrame(&buf); !errors.Is(err, io.EOF) {
		t.Fatalf("expected clean EOF, got %v", err)
	}
}

func TestFrameLittleEndianPrefix(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, []byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	if got := binary.LittleEndian.Uint32(buf.Bytes()[:4]); got != 3 {
		t.Fatalf("prefix = %d", got)
	}
}

func TestReadFrameTruncated(t *testing.T) {
	var buf bytes.Buffer
	_ = WriteFrame(&buf, []byte("truncated payload"))
	short := bytes.NewReader(buf.Bytes()[:buf.Len()-3])
	_, err := ReadFrame(short)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected ErrUnexpectedEOF, got %v", err)
	}
	if !errors.Is(WrapIO("read", "", err), ErrIncomplete) {
		t.Fatalf("truncated read should classify as incomplete")
	}
}

func TestFrameSizeLimit(t *testing.T) {
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], MaxFrameSize+1)
	if _, err := ReadFrame(bytes.NewReader(hdr[:])); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("oversized header: %v", err)
	}
	if err := WriteFrame(io.Discard, make([]byte, MaxFrameSize+1)); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("oversized write: %v", err)
	}
}

type halfWriter struct{}

func (halfWriter) Write(p []byte) (int, error) { return len(p) / 2, nil }

func TestWriteFrameShortWrite(t *testing.T) {
	err := WriteFrame(halfWriter{}, []byte("abcdef"))
	if !errors.Is(err, io.ErrShortWrite) {
		t.Fatalf("expected short write, got %v", err)
	}
}

func TestParseHostPort(t *testing.T) {
	host, port, err := ParseHostPort("127.0.0.1:9001")
	if err != nil || host != "127.0.0.1" || port != 9001 {
		t.Fatalf("got %q %d %v", host, port, err)
	}
	if _, port, err := ParseHostPort(":0"); err != nil || port != 0 {
		t.Fatalf("wildcard: %d %v", port, err)
	}
	for _, bad := range []string{"", "localhost", "h:port", "h:70000", "bad host:1"} {
		if _, _, err := ParseHostPort(bad); !errors.Is(err, ErrAddressParse) {
			t.Errorf("ParseHostPort(%q) = %v, want address parse error", bad, err)
		}
	}
}
