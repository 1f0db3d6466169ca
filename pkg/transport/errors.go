package transport

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// Code classifies a transport failure. Callers branch on the code rather
// than on the wrapped cause, e.g. to tell capacity rejections from I/O.
type Code int

const (
	CodeUnknown Code = iota
	// CodePeerRegistry is a registry rejection (duplicate or invalid peer).
	CodePeerRegistry
	// CodeCapacityExceeded means a registry, buffer or frame hit its bound.
	CodeCapacityExceeded
	CodeSerialization
	CodeIO
	// CodeIncomplete is a short read or write.
	CodeIncomplete
	// CodeLockConflict means a shared resource was found in a state that
	// forbids the access (e.g. a sealed configuration).
	CodeLockConflict
	CodeAddressParse
	CodeInvalidArgument
)

func (c Code) String() string {
	switch c {
	case CodePeerRegistry:
		return "peer registry"
	case CodeCapacityExceeded:
		return "capacity exceeded"
	case CodeSerialization:
		return "serialization"
	case CodeIO:
		return "io"
	case CodeIncomplete:
		return "incomplete"
	case CodeLockConflict:
		return "lock conflict"
	case CodeAddressParse:
		return "address parse"
	case CodeInvalidArgument:
		return "invalid argument"
	default:
		return "unknown"
	}
}

// Error is the error type returned by every fallible operation in this
// module and its transports.
type Error struct {
	Code Code
	Op   string // operation, e.g. "send", "bind", "registry.add"
	Addr string // remote or local address involved, if any
	Err  error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Addr != "" {
		b.WriteString(e.Addr)
		b.WriteString(": ")
	}
	b.WriteString(e.Code.String())
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinel errors by code, so errors.Is(err, ErrIncomplete)
// holds for any *Error carrying CodeIncomplete.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Op == "" && t.Addr == "" && t.Err == nil && t.Code == e.Code
}

// Sentinels for errors.Is.
var (
	ErrPeerRegistry     = &Error{Code: CodePeerRegistry}
	ErrCapacityExceeded = &Error{Code: CodeCapacityExceeded}
	ErrSerialization    = &Error{Code: CodeSerialization}
	ErrIO               = &Error{Code: CodeIO}
	ErrIncomplete       = &Error{Code: CodeIncomplete}
	ErrLockConflict     = &Error{Code: CodeLockConflict}
	ErrAddressParse     = &Error{Code: CodeAddressParse}
	ErrInvalidArgument  = &Error{Code: CodeInvalidArgument}
)

var (
	// ErrClosed is returned by any operation on a closed transport. It also
	// matches net.ErrClosed.
	ErrClosed = &Error{Code: CodeIO, Op: "transport", Err: net.ErrClosed}

	// ErrConfigSealed is returned when a Config is modified after a
	// transport has been constructed from it.
	ErrConfigSealed = &Error{Code: CodeLockConflict, Op: "config", Err: errors.New("configuration is in use by a transport")}
)

// NewError builds an *Error.
func NewError(code Code, op, addr string, err error) *Error {
	return &Error{Code: code, Op: op, Addr: addr, Err: err}
}

// Errorf builds an *Error with a formatted cause.
func Errorf(code Code, op string, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Err: fmt.Errorf(format, args...)}
}

// CodeOf returns the code of the first *Error in err's chain, or
// CodeUnknown.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// IsCode reports whether err carries code c.
func IsCode(err error, c Code) bool { return CodeOf(err) == c }

// WrapIO classifies a raw I/O error. Short writes and truncated reads
// become CodeIncomplete; errors that already are *Error pass through.
func WrapIO(op, addr string, err error) error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return err
	}
	code := CodeIO
	if isIncomplete(err) {
		code = CodeIncomplete
	}
	return &Error{Code: code, Op: op, Addr: addr, Err: err}
}
