package t2sa

import (
	"errors"
	"fmt"
)

var (
	// ErrClientConfigNil indicates that a nil ClientConfig was provided.
	ErrClientConfigNil = errors.New("client config is nil")

	// ErrNotConnected indicates that a command was issued while the client has no live connection.
	ErrNotConnected = errors.New("not connected")

	// ErrAlreadyConnected indicates that Connect was called on a connected client.
	ErrAlreadyConnected = errors.New("already connected")

	// ErrLockNotHeld indicates that a wire exchange was attempted without holding the communication lock.
	ErrLockNotHeld = errors.New("communication lock is not held")

	// ErrInvalidArgument indicates that a command argument would break the line grammar.
	ErrInvalidArgument = errors.New("invalid command argument")

	// ErrOptionNotRuntime indicates that an option which can't be changed at runtime was passed to UpdateConfig.
	ErrOptionNotRuntime = errors.New("option can't be changed at runtime")
)

var (
	// ErrDisconnected indicates that the peer closed or reset the connection.
	ErrDisconnected = errors.New("connection lost")

	// ErrReadTimeout indicates that no complete reply arrived within the read timeout.
	ErrReadTimeout = errors.New("read timeout")

	// ErrWriteTimeout indicates that a command line could not be written within the write timeout.
	ErrWriteTimeout = errors.New("write timeout")

	// ErrReadinessTimeout indicates that the tracker did not report READY within the configured ceiling.
	ErrReadinessTimeout = errors.New("readiness timeout")
)

var (
	// ErrMalformedReply indicates that a reply line matches none of the reply shapes.
	ErrMalformedReply = errors.New("malformed reply")

	// ErrUnexpectedStatus indicates a bare status reply to a command other than the status query.
	ErrUnexpectedStatus = errors.New("bare status reply to non-status command")

	// ErrReplyTooLong indicates that a reply line exceeds MaxReplyLength bytes.
	ErrReplyTooLong = errors.New("reply too long")
)

// DeviceError is an ERR-coded reply reported by the tracker application.
// It is not fatal to the connection.
type DeviceError struct {
	Code    ErrorCode
	Message string
	Command string
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("t2sa: %s returned ERR-%03d (%s): %s", e.Command, int(e.Code), e.Code, e.Message)
}

// ProtocolError reports a reply that could not be classified or parsed.
// The connection stays usable.
type ProtocolError struct {
	Command string
	Reply   string
	Err     error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("t2sa: %s: unexpected reply %q: %v", e.Command, e.Reply, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// ConnError reports a connectivity fault. The client has already closed the
// connection when it returns a ConnError, and the caller must reconnect.
type ConnError struct {
	Op      string
	Command string
	Err     error
}

func (e *ConnError) Error() string {
	if e.Command == "" {
		return fmt.Sprintf("t2sa: %s: %v", e.Op, e.Err)
	}

	return fmt.Sprintf("t2sa: %s %s: %v", e.Op, e.Command, e.Err)
}

func (e *ConnError) Unwrap() error { return e.Err }

// ParseError reports a reply body that does not follow a measurement grammar.
type ParseError struct {
	Grammar string
	Input   string
	Reason  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("t2sa: parse %s %q: %s", e.Grammar, e.Input, e.Reason)
}

// IsRetryable reports whether err is a connectivity fault after which a
// reconnect followed by the same command may succeed.
func IsRetryable(err error) bool {
	var connErr *ConnError
	return errors.As(err, &connErr)
}

// IsDeviceError reports whether err is a DeviceError carrying one of codes.
// With no codes it matches any DeviceError.
func IsDeviceError(err error, codes ...ErrorCode) bool {
	var devErr *DeviceError
	if !errors.As(err, &devErr) {
		return false
	}

	if len(codes) == 0 {
		return true
	}

	for _, code := range codes {
		if devErr.Code == code {
			return true
		}
	}

	return false
}
