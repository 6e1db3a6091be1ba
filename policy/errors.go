package policy

import "fmt"

// TransportError reports a failed read from or write to the underlying
// stream. The connection is abandoned; reconnecting is the caller's call.
type TransportError struct {
	Op  string // "read" or "write"
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("policy: %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProtocolError reports a request line that violated the framing rules:
// no "=" separator, an empty attribute name, or nothing between "=" and
// the line terminator. Line holds the raw offending line, terminator
// included, for diagnostics.
type ProtocolError struct {
	Line []byte
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("policy: malformed request line %q", e.Line)
}

// HandlerError wraps a fatal error reported by a RequestHandler while
// ingesting an attribute or finalizing a request.
type HandlerError struct {
	Err error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("policy: handler failed: %v", e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}
