// Package policy implements the server side of the Postfix SMTP access
// policy delegation protocol. It handles request parsing and response
// framing; what to answer is decided by a caller-supplied RequestHandler.
//
// See https://www.postfix.org/SMTPD_POLICY_README.html for the protocol.
package policy

import (
	"bufio"
	"bytes"
	"io"
)

// RequestHandler accumulates the attributes of a single policy request and
// produces the decision for it. A fresh handler is constructed for every
// request; the engine never reuses one across requests.
type RequestHandler interface {
	// Attribute is called once per name=value line of the request, in wire
	// order. Name is never empty; value may be. Both slices are only valid
	// for the duration of the call. A non-nil error aborts the connection
	// immediately.
	Attribute(name, value []byte) error

	// Response finalizes the request after the terminating blank line and
	// returns the decision to send. It is called exactly once per handler.
	// A non-nil error aborts the connection without sending a response.
	Response() (Response, error)
}

// HandlerFactory constructs a new RequestHandler for each request on a
// connection. State shared by all requests of a connection (or across
// connections) lives in the factory's closure; the engine treats it as
// opaque and read-only.
type HandlerFactory func() RequestHandler

// HandleConnection serves policy requests from r and writes one response
// per request to w until the peer closes the stream. It may serve any
// number of requests; responses are flushed before the next request is
// read, so exactly one request is in flight at a time.
//
// A clean end of stream returns nil. Any other condition is fatal to the
// connection and returned as *TransportError, *ProtocolError or
// *HandlerError.
func HandleConnection(r io.Reader, w io.Writer, newHandler HandlerFactory) error {
	reader := bufio.NewReader(r)
	writer := bufio.NewWriter(w)
	handler := newHandler()

	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err != io.EOF {
				return &TransportError{Op: "read", Err: err}
			}
			if len(line) == 0 {
				// Clean end of stream.
				return nil
			}
			// Trailing bytes without a terminator are handled like a
			// regular line; the next read reports the end of stream.
		}

		// A blank line completes the request.
		if bytes.Equal(line, []byte{'\n'}) {
			response, err := handler.Response()
			if err != nil {
				return &HandlerError{Err: err}
			}
			if err := writeResponse(writer, response); err != nil {
				return err
			}
			handler = newHandler()
			continue
		}

		sep := bytes.IndexByte(line, '=')
		if sep < 0 {
			return &ProtocolError{Line: line}
		}

		name, rest := line[:sep], line[sep+1:]
		// rest still carries the line terminator, so a valid value part is
		// at least 2 bytes long.
		if len(name) == 0 || len(rest) < 2 {
			return &ProtocolError{Line: line}
		}

		value := rest[:len(rest)-1]
		if err := handler.Attribute(name, value); err != nil {
			return &HandlerError{Err: err}
		}
	}
}

// writeResponse frames and flushes a single action line followed by the
// blank line the protocol requires.
func writeResponse(writer *bufio.Writer, response Response) error {
	if _, err := writer.WriteString("action="); err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	if _, err := writer.Write(response.Encode()); err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	if _, err := writer.WriteString("\n\n"); err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	if err := writer.Flush(); err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	return nil
}
