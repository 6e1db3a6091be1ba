package policy

// Action is the wire tag of a policy decision, as understood by the
// Postfix SMTP server. See https://www.postfix.org/access.5.html
type Action string

const (
	ActionOK            Action = "OK"
	ActionReject        Action = "REJECT"
	ActionDefer         Action = "DEFER"
	ActionDeferIfReject Action = "DEFER_IF_REJECT"
	ActionDeferIfPermit Action = "DEFER_IF_PERMIT"
	ActionBcc           Action = "BCC"
	ActionDiscard       Action = "DISCARD"
	ActionDunno         Action = "DUNNO"
	ActionHold          Action = "HOLD"
	ActionRedirect      Action = "REDIRECT"
	ActionInfo          Action = "INFO"
	ActionWarn          Action = "WARN"
)

// Response is the terminal decision for one policy request. Payload is an
// opaque byte sequence (not necessarily UTF-8) and may be empty.
type Response struct {
	Action  Action
	Payload []byte
}

// Payload-less decisions.
var (
	OK    = Response{Action: ActionOK}
	Dunno = Response{Action: ActionDunno}
)

// Reject refuses the request with an optional message.
func Reject(message []byte) Response {
	return Response{Action: ActionReject, Payload: message}
}

// Defer tells the server to try again later.
func Defer(message []byte) Response {
	return Response{Action: ActionDefer, Payload: message}
}

// DeferIfReject defers the request if it would otherwise be rejected.
func DeferIfReject(message []byte) Response {
	return Response{Action: ActionDeferIfReject, Payload: message}
}

// DeferIfPermit defers the request if it would otherwise be permitted.
func DeferIfPermit(message []byte) Response {
	return Response{Action: ActionDeferIfPermit, Payload: message}
}

// Bcc sends a blind carbon copy to the given address.
func Bcc(address []byte) Response {
	return Response{Action: ActionBcc, Payload: address}
}

// Discard silently drops the message.
func Discard(message []byte) Response {
	return Response{Action: ActionDiscard, Payload: message}
}

// Hold places the message on the hold queue.
func Hold(message []byte) Response {
	return Response{Action: ActionHold, Payload: message}
}

// Redirect delivers the message to the given destination instead.
func Redirect(destination []byte) Response {
	return Response{Action: ActionRedirect, Payload: destination}
}

// Info attaches an informational message.
func Info(message []byte) Response {
	return Response{Action: ActionInfo, Payload: message}
}

// Warn logs a warning on the server side without affecting delivery.
func Warn(message []byte) Response {
	return Response{Action: ActionWarn, Payload: message}
}

// Encode returns the wire form of the response: the bare action tag, or the
// tag followed by a single space and the payload when the payload is
// non-empty. No trailing newline is added; framing is the engine's job.
func (r Response) Encode() []byte {
	if len(r.Payload) == 0 {
		return []byte(r.Action)
	}

	encoded := make([]byte, 0, len(r.Action)+1+len(r.Payload))
	encoded = append(encoded, r.Action...)
	encoded = append(encoded, ' ')
	encoded = append(encoded, r.Payload...)
	return encoded
}
