package service

import (
	"errors"
	"fmt"
)

type EventType int

const (
	EventUnknown EventType = iota
	EventToken
	EventDone
	EventParseError
	EventStreamError
)

func (t EventType) String() string {
	switch t {
	case EventToken:
		return "token"
	case EventDone:
		return "done"
	case EventParseError:
		return "parse_error"
	case EventStreamError:
		return "stream_error"
	default:
		return "unknown"
	}
}

// Event is one decoded protocol event delivered on a stream channel.
// Within a stream, at most one EventDone is delivered and it is always last.
type Event struct {
	Type  EventType
	Token string // incremental text, set for EventToken
	Raw   string // offending payload, set for EventParseError
	Err   error  // failure detail, set for EventStreamError
	// Implicit marks an EventDone synthesized because the response body
	// ended without an explicit terminator. Monitoring may want to treat
	// such streams as truncation suspects.
	Implicit bool
}

// RequestFailedError reports that the backend rejected the request before
// any streaming began. No partial data was delivered.
type RequestFailedError struct {
	Status int
}

func (e *RequestFailedError) Error() string {
	return fmt.Sprintf("chat request rejected with status %d", e.Status)
}

// TransportError reports a connection-level failure after streaming began.
// It is never conflated with normal completion.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ErrChannelNotOpen is returned by Channel.Send when the connection is not
// in the Open state. There is no implicit send queuing while connecting.
var ErrChannelNotOpen = errors.New("channel is not open")
