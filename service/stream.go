package service

import (
	"context"
	"errors"
	"io"
	"strings"
)

const streamReadBufferSize = 4096

// StreamChat issues one streaming completion request and returns a channel
// of protocol events. The channel carries tokens in the exact order their
// source lines arrived, ends with exactly one EventDone on success, and is
// closed after the terminal event.
//
// A non-2xx response fails immediately with *RequestFailedError before any
// event is produced. After that, a connection-level failure surfaces as an
// EventStreamError wrapping *TransportError; it is never conflated with
// completion. Undecodable frames are forwarded as EventParseError and do
// not stop the stream.
//
// Abandon the stream by cancelling ctx; the response body is released
// exactly once on every exit path.
func (c *Client) StreamChat(ctx context.Context, req ChatRequest) (<-chan Event, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	req.Stream = true

	resp, err := c.postJSON(ctx, c.streamClient, c.endpoint+"/api/chat/stream", req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return nil, &RequestFailedError{Status: resp.StatusCode}
	}

	events := make(chan Event)
	go pumpStream(ctx, resp.Body, events)
	return events, nil
}

// pumpStream owns the response body and a fresh decoder. Decoding between
// reads is synchronous, so event order matches source line order no matter
// how the body was chunked.
func pumpStream(ctx context.Context, body io.ReadCloser, events chan<- Event) {
	defer close(events)
	defer body.Close()

	dec := NewDecoder()
	buf := make([]byte, streamReadBufferSize)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			for _, ev := range dec.Feed(buf[:n]) {
				if !deliver(ctx, events, ev) {
					return
				}
				if ev.Type == EventDone || ev.Type == EventStreamError {
					// Terminal event; anything still buffered is dropped.
					return
				}
			}
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			for _, ev := range dec.Flush() {
				if !deliver(ctx, events, ev) {
					return
				}
				if ev.Type == EventDone || ev.Type == EventStreamError {
					return
				}
			}
			// The body ended without an explicit terminator. Still a normal
			// end of stream, but flagged so callers can tell it apart.
			deliver(ctx, events, Event{Type: EventDone, Implicit: true})
			return
		}
		if ctx.Err() != nil {
			// Caller cancelled; not a transport failure.
			return
		}
		Debugf("stream: read failed mid-stream: %v", err)
		deliver(ctx, events, Event{Type: EventStreamError, Err: &TransportError{Err: err}})
		return
	}
}

func deliver(ctx context.Context, events chan<- Event, ev Event) bool {
	if ev.Type == EventParseError {
		Debugf("stream: undecodable frame: %q", ev.Raw)
	}
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// CollectChat streams a completion and concatenates the token payloads.
// Parse errors are skipped (they are already logged); a stream error aborts
// with the partial text collected so far.
func (c *Client) CollectChat(ctx context.Context, req ChatRequest) (string, error) {
	events, err := c.StreamChat(ctx, req)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for ev := range events {
		switch ev.Type {
		case EventToken:
			sb.WriteString(ev.Token)
		case EventStreamError:
			return sb.String(), ev.Err
		}
	}
	return sb.String(), nil
}
