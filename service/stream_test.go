package service

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func userRequest(content string) ChatRequest {
	return ChatRequest{
		Messages: []ChatMessage{{Role: RoleUser, Content: content}},
	}
}

func drainEvents(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var got []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-timeout:
			t.Fatalf("timed out draining events, got so far: %+v", got)
		}
	}
}

func streamHandler(chunks ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		for _, chunk := range chunks {
			io.WriteString(w, chunk)
			flusher.Flush()
		}
	}
}

func TestStreamChat(t *testing.T) {
	// The exact fixture from the wire format: a token split across two
	// chunks, then the terminator.
	srv := httptest.NewServer(streamHandler(
		"data: {\"text\":\"He",
		"llo\"}\n\ndata: [DONE]\n",
	))
	defer srv.Close()

	client := NewClient(srv.URL)
	events, err := client.StreamChat(context.Background(), userRequest("hi"))
	if err != nil {
		t.Fatalf("StreamChat failed: %v", err)
	}

	got := drainEvents(t, events)
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2: %+v", len(got), got)
	}
	if got[0].Type != EventToken || got[0].Token != "Hello" {
		t.Errorf("first event = %+v, want Token(Hello)", got[0])
	}
	if got[1].Type != EventDone || got[1].Implicit {
		t.Errorf("second event = %+v, want explicit Done", got[1])
	}
}

func TestStreamChatRequestFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no model loaded", http.StatusBadRequest)
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	_, err := client.StreamChat(context.Background(), userRequest("hi"))
	var reqErr *RequestFailedError
	if !errors.As(err, &reqErr) {
		t.Fatalf("got error %v, want *RequestFailedError", err)
	}
	if reqErr.Status != http.StatusBadRequest {
		t.Errorf("got status %d, want %d", reqErr.Status, http.StatusBadRequest)
	}
}

func TestStreamChatInvalidRequest(t *testing.T) {
	client := NewClient("http://localhost:0")
	tests := []struct {
		name string
		req  ChatRequest
	}{
		{"no messages", ChatRequest{}},
		{"bad role", ChatRequest{Messages: []ChatMessage{{Role: "robot", Content: "hi"}}}},
		{"temperature out of range", ChatRequest{
			Messages:    []ChatMessage{{Role: RoleUser, Content: "hi"}},
			Temperature: 2.5,
		}},
		{"top_p out of range", ChatRequest{
			Messages: []ChatMessage{{Role: RoleUser, Content: "hi"}},
			TopP:     1.5,
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := client.StreamChat(context.Background(), tt.req); err == nil {
				t.Error("invalid request was accepted")
			}
		})
	}
}

func TestStreamChatImplicitCompletion(t *testing.T) {
	// Body ends without [DONE]: residual data is flushed and the stream
	// still completes, flagged as implicit.
	srv := httptest.NewServer(streamHandler(
		"data: {\"token\":\"partial\"}",
	))
	defer srv.Close()

	client := NewClient(srv.URL)
	events, err := client.StreamChat(context.Background(), userRequest("hi"))
	if err != nil {
		t.Fatalf("StreamChat failed: %v", err)
	}

	got := drainEvents(t, events)
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2: %+v", len(got), got)
	}
	if got[0].Type != EventToken || got[0].Token != "partial" {
		t.Errorf("first event = %+v, want Token(partial)", got[0])
	}
	if got[1].Type != EventDone || !got[1].Implicit {
		t.Errorf("second event = %+v, want implicit Done", got[1])
	}
}

func TestStreamChatParseErrorContinues(t *testing.T) {
	srv := httptest.NewServer(streamHandler(
		"data: {\"token\":\"a\"}\ndata: {broken\ndata: {\"token\":\"b\"}\ndata: [DONE]\n",
	))
	defer srv.Close()

	client := NewClient(srv.URL)
	events, err := client.StreamChat(context.Background(), userRequest("hi"))
	if err != nil {
		t.Fatalf("StreamChat failed: %v", err)
	}

	got := drainEvents(t, events)
	wantTypes := []EventType{EventToken, EventParseError, EventToken, EventDone}
	if len(got) != len(wantTypes) {
		t.Fatalf("got %d events, want %d: %+v", len(got), len(wantTypes), got)
	}
	for i, wt := range wantTypes {
		if got[i].Type != wt {
			t.Errorf("event %d type = %v, want %v", i, got[i].Type, wt)
		}
	}
}

func TestStreamChatCancelReleasesBody(t *testing.T) {
	released := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"token\":\"first\"}\n")
		flusher.Flush()
		// Keep the stream open until the client goes away.
		select {
		case <-r.Context().Done():
			close(released)
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := NewClient(srv.URL)
	events, err := client.StreamChat(ctx, userRequest("hi"))
	if err != nil {
		t.Fatalf("StreamChat failed: %v", err)
	}

	select {
	case ev := <-events:
		if ev.Type != EventToken || ev.Token != "first" {
			t.Fatalf("first event = %+v, want Token(first)", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no token before cancel")
	}

	cancel()

	select {
	case <-released:
		// Body read aborted; connection released exactly once by the
		// producer's deferred close.
	case <-time.After(2 * time.Second):
		t.Fatal("response body was not released after cancellation")
	}

	// The event channel must close without a terminal Done.
	for ev := range events {
		if ev.Type == EventDone {
			t.Errorf("cancelled stream delivered Done: %+v", ev)
		}
	}
}

func TestStreamChatTransportErrorMidStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		io.WriteString(w, "data: {\"token\":\"a\"}\n")
		flusher.Flush()
		// Drop the connection mid-stream, before the terminating chunk.
		panic(http.ErrAbortHandler)
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	events, err := client.StreamChat(context.Background(), userRequest("hi"))
	if err != nil {
		t.Fatalf("StreamChat failed: %v", err)
	}

	got := drainEvents(t, events)
	if len(got) == 0 {
		t.Fatal("no events delivered")
	}
	last := got[len(got)-1]
	if last.Type != EventStreamError {
		t.Fatalf("last event = %+v, want stream error", last)
	}
	var transportErr *TransportError
	if !errors.As(last.Err, &transportErr) {
		t.Errorf("stream error carries %v, want *TransportError", last.Err)
	}
}

func TestCollectChat(t *testing.T) {
	srv := httptest.NewServer(streamHandler(
		"data: {\"token\":\"Hello \"}\ndata: {\"token\":\"world\"}\ndata: [DONE]\n",
	))
	defer srv.Close()

	client := NewClient(srv.URL)
	reply, err := client.CollectChat(context.Background(), userRequest("hi"))
	if err != nil {
		t.Fatalf("CollectChat failed: %v", err)
	}
	if reply != "Hello world" {
		t.Errorf("got reply %q, want %q", reply, "Hello world")
	}
}

func TestConcurrentStreamsAreIndependent(t *testing.T) {
	srv := httptest.NewServer(streamHandler(
		"data: {\"token\":\"a\"}\ndata: {\"token\":\"b\"}\ndata: [DONE]\n",
	))
	defer srv.Close()

	client := NewClient(srv.URL)
	results := make(chan string, 4)
	for i := 0; i < 4; i++ {
		go func() {
			reply, err := client.CollectChat(context.Background(), userRequest("hi"))
			if err != nil {
				results <- "error: " + err.Error()
				return
			}
			results <- reply
		}()
	}
	for i := 0; i < 4; i++ {
		if got := <-results; got != "ab" {
			t.Errorf("stream %d got %q, want %q", i, got, "ab")
		}
	}
}
