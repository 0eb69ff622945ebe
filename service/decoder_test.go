package service

import (
	"testing"
)

func feedString(d *Decoder, s string) []Event {
	return d.Feed([]byte(s))
}

func assertEvents(t *testing.T, got, want []Event) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d events, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i].Type != want[i].Type {
			t.Errorf("event %d: got type %v, want %v", i, got[i].Type, want[i].Type)
		}
		if got[i].Token != want[i].Token {
			t.Errorf("event %d: got token %q, want %q", i, got[i].Token, want[i].Token)
		}
	}
}

func TestDecoderSplitInvariance(t *testing.T) {
	// However a valid message plus terminator is split across chunk
	// boundaries, the event sequence must be identical.
	input := "data: {\"token\":\"Hel\"}\n\ndata: {\"token\":\"lo\"}\ndata: [DONE]\n"
	want := []Event{
		{Type: EventToken, Token: "Hel"},
		{Type: EventToken, Token: "lo"},
		{Type: EventDone},
	}

	for size := 1; size <= len(input); size++ {
		d := NewDecoder()
		var got []Event
		for start := 0; start < len(input); start += size {
			end := min(start+size, len(input))
			got = append(got, feedString(d, input[start:end])...)
		}
		got = append(got, d.Flush()...)
		if len(got) != len(want) {
			t.Fatalf("chunk size %d: got %d events, want %d: %+v", size, len(got), len(want), got)
		}
		for i := range want {
			if got[i].Type != want[i].Type || got[i].Token != want[i].Token {
				t.Fatalf("chunk size %d: event %d = %+v, want %+v", size, i, got[i], want[i])
			}
		}
	}
}

func TestDecoderSplitTerminator(t *testing.T) {
	d := NewDecoder()
	if events := feedString(d, "data: [DO"); len(events) != 0 {
		t.Fatalf("partial terminator produced events: %+v", events)
	}
	events := feedString(d, "NE]\n")
	assertEvents(t, events, []Event{{Type: EventDone}})

	// The decoder is exhausted: further input is ignored.
	if events := feedString(d, "data: {\"token\":\"late\"}\n"); len(events) != 0 {
		t.Fatalf("exhausted decoder produced events: %+v", events)
	}
	if events := d.Flush(); len(events) != 0 {
		t.Fatalf("exhausted decoder flushed events: %+v", events)
	}
}

func TestDecoderLines(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []Event
	}{
		{
			name:  "token field",
			input: "data: {\"token\":\"hi\"}\n",
			want:  []Event{{Type: EventToken, Token: "hi"}},
		},
		{
			name:  "text field",
			input: "data: {\"text\":\"hi\"}\n",
			want:  []Event{{Type: EventToken, Token: "hi"}},
		},
		{
			name:  "prefix without space",
			input: "data:{\"token\":\"hi\"}\n",
			want:  []Event{{Type: EventToken, Token: "hi"}},
		},
		{
			name:  "blank lines are separators",
			input: "\n   \n\n",
			want:  nil,
		},
		{
			name:  "malformed json",
			input: "data: {malformed json\n",
			want:  []Event{{Type: EventParseError}},
		},
		{
			name:  "empty payload behind prefix",
			input: "data: \n",
			want:  []Event{{Type: EventParseError}},
		},
		{
			name:  "non-conformant line",
			input: "hello there\n",
			want:  []Event{{Type: EventParseError}},
		},
		{
			name:  "server-reported error",
			input: "data: {\"error\":\"model exploded\"}\n",
			want:  []Event{{Type: EventStreamError}},
		},
		{
			name:  "multiple lines in one chunk keep order",
			input: "data: {\"token\":\"a\"}\n\ndata: {\"token\":\"b\"}\ndata: {\"token\":\"c\"}\n",
			want: []Event{
				{Type: EventToken, Token: "a"},
				{Type: EventToken, Token: "b"},
				{Type: EventToken, Token: "c"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDecoder()
			assertEvents(t, feedString(d, tt.input), tt.want)
		})
	}
}

func TestDecoderMalformedFrameDoesNotBlockStream(t *testing.T) {
	d := NewDecoder()
	got := feedString(d, "data: {malformed json\ndata: {\"token\":\"ok\"}\n")
	assertEvents(t, got, []Event{
		{Type: EventParseError},
		{Type: EventToken, Token: "ok"},
	})
	if got[0].Raw != "{malformed json" {
		t.Errorf("parse error kept raw %q", got[0].Raw)
	}
}

func TestDecoderFlush(t *testing.T) {
	d := NewDecoder()
	if events := feedString(d, "data: {\"text\":\"partial\"}"); len(events) != 0 {
		t.Fatalf("unterminated line produced events: %+v", events)
	}

	assertEvents(t, d.Flush(), []Event{{Type: EventToken, Token: "partial"}})

	// Flush is idempotent.
	if events := d.Flush(); events != nil {
		t.Fatalf("second flush produced events: %+v", events)
	}
}

func TestDecoderFlushEmptyBuffer(t *testing.T) {
	d := NewDecoder()
	feedString(d, "data: {\"token\":\"hi\"}\n")
	if events := d.Flush(); events != nil {
		t.Fatalf("flush of empty buffer produced events: %+v", events)
	}
}

func TestDecoderDropsTrailingInputAfterDone(t *testing.T) {
	d := NewDecoder()
	got := feedString(d, "data: [DONE]\ndata: {\"token\":\"late\"}\n")
	assertEvents(t, got, []Event{{Type: EventDone}})
}
