package service

import (
	"encoding/json"
	"errors"
	"strings"
)

const (
	dataPrefix = "data:"
	doneToken  = "[DONE]"
)

// streamChunk is the JSON object carried on a data line.
// The backend emits {"token": ...}; openai-style proxies emit {"text": ...}.
type streamChunk struct {
	Token string `json:"token"`
	Text  string `json:"text"`
	Model string `json:"model"`
	Error string `json:"error"`
}

// Decoder reassembles line-oriented protocol frames from arbitrarily split
// body chunks. Chunk boundaries carry no meaning: a line (even the [DONE]
// terminator) may arrive split across any number of Feed calls, and one
// Feed call may carry any number of lines.
//
// A Decoder serves exactly one stream. Create it when the stream starts and
// discard it when the stream ends; it is not safe for concurrent use.
type Decoder struct {
	rest    string // text not yet terminated by a newline
	done    bool   // saw [DONE]; all further input is ignored
	flushed bool
}

func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends chunk to the line buffer and returns the events decoded from
// every line the buffer now completes, in source order. The trailing
// incomplete fragment stays buffered for the next call.
func (d *Decoder) Feed(chunk []byte) []Event {
	if d.done {
		return nil
	}
	data := d.rest + string(chunk)
	var events []Event
	for {
		idx := strings.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		line := data[:idx]
		data = data[idx+1:]
		if ev, ok := d.decodeLine(line); ok {
			events = append(events, ev)
		}
		if d.done {
			// Terminator reached: drop whatever trails it.
			d.rest = ""
			return events
		}
	}
	d.rest = data
	return events
}

// Flush decodes any residual unterminated line once the transport has
// signalled end-of-input. It is idempotent: a second call returns nil.
func (d *Decoder) Flush() []Event {
	if d.done || d.flushed {
		return nil
	}
	d.flushed = true
	line := d.rest
	d.rest = ""
	if ev, ok := d.decodeLine(line); ok {
		return []Event{ev}
	}
	return nil
}

// decodeLine turns one complete line into an event. Blank lines are frame
// separators and produce nothing.
func (d *Decoder) decodeLine(raw string) (Event, bool) {
	line := strings.TrimSpace(raw)
	if line == "" {
		return Event{}, false
	}

	payload := line
	if strings.HasPrefix(line, dataPrefix) {
		payload = strings.TrimSpace(line[len(dataPrefix):])
		if payload == "" {
			// A data line with nothing behind the prefix is malformed,
			// not a separator.
			return Event{Type: EventParseError, Raw: line}, true
		}
	}

	if payload == doneToken {
		d.done = true
		return Event{Type: EventDone}, true
	}

	var chunk streamChunk
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		return Event{Type: EventParseError, Raw: payload}, true
	}
	if chunk.Error != "" {
		return Event{Type: EventStreamError, Err: errors.New(chunk.Error)}, true
	}

	token := chunk.Token
	if token == "" {
		token = chunk.Text
	}
	return Event{Type: EventToken, Token: token}, true
}
