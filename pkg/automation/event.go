package automation

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/tidwall/gjson"
)

// EventType is the type field of a stream event.
type EventType string

const (
	EventProgress EventType = "PROGRESS"
	EventComplete EventType = "COMPLETE"
	EventError    EventType = "ERROR"
)

// StatusCompleted is the status carried by a successful COMPLETE event.
const StatusCompleted = "COMPLETED"

const (
	dataPrefix = "data: "

	// maxLineSize bounds a single event line. Result payloads arrive on one line.
	maxLineSize = 8 << 20
)

// Event is one decoded stream event.
type Event struct {
	Type    EventType       `json:"type"`
	Purpose string          `json:"purpose,omitempty"`
	Message string          `json:"message,omitempty"`
	Status  string          `json:"status,omitempty"`
	Result  json.RawMessage `json:"resultJson,omitempty"`
	RunID   string          `json:"run_id,omitempty"`
}

// Text returns the human-readable part of the event.
func (e Event) Text() string {
	if e.Purpose != "" {
		return e.Purpose
	}
	return e.Message
}

// Payload returns the result carried by a COMPLETE event, or nil when it is
// missing or empty. A result encoded as a JSON string is unwrapped.
func (e Event) Payload() json.RawMessage {
	if len(e.Result) == 0 {
		return nil
	}
	raw := e.Result
	res := gjson.ParseBytes(raw)
	if res.Type == gjson.String {
		if !gjson.Valid(res.Str) {
			return nil
		}
		raw = json.RawMessage(res.Str)
		res = gjson.Parse(res.Str)
	}
	switch {
	case !res.Exists(), res.Type == gjson.Null:
		return nil
	case res.IsObject() && len(res.Map()) == 0:
		return nil
	case res.IsArray() && len(res.Array()) == 0:
		return nil
	}
	return raw
}

func knownType(t EventType) bool {
	switch t {
	case EventProgress, EventComplete, EventError:
		return true
	}
	return false
}

// Decoder reads events from a line-oriented stream. Lines without the
// "data: " prefix, malformed JSON and unknown types are skipped.
type Decoder struct {
	scanner *bufio.Scanner
	skipped int
}

// NewDecoder returns a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &Decoder{scanner: s}
}

// Next returns the next event, or io.EOF at the end of the stream.
func (d *Decoder) Next() (Event, error) {
	for d.scanner.Scan() {
		line := strings.TrimRight(d.scanner.Text(), "\r")
		if !strings.HasPrefix(line, dataPrefix) {
			continue
		}

		var ev Event
		if err := json.Unmarshal([]byte(line[len(dataPrefix):]), &ev); err != nil {
			d.skipped++
			continue
		}
		if !knownType(ev.Type) {
			d.skipped++
			continue
		}
		return ev, nil
	}

	if err := d.scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return Event{}, fmt.Errorf("event line exceeds %d bytes: %w", maxLineSize, err)
		}
		return Event{}, err
	}
	return Event{}, io.EOF
}

// Skipped returns the number of data lines that were not valid events.
func (d *Decoder) Skipped() int {
	return d.skipped
}
