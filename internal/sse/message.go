// Package sse implements the text/event-stream wire format: validated
// messages, a non-blocking pull encoder over a message queue, and a reader
// that decodes the framing back into messages.
package sse

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidField = errors.New("invalid sse field")

// ValidationError reports a field value that would corrupt the framing.
type ValidationError struct {
	Field string
	Value string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("sse %s cannot contain newlines: %q", e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidField
}

// Fields are the optional parts of a message. Empty strings and a zero Retry
// are omitted from the output.
type Fields struct {
	Event string
	ID    string
	Data  string
	Retry time.Duration
}

// Message is one event-stream record. The zero value encodes to a lone blank
// line, which clients ignore.
type Message struct {
	event string
	id    string
	data  string
	retry time.Duration
}

// NewMessage validates fields and builds a message.
func NewMessage(fields Fields) (Message, error) {
	if err := validateLine("event", fields.Event); err != nil {
		return Message{}, err
	}
	if err := validateLine("id", fields.ID); err != nil {
		return Message{}, err
	}
	if fields.Retry < 0 {
		fields.Retry = 0
	}
	return Message{
		event: fields.Event,
		id:    fields.ID,
		data:  fields.Data,
		retry: fields.Retry,
	}, nil
}

// Data builds a message with only a data field.
func Data(data string) Message {
	return Message{data: data}
}

const pingData = "ping"

// Ping is the heartbeat record: `data: ping` with no event name.
func Ping() Message {
	return Data(pingData)
}

func (m Message) Event() string        { return m.event }
func (m Message) ID() string           { return m.id }
func (m Message) Data() string         { return m.data }
func (m Message) Retry() time.Duration { return m.retry }

// IsPing reports whether m is the heartbeat record.
func (m Message) IsPing() bool {
	return m.event == "" && m.id == "" && m.data == pingData
}

// Encode serializes m into its wire form.
func (m Message) Encode() []byte {
	return m.AppendTo(nil)
}

// AppendTo appends the wire form of m to buf.
func (m Message) AppendTo(buf []byte) []byte {
	if m.event != "" {
		buf = append(buf, "event: "...)
		buf = append(buf, m.event...)
		buf = append(buf, '\n')
	}
	if m.id != "" {
		buf = append(buf, "id: "...)
		buf = append(buf, m.id...)
		buf = append(buf, '\n')
	}
	if m.retry > 0 {
		buf = append(buf, "retry: "...)
		buf = strconv.AppendInt(buf, m.retry.Milliseconds(), 10)
		buf = append(buf, '\n')
	}
	for _, line := range splitLines(m.data) {
		buf = append(buf, "data: "...)
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}
	return append(buf, '\n')
}

func validateLine(field, value string) error {
	if strings.ContainsAny(value, "\r\n") {
		return &ValidationError{Field: field, Value: value}
	}
	return nil
}

// splitLines breaks data on \n, \r\n and \r. A trailing line terminator does
// not produce an extra empty line; empty data yields no lines.
func splitLines(data string) []string {
	if data == "" {
		return nil
	}
	data = strings.ReplaceAll(data, "\r\n", "\n")
	data = strings.ReplaceAll(data, "\r", "\n")
	data = strings.TrimSuffix(data, "\n")
	return strings.Split(data, "\n")
}
