package sse

import (
	"bufio"
	"errors"
	"io"
	"strconv"
	"strings"
	"time"
)

// Reader decodes event-stream framing into messages. Comment lines and
// unknown fields are skipped.
type Reader struct {
	reader *bufio.Reader
}

func NewReader(r io.Reader) *Reader {
	if buffered, ok := r.(*bufio.Reader); ok {
		return &Reader{reader: buffered}
	}
	return &Reader{reader: bufio.NewReader(r)}
}

// Next returns the next complete record. It returns io.EOF at a clean end of
// input and io.ErrUnexpectedEOF when the input stops inside a record.
func (r *Reader) Next() (Message, error) {
	var (
		message Message
		data    []string
		seen    bool
	)
	for {
		line, err := r.reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				if seen || line != "" {
					return Message{}, io.ErrUnexpectedEOF
				}
				return Message{}, io.EOF
			}
			return Message{}, err
		}
		line = strings.TrimSuffix(line, "\n")
		line = strings.TrimSuffix(line, "\r")

		if line == "" {
			if !seen {
				continue
			}
			message.data = strings.Join(data, "\n")
			return message, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			message.event = value
		case "id":
			message.id = value
		case "data":
			data = append(data, value)
		case "retry":
			milliseconds, parseErr := strconv.ParseInt(value, 10, 64)
			if parseErr != nil || milliseconds < 0 {
				continue
			}
			message.retry = time.Duration(milliseconds) * time.Millisecond
		default:
			continue
		}
		seen = true
	}
}
