package sse

import (
	"context"
	"errors"
	"io"
)

// ErrPending is returned by Encoder.Poll when the queue is open but empty.
// The stream is not finished; call Wait before polling again.
var ErrPending = errors.New("sse: no message ready")

type encoderState int

const (
	stateReading encoderState = iota
	stateDone
)

// Encoder turns a queue of messages into event-stream bytes on demand.
//
// It is in one of two states. Reading holds the serialized form of the most
// recent message and hands it out across as many Poll calls as the caller's
// buffers need. Done is entered once the queue is closed and drained; from
// then on Poll reports io.EOF.
//
// An Encoder is owned by a single response and is not safe for concurrent use.
type Encoder struct {
	source <-chan Message
	state  encoderState
	buf    []byte
	off    int
}

func NewEncoder(source <-chan Message) *Encoder {
	encoder := &Encoder{source: source}
	if source == nil {
		encoder.state = stateDone
	}
	return encoder
}

// Poll copies pending bytes into p without blocking. It returns ErrPending
// when nothing is queued and io.EOF once the queue has been closed.
func (e *Encoder) Poll(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		if e.state == stateDone {
			return 0, io.EOF
		}
		if e.off < len(e.buf) {
			n := copy(p, e.buf[e.off:])
			e.off += n
			return n, nil
		}
		select {
		case message, ok := <-e.source:
			if !ok {
				e.finish()
				continue
			}
			e.load(message)
		default:
			return 0, ErrPending
		}
	}
}

// Wait blocks until Poll can make progress: a message is buffered, the
// queue is closed, or ctx is done. It returns ctx.Err() in the last case.
func (e *Encoder) Wait(ctx context.Context) error {
	if e.state == stateDone || e.off < len(e.buf) {
		return nil
	}
	select {
	case message, ok := <-e.source:
		if !ok {
			e.finish()
			return nil
		}
		e.load(message)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done reports whether the encoder has reached end of stream.
func (e *Encoder) Done() bool {
	return e.state == stateDone
}

// Buffered returns the number of serialized bytes not yet handed out.
func (e *Encoder) Buffered() int {
	return len(e.buf) - e.off
}

func (e *Encoder) load(message Message) {
	e.buf = message.AppendTo(e.buf[:0])
	e.off = 0
}

func (e *Encoder) finish() {
	e.state = stateDone
	e.buf = nil
	e.off = 0
}

// Pump drives the encoder into w until the queue closes or ctx is done.
// flush is called whenever the queue runs dry, so several queued messages go
// out in one flush. It returns nil at end of stream, ctx.Err() on
// cancellation, or the first write error.
func Pump(ctx context.Context, encoder *Encoder, w io.Writer, flush func()) error {
	chunk := make([]byte, 4096)
	for {
		n, err := encoder.Poll(chunk)
		if n > 0 {
			if _, writeErr := w.Write(chunk[:n]); writeErr != nil {
				return writeErr
			}
		}
		switch {
		case err == nil:
			continue
		case errors.Is(err, ErrPending):
			if flush != nil {
				flush()
			}
			if waitErr := encoder.Wait(ctx); waitErr != nil {
				return waitErr
			}
		case errors.Is(err, io.EOF):
			if flush != nil {
				flush()
			}
			return nil
		default:
			return err
		}
	}
}
