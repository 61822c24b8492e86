package api

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrStreamClosed is returned by StreamWriter.Send after the consumer
// has closed the stream.
var ErrStreamClosed = errors.New("stream closed by consumer")

// Chunk is one increment of a streamed result
type Chunk struct {
	Text string
	Data interface{}
}

// Stream is a consume-once sequence of chunks, iterated scanner style:
//
//	for s.Next() {
//		use(s.Chunk())
//	}
//	err := s.Err()
//
// A stream has a single consumer. Once exhausted it stays exhausted:
// Next keeps returning false and Err keeps returning the same terminal
// error (nil after a clean end); re-running the request requires a new
// Process call. Consumers that abandon a stream early must Close it so
// the producer can stop.
type Stream interface {
	// Next advances to the next chunk, blocking until one is available
	// or the stream ends
	Next() bool

	// Chunk returns the chunk Next advanced to
	Chunk() Chunk

	// Err returns the terminal error once Next has returned false
	Err() error

	// Close releases the stream before exhaustion. Safe to call more
	// than once.
	Close() error
}

// StreamWriter is the producer half of a stream and also implements
// Stream for its consumer. Send and CloseWith must be called from the
// producing goroutine: CloseWith ends the stream and no Send may follow
// it.
type StreamWriter struct {
	ch      chan Chunk
	done    chan struct{}
	current Chunk

	mu  sync.Mutex
	err error

	doneOnce sync.Once
	endOnce  sync.Once
}

// NewStreamWriter creates a stream with the given chunk buffer
func NewStreamWriter(buffer int) *StreamWriter {
	return &StreamWriter{
		ch:   make(chan Chunk, buffer),
		done: make(chan struct{}),
	}
}

// Send delivers one chunk to the consumer. It blocks while the consumer
// is behind and fails once the consumer has closed the stream.
func (w *StreamWriter) Send(c Chunk) error {
	select {
	case <-w.done:
		return ErrStreamClosed
	case w.ch <- c:
		return nil
	}
}

// SendText delivers one text chunk
func (w *StreamWriter) SendText(text string) error {
	return w.Send(Chunk{Text: text})
}

// CloseWith ends the stream with the given terminal error (nil for a
// clean end). Only the first call has an effect.
func (w *StreamWriter) CloseWith(err error) {
	w.endOnce.Do(func() {
		w.mu.Lock()
		w.err = err
		w.mu.Unlock()
		close(w.ch)
	})
}

// Next implements Stream
func (w *StreamWriter) Next() bool {
	select {
	case <-w.done:
		return false
	default:
	}

	c, ok := <-w.ch
	if !ok {
		return false
	}
	w.current = c
	return true
}

// Chunk implements Stream
func (w *StreamWriter) Chunk() Chunk {
	return w.current
}

// Err implements Stream
func (w *StreamWriter) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Close implements Stream. It tells the producer to stop; subsequent
// Send calls fail with ErrStreamClosed.
func (w *StreamWriter) Close() error {
	w.doneOnce.Do(func() {
		close(w.done)
	})
	return nil
}

// Produce runs fn on its own goroutine against a fresh stream and
// finishes the stream with fn's return value. A panic inside fn becomes
// the stream's terminal error instead of escaping into the host.
func Produce(buffer int, fn func(w *StreamWriter) error) Stream {
	w := NewStreamWriter(buffer)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				w.CloseWith(fmt.Errorf("stream producer panicked: %v", r))
			}
		}()
		w.CloseWith(fn(w))
	}()
	return w
}

// TextStream returns an already-produced stream over the given text
// chunks.
func TextStream(chunks ...string) Stream {
	w := NewStreamWriter(len(chunks))
	for _, c := range chunks {
		_ = w.Send(Chunk{Text: c})
	}
	w.CloseWith(nil)
	return w
}

// CollectText drains a stream and concatenates its text chunks. The
// partial text read so far is returned alongside any terminal error.
func CollectText(s Stream) (string, error) {
	var b strings.Builder
	for s.Next() {
		b.WriteString(s.Chunk().Text)
	}
	return b.String(), s.Err()
}
