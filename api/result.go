package api

import (
	"fmt"
	"time"
)

// Result is what a pipe produces for one request: either a terminal
// value (Text or Data) or an incrementally consumed Stream. At most one
// of the three is set.
type Result struct {
	Text   string
	Data   interface{}
	Stream Stream
}

// IsStream reports whether the result is consumed incrementally
func (r Result) IsStream() bool {
	return r.Stream != nil
}

// TextResult builds a terminal text result
func TextResult(text string) Result {
	return Result{Text: text}
}

// StreamResult builds an incremental result
func StreamResult(s Stream) Result {
	return Result{Stream: s}
}

// ErrorText renders a failure the end user should see as an in-band
// terminal result. The text begins with "Error:" so hosts and clients
// can recognize it.
func ErrorText(err error) Result {
	return Result{Text: fmt.Sprintf("Error: %v", err)}
}

// ErrorTextf is ErrorText with formatting
func ErrorTextf(format string, args ...interface{}) Result {
	return Result{Text: "Error: " + fmt.Sprintf(format, args...)}
}

// FailureKind classifies how an invocation failed
type FailureKind string

const (
	// FailurePipe means the pipe returned an error
	FailurePipe FailureKind = "pipe"

	// FailureCrash means the pipe panicked and the host recovered
	FailureCrash FailureKind = "crash"

	// FailureRejected means the host refused the request before the
	// pipe ran (unknown model, pipe not bound)
	FailureRejected FailureKind = "rejected"
)

// Failure describes a failed invocation
type Failure struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
}

func (f *Failure) Error() string {
	return f.Message
}

// Outcome is the host-side verdict of one invocation. Exactly one of
// Result and Failure is meaningful: a nil Failure means the pipe
// produced Result, a non-nil Failure means it did not. Neither case is
// fatal to the host.
type Outcome struct {
	Pipe      string        `json:"pipe"`
	Model     string        `json:"model"`
	RequestID string        `json:"request_id"`
	Result    Result        `json:"-"`
	Failure   *Failure      `json:"failure,omitempty"`
	Elapsed   time.Duration `json:"elapsed"`
}

// OK reports whether the invocation produced a result
func (o Outcome) OK() bool {
	return o.Failure == nil
}

// Reply renders the outcome as the text surfaced as the model's reply.
// Failures of every kind render as a string beginning with "Error:".
// Streamed results have no terminal text; consume Result.Stream
// instead.
func (o Outcome) Reply() string {
	if o.Failure != nil {
		return fmt.Sprintf("Error: %s", o.Failure.Message)
	}
	return o.Result.Text
}
