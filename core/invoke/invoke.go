package invoke

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pipeforge/conduit/api"
	"github.com/pipeforge/conduit/core/events"
	"github.com/pipeforge/conduit/core/health"
	"github.com/pipeforge/conduit/core/metrics"
	"github.com/pipeforge/conduit/core/registry"
)

// Invoker is the host's invocation boundary. Invoke is total: every
// request produces an Outcome, never an error and never a panic. Pipe
// failures of any kind stay in-band and are never fatal to the host.
type Invoker struct {
	registry *registry.Registry
	logger   api.Logger
	metrics  *metrics.Metrics
	bus      *events.Bus
	health   *health.Tracker
}

// New creates an invoker over the given registry. metrics, bus and
// health may be nil.
func New(reg *registry.Registry, logger api.Logger, m *metrics.Metrics, bus *events.Bus, h *health.Tracker) *Invoker {
	return &Invoker{
		registry: reg,
		logger:   logger,
		metrics:  m,
		bus:      bus,
		health:   h,
	}
}

// Invoke resolves model to a pipe and runs one request against it.
// model carries the namespaced id ("pipe" or "pipe.rest"); it is
// stamped into the request before the pipe sees it. The result shape
// always matches req.Stream: a streamed result is drained into terminal
// text when the caller did not ask for a stream, and a terminal result
// is wrapped as a one-chunk stream when it did.
func (i *Invoker) Invoke(ctx context.Context, model string, req api.Request) api.Outcome {
	outcome := api.Outcome{
		Model:     model,
		RequestID: uuid.New().String(),
	}

	if model == "" {
		return i.reject(outcome, "no model requested")
	}

	pipeID := model
	if dot := strings.Index(model, "."); dot >= 0 {
		pipeID = model[:dot]
	}
	outcome.Pipe = pipeID

	entry, exists := i.registry.Get(pipeID)
	if !exists {
		return i.reject(outcome, fmt.Sprintf("unknown model %s", model))
	}

	release, err := entry.Acquire()
	if err != nil {
		return i.reject(outcome, fmt.Sprintf("pipe %s is not bound", pipeID))
	}

	req.Model = model
	i.emit(events.TypeInvokeStart, map[string]interface{}{
		"pipe":       pipeID,
		"model":      model,
		"request_id": outcome.RequestID,
		"stream":     req.Stream,
	})

	start := time.Now()
	result, err := i.callPipe(ctx, entry.Pipe(), req, &outcome)
	outcome.Elapsed = time.Since(start)

	if outcome.Failure == nil && err != nil {
		outcome.Failure = &api.Failure{Kind: api.FailurePipe, Message: err.Error()}
	}

	if outcome.Failure == nil {
		result, release = i.normalize(req, result, pipeID, release, &outcome)
	}
	if outcome.Failure != nil {
		release()
		return i.fail(outcome)
	}

	outcome.Result = result
	if !result.IsStream() {
		release()
	}

	i.observe(outcome)
	i.emit(events.TypeInvokeFinish, map[string]interface{}{
		"pipe":       pipeID,
		"model":      model,
		"request_id": outcome.RequestID,
		"elapsed_ms": outcome.Elapsed.Milliseconds(),
		"stream":     result.IsStream(),
	})
	return outcome
}

// callPipe runs Process with panic containment. A recovered panic is
// recorded as a crash failure on the outcome.
func (i *Invoker) callPipe(ctx context.Context, pipe api.Pipe, req api.Request, outcome *api.Outcome) (result api.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			i.logger.Error("Pipe panicked during invocation",
				"pipe", outcome.Pipe,
				"request_id", outcome.RequestID,
				"panic", r,
				"stack", string(debug.Stack()))
			outcome.Failure = &api.Failure{
				Kind:    api.FailureCrash,
				Message: fmt.Sprintf("pipe panicked: %v", r),
			}
		}
	}()
	return pipe.Process(ctx, req)
}

// normalize makes the result shape match what the caller asked for.
// Draining a stream that fails terminally turns into a pipe failure on
// the outcome. The returned release function is the one the caller must
// arrange to run: for live streams it is deferred to stream completion.
func (i *Invoker) normalize(req api.Request, result api.Result, pipeID string, release func(), outcome *api.Outcome) (api.Result, func()) {
	if !req.Stream && result.IsStream() {
		text, chunks, err := drainText(result.Stream)
		if i.metrics != nil {
			i.metrics.AddChunks(pipeID, chunks)
		}
		if err != nil {
			outcome.Failure = &api.Failure{Kind: api.FailurePipe, Message: err.Error()}
			return api.Result{}, release
		}
		return api.TextResult(text), release
	}

	if req.Stream && !result.IsStream() {
		result = api.StreamResult(singleChunkStream(result))
	}

	if result.IsStream() {
		// The invocation stays in flight until the caller finishes the
		// stream, so a rebind cannot swap valves mid-stream.
		tracked := &trackedStream{inner: result.Stream}
		tracked.onDone = func() {
			if i.metrics != nil {
				i.metrics.AddChunks(pipeID, tracked.chunks)
			}
			release()
		}
		return api.StreamResult(tracked), func() {}
	}
	return result, release
}

// reject records a host-side refusal
func (i *Invoker) reject(outcome api.Outcome, message string) api.Outcome {
	outcome.Failure = &api.Failure{Kind: api.FailureRejected, Message: message}
	return i.fail(outcome)
}

// fail finishes a failed outcome: logs, counts, emits
func (i *Invoker) fail(outcome api.Outcome) api.Outcome {
	i.logger.Warn("Invocation failed",
		"pipe", outcome.Pipe,
		"model", outcome.Model,
		"request_id", outcome.RequestID,
		"kind", outcome.Failure.Kind,
		"message", outcome.Failure.Message)

	if i.health != nil && outcome.Pipe != "" {
		i.health.RecordFailure(outcome.Pipe, outcome.Failure.Kind)
	}
	i.observe(outcome)
	i.emit(events.TypeInvokeFailure, map[string]interface{}{
		"pipe":       outcome.Pipe,
		"model":      outcome.Model,
		"request_id": outcome.RequestID,
		"kind":       string(outcome.Failure.Kind),
		"message":    outcome.Failure.Message,
	})
	return outcome
}

func (i *Invoker) observe(outcome api.Outcome) {
	if i.metrics != nil {
		i.metrics.ObserveInvocation(outcome)
	}
}

func (i *Invoker) emit(eventType string, payload map[string]interface{}) {
	if i.bus == nil {
		return
	}
	i.bus.Emit(api.Event{
		Source:  "invoker",
		Type:    eventType,
		Payload: payload,
	})
}

// drainText consumes a stream to exhaustion, concatenating text chunks
func drainText(s api.Stream) (string, int, error) {
	var b strings.Builder
	chunks := 0
	for s.Next() {
		b.WriteString(s.Chunk().Text)
		chunks++
	}
	return b.String(), chunks, s.Err()
}

// singleChunkStream wraps a terminal result as a one-chunk stream
func singleChunkStream(result api.Result) api.Stream {
	w := api.NewStreamWriter(1)
	_ = w.Send(api.Chunk{Text: result.Text, Data: result.Data})
	w.CloseWith(nil)
	return w
}

// trackedStream counts chunks and runs onDone exactly once when the
// stream is exhausted or closed.
type trackedStream struct {
	inner  api.Stream
	chunks int
	onDone func()
	once   sync.Once
}

func (t *trackedStream) Next() bool {
	if t.inner.Next() {
		t.chunks++
		return true
	}
	t.finish()
	return false
}

func (t *trackedStream) Chunk() api.Chunk {
	return t.inner.Chunk()
}

func (t *trackedStream) Err() error {
	return t.inner.Err()
}

func (t *trackedStream) Close() error {
	err := t.inner.Close()
	t.finish()
	return err
}

func (t *trackedStream) finish() {
	t.once.Do(t.onDone)
}
