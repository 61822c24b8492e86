package api

import (
	"strings"
	"time"
)

// Event represents a host event
type Event struct {
	ID        string                 `json:"id"`
	Source    string                 `json:"source"`
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload"`
}

// EventFilter defines criteria for filtering events
type EventFilter struct {
	Sources []string          `json:"sources,omitempty"`
	Types   []string          `json:"types,omitempty"`
	Regex   map[string]string `json:"regex,omitempty"`
}

// EventHandler is a function that processes events
type EventHandler func(event Event) error

// Message is a single conversation turn
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Caller identifies the user a request is served for. The host may omit
// it entirely, so pipes must tolerate a nil Caller.
type Caller struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

// Request is the payload handed to a pipe's Process operation. Model
// carries the full namespaced id ("pipe.model"); Stream selects between
// a terminal result and an incremental one.
type Request struct {
	Model    string                 `json:"model"`
	Stream   bool                   `json:"stream"`
	Messages []Message              `json:"messages,omitempty"`
	Caller   *Caller                `json:"caller,omitempty"`
	Extra    map[string]interface{} `json:"extra,omitempty"`
}

// UpstreamModel returns the model id with the pipe namespace stripped:
// everything after the first dot. Ids without a dot are returned whole.
func (r Request) UpstreamModel() string {
	if i := strings.Index(r.Model, "."); i >= 0 {
		return r.Model[i+1:]
	}
	return r.Model
}

// LastUserMessage returns the content of the most recent user message,
// or an empty string when there is none.
func (r Request) LastUserMessage() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == "user" {
			return r.Messages[i].Content
		}
	}
	return ""
}

// ModelInfo describes one selectable model offered by a pipe
type ModelInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ErrorModelID is the id of the sentinel entry a Lister returns when it
// cannot produce its listing.
const ErrorModelID = "error"

// ErrorModel builds the sentinel listing entry for a failed listing.
// The cause should be short and human readable; it is shown to the end
// user as the entry's name.
func ErrorModel(cause string) ModelInfo {
	return ModelInfo{ID: ErrorModelID, Name: cause}
}
