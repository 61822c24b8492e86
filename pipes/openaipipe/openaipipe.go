// Package openaipipe multiplexes the models of an OpenAI-compatible
// API behind one pipe. Listing and invocation failures stay in-band:
// the listing degrades to its sentinel entry and Process reports
// transport problems as "Error: ..." text, never as a raised error.
package openaipipe

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pipeforge/conduit/api"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultTimeout = 30 * time.Second

	// chunkBuffer decouples the SSE reader from a slow consumer
	chunkBuffer = 16

	// maxLineBytes bounds one SSE line; completion deltas are small
	maxLineBytes = 512 * 1024
)

// Pipe talks to an OpenAI-compatible API
type Pipe struct {
	logger api.Logger
	client *http.Client

	apiKey  string
	baseURL string
	timeout time.Duration
	prefix  string
}

// New creates an unbound OpenAI pipe. The client carries no global
// timeout: terminal calls are bounded per request by the timeout valve
// and streams by their consumer.
func New() *Pipe {
	return &Pipe{
		logger: api.NopLogger(),
		client: &http.Client{},
	}
}

// Meta returns pipe metadata. Prefix tracks the model_prefix valve, so
// it is empty until the pipe is bound.
func (p *Pipe) Meta() api.Meta {
	return api.Meta{
		ID:          "openai",
		Name:        "OpenAI",
		Version:     "1.0.0",
		Description: "Multiplexes the models of an OpenAI-compatible API",
		Prefix:      p.prefix,
	}
}

// Valves returns the pipe's configuration schema
func (p *Pipe) Valves() api.ValveSchema {
	return api.ValveSchema{
		{
			Name:        "api_key",
			Type:        api.ValveString,
			Description: "API key sent as the bearer token",
			Required:    true,
			Secret:      true,
		},
		{
			Name:        "base_url",
			Type:        api.ValveString,
			Default:     defaultBaseURL,
			Description: "Base URL of the OpenAI-compatible API",
		},
		{
			Name:        "timeout",
			Type:        api.ValveDuration,
			Default:     "30s",
			Description: "Upper bound on a non-streamed completion call",
		},
		{
			Name:        "model_prefix",
			Type:        api.ValveString,
			Description: "Display prefix for multiplexed model names",
		},
	}
}

// Init binds the pipe to its resolved valves
func (p *Pipe) Init(host api.HostAPI, valves api.Valves) error {
	p.logger = host.Logger("openai")
	p.apiKey = valves.String("api_key")
	p.baseURL = strings.TrimRight(valves.StringOr("base_url", defaultBaseURL), "/")
	p.timeout = valves.DurationOr("timeout", defaultTimeout)
	p.prefix = valves.String("model_prefix")
	p.logger.Debug("OpenAI pipe bound", "base_url", p.baseURL, "timeout", p.timeout)
	return nil
}

// Close releases pooled connections
func (p *Pipe) Close() error {
	p.client.CloseIdleConnections()
	return nil
}

// Models lists the upstream models. It never raises: any failure,
// including a missing credential, collapses to the single sentinel
// entry. A schema-enforcing host refuses to bind without api_key; the
// check still holds for pipes bound by hand.
func (p *Pipe) Models(ctx context.Context) []api.ModelInfo {
	if p.apiKey == "" {
		return []api.ModelInfo{api.ErrorModel("api_key is not set")}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/models", nil)
	if err != nil {
		return []api.ModelInfo{api.ErrorModel(fmt.Sprintf("invalid base_url: %v", err))}
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Warn("Model listing request failed", "error", err)
		return []api.ModelInfo{api.ErrorModel(fmt.Sprintf("failed to reach %s: %v", p.baseURL, err))}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return []api.ModelInfo{api.ErrorModel(p.statusError(resp).Error())}
	}

	var list struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return []api.ModelInfo{api.ErrorModel(fmt.Sprintf("failed to decode model list: %v", err))}
	}

	// Raw upstream ids; the host namespaces and prefixes them
	result := make([]api.ModelInfo, 0, len(list.Data))
	for _, m := range list.Data {
		result = append(result, api.ModelInfo{ID: m.ID, Name: m.ID})
	}
	return result
}

// chatRequest is the completion request wire format
type chatRequest struct {
	Model    string        `json:"model"`
	Messages []api.Message `json:"messages"`
	Stream   bool          `json:"stream,omitempty"`
}

// Process forwards the request to /chat/completions under the upstream
// model id. Transport and upstream failures come back as terminal
// "Error: ..." text with a nil error.
func (p *Pipe) Process(ctx context.Context, req api.Request) (api.Result, error) {
	if p.apiKey == "" {
		return api.ErrorTextf("api_key is not set"), nil
	}

	payload, err := json.Marshal(chatRequest{
		Model:    req.UpstreamModel(),
		Messages: req.Messages,
		Stream:   req.Stream,
	})
	if err != nil {
		return api.ErrorTextf("failed to encode request: %v", err), nil
	}

	if req.Stream {
		return p.processStream(ctx, payload)
	}
	return p.processTerminal(ctx, payload)
}

// processTerminal runs one bounded completion call
func (p *Pipe) processTerminal(ctx context.Context, payload []byte) (api.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.post(ctx, payload)
	if err != nil {
		return api.ErrorText(err), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return api.ErrorText(p.statusError(resp)), nil
	}

	var decoded struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return api.ErrorTextf("failed to decode completion: %v", err), nil
	}
	if len(decoded.Choices) == 0 {
		return api.ErrorTextf("upstream returned no choices"), nil
	}
	return api.TextResult(decoded.Choices[0].Message.Content), nil
}

// processStream starts an SSE completion and relays content deltas.
// Failures before the stream opens are terminal "Error: ..." text;
// failures mid-stream surface on the stream's Err.
func (p *Pipe) processStream(ctx context.Context, payload []byte) (api.Result, error) {
	resp, err := p.post(ctx, payload)
	if err != nil {
		return api.ErrorText(err), nil
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return api.ErrorText(p.statusError(resp)), nil
	}

	return api.StreamResult(api.Produce(chunkBuffer, func(w *api.StreamWriter) error {
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				return nil
			}

			var chunk struct {
				Choices []struct {
					Delta struct {
						Content string `json:"content"`
					} `json:"delta"`
				} `json:"choices"`
			}
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				p.logger.Warn("Skipping undecodable stream chunk", "error", err)
				continue
			}
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}
			if err := w.SendText(chunk.Choices[0].Delta.Content); err != nil {
				// Consumer closed the stream; stop producing
				return nil
			}
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("stream read failed: %w", err)
		}
		return nil
	})), nil
}

// post sends a completion request
func (p *Pipe) post(ctx context.Context, payload []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("invalid base_url: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach %s: %w", p.baseURL, err)
	}
	return resp, nil
}

// statusError summarizes a non-200 upstream response, including the
// upstream error message when the body carries one.
func (p *Pipe) statusError(resp *http.Response) error {
	var decoded struct {
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	body := io.LimitReader(resp.Body, 4096)
	if err := json.NewDecoder(body).Decode(&decoded); err == nil && decoded.Error != nil && decoded.Error.Message != "" {
		return fmt.Errorf("upstream returned %s: %s", resp.Status, decoded.Error.Message)
	}
	return fmt.Errorf("upstream returned %s", resp.Status)
}
