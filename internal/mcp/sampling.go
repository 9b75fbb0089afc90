package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// ErrSamplingUnavailable is returned when the peer did not advertise the
// sampling capability or the session has closed.
var ErrSamplingUnavailable = errors.New("sampling not available on this session")

// CreateMessageParams is the payload of a sampling/createMessage call
// sent to the peer.
type CreateMessageParams struct {
	Messages         []SamplingMessage `json:"messages"`
	SystemPrompt     string            `json:"systemPrompt,omitempty"`
	MaxTokens        int               `json:"maxTokens,omitempty"`
	Temperature      *float64          `json:"temperature,omitempty"`
	IncludeContext   string            `json:"includeContext,omitempty"`
	ModelPreferences *ModelPreferences `json:"modelPreferences,omitempty"`
}

// SamplingMessage is one message in a sampling conversation.
type SamplingMessage struct {
	Role    string         `json:"role"`
	Content MessageContent `json:"content"`
}

// ModelPreferences hints at model selection for a sampling request.
type ModelPreferences struct {
	Hints                []ModelHint `json:"hints,omitempty"`
	IntelligencePriority *float64    `json:"intelligencePriority,omitempty"`
	SpeedPriority        *float64    `json:"speedPriority,omitempty"`
}

// ModelHint names a preferred model.
type ModelHint struct {
	Name string `json:"name,omitempty"`
}

// CreateMessageResult is the peer's answer to sampling/createMessage.
type CreateMessageResult struct {
	Role       string         `json:"role"`
	Content    MessageContent `json:"content"`
	Model      string         `json:"model,omitempty"`
	StopReason string         `json:"stopReason,omitempty"`
}

// SamplingClient issues server-to-peer sampling calls over the shared
// transport. Its request ids live in their own space, prefixed so they
// can never collide with ids the peer chose for its calls.
type SamplingClient struct {
	transport *FramedTransport
	logger    *slog.Logger
	nextID    atomic.Int64
	enabled   atomic.Bool

	mu      sync.Mutex
	pending map[string]chan *JSONRPCMessage
}

// NewSamplingClient creates a client over the given transport. It stays
// disabled until SetEnabled(true), which the server calls once the peer
// advertises the sampling capability.
func NewSamplingClient(t *FramedTransport, logger *slog.Logger) *SamplingClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &SamplingClient{
		transport: t,
		logger:    logger.With("component", "sampling"),
		pending:   make(map[string]chan *JSONRPCMessage),
	}
}

// SetEnabled records whether the peer supports sampling.
func (c *SamplingClient) SetEnabled(enabled bool) {
	c.enabled.Store(enabled)
}

// Enabled reports whether sampling calls may be issued.
func (c *SamplingClient) Enabled() bool {
	return c.enabled.Load()
}

// CreateMessage sends sampling/createMessage to the peer and waits for
// the answer or context cancellation.
func (c *SamplingClient) CreateMessage(ctx context.Context, params *CreateMessageParams) (*CreateMessageResult, error) {
	if !c.enabled.Load() {
		return nil, ErrSamplingUnavailable
	}

	id := fmt.Sprintf("srv-%d", c.nextID.Add(1))
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal sampling params: %w", err)
	}

	ch := make(chan *JSONRPCMessage, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	err = c.transport.Send(&JSONRPCMessage{
		JSONRPC: "2.0",
		ID:      id,
		Method:  "sampling/createMessage",
		Params:  raw,
	})
	if err != nil {
		return nil, fmt.Errorf("send sampling request: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg := <-ch:
		if msg.Error != nil {
			return nil, fmt.Errorf("sampling failed: %s", msg.Error.Message)
		}
		var result CreateMessageResult
		if err := json.Unmarshal(msg.Result, &result); err != nil {
			return nil, fmt.Errorf("decode sampling result: %w", err)
		}
		return &result, nil
	}
}

// handleResponse routes a response from the peer to the waiting call.
// Responses with unknown ids are logged and dropped.
func (c *SamplingClient) handleResponse(msg *JSONRPCMessage) {
	id, ok := msg.ID.(string)
	if !ok {
		c.logger.Debug("discarding response with non-string id", "id", msg.ID)
		return
	}
	c.mu.Lock()
	ch, ok := c.pending[id]
	c.mu.Unlock()
	if !ok {
		c.logger.Debug("discarding response for unknown request", "id", id)
		return
	}
	ch <- msg
}
