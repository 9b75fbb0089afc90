// Package sampling is the boundary to the peer's language model: a small
// request/response surface over MCP sampling, so tool handlers do not
// depend on protocol types.
package sampling

import (
	"context"
	"errors"

	"github.com/crestline/adowork/internal/mcp"
)

// ErrUnavailable is returned when the peer did not advertise sampling.
var ErrUnavailable = errors.New("sampling unavailable: the connected host does not support sampling/createMessage")

// Message is one conversation turn.
type Message struct {
	Role string // user | assistant
	Text string
}

// Response is the model's answer.
type Response struct {
	Text  string
	Model string
}

// Client requests completions from the peer's model.
type Client interface {
	// CreateMessage sends a conversation and returns the completion.
	CreateMessage(ctx context.Context, systemPrompt string, messages []Message, maxTokens int) (*Response, error)
	// Available reports whether sampling can be attempted at all.
	Available() bool
}

// MCPClient backs the Client interface with the server's transport-level
// sampling channel.
type MCPClient struct {
	inner *mcp.SamplingClient
}

// NewMCPClient wraps the transport sampling client.
func NewMCPClient(inner *mcp.SamplingClient) *MCPClient {
	return &MCPClient{inner: inner}
}

// Available reports whether the peer advertised the sampling capability.
func (c *MCPClient) Available() bool {
	return c.inner.Enabled()
}

// CreateMessage issues sampling/createMessage and unwraps the text.
func (c *MCPClient) CreateMessage(ctx context.Context, systemPrompt string, messages []Message, maxTokens int) (*Response, error) {
	if !c.inner.Enabled() {
		return nil, ErrUnavailable
	}

	wire := make([]mcp.SamplingMessage, 0, len(messages))
	for _, m := range messages {
		wire = append(wire, mcp.SamplingMessage{
			Role:    m.Role,
			Content: mcp.MessageContent{Type: "text", Text: m.Text},
		})
	}

	result, err := c.inner.CreateMessage(ctx, &mcp.CreateMessageParams{
		Messages:     wire,
		SystemPrompt: systemPrompt,
		MaxTokens:    maxTokens,
	})
	if err != nil {
		if errors.Is(err, mcp.ErrSamplingUnavailable) {
			return nil, ErrUnavailable
		}
		return nil, err
	}
	return &Response{Text: result.Content.Text, Model: result.Model}, nil
}
