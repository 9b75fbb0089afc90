// Package mcp implements the server side of the Model Context Protocol:
// framed JSON-RPC transport over a byte-stream pair, request dispatch to
// registered tools, resource and prompt catalogues, and peer-directed
// sampling.
package mcp

import (
	"encoding/json"
)

// protocolVersion is the MCP revision this server speaks.
const protocolVersion = "2024-11-05"

// JSON-RPC types

// JSONRPCMessage is the superset shape of requests, responses, and
// notifications; the transport decodes into it and the dispatcher decides
// which role the message plays.
type JSONRPCMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// IsRequest reports whether the message is a call expecting a response.
func (m *JSONRPCMessage) IsRequest() bool {
	return m.Method != "" && m.ID != nil
}

// IsNotification reports whether the message is a call without an id.
func (m *JSONRPCMessage) IsNotification() bool {
	return m.Method != "" && m.ID == nil
}

// IsResponse reports whether the message answers a call this process made.
func (m *JSONRPCMessage) IsResponse() bool {
	return m.Method == "" && m.ID != nil
}

// JSONRPCError is a JSON-RPC 2.0 error.
type JSONRPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Standard JSON-RPC error codes
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// Envelope types

// Envelope is the uniform result shape every tool returns. success=false
// implies a non-empty errors list; success=true may still carry warnings.
type Envelope struct {
	Success  bool           `json:"success"`
	Data     any            `json:"data"`
	Errors   []string       `json:"errors"`
	Warnings []string       `json:"warnings"`
	Metadata map[string]any `json:"metadata"`
}

// NewEnvelope creates a successful envelope with the given data and source.
func NewEnvelope(data any, source string) *Envelope {
	return &Envelope{
		Success:  true,
		Data:     data,
		Errors:   []string{},
		Warnings: []string{},
		Metadata: map[string]any{"source": source},
	}
}

// ErrorEnvelope creates a failed envelope with one or more error messages.
func ErrorEnvelope(source string, errs ...string) *Envelope {
	return &Envelope{
		Success:  false,
		Data:     nil,
		Errors:   errs,
		Warnings: []string{},
		Metadata: map[string]any{"source": source},
	}
}

// Warn appends a non-fatal note and returns the envelope for chaining.
func (e *Envelope) Warn(msg string) *Envelope {
	e.Warnings = append(e.Warnings, msg)
	return e
}

// Catalogue types

// Tool describes a registered tool for tools/list.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// Resource describes a documentation blob for resources/list.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// ResourceContent holds the content of a resource read.
type ResourceContent struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
}

// Prompt describes a prompt template for prompts/list.
type Prompt struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Arguments   []PromptArgument `json:"arguments,omitempty"`
}

// PromptArgument describes a parameter for a prompt template.
type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// PromptMessage is one message of a rendered prompt.
type PromptMessage struct {
	Role    string         `json:"role"` // user | assistant
	Content MessageContent `json:"content"`
}

// MessageContent holds a single piece of message content.
type MessageContent struct {
	Type string `json:"type"` // text
	Text string `json:"text,omitempty"`
}

// Handshake types

// ServerInfo identifies this server in the initialize result.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Capabilities advertises what the server (or peer) supports.
type Capabilities struct {
	Tools     *ToolsCapability     `json:"tools,omitempty"`
	Resources *ResourcesCapability `json:"resources,omitempty"`
	Prompts   *PromptsCapability   `json:"prompts,omitempty"`
	Sampling  *SamplingCapability  `json:"sampling,omitempty"`
}

// ToolsCapability describes tool-related capabilities.
type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ResourcesCapability describes resource-related capabilities.
type ResourcesCapability struct {
	Subscribe   bool `json:"subscribe,omitempty"`
	ListChanged bool `json:"listChanged,omitempty"`
}

// PromptsCapability describes prompt-related capabilities.
type PromptsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// SamplingCapability describes sampling-related capabilities.
type SamplingCapability struct{}

// InitializeResult is the payload answering the initialize call.
type InitializeResult struct {
	ProtocolVersion string       `json:"protocolVersion"`
	Capabilities    Capabilities `json:"capabilities"`
	ServerInfo      ServerInfo   `json:"serverInfo"`
}

// initializeParams is what the peer sends in the initialize call.
type initializeParams struct {
	ProtocolVersion string       `json:"protocolVersion"`
	Capabilities    Capabilities `json:"capabilities"`
	ClientInfo      struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"clientInfo"`
}

// Request payload types

// CallToolParams holds parameters for tools/call.
type CallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// CallToolResult is the MCP-level wrapper for tool output: the envelope
// serialized as a text content block.
type CallToolResult struct {
	Content []ToolResultContent `json:"content"`
	IsError bool                `json:"isError,omitempty"`
}

// ToolResultContent holds a piece of content from a tool result.
type ToolResultContent struct {
	Type string `json:"type"` // text
	Text string `json:"text,omitempty"`
}

// ListToolsResult answers tools/list.
type ListToolsResult struct {
	Tools []*Tool `json:"tools"`
}

// ListResourcesResult answers resources/list.
type ListResourcesResult struct {
	Resources []*Resource `json:"resources"`
}

// ReadResourceParams holds parameters for resources/read.
type ReadResourceParams struct {
	URI string `json:"uri"`
}

// ReadResourceResult answers resources/read.
type ReadResourceResult struct {
	Contents []*ResourceContent `json:"contents"`
}

// ListPromptsResult answers prompts/list.
type ListPromptsResult struct {
	Prompts []*Prompt `json:"prompts"`
}

// GetPromptParams holds parameters for prompts/get.
type GetPromptParams struct {
	Name      string            `json:"name"`
	Arguments map[string]string `json:"arguments,omitempty"`
}

// GetPromptResult answers prompts/get.
type GetPromptResult struct {
	Description string          `json:"description,omitempty"`
	Messages    []PromptMessage `json:"messages"`
}
