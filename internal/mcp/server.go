package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/crestline/adowork/internal/metrics"
)

// defaultToolTimeout bounds a single tool handler invocation. Tools that
// fan out over many work items register with a longer budget.
const defaultToolTimeout = 30 * time.Second

// LongToolTimeout is the budget for bulk tools that touch many items.
const LongToolTimeout = 60 * time.Second

// ToolHandler executes one tool call. The context carries the per-call
// deadline; handlers must return an envelope rather than panic or write
// to the transport themselves.
type ToolHandler func(ctx context.Context, args json.RawMessage) *Envelope

type registeredTool struct {
	tool     *Tool
	schema   *jsonschema.Schema
	handler  ToolHandler
	timeout  time.Duration
	usageTip string
}

// ToolOption adjusts registration of a single tool.
type ToolOption func(*registeredTool)

// WithTimeout overrides the per-call deadline for one tool.
func WithTimeout(d time.Duration) ToolOption {
	return func(rt *registeredTool) { rt.timeout = d }
}

// Server dispatches framed JSON-RPC traffic to registered tools and the
// resource and prompt catalogues. One Server serves one transport.
type Server struct {
	name      string
	version   string
	transport *FramedTransport
	logger    *slog.Logger
	registry  *metrics.Registry
	prom      *metrics.PromMetrics
	sampling  *SamplingClient

	mu        sync.RWMutex
	tools     map[string]*registeredTool
	toolOrder []string
	resources *ResourceCatalog
	prompts   *PromptCatalog

	wg sync.WaitGroup
}

// ServerOptions configures a Server.
type ServerOptions struct {
	Name      string
	Version   string
	Logger    *slog.Logger
	Registry  *metrics.Registry
	Prom      *metrics.PromMetrics
	Resources *ResourceCatalog
	Prompts   *PromptCatalog
}

// NewServer wires a dispatcher onto a transport. The transport must not
// be started yet; Serve starts it.
func NewServer(t *FramedTransport, opts ServerOptions) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	registry := opts.Registry
	if registry == nil {
		registry = metrics.NewRegistry()
	}
	s := &Server{
		name:      opts.Name,
		version:   opts.Version,
		transport: t,
		logger:    logger.With("component", "server"),
		registry:  registry,
		prom:      opts.Prom,
		tools:     make(map[string]*registeredTool),
		resources: opts.Resources,
		prompts:   opts.Prompts,
	}
	s.sampling = NewSamplingClient(t, logger)
	t.OnMessage = s.handleMessage
	t.OnError = s.handleTransportError
	return s
}

// Sampling returns the peer-directed sampling client bound to this
// server's transport.
func (s *Server) Sampling() *SamplingClient {
	return s.sampling
}

// Metrics returns the in-process registry tool handlers record into.
func (s *Server) Metrics() *metrics.Registry {
	return s.registry
}

// RegisterTool adds a tool to the dispatch table. The schema is compiled
// once here; registration fails only on an invalid schema, which is a
// programming error surfaced at startup.
func (s *Server) RegisterTool(tool *Tool, handler ToolHandler, opts ...ToolOption) error {
	compiled, err := CompileSchema(tool.Name, tool.InputSchema)
	if err != nil {
		return fmt.Errorf("tool %s: %w", tool.Name, err)
	}
	rt := &registeredTool{
		tool:     tool,
		schema:   compiled,
		handler:  handler,
		timeout:  defaultToolTimeout,
		usageTip: UsageTip(tool.Name, tool.InputSchema),
	}
	for _, opt := range opts {
		opt(rt)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tools[tool.Name]; exists {
		return fmt.Errorf("tool %s: already registered", tool.Name)
	}
	s.tools[tool.Name] = rt
	s.toolOrder = append(s.toolOrder, tool.Name)
	return nil
}

// Serve starts the transport and blocks until the input stream ends or
// ctx is cancelled. In-flight tool calls are allowed to finish.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.transport.Start(); err != nil {
		return err
	}
	s.logger.Info("server started", "name", s.name, "version", s.version)

	select {
	case <-ctx.Done():
	case <-s.transport.Done():
	}

	s.wg.Wait()
	s.transport.Close()
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) handleTransportError(err error) {
	s.logger.Warn("transport error", "error", err)
	s.registry.IncrementCounter("transport_errors", 1, nil)
	if s.prom != nil {
		s.prom.TransportErrors.WithLabelValues("parse").Inc()
	}
}

// handleMessage routes one decoded message. Requests run on their own
// goroutine so a slow tool cannot stall the read loop; notifications and
// responses are handled inline.
func (s *Server) handleMessage(msg *JSONRPCMessage) {
	switch {
	case msg.IsResponse():
		s.sampling.handleResponse(msg)
	case msg.IsNotification():
		s.handleNotification(msg)
	case msg.IsRequest():
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.recoverPanic(msg.ID)
			s.handleRequest(msg)
		}()
	default:
		s.logger.Warn("discarding message with no method and no id")
	}
}

func (s *Server) recoverPanic(id any) {
	if r := recover(); r != nil {
		s.logger.Error("handler panic", "panic", r, "stack", string(debug.Stack()))
		s.sendError(id, ErrCodeInternalError, "internal error")
	}
}

func (s *Server) handleNotification(msg *JSONRPCMessage) {
	switch msg.Method {
	case "notifications/initialized", "initialized":
		s.logger.Debug("peer initialized")
	default:
		s.logger.Debug("ignoring notification", "method", msg.Method)
	}
}

func (s *Server) handleRequest(msg *JSONRPCMessage) {
	switch msg.Method {
	case "initialize":
		s.handleInitialize(msg)
	case "ping":
		s.sendResult(msg.ID, struct{}{})
	case "tools/list":
		s.handleListTools(msg)
	case "tools/call":
		s.handleCallTool(msg)
	case "resources/list":
		s.handleListResources(msg)
	case "resources/read":
		s.handleReadResource(msg)
	case "prompts/list":
		s.handleListPrompts(msg)
	case "prompts/get":
		s.handleGetPrompt(msg)
	default:
		s.sendError(msg.ID, ErrCodeMethodNotFound, fmt.Sprintf("method not found: %s", msg.Method))
	}
}

func (s *Server) handleInitialize(msg *JSONRPCMessage) {
	var params initializeParams
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			s.sendError(msg.ID, ErrCodeInvalidParams, "invalid initialize params")
			return
		}
	}
	s.logger.Info("initialize",
		"client", params.ClientInfo.Name,
		"clientVersion", params.ClientInfo.Version,
		"clientProtocol", params.ProtocolVersion)
	s.sampling.SetEnabled(params.Capabilities.Sampling != nil)

	result := InitializeResult{
		ProtocolVersion: protocolVersion,
		Capabilities: Capabilities{
			Tools:     &ToolsCapability{},
			Resources: &ResourcesCapability{},
			Prompts:   &PromptsCapability{},
		},
		ServerInfo: ServerInfo{Name: s.name, Version: s.version},
	}
	s.sendResult(msg.ID, result)
}

func (s *Server) handleListTools(msg *JSONRPCMessage) {
	s.mu.RLock()
	tools := make([]*Tool, 0, len(s.toolOrder))
	for _, name := range s.toolOrder {
		tools = append(tools, s.tools[name].tool)
	}
	s.mu.RUnlock()
	s.sendResult(msg.ID, ListToolsResult{Tools: tools})
}

func (s *Server) handleCallTool(msg *JSONRPCMessage) {
	var params CallToolParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		s.sendError(msg.ID, ErrCodeInvalidParams, "invalid tools/call params")
		return
	}

	s.mu.RLock()
	rt, ok := s.tools[params.Name]
	s.mu.RUnlock()
	if !ok {
		// Unknown tool is a tool-level failure, not a protocol error: the
		// agent gets a structured envelope it can act on.
		s.sendToolResult(msg.ID, ErrorEnvelope("server", fmt.Sprintf("Unknown tool: %s", params.Name)))
		return
	}

	if violations := ValidateArgs(rt.schema, params.Arguments); len(violations) > 0 {
		s.recordToolCall(params.Name, "error", 0)
		for i, v := range violations {
			violations[i] = "Validation error: " + v
		}
		env := ErrorEnvelope(params.Name, violations...)
		if rt.usageTip != "" {
			env.Warn(rt.usageTip)
		}
		s.sendToolResult(msg.ID, env)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), rt.timeout)
	defer cancel()

	start := time.Now()
	env := s.invokeTool(ctx, rt, params.Arguments)
	elapsed := time.Since(start)

	status := "success"
	if !env.Success {
		status = "error"
	}
	s.recordToolCall(params.Name, status, elapsed)
	s.logger.Debug("tool call",
		"tool", params.Name,
		"status", status,
		"durationMs", elapsed.Milliseconds())

	s.sendToolResult(msg.ID, env)
}

// invokeTool runs a handler with its own panic isolation so one bad tool
// call degrades to an error envelope instead of killing the session.
func (s *Server) invokeTool(ctx context.Context, rt *registeredTool, args json.RawMessage) (env *Envelope) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("tool panic", "tool", rt.tool.Name, "panic", r, "stack", string(debug.Stack()))
			env = ErrorEnvelope(rt.tool.Name, fmt.Sprintf("internal error in tool %s", rt.tool.Name))
		}
	}()
	env = rt.handler(ctx, args)
	if env == nil {
		env = ErrorEnvelope(rt.tool.Name, "tool returned no result")
	}
	if ctx.Err() == context.DeadlineExceeded && env.Success {
		env = ErrorEnvelope(rt.tool.Name, fmt.Sprintf("tool %s exceeded its %s deadline", rt.tool.Name, rt.timeout))
	}
	return env
}

func (s *Server) recordToolCall(tool, status string, elapsed time.Duration) {
	tags := map[string]string{"tool": tool, "status": status}
	s.registry.IncrementCounter("tool_invocations", 1, tags)
	s.registry.RecordDuration("tool_duration_ms", elapsed, map[string]string{"tool": tool})
	if s.prom != nil {
		s.prom.RecordToolInvocation(tool, status, elapsed.Seconds())
	}
}

func (s *Server) handleListResources(msg *JSONRPCMessage) {
	if s.resources == nil {
		s.sendResult(msg.ID, ListResourcesResult{Resources: []*Resource{}})
		return
	}
	s.sendResult(msg.ID, ListResourcesResult{Resources: s.resources.List()})
}

func (s *Server) handleReadResource(msg *JSONRPCMessage) {
	var params ReadResourceParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		s.sendError(msg.ID, ErrCodeInvalidParams, "invalid resources/read params")
		return
	}
	if s.resources == nil {
		s.sendError(msg.ID, ErrCodeInvalidParams, fmt.Sprintf("Resource not found: %s", params.URI))
		return
	}
	content, err := s.resources.Read(params.URI)
	if err != nil {
		s.sendError(msg.ID, ErrCodeInvalidParams, err.Error())
		return
	}
	s.sendResult(msg.ID, ReadResourceResult{Contents: []*ResourceContent{content}})
}

func (s *Server) handleListPrompts(msg *JSONRPCMessage) {
	if s.prompts == nil {
		s.sendResult(msg.ID, ListPromptsResult{Prompts: []*Prompt{}})
		return
	}
	s.sendResult(msg.ID, ListPromptsResult{Prompts: s.prompts.List()})
}

func (s *Server) handleGetPrompt(msg *JSONRPCMessage) {
	var params GetPromptParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		s.sendError(msg.ID, ErrCodeInvalidParams, "invalid prompts/get params")
		return
	}
	if s.prompts == nil {
		s.sendError(msg.ID, ErrCodeInvalidParams, fmt.Sprintf("Prompt not found: %s", params.Name))
		return
	}
	result, err := s.prompts.Get(params.Name, params.Arguments)
	if err != nil {
		s.sendError(msg.ID, ErrCodeInvalidParams, err.Error())
		return
	}
	s.sendResult(msg.ID, result)
}

// sendToolResult serializes an envelope into the MCP content wrapper.
// Tool-level failure still travels as a protocol-level success.
func (s *Server) sendToolResult(id any, env *Envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		s.sendError(id, ErrCodeInternalError, fmt.Sprintf("marshal result: %v", err))
		return
	}
	s.sendResult(id, CallToolResult{
		Content: []ToolResultContent{{Type: "text", Text: string(payload)}},
		IsError: !env.Success,
	})
}

func (s *Server) sendResult(id any, result any) {
	raw, err := json.Marshal(result)
	if err != nil {
		s.sendError(id, ErrCodeInternalError, fmt.Sprintf("marshal result: %v", err))
		return
	}
	s.send(&JSONRPCMessage{JSONRPC: "2.0", ID: id, Result: raw})
}

func (s *Server) sendError(id any, code int, message string) {
	s.send(&JSONRPCMessage{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &JSONRPCError{Code: code, Message: message},
	})
}

func (s *Server) send(msg *JSONRPCMessage) {
	if err := s.transport.Send(msg); err != nil {
		s.logger.Error("send failed", "error", err)
	}
}
