// Package tools defines the tool surface of the server: argument
// structs, handlers, and their registration against the dispatcher.
package tools

import (
	"fmt"
	"log/slog"

	gen "github.com/invopop/jsonschema"

	"github.com/crestline/adowork/internal/ado"
	"github.com/crestline/adowork/internal/bulk"
	"github.com/crestline/adowork/internal/handles"
	"github.com/crestline/adowork/internal/mcp"
	"github.com/crestline/adowork/internal/metrics"
	"github.com/crestline/adowork/internal/sampling"
)

// Deps carries everything the tool handlers touch.
type Deps struct {
	Client   ado.Client
	Store    *handles.Store
	Engine   *bulk.Engine
	Sampling sampling.Client
	Registry *metrics.Registry
	Prompts  *mcp.PromptCatalog
	Logger   *slog.Logger
}

// SelectorArg wraps the item selector for schema generation; the wire
// shape is "all", an index array, or a criteria object.
type SelectorArg struct {
	handles.Selector
}

// JSONSchema describes the three accepted selector shapes.
func (SelectorArg) JSONSchema() *gen.Schema {
	return &gen.Schema{
		OneOf: []*gen.Schema{
			{Type: "string", Enum: []any{"all"}},
			{Type: "array", Items: &gen.Schema{Type: "integer"}},
			{Type: "object"},
		},
		Description: `"all", a list of zero-based indices into the handle, or a criteria object ({states, tags, titleContains, daysInactiveMin, daysInactiveMax})`,
	}
}

// selectorOrAll unwraps an optional selector argument, defaulting to
// every item.
func selectorOrAll(s *SelectorArg) *handles.Selector {
	if s == nil {
		all := handles.SelectAll()
		return &all
	}
	return &s.Selector
}

type toolDef struct {
	tool             *mcp.Tool
	handler          mcp.ToolHandler
	long             bool
	requiresSampling bool
}

// RegisterAll wires the full tool surface into the dispatcher and
// returns the set of tools flagged as sampling-dependent (consumed by
// the OpenAPI renderer).
func RegisterAll(srv *mcp.Server, deps Deps) (map[string]bool, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	deps.Logger = deps.Logger.With("component", "tools")

	defs := []toolDef{
		{tool: wiqlQueryTool(), handler: wiqlQueryHandler(deps)},
		{tool: odataQueryTool(), handler: odataQueryHandler(deps)},
		{tool: inspectHandleTool(), handler: inspectHandleHandler(deps)},
		{tool: selectItemsTool(), handler: selectItemsHandler(deps)},
		{tool: analyzeItemsTool(), handler: analyzeItemsHandler(deps), requiresSampling: true},
		{tool: getMetricsTool(), handler: getMetricsHandler(deps)},
		{tool: getPromptsTool(), handler: getPromptsHandler(deps)},
		{tool: linkWorkItemsTool(), handler: linkWorkItemsHandler(deps), long: true},
	}
	defs = append(defs, bulkToolDefs(deps)...)

	requiresSampling := make(map[string]bool)
	for _, def := range defs {
		opts := []mcp.ToolOption{}
		if def.long {
			opts = append(opts, mcp.WithTimeout(mcp.LongToolTimeout))
		}
		if err := srv.RegisterTool(def.tool, def.handler, opts...); err != nil {
			return nil, fmt.Errorf("register %s: %w", def.tool.Name, err)
		}
		if def.requiresSampling {
			requiresSampling[def.tool.Name] = true
		}
		deps.Logger.Debug("registered tool", "name", def.tool.Name, "long", def.long)
	}
	return requiresSampling, nil
}
