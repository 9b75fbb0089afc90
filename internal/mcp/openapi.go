package mcp

import (
	"encoding/json"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
)

// samplingExtension marks operations that call back into the peer's
// model; REST-style clients without a sampling channel cannot use them.
const samplingExtension = "x-requires-sampling"

// BuildOpenAPIDoc renders the tool surface as an OpenAPI 3 document.
// Each tool becomes POST /tools/{name} with the tool's input schema as
// the request body and the uniform envelope as the response. The
// document is descriptive; the server itself speaks MCP, not HTTP.
func BuildOpenAPIDoc(name, version string, tools []*Tool, requiresSampling map[string]bool) (*openapi3.T, error) {
	doc := &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:       name,
			Version:     version,
			Description: "Tool surface of the work-tracking MCP server, rendered as REST-style operations for documentation purposes.",
		},
		Paths: openapi3.NewPaths(),
	}

	envelopeRef, err := envelopeSchemaRef()
	if err != nil {
		return nil, err
	}

	for _, tool := range tools {
		var inputSchema openapi3.Schema
		if err := json.Unmarshal(tool.InputSchema, &inputSchema); err != nil {
			return nil, fmt.Errorf("tool %s: input schema: %w", tool.Name, err)
		}

		responses := openapi3.NewResponses()
		responses.Set("200", &openapi3.ResponseRef{
			Value: openapi3.NewResponse().
				WithDescription("Tool executed; inspect the envelope's success flag for tool-level outcome").
				WithJSONSchemaRef(envelopeRef),
		})
		responses.Set("400", &openapi3.ResponseRef{
			Value: openapi3.NewResponse().
				WithDescription("Arguments failed schema validation"),
		})
		responses.Set("500", &openapi3.ResponseRef{
			Value: openapi3.NewResponse().
				WithDescription("Internal server error"),
		})

		op := &openapi3.Operation{
			OperationID: tool.Name,
			Summary:     tool.Description,
			RequestBody: &openapi3.RequestBodyRef{
				Value: openapi3.NewRequestBody().
					WithRequired(true).
					WithJSONSchemaRef(openapi3.NewSchemaRef("", &inputSchema)),
			},
			Responses: responses,
		}
		if requiresSampling[tool.Name] {
			op.Extensions = map[string]any{samplingExtension: true}
		}

		doc.Paths.Set("/tools/"+tool.Name, &openapi3.PathItem{Post: op})
	}
	return doc, nil
}

// envelopeSchemaRef describes the uniform result envelope.
func envelopeSchemaRef() (*openapi3.SchemaRef, error) {
	raw := `{
		"type": "object",
		"required": ["success", "data", "errors", "warnings", "metadata"],
		"properties": {
			"success": {"type": "boolean"},
			"data": {},
			"errors": {"type": "array", "items": {"type": "string"}},
			"warnings": {"type": "array", "items": {"type": "string"}},
			"metadata": {"type": "object"}
		}
	}`
	var schema openapi3.Schema
	if err := json.Unmarshal([]byte(raw), &schema); err != nil {
		return nil, fmt.Errorf("envelope schema: %w", err)
	}
	return openapi3.NewSchemaRef("", &schema), nil
}

// OpenAPIDocJSON is BuildOpenAPIDoc serialized with indentation, for the
// print-openapi command.
func OpenAPIDocJSON(name, version string, tools []*Tool, requiresSampling map[string]bool) ([]byte, error) {
	doc, err := BuildOpenAPIDoc(name, version, tools, requiresSampling)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(doc, "", "  ")
}

// Tools returns the registered tool descriptors in registration order,
// for OpenAPI rendering outside a live session.
func (s *Server) Tools() []*Tool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Tool, 0, len(s.toolOrder))
	for _, name := range s.toolOrder {
		out = append(out, s.tools[name].tool)
	}
	return out
}
