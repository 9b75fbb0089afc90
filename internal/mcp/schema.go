package mcp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	gen "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ReflectSchema derives a JSON schema from a Go argument struct. The
// result is self-contained (no $ref indirection) so MCP clients can
// consume it directly.
func ReflectSchema(v any) (json.RawMessage, error) {
	reflector := &gen.Reflector{
		DoNotReference:             true,
		AllowAdditionalProperties:  false,
		RequiredFromJSONSchemaTags: false,
	}
	schema := reflector.Reflect(v)
	schema.Version = "" // clients do not expect a $schema marker
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return raw, nil
}

// MustReflectSchema is ReflectSchema for registration-time schemas that
// are derived from static types and cannot fail at runtime.
func MustReflectSchema(v any) json.RawMessage {
	raw, err := ReflectSchema(v)
	if err != nil {
		panic(err)
	}
	return raw
}

// CompileSchema compiles a raw JSON schema into a validator.
func CompileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	url := "inline://" + name + ".json"
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return compiled, nil
}

// ValidateArgs checks raw tool arguments against a compiled schema and
// returns one message per violation, each naming the offending field
// path. An empty slice means the arguments are valid.
func ValidateArgs(schema *jsonschema.Schema, args json.RawMessage) []string {
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	var instance any
	if err := json.Unmarshal(args, &instance); err != nil {
		return []string{fmt.Sprintf("arguments are not valid JSON: %v", err)}
	}
	err := schema.Validate(instance)
	if err == nil {
		return nil
	}
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []string{err.Error()}
	}
	msgs := flattenValidation(ve)
	if len(msgs) == 0 {
		msgs = []string{ve.Error()}
	}
	return msgs
}

// flattenValidation walks the cause tree and keeps the leaf violations,
// which carry the most specific field paths.
func flattenValidation(ve *jsonschema.ValidationError) []string {
	if len(ve.Causes) == 0 {
		return []string{formatViolation(ve)}
	}
	var msgs []string
	for _, cause := range ve.Causes {
		msgs = append(msgs, flattenValidation(cause)...)
	}
	return msgs
}

func formatViolation(ve *jsonschema.ValidationError) string {
	loc := strings.TrimPrefix(ve.InstanceLocation, "/")
	loc = strings.ReplaceAll(loc, "/", ".")
	if loc == "" {
		return ve.Message
	}
	return fmt.Sprintf("%s: %s", loc, ve.Message)
}

// UsageTip renders a one-line summary of a tool's argument surface from
// its raw schema, sent alongside validation failures so the caller can
// correct the request without re-reading the full schema.
func UsageTip(name string, raw json.RawMessage) string {
	var doc struct {
		Properties map[string]json.RawMessage `json:"properties"`
		Required   []string                   `json:"required"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil || len(doc.Properties) == 0 {
		return ""
	}

	required := make(map[string]bool, len(doc.Required))
	for _, r := range doc.Required {
		required[r] = true
	}
	var req, opt []string
	for prop := range doc.Properties {
		if required[prop] {
			req = append(req, prop)
		} else {
			opt = append(opt, prop)
		}
	}
	sort.Strings(req)
	sort.Strings(opt)

	parts := make([]string, 0, len(req)+len(opt))
	for _, p := range req {
		parts = append(parts, p+" (required)")
	}
	parts = append(parts, opt...)
	return fmt.Sprintf("Usage: %s expects {%s}", name, strings.Join(parts, ", "))
}
