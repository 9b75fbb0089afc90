package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/crestline/adowork/internal/mcp"
)

type getMetricsArgs struct {
	Reset bool `json:"reset,omitempty" jsonschema:"description=Drop all series and restart the uptime clock after reading"`
}

func getMetricsTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "get-metrics",
		Description: "Read this process's counters, gauges, and latency percentiles",
		InputSchema: mcp.MustReflectSchema(&getMetricsArgs{}),
	}
}

func getMetricsHandler(deps Deps) mcp.ToolHandler {
	return func(ctx context.Context, raw json.RawMessage) *mcp.Envelope {
		var args getMetricsArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return mcp.ErrorEnvelope("get-metrics", fmt.Sprintf("decode arguments: %v", err))
		}

		snap := deps.Registry.Snapshot()
		if args.Reset {
			deps.Registry.Reset()
		}
		env := mcp.NewEnvelope(snap, "get-metrics")
		if args.Reset {
			env.Warn("metrics were reset after this snapshot")
		}
		return env
	}
}

type getPromptsArgs struct {
	PromptName     string            `json:"promptName,omitempty" jsonschema:"description=Limit the listing to one prompt"`
	IncludeContent bool              `json:"includeContent,omitempty" jsonschema:"description=Render the prompt body with the given args"`
	Args           map[string]string `json:"args,omitempty" jsonschema:"description=Arguments for rendering when includeContent is set"`
}

func getPromptsTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "get-prompts",
		Description: "List the guided prompt templates this server ships",
		InputSchema: mcp.MustReflectSchema(&getPromptsArgs{}),
	}
}

func getPromptsHandler(deps Deps) mcp.ToolHandler {
	return func(ctx context.Context, raw json.RawMessage) *mcp.Envelope {
		var args getPromptsArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return mcp.ErrorEnvelope("get-prompts", fmt.Sprintf("decode arguments: %v", err))
		}

		prompts := deps.Prompts.List()
		if args.PromptName != "" {
			filtered := prompts[:0]
			for _, p := range prompts {
				if p.Name == args.PromptName {
					filtered = append(filtered, p)
				}
			}
			if len(filtered) == 0 {
				return mcp.ErrorEnvelope("get-prompts", fmt.Sprintf("Prompt not found: %s", args.PromptName))
			}
			prompts = filtered
		}

		data := map[string]any{"prompts": prompts}
		if args.IncludeContent {
			rendered := make(map[string]string, len(prompts))
			for _, p := range prompts {
				result, err := deps.Prompts.Get(p.Name, args.Args)
				if err != nil {
					return mcp.ErrorEnvelope("get-prompts", err.Error())
				}
				rendered[p.Name] = result.Messages[0].Content.Text
			}
			data["content"] = rendered
		}
		return mcp.NewEnvelope(data, "get-prompts")
	}
}
