package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/crestline/adowork/internal/mcp"
)

type inspectHandleArgs struct {
	QueryHandle string `json:"queryHandle" jsonschema:"description=Handle returned by wiql-query"`
}

func inspectHandleTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "inspect-handle",
		Description: "Show the ids, source query, and expiry of a query handle",
		InputSchema: mcp.MustReflectSchema(&inspectHandleArgs{}),
	}
}

func inspectHandleHandler(deps Deps) mcp.ToolHandler {
	return func(ctx context.Context, raw json.RawMessage) *mcp.Envelope {
		var args inspectHandleArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return mcp.ErrorEnvelope("inspect-handle", fmt.Sprintf("decode arguments: %v", err))
		}

		data := deps.Store.GetQueryData(args.QueryHandle)
		if data == nil {
			return mcp.ErrorEnvelope("inspect-handle", fmt.Sprintf("Query handle not found or expired: %s", args.QueryHandle))
		}

		return mcp.NewEnvelope(map[string]any{
			"work_item_ids":      data.WorkItemIDs,
			"work_item_count":    len(data.WorkItemIDs),
			"source_query":       data.SourceQuery,
			"created_at":         data.CreatedAt.Format(time.RFC3339),
			"expires_at":         data.ExpiresAt.Format(time.RFC3339),
			"expires_in_secs":    int(time.Until(data.ExpiresAt).Seconds()),
			"items_with_context": len(data.WorkItemContext),
		}, "inspect-handle")
	}
}

type selectItemsArgs struct {
	QueryHandle  string       `json:"queryHandle" jsonschema:"description=Handle returned by wiql-query"`
	ItemSelector *SelectorArg `json:"itemSelector,omitempty"`
	PreviewCount int          `json:"previewCount,omitempty" jsonschema:"description=How many selected items to show (default 10)"`
}

func selectItemsTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "select-items",
		Description: "Preview which work items a selector would pick, without acting on them",
		InputSchema: mcp.MustReflectSchema(&selectItemsArgs{}),
	}
}

func selectItemsHandler(deps Deps) mcp.ToolHandler {
	return func(ctx context.Context, raw json.RawMessage) *mcp.Envelope {
		var args selectItemsArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return mcp.ErrorEnvelope("select-items", fmt.Sprintf("decode arguments: %v", err))
		}

		data := deps.Store.GetQueryData(args.QueryHandle)
		if data == nil {
			return mcp.ErrorEnvelope("select-items", fmt.Sprintf("Query handle not found or expired: %s", args.QueryHandle))
		}

		selected := deps.Store.ResolveItemSelector(args.QueryHandle, *selectorOrAll(args.ItemSelector))
		if selected == nil {
			return mcp.ErrorEnvelope("select-items", "invalid item selector")
		}

		previewCount := args.PreviewCount
		if previewCount <= 0 {
			previewCount = 10
		}
		n := previewCount
		if n > len(selected) {
			n = len(selected)
		}

		result := map[string]any{
			"selected_count":  len(selected),
			"total_in_handle": len(data.WorkItemIDs),
			"preview":         previewRows(selected[:n], data.WorkItemContext),
		}
		env := mcp.NewEnvelope(result, "select-items")
		if n < len(selected) {
			env.Warn(fmt.Sprintf("Showing %d of %d items...", n, len(selected)))
		}
		return env
	}
}
