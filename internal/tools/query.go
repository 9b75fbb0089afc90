package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/crestline/adowork/internal/ado"
	"github.com/crestline/adowork/internal/handles"
	"github.com/crestline/adowork/internal/mcp"
)

// contextFetchLimit caps how many matched items are hydrated with full
// work-item context after a query. Criteria selection needs context, so
// very large result sets keep only ids beyond this point.
const contextFetchLimit = 50

// defaultMaxResults bounds a WIQL result set when the caller does not.
const defaultMaxResults = 200

type wiqlQueryArgs struct {
	WiqlQuery  string `json:"wiqlQuery" jsonschema:"description=WIQL query string forwarded unmodified to the backend"`
	MaxResults int    `json:"maxResults,omitempty" jsonschema:"description=Cap on matched work items (default 200)"`
}

func wiqlQueryTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "wiql-query",
		Description: "Run a WIQL query and materialize the result as a query handle for bulk operations",
		InputSchema: mcp.MustReflectSchema(&wiqlQueryArgs{}),
	}
}

func wiqlQueryHandler(deps Deps) mcp.ToolHandler {
	return func(ctx context.Context, raw json.RawMessage) *mcp.Envelope {
		var args wiqlQueryArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return mcp.ErrorEnvelope("wiql-query", fmt.Sprintf("decode arguments: %v", err))
		}

		result, err := deps.Client.QueryWIQL(ctx, args.WiqlQuery)
		if err != nil {
			return mcp.ErrorEnvelope("wiql-query", fmt.Sprintf("query failed: %v", err))
		}

		limit := args.MaxResults
		if limit <= 0 {
			limit = defaultMaxResults
		}
		ids := make([]int, 0, len(result.WorkItems))
		for _, ref := range result.WorkItems {
			if len(ids) >= limit {
				break
			}
			ids = append(ids, ref.ID)
		}

		itemContext, hydrateWarnings := hydrateContext(ctx, deps, ids)

		handle := deps.Store.StoreQuery(ids, args.WiqlQuery, map[string]any{
			"queryType": result.QueryType,
		}, handles.DefaultTTL, itemContext, nil)

		data := deps.Store.GetQueryData(handle)
		env := mcp.NewEnvelope(map[string]any{
			"query_handle":    handle,
			"work_item_count": len(ids),
			"work_items":      previewRows(ids, itemContext),
			"expires_at":      data.ExpiresAt.Format(time.RFC3339),
		}, "wiql-query")
		if len(result.WorkItems) > limit {
			env.Warn(fmt.Sprintf("result truncated to %d of %d matched items", limit, len(result.WorkItems)))
		}
		for _, w := range hydrateWarnings {
			env.Warn(w)
		}
		return env
	}
}

// hydrateContext fetches work-item details for up to contextFetchLimit
// ids and converts them into handle context records.
func hydrateContext(ctx context.Context, deps Deps, ids []int) (map[int]handles.WorkItemContext, []string) {
	itemContext := make(map[int]handles.WorkItemContext, len(ids))
	var warnings []string

	n := len(ids)
	if n > contextFetchLimit {
		n = contextFetchLimit
		warnings = append(warnings, fmt.Sprintf("item context captured for the first %d of %d items; criteria selectors only match items with context", contextFetchLimit, len(ids)))
	}
	for _, id := range ids[:n] {
		item, err := deps.Client.GetWorkItem(ctx, id, false)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("context fetch failed for item %d: %v", id, err))
			continue
		}
		itemContext[id] = contextFromItem(item)
	}
	return itemContext, warnings
}

// contextFromItem projects the backend field map into the compact
// context record the handle store keeps.
func contextFromItem(item *ado.WorkItem) handles.WorkItemContext {
	ctx := handles.WorkItemContext{
		Title:         fieldString(item.Fields, ado.FieldTitle),
		State:         fieldString(item.Fields, ado.FieldState),
		Type:          fieldString(item.Fields, ado.FieldWorkItemType),
		AssignedTo:    identityString(item.Fields[ado.FieldAssignedTo]),
		IterationPath: fieldString(item.Fields, ado.FieldIterationPath),
	}
	if raw := fieldString(item.Fields, ado.FieldTags); raw != "" {
		for _, seg := range strings.Split(raw, ";") {
			if t := strings.TrimSpace(seg); t != "" {
				ctx.Tags = append(ctx.Tags, t)
			}
		}
	}
	if raw := fieldString(item.Fields, ado.FieldChangedDate); raw != "" {
		if changed, err := time.Parse(time.RFC3339, raw); err == nil {
			ctx.ChangedDate = &changed
			days := time.Since(changed).Hours() / 24
			ctx.DaysInactive = &days
		}
	}
	return ctx
}

func fieldString(fields map[string]any, key string) string {
	if s, ok := fields[key].(string); ok {
		return s
	}
	return ""
}

// identityString extracts a printable identity from ADO's identity
// field shape, which is either a plain string or an object with
// uniqueName/displayName.
func identityString(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case map[string]any:
		if s, ok := id["uniqueName"].(string); ok && s != "" {
			return s
		}
		if s, ok := id["displayName"].(string); ok {
			return s
		}
	}
	return ""
}

// previewRow is one line of a query result preview.
type previewRow struct {
	ID         int    `json:"id"`
	Title      string `json:"title,omitempty"`
	State      string `json:"state,omitempty"`
	Type       string `json:"type,omitempty"`
	AssignedTo string `json:"assignedTo,omitempty"`
}

func previewRows(ids []int, itemContext map[int]handles.WorkItemContext) []previewRow {
	rows := make([]previewRow, 0, len(ids))
	for _, id := range ids {
		ctx := itemContext[id]
		rows = append(rows, previewRow{
			ID:         id,
			Title:      ctx.Title,
			State:      ctx.State,
			Type:       ctx.Type,
			AssignedTo: ctx.AssignedTo,
		})
	}
	return rows
}

type odataQueryArgs struct {
	Query string `json:"query" jsonschema:"description=OData query string appended to the Analytics endpoint unmodified"`
}

func odataQueryTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "odata-query",
		Description: "Run a read-only Analytics OData query for aggregations and trends",
		InputSchema: mcp.MustReflectSchema(&odataQueryArgs{}),
	}
}

func odataQueryHandler(deps Deps) mcp.ToolHandler {
	return func(ctx context.Context, raw json.RawMessage) *mcp.Envelope {
		var args odataQueryArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return mcp.ErrorEnvelope("odata-query", fmt.Sprintf("decode arguments: %v", err))
		}

		result, err := deps.Client.QueryOData(ctx, args.Query)
		if err != nil {
			return mcp.ErrorEnvelope("odata-query", fmt.Sprintf("query failed: %v", err))
		}
		return mcp.NewEnvelope(map[string]any{
			"count": result.Count,
			"rows":  result.Value,
		}, "odata-query")
	}
}
