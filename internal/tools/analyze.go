package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/crestline/adowork/internal/handles"
	"github.com/crestline/adowork/internal/mcp"
	"github.com/crestline/adowork/internal/sampling"
)

type analyzeItemsArgs struct {
	QueryHandle  string       `json:"queryHandle" jsonschema:"description=Handle returned by wiql-query"`
	ItemSelector *SelectorArg `json:"itemSelector,omitempty"`
	Question     string       `json:"question,omitempty" jsonschema:"description=What to ask the model about the selected items (default: summarize and flag risks)"`
	MaxTokens    int          `json:"maxTokens,omitempty" jsonschema:"description=Completion budget (default 1024)"`
}

func analyzeItemsTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "analyze-items",
		Description: "Summarize the selected work items with the host's model via sampling",
		InputSchema: mcp.MustReflectSchema(&analyzeItemsArgs{}),
	}
}

func analyzeItemsHandler(deps Deps) mcp.ToolHandler {
	return func(ctx context.Context, raw json.RawMessage) *mcp.Envelope {
		var args analyzeItemsArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return mcp.ErrorEnvelope("analyze-items", fmt.Sprintf("decode arguments: %v", err))
		}

		data := deps.Store.GetQueryData(args.QueryHandle)
		if data == nil {
			return mcp.ErrorEnvelope("analyze-items", fmt.Sprintf("Query handle not found or expired: %s", args.QueryHandle))
		}
		selected := deps.Store.ResolveItemSelector(args.QueryHandle, *selectorOrAll(args.ItemSelector))
		if selected == nil {
			return mcp.ErrorEnvelope("analyze-items", "invalid item selector")
		}
		if len(selected) == 0 {
			return mcp.ErrorEnvelope("analyze-items", "No work items matched the selection criteria")
		}

		if deps.Sampling == nil || !deps.Sampling.Available() {
			return mcp.ErrorEnvelope("analyze-items", "sampling unavailable: the connected host does not support sampling/createMessage")
		}

		question := args.Question
		if question == "" {
			question = "Summarize these work items: overall state distribution, staleness, assignment gaps, and anything that looks risky."
		}
		maxTokens := args.MaxTokens
		if maxTokens <= 0 {
			maxTokens = 1024
		}

		digest := buildDigest(selected, data.WorkItemContext)
		resp, err := deps.Sampling.CreateMessage(ctx,
			"You are a work-tracking analyst. Answer concisely based only on the provided work item data.",
			[]sampling.Message{
				{Role: "user", Text: question + "\n\n" + digest},
			}, maxTokens)
		if err != nil {
			if errors.Is(err, sampling.ErrUnavailable) {
				return mcp.ErrorEnvelope("analyze-items", "sampling unavailable: the connected host does not support sampling/createMessage")
			}
			return mcp.ErrorEnvelope("analyze-items", fmt.Sprintf("sampling failed: %v", err))
		}

		return mcp.NewEnvelope(map[string]any{
			"analysis":       resp.Text,
			"model":          resp.Model,
			"items_analyzed": len(selected),
			"statistics":     summarizeItems(selected, data.WorkItemContext),
		}, "analyze-items")
	}
}

// buildDigest renders the selected items as a compact text table for the
// model.
func buildDigest(ids []int, itemContext map[int]handles.WorkItemContext) string {
	var b strings.Builder
	for _, id := range ids {
		ctx := itemContext[id]
		fmt.Fprintf(&b, "- #%d %q state=%s type=%s", id, ctx.Title, ctx.State, ctx.Type)
		if ctx.AssignedTo != "" {
			fmt.Fprintf(&b, " assignedTo=%s", ctx.AssignedTo)
		}
		if len(ctx.Tags) > 0 {
			fmt.Fprintf(&b, " tags=%s", strings.Join(ctx.Tags, ","))
		}
		if ctx.DaysInactive != nil {
			fmt.Fprintf(&b, " daysInactive=%.0f", *ctx.DaysInactive)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// summarizeItems computes the deterministic statistics that accompany
// the model's prose.
func summarizeItems(ids []int, itemContext map[int]handles.WorkItemContext) map[string]any {
	states := map[string]int{}
	types := map[string]int{}
	unassigned := 0
	withContext := 0
	for _, id := range ids {
		ctx, ok := itemContext[id]
		if !ok {
			continue
		}
		withContext++
		if ctx.State != "" {
			states[ctx.State]++
		}
		if ctx.Type != "" {
			types[ctx.Type]++
		}
		if ctx.AssignedTo == "" {
			unassigned++
		}
	}
	return map[string]any{
		"by_state":     sortedCounts(states),
		"by_type":      sortedCounts(types),
		"unassigned":   unassigned,
		"with_context": withContext,
	}
}

type countRow struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

func sortedCounts(m map[string]int) []countRow {
	rows := make([]countRow, 0, len(m))
	for k, v := range m {
		rows = append(rows, countRow{k, v})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count != rows[j].Count {
			return rows[i].Count > rows[j].Count
		}
		return rows[i].Key < rows[j].Key
	})
	return rows
}
