package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/crestline/adowork/internal/ado"
	"github.com/crestline/adowork/internal/bulk"
	"github.com/crestline/adowork/internal/mcp"
)

// bulkCommonArgs is shared by every single-handle bulk tool.
type bulkCommonArgs struct {
	QueryHandle     string       `json:"queryHandle" jsonschema:"description=Handle returned by wiql-query"`
	ItemSelector    *SelectorArg `json:"itemSelector,omitempty"`
	DryRun          bool         `json:"dryRun,omitempty" jsonschema:"description=Preview the operation without side effects"`
	MaxPreviewItems int          `json:"maxPreviewItems,omitempty" jsonschema:"description=Preview window size (default 5 or 10 depending on the action)"`
}

func (c *bulkCommonArgs) request(action bulk.Action) *bulk.Request {
	return &bulk.Request{
		QueryHandle:     c.QueryHandle,
		ItemSelector:    selectorOrAll(c.ItemSelector),
		Actions:         []bulk.Action{action},
		DryRun:          c.DryRun,
		MaxPreviewItems: c.MaxPreviewItems,
	}
}

// envelopeFromBulk lifts a bulk result into the uniform envelope,
// keeping the result itself as data so partial counts stay visible on
// failure.
func envelopeFromBulk(source string, result *bulk.Result) *mcp.Envelope {
	env := &mcp.Envelope{
		Success:  result.Success,
		Data:     result,
		Errors:   result.Errors,
		Warnings: result.Warnings,
		Metadata: map[string]any{"source": source},
	}
	if env.Errors == nil {
		env.Errors = []string{}
	}
	if env.Warnings == nil {
		env.Warnings = []string{}
	}
	return env
}

type bulkCommentArgs struct {
	bulkCommonArgs
	Comment string `json:"comment" jsonschema:"description=Comment text; {id} {title} {state} {assignedTo} are substituted per item"`
}

type bulkAssignArgs struct {
	bulkCommonArgs
	AssignTo string `json:"assignTo" jsonschema:"description=Identity to assign (email or display name)"`
	Comment  string `json:"comment,omitempty" jsonschema:"description=Optional comment added after assignment"`
}

type bulkUpdateArgs struct {
	bulkCommonArgs
	Updates []ado.PatchOp `json:"updates" jsonschema:"description=JSON-patch operations applied to each item"`
}

type bulkRemoveArgs struct {
	bulkCommonArgs
	RemoveReason string `json:"removeReason" jsonschema:"description=Reason recorded as a comment before removal"`
}

type bulkTransitionArgs struct {
	bulkCommonArgs
	TargetState string `json:"targetState" jsonschema:"description=State to move each item into"`
	Reason      string `json:"reason,omitempty" jsonschema:"description=Optional System.Reason value"`
	Comment     string `json:"comment,omitempty" jsonschema:"description=Optional history comment"`
}

type bulkMoveIterationArgs struct {
	bulkCommonArgs
	TargetIterationPath string `json:"targetIterationPath" jsonschema:"description=Iteration path to move items into; validated before any change"`
	Comment             string `json:"comment,omitempty"`
	UpdateChildItems    bool   `json:"updateChildItems,omitempty" jsonschema:"description=Also move direct child items"`
}

type bulkTagsArgs struct {
	bulkCommonArgs
	Tags string `json:"tags" jsonschema:"description=Semicolon-separated tag list"`
}

// bulkToolDefs builds the eight single-action bulk tools.
func bulkToolDefs(deps Deps) []toolDef {
	defs := []toolDef{
		{
			tool: &mcp.Tool{
				Name:        "bulk-comment",
				Description: "Add a comment to every selected work item",
				InputSchema: mcp.MustReflectSchema(&bulkCommentArgs{}),
			},
			handler: func(ctx context.Context, raw json.RawMessage) *mcp.Envelope {
				var args bulkCommentArgs
				if err := json.Unmarshal(raw, &args); err != nil {
					return mcp.ErrorEnvelope("bulk-comment", fmt.Sprintf("decode arguments: %v", err))
				}
				req := args.request(bulk.Action{Type: bulk.ActionComment, Comment: args.Comment})
				return envelopeFromBulk("bulk-comment", deps.Engine.Execute(ctx, req))
			},
			long: true,
		},
		{
			tool: &mcp.Tool{
				Name:        "bulk-assign",
				Description: "Assign every selected work item to one identity",
				InputSchema: mcp.MustReflectSchema(&bulkAssignArgs{}),
			},
			handler: func(ctx context.Context, raw json.RawMessage) *mcp.Envelope {
				var args bulkAssignArgs
				if err := json.Unmarshal(raw, &args); err != nil {
					return mcp.ErrorEnvelope("bulk-assign", fmt.Sprintf("decode arguments: %v", err))
				}
				req := args.request(bulk.Action{Type: bulk.ActionAssign, AssignTo: args.AssignTo, Comment: args.Comment})
				return envelopeFromBulk("bulk-assign", deps.Engine.Execute(ctx, req))
			},
			long: true,
		},
		{
			tool: &mcp.Tool{
				Name:        "bulk-update",
				Description: "Apply field updates to every selected work item",
				InputSchema: mcp.MustReflectSchema(&bulkUpdateArgs{}),
			},
			handler: func(ctx context.Context, raw json.RawMessage) *mcp.Envelope {
				var args bulkUpdateArgs
				if err := json.Unmarshal(raw, &args); err != nil {
					return mcp.ErrorEnvelope("bulk-update", fmt.Sprintf("decode arguments: %v", err))
				}
				req := args.request(bulk.Action{Type: bulk.ActionUpdate, Updates: args.Updates})
				return envelopeFromBulk("bulk-update", deps.Engine.Execute(ctx, req))
			},
			long: true,
		},
		{
			tool: &mcp.Tool{
				Name:        "bulk-remove",
				Description: "Move every selected work item to the Removed state with a reason",
				InputSchema: mcp.MustReflectSchema(&bulkRemoveArgs{}),
			},
			handler: func(ctx context.Context, raw json.RawMessage) *mcp.Envelope {
				var args bulkRemoveArgs
				if err := json.Unmarshal(raw, &args); err != nil {
					return mcp.ErrorEnvelope("bulk-remove", fmt.Sprintf("decode arguments: %v", err))
				}
				req := args.request(bulk.Action{Type: bulk.ActionRemove, RemoveReason: args.RemoveReason})
				return envelopeFromBulk("bulk-remove", deps.Engine.Execute(ctx, req))
			},
			long: true,
		},
		{
			tool: &mcp.Tool{
				Name:        "bulk-transition-state",
				Description: "Move every selected work item to a target state",
				InputSchema: mcp.MustReflectSchema(&bulkTransitionArgs{}),
			},
			handler: func(ctx context.Context, raw json.RawMessage) *mcp.Envelope {
				var args bulkTransitionArgs
				if err := json.Unmarshal(raw, &args); err != nil {
					return mcp.ErrorEnvelope("bulk-transition-state", fmt.Sprintf("decode arguments: %v", err))
				}
				req := args.request(bulk.Action{
					Type:        bulk.ActionTransitionState,
					TargetState: args.TargetState,
					Reason:      args.Reason,
					Comment:     args.Comment,
				})
				return envelopeFromBulk("bulk-transition-state", deps.Engine.Execute(ctx, req))
			},
			long: true,
		},
		{
			tool: &mcp.Tool{
				Name:        "bulk-move-iteration",
				Description: "Move every selected work item into another iteration",
				InputSchema: mcp.MustReflectSchema(&bulkMoveIterationArgs{}),
			},
			handler: func(ctx context.Context, raw json.RawMessage) *mcp.Envelope {
				var args bulkMoveIterationArgs
				if err := json.Unmarshal(raw, &args); err != nil {
					return mcp.ErrorEnvelope("bulk-move-iteration", fmt.Sprintf("decode arguments: %v", err))
				}
				req := args.request(bulk.Action{
					Type:                bulk.ActionMoveIteration,
					TargetIterationPath: args.TargetIterationPath,
					Comment:             args.Comment,
					UpdateChildItems:    args.UpdateChildItems,
				})
				return envelopeFromBulk("bulk-move-iteration", deps.Engine.Execute(ctx, req))
			},
			long: true,
		},
		{
			tool: &mcp.Tool{
				Name:        "bulk-add-tags",
				Description: "Add tags to every selected work item (case-insensitive set union)",
				InputSchema: mcp.MustReflectSchema(&bulkTagsArgs{}),
			},
			handler: func(ctx context.Context, raw json.RawMessage) *mcp.Envelope {
				var args bulkTagsArgs
				if err := json.Unmarshal(raw, &args); err != nil {
					return mcp.ErrorEnvelope("bulk-add-tags", fmt.Sprintf("decode arguments: %v", err))
				}
				req := args.request(bulk.Action{Type: bulk.ActionAddTag, Tags: args.Tags})
				return envelopeFromBulk("bulk-add-tags", deps.Engine.Execute(ctx, req))
			},
			long: true,
		},
		{
			tool: &mcp.Tool{
				Name:        "bulk-remove-tags",
				Description: "Remove tags from every selected work item (case-insensitive)",
				InputSchema: mcp.MustReflectSchema(&bulkTagsArgs{}),
			},
			handler: func(ctx context.Context, raw json.RawMessage) *mcp.Envelope {
				var args bulkTagsArgs
				if err := json.Unmarshal(raw, &args); err != nil {
					return mcp.ErrorEnvelope("bulk-remove-tags", fmt.Sprintf("decode arguments: %v", err))
				}
				req := args.request(bulk.Action{Type: bulk.ActionRemoveTag, Tags: args.Tags})
				return envelopeFromBulk("bulk-remove-tags", deps.Engine.Execute(ctx, req))
			},
			long: true,
		},
	}
	return defs
}

type linkWorkItemsArgs struct {
	SourceQueryHandle string `json:"sourceQueryHandle" jsonschema:"description=Handle whose items receive the link"`
	TargetQueryHandle string `json:"targetQueryHandle" jsonschema:"description=Handle whose items are linked to"`
	LinkType          string `json:"linkType" jsonschema:"description=Parent | Child | Related | Successor | Predecessor"`
	LinkStrategy      string `json:"linkStrategy" jsonschema:"description=one-to-one | one-to-many | many-to-one | many-to-many"`
	SkipExisting      bool   `json:"skipExisting,omitempty" jsonschema:"description=Skip pairs already linked with the same type"`
	DryRun            bool   `json:"dryRun,omitempty"`
}

func linkWorkItemsTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "link-work-items",
		Description: "Create typed links between the items of two query handles",
		InputSchema: mcp.MustReflectSchema(&linkWorkItemsArgs{}),
	}
}

func linkWorkItemsHandler(deps Deps) mcp.ToolHandler {
	return func(ctx context.Context, raw json.RawMessage) *mcp.Envelope {
		var args linkWorkItemsArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return mcp.ErrorEnvelope("link-work-items", fmt.Sprintf("decode arguments: %v", err))
		}

		result := deps.Engine.ExecuteLink(ctx, &bulk.LinkRequest{
			SourceQueryHandle: args.SourceQueryHandle,
			TargetQueryHandle: args.TargetQueryHandle,
			LinkType:          args.LinkType,
			LinkStrategy:      args.LinkStrategy,
			SkipExisting:      args.SkipExisting,
			DryRun:            args.DryRun,
		})
		env := &mcp.Envelope{
			Success:  result.Success,
			Data:     result,
			Errors:   result.Errors,
			Warnings: result.Warnings,
			Metadata: map[string]any{"source": "link-work-items"},
		}
		if env.Errors == nil {
			env.Errors = []string{}
		}
		if env.Warnings == nil {
			env.Warnings = []string{}
		}
		return env
	}
}
