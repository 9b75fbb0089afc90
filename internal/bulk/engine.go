package bulk

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/crestline/adowork/internal/ado"
	"github.com/crestline/adowork/internal/handles"
	"github.com/crestline/adowork/internal/metrics"
)

// Engine executes action pipelines against the items a query handle
// references.
type Engine struct {
	client   ado.Client
	store    *handles.Store
	logger   *slog.Logger
	registry *metrics.Registry
	prom     *metrics.PromMetrics
}

// NewEngine wires the bulk executor onto the handle store and the ADO
// client boundary. registry and prom may be nil.
func NewEngine(client ado.Client, store *handles.Store, logger *slog.Logger, registry *metrics.Registry, prom *metrics.PromMetrics) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		client:   client,
		store:    store,
		logger:   logger.With("component", "bulk"),
		registry: registry,
		prom:     prom,
	}
}

// Request is one bulk invocation: a handle, a selection, and an ordered
// action pipeline. A nil ItemSelector selects every item.
type Request struct {
	QueryHandle     string            `json:"queryHandle"`
	ItemSelector    *handles.Selector `json:"itemSelector,omitempty"`
	Actions         []Action          `json:"actions"`
	DryRun          bool              `json:"dryRun,omitempty"`
	StopOnError     bool              `json:"stopOnError,omitempty"`
	MaxPreviewItems int               `json:"maxPreviewItems,omitempty"`
}

// PreviewItem is one row of a dry-run preview.
type PreviewItem struct {
	ID         int    `json:"id"`
	Title      string `json:"title,omitempty"`
	State      string `json:"state,omitempty"`
	AssignedTo string `json:"assignedTo,omitempty"`
}

// ItemSuccess records one successful per-item operation.
type ItemSuccess struct {
	ID     int    `json:"id"`
	Result string `json:"result,omitempty"`
}

// ItemFailure records one failed per-item operation.
type ItemFailure struct {
	ID    int    `json:"id"`
	Error string `json:"error"`
}

// ItemSkip records an item deliberately not touched.
type ItemSkip struct {
	ID     int    `json:"id"`
	Reason string `json:"reason"`
}

// ActionResult aggregates per-item outcomes of one action.
type ActionResult struct {
	Type        string        `json:"type"`
	Executed    bool          `json:"executed"`
	NotExecuted string        `json:"not_executed_reason,omitempty"`
	Succeeded   []ItemSuccess `json:"succeeded,omitempty"`
	Failed      []ItemFailure `json:"failed,omitempty"`
	Skipped     []ItemSkip    `json:"skipped,omitempty"`
}

// Result is the outcome of one bulk request.
type Result struct {
	Success            bool           `json:"success"`
	DryRun             bool           `json:"dry_run,omitempty"`
	PreviewItems       []PreviewItem  `json:"preview_items,omitempty"`
	PreviewMessage     string         `json:"preview_message,omitempty"`
	SelectedItemsCount int            `json:"selected_items_count"`
	TotalItemsInHandle int            `json:"total_items_in_handle"`
	ActionsCompleted   int            `json:"actions_completed"`
	ActionsFailed      int            `json:"actions_failed"`
	ItemsSucceeded     int            `json:"successful"`
	ItemsFailed        int            `json:"failed"`
	Actions            []ActionResult `json:"actions,omitempty"`
	Warnings           []string       `json:"warnings,omitempty"`
	Errors             []string       `json:"errors,omitempty"`
}

func failedResult(errs ...string) *Result {
	return &Result{Success: false, Errors: errs}
}

// Execute runs a single-handle bulk request.
func (e *Engine) Execute(ctx context.Context, req *Request) *Result {
	data := e.store.GetQueryData(req.QueryHandle)
	if data == nil {
		return failedResult(fmt.Sprintf("Query handle not found or expired: %s", handlePrefix(req.QueryHandle)))
	}

	if len(req.Actions) == 0 {
		return failedResult("at least one action is required")
	}
	for i := range req.Actions {
		if err := req.Actions[i].Validate(); err != nil {
			return failedResult(fmt.Sprintf("action %d: %v", i, err))
		}
	}

	selector := handles.SelectAll()
	if req.ItemSelector != nil {
		selector = *req.ItemSelector
	}
	selected := e.store.ResolveItemSelector(req.QueryHandle, selector)
	if selected == nil {
		return failedResult("invalid item selector")
	}
	if len(selected) == 0 {
		return failedResult("No work items matched the selection criteria")
	}

	result := &Result{
		SelectedItemsCount: len(selected),
		TotalItemsInHandle: len(data.WorkItemIDs),
	}

	previewLimit := req.MaxPreviewItems
	if previewLimit <= 0 {
		previewLimit = defaultPreviewItems(req.Actions[0].Type)
	}
	n := previewLimit
	if n > len(selected) {
		n = len(selected)
	}
	for _, id := range selected[:n] {
		ic := data.WorkItemContext[id]
		result.PreviewItems = append(result.PreviewItems, PreviewItem{
			ID:         id,
			Title:      ic.Title,
			State:      ic.State,
			AssignedTo: ic.AssignedTo,
		})
	}
	if n < len(selected) {
		result.PreviewMessage = fmt.Sprintf("Showing %d of %d items...", n, len(selected))
	}

	if req.DryRun {
		result.Success = true
		result.DryRun = true
		return result
	}

	// Validate external references before any side effect.
	for _, action := range req.Actions {
		if action.Type == ActionMoveIteration {
			if err := e.client.ValidateIterationPath(ctx, action.TargetIterationPath); err != nil {
				return failedResult(fmt.Sprintf("iteration path %q not found: %v", action.TargetIterationPath, err))
			}
		}
	}

	stopped := false
	for _, action := range req.Actions {
		if stopped {
			result.Actions = append(result.Actions, ActionResult{
				Type:        action.Type,
				Executed:    false,
				NotExecuted: "not executed: a previous action failed with stopOnError set",
			})
			result.ActionsFailed++
			continue
		}

		ar := e.runAction(ctx, &action, selected, data, result)
		result.Actions = append(result.Actions, *ar)
		result.ItemsSucceeded += len(ar.Succeeded)
		result.ItemsFailed += len(ar.Failed)
		if len(ar.Failed) == 0 {
			result.ActionsCompleted++
		} else {
			result.ActionsFailed++
			for _, f := range ar.Failed {
				result.Errors = append(result.Errors, fmt.Sprintf("%s failed for item %d: %s", action.Type, f.ID, f.Error))
			}
			if req.StopOnError {
				stopped = true
			}
		}
	}

	if result.ItemsFailed > 0 {
		result.Warnings = append(result.Warnings, fmt.Sprintf("%d item(s) failed", result.ItemsFailed))
	}
	result.Success = result.ActionsFailed == 0
	return result
}

// runAction applies one action to every selected item, isolating
// failures per item.
func (e *Engine) runAction(ctx context.Context, action *Action, ids []int, data *handles.QueryData, result *Result) *ActionResult {
	ar := &ActionResult{Type: action.Type, Executed: true}

	for _, id := range ids {
		itemCtx := data.WorkItemContext[id]
		outcome, skip, err := e.applyToItem(ctx, action, id, itemCtx, result)
		switch {
		case err != nil:
			ar.Failed = append(ar.Failed, ItemFailure{ID: id, Error: err.Error()})
			e.recordItem(action.Type, "failure")
		case skip != "":
			ar.Skipped = append(ar.Skipped, ItemSkip{ID: id, Reason: skip})
			e.recordItem(action.Type, "skipped")
		default:
			ar.Succeeded = append(ar.Succeeded, ItemSuccess{ID: id, Result: outcome})
			e.recordItem(action.Type, "success")
		}
	}

	e.logger.Info("bulk action finished",
		"action", action.Type,
		"succeeded", len(ar.Succeeded),
		"failed", len(ar.Failed),
		"skipped", len(ar.Skipped))
	return ar
}

func (e *Engine) recordItem(action, outcome string) {
	if e.registry != nil {
		e.registry.IncrementCounter("bulk_items", 1, map[string]string{"action": action, "outcome": outcome})
	}
	if e.prom != nil {
		e.prom.BulkItemsProcessed.WithLabelValues(action, outcome).Inc()
	}
}

// applyToItem performs one action against one item. A non-empty skip
// string means the item was deliberately left untouched.
func (e *Engine) applyToItem(ctx context.Context, action *Action, id int, itemCtx handles.WorkItemContext, result *Result) (outcome, skip string, err error) {
	switch action.Type {
	case ActionComment:
		text := renderComment(action.Comment, id, itemCtx)
		if _, err := e.client.AddComment(ctx, id, text); err != nil {
			return "", "", err
		}
		return "comment added", "", nil

	case ActionAssign:
		ops := []ado.PatchOp{{Op: "add", Path: "/fields/" + ado.FieldAssignedTo, Value: action.AssignTo}}
		if _, err := e.client.UpdateWorkItem(ctx, id, ops); err != nil {
			return "", "", err
		}
		if action.Comment != "" {
			text := renderComment(action.Comment, id, itemCtx)
			if _, err := e.client.AddComment(ctx, id, text); err != nil {
				return "", "", fmt.Errorf("assigned but comment failed: %w", err)
			}
		}
		return "assigned to " + action.AssignTo, "", nil

	case ActionUpdate:
		if _, err := e.client.UpdateWorkItem(ctx, id, action.Updates); err != nil {
			return "", "", err
		}
		return fmt.Sprintf("%d field(s) updated", len(action.Updates)), "", nil

	case ActionRemove:
		if strings.EqualFold(itemCtx.State, "Removed") {
			result.Warnings = append(result.Warnings, fmt.Sprintf("work item %d is already Removed", id))
			return "", "already in Removed state", nil
		}
		if _, err := e.client.AddComment(ctx, id, action.RemoveReason); err != nil {
			return "", "", err
		}
		ops := []ado.PatchOp{{Op: "add", Path: "/fields/" + ado.FieldState, Value: "Removed"}}
		if _, err := e.client.UpdateWorkItem(ctx, id, ops); err != nil {
			return "", "", err
		}
		return "removed", "", nil

	case ActionTransitionState:
		if strings.EqualFold(itemCtx.State, action.TargetState) {
			result.Warnings = append(result.Warnings, fmt.Sprintf("work item %d is already in state %q", id, action.TargetState))
			return "", "already in target state", nil
		}
		if strings.EqualFold(itemCtx.State, "Removed") && !strings.EqualFold(action.TargetState, "Removed") {
			result.Warnings = append(result.Warnings, fmt.Sprintf("work item %d is Removed; transition to %q may be rejected by the backend", id, action.TargetState))
		}
		ops := []ado.PatchOp{{Op: "add", Path: "/fields/" + ado.FieldState, Value: action.TargetState}}
		if action.Reason != "" {
			ops = append(ops, ado.PatchOp{Op: "add", Path: "/fields/" + ado.FieldReason, Value: action.Reason})
		}
		if action.Comment != "" {
			ops = append(ops, ado.PatchOp{Op: "add", Path: "/fields/" + ado.FieldHistory, Value: renderComment(action.Comment, id, itemCtx)})
		}
		if _, err := e.client.UpdateWorkItem(ctx, id, ops); err != nil {
			return "", "", err
		}
		return "transitioned to " + action.TargetState, "", nil

	case ActionMoveIteration:
		moved, err := e.moveIteration(ctx, action, id, itemCtx)
		if err != nil {
			return "", "", err
		}
		return moved, "", nil

	case ActionAddTag, ActionRemoveTag:
		return e.applyTagEdit(ctx, action, id)

	default:
		return "", "", fmt.Errorf("unknown action type: %q", action.Type)
	}
}

// moveIteration re-parents one item (and optionally its children) into
// the target iteration. The path itself was validated before the loop.
func (e *Engine) moveIteration(ctx context.Context, action *Action, id int, itemCtx handles.WorkItemContext) (string, error) {
	ops := []ado.PatchOp{{Op: "add", Path: "/fields/" + ado.FieldIterationPath, Value: action.TargetIterationPath}}
	if _, err := e.client.UpdateWorkItem(ctx, id, ops); err != nil {
		return "", err
	}
	if action.Comment != "" {
		if _, err := e.client.AddComment(ctx, id, renderComment(action.Comment, id, itemCtx)); err != nil {
			return "", fmt.Errorf("moved but comment failed: %w", err)
		}
	}

	movedChildren := 0
	if action.UpdateChildItems {
		children, err := e.client.GetChildIDs(ctx, id)
		if err != nil {
			return "", fmt.Errorf("moved but child lookup failed: %w", err)
		}
		for _, childID := range children {
			if _, err := e.client.UpdateWorkItem(ctx, childID, ops); err != nil {
				return "", fmt.Errorf("moved but child %d failed: %w", childID, err)
			}
			movedChildren++
		}
	}

	if movedChildren > 0 {
		return fmt.Sprintf("moved to %s with %d child item(s)", action.TargetIterationPath, movedChildren), nil
	}
	return "moved to " + action.TargetIterationPath, nil
}

// handlePrefix truncates a handle for error messages so logs stay
// readable without leaking the full token repeatedly.
func handlePrefix(handle string) string {
	if len(handle) <= 11 {
		return handle
	}
	return handle[:11] + "..."
}
