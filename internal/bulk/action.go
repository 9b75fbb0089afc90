// Package bulk applies ordered action pipelines to work-item sets
// referenced by query handles, with dry-run previews and per-item error
// isolation.
package bulk

import (
	"fmt"
	"strings"

	"github.com/crestline/adowork/internal/ado"
	"github.com/crestline/adowork/internal/handles"
)

// Action variant names.
const (
	ActionComment         = "comment"
	ActionAssign          = "assign"
	ActionUpdate          = "update"
	ActionRemove          = "remove"
	ActionTransitionState = "transition-state"
	ActionMoveIteration   = "move-iteration"
	ActionAddTag          = "add-tag"
	ActionRemoveTag       = "remove-tag"
)

// Action is the sum of all single-handle action variants. Type selects
// the variant; the other fields are variant-specific.
type Action struct {
	Type string `json:"type"`

	// comment, and optional secondary comment for assign/transition/move
	Comment string `json:"comment,omitempty"`

	// assign
	AssignTo string `json:"assignTo,omitempty"`

	// update
	Updates []ado.PatchOp `json:"updates,omitempty"`

	// remove
	RemoveReason string `json:"removeReason,omitempty"`

	// transition-state
	TargetState string `json:"targetState,omitempty"`
	Reason      string `json:"reason,omitempty"`

	// move-iteration
	TargetIterationPath string `json:"targetIterationPath,omitempty"`
	UpdateChildItems    bool   `json:"updateChildItems,omitempty"`

	// add-tag / remove-tag, semicolon-separated
	Tags string `json:"tags,omitempty"`
}

// Validate checks that the variant is known and its required fields are
// present. It does not touch external systems.
func (a *Action) Validate() error {
	switch a.Type {
	case ActionComment:
		if a.Comment == "" {
			return fmt.Errorf("comment action requires a comment")
		}
	case ActionAssign:
		if a.AssignTo == "" {
			return fmt.Errorf("assign action requires assignTo")
		}
	case ActionUpdate:
		if len(a.Updates) == 0 {
			return fmt.Errorf("update action requires at least one update operation")
		}
		for i, op := range a.Updates {
			if op.Op == "" || op.Path == "" {
				return fmt.Errorf("update action: operation %d missing op or path", i)
			}
		}
	case ActionRemove:
		if a.RemoveReason == "" {
			return fmt.Errorf("remove action requires removeReason")
		}
	case ActionTransitionState:
		if a.TargetState == "" {
			return fmt.Errorf("transition-state action requires targetState")
		}
	case ActionMoveIteration:
		if a.TargetIterationPath == "" {
			return fmt.Errorf("move-iteration action requires targetIterationPath")
		}
	case ActionAddTag, ActionRemoveTag:
		if strings.TrimSpace(a.Tags) == "" {
			return fmt.Errorf("%s action requires tags", a.Type)
		}
	default:
		return fmt.Errorf("unknown action type: %q", a.Type)
	}
	return nil
}

// defaultPreviewItems returns the preview window for one action variant.
// Assign-class actions show fewer items than comment-class ones.
func defaultPreviewItems(actionType string) int {
	switch actionType {
	case ActionAssign, ActionRemove, ActionTransitionState, ActionMoveIteration:
		return 5
	default:
		return 10
	}
}

// renderComment substitutes {id}, {title}, {state}, and {assignedTo}
// placeholders with values from the item's captured context.
func renderComment(template string, id int, ctx handles.WorkItemContext) string {
	out := strings.ReplaceAll(template, "{id}", fmt.Sprintf("%d", id))
	out = strings.ReplaceAll(out, "{title}", ctx.Title)
	out = strings.ReplaceAll(out, "{state}", ctx.State)
	out = strings.ReplaceAll(out, "{assignedTo}", ctx.AssignedTo)
	return out
}
