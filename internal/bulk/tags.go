package bulk

import (
	"context"
	"fmt"
	"strings"

	"github.com/crestline/adowork/internal/ado"
)

// parseTags splits a semicolon-separated tag string into trimmed,
// non-empty segments.
func parseTags(raw string) []string {
	var tags []string
	for _, seg := range strings.Split(raw, ";") {
		if t := strings.TrimSpace(seg); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// joinTags serializes tags back to the semicolon form ADO stores.
func joinTags(tags []string) string {
	return strings.Join(tags, "; ")
}

// unionTags adds every tag in toAdd that is not already present under
// case-insensitive comparison. Existing casing is preserved; incoming
// duplicates keep their first casing.
func unionTags(current, toAdd []string) []string {
	out := append([]string(nil), current...)
	for _, tag := range toAdd {
		if !containsTagFold(out, tag) {
			out = append(out, tag)
		}
	}
	return out
}

// subtractTags removes every tag in toRemove under case-insensitive
// comparison, preserving the order and casing of what remains.
func subtractTags(current, toRemove []string) []string {
	var out []string
	for _, tag := range current {
		if !containsTagFold(toRemove, tag) {
			out = append(out, tag)
		}
	}
	return out
}

func containsTagFold(tags []string, needle string) bool {
	for _, t := range tags {
		if strings.EqualFold(t, needle) {
			return true
		}
	}
	return false
}

// applyTagEdit performs one read-modify-write tag operation on one item.
// A no-op edit (all tags already present, or none present to remove)
// skips the write.
func (e *Engine) applyTagEdit(ctx context.Context, action *Action, id int) (outcome, skip string, err error) {
	item, err := e.client.GetWorkItem(ctx, id, false)
	if err != nil {
		return "", "", fmt.Errorf("read tags: %w", err)
	}
	var current []string
	if raw, ok := item.Fields[ado.FieldTags].(string); ok {
		current = parseTags(raw)
	}

	edit := parseTags(action.Tags)
	var next []string
	if action.Type == ActionAddTag {
		next = unionTags(current, edit)
	} else {
		next = subtractTags(current, edit)
	}

	if len(next) == len(current) && joinTags(next) == joinTags(current) {
		return "", "tags already up to date", nil
	}

	ops := []ado.PatchOp{{Op: "add", Path: "/fields/" + ado.FieldTags, Value: joinTags(next)}}
	if _, err := e.client.UpdateWorkItem(ctx, id, ops); err != nil {
		return "", "", fmt.Errorf("write tags: %w", err)
	}

	if action.Type == ActionAddTag {
		return fmt.Sprintf("tags now: %s", joinTags(next)), "", nil
	}
	return fmt.Sprintf("tags now: %s", orNone(joinTags(next))), "", nil
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
