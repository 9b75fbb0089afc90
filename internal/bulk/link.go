package bulk

import (
	"context"
	"fmt"
	"strings"

	"github.com/crestline/adowork/internal/handles"
)

// Link strategies.
const (
	StrategyOneToOne   = "one-to-one"
	StrategyOneToMany  = "one-to-many"
	StrategyManyToOne  = "many-to-one"
	StrategyManyToMany = "many-to-many"
)

// linkTypeRefs maps the symbolic link types to backend relation
// reference names.
var linkTypeRefs = map[string]string{
	"Parent":      "System.LinkTypes.Hierarchy-Reverse",
	"Child":       "System.LinkTypes.Hierarchy-Forward",
	"Related":     "System.LinkTypes.Related",
	"Successor":   "System.LinkTypes.Dependency-Forward",
	"Predecessor": "System.LinkTypes.Dependency-Reverse",
}

// typeRank orders work item types for the hierarchy sanity check.
// Higher ranks plausibly parent lower ones.
var typeRank = map[string]int{
	"epic":                 4,
	"feature":              3,
	"user story":           2,
	"product backlog item": 2,
	"requirement":          2,
	"task":                 1,
	"bug":                  1,
}

// LinkRequest is the bi-handle link operation.
type LinkRequest struct {
	SourceQueryHandle string `json:"sourceQueryHandle"`
	TargetQueryHandle string `json:"targetQueryHandle"`
	LinkType          string `json:"linkType"`
	LinkStrategy      string `json:"linkStrategy"`
	SkipExisting      bool   `json:"skipExisting,omitempty"`
	DryRun            bool   `json:"dryRun,omitempty"`
}

// linkPair is one (source, target) id pair produced by a strategy.
type linkPair struct {
	source int
	target int
}

// LinkResult reports the outcome of a link operation.
type LinkResult struct {
	Success      bool          `json:"success"`
	DryRun       bool          `json:"dry_run,omitempty"`
	LinkType     string        `json:"link_type"`
	LinkStrategy string        `json:"link_strategy"`
	PairCount    int           `json:"pair_count"`
	Created      []ItemSuccess `json:"created,omitempty"`
	Failed       []ItemFailure `json:"failed,omitempty"`
	Skipped      []ItemSkip    `json:"skipped,omitempty"`
	Warnings     []string      `json:"warnings,omitempty"`
	Errors       []string      `json:"errors,omitempty"`
}

// ExecuteLink creates typed links between the items of two handles.
func (e *Engine) ExecuteLink(ctx context.Context, req *LinkRequest) *LinkResult {
	backendRef, ok := linkTypeRefs[req.LinkType]
	if !ok {
		return &LinkResult{Success: false, Errors: []string{fmt.Sprintf("unknown link type: %q (expected one of Parent, Child, Related, Successor, Predecessor)", req.LinkType)}}
	}

	sourceData := e.store.GetQueryData(req.SourceQueryHandle)
	if sourceData == nil {
		return &LinkResult{Success: false, Errors: []string{fmt.Sprintf("Query handle not found or expired: %s", handlePrefix(req.SourceQueryHandle))}}
	}
	targetData := e.store.GetQueryData(req.TargetQueryHandle)
	if targetData == nil {
		return &LinkResult{Success: false, Errors: []string{fmt.Sprintf("Query handle not found or expired: %s", handlePrefix(req.TargetQueryHandle))}}
	}

	result := &LinkResult{
		LinkType:     req.LinkType,
		LinkStrategy: req.LinkStrategy,
	}

	pairs, warn, err := buildPairs(req.LinkStrategy, sourceData.WorkItemIDs, targetData.WorkItemIDs)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result
	}
	if warn != "" {
		result.Warnings = append(result.Warnings, warn)
	}

	// Self-links are dropped before counting or acting.
	kept := pairs[:0]
	for _, p := range pairs {
		if p.source == p.target {
			result.Warnings = append(result.Warnings, fmt.Sprintf("skipping self-link for work item %d", p.source))
			result.Skipped = append(result.Skipped, ItemSkip{ID: p.source, Reason: "self-link"})
			continue
		}
		kept = append(kept, p)
	}
	pairs = kept
	result.PairCount = len(pairs)

	e.hierarchySanityCheck(req.LinkType, pairs, sourceData.WorkItemContext, targetData.WorkItemContext, result)

	if req.DryRun {
		result.Success = true
		result.DryRun = true
		return result
	}

	// With skipExisting, fetch each source's relations once.
	existing := map[int]map[string]bool{}
	if req.SkipExisting {
		seen := map[int]bool{}
		for _, p := range pairs {
			if seen[p.source] {
				continue
			}
			seen[p.source] = true
			rels, err := e.client.GetRelations(ctx, p.source)
			if err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("fetch relations for %d: %v", p.source, err))
				return result
			}
			set := map[string]bool{}
			for _, rel := range rels {
				set[rel.Rel+" "+rel.URL] = true
			}
			existing[p.source] = set
		}
	}

	for _, p := range pairs {
		targetURL := e.client.WorkItemURL(p.target)
		if req.SkipExisting && existing[p.source][backendRef+" "+targetURL] {
			result.Skipped = append(result.Skipped, ItemSkip{ID: p.source, Reason: fmt.Sprintf("link to %d already exists", p.target)})
			e.recordItem("link", "skipped")
			continue
		}
		if err := e.client.AddRelation(ctx, p.source, backendRef, targetURL); err != nil {
			result.Failed = append(result.Failed, ItemFailure{ID: p.source, Error: fmt.Sprintf("link to %d: %v", p.target, err)})
			e.recordItem("link", "failure")
			continue
		}
		result.Created = append(result.Created, ItemSuccess{ID: p.source, Result: fmt.Sprintf("linked to %d", p.target)})
		e.recordItem("link", "success")
	}

	result.Success = len(result.Failed) == 0 && len(result.Errors) == 0
	return result
}

// buildPairs expands a strategy over the two id lists.
func buildPairs(strategy string, sources, targets []int) ([]linkPair, string, error) {
	switch strategy {
	case StrategyOneToOne:
		n := len(sources)
		if len(targets) < n {
			n = len(targets)
		}
		var warn string
		if len(sources) != len(targets) {
			warn = fmt.Sprintf("one-to-one size mismatch: %d source(s), %d target(s); pairing the first %d", len(sources), len(targets), n)
		}
		pairs := make([]linkPair, 0, n)
		for i := 0; i < n; i++ {
			pairs = append(pairs, linkPair{sources[i], targets[i]})
		}
		return pairs, warn, nil

	case StrategyOneToMany:
		if len(sources) != 1 {
			return nil, "", fmt.Errorf("one-to-many requires exactly one source item, got %d", len(sources))
		}
		pairs := make([]linkPair, 0, len(targets))
		for _, t := range targets {
			pairs = append(pairs, linkPair{sources[0], t})
		}
		return pairs, "", nil

	case StrategyManyToOne:
		if len(targets) != 1 {
			return nil, "", fmt.Errorf("many-to-one requires exactly one target item, got %d", len(targets))
		}
		pairs := make([]linkPair, 0, len(sources))
		for _, s := range sources {
			pairs = append(pairs, linkPair{s, targets[0]})
		}
		return pairs, "", nil

	case StrategyManyToMany:
		pairs := make([]linkPair, 0, len(sources)*len(targets))
		for _, s := range sources {
			for _, t := range targets {
				pairs = append(pairs, linkPair{s, t})
			}
		}
		return pairs, "", nil

	default:
		return nil, "", fmt.Errorf("unknown link strategy: %q", strategy)
	}
}

// hierarchySanityCheck warns when a hierarchy link pairs types that
// cannot plausibly parent each other, e.g. a Task as parent of a
// Feature. The backend still has the final say.
func (e *Engine) hierarchySanityCheck(linkType string, pairs []linkPair, sourceCtx, targetCtx map[int]handles.WorkItemContext, result *LinkResult) {
	if linkType != "Parent" && linkType != "Child" {
		return
	}
	for _, p := range pairs {
		// Parent: the target parents the source. Child: the reverse.
		parentID, childID := p.target, p.source
		parentType := targetCtx[p.target].Type
		childType := sourceCtx[p.source].Type
		if linkType == "Child" {
			parentID, childID = p.source, p.target
			parentType = sourceCtx[p.source].Type
			childType = targetCtx[p.target].Type
		}

		pr, pok := typeRank[strings.ToLower(parentType)]
		cr, cok := typeRank[strings.ToLower(childType)]
		if pok && cok && pr <= cr {
			result.Warnings = append(result.Warnings, fmt.Sprintf(
				"hierarchy check: %s %d as parent of %s %d is unusual",
				parentType, parentID, childType, childID))
		}
	}
}
