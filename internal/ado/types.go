// Package ado is the boundary to the Azure DevOps REST API: the HTTP verbs
// and payload shapes the core consumes. Query strings (WIQL, OData) pass
// through unmodified.
package ado

import "encoding/json"

// WorkItem is a work item as returned by the work-item endpoints.
type WorkItem struct {
	ID        int            `json:"id"`
	Rev       int            `json:"rev,omitempty"`
	Fields    map[string]any `json:"fields"`
	Relations []Relation     `json:"relations,omitempty"`
	URL       string         `json:"url,omitempty"`
}

// Relation is a typed link between work items.
type Relation struct {
	Rel        string         `json:"rel"`
	URL        string         `json:"url"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// PatchOp is a JSON-patch operation on work-item fields.
type PatchOp struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value,omitempty"`
}

// Well-known field reference names.
const (
	FieldTitle         = "System.Title"
	FieldState         = "System.State"
	FieldReason        = "System.Reason"
	FieldWorkItemType  = "System.WorkItemType"
	FieldAssignedTo    = "System.AssignedTo"
	FieldTags          = "System.Tags"
	FieldIterationPath = "System.IterationPath"
	FieldChangedDate   = "System.ChangedDate"
	FieldHistory       = "System.History"
)

// WIQLResult is the response of a WIQL query: a flat reference list.
type WIQLResult struct {
	QueryType string              `json:"queryType"`
	WorkItems []WorkItemReference `json:"workItems"`
}

// WorkItemReference identifies a work item in a query result.
type WorkItemReference struct {
	ID  int    `json:"id"`
	URL string `json:"url,omitempty"`
}

// ODataResult is the response of an Analytics OData query.
type ODataResult struct {
	Count int               `json:"@odata.count,omitempty"`
	Value []json.RawMessage `json:"value"`
}

// Comment is a work-item discussion comment.
type Comment struct {
	ID   int    `json:"id"`
	Text string `json:"text"`
}
