package bulk

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/crestline/adowork/internal/ado"
	"github.com/crestline/adowork/internal/handles"
)

// fakeClient is an in-memory ado.Client recording every mutation.
type fakeClient struct {
	mu         sync.Mutex
	items      map[int]*ado.WorkItem
	comments   map[int][]string
	patches    map[int][][]ado.PatchOp
	children   map[int][]int
	failIDs    map[int]error
	validPaths map[string]bool
	calls      int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		items:      make(map[int]*ado.WorkItem),
		comments:   make(map[int][]string),
		patches:    make(map[int][][]ado.PatchOp),
		children:   make(map[int][]int),
		failIDs:    make(map[int]error),
		validPaths: make(map[string]bool),
	}
}

func (f *fakeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeClient) GetWorkItem(ctx context.Context, id int, expand bool) (*ado.WorkItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.failIDs[id]; err != nil {
		return nil, err
	}
	if item, ok := f.items[id]; ok {
		return item, nil
	}
	return &ado.WorkItem{ID: id, Fields: map[string]any{}}, nil
}

func (f *fakeClient) UpdateWorkItem(ctx context.Context, id int, ops []ado.PatchOp) (*ado.WorkItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.failIDs[id]; err != nil {
		return nil, err
	}
	f.patches[id] = append(f.patches[id], ops)
	return &ado.WorkItem{ID: id, Fields: map[string]any{}}, nil
}

func (f *fakeClient) AddComment(ctx context.Context, id int, text string) (*ado.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.failIDs[id]; err != nil {
		return nil, err
	}
	f.comments[id] = append(f.comments[id], text)
	return &ado.Comment{ID: len(f.comments[id]), Text: text}, nil
}

func (f *fakeClient) QueryWIQL(ctx context.Context, wiql string) (*ado.WIQLResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return &ado.WIQLResult{}, nil
}

func (f *fakeClient) QueryOData(ctx context.Context, query string) (*ado.ODataResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return &ado.ODataResult{}, nil
}

func (f *fakeClient) ValidateIterationPath(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if !f.validPaths[path] {
		return fmt.Errorf("iteration path does not exist")
	}
	return nil
}

func (f *fakeClient) GetChildIDs(ctx context.Context, id int) ([]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.children[id], nil
}

func (f *fakeClient) GetRelations(ctx context.Context, id int) ([]ado.Relation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if item, ok := f.items[id]; ok {
		return item.Relations, nil
	}
	return nil, nil
}

func (f *fakeClient) AddRelation(ctx context.Context, id int, relType, targetURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.failIDs[id]; err != nil {
		return err
	}
	item, ok := f.items[id]
	if !ok {
		item = &ado.WorkItem{ID: id, Fields: map[string]any{}}
		f.items[id] = item
	}
	item.Relations = append(item.Relations, ado.Relation{Rel: relType, URL: targetURL})
	return nil
}

func (f *fakeClient) WorkItemURL(id int) string {
	return fmt.Sprintf("https://dev.azure.com/org/proj/_apis/wit/workItems/%d", id)
}

func newTestEngine(t *testing.T) (*Engine, *fakeClient, *handles.Store) {
	t.Helper()
	client := newFakeClient()
	store := handles.NewStore()
	t.Cleanup(store.StopCleanup)
	return NewEngine(client, store, nil, nil, nil), client, store
}

func storeHandle(store *handles.Store, ids []int, ctxs map[int]handles.WorkItemContext) string {
	return store.StoreQuery(ids, "SELECT [System.Id] FROM WorkItems", nil, handles.DefaultTTL, ctxs, nil)
}

func sel(s handles.Selector) *handles.Selector { return &s }

func TestExecuteUnknownHandle(t *testing.T) {
	engine, client, _ := newTestEngine(t)

	result := engine.Execute(context.Background(), &Request{
		QueryHandle: "qh_ffffffff-1111-2222-3333-444444444444",
		Actions:     []Action{{Type: ActionComment, Comment: "x"}},
	})
	if result.Success {
		t.Fatal("expected failure")
	}
	if !strings.Contains(result.Errors[0], "not found or expired") {
		t.Errorf("unexpected error %q", result.Errors[0])
	}
	if !strings.Contains(result.Errors[0], "qh_ffffffff") {
		t.Errorf("expected handle prefix in error, got %q", result.Errors[0])
	}
	if client.callCount() != 0 {
		t.Errorf("expected no client calls, got %d", client.callCount())
	}
}

func TestExecuteExpiredHandle(t *testing.T) {
	engine, _, store := newTestEngine(t)
	handle := store.StoreQuery([]int{1}, "q", nil, -1, nil, nil)

	result := engine.Execute(context.Background(), &Request{
		QueryHandle: handle,
		Actions:     []Action{{Type: ActionComment, Comment: "x"}},
	})
	if result.Success || !strings.Contains(result.Errors[0], "not found or expired") {
		t.Fatalf("expected expiry failure, got %+v", result)
	}
}

func TestExecuteEmptySelection(t *testing.T) {
	engine, _, store := newTestEngine(t)
	handle := storeHandle(store, []int{1, 2}, map[int]handles.WorkItemContext{
		1: {State: "Active"}, 2: {State: "Active"},
	})

	result := engine.Execute(context.Background(), &Request{
		QueryHandle:  handle,
		ItemSelector: sel(handles.SelectCriteria(handles.Criteria{States: []string{"Closed"}})),
		Actions:      []Action{{Type: ActionComment, Comment: "x"}},
	})
	if result.Success {
		t.Fatal("expected failure")
	}
	if !strings.Contains(result.Errors[0], "No work items matched") {
		t.Errorf("unexpected error %q", result.Errors[0])
	}
}

func TestExecuteInvalidSelector(t *testing.T) {
	engine, _, store := newTestEngine(t)
	handle := storeHandle(store, []int{1}, nil)

	var invalid handles.Selector // zero value never matches a shape
	result := engine.Execute(context.Background(), &Request{
		QueryHandle:  handle,
		ItemSelector: &invalid,
		Actions:      []Action{{Type: ActionComment, Comment: "x"}},
	})
	if result.Success || !strings.Contains(result.Errors[0], "invalid item selector") {
		t.Fatalf("expected selector validation error, got %+v", result)
	}
}

func TestExecuteRejectsBadAction(t *testing.T) {
	engine, _, store := newTestEngine(t)
	handle := storeHandle(store, []int{1}, nil)

	result := engine.Execute(context.Background(), &Request{
		QueryHandle: handle,
		Actions:     []Action{{Type: "explode"}},
	})
	if result.Success || !strings.Contains(result.Errors[0], "unknown action type") {
		t.Fatalf("expected action validation error, got %+v", result)
	}
}

func TestDryRunPreviewTruncation(t *testing.T) {
	engine, client, store := newTestEngine(t)

	ids := make([]int, 20)
	ctxs := make(map[int]handles.WorkItemContext, 20)
	for i := range ids {
		ids[i] = 100 + i
		ctxs[100+i] = handles.WorkItemContext{Title: fmt.Sprintf("Item %d", i), State: "Active"}
	}
	handle := storeHandle(store, ids, ctxs)

	result := engine.Execute(context.Background(), &Request{
		QueryHandle:     handle,
		Actions:         []Action{{Type: ActionComment, Comment: "X"}},
		DryRun:          true,
		MaxPreviewItems: 5,
	})
	if !result.Success || !result.DryRun {
		t.Fatalf("expected dry-run success, got %+v", result)
	}
	if len(result.PreviewItems) != 5 {
		t.Errorf("expected 5 preview items, got %d", len(result.PreviewItems))
	}
	if result.SelectedItemsCount != 20 || result.TotalItemsInHandle != 20 {
		t.Errorf("unexpected counts: %d/%d", result.SelectedItemsCount, result.TotalItemsInHandle)
	}
	if result.PreviewMessage != "Showing 5 of 20 items..." {
		t.Errorf("unexpected preview message %q", result.PreviewMessage)
	}
	if client.callCount() != 0 {
		t.Errorf("dry run must not call the backend, got %d calls", client.callCount())
	}
}

func TestPreviewMessageAbsentWhenAllShown(t *testing.T) {
	engine, _, store := newTestEngine(t)
	handle := storeHandle(store, []int{1, 2, 3}, nil)

	result := engine.Execute(context.Background(), &Request{
		QueryHandle:     handle,
		Actions:         []Action{{Type: ActionComment, Comment: "X"}},
		DryRun:          true,
		MaxPreviewItems: 10,
	})
	if result.PreviewMessage != "" {
		t.Errorf("expected no preview message, got %q", result.PreviewMessage)
	}
	if len(result.PreviewItems) != 3 {
		t.Errorf("expected 3 preview items, got %d", len(result.PreviewItems))
	}
}

func TestPerActionPreviewDefaults(t *testing.T) {
	tests := []struct {
		actionType string
		want       int
	}{
		{ActionAssign, 5},
		{ActionRemove, 5},
		{ActionTransitionState, 5},
		{ActionMoveIteration, 5},
		{ActionComment, 10},
		{ActionUpdate, 10},
		{ActionAddTag, 10},
	}
	for _, tt := range tests {
		if got := defaultPreviewItems(tt.actionType); got != tt.want {
			t.Errorf("%s: expected default preview %d, got %d", tt.actionType, tt.want, got)
		}
	}
}

func TestCommentTemplateRendering(t *testing.T) {
	engine, client, store := newTestEngine(t)
	handle := storeHandle(store, []int{7}, map[int]handles.WorkItemContext{
		7: {Title: "Fix login", State: "Active", AssignedTo: "dana@example.com"},
	})

	result := engine.Execute(context.Background(), &Request{
		QueryHandle: handle,
		Actions:     []Action{{Type: ActionComment, Comment: "Item {id} ({title}) is {state}, owned by {assignedTo}"}},
	})
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	got := client.comments[7][0]
	want := "Item 7 (Fix login) is Active, owned by dana@example.com"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestPerItemErrorIsolation(t *testing.T) {
	engine, client, store := newTestEngine(t)
	handle := storeHandle(store, []int{1, 2, 3}, nil)
	client.failIDs[2] = fmt.Errorf("boom")

	result := engine.Execute(context.Background(), &Request{
		QueryHandle: handle,
		Actions:     []Action{{Type: ActionComment, Comment: "x"}},
	})
	if result.Success {
		t.Fatal("expected overall failure with one bad item")
	}
	ar := result.Actions[0]
	if len(ar.Succeeded) != 2 {
		t.Errorf("expected 2 successes, got %d", len(ar.Succeeded))
	}
	if len(ar.Failed) != 1 || ar.Failed[0].ID != 2 {
		t.Errorf("expected item 2 failed, got %+v", ar.Failed)
	}
	if len(client.comments[1]) != 1 || len(client.comments[3]) != 1 {
		t.Error("expected items 1 and 3 still commented")
	}
	if result.ActionsCompleted != 0 || result.ActionsFailed != 1 {
		t.Errorf("unexpected action counts: %d/%d", result.ActionsCompleted, result.ActionsFailed)
	}
}

func TestPartialFailureBulkAssign(t *testing.T) {
	engine, client, store := newTestEngine(t)
	handle := storeHandle(store, []int{101, 102}, nil)
	client.failIDs[102] = fmt.Errorf("backend said no")

	result := engine.Execute(context.Background(), &Request{
		QueryHandle: handle,
		Actions:     []Action{{Type: ActionAssign, AssignTo: "u@x"}},
	})
	if result.Success {
		t.Fatal("expected overall failure")
	}
	if result.ItemsSucceeded != 1 || result.ItemsFailed != 1 {
		t.Errorf("expected 1/1 counts, got %d/%d", result.ItemsSucceeded, result.ItemsFailed)
	}
	found := false
	for _, w := range result.Warnings {
		if strings.Contains(w, "1 item(s) failed") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected failure warning, got %v", result.Warnings)
	}
	// Failure must carry the per-item detail in errors, not only the
	// warning line.
	if len(result.Errors) == 0 {
		t.Fatal("expected per-item failure in errors")
	}
	if !strings.Contains(result.Errors[0], "102") || !strings.Contains(result.Errors[0], "backend said no") {
		t.Errorf("errors = %v, want item 102 with cause", result.Errors)
	}
	if len(client.patches[101]) != 1 {
		t.Error("expected item 101 still assigned")
	}
}

func TestStopOnErrorSkipsRemainingActions(t *testing.T) {
	engine, client, store := newTestEngine(t)
	handle := storeHandle(store, []int{1, 2}, nil)
	client.failIDs[1] = fmt.Errorf("boom")

	result := engine.Execute(context.Background(), &Request{
		QueryHandle: handle,
		StopOnError: true,
		Actions: []Action{
			{Type: ActionComment, Comment: "first"},
			{Type: ActionAssign, AssignTo: "dana@example.com"},
		},
	})
	if result.Success {
		t.Fatal("expected failure")
	}
	if len(result.Actions) != 2 {
		t.Fatalf("expected both actions reported, got %d", len(result.Actions))
	}
	second := result.Actions[1]
	if second.Executed {
		t.Error("expected second action not executed")
	}
	if !strings.Contains(second.NotExecuted, "not executed") {
		t.Errorf("expected not-executed reason, got %q", second.NotExecuted)
	}
	if len(client.patches[2]) != 0 {
		t.Error("expected no assignment patches after stop")
	}
}

func TestContinueAcrossActionsWithoutStopOnError(t *testing.T) {
	engine, client, store := newTestEngine(t)
	handle := storeHandle(store, []int{1}, nil)
	client.failIDs[1] = fmt.Errorf("boom")

	result := engine.Execute(context.Background(), &Request{
		QueryHandle: handle,
		Actions: []Action{
			{Type: ActionComment, Comment: "first"},
			{Type: ActionComment, Comment: "second"},
		},
	})
	if len(result.Actions) != 2 || !result.Actions[1].Executed {
		t.Fatalf("expected second action executed, got %+v", result.Actions)
	}
	if result.ActionsFailed != 2 {
		t.Errorf("expected 2 failed actions, got %d", result.ActionsFailed)
	}
}

func TestAssignWithComment(t *testing.T) {
	engine, client, store := newTestEngine(t)
	handle := storeHandle(store, []int{5}, nil)

	result := engine.Execute(context.Background(), &Request{
		QueryHandle: handle,
		Actions:     []Action{{Type: ActionAssign, AssignTo: "dana@example.com", Comment: "taking over"}},
	})
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	ops := client.patches[5][0]
	if ops[0].Path != "/fields/System.AssignedTo" || ops[0].Value != "dana@example.com" {
		t.Errorf("unexpected patch %+v", ops)
	}
	if len(client.comments[5]) != 1 || client.comments[5][0] != "taking over" {
		t.Errorf("expected comment, got %v", client.comments[5])
	}
}

func TestTransitionSkipsSameState(t *testing.T) {
	engine, client, store := newTestEngine(t)
	handle := storeHandle(store, []int{1, 2}, map[int]handles.WorkItemContext{
		1: {State: "Closed"},
		2: {State: "active"}, // case differs from target
	})

	result := engine.Execute(context.Background(), &Request{
		QueryHandle: handle,
		Actions:     []Action{{Type: ActionTransitionState, TargetState: "Active"}},
	})
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	ar := result.Actions[0]
	if len(ar.Succeeded) != 1 || ar.Succeeded[0].ID != 1 {
		t.Errorf("expected only item 1 transitioned, got %+v", ar.Succeeded)
	}
	if len(ar.Skipped) != 1 || ar.Skipped[0].ID != 2 {
		t.Errorf("expected item 2 skipped, got %+v", ar.Skipped)
	}
	if len(result.Warnings) != 1 || !strings.Contains(result.Warnings[0], "already in state") {
		t.Errorf("expected same-state warning, got %v", result.Warnings)
	}
	if len(client.patches[2]) != 0 {
		t.Error("expected no patch for same-state item")
	}
}

func TestTransitionFromRemovedWarns(t *testing.T) {
	engine, _, store := newTestEngine(t)
	handle := storeHandle(store, []int{1}, map[int]handles.WorkItemContext{
		1: {State: "Removed"},
	})

	result := engine.Execute(context.Background(), &Request{
		QueryHandle: handle,
		Actions:     []Action{{Type: ActionTransitionState, TargetState: "Active"}},
	})
	if !result.Success {
		t.Fatalf("expected success (backend decides), got %+v", result)
	}
	if len(result.Warnings) != 1 || !strings.Contains(result.Warnings[0], "may be rejected") {
		t.Errorf("expected removed-state warning, got %v", result.Warnings)
	}
}

func TestRemoveCommentsThenTransitions(t *testing.T) {
	engine, client, store := newTestEngine(t)
	handle := storeHandle(store, []int{9}, map[int]handles.WorkItemContext{
		9: {State: "Active"},
	})

	result := engine.Execute(context.Background(), &Request{
		QueryHandle: handle,
		Actions:     []Action{{Type: ActionRemove, RemoveReason: "duplicate of 42"}},
	})
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if len(client.comments[9]) != 1 || client.comments[9][0] != "duplicate of 42" {
		t.Errorf("expected reason comment first, got %v", client.comments[9])
	}
	ops := client.patches[9][0]
	if ops[0].Path != "/fields/System.State" || ops[0].Value != "Removed" {
		t.Errorf("expected Removed transition, got %+v", ops)
	}
}

func TestRemoveSkipsAlreadyRemoved(t *testing.T) {
	engine, client, store := newTestEngine(t)
	handle := storeHandle(store, []int{9}, map[int]handles.WorkItemContext{
		9: {State: "Removed"},
	})

	result := engine.Execute(context.Background(), &Request{
		QueryHandle: handle,
		Actions:     []Action{{Type: ActionRemove, RemoveReason: "dup"}},
	})
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if len(result.Actions[0].Skipped) != 1 {
		t.Errorf("expected skip, got %+v", result.Actions[0])
	}
	if client.callCount() != 0 {
		t.Errorf("expected no backend calls, got %d", client.callCount())
	}
}

func TestMoveIterationValidatesPathFirst(t *testing.T) {
	engine, client, store := newTestEngine(t)
	handle := storeHandle(store, []int{1, 2}, nil)

	result := engine.Execute(context.Background(), &Request{
		QueryHandle: handle,
		Actions:     []Action{{Type: ActionMoveIteration, TargetIterationPath: "Proj\\Sprint 99"}},
	})
	if result.Success {
		t.Fatal("expected failure for unknown path")
	}
	if !strings.Contains(result.Errors[0], "Sprint 99") {
		t.Errorf("expected path named in error, got %q", result.Errors[0])
	}
	if len(client.patches[1]) != 0 || len(client.patches[2]) != 0 {
		t.Error("expected no mutations after failed validation")
	}
}

func TestMoveIterationWithChildren(t *testing.T) {
	engine, client, store := newTestEngine(t)
	client.validPaths["Proj\\Sprint 2"] = true
	client.children[1] = []int{11, 12}
	handle := storeHandle(store, []int{1}, nil)

	result := engine.Execute(context.Background(), &Request{
		QueryHandle: handle,
		Actions: []Action{{
			Type:                ActionMoveIteration,
			TargetIterationPath: "Proj\\Sprint 2",
			UpdateChildItems:    true,
		}},
	})
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	for _, id := range []int{1, 11, 12} {
		if len(client.patches[id]) != 1 {
			t.Errorf("expected iteration patch for %d", id)
			continue
		}
		op := client.patches[id][0][0]
		if op.Path != "/fields/System.IterationPath" || op.Value != "Proj\\Sprint 2" {
			t.Errorf("item %d: unexpected op %+v", id, op)
		}
	}
	if !strings.Contains(result.Actions[0].Succeeded[0].Result, "2 child item(s)") {
		t.Errorf("expected child count in result, got %q", result.Actions[0].Succeeded[0].Result)
	}
}
