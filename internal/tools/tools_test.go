package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/crestline/adowork/internal/ado"
	"github.com/crestline/adowork/internal/bulk"
	"github.com/crestline/adowork/internal/handles"
	"github.com/crestline/adowork/internal/mcp"
	"github.com/crestline/adowork/internal/metrics"
	"github.com/crestline/adowork/internal/sampling"
)

// fakeClient is an in-memory ado.Client for handler tests.
type fakeClient struct {
	mu         sync.Mutex
	items      map[int]*ado.WorkItem
	comments   map[int][]string
	wiqlResult *ado.WIQLResult
	wiqlErr    error
	odata      *ado.ODataResult
	failIDs    map[int]error
	calls      int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		items:    make(map[int]*ado.WorkItem),
		comments: make(map[int][]string),
		failIDs:  make(map[int]error),
	}
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
	if f.wiqlErr != nil {
		return nil, f.wiqlErr
	}
	if f.wiqlResult != nil {
		return f.wiqlResult, nil
	}
	return &ado.WIQLResult{QueryType: "flat"}, nil
}

func (f *fakeClient) QueryOData(ctx context.Context, query string) (*ado.ODataResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.odata != nil {
		return f.odata, nil
	}
	return &ado.ODataResult{}, nil
}

func (f *fakeClient) ValidateIterationPath(ctx context.Context, path string) error { return nil }

func (f *fakeClient) GetChildIDs(ctx context.Context, id int) ([]int, error) { return nil, nil }

func (f *fakeClient) GetRelations(ctx context.Context, id int) ([]ado.Relation, error) {
	return nil, nil
}

func (f *fakeClient) AddRelation(ctx context.Context, id int, relType, targetURL string) error {
	return nil
}

func (f *fakeClient) WorkItemURL(id int) string {
	return fmt.Sprintf("https://dev.azure.com/org/proj/_apis/wit/workItems/%d", id)
}

// fakeSampler is a canned sampling.Client.
type fakeSampler struct {
	available bool
	text      string
	model     string
	err       error
	lastMsg   string
}

func (f *fakeSampler) Available() bool { return f.available }

func (f *fakeSampler) CreateMessage(ctx context.Context, system string, messages []sampling.Message, maxTokens int) (*sampling.Response, error) {
	if !f.available {
		return nil, sampling.ErrUnavailable
	}
	if len(messages) > 0 {
		f.lastMsg = messages[len(messages)-1].Text
	}
	if f.err != nil {
		return nil, f.err
	}
	return &sampling.Response{Text: f.text, Model: f.model}, nil
}

func newTestDeps(t *testing.T, client *fakeClient) Deps {
	t.Helper()
	store := handles.NewStore()
	t.Cleanup(store.StopCleanup)
	registry := metrics.NewRegistry()
	return Deps{
		Client:   client,
		Store:    store,
		Engine:   bulk.NewEngine(client, store, nil, registry, nil),
		Registry: registry,
		Prompts:  mcp.NewPromptCatalog(),
	}
}

func callHandler(t *testing.T, h mcp.ToolHandler, args any) *mcp.Envelope {
	t.Helper()
	raw, err := json.Marshal(args)
	if err != nil {
		t.Fatalf("marshal args: %v", err)
	}
	env := h(context.Background(), raw)
	if env == nil {
		t.Fatal("handler returned nil envelope")
	}
	return env
}

func dataMap(t *testing.T, env *mcp.Envelope) map[string]any {
	t.Helper()
	raw, err := json.Marshal(env.Data)
	if err != nil {
		t.Fatalf("marshal data: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
	return m
}

func storeItems(t *testing.T, deps Deps, ids []int, ctxs map[int]handles.WorkItemContext) string {
	t.Helper()
	return deps.Store.StoreQuery(ids, "SELECT [System.Id] FROM WorkItems", nil, handles.DefaultTTL, ctxs, nil)
}

func TestWiqlQueryStoresHandle(t *testing.T) {
	client := newFakeClient()
	client.wiqlResult = &ado.WIQLResult{
		QueryType: "flat",
		WorkItems: []ado.WorkItemReference{{ID: 101}, {ID: 102}},
	}
	client.items[101] = &ado.WorkItem{ID: 101, Fields: map[string]any{
		ado.FieldTitle:        "Fix login crash",
		ado.FieldState:        "Active",
		ado.FieldWorkItemType: "Bug",
		ado.FieldAssignedTo:   map[string]any{"uniqueName": "dev@example.com"},
		ado.FieldTags:         "auth; crash",
	}}
	deps := newTestDeps(t, client)

	env := callHandler(t, wiqlQueryHandler(deps), wiqlQueryArgs{WiqlQuery: "SELECT [System.Id] FROM WorkItems"})
	if !env.Success {
		t.Fatalf("expected success, errors: %v", env.Errors)
	}
	data := dataMap(t, env)
	handle, _ := data["query_handle"].(string)
	if !strings.HasPrefix(handle, "qh_") {
		t.Fatalf("handle = %q, want qh_ prefix", handle)
	}
	if got := data["work_item_count"].(float64); got != 2 {
		t.Fatalf("work_item_count = %v, want 2", got)
	}

	// Stored context must support criteria selection.
	sel := handles.SelectCriteria(handles.Criteria{States: []string{"Active"}})
	selected := deps.Store.ResolveItemSelector(handle, sel)
	if len(selected) != 1 || selected[0] != 101 {
		t.Fatalf("criteria selection = %v, want [101]", selected)
	}
}

func TestWiqlQueryTruncatesResults(t *testing.T) {
	refs := make([]ado.WorkItemReference, 10)
	for i := range refs {
		refs[i] = ado.WorkItemReference{ID: i + 1}
	}
	client := newFakeClient()
	client.wiqlResult = &ado.WIQLResult{QueryType: "flat", WorkItems: refs}
	deps := newTestDeps(t, client)

	env := callHandler(t, wiqlQueryHandler(deps), wiqlQueryArgs{WiqlQuery: "q", MaxResults: 3})
	data := dataMap(t, env)
	if got := data["work_item_count"].(float64); got != 3 {
		t.Fatalf("work_item_count = %v, want 3", got)
	}
	found := false
	for _, w := range env.Warnings {
		if strings.Contains(w, "truncated") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected truncation warning, got %v", env.Warnings)
	}
}

func TestWiqlQueryBackendError(t *testing.T) {
	client := newFakeClient()
	client.wiqlErr = fmt.Errorf("VS402337: invalid query")
	deps := newTestDeps(t, client)

	env := callHandler(t, wiqlQueryHandler(deps), wiqlQueryArgs{WiqlQuery: "bad"})
	if env.Success {
		t.Fatal("expected failure envelope")
	}
	if len(env.Errors) == 0 || !strings.Contains(env.Errors[0], "VS402337") {
		t.Fatalf("errors = %v, want backend message surfaced", env.Errors)
	}
}

func TestODataQuery(t *testing.T) {
	client := newFakeClient()
	client.odata = &ado.ODataResult{
		Count: 2,
		Value: []json.RawMessage{
			json.RawMessage(`{"State":"Active","Count":12}`),
			json.RawMessage(`{"State":"Closed","Count":40}`),
		},
	}
	deps := newTestDeps(t, client)

	env := callHandler(t, odataQueryHandler(deps), odataQueryArgs{Query: "WorkItems?$apply=groupby((State))"})
	if !env.Success {
		t.Fatalf("expected success, errors: %v", env.Errors)
	}
	data := dataMap(t, env)
	if got := data["count"].(float64); got != 2 {
		t.Fatalf("count = %v, want 2", got)
	}
}

func TestInspectHandle(t *testing.T) {
	deps := newTestDeps(t, newFakeClient())
	handle := storeItems(t, deps, []int{1, 2, 3}, nil)

	env := callHandler(t, inspectHandleHandler(deps), inspectHandleArgs{QueryHandle: handle})
	if !env.Success {
		t.Fatalf("expected success, errors: %v", env.Errors)
	}
	data := dataMap(t, env)
	if got := data["work_item_count"].(float64); got != 3 {
		t.Fatalf("work_item_count = %v, want 3", got)
	}
	if data["source_query"] == "" {
		t.Fatal("source_query missing")
	}
}

func TestInspectHandleUnknown(t *testing.T) {
	deps := newTestDeps(t, newFakeClient())

	env := callHandler(t, inspectHandleHandler(deps), inspectHandleArgs{QueryHandle: "qh_missing"})
	if env.Success {
		t.Fatal("expected failure envelope")
	}
	if !strings.Contains(env.Errors[0], "Query handle not found or expired") {
		t.Fatalf("errors = %v", env.Errors)
	}
}

func TestSelectItemsPreviewTruncation(t *testing.T) {
	deps := newTestDeps(t, newFakeClient())
	ids := make([]int, 25)
	for i := range ids {
		ids[i] = i + 1
	}
	handle := storeItems(t, deps, ids, nil)

	env := callHandler(t, selectItemsHandler(deps), selectItemsArgs{QueryHandle: handle, PreviewCount: 10})
	if !env.Success {
		t.Fatalf("expected success, errors: %v", env.Errors)
	}
	data := dataMap(t, env)
	if got := data["selected_count"].(float64); got != 25 {
		t.Fatalf("selected_count = %v, want 25", got)
	}
	if len(env.Warnings) != 1 || env.Warnings[0] != "Showing 10 of 25 items..." {
		t.Fatalf("warnings = %v", env.Warnings)
	}
}

func TestSelectItemsByIndices(t *testing.T) {
	deps := newTestDeps(t, newFakeClient())
	handle := storeItems(t, deps, []int{10, 20, 30}, nil)

	raw := []byte(fmt.Sprintf(`{"queryHandle":%q,"itemSelector":[0,2]}`, handle))
	env := selectItemsHandler(deps)(context.Background(), raw)
	if !env.Success {
		t.Fatalf("expected success, errors: %v", env.Errors)
	}
	data := dataMap(t, env)
	if got := data["selected_count"].(float64); got != 2 {
		t.Fatalf("selected_count = %v, want 2", got)
	}
}

func TestAnalyzeItemsWithoutSampling(t *testing.T) {
	deps := newTestDeps(t, newFakeClient())
	deps.Sampling = &fakeSampler{available: false}
	handle := storeItems(t, deps, []int{1}, nil)

	env := callHandler(t, analyzeItemsHandler(deps), analyzeItemsArgs{QueryHandle: handle})
	if env.Success {
		t.Fatal("expected failure envelope")
	}
	want := "sampling unavailable: the connected host does not support sampling/createMessage"
	if env.Errors[0] != want {
		t.Fatalf("errors = %v, want %q", env.Errors, want)
	}
}

func TestAnalyzeItems(t *testing.T) {
	deps := newTestDeps(t, newFakeClient())
	sampler := &fakeSampler{available: true, text: "Two stale bugs need owners.", model: "test-model"}
	deps.Sampling = sampler
	stale := 14.0
	handle := storeItems(t, deps, []int{1, 2}, map[int]handles.WorkItemContext{
		1: {Title: "Crash on save", State: "Active", Type: "Bug", DaysInactive: &stale},
		2: {Title: "Slow search", State: "New", Type: "Bug", AssignedTo: "dev@example.com"},
	})

	env := callHandler(t, analyzeItemsHandler(deps), analyzeItemsArgs{QueryHandle: handle, Question: "What needs attention?"})
	if !env.Success {
		t.Fatalf("expected success, errors: %v", env.Errors)
	}
	data := dataMap(t, env)
	if data["analysis"] != "Two stale bugs need owners." {
		t.Fatalf("analysis = %v", data["analysis"])
	}
	if data["model"] != "test-model" {
		t.Fatalf("model = %v", data["model"])
	}
	if got := data["items_analyzed"].(float64); got != 2 {
		t.Fatalf("items_analyzed = %v, want 2", got)
	}
	if !strings.Contains(sampler.lastMsg, "Crash on save") {
		t.Fatalf("digest missing item titles: %q", sampler.lastMsg)
	}
	stats := data["statistics"].(map[string]any)
	if got := stats["unassigned"].(float64); got != 1 {
		t.Fatalf("unassigned = %v, want 1", got)
	}
}

func TestGetMetricsReset(t *testing.T) {
	deps := newTestDeps(t, newFakeClient())
	deps.Registry.IncrementCounter("tool_invocations", 1, map[string]string{"tool": "x"})

	env := callHandler(t, getMetricsHandler(deps), getMetricsArgs{Reset: true})
	if !env.Success {
		t.Fatalf("expected success, errors: %v", env.Errors)
	}
	if len(env.Warnings) != 1 || !strings.Contains(env.Warnings[0], "reset") {
		t.Fatalf("warnings = %v", env.Warnings)
	}
	if len(deps.Registry.Snapshot().Counters) != 0 {
		t.Fatal("registry not reset")
	}
}

func TestGetPromptsFilter(t *testing.T) {
	deps := newTestDeps(t, newFakeClient())

	env := callHandler(t, getPromptsHandler(deps), getPromptsArgs{PromptName: "no-such-prompt"})
	if env.Success {
		t.Fatal("expected failure envelope")
	}
	if !strings.Contains(env.Errors[0], "Prompt not found") {
		t.Fatalf("errors = %v", env.Errors)
	}
}

func TestGetPromptsRendered(t *testing.T) {
	deps := newTestDeps(t, newFakeClient())

	env := callHandler(t, getPromptsHandler(deps), getPromptsArgs{
		PromptName:     "triage-stale-items",
		IncludeContent: true,
		Args:           map[string]string{"days": "30"},
	})
	if !env.Success {
		t.Fatalf("expected success, errors: %v", env.Errors)
	}
	data := dataMap(t, env)
	content := data["content"].(map[string]any)
	body, _ := content["triage-stale-items"].(string)
	if !strings.Contains(body, "30") {
		t.Fatalf("rendered prompt missing arg value: %q", body)
	}
}

func bulkHandler(t *testing.T, deps Deps, name string) mcp.ToolHandler {
	t.Helper()
	for _, def := range bulkToolDefs(deps) {
		if def.tool.Name == name {
			return def.handler
		}
	}
	t.Fatalf("no bulk tool named %s", name)
	return nil
}

func TestBulkToolNamesAndTimeouts(t *testing.T) {
	deps := newTestDeps(t, newFakeClient())
	defs := bulkToolDefs(deps)
	want := []string{
		"bulk-comment", "bulk-assign", "bulk-update", "bulk-remove",
		"bulk-transition-state", "bulk-move-iteration", "bulk-add-tags", "bulk-remove-tags",
	}
	if len(defs) != len(want) {
		t.Fatalf("got %d bulk tools, want %d", len(defs), len(want))
	}
	for i, def := range defs {
		if def.tool.Name != want[i] {
			t.Fatalf("defs[%d] = %s, want %s", i, def.tool.Name, want[i])
		}
		if !def.long {
			t.Fatalf("%s should carry the long timeout", def.tool.Name)
		}
	}
}

func TestBulkCommentTool(t *testing.T) {
	client := newFakeClient()
	deps := newTestDeps(t, client)
	handle := storeItems(t, deps, []int{7, 8}, nil)

	env := callHandler(t, bulkHandler(t, deps, "bulk-comment"), map[string]any{
		"queryHandle": handle,
		"comment":     "sweeping stale items",
	})
	if !env.Success {
		t.Fatalf("expected success, errors: %v", env.Errors)
	}
	if len(client.comments[7]) != 1 || len(client.comments[8]) != 1 {
		t.Fatalf("comments = %v", client.comments)
	}
}

func TestBulkAssignPartialFailure(t *testing.T) {
	client := newFakeClient()
	client.failIDs[2] = fmt.Errorf("TF401349: access denied")
	deps := newTestDeps(t, client)
	handle := storeItems(t, deps, []int{1, 2}, nil)

	env := callHandler(t, bulkHandler(t, deps, "bulk-assign"), map[string]any{
		"queryHandle": handle,
		"assignTo":    "dev@example.com",
	})
	if env.Success {
		t.Fatal("partial failure must yield a failed envelope")
	}
	data := dataMap(t, env)
	if got := data["successful"].(float64); got != 1 {
		t.Fatalf("successful = %v, want 1", got)
	}
	if got := data["failed"].(float64); got != 1 {
		t.Fatalf("failed = %v, want 1", got)
	}
	joined := strings.Join(env.Warnings, " ")
	if !strings.Contains(joined, "1 item(s) failed") {
		t.Fatalf("warnings = %v", env.Warnings)
	}
	// A failed envelope must never carry an empty errors list.
	if len(env.Errors) == 0 {
		t.Fatal("failed envelope has no errors")
	}
	if !strings.Contains(env.Errors[0], "TF401349") {
		t.Fatalf("errors = %v, want backend cause surfaced", env.Errors)
	}
}

func TestBulkToolDryRunMakesNoCalls(t *testing.T) {
	client := newFakeClient()
	deps := newTestDeps(t, client)
	handle := storeItems(t, deps, []int{1, 2, 3}, nil)

	env := callHandler(t, bulkHandler(t, deps, "bulk-transition-state"), map[string]any{
		"queryHandle": handle,
		"targetState": "Closed",
		"dryRun":      true,
	})
	if !env.Success {
		t.Fatalf("expected success, errors: %v", env.Errors)
	}
	if client.calls != 0 {
		t.Fatalf("dry run made %d backend calls", client.calls)
	}
	data := dataMap(t, env)
	if data["dry_run"] != true {
		t.Fatalf("dry_run flag missing: %v", data)
	}
}

func TestBulkToolUnknownHandle(t *testing.T) {
	deps := newTestDeps(t, newFakeClient())

	env := callHandler(t, bulkHandler(t, deps, "bulk-add-tags"), map[string]any{
		"queryHandle": "qh_0000-dead",
		"tags":        "stale",
	})
	if env.Success {
		t.Fatal("expected failure envelope")
	}
	if !strings.Contains(env.Errors[0], "Query handle not found or expired") {
		t.Fatalf("errors = %v", env.Errors)
	}
}

func TestLinkWorkItemsDryRun(t *testing.T) {
	client := newFakeClient()
	deps := newTestDeps(t, client)
	src := storeItems(t, deps, []int{1}, nil)
	dst := storeItems(t, deps, []int{2}, nil)

	env := callHandler(t, linkWorkItemsHandler(deps), linkWorkItemsArgs{
		SourceQueryHandle: src,
		TargetQueryHandle: dst,
		LinkType:          "Related",
		LinkStrategy:      "one-to-one",
		DryRun:            true,
	})
	if !env.Success {
		t.Fatalf("expected success, errors: %v", env.Errors)
	}
	data := dataMap(t, env)
	if got := data["pair_count"].(float64); got != 1 {
		t.Fatalf("pair_count = %v, want 1", got)
	}
	if client.calls != 0 {
		t.Fatalf("dry run made %d backend calls", client.calls)
	}
}

func TestRegisterAll(t *testing.T) {
	deps := newTestDeps(t, newFakeClient())
	deps.Sampling = &fakeSampler{}
	srv := newIdleServer(t)

	requiresSampling, err := RegisterAll(srv, deps)
	if err != nil {
		t.Fatalf("RegisterAll: %v", err)
	}
	if !requiresSampling["analyze-items"] {
		t.Fatalf("requiresSampling = %v, want analyze-items flagged", requiresSampling)
	}
	tools := srv.Tools()
	if len(tools) != 16 {
		t.Fatalf("registered %d tools, want 16", len(tools))
	}
	seen := map[string]bool{}
	for _, tool := range tools {
		if seen[tool.Name] {
			t.Fatalf("duplicate tool %s", tool.Name)
		}
		seen[tool.Name] = true
		if len(tool.InputSchema) == 0 {
			t.Fatalf("%s has no input schema", tool.Name)
		}
	}
}

// newIdleServer builds a server whose transport is never started;
// registration does not need a live stream.
func newIdleServer(t *testing.T) *mcp.Server {
	t.Helper()
	tr := mcp.NewFramedTransport(strings.NewReader(""), &strings.Builder{}, mcp.TransportOptions{ForceNewline: true})
	return mcp.NewServer(tr, mcp.ServerOptions{Name: "test", Version: "0.0.0"})
}
