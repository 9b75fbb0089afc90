// Package handles implements the query handle store: opaque, time-limited
// references to materialized work-item result sets.
//
// Every bulk and analysis flow operates on a handle instead of shipping id
// lists back and forth through the peer. A handle names an immutable record;
// once expired it returns nil for every read.
package handles

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL is the handle lifetime when the caller does not specify one.
const DefaultTTL = time.Hour

// sweepInterval is the cadence of the background expiry sweep.
const sweepInterval = 60 * time.Second

// WorkItemContext carries per-item display and selection attributes captured
// when the handle was populated. Read-only thereafter.
type WorkItemContext struct {
	Title         string     `json:"title"`
	State         string     `json:"state"`
	Type          string     `json:"type"`
	AssignedTo    string     `json:"assignedTo,omitempty"`
	Tags          []string   `json:"tags,omitempty"`
	DaysInactive  *float64   `json:"daysInactive,omitempty"`
	IterationPath string     `json:"iterationPath,omitempty"`
	ChangedDate   *time.Time `json:"changedDate,omitempty"`
}

// QueryData is the record named by a handle.
type QueryData struct {
	WorkItemIDs      []int                   `json:"workItemIds"`
	SourceQuery      string                  `json:"sourceQuery"`
	QueryMetadata    map[string]any          `json:"queryMetadata,omitempty"`
	WorkItemContext  map[int]WorkItemContext `json:"workItemContext,omitempty"`
	AnalysisMetadata map[string]any          `json:"analysisMetadata,omitempty"`
	CreatedAt        time.Time               `json:"createdAt"`
	ExpiresAt        time.Time               `json:"expiresAt"`
}

// Store maps opaque handle strings to query data with TTL expiry.
// All methods are safe for concurrent use; no method blocks on I/O.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*QueryData

	stopOnce sync.Once
	stopCh   chan struct{}

	// now is replaceable in tests.
	now func() time.Time
}

// NewStore creates a store and starts the background expiry sweep.
func NewStore() *Store {
	s := &Store{
		entries: make(map[string]*QueryData),
		stopCh:  make(chan struct{}),
		now:     time.Now,
	}
	go s.sweepLoop()
	return s
}

// StoreQuery materializes a result set under a fresh handle.
// Callers choose the lifetime explicitly; DefaultTTL is the usual value.
// A zero ttl expires on the very next read, a negative ttl creates an
// already-expired handle (useful to force expiry in tests).
func (s *Store) StoreQuery(ids []int, sourceQuery string, meta map[string]any, ttl time.Duration, itemContext map[int]WorkItemContext, analysisMeta map[string]any) string {
	handle := "qh_" + uuid.NewString()
	now := s.now()

	// Copy ids so the caller cannot mutate the stored record.
	stored := make([]int, len(ids))
	copy(stored, ids)

	s.mu.Lock()
	s.entries[handle] = &QueryData{
		WorkItemIDs:      stored,
		SourceQuery:      sourceQuery,
		QueryMetadata:    meta,
		WorkItemContext:  itemContext,
		AnalysisMetadata: analysisMeta,
		CreatedAt:        now,
		ExpiresAt:        now.Add(ttl),
	}
	s.mu.Unlock()

	return handle
}

// GetQueryData returns the record for a handle, or nil when the handle is
// unknown or expired.
func (s *Store) GetQueryData(handle string) *QueryData {
	now := s.now()

	s.mu.RLock()
	data, ok := s.entries[handle]
	s.mu.RUnlock()

	if !ok || !now.Before(data.ExpiresAt) {
		return nil
	}
	return data
}

// GetItemsByIndices resolves an index list against a handle.
// Negative and out-of-range indices are silently dropped; duplicates are
// preserved in input order. Returns nil (not empty) for an unknown or
// expired handle.
func (s *Store) GetItemsByIndices(handle string, indices []int) []int {
	data := s.GetQueryData(handle)
	if data == nil {
		return nil
	}

	result := make([]int, 0, len(indices))
	for _, idx := range indices {
		if idx < 0 || idx >= len(data.WorkItemIDs) {
			continue
		}
		result = append(result, data.WorkItemIDs[idx])
	}
	return result
}

// Criteria is the predicate shape of the criteria selector. All provided
// fields are ANDed; a missing field passes. Membership within States, Tags,
// and TitleContains is OR, case-insensitive.
type Criteria struct {
	States          []string `json:"states,omitempty"`
	Tags            []string `json:"tags,omitempty"`
	TitleContains   []string `json:"titleContains,omitempty"`
	DaysInactiveMin *float64 `json:"daysInactiveMin,omitempty"`
	DaysInactiveMax *float64 `json:"daysInactiveMax,omitempty"`
}

// GetItemsByCriteria filters a handle's items by predicate.
// Items lacking an attribute required by a provided predicate field do not
// match. An empty criteria matches every item. Returns nil for an unknown
// or expired handle.
func (s *Store) GetItemsByCriteria(handle string, criteria Criteria) []int {
	data := s.GetQueryData(handle)
	if data == nil {
		return nil
	}

	result := make([]int, 0, len(data.WorkItemIDs))
	for _, id := range data.WorkItemIDs {
		ctx, hasCtx := data.WorkItemContext[id]
		if matchesCriteria(criteria, ctx, hasCtx) {
			result = append(result, id)
		}
	}
	return result
}

func matchesCriteria(c Criteria, ctx WorkItemContext, hasCtx bool) bool {
	if len(c.States) > 0 {
		if !hasCtx || !containsFold(c.States, ctx.State) {
			return false
		}
	}
	if len(c.Tags) > 0 {
		if !hasCtx || len(ctx.Tags) == 0 {
			return false
		}
		found := false
		for _, want := range c.Tags {
			if containsFold(ctx.Tags, want) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(c.TitleContains) > 0 {
		if !hasCtx || ctx.Title == "" {
			return false
		}
		title := strings.ToLower(ctx.Title)
		found := false
		for _, sub := range c.TitleContains {
			if strings.Contains(title, strings.ToLower(sub)) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if c.DaysInactiveMin != nil {
		if !hasCtx || ctx.DaysInactive == nil || *ctx.DaysInactive < *c.DaysInactiveMin {
			return false
		}
	}
	if c.DaysInactiveMax != nil {
		if !hasCtx || ctx.DaysInactive == nil || *ctx.DaysInactive > *c.DaysInactiveMax {
			return false
		}
	}
	return true
}

func containsFold(haystack []string, needle string) bool {
	for _, s := range haystack {
		if strings.EqualFold(s, needle) {
			return true
		}
	}
	return false
}

// Count returns the number of live (unexpired) handles.
func (s *Store) Count() int {
	now := s.now()
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, data := range s.entries {
		if now.Before(data.ExpiresAt) {
			n++
		}
	}
	return n
}

// ClearAll drops every handle.
func (s *Store) ClearAll() {
	s.mu.Lock()
	s.entries = make(map[string]*QueryData)
	s.mu.Unlock()
}

// StopCleanup stops the background expiry sweep. Safe to call more than once.
func (s *Store) StopCleanup() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *Store) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// sweep releases expired entries so they are not pinned until next read.
func (s *Store) sweep() {
	now := s.now()
	s.mu.Lock()
	for handle, data := range s.entries {
		if !now.Before(data.ExpiresAt) {
			delete(s.entries, handle)
		}
	}
	s.mu.Unlock()
}
