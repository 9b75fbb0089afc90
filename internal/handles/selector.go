package handles

import (
	"encoding/json"
)

// Selector is the item selector sum type: the string "all", a list of
// non-negative indices, or a criteria predicate object.
type Selector struct {
	kind     selectorKind
	indices  []int
	criteria Criteria
}

type selectorKind int

const (
	selectorInvalid selectorKind = iota
	selectorAll
	selectorIndices
	selectorCriteria
)

// SelectAll is the selector matching every item in stored order.
func SelectAll() Selector {
	return Selector{kind: selectorAll}
}

// SelectIndices builds an index-list selector.
func SelectIndices(indices []int) Selector {
	return Selector{kind: selectorIndices, indices: indices}
}

// SelectCriteria builds a criteria selector.
func SelectCriteria(c Criteria) Selector {
	return Selector{kind: selectorCriteria, criteria: c}
}

// Valid reports whether the selector parsed as one of the three shapes.
func (s Selector) Valid() bool {
	return s.kind != selectorInvalid
}

// UnmarshalJSON accepts "all", an integer array, or a criteria object.
// Any other shape (null, a number, another string) leaves the selector
// invalid without returning an error; resolution then yields nil.
func (s *Selector) UnmarshalJSON(data []byte) error {
	s.kind = selectorInvalid

	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		if str == "all" {
			s.kind = selectorAll
		}
		return nil
	}

	var indices []int
	if err := json.Unmarshal(data, &indices); err == nil {
		s.kind = selectorIndices
		s.indices = indices
		return nil
	}

	var criteria Criteria
	if err := json.Unmarshal(data, &criteria); err == nil {
		// Reject non-objects that also fail the shapes above.
		var probe map[string]json.RawMessage
		if json.Unmarshal(data, &probe) == nil {
			s.kind = selectorCriteria
			s.criteria = criteria
		}
	}
	return nil
}

// MarshalJSON emits the wire shape of the selector.
func (s Selector) MarshalJSON() ([]byte, error) {
	switch s.kind {
	case selectorAll:
		return json.Marshal("all")
	case selectorIndices:
		return json.Marshal(s.indices)
	case selectorCriteria:
		return json.Marshal(s.criteria)
	default:
		return []byte("null"), nil
	}
}

// ResolveItemSelector resolves a selector against a handle.
// Returns nil for an unknown or expired handle regardless of selector shape,
// and nil for an invalid selector shape. An empty selection is a non-nil
// empty slice.
func (s *Store) ResolveItemSelector(handle string, selector Selector) []int {
	data := s.GetQueryData(handle)
	if data == nil {
		return nil
	}

	switch selector.kind {
	case selectorAll:
		result := make([]int, len(data.WorkItemIDs))
		copy(result, data.WorkItemIDs)
		return result
	case selectorIndices:
		return s.GetItemsByIndices(handle, selector.indices)
	case selectorCriteria:
		return s.GetItemsByCriteria(handle, selector.criteria)
	default:
		return nil
	}
}
