package localstore

// FilterOp is a comparison or membership operator a Filter applies to one
// field.
type FilterOp uint8

const (
	FilterEqual FilterOp = iota
	FilterNotEqual
	FilterLessThan
	FilterLessThanOrEqual
	FilterGreaterThan
	FilterGreaterThanOrEqual
	FilterArrayContains
	FilterIn
	FilterArrayContainsAny
)

// Filter is one field-level predicate of a Query.
type Filter struct {
	Field string
	Op    FilterOp
	Value any
}

// SortDirection orders an OrderBy clause.
type SortDirection uint8

const (
	Ascending SortDirection = iota
	Descending
)

// OrderBy is one field-level sort clause of a Query.
type OrderBy struct {
	Field     string
	Direction SortDirection
}

// Query names a server-side listen target: a collection (or collection
// group), a set of filters, an ordering, and an optional result-count cap.
// Two Query values with equal fields are the same logical target and share
// one TargetData.
type Query struct {
	Path            string
	CollectionGroup bool
	Filters         []Filter
	OrderBy         []OrderBy
	Limit           int
}

// MatchesCollection reports whether collectionPath falls under the query's
// scope: direct child of Path, or (when CollectionGroup) any descendant
// collection named by the last segment of Path.
func (q Query) MatchesCollection(collectionPath string) bool {
	if q.CollectionGroup {
		return collectionGroupID(collectionPath) == collectionGroupID(q.Path)
	}

	return collectionPath == q.Path
}

func collectionGroupID(collectionPath string) string {
	idx := lastSlash(collectionPath)
	if idx < 0 {
		return collectionPath
	}

	return collectionPath[idx+1:]
}

func lastSlash(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			return i
		}
	}

	return -1
}

// Matches reports whether doc satisfies every filter in q. Ordering and
// limit are applied by the QueryEngine after candidate collection, not here.
func (q Query) Matches(doc MaybeDocument) bool {
	if !doc.IsDocument() {
		return false
	}

	for _, f := range q.Filters {
		v, ok := doc.Field(f.Field)
		if !ok || !filterMatches(f, v) {
			return false
		}
	}

	return true
}

func filterMatches(f Filter, v any) bool {
	switch f.Op {
	case FilterEqual:
		return v == f.Value
	case FilterNotEqual:
		return v != f.Value
	case FilterArrayContains:
		arr, ok := v.([]any)
		return ok && containsValue(arr, f.Value)
	case FilterArrayContainsAny:
		arr, ok := v.([]any)
		if !ok {
			return false
		}

		needles, _ := f.Value.([]any)
		for _, n := range needles {
			if containsValue(arr, n) {
				return true
			}
		}

		return false
	case FilterIn:
		options, _ := f.Value.([]any)
		return containsValue(options, v)
	case FilterLessThan, FilterLessThanOrEqual, FilterGreaterThan, FilterGreaterThanOrEqual:
		return compareOrdered(f.Op, v, f.Value)
	default:
		return false
	}
}

func compareOrdered(op FilterOp, a, b any) bool {
	af, aok := a.(float64)
	bf, bok := b.(float64)
	if !aok || !bok {
		return false
	}

	switch op {
	case FilterLessThan:
		return af < bf
	case FilterLessThanOrEqual:
		return af <= bf
	case FilterGreaterThan:
		return af > bf
	case FilterGreaterThanOrEqual:
		return af >= bf
	default:
		return false
	}
}

// QueryEngine executes a Query against a document set, independent of how
// that set was assembled (full collection scan, index-narrowed, or the
// local-view overlay LocalDocumentsView builds). sinceVersion and
// remoteKeys carry the caller's prior-listen state through to engines able
// to use them: sinceVersion is SnapshotVersionMin for a cold query, and
// remoteKeys is the previously matched key set when usePreviousResults is
// set, letting an index-narrowed engine skip re-evaluating keys it knows
// did not change.
type QueryEngine interface {
	RunQuery(query Query, docs map[DocumentKey]MaybeDocument, sinceVersion SnapshotVersion, remoteKeys []DocumentKey) ([]MaybeDocument, error)
}
