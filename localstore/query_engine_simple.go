package localstore

import "sort"

// SimpleQueryEngine runs a Query by filtering and sorting an in-memory
// document set directly, with no index support. It is the default engine
// used by enginemem and is always correct, if not necessarily fast;
// enginesql may supply an index-narrowed engine that falls back to this one
// for the final filter/sort pass. The candidate set it receives is already
// narrowed by sinceVersion/remoteKeys (see [LocalDocumentsView.GetDocumentsMatchingQuery]),
// so SimpleQueryEngine itself has no further use for them.
type SimpleQueryEngine struct{}

func (SimpleQueryEngine) RunQuery(query Query, docs map[DocumentKey]MaybeDocument, _ SnapshotVersion, _ []DocumentKey) ([]MaybeDocument, error) {
	matches := make([]MaybeDocument, 0, len(docs))

	for _, doc := range docs {
		if query.Matches(doc) {
			matches = append(matches, doc)
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		return lessByOrderBy(matches[i], matches[j], query.OrderBy)
	})

	if query.Limit > 0 && len(matches) > query.Limit {
		matches = matches[:query.Limit]
	}

	return matches, nil
}

func lessByOrderBy(a, b MaybeDocument, clauses []OrderBy) bool {
	for _, clause := range clauses {
		av, _ := a.Field(clause.Field)
		bv, _ := b.Field(clause.Field)

		cmp := compareFieldValues(av, bv)
		if cmp == 0 {
			continue
		}

		if clause.Direction == Descending {
			return cmp > 0
		}

		return cmp < 0
	}

	return a.Key.Less(b.Key)
}

func compareFieldValues(a, b any) int {
	af, aok := a.(float64)
	bf, bok := b.(float64)

	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}

	as, aok := a.(string)
	bs, bok := b.(string)

	if aok && bok {
		switch {
		case as < bs:
			return -1
		case as > bs:
			return 1
		default:
			return 0
		}
	}

	return 0
}
