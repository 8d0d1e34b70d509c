package localstore

import "time"

// MutationBatch is a group of mutations written atomically by the local
// client. BaseMutations are synthetic Patch mutations that pin the
// pre-transform value of any field a Transform mutation targets, so that a
// later replay (local retry or the eventual server acknowledgement) of the
// same batch reproduces the identical result instead of double-applying a
// non-idempotent op. See [SynthesizeBaseMutations].
type MutationBatch struct {
	BatchID        int64
	LocalWriteTime time.Time
	BaseMutations  []Mutation
	Mutations      []Mutation
}

// Keys returns the distinct document keys touched by Mutations (base
// mutations never introduce a key that Mutations doesn't already cover).
func (b MutationBatch) Keys() []DocumentKey {
	seen := make(map[DocumentKey]bool, len(b.Mutations))
	keys := make([]DocumentKey, 0, len(b.Mutations))

	for _, m := range b.Mutations {
		if !seen[m.Key] {
			seen[m.Key] = true
			keys = append(keys, m.Key)
		}
	}

	return keys
}

// ApplyToLocalView overlays this batch's effect for doc.Key atop doc,
// producing the optimistic pending view. If no mutation in the batch
// touches doc.Key, doc is returned unchanged.
func (b MutationBatch) ApplyToLocalView(doc MaybeDocument) MaybeDocument {
	result := doc
	touched := false

	for _, m := range b.BaseMutations {
		if m.Key == doc.Key {
			result = m.apply(result, b.LocalWriteTime, result.Version, true)
		}
	}

	for _, m := range b.Mutations {
		if m.Key == doc.Key {
			result = m.apply(result, b.LocalWriteTime, result.Version, true)
			touched = true
		}
	}

	if !touched {
		return doc
	}

	return result
}

// ApplyToRemoteDocument replays this batch's effect for key against base
// (the current remote document), stamping the result with commitVersion and
// hasPendingWrites=false. Base mutations replay first so a Transform's
// non-idempotent op recomputes from the pinned pre-image rather than from
// whatever the remote document currently holds — see
// [SynthesizeBaseMutations].
func (b MutationBatch) ApplyToRemoteDocument(key DocumentKey, base MaybeDocument, commitVersion SnapshotVersion) MaybeDocument {
	result := base
	writeTime := commitVersion.ToTime()

	for _, m := range b.BaseMutations {
		if m.Key == key {
			result = m.apply(result, writeTime, commitVersion, false)
		}
	}

	for _, m := range b.Mutations {
		if m.Key == key {
			result = m.apply(result, writeTime, commitVersion, false)
		}
	}

	return result
}

// SynthesizeBaseMutations builds the synthetic pre-image Patch mutations
// for localWrite step 2: for every mutation in mutations that carries a
// Transform and whose key has an existing document in existingDocs, emit a
// Patch covering the transform's target fields, valued from the document's
// current fields, with an exists=true precondition.
func SynthesizeBaseMutations(mutations []Mutation, existingDocs map[DocumentKey]MaybeDocument) []Mutation {
	base := make([]Mutation, 0)

	for _, m := range mutations {
		if !m.HasTransform() {
			continue
		}

		existing, ok := existingDocs[m.Key]
		if !ok || !existing.IsDocument() {
			continue
		}

		mask := m.TransformFieldMask()
		value := make(map[string]any, len(mask))

		for _, field := range mask {
			if v, ok := existing.Fields[field]; ok {
				value[field] = v
			}
		}

		base = append(base, NewPatchMutation(m.Key, mask, value, Precondition{Kind: PreconditionExists}))
	}

	return base
}
