package enginemem

import "github.com/syncdoc/localstore/localstore"

// referenceDelegate tracks, per document key, the set of (target, batch)
// references pinning it against GC. It reaches into the engine's current
// working transaction rather than a snapshot of its own, since reference
// counting must observe the same in-flight mutations the rest of the
// transaction does.
type referenceDelegate struct {
	engine *Engine
}

func (d *referenceDelegate) OnTransactionStarted() {}

func addRef(s *state, key localstore.DocumentKey, rk refKey) {
	if s.refCounts[key] == nil {
		s.refCounts[key] = make(map[refKey]bool)
	}

	s.refCounts[key][rk] = true
}

func removeRef(s *state, key localstore.DocumentKey, rk refKey) {
	delete(s.refCounts[key], rk)
}

func (d *referenceDelegate) bind(t localstore.Transaction) *state {
	return t.(*tx).working
}

func (d *referenceDelegate) AddReference(t localstore.Transaction, targetID int32, key localstore.DocumentKey) error {
	addRef(d.bind(t), key, refKey{targetID: targetID})

	return nil
}

func (d *referenceDelegate) RemoveReference(t localstore.Transaction, targetID int32, key localstore.DocumentKey) error {
	removeRef(d.bind(t), key, refKey{targetID: targetID})

	return nil
}

func (d *referenceDelegate) RemoveTarget(t localstore.Transaction, targetID int32) error {
	s := d.bind(t)

	for key, refs := range s.refCounts {
		delete(refs, refKey{targetID: targetID})

		if len(refs) == 0 {
			delete(s.refCounts, key)
		}
	}

	delete(s.targets, targetID)
	delete(s.targetKeys, targetID)

	return nil
}

func (d *referenceDelegate) RemoveMutationReference(t localstore.Transaction, batchID int64, key localstore.DocumentKey) error {
	removeRef(d.bind(t), key, refKey{batchID: batchID, isBatch: true})

	return nil
}

func (d *referenceDelegate) UpdateLimboDocument(t localstore.Transaction, key localstore.DocumentKey) error {
	return nil
}

func (d *referenceDelegate) IsReferenced(t localstore.Transaction, key localstore.DocumentKey) (bool, error) {
	s := d.bind(t)

	return len(s.refCounts[key]) > 0, nil
}

func (d *referenceDelegate) OnTransactionCommitted(t localstore.Transaction) error { return nil }
