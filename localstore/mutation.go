package localstore

import (
	"fmt"
	"time"
)

// PreconditionKind selects which precondition a mutation carries.
type PreconditionKind uint8

const (
	PreconditionNone PreconditionKind = iota
	PreconditionExists
	PreconditionNotExists
	PreconditionUpdateTimeLessOrEqual
)

// Precondition gates whether a mutation is allowed to apply.
type Precondition struct {
	Kind       PreconditionKind
	UpdateTime SnapshotVersion
}

// IsValid reports whether base satisfies the precondition.
func (p Precondition) IsValid(base MaybeDocument) bool {
	switch p.Kind {
	case PreconditionNone:
		return true
	case PreconditionExists:
		return base.IsDocument()
	case PreconditionNotExists:
		return !base.IsDocument()
	case PreconditionUpdateTimeLessOrEqual:
		return base.IsDocument() && base.Version.Compare(p.UpdateTime) <= 0
	default:
		return false
	}
}

// MutationKind tags the Mutation variant: Set, Patch, Delete, or Transform.
// A tagged struct (rather than an interface hierarchy) keeps the sum type
// exhaustively switchable and easy to serialize into the mutation queue.
type MutationKind uint8

const (
	MutationSet MutationKind = iota
	MutationPatch
	MutationDelete
	MutationTransform
)

// TransformOp is a non-idempotent field operation carried by a Transform
// mutation. Re-applying the same op to the same previous value more than
// once must not double-apply; see [MutationBatch] base-mutation capture.
type TransformOp interface {
	// Apply computes the new field value given the previous value (nil if
	// absent) and the write time to use for server-timestamp-like ops.
	Apply(previous any, writeTime time.Time) any
}

// ServerTimestamp resolves to the transaction's write time.
type ServerTimestamp struct{}

func (ServerTimestamp) Apply(_ any, writeTime time.Time) any { return writeTime }

// Increment adds Delta to the previous numeric value (0 if absent or non-numeric).
type Increment struct{ Delta float64 }

func (op Increment) Apply(previous any, _ time.Time) any {
	return numericValue(previous) + op.Delta
}

// ArrayUnion appends Values not already present, preserving prior order.
type ArrayUnion struct{ Values []any }

func (op ArrayUnion) Apply(previous any, _ time.Time) any {
	existing, _ := previous.([]any)
	result := make([]any, len(existing), len(existing)+len(op.Values))
	copy(result, existing)

	for _, v := range op.Values {
		if !containsValue(result, v) {
			result = append(result, v)
		}
	}

	return result
}

// ArrayRemove removes every occurrence of Values.
type ArrayRemove struct{ Values []any }

func (op ArrayRemove) Apply(previous any, _ time.Time) any {
	existing, _ := previous.([]any)
	result := make([]any, 0, len(existing))

	for _, v := range existing {
		if !containsValue(op.Values, v) {
			result = append(result, v)
		}
	}

	return result
}

func numericValue(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}

func containsValue(haystack []any, needle any) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}

	return false
}

// FieldTransform pairs a field path with the op to apply to it.
type FieldTransform struct {
	Field string
	Op    TransformOp
}

// Mutation is a variant over {Set, Patch(fieldMask), Delete, Transform}. Set
// and Patch carry Value (full document / partial merge respectively); Patch
// additionally carries Mask, the set of field paths the merge covers so an
// absent field in Value can still mean "leave untouched" versus "clear".
type Mutation struct {
	Kind         MutationKind
	Key          DocumentKey
	Precondition Precondition
	Value        map[string]any
	Mask         []string
	Transforms   []FieldTransform
}

// NewSetMutation replaces the document's fields wholesale.
func NewSetMutation(key DocumentKey, value map[string]any, precondition Precondition) Mutation {
	return Mutation{Kind: MutationSet, Key: key, Value: value, Precondition: precondition}
}

// NewPatchMutation merges value into the document's existing fields for the
// paths named in mask.
func NewPatchMutation(key DocumentKey, mask []string, value map[string]any, precondition Precondition) Mutation {
	return Mutation{Kind: MutationPatch, Key: key, Value: value, Mask: mask, Precondition: precondition}
}

// NewDeleteMutation replaces the document with a tombstone.
func NewDeleteMutation(key DocumentKey, precondition Precondition) Mutation {
	return Mutation{Kind: MutationDelete, Key: key, Precondition: precondition}
}

// NewTransformMutation applies non-idempotent field ops.
func NewTransformMutation(key DocumentKey, transforms []FieldTransform, precondition Precondition) Mutation {
	return Mutation{Kind: MutationTransform, Key: key, Transforms: transforms, Precondition: precondition}
}

// HasTransform reports whether this mutation contains any Transform op.
func (m Mutation) HasTransform() bool { return m.Kind == MutationTransform && len(m.Transforms) > 0 }

// TransformFieldMask returns the field paths targeted by this mutation's
// transforms, used to build the synthetic base Patch mutation.
func (m Mutation) TransformFieldMask() []string {
	if m.Kind != MutationTransform {
		return nil
	}

	fields := make([]string, 0, len(m.Transforms))
	for _, t := range m.Transforms {
		fields = append(fields, t.Field)
	}

	return fields
}

// apply applies m to base, producing the resulting MaybeDocument. writeTime
// feeds ServerTimestamp-like transforms; resultVersion and pending stamp the
// output. A precondition violation is a no-op: base is returned unchanged.
func (m Mutation) apply(base MaybeDocument, writeTime time.Time, resultVersion SnapshotVersion, pending bool) MaybeDocument {
	if !m.Precondition.IsValid(base) {
		return base
	}

	switch m.Kind {
	case MutationSet:
		fields := make(map[string]any, len(m.Value))
		for k, v := range m.Value {
			fields[k] = v
		}

		return NewDocument(m.Key, resultVersion, fields, pending)

	case MutationPatch:
		fields := map[string]any{}
		if base.IsDocument() {
			for k, v := range base.Fields {
				fields[k] = v
			}
		}

		for _, field := range m.Mask {
			if v, ok := m.Value[field]; ok {
				fields[field] = v
			} else {
				delete(fields, field)
			}
		}

		return NewDocument(m.Key, resultVersion, fields, pending)

	case MutationDelete:
		return NewNoDocument(m.Key, resultVersion)

	case MutationTransform:
		fields := map[string]any{}
		if base.IsDocument() {
			for k, v := range base.Fields {
				fields[k] = v
			}
		}

		for _, t := range m.Transforms {
			fields[t.Field] = t.Op.Apply(fields[t.Field], writeTime)
		}

		return NewDocument(m.Key, resultVersion, fields, pending)

	default:
		panic(fmt.Sprintf("mutation: unknown kind %d", m.Kind))
	}
}
