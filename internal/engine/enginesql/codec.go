package enginesql

import (
	"encoding/json"
	"fmt"

	"github.com/syncdoc/localstore/localstore"
)

// Row encoding throughout this package is plain encoding/json over small
// wire structs, matching the teacher's preference for a compact
// denormalized row (internal/store/types.go's Summary) over a bespoke
// binary format. localstore.Mutation's TransformOp field is an interface,
// so it needs an explicit tagged wire form; everything else round-trips
// through the exported struct fields directly.

type transformOpWire struct {
	Kind   string  `json:"kind"`
	Delta  float64 `json:"delta,omitempty"`
	Values []any   `json:"values,omitempty"`
}

func encodeTransformOp(op localstore.TransformOp) (transformOpWire, error) {
	switch t := op.(type) {
	case localstore.ServerTimestamp:
		return transformOpWire{Kind: "server_timestamp"}, nil
	case localstore.Increment:
		return transformOpWire{Kind: "increment", Delta: t.Delta}, nil
	case localstore.ArrayUnion:
		return transformOpWire{Kind: "array_union", Values: t.Values}, nil
	case localstore.ArrayRemove:
		return transformOpWire{Kind: "array_remove", Values: t.Values}, nil
	default:
		return transformOpWire{}, fmt.Errorf("encode transform op: unknown type %T", op)
	}
}

func decodeTransformOp(w transformOpWire) (localstore.TransformOp, error) {
	switch w.Kind {
	case "server_timestamp":
		return localstore.ServerTimestamp{}, nil
	case "increment":
		return localstore.Increment{Delta: w.Delta}, nil
	case "array_union":
		return localstore.ArrayUnion{Values: w.Values}, nil
	case "array_remove":
		return localstore.ArrayRemove{Values: w.Values}, nil
	default:
		return nil, fmt.Errorf("decode transform op: unknown kind %q", w.Kind)
	}
}

type fieldTransformWire struct {
	Field string          `json:"field"`
	Op    transformOpWire `json:"op"`
}

type preconditionWire struct {
	Kind            uint8 `json:"kind"`
	UpdateTimeSecs  int64 `json:"update_time_secs,omitempty"`
	UpdateTimeNanos int32 `json:"update_time_nanos,omitempty"`
}

type mutationWire struct {
	Kind         uint8                `json:"kind"`
	Key          string               `json:"key"`
	Precondition preconditionWire     `json:"precondition"`
	Value        map[string]any       `json:"value,omitempty"`
	Mask         []string             `json:"mask,omitempty"`
	Transforms   []fieldTransformWire `json:"transforms,omitempty"`
}

func encodeMutation(m localstore.Mutation) (mutationWire, error) {
	wire := mutationWire{
		Kind: uint8(m.Kind),
		Key:  m.Key.Path(),
		Precondition: preconditionWire{
			Kind:            uint8(m.Precondition.Kind),
			UpdateTimeSecs:  m.Precondition.UpdateTime.Seconds,
			UpdateTimeNanos: m.Precondition.UpdateTime.Nanos,
		},
		Value: m.Value,
		Mask:  m.Mask,
	}

	for _, t := range m.Transforms {
		opWire, err := encodeTransformOp(t.Op)
		if err != nil {
			return mutationWire{}, err
		}

		wire.Transforms = append(wire.Transforms, fieldTransformWire{Field: t.Field, Op: opWire})
	}

	return wire, nil
}

func decodeMutation(w mutationWire) (localstore.Mutation, error) {
	key, err := localstore.NewDocumentKey(w.Key)
	if err != nil {
		return localstore.Mutation{}, fmt.Errorf("decode mutation: %w", err)
	}

	m := localstore.Mutation{
		Kind: localstore.MutationKind(w.Kind),
		Key:  key,
		Precondition: localstore.Precondition{
			Kind: localstore.PreconditionKind(w.Precondition.Kind),
			UpdateTime: localstore.SnapshotVersion{
				Seconds: w.Precondition.UpdateTimeSecs,
				Nanos:   w.Precondition.UpdateTimeNanos,
			},
		},
		Value: w.Value,
		Mask:  w.Mask,
	}

	for _, tw := range w.Transforms {
		op, err := decodeTransformOp(tw.Op)
		if err != nil {
			return localstore.Mutation{}, err
		}

		m.Transforms = append(m.Transforms, localstore.FieldTransform{Field: tw.Field, Op: op})
	}

	return m, nil
}

func encodeMutations(mutations []localstore.Mutation) (string, error) {
	wires := make([]mutationWire, 0, len(mutations))

	for _, m := range mutations {
		w, err := encodeMutation(m)
		if err != nil {
			return "", err
		}

		wires = append(wires, w)
	}

	data, err := json.Marshal(wires)
	if err != nil {
		return "", fmt.Errorf("encode mutations: %w", err)
	}

	return string(data), nil
}

func decodeMutations(data string) ([]localstore.Mutation, error) {
	var wires []mutationWire
	if err := json.Unmarshal([]byte(data), &wires); err != nil {
		return nil, fmt.Errorf("decode mutations: %w", err)
	}

	out := make([]localstore.Mutation, 0, len(wires))

	for _, w := range wires {
		m, err := decodeMutation(w)
		if err != nil {
			return nil, err
		}

		out = append(out, m)
	}

	return out, nil
}

func encodeFields(fields map[string]any) (string, error) {
	if fields == nil {
		return "{}", nil
	}

	data, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("encode fields: %w", err)
	}

	return string(data), nil
}

func decodeFields(data string) (map[string]any, error) {
	if data == "" {
		return nil, nil
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(data), &fields); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}

	return fields, nil
}

func encodeQuery(q localstore.Query) (string, error) {
	data, err := json.Marshal(q)
	if err != nil {
		return "", fmt.Errorf("encode query: %w", err)
	}

	return string(data), nil
}

func decodeQuery(data string) (localstore.Query, error) {
	var q localstore.Query
	if err := json.Unmarshal([]byte(data), &q); err != nil {
		return localstore.Query{}, fmt.Errorf("decode query: %w", err)
	}

	return q, nil
}
