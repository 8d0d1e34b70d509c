package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/syncdoc/localstore/localstore"
)

// bundleElementWire is the CLI's own newline-delimited-JSON encoding of a
// bundle stream, one element per line, used only by the `bundle` shell
// command; the wire format an actual sync client streams over the network
// is out of scope here (see §4.7's Non-goals).
type bundleElementWire struct {
	Kind string `json:"kind"`

	BundleID   string `json:"bundle_id,omitempty"`
	CreateTime int64  `json:"create_time,omitempty"`
	Version    int    `json:"version,omitempty"`

	Name         string          `json:"name,omitempty"`
	Query        json.RawMessage `json:"query,omitempty"`
	ReadSeconds  int64           `json:"read_seconds,omitempty"`
	ReadNanos    int32           `json:"read_nanos,omitempty"`
	DocumentKey  string          `json:"document_key,omitempty"`
	Exists       bool            `json:"exists,omitempty"`
	VersionSecs  int64           `json:"version_seconds,omitempty"`
	VersionNanos int32           `json:"version_nanos,omitempty"`
	Fields       map[string]any  `json:"fields,omitempty"`
}

func (r *repl) cmdBundle(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: bundle <path-to-ndjson-elements>")
	}

	f, err := os.Open(args[0]) //nolint:gosec
	if err != nil {
		return fmt.Errorf("open bundle: %w", err)
	}
	defer f.Close()

	var (
		loader *localstore.BundleLoader
		count  int
	)

	lines, err := countLines(args[0])
	if err != nil {
		return err
	}

	loader = localstore.NewBundleLoader(r.store, 0, lines)

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var wire bundleElementWire
		if err := json.Unmarshal(line, &wire); err != nil {
			return fmt.Errorf("parse bundle element: %w", err)
		}

		element, err := decodeBundleElement(wire)
		if err != nil {
			return err
		}

		if _, err := loader.AddElement(element, int64(len(line))); err != nil {
			return err
		}

		count++
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read bundle: %w", err)
	}

	result, err := loader.Complete(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("loaded %d element(s), %d document(s) changed\n", count, len(result.ChangedDocs))

	return nil
}

func countLines(path string) (int, error) {
	f, err := os.Open(path) //nolint:gosec
	if err != nil {
		return 0, err
	}
	defer f.Close()

	n := 0

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if len(scanner.Bytes()) > 0 {
			n++
		}
	}

	return n, scanner.Err()
}

func decodeBundleElement(wire bundleElementWire) (localstore.BundleElement, error) {
	switch wire.Kind {
	case "metadata":
		return localstore.BundleElement{
			Kind: localstore.BundleElementMetadata,
			Metadata: localstore.BundleMetadata{
				BundleID:   wire.BundleID,
				CreateTime: time.Unix(wire.CreateTime, 0).UTC(),
				Version:    wire.Version,
			},
		}, nil

	case "named_query":
		var query localstore.Query
		if len(wire.Query) > 0 {
			if err := json.Unmarshal(wire.Query, &query); err != nil {
				return localstore.BundleElement{}, fmt.Errorf("parse named query %s: %w", wire.Name, err)
			}
		}

		return localstore.BundleElement{
			Kind: localstore.BundleElementNamedQuery,
			NamedQuery: localstore.NamedQuery{
				Name:     wire.Name,
				Query:    query,
				ReadTime: localstore.SnapshotVersion{Seconds: wire.ReadSeconds, Nanos: wire.ReadNanos},
			},
		}, nil

	case "document_metadata":
		key, err := localstore.NewDocumentKey(wire.DocumentKey)
		if err != nil {
			return localstore.BundleElement{}, err
		}

		return localstore.BundleElement{
			Kind: localstore.BundleElementDocumentMetadata,
			DocumentMetadata: localstore.DocumentMetadata{
				Key:      key,
				ReadTime: localstore.SnapshotVersion{Seconds: wire.ReadSeconds, Nanos: wire.ReadNanos},
				Exists:   wire.Exists,
			},
		}, nil

	case "document":
		key, err := localstore.NewDocumentKey(wire.DocumentKey)
		if err != nil {
			return localstore.BundleElement{}, err
		}

		version := localstore.SnapshotVersion{Seconds: wire.VersionSecs, Nanos: wire.VersionNanos}

		return localstore.BundleElement{
			Kind:     localstore.BundleElementDocument,
			Document: localstore.NewDocument(key, version, wire.Fields, false),
		}, nil

	default:
		return localstore.BundleElement{}, fmt.Errorf("unknown bundle element kind: %s", wire.Kind)
	}
}
