package localstore

import (
	"fmt"

	"github.com/google/uuid"
)

// newStreamToken generates a time-ordered opaque token for a
// MutationBatchResult, so operators inspecting persisted batches can see
// acknowledgement order without decoding server wire state.
func newStreamToken() ([]byte, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate stream token: %w", err)
	}

	return id[:], nil
}

// newBundleID generates a time-ordered UUIDv7 string. The "has newer
// bundle" freshness check in bundle.go keys bundles by the id in their own
// metadata and does not call this function.
func newBundleID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate bundle id: %w", err)
	}

	return id.String(), nil
}
