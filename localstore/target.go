package localstore

// TargetPurpose distinguishes a target the user is actively listening to
// from one the store maintains for its own bookkeeping (limbo resolution).
type TargetPurpose uint8

const (
	TargetPurposeListen TargetPurpose = iota
	TargetPurposeExistenceFilterMismatch
	TargetPurposeLimboResolution
)

// TargetData is everything persisted per server-side listen target: its
// local id, the query it backs, the last snapshot version it observed, the
// resume token the server handed back, and bookkeeping for GC eligibility.
type TargetData struct {
	Target                       Query
	TargetID                     int32
	Purpose                      TargetPurpose
	SnapshotVersion              SnapshotVersion
	LastLimboFreeSnapshotVersion SnapshotVersion
	ResumeToken                  []byte
	SequenceNumber               int64
}

// withResumeInfo returns a copy of t with snapshot/resume-token/sequence
// fields replaced, used by applyRemoteEventToLocalCache when persisting a
// TargetChange.
func (t TargetData) withResumeInfo(version SnapshotVersion, resumeToken []byte, sequenceNumber int64) TargetData {
	updated := t
	updated.SnapshotVersion = version
	updated.ResumeToken = resumeToken
	updated.SequenceNumber = sequenceNumber

	return updated
}

// DocumentViewChangeKind classifies how a document's membership in a
// target's result set changed.
type DocumentViewChangeKind uint8

const (
	DocumentViewChangeAdded DocumentViewChangeKind = iota
	DocumentViewChangeRemoved
	DocumentViewChangeModified
	DocumentViewChangeMetadata
)

// DocumentViewChange pairs a key with how its membership in one target's
// result set changed during a remote event.
type DocumentViewChange struct {
	Key  DocumentKey
	Kind DocumentViewChangeKind
}

// TargetChange is the per-target delta a RemoteEvent carries: documents
// added/removed from the target's view, plus the updated resume token and
// snapshot version the server attached to this change.
type TargetChange struct {
	ResumeToken         []byte
	SnapshotVersion     SnapshotVersion
	DocumentChanges     []DocumentViewChange
	CurrentStatusUpdate bool
	Current             bool
}
