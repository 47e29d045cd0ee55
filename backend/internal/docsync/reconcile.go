package docsync

import "time"

// Change is a document_change as seen by the coordinator.
type Change struct {
	DocumentID string
	UserID     string
	Version    int64
	Changes    Patch
	Timestamp  time.Time
}

// Snapshot is the reconcilable part of a coordinator's state.
type Snapshot struct {
	Version int64
	Working Patch
}

type Outcome int

const (
	// OutcomeApplied: the change was merged and Version moved to the incoming version.
	OutcomeApplied Outcome = iota
	// OutcomeSelfEcho: the change originated from this client.
	OutcomeSelfEcho
	// OutcomeStale: older than, or identical at, the local version.
	OutcomeStale
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeSelfEcho:
		return "self_echo"
	case OutcomeStale:
		return "stale"
	}
	return "unknown"
}

// Reconcile decides whether an incoming change wins over local state.
//
// A change from selfID is always discarded. Otherwise it is applied when its
// version is newer than local, or equal to local while carrying content that
// differs from the working copy: two clients editing in the same debounce
// window tag their edits with the same next version, and content is the
// tie-break. Anything older is stale.
//
// Concurrent edits to different fields of one document at the same version
// can still overwrite each other; patches are coarse, not per-field operations.
func Reconcile(local Snapshot, incoming Change, selfID string) (Snapshot, Outcome) {
	if incoming.UserID == selfID {
		return local, OutcomeSelfEcho
	}
	switch {
	case incoming.Version > local.Version:
	case incoming.Version == local.Version && Changes(local.Working, incoming.Changes):
	default:
		return local, OutcomeStale
	}
	return Snapshot{
		Version: incoming.Version,
		Working: Merge(local.Working, incoming.Changes),
	}, OutcomeApplied
}
