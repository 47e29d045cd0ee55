package presence

import (
	"testing"
	"time"

	"workspaceCollab/backend/internal/protocol"
)

func sess(id, user string) protocol.Session {
	return protocol.Session{SessionID: id, UserID: user, WorkspaceID: "w1"}
}

func ids(ss []protocol.Session) []string {
	out := make([]string, 0, len(ss))
	for _, s := range ss {
		out = append(out, s.SessionID)
	}
	return out
}

func TestTrackerJoinedReplacesRoster(t *testing.T) {
	tr := NewTracker("w1", "s-a")
	tr.Apply(protocol.Envelope{Type: protocol.TypeUserJoined, WorkspaceID: "w1", User: ptr(sess("s-old", "u-old"))})

	tr.Apply(protocol.Envelope{
		Type:        protocol.TypeWorkspaceJoined,
		WorkspaceID: "w1",
		ActiveUsers: []protocol.Session{sess("s-a", "u-a"), sess("s-b", "u-b")},
	})
	got := tr.Active()
	if len(got) != 2 || got[0].SessionID != "s-a" || got[1].SessionID != "s-b" {
		t.Fatalf("Active = %v", ids(got))
	}
	if got[0].Status != protocol.StatusOnline {
		t.Fatalf("empty status not defaulted: %q", got[0].Status)
	}
}

func TestTrackerUserJoinedSkipsSelfAndDuplicates(t *testing.T) {
	tr := NewTracker("w1", "s-a")
	if tr.Apply(protocol.Envelope{Type: protocol.TypeUserJoined, WorkspaceID: "w1", User: ptr(sess("s-a", "u-a"))}) {
		t.Fatalf("own user_joined counted")
	}
	if !tr.Apply(protocol.Envelope{Type: protocol.TypeUserJoined, WorkspaceID: "w1", User: ptr(sess("s-b", "u-b"))}) {
		t.Fatalf("user_joined for s-b not applied")
	}
	if tr.Apply(protocol.Envelope{Type: protocol.TypeUserJoined, WorkspaceID: "w1", User: ptr(sess("s-b", "u-b"))}) {
		t.Fatalf("duplicate user_joined applied")
	}
	if tr.Len() != 1 {
		t.Fatalf("Len = %d, want 1", tr.Len())
	}
}

func TestTrackerLeftAndDisconnectedAreIdentical(t *testing.T) {
	for _, typ := range []string{protocol.TypeUserLeft, protocol.TypeUserDisconnected} {
		t.Run(typ, func(t *testing.T) {
			tr := NewTracker("w1", "s-a")
			tr.Apply(protocol.Envelope{
				Type:        protocol.TypeWorkspaceJoined,
				WorkspaceID: "w1",
				ActiveUsers: []protocol.Session{sess("s-a", "u-a"), sess("s-b", "u-b"), sess("s-c", "u-c")},
			})
			if !tr.Apply(protocol.Envelope{Type: typ, WorkspaceID: "w1", UserID: "u-b", SessionID: "s-b"}) {
				t.Fatalf("%s not applied", typ)
			}
			if got := ids(tr.Active()); len(got) != 2 || got[0] != "s-a" || got[1] != "s-c" {
				t.Fatalf("Active = %v, want [s-a s-c]", got)
			}
		})
	}
}

func TestTrackerRemoveByUserWithoutSession(t *testing.T) {
	tr := NewTracker("w1", "s-a")
	tr.Apply(protocol.Envelope{
		Type:        protocol.TypeWorkspaceJoined,
		WorkspaceID: "w1",
		ActiveUsers: []protocol.Session{sess("s-a", "u-a"), sess("s-b1", "u-b"), sess("s-b2", "u-b")},
	})
	tr.Apply(protocol.Envelope{Type: protocol.TypeUserLeft, WorkspaceID: "w1", UserID: "u-b"})
	if got := ids(tr.Active()); len(got) != 1 || got[0] != "s-a" {
		t.Fatalf("Active = %v, want [s-a]", got)
	}
}

func TestTrackerPresenceUpdateKeepsOrder(t *testing.T) {
	tr := NewTracker("w1", "s-a")
	tr.Apply(protocol.Envelope{
		Type:        protocol.TypeWorkspaceJoined,
		WorkspaceID: "w1",
		ActiveUsers: []protocol.Session{sess("s-a", "u-a"), sess("s-b", "u-b")},
	})
	seen := time.Unix(1_700_000_000, 0).UTC()
	tr.Apply(protocol.Envelope{Type: protocol.TypePresenceUpdate, WorkspaceID: "w1", SessionID: "s-a", Status: protocol.StatusAway, LastSeen: seen})
	if tr.Apply(protocol.Envelope{Type: protocol.TypePresenceUpdate, WorkspaceID: "w1", SessionID: "ghost", Status: protocol.StatusAway}) {
		t.Fatalf("update for unknown session applied")
	}

	got := tr.Active()
	if got[0].SessionID != "s-a" || got[0].Status != protocol.StatusAway || !got[0].LastSeen.Equal(seen) {
		t.Fatalf("Active[0] = %+v", got[0])
	}
}

func TestTrackerIgnoresOtherWorkspace(t *testing.T) {
	tr := NewTracker("w1", "s-a")
	if tr.Apply(protocol.Envelope{Type: protocol.TypeUserJoined, WorkspaceID: "w2", User: ptr(sess("s-b", "u-b"))}) {
		t.Fatalf("event for w2 applied to w1 tracker")
	}
	if tr.Len() != 0 {
		t.Fatalf("Len = %d, want 0", tr.Len())
	}
}

func ptr(s protocol.Session) *protocol.Session { return &s }
