package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"

	"workspaceCollab/backend/internal/protocol"
)

func setupTestRedis(t *testing.T) (redis.UniversalClient, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb, s
}

func TestAddMemberAndGetAliveMembers(t *testing.T) {
	rdb, _ := setupTestRedis(t)
	p := NewRedisPresence(rdb)
	ctx := context.Background()

	alice := protocol.Session{SessionID: "s-1", UserID: "u-alice", WorkspaceID: "w1", DisplayName: "Alice", Status: protocol.StatusOnline}
	bob := protocol.Session{SessionID: "s-2", UserID: "u-bob", WorkspaceID: "w1", DisplayName: "Bob", Status: protocol.StatusAway}

	if err := p.AddMember(ctx, "w1", alice, time.Minute); err != nil {
		t.Fatalf("AddMember error: %v", err)
	}
	if err := p.AddMember(ctx, "w1", bob, time.Minute); err != nil {
		t.Fatalf("AddMember error: %v", err)
	}

	members, err := p.GetAliveMembers(ctx, "w1")
	if err != nil {
		t.Fatalf("GetAliveMembers error: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("len(members) = %d, want 2", len(members))
	}
	got := map[string]protocol.Session{}
	for _, m := range members {
		got[m.SessionID] = m
	}
	if got["s-2"].Status != protocol.StatusAway || got["s-1"].DisplayName != "Alice" {
		t.Fatalf("unexpected members: %+v", members)
	}

	workspaces, err := p.GetWorkspaces(ctx)
	if err != nil {
		t.Fatalf("GetWorkspaces error: %v", err)
	}
	if len(workspaces) != 1 || workspaces[0] != "w1" {
		t.Fatalf("GetWorkspaces = %v, want [w1]", workspaces)
	}
}

func TestGetAliveMembersPurgesExpired(t *testing.T) {
	rdb, s := setupTestRedis(t)
	p := NewRedisPresence(rdb).(*redisPresence)
	ctx := context.Background()

	base := time.Unix(1_700_000_000, 0)
	p.now = func() time.Time { return base }

	if err := p.AddMember(ctx, "w1", protocol.Session{SessionID: "old", UserID: "u1"}, 10*time.Second); err != nil {
		t.Fatalf("AddMember error: %v", err)
	}
	if err := p.AddMember(ctx, "w1", protocol.Session{SessionID: "fresh", UserID: "u2"}, 10*time.Minute); err != nil {
		t.Fatalf("AddMember error: %v", err)
	}

	p.now = func() time.Time { return base.Add(time.Minute) }
	members, err := p.GetAliveMembers(ctx, "w1")
	if err != nil {
		t.Fatalf("GetAliveMembers error: %v", err)
	}
	if len(members) != 1 || members[0].SessionID != "fresh" {
		t.Fatalf("members = %+v, want only fresh", members)
	}
	if s.Exists(sessionsKey("w1")) {
		if v := s.HGet(sessionsKey("w1"), "old"); v != "" {
			t.Fatalf("expired session still in hash: %q", v)
		}
	}
}

func TestRemoveMemberDropsEmptyWorkspace(t *testing.T) {
	rdb, _ := setupTestRedis(t)
	p := NewRedisPresence(rdb)
	ctx := context.Background()

	_ = p.AddMember(ctx, "w1", protocol.Session{SessionID: "a"}, time.Minute)
	_ = p.AddMember(ctx, "w1", protocol.Session{SessionID: "b"}, time.Minute)

	if err := p.RemoveMember(ctx, "w1", "a"); err != nil {
		t.Fatalf("RemoveMember error: %v", err)
	}
	ws, _ := p.GetWorkspaces(ctx)
	if len(ws) != 1 {
		t.Fatalf("workspace removed while a member is still present: %v", ws)
	}

	if err := p.RemoveMember(ctx, "w1", "b"); err != nil {
		t.Fatalf("RemoveMember error: %v", err)
	}
	ws, _ = p.GetWorkspaces(ctx)
	if len(ws) != 0 {
		t.Fatalf("GetWorkspaces = %v, want empty", ws)
	}
	members, err := p.GetAliveMembers(ctx, "w1")
	if err != nil {
		t.Fatalf("GetAliveMembers error: %v", err)
	}
	if len(members) != 0 {
		t.Fatalf("members = %+v, want none", members)
	}
}
