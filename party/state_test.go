package party

import (
	"errors"
	"testing"

	"github.com/ceskypane/stormgo/events"
)

func fullState(version int) PartyState {
	return PartyState{
		Settings: Settings{PartyID: "p1", SettingsVersion: 1},
		LeaderID: "u1",
		Members: []Member{
			{UserID: "u1", Status: StatusNotReady, IsLeader: true},
			{UserID: "u2", Status: StatusNotReady},
		},
		Version: version,
	}
}

func TestDeltaRejectedBeforeFirstFullState(t *testing.T) {
	st := newReplicatedState()

	if err := st.ApplySettings(1, Settings{}); !errors.Is(err, errStateNotSynced) {
		t.Fatalf("expected errStateNotSynced, got %v", err)
	}
}

func TestDeltaRequiresContiguousVersion(t *testing.T) {
	st := newReplicatedState()
	st.ReplaceFull(fullState(3))

	if err := st.ApplySettings(5, Settings{}); !errors.Is(err, errVersionGap) {
		t.Fatalf("expected errVersionGap for future version, got %v", err)
	}

	if err := st.ApplySettings(3, Settings{}); !errors.Is(err, errVersionGap) {
		t.Fatalf("expected errVersionGap for replayed version, got %v", err)
	}

	if err := st.ApplySettings(4, Settings{CustomData: "x"}); err != nil {
		t.Fatalf("contiguous delta: %v", err)
	}

	snap, _ := st.Snapshot()
	if snap.Version != 4 || snap.Settings.CustomData != "x" {
		t.Fatalf("delta not applied: %+v", snap)
	}
}

func TestRejectedDeltaLeavesStateUntouched(t *testing.T) {
	st := newReplicatedState()
	st.ReplaceFull(fullState(3))

	if _, err := st.ApplyMemberData(7, "u2", []byte("x"), 1); !errors.Is(err, errVersionGap) {
		t.Fatalf("expected errVersionGap, got %v", err)
	}

	snap, _ := st.Snapshot()
	if snap.Version != 3 {
		t.Fatalf("version must stay at 3, got %d", snap.Version)
	}

	for _, m := range snap.Members {
		if m.UserID == "u2" && len(m.Data) != 0 {
			t.Fatalf("rejected delta must not touch member data")
		}
	}
}

func TestReplaceFullSynthesizesMemberDiff(t *testing.T) {
	st := newReplicatedState()
	st.ReplaceFull(fullState(1))

	next := PartyState{
		Settings: Settings{PartyID: "p1", SettingsVersion: 2},
		LeaderID: "u2",
		Members: []Member{
			{UserID: "u2", Status: StatusReady},
			{UserID: "u3", Status: StatusNotReady},
		},
		Version: 9,
	}

	updates := st.ReplaceFull(next)

	byUser := make(map[string]events.MemberUpdate, len(updates))
	for _, u := range updates {
		byUser[u.UserID] = u
	}

	u2, ok := byUser["u2"]
	if !ok || !u2.Changes.Has(events.MemberStatusUpdated) || !u2.Changes.Has(events.MemberPromotedToLeader) {
		t.Fatalf("unexpected u2 changes: %+v", u2)
	}

	u3, ok := byUser["u3"]
	if !ok || !u3.Changes.Has(events.MemberJoined) {
		t.Fatalf("unexpected u3 changes: %+v", u3)
	}

	u1, ok := byUser["u1"]
	if !ok || !u1.Changes.Has(events.MemberLeft) {
		t.Fatalf("unexpected u1 changes: %+v", u1)
	}

	snap, synced := st.Snapshot()
	if !synced || snap.Version != 9 {
		t.Fatalf("full state not installed: %+v", snap)
	}
}

func TestLeaderChangeFlipsExactlyOneFlag(t *testing.T) {
	st := newReplicatedState()
	st.ReplaceFull(fullState(1))

	updates, err := st.ApplyLeaderChanged(2, "u2")
	if err != nil {
		t.Fatalf("leader change: %v", err)
	}

	if len(updates) != 2 {
		t.Fatalf("expected promotion and demotion, got %d updates", len(updates))
	}

	snap, _ := st.Snapshot()
	leaders := 0
	for _, m := range snap.Members {
		if m.IsLeader {
			leaders++
			if m.UserID != "u2" {
				t.Fatalf("wrong leader: %s", m.UserID)
			}
		}
	}

	if leaders != 1 {
		t.Fatalf("expected exactly one leader, got %d", leaders)
	}
}

func TestLocalUpdateSettingsBumpsSettingsVersion(t *testing.T) {
	st := newReplicatedState()
	st.ReplaceFull(fullState(1))

	applied := st.LocalUpdateSettings(Settings{MatchmakerName: "ranked", PartyID: "ignored"})

	if applied.SettingsVersion != 2 {
		t.Fatalf("expected settings version 2, got %d", applied.SettingsVersion)
	}

	if applied.PartyID != "p1" {
		t.Fatalf("party id must be preserved, got %q", applied.PartyID)
	}
}

func TestMemberConnectedReplacesStaleEntry(t *testing.T) {
	st := newReplicatedState()
	st.ReplaceFull(fullState(1))

	updates, err := st.ApplyMemberConnected(2, Member{UserID: "u2", SessionID: "s2-new", Status: StatusReady})
	if err != nil {
		t.Fatalf("member connected: %v", err)
	}

	if len(updates) != 1 || !updates[0].Changes.Has(events.MemberJoined) {
		t.Fatalf("unexpected updates: %+v", updates)
	}

	snap, _ := st.Snapshot()
	if len(snap.Members) != 2 {
		t.Fatalf("duplicate user id must replace, not append: %d members", len(snap.Members))
	}

	m, _ := findMember(snap.Members, "u2")
	if m.SessionID != "s2-new" {
		t.Fatalf("stale entry not replaced: %+v", m)
	}
}

func TestMemberDisconnectedKickedFlag(t *testing.T) {
	st := newReplicatedState()
	st.ReplaceFull(fullState(1))

	updates, err := st.ApplyMemberDisconnected(2, "u2", true)
	if err != nil {
		t.Fatalf("member disconnected: %v", err)
	}

	if len(updates) != 1 {
		t.Fatalf("expected one update, got %d", len(updates))
	}

	if !updates[0].Changes.Has(events.MemberLeft) || !updates[0].Changes.Has(events.MemberKicked) {
		t.Fatalf("expected left+kicked, got %v", updates[0].Changes)
	}
}
