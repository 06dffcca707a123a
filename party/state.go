package party

import (
	"sync"

	"github.com/ceskypane/stormgo/events"
)

// replicatedState is the locally cached copy of the server-canonical party
// state. Server deltas must carry version == local version + 1; anything else
// is rejected with errVersionGap and the caller triggers a full resync. Full
// state replacements bypass the contiguity check and set the version.
//
// Mutating methods return the event payloads to publish so callers emit them
// after the lock is released; subscriber callbacks may re-enter read
// accessors.
type replicatedState struct {
	mu     sync.Mutex
	st     PartyState
	synced bool
}

func newReplicatedState() *replicatedState {
	return &replicatedState{}
}

func (s *replicatedState) Snapshot() (PartyState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.cloneLocked(), s.synced
}

func (s *replicatedState) cloneLocked() PartyState {
	out := PartyState{
		Settings: s.st.Settings.clone(),
		LeaderID: s.st.LeaderID,
		Version:  s.st.Version,
		Members:  make([]Member, 0, len(s.st.Members)),
	}
	for _, m := range s.st.Members {
		out.Members = append(out.Members, m.clone())
	}

	return out
}

func (s *replicatedState) member(userID string) (Member, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.st.Members {
		if m.UserID == userID {
			return m.clone(), true
		}
	}

	return Member{}, false
}

// ReplaceFull installs a complete server state and synthesizes the member
// update that turns the previous member list into the new one, so
// subscribers see a coherent event stream even though the mechanism was
// "replace everything".
func (s *replicatedState) ReplaceFull(next PartyState) []events.MemberUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.st.Members
	s.st = next
	s.applyLeaderLocked(next.LeaderID)
	s.synced = true

	return diffMembers(previous, s.st.Members)
}

// ApplySettings applies a versioned settings delta. The settings object is
// replaced wholesale, never merged field by field.
func (s *replicatedState) ApplySettings(version int, settings Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkVersionLocked(version); err != nil {
		return err
	}

	s.st.Settings = settings.clone()
	s.st.Version = version

	return nil
}

// LocalUpdateSettings is the optimistic half of an updateSettings call: the
// settings version is bumped by one and the object replaced. The server's
// subsequent push or resync replaces it wholesale.
func (s *replicatedState) LocalUpdateSettings(settings Settings) Settings {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings.PartyID = s.st.Settings.PartyID
	settings.PublicServerData = cloneStringMap(s.st.Settings.PublicServerData)
	settings.SettingsVersion = s.st.Settings.SettingsVersion + 1
	s.st.Settings = settings.clone()

	return settings.clone()
}

func (s *replicatedState) ApplyMemberData(version int, userID string, data []byte, localPlayerCount int) ([]events.MemberUpdate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkVersionLocked(version); err != nil {
		return nil, err
	}

	s.st.Version = version

	return s.setMemberDataLocked(userID, data, localPlayerCount), nil
}

func (s *replicatedState) LocalSetMemberData(userID string, data []byte, localPlayerCount int) []events.MemberUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.setMemberDataLocked(userID, data, localPlayerCount)
}

func (s *replicatedState) setMemberDataLocked(userID string, data []byte, localPlayerCount int) []events.MemberUpdate {
	for i := range s.st.Members {
		if s.st.Members[i].UserID != userID {
			continue
		}

		s.st.Members[i].Data = cloneBytes(data)
		s.st.Members[i].LocalPlayerCount = localPlayerCount

		return []events.MemberUpdate{memberUpdate(s.st.Members[i], events.MemberDataUpdated)}
	}

	return nil
}

func (s *replicatedState) ApplyStatusBatch(version int, updates map[string]MemberStatus) ([]events.MemberUpdate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkVersionLocked(version); err != nil {
		return nil, err
	}

	s.st.Version = version

	out := make([]events.MemberUpdate, 0, len(updates))
	for i := range s.st.Members {
		status, ok := updates[s.st.Members[i].UserID]
		if !ok {
			continue
		}

		s.st.Members[i].Status = status
		out = append(out, memberUpdate(s.st.Members[i], events.MemberStatusUpdated))
	}

	return out, nil
}

func (s *replicatedState) LocalSetStatus(userID string, status MemberStatus) []events.MemberUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.st.Members {
		if s.st.Members[i].UserID != userID {
			continue
		}

		s.st.Members[i].Status = status

		return []events.MemberUpdate{memberUpdate(s.st.Members[i], events.MemberStatusUpdated)}
	}

	return nil
}

func (s *replicatedState) ApplyMemberConnected(version int, member Member) ([]events.MemberUpdate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkVersionLocked(version); err != nil {
		return nil, err
	}

	s.st.Version = version

	// A duplicate user id replaces the stale entry instead of growing the
	// list.
	for i := range s.st.Members {
		if s.st.Members[i].UserID == member.UserID {
			member.IsLeader = s.st.Members[i].IsLeader
			s.st.Members[i] = member.clone()

			return []events.MemberUpdate{memberUpdate(s.st.Members[i], events.MemberJoined)}, nil
		}
	}

	member.IsLeader = member.UserID == s.st.LeaderID
	s.st.Members = append(s.st.Members, member.clone())

	return []events.MemberUpdate{memberUpdate(member, events.MemberJoined)}, nil
}

func (s *replicatedState) ApplyMemberDisconnected(version int, userID string, kicked bool) ([]events.MemberUpdate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkVersionLocked(version); err != nil {
		return nil, err
	}

	s.st.Version = version

	return s.removeMemberLocked(userID, kicked), nil
}

func (s *replicatedState) LocalRemoveMember(userID string, kicked bool) []events.MemberUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.removeMemberLocked(userID, kicked)
}

func (s *replicatedState) removeMemberLocked(userID string, kicked bool) []events.MemberUpdate {
	for i := range s.st.Members {
		if s.st.Members[i].UserID != userID {
			continue
		}

		removed := s.st.Members[i]
		s.st.Members = append(s.st.Members[:i], s.st.Members[i+1:]...)

		changes := events.MemberLeft
		if kicked {
			changes |= events.MemberKicked
		}

		return []events.MemberUpdate{memberUpdate(removed, changes)}
	}

	return nil
}

func (s *replicatedState) ApplyLeaderChanged(version int, leaderID string) ([]events.MemberUpdate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkVersionLocked(version); err != nil {
		return nil, err
	}

	s.st.Version = version

	return s.applyLeaderLocked(leaderID), nil
}

func (s *replicatedState) LocalPromoteLeader(leaderID string) []events.MemberUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.applyLeaderLocked(leaderID)
}

// applyLeaderLocked re-derives every member's IsLeader flag so exactly one
// member carries it.
func (s *replicatedState) applyLeaderLocked(leaderID string) []events.MemberUpdate {
	out := make([]events.MemberUpdate, 0, 2)
	s.st.LeaderID = leaderID

	for i := range s.st.Members {
		isLeader := s.st.Members[i].UserID == leaderID
		if s.st.Members[i].IsLeader == isLeader {
			continue
		}

		s.st.Members[i].IsLeader = isLeader
		change := events.MemberDemotedFromLeader
		if isLeader {
			change = events.MemberPromotedToLeader
		}

		out = append(out, memberUpdate(s.st.Members[i], change))
	}

	return out
}

func (s *replicatedState) Version() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.st.Version
}

func (s *replicatedState) checkVersionLocked(version int) error {
	if !s.synced {
		return errStateNotSynced
	}

	if version != s.st.Version+1 {
		return errVersionGap
	}

	return nil
}

func memberUpdate(m Member, changes events.MemberChange) events.MemberUpdate {
	return events.MemberUpdate{
		UserID:           m.UserID,
		SessionID:        m.SessionID,
		Status:           string(m.Status),
		Data:             cloneBytes(m.Data),
		LocalPlayerCount: m.LocalPlayerCount,
		IsLeader:         m.IsLeader,
		Changes:          changes,
	}
}

// diffMembers synthesizes the member update equivalent to replacing previous
// with next: joins and in-place changes in next order, then departures in
// previous order.
func diffMembers(previous, next []Member) []events.MemberUpdate {
	prevByID := make(map[string]Member, len(previous))
	for _, m := range previous {
		prevByID[m.UserID] = m
	}

	out := make([]events.MemberUpdate, 0, len(next))

	for _, m := range next {
		old, existed := prevByID[m.UserID]
		if !existed {
			changes := events.MemberJoined
			if m.IsLeader {
				changes |= events.MemberPromotedToLeader
			}

			out = append(out, memberUpdate(m, changes))
			continue
		}

		delete(prevByID, m.UserID)

		var changes events.MemberChange
		if old.Status != m.Status {
			changes |= events.MemberStatusUpdated
		}

		if !bytesEqual(old.Data, m.Data) || old.LocalPlayerCount != m.LocalPlayerCount {
			changes |= events.MemberDataUpdated
		}

		if !old.IsLeader && m.IsLeader {
			changes |= events.MemberPromotedToLeader
		}

		if old.IsLeader && !m.IsLeader {
			changes |= events.MemberDemotedFromLeader
		}

		if changes != 0 {
			out = append(out, memberUpdate(m, changes))
		}
	}

	for _, m := range previous {
		if _, departed := prevByID[m.UserID]; !departed {
			continue
		}

		out = append(out, memberUpdate(m, events.MemberLeft))
	}

	return out
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}
