package events

import "time"

type Name string

const (
	EventClientReady        Name = "client.ready"
	EventClientDisconnected Name = "client.disconnected"

	EventSceneStateChanged Name = "scene.state_changed"

	EventPartyJoined             Name = "party.joined"
	EventPartyLeft               Name = "party.left"
	EventPartySettingsUpdated    Name = "party.settings_updated"
	EventPartyMembersUpdated     Name = "party.members_updated"
	EventPartyLeaderChanged      Name = "party.leader_changed"
	EventPartyInvitationReceived Name = "party.invitation_received"
	EventPartyInvitationCanceled Name = "party.invitation_canceled"

	EventGameFinderStatusChanged Name = "gamefinder.status_changed"
	EventGameFound               Name = "gamefinder.game_found"
	EventGameFindFailed          Name = "gamefinder.find_failed"
)

type Event interface {
	Name() Name
	Timestamp() time.Time
}

type Base struct {
	At time.Time
}

func (b Base) Timestamp() time.Time {
	return b.At
}

type ClientReady struct {
	Base
}

func (e ClientReady) Name() Name {
	return EventClientReady
}

type ClientDisconnected struct {
	Base
	Err error
}

func (e ClientDisconnected) Name() Name {
	return EventClientDisconnected
}

type SceneStateChanged struct {
	Base
	SceneID string
	State   string
	Reason  string
}

func (e SceneStateChanged) Name() Name {
	return EventSceneStateChanged
}

type PartyJoined struct {
	Base
	PartyID string
}

func (e PartyJoined) Name() Name {
	return EventPartyJoined
}

type PartyLeft struct {
	Base
	PartyID string
	Reason  string
}

func (e PartyLeft) Name() Name {
	return EventPartyLeft
}

type PartySettingsUpdated struct {
	Base
	PartyID             string
	Version             int
	SettingsVersion     int
	MatchmakerName      string
	CustomData          string
	OnlyLeaderCanInvite bool
	IsJoinable          bool
	IndexedDocument     string
	PublicServerData    map[string]string
}

func (e PartySettingsUpdated) Name() Name {
	return EventPartySettingsUpdated
}

// MemberChange is a bitmask of what happened to a member in one update.
// Several flags may co-occur, e.g. a kicked member carries Left|Kicked.
type MemberChange uint8

const (
	MemberJoined MemberChange = 1 << iota
	MemberLeft
	MemberKicked
	MemberStatusUpdated
	MemberDataUpdated
	MemberPromotedToLeader
	MemberDemotedFromLeader
)

func (c MemberChange) Has(flag MemberChange) bool {
	return c&flag != 0
}

type MemberUpdate struct {
	UserID           string
	SessionID        string
	Status           string
	Data             []byte
	LocalPlayerCount int
	IsLeader         bool
	Changes          MemberChange
}

type PartyMembersUpdated struct {
	Base
	PartyID string
	Version int
	Updates []MemberUpdate
}

func (e PartyMembersUpdated) Name() Name {
	return EventPartyMembersUpdated
}

type PartyLeaderChanged struct {
	Base
	PartyID  string
	LeaderID string
	Version  int
}

func (e PartyLeaderChanged) Name() Name {
	return EventPartyLeaderChanged
}

type PartyInvitationReceived struct {
	Base
	InvitationID string
	PartyID      string
	SenderID     string
	Platform     string
}

func (e PartyInvitationReceived) Name() Name {
	return EventPartyInvitationReceived
}

type PartyInvitationCanceled struct {
	Base
	InvitationID string
	SenderID     string
}

func (e PartyInvitationCanceled) Name() Name {
	return EventPartyInvitationCanceled
}

type GameFinderStatusChanged struct {
	Base
	MatchmakerName string
	Status         string
}

func (e GameFinderStatusChanged) Name() Name {
	return EventGameFinderStatusChanged
}

type GameFound struct {
	Base
	MatchmakerName  string
	ConnectionToken string
}

func (e GameFound) Name() Name {
	return EventGameFound
}

type GameFindFailed struct {
	Base
	MatchmakerName string
	Reason         string
}

func (e GameFindFailed) Name() Name {
	return EventGameFindFailed
}
