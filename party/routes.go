package party

// RPC routes served by the party scene.
const (
	routeGetPartyState        = "party.getpartystate"
	routeUpdateSettings       = "party.updatepartysettings"
	routeUpdatePlayerStatus   = "party.updategamefinderplayerstatus"
	routeUpdatePlayerData     = "party.updatepartyuserdata"
	routePromoteLeader        = "party.promoteleader"
	routeKickPlayer           = "party.kickplayer"
	routeSendInvitation       = "party.sendinvitation"
	routeCancelInvitation     = "party.cancelinvitation"
	routeCreateInvitationCode = "party.createinvitationcode"
	routeCancelInvitationCode = "party.cancelinvitationcode"
	routeGameSessionConnToken = "party.getgamesessionconnectiontoken"
)

// Push routes the party scene delivers to every connected member.
const (
	routePartyState          = "party.state"
	routeSettingsUpdated     = "party.settingsUpdated"
	routeMemberDataUpdated   = "party.memberDataUpdated"
	routeMemberStatusUpdated = "party.memberStatusUpdated"
	routeMemberConnected     = "party.memberConnected"
	routeMemberDisconnected  = "party.memberDisconnected"
	routeLeaderChanged       = "party.leaderChanged"
	routeMatchmakingFailed   = "party.matchmakingFailed"
)

// Server-side error ids the engine treats specially.
const (
	remoteSettingsOutdated = "party.settingsOutdated"
	remoteJoinDenied       = "party.joinDenied"
	remoteUnauthorized     = "party.unauthorized"
)

// Disconnection reason carried by a member-disconnected push when the member
// was removed by the leader.
const disconnectReasonKicked = "kicked"

type settingsDto struct {
	PartyID             string            `json:"partyId"`
	MatchmakerName      string            `json:"gameFinderName"`
	CustomData          string            `json:"customData"`
	OnlyLeaderCanInvite bool              `json:"onlyLeaderCanInvite"`
	IsJoinable          bool              `json:"isJoinable"`
	PublicServerData    map[string]string `json:"publicServerData"`
	IndexedDocument     string            `json:"indexedDocument"`
	SettingsVersion     int               `json:"settingsVersionNumber"`
}

type memberDto struct {
	UserID           string `json:"userId"`
	SessionID        string `json:"sessionId"`
	Status           string `json:"partyUserStatus"`
	Data             []byte `json:"userData"`
	LocalPlayerCount int    `json:"localPlayerCount"`
}

type partyStateDto struct {
	Settings settingsDto `json:"settings"`
	LeaderID string      `json:"leaderId"`
	Members  []memberDto `json:"partyMembers"`
	Version  int         `json:"version"`
}

type settingsUpdateDto struct {
	Version  int         `json:"version"`
	Settings settingsDto `json:"settings"`
}

type memberDataUpdateDto struct {
	Version          int    `json:"version"`
	UserID           string `json:"userId"`
	Data             []byte `json:"userData"`
	LocalPlayerCount int    `json:"localPlayerCount"`
}

type statusUpdateEntryDto struct {
	UserID string `json:"userId"`
	Status string `json:"partyUserStatus"`
}

type statusUpdateDto struct {
	Version int                    `json:"version"`
	Updates []statusUpdateEntryDto `json:"updates"`
}

type memberConnectedDto struct {
	Version int       `json:"version"`
	Member  memberDto `json:"member"`
}

type memberDisconnectedDto struct {
	Version int    `json:"version"`
	UserID  string `json:"userId"`
	Reason  string `json:"reason"`
}

type leaderChangedDto struct {
	Version  int    `json:"version"`
	LeaderID string `json:"leaderId"`
}

type matchmakingFailedDto struct {
	Reason string `json:"reason"`
}

type updateStatusRequestDto struct {
	Status          string `json:"desiredStatus"`
	SettingsVersion int    `json:"localSettingsVersion"`
}

type updateDataRequestDto struct {
	Data             []byte `json:"userData"`
	LocalPlayerCount int    `json:"localPlayerCount"`
}

type targetUserRequestDto struct {
	UserID string `json:"userId"`
}

type sendInvitationRequestDto struct {
	RecipientID  string `json:"recipientId"`
	ForceBuiltIn bool   `json:"forceStormancerInvite"`
}

type cancelInvitationRequestDto struct {
	RecipientID string `json:"recipientId"`
}

func settingsToDto(s Settings) settingsDto {
	return settingsDto{
		PartyID:             s.PartyID,
		MatchmakerName:      s.MatchmakerName,
		CustomData:          s.CustomData,
		OnlyLeaderCanInvite: s.OnlyLeaderCanInvite,
		IsJoinable:          s.IsJoinable,
		PublicServerData:    s.PublicServerData,
		IndexedDocument:     s.IndexedDocument,
		SettingsVersion:     s.SettingsVersion,
	}
}

func settingsFromDto(d settingsDto) Settings {
	return Settings{
		PartyID:             d.PartyID,
		MatchmakerName:      d.MatchmakerName,
		CustomData:          d.CustomData,
		OnlyLeaderCanInvite: d.OnlyLeaderCanInvite,
		IsJoinable:          d.IsJoinable,
		PublicServerData:    cloneStringMap(d.PublicServerData),
		IndexedDocument:     d.IndexedDocument,
		SettingsVersion:     d.SettingsVersion,
	}
}

func memberFromDto(d memberDto) Member {
	status := MemberStatus(d.Status)
	if status != StatusReady {
		status = StatusNotReady
	}

	return Member{
		UserID:           d.UserID,
		SessionID:        d.SessionID,
		Status:           status,
		Data:             cloneBytes(d.Data),
		LocalPlayerCount: d.LocalPlayerCount,
	}
}

func stateFromDto(d partyStateDto) PartyState {
	members := make([]Member, 0, len(d.Members))
	for _, md := range d.Members {
		member := memberFromDto(md)
		member.IsLeader = member.UserID == d.LeaderID
		members = append(members, member)
	}

	return PartyState{
		Settings: settingsFromDto(d.Settings),
		LeaderID: d.LeaderID,
		Members:  members,
		Version:  d.Version,
	}
}
