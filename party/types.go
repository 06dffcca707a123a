package party

import (
	"errors"
	"time"

	"github.com/ceskypane/stormgo/logging"
)

var (
	ErrNotInParty        = errors.New("party: not in a party")
	ErrAlreadyInParty    = errors.New("party: already in a party")
	ErrUnauthorized      = errors.New("party: operation requires party leadership")
	ErrPartyNotReady     = errors.New("party: no matchmaker configured")
	ErrMemberNotFound    = errors.New("party: member not found")
	ErrInvalidInvitation = errors.New("party: invitation is no longer valid")
	ErrJoinDenied        = errors.New("party: join denied")
	ErrSettingsOutdated  = errors.New("party: settings version outdated")
	ErrUnsupportedAction = errors.New("party: no platform provider supports this action")
	errVersionGap        = errors.New("party: non-contiguous state version")
	errStateNotSynced    = errors.New("party: state not synchronized yet")
)

type MemberStatus string

const (
	StatusNotReady MemberStatus = "NotReady"
	StatusReady    MemberStatus = "Ready"
)

// Settings is the party configuration replicated to every member.
// PublicServerData is written by the server only; clients carry it through
// updates untouched.
type Settings struct {
	PartyID             string
	MatchmakerName      string
	CustomData          string
	OnlyLeaderCanInvite bool
	IsJoinable          bool
	PublicServerData    map[string]string
	IndexedDocument     string
	SettingsVersion     int
}

func (s Settings) clone() Settings {
	out := s
	out.PublicServerData = cloneStringMap(s.PublicServerData)

	return out
}

type Member struct {
	UserID           string
	SessionID        string
	Status           MemberStatus
	Data             []byte
	LocalPlayerCount int
	IsLeader         bool
}

func (m Member) clone() Member {
	out := m
	out.Data = cloneBytes(m.Data)

	return out
}

// PartyState is the locally cached, server-canonical party state. Version is
// the contiguity counter for server deltas; Settings.SettingsVersion is the
// parallel sequence for leader-authored settings.
type PartyState struct {
	Settings Settings
	LeaderID string
	Members  []Member
	Version  int
}

type Config struct {
	LocalUserID string

	// StatusUpdateRetries bounds the transparent retry of a player-status
	// update after a settings-outdated reply from the server.
	StatusUpdateRetries int

	MaxJoinAttempts int
	JoinRetryDelay  time.Duration

	Logger logging.Logger
}

func DefaultConfig() Config {
	return Config{
		StatusUpdateRetries: 1,
		MaxJoinAttempts:     3,
		JoinRetryDelay:      2 * time.Second,
	}
}

// CreatePartyRequest carries the initial settings for a new party.
type CreatePartyRequest struct {
	MatchmakerName      string
	CustomData          string
	OnlyLeaderCanInvite bool
	IsJoinable          bool
	IndexedDocument     string
}

func cloneStringMap(in map[string]string) map[string]string {
	if len(in) == 0 {
		return map[string]string{}
	}

	out := make(map[string]string, len(in))
	for key, value := range in {
		out[key] = value
	}

	return out
}

func cloneBytes(in []byte) []byte {
	if len(in) == 0 {
		return nil
	}

	out := make([]byte, len(in))
	copy(out, in)

	return out
}
