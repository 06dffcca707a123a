package party

import "context"

// AdvertisedParty is a party a platform surface (friend list, overlay)
// advertises as joinable.
type AdvertisedParty struct {
	PartyID  string
	LeaderID string
	Platform string
	Metadata map[string]string
}

// PlatformProvider bridges party state into a platform-specific session
// (lobby, rich presence) and relays platform-side invitations. Providers are
// registered collaborators: the party layer never owns, tears down, or
// special-cases one. Every provider error is logged and never propagated to
// the caller of the party operation.
type PlatformProvider interface {
	PlatformName() string

	CreateOrJoinSessionForParty(ctx context.Context, partyID string) error
	LeaveSessionForParty(ctx context.Context, partyID string) error
	KickPlayer(ctx context.Context, userID string) error

	UpdateSessionSettings(ctx context.Context, settings Settings) error
	UpdateSessionMembers(ctx context.Context, members []Member) error

	GetAdvertisedParties(ctx context.Context) ([]AdvertisedParty, error)

	// OnJoinPartyRequested registers a callback fired when the platform asks
	// the local user to join a party (system invitation accepted, "join
	// friend" overlay action). It returns the unsubscribe func.
	OnJoinPartyRequested(fn func(InvitationInfo)) (unsubscribe func())

	// TryShowSystemInvitationUI opens the platform invitation overlay when
	// the platform has one. It reports false when unsupported.
	TryShowSystemInvitationUI(ctx context.Context, partyID string) (bool, error)
}
