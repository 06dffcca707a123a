package stormgo

import (
	"context"

	"github.com/ceskypane/stormgo/client"
	"github.com/ceskypane/stormgo/events"
	"github.com/ceskypane/stormgo/party"
)

// PartyClient is the runtime-facing control surface for bot and test
// orchestration layers.
type PartyClient interface {
	Connect(ctx context.Context) error
	Close(ctx context.Context) error

	SessionID() string

	CreateParty(ctx context.Context, req party.CreatePartyRequest) error
	JoinParty(ctx context.Context, partyID string) error
	JoinPartyByInvitationCode(ctx context.Context, code string) error
	LeaveParty(ctx context.Context) error
	PromoteLeader(ctx context.Context, userID string) error
	KickPlayer(ctx context.Context, userID string) error
	UpdatePlayerStatus(ctx context.Context, status party.MemberStatus) error
	SendInvitation(ctx context.Context, recipientID string, forceBuiltIn bool) (bool, error)

	Events() <-chan events.Event
	WaitFor(ctx context.Context, predicate events.Predicate) (events.Event, error)
}

// Bot adapts a connected Client into a PartyClient.
type Bot struct {
	*client.Client
}

var _ PartyClient = Bot{}

func NewBot(c *client.Client) Bot {
	return Bot{Client: c}
}

func (b Bot) CreateParty(ctx context.Context, req party.CreatePartyRequest) error {
	return b.Party().CreateParty(ctx, req)
}

func (b Bot) JoinParty(ctx context.Context, partyID string) error {
	return b.Party().JoinParty(ctx, partyID)
}

func (b Bot) JoinPartyByInvitationCode(ctx context.Context, code string) error {
	return b.Party().JoinPartyByInvitationCode(ctx, code)
}

func (b Bot) LeaveParty(ctx context.Context) error {
	return b.Party().LeaveParty(ctx)
}

func (b Bot) PromoteLeader(ctx context.Context, userID string) error {
	return b.Party().PromoteLeader(ctx, userID)
}

func (b Bot) KickPlayer(ctx context.Context, userID string) error {
	return b.Party().KickPlayer(ctx, userID)
}

func (b Bot) UpdatePlayerStatus(ctx context.Context, status party.MemberStatus) error {
	return b.Party().UpdatePlayerStatus(ctx, status)
}

func (b Bot) SendInvitation(ctx context.Context, recipientID string, forceBuiltIn bool) (bool, error) {
	return b.Party().SendInvitation(ctx, recipientID, forceBuiltIn)
}
