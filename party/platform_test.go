package party

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ceskypane/stormgo/events"
)

type fakeProvider struct {
	name string

	mu             sync.Mutex
	sessionCreates []string
	sessionLeaves  []string
	kicks          []string
	settingsCount  int
	membersCount   int
	advertised     []AdvertisedParty
	advertiseErr   error
	uiShown        bool
	uiSupported    bool
	joinRequested  func(InvitationInfo)
}

func (p *fakeProvider) PlatformName() string { return p.name }

func (p *fakeProvider) CreateOrJoinSessionForParty(_ context.Context, partyID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.sessionCreates = append(p.sessionCreates, partyID)
	return nil
}

func (p *fakeProvider) LeaveSessionForParty(_ context.Context, partyID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.sessionLeaves = append(p.sessionLeaves, partyID)
	return nil
}

func (p *fakeProvider) KickPlayer(_ context.Context, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.kicks = append(p.kicks, userID)
	return nil
}

func (p *fakeProvider) UpdateSessionSettings(context.Context, Settings) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.settingsCount++
	return nil
}

func (p *fakeProvider) UpdateSessionMembers(context.Context, []Member) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.membersCount++
	return nil
}

func (p *fakeProvider) GetAdvertisedParties(context.Context) ([]AdvertisedParty, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.advertiseErr != nil {
		return nil, p.advertiseErr
	}

	return p.advertised, nil
}

func (p *fakeProvider) OnJoinPartyRequested(fn func(InvitationInfo)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.joinRequested = fn
	return func() {}
}

func (p *fakeProvider) TryShowSystemInvitationUI(context.Context, string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.uiShown = p.uiSupported
	return p.uiSupported, nil
}

func newProviderManager(t *testing.T, providers ...PlatformProvider) (*Manager, *fakeConnector) {
	t.Helper()

	connector := &fakeConnector{}
	mgr, err := NewManager(ManagerConfig{
		Connector: connector,
		Tokens:    &fakeTokens{},
		Bus:       events.NewBus(),
		Providers: providers,
		Engine:    Config{LocalUserID: "u1"},
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	t.Cleanup(func() {
		_ = mgr.Close(context.Background())
	})

	return mgr, connector
}

func TestJoinCreatesAndLeaveReleasesPlatformSessions(t *testing.T) {
	provider := &fakeProvider{name: "steam"}
	mgr, _ := newProviderManager(t, provider)

	if err := mgr.CreateParty(context.Background(), CreatePartyRequest{}); err != nil {
		t.Fatalf("create: %v", err)
	}

	provider.mu.Lock()
	creates := append([]string{}, provider.sessionCreates...)
	provider.mu.Unlock()

	if len(creates) != 1 || creates[0] != "p1" {
		t.Fatalf("expected session create for p1, got %v", creates)
	}

	if err := mgr.LeaveParty(context.Background()); err != nil {
		t.Fatalf("leave: %v", err)
	}

	provider.mu.Lock()
	leaves := append([]string{}, provider.sessionLeaves...)
	provider.mu.Unlock()

	if len(leaves) != 1 || leaves[0] != "p1" {
		t.Fatalf("expected session leave for p1, got %v", leaves)
	}
}

func TestKickFansOutToProvidersThenHooks(t *testing.T) {
	provider := &fakeProvider{name: "steam"}
	mgr, _ := newProviderManager(t, provider)

	var mu sync.Mutex
	kickedHookUsers := make([]string, 0, 1)
	mgr.OnPlayerKicked(func(userID string) {
		provider.mu.Lock()
		providerKicks := len(provider.kicks)
		provider.mu.Unlock()

		if providerKicks != 1 {
			t.Errorf("kicked hook ran before provider kick")
		}

		mu.Lock()
		kickedHookUsers = append(kickedHookUsers, userID)
		mu.Unlock()
	})

	if err := mgr.CreateParty(context.Background(), CreatePartyRequest{}); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := mgr.KickPlayer(context.Background(), "u2"); err != nil {
		t.Fatalf("kick: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()

	if len(kickedHookUsers) != 1 || kickedHookUsers[0] != "u2" {
		t.Fatalf("expected kicked hook for u2, got %v", kickedHookUsers)
	}
}

func TestSettingsUpdatesBridgeToProviders(t *testing.T) {
	provider := &fakeProvider{name: "steam"}
	mgr, _ := newProviderManager(t, provider)

	if err := mgr.CreateParty(context.Background(), CreatePartyRequest{}); err != nil {
		t.Fatalf("create: %v", err)
	}

	settings, err := mgr.PartySettings()
	if err != nil {
		t.Fatalf("settings: %v", err)
	}

	settings.CustomData = "map:dust"
	if err := mgr.UpdateSettings(context.Background(), settings); err != nil {
		t.Fatalf("update settings: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		provider.mu.Lock()
		n := provider.settingsCount
		provider.mu.Unlock()

		if n >= 1 {
			return
		}

		if time.Now().After(deadline) {
			t.Fatalf("settings update never bridged to provider")
		}

		time.Sleep(5 * time.Millisecond)
	}
}

func TestAdvertisedPartiesSkipsFailingProvider(t *testing.T) {
	healthy := &fakeProvider{
		name:       "steam",
		advertised: []AdvertisedParty{{PartyID: "p7", LeaderID: "u7", Platform: "steam"}},
	}
	broken := &fakeProvider{name: "epic", advertiseErr: errors.New("offline")}
	mgr, _ := newProviderManager(t, healthy, broken)

	parties := mgr.AdvertisedParties(context.Background())
	if len(parties) != 1 || parties[0].PartyID != "p7" {
		t.Fatalf("expected only the healthy provider's parties, got %v", parties)
	}
}

func TestShowSystemInvitationUIFindsCapableProvider(t *testing.T) {
	noUI := &fakeProvider{name: "headless"}
	withUI := &fakeProvider{name: "steam", uiSupported: true}
	mgr, _ := newProviderManager(t, noUI, withUI)

	if err := mgr.CreateParty(context.Background(), CreatePartyRequest{}); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := mgr.ShowSystemInvitationUI(context.Background()); err != nil {
		t.Fatalf("show ui: %v", err)
	}

	withUI.mu.Lock()
	shown := withUI.uiShown
	withUI.mu.Unlock()

	if !shown {
		t.Fatalf("capable provider must have shown the overlay")
	}
}

func TestShowSystemInvitationUIWithoutCapableProvider(t *testing.T) {
	mgr, _ := newProviderManager(t, &fakeProvider{name: "headless"})

	if err := mgr.CreateParty(context.Background(), CreatePartyRequest{}); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := mgr.ShowSystemInvitationUI(context.Background()); !errors.Is(err, ErrUnsupportedAction) {
		t.Fatalf("expected ErrUnsupportedAction, got %v", err)
	}
}

func TestPlatformJoinRequestBecomesInvitation(t *testing.T) {
	provider := &fakeProvider{name: "steam"}
	mgr, _ := newProviderManager(t, provider)

	provider.mu.Lock()
	deliver := provider.joinRequested
	provider.mu.Unlock()

	if deliver == nil {
		t.Fatalf("manager must subscribe to provider join requests")
	}

	deliver(InvitationInfo{SenderID: "u8", PartyID: "p8", Platform: "steam"})

	pending := mgr.PendingInvitations()
	if len(pending) != 1 || pending[0].Platform() != "steam" {
		t.Fatalf("expected platform invitation, got %v", pending)
	}
}
