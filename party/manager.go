package party

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ceskypane/stormgo/events"
	"github.com/ceskypane/stormgo/internal/backoff"
	"github.com/ceskypane/stormgo/logging"
	"github.com/ceskypane/stormgo/scene"
)

// TokenResolver turns the different join entry points into scene connection
// tokens.
type TokenResolver interface {
	CreateParty(ctx context.Context, req CreatePartyRequest) (string, error)
	TokenForParty(ctx context.Context, partyID string) (string, error)
	TokenForScene(ctx context.Context, sceneID string) (string, error)
	TokenFromInvitationCode(ctx context.Context, code string) (string, error)
}

// Leave reasons reported by the PartyLeft event.
const (
	LeftReasonLeft         = "left"
	LeftReasonKicked       = "kicked"
	LeftReasonDisconnected = "disconnected"
	LeftReasonJoinAborted  = "join_aborted"
)

type ManagerConfig struct {
	Connector  scene.Connector
	Tokens     TokenResolver
	GameFinder GameFinder
	Bus        *events.Bus
	Providers  []PlatformProvider

	Engine Config

	Logger logging.Logger
}

// membership is the single-flight "current party" handle: it exists from the
// moment a create/join is accepted, even while the join is still in flight.
type membership struct {
	done      chan struct{}
	container *Container
	err       error
}

// Container bundles everything that exists only while the local user is in a
// party: the scene connection, the engine instance and the subscriptions
// wired into both. Tearing it down releases all of them.
type Container struct {
	sc  scene.Scene
	svc *Service

	sub        *events.Subscription
	unsubState func()
	closeOnce  sync.Once
}

func (c *Container) Service() *Service {
	return c.svc
}

// Manager is the party façade: it owns the lifecycle of "being in a party"
// as a single guarded resource and layers invitations and platform session
// bridging on top of the engine.
type Manager struct {
	cfg ManagerConfig
	bus *events.Bus
	log logging.Logger

	mu      sync.Mutex
	current *membership

	inviteMu    sync.Mutex
	received    map[string]*PendingInvitation
	buffered    *PendingInvitation
	inviteSubs  map[uint64]func(*PendingInvitation)
	inviteSubID uint64

	hookMu       sync.Mutex
	hookID       uint64
	joiningHooks map[uint64]func(ctx context.Context, svc *Service) error
	leavingHooks map[uint64]func(ctx context.Context, svc *Service) error
	kickedHooks  map[uint64]func(userID string)

	// Provider bridging is serialized per update kind so overlapping pushes
	// never interleave on the same platform session.
	settingsChain *taskChain
	membersChain  *taskChain

	providerUnsubs []func()

	runCtx context.Context
	cancel context.CancelFunc

	after func(d time.Duration) <-chan time.Time
	now   func() time.Time
}

func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Connector == nil {
		return nil, errors.New("party: connector is required")
	}

	if cfg.Tokens == nil {
		return nil, errors.New("party: token resolver is required")
	}

	if cfg.Bus == nil {
		cfg.Bus = events.NewBus()
	}

	defaults := DefaultConfig()
	if cfg.Engine.MaxJoinAttempts <= 0 {
		cfg.Engine.MaxJoinAttempts = defaults.MaxJoinAttempts
	}

	if cfg.Engine.JoinRetryDelay <= 0 {
		cfg.Engine.JoinRetryDelay = defaults.JoinRetryDelay
	}

	if cfg.Engine.Logger == nil {
		cfg.Engine.Logger = cfg.Logger
	}

	runCtx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		cfg:           cfg,
		bus:           cfg.Bus,
		log:           logging.With(cfg.Logger),
		received:      make(map[string]*PendingInvitation),
		inviteSubs:    make(map[uint64]func(*PendingInvitation)),
		joiningHooks:  make(map[uint64]func(context.Context, *Service) error),
		leavingHooks:  make(map[uint64]func(context.Context, *Service) error),
		kickedHooks:   make(map[uint64]func(string)),
		settingsChain: newTaskChain(),
		membersChain:  newTaskChain(),
		runCtx:        runCtx,
		cancel:        cancel,
		after:         time.After,
		now:           time.Now,
	}

	for _, provider := range cfg.Providers {
		unsub := provider.OnJoinPartyRequested(func(info InvitationInfo) {
			m.HandleIncomingInvitation(info)
		})
		m.providerUnsubs = append(m.providerUnsubs, unsub)
	}

	return m, nil
}

// Close leaves the current party, releases provider subscriptions and aborts
// every background task.
func (m *Manager) Close(ctx context.Context) error {
	err := m.LeaveParty(ctx)

	for _, unsub := range m.providerUnsubs {
		unsub()
	}
	m.providerUnsubs = nil

	m.cancel()
	return err
}

// --- membership lifecycle ---

func (m *Manager) CreateParty(ctx context.Context, req CreatePartyRequest) error {
	return m.enterParty(ctx, func(ctx context.Context) (string, error) {
		return m.cfg.Tokens.CreateParty(ctx, req)
	})
}

func (m *Manager) JoinParty(ctx context.Context, partyID string) error {
	return m.enterParty(ctx, func(ctx context.Context) (string, error) {
		return m.cfg.Tokens.TokenForParty(ctx, partyID)
	})
}

func (m *Manager) JoinPartyByToken(ctx context.Context, token string) error {
	return m.enterParty(ctx, func(context.Context) (string, error) {
		return token, nil
	})
}

func (m *Manager) JoinPartyBySceneID(ctx context.Context, sceneID string) error {
	return m.enterParty(ctx, func(ctx context.Context) (string, error) {
		return m.cfg.Tokens.TokenForScene(ctx, sceneID)
	})
}

func (m *Manager) JoinPartyByInvitationCode(ctx context.Context, code string) error {
	return m.enterParty(ctx, func(ctx context.Context) (string, error) {
		return m.cfg.Tokens.TokenFromInvitationCode(ctx, code)
	})
}

// enterParty is the single join funnel. The membership handle is claimed
// before any network call so a concurrent create/join fails fast with
// ErrAlreadyInParty even while the first join is still in flight.
func (m *Manager) enterParty(ctx context.Context, resolveToken func(context.Context) (string, error)) error {
	m.mu.Lock()
	if m.current != nil {
		m.mu.Unlock()
		return ErrAlreadyInParty
	}

	fut := &membership{done: make(chan struct{})}
	m.current = fut
	m.mu.Unlock()

	container, err := m.joinWithRetry(ctx, resolveToken)
	if err != nil {
		m.mu.Lock()
		if m.current == fut {
			m.current = nil
		}
		m.mu.Unlock()

		fut.err = err
		close(fut.done)
		return err
	}

	fut.container = container
	close(fut.done)

	partyID := container.svc.PartyID()
	m.log.Info("joined party", logging.F("party_id", partyID))
	_ = m.bus.Emit(events.PartyJoined{Base: events.Base{At: m.now().UTC()}, PartyID: partyID})

	m.bridgeSessionCreation(container)
	return nil
}

func (m *Manager) joinWithRetry(ctx context.Context, resolveToken func(context.Context) (string, error)) (*Container, error) {
	maxAttempts := m.cfg.Engine.MaxJoinAttempts
	delayFor := backoff.Fixed(m.cfg.Engine.JoinRetryDelay)

	for attempt := 1; ; attempt++ {
		container, err := m.joinOnce(ctx, resolveToken)
		if err == nil {
			return container, nil
		}

		if errors.Is(err, ErrJoinDenied) || errors.Is(err, scene.ErrClientDestroyed) || ctx.Err() != nil {
			return nil, err
		}

		if attempt >= maxAttempts {
			return nil, err
		}

		m.log.Warn("party join failed, retrying",
			logging.F("attempt", attempt),
			logging.F("delay", m.cfg.Engine.JoinRetryDelay.String()),
			logging.F("error", err.Error()),
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-m.after(delayFor(attempt)):
		}
	}
}

func (m *Manager) joinOnce(ctx context.Context, resolveToken func(context.Context) (string, error)) (*Container, error) {
	token, err := resolveToken(ctx)
	if err != nil {
		return nil, mapJoinError(err)
	}

	sc, err := m.cfg.Connector.ConnectToScene(ctx, token)
	if err != nil {
		return nil, mapJoinError(err)
	}

	svc := NewService(sc, m.bus, m.cfg.GameFinder, m.cfg.Engine)
	container := &Container{sc: sc, svc: svc}

	for _, hook := range m.snapshotJoiningHooks() {
		if hookErr := hook(ctx, svc); hookErr != nil {
			m.teardownContainer(container, LeftReasonJoinAborted, true)
			return nil, fmt.Errorf("%w: %v", ErrJoinDenied, hookErr)
		}
	}

	svc.Start()
	if err := svc.WaitReady(ctx); err != nil {
		// The scene connection is up; cleanup interceptors still run even
		// when the caller canceled.
		m.teardownContainer(container, LeftReasonJoinAborted, true)
		return nil, mapJoinError(err)
	}

	m.wireContainer(container)
	return container, nil
}

// LeaveParty is idempotent: calling it while not in a party resolves
// immediately.
func (m *Manager) LeaveParty(ctx context.Context) error {
	m.mu.Lock()
	fut := m.current
	m.mu.Unlock()

	if fut == nil {
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-fut.done:
	}

	if fut.err != nil {
		// The join this handle tracked already failed and cleared itself.
		return nil
	}

	m.mu.Lock()
	if m.current != fut {
		m.mu.Unlock()
		return nil
	}
	m.current = nil
	m.mu.Unlock()

	m.teardownContainer(fut.container, LeftReasonLeft, true)
	return nil
}

// teardownContainer releases everything the container owns, exactly once.
// Whatever happens to the scene disconnect, every leaving interceptor and
// provider cleanup still runs before the left event fires.
func (m *Manager) teardownContainer(c *Container, reason string, disconnectScene bool) {
	c.closeOnce.Do(func() {
		partyID := c.svc.PartyID()

		c.svc.Close()

		if c.unsubState != nil {
			c.unsubState()
		}

		cleanupCtx, cancelCleanup := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelCleanup()

		if disconnectScene {
			if err := c.sc.Disconnect(cleanupCtx); err != nil {
				m.log.Warn("party scene disconnect failed", logging.F("error", err.Error()))
			}
		}

		for _, hook := range m.snapshotLeavingHooks() {
			if err := hook(cleanupCtx, c.svc); err != nil {
				m.log.Warn("leaving interceptor failed", logging.F("error", err.Error()))
			}
		}

		for _, provider := range m.cfg.Providers {
			if err := provider.LeaveSessionForParty(cleanupCtx, partyID); err != nil {
				m.log.Warn("platform session leave failed",
					logging.F("platform", provider.PlatformName()),
					logging.F("error", err.Error()),
				)
			}
		}

		if c.sub != nil {
			c.sub.Cancel()
		}

		m.log.Info("left party", logging.F("party_id", partyID), logging.F("reason", reason))
		_ = m.bus.Emit(events.PartyLeft{
			Base:    events.Base{At: m.now().UTC()},
			PartyID: partyID,
			Reason:  reason,
		})
	})
}

func (m *Manager) wireContainer(c *Container) {
	sub, err := m.bus.Subscribe(64)
	if err == nil {
		c.sub = sub
		go m.bridgePump(c)
	}

	c.unsubState = c.sc.OnStateChanged(func(cs scene.ConnectionState) {
		if cs.State != scene.StateDisconnected {
			return
		}

		go m.handleRemoteDisconnect(c, cs.Reason)
	})
}

// handleRemoteDisconnect reacts to a server-initiated scene disconnect
// (e.g. the local user was kicked) by running the same leave path as an
// explicit LeaveParty.
func (m *Manager) handleRemoteDisconnect(c *Container, sceneReason string) {
	m.mu.Lock()
	fut := m.current
	owned := false
	if fut != nil {
		select {
		case <-fut.done:
			owned = fut.container == c
		default:
		}
	}
	if owned {
		m.current = nil
	}
	m.mu.Unlock()

	reason := LeftReasonDisconnected
	if sceneReason == scene.ReasonKicked {
		reason = LeftReasonKicked
	}

	m.teardownContainer(c, reason, false)
}

// --- engine passthrough ---

func (m *Manager) service() (*Service, error) {
	m.mu.Lock()
	fut := m.current
	m.mu.Unlock()

	if fut == nil {
		return nil, ErrNotInParty
	}

	select {
	case <-fut.done:
	default:
		return nil, ErrNotInParty
	}

	if fut.err != nil || fut.container == nil {
		return nil, ErrNotInParty
	}

	return fut.container.svc, nil
}

func (m *Manager) IsInParty() bool {
	_, err := m.service()
	return err == nil
}

func (m *Manager) UpdateSettings(ctx context.Context, settings Settings) error {
	svc, err := m.service()
	if err != nil {
		return err
	}

	return svc.UpdateSettings(ctx, settings)
}

func (m *Manager) UpdatePlayerStatus(ctx context.Context, status MemberStatus) error {
	svc, err := m.service()
	if err != nil {
		return err
	}

	return svc.UpdatePlayerStatus(ctx, status)
}

func (m *Manager) UpdatePlayerData(ctx context.Context, data []byte, localPlayerCount int) error {
	svc, err := m.service()
	if err != nil {
		return err
	}

	return svc.UpdatePlayerData(ctx, data, localPlayerCount)
}

func (m *Manager) PromoteLeader(ctx context.Context, userID string) error {
	svc, err := m.service()
	if err != nil {
		return err
	}

	return svc.PromoteLeader(ctx, userID)
}

// KickPlayer removes the member through the engine, then asks every platform
// provider to drop the player from its session. Kicked hooks run only after
// all providers were attempted.
func (m *Manager) KickPlayer(ctx context.Context, userID string) error {
	svc, err := m.service()
	if err != nil {
		return err
	}

	if err := svc.KickPlayer(ctx, userID); err != nil {
		return err
	}

	for _, provider := range m.cfg.Providers {
		if perr := provider.KickPlayer(ctx, userID); perr != nil {
			m.log.Warn("platform kick failed",
				logging.F("platform", provider.PlatformName()),
				logging.F("user_id", userID),
				logging.F("error", perr.Error()),
			)
		}
	}

	for _, hook := range m.snapshotKickedHooks() {
		hook(userID)
	}

	return nil
}

func (m *Manager) SendInvitation(ctx context.Context, recipientID string, forceBuiltIn bool) (bool, error) {
	svc, err := m.service()
	if err != nil {
		return false, err
	}

	if svc.Settings().OnlyLeaderCanInvite && !svc.IsLeader() {
		return false, ErrUnauthorized
	}

	return svc.SendInvitation(ctx, recipientID, forceBuiltIn)
}

func (m *Manager) CancelInvitation(ctx context.Context, recipientID string) error {
	svc, err := m.service()
	if err != nil {
		return err
	}

	return svc.CancelInvitation(ctx, recipientID)
}

func (m *Manager) CreateInvitationCode(ctx context.Context) (string, error) {
	svc, err := m.service()
	if err != nil {
		return "", err
	}

	return svc.CreateInvitationCode(ctx)
}

func (m *Manager) CancelInvitationCode(ctx context.Context) error {
	svc, err := m.service()
	if err != nil {
		return err
	}

	return svc.CancelInvitationCode(ctx)
}

func (m *Manager) GetCurrentGameSessionConnectionToken(ctx context.Context) (string, error) {
	svc, err := m.service()
	if err != nil {
		return "", err
	}

	return svc.GetCurrentGameSessionConnectionToken(ctx)
}

// Read-only collaborator surface used by platform providers to mirror party
// state into platform sessions.

func (m *Manager) PartyMembers() ([]Member, error) {
	svc, err := m.service()
	if err != nil {
		return nil, err
	}

	return svc.Members(), nil
}

func (m *Manager) PartySettings() (Settings, error) {
	svc, err := m.service()
	if err != nil {
		return Settings{}, err
	}

	return svc.Settings(), nil
}

func (m *Manager) IsLeader() bool {
	svc, err := m.service()
	if err != nil {
		return false
	}

	return svc.IsLeader()
}

func (m *Manager) PartyID() (string, error) {
	svc, err := m.service()
	if err != nil {
		return "", err
	}

	return svc.PartyID(), nil
}

func (m *Manager) PartyScene() (scene.Scene, error) {
	svc, err := m.service()
	if err != nil {
		return nil, err
	}

	return svc.Scene(), nil
}

// --- hooks ---

func (m *Manager) OnJoiningParty(fn func(ctx context.Context, svc *Service) error) func() {
	m.hookMu.Lock()
	defer m.hookMu.Unlock()

	id := m.hookID
	m.hookID++
	m.joiningHooks[id] = fn

	return func() {
		m.hookMu.Lock()
		defer m.hookMu.Unlock()
		delete(m.joiningHooks, id)
	}
}

func (m *Manager) OnLeavingParty(fn func(ctx context.Context, svc *Service) error) func() {
	m.hookMu.Lock()
	defer m.hookMu.Unlock()

	id := m.hookID
	m.hookID++
	m.leavingHooks[id] = fn

	return func() {
		m.hookMu.Lock()
		defer m.hookMu.Unlock()
		delete(m.leavingHooks, id)
	}
}

func (m *Manager) OnPlayerKicked(fn func(userID string)) func() {
	m.hookMu.Lock()
	defer m.hookMu.Unlock()

	id := m.hookID
	m.hookID++
	m.kickedHooks[id] = fn

	return func() {
		m.hookMu.Lock()
		defer m.hookMu.Unlock()
		delete(m.kickedHooks, id)
	}
}

func (m *Manager) snapshotJoiningHooks() []func(context.Context, *Service) error {
	m.hookMu.Lock()
	defer m.hookMu.Unlock()

	out := make([]func(context.Context, *Service) error, 0, len(m.joiningHooks))
	for _, fn := range m.joiningHooks {
		out = append(out, fn)
	}

	return out
}

func (m *Manager) snapshotLeavingHooks() []func(context.Context, *Service) error {
	m.hookMu.Lock()
	defer m.hookMu.Unlock()

	out := make([]func(context.Context, *Service) error, 0, len(m.leavingHooks))
	for _, fn := range m.leavingHooks {
		out = append(out, fn)
	}

	return out
}

func (m *Manager) snapshotKickedHooks() []func(string) {
	m.hookMu.Lock()
	defer m.hookMu.Unlock()

	out := make([]func(string), 0, len(m.kickedHooks))
	for _, fn := range m.kickedHooks {
		out = append(out, fn)
	}

	return out
}

// --- platform session bridging ---

func (m *Manager) bridgeSessionCreation(c *Container) {
	partyID := c.svc.PartyID()

	for _, provider := range m.cfg.Providers {
		if err := provider.CreateOrJoinSessionForParty(m.runCtx, partyID); err != nil {
			m.log.Warn("platform session create failed",
				logging.F("platform", provider.PlatformName()),
				logging.F("party_id", partyID),
				logging.F("error", err.Error()),
			)
		}
	}
}

// bridgePump forwards settings and member updates to platform providers.
// Local subscribers already received the event from the bus; bridging is
// strictly downstream and its failures never surface.
func (m *Manager) bridgePump(c *Container) {
	for evt := range c.sub.C {
		switch evt.(type) {
		case events.PartySettingsUpdated:
			m.settingsChain.Enqueue(m.runCtx, func(ctx context.Context) error {
				m.forwardSettings(ctx, c.svc.Settings())
				return nil
			})
		case events.PartyMembersUpdated:
			m.membersChain.Enqueue(m.runCtx, func(ctx context.Context) error {
				m.forwardMembers(ctx, c.svc.Members())
				return nil
			})
		}
	}
}

func (m *Manager) forwardSettings(ctx context.Context, settings Settings) {
	for _, provider := range m.cfg.Providers {
		if err := provider.UpdateSessionSettings(ctx, settings); err != nil {
			m.log.Warn("platform settings bridge failed",
				logging.F("platform", provider.PlatformName()),
				logging.F("error", err.Error()),
			)
		}
	}
}

func (m *Manager) forwardMembers(ctx context.Context, members []Member) {
	for _, provider := range m.cfg.Providers {
		if err := provider.UpdateSessionMembers(ctx, members); err != nil {
			m.log.Warn("platform members bridge failed",
				logging.F("platform", provider.PlatformName()),
				logging.F("error", err.Error()),
			)
		}
	}
}

// AdvertisedParties aggregates every provider's advertised parties. Provider
// failures are logged and skipped.
func (m *Manager) AdvertisedParties(ctx context.Context) []AdvertisedParty {
	out := make([]AdvertisedParty, 0)

	for _, provider := range m.cfg.Providers {
		parties, err := provider.GetAdvertisedParties(ctx)
		if err != nil {
			m.log.Warn("advertised parties query failed",
				logging.F("platform", provider.PlatformName()),
				logging.F("error", err.Error()),
			)
			continue
		}

		out = append(out, parties...)
	}

	return out
}

// ShowSystemInvitationUI opens the first platform overlay able to display an
// invitation UI for the current party.
func (m *Manager) ShowSystemInvitationUI(ctx context.Context) error {
	partyID, err := m.PartyID()
	if err != nil {
		return err
	}

	for _, provider := range m.cfg.Providers {
		shown, uiErr := provider.TryShowSystemInvitationUI(ctx, partyID)
		if uiErr != nil {
			m.log.Warn("invitation ui failed",
				logging.F("platform", provider.PlatformName()),
				logging.F("error", uiErr.Error()),
			)
			continue
		}

		if shown {
			return nil
		}
	}

	return ErrUnsupportedAction
}

// --- received invitations ---

// HandleIncomingInvitation records a received invitation and delivers it to
// subscribers. When no subscriber is registered yet, the single most recent
// invitation is buffered and handed to the first subscriber.
func (m *Manager) HandleIncomingInvitation(info InvitationInfo) *PendingInvitation {
	inv := newPendingInvitation(m, info)

	m.inviteMu.Lock()
	m.received[inv.id] = inv

	subs := make([]func(*PendingInvitation), 0, len(m.inviteSubs))
	for _, fn := range m.inviteSubs {
		subs = append(subs, fn)
	}

	if len(subs) == 0 {
		m.buffered = inv
	}
	m.inviteMu.Unlock()

	_ = m.bus.Emit(events.PartyInvitationReceived{
		Base:         events.Base{At: m.now().UTC()},
		InvitationID: inv.id,
		PartyID:      info.PartyID,
		SenderID:     info.SenderID,
		Platform:     info.Platform,
	})

	for _, fn := range subs {
		fn(inv)
	}

	return inv
}

// SubscribeInvitations registers a callback for received invitations. The
// first subscriber also receives the buffered most recent invitation, if one
// arrived before anyone listened.
func (m *Manager) SubscribeInvitations(fn func(*PendingInvitation)) func() {
	m.inviteMu.Lock()
	id := m.inviteSubID
	m.inviteSubID++
	m.inviteSubs[id] = fn

	buffered := m.buffered
	m.buffered = nil
	m.inviteMu.Unlock()

	if buffered != nil && buffered.IsValid() {
		fn(buffered)
	}

	return func() {
		m.inviteMu.Lock()
		defer m.inviteMu.Unlock()
		delete(m.inviteSubs, id)
	}
}

// HandleInvitationCanceled invalidates the pending invitation from the given
// sender following a sender-side cancellation.
func (m *Manager) HandleInvitationCanceled(senderID string) {
	m.inviteMu.Lock()
	var match *PendingInvitation
	for id, inv := range m.received {
		if inv.SenderID() != senderID {
			continue
		}

		match = inv
		delete(m.received, id)
		break
	}

	if m.buffered == match {
		m.buffered = nil
	}
	m.inviteMu.Unlock()

	if match == nil || !match.invalidate() {
		return
	}

	_ = m.bus.Emit(events.PartyInvitationCanceled{
		Base:         events.Base{At: m.now().UTC()},
		InvitationID: match.id,
		SenderID:     senderID,
	})
}

// PendingInvitations snapshots the currently valid received invitations.
func (m *Manager) PendingInvitations() []*PendingInvitation {
	m.inviteMu.Lock()
	defer m.inviteMu.Unlock()

	out := make([]*PendingInvitation, 0, len(m.received))
	for _, inv := range m.received {
		out = append(out, inv)
	}

	return out
}

func (m *Manager) acceptInvitation(ctx context.Context, inv *PendingInvitation) error {
	if m.isMembershipClaimed() {
		// Rejected without consuming the invitation.
		return ErrAlreadyInParty
	}

	if !inv.invalidate() {
		return ErrInvalidInvitation
	}

	m.removePending(inv)

	if inv.info.ConnectionToken != "" {
		return m.JoinPartyByToken(ctx, inv.info.ConnectionToken)
	}

	return m.JoinParty(ctx, inv.info.PartyID)
}

func (m *Manager) declineInvitation(_ context.Context, inv *PendingInvitation) error {
	if !inv.invalidate() {
		return ErrInvalidInvitation
	}

	m.removePending(inv)
	return nil
}

func (m *Manager) removePending(inv *PendingInvitation) {
	m.inviteMu.Lock()
	defer m.inviteMu.Unlock()

	delete(m.received, inv.id)
	if m.buffered == inv {
		m.buffered = nil
	}
}

func (m *Manager) isMembershipClaimed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.current != nil
}

// mapJoinError normalizes transport-level failures into the façade's error
// taxonomy.
func mapJoinError(err error) error {
	if err == nil {
		return nil
	}

	if scene.IsRemote(err, remoteJoinDenied) {
		return fmt.Errorf("%w: %v", ErrJoinDenied, err)
	}

	return err
}
