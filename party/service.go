package party

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ceskypane/stormgo/events"
	"github.com/ceskypane/stormgo/logging"
	"github.com/ceskypane/stormgo/scene"
)

// GameFinder is the slice of the matchmaking client the party engine needs:
// connect to and disconnect from a named matchmaker.
type GameFinder interface {
	ConnectToMatchmaker(ctx context.Context, name string) error
	DisconnectFromMatchmaker(ctx context.Context, name string) error
}

// Service is the party replicated-state engine. It owns the local copy of
// the party state, applies mutations optimistically before the matching RPC,
// enforces version contiguity on server pushes, and resynchronizes the full
// state whenever a delta cannot be applied.
type Service struct {
	sc  scene.Scene
	bus *events.Bus
	gf  GameFinder
	cfg Config
	log logging.Logger

	state   *replicatedState
	invites *inviteBook
	mmChain *taskChain

	// currentMatchmaker is only touched by chain operations, which are
	// serialized.
	currentMatchmaker string

	resyncMu   sync.Mutex
	resyncStep *chainStep

	runCtx context.Context
	cancel context.CancelFunc

	readyOnce sync.Once
	ready     chan struct{}

	now func() time.Time
}

func NewService(sc scene.Scene, bus *events.Bus, gf GameFinder, cfg Config) *Service {
	if bus == nil {
		bus = events.NewBus()
	}

	defaults := DefaultConfig()
	if cfg.StatusUpdateRetries <= 0 {
		cfg.StatusUpdateRetries = defaults.StatusUpdateRetries
	}

	runCtx, cancel := context.WithCancel(context.Background())

	s := &Service{
		sc:      sc,
		bus:     bus,
		gf:      gf,
		cfg:     cfg,
		log:     logging.With(cfg.Logger),
		state:   newReplicatedState(),
		mmChain: newTaskChain(),
		runCtx:  runCtx,
		cancel:  cancel,
		ready:   make(chan struct{}),
		now:     time.Now,
	}
	s.invites = newInviteBook(s)

	sc.AddRoute(routePartyState, s.onPartyState)
	sc.AddRoute(routeSettingsUpdated, s.onSettingsUpdated)
	sc.AddRoute(routeMemberDataUpdated, s.onMemberDataUpdated)
	sc.AddRoute(routeMemberStatusUpdated, s.onMemberStatusUpdated)
	sc.AddRoute(routeMemberConnected, s.onMemberConnected)
	sc.AddRoute(routeMemberDisconnected, s.onMemberDisconnected)
	sc.AddRoute(routeLeaderChanged, s.onLeaderChanged)
	sc.AddRoute(routeMatchmakingFailed, s.onMatchmakingFailed)

	return s
}

// Start fetches the initial full state in the background. WaitReady unblocks
// once it (or an earlier server push) has been applied.
func (s *Service) Start() {
	go func() {
		if err := s.Resync(s.runCtx); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Warn("initial party state fetch failed", logging.F("error", err.Error()))
		}
	}()
}

// WaitReady blocks until the first full party state has been applied.
func (s *Service) WaitReady(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.runCtx.Done():
		return scene.ErrClientDestroyed
	case <-s.ready:
		return nil
	}
}

// Close aborts in-flight dependent operations (matchmaker chain, invitation
// requests, resync). It does not disconnect the scene; that is the owner's
// call.
func (s *Service) Close() {
	s.cancel()
}

func (s *Service) checkAlive() error {
	if s.runCtx.Err() != nil {
		return scene.ErrClientDestroyed
	}

	return nil
}

// --- read accessors ---

func (s *Service) State() PartyState {
	st, _ := s.state.Snapshot()
	return st
}

func (s *Service) Members() []Member {
	return s.State().Members
}

func (s *Service) Settings() Settings {
	return s.State().Settings
}

func (s *Service) LeaderID() string {
	return s.State().LeaderID
}

func (s *Service) IsLeader() bool {
	return s.State().LeaderID == s.cfg.LocalUserID
}

func (s *Service) PartyID() string {
	return s.State().Settings.PartyID
}

func (s *Service) Scene() scene.Scene {
	return s.sc
}

// --- mutating operations ---

// UpdateSettings replaces the party settings. The local copy is updated and
// published before the RPC; a failed RPC repairs local state through a full
// resync and still reports the failure to the caller.
func (s *Service) UpdateSettings(ctx context.Context, settings Settings) error {
	if err := s.checkAlive(); err != nil {
		return err
	}

	applied := s.state.LocalUpdateSettings(settings)
	s.emitSettings(applied)
	s.syncMatchmaker()

	if err := s.sc.Rpc(ctx, routeUpdateSettings, settingsToDto(applied), nil); err != nil {
		s.resyncAfterFailure("update settings", err)
		return mapPartyError(err)
	}

	return nil
}

// UpdatePlayerStatus sets the local member's ready state. It resolves
// immediately when the status already matches, requires a configured
// matchmaker, and never races ahead of a pending matchmaker connection.
// A settings-outdated reply is resynced and retried transparently.
func (s *Service) UpdatePlayerStatus(ctx context.Context, status MemberStatus) error {
	if err := s.checkAlive(); err != nil {
		return err
	}

	st := s.State()
	me, ok := findMember(st.Members, s.cfg.LocalUserID)
	if !ok {
		return ErrNotInParty
	}

	if me.Status == status {
		return nil
	}

	if st.Settings.MatchmakerName == "" {
		return ErrPartyNotReady
	}

	if err := s.mmChain.Wait(ctx); err != nil {
		return err
	}

	for attempt := 0; ; attempt++ {
		settingsVersion := s.Settings().SettingsVersion

		updates := s.state.LocalSetStatus(s.cfg.LocalUserID, status)
		s.emitMembers(updates)

		req := updateStatusRequestDto{Status: string(status), SettingsVersion: settingsVersion}
		err := s.sc.Rpc(ctx, routeUpdatePlayerStatus, req, nil)
		if err == nil {
			return nil
		}

		if scene.IsRemote(err, remoteSettingsOutdated) && attempt < s.cfg.StatusUpdateRetries {
			s.log.Debug("player status rejected, resyncing settings",
				logging.F("attempt", attempt),
				logging.F("settings_version", settingsVersion),
			)

			if resyncErr := s.Resync(ctx); resyncErr != nil {
				return resyncErr
			}

			continue
		}

		s.resyncAfterFailure("update player status", err)
		return mapPartyError(err)
	}
}

func (s *Service) UpdatePlayerData(ctx context.Context, data []byte, localPlayerCount int) error {
	if err := s.checkAlive(); err != nil {
		return err
	}

	if localPlayerCount <= 0 {
		localPlayerCount = 1
	}

	updates := s.state.LocalSetMemberData(s.cfg.LocalUserID, data, localPlayerCount)
	s.emitMembers(updates)

	req := updateDataRequestDto{Data: data, LocalPlayerCount: localPlayerCount}
	if err := s.sc.Rpc(ctx, routeUpdatePlayerData, req, nil); err != nil {
		s.resyncAfterFailure("update player data", err)
		return mapPartyError(err)
	}

	return nil
}

// PromoteLeader transfers leadership. Only the current leader may call it;
// the check is local and no RPC is issued for a non-leader.
func (s *Service) PromoteLeader(ctx context.Context, userID string) error {
	if err := s.checkAlive(); err != nil {
		return err
	}

	st := s.State()
	if st.LeaderID != s.cfg.LocalUserID {
		return ErrUnauthorized
	}

	if _, ok := findMember(st.Members, userID); !ok {
		return ErrMemberNotFound
	}

	updates := s.state.LocalPromoteLeader(userID)
	s.emitMembers(updates)
	s.emitLeaderChanged(userID)

	if err := s.sc.Rpc(ctx, routePromoteLeader, targetUserRequestDto{UserID: userID}, nil); err != nil {
		s.resyncAfterFailure("promote leader", err)
		return mapPartyError(err)
	}

	return nil
}

// KickPlayer removes a member. Only the current leader may call it; the
// check is local and no RPC is issued for a non-leader.
func (s *Service) KickPlayer(ctx context.Context, userID string) error {
	if err := s.checkAlive(); err != nil {
		return err
	}

	st := s.State()
	if st.LeaderID != s.cfg.LocalUserID {
		return ErrUnauthorized
	}

	if _, ok := findMember(st.Members, userID); !ok {
		return nil
	}

	updates := s.state.LocalRemoveMember(userID, true)
	s.emitMembers(updates)

	if err := s.sc.Rpc(ctx, routeKickPlayer, targetUserRequestDto{UserID: userID}, nil); err != nil {
		s.resyncAfterFailure("kick player", err)
		return mapPartyError(err)
	}

	return nil
}

// SendInvitation sends a built-in transport invitation. Requests to the same
// recipient are coalesced: see inviteBook for the documented policy.
func (s *Service) SendInvitation(ctx context.Context, recipientID string, forceBuiltIn bool) (bool, error) {
	if err := s.checkAlive(); err != nil {
		return false, err
	}

	return s.invites.Send(ctx, recipientID, forceBuiltIn)
}

// CancelInvitation cancels the in-flight invitation to the recipient, if
// any. It is a no-op otherwise.
func (s *Service) CancelInvitation(ctx context.Context, recipientID string) error {
	if err := s.checkAlive(); err != nil {
		return err
	}

	s.invites.Cancel(recipientID)
	return nil
}

func (s *Service) CreateInvitationCode(ctx context.Context) (string, error) {
	if err := s.checkAlive(); err != nil {
		return "", err
	}

	var code string
	if err := s.sc.Rpc(ctx, routeCreateInvitationCode, nil, &code); err != nil {
		return "", err
	}

	return code, nil
}

func (s *Service) CancelInvitationCode(ctx context.Context) error {
	if err := s.checkAlive(); err != nil {
		return err
	}

	return s.sc.Rpc(ctx, routeCancelInvitationCode, nil, nil)
}

func (s *Service) GetCurrentGameSessionConnectionToken(ctx context.Context) (string, error) {
	if err := s.checkAlive(); err != nil {
		return "", err
	}

	var token string
	if err := s.sc.Rpc(ctx, routeGameSessionConnToken, nil, &token); err != nil {
		return "", err
	}

	return token, nil
}

// --- resynchronization ---

// Resync fetches the full server-side party state and installs it. At most
// one fetch is in flight; concurrent callers share its outcome.
func (s *Service) Resync(ctx context.Context) error {
	s.resyncMu.Lock()
	if s.resyncStep != nil {
		step := s.resyncStep
		s.resyncMu.Unlock()

		return step.wait(ctx)
	}

	step := &chainStep{done: make(chan struct{})}
	s.resyncStep = step
	s.resyncMu.Unlock()

	go func() {
		step.err = s.fetchFullState(s.runCtx)
		close(step.done)

		s.resyncMu.Lock()
		s.resyncStep = nil
		s.resyncMu.Unlock()
	}()

	return step.wait(ctx)
}

func (s *Service) fetchFullState(ctx context.Context) error {
	var dto partyStateDto
	if err := s.sc.Rpc(ctx, routeGetPartyState, nil, &dto); err != nil {
		return err
	}

	s.installFullState(stateFromDto(dto))
	return nil
}

func (s *Service) installFullState(next PartyState) {
	updates := s.state.ReplaceFull(next)

	s.emitSettings(next.Settings)
	s.emitMembers(updates)
	s.syncMatchmaker()
	s.markReady()
}

func (s *Service) markReady() {
	s.readyOnce.Do(func() {
		close(s.ready)
	})
}

// resyncAfterFailure repairs local state after a failed mutation RPC. The
// caller still surfaces the original error; the resync only restores
// consistency.
func (s *Service) resyncAfterFailure(op string, cause error) {
	s.log.Warn("party rpc failed, resyncing state",
		logging.F("op", op),
		logging.F("error", cause.Error()),
	)

	go func() {
		if err := s.Resync(s.runCtx); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Error("party state resync failed", logging.F("error", err.Error()))
		}
	}()
}

func (s *Service) triggerResync(route string, gap error) {
	s.log.Warn("party delta rejected, scheduling full resync",
		logging.F("route", route),
		logging.F("reason", gap.Error()),
		logging.F("local_version", s.state.Version()),
	)

	go func() {
		if err := s.Resync(s.runCtx); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Error("party state resync failed", logging.F("error", err.Error()))
		}
	}()
}

// --- matchmaker lifecycle ---

// syncMatchmaker reconciles the matchmaker connection with the current
// settings through the serialized chain. Disconnect errors are swallowed; a
// connect failure is fatal to the party and disconnects the scene.
func (s *Service) syncMatchmaker() {
	if s.gf == nil {
		return
	}

	target := s.Settings().MatchmakerName

	s.mmChain.Enqueue(s.runCtx, func(ctx context.Context) error {
		if s.currentMatchmaker == target {
			return nil
		}

		if s.currentMatchmaker != "" {
			if err := s.gf.DisconnectFromMatchmaker(ctx, s.currentMatchmaker); err != nil {
				s.log.Debug("matchmaker disconnect failed",
					logging.F("matchmaker", s.currentMatchmaker),
					logging.F("error", err.Error()),
				)
			}

			s.currentMatchmaker = ""
		}

		if target == "" {
			return nil
		}

		if err := s.gf.ConnectToMatchmaker(ctx, target); err != nil {
			s.log.Error("matchmaker connection failed, leaving party scene",
				logging.F("matchmaker", target),
				logging.F("error", err.Error()),
			)

			disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = s.sc.Disconnect(disconnectCtx)

			return err
		}

		s.currentMatchmaker = target
		return nil
	})
}

// --- push handlers ---

func (s *Service) onPartyState(_ context.Context, payload []byte) {
	var dto partyStateDto
	if err := json.Unmarshal(payload, &dto); err != nil {
		s.log.Warn("bad party state push", logging.F("error", err.Error()))
		return
	}

	s.installFullState(stateFromDto(dto))
}

func (s *Service) onSettingsUpdated(_ context.Context, payload []byte) {
	var dto settingsUpdateDto
	if err := json.Unmarshal(payload, &dto); err != nil {
		s.log.Warn("bad settings push", logging.F("error", err.Error()))
		return
	}

	settings := settingsFromDto(dto.Settings)
	if err := s.state.ApplySettings(dto.Version, settings); err != nil {
		s.triggerResync(routeSettingsUpdated, err)
		return
	}

	s.emitSettings(settings)
	s.syncMatchmaker()
}

func (s *Service) onMemberDataUpdated(_ context.Context, payload []byte) {
	var dto memberDataUpdateDto
	if err := json.Unmarshal(payload, &dto); err != nil {
		s.log.Warn("bad member data push", logging.F("error", err.Error()))
		return
	}

	updates, err := s.state.ApplyMemberData(dto.Version, dto.UserID, dto.Data, dto.LocalPlayerCount)
	if err != nil {
		s.triggerResync(routeMemberDataUpdated, err)
		return
	}

	s.emitMembers(updates)
}

func (s *Service) onMemberStatusUpdated(_ context.Context, payload []byte) {
	var dto statusUpdateDto
	if err := json.Unmarshal(payload, &dto); err != nil {
		s.log.Warn("bad member status push", logging.F("error", err.Error()))
		return
	}

	byUser := make(map[string]MemberStatus, len(dto.Updates))
	for _, entry := range dto.Updates {
		status := MemberStatus(entry.Status)
		if status != StatusReady {
			status = StatusNotReady
		}

		byUser[entry.UserID] = status
	}

	updates, err := s.state.ApplyStatusBatch(dto.Version, byUser)
	if err != nil {
		s.triggerResync(routeMemberStatusUpdated, err)
		return
	}

	s.emitMembers(updates)
}

func (s *Service) onMemberConnected(_ context.Context, payload []byte) {
	var dto memberConnectedDto
	if err := json.Unmarshal(payload, &dto); err != nil {
		s.log.Warn("bad member connected push", logging.F("error", err.Error()))
		return
	}

	updates, err := s.state.ApplyMemberConnected(dto.Version, memberFromDto(dto.Member))
	if err != nil {
		s.triggerResync(routeMemberConnected, err)
		return
	}

	s.emitMembers(updates)
}

func (s *Service) onMemberDisconnected(_ context.Context, payload []byte) {
	var dto memberDisconnectedDto
	if err := json.Unmarshal(payload, &dto); err != nil {
		s.log.Warn("bad member disconnected push", logging.F("error", err.Error()))
		return
	}

	kicked := dto.Reason == disconnectReasonKicked
	updates, err := s.state.ApplyMemberDisconnected(dto.Version, dto.UserID, kicked)
	if err != nil {
		s.triggerResync(routeMemberDisconnected, err)
		return
	}

	s.emitMembers(updates)
}

func (s *Service) onLeaderChanged(_ context.Context, payload []byte) {
	var dto leaderChangedDto
	if err := json.Unmarshal(payload, &dto); err != nil {
		s.log.Warn("bad leader changed push", logging.F("error", err.Error()))
		return
	}

	updates, err := s.state.ApplyLeaderChanged(dto.Version, dto.LeaderID)
	if err != nil {
		s.triggerResync(routeLeaderChanged, err)
		return
	}

	s.emitMembers(updates)
	s.emitLeaderChanged(dto.LeaderID)
}

// onMatchmakingFailed is out of band relative to the party version sequence.
func (s *Service) onMatchmakingFailed(_ context.Context, payload []byte) {
	var dto matchmakingFailedDto
	if err := json.Unmarshal(payload, &dto); err != nil {
		return
	}

	_ = s.bus.Emit(events.GameFindFailed{
		Base:           events.Base{At: s.now().UTC()},
		MatchmakerName: s.Settings().MatchmakerName,
		Reason:         dto.Reason,
	})
}

// --- event emission ---

func (s *Service) emitSettings(settings Settings) {
	_ = s.bus.Emit(events.PartySettingsUpdated{
		Base:                events.Base{At: s.now().UTC()},
		PartyID:             settings.PartyID,
		Version:             s.state.Version(),
		SettingsVersion:     settings.SettingsVersion,
		MatchmakerName:      settings.MatchmakerName,
		CustomData:          settings.CustomData,
		OnlyLeaderCanInvite: settings.OnlyLeaderCanInvite,
		IsJoinable:          settings.IsJoinable,
		IndexedDocument:     settings.IndexedDocument,
		PublicServerData:    cloneStringMap(settings.PublicServerData),
	})
}

func (s *Service) emitMembers(updates []events.MemberUpdate) {
	if len(updates) == 0 {
		return
	}

	_ = s.bus.Emit(events.PartyMembersUpdated{
		Base:    events.Base{At: s.now().UTC()},
		PartyID: s.PartyID(),
		Version: s.state.Version(),
		Updates: updates,
	})
}

func (s *Service) emitLeaderChanged(leaderID string) {
	_ = s.bus.Emit(events.PartyLeaderChanged{
		Base:     events.Base{At: s.now().UTC()},
		PartyID:  s.PartyID(),
		LeaderID: leaderID,
		Version:  s.state.Version(),
	})
}

// mapPartyError translates distinguished server error ids into the package's
// sentinel errors while keeping the original error in the chain.
func mapPartyError(err error) error {
	switch {
	case scene.IsRemote(err, remoteUnauthorized):
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	case scene.IsRemote(err, remoteSettingsOutdated):
		return fmt.Errorf("%w: %v", ErrSettingsOutdated, err)
	}

	return err
}

func findMember(members []Member, userID string) (Member, bool) {
	for _, m := range members {
		if m.UserID == userID {
			return m, true
		}
	}

	return Member{}, false
}
