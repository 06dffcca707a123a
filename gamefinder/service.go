// Package gamefinder exposes the matchmaker attachment client. Parties
// connect their members to a named matchmaker while readying up and detach
// when the search stops; search progress arrives as server pushes and is
// forwarded onto the event bus.
package gamefinder

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ceskypane/stormgo/events"
	"github.com/ceskypane/stormgo/logging"
	"github.com/ceskypane/stormgo/scene"
)

const (
	routeConnect    = "gamefinder.connect"
	routeDisconnect = "gamefinder.disconnect"

	pushStatusChanged = "gamefinder.statusChanged"
	pushGameFound     = "gamefinder.gameFound"
	pushFindFailed    = "gamefinder.findFailed"
)

type attachRequestDto struct {
	GameFinder string `json:"gameFinder"`
}

type statusChangedDto struct {
	GameFinder string `json:"gameFinder"`
	Status     string `json:"status"`
}

type gameFoundDto struct {
	GameFinder      string `json:"gameFinder"`
	ConnectionToken string `json:"connectionToken"`
}

type findFailedDto struct {
	GameFinder string `json:"gameFinder"`
	Reason     string `json:"reason"`
}

type Config struct {
	Logger logging.Logger
}

// Service attaches and detaches the local player to named matchmakers over
// a single scene connection.
type Service struct {
	sc  scene.Scene
	bus *events.Bus
	log logging.Logger

	mu       sync.Mutex
	attached map[string]bool

	now func() time.Time
}

func NewService(sc scene.Scene, bus *events.Bus, cfg Config) *Service {
	if bus == nil {
		bus = events.NewBus()
	}

	s := &Service{
		sc:       sc,
		bus:      bus,
		log:      logging.With(cfg.Logger),
		attached: make(map[string]bool),
		now:      time.Now,
	}

	sc.AddRoute(pushStatusChanged, s.onStatusChanged)
	sc.AddRoute(pushGameFound, s.onGameFound)
	sc.AddRoute(pushFindFailed, s.onFindFailed)

	return s
}

// ConnectToMatchmaker attaches the local player to the named matchmaker.
// Attaching to a matchmaker the player is already attached to is a no-op.
func (s *Service) ConnectToMatchmaker(ctx context.Context, name string) error {
	s.mu.Lock()
	if s.attached[name] {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := s.sc.Rpc(ctx, routeConnect, attachRequestDto{GameFinder: name}, nil); err != nil {
		return err
	}

	s.mu.Lock()
	s.attached[name] = true
	s.mu.Unlock()

	s.log.Debug("attached to matchmaker", logging.F("matchmaker", name))
	return nil
}

// DisconnectFromMatchmaker detaches the local player. Detaching while not
// attached is a no-op.
func (s *Service) DisconnectFromMatchmaker(ctx context.Context, name string) error {
	s.mu.Lock()
	if !s.attached[name] {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := s.sc.Rpc(ctx, routeDisconnect, attachRequestDto{GameFinder: name}, nil); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.attached, name)
	s.mu.Unlock()

	s.log.Debug("detached from matchmaker", logging.F("matchmaker", name))
	return nil
}

// Close detaches from every matchmaker the player is still attached to.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	names := make([]string, 0, len(s.attached))
	for name := range s.attached {
		names = append(names, name)
	}
	s.mu.Unlock()

	var firstErr error
	for _, name := range names {
		if err := s.DisconnectFromMatchmaker(ctx, name); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

func (s *Service) onStatusChanged(_ context.Context, payload []byte) {
	var dto statusChangedDto
	if err := json.Unmarshal(payload, &dto); err != nil {
		s.log.Warn("bad matchmaker status push", logging.F("error", err.Error()))
		return
	}

	_ = s.bus.Emit(events.GameFinderStatusChanged{
		Base:           events.Base{At: s.now().UTC()},
		MatchmakerName: dto.GameFinder,
		Status:         dto.Status,
	})
}

func (s *Service) onGameFound(_ context.Context, payload []byte) {
	var dto gameFoundDto
	if err := json.Unmarshal(payload, &dto); err != nil {
		s.log.Warn("bad game found push", logging.F("error", err.Error()))
		return
	}

	s.log.Info("game found", logging.F("matchmaker", dto.GameFinder))
	_ = s.bus.Emit(events.GameFound{
		Base:            events.Base{At: s.now().UTC()},
		MatchmakerName:  dto.GameFinder,
		ConnectionToken: dto.ConnectionToken,
	})
}

func (s *Service) onFindFailed(_ context.Context, payload []byte) {
	var dto findFailedDto
	if err := json.Unmarshal(payload, &dto); err != nil {
		s.log.Warn("bad find failed push", logging.F("error", err.Error()))
		return
	}

	_ = s.bus.Emit(events.GameFindFailed{
		Base:           events.Base{At: s.now().UTC()},
		MatchmakerName: dto.GameFinder,
		Reason:         dto.Reason,
	})
}
