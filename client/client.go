// Package client assembles the SDK: one websocket connector, a management
// scene for token resolution and matchmaking, and the party manager on top.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ceskypane/stormgo/events"
	"github.com/ceskypane/stormgo/gamefinder"
	"github.com/ceskypane/stormgo/internal/backoff"
	"github.com/ceskypane/stormgo/logging"
	"github.com/ceskypane/stormgo/party"
	"github.com/ceskypane/stormgo/scene"
	"github.com/ceskypane/stormgo/transport/ws"
	"github.com/ceskypane/stormgo/users"
)

// Management scene pushes: invitations addressed to the local user arrive
// here, not on the party scene the user is not yet connected to.
const (
	pushInvitationReceived = "party.invitationReceived"
	pushInvitationCanceled = "party.invitationCanceled"
)

type invitationReceivedDto struct {
	SenderID        string `json:"senderId"`
	PartyID         string `json:"partyId"`
	ConnectionToken string `json:"connectionToken"`
	Platform        string `json:"platform"`
}

type invitationCanceledDto struct {
	SenderID string `json:"senderId"`
}

type Client struct {
	cfg Config
	log logging.Logger

	bus *events.Bus
	sub *events.Subscription

	sessionID string

	connector *ws.Connector

	runMu      sync.Mutex
	connected  bool
	mgmtScene  scene.Scene
	unsubState func()

	usersService  *users.Service
	finderService *gamefinder.Service
	partyManager  *party.Manager
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("client: endpoint is required")
	}

	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 64
	}

	log := logging.With(cfg.Logger)
	cfg.Logger = log

	bus := events.NewBus()
	sub, err := bus.Subscribe(cfg.EventBuffer)
	if err != nil {
		return nil, err
	}

	connector := ws.NewConnector(ws.Config{
		Endpoint:          cfg.Endpoint,
		HandshakeTimeout:  cfg.HandshakeTimeout,
		KeepAliveInterval: cfg.KeepAliveInterval,
		Logger:            log,
	}, bus, cfg.Dialer)

	return &Client{
		cfg:       cfg,
		log:       log,
		bus:       bus,
		sub:       sub,
		sessionID: uuid.NewString(),
		connector: connector,
	}, nil
}

// Connect dials the management scene and wires the services on top of it.
// Calling Connect while already connected is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	if c.connected {
		return nil
	}

	if c.cfg.AuthToken == "" {
		return errors.New("client: auth token is required")
	}

	sc, err := c.dialManagementScene(ctx)
	if err != nil {
		return err
	}

	c.usersService = users.NewService(sc, users.Config{Logger: c.log})
	c.finderService = gamefinder.NewService(sc, c.bus, gamefinder.Config{Logger: c.log})

	engineCfg := c.cfg.Party
	if engineCfg.LocalUserID == "" {
		engineCfg.LocalUserID = c.cfg.UserID
	}

	mgr, err := party.NewManager(party.ManagerConfig{
		Connector:  c.connector,
		Tokens:     c.usersService,
		GameFinder: c.finderService,
		Bus:        c.bus,
		Providers:  c.cfg.Providers,
		Engine:     engineCfg,
		Logger:     c.log,
	})
	if err != nil {
		_ = sc.Disconnect(ctx)
		return err
	}

	c.partyManager = mgr

	sc.AddRoute(pushInvitationReceived, c.onInvitationReceived)
	sc.AddRoute(pushInvitationCanceled, c.onInvitationCanceled)

	c.unsubState = sc.OnStateChanged(func(cs scene.ConnectionState) {
		if cs.State != scene.StateDisconnected {
			return
		}

		_ = c.bus.Emit(events.ClientDisconnected{
			Base: events.Base{At: time.Now().UTC()},
			Err:  errors.New(cs.Reason),
		})
	})

	c.connected = true
	c.mgmtScene = sc

	c.log.Info("client connected",
		logging.F("endpoint", c.cfg.Endpoint),
		logging.F("session_id", c.sessionID),
	)
	_ = c.bus.Emit(events.ClientReady{Base: events.Base{At: time.Now().UTC()}})
	return nil
}

// dialManagementScene retries transient dial failures with exponential
// backoff. Three attempts is enough to ride out a front-node restart without
// hiding a misconfigured endpoint for long.
func (c *Client) dialManagementScene(ctx context.Context) (scene.Scene, error) {
	const attempts = 3

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		sc, err := c.connector.ConnectToScene(ctx, c.cfg.AuthToken)
		if err == nil {
			return sc, nil
		}

		lastErr = err
		if errors.Is(err, ws.ErrBadToken) || attempt == attempts-1 {
			break
		}

		delay := backoff.Exponential(attempt, 250*time.Millisecond, 2*time.Second)
		c.log.Warn("management scene dial failed, retrying",
			logging.F("attempt", attempt+1),
			logging.F("delay", delay.String()),
			logging.F("error", err.Error()),
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, lastErr
}

// Close leaves the current party, detaches from matchmakers and tears down
// the management scene.
func (c *Client) Close(ctx context.Context) error {
	c.runMu.Lock()
	connected := c.connected
	c.connected = false
	sc := c.mgmtScene
	c.mgmtScene = nil
	unsubState := c.unsubState
	c.unsubState = nil
	c.runMu.Unlock()

	if !connected {
		return nil
	}

	if unsubState != nil {
		unsubState()
	}

	var firstErr error

	if c.partyManager != nil {
		if err := c.partyManager.Close(ctx); err != nil {
			firstErr = err
		}
	}

	if c.finderService != nil {
		if err := c.finderService.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if sc != nil {
		if err := sc.Disconnect(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	_ = c.bus.Emit(events.ClientDisconnected{Base: events.Base{At: time.Now().UTC()}})
	return firstErr
}

func (c *Client) onInvitationReceived(_ context.Context, payload []byte) {
	var dto invitationReceivedDto
	if err := json.Unmarshal(payload, &dto); err != nil {
		c.log.Warn("bad invitation push", logging.F("error", err.Error()))
		return
	}

	c.partyManager.HandleIncomingInvitation(party.InvitationInfo{
		SenderID:        dto.SenderID,
		PartyID:         dto.PartyID,
		ConnectionToken: dto.ConnectionToken,
		Platform:        dto.Platform,
	})
}

func (c *Client) onInvitationCanceled(_ context.Context, payload []byte) {
	var dto invitationCanceledDto
	if err := json.Unmarshal(payload, &dto); err != nil {
		c.log.Warn("bad invitation cancel push", logging.F("error", err.Error()))
		return
	}

	c.partyManager.HandleInvitationCanceled(dto.SenderID)
}

func (c *Client) Events() <-chan events.Event {
	return c.sub.C
}

func (c *Client) WaitFor(ctx context.Context, pred events.Predicate) (events.Event, error) {
	return c.bus.WaitFor(ctx, pred)
}

func (c *Client) Bus() *events.Bus {
	return c.bus
}

// Party returns the party manager. It is nil until Connect succeeds.
func (c *Client) Party() *party.Manager {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	return c.partyManager
}

func (c *Client) Users() *users.Service {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	return c.usersService
}

func (c *Client) GameFinder() *gamefinder.Service {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	return c.finderService
}

func (c *Client) SessionID() string {
	return c.sessionID
}
