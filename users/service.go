// Package users resolves party join requests into scene connection tokens
// through the management scene. Tokens are signed JWTs; the service never
// verifies them (the server does) but inspects their claims to cache tokens
// until shortly before expiry.
package users

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ceskypane/stormgo/logging"
	"github.com/ceskypane/stormgo/party"
	"github.com/ceskypane/stormgo/scene"
)

const (
	routeCreateParty         = "partymanagement.createsession"
	routeTokenForParty       = "partymanagement.createconnectiontoken"
	routeTokenForScene       = "scenes.getconnectiontoken"
	routeTokenFromInviteCode = "partymanagement.createconnectiontokenfrominvitationcode"
)

// Tokens expiring within this window are treated as already expired so a
// cached token never dies mid-handshake.
const expiryLeeway = 30 * time.Second

var ErrMalformedToken = errors.New("users: malformed connection token")

type createPartyRequestDto struct {
	GameFinderName      string `json:"gameFinderName"`
	CustomData          string `json:"customData"`
	OnlyLeaderCanInvite bool   `json:"onlyLeaderCanInvite"`
	IsJoinable          bool   `json:"isJoinable"`
	IndexedDocument     string `json:"indexedDocument"`
}

type partyTokenRequestDto struct {
	PartyID string `json:"partyId"`
}

type sceneTokenRequestDto struct {
	SceneID string `json:"sceneId"`
}

type inviteCodeRequestDto struct {
	InvitationCode string `json:"invitationCode"`
}

// TokenClaims are the claims the server embeds in a scene connection token.
type TokenClaims struct {
	SceneID string `json:"sceneId"`
	PartyID string `json:"partyId"`
	jwt.RegisteredClaims
}

type Config struct {
	Logger logging.Logger
}

// Service implements party.TokenResolver over the management scene.
type Service struct {
	sc     scene.Scene
	log    logging.Logger
	parser *jwt.Parser

	mu    sync.Mutex
	cache map[string]cachedToken

	now func() time.Time
}

type cachedToken struct {
	token     string
	expiresAt time.Time
}

var _ party.TokenResolver = (*Service)(nil)

func NewService(sc scene.Scene, cfg Config) *Service {
	return &Service{
		sc:     sc,
		log:    logging.With(cfg.Logger),
		parser: jwt.NewParser(),
		cache:  make(map[string]cachedToken),
		now:    time.Now,
	}
}

// CreateParty asks the server to create a fresh party scene and returns a
// connection token for it.
func (s *Service) CreateParty(ctx context.Context, req party.CreatePartyRequest) (string, error) {
	dto := createPartyRequestDto{
		GameFinderName:      req.MatchmakerName,
		CustomData:          req.CustomData,
		OnlyLeaderCanInvite: req.OnlyLeaderCanInvite,
		IsJoinable:          req.IsJoinable,
		IndexedDocument:     req.IndexedDocument,
	}

	var token string
	if err := s.sc.Rpc(ctx, routeCreateParty, dto, &token); err != nil {
		return "", err
	}

	s.remember(token)
	return token, nil
}

// TokenForParty returns a connection token for an existing party, reusing a
// cached unexpired token when one exists.
func (s *Service) TokenForParty(ctx context.Context, partyID string) (string, error) {
	if token, ok := s.cached(partyID); ok {
		return token, nil
	}

	var token string
	if err := s.sc.Rpc(ctx, routeTokenForParty, partyTokenRequestDto{PartyID: partyID}, &token); err != nil {
		return "", err
	}

	s.remember(token)
	return token, nil
}

func (s *Service) TokenForScene(ctx context.Context, sceneID string) (string, error) {
	var token string
	if err := s.sc.Rpc(ctx, routeTokenForScene, sceneTokenRequestDto{SceneID: sceneID}, &token); err != nil {
		return "", err
	}

	s.remember(token)
	return token, nil
}

func (s *Service) TokenFromInvitationCode(ctx context.Context, code string) (string, error) {
	var token string
	if err := s.sc.Rpc(ctx, routeTokenFromInviteCode, inviteCodeRequestDto{InvitationCode: code}, &token); err != nil {
		return "", err
	}

	s.remember(token)
	return token, nil
}

// InspectToken decodes a connection token's claims without verifying its
// signature.
func (s *Service) InspectToken(token string) (TokenClaims, error) {
	var claims TokenClaims
	if _, _, err := s.parser.ParseUnverified(token, &claims); err != nil {
		return TokenClaims{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	return claims, nil
}

func (s *Service) cached(partyID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.cache[partyID]
	if !ok {
		return "", false
	}

	if s.now().Add(expiryLeeway).After(entry.expiresAt) {
		delete(s.cache, partyID)
		return "", false
	}

	return entry.token, true
}

// remember caches the token under its party claim. Tokens without a party
// claim or expiry are usable but never cached.
func (s *Service) remember(token string) {
	claims, err := s.InspectToken(token)
	if err != nil {
		s.log.Debug("uncacheable connection token", logging.F("error", err.Error()))
		return
	}

	if claims.PartyID == "" || claims.ExpiresAt == nil {
		return
	}

	s.mu.Lock()
	s.cache[claims.PartyID] = cachedToken{token: token, expiresAt: claims.ExpiresAt.Time}
	s.mu.Unlock()
}
