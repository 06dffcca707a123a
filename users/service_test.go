package users

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ceskypane/stormgo/party"
	"github.com/ceskypane/stormgo/scene"
)

type fakeScene struct {
	mu    sync.Mutex
	calls []string
	reply func(route string) (string, error)
}

func (f *fakeScene) ID() string { return "mgmt-scene" }

func (f *fakeScene) Rpc(_ context.Context, route string, _ any, out any) error {
	f.mu.Lock()
	f.calls = append(f.calls, route)
	f.mu.Unlock()

	token, err := f.reply(route)
	if err != nil {
		return err
	}

	*out.(*string) = token
	return nil
}

func (f *fakeScene) Send(ctx context.Context, route string, args any) error {
	return f.Rpc(ctx, route, args, nil)
}

func (f *fakeScene) AddRoute(string, scene.Handler) {}

func (f *fakeScene) OnStateChanged(func(scene.ConnectionState)) func() {
	return func() {}
}

func (f *fakeScene) Disconnect(context.Context) error { return nil }

func (f *fakeScene) callCount(route string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, c := range f.calls {
		if c == route {
			n++
		}
	}

	return n
}

func signedToken(t *testing.T, partyID string, expiresIn time.Duration) string {
	t.Helper()

	claims := TokenClaims{
		SceneID: "scene-" + partyID,
		PartyID: partyID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("server-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	return token
}

func TestTokenForPartyCachesUntilExpiry(t *testing.T) {
	sc := &fakeScene{}
	svc := NewService(sc, Config{})
	sc.reply = func(string) (string, error) {
		return signedToken(t, "p1", time.Hour), nil
	}

	first, err := svc.TokenForParty(context.Background(), "p1")
	if err != nil {
		t.Fatalf("first fetch: %v", err)
	}

	second, err := svc.TokenForParty(context.Background(), "p1")
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}

	if first != second {
		t.Fatalf("expected cached token")
	}

	if n := sc.callCount(routeTokenForParty); n != 1 {
		t.Fatalf("expected 1 rpc, got %d", n)
	}
}

func TestExpiringTokenIsNotReused(t *testing.T) {
	sc := &fakeScene{}
	svc := NewService(sc, Config{})
	sc.reply = func(string) (string, error) {
		// Inside the expiry leeway: usable once, never cached for reuse.
		return signedToken(t, "p1", 5*time.Second), nil
	}

	if _, err := svc.TokenForParty(context.Background(), "p1"); err != nil {
		t.Fatalf("first fetch: %v", err)
	}

	if _, err := svc.TokenForParty(context.Background(), "p1"); err != nil {
		t.Fatalf("second fetch: %v", err)
	}

	if n := sc.callCount(routeTokenForParty); n != 2 {
		t.Fatalf("expected 2 rpcs for an expiring token, got %d", n)
	}
}

func TestCreatePartyPrimesCache(t *testing.T) {
	sc := &fakeScene{}
	svc := NewService(sc, Config{})
	sc.reply = func(string) (string, error) {
		return signedToken(t, "p9", time.Hour), nil
	}

	created, err := svc.CreateParty(context.Background(), party.CreatePartyRequest{MatchmakerName: "ranked"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	cached, err := svc.TokenForParty(context.Background(), "p9")
	if err != nil {
		t.Fatalf("token for party: %v", err)
	}

	if cached != created {
		t.Fatalf("create must prime the party token cache")
	}

	if n := sc.callCount(routeTokenForParty); n != 0 {
		t.Fatalf("expected no token rpc after create, got %d", n)
	}
}

func TestInspectTokenReadsClaims(t *testing.T) {
	sc := &fakeScene{}
	svc := NewService(sc, Config{})

	claims, err := svc.InspectToken(signedToken(t, "p1", time.Hour))
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}

	if claims.PartyID != "p1" || claims.SceneID != "scene-p1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestInspectTokenRejectsGarbage(t *testing.T) {
	sc := &fakeScene{}
	svc := NewService(sc, Config{})

	if _, err := svc.InspectToken("not-a-jwt"); !errors.Is(err, ErrMalformedToken) {
		t.Fatalf("expected ErrMalformedToken, got %v", err)
	}
}

func TestRpcFailurePropagates(t *testing.T) {
	boom := errors.New("backend down")
	sc := &fakeScene{}
	svc := NewService(sc, Config{})
	sc.reply = func(string) (string, error) {
		return "", boom
	}

	if _, err := svc.TokenFromInvitationCode(context.Background(), "CODE1"); !errors.Is(err, boom) {
		t.Fatalf("expected backend error, got %v", err)
	}
}
