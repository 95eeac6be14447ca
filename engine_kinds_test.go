package goCred

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/MrEthical07/goCred/jwt"
	"github.com/google/go-cmp/cmp"
)

func TestShortCircuitCredentials(t *testing.T) {
	tests := []struct {
		name          string
		cred          Credential
		authenticated bool
		token         string
		tokenType     string
		ttl           time.Duration
		expiresLater  bool
	}{
		{name: "legacy token", cred: LegacyToken("db-secret"), authenticated: true, token: "db-secret"},
		{name: "empty legacy token", cred: LegacyToken(""), authenticated: false},
		{name: "no token", cred: NoToken(), authenticated: false},
		{
			name:          "static id token",
			cred:          IDToken("id-token"),
			authenticated: true,
			token:         "id-token",
			tokenType:     "Bearer",
			ttl:           time.Hour,
			expiresLater:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			te := newTestEngine(t, nil)
			log := &eventLog{}
			te.SetCallback(log.record)
			if err := te.InitializeApp(tt.cred); err != nil {
				t.Fatalf("InitializeApp: %v", err)
			}

			if out := te.Tick(); out != TickReady {
				t.Fatalf("expected Ready on the first tick, got %s", out)
			}
			if te.IsAuthenticated() != tt.authenticated || te.Token() != tt.token || te.TokenType() != tt.tokenType {
				t.Fatalf("unexpected token record %+v", te.AppToken())
			}
			if te.TTL() != tt.ttl {
				t.Fatalf("expected ttl %v, got %v", tt.ttl, te.TTL())
			}
			if te.IsExpired() {
				t.Fatal("expected a live token before its lifetime elapses")
			}

			te.clock.Advance(2 * time.Hour)
			for i := 0; i < 5; i++ {
				if out := te.Tick(); out != TickReady {
					t.Fatalf("expected static credential to stay Ready, got %s", out)
				}
			}
			if te.IsExpired() != tt.expiresLater {
				t.Fatalf("expected IsExpired %v after the lifetime, got %v", tt.expiresLater, te.IsExpired())
			}
			if te.tr.submitted() != 0 {
				t.Fatalf("static credentials must not hit the network, got %d requests", te.tr.submitted())
			}
			if diff := cmp.Diff([]State{StateReady}, log.states()); diff != "" {
				t.Fatalf("events mismatch (-want +got):\n%s", diff)
			}
			if err := te.Refresh(); err != nil {
				t.Fatalf("Refresh: %v", err)
			}
			if te.State() != StateReady {
				t.Fatalf("Refresh must be a no-op for static credentials, got %s", te.State())
			}
		})
	}
}

func TestAccessTokenWithTokenRefreshesOnExpiry(t *testing.T) {
	te := newTestEngine(t, nil)
	if err := te.InitializeApp(AccessToken("A0", "R0", "cid", "secret", 30*time.Minute)); err != nil {
		t.Fatalf("InitializeApp: %v", err)
	}
	if out := te.Tick(); out != TickReady {
		t.Fatalf("expected Ready without a request, got %s", out)
	}
	if te.Token() != "A0" || te.TTL() != 30*time.Minute {
		t.Fatalf("unexpected seeded token %+v (ttl %v)", te.AppToken(), te.TTL())
	}
	if te.AuthData().Task != TaskRefreshToken {
		t.Fatalf("expected refresh task, got %s", te.AuthData().Task)
	}

	te.clock.Advance(30 * time.Minute)
	te.acquire(t, http.StatusOK, accessTokenResp, TickReady)

	if body := decodeBody(t, te.tr.lastRequest(t)); body["refresh_token"] != "R0" {
		t.Fatalf("expected refresh with R0, got %v", body)
	}
	if te.Token() != "A2" || te.RefreshToken() != "R0" {
		t.Fatalf("unexpected token record %+v", te.AppToken())
	}
	// The credential caps the lifetime below the server's 3599s.
	if ttl := te.TTL(); ttl != 30*time.Minute-2*time.Minute {
		t.Fatalf("expected capped ttl 28m, got %v", ttl)
	}
}

func TestCustomSessionRefreshesThroughSecureToken(t *testing.T) {
	te := newTestEngine(t, nil)
	if err := te.InitializeApp(CustomSession("h.p.s", "R5", 0)); err != nil {
		t.Fatalf("InitializeApp: %v", err)
	}
	if out := te.Tick(); out != TickReady {
		t.Fatalf("expected Ready without a request, got %s", out)
	}

	te.clock.Advance(time.Hour)
	te.acquire(t, http.StatusOK, secureTokenResp, TickReady)

	req := te.tr.lastRequest(t)
	if req.Host != DefaultSecureTokenHost || req.Path != pathSecureToken || req.Query != "key=K" {
		t.Fatalf("unexpected endpoint %s%s?%s", req.Host, req.Path, req.Query)
	}
	want := map[string]string{"grantType": "refresh_token", "refreshToken": "R5"}
	if diff := cmp.Diff(want, decodeBody(t, req)); diff != "" {
		t.Fatalf("request body mismatch (-want +got):\n%s", diff)
	}
	if te.Token() != "T3" || te.RefreshToken() != "R3" || te.UID() != "U3" {
		t.Fatalf("unexpected token record %+v", te.AppToken())
	}
	if got := te.AuthData().Credential.RefreshToken; got != "R3" {
		t.Fatalf("expected rotated refresh token in the credential, got %q", got)
	}
}

func TestCustomTokenExchangeThenRefresh(t *testing.T) {
	te := newTestEngine(t, nil)
	if err := te.InitializeApp(CustomToken("h.p.s", 0)); err != nil {
		t.Fatalf("InitializeApp: %v", err)
	}
	te.acquire(t, http.StatusOK, passwordSignInResp, TickReady)

	req := te.tr.lastRequest(t)
	if req.Path != pathSignInWithCustom || req.Query != "key=K" {
		t.Fatalf("unexpected endpoint %s?%s", req.Path, req.Query)
	}
	want := map[string]string{"token": "h.p.s", "returnSecureToken": "true"}
	if diff := cmp.Diff(want, decodeBody(t, req)); diff != "" {
		t.Fatalf("request body mismatch (-want +got):\n%s", diff)
	}
	if te.AuthData().Task != TaskRefreshToken {
		t.Fatalf("expected refresh task after the exchange, got %s", te.AuthData().Task)
	}

	if err := te.Refresh(); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	te.acquire(t, http.StatusOK, secureTokenResp, TickReady)
	if req := te.tr.lastRequest(t); req.Path != pathSecureToken {
		t.Fatalf("expected secure token refresh, got %s", req.Path)
	}
	if body := decodeBody(t, te.tr.lastRequest(t)); body["refreshToken"] != "R1" {
		t.Fatalf("expected refresh with R1, got %v", body)
	}
	if te.TTL() != time.Hour {
		t.Fatalf("expected unmargined ttl after Refresh, got %v", te.TTL())
	}
}

func TestCustomTokenRefreshOnly(t *testing.T) {
	te := newTestEngine(t, nil)
	if err := te.InitializeApp(CustomToken("opaque-refresh", 0)); err != nil {
		t.Fatalf("InitializeApp: %v", err)
	}
	if te.AuthData().Task != TaskRefreshToken {
		t.Fatalf("expected refresh task, got %s", te.AuthData().Task)
	}
	te.acquire(t, http.StatusOK, secureTokenResp, TickReady)
	if body := decodeBody(t, te.tr.lastRequest(t)); body["refreshToken"] != "opaque-refresh" {
		t.Fatalf("unexpected refresh body %v", body)
	}
}

func testServiceAccount() jwt.ServiceAccount {
	return jwt.ServiceAccount{
		ClientEmail:  "svc@project.iam.gserviceaccount.com",
		PrivateKeyID: "kid-1",
		PrivateKey:   []byte("unused by the fake signer"),
		ProjectID:    "project",
		UID:          "user-7",
	}
}

func TestServiceAccountAccessSigning(t *testing.T) {
	te := newTestEngine(t, nil)
	if err := te.InitializeApp(ServiceAccountAccess(testServiceAccount(), 0)); err != nil {
		t.Fatalf("InitializeApp: %v", err)
	}
	if !te.AuthData().Signing {
		t.Fatal("expected signing to be required")
	}

	te.Tick()
	te.Tick()
	if te.State() != StateTokenSigning {
		t.Fatalf("expected TokenSigning, got %s", te.State())
	}
	if started := te.AuthData().SigningStartedAt; !started.Equal(testEpoch) {
		t.Fatalf("expected signing start stamp, got %v", started)
	}
	te.Tick()
	if te.State() != StateTokenSigning {
		t.Fatalf("expected to wait for the signer, got %s", te.State())
	}

	te.signer.finish("signed.assertion.jwt", nil)
	te.acquire(t, http.StatusOK, accessTokenResp, TickReady)

	req := te.tr.lastRequest(t)
	if req.Host != DefaultOAuth2Host || req.Path != pathOAuth2Token {
		t.Fatalf("unexpected endpoint %s%s", req.Host, req.Path)
	}
	want := map[string]string{"grant_type": grantTypeJWTBearer, "assertion": "signed.assertion.jwt"}
	if diff := cmp.Diff(want, decodeBody(t, req)); diff != "" {
		t.Fatalf("request body mismatch (-want +got):\n%s", diff)
	}
	aud := te.signer.lastReq.Claims.Audience
	if len(aud) != 1 || aud[0] != jwt.TokenAudience {
		t.Fatalf("expected token audience, got %v", aud)
	}
	if te.Token() != "A2" {
		t.Fatalf("unexpected token %q", te.Token())
	}
	if got := te.Metrics().Value(MetricSigningStarted); got != 1 {
		t.Fatalf("expected 1 signing start, got %d", got)
	}
	if te.signer.Token() != "" {
		t.Fatal("expected the assertion to be discarded after use")
	}

	// Expiry signs a fresh assertion.
	te.clock.Advance(time.Hour)
	te.Tick()
	te.Tick()
	te.Tick()
	if _, accepted := te.signer.counts(); accepted != 2 {
		t.Fatalf("expected a second signing after expiry, got %d", accepted)
	}
}

func TestServiceAccountCustomSigning(t *testing.T) {
	te := newTestEngine(t, nil)
	if err := te.InitializeApp(ServiceAccountCustom(testServiceAccount(), 0)); err != nil {
		t.Fatalf("InitializeApp: %v", err)
	}
	te.Tick()
	te.Tick()
	te.signer.finish("custom.token.jwt", nil)
	te.acquire(t, http.StatusOK, passwordSignInResp, TickReady)

	req := te.tr.lastRequest(t)
	if req.Path != pathSignInWithCustom {
		t.Fatalf("expected custom token sign-in, got %s", req.Path)
	}
	if body := decodeBody(t, req); body["token"] != "custom.token.jwt" {
		t.Fatalf("expected the signed custom token in the body, got %v", body)
	}
	claims := te.signer.lastReq.Claims
	if claims.UID != "user-7" || len(claims.Audience) != 1 || claims.Audience[0] != jwt.CustomTokenAudience {
		t.Fatalf("unexpected custom token claims %+v", claims)
	}
	if te.UID() != "U1" {
		t.Fatalf("unexpected uid %q", te.UID())
	}
}

func TestSigningRetriedWhileSignerBusy(t *testing.T) {
	te := newTestEngine(t, nil)
	te.signer.busyFor = 2
	if err := te.InitializeApp(ServiceAccountAccess(testServiceAccount(), 0)); err != nil {
		t.Fatalf("InitializeApp: %v", err)
	}

	te.Tick() // Initializing
	te.Tick() // TokenSigning, signer busy
	if begins, accepted := te.signer.counts(); begins != 1 || accepted != 0 {
		t.Fatalf("expected one refused Begin, got %d/%d", begins, accepted)
	}
	if !te.AuthData().SigningStartedAt.IsZero() {
		t.Fatal("signing must not be marked started while the signer is busy")
	}

	te.Tick() // first diagnostic, retried and refused again
	if begins, _ := te.signer.counts(); begins != 2 {
		t.Fatalf("expected an immediate retry, got %d begins", begins)
	}
	for i := 0; i < 5; i++ {
		if out := te.Tick(); out != TickPending {
			t.Fatalf("expected Pending while stalled, got %s", out)
		}
	}
	if begins, _ := te.signer.counts(); begins != 2 {
		t.Fatalf("expected no retry before the diagnostic interval, got %d begins", begins)
	}

	te.clock.Advance(3 * time.Second)
	te.Tick()
	if begins, accepted := te.signer.counts(); begins != 3 || accepted != 1 {
		t.Fatalf("expected the retry to be accepted, got %d/%d", begins, accepted)
	}
	if te.AuthData().SigningStartedAt.IsZero() {
		t.Fatal("expected signing to be marked started")
	}
	if te.State() != StateTokenSigning {
		t.Fatalf("expected TokenSigning, got %s", te.State())
	}
}

func TestSigningFailures(t *testing.T) {
	t.Run("begin rejected", func(t *testing.T) {
		te := newTestEngine(t, nil)
		te.signer.beginErr = errFakeSigner
		if err := te.InitializeApp(ServiceAccountAccess(testServiceAccount(), 0)); err != nil {
			t.Fatalf("InitializeApp: %v", err)
		}
		te.tickUntil(t, TickError, 3)
		if !errors.Is(te.LastError(), ErrSigningFailed) || ErrorCode(te.LastError()) != CodeSigningFailed {
			t.Fatalf("expected ErrSigningFailed, got %v", te.LastError())
		}

		// Signing failures are retried after the cool-down.
		te.signer.beginErr = nil
		te.clock.Advance(5 * time.Second)
		te.Tick()
		te.Tick()
		te.Tick()
		if te.State() != StateTokenSigning {
			t.Fatalf("expected a new signing attempt, got %s", te.State())
		}
	})

	t.Run("signing finished with error", func(t *testing.T) {
		te := newTestEngine(t, nil)
		if err := te.InitializeApp(ServiceAccountCustom(testServiceAccount(), 0)); err != nil {
			t.Fatalf("InitializeApp: %v", err)
		}
		te.Tick()
		te.Tick()
		te.signer.finish("", errFakeSigner)
		if out := te.Tick(); out != TickError {
			t.Fatalf("expected Error, got %s", out)
		}
		if !errors.Is(te.LastError(), ErrSigningFailed) {
			t.Fatalf("expected ErrSigningFailed, got %v", te.LastError())
		}
		if got := te.Metrics().Value(MetricSigningFailure); got != 1 {
			t.Fatalf("expected 1 signing failure, got %d", got)
		}
		if !te.AuthData().SigningStartedAt.IsZero() {
			t.Fatal("expected the signing stamp to be cleared")
		}
	})
}

func TestSignUp(t *testing.T) {
	t.Run("anonymous", func(t *testing.T) {
		te := newTestEngine(t, nil)
		if err := te.SignUp("", ""); err != nil {
			t.Fatalf("SignUp: %v", err)
		}
		if !te.AuthData().Anonymous {
			t.Fatal("expected anonymous sign-up")
		}
		te.acquire(t, http.StatusOK, passwordSignInResp, TickReady)

		req := te.tr.lastRequest(t)
		if req.Path != pathSignUp {
			t.Fatalf("expected sign-up, got %s", req.Path)
		}
		if diff := cmp.Diff(map[string]string{"returnSecureToken": "true"}, decodeBody(t, req)); diff != "" {
			t.Fatalf("request body mismatch (-want +got):\n%s", diff)
		}
		if te.AuthData().Task != TaskRefreshToken {
			t.Fatalf("expected anonymous accounts to continue by refresh, got %s", te.AuthData().Task)
		}

		te.clock.Advance(te.TTL())
		te.acquire(t, http.StatusOK, secureTokenResp, TickReady)
		if req := te.tr.lastRequest(t); req.Path != pathSecureToken {
			t.Fatalf("expected secure token refresh, got %s", req.Path)
		}
	})

	t.Run("email and password", func(t *testing.T) {
		te := newTestEngine(t, nil)
		if err := te.SignUp("new@b.com", "pw"); err != nil {
			t.Fatalf("SignUp: %v", err)
		}
		te.acquire(t, http.StatusOK, passwordSignInResp, TickReady)

		want := map[string]string{"email": "new@b.com", "password": "pw", "returnSecureToken": "true"}
		if diff := cmp.Diff(want, decodeBody(t, te.tr.lastRequest(t))); diff != "" {
			t.Fatalf("request body mismatch (-want +got):\n%s", diff)
		}
		if te.AuthData().Task != TaskUndefined {
			t.Fatalf("expected later cycles to sign in, got %s", te.AuthData().Task)
		}

		te.clock.Advance(te.TTL())
		te.acquire(t, http.StatusOK, passwordSignInResp, TickReady)
		if req := te.tr.lastRequest(t); req.Path != pathSignInWithPassword {
			t.Fatalf("expected password sign-in, got %s", req.Path)
		}
	})
}

func TestManagementTasks(t *testing.T) {
	tests := []struct {
		name          string
		start         func(e *Engine) error
		path          string
		body          map[string]string
		authenticated bool
	}{
		{
			name:  "reset password",
			start: func(e *Engine) error { return e.ResetPassword("a@b.com") },
			path:  pathSendOobCode,
			body:  map[string]string{"requestType": "PASSWORD_RESET", "email": "a@b.com"},
		},
		{
			name:          "send verify email",
			start:         func(e *Engine) error { return e.SendVerifyEmail("id-token") },
			path:          pathSendOobCode,
			body:          map[string]string{"requestType": "VERIFY_EMAIL", "idToken": "id-token"},
			authenticated: true,
		},
		{
			name:  "delete user",
			start: func(e *Engine) error { return e.DeleteUser("id-token") },
			path:  pathDelete,
			body:  map[string]string{"idToken": "id-token"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			te := newTestEngine(t, nil)
			if err := tt.start(te.Engine); err != nil {
				t.Fatalf("entry point: %v", err)
			}
			te.acquire(t, http.StatusOK, `{"kind":"identitytoolkit#Response"}`, TickReady)

			req := te.tr.lastRequest(t)
			if req.Host != DefaultIdentityToolkitHost || req.Path != tt.path || req.Query != "key=K" {
				t.Fatalf("unexpected endpoint %s%s?%s", req.Host, req.Path, req.Query)
			}
			if diff := cmp.Diff(tt.body, decodeBody(t, req)); diff != "" {
				t.Fatalf("request body mismatch (-want +got):\n%s", diff)
			}
			if te.IsAuthenticated() != tt.authenticated {
				t.Fatalf("expected authenticated=%v", tt.authenticated)
			}

			te.clock.Advance(2 * time.Hour)
			for i := 0; i < 5; i++ {
				te.Tick()
			}
			if te.tr.submitted() != 1 {
				t.Fatalf("management tasks run once, got %d requests", te.tr.submitted())
			}
		})
	}
}

func TestManagementFailureIsTerminal(t *testing.T) {
	te := newTestEngine(t, nil)
	if err := te.DeleteUser("stale-token"); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	te.acquire(t, http.StatusBadRequest, `{"error":{"code":400,"message":"INVALID_ID_TOKEN"}}`, TickError)

	te.clock.Advance(time.Hour)
	te.tickUntil(t, TickError, 1)
	if te.tr.submitted() != 1 {
		t.Fatalf("expected no retry, got %d requests", te.tr.submitted())
	}
	if ev, _ := te.LastEvent(); ev.Message != "INVALID_ID_TOKEN" {
		t.Fatalf("unexpected event %+v", ev)
	}
}
