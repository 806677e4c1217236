package oauth

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/unkn0wn-root/restrun/internal/restfile"
)

func TestEnsureReusesTokenAcrossCalls(t *testing.T) {
	ts := newTokenServer(t, constReply(200, `{"access_token":"T","expires_in":3600}`))
	mgr := NewManager(ts.Client(), nil)
	desc := restfile.OAuth2{GrantType: restfile.GrantClientCredentials, TokenURL: ts.URL, ClientID: "cid"}

	for i := 0; i < 2; i++ {
		out, err := mgr.Ensure(context.Background(), "dev", desc)
		if err != nil {
			t.Fatalf("ensure %d: %v", i, err)
		}
		if out.Token.AccessToken != "T" {
			t.Fatalf("ensure %d: unexpected token %q", i, out.Token.AccessToken)
		}
	}
	if ts.calls.Load() != 1 {
		t.Fatalf("expected one token call, got %d", ts.calls.Load())
	}
}

func TestEnsureRefreshesExpiredToken(t *testing.T) {
	ts := newTokenServer(t, constReply(200, `{"access_token":"NEW","expires_in":3600}`))
	mgr := NewManager(ts.Client(), nil)
	desc := restfile.OAuth2{
		GrantType: restfile.GrantPassword,
		TokenURL:  ts.URL,
		ClientID:  "cid",
		Token:     restfile.Token{AccessToken: "OLD", RefreshToken: "R", Expiry: time.Now().Add(-time.Minute)},
	}

	out, err := mgr.Ensure(context.Background(), "dev", desc)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if out.Token.AccessToken != "NEW" {
		t.Fatalf("expected refreshed token, got %q", out.Token.AccessToken)
	}
	if grant := ts.lastForm().Get("grant_type"); grant != "refresh_token" {
		t.Fatalf("expected refresh_token grant, got %q", grant)
	}
}

func TestEnsureKeepsValidSeededToken(t *testing.T) {
	mgr := NewManager(http.DefaultClient, nil)
	desc := restfile.OAuth2{
		GrantType: restfile.GrantAuthorizationCode,
		TokenURL:  "http://127.0.0.1:1/token",
		Token:     restfile.Token{AccessToken: "SEEDED", Expiry: time.Now().Add(time.Hour)},
	}
	out, err := mgr.Ensure(context.Background(), "", desc)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if out.Token.AccessToken != "SEEDED" {
		t.Fatalf("expected seeded token, got %q", out.Token.AccessToken)
	}
}

func TestEnsureAuthorizationCodeNeedsUser(t *testing.T) {
	mgr := NewManager(nil, nil)
	_, err := mgr.Ensure(context.Background(), "", restfile.OAuth2{GrantType: restfile.GrantAuthorizationCode})
	if !errors.Is(err, ErrAuthorizationRequired) {
		t.Fatalf("expected ErrAuthorizationRequired, got %v", err)
	}
}

func TestEnsureRejectsUnknownGrant(t *testing.T) {
	mgr := NewManager(nil, nil)
	if _, err := mgr.Ensure(context.Background(), "", restfile.OAuth2{GrantType: "implicit"}); err == nil {
		t.Fatalf("expected unknown grant to be rejected")
	}
}

func TestManagerAdoptsStoredToken(t *testing.T) {
	mgr := NewManager(nil, nil)
	desc := restfile.OAuth2{GrantType: restfile.GrantAuthorizationCode, ClientID: "cid"}
	first := mgr.Machine("dev", desc)
	if first.State() != StateNoToken {
		t.Fatalf("expected no token state, got %s", first.State())
	}

	desc.Token = restfile.Token{AccessToken: "T"}
	second := mgr.Machine("dev", desc)
	if first != second {
		t.Fatalf("expected the same machine for the same descriptor")
	}
	if second.State() != StateAcquired || second.Token().AccessToken != "T" {
		t.Fatalf("stored token not adopted: state %s token %q", second.State(), second.Token().AccessToken)
	}
}

func secretServer(t *testing.T, secret string) *tokenServer {
	t.Helper()
	return newTokenServer(t, func(form url.Values) (int, string) {
		if form.Get("client_secret") != secret {
			return 401, `{"error":"invalid_client"}`
		}
		return 200, `{"access_token":"GOOD","expires_in":3600}`
	})
}

func TestEnsureUsesCorrectedSecret(t *testing.T) {
	ts := secretServer(t, "good")
	mgr := NewManager(ts.Client(), nil)
	desc := restfile.OAuth2{GrantType: restfile.GrantClientCredentials, TokenURL: ts.URL, ClientID: "cid", ClientSecret: "bad"}

	if _, err := mgr.Ensure(context.Background(), "dev", desc); err == nil {
		t.Fatalf("expected the bad secret to be rejected")
	}

	desc.ClientSecret = "good"
	out, err := mgr.Ensure(context.Background(), "dev", desc)
	if err != nil {
		t.Fatalf("ensure with corrected secret: %v", err)
	}
	if out.Token.AccessToken != "GOOD" {
		t.Fatalf("unexpected token %q", out.Token.AccessToken)
	}
	if got := ts.lastForm().Get("client_secret"); got != "good" {
		t.Fatalf("expected the corrected secret to be sent, got %q", got)
	}
}

func TestEnsureDoesNotShareTokenAcrossCredentials(t *testing.T) {
	ts := secretServer(t, "good")
	mgr := NewManager(ts.Client(), nil)
	good := restfile.OAuth2{GrantType: restfile.GrantClientCredentials, TokenURL: ts.URL, ClientID: "cid", ClientSecret: "good"}
	if _, err := mgr.Ensure(context.Background(), "dev", good); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	bad := good
	bad.ClientSecret = "bad"
	out, err := mgr.Ensure(context.Background(), "dev", bad)
	if err == nil {
		t.Fatalf("expected bad credentials to fail, got token %q", out.Token.AccessToken)
	}

	pw := restfile.OAuth2{GrantType: restfile.GrantPassword, ClientID: "cid", Password: &restfile.PasswordGrant{Username: "ann", Password: "a"}}
	other := pw
	other.Password = &restfile.PasswordGrant{Username: "ann", Password: "b"}
	if mgr.Machine("dev", pw) == mgr.Machine("dev", other) {
		t.Fatalf("different passwords must not share a machine")
	}
}

func TestEnsureKeepsEnvironmentsApart(t *testing.T) {
	ts := newTokenServer(t, constReply(200, `{"access_token":"T","expires_in":3600}`))
	mgr := NewManager(ts.Client(), nil)
	desc := restfile.OAuth2{GrantType: restfile.GrantClientCredentials, TokenURL: ts.URL, ClientID: "cid"}

	for _, env := range []string{"dev", "prod", "Dev"} {
		if _, err := mgr.Ensure(context.Background(), env, desc); err != nil {
			t.Fatalf("ensure %s: %v", env, err)
		}
	}
	if ts.calls.Load() != 2 {
		t.Fatalf("expected one token per environment, got %d calls", ts.calls.Load())
	}
}

func TestMachineFollowsDescriptorChanges(t *testing.T) {
	mgr := NewManager(nil, nil)
	desc := restfile.OAuth2{
		GrantType:         restfile.GrantAuthorizationCode,
		ClientID:          "cid",
		AuthorizationCode: &restfile.AuthorizationCode{AuthURL: "https://idp/authorize"},
		Token:             restfile.Token{AccessToken: "T"},
	}
	mach := mgr.Machine("dev", desc)

	desc.AuthorizationCode.PKCE = true
	desc.Token = restfile.Token{}
	if mgr.Machine("dev", desc) != mach {
		t.Fatalf("expected the same machine")
	}
	got := mach.Descriptor()
	if got.AuthorizationCode == nil || !got.AuthorizationCode.PKCE {
		t.Fatalf("descriptor change not picked up: %+v", got.AuthorizationCode)
	}
	if got.Token.AccessToken != "T" {
		t.Fatalf("token lost while syncing descriptor: %q", got.Token.AccessToken)
	}
}

func TestConcurrentEnsureSharesOneToken(t *testing.T) {
	ts := newTokenServer(t, func(url.Values) (int, string) {
		time.Sleep(30 * time.Millisecond)
		return 200, `{"access_token":"T","expires_in":3600}`
	})
	mgr := NewManager(ts.Client(), nil)
	desc := restfile.OAuth2{GrantType: restfile.GrantClientCredentials, TokenURL: ts.URL, ClientID: "cid"}

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := mgr.Ensure(context.Background(), "dev", desc)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("ensure: %v", err)
		}
	}
	if ts.calls.Load() != 1 {
		t.Fatalf("expected concurrent callers to share one token request, got %d", ts.calls.Load())
	}
}
