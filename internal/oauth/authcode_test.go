package oauth

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/unkn0wn-root/restrun/internal/restfile"
)

func hitCallback(link string) {
	go func() {
		time.Sleep(20 * time.Millisecond)
		resp, err := http.Get(link)
		if err == nil {
			_ = resp.Body.Close()
		}
	}()
}

func TestCallbackDeliversCode(t *testing.T) {
	cb, err := ListenCallback("http://127.0.0.1:0/cb")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer cb.Close()
	hitCallback(cb.URL() + "?code=xyz&state=s1")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	code, err := cb.Wait(ctx, "s1")
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if code != "xyz" {
		t.Fatalf("expected code xyz, got %q", code)
	}
}

func TestCallbackRejectsStateMismatch(t *testing.T) {
	cb, err := ListenCallback("")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer cb.Close()
	hitCallback(cb.URL() + "?code=xyz&state=wrong")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = cb.Wait(ctx, "expected")
	if err == nil || !strings.Contains(err.Error(), "state mismatch") {
		t.Fatalf("expected state mismatch error, got %v", err)
	}
}

func TestListenCallbackRejectsRemoteHost(t *testing.T) {
	if _, err := ListenCallback("http://example.com/cb"); err == nil {
		t.Fatalf("expected a non-loopback redirect to be rejected")
	}
}

func TestAuthorizeRunsFullFlow(t *testing.T) {
	ts := newTokenServer(t, constReply(200, `{"access_token":"A","expires_in":3600}`))
	mach := NewMachine(restfile.OAuth2{
		GrantType: restfile.GrantAuthorizationCode,
		TokenURL:  ts.URL,
		ClientID:  "cid",
		AuthorizationCode: &restfile.AuthorizationCode{
			AuthURL:     "https://auth.example.com/authorize",
			RedirectURL: "http://127.0.0.1:0/cb",
		},
	}, ts.Client())

	open := func(link string) error {
		u, err := url.Parse(link)
		if err != nil {
			return err
		}
		q := u.Query()
		hitCallback(q.Get("redirect_uri") + "?code=c1&state=" + url.QueryEscape(q.Get("state")))
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tok, err := mach.Authorize(ctx, open)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if tok.AccessToken != "A" {
		t.Fatalf("unexpected token %+v", tok)
	}
	if code := ts.lastForm().Get("code"); code != "c1" {
		t.Fatalf("expected code c1 to be exchanged, got %q", code)
	}
}
