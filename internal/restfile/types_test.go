package restfile

import (
	"testing"
	"time"
)

func TestRequestCloneIsDeep(t *testing.T) {
	req := Request{
		Headers: []KeyValue{{Key: "A", Value: "1", Enabled: true}},
		Body:    &Body{Kind: BodyURLEncoded, Fields: []KeyValue{{Key: "f", Value: "v", Enabled: true}}},
		Auth: &Auth{Kind: AuthOAuth2, OAuth2: &OAuth2{
			GrantType: GrantPassword,
			Password:  &PasswordGrant{Username: "u"},
		}},
	}
	cp := req.Clone()
	cp.Headers[0].Value = "2"
	cp.Body.Fields[0].Value = "changed"
	cp.Auth.OAuth2.Password.Username = "other"

	if req.Headers[0].Value != "1" {
		t.Fatalf("header shared with clone: %q", req.Headers[0].Value)
	}
	if req.Body.Fields[0].Value != "v" {
		t.Fatalf("body fields shared with clone: %q", req.Body.Fields[0].Value)
	}
	if req.Auth.OAuth2.Password.Username != "u" {
		t.Fatalf("password grant shared with clone: %q", req.Auth.OAuth2.Password.Username)
	}
}

func TestSetGrantTypeClearsTokenKeepsCredentials(t *testing.T) {
	o := &OAuth2{
		GrantType:    GrantClientCredentials,
		ClientID:     "cid",
		ClientSecret: "sec",
		Password:     &PasswordGrant{Username: "u", Password: "p"},
		Token:        Token{AccessToken: "T", RefreshToken: "R", Expiry: time.Now().Add(time.Hour)},
	}
	o.SetGrantType(GrantPassword)

	if o.GrantType != GrantPassword {
		t.Fatalf("grant not switched: %s", o.GrantType)
	}
	if o.Token.AccessToken != "" || o.Token.RefreshToken != "" {
		t.Fatalf("expected token to be cleared, got %+v", o.Token)
	}
	if o.ClientID != "cid" || o.Password.Username != "u" {
		t.Fatalf("credentials lost: client %q user %q", o.ClientID, o.Password.Username)
	}
}

func TestApplyBaseURL(t *testing.T) {
	p := Project{BaseURL: "https://api.example.com/"}
	cases := []struct {
		project Project
		in      string
		want    string
	}{
		{p, "/users", "https://api.example.com/users"},
		{p, "{{base}}/users", "{{base}}/users"},
		{Project{}, "/users", "/users"},
	}
	for _, tc := range cases {
		if got := tc.project.ApplyBaseURL(tc.in); got != tc.want {
			t.Fatalf("ApplyBaseURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestBodyEmpty(t *testing.T) {
	var nilBody *Body
	cases := []struct {
		body *Body
		want bool
	}{
		{nilBody, true},
		{&Body{Kind: BodyNone, Content: "x"}, true},
		{&Body{Kind: BodyJSON, Content: "{}"}, false},
		{&Body{Kind: BodyFormData}, true},
	}
	for i, tc := range cases {
		if got := tc.body.Empty(); got != tc.want {
			t.Fatalf("case %d: Empty() = %v, want %v", i, got, tc.want)
		}
	}
}
