package vars

import (
	"reflect"
	"regexp"
	"testing"

	"github.com/unkn0wn-root/restrun/internal/restfile"
)

func TestExpandTemplates(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		values map[string]string
		in     string
		want   string
	}{
		{"base url", map[string]string{"base": "https://api"}, "{{base}}/users", "https://api/users"},
		{"no rescan", map[string]string{"a": "{{b}}", "b": "deep"}, "{{a}}", "{{b}}"},
		{"trims name", map[string]string{"token": "abc"}, "Bearer {{ token }}", "Bearer abc"},
		{"case sensitive", map[string]string{"Token": "abc"}, "{{token}}", "{{token}}"},
		{"provider shadows dynamic", map[string]string{"$guid": "fixed"}, "{{$guid}}", "fixed"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			r := NewResolver(NewMapProvider("dev", tc.values))
			if got := r.ExpandTemplates(tc.in); got != tc.want {
				t.Fatalf("ExpandTemplates(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestExpandTemplatesIdempotentWithoutTokens(t *testing.T) {
	t.Parallel()

	r := NewResolver(NewMapProvider("dev", map[string]string{"x": "1"}))
	in := "plain text { not } a token"
	if got := r.ExpandTemplates(r.ExpandTemplates(in)); got != in {
		t.Fatalf("expected text without tokens unchanged, got %q", got)
	}
}

func TestExpandTemplatesLeavesUnknownVerbatim(t *testing.T) {
	t.Parallel()

	var missing []string
	r := NewResolver(NewMapProvider("dev", map[string]string{"base": "https://api"}))
	r.OnMissing(func(name string) { missing = append(missing, name) })

	if got := r.ExpandTemplates("{{base}}/{{nope}}"); got != "https://api/{{nope}}" {
		t.Fatalf("unexpected expansion %q", got)
	}
	if !reflect.DeepEqual(missing, []string{"nope"}) {
		t.Fatalf("expected missing [nope], got %v", missing)
	}
}

func TestDynamicVariables(t *testing.T) {
	t.Parallel()

	r := NewResolver()
	guid := regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)
	if got := r.ExpandTemplates("{{$guid}}"); !guid.MatchString(got) {
		t.Fatalf("expected a v4 uuid, got %q", got)
	}
	digits := regexp.MustCompile(`^\d+$`)
	for _, tmpl := range []string{"{{$timestamp}}", "{{$randomInt}}"} {
		if got := r.ExpandTemplates(tmpl); !digits.MatchString(got) {
			t.Fatalf("%s: expected digits, got %q", tmpl, got)
		}
	}
	if got := r.ExpandTemplates("{{$unknown}}"); got != "{{$unknown}}" {
		t.Fatalf("unknown dynamic variable should stay verbatim, got %q", got)
	}
}

func TestResolveRequestSkipsDisabledEntries(t *testing.T) {
	t.Parallel()

	r := NewResolver(NewMapProvider("dev", map[string]string{
		"base":  "https://api",
		"token": "abc",
		"id":    "42",
	}))
	req := restfile.Request{
		Method: "POST",
		URL:    "{{base}}/users/{{id}}",
		Headers: []restfile.KeyValue{
			{Key: "Authorization", Value: "Bearer {{token}}", Enabled: true},
			{Key: "X-Off", Value: "{{token}}", Enabled: false},
		},
		Params: []restfile.KeyValue{{Key: "q", Value: "{{id}}", Enabled: true}},
		Body:   &restfile.Body{Kind: restfile.BodyJSON, Content: `{"id":"{{id}}"}`},
	}

	out := ResolveRequest(req, r)

	if out.URL != "https://api/users/42" {
		t.Fatalf("unexpected url %q", out.URL)
	}
	if len(out.Headers) != 2 {
		t.Fatalf("expected both headers kept, got %d", len(out.Headers))
	}
	if out.Headers[0].Value != "Bearer abc" || out.Headers[1].Value != "{{token}}" {
		t.Fatalf("unexpected headers %+v", out.Headers)
	}
	if out.Params[0].Value != "42" {
		t.Fatalf("unexpected param %q", out.Params[0].Value)
	}
	if out.Body.Content != `{"id":"42"}` {
		t.Fatalf("unexpected body %q", out.Body.Content)
	}
	if req.URL != "{{base}}/users/{{id}}" || req.Body.Content != `{"id":"{{id}}"}` {
		t.Fatalf("input request mutated: %q %q", req.URL, req.Body.Content)
	}
}

func TestResolveRequestExpandsOAuth2Credentials(t *testing.T) {
	t.Parallel()

	r := NewResolver(NewMapProvider("dev", map[string]string{
		"idp":    "https://idp.example.com",
		"client": "cid",
		"secret": "s3cr3t",
	}))
	req := restfile.Request{
		Method: "GET",
		URL:    "https://api/me",
		Auth: &restfile.Auth{
			Kind: restfile.AuthOAuth2,
			OAuth2: &restfile.OAuth2{
				GrantType:    restfile.GrantClientCredentials,
				TokenURL:     "{{idp}}/token",
				ClientID:     "{{client}}",
				ClientSecret: "{{secret}}",
				Token:        restfile.Token{AccessToken: "{{client}}"},
			},
		},
	}

	o := ResolveRequest(req, r).Auth.OAuth2
	if o.TokenURL != "https://idp.example.com/token" || o.ClientID != "cid" || o.ClientSecret != "s3cr3t" {
		t.Fatalf("credentials not expanded: %+v", o)
	}
	if o.Token.AccessToken != "{{client}}" {
		t.Fatalf("stored token must not be expanded, got %q", o.Token.AccessToken)
	}
	if req.Auth.OAuth2.TokenURL != "{{idp}}/token" {
		t.Fatalf("input auth mutated: %q", req.Auth.OAuth2.TokenURL)
	}
}
