package oauth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/unkn0wn-root/restrun/internal/errdef"
	"github.com/unkn0wn-root/restrun/internal/restfile"
)

type State int

const (
	StateNoToken State = iota
	StateAcquiring
	StateAcquired
	StateRefreshing
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNoToken:
		return "no-token"
	case StateAcquiring:
		return "acquiring"
	case StateAcquired:
		return "acquired"
	case StateRefreshing:
		return "refreshing"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

const expirySlack = 30 * time.Second

var (
	ErrRefreshUnavailable    = errors.New("oauth: no refresh token available")
	ErrCodeConsumed          = errors.New("oauth: authorization code already used")
	ErrAuthorizationRequired = errors.New("oauth: user authorization required")
	ErrWrongGrant            = errors.New("oauth: operation not valid for grant type")
)

// Machine tracks the token lifecycle of one OAuth2 descriptor. Transitions
// are serialized; State may be read while a transition is in flight.
type Machine struct {
	op     sync.Mutex
	ensure sync.Mutex

	mu        sync.Mutex
	desc      restfile.OAuth2
	state     State
	lastErr   error
	verifier  string
	authState string
	usedCodes map[string]struct{}

	client *http.Client
	now    func() time.Time
}

func NewMachine(desc restfile.OAuth2, client *http.Client) *Machine {
	m := &Machine{
		desc:      *desc.Clone(),
		usedCodes: make(map[string]struct{}),
		client:    client,
		now:       time.Now,
	}
	if m.desc.Token.AccessToken != "" {
		m.state = StateAcquired
	}
	return m
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

func (m *Machine) Token() restfile.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.desc.Token
}

// Descriptor returns a copy of the descriptor including the current token.
func (m *Machine) Descriptor() restfile.OAuth2 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.desc.Clone()
}

// Valid reports whether the access token is usable for at least expirySlack.
func (m *Machine) Valid() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return tokenValid(m.desc.Token, m.now())
}

func tokenValid(t restfile.Token, now time.Time) bool {
	if strings.TrimSpace(t.AccessToken) == "" {
		return false
	}
	if t.Expiry.IsZero() {
		return true
	}
	return now.Add(expirySlack).Before(t.Expiry)
}

// CanRefresh reports whether Refresh would reach the token endpoint.
// A failed machine that still holds a token counts as acquired here.
func (m *Machine) CanRefresh() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.canRefreshLocked()
}

func (m *Machine) canRefreshLocked() bool {
	if strings.TrimSpace(m.desc.Token.RefreshToken) == "" {
		return false
	}
	switch m.state {
	case StateAcquired:
		return true
	case StateFailed:
		return m.desc.Token.AccessToken != ""
	}
	return false
}

// SetGrantType switches the variant. Derived tokens and any pending
// authorization are dropped; credentials stay.
func (m *Machine) SetGrantType(g restfile.GrantType) {
	m.op.Lock()
	defer m.op.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.desc.GrantType == g {
		return
	}
	m.desc.SetGrantType(g)
	m.state = StateNoToken
	m.lastErr = nil
	m.verifier = ""
	m.authState = ""
}

// sync takes the non-token fields of desc, such as a re-resolved redirect
// URL or PKCE switch, and seeds its token into a machine that has none.
func (m *Machine) sync(desc restfile.OAuth2) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok := m.desc.Token
	m.desc = *desc.Clone()
	m.desc.Token = tok
	if m.state != StateNoToken || desc.Token.AccessToken == "" {
		return
	}
	m.desc.Token = desc.Token
	m.state = StateAcquired
}

// Acquire obtains a token using the descriptor's own credentials. The
// authorization code grant needs a user step and is rejected.
func (m *Machine) Acquire(ctx context.Context) (restfile.Token, error) {
	desc := m.Descriptor()
	switch desc.GrantType {
	case restfile.GrantClientCredentials:
		return m.transition(ctx, StateAcquiring, func(ctx context.Context) (*oauth2.Token, error) {
			return clientCredentialsConfig(desc).Token(ctx)
		})
	case restfile.GrantPassword:
		if desc.Password == nil {
			return restfile.Token{}, errdef.New(errdef.CodeOAuth, "password grant requires username and password")
		}
		return m.AcquirePassword(ctx, desc.Password.Username, desc.Password.Password)
	case restfile.GrantAuthorizationCode:
		return restfile.Token{}, errdef.Wrap(errdef.CodeOAuth, ErrAuthorizationRequired, "acquire token")
	default:
		return restfile.Token{}, errdef.New(errdef.CodeOAuth, "unsupported grant type %q", desc.GrantType)
	}
}

// AcquirePassword runs the resource owner password grant with the given
// credentials. They are not written back into the descriptor.
func (m *Machine) AcquirePassword(ctx context.Context, username, password string) (restfile.Token, error) {
	desc := m.Descriptor()
	if desc.GrantType != restfile.GrantPassword {
		return restfile.Token{}, errdef.Wrap(errdef.CodeOAuth, ErrWrongGrant, "password grant")
	}
	return m.transition(ctx, StateAcquiring, func(ctx context.Context) (*oauth2.Token, error) {
		return oauthConfig(desc).PasswordCredentialsToken(ctx, username, password)
	})
}

// Exchange trades an authorization code for tokens. Each code is consumed
// once; a reused code is rejected without contacting the server.
func (m *Machine) Exchange(ctx context.Context, code string) (restfile.Token, error) {
	code = strings.TrimSpace(code)
	m.mu.Lock()
	desc := *m.desc.Clone()
	verifier := m.verifier
	if desc.GrantType != restfile.GrantAuthorizationCode {
		m.mu.Unlock()
		return restfile.Token{}, errdef.Wrap(errdef.CodeOAuth, ErrWrongGrant, "exchange code")
	}
	if code == "" {
		m.mu.Unlock()
		return restfile.Token{}, errdef.New(errdef.CodeOAuth, "authorization code is empty")
	}
	if _, used := m.usedCodes[code]; used {
		m.mu.Unlock()
		return restfile.Token{}, errdef.Wrap(errdef.CodeOAuth, ErrCodeConsumed, "exchange code")
	}
	m.usedCodes[code] = struct{}{}
	m.mu.Unlock()

	return m.transition(ctx, StateAcquiring, func(ctx context.Context) (*oauth2.Token, error) {
		var opts []oauth2.AuthCodeOption
		if verifier != "" {
			opts = append(opts, oauth2.VerifierOption(verifier))
		}
		return oauthConfig(desc).Exchange(ctx, code, opts...)
	})
}

// Refresh trades the refresh token for a new access token. Without a
// refresh token nothing is sent. On failure the old tokens stay and the
// call is not retried.
func (m *Machine) Refresh(ctx context.Context) (restfile.Token, error) {
	m.mu.Lock()
	if !m.canRefreshLocked() {
		m.mu.Unlock()
		return restfile.Token{}, errdef.Wrap(errdef.CodeOAuth, ErrRefreshUnavailable, "refresh token")
	}
	desc := *m.desc.Clone()
	m.mu.Unlock()

	return m.transition(ctx, StateRefreshing, func(ctx context.Context) (*oauth2.Token, error) {
		src := oauthConfig(desc).TokenSource(ctx, &oauth2.Token{RefreshToken: desc.Token.RefreshToken})
		return src.Token()
	})
}

func (m *Machine) transition(
	ctx context.Context,
	inflight State,
	fetch func(context.Context) (*oauth2.Token, error),
) (restfile.Token, error) {
	m.op.Lock()
	defer m.op.Unlock()

	m.mu.Lock()
	m.state = inflight
	m.mu.Unlock()

	if m.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, m.client)
	}
	tok, err := fetch(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.state = StateFailed
		m.lastErr = errdef.Wrap(errdef.CodeOAuth, err, "%s token", verbFor(inflight))
		return restfile.Token{}, m.lastErr
	}
	next := restfile.Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
	}
	if inflight == StateRefreshing && next.RefreshToken == "" {
		next.RefreshToken = m.desc.Token.RefreshToken
	}
	m.desc.Token = next
	m.state = StateAcquired
	m.lastErr = nil
	return next, nil
}

func verbFor(s State) string {
	if s == StateRefreshing {
		return "refresh"
	}
	return "acquire"
}

func endpoint(desc restfile.OAuth2) oauth2.Endpoint {
	ep := oauth2.Endpoint{TokenURL: desc.TokenURL, AuthStyle: authStyle(desc.ClientAuth)}
	if desc.AuthorizationCode != nil {
		ep.AuthURL = desc.AuthorizationCode.AuthURL
	}
	return ep
}

func authStyle(mode restfile.ClientAuth) oauth2.AuthStyle {
	if strings.EqualFold(string(mode), string(restfile.ClientAuthBasic)) {
		return oauth2.AuthStyleInHeader
	}
	return oauth2.AuthStyleInParams
}

func oauthConfig(desc restfile.OAuth2) *oauth2.Config {
	cfg := &oauth2.Config{
		ClientID:     desc.ClientID,
		ClientSecret: desc.ClientSecret,
		Endpoint:     endpoint(desc),
		Scopes:       strings.Fields(desc.Scope),
	}
	if desc.AuthorizationCode != nil {
		cfg.RedirectURL = desc.AuthorizationCode.RedirectURL
	}
	return cfg
}

func clientCredentialsConfig(desc restfile.OAuth2) *clientcredentials.Config {
	return &clientcredentials.Config{
		ClientID:     desc.ClientID,
		ClientSecret: desc.ClientSecret,
		TokenURL:     desc.TokenURL,
		Scopes:       strings.Fields(desc.Scope),
		AuthStyle:    authStyle(desc.ClientAuth),
	}
}
