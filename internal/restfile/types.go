package restfile

import (
	"strings"
	"time"
)

type KeyValue struct {
	Key     string `json:"key" yaml:"key"`
	Value   string `json:"value" yaml:"value"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
}

type BodyKind string

const (
	BodyNone       BodyKind = "none"
	BodyFormData   BodyKind = "form-data"
	BodyURLEncoded BodyKind = "x-www-form-urlencoded"
	BodyJSON       BodyKind = "json"
	BodyXML        BodyKind = "xml"
	BodyRaw        BodyKind = "raw"
)

type Body struct {
	Kind    BodyKind   `json:"kind" yaml:"kind"`
	Content string     `json:"content,omitempty" yaml:"content,omitempty"`
	Fields  []KeyValue `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// Empty reports whether the body carries nothing to send.
func (b *Body) Empty() bool {
	if b == nil || b.Kind == "" || b.Kind == BodyNone {
		return true
	}
	switch b.Kind {
	case BodyFormData, BodyURLEncoded:
		return len(b.Fields) == 0
	default:
		return b.Content == ""
	}
}

type AuthKind string

const (
	AuthNone   AuthKind = "none"
	AuthBasic  AuthKind = "basic"
	AuthBearer AuthKind = "bearer"
	AuthOAuth2 AuthKind = "oauth2"
)

// Auth is a tagged union; only the block matching Kind is consulted.
type Auth struct {
	Kind   AuthKind    `json:"kind" yaml:"kind"`
	Basic  *BasicAuth  `json:"basic,omitempty" yaml:"basic,omitempty"`
	Bearer *BearerAuth `json:"bearer,omitempty" yaml:"bearer,omitempty"`
	OAuth2 *OAuth2     `json:"oauth2,omitempty" yaml:"oauth2,omitempty"`
}

type BasicAuth struct {
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
}

type BearerAuth struct {
	Token string `json:"token" yaml:"token"`
}

type GrantType string

const (
	GrantAuthorizationCode GrantType = "authorization_code"
	GrantClientCredentials GrantType = "client_credentials"
	GrantPassword          GrantType = "password"
)

func (g GrantType) Valid() bool {
	switch g {
	case GrantAuthorizationCode, GrantClientCredentials, GrantPassword:
		return true
	}
	return false
}

type ClientAuth string

const (
	ClientAuthBody  ClientAuth = "body"
	ClientAuthBasic ClientAuth = "basic"
)

type OAuth2 struct {
	GrantType         GrantType          `json:"grantType" yaml:"grantType"`
	TokenURL          string             `json:"tokenUrl" yaml:"tokenUrl"`
	ClientID          string             `json:"clientId" yaml:"clientId"`
	ClientSecret      string             `json:"clientSecret,omitempty" yaml:"clientSecret,omitempty"`
	Scope             string             `json:"scope,omitempty" yaml:"scope,omitempty"`
	ClientAuth        ClientAuth         `json:"clientAuth,omitempty" yaml:"clientAuth,omitempty"`
	AuthorizationCode *AuthorizationCode `json:"authorizationCode,omitempty" yaml:"authorizationCode,omitempty"`
	Password          *PasswordGrant     `json:"password,omitempty" yaml:"password,omitempty"`
	Token             Token              `json:"token" yaml:"token,omitempty"`
}

type AuthorizationCode struct {
	AuthURL     string `json:"authUrl" yaml:"authUrl"`
	RedirectURL string `json:"redirectUrl" yaml:"redirectUrl"`
	PKCE        bool   `json:"pkce,omitempty" yaml:"pkce,omitempty"`
}

type PasswordGrant struct {
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
}

type Token struct {
	AccessToken  string    `json:"accessToken,omitempty" yaml:"accessToken,omitempty"`
	RefreshToken string    `json:"refreshToken,omitempty" yaml:"refreshToken,omitempty"`
	TokenType    string    `json:"tokenType,omitempty" yaml:"tokenType,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty" yaml:"expiry,omitempty"`
}

// SetGrantType switches the grant variant. Tokens acquired under the
// previous variant are dropped; user entered credentials are kept.
func (o *OAuth2) SetGrantType(g GrantType) {
	if o == nil || o.GrantType == g {
		return
	}
	o.GrantType = g
	o.Token = Token{}
}

type Scripts struct {
	PreRequest string `json:"preRequest,omitempty" yaml:"preRequest,omitempty"`
	Test       string `json:"test,omitempty" yaml:"test,omitempty"`
}

type Request struct {
	ID        string     `json:"id" yaml:"id"`
	ProjectID string     `json:"projectId" yaml:"-"`
	Name      string     `json:"name" yaml:"name"`
	Method    string     `json:"method" yaml:"method"`
	URL       string     `json:"url" yaml:"url"`
	Headers   []KeyValue `json:"headers,omitempty" yaml:"headers,omitempty"`
	Params    []KeyValue `json:"params,omitempty" yaml:"params,omitempty"`
	Body      *Body      `json:"body,omitempty" yaml:"body,omitempty"`
	Auth      *Auth      `json:"auth,omitempty" yaml:"auth,omitempty"`
	Scripts   *Scripts   `json:"scripts,omitempty" yaml:"scripts,omitempty"`
	Position  int        `json:"position" yaml:"-"`
}

// Clone returns a deep copy so callers can resolve or mutate it freely.
func (r Request) Clone() Request {
	out := r
	out.Headers = cloneKV(r.Headers)
	out.Params = cloneKV(r.Params)
	if r.Body != nil {
		b := *r.Body
		b.Fields = cloneKV(r.Body.Fields)
		out.Body = &b
	}
	if r.Auth != nil {
		out.Auth = r.Auth.Clone()
	}
	if r.Scripts != nil {
		s := *r.Scripts
		out.Scripts = &s
	}
	return out
}

func (r Request) DisplayName() string {
	if strings.TrimSpace(r.Name) != "" {
		return r.Name
	}
	return strings.ToUpper(r.Method) + " " + r.URL
}

func (a *Auth) Clone() *Auth {
	if a == nil {
		return nil
	}
	out := *a
	if a.Basic != nil {
		v := *a.Basic
		out.Basic = &v
	}
	if a.Bearer != nil {
		v := *a.Bearer
		out.Bearer = &v
	}
	if a.OAuth2 != nil {
		v := a.OAuth2.Clone()
		out.OAuth2 = v
	}
	return &out
}

func (o *OAuth2) Clone() *OAuth2 {
	if o == nil {
		return nil
	}
	out := *o
	if o.AuthorizationCode != nil {
		v := *o.AuthorizationCode
		out.AuthorizationCode = &v
	}
	if o.Password != nil {
		v := *o.Password
		out.Password = &v
	}
	return &out
}

func cloneKV(in []KeyValue) []KeyValue {
	if in == nil {
		return nil
	}
	out := make([]KeyValue, len(in))
	copy(out, in)
	return out
}

func EnabledValues(kvs []KeyValue) []KeyValue {
	out := make([]KeyValue, 0, len(kvs))
	for _, kv := range kvs {
		if kv.Enabled && strings.TrimSpace(kv.Key) != "" {
			out = append(out, kv)
		}
	}
	return out
}

type Environment struct {
	ID        string            `json:"id" yaml:"id"`
	Name      string            `json:"name" yaml:"name"`
	Variables map[string]string `json:"variables" yaml:"variables"`
}

func (e Environment) Clone() Environment {
	out := e
	out.Variables = make(map[string]string, len(e.Variables))
	for k, v := range e.Variables {
		out.Variables[k] = v
	}
	return out
}

type Project struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	BaseURL     string `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`
}

// ApplyBaseURL prefixes path-only request URLs with the project base URL.
func (p Project) ApplyBaseURL(raw string) string {
	base := strings.TrimRight(strings.TrimSpace(p.BaseURL), "/")
	if base == "" || !strings.HasPrefix(raw, "/") {
		return raw
	}
	return base + raw
}
