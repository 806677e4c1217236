package oauth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/unkn0wn-root/restrun/internal/errdef"
	"github.com/unkn0wn-root/restrun/internal/restfile"
)

// Manager keeps one Machine per descriptor so requests sharing credentials
// within a run reuse the same token.
type Manager struct {
	client *http.Client
	log    *slog.Logger

	mu       sync.Mutex
	machines map[string]*Machine
}

func NewManager(client *http.Client, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		client:   client,
		log:      log,
		machines: make(map[string]*Machine),
	}
}

// Machine returns the machine for desc within the environment env,
// creating it on first use. Credentials are part of the key, so a corrected
// secret gets a fresh machine. Other descriptor fields follow desc, and a
// token carried by desc seeds a machine that has none yet.
func (m *Manager) Machine(env string, desc restfile.OAuth2) *Machine {
	key := cacheKey(env, desc)
	m.mu.Lock()
	mach, ok := m.machines[key]
	if !ok {
		mach = NewMachine(desc, m.client)
		m.machines[key] = mach
	}
	m.mu.Unlock()
	if ok {
		mach.sync(desc)
	}
	return mach
}

// Ensure returns desc with a usable access token. A valid token is reused,
// an expired one is refreshed when a refresh token exists, otherwise the
// grant is run. Authorization code descriptors without a token need the
// interactive step first. Concurrent callers for one machine wait for each
// other and share the token the first one obtained.
func (m *Manager) Ensure(ctx context.Context, env string, desc restfile.OAuth2) (restfile.OAuth2, error) {
	if !desc.GrantType.Valid() {
		return desc, errdef.New(errdef.CodeOAuth, "unsupported grant type %q", desc.GrantType)
	}
	mach := m.Machine(env, desc)
	mach.ensure.Lock()
	defer mach.ensure.Unlock()
	if mach.Valid() {
		return mach.Descriptor(), nil
	}

	var err error
	if mach.CanRefresh() {
		m.log.Debug("refreshing oauth token", "env", env, "token_url", desc.TokenURL, "client_id", desc.ClientID)
		_, err = mach.Refresh(ctx)
	} else {
		m.log.Debug("acquiring oauth token", "env", env, "grant", desc.GrantType, "token_url", desc.TokenURL)
		_, err = mach.Acquire(ctx)
	}
	if err != nil {
		if !errors.Is(err, ErrAuthorizationRequired) {
			m.log.Warn("oauth token request failed", "env", env, "grant", desc.GrantType, "error", err)
		}
		return mach.Descriptor(), err
	}
	return mach.Descriptor(), nil
}

func cacheKey(env string, desc restfile.OAuth2) string {
	parts := []string{
		strings.ToLower(strings.TrimSpace(env)),
		strings.TrimSpace(desc.TokenURL),
		strings.TrimSpace(desc.ClientID),
		strings.TrimSpace(desc.Scope),
		strings.ToLower(string(desc.GrantType)),
		strings.ToLower(string(desc.ClientAuth)),
	}
	if ac := desc.AuthorizationCode; ac != nil {
		parts = append(parts, strings.TrimSpace(ac.AuthURL), strings.TrimSpace(ac.RedirectURL))
	}
	if pw := desc.Password; pw != nil {
		parts = append(parts, strings.TrimSpace(pw.Username))
	}
	parts = append(parts, credentialHash(desc))
	return strings.Join(parts, "|")
}

// credentialHash fingerprints the secrets so they never sit in a map key.
func credentialHash(desc restfile.OAuth2) string {
	h := sha256.New()
	h.Write([]byte(desc.ClientSecret))
	h.Write([]byte{0})
	if pw := desc.Password; pw != nil {
		h.Write([]byte(pw.Password))
	}
	return hex.EncodeToString(h.Sum(nil)[:8])
}
