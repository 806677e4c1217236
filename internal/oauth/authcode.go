package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net"
	"net/http"
	"net/url"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/unkn0wn-root/restrun/internal/errdef"
	"github.com/unkn0wn-root/restrun/internal/restfile"
)

const defaultCallbackPath = "/oauth/callback"

var launchBrowser = OpenBrowser

// AuthorizationURL builds the URL the user opens to grant access. It
// generates a fresh state and, when PKCE is enabled, an S256 verifier that
// the following Exchange will send.
func (m *Machine) AuthorizationURL() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ac := m.desc.AuthorizationCode
	if m.desc.GrantType != restfile.GrantAuthorizationCode || ac == nil {
		return "", errdef.Wrap(errdef.CodeOAuth, ErrWrongGrant, "authorization url")
	}
	if strings.TrimSpace(ac.AuthURL) == "" {
		return "", errdef.New(errdef.CodeOAuth, "authorization url is empty")
	}
	state, err := randString(24)
	if err != nil {
		return "", err
	}
	m.authState = state

	var opts []oauth2.AuthCodeOption
	m.verifier = ""
	if ac.PKCE {
		m.verifier = oauth2.GenerateVerifier()
		opts = append(opts, oauth2.S256ChallengeOption(m.verifier))
	}
	return oauthConfig(m.desc).AuthCodeURL(state, opts...), nil
}

// ExpectedState is the state value sent with the last authorization URL.
func (m *Machine) ExpectedState() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.authState
}

func (m *Machine) setRedirect(raw string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.desc.AuthorizationCode != nil {
		m.desc.AuthorizationCode.RedirectURL = raw
	}
}

// Authorize runs the interactive flow: it listens on the loopback redirect,
// opens the authorization URL and exchanges the returned code.
func (m *Machine) Authorize(ctx context.Context, open func(string) error) (restfile.Token, error) {
	desc := m.Descriptor()
	if desc.GrantType != restfile.GrantAuthorizationCode || desc.AuthorizationCode == nil {
		return restfile.Token{}, errdef.Wrap(errdef.CodeOAuth, ErrWrongGrant, "authorize")
	}
	cb, err := ListenCallback(desc.AuthorizationCode.RedirectURL)
	if err != nil {
		return restfile.Token{}, err
	}
	defer cb.Close()
	m.setRedirect(cb.URL())

	link, err := m.AuthorizationURL()
	if err != nil {
		return restfile.Token{}, err
	}
	if open == nil {
		open = launchBrowser
	}
	if err := open(link); err != nil {
		return restfile.Token{}, errdef.Wrap(errdef.CodeOAuth, err, "open browser")
	}

	code, err := cb.Wait(ctx, m.ExpectedState())
	if err != nil {
		return restfile.Token{}, err
	}
	return m.Exchange(ctx, code)
}

// Callback is a one shot loopback server receiving the authorization redirect.
type Callback struct {
	url   *url.URL
	srv   *http.Server
	resCh chan callbackResult
	errCh chan error
	once  sync.Once
}

type callbackResult struct {
	code  string
	state string
}

// ListenCallback binds the redirect address. Port 0 or an empty redirect
// picks a free port on 127.0.0.1.
func ListenCallback(redirect string) (*Callback, error) {
	u, ln, err := prepareRedirect(redirect)
	if err != nil {
		return nil, err
	}
	cb := &Callback{
		url:   u,
		resCh: make(chan callbackResult, 1),
		errCh: make(chan error, 1),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", cb.handle)
	cb.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := cb.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			cb.fail(err)
		}
	}()
	return cb, nil
}

func (cb *Callback) URL() string {
	return cb.url.String()
}

// Wait blocks until the redirect arrives and returns its code. A state
// other than the expected one is rejected.
func (cb *Callback) Wait(ctx context.Context, state string) (string, error) {
	defer cb.Close()

	select {
	case res := <-cb.resCh:
		if state != "" && res.state != state {
			return "", errdef.New(errdef.CodeOAuth, "oauth callback: state mismatch")
		}
		return res.code, nil
	case err := <-cb.errCh:
		return "", errdef.Wrap(errdef.CodeOAuth, err, "oauth callback")
	case <-ctx.Done():
		return "", errdef.Wrap(errdef.CodeOAuth, ctx.Err(), "waiting for oauth authorization")
	}
}

func (cb *Callback) Close() {
	cb.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = cb.srv.Shutdown(ctx)
	})
}

func (cb *Callback) fail(err error) {
	select {
	case cb.errCh <- err:
	default:
	}
}

func (cb *Callback) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != cb.url.Path {
		http.NotFound(w, r)
		return
	}

	q := r.URL.Query()
	if errText := strings.TrimSpace(q.Get("error")); errText != "" {
		http.Error(w, "authorization failed", http.StatusBadRequest)
		cb.fail(errdef.New(errdef.CodeOAuth, "authorization failed: %s", errText))
		return
	}
	code := strings.TrimSpace(q.Get("code"))
	if code == "" {
		http.Error(w, "missing authorization code", http.StatusBadRequest)
		cb.fail(errdef.New(errdef.CodeOAuth, "authorization response missing code"))
		return
	}

	select {
	case cb.resCh <- callbackResult{code: code, state: strings.TrimSpace(q.Get("state"))}:
	default:
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte("<html><body><p>Authorization received. You can close this window.</p></body></html>"))
}

func prepareRedirect(raw string) (*url.URL, net.Listener, error) {
	var (
		host  = "127.0.0.1"
		path  = defaultCallbackPath
		query string
	)

	raw = strings.TrimSpace(raw)
	if raw != "" {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, nil, errdef.Wrap(errdef.CodeOAuth, err, "parse redirect url")
		}
		if u.Scheme != "" && u.Scheme != "http" {
			return nil, nil, errdef.New(errdef.CodeOAuth, "redirect url must use http")
		}
		if u.Path != "" {
			path = u.Path
		}
		if u.Host != "" {
			host = u.Host
		}
		query = u.RawQuery
	}

	h, p := splitHostPort(host)
	if h == "" {
		h = "127.0.0.1"
	}
	if !isLoopback(h) {
		return nil, nil, errdef.New(errdef.CodeOAuth, "redirect url host must be loopback")
	}
	if p == "" {
		p = "0"
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(h, p))
	if err != nil {
		return nil, nil, errdef.Wrap(errdef.CodeOAuth, err, "listen for oauth redirect")
	}
	addr := ln.Addr().(*net.TCPAddr)
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return &url.URL{
		Scheme:   "http",
		Host:     net.JoinHostPort(h, strconv.Itoa(addr.Port)),
		Path:     path,
		RawQuery: query,
	}, ln, nil
}

func splitHostPort(input string) (string, string) {
	if strings.Contains(input, ":") {
		if host, port, err := net.SplitHostPort(input); err == nil {
			return host, port
		}
	}
	return input, ""
}

func isLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// OpenBrowser opens link with the platform URL handler.
func OpenBrowser(link string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", link)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", link)
	default:
		cmd = exec.Command("xdg-open", link)
	}
	return cmd.Start()
}

func randString(size int) (string, error) {
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", errdef.Wrap(errdef.CodeOAuth, err, "generate random string")
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
