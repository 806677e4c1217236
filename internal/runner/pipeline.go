// Package runner executes requests one at a time through variable
// resolution, token acquisition, scripts and transport, and drives whole
// project collections through that pipeline.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/unkn0wn-root/restrun/internal/errdef"
	"github.com/unkn0wn-root/restrun/internal/history"
	"github.com/unkn0wn-root/restrun/internal/httpclient"
	"github.com/unkn0wn-root/restrun/internal/oauth"
	"github.com/unkn0wn-root/restrun/internal/restfile"
	"github.com/unkn0wn-root/restrun/internal/scripts"
	"github.com/unkn0wn-root/restrun/internal/vars"
)

const historySnippetLimit = 2048

// Transport dispatches a resolved request. httpclient.Client implements it.
type Transport interface {
	Send(ctx context.Context, req restfile.Request) (*httpclient.Response, error)
}

// Recorder stores one entry per execution. history.Store implements it.
type Recorder interface {
	Append(entry history.Entry) error
}

// AuthSaver persists a request's auth descriptor after a token changes.
type AuthSaver interface {
	UpdateRequestAuth(ctx context.Context, requestID string, auth restfile.Auth) error
}

type PipelineOptions struct {
	Transport Transport
	Scripts   *scripts.Runner
	OAuth     *oauth.Manager
	Env       *vars.Active
	History   Recorder
	Auth      AuthSaver
	Logger    *slog.Logger
	Now       func() time.Time
}

type Pipeline struct {
	transport Transport
	scripts   *scripts.Runner
	oauth     *oauth.Manager
	env       *vars.Active
	history   Recorder
	auth      AuthSaver
	log       *slog.Logger
	now       func() time.Time
}

func NewPipeline(opts PipelineOptions) *Pipeline {
	p := &Pipeline{
		transport: opts.Transport,
		scripts:   opts.Scripts,
		oauth:     opts.OAuth,
		env:       opts.Env,
		history:   opts.History,
		auth:      opts.Auth,
		log:       opts.Logger,
		now:       opts.Now,
	}
	if p.log == nil {
		p.log = slog.New(slog.DiscardHandler)
	}
	if p.scripts == nil {
		p.scripts = scripts.NewRunner(scripts.Options{Logger: p.log})
	}
	if p.oauth == nil {
		p.oauth = oauth.NewManager(nil, p.log)
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// RequestRunResult is the outcome of one request. Success means a response
// arrived and no script failed fatally; the HTTP status does not matter.
type RequestRunResult struct {
	RequestID   string               `json:"requestId"`
	RequestName string               `json:"requestName"`
	Method      string               `json:"method"`
	URL         string               `json:"url"`
	Status      int                  `json:"status"`
	StatusText  string               `json:"statusText"`
	Duration    int64                `json:"duration"`
	Success     bool                 `json:"success"`
	Delivered   bool                 `json:"delivered"`
	Error       string               `json:"error,omitempty"`
	ScriptError string               `json:"scriptError,omitempty"`
	PreTests    []scripts.TestResult `json:"preRequestTests,omitempty"`
	Tests       []scripts.TestResult `json:"tests"`
	Console     []string             `json:"console,omitempty"`
	PassedTests int                  `json:"passedTests"`
	FailedTests int                  `json:"failedTests"`
	Response    *httpclient.Response `json:"-"`
}

type ExecuteInput struct {
	Request restfile.Request
	Project *restfile.Project
	RunID   string
}

// Execute runs one request: resolve, ensure an OAuth2 token, pre-request
// script, send, test script. The returned error is the terminal transport
// or token error, or else the first fatal script error; the result is
// filled in either way.
func (p *Pipeline) Execute(ctx context.Context, in ExecuteInput) (RequestRunResult, error) {
	resolved := p.resolve(in.Request, in.Project)
	res := RequestRunResult{
		RequestID:   resolved.ID,
		RequestName: resolved.DisplayName(),
		Method:      resolved.Method,
		URL:         resolved.URL,
		Tests:       []scripts.TestResult{},
	}
	started := p.now()

	if err := p.ensureToken(ctx, in.Request, &resolved, &res); err != nil {
		res.Error = err.Error()
		p.record(in, res, started)
		return res, err
	}

	var env scripts.Environment
	if p.env != nil {
		env = p.env
	}

	var fatal *scripts.ScriptError
	if script := scriptBody(resolved.Scripts, scripts.PhasePreRequest); script != "" {
		pre := p.scripts.RunPreRequest(ctx, scripts.PreRequestInput{
			Script:  script,
			Request: resolved,
			Env:     env,
		})
		res.Console = append(res.Console, pre.Console...)
		res.PreTests = pre.Tests
		if pre.Fatal != nil {
			fatal = pre.Fatal
			res.ScriptError = pre.Fatal.Error()
		}
	}

	resp, err := p.transport.Send(ctx, resolved)
	if err != nil {
		var te *httpclient.TransportError
		if errors.As(err, &te) {
			res.Duration = te.Duration.Milliseconds()
		}
		res.Error = err.Error()
		p.log.Debug("request failed", "request", res.RequestName, "error", err)
		p.record(in, res, started)
		return res, err
	}
	res.Delivered = true
	res.Status = resp.StatusCode
	res.StatusText = resp.StatusText()
	res.Duration = resp.Duration.Milliseconds()
	res.Response = resp
	if resp.Truncated {
		res.Console = append(res.Console, fmt.Sprintf("[warn] response body truncated to %d bytes", len(resp.Body)))
		p.log.Warn("response body truncated", "request", res.RequestName, "bytes", len(resp.Body))
	}

	if script := scriptBody(resolved.Scripts, scripts.PhaseTest); script != "" {
		post := p.scripts.RunTest(ctx, scripts.TestInput{
			Script:  script,
			Request: resolved,
			Response: &scripts.Response{
				Status:   resp.Status,
				Code:     resp.StatusCode,
				Header:   resp.Headers,
				Body:     resp.Body,
				Duration: resp.Duration,
			},
			Env: env,
		})
		res.Console = append(res.Console, post.Console...)
		if post.Tests != nil {
			res.Tests = post.Tests
		}
		res.PassedTests = post.Passed()
		res.FailedTests = post.Failed()
		if post.Fatal != nil {
			if fatal == nil {
				fatal = post.Fatal
			}
			if res.ScriptError == "" {
				res.ScriptError = post.Fatal.Error()
			}
		}
	}

	res.Success = fatal == nil
	p.record(in, res, started)
	if fatal != nil {
		return res, errdef.Wrap(errdef.CodeScript, fatal, "request %s", res.RequestName)
	}
	return res, nil
}

// resolve applies the project base URL and expands variables from the
// active environment. The caller's request is not modified.
func (p *Pipeline) resolve(req restfile.Request, project *restfile.Project) restfile.Request {
	if project != nil {
		req.URL = project.ApplyBaseURL(req.URL)
	}
	resolver := vars.NewResolver(p.env.Provider())
	resolver.OnMissing(func(name string) {
		p.log.Debug("unresolved variable", "request", req.DisplayName(), "name", name)
	})
	resolved := vars.ResolveRequest(req, resolver)
	resolved.Method = strings.ToUpper(strings.TrimSpace(resolved.Method))
	if resolved.Method == "" {
		resolved.Method = "GET"
	}
	return resolved
}

// envName is the name of the active environment, empty when none is.
func (p *Pipeline) envName() string {
	if env, ok := p.env.Environment(); ok {
		return env.Name
	}
	return ""
}

// ensureToken fills the resolved OAuth2 descriptor with a usable token. A
// token that changed is written back onto the stored, unresolved request.
func (p *Pipeline) ensureToken(ctx context.Context, original restfile.Request, resolved *restfile.Request, res *RequestRunResult) error {
	auth := resolved.Auth
	if auth == nil || auth.Kind != restfile.AuthOAuth2 || auth.OAuth2 == nil {
		return nil
	}
	desc, err := p.oauth.Ensure(ctx, p.envName(), *auth.OAuth2)
	if err != nil {
		return errdef.Wrap(errdef.CodeOAuth, err, "oauth2 token for %s", res.RequestName)
	}
	previous := auth.OAuth2.Token
	auth.OAuth2 = &desc

	if sameToken(desc.Token, previous) {
		return nil
	}
	if err := p.saveToken(ctx, original, desc.Token); err != nil {
		res.Console = append(res.Console, "[warn] oauth2: token not saved: "+err.Error())
		p.log.Warn("persist oauth token", "request", res.RequestName, "error", err)
	}
	return nil
}

// saveToken stores tok on the unresolved auth of original so templated
// credentials stay templated.
func (p *Pipeline) saveToken(ctx context.Context, original restfile.Request, tok restfile.Token) error {
	if p.auth == nil || original.ID == "" || original.Auth == nil || original.Auth.OAuth2 == nil {
		return nil
	}
	stored := original.Auth.Clone()
	stored.OAuth2.Token = tok
	return p.auth.UpdateRequestAuth(ctx, original.ID, *stored)
}

func (p *Pipeline) record(in ExecuteInput, res RequestRunResult, started time.Time) {
	if p.history == nil {
		return
	}
	entry := history.Entry{
		ID:          uuid.NewString(),
		ExecutedAt:  started,
		RunID:       in.RunID,
		ProjectID:   in.Request.ProjectID,
		RequestID:   res.RequestID,
		RequestName: res.RequestName,
		Method:      res.Method,
		URL:         res.URL,
		StatusCode:  res.Status,
		Duration:    time.Duration(res.Duration) * time.Millisecond,
		Success:     res.Success,
		Error:       res.Error,
		ScriptError: res.ScriptError,
		PassedTests: res.PassedTests,
		FailedTests: res.FailedTests,
	}
	if in.Project != nil && entry.ProjectID == "" {
		entry.ProjectID = in.Project.ID
	}
	entry.Environment = p.envName()
	if res.Response != nil {
		entry.Status = res.Response.Status
		entry.BodySnippet = history.Snippet(res.Response.Body, historySnippetLimit)
	}
	if err := p.history.Append(entry); err != nil {
		p.log.Warn("record history", "request", res.RequestName, "error", err)
	}
}

func scriptBody(s *restfile.Scripts, phase scripts.Phase) string {
	if s == nil {
		return ""
	}
	if phase == scripts.PhasePreRequest {
		return s.PreRequest
	}
	return s.Test
}

func sameToken(a, b restfile.Token) bool {
	return a.AccessToken == b.AccessToken &&
		a.RefreshToken == b.RefreshToken &&
		a.TokenType == b.TokenType &&
		a.Expiry.Equal(b.Expiry)
}
