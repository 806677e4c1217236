package runner

import (
	"context"

	"github.com/unkn0wn-root/restrun/internal/errdef"
	"github.com/unkn0wn-root/restrun/internal/oauth"
	"github.com/unkn0wn-root/restrun/internal/restfile"
)

// TokenStep drives one explicit transition of a request's OAuth2 machine,
// such as the browser authorization or a manual refresh.
type TokenStep func(ctx context.Context, m *oauth.Machine) (restfile.Token, error)

// Authorize runs step against the OAuth2 descriptor of a stored request,
// resolved against the active environment, and saves the new token onto
// the request. A failed save is returned; the token is still valid for the
// rest of the process.
func (r *Runner) Authorize(ctx context.Context, projectID, ref string, step TokenStep) (restfile.Token, error) {
	project, err := r.store.Project(ctx, projectID)
	if err != nil {
		return restfile.Token{}, errdef.Wrap(errdef.CodeStore, err, "load project %s", projectID)
	}
	requests, err := r.store.ListProjectRequests(ctx, project.ID)
	if err != nil {
		return restfile.Token{}, errdef.Wrap(errdef.CodeStore, err, "list requests of %s", project.Name)
	}
	req, ok := findRequest(requests, ref)
	if !ok {
		return restfile.Token{}, errdef.New(errdef.CodeStore, "request %q not found in %s", ref, project.Name)
	}
	if req.Auth == nil || req.Auth.Kind != restfile.AuthOAuth2 || req.Auth.OAuth2 == nil {
		return restfile.Token{}, errdef.New(errdef.CodeOAuth, "request %s does not use oauth2", req.DisplayName())
	}

	resolved := r.pipeline.resolve(req, &project)
	mach := r.pipeline.oauth.Machine(r.pipeline.envName(), *resolved.Auth.OAuth2)
	tok, err := step(ctx, mach)
	if err != nil {
		return restfile.Token{}, err
	}
	r.log.Info("oauth token updated", "request", req.DisplayName(), "state", mach.State())
	if err := r.pipeline.saveToken(ctx, req, tok); err != nil {
		return tok, errdef.Wrap(errdef.CodeStore, err, "save token for %s", req.DisplayName())
	}
	return tok, nil
}
