package vars

import "github.com/unkn0wn-root/restrun/internal/restfile"

// ResolveRequest returns a copy of req with placeholders expanded in the
// URL, enabled header and param values, and the body. Disabled entries are
// carried over untouched; they are dropped later at transport time.
func ResolveRequest(req restfile.Request, r *Resolver) restfile.Request {
	out := req.Clone()
	if r == nil {
		return out
	}
	out.URL = r.ExpandTemplates(out.URL)
	resolveEnabled(out.Headers, r)
	resolveEnabled(out.Params, r)
	if out.Body != nil {
		out.Body.Content = r.ExpandTemplates(out.Body.Content)
		resolveEnabled(out.Body.Fields, r)
	}
	if out.Auth != nil {
		resolveAuth(out.Auth, r)
	}
	return out
}

func resolveEnabled(kvs []restfile.KeyValue, r *Resolver) {
	for i := range kvs {
		if !kvs[i].Enabled {
			continue
		}
		kvs[i].Value = r.ExpandTemplates(kvs[i].Value)
	}
}

func resolveAuth(a *restfile.Auth, r *Resolver) {
	switch a.Kind {
	case restfile.AuthBasic:
		if a.Basic != nil {
			a.Basic.Username = r.ExpandTemplates(a.Basic.Username)
			a.Basic.Password = r.ExpandTemplates(a.Basic.Password)
		}
	case restfile.AuthBearer:
		if a.Bearer != nil {
			a.Bearer.Token = r.ExpandTemplates(a.Bearer.Token)
		}
	case restfile.AuthOAuth2:
		if a.OAuth2 != nil {
			resolveOAuth2(a.OAuth2, r)
		}
	}
}

// resolveOAuth2 expands credentials and endpoints. Stored tokens are left
// as they are.
func resolveOAuth2(o *restfile.OAuth2, r *Resolver) {
	o.TokenURL = r.ExpandTemplates(o.TokenURL)
	o.ClientID = r.ExpandTemplates(o.ClientID)
	o.ClientSecret = r.ExpandTemplates(o.ClientSecret)
	o.Scope = r.ExpandTemplates(o.Scope)
	if ac := o.AuthorizationCode; ac != nil {
		ac.AuthURL = r.ExpandTemplates(ac.AuthURL)
		ac.RedirectURL = r.ExpandTemplates(ac.RedirectURL)
	}
	if pw := o.Password; pw != nil {
		pw.Username = r.ExpandTemplates(pw.Username)
		pw.Password = r.ExpandTemplates(pw.Password)
	}
}
