package httpclient

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/unkn0wn-root/restrun/internal/errdef"
	"github.com/unkn0wn-root/restrun/internal/restfile"
)

func buildHTTPRequest(ctx context.Context, req restfile.Request) (*http.Request, error) {
	rawURL := strings.TrimSpace(req.URL)
	if rawURL == "" {
		return nil, errdef.New(errdef.CodeHTTP, "request url is empty")
	}
	if !strings.Contains(rawURL, "://") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeHTTP, err, "parse url %s", req.URL)
	}
	if params := restfile.EnabledValues(req.Params); len(params) > 0 {
		q := u.Query()
		for _, p := range params {
			q.Add(p.Key, p.Value)
		}
		u.RawQuery = q.Encode()
	}

	body, contentType, err := encodeBody(req.Body)
	if err != nil {
		return nil, err
	}

	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeHTTP, err, "build request")
	}

	for _, h := range restfile.EnabledValues(req.Headers) {
		httpReq.Header.Add(h.Key, h.Value)
	}
	if contentType != "" && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	applyAuthentication(httpReq, req.Auth)
	return httpReq, nil
}

// applyAuthentication never overrides an explicit Authorization header.
func applyAuthentication(req *http.Request, auth *restfile.Auth) {
	if auth == nil || req.Header.Get("Authorization") != "" {
		return
	}
	switch auth.Kind {
	case restfile.AuthBasic:
		if auth.Basic != nil {
			req.SetBasicAuth(auth.Basic.Username, auth.Basic.Password)
		}
	case restfile.AuthBearer:
		if auth.Bearer != nil && auth.Bearer.Token != "" {
			req.Header.Set("Authorization", "Bearer "+auth.Bearer.Token)
		}
	case restfile.AuthOAuth2:
		if auth.OAuth2 == nil || auth.OAuth2.Token.AccessToken == "" {
			return
		}
		tokenType := strings.TrimSpace(auth.OAuth2.Token.TokenType)
		if tokenType == "" || strings.EqualFold(tokenType, "bearer") {
			tokenType = "Bearer"
		}
		req.Header.Set("Authorization", tokenType+" "+auth.OAuth2.Token.AccessToken)
	}
}
