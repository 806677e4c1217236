package httpclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/unkn0wn-root/restrun/internal/errdef"
	"github.com/unkn0wn-root/restrun/internal/restfile"
	"github.com/unkn0wn-root/restrun/internal/telemetry"
)

const defaultMaxBody = 32 << 20

type Options struct {
	Timeout            time.Duration
	FollowRedirects    bool
	InsecureSkipVerify bool
	ProxyURL           string
	MaxBodyBytes       int64
}

type Client struct {
	opts        Options
	jar         http.CookieJar
	httpFactory func(Options) (*http.Client, error)
	telemetry   telemetry.Instrumenter
}

func NewClient(opts Options) *Client {
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	c := &Client{opts: opts, jar: jar, telemetry: telemetry.Noop()}
	c.httpFactory = c.buildHTTPClient
	return c
}

// SetHTTPFactory allows callers to override how http.Client instances are created.
// Passing nil restores the default factory.
func (c *Client) SetHTTPFactory(factory func(Options) (*http.Client, error)) {
	c.httpFactory = factory
}

// SetTelemetry configures the instrumenter used to emit spans. Passing nil restores the no-op implementation.
func (c *Client) SetTelemetry(instr telemetry.Instrumenter) {
	if instr == nil {
		instr = telemetry.Noop()
	}
	c.telemetry = instr
}

// HTTPClient returns a client built from the same options Send uses, so
// token endpoint calls share proxy and TLS settings with requests.
func (c *Client) HTTPClient() (*http.Client, error) {
	return c.factory()(c.opts)
}

func (c *Client) factory() func(Options) (*http.Client, error) {
	if c.httpFactory != nil {
		return c.httpFactory
	}
	return c.buildHTTPClient
}

type Response struct {
	Status       string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	EffectiveURL string
	// Truncated is set when the body was cut at Options.MaxBodyBytes.
	Truncated bool
}

// StatusText returns the reason phrase without the numeric code.
func (r *Response) StatusText() string {
	if r == nil {
		return ""
	}
	if _, text, ok := strings.Cut(r.Status, " "); ok {
		return text
	}
	return http.StatusText(r.StatusCode)
}

// TransportError reports a request that produced no HTTP response.
type TransportError struct {
	Method   string
	URL      string
	Duration time.Duration
	Err      error
}

func (e *TransportError) Error() string {
	return e.Method + " " + e.URL + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// Send dispatches an already resolved request. Disabled headers and params
// are dropped here. Any HTTP status counts as a response; only failures to
// obtain one are returned as errors.
func (c *Client) Send(ctx context.Context, req restfile.Request) (resp *Response, err error) {
	httpReq, err := buildHTTPRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	client, err := c.factory()(c.opts)
	if err != nil {
		return nil, err
	}

	spanCtx, span := c.telemetry.Start(httpReq.Context(), telemetry.RequestStart{
		Request:     &req,
		HTTPRequest: httpReq,
	})
	httpReq = httpReq.WithContext(spanCtx)
	defer func() {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		span.End(telemetry.RequestResult{Err: err, StatusCode: status})
	}()

	start := time.Now()
	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeHTTP, &TransportError{
			Method:   httpReq.Method,
			URL:      httpReq.URL.String(),
			Duration: time.Since(start),
			Err:      err,
		}, "perform request")
	}
	defer func() {
		if closeErr := httpResp.Body.Close(); closeErr != nil && err == nil {
			err = errdef.Wrap(errdef.CodeHTTP, closeErr, "close response body")
		}
	}()

	limit := c.opts.MaxBodyBytes
	if limit <= 0 {
		limit = defaultMaxBody
	}
	body, err := io.ReadAll(io.LimitReader(httpResp.Body, limit+1))
	truncated := int64(len(body)) > limit
	if truncated {
		body = body[:limit]
	}
	duration := time.Since(start)
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeHTTP, &TransportError{
			Method:   httpReq.Method,
			URL:      httpReq.URL.String(),
			Duration: duration,
			Err:      err,
		}, "read response body")
	}

	effective := httpReq.URL.String()
	if httpResp.Request != nil && httpResp.Request.URL != nil {
		effective = httpResp.Request.URL.String()
	}
	return &Response{
		Status:       httpResp.Status,
		StatusCode:   httpResp.StatusCode,
		Headers:      httpResp.Header.Clone(),
		Body:         body,
		Duration:     duration,
		EffectiveURL: effective,
		Truncated:    truncated,
	}, nil
}

// IsTransportError reports whether err came from a failed dispatch.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
