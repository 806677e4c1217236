package telemetry

import (
	"strconv"
	"strings"
	"time"

	"github.com/unkn0wn-root/restrun/internal/errdef"
)

const (
	envEndpoint    = "RESTRUN_OTEL_ENDPOINT"
	envInsecure    = "RESTRUN_OTEL_INSECURE"
	envService     = "RESTRUN_OTEL_SERVICE"
	envDialTimeout = "RESTRUN_OTEL_DIAL_TIMEOUT"
	envHeaders     = "RESTRUN_OTEL_HEADERS"

	defaultServiceName = "restrun"
)

type Config struct {
	Endpoint    string
	Insecure    bool
	ServiceName string
	Version     string
	DialTimeout time.Duration
	Headers     map[string]string
}

func (c Config) Enabled() bool {
	return strings.TrimSpace(c.Endpoint) != ""
}

// ConfigFromEnv reads the RESTRUN_OTEL_* variables through getenv.
// Unset or malformed values are left zero so the result can be merged over
// file settings.
func ConfigFromEnv(getenv func(string) string) Config {
	cfg := Config{
		Endpoint:    strings.TrimSpace(getenv(envEndpoint)),
		ServiceName: strings.TrimSpace(getenv(envService)),
	}
	if v, err := strconv.ParseBool(strings.TrimSpace(getenv(envInsecure))); err == nil {
		cfg.Insecure = v
	}
	if d, err := time.ParseDuration(strings.TrimSpace(getenv(envDialTimeout))); err == nil {
		cfg.DialTimeout = d
	}
	if headers, err := ParseHeaders(getenv(envHeaders)); err == nil {
		cfg.Headers = headers
	}
	return cfg
}

// Merge overlays non-zero fields of o on c.
func (c Config) Merge(o Config) Config {
	if o.Endpoint != "" {
		c.Endpoint = o.Endpoint
	}
	if o.Insecure {
		c.Insecure = true
	}
	if o.ServiceName != "" {
		c.ServiceName = o.ServiceName
	}
	if o.Version != "" {
		c.Version = o.Version
	}
	if o.DialTimeout > 0 {
		c.DialTimeout = o.DialTimeout
	}
	if len(o.Headers) > 0 {
		c.Headers = o.Headers
	}
	return c
}

func ParseHeaders(raw string) (map[string]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	out := make(map[string]string)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, ok := strings.Cut(part, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, errdef.New(errdef.CodeConfig, "invalid telemetry header %q", part)
		}
		out[key] = strings.TrimSpace(value)
	}
	return out, nil
}
