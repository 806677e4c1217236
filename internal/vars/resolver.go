package vars

import (
	"fmt"
	"math/rand/v2"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Provider interface {
	Resolve(name string) (string, bool)
	Label() string
}

type Resolver struct {
	providers []Provider
	onMissing func(name string)
}

func NewResolver(providers ...Provider) *Resolver {
	return &Resolver{providers: providers}
}

// OnMissing registers a hook called for every placeholder left unresolved.
// Unknown names are never an error.
func (r *Resolver) OnMissing(fn func(name string)) {
	r.onMissing = fn
}

func (r *Resolver) Resolve(name string) (string, bool) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", false
	}
	for _, provider := range r.providers {
		if provider == nil {
			continue
		}
		if value, ok := provider.Resolve(trimmed); ok {
			return value, true
		}
	}
	return "", false
}

var templateVarPattern = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// ExpandTemplates replaces every {{name}} in a single left to right pass.
// Substituted values are not scanned again, so a value that itself looks
// like a placeholder is emitted literally.
func (r *Resolver) ExpandTemplates(input string) string {
	if !strings.Contains(input, "{{") {
		return input
	}
	return templateVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := strings.TrimSpace(match[2 : len(match)-2])
		if name == "" {
			return match
		}
		if value, ok := r.Resolve(name); ok {
			return value
		}
		if strings.HasPrefix(name, "$") {
			if dynamic, ok := resolveDynamic(name); ok {
				return dynamic
			}
		}
		if r.onMissing != nil {
			r.onMissing(name)
		}
		return match
	})
}

func resolveDynamic(name string) (string, bool) {
	switch strings.ToLower(name) {
	case "$timestamp":
		return fmt.Sprintf("%d", time.Now().Unix()), true
	case "$isotimestamp":
		return time.Now().UTC().Format(time.RFC3339), true
	case "$randomint":
		return fmt.Sprintf("%d", rand.IntN(1001)), true
	case "$uuid", "$guid":
		return uuid.NewString(), true
	default:
		return "", false
	}
}

type MapProvider struct {
	values map[string]string
	label  string
}

// NewMapProvider copies values; lookups are exact.
func NewMapProvider(label string, values map[string]string) *MapProvider {
	cp := make(map[string]string, len(values))
	for k, v := range values {
		cp[k] = v
	}
	return &MapProvider{values: cp, label: label}
}

func (p *MapProvider) Resolve(name string) (string, bool) {
	value, ok := p.values[name]
	return value, ok
}

func (p *MapProvider) Label() string {
	return p.label
}
