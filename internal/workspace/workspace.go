// Package workspace reads a YAML workspace definition and seeds the store
// with its environments, projects and requests.
package workspace

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/unkn0wn-root/restrun/internal/errdef"
	"github.com/unkn0wn-root/restrun/internal/restfile"
	"github.com/unkn0wn-root/restrun/internal/vars"
)

type File struct {
	// Active names the environment to activate after loading.
	Active       string                       `yaml:"active,omitempty"`
	EnvFiles     []string                     `yaml:"envFiles,omitempty"`
	Environments map[string]map[string]string `yaml:"environments,omitempty"`
	Projects     []Project                    `yaml:"projects"`

	dir string
}

type Project struct {
	ID          string    `yaml:"id,omitempty"`
	Name        string    `yaml:"name"`
	Description string    `yaml:"description,omitempty"`
	BaseURL     string    `yaml:"baseUrl,omitempty"`
	Requests    []Request `yaml:"requests"`
}

type Request struct {
	ID      string            `yaml:"id,omitempty"`
	Name    string            `yaml:"name"`
	Method  string            `yaml:"method,omitempty"`
	URL     string            `yaml:"url"`
	Headers KeyValues         `yaml:"headers,omitempty"`
	Params  KeyValues         `yaml:"params,omitempty"`
	Body    *Body             `yaml:"body,omitempty"`
	Auth    *restfile.Auth    `yaml:"auth,omitempty"`
	Scripts *restfile.Scripts `yaml:"scripts,omitempty"`
}

type Body struct {
	Kind    restfile.BodyKind `yaml:"kind"`
	Content string            `yaml:"content,omitempty"`
	Fields  KeyValues         `yaml:"fields,omitempty"`
}

// KeyValues accepts either a mapping, whose entries are all enabled, or a
// sequence of {key, value, enabled} where enabled defaults to true.
type KeyValues []restfile.KeyValue

func (kv *KeyValues) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.MappingNode:
		var m map[string]string
		if err := node.Decode(&m); err != nil {
			return err
		}
		out := make(KeyValues, 0, len(m))
		for i := 0; i+1 < len(node.Content); i += 2 {
			k := node.Content[i].Value
			out = append(out, restfile.KeyValue{Key: k, Value: m[k], Enabled: true})
		}
		*kv = out
		return nil
	case yaml.SequenceNode:
		var items []struct {
			Key     string `yaml:"key"`
			Value   string `yaml:"value"`
			Enabled *bool  `yaml:"enabled"`
		}
		if err := node.Decode(&items); err != nil {
			return err
		}
		out := make(KeyValues, 0, len(items))
		for _, it := range items {
			enabled := it.Enabled == nil || *it.Enabled
			out = append(out, restfile.KeyValue{Key: it.Key, Value: it.Value, Enabled: enabled})
		}
		*kv = out
		return nil
	default:
		return errdef.New(errdef.CodeParse, "line %d: expected a mapping or a list of key/value entries", node.Line)
	}
}

// Load reads and validates a workspace file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeFilesystem, err, "read workspace %s", path)
	}
	ws, err := Parse(data)
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeParse, err, "workspace %s", path)
	}
	ws.dir = filepath.Dir(path)
	return ws, nil
}

func Parse(data []byte) (*File, error) {
	var ws File
	if err := yaml.Unmarshal(data, &ws); err != nil {
		return nil, errdef.Wrap(errdef.CodeParse, err, "decode workspace")
	}
	if err := ws.validate(); err != nil {
		return nil, err
	}
	return &ws, nil
}

func (ws *File) validate() error {
	seen := map[string]bool{}
	for i, p := range ws.Projects {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			return errdef.New(errdef.CodeParse, "project %d has no name", i+1)
		}
		if seen[name] {
			return errdef.New(errdef.CodeParse, "duplicate project %q", name)
		}
		seen[name] = true

		names := map[string]bool{}
		for j, r := range p.Requests {
			rn := strings.TrimSpace(r.Name)
			if rn == "" {
				return errdef.New(errdef.CodeParse, "project %q: request %d has no name", name, j+1)
			}
			if names[rn] && r.ID == "" {
				return errdef.New(errdef.CodeParse, "project %q: duplicate request %q needs an id", name, rn)
			}
			names[rn] = true
			if strings.TrimSpace(r.URL) == "" {
				return errdef.New(errdef.CodeParse, "project %q: request %q has no url", name, rn)
			}
			if r.Auth != nil && r.Auth.Kind == restfile.AuthOAuth2 {
				if r.Auth.OAuth2 == nil || !r.Auth.OAuth2.GrantType.Valid() {
					return errdef.New(errdef.CodeParse, "project %q: request %q has an invalid oauth2 grant", name, rn)
				}
			}
		}
	}
	return nil
}

// EnvironmentSet merges environments from referenced env files and the
// inline block. Inline values win.
func (ws *File) EnvironmentSet() (vars.EnvironmentSet, error) {
	out := vars.EnvironmentSet{}
	for _, ref := range ws.EnvFiles {
		path := ref
		if !filepath.IsAbs(path) && ws.dir != "" {
			path = filepath.Join(ws.dir, path)
		}
		set, err := vars.LoadEnvironmentFile(path)
		if err != nil {
			return nil, err
		}
		mergeSet(out, set)
	}
	mergeSet(out, ws.Environments)
	return out, nil
}

func mergeSet(dst vars.EnvironmentSet, src map[string]map[string]string) {
	for name, values := range src {
		cur := dst[name]
		if cur == nil {
			cur = map[string]string{}
			dst[name] = cur
		}
		for k, v := range values {
			cur[k] = v
		}
	}
}

func (r Request) toRestfile(projectID string, position int) restfile.Request {
	out := restfile.Request{
		ID:        r.ID,
		ProjectID: projectID,
		Name:      strings.TrimSpace(r.Name),
		Method:    strings.ToUpper(strings.TrimSpace(r.Method)),
		URL:       strings.TrimSpace(r.URL),
		Headers:   []restfile.KeyValue(r.Headers),
		Params:    []restfile.KeyValue(r.Params),
		Auth:      r.Auth.Clone(),
		Position:  position,
	}
	if out.Method == "" {
		out.Method = "GET"
	}
	if r.Body != nil {
		out.Body = &restfile.Body{
			Kind:    r.Body.Kind,
			Content: r.Body.Content,
			Fields:  []restfile.KeyValue(r.Body.Fields),
		}
	}
	if r.Scripts != nil {
		s := *r.Scripts
		out.Scripts = &s
	}
	return out
}

// Store is the persistence a workspace is applied to.
type Store interface {
	SaveProject(ctx context.Context, p restfile.Project) (restfile.Project, error)
	ListProjectRequests(ctx context.Context, projectID string) ([]restfile.Request, error)
	SaveRequest(ctx context.Context, req restfile.Request) (restfile.Request, error)
	DeleteRequest(ctx context.Context, id string) error
	SaveEnvironment(ctx context.Context, env restfile.Environment) error
	EnvironmentByName(ctx context.Context, name string) (restfile.Environment, error)
	SetActiveEnvironment(ctx context.Context, id string) error
}

type Summary struct {
	Environments []string
	Projects     []ProjectSummary
	Active       string
}

type ProjectSummary struct {
	ID       string
	Name     string
	Requests int
	Removed  int
}

// Apply writes the workspace into the store. Requests that vanished from a
// project are deleted. OAuth2 tokens already stored for a request survive
// a reload when the file carries none and the grant is unchanged.
func Apply(ctx context.Context, st Store, ws *File) (Summary, error) {
	var sum Summary

	envs, err := ws.EnvironmentSet()
	if err != nil {
		return sum, err
	}
	names := make([]string, 0, len(envs))
	for name := range envs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		env := restfile.Environment{Name: name, Variables: envs[name]}
		if existing, err := st.EnvironmentByName(ctx, name); err == nil {
			env.ID = existing.ID
		}
		if err := st.SaveEnvironment(ctx, env); err != nil {
			return sum, err
		}
		sum.Environments = append(sum.Environments, name)
	}

	for _, p := range ws.Projects {
		ps, err := applyProject(ctx, st, p)
		if err != nil {
			return sum, err
		}
		sum.Projects = append(sum.Projects, ps)
	}

	if active := strings.TrimSpace(ws.Active); active != "" {
		env, err := st.EnvironmentByName(ctx, active)
		if err != nil {
			return sum, err
		}
		if err := st.SetActiveEnvironment(ctx, env.ID); err != nil {
			return sum, err
		}
		sum.Active = env.Name
	}
	return sum, nil
}

func applyProject(ctx context.Context, st Store, p Project) (ProjectSummary, error) {
	saved, err := st.SaveProject(ctx, restfile.Project{
		ID:          p.ID,
		Name:        strings.TrimSpace(p.Name),
		Description: p.Description,
		BaseURL:     p.BaseURL,
	})
	if err != nil {
		return ProjectSummary{}, err
	}
	existing, err := st.ListProjectRequests(ctx, saved.ID)
	if err != nil {
		return ProjectSummary{}, err
	}
	byID := make(map[string]restfile.Request, len(existing))
	for _, r := range existing {
		byID[r.ID] = r
	}

	keep := map[string]bool{}
	for i, r := range p.Requests {
		req := r.toRestfile(saved.ID, i+1)
		out, err := st.SaveRequest(ctx, req)
		if err != nil {
			return ProjectSummary{}, err
		}
		if prev, ok := byID[out.ID]; ok && carryToken(&out, prev) {
			if out, err = st.SaveRequest(ctx, out); err != nil {
				return ProjectSummary{}, err
			}
		}
		keep[out.ID] = true
	}

	removed := 0
	for _, r := range existing {
		if keep[r.ID] {
			continue
		}
		if err := st.DeleteRequest(ctx, r.ID); err != nil {
			return ProjectSummary{}, err
		}
		removed++
	}
	return ProjectSummary{ID: saved.ID, Name: saved.Name, Requests: len(p.Requests), Removed: removed}, nil
}

func carryToken(next *restfile.Request, prev restfile.Request) bool {
	if next.Auth == nil || next.Auth.OAuth2 == nil || prev.Auth == nil || prev.Auth.OAuth2 == nil {
		return false
	}
	if next.Auth.Kind != restfile.AuthOAuth2 || prev.Auth.Kind != restfile.AuthOAuth2 {
		return false
	}
	if next.Auth.OAuth2.Token.AccessToken != "" || prev.Auth.OAuth2.Token.AccessToken == "" {
		return false
	}
	if next.Auth.OAuth2.GrantType != prev.Auth.OAuth2.GrantType {
		return false
	}
	next.Auth.OAuth2.Token = prev.Auth.OAuth2.Token
	return true
}
