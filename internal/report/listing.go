package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"

	"github.com/unkn0wn-root/restrun/internal/history"
	"github.com/unkn0wn-root/restrun/internal/restfile"
	"github.com/unkn0wn-root/restrun/internal/workspace"
)

const (
	idWidth    = 12
	countWidth = 6
)

// ProjectRow is one line of the project listing.
type ProjectRow struct {
	Project  restfile.Project
	Requests int
}

func (c *Console) cell(s string, width int) string {
	return runewidth.FillRight(runewidth.Truncate(s, width, "…"), width)
}

// Environments lists environments by name and marks the active one.
func (c *Console) Environments(envs []restfile.Environment, activeID string) {
	if len(envs) == 0 {
		fmt.Fprintln(c.writer, c.faint.Sprint("No environments. Import one with `restrun env import <file>`."))
		return
	}
	for _, env := range envs {
		marker := " "
		name := c.cell(env.Name, nameWidth)
		if env.ID == activeID {
			marker = c.green.Sprint("*")
			name = c.bold.Sprint(name)
		}
		fmt.Fprintf(c.writer, "%s %s %s\n", marker, name, c.faint.Sprintf("%d variables", len(env.Variables)))
	}
}

// Variables prints the variables of env sorted by name. Values of keys that
// look like secrets are masked unless reveal is set.
func (c *Console) Variables(env restfile.Environment, reveal bool) {
	fmt.Fprintf(c.writer, "%s\n", c.bold.Sprint(env.Name))
	keys := make([]string, 0, len(env.Variables))
	for k := range env.Variables {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := env.Variables[k]
		if !reveal && secretKey(k) && v != "" {
			v = "********"
		}
		fmt.Fprintf(c.writer, "  %s %s\n", c.cyan.Sprint(c.cell(k, nameWidth)), v)
	}
}

func secretKey(key string) bool {
	k := strings.ToLower(key)
	for _, marker := range []string{"secret", "password", "token", "apikey", "api_key"} {
		if strings.Contains(k, marker) {
			return true
		}
	}
	return false
}

func (c *Console) Projects(rows []ProjectRow) {
	if len(rows) == 0 {
		fmt.Fprintln(c.writer, c.faint.Sprint("No projects. Load a workspace with `restrun load <file>`."))
		return
	}
	for _, row := range rows {
		fmt.Fprintf(c.writer, "%s %s %s %s\n",
			c.faint.Sprint(c.cell(row.Project.ID, idWidth)),
			c.bold.Sprint(c.cell(row.Project.Name, nameWidth)),
			runewidth.FillLeft(fmt.Sprint(row.Requests), countWidth)+" requests",
			c.faint.Sprint(row.Project.BaseURL),
		)
	}
}

// History prints entries newest first as they are stored.
func (c *Console) History(entries []history.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(c.writer, c.faint.Sprint("No history yet."))
		return
	}
	for _, e := range entries {
		symbol := c.green.Sprint("✓")
		if !e.Success {
			symbol = c.red.Sprint("✗")
		}
		status := c.red.Sprint("no response")
		if e.StatusCode > 0 {
			status = c.statusColor(e.StatusCode).Sprint(e.StatusCode)
		}
		line := fmt.Sprintf("%s %s %s %s %s %s",
			symbol,
			c.faint.Sprint(e.ExecutedAt.Local().Format(time.DateTime)),
			runewidth.FillRight(e.Method, methodWidth),
			c.cell(e.RequestName, nameWidth),
			status,
			c.cyan.Sprintf("(%dms)", e.Duration.Milliseconds()),
		)
		if e.PassedTests+e.FailedTests > 0 {
			line += fmt.Sprintf(" %d/%d tests", e.PassedTests, e.PassedTests+e.FailedTests)
		}
		fmt.Fprintln(c.writer, line)
		if e.Error != "" {
			fmt.Fprintf(c.writer, "      %s\n", c.red.Sprint(e.Error))
		}
		if e.ScriptError != "" {
			fmt.Fprintf(c.writer, "      %s\n", c.red.Sprint(e.ScriptError))
		}
	}
}

// Token reports a freshly obtained token. The access token itself is only
// printed when show is set.
func (c *Console) Token(request string, tok restfile.Token, show bool) {
	fmt.Fprintf(c.writer, "%s token saved for %s\n", c.green.Sprint("✓"), c.bold.Sprint(request))
	if tok.TokenType != "" {
		fmt.Fprintf(c.writer, "  type:    %s\n", tok.TokenType)
	}
	if tok.Expiry.IsZero() {
		fmt.Fprintln(c.writer, "  expires: never")
	} else {
		fmt.Fprintf(c.writer, "  expires: %s\n", tok.Expiry.Local().Format(time.DateTime))
	}
	refresh := "no"
	if tok.RefreshToken != "" {
		refresh = "yes"
	}
	fmt.Fprintf(c.writer, "  refresh: %s\n", refresh)
	if show {
		fmt.Fprintf(c.writer, "  access:  %s\n", tok.AccessToken)
	}
}

// Loaded summarises a workspace import.
func (c *Console) Loaded(sum workspace.Summary) {
	fmt.Fprintf(c.writer, "%s %d environments, %d projects\n",
		c.green.Sprint("Loaded"), len(sum.Environments), len(sum.Projects))
	for _, p := range sum.Projects {
		line := fmt.Sprintf("  %s %d requests", c.cell(p.Name, nameWidth), p.Requests)
		if p.Removed > 0 {
			line += c.yellow.Sprintf(", %d removed", p.Removed)
		}
		fmt.Fprintln(c.writer, line)
	}
	if sum.Active != "" {
		fmt.Fprintf(c.writer, "Active environment: %s\n", c.bold.Sprint(sum.Active))
	}
}
