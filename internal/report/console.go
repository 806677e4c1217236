// Package report renders request and collection results for the terminal,
// as JSON, or as JUnit XML.
package report

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"

	"github.com/unkn0wn-root/restrun/internal/runner"
)

const (
	nameWidth   = 32
	methodWidth = 7
	bodyPreview = 4096
)

type Console struct {
	writer  io.Writer
	verbose bool

	green  *color.Color
	red    *color.Color
	yellow *color.Color
	cyan   *color.Color
	faint  *color.Color
	bold   *color.Color
}

type ConsoleOption func(*Console)

func WithWriter(w io.Writer) ConsoleOption {
	return func(c *Console) { c.writer = w }
}

// WithVerbose prints script console output and response bodies.
func WithVerbose(v bool) ConsoleOption {
	return func(c *Console) { c.verbose = v }
}

func WithNoColor(nc bool) ConsoleOption {
	return func(c *Console) {
		if nc {
			for _, col := range c.colors() {
				col.DisableColor()
			}
		}
	}
}

func NewConsole(opts ...ConsoleOption) *Console {
	c := &Console{
		writer: os.Stdout,
		green:  color.New(color.FgGreen),
		red:    color.New(color.FgRed),
		yellow: color.New(color.FgYellow),
		cyan:   color.New(color.FgCyan),
		faint:  color.New(color.Faint),
		bold:   color.New(color.Bold),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Console) colors() []*color.Color {
	return []*color.Color{c.green, c.red, c.yellow, c.cyan, c.faint, c.bold}
}

func (c *Console) RunHeader(project, env string) {
	line := "Running: " + project
	if env != "" {
		line += " (" + env + ")"
	}
	fmt.Fprintf(c.writer, "\n%s\n\n", c.bold.Sprint(line))
}

// RequestLine prints one request result as it completes.
func (c *Console) RequestLine(res runner.RequestRunResult) {
	symbol := c.green.Sprint("✓")
	if !res.Success {
		symbol = c.red.Sprint("✗")
	}
	name := runewidth.FillRight(runewidth.Truncate(res.RequestName, nameWidth, "…"), nameWidth)
	method := runewidth.FillRight(res.Method, methodWidth)

	switch {
	case !res.Delivered:
		fmt.Fprintf(c.writer, "  %s %s %s %s\n", symbol, method, name, c.red.Sprintf("(%s)", res.Error))
	default:
		fmt.Fprintf(c.writer, "  %s %s %s %s %s\n", symbol, method, name,
			c.statusColor(res.Status).Sprintf("%d %s", res.Status, res.StatusText),
			c.cyan.Sprintf("(%dms)", res.Duration))
	}

	c.tests(res)
	if res.ScriptError != "" {
		fmt.Fprintf(c.writer, "      %s %s\n", c.red.Sprint("→"), c.red.Sprint(res.ScriptError))
	}
	if c.verbose {
		for _, line := range res.Console {
			fmt.Fprintf(c.writer, "      %s\n", c.faint.Sprint(line))
		}
	}
}

func (c *Console) tests(res runner.RequestRunResult) {
	for _, t := range res.PreTests {
		c.testLine("pre: "+t.Name, t.Passed, t.Message)
	}
	for _, t := range res.Tests {
		c.testLine(t.Name, t.Passed, t.Message)
	}
}

func (c *Console) testLine(name string, passed bool, msg string) {
	if passed {
		fmt.Fprintf(c.writer, "      %s %s\n", c.green.Sprint("✓"), name)
		return
	}
	line := name
	if msg != "" {
		line += ": " + msg
	}
	fmt.Fprintf(c.writer, "      %s %s\n", c.red.Sprint("✗"), line)
}

func (c *Console) statusColor(code int) *color.Color {
	switch {
	case code >= 500:
		return c.red
	case code >= 400:
		return c.yellow
	default:
		return c.green
	}
}

// Summary prints the totals of a collection run.
func (c *Console) Summary(result *runner.CollectionRunResult) {
	ok, failed := 0, 0
	for _, r := range result.RequestResults {
		if r.Success {
			ok++
		} else {
			failed++
		}
	}

	fmt.Fprintln(c.writer)
	parts := []string{}
	if result.PassedTests > 0 {
		parts = append(parts, c.green.Sprintf("%d passed", result.PassedTests))
	}
	if result.FailedTests > 0 {
		parts = append(parts, c.red.Sprintf("%d failed", result.FailedTests))
	}
	parts = append(parts, fmt.Sprintf("%d total", result.TotalTests))
	fmt.Fprintf(c.writer, "Tests:    %s\n", strings.Join(parts, ", "))

	parts = parts[:0]
	if ok > 0 {
		parts = append(parts, c.green.Sprintf("%d succeeded", ok))
	}
	if failed > 0 {
		parts = append(parts, c.red.Sprintf("%d failed", failed))
	}
	parts = append(parts, fmt.Sprintf("%d total", len(result.RequestResults)))
	fmt.Fprintf(c.writer, "Requests: %s\n", strings.Join(parts, ", "))
	fmt.Fprintf(c.writer, "Time:     %dms\n", result.Duration)
	if result.Cancelled {
		fmt.Fprintf(c.writer, "%s\n", c.yellow.Sprint("Run cancelled before all requests completed"))
	}
	fmt.Fprintln(c.writer)
}

// Collection prints a whole run at once.
func (c *Console) Collection(result *runner.CollectionRunResult) {
	c.RunHeader(result.ProjectName, result.Environment)
	for _, r := range result.RequestResults {
		c.RequestLine(r)
	}
	c.Summary(result)
}

// Request prints a single request result and, in verbose mode, its body.
func (c *Console) Request(res runner.RequestRunResult) {
	c.RequestLine(res)
	if c.verbose && res.Response != nil && len(res.Response.Body) > 0 {
		body := string(res.Response.Body)
		if len(body) > bodyPreview {
			body = body[:bodyPreview] + "\n" + c.faint.Sprint("(truncated)")
		}
		fmt.Fprintf(c.writer, "\n%s\n", body)
	}
}

func (c *Console) Error(err error) {
	fmt.Fprintf(c.writer, "%s %v\n", c.red.Sprint("Error:"), err)
}
