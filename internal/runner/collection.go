package runner

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/unkn0wn-root/restrun/internal/errdef"
	"github.com/unkn0wn-root/restrun/internal/restfile"
	"github.com/unkn0wn-root/restrun/internal/telemetry"
)

// Store is the persistence the collection runner reads from.
type Store interface {
	Project(ctx context.Context, id string) (restfile.Project, error)
	ListProjectRequests(ctx context.Context, projectID string) ([]restfile.Request, error)
}

type Options struct {
	// Delay paces consecutive requests. Zero sends them back to back.
	Delay     time.Duration
	OnResult  func(index, total int, res RequestRunResult)
	Telemetry telemetry.Instrumenter
	Logger    *slog.Logger
}

type Runner struct {
	store    Store
	pipeline *Pipeline
	env      environmentNamer
	opts     Options
	log      *slog.Logger
}

type environmentNamer interface {
	Environment() (restfile.Environment, bool)
}

func NewRunner(store Store, pipeline *Pipeline, opts Options) *Runner {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if opts.Telemetry == nil {
		opts.Telemetry = telemetry.Noop()
	}
	r := &Runner{store: store, pipeline: pipeline, opts: opts, log: log}
	if pipeline != nil && pipeline.env != nil {
		r.env = pipeline.env
	}
	return r
}

type CollectionRunResult struct {
	RunID          string             `json:"runId"`
	ProjectID      string             `json:"projectId"`
	ProjectName    string             `json:"projectName"`
	Environment    string             `json:"environment,omitempty"`
	StartTime      time.Time          `json:"startTime"`
	EndTime        time.Time          `json:"endTime"`
	Duration       int64              `json:"duration"`
	TotalTests     int                `json:"totalTests"`
	PassedTests    int                `json:"passedTests"`
	FailedTests    int                `json:"failedTests"`
	Cancelled      bool               `json:"cancelled,omitempty"`
	RequestResults []RequestRunResult `json:"requestResults"`
}

// Succeeded reports whether every request succeeded and no test failed.
func (c *CollectionRunResult) Succeeded() bool {
	if c == nil || c.Cancelled || c.FailedTests > 0 {
		return false
	}
	for _, r := range c.RequestResults {
		if !r.Success {
			return false
		}
	}
	return true
}

// Run executes every request of the project in stored order. Failures of
// individual requests are recorded in their results and never stop the
// run. Cancellation is observed between requests; a request already in
// flight completes and the partial result is returned without error. A run
// cancelled before it starts returns an empty cancelled result.
func (r *Runner) Run(ctx context.Context, projectID string) (*CollectionRunResult, error) {
	load := context.WithoutCancel(ctx)
	project, err := r.store.Project(load, projectID)
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeStore, err, "load project %s", projectID)
	}
	requests, err := r.store.ListProjectRequests(load, project.ID)
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeStore, err, "list requests of %s", project.Name)
	}

	result := &CollectionRunResult{
		RunID:          uuid.NewString(),
		ProjectID:      project.ID,
		ProjectName:    project.Name,
		RequestResults: make([]RequestRunResult, 0, len(requests)),
	}
	if r.env != nil {
		if env, ok := r.env.Environment(); ok {
			result.Environment = env.Name
		}
	}

	ctx, span := r.opts.Telemetry.StartRun(ctx, telemetry.RunStart{
		ProjectID:   project.ID,
		ProjectName: project.Name,
		Environment: result.Environment,
	})
	r.log.Info("collection run started", "project", project.Name, "requests", len(requests), "run_id", result.RunID)

	var limiter *rate.Limiter
	if r.opts.Delay > 0 {
		limiter = rate.NewLimiter(rate.Every(r.opts.Delay), 1)
	}

	result.StartTime = time.Now()
	for i, req := range requests {
		if ctx.Err() != nil {
			result.Cancelled = true
			break
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				result.Cancelled = true
				break
			}
		}

		res, err := r.pipeline.Execute(context.WithoutCancel(ctx), ExecuteInput{
			Request: req,
			Project: &project,
			RunID:   result.RunID,
		})
		if err != nil {
			r.log.Debug("request finished with error", "request", res.RequestName, "error", err)
		}
		result.RequestResults = append(result.RequestResults, res)
		result.TotalTests += len(res.Tests)
		result.PassedTests += res.PassedTests
		result.FailedTests += res.FailedTests
		if r.opts.OnResult != nil {
			r.opts.OnResult(i, len(requests), res)
		}
	}
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime).Milliseconds()

	span.End(telemetry.RunResult{
		Requests:  len(result.RequestResults),
		Passed:    result.PassedTests,
		Failed:    result.FailedTests,
		Cancelled: result.Cancelled,
	})
	r.log.Info("collection run finished",
		"project", project.Name,
		"requests", len(result.RequestResults),
		"passed", result.PassedTests,
		"failed", result.FailedTests,
		"cancelled", result.Cancelled,
	)
	return result, nil
}

// Send executes a single request of the project looked up by id or name.
func (r *Runner) Send(ctx context.Context, projectID, ref string) (RequestRunResult, error) {
	project, err := r.store.Project(ctx, projectID)
	if err != nil {
		return RequestRunResult{}, errdef.Wrap(errdef.CodeStore, err, "load project %s", projectID)
	}
	requests, err := r.store.ListProjectRequests(ctx, project.ID)
	if err != nil {
		return RequestRunResult{}, errdef.Wrap(errdef.CodeStore, err, "list requests of %s", project.Name)
	}
	req, ok := findRequest(requests, ref)
	if !ok {
		return RequestRunResult{}, errdef.New(errdef.CodeStore, "request %q not found in %s", ref, project.Name)
	}
	return r.pipeline.Execute(ctx, ExecuteInput{Request: req, Project: &project})
}

func findRequest(requests []restfile.Request, ref string) (restfile.Request, bool) {
	ref = strings.TrimSpace(ref)
	for _, req := range requests {
		if req.ID == ref {
			return req, true
		}
	}
	for _, req := range requests {
		if strings.EqualFold(req.Name, ref) {
			return req, true
		}
	}
	return restfile.Request{}, false
}
