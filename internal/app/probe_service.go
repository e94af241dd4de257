// Package app contains application services that orchestrate use cases.
// Services resolve the request's diagnostic context through the registry
// rather than receiving it as a parameter.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jsamuelsen/go-request-registry/internal/app/diagctx"
	"github.com/jsamuelsen/go-request-registry/internal/domain"
)

// MaxProbeBranches bounds the fan-out of a single probe.
const MaxProbeBranches = 64

// ProbeService fans work out over goroutines and checks that every branch
// resolves the diagnostic context of the request that started it.
type ProbeService struct {
	contexts    ContextSource
	detacher    Detacher
	exec        *Executor
	branches    int
	concurrency int
	logger      *slog.Logger
}

// Detacher starts a flow with no request bound and reports which request a
// flow carries. *registry.Registry implements it.
type Detacher interface {
	Detach(ctx context.Context) context.Context
	CurrentID(ctx context.Context) (domain.RequestID, bool)
}

// ProbeServiceConfig contains configuration for the probe service.
type ProbeServiceConfig struct {
	Registry interface {
		ContextSource
		Detacher
	}
	Logger      *slog.Logger
	Branches    int // default branch count
	Concurrency int // max branches running at once
}

// BranchReport is what one probe branch observed.
type BranchReport struct {
	Branch    int              `json:"branch"`
	RequestID domain.RequestID `json:"requestId"`
	Elapsed   time.Duration    `json:"elapsedNs"`
}

// ProbeResult is the verified outcome of a probe.
type ProbeResult struct {
	RequestID domain.RequestID `json:"requestId"`
	Mode      string           `json:"handlingMode"`
	Branches  []BranchReport   `json:"branches"`
	// Detached reports whether work on a detached flow saw no request.
	Detached bool `json:"detachedIsolated"`
}

type probeRun struct {
	root     domain.DiagnosticContext
	reports  []BranchReport
	leakedTo domain.RequestID // request seen on a detached flow, if any
}

// NewProbeService creates a probe service. It panics without a registry.
func NewProbeService(cfg ProbeServiceConfig) *ProbeService {
	if cfg.Registry == nil {
		panic("app: probe service requires a registry")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	branches := cfg.Branches
	if branches <= 0 {
		branches = 4
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = branches
	}

	return &ProbeService{
		contexts:    cfg.Registry,
		detacher:    cfg.Registry,
		exec:        NewExecutor(logger, cfg.Registry),
		branches:    branches,
		concurrency: concurrency,
		logger:      logger.With(slog.String("component", "app.ProbeService")),
	}
}

// Run probes with n branches; n <= 0 uses the configured default.
func (s *ProbeService) Run(ctx context.Context, n int) (*ProbeResult, error) {
	if n <= 0 {
		n = s.branches
	}

	op := Operation[int, probeRun, probeRun, *ProbeResult]{
		Name:     "probe",
		Validate: s.validate,
		Perform:  s.perform,
		Verify:   s.verify,
		Respond: func(_ context.Context, _ int, run probeRun) (*ProbeResult, error) {
			return &ProbeResult{
				RequestID: run.root.RequestID(),
				Mode:      run.root.HandlingMode().String(),
				Branches:  run.reports,
				Detached:  run.leakedTo == (domain.RequestID{}),
			}, nil
		},
	}

	return Execute(ctx, s.exec, op, n)
}

func (s *ProbeService) validate(ctx context.Context, n int) error {
	if n > MaxProbeBranches {
		return domain.NewValidationErrorWithValue("branches",
			fmt.Sprintf("must be at most %d", MaxProbeBranches), n)
	}

	dc, err := s.contexts.Current(ctx)
	if err != nil {
		return fmt.Errorf("resolving request context: %w", err)
	}

	if diagctx.IsUnavailable(dc) {
		return domain.NewValidationError("context", "no request context is registered for this flow")
	}

	return nil
}

func (s *ProbeService) perform(ctx context.Context, n int) (probeRun, error) {
	root, err := s.contexts.Current(ctx)
	if err != nil {
		return probeRun{}, fmt.Errorf("resolving request context: %w", err)
	}

	fns := make([]func(context.Context) (BranchReport, error), n)
	for i := range fns {
		fns[i] = func(ctx context.Context) (BranchReport, error) {
			return s.branch(ctx, i)
		}
	}

	reports, err := ParallelLimit(ctx, s.concurrency, fns...)
	if err != nil {
		return probeRun{}, err
	}

	leakedTo, _ := s.detacher.CurrentID(s.detacher.Detach(ctx))

	return probeRun{root: root, reports: reports, leakedTo: leakedTo}, nil
}

func (s *ProbeService) branch(ctx context.Context, i int) (BranchReport, error) {
	dc, err := s.contexts.Current(ctx)
	if err != nil {
		return BranchReport{}, fmt.Errorf("branch %d: %w", i, err)
	}

	stop := dc.StartTimer(fmt.Sprintf("probe.branch.%d", i))
	dc.Record("probe branch ran", slog.Int("branch", i))

	return BranchReport{
		Branch:    i,
		RequestID: dc.RequestID(),
		Elapsed:   stop(),
	}, nil
}

func (s *ProbeService) verify(ctx context.Context, n int, run probeRun) (probeRun, error) {
	if len(run.reports) != n {
		return run, fmt.Errorf("expected %d branch reports, got %d", n, len(run.reports))
	}

	want := run.root.RequestID()
	for _, r := range run.reports {
		if r.RequestID != want {
			return run, fmt.Errorf("branch %d resolved request %s, want %s", r.Branch, r.RequestID, want)
		}
	}

	if run.leakedTo != (domain.RequestID{}) {
		return run, fmt.Errorf("detached flow resolved request %s", run.leakedTo)
	}

	s.logger.DebugContext(ctx, "probe verified", slog.Int("branches", n))

	return run, nil
}
