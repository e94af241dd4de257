package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jsamuelsen/go-request-registry/internal/app/diagctx"
	"github.com/jsamuelsen/go-request-registry/internal/domain"
	"github.com/jsamuelsen/go-request-registry/internal/platform/logging"
)

// Staged operations: Validate → Perform → Verify → Respond
//
// Every step is timed into the diagnostic context of the calling flow, so a
// request's final report shows where its time went.

// ExecutionStep represents a step of a staged operation.
type ExecutionStep string

const (
	StepValidate ExecutionStep = "validate"
	StepPerform  ExecutionStep = "perform"
	StepVerify   ExecutionStep = "verify"
	StepRespond  ExecutionStep = "respond"
)

// ExecutionError wraps errors with the step where they occurred.
type ExecutionError struct {
	Step    ExecutionStep
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s failed: %s: %v", e.Step, e.Message, e.Cause)
	}

	return fmt.Sprintf("%s failed: %s", e.Step, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// ContextSource resolves the diagnostic context of the calling flow.
// *registry.Registry implements it.
type ContextSource interface {
	Current(ctx context.Context) (domain.DiagnosticContext, error)
}

// Executor runs staged operations, logging and timing each step.
type Executor struct {
	logger   *slog.Logger
	contexts ContextSource
}

// NewExecutor creates a new executor. A nil contexts disables step timing.
func NewExecutor(logger *slog.Logger, contexts ContextSource) *Executor {
	if logger == nil {
		logger = slog.Default()
	}

	return &Executor{logger: logger, contexts: contexts}
}

// Operation defines the functions for each step. Nil steps are skipped.
type Operation[I, P, V, O any] struct {
	// Name identifies this operation for logging and step timers.
	Name string

	// Validate checks inputs and preconditions.
	Validate func(ctx context.Context, input I) error

	// Perform executes the main operation.
	Perform func(ctx context.Context, input I) (P, error)

	// Verify confirms the operation produced what it claims.
	Verify func(ctx context.Context, input I, performed P) (V, error)

	// Respond transforms the result for the caller.
	Respond func(ctx context.Context, input I, verified V) (O, error)
}

// diagnostic returns the flow's diagnostic context, or the unavailable one
// when it cannot be resolved.
func (e *Executor) diagnostic(ctx context.Context) domain.DiagnosticContext {
	if e.contexts == nil {
		return diagctx.Unavailable()
	}

	dc, err := e.contexts.Current(ctx)
	if err != nil {
		return diagctx.Unavailable()
	}

	return dc
}

// step runs fn as the named step, timing it into dc.
func step(
	ctx context.Context,
	logger *slog.Logger,
	dc domain.DiagnosticContext,
	name string,
	s ExecutionStep,
	fn func() error,
) error {
	stop := dc.StartTimer(name + "." + string(s))
	defer stop()

	logger.Log(ctx, logging.LevelTrace, "step started", slog.String("step", string(s)))

	if err := fn(); err != nil {
		logger.WarnContext(ctx, "step failed", slog.String("step", string(s)), slog.Any("error", err))

		return &ExecutionError{Step: s, Message: name, Cause: err}
	}

	return nil
}

// Execute runs op through its steps in order, stopping at the first failure.
func Execute[I, P, V, O any](ctx context.Context, exec *Executor, op Operation[I, P, V, O], input I) (O, error) {
	var (
		zero      O
		performed P
		verified  V
		result    O
	)

	logger, ok := logging.Lookup(ctx)
	if !ok {
		logger = exec.logger
	}

	logger = logger.With(slog.String("operation", op.Name))
	dc := exec.diagnostic(ctx)
	start := time.Now()

	if op.Validate != nil {
		if err := step(ctx, logger, dc, op.Name, StepValidate, func() error {
			return op.Validate(ctx, input)
		}); err != nil {
			return zero, err
		}
	}

	if op.Perform != nil {
		if err := step(ctx, logger, dc, op.Name, StepPerform, func() (err error) {
			performed, err = op.Perform(ctx, input)
			return err
		}); err != nil {
			return zero, err
		}
	}

	if op.Verify != nil {
		if err := step(ctx, logger, dc, op.Name, StepVerify, func() (err error) {
			verified, err = op.Verify(ctx, input, performed)
			return err
		}); err != nil {
			return zero, err
		}
	}

	if op.Respond != nil {
		if err := step(ctx, logger, dc, op.Name, StepRespond, func() (err error) {
			result, err = op.Respond(ctx, input, verified)
			return err
		}); err != nil {
			return zero, err
		}
	}

	dc.Record("operation completed", slog.String("operation", op.Name))
	logger.InfoContext(ctx, "operation completed", slog.Duration("duration", time.Since(start)))

	return result, nil
}

// IsExecutionError checks if an error occurred during execution.
func IsExecutionError(err error) bool {
	var execErr *ExecutionError

	return errors.As(err, &execErr)
}

// GetExecutionStep extracts the step from an execution error.
func GetExecutionStep(err error) (ExecutionStep, bool) {
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return execErr.Step, true
	}

	return "", false
}
