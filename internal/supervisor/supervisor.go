// Package supervisor implements the third recovery tier: it orchestrates
// full generate→test cycles, diagnoses failures, applies remedies to the
// next cycle's configuration, and enforces the global attempt budget. The
// caller always gets a SupervisorResult with complete provenance, success or
// failure — never a bare error.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"drivergen/internal/driver"
	"drivergen/internal/generate"
	"drivergen/internal/validate"
)

const (
	// DefaultMaxSupervisorAttempts bounds full generate→test cycles.
	DefaultMaxSupervisorAttempts = 3
	// DefaultRetryWait is the bounded pause after an unexpected (panic or
	// transport-level) failure before the next cycle.
	DefaultRetryWait = 10 * time.Second
)

// Budgets carries the two retry bounds. The two levels have different jobs
// — local retries are cheap syntactic self-correction, supervisor cycles are
// expensive semantic re-strategizing — so they stay separately bounded.
// Worst case generation calls ≈ MaxSupervisorAttempts * MaxLocalRetries.
type Budgets struct {
	MaxSupervisorAttempts int
	MaxLocalRetries       int
}

func (b Budgets) withDefaults() Budgets {
	if b.MaxSupervisorAttempts <= 0 {
		b.MaxSupervisorAttempts = DefaultMaxSupervisorAttempts
	}
	if b.MaxLocalRetries <= 0 {
		b.MaxLocalRetries = generate.DefaultMaxLocalRetries
	}
	return b
}

// Generator produces one validated artifact (Layer 1).
type Generator interface {
	Generate(ctx context.Context, req driver.ArtifactRequest, maxLocalRetries int) (driver.Artifact, error)
}

// TestRunner executes an artifact set in the sandbox.
type TestRunner interface {
	Run(ctx context.Context, artifacts []driver.Artifact) (driver.TestReport, error)
}

// Diagnoser classifies a failure (Layer 2). Implementations never fail.
type Diagnoser interface {
	Diagnose(ctx context.Context, fc driver.FailureContext) driver.Diagnosis
}

// Loop is the supervising orchestrator.
type Loop struct {
	Generator Generator
	Runner    TestRunner
	Diagnoser Diagnoser
	Validator *validate.Validator
	Fallback  *FallbackRegistry
	Hook      Hook

	RetryWait time.Duration

	// sleep is swapped in tests to avoid real waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// New wires a Loop from its three tiers.
func New(gen Generator, runner TestRunner, diag Diagnoser) *Loop {
	return &Loop{
		Generator: gen,
		Runner:    runner,
		Diagnoser: diag,
		Validator: validate.New(),
		Fallback:  NewFallbackRegistry(),
		RetryWait: DefaultRetryWait,
	}
}

// cycleOutcome is the internal result of one supervisor cycle.
type cycleOutcome struct {
	passed     bool
	artifacts  []driver.Artifact
	failure    *driver.FailureContext
	unexpected bool
}

// Run executes up to b.MaxSupervisorAttempts cycles and returns the final
// result with full provenance. Remedies adjust only the configuration of
// the cycle that follows their diagnosis; each cycle's request is derived
// as a value, never mutated in place.
func (l *Loop) Run(ctx context.Context, req driver.ArtifactRequest, b Budgets) driver.SupervisorResult {
	b = b.withDefaults()
	res := driver.SupervisorResult{Outcome: driver.OutcomeExhausted}

	cur := req
	useFallback := false
	var logs []string

	record := func(format string, args ...any) {
		line := fmt.Sprintf(format, args...)
		log.Printf("supervisor: %s", line)
		logs = append(logs, line)
	}

	for cycle := 1; cycle <= b.MaxSupervisorAttempts; cycle++ {
		if ctx.Err() != nil {
			return l.cancelled(ctx, res)
		}
		res.SupervisorAttempts = cycle
		record("cycle %d/%d for %s (fallback=%v, hints=%d)",
			cycle, b.MaxSupervisorAttempts, cur.Target, useFallback, len(cur.Hints))
		l.emit(ctx, Event{Type: EventCycleStart, Cycle: cycle, Target: cur.Target})

		out := l.cycle(ctx, cur, cycle, useFallback, b, logs)
		if out.passed {
			res.Success = true
			res.Outcome = driver.OutcomeSucceeded
			res.Artifacts = out.artifacts
			res.Explanation = fmt.Sprintf("driver accepted after %d supervisor cycle(s)", cycle)
			l.emit(ctx, Event{Type: EventOutcome, Cycle: cycle, Target: cur.Target, Message: string(res.Outcome)})
			return res
		}
		if ctx.Err() != nil {
			return l.cancelled(ctx, res)
		}

		record("cycle %d failed: %s", cycle, summarize(out.failure))
		l.emit(ctx, Event{Type: EventAttemptFailed, Cycle: cycle, Target: cur.Target, Message: summarize(out.failure)})

		// Diagnosis runs unconditionally; the diagnoser guarantees a
		// well-formed verdict for any input.
		diag := l.Diagnoser.Diagnose(ctx, *out.failure)
		res.DiagnosesRun++
		res.LastDiagnosis = &diag
		if ctx.Err() != nil {
			// A cancelled diagnosis call degrades to the safe default
			// verdict; the run was cancelled, not aborted.
			return l.cancelled(ctx, res)
		}
		record("diagnosis %d: class=%s recoverable=%v remedy=%s", res.DiagnosesRun,
			diag.Classification, diag.Recoverable, diag.Remedy)
		l.emit(ctx, Event{Type: EventDiagnosis, Cycle: cycle, Target: cur.Target,
			Message: fmt.Sprintf("%s: %s", diag.Classification, diag.RootCause)})

		if !diag.Recoverable || diag.Remedy == driver.RemedyAbort {
			res.Outcome = driver.OutcomeAborted
			res.Explanation = fmt.Sprintf("aborted on cycle %d: %s", cycle, diag.RootCause)
			l.emit(ctx, Event{Type: EventOutcome, Cycle: cycle, Target: cur.Target, Message: string(res.Outcome)})
			return res
		}

		res.RemediesApplied = append(res.RemediesApplied, diag.Remedy)
		l.emit(ctx, Event{Type: EventRemedy, Cycle: cycle, Target: cur.Target, Message: string(diag.Remedy)})
		switch diag.Remedy {
		case driver.RemedyRetryWithHint:
			cur = cur.WithHint(diag.RemedyDescription)
		case driver.RemedySimplifyRequest:
			cur = cur.Simplify()
		case driver.RemedyUseFallbackTemplate:
			useFallback = true
		}

		if out.unexpected && cycle < b.MaxSupervisorAttempts {
			// Bounded wait instead of an unbounded crash loop.
			if err := l.wait(ctx); err != nil {
				return l.cancelled(ctx, res)
			}
		}
	}

	res.Explanation = fmt.Sprintf("supervisor attempts exhausted after %d cycle(s)", res.SupervisorAttempts)
	l.emit(ctx, Event{Type: EventOutcome, Cycle: res.SupervisorAttempts, Target: cur.Target, Message: string(res.Outcome)})
	return res
}

// cycle runs one generate→test iteration. Panics are recovered here and
// reported as an unexpected failure context so the run never crashes.
func (l *Loop) cycle(ctx context.Context, req driver.ArtifactRequest, attempt int, useFallback bool, b Budgets, logs []string) (out cycleOutcome) {
	defer func() {
		if r := recover(); r != nil {
			out = cycleOutcome{
				failure: &driver.FailureContext{
					Attempt:   attempt,
					Request:   req,
					Err:       fmt.Sprintf("panic: %v", r),
					LogWindow: logs,
				},
				unexpected: true,
			}
		}
	}()

	var artifacts []driver.Artifact
	if useFallback {
		art, err := l.fallback().Render(req)
		if err != nil {
			return cycleOutcome{
				failure:    &driver.FailureContext{Attempt: attempt, Request: req, Err: err.Error(), LogWindow: logs},
				unexpected: true,
			}
		}
		if report := l.validator().Validate(art, req.Contract); !report.Valid() {
			return cycleOutcome{failure: &driver.FailureContext{
				Attempt:    attempt,
				Request:    req,
				Artifacts:  []driver.Artifact{art},
				Validation: &report,
				LogWindow:  logs,
			}}
		}
		artifacts = []driver.Artifact{art}
	} else {
		art, err := l.Generator.Generate(ctx, req, b.MaxLocalRetries)
		if err != nil {
			var genErr *generate.GenerationError
			if errors.As(err, &genErr) {
				// The designed failure mode this layer exists to catch.
				return cycleOutcome{failure: &driver.FailureContext{
					Attempt:    attempt,
					Request:    req,
					Validation: &genErr.Report,
					LogWindow:  logs,
				}}
			}
			// Transport-level failure, same treatment as a sandbox error:
			// unexpected, so the next cycle waits before retrying.
			return cycleOutcome{
				failure: &driver.FailureContext{
					Attempt:   attempt,
					Request:   req,
					Err:       err.Error(),
					LogWindow: logs,
				},
				unexpected: true,
			}
		}
		artifacts = []driver.Artifact{art}
	}

	report, err := l.Runner.Run(ctx, artifacts)
	if err != nil {
		return cycleOutcome{
			failure: &driver.FailureContext{
				Attempt:   attempt,
				Request:   req,
				Artifacts: artifacts,
				Err:       err.Error(),
				LogWindow: logs,
			},
			unexpected: true,
		}
	}
	if report.Passed {
		return cycleOutcome{passed: true, artifacts: artifacts}
	}
	return cycleOutcome{failure: &driver.FailureContext{
		Attempt:   attempt,
		Request:   req,
		Artifacts: artifacts,
		Test:      &report,
		LogWindow: logs,
	}}
}

func (l *Loop) cancelled(ctx context.Context, res driver.SupervisorResult) driver.SupervisorResult {
	res.Success = false
	res.Outcome = driver.OutcomeCancelled
	res.Explanation = "run cancelled before completion"
	l.emit(ctx, Event{Type: EventOutcome, Cycle: res.SupervisorAttempts, Message: string(res.Outcome)})
	return res
}

func (l *Loop) wait(ctx context.Context) error {
	d := l.RetryWait
	if d <= 0 {
		d = DefaultRetryWait
	}
	sleep := l.sleep
	if sleep == nil {
		sleep = func(ctx context.Context, d time.Duration) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d):
				return nil
			}
		}
	}
	return sleep(ctx, d)
}

func (l *Loop) validator() *validate.Validator {
	if l.Validator != nil {
		return l.Validator
	}
	return validate.New()
}

func (l *Loop) fallback() *FallbackRegistry {
	if l.Fallback != nil {
		return l.Fallback
	}
	return NewFallbackRegistry()
}

func (l *Loop) emit(ctx context.Context, ev Event) {
	if l.Hook == nil {
		return
	}
	ev.Time = time.Now()
	l.Hook.Emit(ctx, ev)
}

// summarize renders a failure context's headline for logs and events.
func summarize(fc *driver.FailureContext) string {
	switch {
	case fc == nil:
		return ""
	case fc.Validation != nil:
		return fmt.Sprintf("validation failed with %d violation(s)", len(fc.Validation.Violations))
	case fc.Test != nil && fc.Test.TimedOut():
		return "sandbox timed out"
	case fc.Test != nil:
		return fmt.Sprintf("%d sandbox check(s) failed", fc.Test.ChecksFailed)
	default:
		return fc.Err
	}
}
