package sandbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"drivergen/internal/driver"
)

type stubSandbox struct {
	res   ExecResult
	err   error
	files map[string]string
}

func (s *stubSandbox) Execute(_ context.Context, files map[string]string, _ time.Duration) (ExecResult, error) {
	s.files = files
	return s.res, s.err
}

func TestRun_AllChecksPass(t *testing.T) {
	sb := &stubSandbox{res: ExecResult{Checks: []Check{
		{Name: "compile", Passed: true},
		{Name: "discover-returns-ids", Passed: true},
	}}}
	report, err := NewRunner(sb).Run(context.Background(), []driver.Artifact{
		{Target: "driver.go", Content: "package driver"},
	})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if !report.Passed || report.ChecksPassed != 2 || report.ChecksFailed != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if sb.files["driver.go"] != "package driver" {
		t.Fatalf("artifact not packaged: %v", sb.files)
	}
}

func TestRun_FailingChecksNormalized(t *testing.T) {
	sb := &stubSandbox{res: ExecResult{Checks: []Check{
		{Name: "compile", Passed: true},
		{Name: "discover-returns-ids", Passed: false, Message: "returned records", Location: "driver.go:7"},
	}}}
	report, err := NewRunner(sb).Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if report.Passed || report.ChecksFailed != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	f := report.Failures[0]
	if f.Name != "discover-returns-ids" || f.Location != "driver.go:7" {
		t.Fatalf("unexpected failure record: %+v", f)
	}
}

func TestRun_TimeoutIsAReportNotAnError(t *testing.T) {
	for _, sb := range []*stubSandbox{
		{res: ExecResult{TimedOut: true}},
		{err: context.DeadlineExceeded},
	} {
		report, err := NewRunner(sb).Run(context.Background(), nil)
		if err != nil {
			t.Fatalf("timeout must not be an error: %v", err)
		}
		if report.Passed || !report.TimedOut() {
			t.Fatalf("expected a timeout report, got %+v", report)
		}
	}
}

func TestRun_TransportErrorPropagates(t *testing.T) {
	sb := &stubSandbox{err: errors.New("connection refused")}
	if _, err := NewRunner(sb).Run(context.Background(), nil); err == nil {
		t.Fatal("expected an error")
	}
}

func TestRun_ZeroChecksFails(t *testing.T) {
	sb := &stubSandbox{res: ExecResult{Stdout: "ok?"}}
	report, err := NewRunner(sb).Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if report.Passed {
		t.Fatalf("a run with zero checks must not pass: %+v", report)
	}
}
