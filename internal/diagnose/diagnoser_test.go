package diagnose

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"drivergen/internal/driver"
)

type stubLLM struct {
	raw json.RawMessage
	err error
}

func (s *stubLLM) Name() string { return "stub" }
func (s *stubLLM) Close() error { return nil }
func (s *stubLLM) GenerateJSON(context.Context, string, any) (json.RawMessage, error) {
	return s.raw, s.err
}

func failureContext() driver.FailureContext {
	return driver.FailureContext{
		Attempt: 2,
		Request: driver.ArtifactRequest{Target: "driver.go"},
		Validation: &driver.ValidationReport{Violations: []driver.Violation{
			{Category: driver.CategoryMissingContract, Message: "Discover is not declared"},
		}},
		LogWindow: []string{"line one", "line two"},
	}
}

func TestDiagnose_WellFormedVerdict(t *testing.T) {
	cli := &stubLLM{raw: json.RawMessage(`{
		"classification": "formatting",
		"root_cause": "model dropped the entry function",
		"recoverable": true,
		"remedy": "retry-with-hint",
		"remedy_description": "declare Discover() []string"
	}`)}

	diag := New(cli).Diagnose(context.Background(), failureContext())
	if diag.Classification != driver.ClassFormatting {
		t.Fatalf("classification = %s", diag.Classification)
	}
	if !diag.Recoverable || diag.Remedy != driver.RemedyRetryWithHint {
		t.Fatalf("unexpected verdict: %+v", diag)
	}
}

func TestDiagnose_VerdictWrappedInProse(t *testing.T) {
	cli := &stubLLM{raw: json.RawMessage(
		"Looking at the logs, I believe:\n```json\n" +
			`{"classification":"timeout","root_cause":"sandbox hung","recoverable":true,"remedy":"simplify-request"}` +
			"\n```\nHope that helps!")}

	diag := New(cli).Diagnose(context.Background(), failureContext())
	if diag.Classification != driver.ClassTimeout || diag.Remedy != driver.RemedySimplifyRequest {
		t.Fatalf("unexpected verdict: %+v", diag)
	}
}

func TestDiagnose_SafeDefaultOnGarbage(t *testing.T) {
	for _, raw := range []string{
		"complete garbage, no structure",
		`{"classification": "formatting", "recoverable": tru`,
		"",
	} {
		cli := &stubLLM{raw: json.RawMessage(raw)}
		diag := New(cli).Diagnose(context.Background(), failureContext())
		if diag.Recoverable {
			t.Fatalf("raw=%q: safe default must not be recoverable: %+v", raw, diag)
		}
		if diag.Remedy != driver.RemedyAbort || diag.Classification != driver.ClassUnknown {
			t.Fatalf("raw=%q: expected safe default, got %+v", raw, diag)
		}
	}
}

func TestDiagnose_SafeDefaultOnServiceError(t *testing.T) {
	cli := &stubLLM{err: errors.New("connection refused")}
	diag := New(cli).Diagnose(context.Background(), failureContext())
	if diag.Recoverable || diag.Remedy != driver.RemedyAbort {
		t.Fatalf("expected safe default, got %+v", diag)
	}
}

func TestDiagnose_UnknownRemedyFailsClosed(t *testing.T) {
	cli := &stubLLM{raw: json.RawMessage(
		`{"classification":"logic","recoverable":true,"remedy":"reboot-the-universe"}`)}
	diag := New(cli).Diagnose(context.Background(), failureContext())
	if diag.Recoverable || diag.Remedy != driver.RemedyAbort {
		t.Fatalf("expected safe default, got %+v", diag)
	}
}

func TestDiagnose_UnknownClassificationDegrades(t *testing.T) {
	cli := &stubLLM{raw: json.RawMessage(
		`{"classification":"cosmic-rays","recoverable":true,"remedy":"retry-with-hint","remedy_description":"x"}`)}
	diag := New(cli).Diagnose(context.Background(), failureContext())
	if diag.Classification != driver.ClassUnknown {
		t.Fatalf("classification = %s", diag.Classification)
	}
	if !diag.Recoverable {
		t.Fatalf("valid remedy should survive classification degrade: %+v", diag)
	}
}

func TestTruncateLogs_LineAndByteCaps(t *testing.T) {
	lines := make([]string, 250)
	for i := range lines {
		lines[i] = strings.Repeat("x", 10)
	}
	out := truncateLogs(lines, 100, 1<<20)
	if len(out) != 100 {
		t.Fatalf("line cap: got %d lines", len(out))
	}

	out = truncateLogs(lines, 1000, 55)
	if len(out) >= 10 {
		t.Fatalf("byte cap: got %d lines", len(out))
	}
	total := 0
	for _, l := range out {
		total += len(l) + 1
	}
	if total > 55 {
		t.Fatalf("byte cap exceeded: %d", total)
	}
}
