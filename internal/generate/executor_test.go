package generate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"drivergen/internal/driver"
	"drivergen/internal/llmclient"
)

const validDriver = `package driver

// Discover returns the identifiers this driver manages.
func Discover() []string {
	return []string{"dev-0"}
}
`

const missingEntryDriver = `package driver

func List() []string {
	return nil
}
`

var testContract = driver.ContractSpec{
	PackageName:   "driver",
	EntryFunction: "Discover",
	ResultKind:    driver.ResultKindIdentifierList,
}

func testRequest() driver.ArtifactRequest {
	return driver.ArtifactRequest{
		Target:   "driver.go",
		Contract: testContract,
	}
}

// scriptedLLM replays queued responses/errors and records every input.
type scriptedLLM struct {
	calls     int
	responses []json.RawMessage
	errs      []error
	inputs    []any
}

func (s *scriptedLLM) Name() string { return "scripted" }
func (s *scriptedLLM) Close() error { return nil }

func (s *scriptedLLM) GenerateJSON(_ context.Context, _ string, input any) (json.RawMessage, error) {
	i := s.calls
	s.calls++
	s.inputs = append(s.inputs, input)
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i < len(s.responses) {
		return s.responses[i], nil
	}
	return nil, fmt.Errorf("scripted: no response for call %d", i)
}

func payload(content string) json.RawMessage {
	b, _ := json.Marshal(map[string]string{"target": "driver.go", "content": content})
	return b
}

func newTestExecutor(cli llmclient.LLMClient) *Executor {
	e := New(cli)
	e.sleep = func(context.Context, time.Duration) error { return nil }
	return e
}

func TestGenerate_SucceedsOnNthCall(t *testing.T) {
	for n := 1; n <= DefaultMaxLocalRetries; n++ {
		var responses []json.RawMessage
		for i := 0; i < n-1; i++ {
			responses = append(responses, payload(missingEntryDriver))
		}
		responses = append(responses, payload(validDriver))
		cli := &scriptedLLM{responses: responses}

		art, err := newTestExecutor(cli).Generate(context.Background(), testRequest(), 0)
		if err != nil {
			t.Fatalf("n=%d: Generate error: %v", n, err)
		}
		if cli.calls != n {
			t.Fatalf("n=%d: expected exactly %d calls, got %d", n, n, cli.calls)
		}
		if !strings.Contains(art.Content, "func Discover()") {
			t.Fatalf("n=%d: unexpected artifact: %q", n, art.Content)
		}
	}
}

func TestGenerate_ExhaustionReturnsGenerationError(t *testing.T) {
	cli := &scriptedLLM{responses: []json.RawMessage{
		payload(missingEntryDriver),
		payload(missingEntryDriver),
		payload(missingEntryDriver),
	}}
	_, err := newTestExecutor(cli).Generate(context.Background(), testRequest(), 0)

	var genErr *GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("expected *GenerationError, got %v", err)
	}
	if cli.calls != DefaultMaxLocalRetries {
		t.Fatalf("expected %d calls, got %d", DefaultMaxLocalRetries, cli.calls)
	}
	if len(genErr.Report.Violations) != 1 {
		t.Fatalf("expected exactly one violation, got %+v", genErr.Report.Violations)
	}
	if genErr.Report.Violations[0].Category != driver.CategoryMissingContract {
		t.Fatalf("expected missing-contract-element, got %s", genErr.Report.Violations[0].Category)
	}
}

func TestGenerate_HintsAccumulateAcrossRetries(t *testing.T) {
	cli := &scriptedLLM{responses: []json.RawMessage{
		payload(missingEntryDriver),
		payload(validDriver),
	}}
	if _, err := newTestExecutor(cli).Generate(context.Background(), testRequest(), 0); err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	second, ok := cli.inputs[1].(map[string]any)
	if !ok {
		t.Fatalf("unexpected input type %T", cli.inputs[1])
	}
	hints, _ := second["hints"].([]string)
	if len(hints) != 1 || !strings.Contains(hints[0], "Discover") {
		t.Fatalf("expected a hint naming the missing function, got %v", hints)
	}
}

func TestGenerate_TransportRetriesDoNotConsumeLocalRetries(t *testing.T) {
	overload := llmclient.NewRetryableError(errors.New("overloaded"))
	cli := &scriptedLLM{
		errs:      []error{overload, overload},
		responses: []json.RawMessage{nil, nil, payload(validDriver)},
	}
	e := newTestExecutor(cli)
	e.MaxLocalRetries = 1

	if _, err := e.Generate(context.Background(), testRequest(), 0); err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if cli.calls != 3 {
		t.Fatalf("expected 3 service calls, got %d", cli.calls)
	}
}

func TestGenerate_TransportExhaustionEscalates(t *testing.T) {
	overload := llmclient.NewRetryableError(errors.New("overloaded"))
	cli := &scriptedLLM{errs: []error{overload, overload, overload}}

	_, err := newTestExecutor(cli).Generate(context.Background(), testRequest(), 0)
	if err == nil {
		t.Fatal("expected an error")
	}
	var genErr *GenerationError
	if errors.As(err, &genErr) {
		t.Fatal("transport exhaustion must not masquerade as a validation failure")
	}
	if cli.calls != DefaultMaxTransportRetries {
		t.Fatalf("expected %d tries, got %d", DefaultMaxTransportRetries, cli.calls)
	}
}

func TestGenerate_PermanentErrorNotRetried(t *testing.T) {
	perm := llmclient.NewPermanentError(errors.New("bad request"))
	cli := &scriptedLLM{errs: []error{perm}}

	_, err := newTestExecutor(cli).Generate(context.Background(), testRequest(), 0)
	if err == nil {
		t.Fatal("expected an error")
	}
	if cli.calls != 1 {
		t.Fatalf("expected a single call, got %d", cli.calls)
	}
}

func TestGenerate_MalformedPayloadGetsOneStrictRetry(t *testing.T) {
	cli := &scriptedLLM{responses: []json.RawMessage{
		json.RawMessage(`the model rambles with no JSON at all`),
		payload(validDriver),
	}}
	e := newTestExecutor(cli)
	e.MaxLocalRetries = 1

	if _, err := e.Generate(context.Background(), testRequest(), 0); err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if cli.calls != 2 {
		t.Fatalf("expected 2 calls, got %d", cli.calls)
	}
	second, _ := cli.inputs[1].(map[string]any)
	hints, _ := second["hints"].([]string)
	if len(hints) != 1 || !strings.Contains(hints[0], "parseable JSON") {
		t.Fatalf("expected the stricter-formatting hint, got %v", hints)
	}
}

func TestGenerate_NeverReturnsInvalidArtifact(t *testing.T) {
	cli := &scriptedLLM{responses: []json.RawMessage{
		payload(missingEntryDriver),
		payload(missingEntryDriver),
		payload(missingEntryDriver),
	}}
	art, err := newTestExecutor(cli).Generate(context.Background(), testRequest(), 0)
	if err == nil {
		t.Fatalf("invalid artifact returned as valid: %+v", art)
	}
}
