package llm

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"drivergen/internal/llmclient"
)

type flakyClient struct {
	calls int
	errs  []error
}

func (f *flakyClient) Name() string { return "flaky" }
func (f *flakyClient) Close() error { return nil }

func (f *flakyClient) GenerateJSON(context.Context, string, any) (json.RawMessage, error) {
	f.calls++
	if f.calls <= len(f.errs) {
		return nil, f.errs[f.calls-1]
	}
	return json.RawMessage(`{"ok":true}`), nil
}

func TestRetryRecoversFromTransientErrors(t *testing.T) {
	base := &flakyClient{errs: []error{
		llmclient.NewRetryableError(errors.New("503 overloaded")),
		llmclient.NewRetryableError(errors.New("503 overloaded")),
	}}
	cli := Chain(base, Retry(3, time.Millisecond))

	out, err := cli.GenerateJSON(context.Background(), "p", nil)
	if err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
	if string(out) != `{"ok":true}` {
		t.Fatalf("unexpected payload: %s", out)
	}
	if base.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", base.calls)
	}
}

func TestRetryGivesUpAfterMaxAttempts(t *testing.T) {
	overloaded := llmclient.NewRetryableError(errors.New("503 overloaded"))
	base := &flakyClient{errs: []error{overloaded, overloaded, overloaded, overloaded}}
	cli := Chain(base, Retry(2, time.Millisecond))

	if _, err := cli.GenerateJSON(context.Background(), "p", nil); err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if base.calls != 2 {
		t.Fatalf("expected 2 calls, got %d", base.calls)
	}
}

func TestRetrySkipsPermanentErrors(t *testing.T) {
	base := &flakyClient{errs: []error{
		llmclient.NewPermanentError(errors.New("400 bad request")),
	}}
	cli := Chain(base, Retry(3, time.Millisecond))

	_, err := cli.GenerateJSON(context.Background(), "p", nil)
	var pErr *llmclient.PermanentError
	if !errors.As(err, &pErr) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if base.calls != 1 {
		t.Fatalf("permanent errors must not be retried, got %d calls", base.calls)
	}
}

func TestRetrySkipsNonRetryableServiceErrors(t *testing.T) {
	base := &flakyClient{errs: []error{
		&llmclient.ServiceError{Err: errors.New("quota exceeded"), Retryable: false},
	}}
	cli := Chain(base, Retry(3, time.Millisecond))

	if _, err := cli.GenerateJSON(context.Background(), "p", nil); err == nil {
		t.Fatal("expected error")
	}
	if base.calls != 1 {
		t.Fatalf("non-retryable service errors must not be retried, got %d calls", base.calls)
	}
}

func TestFakeClientAnswersPerRole(t *testing.T) {
	cli := NewFakeClient()

	gen, err := cli.GenerateJSON(WithRole(context.Background(), "generation"), "p", nil)
	if err != nil {
		t.Fatal(err)
	}
	var art struct {
		Target  string `json:"target"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(gen, &art); err != nil {
		t.Fatalf("generation payload not JSON: %v", err)
	}
	if art.Target == "" || art.Content == "" {
		t.Fatalf("generation payload incomplete: %+v", art)
	}

	diag, err := cli.GenerateJSON(WithRole(context.Background(), "diagnosis"), "p", nil)
	if err != nil {
		t.Fatal(err)
	}
	var verdict struct {
		Remedy      string `json:"remedy"`
		Recoverable bool   `json:"recoverable"`
	}
	if err := json.Unmarshal(diag, &verdict); err != nil {
		t.Fatalf("diagnosis payload not JSON: %v", err)
	}
	if verdict.Remedy != "retry-with-hint" || !verdict.Recoverable {
		t.Fatalf("unexpected verdict: %+v", verdict)
	}
}
