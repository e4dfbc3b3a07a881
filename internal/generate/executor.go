// Package generate implements the first recovery tier: one generation
// attempt with bounded local retries. Transport trouble is retried with
// backoff at the point of call; validation failures feed correction hints
// back into the next local iteration; exhaustion is a designed failure mode
// returned as a value for the supervisor to catch.
package generate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"drivergen/internal/driver"
	"drivergen/internal/jsonutil"
	"drivergen/internal/llm"
	"drivergen/internal/llmclient"
	"drivergen/internal/validate"
)

const (
	// DefaultMaxLocalRetries bounds the validate-and-retry iterations.
	DefaultMaxLocalRetries = 3
	// DefaultMaxTransportRetries bounds overload retries per generation
	// call; these do not consume local retries.
	DefaultMaxTransportRetries = 3
	// DefaultBaseDelay seeds the exponential backoff between transport
	// retries (baseDelay * 2^attempt).
	DefaultBaseDelay = 500 * time.Millisecond
)

const promptGenerate = `You are generating a single Go source file (a "driver") that satisfies a
fixed structural contract.

Input JSON provides:
- request: what the driver must do, in natural language
- contract: package_name, entry_function, result_kind, description
- hints: corrections accumulated from prior failed attempts, newest last
- simplified: when true, produce the smallest compliant implementation

Task:
Return STRICT JSON of the form:
{
  "target":  "string",  // file name, echo the requested target
  "content": "string"   // the complete Go source file
}

Rules:
- The file must declare package <contract.package_name>.
- It must declare the exported function <contract.entry_function> returning a
  flat []string of identifiers. Never return records, structs, or maps.
- No TODO/FIXME markers, no "not yet implemented", no ellipsis stubs.
- Apply every hint; hints describe violations found in your previous output.
- JSON only; no comments, no surrounding prose.
`

const promptGenerateSimplified = `Produce the smallest compliant file: the package clause, the entry
function, and a literal return. Skip documentation beyond a one-line comment
on the entry function.`

// strictFormatHint is appended after a malformed response before the single
// stricter-formatting retry.
const strictFormatHint = `previous response was not a parseable JSON object with "target" and "content" string fields; respond with exactly that object and nothing else`

// GenerationError reports that local retries are exhausted. It carries the
// last validation report so the supervisor can diagnose the failure.
type GenerationError struct {
	Target   string
	Attempts int
	Report   driver.ValidationReport
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generate: %s invalid after %d local attempts (%d violations)",
		e.Target, e.Attempts, len(e.Report.Violations))
}

// Executor produces one validated artifact per Generate call.
type Executor struct {
	LLM       llmclient.LLMClient
	Validator *validate.Validator

	MaxLocalRetries     int
	MaxTransportRetries int
	BaseDelay           time.Duration

	// sleep is swapped in tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// New returns an Executor with default budgets.
func New(cli llmclient.LLMClient) *Executor {
	return &Executor{
		LLM:                 cli,
		Validator:           validate.New(),
		MaxLocalRetries:     DefaultMaxLocalRetries,
		MaxTransportRetries: DefaultMaxTransportRetries,
		BaseDelay:           DefaultBaseDelay,
	}
}

// Generate runs up to maxLocalRetries generate-validate iterations and
// returns the first accepted artifact. maxLocalRetries <= 0 falls back to
// the executor's configured budget. On exhaustion it returns a
// *GenerationError carrying the last validation report; any other error is
// a service failure that retries at this level could not resolve.
func (e *Executor) Generate(ctx context.Context, req driver.ArtifactRequest, maxLocalRetries int) (driver.Artifact, error) {
	var zero driver.Artifact
	if e == nil || e.LLM == nil {
		return zero, fmt.Errorf("generate: missing LLM client")
	}
	validator := e.Validator
	if validator == nil {
		validator = validate.New()
	}
	maxLocal := maxLocalRetries
	if maxLocal <= 0 {
		maxLocal = e.MaxLocalRetries
	}
	if maxLocal <= 0 {
		maxLocal = DefaultMaxLocalRetries
	}

	cur := req
	strictRetryUsed := false
	var lastReport driver.ValidationReport

	attempt := 0
	for attempt < maxLocal {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		raw, err := e.complete(ctx, cur)
		if err != nil {
			return zero, err
		}

		art, parseErr := parseArtifact(raw, cur.Target)
		if parseErr != nil {
			if !strictRetryUsed {
				// One stricter-formatting retry that does not consume a
				// local attempt.
				strictRetryUsed = true
				cur = cur.WithHint(strictFormatHint)
				continue
			}
			lastReport = driver.ValidationReport{Violations: []driver.Violation{{
				Category: driver.CategoryOther,
				Message:  "response did not contain a parseable artifact payload: " + parseErr.Error(),
			}}}
			cur = cur.WithHints(lastReport.Hints())
			attempt++
			continue
		}

		report := validator.Validate(art, cur.Contract)
		if report.Valid() {
			return art, nil
		}
		lastReport = report
		attempt++
		if attempt < maxLocal {
			cur = cur.WithHints(report.Hints())
		}
	}

	return zero, &GenerationError{Target: req.Target, Attempts: maxLocal, Report: lastReport}
}

// complete performs one logical generation call, retrying retryable service
// errors with exponential backoff. These transport retries are bounded
// separately and never count against local retries.
func (e *Executor) complete(ctx context.Context, req driver.ArtifactRequest) ([]byte, error) {
	maxTries := e.MaxTransportRetries
	if maxTries <= 0 {
		maxTries = DefaultMaxTransportRetries
	}
	base := e.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	sleep := e.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	prompt := promptGenerate
	if req.Simplified {
		prompt += "\n" + promptGenerateSimplified + "\n"
	}
	input := map[string]any{
		"target":     req.Target,
		"request":    req.Prompt,
		"contract":   req.Contract,
		"hints":      req.Hints,
		"simplified": req.Simplified,
	}
	genCtx := llm.WithRole(ctx, "generation")

	var last error
	for try := 0; try < maxTries; try++ {
		raw, err := e.LLM.GenerateJSON(genCtx, prompt, input)
		if err == nil {
			return raw, nil
		}
		if !llmclient.IsRetryable(err) {
			return nil, err
		}
		last = err
		if err := sleep(ctx, base*time.Duration(1<<try)); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("generate: generation service unavailable after %d tries: %w", maxTries, last)
}

type artifactPayload struct {
	Target  string `json:"target"`
	Content string `json:"content"`
}

func parseArtifact(raw []byte, fallbackTarget string) (driver.Artifact, error) {
	var p artifactPayload
	if err := jsonutil.UnmarshalFlex(raw, &p); err != nil {
		return driver.Artifact{}, err
	}
	if strings.TrimSpace(p.Content) == "" {
		return driver.Artifact{}, fmt.Errorf("artifact content is empty")
	}
	target := strings.TrimSpace(p.Target)
	if target == "" {
		target = fallbackTarget
	}
	return driver.Artifact{Target: target, Content: p.Content}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
