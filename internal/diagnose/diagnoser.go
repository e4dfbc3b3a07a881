// Package diagnose implements the second recovery tier: failure
// classification. Diagnose never returns an error to its caller; every
// internal failure is converted into the safe default Diagnosis so the
// supervisor can call it unconditionally.
package diagnose

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"strings"

	"drivergen/internal/driver"
	"drivergen/internal/jsonutil"
	"drivergen/internal/llm"
	"drivergen/internal/llmclient"
)

const (
	// DefaultMaxLogLines caps the log window embedded in the prompt.
	DefaultMaxLogLines = 100
	// DefaultMaxLogBytes caps the same window by size.
	DefaultMaxLogBytes = 16 * 1024
)

const promptDiagnose = `You are diagnosing one failed attempt of an automated code-generation
pipeline. The input JSON carries the attempt number, the originating
request, the artifacts involved, the validation or test report that failed,
and a window of recent log lines.

Task:
Return STRICT JSON of the form:
{
  "classification":     "formatting" | "logic" | "timeout" | "external-service" | "unknown",
  "root_cause":         "string",
  "recoverable":        true | false,
  "remedy":             "retry-with-hint" | "simplify-request" | "use-fallback-template" | "abort",
  "remedy_description": "string"
}

Rules:
- Classify from the evidence given; do not invent log lines.
- recoverable=false means another attempt cannot help; pair it with "abort".
- remedy_description is the concrete instruction the next attempt should
  follow when remedy is "retry-with-hint".
- JSON only; no comments or surrounding prose.
`

// Diagnoser classifies failures via the diagnosis service. It never calls
// the generation or sandbox collaborators and never mutates pipeline state.
type Diagnoser struct {
	LLM llmclient.LLMClient

	MaxLogLines int
	MaxLogBytes int
}

// New returns a Diagnoser with default log-window caps.
func New(cli llmclient.LLMClient) *Diagnoser {
	return &Diagnoser{LLM: cli, MaxLogLines: DefaultMaxLogLines, MaxLogBytes: DefaultMaxLogBytes}
}

// Diagnose builds a diagnosis prompt from fc, calls the diagnosis service,
// and parses its verdict leniently. On any failure it returns the safe
// default Diagnosis; it never returns an error.
func (d *Diagnoser) Diagnose(ctx context.Context, fc driver.FailureContext) driver.Diagnosis {
	if d == nil || d.LLM == nil {
		return driver.SafeDefaultDiagnosis("diagnoser not configured")
	}

	input := diagnosisInput(fc, d.maxLines(), d.maxBytes())
	raw, err := d.LLM.GenerateJSON(llm.WithRole(ctx, "diagnosis"), promptDiagnose, input)
	if err != nil {
		log.Printf("diagnose: service call failed: %v", err)
		return driver.SafeDefaultDiagnosis(fmt.Sprintf("diagnosis service failed: %v", err))
	}

	var diag driver.Diagnosis
	if err := jsonutil.UnmarshalFlex(raw, &diag); err != nil {
		log.Printf("diagnose: unparseable verdict (%d bytes)", len(raw))
		return driver.SafeDefaultDiagnosis("diagnosis response was not parseable")
	}
	return normalize(diag)
}

func (d *Diagnoser) maxLines() int {
	if d.MaxLogLines > 0 {
		return d.MaxLogLines
	}
	return DefaultMaxLogLines
}

func (d *Diagnoser) maxBytes() int {
	if d.MaxLogBytes > 0 {
		return d.MaxLogBytes
	}
	return DefaultMaxLogBytes
}

// normalize fails closed: an unknown remedy invalidates the verdict
// entirely, an unknown classification degrades to "unknown".
func normalize(diag driver.Diagnosis) driver.Diagnosis {
	if !driver.KnownRemedy(diag.Remedy) {
		return driver.SafeDefaultDiagnosis("diagnosis named an unknown remedy: " + string(diag.Remedy))
	}
	if !driver.KnownClassification(diag.Classification) {
		diag.Classification = driver.ClassUnknown
	}
	if diag.Remedy == driver.RemedyAbort {
		diag.Recoverable = false
	}
	return diag
}

// diagnosisInput bounds the log window before it is embedded in the
// payload; everything else in the context is already small.
func diagnosisInput(fc driver.FailureContext, maxLines, maxBytes int) map[string]any {
	bounded := fc
	bounded.LogWindow = truncateLogs(fc.LogWindow, maxLines, maxBytes)

	// Encoded without HTML escaping so source snippets stay readable.
	var payload bytes.Buffer
	if b, err := jsonutil.MarshalNoEscape(bounded); err == nil {
		payload.Write(b)
	}
	return map[string]any{
		"failure_context": payload.String(),
	}
}

// truncateLogs keeps the most recent lines under both caps.
func truncateLogs(lines []string, maxLines, maxBytes int) []string {
	if len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	total := 0
	for i := len(lines) - 1; i >= 0; i-- {
		total += len(lines[i]) + 1
		if total > maxBytes {
			return trimmedCopy(lines[i+1:])
		}
	}
	return trimmedCopy(lines)
}

func trimmedCopy(lines []string) []string {
	if len(lines) == 0 {
		return nil
	}
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = strings.TrimRight(l, "\r\n")
	}
	return out
}
