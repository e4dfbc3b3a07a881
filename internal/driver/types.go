// Package driver holds the domain types shared across the generation
// pipeline: requests, artifacts, reports, diagnoses, and the final
// supervisor result. Nothing here performs I/O.
package driver

import "strings"

// ContractSpec describes the structural contract a generated driver must
// satisfy: an exported entry function with a fixed return shape.
type ContractSpec struct {
	PackageName   string `json:"package_name"`
	EntryFunction string `json:"entry_function"`
	// ResultKind names the required return shape. The only kind currently
	// supported is "identifier-list": a flat []string of identifiers.
	ResultKind  string `json:"result_kind"`
	Description string `json:"description,omitempty"`
}

// ResultKindIdentifierList requires the entry function to return []string.
const ResultKindIdentifierList = "identifier-list"

// ArtifactRequest describes one generation attempt. Values are treated as
// immutable; WithHint and Simplify return copies so a request handed to an
// attempt is never mutated behind its back.
type ArtifactRequest struct {
	Target     string       `json:"target"`
	Prompt     string       `json:"prompt"`
	Contract   ContractSpec `json:"contract"`
	Hints      []string     `json:"hints,omitempty"`
	Simplified bool         `json:"simplified,omitempty"`
}

// WithHint returns a copy of the request with hint appended. The hint slice
// is re-allocated so the receiver's lineage stays untouched.
func (r ArtifactRequest) WithHint(hint string) ArtifactRequest {
	hint = strings.TrimSpace(hint)
	if hint == "" {
		return r
	}
	hints := make([]string, 0, len(r.Hints)+1)
	hints = append(hints, r.Hints...)
	hints = append(hints, hint)
	out := r
	out.Hints = hints
	return out
}

// WithHints appends each hint in order, skipping blanks.
func (r ArtifactRequest) WithHints(hints []string) ArtifactRequest {
	out := r
	for _, h := range hints {
		out = out.WithHint(h)
	}
	return out
}

// Simplify returns a copy marked for a reduced constraint set on the next
// generation call.
func (r ArtifactRequest) Simplify() ArtifactRequest {
	out := r
	out.Simplified = true
	return out
}

// Artifact is one generated file. It is owned by the attempt that produced
// it until handed to the test runner.
type Artifact struct {
	Target  string `json:"target"`
	Content string `json:"content"`
}

// ViolationCategory classifies a validation violation.
type ViolationCategory string

const (
	CategorySyntax          ViolationCategory = "syntax"
	CategoryMissingContract ViolationCategory = "missing-contract-element"
	CategoryPlaceholder     ViolationCategory = "placeholder-text"
	CategoryOther           ViolationCategory = "other"
)

// Violation is a single validator finding.
type Violation struct {
	Category ViolationCategory `json:"category"`
	Message  string            `json:"message"`
}

// ValidationReport lists every violation found in one artifact. An empty
// report means the artifact is accepted.
type ValidationReport struct {
	Violations []Violation `json:"violations,omitempty"`
}

// Valid reports whether the artifact passed all checks.
func (r ValidationReport) Valid() bool { return len(r.Violations) == 0 }

// HasCategory reports whether any violation carries the given category.
func (r ValidationReport) HasCategory(c ViolationCategory) bool {
	for _, v := range r.Violations {
		if v.Category == c {
			return true
		}
	}
	return false
}

// Hints renders each violation as a correction hint, verbatim.
func (r ValidationReport) Hints() []string {
	if len(r.Violations) == 0 {
		return nil
	}
	out := make([]string, 0, len(r.Violations))
	for _, v := range r.Violations {
		out = append(out, string(v.Category)+": "+v.Message)
	}
	return out
}

// CheckFailure is one failing sandbox check.
type CheckFailure struct {
	Name     string `json:"name"`
	Message  string `json:"message"`
	Location string `json:"location,omitempty"`
}

// CheckTimeout is the failure name used when the sandbox exceeds its budget.
const CheckTimeout = "timeout"

// TestReport is the normalized outcome of one sandbox execution. Immutable
// after creation.
type TestReport struct {
	Passed       bool           `json:"passed"`
	ChecksPassed int            `json:"checks_passed"`
	ChecksFailed int            `json:"checks_failed"`
	Failures     []CheckFailure `json:"failures,omitempty"`
}

// TimedOut reports whether the report carries a sandbox timeout record.
func (r TestReport) TimedOut() bool {
	for _, f := range r.Failures {
		if f.Name == CheckTimeout {
			return true
		}
	}
	return false
}

// FailureContext aggregates everything a diagnosis needs. Built fresh per
// diagnosis call and never mutated afterwards.
type FailureContext struct {
	Attempt    int               `json:"attempt"`
	Request    ArtifactRequest   `json:"request"`
	Artifacts  []Artifact        `json:"artifacts,omitempty"`
	Validation *ValidationReport `json:"validation,omitempty"`
	Test       *TestReport       `json:"test,omitempty"`
	// Err captures an unexpected error (or panic) message when neither a
	// validation nor a test report is available.
	Err       string   `json:"error,omitempty"`
	LogWindow []string `json:"log_window,omitempty"`
}

// Classification is the diagnosis failure class.
type Classification string

const (
	ClassFormatting      Classification = "formatting"
	ClassLogic           Classification = "logic"
	ClassTimeout         Classification = "timeout"
	ClassExternalService Classification = "external-service"
	ClassUnknown         Classification = "unknown"
)

// RemedyStrategy names the adjustment applied to the next cycle.
type RemedyStrategy string

const (
	RemedyRetryWithHint       RemedyStrategy = "retry-with-hint"
	RemedySimplifyRequest     RemedyStrategy = "simplify-request"
	RemedyUseFallbackTemplate RemedyStrategy = "use-fallback-template"
	RemedyAbort               RemedyStrategy = "abort"
)

// KnownClassification reports whether c is one of the defined classes.
func KnownClassification(c Classification) bool {
	switch c {
	case ClassFormatting, ClassLogic, ClassTimeout, ClassExternalService, ClassUnknown:
		return true
	}
	return false
}

// KnownRemedy reports whether s is one of the defined strategies.
func KnownRemedy(s RemedyStrategy) bool {
	switch s {
	case RemedyRetryWithHint, RemedySimplifyRequest, RemedyUseFallbackTemplate, RemedyAbort:
		return true
	}
	return false
}

// Diagnosis is the structured verdict of the diagnosis service. Immutable
// once returned.
type Diagnosis struct {
	Classification    Classification `json:"classification"`
	RootCause         string         `json:"root_cause"`
	Recoverable       bool           `json:"recoverable"`
	Remedy            RemedyStrategy `json:"remedy"`
	RemedyDescription string         `json:"remedy_description,omitempty"`
}

// SafeDefaultDiagnosis is the substitute used whenever the diagnosis call
// itself fails or returns something unusable. Callers must never skip it.
func SafeDefaultDiagnosis(reason string) Diagnosis {
	return Diagnosis{
		Classification:    ClassUnknown,
		RootCause:         strings.TrimSpace(reason),
		Recoverable:       false,
		Remedy:            RemedyAbort,
		RemedyDescription: "diagnosis unavailable; aborting",
	}
}

// Outcome is the terminal state of one supervisor run.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeAborted   Outcome = "aborted"
	OutcomeExhausted Outcome = "exhausted-attempts"
	OutcomeCancelled Outcome = "cancelled"
)

// SupervisorResult is the only externally visible output of a pipeline run.
// Provenance fields are complete even on failure.
type SupervisorResult struct {
	Success            bool             `json:"success"`
	Outcome            Outcome          `json:"outcome"`
	Artifacts          []Artifact       `json:"artifacts,omitempty"`
	Explanation        string           `json:"explanation"`
	SupervisorAttempts int              `json:"supervisor_attempts"`
	DiagnosesRun       int              `json:"diagnoses_run"`
	RemediesApplied    []RemedyStrategy `json:"remedies_applied,omitempty"`
	LastDiagnosis      *Diagnosis       `json:"last_diagnosis,omitempty"`
}
