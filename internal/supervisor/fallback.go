package supervisor

import (
	"fmt"

	"drivergen/internal/driver"
)

// FallbackRegistry holds static driver skeletons, one per result kind. The
// use-fallback-template remedy assembles the next cycle's artifact from here
// instead of calling the generation service; the result still passes through
// validation and the sandbox unchanged.
type FallbackRegistry struct {
	templates map[string]string
}

// identifierListTemplate is the skeleton for the identifier-list contract.
// %s placeholders: package name, entry function (twice).
const identifierListTemplate = `package %s

// %s returns the identifiers this driver manages. This is the static
// fallback skeleton; it reports no devices until replaced.
func %s() []string {
	return []string{}
}
`

// NewFallbackRegistry returns a registry seeded with the built-in skeletons.
func NewFallbackRegistry() *FallbackRegistry {
	return &FallbackRegistry{templates: map[string]string{
		driver.ResultKindIdentifierList: identifierListTemplate,
	}}
}

// Render assembles a fallback artifact for the request's contract.
func (r *FallbackRegistry) Render(req driver.ArtifactRequest) (driver.Artifact, error) {
	if r == nil || len(r.templates) == 0 {
		return driver.Artifact{}, fmt.Errorf("supervisor: no fallback templates registered")
	}
	kind := req.Contract.ResultKind
	if kind == "" {
		kind = driver.ResultKindIdentifierList
	}
	tmpl, ok := r.templates[kind]
	if !ok {
		return driver.Artifact{}, fmt.Errorf("supervisor: no fallback template for result kind %q", kind)
	}
	pkg := req.Contract.PackageName
	if pkg == "" {
		pkg = "driver"
	}
	entry := req.Contract.EntryFunction
	if entry == "" {
		entry = "Discover"
	}
	target := req.Target
	if target == "" {
		target = "driver.go"
	}
	return driver.Artifact{
		Target:  target,
		Content: fmt.Sprintf(tmpl, pkg, entry, entry),
	}, nil
}
