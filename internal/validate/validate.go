// Package validate runs pure, offline checks against a generated driver
// artifact. It is deterministic, needs no network, and collects every
// violation instead of stopping at the first.
package validate

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"regexp"
	"strings"

	"drivergen/internal/driver"
)

// Validator checks one artifact against a contract. The zero value is ready
// to use.
type Validator struct{}

// New returns a Validator.
func New() *Validator { return &Validator{} }

var placeholderRe = regexp.MustCompile(`(?i)\bTODO\b|\bFIXME\b|not yet implemented|\bunimplemented\b`)

// Validate runs all checks in order and returns every violation found.
// An empty report means the artifact is accepted.
func (v *Validator) Validate(a driver.Artifact, contract driver.ContractSpec) driver.ValidationReport {
	var out driver.ValidationReport

	file, parseErr := parseSource(a)
	if parseErr != nil {
		out.Violations = append(out.Violations, driver.Violation{
			Category: driver.CategorySyntax,
			Message:  fmt.Sprintf("%s does not parse: %v", a.Target, parseErr),
		})
	}

	if file != nil {
		out.Violations = append(out.Violations, checkContract(file, contract)...)
	} else {
		// Without an AST, fall back to a textual presence check so the
		// report still names the missing element.
		if contract.EntryFunction != "" && !strings.Contains(a.Content, "func "+contract.EntryFunction+"(") {
			out.Violations = append(out.Violations, driver.Violation{
				Category: driver.CategoryMissingContract,
				Message:  fmt.Sprintf("required exported function %s is not declared", contract.EntryFunction),
			})
		}
	}

	out.Violations = append(out.Violations, checkPlaceholders(a)...)
	return out
}

func parseSource(a driver.Artifact) (*ast.File, error) {
	fset := token.NewFileSet()
	name := a.Target
	if name == "" {
		name = "artifact.go"
	}
	return parser.ParseFile(fset, name, a.Content, parser.ParseComments)
}

// checkContract verifies the required entry function exists with the
// contract's return shape, and flags the aggregate-shape anti-pattern the
// generation service is prone to (returning a collection of records where a
// flat list of identifiers is required).
func checkContract(file *ast.File, contract driver.ContractSpec) []driver.Violation {
	var out []driver.Violation

	if contract.PackageName != "" && file.Name != nil && file.Name.Name != contract.PackageName {
		out = append(out, driver.Violation{
			Category: driver.CategoryMissingContract,
			Message:  fmt.Sprintf("package is %q, contract requires %q", file.Name.Name, contract.PackageName),
		})
	}
	if contract.EntryFunction == "" {
		return out
	}

	fn := findFunc(file, contract.EntryFunction)
	if fn == nil {
		out = append(out, driver.Violation{
			Category: driver.CategoryMissingContract,
			Message:  fmt.Sprintf("required exported function %s is not declared", contract.EntryFunction),
		})
		return out
	}
	if !ast.IsExported(fn.Name.Name) {
		out = append(out, driver.Violation{
			Category: driver.CategoryMissingContract,
			Message:  fmt.Sprintf("%s must be exported", contract.EntryFunction),
		})
	}

	switch contract.ResultKind {
	case driver.ResultKindIdentifierList, "":
		out = append(out, checkIdentifierList(fn)...)
	default:
		out = append(out, driver.Violation{
			Category: driver.CategoryOther,
			Message:  fmt.Sprintf("unsupported result kind %q", contract.ResultKind),
		})
	}
	return out
}

func findFunc(file *ast.File, name string) *ast.FuncDecl {
	for _, decl := range file.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok || fn.Recv != nil {
			continue
		}
		if fn.Name != nil && fn.Name.Name == name {
			return fn
		}
	}
	return nil
}

// checkIdentifierList requires exactly one result of type []string. A slice
// of structs, a map, or a slice of any named record type is the aggregate
// anti-pattern and is reported as a missing contract element.
func checkIdentifierList(fn *ast.FuncDecl) []driver.Violation {
	name := fn.Name.Name
	if fn.Type.Results == nil || len(fn.Type.Results.List) != 1 {
		return []driver.Violation{{
			Category: driver.CategoryMissingContract,
			Message:  fmt.Sprintf("%s must declare exactly one result of type []string", name),
		}}
	}
	rt := fn.Type.Results.List[0].Type
	if isStringSlice(rt) {
		return nil
	}

	msg := fmt.Sprintf("%s must return []string, found %s", name, typeString(rt))
	if isAggregateShape(rt) {
		msg = fmt.Sprintf("%s returns an aggregate shape (%s) where a flat []string of identifiers is required", name, typeString(rt))
	}
	return []driver.Violation{{Category: driver.CategoryMissingContract, Message: msg}}
}

func isStringSlice(t ast.Expr) bool {
	arr, ok := t.(*ast.ArrayType)
	if !ok || arr.Len != nil {
		return false
	}
	ident, ok := arr.Elt.(*ast.Ident)
	return ok && ident.Name == "string"
}

// isAggregateShape recognizes the common wrong answers: maps, slices of
// structs, and slices of named (record) types.
func isAggregateShape(t ast.Expr) bool {
	switch x := t.(type) {
	case *ast.MapType:
		return true
	case *ast.ArrayType:
		switch elt := x.Elt.(type) {
		case *ast.StructType:
			return true
		case *ast.Ident:
			return elt.Name != "string"
		case *ast.StarExpr, *ast.SelectorExpr:
			return true
		}
	case *ast.StructType:
		return true
	}
	return false
}

func typeString(t ast.Expr) string {
	switch x := t.(type) {
	case *ast.Ident:
		return x.Name
	case *ast.ArrayType:
		return "[]" + typeString(x.Elt)
	case *ast.MapType:
		return "map[" + typeString(x.Key) + "]" + typeString(x.Value)
	case *ast.StarExpr:
		return "*" + typeString(x.X)
	case *ast.SelectorExpr:
		return typeString(x.X) + "." + x.Sel.Name
	case *ast.StructType:
		return "struct{...}"
	default:
		return fmt.Sprintf("%T", t)
	}
}

// checkPlaceholders flags unresolved placeholder markers: TODO/FIXME tokens,
// "not yet implemented", and ellipsis lines standing in for real code.
func checkPlaceholders(a driver.Artifact) []driver.Violation {
	var out []driver.Violation
	if m := placeholderRe.FindString(a.Content); m != "" {
		out = append(out, driver.Violation{
			Category: driver.CategoryPlaceholder,
			Message:  fmt.Sprintf("unresolved placeholder marker %q", m),
		})
	}
	for _, line := range strings.Split(a.Content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "..." || trimmed == "…" {
			out = append(out, driver.Violation{
				Category: driver.CategoryPlaceholder,
				Message:  "ellipsis line standing in for real code",
			})
			break
		}
	}
	return out
}
