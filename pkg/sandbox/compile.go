package sandbox

import (
	"fmt"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	fn "github.com/joeydtaylor/steeze-functions/pkg/function"
)

// Script is the compiled form of a function body. It is immutable and safe
// to execute concurrently.
type Script struct {
	Filename string
	attrs    hclsyntax.Attributes
}

// SyntaxError carries every diagnostic found in one body.
type SyntaxError struct {
	Filename string
	Diags    hcl.Diagnostics
}

func (e *SyntaxError) Error() string { return e.Diags.Error() }

// Details is one line per diagnostic.
func (e *SyntaxError) Details() []string {
	out := make([]string, 0, len(e.Diags))
	for _, d := range e.Diags {
		out = append(out, d.Error())
	}
	return out
}

// CheckSyntax reports whether code would compile. It returns a *SyntaxError
// or nil.
func (s *Sandbox) CheckSyntax(filename, code string) error {
	_, err := s.parse(filename, code)
	return err
}

// Compile parses and checks code. The handle is a *Script.
func (s *Sandbox) Compile(filename, code string) (fn.Handle, error) {
	script, err := s.parse(filename, code)
	if err != nil {
		return nil, err
	}
	return script, nil
}

func (s *Sandbox) parse(filename, code string) (*Script, error) {
	file, diags := hclsyntax.ParseConfig([]byte(code), filename, hcl.InitialPos)
	if diags.HasErrors() {
		return nil, &SyntaxError{Filename: filename, Diags: diags}
	}
	body, ok := file.Body.(*hclsyntax.Body)
	if !ok {
		return nil, &SyntaxError{Filename: filename, Diags: hcl.Diagnostics{{
			Severity: hcl.DiagError,
			Summary:  "Unsupported body",
		}}}
	}

	diags = append(diags, s.checkBody(body)...)
	if diags.HasErrors() {
		return nil, &SyntaxError{Filename: filename, Diags: diags}
	}
	return &Script{Filename: filename, attrs: body.Attributes}, nil
}

func (s *Sandbox) checkBody(body *hclsyntax.Body) hcl.Diagnostics {
	var diags hcl.Diagnostics

	for _, b := range body.Blocks {
		r := b.DefRange()
		diags = append(diags, &hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Unexpected block",
			Detail:   fmt.Sprintf("Blocks are not supported; found %q.", b.Type),
			Subject:  &r,
		})
	}

	// deterministic diagnostics
	names := make([]string, 0, len(body.Attributes))
	for name := range body.Attributes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		attr := body.Attributes[name]
		if _, ok := knownAttrs[name]; !ok {
			r := attr.NameRange
			diags = append(diags, &hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Unsupported attribute",
				Detail:   fmt.Sprintf("%q is not one of status, headers, body, state, error or log.", name),
				Subject:  &r,
			})
			continue
		}

		for _, tr := range attr.Expr.Variables() {
			if _, ok := knownRoots[tr.RootName()]; ok {
				continue
			}
			r := tr.SourceRange()
			diags = append(diags, &hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Unknown variable",
				Detail:   fmt.Sprintf("%q is not defined; use req, res, state, env or fn.", tr.RootName()),
				Subject:  &r,
			})
		}

		diags = append(diags, hclsyntax.VisitAll(attr.Expr, func(n hclsyntax.Node) hcl.Diagnostics {
			call, ok := n.(*hclsyntax.FunctionCallExpr)
			if !ok {
				return nil
			}
			if _, known := s.funcs[call.Name]; known {
				return nil
			}
			r := call.NameRange
			return hcl.Diagnostics{{
				Severity: hcl.DiagError,
				Summary:  "Call to unknown function",
				Detail:   fmt.Sprintf("There is no function named %q.", call.Name),
				Subject:  &r,
			}}
		})...)
	}
	return diags
}
