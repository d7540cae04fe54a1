package function

import (
	"fmt"
	"strings"
)

// MaxNameLen bounds namespace, id and env var names.
const MaxNameLen = 128

// Ref names one entry.
type Ref struct {
	Namespace string `json:"namespace"`
	ID        string `json:"id"`
}

func (r Ref) String() string { return r.Namespace + "/" + r.ID }

// Filename is the name runtimes use for diagnostics.
func (r Ref) Filename() string { return r.String() + ".hcl" }

// Validate checks both halves of the identity.
func (r Ref) Validate() error {
	if err := ValidateName("namespace", r.Namespace); err != nil {
		return err
	}
	return ValidateName("id", r.ID)
}

// ParseRef parses "namespace/id".
func ParseRef(s string) (Ref, error) {
	ns, id, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return Ref{}, &Error{Kind: ErrValidation, Msg: fmt.Sprintf("step %q must be namespace/id", s)}
	}
	r := Ref{Namespace: ns, ID: id}
	if err := r.Validate(); err != nil {
		return Ref{}, err
	}
	return r, nil
}

// ValidateName rejects empty names, names with a slash and overlong names.
func ValidateName(field, v string) error {
	switch {
	case v == "":
		return &Error{Kind: ErrValidation, Msg: field + " is required"}
	case strings.Contains(v, "/"):
		return &Error{Kind: ErrValidation, Msg: fmt.Sprintf("%s %q must not contain '/'", field, v)}
	case len(v) > MaxNameLen:
		return &Error{Kind: ErrValidation, Msg: fmt.Sprintf("%s longer than %d bytes", field, MaxNameLen)}
	}
	return nil
}
