// Package function holds the registry's data model: stored code entries,
// references to them, the execution context threaded through pipeline steps,
// and the error kinds every layer reports.
package function

import (
	"crypto/sha1"
	"encoding/hex"
	"maps"
)

// Handle is whatever a runtime produces when it compiles an entry's code.
// It lives only in the cache tier and is never persisted.
type Handle any

// Entry is the stored representation of one function.
type Entry struct {
	Namespace string            `json:"-"`
	ID        string            `json:"id"`
	Code      string            `json:"code"`
	Hash      string            `json:"hash"`
	Env       map[string]string `json:"env,omitempty"`
	Exposed   *bool             `json:"exposed,omitempty"`

	Handle Handle `json:"-"`
}

// Digest returns the content hash stored alongside code.
func Digest(code string) string {
	sum := sha1.Sum([]byte(code))
	return hex.EncodeToString(sum[:])
}

// NewEntry builds an entry with its hash already computed.
func NewEntry(ref Ref, code string, env map[string]string, exposed *bool) Entry {
	return Entry{
		Namespace: ref.Namespace,
		ID:        ref.ID,
		Code:      code,
		Hash:      Digest(code),
		Env:       env,
		Exposed:   exposed,
	}
}

// Ref returns the identity of the entry.
func (e Entry) Ref() Ref { return Ref{Namespace: e.Namespace, ID: e.ID} }

// IsExposed reports whether the entry may be invoked outside a pipeline.
func (e Entry) IsExposed() bool { return e.Exposed != nil && *e.Exposed }

// Clone copies the entry so the copy's env and exposed flag can be changed
// without touching the original. Handle is shared; handles are immutable.
func (e Entry) Clone() Entry {
	out := e
	if e.Env != nil {
		out.Env = maps.Clone(e.Env)
	}
	if e.Exposed != nil {
		v := *e.Exposed
		out.Exposed = &v
	}
	return out
}

// Bool is a convenience for building optional flags.
func Bool(v bool) *bool { return &v }

// NamespaceItem lists the function ids stored under one namespace.
type NamespaceItem struct {
	Namespace string   `json:"namespace"`
	Functions []string `json:"functions"`
}

// NamespacePage is one page of the namespace listing.
type NamespacePage struct {
	Items   []NamespaceItem `json:"items"`
	Page    int             `json:"page"`
	PerPage int             `json:"perPage"`
	Total   int             `json:"total"`
}
