package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/joeydtaylor/steeze-functions/pkg/codec"
	"github.com/joeydtaylor/steeze-functions/pkg/function"
	"github.com/joeydtaylor/steeze-functions/pkg/store"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// entryBody is the create and upsert payload. id and hash are accepted so a
// fetched entry can be sent back unchanged; both are ignored.
type entryBody struct {
	ID      string            `json:"id,omitempty"`
	Hash    string            `json:"hash,omitempty"`
	Code    string            `json:"code" validate:"required"`
	Env     map[string]string `json:"env,omitempty" validate:"omitempty,dive,keys,required,max=128,excludes=/,endkeys"`
	Exposed *bool             `json:"exposed,omitempty"`
}

type listQuery struct {
	Page    int `validate:"gte=1"`
	PerPage int `validate:"gte=1,lte=100"`
}

// invalidRequest lists failed validator checks.
type invalidRequest struct {
	fields []string
}

func (e *invalidRequest) Error() string { return strings.Join(e.fields, "; ") }

func (e *invalidRequest) Details() []string { return e.fields }

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &function.Error{Kind: function.ErrValidation, Err: err}
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return &function.Error{Kind: function.ErrValidation, Msg: "invalid request", Err: &invalidRequest{fields: fields}}
}

// decodeJSON strictly decodes the request body into v.
func decodeJSON(r *http.Request, v any) error {
	if err := codec.Decode(r.Body, codec.JSONStrict, v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
		return &function.Error{Kind: function.ErrValidation, Msg: "malformed body", Err: err}
	}
	return nil
}

// decodeBody decodes a struct payload and runs its validate tags.
func decodeBody(r *http.Request, v any) error {
	if err := decodeJSON(r, v); err != nil {
		return err
	}
	if err := validate.Struct(v); err != nil {
		return validationError(err)
	}
	return nil
}

func refParam(r *http.Request) (function.Ref, error) {
	ref := function.Ref{Namespace: chi.URLParam(r, "namespace"), ID: chi.URLParam(r, "id")}
	return ref, ref.Validate()
}

func parseList(r *http.Request) (listQuery, error) {
	q := listQuery{Page: 1, PerPage: store.DefaultPerPage}
	for name, dst := range map[string]*int{"page": &q.Page, "perPage": &q.PerPage} {
		raw := strings.TrimSpace(r.URL.Query().Get(name))
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return q, &function.Error{Kind: function.ErrValidation, Msg: fmt.Sprintf("%s must be an integer", name)}
		}
		*dst = n
	}
	if err := validate.Struct(q); err != nil {
		return q, validationError(err)
	}
	return q, nil
}

// parseSteps reads the repeated steps query parameter. A single value may
// also be a comma separated list.
func parseSteps(r *http.Request) ([]function.Ref, error) {
	var refs []function.Ref
	for _, raw := range r.URL.Query()["steps"] {
		for _, s := range strings.Split(raw, ",") {
			if strings.TrimSpace(s) == "" {
				continue
			}
			ref, err := function.ParseRef(s)
			if err != nil {
				return nil, err
			}
			refs = append(refs, ref)
		}
	}
	if len(refs) == 0 {
		return nil, &function.Error{Kind: function.ErrValidation, Msg: "steps query parameter is required"}
	}
	return refs, nil
}

// buildRequest converts r into the request functions see. Header names are
// lowercased; a body that is not JSON is passed on as a JSON string. Query
// parameters named in omit are dropped.
func buildRequest(r *http.Request, omit ...string) (function.Request, error) {
	req := function.Request{
		Method:  r.Method,
		Headers: make(map[string]string, len(r.Header)),
		Query:   map[string]string{},
	}
	for k, v := range r.Header {
		if len(v) > 0 {
			req.Headers[strings.ToLower(k)] = v[0]
		}
	}
	for k, v := range r.URL.Query() {
		if len(v) == 0 || slices.Contains(omit, k) {
			continue
		}
		req.Query[k] = v[0]
	}

	if r.Body == nil {
		return req, nil
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return req, err
	}
	switch {
	case len(strings.TrimSpace(string(raw))) == 0:
	case json.Valid(raw):
		req.Body = raw
	default:
		s, _ := json.Marshal(string(raw))
		req.Body = s
	}
	return req, nil
}
