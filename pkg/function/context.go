package function

import (
	"encoding/json"
	"maps"
	"net/http"
)

// Request is the inbound request as functions see it.
type Request struct {
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Query   map[string]string `json:"query"`
	Body    json.RawMessage   `json:"body,omitempty"`
}

// Response is the accumulator each step may read and overwrite.
type Response struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
	Body    json.RawMessage   `json:"body,omitempty"`
}

// NewResponse returns the accumulator a run starts from.
func NewResponse() *Response {
	return &Response{Status: http.StatusOK, Headers: map[string]string{}}
}

func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	out := *r
	out.Headers = maps.Clone(r.Headers)
	if out.Headers == nil {
		out.Headers = map[string]string{}
	}
	if r.Body != nil {
		out.Body = append(json.RawMessage(nil), r.Body...)
	}
	return &out
}

// Context is shared by every step of one run. State carries whatever a step
// passes forward; it starts empty.
type Context struct {
	Ref      Ref
	Request  Request
	Response *Response
	State    json.RawMessage
}

// NewContext seeds a run from the inbound request.
func NewContext(req Request) *Context {
	if req.Headers == nil {
		req.Headers = map[string]string{}
	}
	if req.Query == nil {
		req.Query = map[string]string{}
	}
	return &Context{Request: req, Response: NewResponse()}
}
