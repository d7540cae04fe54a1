package core

import (
	"net/http"

	"github.com/joeydtaylor/steeze-functions/pkg/function"
)

func (h *handlers) pipeline(w http.ResponseWriter, r *http.Request) {
	refs, err := parseSteps(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	req, err := buildRequest(r, "steps")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	h.respond(w, func() (*function.Response, error) { return h.run.Run(r.Context(), refs, req) })
}

// runOne runs a single stored function regardless of its exposed flag.
func (h *handlers) runOne(w http.ResponseWriter, r *http.Request) {
	ref, err := refParam(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	req, err := buildRequest(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	h.respond(w, func() (*function.Response, error) { return h.run.Run(r.Context(), []function.Ref{ref}, req) })
}

// runExposed is the public entry point; only exposed functions run.
func (h *handlers) runExposed(w http.ResponseWriter, r *http.Request) {
	ref, err := refParam(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	req, err := buildRequest(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	h.respond(w, func() (*function.Response, error) { return h.run.RunExposed(r.Context(), ref, req) })
}

func (h *handlers) respond(w http.ResponseWriter, exec func() (*function.Response, error)) {
	res, err := exec()
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeResponse(w, res, http.StatusOK)
}
