package core

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type handlers struct {
	reg Registry
	run Runner
	log *zap.Logger
}

func (h *handlers) list(w http.ResponseWriter, r *http.Request) {
	q, err := parseList(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	page, err := h.reg.List(r.Context(), q.Page, q.PerPage)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeValue(w, page, http.StatusOK)
}

func (h *handlers) create(w http.ResponseWriter, r *http.Request) {
	ref, err := refParam(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	var body entryBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, h.log, err)
		return
	}
	e, err := h.reg.Create(r.Context(), ref, body.Code, body.Env)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeEntry(w, e, http.StatusCreated)
}

func (h *handlers) upsert(w http.ResponseWriter, r *http.Request) {
	ref, err := refParam(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	var body entryBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, h.log, err)
		return
	}
	e, err := h.reg.Upsert(r.Context(), ref, body.Code, body.Env, body.Exposed)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeEntry(w, e, http.StatusOK)
}

func (h *handlers) get(w http.ResponseWriter, r *http.Request) {
	ref, err := refParam(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	e, err := h.reg.Get(r.Context(), ref)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeEntry(w, e, http.StatusOK)
}

func (h *handlers) delete(w http.ResponseWriter, r *http.Request) {
	ref, err := refParam(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if _, err := h.reg.Delete(r.Context(), ref); err != nil {
		writeError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// setEnv takes the value as a JSON string body.
func (h *handlers) setEnv(w http.ResponseWriter, r *http.Request) {
	ref, err := refParam(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	var value string
	if err := decodeJSON(r, &value); err != nil {
		writeError(w, h.log, err)
		return
	}
	if err := h.reg.SetEnv(r.Context(), ref, chi.URLParam(r, "env"), value); err != nil {
		writeError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) deleteEnv(w http.ResponseWriter, r *http.Request) {
	ref, err := refParam(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if err := h.reg.DeleteEnv(r.Context(), ref, chi.URLParam(r, "env")); err != nil {
		writeError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) healthcheck(w http.ResponseWriter, r *http.Request) {
	if err := h.reg.Ping(r.Context()); err != nil {
		h.log.Warn("healthcheck failed", zap.Error(err))
		writeErrorMessage(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeValue(w, map[string]string{"status": "ok"}, http.StatusOK)
}
