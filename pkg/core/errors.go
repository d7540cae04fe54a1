package core

import (
	"context"
	"errors"
	"net/http"

	"github.com/joeydtaylor/steeze-functions/pkg/function"
	"go.uber.org/zap"
)

type errorBody struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

// stepErrorBody is written when a step fails without a partial response.
type stepErrorBody struct {
	Error string `json:"error"`
	Step  string `json:"step"`
	Index int    `json:"index"`
}

// detailer is implemented by errors that carry per-line diagnostics.
type detailer interface {
	Details() []string
}

func writeErrorMessage(w http.ResponseWriter, status int, msg string) {
	writeValue(w, errorBody{Error: msg}, status)
}

// writeError maps the registry's error kinds onto HTTP statuses.
func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeErrorMessage(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	if errors.Is(err, function.ErrRuntime) {
		writeStepFailure(w, err)
		return
	}

	body := errorBody{Error: err.Error()}
	var d detailer
	if errors.As(err, &d) {
		body.Details = d.Details()
	}

	switch {
	case errors.Is(err, function.ErrNotFound):
		writeValue(w, body, http.StatusNotFound)
	case errors.Is(err, function.ErrConflict):
		writeValue(w, body, http.StatusConflict)
	case errors.Is(err, function.ErrValidation):
		writeValue(w, body, http.StatusBadRequest)
	case errors.Is(err, function.ErrForbidden):
		writeValue(w, body, http.StatusForbidden)
	case errors.Is(err, context.DeadlineExceeded):
		writeErrorMessage(w, http.StatusGatewayTimeout, "request timed out")
	default:
		log.Error("request failed", zap.Error(err))
		writeErrorMessage(w, http.StatusInternalServerError, "internal error")
	}
}

// writeStepFailure writes the failing step's partial response when it left
// one, else a generic execution error naming the step.
func writeStepFailure(w http.ResponseWriter, err error) {
	ref, step, _ := function.StepOf(err)
	if ref != (function.Ref{}) {
		w.Header().Set(headerFailedStep, ref.String())
	}

	var fe *function.Error
	if errors.As(err, &fe) && fe.Response != nil {
		writeResponse(w, fe.Response, http.StatusInternalServerError)
		return
	}

	status := http.StatusInternalServerError
	var fault *function.Fault
	if errors.As(err, &fault) && fault.Timeout {
		status = http.StatusGatewayTimeout
	}
	writeValue(w, stepErrorBody{Error: err.Error(), Step: ref.String(), Index: step}, status)
}
