package core

import (
	"net/http"
	"strings"

	"github.com/joeydtaylor/steeze-functions/pkg/codec"
	"github.com/joeydtaylor/steeze-functions/pkg/function"
)

const (
	headerETag       = "ETag"
	headerFailedStep = "X-Pipeline-Failed-Step"
)

func writeJSON(w http.ResponseWriter, payload []byte, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if len(payload) > 0 {
		_, _ = w.Write(payload)
		return
	}
	_, _ = w.Write([]byte(`{}`))
}

// writeValue marshals v with the strict codec.
func writeValue(w http.ResponseWriter, v any, status int) {
	out, err := codec.JSONStrict.Marshal(v)
	if err != nil {
		writeErrorMessage(w, http.StatusInternalServerError, "encode response")
		return
	}
	writeJSON(w, out, status)
}

func writeEntry(w http.ResponseWriter, e *function.Entry, status int) {
	w.Header().Set(headerETag, `"`+e.Hash+`"`)
	writeValue(w, e, status)
}

// writeResponse writes a function's accumulator as the HTTP response.
func writeResponse(w http.ResponseWriter, res *function.Response, defStatus int) {
	for k, v := range res.Headers {
		w.Header().Set(k, v)
	}
	body := res.Body
	if strings.TrimSpace(string(body)) == "null" {
		body = nil
	}
	if len(body) > 0 && w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", codec.JSONStrict.ContentType())
	}
	w.WriteHeader(statusIf(res.Status, defStatus))
	if len(body) > 0 {
		_, _ = w.Write(body)
	}
}

func statusIf(s, def int) int {
	if s > 0 {
		return s
	}
	return def
}
