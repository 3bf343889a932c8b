package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"RampEngine/internal/errs"

	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code errs.Code, msg string) {
	writeJSON(w, status, ErrorResponse{Error: string(code), Message: msg})
}

// writeErr maps a service error onto its HTTP status. Untyped errors are
// logged and reported as internal.
func writeErr(w http.ResponseWriter, logger *zap.Logger, r *http.Request, err error) {
	code := errs.CodeOf(err)
	status := errs.HTTPStatus(code)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("code", string(code)),
			zap.Error(err),
		)
	}
	writeError(w, status, code, errs.MessageOf(err))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errs.Validation("request body is empty")
		}
		return errs.Validation("invalid json body")
	}
	return nil
}
