package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/questchain/node/internal/errs"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeNotFound(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotFound, errorBody{Error: "Not Found"})
}

// statusFor maps an error category onto an HTTP status.
func statusFor(err error) int {
	switch errs.Classify(err) {
	case errs.CategoryNone:
		return http.StatusOK
	case errs.CategoryInvalid, errs.CategoryState:
		return http.StatusBadRequest
	case errs.CategoryNotFound:
		return http.StatusNotFound
	case errs.CategoryConflict, errs.CategoryExhausted:
		return http.StatusConflict
	case errs.CategoryUnavailable:
		return http.StatusServiceUnavailable
	case errs.CategoryInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// writeError answers with the mapped status. Internal errors are logged and
// their message is not echoed back.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		msg = "internal error"
	}
	writeJSON(w, status, errorBody{Error: msg})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.Wrap(errs.ErrInvalidArgument, "request body is required")
		}
		return errors.Wrapf(errs.ErrInvalidArgument, "malformed JSON: %v", err)
	}
	return nil
}

// queryInt reads a positive integer query parameter, falling back to def for
// missing or unparsable values and clamping to maxValue.
func queryInt(r *http.Request, name string, def, maxValue int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || n <= 0 {
		return def
	}
	return lo.Clamp(n, 1, maxValue)
}
