package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/serveroute/serveroute/internal/lock"
	"github.com/serveroute/serveroute/internal/model"
)

type errorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
	Row   int    `json:"row,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("api: encode response", zap.Error(err))
	}
}

// writeError maps domain errors to status codes. Anything unrecognized is a
// 500 with a generic message; details only go to the log.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr *model.ValidationError
		cerr *model.ConflictError
		nerr *model.NotFoundError
		ferr *model.ForbiddenError
		perr *model.ParseError
		merr *http.MaxBytesError
	)
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: verr.Message, Field: verr.Field, Row: verr.Row})
	case errors.As(err, &ferr):
		writeJSON(w, http.StatusForbidden, errorBody{Error: ferr.Error()})
	case errors.As(err, &cerr):
		writeJSON(w, http.StatusConflict, errorBody{Error: cerr.Message})
	case errors.As(err, &nerr):
		writeJSON(w, http.StatusNotFound, errorBody{Error: nerr.Entity + " not found"})
	case errors.As(err, &perr):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "could not parse " + perr.Filename})
	case errors.As(err, &merr):
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "upload too large"})
	case errors.Is(err, lock.ErrNotObtained):
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "address is busy, retry"})
	default:
		zap.L().Error("api: request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal server error"})
	}
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg})
}
