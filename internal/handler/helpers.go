package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	internalerrors "github.com/Schera-ole/vmwatch/internal/errors"
	middlewareinternal "github.com/Schera-ole/vmwatch/internal/middleware"
)

// MaxBodySize bounds every JSON request body.
const MaxBodySize = 1 << 20

const (
	msgSuccess      = "Successful"
	msgInvalid      = "Invalid request!"
	msgUnauthorized = "Unauthorized"
	msgForbidden    = "Forbidden"
	msgNotFound     = "Not found"
	msgConflict     = "Already exists"
	msgUnavailable  = "Agent unavailable"
	msgInternal     = "Internal server error"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ReadRequestBody decodes a bounded JSON body into dst and validates it.
// Every failure is an ErrValidation.
func ReadRequestBody(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodySize+1))
	if err != nil {
		return fmt.Errorf("%w: reading body: %v", internalerrors.ErrValidation, err)
	}
	if len(body) > MaxBodySize {
		return fmt.Errorf("%w: body exceeds %d bytes", internalerrors.ErrValidation, MaxBodySize)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("%w: %v", internalerrors.ErrValidation, err)
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %v", internalerrors.ErrValidation, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err onto a status and a generic message. Details stay in
// the log.
func writeError(w http.ResponseWriter, r *http.Request, err error, logger *zap.SugaredLogger) {
	status, msg := http.StatusInternalServerError, msgInternal
	switch {
	case errors.Is(err, internalerrors.ErrValidation):
		status, msg = http.StatusBadRequest, msgInvalid
	case errors.Is(err, internalerrors.ErrUnauthenticated):
		status, msg = http.StatusUnauthorized, msgUnauthorized
	case errors.Is(err, internalerrors.ErrForbidden):
		status, msg = http.StatusForbidden, msgForbidden
	case errors.Is(err, internalerrors.ErrNotFound):
		status, msg = http.StatusNotFound, msgNotFound
	case errors.Is(err, internalerrors.ErrAlreadyExists):
		status, msg = http.StatusConflict, msgConflict
	case errors.Is(err, internalerrors.ErrTransport):
		status, msg = http.StatusBadGateway, msgUnavailable
	}
	if status >= http.StatusInternalServerError {
		logger.Errorw("request failed", "uri", r.RequestURI, "status", status, "error", err)
	} else {
		logger.Infow("request rejected", "uri", r.RequestURI, "status", status, "error", err)
	}
	middlewareinternal.WriteMessage(w, status, msg)
}
