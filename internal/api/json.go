package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/starford/pressroom/internal/apperr"
)

const maxBodyBytes = 10 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error   string `json:"error" example:"not_found" validate:"required"`
	Message string `json:"message" example:"article 1 not found" validate:"required"`
	Hint    string `json:"hint,omitempty" example:"check the article id"`
}

func errorBody(err error) errResponse {
	kind := apperr.KindOf(err)
	msg := err.Error()
	var ae *apperr.Error
	if errors.As(err, &ae) && ae.Message != "" {
		msg = ae.Message
	}
	if kind == apperr.KindInternal {
		msg = "internal error"
	}
	return errResponse{Error: string(kind), Message: msg, Hint: apperr.HintOf(err)}
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation, apperr.KindNotConfigured,
		apperr.KindInvalidCredentials, apperr.KindInsufficientPermissions:
		return http.StatusBadRequest
	case apperr.KindAuth:
		return http.StatusUnauthorized
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindInvalidTransition, apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindRateLimited:
		return http.StatusTooManyRequests
	case apperr.KindSiteNotFound, apperr.KindHostUnreachable, apperr.KindRemote:
		return http.StatusBadGateway
	case apperr.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(apperr.KindOf(err))
	if status == http.StatusInternalServerError {
		slog.Error("request failed", slog.String("error", err.Error()))
	}
	writeJSON(w, status, errorBody(err))
}

// decodeJSON reads a JSON body into v. An empty body is accepted when
// allowEmpty is set.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any, allowEmpty bool) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) && allowEmpty {
		return nil
	}
	if err != nil {
		return apperr.Wrap(apperr.KindValidation, "invalid JSON body", err)
	}
	return nil
}
