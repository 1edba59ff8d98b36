package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/onnwee/live-ranking/config"
	"github.com/onnwee/live-ranking/twitchapi"
)

type errorBody struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// badRequestError marks invalid query parameters.
type badRequestError struct{ msg string }

func (e *badRequestError) Error() string { return e.msg }

// classify maps an error to a status code and a short error name.
func classify(err error) (int, string) {
	var (
		bad *badRequestError
		ce  *config.ConfigError
		ae  *twitchapi.AuthError
		ue  *twitchapi.UpstreamError
		fe  *twitchapi.FormatError
	)
	switch {
	case errors.As(err, &bad):
		return http.StatusBadRequest, "BadRequest"
	case errors.As(err, &ce):
		return http.StatusInternalServerError, "ConfigError"
	case errors.As(err, &ae):
		return http.StatusInternalServerError, "AuthError"
	case errors.As(err, &ue):
		if ue.StatusCode >= 400 && ue.StatusCode < 500 &&
			ue.StatusCode != http.StatusUnauthorized && ue.StatusCode != http.StatusTooManyRequests {
			return ue.StatusCode, "UpstreamError"
		}
		return http.StatusBadGateway, "UpstreamError"
	case errors.As(err, &fe):
		return http.StatusBadGateway, "FormatError"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "Timeout"
	default:
		return http.StatusInternalServerError, "InternalError"
	}
}

func writeError(w http.ResponseWriter, err error) {
	code, name := classify(err)
	writeErrorBody(w, code, name, err.Error())
}

func writeErrorBody(w http.ResponseWriter, code int, name, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error:     name,
		Message:   msg,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
