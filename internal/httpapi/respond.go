package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/agatticelli/safeswap-quoter/internal/pricefeed"
	"github.com/agatticelli/safeswap-quoter/internal/quote"
)

// Error codes returned in the "error" field
const (
	codeBadRequest  = "bad_request"
	codeNoRoute     = "no_route"
	codeUnavailable = "price temporarily unavailable"
	codeTimeout     = "timeout"
	codeInternal    = "internal_error"
	codeUpstream    = "upstream_error"
)

type errorBody struct {
	Error    string `json:"error"`
	Message  string `json:"message,omitempty"`
	Attempts int    `json:"attempts,omitempty"`
}

// badRequestError marks input problems the caller can fix
type badRequestError struct {
	msg string
}

func (e *badRequestError) Error() string { return e.msg }

func badRequest(msg string) error { return &badRequestError{msg: msg} }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// classify maps an error to its HTTP status and body
func classify(err error) (int, errorBody) {
	var (
		bad     *badRequestError
		noRoute *quote.NoRouteError
		noPrice *pricefeed.NoPriceAvailableError
	)
	switch {
	case errors.As(err, &bad):
		return http.StatusBadRequest, errorBody{Error: codeBadRequest, Message: bad.msg}
	case errors.Is(err, quote.ErrInvalidAmount), errors.Is(err, quote.ErrInvalidPair):
		return http.StatusBadRequest, errorBody{Error: codeBadRequest, Message: err.Error()}
	case errors.As(err, &noRoute):
		return http.StatusNotFound, errorBody{Error: codeNoRoute, Message: "no route found for this pair", Attempts: len(noRoute.Attempts)}
	case errors.As(err, &noPrice):
		return http.StatusServiceUnavailable, errorBody{Error: codeUnavailable}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, errorBody{Error: codeTimeout}
	default:
		return http.StatusInternalServerError, errorBody{Error: codeInternal}
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "status", status, "error", err)
		s.metrics.RecordError(r.Context(), body.Error)
	}
	writeJSON(w, status, body)
}
