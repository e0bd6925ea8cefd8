package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/tradepost/internal/domain"
	"github.com/alanyoungcy/tradepost/internal/server/middleware"
)

const maxBodyBytes = 64 << 10

// statusByCode maps stable error codes onto HTTP statuses.
var statusByCode = map[domain.ErrorCode]int{
	domain.CodeNotFound:            http.StatusNotFound,
	domain.CodeItemNotFound:        http.StatusNotFound,
	domain.CodeUnauthorized:        http.StatusUnauthorized,
	domain.CodeForbidden:           http.StatusForbidden,
	domain.CodeNotActive:           http.StatusConflict,
	domain.CodeConflict:            http.StatusConflict,
	domain.CodeInsufficientFunds:   http.StatusUnprocessableEntity,
	domain.CodeRestrictedItem:      http.StatusUnprocessableEntity,
	domain.CodeInvalidPrice:        http.StatusBadRequest,
	domain.CodeInvalidArgument:     http.StatusBadRequest,
	domain.CodeMarketplaceDisabled: http.StatusServiceUnavailable,
	domain.CodeSettlementPending:   http.StatusAccepted,
	domain.CodeInternal:            http.StatusInternalServerError,
}

// errorBody is the JSON shape of every failure response.
type errorBody struct {
	Error string           `json:"error"`
	Code  domain.ErrorCode `json:"code"`
}

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError maps err to its code and status. Internal errors are logged and
// their text is not sent to the client.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	code := domain.Code(err)
	status, ok := statusByCode[code]
	if !ok {
		status = http.StatusInternalServerError
	}
	msg := err.Error()
	if code == domain.CodeInternal {
		logger.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", msg),
		)
		msg = "internal server error"
	}
	writeJSON(w, status, errorBody{Error: msg, Code: code})
}

// requirePlayer returns the authenticated player id or writes a 401.
func requirePlayer(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := middleware.PlayerID(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "authentication required", Code: domain.CodeUnauthorized})
		return "", false
	}
	return id, true
}

// decodeBody strictly decodes a JSON request body into v.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("empty request body: %w", domain.ErrInvalidArgument)
		}
		return fmt.Errorf("decode request body: %v: %w", err, domain.ErrInvalidArgument)
	}
	return nil
}

// queryInt parses a positive integer query parameter, returning def when it
// is absent.
func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("query parameter %s=%q: %w", name, v, domain.ErrInvalidArgument)
	}
	return n, nil
}

// logHandler is a convenience to attach slog fields in handler code.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
