package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/predmarket/internal/domain"
	"github.com/alanyoungcy/predmarket/internal/server/middleware"
)

// errorResponse is the body of every non-2xx reply.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// writeJSON marshals v and writes it with the given status, falling back to
// a plain 500 if marshalling fails.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error","code":"Internal"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

// kindStatus maps a market error kind to its HTTP status.
var kindStatus = map[domain.ErrorKind]int{
	domain.KindValidation:    http.StatusBadRequest,
	domain.KindAuthorization: http.StatusForbidden,
	domain.KindState:         http.StatusConflict,
	domain.KindEconomic:      http.StatusUnprocessableEntity,
}

// writeServiceError translates a service error into a status and code.
// Unrecognised errors are logged and reported as 500 without detail.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	if me, ok := domain.AsMarketError(err); ok {
		status, found := kindStatus[me.Kind]
		if !found {
			status = http.StatusBadRequest
		}
		writeError(w, status, me.Code, me.Message)
		return
	}

	switch {
	case errors.Is(err, domain.ErrMarketNotFound):
		writeError(w, http.StatusNotFound, "MarketNotFound", "market not found")
	case errors.Is(err, domain.ErrPositionNotFound):
		writeError(w, http.StatusNotFound, "PositionNotFound", "position not found")
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "NotFound", "not found")
	case errors.Is(err, domain.ErrMarketExists):
		writeError(w, http.StatusConflict, "MarketExists", "market already exists")
	case errors.Is(err, domain.ErrPositionExists):
		writeError(w, http.StatusConflict, "PositionExists", "a position already exists for this predictor")
	case errors.Is(err, domain.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "AlreadyExists", "already exists")
	case errors.Is(err, domain.ErrInsufficientFunds):
		writeError(w, http.StatusPaymentRequired, "InsufficientFunds", "insufficient funds")
	case errors.Is(err, domain.ErrUnauthenticated), errors.Is(err, domain.ErrReplay):
		writeError(w, http.StatusUnauthorized, "Unauthenticated", "unauthenticated")
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "RateLimited", "rate limit exceeded")
	default:
		logger.ErrorContext(r.Context(), "handler: request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "Internal", "internal server error")
	}
}

// decodeJSON reads a JSON body into v, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// caller returns the authenticated identity or writes a 401.
func caller(w http.ResponseWriter, r *http.Request) (domain.Identity, bool) {
	id, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthenticated", "request signature required")
	}
	return id, ok
}

// parseListOpts reads limit and offset from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		limit = min(n, 500)
	}
	offset := 0
	if n, err := strconv.Atoi(q.Get("offset")); err == nil && n >= 0 {
		offset = n
	}
	return domain.ListOpts{Limit: limit, Offset: offset}
}

// pathParam extracts a named path parameter (Go 1.22 routing).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// marketIDParam parses the {id} path segment, writing a 400 on failure.
func marketIDParam(w http.ResponseWriter, r *http.Request) (domain.MarketID, bool) {
	id, err := domain.ParseMarketID(pathParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "InvalidMarketId", "market id must be an unsigned integer")
		return 0, false
	}
	return id, true
}
