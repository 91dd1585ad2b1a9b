package middleware

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/predmarket/internal/crypto"
	"github.com/alanyoungcy/predmarket/internal/domain"
)

type ctxKey int

const identityKey ctxKey = iota

// WithIdentity returns ctx carrying the authenticated caller.
func WithIdentity(ctx context.Context, id domain.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFrom returns the authenticated caller stored by Auth.
func IdentityFrom(ctx context.Context) (domain.Identity, bool) {
	id, ok := ctx.Value(identityKey).(domain.Identity)
	return id, ok && id != ""
}

// RequestVerifier checks signed request headers. *crypto.Authenticator
// implements it.
type RequestVerifier interface {
	Verify(address, timestamp, signature, method, path string, body []byte) (domain.Identity, string, error)
	Window() time.Duration
}

// Auth verifies the personal_sign signature on every state-changing request
// and stores the recovered identity in the request context. Read-only
// methods pass through unauthenticated. Each accepted signature is recorded
// with replay so it cannot be submitted twice; replay may be nil.
func Auth(verifier RequestVerifier, replay domain.ReplayGuard, maxBody int64, logger *slog.Logger) func(http.Handler) http.Handler {
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
			if err != nil {
				writeJSONError(w, http.StatusRequestEntityTooLarge, "BodyTooLarge", "request body too large")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			id, digest, err := verifier.Verify(
				r.Header.Get(crypto.HeaderAddress),
				r.Header.Get(crypto.HeaderTimestamp),
				r.Header.Get(crypto.HeaderSignature),
				r.Method, r.URL.Path, body,
			)
			if err != nil {
				logger.DebugContext(r.Context(), "middleware: signature rejected",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				writeJSONError(w, http.StatusUnauthorized, "Unauthenticated", "invalid or missing request signature")
				return
			}

			if replay != nil {
				if err := replay.Seen(r.Context(), digest, verifier.Window()); err != nil {
					if errors.Is(err, domain.ErrReplay) {
						writeJSONError(w, http.StatusUnauthorized, "Replay", "request already processed")
						return
					}
					logger.ErrorContext(r.Context(), "middleware: replay check failed",
						slog.String("error", err.Error()),
					)
					writeJSONError(w, http.StatusServiceUnavailable, "Unavailable", "replay protection unavailable")
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

func writeJSONError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `","code":"` + code + `"}`))
}
