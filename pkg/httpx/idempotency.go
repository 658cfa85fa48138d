package httpx

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/ghuser/toolcrib/pkg/logger"
)

// IdempotencyKeyHeader is the request header carrying a client-chosen key.
const IdempotencyKeyHeader = "Idempotency-Key"

// KindDuplicateRequest is the error kind written for a replayed key.
const KindDuplicateRequest = "DuplicateRequest"

// IdempotencyStore claims request keys. *cache.IdempotencyStore satisfies it.
type IdempotencyStore interface {
	Reserve(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// Idempotency rejects a request whose Idempotency-Key was already used on the
// same route with 409. A key is released again when the request fails with a
// 4xx or 5xx status so the client can retry it. Requests without the header
// pass through. When the store is unreachable the request is served.
func Idempotency(store IdempotencyStore, log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
			if raw == "" || store == nil {
				next.ServeHTTP(w, r)
				return
			}
			if len(raw) > 255 {
				JSONError(w, http.StatusBadRequest, IdempotencyKeyHeader+" must be at most 255 characters")
				return
			}

			ctx := r.Context()
			key := r.Method + ":" + r.URL.Path + ":" + raw
			ok, err := store.Reserve(ctx, key)
			if err != nil {
				log.WarnContext(ctx, "idempotency store unavailable, serving request", "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !ok {
				JSONErrorKind(w, http.StatusConflict, "request with this "+IdempotencyKeyHeader+" was already processed", KindDuplicateRequest)
				return
			}

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			if ww.Status() >= http.StatusBadRequest {
				if err := store.Release(context.WithoutCancel(ctx), key); err != nil {
					log.WarnContext(ctx, "idempotency key release failed", "error", err)
				}
			}
		})
	}
}
