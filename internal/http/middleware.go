package http

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fjod/craft_market/pkg/logger"
	"github.com/fjod/craft_market/pkg/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

const (
	HeaderCustomerID = "X-Customer-ID"
	HeaderArtisanID  = "X-Artisan-ID"
)

type ctxKey int

const identityKey ctxKey = iota

// Identity is who the caller claims to be. Authentication is handled in
// front of this service; the headers are trusted as given.
type Identity struct {
	CustomerID string
	ArtisanID  string
}

// IdentityMiddleware reads the caller identity from request headers.
func IdentityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := Identity{
			CustomerID: strings.TrimSpace(r.Header.Get(HeaderCustomerID)),
			ArtisanID:  strings.TrimSpace(r.Header.Get(HeaderArtisanID)),
		}
		ctx := context.WithValue(r.Context(), identityKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func identityFromContext(ctx context.Context) Identity {
	id, _ := ctx.Value(identityKey).(Identity)
	return id
}

func requireCustomer(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := identityFromContext(r.Context()).CustomerID
	if id == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing "+HeaderCustomerID+" header")
		return "", false
	}
	return id, true
}

func requireArtisan(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := identityFromContext(r.Context()).ArtisanID
	if id == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing "+HeaderArtisanID+" header")
		return "", false
	}
	return id, true
}

// ObserveMiddleware records request count and latency per route pattern and
// logs each request with its request id and trace ids.
func ObserveMiddleware(log *zap.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			elapsed := time.Since(start)
			m.ObserveHTTP(route, strconv.Itoa(status), float64(elapsed.Microseconds())/1000)

			logger.WithContext(r.Context(), log).Debug("request",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("route", route),
				zap.Int("status", status),
				zap.Duration("elapsed", elapsed))
		})
	}
}
