package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopcart/internal/domain"
)

// Заголовки, через которые шлюз передаёт личность покупателя.
const (
	HeaderUserID   = "x-user-id"
	HeaderUserTier = "x-user-tier"
)

type identityKey struct{}

// accessLog пишет одну запись на запрос и обновляет HTTP-метрики.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := ""
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			route = rctx.RoutePattern()
		}
		duration := time.Since(started)
		s.metrics.ObserveRequest(r.Method, route, status, duration)

		entry := s.logger.WithFields(log.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"route":       route,
			"status":      status,
			"duration_ms": duration.Milliseconds(),
			"request_id":  middleware.GetReqID(r.Context()),
		})
		if status >= http.StatusInternalServerError {
			entry.Warn("http request failed")
			return
		}
		entry.Info("http request")
	})
}

// requireUser отклоняет запросы без x-user-id и кладёт личность в контекст.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := identityFromHeaders(r)
		if !ok {
			writeErrorMessage(w, http.StatusUnauthorized, codeUnauthorized, "user required")
			return
		}
		if err := s.validate.Struct(id); err != nil {
			writeErrorMessage(w, http.StatusBadRequest, string(domain.KindValidation), "invalid user identity")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, id)))
	})
}

func identityFromHeaders(r *http.Request) (identity, bool) {
	userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if userID == "" {
		return identity{}, false
	}
	return identity{UserID: userID, Tier: tierOrDefault(r.Header.Get(HeaderUserTier))}, true
}

func tierOrDefault(raw string) domain.UserTier {
	raw = strings.ToUpper(strings.TrimSpace(raw))
	if raw == "" {
		return domain.UserTierRegular
	}
	return domain.UserTier(raw)
}

func identityFrom(ctx context.Context) identity {
	id, _ := ctx.Value(identityKey{}).(identity)
	return id
}
