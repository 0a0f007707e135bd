// Package middleware содержит HTTP middleware портала.
package middleware

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/dynatradedubai-cloud/Dynatradetest2/internal/session"
)

type contextKey string

const sessionKey contextKey = "session"

// SessionLoader загружает серверную сессию по cookie и кладёт её в контекст запроса.
type SessionLoader interface {
	Load(ctx context.Context, w http.ResponseWriter, r *http.Request) (*session.Session, error)
	Save(ctx context.Context, s *session.Session) error
}

// AuthMiddleware привязывает к запросу сессию и проверяет роль пользователя.
type AuthMiddleware struct {
	sessions SessionLoader
	logger   *zap.Logger
}

// NewAuthMiddleware создаёт новый экземпляр AuthMiddleware.
func NewAuthMiddleware(sessions SessionLoader, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		sessions: sessions,
		logger:   logger,
	}
}

// Middleware загружает сессию (создавая новую при необходимости), продлевает её и добавляет в контекст.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, err := a.sessions.Load(r.Context(), w, r)
		if err != nil {
			a.logger.Error("load session error", zap.Error(err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}

		if err := a.sessions.Save(r.Context(), s); err != nil {
			a.logger.Error("touch session error", zap.Error(err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}

		ctx := context.WithValue(r.Context(), sessionKey, s)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireCustomer пропускает только запросы сессии с вошедшим клиентом.
func (a *AuthMiddleware) RequireCustomer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, ok := GetSessionFromContext(r.Context())
		if !ok || !s.LoggedIn() {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin пропускает только запросы сессии с вошедшим администратором.
func (a *AuthMiddleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, ok := GetSessionFromContext(r.Context())
		if !ok || !s.IsAdmin() {
			if ok && s.LoggedIn() {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetSessionFromContext извлекает сессию из контекста запроса.
func GetSessionFromContext(ctx context.Context) (*session.Session, bool) {
	s, ok := ctx.Value(sessionKey).(*session.Session)
	return s, ok && s != nil
}

// WithSession возвращает контекст с сессией.
func WithSession(ctx context.Context, s *session.Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}
