package session

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"
)

const (
	cookieName = "portal_session"
	idKey      = "sid"
)

// Manager связывает cookie браузера (gorilla/sessions) с серверным состоянием в Registry.
type Manager struct {
	cookies  *sessions.CookieStore
	registry Registry
}

// NewManager создаёт менеджер сессий. Пустой secret заменяется случайным ключом,
// тогда сессии не переживают перезапуск.
func NewManager(secret string, registry Registry, ttl time.Duration, secure bool) *Manager {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			key = []byte("default-session-key")
		}
	}

	store := sessions.NewCookieStore(key)
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}

	return &Manager{cookies: store, registry: registry}
}

// Load возвращает сессию запроса, создавая новую, если cookie нет, она повреждена или сессия истекла.
func (m *Manager) Load(ctx context.Context, w http.ResponseWriter, r *http.Request) (*Session, error) {
	// Ошибка означает неверную подпись cookie; gorilla всё равно возвращает новую сессию.
	cs, _ := m.cookies.Get(r, cookieName)

	if id, ok := cs.Values[idKey].(string); ok && id != "" {
		s, err := m.registry.Get(ctx, id)
		if err == nil {
			return s, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	return m.issue(ctx, w, r, nil)
}

// Renew выдаёт сессии новый идентификатор, сохраняя её состояние. Вызывается при входе.
func (m *Manager) Renew(ctx context.Context, w http.ResponseWriter, r *http.Request, s *Session) (*Session, error) {
	if err := m.registry.Delete(ctx, s.ID); err != nil {
		return nil, err
	}
	return m.issue(ctx, w, r, s)
}

// Save сохраняет состояние сессии.
func (m *Manager) Save(ctx context.Context, s *Session) error {
	return m.registry.Save(ctx, s)
}

// Destroy удаляет сессию и cookie.
func (m *Manager) Destroy(ctx context.Context, w http.ResponseWriter, r *http.Request, s *Session) error {
	if err := m.registry.Delete(ctx, s.ID); err != nil {
		return err
	}

	cs, _ := m.cookies.Get(r, cookieName)
	delete(cs.Values, idKey)
	cs.Options.MaxAge = -1
	if err := cs.Save(r, w); err != nil {
		return fmt.Errorf("expire session cookie: %w", err)
	}
	return nil
}

func (m *Manager) issue(ctx context.Context, w http.ResponseWriter, r *http.Request, from *Session) (*Session, error) {
	now := time.Now()
	s := &Session{CreatedAt: now}
	if from != nil {
		s = from.Clone()
	}
	s.ID = uuid.NewString()

	if err := m.registry.Save(ctx, s); err != nil {
		return nil, err
	}

	cs, _ := m.cookies.Get(r, cookieName)
	cs.Values[idKey] = s.ID
	if err := cs.Save(r, w); err != nil {
		return nil, fmt.Errorf("save session cookie: %w", err)
	}
	return s, nil
}
