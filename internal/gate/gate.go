// Package gate проверяет вход клиентов и администратора: пароль по bcrypt-хешу и,
// если задан, разрешённый IP-адрес.
package gate

import (
	"errors"
	"fmt"
	"net/netip"

	"golang.org/x/crypto/bcrypt"

	"github.com/dynatradedubai-cloud/Dynatradetest2/internal/model"
)

var (
	// ErrNoCredentials возвращается, пока администратор не загрузил таблицу доступа.
	ErrNoCredentials = errors.New("no credentials loaded")
	// ErrInvalidCredentials возвращается при неверном логине или пароле.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrIPMismatch возвращается, если адрес клиента не совпадает с разрешённым.
	ErrIPMismatch = errors.New("ip mismatch")
	// ErrIPLookup возвращается, если адрес клиента определить не удалось, а для пользователя задан разрешённый IP.
	ErrIPLookup = errors.New("ip lookup failed")
)

// Decision описывает результат проверки входа.
type Decision struct {
	Allowed  bool
	Username string
	Err      error
}

// Reason возвращает причину отказа для показа пользователю.
func (d Decision) Reason() string {
	if d.Allowed {
		return ""
	}
	switch {
	case errors.Is(d.Err, ErrNoCredentials):
		return ErrNoCredentials.Error()
	case errors.Is(d.Err, ErrIPMismatch):
		return ErrIPMismatch.Error()
	case errors.Is(d.Err, ErrIPLookup):
		return ErrIPLookup.Error()
	default:
		return ErrInvalidCredentials.Error()
	}
}

func allow(username string) Decision {
	return Decision{Allowed: true, Username: username}
}

func deny(err error) Decision {
	return Decision{Err: err}
}

// Check сверяет логин и пароль с таблицей доступа и проверяет адрес клиента.
// lookupErr содержит ошибку определения адреса; она влияет на решение только для пользователей с разрешённым IP.
func Check(creds map[string]model.UserRecord, username, password string, caller netip.Addr, lookupErr error) Decision {
	if len(creds) == 0 {
		return deny(ErrNoCredentials)
	}

	rec, ok := creds[username]
	if !ok {
		return deny(ErrInvalidCredentials)
	}
	if err := bcrypt.CompareHashAndPassword(rec.PasswordHash, []byte(password)); err != nil {
		return deny(ErrInvalidCredentials)
	}

	if rec.AllowedIP == "" {
		return allow(username)
	}

	if lookupErr != nil || !caller.IsValid() {
		if lookupErr == nil {
			lookupErr = errors.New("caller address unknown")
		}
		return deny(fmt.Errorf("%w: %w", ErrIPLookup, lookupErr))
	}

	allowed, err := netip.ParseAddr(rec.AllowedIP)
	if err != nil || allowed.Unmap() != caller.Unmap() {
		return deny(fmt.Errorf("%w: %s", ErrIPMismatch, caller))
	}

	return allow(username)
}

// HashPassword возвращает bcrypt-хеш пароля с указанной стоимостью; cost 0 означает bcrypt.DefaultCost.
func HashPassword(password string, cost int) ([]byte, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	return hash, nil
}

// Admin хранит учётную запись администратора из конфигурации.
type Admin struct {
	username string
	hash     []byte
}

// NewAdmin создаёт учётную запись администратора. Если hash пуст, хешируется password.
func NewAdmin(username, password, hash string) (*Admin, error) {
	if username == "" {
		return nil, errors.New("admin username is empty")
	}

	if hash != "" {
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, fmt.Errorf("admin password hash: %w", err)
		}
		return &Admin{username: username, hash: []byte(hash)}, nil
	}

	if password == "" {
		return nil, errors.New("admin password is empty")
	}
	h, err := HashPassword(password, 0)
	if err != nil {
		return nil, err
	}
	return &Admin{username: username, hash: h}, nil
}

// Check проверяет логин и пароль администратора.
func (a *Admin) Check(username, password string) Decision {
	if a == nil || username != a.username {
		return deny(ErrInvalidCredentials)
	}
	if err := bcrypt.CompareHashAndPassword(a.hash, []byte(password)); err != nil {
		return deny(ErrInvalidCredentials)
	}
	return allow(username)
}
