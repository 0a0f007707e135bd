// Package session хранит состояние сессии клиента на стороне сервера: кто вошёл,
// корзину и результат последнего поиска. В cookie лежит только подписанный идентификатор.
package session

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/dynatradedubai-cloud/Dynatradetest2/internal/model"
)

// ErrNotFound возвращается для неизвестной или истёкшей сессии.
var ErrNotFound = errors.New("session not found")

// Session хранит состояние одной сессии. Корзина и результат поиска сбрасываются независимо.
type Session struct {
	ID         string           `json:"id"`
	Customer   string           `json:"customer,omitempty"`
	Admin      string           `json:"admin,omitempty"`
	Cart       []model.CartItem `json:"cart,omitempty"`
	LastSearch *SearchState     `json:"last_search,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	LastSeen   time.Time        `json:"last_seen"`
}

// SearchState запоминает последний поиск: строку запроса, версию каталога и номера найденных строк.
type SearchState struct {
	Term           string `json:"term"`
	CatalogVersion string `json:"catalog_version"`
	Rows           []int  `json:"rows"`
}

// LoggedIn сообщает, вошёл ли в сессию клиент.
func (s *Session) LoggedIn() bool {
	return s.Customer != ""
}

// IsAdmin сообщает, вошёл ли в сессию администратор.
func (s *Session) IsAdmin() bool {
	return s.Admin != ""
}

// Clone возвращает копию сессии с собственным срезом корзины.
func (s *Session) Clone() *Session {
	c := *s
	c.Cart = slices.Clone(s.Cart)
	return &c
}

// Registry хранит сессии по идентификатору.
type Registry interface {
	Get(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
}
