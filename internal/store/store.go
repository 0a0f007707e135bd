// Package store хранит общие для всех сессий данные портала: каталог, таблицу доступа и рекламный файл.
package store

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dynatradedubai-cloud/Dynatradetest2/internal/model"
)

// Persister сохраняет загруженные данные между перезапусками.
type Persister interface {
	SaveCatalog(ctx context.Context, c *model.Catalog) error
	LoadCatalog(ctx context.Context) (*model.Catalog, error)
	SaveCampaign(ctx context.Context, a *model.CampaignAsset) error
	LoadCampaign(ctx context.Context) (*model.CampaignAsset, error)
	ReplaceUsers(ctx context.Context, users []model.UserRecord) error
	LoadUsers(ctx context.Context) ([]model.UserRecord, error)
}

// Store публикует неизменяемые снимки данных. Читатели получают снимок один раз за операцию,
// поэтому параллельная загрузка не может отдать им смесь старых и новых строк.
type Store struct {
	current   atomic.Pointer[model.Snapshot]
	writeMu   sync.Mutex
	persister Persister
}

// New создаёт пустое хранилище. persister может быть nil.
func New(persister Persister) *Store {
	s := &Store{persister: persister}
	s.current.Store(&model.Snapshot{Credentials: map[string]model.UserRecord{}})
	return s
}

// Snapshot возвращает текущий снимок. Снимок нельзя изменять.
func (s *Store) Snapshot() *model.Snapshot {
	return s.current.Load()
}

// ReplaceCatalog целиком заменяет каталог.
func (s *Store) ReplaceCatalog(ctx context.Context, c *model.Catalog) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.persister != nil {
		if err := s.persister.SaveCatalog(ctx, c); err != nil {
			return fmt.Errorf("persist catalog: %w", err)
		}
	}

	next := *s.current.Load()
	next.Catalog = c
	s.current.Store(&next)
	return nil
}

// ReplaceCredentials целиком заменяет таблицу доступа.
func (s *Store) ReplaceCredentials(ctx context.Context, users []model.UserRecord) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.persister != nil {
		if err := s.persister.ReplaceUsers(ctx, users); err != nil {
			return fmt.Errorf("persist users: %w", err)
		}
	}

	next := *s.current.Load()
	next.Credentials = indexUsers(users)
	s.current.Store(&next)
	return nil
}

// ReplaceCampaign заменяет рекламный файл.
func (s *Store) ReplaceCampaign(ctx context.Context, a *model.CampaignAsset) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.persister != nil {
		if err := s.persister.SaveCampaign(ctx, a); err != nil {
			return fmt.Errorf("persist campaign: %w", err)
		}
	}

	next := *s.current.Load()
	next.Campaign = a
	s.current.Store(&next)
	return nil
}

// Restore загружает последние сохранённые данные из persister.
func (s *Store) Restore(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}

	catalog, err := s.persister.LoadCatalog(ctx)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	campaign, err := s.persister.LoadCampaign(ctx)
	if err != nil {
		return fmt.Errorf("load campaign: %w", err)
	}
	users, err := s.persister.LoadUsers(ctx)
	if err != nil {
		return fmt.Errorf("load users: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.current.Store(&model.Snapshot{
		Catalog:     catalog,
		Credentials: indexUsers(users),
		Campaign:    campaign,
	})
	return nil
}

// indexUsers строит индекс по логину; при повторе логина побеждает последняя строка.
func indexUsers(users []model.UserRecord) map[string]model.UserRecord {
	m := make(map[string]model.UserRecord, len(users))
	for _, u := range users {
		m[u.Username] = u
	}
	return m
}
