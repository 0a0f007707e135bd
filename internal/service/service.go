// Package service реализует бизнес-логику портала: вход, поиск, корзину и загрузки администратора.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"runtime"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dynatradedubai-cloud/Dynatradetest2/internal/cart"
	"github.com/dynatradedubai-cloud/Dynatradetest2/internal/gate"
	"github.com/dynatradedubai-cloud/Dynatradetest2/internal/model"
	"github.com/dynatradedubai-cloud/Dynatradetest2/internal/session"
	"github.com/dynatradedubai-cloud/Dynatradetest2/internal/tabular"
	"github.com/dynatradedubai-cloud/Dynatradetest2/internal/validation"
)

var (
	// ErrNotLoggedIn возвращается для операций клиента без входа.
	ErrNotLoggedIn = errors.New("customer is not logged in")
	// ErrNotAdmin возвращается для операций администратора без входа администратора.
	ErrNotAdmin = errors.New("administrator is not logged in")
	// ErrCatalogChanged возвращается, если строку выбирали в каталоге, который уже заменён.
	ErrCatalogChanged = errors.New("catalog was replaced, search again")
	// ErrEmptyCart возвращается при выгрузке пустой корзины.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrNoCampaign возвращается, пока рекламный файл не загружен.
	ErrNoCampaign = errors.New("no campaign file uploaded")
	// ErrEmptyUpload возвращается для пустого загруженного файла.
	ErrEmptyUpload = errors.New("uploaded file is empty")
)

// bcrypt не принимает пароли длиннее 72 байт.
const maxPasswordBytes = 72

// Store описывает общее хранилище каталога, таблицы доступа и рекламного файла.
type Store interface {
	Snapshot() *model.Snapshot
	ReplaceCatalog(ctx context.Context, c *model.Catalog) error
	ReplaceCredentials(ctx context.Context, users []model.UserRecord) error
	ReplaceCampaign(ctx context.Context, a *model.CampaignAsset) error
	Restore(ctx context.Context) error
}

// Options содержит настройки корзины и передачи запроса менеджеру.
type Options struct {
	Cart           cart.Options
	Contact        cart.Contact
	HandoffMaxText int
	// PasswordCost задаёт стоимость bcrypt при загрузке таблицы доступа, 0 означает значение по умолчанию.
	PasswordCost int
}

// Service содержит бизнес-логику портала.
type Service struct {
	store  Store
	admin  *gate.Admin
	logger *zap.Logger
	opts   Options
	now    func() time.Time
}

// NewService создаёт сервис портала.
func NewService(store Store, admin *gate.Admin, logger *zap.Logger, opts Options) *Service {
	return &Service{
		store:  store,
		admin:  admin,
		logger: logger,
		opts:   opts,
		now:    time.Now,
	}
}

// Restore загружает сохранённые данные в хранилище при старте.
func (s *Service) Restore(ctx context.Context) error {
	return s.store.Restore(ctx)
}

// Login проверяет вход клиента и отмечает сессию как авторизованную.
// lookupErr содержит ошибку определения адреса клиента.
func (s *Service) Login(ctx context.Context, sess *session.Session, username, password string, caller netip.Addr, lookupErr error) error {
	d := gate.Check(s.store.Snapshot().Credentials, username, password, caller, lookupErr)

	ip := ""
	if caller.IsValid() {
		ip = caller.String()
	}
	s.logger.Info("customer login",
		zap.String("username", username),
		zap.String("ip", ip),
		zap.Bool("allowed", d.Allowed),
		zap.String("reason", d.Reason()),
		zap.NamedError("lookup_error", lookupErr),
	)

	if !d.Allowed {
		return d.Err
	}

	// Вход другим клиентом в той же сессии не наследует корзину и поиск.
	if sess.Customer != "" && sess.Customer != d.Username {
		sess.Cart = nil
		sess.LastSearch = nil
	}
	sess.Customer = d.Username
	return nil
}

// AdminLogin проверяет вход администратора.
func (s *Service) AdminLogin(ctx context.Context, sess *session.Session, username, password string) error {
	d := s.admin.Check(username, password)

	s.logger.Info("admin login",
		zap.String("username", username),
		zap.Bool("allowed", d.Allowed),
	)

	if !d.Allowed {
		return d.Err
	}

	sess.Admin = d.Username
	return nil
}

// Logout сбрасывает вход клиента вместе с корзиной и поиском.
func (s *Service) Logout(sess *session.Session) {
	sess.Customer = ""
	sess.Cart = nil
	sess.LastSearch = nil
}

// requireCustomer проверяет, что клиент вошёл и всё ещё есть в таблице доступа.
// Клиент, удалённый при загрузке новой таблицы, выходит из сессии.
func (s *Service) requireCustomer(sess *session.Session) error {
	if !sess.LoggedIn() {
		return ErrNotLoggedIn
	}
	if _, ok := s.store.Snapshot().Credentials[sess.Customer]; !ok {
		s.logger.Warn("customer revoked, session reset", zap.String("username", sess.Customer))
		s.Logout(sess)
		return ErrNotLoggedIn
	}
	return nil
}

// AdminLogout сбрасывает вход администратора.
func (s *Service) AdminLogout(sess *session.Session) {
	sess.Admin = ""
}

// Search ищет строки каталога и запоминает результат в сессии.
func (s *Service) Search(ctx context.Context, sess *session.Session, term string) (cart.SearchResult, error) {
	if err := s.requireCustomer(sess); err != nil {
		return cart.SearchResult{}, err
	}

	res := cart.Search(s.store.Snapshot().Catalog, term)

	rows := make([]int, len(res.Hits))
	for i, h := range res.Hits {
		rows[i] = h.RowIndex
	}
	sess.LastSearch = &session.SearchState{
		Term:           term,
		CatalogVersion: res.CatalogVersion,
		Rows:           rows,
	}

	return res, nil
}

// LastSearch возвращает результат последнего поиска сессии. Если каталог с тех пор заменён,
// поиск повторяется по новому каталогу.
func (s *Service) LastSearch(ctx context.Context, sess *session.Session) (cart.SearchResult, bool, error) {
	if err := s.requireCustomer(sess); err != nil {
		return cart.SearchResult{}, false, err
	}
	if sess.LastSearch == nil {
		return cart.SearchResult{}, false, nil
	}

	catalog := s.store.Snapshot().Catalog
	last := sess.LastSearch

	if catalog == nil || catalog.Version != last.CatalogVersion {
		res, err := s.Search(ctx, sess, last.Term)
		return res, true, err
	}

	res := cart.SearchResult{
		Term:           last.Term,
		CatalogVersion: catalog.Version,
		Columns:        catalog.Columns,
	}
	for _, i := range last.Rows {
		if i >= 0 && i < catalog.Len() {
			res.Hits = append(res.Hits, cart.Hit{RowIndex: i, Values: catalog.Rows[i].Values})
		}
	}
	return res, true, nil
}

// ClearSearch сбрасывает результат последнего поиска, не трогая корзину.
func (s *Service) ClearSearch(sess *session.Session) error {
	if err := s.requireCustomer(sess); err != nil {
		return err
	}
	sess.LastSearch = nil
	return nil
}

// AddToCart добавляет строку каталога version в корзину. Пустая version означает текущий каталог.
func (s *Service) AddToCart(ctx context.Context, sess *session.Session, version string, row, qty int) (model.CartItem, error) {
	if err := s.requireCustomer(sess); err != nil {
		return model.CartItem{}, err
	}
	if !validation.IsValidQuantity(qty) {
		return model.CartItem{}, cart.ErrInvalidQuantity
	}

	catalog := s.store.Snapshot().Catalog
	if catalog != nil && version != "" && version != catalog.Version {
		return model.CartItem{}, ErrCatalogChanged
	}

	items, item, err := cart.Add(sess.Cart, catalog, row, qty, s.opts.Cart, s.now())
	if err != nil {
		return model.CartItem{}, err
	}
	sess.Cart = items
	return item, nil
}

// Cart возвращает корзину сессии.
func (s *Service) Cart(sess *session.Session) ([]model.CartItem, error) {
	if err := s.requireCustomer(sess); err != nil {
		return nil, err
	}
	return sess.Cart, nil
}

// ClearCart очищает корзину, не трогая результат поиска.
func (s *Service) ClearCart(sess *session.Session) error {
	if err := s.requireCustomer(sess); err != nil {
		return err
	}
	sess.Cart = nil
	return nil
}

// ExportCart выгружает корзину в XLSX.
func (s *Service) ExportCart(sess *session.Session) ([]byte, error) {
	if err := s.requireCustomer(sess); err != nil {
		return nil, err
	}
	if len(sess.Cart) == 0 {
		return nil, ErrEmptyCart
	}
	return cart.Export(sess.Cart)
}

// Handoff строит ссылки для передачи корзины менеджеру.
func (s *Service) Handoff(sess *session.Session) (cart.Links, error) {
	if err := s.requireCustomer(sess); err != nil {
		return cart.Links{}, err
	}
	if len(sess.Cart) == 0 {
		return cart.Links{}, ErrEmptyCart
	}

	links := cart.Handoff(sess.Cart, s.opts.Contact, s.opts.HandoffMaxText)
	if links.Truncated {
		s.logger.Warn("handoff text truncated",
			zap.String("username", sess.Customer),
			zap.Int("items", len(sess.Cart)),
		)
	}
	return links, nil
}

// Campaign возвращает текущий рекламный файл.
func (s *Service) Campaign(sess *session.Session) (*model.CampaignAsset, error) {
	if err := s.requireCustomer(sess); err != nil {
		return nil, err
	}
	a := s.store.Snapshot().Campaign
	if a == nil {
		return nil, ErrNoCampaign
	}
	return a, nil
}

// UploadCatalog разбирает прайс-лист и целиком заменяет им текущий каталог.
// При ошибке разбора прежний каталог остаётся.
func (s *Service) UploadCatalog(ctx context.Context, sess *session.Session, filename string, data []byte) (*model.Catalog, error) {
	if !sess.IsAdmin() {
		return nil, ErrNotAdmin
	}

	tbl, err := tabular.Parse(filename, data)
	if err != nil {
		s.logger.Warn("catalog upload rejected", zap.String("filename", filename), zap.Error(err))
		return nil, err
	}

	c := &model.Catalog{
		Version:    uuid.NewString(),
		Source:     filename,
		Columns:    tbl.Columns,
		Rows:       make([]model.CatalogRow, len(tbl.Rows)),
		UploadedAt: s.now(),
	}
	for i, values := range tbl.Rows {
		c.Rows[i] = model.CatalogRow{Values: values}
	}

	if err := s.store.ReplaceCatalog(ctx, c); err != nil {
		return nil, fmt.Errorf("replace catalog: %w", err)
	}

	s.logger.Info("catalog uploaded",
		zap.String("admin", sess.Admin),
		zap.String("filename", filename),
		zap.String("version", c.Version),
		zap.Int("rows", len(c.Rows)),
		zap.Strings("columns", c.Columns),
	)
	return c, nil
}

// UploadCampaign заменяет рекламный файл.
func (s *Service) UploadCampaign(ctx context.Context, sess *session.Session, filename, contentType string, data []byte) (*model.CampaignAsset, error) {
	if !sess.IsAdmin() {
		return nil, ErrNotAdmin
	}
	if len(data) == 0 {
		return nil, ErrEmptyUpload
	}

	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}

	a := &model.CampaignAsset{
		Filename:    filename,
		ContentType: contentType,
		Data:        data,
		UploadedAt:  s.now(),
	}
	if err := s.store.ReplaceCampaign(ctx, a); err != nil {
		return nil, fmt.Errorf("replace campaign: %w", err)
	}

	s.logger.Info("campaign uploaded",
		zap.String("admin", sess.Admin),
		zap.String("filename", filename),
		zap.String("content_type", contentType),
		zap.Int("bytes", len(data)),
	)
	return a, nil
}

// UploadCredentials разбирает таблицу доступа, хеширует пароли и целиком заменяет прежнюю таблицу.
// Возвращает число учётных записей.
func (s *Service) UploadCredentials(ctx context.Context, sess *session.Session, filename string, data []byte) (int, error) {
	if !sess.IsAdmin() {
		return 0, ErrNotAdmin
	}

	tbl, err := tabular.Parse(filename, data)
	if err != nil {
		s.logger.Warn("credentials upload rejected", zap.String("filename", filename), zap.Error(err))
		return 0, err
	}

	rows, err := tabular.DecodeCredentials(tbl)
	if err != nil {
		return 0, &tabular.ParseError{Filename: filename, Err: err}
	}

	users := make([]model.UserRecord, len(rows))
	for i, row := range rows {
		if !validation.IsValidUsername(row.Username) {
			return 0, &tabular.ParseError{Filename: filename, Err: fmt.Errorf("row %d: invalid username %q", i+2, row.Username)}
		}
		if len(row.Password) > maxPasswordBytes {
			return 0, &tabular.ParseError{Filename: filename, Err: fmt.Errorf("row %d: password longer than %d bytes", i+2, maxPasswordBytes)}
		}
		ip, err := validation.NormalizeIP(row.IP)
		if err != nil {
			return 0, &tabular.ParseError{Filename: filename, Err: fmt.Errorf("row %d: %w", i+2, err)}
		}
		users[i] = model.UserRecord{Username: row.Username, AllowedIP: ip}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i := range rows {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			hash, err := gate.HashPassword(rows[i].Password, s.opts.PasswordCost)
			if err != nil {
				return err
			}
			users[i].PasswordHash = hash
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, fmt.Errorf("hash passwords: %w", err)
	}

	if err := s.store.ReplaceCredentials(ctx, users); err != nil {
		return 0, fmt.Errorf("replace credentials: %w", err)
	}

	s.logger.Info("credentials uploaded",
		zap.String("admin", sess.Admin),
		zap.String("filename", filename),
		zap.Int("users", len(users)),
	)
	return len(users), nil
}
