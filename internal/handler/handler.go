// Package handler содержит HTTP-обработчики API портала запчастей.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dynatradedubai-cloud/Dynatradetest2/internal/cart"
	"github.com/dynatradedubai-cloud/Dynatradetest2/internal/gate"
	"github.com/dynatradedubai-cloud/Dynatradetest2/internal/ipresolve"
	"github.com/dynatradedubai-cloud/Dynatradetest2/internal/middleware"
	"github.com/dynatradedubai-cloud/Dynatradetest2/internal/model"
	"github.com/dynatradedubai-cloud/Dynatradetest2/internal/service"
	"github.com/dynatradedubai-cloud/Dynatradetest2/internal/session"
	"github.com/dynatradedubai-cloud/Dynatradetest2/internal/tabular"
	"github.com/dynatradedubai-cloud/Dynatradetest2/internal/validation"
)

const (
	uploadField  = "file"
	xlsxMIME     = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	exportPrefix = "cart"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	Login(ctx context.Context, sess *session.Session, username, password string, caller netip.Addr, lookupErr error) error
	AdminLogin(ctx context.Context, sess *session.Session, username, password string) error
	Logout(sess *session.Session)
	AdminLogout(sess *session.Session)
	Search(ctx context.Context, sess *session.Session, term string) (cart.SearchResult, error)
	LastSearch(ctx context.Context, sess *session.Session) (cart.SearchResult, bool, error)
	ClearSearch(sess *session.Session) error
	AddToCart(ctx context.Context, sess *session.Session, version string, row, qty int) (model.CartItem, error)
	Cart(sess *session.Session) ([]model.CartItem, error)
	ClearCart(sess *session.Session) error
	ExportCart(sess *session.Session) ([]byte, error)
	Handoff(sess *session.Session) (cart.Links, error)
	Campaign(sess *session.Session) (*model.CampaignAsset, error)
	UploadCatalog(ctx context.Context, sess *session.Session, filename string, data []byte) (*model.Catalog, error)
	UploadCampaign(ctx context.Context, sess *session.Session, filename, contentType string, data []byte) (*model.CampaignAsset, error)
	UploadCredentials(ctx context.Context, sess *session.Session, filename string, data []byte) (int, error)
}

// Sessions выдаёт, сохраняет и удаляет серверные сессии.
type Sessions interface {
	Renew(ctx context.Context, w http.ResponseWriter, r *http.Request, s *session.Session) (*session.Session, error)
	Save(ctx context.Context, s *session.Session) error
	Destroy(ctx context.Context, w http.ResponseWriter, r *http.Request, s *session.Session) error
}

// Options содержит настройки обработчиков.
type Options struct {
	MaxUploadBytes int64
	TrustProxy     bool
}

// Handler реализует HTTP-обработчики API портала.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	sessions       Sessions
	resolver       ipresolve.Resolver
	opts           Options
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, sessions Sessions, resolver ipresolve.Resolver, opts Options) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		sessions:       sessions,
		resolver:       resolver,
		opts:           opts,
	}
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Username string `json:"username"`
}

type addItemRequest struct {
	Version string `json:"version"`
	Row     int    `json:"row"`
	Qty     int    `json:"qty"`
}

type catalogResponse struct {
	Version    string   `json:"version"`
	Source     string   `json:"source"`
	Columns    []string `json:"columns"`
	Rows       int      `json:"rows"`
	UploadedAt string   `json:"uploaded_at"`
}

type campaignResponse struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
	UploadedAt  string `json:"uploaded_at"`
}

type credentialsResponse struct {
	Users int `json:"users"`
}

// Login выполняет вход клиента по таблице доступа и разрешённому IP.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	sess, ok := middleware.GetSessionFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	req, err := decodeCredentials(r)
	if err != nil || req.Username == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	caller, lookupErr := h.resolver.Resolve(r.Context(), r)
	if lookupErr != nil {
		h.logger.Warn("resolve caller ip error", zap.Error(lookupErr))
	}

	if err := h.service.Login(r.Context(), sess, req.Username, req.Password, caller, lookupErr); err != nil {
		h.writeError(w, "login", err)
		return
	}

	renewed, err := h.sessions.Renew(r.Context(), w, r, sess)
	if err != nil {
		h.logger.Error("renew session error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{Username: renewed.Customer})
}

// AdminLogin выполняет вход администратора.
func (h *Handler) AdminLogin(w http.ResponseWriter, r *http.Request) {
	sess, ok := middleware.GetSessionFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	req, err := decodeCredentials(r)
	if err != nil || req.Username == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.AdminLogin(r.Context(), sess, req.Username, req.Password); err != nil {
		h.writeError(w, "admin login", err)
		return
	}

	renewed, err := h.sessions.Renew(r.Context(), w, r, sess)
	if err != nil {
		h.logger.Error("renew session error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{Username: renewed.Admin})
}

// Logout завершает сессию клиента. Если в той же сессии вошёл администратор, сессия сохраняется.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.GetSessionFromContext(r.Context())
	h.service.Logout(sess)
	h.finishLogout(w, r, sess)
}

// AdminLogout завершает вход администратора.
func (h *Handler) AdminLogout(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.GetSessionFromContext(r.Context())
	h.service.AdminLogout(sess)
	h.finishLogout(w, r, sess)
}

func (h *Handler) finishLogout(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var err error
	if sess.LoggedIn() || sess.IsAdmin() {
		err = h.sessions.Save(r.Context(), sess)
	} else {
		err = h.sessions.Destroy(r.Context(), w, r, sess)
	}
	if err != nil {
		h.logger.Error("logout session error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Search ищет строки каталога по параметру q. Без параметра q возвращает последний
// результат поиска сессии.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.GetSessionFromContext(r.Context())

	query := r.URL.Query()
	if !query.Has("q") {
		res, found, err := h.service.LastSearch(r.Context(), sess)
		if err != nil {
			h.customerError(w, r, sess, "last search", err)
			return
		}
		if !found {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if !h.save(w, r, sess) {
			return
		}
		writeJSON(w, http.StatusOK, res)
		return
	}

	res, err := h.service.Search(r.Context(), sess, strings.TrimSpace(query.Get("q")))
	if err != nil {
		h.customerError(w, r, sess, "search", err)
		return
	}
	if !h.save(w, r, sess) {
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ClearSearch сбрасывает результат поиска, корзина остаётся.
func (h *Handler) ClearSearch(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.GetSessionFromContext(r.Context())

	if err := h.service.ClearSearch(sess); err != nil {
		h.customerError(w, r, sess, "clear search", err)
		return
	}
	if !h.save(w, r, sess) {
		return
	}
	w.WriteHeader(http.StatusOK)
}

// GetCart возвращает корзину текущей сессии.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.GetSessionFromContext(r.Context())

	items, err := h.service.Cart(sess)
	if err != nil {
		h.customerError(w, r, sess, "get cart", err)
		return
	}
	if len(items) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// AddToCart добавляет строку каталога в корзину.
func (h *Handler) AddToCart(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.GetSessionFromContext(r.Context())

	req, err := decodeAddItem(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	item, err := h.service.AddToCart(r.Context(), sess, req.Version, req.Row, req.Qty)
	if err != nil {
		h.customerError(w, r, sess, "add to cart", err)
		return
	}
	if !h.save(w, r, sess) {
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

// ClearCart очищает корзину, результат поиска остаётся.
func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.GetSessionFromContext(r.Context())

	if err := h.service.ClearCart(sess); err != nil {
		h.customerError(w, r, sess, "clear cart", err)
		return
	}
	if !h.save(w, r, sess) {
		return
	}
	w.WriteHeader(http.StatusOK)
}

// ExportCart отдаёт корзину файлом XLSX.
func (h *Handler) ExportCart(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.GetSessionFromContext(r.Context())

	data, err := h.service.ExportCart(sess)
	if err != nil {
		h.customerError(w, r, sess, "export cart", err)
		return
	}

	filename := fmt.Sprintf("%s-%s.xlsx", exportPrefix, time.Now().Format("20060102-150405"))
	w.Header().Set("Content-Type", xlsxMIME)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.logger.Warn("write export error", zap.Error(err))
	}
}

// Handoff возвращает ссылки WhatsApp, mailto и tel с текстом запроса по корзине.
func (h *Handler) Handoff(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.GetSessionFromContext(r.Context())

	links, err := h.service.Handoff(sess)
	if err != nil {
		h.customerError(w, r, sess, "handoff", err)
		return
	}
	writeJSON(w, http.StatusOK, links)
}

// Campaign отдаёт текущий рекламный файл.
func (h *Handler) Campaign(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.GetSessionFromContext(r.Context())

	asset, err := h.service.Campaign(sess)
	if err != nil {
		h.customerError(w, r, sess, "campaign", err)
		return
	}

	w.Header().Set("Content-Type", asset.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": asset.Filename}))
	w.Header().Set("Content-Length", strconv.Itoa(len(asset.Data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(asset.Data); err != nil {
		h.logger.Warn("write campaign error", zap.Error(err))
	}
}

// UploadCatalog заменяет каталог загруженным прайс-листом.
func (h *Handler) UploadCatalog(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.GetSessionFromContext(r.Context())

	filename, _, data, ok := h.readUpload(w, r)
	if !ok {
		return
	}

	c, err := h.service.UploadCatalog(r.Context(), sess, filename, data)
	if err != nil {
		h.writeError(w, "upload catalog", err)
		return
	}

	writeJSON(w, http.StatusOK, catalogResponse{
		Version:    c.Version,
		Source:     c.Source,
		Columns:    c.Columns,
		Rows:       c.Len(),
		UploadedAt: c.UploadedAt.Format(time.RFC3339),
	})
}

// UploadCampaign заменяет рекламный файл.
func (h *Handler) UploadCampaign(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.GetSessionFromContext(r.Context())

	filename, contentType, data, ok := h.readUpload(w, r)
	if !ok {
		return
	}

	a, err := h.service.UploadCampaign(r.Context(), sess, filename, contentType, data)
	if err != nil {
		h.writeError(w, "upload campaign", err)
		return
	}

	writeJSON(w, http.StatusOK, campaignResponse{
		Filename:    a.Filename,
		ContentType: a.ContentType,
		Size:        len(a.Data),
		UploadedAt:  a.UploadedAt.Format(time.RFC3339),
	})
}

// UploadCredentials заменяет таблицу доступа.
func (h *Handler) UploadCredentials(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.GetSessionFromContext(r.Context())

	filename, _, data, ok := h.readUpload(w, r)
	if !ok {
		return
	}

	n, err := h.service.UploadCredentials(r.Context(), sess, filename, data)
	if err != nil {
		h.writeError(w, "upload credentials", err)
		return
	}

	writeJSON(w, http.StatusOK, credentialsResponse{Users: n})
}

// readUpload читает файл из multipart-поля file. При ошибке ответ уже записан.
func (h *Handler) readUpload(w http.ResponseWriter, r *http.Request) (string, string, []byte, bool) {
	if h.opts.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadBytes)
	}

	file, header, err := r.FormFile(uploadField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, http.StatusText(http.StatusRequestEntityTooLarge), http.StatusRequestEntityTooLarge)
			return "", "", nil, false
		}
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return "", "", nil, false
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return "", "", nil, false
	}

	return header.Filename, header.Header.Get("Content-Type"), data, true
}

func (h *Handler) save(w http.ResponseWriter, r *http.Request, sess *session.Session) bool {
	if err := h.sessions.Save(r.Context(), sess); err != nil {
		h.logger.Error("save session error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return false
	}
	return true
}

// customerError сохраняет сессию, из которой сервис выписал удалённого клиента, и отвечает ошибкой.
func (h *Handler) customerError(w http.ResponseWriter, r *http.Request, sess *session.Session, op string, err error) {
	if errors.Is(err, service.ErrNotLoggedIn) {
		if serr := h.sessions.Save(r.Context(), sess); serr != nil {
			h.logger.Error("save session error", zap.Error(serr))
		}
	}
	h.writeError(w, op, err)
}

// writeError переводит ошибку сервиса в HTTP-статус.
func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	var parseErr *tabular.ParseError

	switch {
	case errors.Is(err, gate.ErrNoCredentials),
		errors.Is(err, gate.ErrInvalidCredentials),
		errors.Is(err, gate.ErrIPMismatch),
		errors.Is(err, gate.ErrIPLookup):
		http.Error(w, gate.Decision{Err: err}.Reason(), http.StatusUnauthorized)
	case errors.Is(err, service.ErrNotLoggedIn):
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	case errors.Is(err, service.ErrNotAdmin):
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
	case errors.Is(err, service.ErrCatalogChanged), errors.Is(err, cart.ErrNoCatalog):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, cart.ErrInvalidQuantity),
		errors.Is(err, validation.ErrInvalidQuantity),
		errors.Is(err, cart.ErrRowNotFound),
		errors.Is(err, service.ErrEmptyUpload):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.As(err, &parseErr):
		http.Error(w, parseErr.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, service.ErrEmptyCart), errors.Is(err, service.ErrNoCampaign):
		w.WriteHeader(http.StatusNoContent)
	default:
		h.logger.Error(op+" error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

// decodeCredentials принимает логин и пароль в JSON или в полях формы.
func decodeCredentials(r *http.Request) (credentialsRequest, error) {
	var req credentialsRequest
	if isJSON(r) {
		err := json.NewDecoder(r.Body).Decode(&req)
		return req, err
	}

	if err := r.ParseForm(); err != nil {
		return req, err
	}
	req.Username = strings.TrimSpace(r.PostForm.Get("username"))
	req.Password = r.PostForm.Get("password")
	return req, nil
}

// decodeAddItem принимает позицию корзины в JSON или в полях формы.
func decodeAddItem(r *http.Request) (addItemRequest, error) {
	var req addItemRequest
	if isJSON(r) {
		err := json.NewDecoder(r.Body).Decode(&req)
		return req, err
	}

	if err := r.ParseForm(); err != nil {
		return req, err
	}

	row, err := strconv.Atoi(strings.TrimSpace(r.PostForm.Get("row")))
	if err != nil {
		return req, fmt.Errorf("parse row: %w", err)
	}
	qty, err := validation.ParseQuantity(r.PostForm.Get("qty"))
	if err != nil {
		return req, err
	}

	req.Version = r.PostForm.Get("version")
	req.Row = row
	req.Qty = qty
	return req, nil
}

func isJSON(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "application/json"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
