package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	custommiddleware "github.com/dynatradedubai-cloud/Dynatradetest2/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware портала.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	if h.opts.TrustProxy {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(chimiddleware.Recoverer)
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))
	r.Use(h.authMiddleware.Middleware)

	r.Route("/api/user", func(r chi.Router) {
		r.Post("/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.RequireCustomer)
			r.Post("/logout", h.Logout)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(h.authMiddleware.RequireCustomer)

		r.Get("/api/catalog/search", h.Search)
		r.Delete("/api/catalog/search", h.ClearSearch)

		r.Get("/api/cart", h.GetCart)
		r.Post("/api/cart/items", h.AddToCart)
		r.Delete("/api/cart", h.ClearCart)
		r.Get("/api/cart/export", h.ExportCart)
		r.Get("/api/cart/handoff", h.Handoff)

		r.Get("/api/campaign", h.Campaign)
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Post("/login", h.AdminLogin)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.RequireAdmin)

			r.Post("/logout", h.AdminLogout)
			r.Post("/catalog", h.UploadCatalog)
			r.Post("/campaign", h.UploadCampaign)
			r.Post("/credentials", h.UploadCredentials)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
