package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	custommiddleware "github.com/mmeshcher/storybook/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(custommiddleware.RequestID)
	r.Use(custommiddleware.Logger(h.logger))
	r.Use(custommiddleware.CORS(h.corsOrigins))
	r.Use(custommiddleware.GzipMiddleware)

	r.Get("/", h.Health)
	r.Get("/test", h.TestDatabase)

	r.Route("/api", func(r chi.Router) {
		r.Post("/books", h.CreateBook)
		r.Get("/books/{bookID}", h.GetBook)
		r.Put("/books/{bookID}", h.UpdateBook)
		r.Get("/books/{bookID}/download", h.GetDownloadLink)

		r.Get("/prices", h.ListPrices)
		r.Post("/orders", h.CreateOrder)
		r.Get("/locales", h.ListLocales)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, http.StatusText(http.StatusNotFound))
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, http.StatusText(http.StatusMethodNotAllowed))
	})

	return r
}
