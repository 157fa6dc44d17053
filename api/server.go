/*
server.go - HTTP router and middleware, mirroring the resource-
accounting engine's api/server.go: chi with Logger/Recoverer/RequestID, go-chi/cors for the
local UI shell's cross-origin requests, and a /metrics route for the
metrics package's Prometheus registry.
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/fieldstack/terminal-core/gateway"
	"github.com/fieldstack/terminal-core/metrics"
)

// NewRouter builds the full route table for a Gateway.
func NewRouter(gw *gateway.Gateway) *chi.Mux {
	h := NewHandler(gw)
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/catalog", func(r chi.Router) {
			r.Put("/categories", h.upsertCategories)
			r.Delete("/categories", h.deleteCategories)
			r.Get("/categories", h.listCategories)

			r.Put("/products", h.upsertProducts)
			r.Delete("/products", h.deleteProducts)
			r.Get("/products", h.listProducts)

			r.Put("/taxes", h.upsertTaxes)
			r.Get("/taxes", h.listTaxes)

			r.Put("/product-types", h.upsertProductTypes)
			r.Put("/modifier-sets", h.upsertModifierSets)
			r.Put("/discounts", h.upsertDiscounts)
			r.Put("/inventory-locations", h.upsertInventoryLocations)
			r.Put("/inventory-stocks", h.upsertInventoryStocks)

			r.Put("/users", h.upsertUsers)
			r.Get("/users", h.listUsers)

			r.Put("/settings", h.upsertSettings)
		})

		r.Post("/orders", h.recordOrder)
		r.Post("/payments", h.recordPayment)
		r.Post("/approvals", h.recordApproval)
		r.Get("/queue/pending", h.listPending)
		r.Get("/queue/stats", h.queueStats)

		r.Route("/status", func(r chi.Router) {
			r.Get("/", h.completeStats)
			r.Get("/network", h.networkStatus)
			r.Get("/sync", h.syncStatus)
			r.Get("/exposure", h.exposure)
			r.Post("/check-limit", h.checkLimit)
		})

		r.Route("/pairing", func(r chi.Router) {
			r.Post("/", h.storePairing)
			r.Get("/", h.getPairing)
			r.Delete("/", h.clearPairing)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/force-sync", h.forceSync)
			r.Post("/clear-cache", h.clearCache)
			r.Post("/backup", h.createBackup)
			r.Post("/restore", h.restoreBackup)
			r.Post("/vacuum", h.vacuum)
		})
	})

	return r
}

// Serve starts an HTTP server bound to addr serving the gateway's
// router. Callers that need graceful shutdown should build their own
// http.Server from NewRouter instead, as cmd/terminald does.
func Serve(addr string, gw *gateway.Gateway) error {
	return http.ListenAndServe(addr, NewRouter(gw))
}
