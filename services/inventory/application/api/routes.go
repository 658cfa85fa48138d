package api

import (
	"github.com/go-chi/chi/v5"

	"github.com/ghuser/toolcrib/pkg/app"
	"github.com/ghuser/toolcrib/pkg/auth"
	"github.com/ghuser/toolcrib/pkg/cache"
	"github.com/ghuser/toolcrib/pkg/config"
	"github.com/ghuser/toolcrib/pkg/httpx"
	"github.com/ghuser/toolcrib/services/inventory/application/handlers"
	appsvcs "github.com/ghuser/toolcrib/services/inventory/application/services"
)

// InventoryRoutes registers the inventory endpoints on the provided chi router.
//
// Reservation POSTs honour the Idempotency-Key header when Redis is
// configured. When AuthEnabled is set, equipment mutations require an admin
// session; reads and reservations stay open and pick up the session user when
// one is present.
func InventoryRoutes(r chi.Router, a *app.Application, svcs *appsvcs.Services) {
	production := a.Config != nil && a.Config.Environment == config.EnvProduction
	authEnabled := a.Config != nil && a.Config.AuthEnabled && a.SessionStore != nil

	var idem httpx.IdempotencyStore
	if a.Redis != nil {
		idem = cache.NewIdempotencyStore(a.Redis)
	}

	equipment := handlers.NewEquipmentHandler(svcs, production)
	usage := handlers.NewUsageHandler(svcs, production)
	loans := handlers.NewLoanHandler(svcs, production)

	r.Group(func(r chi.Router) {
		if a.SessionStore != nil {
			r.Use(auth.LoadUser(a.SessionStore, a.Logger))
		}

		r.Route("/inventory", func(r chi.Router) {
			r.Use(httpx.Idempotency(idem, a.Logger))
			r.Post("/borrow", handlers.NewPostBorrowHandler(svcs, production).Execute)
			r.Post("/withdraw", handlers.NewPostWithdrawHandler(svcs, production).Execute)
			r.Post("/return", handlers.NewPostReturnHandler(svcs, production).Execute)
		})

		r.Route("/equipment", func(r chi.Router) {
			r.Get("/", equipment.List)
			r.Get("/{id}", equipment.Get)
			r.Group(func(r chi.Router) {
				if authEnabled {
					r.Use(auth.RequireAdmin(a.SessionStore, a.Logger))
				}
				r.Post("/", equipment.Create)
				r.Put("/{id}", equipment.Update)
				r.Delete("/{id}", equipment.Delete)
			})
		})

		r.Route("/usage", func(r chi.Router) {
			r.Get("/", usage.List)
			r.Get("/{id}", usage.Get)
		})

		r.Route("/loans", func(r chi.Router) {
			r.Get("/active", loans.Active)
			r.Get("/active.csv", loans.ExportCSV)
			r.Get("/active/{userId}", loans.ForUser)
			r.Get("/overdue", loans.Overdue)
		})
	})
}
