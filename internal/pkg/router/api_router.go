package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/dotabod/billing/app/controllers"
	"github.com/dotabod/billing/internal/pkg/cache"
	"github.com/dotabod/billing/internal/pkg/middleware"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	billingCtrl := controllers.NewBillingControllerFromEnv(cache.GetCache())

	api := app.Group("/api", limiter.New(limiter.Config{Max: 120}))

	// API v1 routes, all behind API-key auth.
	v1 := api.Group("/v1", middleware.APIKeyAuthMiddleware())
	v1.Post("/checkout/sessions", billingCtrl.HandleCreateCheckoutSession)
	v1.Post("/portal/sessions", billingCtrl.HandleCreatePortalSession)
	v1.Get("/subscription", billingCtrl.HandleGetSubscription)
	v1.Get("/credits", billingCtrl.HandleGetCredits)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
