package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/dotabod/billing/app/controllers"
	"github.com/dotabod/billing/internal/pkg/cache"
)

type HttpRouter struct {
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	webhooks := controllers.NewWebhookControllerFromEnv()
	billingCtrl := controllers.NewBillingControllerFromEnv(cache.GetCache())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})

	// Payment-provider webhooks. Authenticated by signature, not by API key.
	app.Post("/webhooks/stripe", webhooks.HandleStripeWebhook)
	app.Post("/webhooks/opennode", webhooks.HandleOpenNodeWebhook)

	// Crypto paylink redirect. The token itself carries the authorization.
	app.Get("/paylink/:token", billingCtrl.HandlePaylinkRedirect)
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}
