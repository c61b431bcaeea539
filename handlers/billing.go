// handlers/billing_routes.go
package handlers

import (
	"league-payment-system/middleware"
	"league-payment-system/services"

	"github.com/gofiber/fiber/v2"
)

// SetupWebhookRoutes registers the provider webhook endpoint. It must be
// mounted before Gateway auth: Stripe signs its deliveries, it does not carry
// our gateway token.
func SetupWebhookRoutes(app *fiber.App, webhookService *services.WebhookService) {
	app.Post("/webhooks/stripe", webhookService.HandleStripeWebhook)
}

func SetupBillingRoutes(app *fiber.App, onboardingService *services.OnboardingService, checkoutService *services.CheckoutService) {
	secured := app.Group("/", middleware.UserContextMiddleware())

	secured.Post("/accounts/onboarding-link", onboardingService.CreateOnboardingLink)
	secured.Post("/accounts/status/refresh", onboardingService.RefreshAccountStatus)

	secured.Post("/teams/:id/checkout", checkoutService.CreateCheckoutSession)
}
