package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"league-payment-system/handlers"
	"league-payment-system/middleware"
	"league-payment-system/models"
	"league-payment-system/services"
	"league-payment-system/utils"
	"league-payment-system/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"github.com/stripe/stripe-go/v81"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	stripeKey := os.Getenv("STRIPE_SECRET_KEY")
	if stripeKey == "" {
		log.Fatal("STRIPE_SECRET_KEY environment variable not set")
	}
	stripe.Key = stripeKey
	// Bound every outbound provider call; the default client has no timeout.
	stripe.SetHTTPClient(&http.Client{Timeout: 30 * time.Second})

	app := fiber.New(fiber.Config{
		BodyLimit: 1 * 1024 * 1024, // 1MB, webhook payloads are small
	})

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	if err := utils.InitR2(); err != nil {
		log.Fatal("failed to initialize R2 client:", err)
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.Account{},
		&models.Competition{},
		&models.Team{},
		&models.PaymentTransaction{},
		&models.SubscriptionEvent{},
		&models.WebhookEvent{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	onboardingService := services.NewOnboardingService(db)
	competitionService := services.NewCompetitionService(db)
	teamService := services.NewTeamService(db, competitionService)
	checkoutService := services.NewCheckoutService(db)
	webhookService := services.NewWebhookService(db, checkoutService)
	ledgerExportService := services.NewLedgerExportService(db)

	// Stripe calls this endpoint directly, so it is registered before the
	// global Gateway auth. Its own HMAC signature check is the auth.
	handlers.SetupWebhookRoutes(app, webhookService)

	// Everything else only accepts Gateway requests
	app.Use(middleware.GatewayAuthMiddleware())

	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedOriginsEnv == "" {
		log.Println("⚠️  ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
		allowedOriginsEnv = "http://localhost:3000"
	}
	allowedOriginsList := strings.Split(allowedOriginsEnv, ",")
	for i, origin := range allowedOriginsList {
		allowedOriginsList[i] = strings.TrimSpace(origin)
	}
	allowedOriginsString := strings.Join(allowedOriginsList, ",")

	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOriginsString,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, User-Agent, Cache-Control, X-User-ID, X-User-Roles",
		ExposeHeaders:    "Content-Length, Content-Type, Authorization, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	accountStatusWorker := workers.NewAccountStatusWorker(db, onboardingService)
	go accountStatusWorker.PollAccountStatuses(ctx, 15*time.Minute)

	webhookService.StartGraceSweepScheduler(ledgerExportService)

	handlers.SetupBillingRoutes(app, onboardingService, checkoutService)
	handlers.SetupCompetitionRoutes(app, competitionService, teamService)

	port := os.Getenv("PORT")
	if port == "" {
		port = "5300"
	}

	go func() {
		if err := app.Listen(":" + port); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Printf("✅ Server running on http://localhost:%s", port)
	log.Println("✅ Stripe webhook endpoint mounted at /webhooks/stripe")
	log.Println("✅ Account status polling running (every 15m)")
	log.Println("✅ Grace period sweep and ledger export scheduler running")
	log.Printf("✅ CORS configured for origins: %s", allowedOriginsString)

	<-ctx.Done()
	log.Println("Shutting down server...")
}
