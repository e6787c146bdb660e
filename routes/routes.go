package routes

import (
	"log"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"gorm.io/gorm"

	"github.com/kaptiv/sequencer/controllers"
	"github.com/kaptiv/sequencer/credential"
	"github.com/kaptiv/sequencer/mailer"
	"github.com/kaptiv/sequencer/middleware"
	"github.com/kaptiv/sequencer/oauthflow"
	"github.com/kaptiv/sequencer/starter"
	"github.com/kaptiv/sequencer/worker"
)

// Deps bundles the components routes need handlers for, assembled once in
// main and threaded through here instead of read off package-level
// singletons (§9 re-architecture guidance).
type Deps struct {
	DB          *gorm.DB
	Credentials *credential.Store
	Mailer      mailer.Sender
	OAuthFlow   *oauthflow.Flow
	Starter     *starter.Starter
	Worker      *worker.Worker
}

func SetupRoutes(app *fiber.App, deps Deps) {
	routeLogger := log.New(os.Stdout, "ROUTES: ", log.Ldate|log.Ltime|log.Lshortfile)

	app.Use(middleware.CORS())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	oauthCtrl := controllers.NewOAuthController(deps.OAuthFlow)
	credCtrl := controllers.NewCredentialController(deps.Credentials, deps.Mailer)
	seqCtrl := controllers.NewSequenceController(deps.DB, deps.Starter)
	workerCtrl := controllers.NewWorkerController(deps.Worker)

	// OAuth callback authenticates itself via the single-use state ticket,
	// not the shared API key (§6).
	app.Get("/oauth2/callback", oauthCtrl.Callback)

	// The worker trigger authenticates via WORKER_SECRET, not the tenant
	// API key (§6).
	app.Get("/api/run_scheduled_jobs", middleware.RequireWorkerSecret(), workerCtrl.RunScheduledJobs)

	api := app.Group("", middleware.RequireAPIKey())
	api.Post("/oauth/start", oauthCtrl.Start)
	api.Get("/status", credCtrl.Status)
	api.Post("/send_email", middleware.TenantRateLimiter(), credCtrl.SendEmail)
	api.Post("/api/steps", seqCtrl.CreateSteps)
	api.Post("/api/sequence_step_upsert", seqCtrl.UpsertStep)
	api.Post("/api/start_sequence", seqCtrl.StartSequence)

	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"ok":    false,
			"error": "not_found",
		})
	})

	routeLogger.Println("routes initialized")
}
