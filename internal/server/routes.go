package server

import (
	"github.com/gofiber/fiber/v2"

	"github.com/JDerekLomas/secondrenaissance-sub001/internal/core/job"
	"github.com/JDerekLomas/secondrenaissance-sub001/internal/core/worker"
	"github.com/JDerekLomas/secondrenaissance-sub001/internal/health"
	"github.com/JDerekLomas/secondrenaissance-sub001/internal/platform/postgres"
)

type Dependencies struct {
	Jobs         *job.Service
	Auth         UserVerifier
	Postgres     *postgres.Service
	WorkerAPIKey string
}

func RegisterRoutes(app *fiber.App, d Dependencies) *health.HealthHandler {
	// Health endpoints
	healthHandler := health.NewHealthHandler(d.Postgres)
	app.Get("/v1/health", health.HealthLimiter(), healthHandler.HandleHealth)

	api := app.Group("/v1")

	jobHandler := job.NewHandler(d.Jobs)
	jobs := api.Group("/translate/jobs", RequireUser(d.Auth))
	jobs.Post("/", jobHandler.HandleCreate)
	jobs.Get("/", jobHandler.HandleList)
	jobs.Get("/:id", jobHandler.HandleGet)
	jobs.Patch("/:id", jobHandler.HandleUpdate)
	jobs.Delete("/:id", jobHandler.HandleDelete)

	workerHandler := worker.NewHandler(d.Jobs)
	wk := api.Group("/worker", RequireWorker(d.WorkerAPIKey))
	wk.Get("/poll", workerHandler.HandlePoll)
	wk.Post("/update", workerHandler.HandleUpdate)

	return healthHandler
}
