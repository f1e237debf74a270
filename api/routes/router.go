package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/solverpay-backend/api/controllers"
	"github.com/angelmondragon/solverpay-backend/api/controllers/compat"
	"github.com/angelmondragon/solverpay-backend/api/middleware"
	"github.com/angelmondragon/solverpay-backend/internal/orchestrator"
	"github.com/angelmondragon/solverpay-backend/pkg/config"
	"github.com/angelmondragon/solverpay-backend/pkg/db"
	"github.com/angelmondragon/solverpay-backend/pkg/enums"
	"github.com/angelmondragon/solverpay-backend/pkg/logger"
	"github.com/angelmondragon/solverpay-backend/pkg/metrics"
	"github.com/angelmondragon/solverpay-backend/pkg/redis"
)

// redisStore is the slice of the Redis client the HTTP surface needs.
type redisStore interface {
	redis.IdempotencyStore
	redis.Pinger
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient redisStore,
	gatherer prometheus.Gatherer,
	authenticator middleware.Authenticator,
	core orchestrator.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive())
		r.Get("/ready", controllers.HealthReady(logg, map[string]controllers.Pinger{
			"database": dbP.Ping,
			"redis":    redisClient.Ping,
		}))
	})

	if cfg.Metrics.Enabled && gatherer != nil {
		r.Handle("/metrics", metrics.Handler(gatherer))
	}

	compatHandlers := compat.NewHandlers(authenticator, core, logg)
	compatPolicy := middleware.NewIPRateLimitPolicy("compat", cfg.AuthRateLimit.Window, cfg.AuthRateLimit.IPLimit)
	r.Group(func(r chi.Router) {
		r.Use(middleware.IPRateLimit(compatPolicy, redisClient, logg, compatHandlers.Reject))
		r.Post("/createTask", compatHandlers.CreateTask())
		r.Post("/getTaskResult", compatHandlers.GetTaskResult())
		r.Post("/getBalance", compatHandlers.GetBalance())
		r.Post("/reportIncorrect", compatHandlers.ReportIncorrect())
	})

	idempotent := middleware.Idempotency(redisClient, logg)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(authenticator, logg))

		r.Route("/jobs", func(r chi.Router) {
			r.With(idempotent).Post("/", controllers.CreateJob(core, logg))
			r.Get("/", controllers.ListJobs(core, logg))
			r.Get("/{jobId}", controllers.GetJob(core, logg))
			r.With(idempotent).Post("/{jobId}/refund", controllers.RefundJob(core, logg))
		})
		r.Get("/balance", controllers.GetBalance(core, logg))
		r.Get("/transactions", controllers.ListTransactions(core, logg))
	})

	r.Route("/internal/v1", func(r chi.Router) {
		r.Use(middleware.ServiceAuth(cfg.JWT, logg))

		r.With(middleware.RequireServiceRole(logg, enums.ServiceRoleWorker, enums.ServiceRoleAdmin)).
			Post("/jobs/{jobId}/outcome", controllers.ReportOutcome(core, logg))
		r.With(middleware.RequireServiceRole(logg, enums.ServiceRoleAdmin), idempotent).
			Post("/accounts/{accountId}/deposits", controllers.CreditAccount(core, logg))
	})

	return r
}
