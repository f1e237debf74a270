package orchestrator

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/solverpay-backend/internal/jobs"
	"github.com/angelmondragon/solverpay-backend/internal/ledger"
	"github.com/angelmondragon/solverpay-backend/internal/ratelimit"
	"github.com/angelmondragon/solverpay-backend/pkg/config"
	"github.com/angelmondragon/solverpay-backend/pkg/db"
	"github.com/angelmondragon/solverpay-backend/pkg/logger"
	"github.com/angelmondragon/solverpay-backend/pkg/metrics"
	"github.com/angelmondragon/solverpay-backend/pkg/outbox"
)

// BootstrapParams are the process-level clients a binary hands to Bootstrap.
type BootstrapParams struct {
	Config     *config.Config
	DB         *db.Client
	Gate       ratelimit.Gate
	Registerer prometheus.Registerer
	Logger     *logger.Logger
}

// Bootstrap builds the orchestrator with GORM-backed repositories.
func Bootstrap(params BootstrapParams) (Service, error) {
	if params.Config == nil {
		return nil, fmt.Errorf("config required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("database client required")
	}
	prices, err := NewPriceBook(params.Config.Pricing)
	if err != nil {
		return nil, fmt.Errorf("price book: %w", err)
	}
	return NewService(ServiceParams{
		Jobs:      jobs.NewRepository(params.DB.DB()),
		Ledger:    ledger.NewRepository(params.DB.DB()),
		Tx:        params.DB,
		Outbox:    outbox.NewService(outbox.NewRepository(params.DB.DB()), params.Logger),
		Gate:      params.Gate,
		Prices:    prices,
		RateLimit: params.Config.RateLimit,
		Metrics:   metrics.NewBillingMetrics(params.Registerer),
		Logger:    params.Logger,
	})
}
