package orchestrator

import (
	"fmt"

	"github.com/angelmondragon/solverpay-backend/pkg/config"
	"github.com/angelmondragon/solverpay-backend/pkg/enums"
	"github.com/angelmondragon/solverpay-backend/pkg/money"
)

// PriceBook holds the per-job price for each work type.
type PriceBook struct {
	base      money.Amount
	overrides map[enums.JobType]money.Amount
}

// NewPriceBook converts per-1000 prices from config into per-job amounts.
func NewPriceBook(cfg config.PricingConfig) (*PriceBook, error) {
	base, err := money.PerThousand(cfg.PricePer1000)
	if err != nil {
		return nil, err
	}
	book := &PriceBook{base: base, overrides: map[enums.JobType]money.Amount{}}
	for rawType, rawPrice := range cfg.Overrides {
		jobType, err := enums.ParseJobType(rawType)
		if err != nil {
			return nil, fmt.Errorf("price override: %w", err)
		}
		price, err := money.PerThousand(rawPrice)
		if err != nil {
			return nil, fmt.Errorf("price override for %s: %w", jobType, err)
		}
		book.overrides[jobType] = price
	}
	return book, nil
}

func (p *PriceBook) PriceFor(jobType enums.JobType) money.Amount {
	if price, ok := p.overrides[jobType]; ok {
		return price
	}
	return p.base
}
