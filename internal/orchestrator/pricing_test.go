package orchestrator

import (
	"testing"

	"github.com/angelmondragon/solverpay-backend/pkg/config"
	"github.com/angelmondragon/solverpay-backend/pkg/enums"
	"github.com/angelmondragon/solverpay-backend/pkg/money"
)

func TestPriceBook(t *testing.T) {
	book, err := NewPriceBook(config.PricingConfig{
		PricePer1000: "2.99",
		Overrides:    map[string]string{"RecaptchaV3Task": "3.49"},
	})
	if err != nil {
		t.Fatalf("new price book: %v", err)
	}
	if got := book.PriceFor(enums.JobTypeRecaptchaV2); got != money.Amount(2990) {
		t.Fatalf("expected base price 2990 micro, got %d", got)
	}
	if got := book.PriceFor(enums.JobTypeRecaptchaV3); got != money.Amount(3490) {
		t.Fatalf("expected override 3490 micro, got %d", got)
	}
}

func TestPriceBookRejectsUnknownOverride(t *testing.T) {
	_, err := NewPriceBook(config.PricingConfig{
		PricePer1000: "2.99",
		Overrides:    map[string]string{"FunCaptchaTask": "1"},
	})
	if err == nil {
		t.Fatal("expected error for unknown job type")
	}
}
