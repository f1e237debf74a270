// Package money represents balances and prices as integer micro-units so that
// ledger arithmetic never touches floating point.
package money

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// MicrosPerUnit is the number of micro-units in one currency unit.
const MicrosPerUnit = 1_000_000

const scale = 6

// Amount is a signed quantity of micro-units.
type Amount int64

var ErrTooPrecise = fmt.Errorf("amount has more than %d decimal places", scale)

// Parse reads a decimal string such as "2.99" into an Amount.
func Parse(raw string) (Amount, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", raw, err)
	}
	return FromDecimal(d)
}

// MustParse is Parse for constants known at compile time.
func MustParse(raw string) Amount {
	a, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return a
}

// FromDecimal converts d to micro-units, rejecting sub-micro precision.
func FromDecimal(d decimal.Decimal) (Amount, error) {
	micros := d.Shift(scale)
	if !micros.Equal(micros.Truncate(0)) {
		return 0, ErrTooPrecise
	}
	if micros.Abs().GreaterThan(decimal.NewFromInt(1 << 62)) {
		return 0, fmt.Errorf("amount %s out of range", d.String())
	}
	return Amount(micros.IntPart()), nil
}

// PerThousand converts a price quoted per 1000 jobs into the price of a single job,
// rounding half up to the nearest micro-unit.
func PerThousand(raw string) (Amount, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse price %q: %w", raw, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("price %q must not be negative", raw)
	}
	return FromDecimal(d.Div(decimal.NewFromInt(1000)).Round(scale))
}

func (a Amount) Micros() int64 {
	return int64(a)
}

func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -scale)
}

// Float64 is for display surfaces that expose numeric balances.
func (a Amount) Float64() float64 {
	f, _ := a.Decimal().Float64()
	return f
}

func (a Amount) Neg() Amount {
	return -a
}

func (a Amount) IsPositive() bool {
	return a > 0
}

// String renders the amount without trailing zeros, e.g. "0.00299".
func (a Amount) String() string {
	return a.Decimal().String()
}

// MarshalJSON encodes the amount as a decimal string.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts either a decimal string or a JSON number.
func (a *Amount) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(data)), `"`)
	parsed, err := Parse(raw)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
