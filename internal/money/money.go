// Package money defines the single decimal type used for every quantity,
// price, and percentage in the core pipeline. Nothing in this system stores
// money or token amounts as binary floating point (spec.md §9).
package money

import (
	"database/sql/driver"
	"fmt"

	"github.com/shopspring/decimal"
)

// Decimal is an arbitrary-precision value with explicit scale.
type Decimal = decimal.Decimal

// Zero is the additive identity, exported so callers never need to reach
// into shopspring/decimal directly.
var Zero = decimal.Zero

// New builds a Decimal from an integer mantissa and base-10 exponent,
// mirroring decimal.New so callers only import this package.
func New(value int64, exp int32) Decimal {
	return decimal.New(value, exp)
}

// FromFloat builds a Decimal from a float64, for converting config-file
// thresholds (YAML numbers) into the system's canonical decimal type at the
// boundary; never used for money computed or persisted internally.
func FromFloat(f float64) Decimal {
	return decimal.NewFromFloat(f)
}

// Parse parses a base-10 string into a Decimal, wrapping the error with
// context the way every other boundary in this codebase does.
func Parse(s string) (Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Decimal{}, fmt.Errorf("money: invalid decimal %q: %w", s, err)
	}
	return d, nil
}

// MustParse panics on invalid input; only used for compile-time constants in
// tests and seed data, never on data crossing a system boundary.
func MustParse(s string) Decimal {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// NullableString marshals an optional Decimal to its string form, or "" when
// nil, for the nullable *_dec columns in spec.md §3.
func NullableString(d *Decimal) string {
	if d == nil {
		return ""
	}
	return d.String()
}

// Column is a gorm-friendly wrapper that stores a Decimal as a fixed
// varchar column (teacher's internal/db recorded big.Int the same way, as
// varchar(78) strings, rather than a lossy numeric column type).
type Column struct {
	decimal.Decimal
}

// Value implements driver.Valuer.
func (c Column) Value() (driver.Value, error) {
	return c.Decimal.String(), nil
}

// Scan implements sql.Scanner.
func (c *Column) Scan(value interface{}) error {
	if value == nil {
		c.Decimal = decimal.Zero
		return nil
	}
	switch v := value.(type) {
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return fmt.Errorf("money: scanning column: %w", err)
		}
		c.Decimal = d
	case []byte:
		d, err := decimal.NewFromString(string(v))
		if err != nil {
			return fmt.Errorf("money: scanning column: %w", err)
		}
		c.Decimal = d
	default:
		return fmt.Errorf("money: unsupported scan type %T", value)
	}
	return nil
}
