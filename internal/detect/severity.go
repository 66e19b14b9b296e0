package detect

import "github.com/oofstack/oofcore/internal/money"

// clampUnit maps v into [0, 1], saturating at both ends. spec.md §4.4 only
// requires severity_dec to land in [0, 1]; the linear ceilings below (where
// a magnitude at or above the ceiling maps to full severity) are an
// implementation choice, not numerically specified.
func clampUnit(v money.Decimal) money.Decimal {
	if v.Sign() < 0 {
		return money.Zero
	}
	one := money.New(1, 0)
	if v.GreaterThan(one) {
		return one
	}
	return v
}

// scaledSeverity maps magnitude into [0,1] relative to a ceiling at which
// severity saturates to 1.
func scaledSeverity(magnitude, ceiling money.Decimal) money.Decimal {
	if ceiling.Sign() <= 0 {
		return clampUnit(magnitude)
	}
	return clampUnit(magnitude.Div(ceiling))
}
