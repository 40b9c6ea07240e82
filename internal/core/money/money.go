// Package money implements exact fixed-point decimal arithmetic on top
// of math/big.Int. Amounts never pass through a float: RPC-raw values
// arrive scaled by 18 fractional digits and are reduced to the
// canonical 8-digit scale by integer division; odds are carried at 4
// fractional digits. No value in this package is ever formatted or
// compared via float64.
package money

import (
	"fmt"
	"math/big"
)

// AmountScale is the number of fractional digits an Amount carries.
const AmountScale = 8

// OddsScale is the number of fractional digits an Odds carries.
const OddsScale = 4

// RawScale is the number of fractional digits values arrive with over
// the chain RPC, per spec §6.
const RawScale = 18

var (
	amountUnit = pow10(AmountScale)
	oddsUnit   = pow10(OddsScale)
	rawToAmt   = pow10(RawScale - AmountScale)
)

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// Amount is a fixed-point decimal value with AmountScale fractional
// digits, backed by an exact integer numerator.
type Amount struct {
	raw *big.Int // value * 10^AmountScale
}

// Zero is the additive identity.
var Zero = Amount{raw: big.NewInt(0)}

// AmountFromRaw18 reduces an 18-fractional-digit raw on-chain integer
// string to the canonical 8-digit Amount by exact integer division,
// truncating any residual sub-canonical precision.
func AmountFromRaw18(raw string) (Amount, error) {
	n, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return Amount{}, fmt.Errorf("money: invalid raw integer %q", raw)
	}
	reduced := new(big.Int).Quo(n, rawToAmt)
	return Amount{raw: reduced}, nil
}

// MustAmountFromRaw18 panics on parse failure; used only for values
// known to be well-formed at compile time (tests, constants).
func MustAmountFromRaw18(raw string) Amount {
	a, err := AmountFromRaw18(raw)
	if err != nil {
		panic(err)
	}
	return a
}

// Parse reads a decimal string (e.g. "3.00000000") into an Amount.
func Parse(s string) (Amount, error) {
	raw, scale, err := parseDecimal(s)
	if err != nil {
		return Amount{}, err
	}
	return Amount{raw: rescale(raw, scale, AmountScale)}, nil
}

// MustParse panics on parse failure; used for compile-time-known literals.
func MustParse(s string) Amount {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// parseDecimal parses a plain decimal string into an unscaled integer
// and its fractional-digit count, without ever going through float64.
func parseDecimal(s string) (*big.Int, int, error) {
	neg := false
	if len(s) > 0 && (s[0] == '-' || s[0] == '+') {
		neg = s[0] == '-'
		s = s[1:]
	}
	intPart, fracPart, hasFrac := s, "", false
	for i, c := range s {
		if c == '.' {
			intPart, fracPart = s[:i], s[i+1:]
			hasFrac = true
			break
		}
	}
	_ = hasFrac
	digits := intPart + fracPart
	if digits == "" {
		return nil, 0, fmt.Errorf("money: empty decimal")
	}
	n, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, 0, fmt.Errorf("money: invalid decimal %q", s)
	}
	if neg {
		n.Neg(n)
	}
	return n, len(fracPart), nil
}

// rescale converts an integer carrying `fromScale` fractional digits to
// one carrying `toScale`, by exact multiplication or truncating division.
func rescale(n *big.Int, fromScale, toScale int) *big.Int {
	if fromScale == toScale {
		return new(big.Int).Set(n)
	}
	if fromScale < toScale {
		return new(big.Int).Mul(n, pow10(toScale-fromScale))
	}
	return new(big.Int).Quo(n, pow10(fromScale-toScale))
}

// Add returns a + b.
func (a Amount) Add(b Amount) Amount {
	return Amount{raw: new(big.Int).Add(a.raw, b.raw)}
}

// Sub returns a - b.
func (a Amount) Sub(b Amount) Amount {
	return Amount{raw: new(big.Int).Sub(a.raw, b.raw)}
}

// Abs returns the absolute value.
func (a Amount) Abs() Amount {
	return Amount{raw: new(big.Int).Abs(a.raw)}
}

// Cmp returns -1, 0, or 1 comparing a to b.
func (a Amount) Cmp(b Amount) int {
	return a.raw.Cmp(b.raw)
}

// IsZero reports whether the amount is exactly zero.
func (a Amount) IsZero() bool {
	return a.raw.Sign() == 0
}

// IsPositive reports whether the amount is strictly greater than zero.
func (a Amount) IsPositive() bool {
	return a.raw.Sign() > 0
}

// LessOrEqualTolerance reports whether |a| <= tolerance, used for the
// sum-law and side-law checks which permit a small epsilon (spec P2/P3:
// tolerance 10^-4).
func (a Amount) LessOrEqualTolerance(tolerance Amount) bool {
	return a.Abs().raw.Cmp(tolerance.raw) <= 0
}

// Mul3PctFee returns a * 0.97, exact to the canonical scale (used for
// pool_after_fee = total * (1 - 0.03)).
func (a Amount) Mul3PctFee() Amount {
	// a.raw * 97 / 100, truncating — matches integer-arithmetic-only
	// requirement; residual sub-canonical precision is dropped.
	num := new(big.Int).Mul(a.raw, big.NewInt(97))
	return Amount{raw: num.Quo(num, big.NewInt(100))}
}

// DivToOdds divides a pool by a side stake, producing Odds at OddsScale
// precision. Returns zero odds if the stake is zero (spec §3/§4.4).
func (a Amount) DivToOdds(stake Amount) Odds {
	if stake.raw.Sign() == 0 {
		return Odds{raw: big.NewInt(0)}
	}
	// (a.raw / 10^AmountScale) / (stake.raw / 10^AmountScale) scaled to
	// OddsScale == a.raw * 10^OddsScale / stake.raw, exact integer math.
	num := new(big.Int).Mul(a.raw, oddsUnit)
	return Odds{raw: num.Quo(num, stake.raw)}
}

// String renders the amount as a fixed 8-fractional-digit decimal.
func (a Amount) String() string {
	return formatFixed(a.raw, AmountScale)
}

// Odds is a fixed-point decimal with OddsScale fractional digits.
type Odds struct {
	raw *big.Int
}

// ZeroOdds is the zero value.
var ZeroOdds = Odds{raw: big.NewInt(0)}

// Cmp returns -1, 0, or 1 comparing o to other.
func (o Odds) Cmp(other Odds) int {
	return o.raw.Cmp(other.raw)
}

// IsZero reports whether the odds value is exactly zero.
func (o Odds) IsZero() bool {
	return o.raw.Sign() == 0
}

// IsPositive reports whether the odds value is strictly greater than zero.
func (o Odds) IsPositive() bool {
	return o.raw.Sign() > 0
}

// String renders the odds as a fixed 4-fractional-digit decimal.
func (o Odds) String() string {
	return formatFixed(o.raw, OddsScale)
}

func formatFixed(raw *big.Int, scale int) string {
	neg := raw.Sign() < 0
	abs := new(big.Int).Abs(raw)
	unit := pow10(scale)
	intPart := new(big.Int).Quo(abs, unit)
	fracPart := new(big.Int).Mod(abs, unit)
	sign := ""
	if neg {
		sign = "-"
	}
	return fmt.Sprintf("%s%s.%0*d", sign, intPart.String(), scale, fracPart.Int64())
}
