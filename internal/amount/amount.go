// Package amount converts token amounts between human-readable decimal
// strings and integer base units.
//
// Formatting and parsing go through float64 on purpose so that values shown
// to users match what wallets and explorers display for the same amounts.
// The conversion is lossy: FromBaseUnits(ToBaseUnits(s, d), d) may differ
// from s.
package amount

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// MaxDisplayDecimals caps the number of fraction digits FromBaseUnits emits.
const MaxDisplayDecimals = 6

var (
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrNonPositiveAmount = errors.New("amount must be greater than zero")
	ErrTooManyDecimals   = errors.New("amount has more fraction digits than the token supports")
	ErrAmountOverflow    = errors.New("amount exceeds the maximum representable base units")
)

var maxBaseUnits = decimal.RequireFromString("18446744073709551615")

// ToBaseUnits converts a decimal string to base units as
// floor(value * 10^decimals). The string is read like a lenient float
// parser would: surrounding whitespace is ignored and the longest numeric
// prefix is used. Input with no numeric prefix, negative, infinite or
// out-of-range values yield 0.
func ToBaseUnits(s string, decimals uint8) uint64 {
	v, ok := parseLeadingFloat(s)
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0
	}
	scaled := math.Floor(v * math.Pow10(int(decimals)))
	if scaled >= math.Exp2(64) {
		return 0
	}
	return uint64(scaled)
}

// FromBaseUnits renders base units as a decimal string with
// min(decimals, 6) fraction digits, rounding halves away from zero.
func FromBaseUnits(amount uint64, decimals uint8) string {
	digits := int(decimals)
	if digits > MaxDisplayDecimals {
		digits = MaxDisplayDecimals
	}
	x := float64(amount) / math.Pow10(int(decimals))
	// big.Rat holds the exact binary value of x, so rounding happens once,
	// on the true value, and not on an already-rounded decimal expansion.
	return new(big.Rat).SetFloat64(x).FloatString(digits)
}

// ExchangeRate returns how many "to" tokens one "from" token is worth, based
// on the display values of both amounts. It is 0 when the from side
// displays as zero.
func ExchangeRate(from uint64, fromDecimals uint8, to uint64, toDecimals uint8) float64 {
	fromDisplay, _ := strconv.ParseFloat(FromBaseUnits(from, fromDecimals), 64)
	toDisplay, _ := strconv.ParseFloat(FromBaseUnits(to, toDecimals), 64)
	if fromDisplay == 0 {
		return 0
	}
	return toDisplay / fromDisplay
}

// Validate checks that s is a well-formed, strictly positive decimal with
// no more than decimals fraction digits that fits in base units.
func Validate(s string, decimals uint8) error {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if !d.IsPositive() {
		return ErrNonPositiveAmount
	}
	if !d.Equal(d.Truncate(int32(decimals))) {
		return fmt.Errorf("%w: max %d", ErrTooManyDecimals, decimals)
	}
	if d.Shift(int32(decimals)).GreaterThan(maxBaseUnits) {
		return ErrAmountOverflow
	}
	return nil
}

// parseLeadingFloat parses the longest prefix of s (after leading
// whitespace) that forms a decimal literal: an optional sign, digits with an
// optional fraction, an optional exponent, or "Infinity".
func parseLeadingFloat(s string) (float64, bool) {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)

	i := 0
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}
	if strings.HasPrefix(s[i:], "Infinity") {
		if s[0] == '-' {
			return math.Inf(-1), true
		}
		return math.Inf(1), true
	}

	intDigits := countDigits(s[i:])
	i += intDigits
	fracDigits := 0
	if i < len(s) && s[i] == '.' {
		fracDigits = countDigits(s[i+1:])
		if intDigits > 0 || fracDigits > 0 {
			i += 1 + fracDigits
		}
	}
	if intDigits == 0 && fracDigits == 0 {
		return 0, false
	}

	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		j := i + 1
		if j < len(s) && (s[j] == '+' || s[j] == '-') {
			j++
		}
		if n := countDigits(s[j:]); n > 0 {
			i = j + n
		}
	}

	v, err := strconv.ParseFloat(s[:i], 64)
	if err != nil {
		// ErrRange still returns the correctly signed infinity or zero.
		var numErr *strconv.NumError
		if errors.As(err, &numErr) && errors.Is(numErr.Err, strconv.ErrRange) {
			return v, true
		}
		return 0, false
	}
	return v, true
}

func countDigits(s string) int {
	n := 0
	for n < len(s) && s[n] >= '0' && s[n] <= '9' {
		n++
	}
	return n
}
