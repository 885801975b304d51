package mathutil

import (
	"fmt"
	"math"
	"math/big"

	"github.com/shopspring/decimal"
)

var (
	//SatsPerBtc is the number of satoshis in one bitcoin
	SatsPerBtc = uint64(math.Pow10(8))
	//SatsPerBtcDecimal is SatsPerBtc as decimal.Decimal
	SatsPerBtcDecimal = decimal.NewFromInt(int64(SatsPerBtc))
)

func init() {
	decimal.DivisionPrecision = 8
}

// BtcToSats converts an amount expressed in BTC to satoshis. Amounts with
// more than 8 decimal places or negative ones are rejected.
func BtcToSats(btc decimal.Decimal) (uint64, error) {
	if btc.IsNegative() {
		return 0, fmt.Errorf("amount must not be negative")
	}
	sats := btc.Mul(SatsPerBtcDecimal)
	if !sats.Equal(sats.Truncate(0)) {
		return 0, fmt.Errorf("amount %s exceeds satoshi precision", btc)
	}
	return sats.BigInt().Uint64(), nil
}

// BtcStringToSats parses a BTC amount string and converts it to satoshis.
func BtcStringToSats(btc string) (uint64, error) {
	amount, err := decimal.NewFromString(btc)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", btc, err)
	}
	return BtcToSats(amount)
}

// SatsToBtc converts an amount of satoshis to BTC.
func SatsToBtc(sats uint64) decimal.Decimal {
	return Div(sats, SatsPerBtc)
}

// Volume returns the quote-currency volume for an amount of satoshis traded
// at the given price (quote per BTC).
func Volume(sats uint64, price decimal.Decimal) decimal.Decimal {
	return MulDecimal(SatsToBtc(sats), price)
}

//Add takes two uint64 numbers and sum them x + y and returns the result as decimal.Decimal
func Add(x, y uint64) (z decimal.Decimal) {
	X, Y := toDecimal(x), toDecimal(y)
	z = X.Add(Y)
	return
}

// Mul takes two uint64 numbers and multiply them x * y and returns the result as decimal.Decimal
func Mul(x, y uint64) (z decimal.Decimal) {
	X, Y := toDecimal(x), toDecimal(y)
	z = MulDecimal(X, Y)
	return
}

// MulDecimal takes two decimal.Decimal numbers and multiply them x * y and returns the result as decimal.Decimal
func MulDecimal(X, Y decimal.Decimal) (z decimal.Decimal) {
	z = X.Mul(Y)
	return
}

// Div takes two uint64 numbers and divides them x / y and returns the result as decimal.Decimal
func Div(x, y uint64) (z decimal.Decimal) {
	X, Y := toDecimal(x), toDecimal(y)
	z = X.Div(Y)
	return
}

// SafeAdd sums the given amounts and fails on uint64 overflow.
func SafeAdd(amounts ...uint64) (uint64, error) {
	var total uint64
	for _, a := range amounts {
		if total > math.MaxUint64-a {
			return 0, fmt.Errorf("amount overflow")
		}
		total += a
	}
	return total, nil
}

func toDecimal(x uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(x), 0)
}
