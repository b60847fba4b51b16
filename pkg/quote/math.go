package quote

import (
	"lukechampine.com/uint128"
)

// SwapOutput computes the constant-product output amount for a swap, net of
// the trade fee:
//
//	out = floor(in·(feeDen−feeNum)·reserveOut / (reserveIn·feeDen + in·(feeDen−feeNum)))
//
// All arithmetic is integer with 128-bit intermediates, matching the u128
// math the on-chain program performs; floating point here would make local
// quotes systematically diverge from chain truth.
func SwapOutput(amountIn, reserveIn, reserveOut, feeNum, feeDen uint64) uint64 {
	if amountIn == 0 || reserveIn == 0 || reserveOut == 0 {
		return 0
	}
	if feeDen == 0 || feeNum >= feeDen {
		return 0
	}

	withFee := uint128.From64(amountIn).Mul64(feeDen - feeNum)
	numerator := withFee.Mul64(reserveOut)
	denominator := uint128.From64(reserveIn).Mul64(feeDen).Add(withFee)

	// The quotient is strictly below reserveOut, so the low word is exact.
	return numerator.Div(denominator).Lo
}

// PriceImpact returns the percentage deviation of the execution price from
// the spot price implied by the reserves.
func PriceImpact(amountIn, amountOut, reserveIn, reserveOut uint64) float64 {
	if amountIn == 0 || reserveIn == 0 || reserveOut == 0 {
		return 0
	}
	spot := float64(reserveOut) / float64(reserveIn)
	execution := float64(amountOut) / float64(amountIn)

	impact := (spot - execution) / spot * 100
	if impact < 0 {
		impact = -impact
	}
	return impact
}
