package engine

import "math"

// Fee schedule for a mainland-style cash equity account: a flat minimum
// commission, a proportional commission on sells, and stamp duty on
// stop-loss liquidations (kept for parity with the recorded trade history).
const (
	flatFee      = 5.0
	sellFeeRate  = 0.001
	stampTaxRate = 0.001
	lotSize      = 100
)

// buyFee is the flat minimum commission charged on any buy.
func buyFee() float64 { return flatFee }

// sellFee is the greater of the flat minimum and the proportional commission.
func sellFee(proceeds float64) float64 {
	return math.Max(flatFee, proceeds*sellFeeRate)
}

// stampTax applies only to stop-loss liquidations.
func stampTax(proceeds float64) float64 { return proceeds * stampTaxRate }

// affordableLots returns the largest whole-lot share count purchasable at the
// given price after reserving the flat fee. Never lets cash go negative.
func affordableLots(cash, price float64) int64 {
	if price <= 0 {
		return 0
	}
	avail := cash - flatFee
	if avail <= 0 {
		return 0
	}
	return int64(avail/(price*lotSize)) * lotSize
}

// roundDownLot floors a share count to a whole lot.
func roundDownLot(qty int64) int64 {
	return qty / lotSize * lotSize
}
