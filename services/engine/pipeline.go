package engine

// PipelineState is one pipeline's ledger: cash, shares, the pending order
// slots and the active risk levels. Two instances exist per simulation, one
// signal-driven ("ai") and one replaying recorded history ("real").
type PipelineState struct {
	Cash    float64
	Shares  int64
	AvgCost float64

	pendingBuy      *buyOrder
	pendingBuyStop  *buyOrder
	pendingSell     *sellOrder
	pendingSellStop *buyOrder // breakdown sell level; quantity is the full position

	stopLoss   float64 // 0 means unset
	takeProfit float64
}

// Equity marks the ledger to the given price.
func (p *PipelineState) Equity(price float64) float64 {
	return p.Cash + float64(p.Shares)*price
}

// executeBuy converts as much cash as possible into whole lots at the fill
// price. Returns 0 if not even one lot is affordable.
func (p *PipelineState) executeBuy(price float64) int64 {
	qty := affordableLots(p.Cash, price)
	if qty <= 0 {
		return 0
	}
	p.Cash -= float64(qty)*price + buyFee()
	p.Shares += qty
	// Average cost tracks the latest fill rather than a share-weighted mean.
	// Kept as-is for parity with historical results.
	p.AvgCost = price
	return qty
}

// executeSell sells qty shares (capped at the position) at the fill price,
// charging the sell commission plus optional stamp tax.
func (p *PipelineState) executeSell(price float64, qty int64, withTax bool) int64 {
	if qty > p.Shares {
		qty = p.Shares
	}
	if qty <= 0 {
		return 0
	}
	proceeds := float64(qty) * price
	cost := sellFee(proceeds)
	if withTax {
		cost += stampTax(proceeds)
	}
	p.Cash += proceeds - cost
	if p.Cash < 0 {
		p.Cash = 0
	}
	p.Shares -= qty
	return qty
}

// clearRisk drops both risk levels, after a liquidation.
func (p *PipelineState) clearRisk() {
	p.stopLoss = 0
	p.takeProfit = 0
	p.pendingSellStop = nil
}

// effectiveStop returns the highest active downside exit level. A breakdown
// sell order and a stop-loss coexist; a falling price hits the higher one
// first.
func (p *PipelineState) effectiveStop() float64 {
	stop := p.stopLoss
	if p.pendingSellStop != nil && p.pendingSellStop.Price > stop {
		stop = p.pendingSellStop.Price
	}
	return stop
}
