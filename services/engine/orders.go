package engine

// Deterministic fill pricing against a bar's extremes. A fill price of 0 means
// the order was not touched this bar. Orders get price improvement to the open
// when the bar gaps through the trigger level.

type buyOrder struct {
	Price float64
}

type sellOrder struct {
	Price float64 // 0 means market, fills at the open
	Qty   int64
}

// fillLimitBuy fills when the low trades through the target; a gap-down open
// improves the fill.
func fillLimitBuy(bar Bar, limit float64) float64 {
	if limit <= 0 || bar.Low > limit {
		return 0
	}
	if bar.Open < limit && bar.Open > 0 {
		return bar.Open
	}
	return limit
}

// fillLimitSell fills when the high trades through the target; a gap-up open
// improves the fill. A zero limit is a market order at the open.
func fillLimitSell(bar Bar, limit float64) float64 {
	if limit == 0 {
		return bar.Open
	}
	if bar.High < limit {
		return 0
	}
	if bar.Open > limit {
		return bar.Open
	}
	return limit
}

// fillStopBuy triggers a breakout buy when the high crosses the stop level.
func fillStopBuy(bar Bar, stop float64) float64 {
	if stop <= 0 || bar.High < stop {
		return 0
	}
	if bar.Open > stop {
		return bar.Open
	}
	return stop
}

// fillStopSell triggers a breakdown or stop-loss sell when the low crosses the
// stop level. A gap-down open fills at the open, below the stop.
func fillStopSell(bar Bar, stop float64) float64 {
	if stop <= 0 || bar.Low > stop {
		return 0
	}
	if bar.Open < stop && bar.Open > 0 {
		return bar.Open
	}
	return stop
}
