// Package signal parses free-text decision logs into structured trading
// directives. The text is produced by an external strategy-authoring process;
// nothing here calls out anywhere.
package signal

import "time"

type Action string

const (
	ActionBuy      Action = "buy"
	ActionSell     Action = "sell"
	ActionHold     Action = "hold"
	ActionBuyStop  Action = "buy_stop"  // breakout buy: triggers when price breaks above target
	ActionSellStop Action = "sell_stop" // breakdown sell: triggers when price breaks below target
)

// Tier identifies which parser tier produced a signal. Useful for diagnostics;
// lower tiers are higher confidence.
type Tier int

const (
	TierNone     Tier = iota // nothing actionable found, signal degraded to hold
	TierBlock                // labeled decision block
	TierBreakout             // conditional breakout/breakdown phrasing
	TierAdvice               // general advice sentence
)

func (t Tier) String() string {
	switch t {
	case TierBlock:
		return "block"
	case TierBreakout:
		return "breakout"
	case TierAdvice:
		return "advice"
	default:
		return "none"
	}
}

// Signal is an immutable, structured trading directive.
type Signal struct {
	Timestamp   time.Time
	Action      Action
	PriceTarget float64 // 0 means market order
	StopLoss    float64 // 0 means unset
	TakeProfit  float64 // 0 means unset
	Quantity    int64   // explicit share count, 0 means use PositionPct
	PositionPct float64 // fraction of current holdings to sell, defaults to 1.0
	Tier        Tier
	Raw         string
}
