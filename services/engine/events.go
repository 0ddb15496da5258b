package engine

import (
	"time"

	"replaylab/services/signal"
)

type EventType int

const (
	EventSignal       EventType = iota // a due directive was applied
	EventInfo                          // a no-op explanation
	EventRealTrade                     // a historical transaction was replayed
	EventTick                          // one bar finished processing
	EventNeedStrategy                  // checkpoint unmet; caller may inject a signal
	EventCompleted                     // terminal settlement
	EventNoData                        // terminal, no bars for the date
	EventError                         // terminal, malformed driving inputs
)

func (t EventType) String() string {
	switch t {
	case EventSignal:
		return "signal"
	case EventInfo:
		return "info"
	case EventRealTrade:
		return "real_trade"
	case EventTick:
		return "tick"
	case EventNeedStrategy:
		return "need_strategy"
	case EventCompleted:
		return "completed"
	case EventNoData:
		return "no_data"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is the tagged union handed back by Simulator.Step. Exactly one of the
// optional fields is populated, matching Type.
type Event struct {
	Type    EventType
	Time    time.Time
	Message string

	Signal     *signal.Signal // EventSignal
	Trade      *Trade         // EventRealTrade
	Tick       *Tick          // EventTick
	Checkpoint string         // EventNeedStrategy
	Result     *Result        // terminal events
}

// Terminal reports whether the event ends the simulation.
func (e Event) Terminal() bool {
	return e.Type == EventCompleted || e.Type == EventNoData || e.Type == EventError
}

// Tick is the per-bar progress snapshot for both pipelines.
type Tick struct {
	Progress     float64
	Price        float64
	Equity       float64
	RealEquity   float64
	Position     int64
	RealPosition int64
	PnlPct       float64
	RealPnlPct   float64
	Trade        *Trade // fill recorded this bar, if any
}

// Trade is one executed fill, append-only.
type Trade struct {
	Time   time.Time
	Action string // BUY, BUY_STOP, SELL, SELL_STOP
	Price  float64
	Shares int64
	Reason string
}

// EquityPoint is one bar's mark-to-market for both pipelines.
type EquityPoint struct {
	Time       time.Time
	AIEquity   float64
	RealEquity float64
	Price      float64
}

type Status string

const (
	StatusCompleted Status = "completed"
	StatusNoData    Status = "no_data"
	StatusError     Status = "error"
)

// Result is the end-of-day settlement. no_data and error results carry empty
// trade and equity lists plus a human-readable reason.
type Result struct {
	Status Status `json:"status"`
	Reason string `json:"reason,omitempty"`

	PnlPct     float64 `json:"pnl_pct"`
	RealPnlPct float64 `json:"real_pnl_pct"`

	FinalEquity     float64 `json:"final_equity"`
	RealFinalEquity float64 `json:"real_final_equity"`
	FinalCash       float64 `json:"final_cash"`
	RealFinalCash   float64 `json:"real_final_cash"`
	FinalShares     int64   `json:"final_shares"`
	RealFinalShares int64   `json:"real_final_shares"`

	BaseValue     float64 `json:"base_value"`
	RealBaseValue float64 `json:"real_base_value"`

	Trades         []Trade       `json:"trades"`
	EquityCurve    []EquityPoint `json:"equity_curve"`
	RealTradeCount int           `json:"real_trades_count"`

	InputsHash string `json:"inputs_hash,omitempty"`
}
