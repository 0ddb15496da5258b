package engine

import (
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"replaylab/services/signal"
)

// State of the day simulator.
type State int

const (
	StateRunning State = iota
	StateAwaitingSignal
	StateCompleted
)

// Config describes one simulation run. The AI and real pipelines start from
// the same allocation unless RealShares/RealCash override it (the real account
// may have diverged from the nominal starting position).
type Config struct {
	Symbol        string
	Day           time.Time
	InitialCash   float64 // total capital allocated to this symbol
	InitialShares int64
	InitialCost   float64 // average cost of the starting position, 0 if unknown

	RealShares *int64
	RealCash   *float64

	// Checkpoints to verify signal coverage at; nil selects the defaults,
	// an empty slice disables checkpoints.
	Checkpoints []Checkpoint

	Logger *zap.Logger
}

// Simulator replays one trading day bar by bar, driving two independent
// ledgers: the AI pipeline follows parsed signals, the real pipeline replays
// recorded transactions. It is a step function, not a goroutine: each Step
// call returns the next event, and the caller resumes an AWAITING_SIGNAL
// suspension by passing an optional signal into the next Step.
//
// A Simulator owns its state exclusively and holds no external resources;
// abandoning one mid-run is always safe. Run several strategies by creating
// several instances.
type Simulator struct {
	cfg Config
	log *zap.Logger

	bars     []Bar
	signals  []signal.Signal
	nextSig  int
	replayer *realReplayer
	cps      *checkpointTracker

	ai       PipelineState
	real     PipelineState
	baseVal  float64
	realBase float64

	idx      int
	state    State
	pending  *Checkpoint
	queue    []Event
	trades   []Trade
	curve    []EquityPoint
	lastFill *Trade
	final    *Event
	hash     string
}

// New prepares a simulation from caller-supplied inputs. Bars and
// transactions are filtered to the configured day; signals are applied in
// timestamp order regardless of date (a previous evening's plan still drives
// the open).
func New(cfg Config, bars []Bar, signals []signal.Signal, realTxs []RealTransaction) *Simulator {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Checkpoints == nil {
		cfg.Checkpoints = DefaultCheckpoints()
	}

	s := &Simulator{
		cfg:      cfg,
		log:      log,
		bars:     SortAndDedup(FilterDay(bars, cfg.Day)),
		replayer: newRealReplayer(realTxs, cfg.Day),
		cps:      newCheckpointTracker(cfg.Checkpoints),
		trades:   []Trade{},
		curve:    []EquityPoint{},
	}

	s.signals = append(s.signals, signals...)
	sort.SliceStable(s.signals, func(i, j int) bool {
		return s.signals[i].Timestamp.Before(s.signals[j].Timestamp)
	})

	if len(s.bars) == 0 {
		reason := fmt.Sprintf("no minute bars for %s on %s", cfg.Symbol, cfg.Day.Format("2006-01-02"))
		s.terminate(Event{Type: EventNoData, Message: reason, Result: &Result{
			Status: StatusNoData, Reason: reason, Trades: []Trade{}, EquityCurve: []EquityPoint{},
		}})
		return s
	}

	cal := MainlandSessions()
	outside := 0
	for _, b := range s.bars {
		if !cal.IsOpen(b.Time) {
			outside++
		}
	}
	if outside > 0 {
		log.Warn("bars outside the trading session",
			zap.String("symbol", cfg.Symbol),
			zap.Int("count", outside))
	}
	// Lunch break aside, a hole in the feed usually means a trading halt.
	if gaps := DetectGaps(s.bars, 95*time.Minute); len(gaps) > 0 {
		log.Warn("gaps in the bar feed",
			zap.String("symbol", cfg.Symbol),
			zap.Time("first_after", gaps[0]),
			zap.Int("count", len(gaps)))
	}

	s.initLedgers()
	s.hash = s.inputsDigest()
	return s
}

// initLedgers derives the starting cash for both pipelines and fixes the base
// valuation used for percentage PnL. The base is set once from the first
// bar's open and never recomputed.
func (s *Simulator) initLedgers() {
	openP := firstValidPrice(s.bars)
	if openP == 0 {
		openP = s.cfg.InitialCost
	}
	if openP == 0 {
		openP = 1.0
	}

	// A missing cost basis would double-count the position as free cash on
	// top of the full allocation; assume the position was bought at today's
	// open instead.
	calcCost := s.cfg.InitialCost
	if calcCost <= 0 && s.cfg.InitialShares > 0 {
		calcCost = openP
	}

	startCash := s.cfg.InitialCash - float64(s.cfg.InitialShares)*calcCost
	if startCash < 0 {
		startCash = 0
	}
	s.ai = PipelineState{Cash: startCash, Shares: s.cfg.InitialShares, AvgCost: calcCost}

	realShares := s.cfg.InitialShares
	if s.cfg.RealShares != nil {
		realShares = *s.cfg.RealShares
	}
	var realCash float64
	if s.cfg.RealCash != nil {
		realCash = *s.cfg.RealCash
	} else {
		realCash = s.cfg.InitialCash - float64(realShares)*calcCost
		if realCash < 0 {
			realCash = 0
		}
	}
	s.real = PipelineState{Cash: realCash, Shares: realShares, AvgCost: calcCost}

	s.baseVal = startCash + float64(s.cfg.InitialShares)*openP
	s.realBase = realCash + float64(realShares)*openP
	if s.baseVal <= 0 {
		s.baseVal = s.cfg.InitialCash
	}
	if s.realBase <= 0 {
		s.realBase = s.cfg.InitialCash
	}
}

// State returns the machine state.
func (s *Simulator) State() State { return s.state }

// Step advances the simulation and returns the next event. When the previous
// event was need_strategy, inject may carry a freshly authored signal to
// splice into the stream; passing nil resumes without one. Either way the
// checkpoint is marked handled and never re-asked. After a terminal event,
// Step keeps returning that event.
func (s *Simulator) Step(inject *signal.Signal) Event {
	if s.state == StateCompleted && len(s.queue) == 0 {
		return *s.final
	}

	if s.state == StateAwaitingSignal {
		if inject != nil {
			s.spliceSignal(*inject)
			s.log.Debug("signal injected at checkpoint",
				zap.String("checkpoint", s.pending.Label),
				zap.String("action", string(inject.Action)))
		}
		s.cps.markHandled(*s.pending)
		s.pending = nil
		s.state = StateRunning
		s.processBar(s.bars[s.idx])
		s.idx++
	}

	for len(s.queue) == 0 {
		if s.idx >= len(s.bars) {
			s.settle()
			break
		}
		bar := s.bars[s.idx]
		if cp := s.cps.unmet(bar.Time, s.signals); cp != nil {
			s.state = StateAwaitingSignal
			s.pending = cp
			return Event{
				Type:       EventNeedStrategy,
				Time:       bar.Time,
				Checkpoint: cp.Label,
				Message:    fmt.Sprintf("no signal covers the %s window", cp.Label),
			}
		}
		s.processBar(bar)
		s.idx++
	}

	ev := s.queue[0]
	s.queue = s.queue[1:]
	return ev
}

// Run drives Step until a terminal event. When a checkpoint suspends the run,
// provide (if non-nil) is asked for a replacement signal; a nil provider or a
// nil return resumes without one.
func (s *Simulator) Run(provide func(checkpoint string, at time.Time) *signal.Signal) Result {
	var inject *signal.Signal
	for {
		ev := s.Step(inject)
		inject = nil
		if ev.Terminal() {
			return *ev.Result
		}
		if ev.Type == EventNeedStrategy && provide != nil {
			inject = provide(ev.Checkpoint, ev.Time)
		}
	}
}

// ErrorResult builds the terminal result for malformed driving inputs, used
// by callers that fail before a simulator can be constructed.
func ErrorResult(reason string) Result {
	return Result{Status: StatusError, Reason: reason, Trades: []Trade{}, EquityCurve: []EquityPoint{}}
}

func (s *Simulator) emit(ev Event) { s.queue = append(s.queue, ev) }

func (s *Simulator) terminate(ev Event) {
	s.final = &ev
	s.state = StateCompleted
	s.queue = append(s.queue, ev)
}

// spliceSignal inserts an injected signal keeping timestamp order, but never
// before the application cursor: a late-authored signal still applies on the
// current bar.
func (s *Simulator) spliceSignal(sg signal.Signal) {
	i := sort.Search(len(s.signals), func(i int) bool {
		return s.signals[i].Timestamp.After(sg.Timestamp)
	})
	if i < s.nextSig {
		i = s.nextSig
	}
	s.signals = append(s.signals, signal.Signal{})
	copy(s.signals[i+1:], s.signals[i:])
	s.signals[i] = sg
}

// processBar runs the strict per-bar sequence: due signals, order execution,
// real-trade replay, equity tick.
func (s *Simulator) processBar(bar Bar) {
	s.lastFill = nil
	s.applyDueSignals(bar)
	s.executeOrders(bar)
	s.replayer.applyDue(bar.Time, &s.real, s.emit)
	s.recordTick(bar)
}

func (s *Simulator) applyDueSignals(bar Bar) {
	for s.nextSig < len(s.signals) && !s.signals[s.nextSig].Timestamp.After(bar.Time) {
		sg := s.signals[s.nextSig]
		s.nextSig++
		s.applySignal(bar.Time, sg)
	}
}

func (s *Simulator) applySignal(now time.Time, sg signal.Signal) {
	s.emit(Event{
		Type:    EventSignal,
		Time:    now,
		Signal:  &sg,
		Message: fmt.Sprintf("strategy update: %s @ %.3f", sg.Action, sg.PriceTarget),
	})

	switch sg.Action {
	case signal.ActionBuy:
		if s.ai.Shares > 0 {
			// Never pyramids: a buy while holding is a no-op.
			s.emit(Event{Type: EventInfo, Time: now,
				Message: fmt.Sprintf("skip buy: already holding %d shares", s.ai.Shares)})
		} else {
			s.ai.pendingBuy = &buyOrder{Price: sg.PriceTarget}
		}
		s.ai.stopLoss = sg.StopLoss
		s.ai.takeProfit = sg.TakeProfit

	case signal.ActionSell:
		if s.ai.Shares > 0 {
			qty := sg.Quantity
			if qty <= 0 {
				if sg.PositionPct >= 0.99 {
					qty = s.ai.Shares
				} else {
					qty = roundDownLot(int64(float64(s.ai.Shares) * sg.PositionPct))
				}
			}
			if qty > s.ai.Shares {
				qty = s.ai.Shares
			}
			if qty < 0 {
				qty = 0
			}
			s.ai.pendingSell = &sellOrder{Price: sg.PriceTarget, Qty: qty}
		} else {
			s.emit(Event{Type: EventInfo, Time: now, Message: "skip sell: no position"})
		}
		if sg.StopLoss > 0 {
			s.ai.stopLoss = sg.StopLoss
		}
		if sg.TakeProfit > 0 {
			s.ai.takeProfit = sg.TakeProfit
		}

	case signal.ActionBuyStop:
		s.ai.pendingBuyStop = &buyOrder{Price: sg.PriceTarget}
		if sg.StopLoss > 0 {
			s.ai.stopLoss = sg.StopLoss
		}
		if sg.TakeProfit > 0 {
			s.ai.takeProfit = sg.TakeProfit
		}

	case signal.ActionSellStop:
		if s.ai.Shares > 0 {
			s.ai.pendingSellStop = &buyOrder{Price: sg.PriceTarget}
			s.emit(Event{Type: EventInfo, Time: now,
				Message: fmt.Sprintf("breakdown stop set: sell below %.3f", sg.PriceTarget)})
		} else {
			s.emit(Event{Type: EventInfo, Time: now, Message: "skip breakdown sell: no position to protect"})
		}
	}
}

// executeOrders matches the pending slots against the bar in a fixed order:
// limit buy, breakout buy, limit sell, then a single risk exit with the
// stop-loss checked before the take-profit.
func (s *Simulator) executeOrders(bar Bar) {
	if o := s.ai.pendingBuy; o != nil {
		if price := fillLimitBuy(bar, o.Price); price > 0 {
			if qty := s.ai.executeBuy(price); qty > 0 {
				s.recordFill(bar.Time, "BUY", price, qty, "signal fill")
			} else {
				s.emit(Event{Type: EventInfo, Time: bar.Time,
					Message: fmt.Sprintf("skip buy at %.3f: cash short of one lot", price)})
			}
			s.ai.pendingBuy = nil
		}
	}

	if o := s.ai.pendingBuyStop; o != nil && s.lastFill == nil {
		if price := fillStopBuy(bar, o.Price); price > 0 {
			if qty := s.ai.executeBuy(price); qty > 0 {
				s.recordFill(bar.Time, "BUY_STOP", price, qty, "breakout fill")
				s.emit(Event{Type: EventSignal, Time: bar.Time,
					Message: fmt.Sprintf("breakout buy filled @ %.3f", price)})
			} else {
				s.emit(Event{Type: EventInfo, Time: bar.Time,
					Message: fmt.Sprintf("skip breakout buy at %.3f: cash short of one lot", price)})
			}
			s.ai.pendingBuyStop = nil
		}
	}

	if o := s.ai.pendingSell; o != nil && s.ai.Shares > 0 {
		if price := fillLimitSell(bar, o.Price); price > 0 {
			if qty := s.ai.executeSell(price, o.Qty, false); qty > 0 {
				s.recordFill(bar.Time, "SELL", price, qty, "signal fill")
			}
			s.ai.pendingSell = nil
		}
	}

	if s.ai.Shares > 0 && s.lastFill == nil {
		var stopPrice float64
		if stop := s.ai.effectiveStop(); stop > 0 {
			stopPrice = fillStopSell(bar, stop)
		}
		if stopPrice > 0 {
			price := stopPrice
			qty := s.ai.executeSell(price, s.ai.Shares, true)
			s.recordFill(bar.Time, "SELL_STOP", price, qty, "stop-loss fill")
			s.ai.clearRisk()
			s.emit(Event{Type: EventSignal, Time: bar.Time,
				Message: fmt.Sprintf("stop-loss sell filled @ %.3f", price)})
		} else if tp := s.ai.takeProfit; tp > 0 {
			if price := fillLimitSell(bar, tp); price > 0 {
				qty := s.ai.executeSell(price, s.ai.Shares, false)
				s.recordFill(bar.Time, "SELL", price, qty, "take-profit fill")
			}
		}
	}
}

func (s *Simulator) recordFill(ts time.Time, action string, price float64, qty int64, reason string) {
	t := Trade{Time: ts, Action: action, Price: price, Shares: qty, Reason: reason}
	s.trades = append(s.trades, t)
	s.lastFill = &t
	s.log.Debug("order filled",
		zap.String("action", action),
		zap.Float64("price", price),
		zap.Int64("shares", qty))
}

func (s *Simulator) recordTick(bar Bar) {
	aiEq := s.ai.Equity(bar.Close)
	realEq := s.real.Equity(bar.Close)
	s.curve = append(s.curve, EquityPoint{Time: bar.Time, AIEquity: aiEq, RealEquity: realEq, Price: bar.Close})

	s.emit(Event{Type: EventTick, Time: bar.Time, Tick: &Tick{
		Progress:     float64(s.idx+1) / float64(len(s.bars)),
		Price:        bar.Close,
		Equity:       aiEq,
		RealEquity:   realEq,
		Position:     s.ai.Shares,
		RealPosition: s.real.Shares,
		PnlPct:       pctChange(aiEq, s.baseVal),
		RealPnlPct:   pctChange(realEq, s.realBase),
		Trade:        s.lastFill,
	}})
}

// settle applies any post-close real transactions, then emits the terminal
// settlement.
func (s *Simulator) settle() {
	s.replayer.applyRemaining(&s.real)

	last := s.bars[len(s.bars)-1]
	aiEq := s.ai.Equity(last.Close)
	realEq := s.real.Equity(last.Close)

	res := Result{
		Status:          StatusCompleted,
		Reason:          "EOD settlement",
		PnlPct:          pctChange(aiEq, s.baseVal),
		RealPnlPct:      pctChange(realEq, s.realBase),
		FinalEquity:     aiEq,
		RealFinalEquity: realEq,
		FinalCash:       s.ai.Cash,
		RealFinalCash:   s.real.Cash,
		FinalShares:     s.ai.Shares,
		RealFinalShares: s.real.Shares,
		BaseValue:       s.baseVal,
		RealBaseValue:   s.realBase,
		Trades:          s.trades,
		EquityCurve:     s.curve,
		RealTradeCount:  s.replayer.count(),
		InputsHash:      s.hash,
	}
	s.terminate(Event{Type: EventCompleted, Time: last.Time, Message: "EOD settlement", Result: &res})
	s.log.Info("day simulation settled",
		zap.String("symbol", s.cfg.Symbol),
		zap.String("day", s.cfg.Day.Format("2006-01-02")),
		zap.Float64("pnl_pct", res.PnlPct),
		zap.Float64("real_pnl_pct", res.RealPnlPct),
		zap.Int("trades", len(res.Trades)))
}

// pctChange guards the zero-base case: a degenerate base valuation reports
// flat PnL instead of dividing by zero.
func pctChange(v, base float64) float64 {
	if base == 0 {
		return 0
	}
	return (v - base) / base * 100
}
