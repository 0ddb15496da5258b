package engine

import (
	"math"
	"reflect"
	"testing"
	"time"

	"replaylab/services/signal"
)

func ts(hh, mm int) time.Time {
	return time.Date(2024, 3, 15, hh, mm, 0, 0, time.UTC)
}

func bar(hh, mm int, o, h, l, c float64) Bar {
	return Bar{Time: ts(hh, mm), Open: o, High: h, Low: l, Close: c, Volume: 1000}
}

// runUnattended steps the simulator to completion without injecting signals,
// failing the test on any checkpoint suspension.
func runUnattended(t *testing.T, s *Simulator) (Result, []Event) {
	t.Helper()
	var events []Event
	for i := 0; i < 100000; i++ {
		ev := s.Step(nil)
		events = append(events, ev)
		if ev.Terminal() {
			return *ev.Result, events
		}
		if ev.Type == EventNeedStrategy {
			t.Fatalf("unexpected suspension at %s (%s)", ev.Time, ev.Checkpoint)
		}
	}
	t.Fatal("simulation did not terminate")
	return Result{}, nil
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestLimitBuyGapFill(t *testing.T) {
	cfg := Config{Symbol: "600000", Day: ts(0, 0), InitialCash: 100000, Checkpoints: []Checkpoint{}}
	bars := []Bar{bar(9, 30, 10.00, 10.05, 9.80, 9.85)}
	sigs := []signal.Signal{{Timestamp: ts(9, 30), Action: signal.ActionBuy, PriceTarget: 9.90}}

	res, _ := runUnattended(t, New(cfg, bars, sigs, nil))

	if len(res.Trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(res.Trades))
	}
	tr := res.Trades[0]
	if tr.Action != "BUY" || tr.Price != 9.90 {
		t.Fatalf("fill = %s @ %.3f, want BUY @ 9.900", tr.Action, tr.Price)
	}
	// 100000 cash minus the flat fee buys 101 lots at 9.90.
	if tr.Shares != 10100 {
		t.Fatalf("shares = %d, want 10100", tr.Shares)
	}
	if !approx(res.FinalCash, 100000-10100*9.90-5) {
		t.Fatalf("final cash = %.4f", res.FinalCash)
	}
}

func TestLimitBuyGapDownImprovesToOpen(t *testing.T) {
	cfg := Config{Symbol: "600000", Day: ts(0, 0), InitialCash: 100000, Checkpoints: []Checkpoint{}}
	bars := []Bar{bar(9, 30, 9.70, 9.75, 9.60, 9.65)}
	sigs := []signal.Signal{{Timestamp: ts(9, 30), Action: signal.ActionBuy, PriceTarget: 9.90}}

	res, _ := runUnattended(t, New(cfg, bars, sigs, nil))

	if len(res.Trades) != 1 || res.Trades[0].Price != 9.70 {
		t.Fatalf("trades = %+v, want one BUY at the 9.70 open", res.Trades)
	}
}

func TestStopLossGapDownFillsAtOpen(t *testing.T) {
	cfg := Config{
		Symbol: "600000", Day: ts(0, 0),
		InitialCash: 30000, InitialShares: 1000, InitialCost: 10.00,
		Checkpoints: []Checkpoint{},
	}
	bars := []Bar{
		bar(9, 30, 10.00, 10.10, 9.95, 10.00),
		bar(9, 31, 9.30, 9.40, 9.20, 9.25),
	}
	// A buy directive while holding is skipped but still arms the stop.
	sigs := []signal.Signal{{Timestamp: ts(9, 30), Action: signal.ActionBuy, PriceTarget: 9.80, StopLoss: 9.50}}

	res, _ := runUnattended(t, New(cfg, bars, sigs, nil))

	if len(res.Trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(res.Trades))
	}
	tr := res.Trades[0]
	if tr.Action != "SELL_STOP" || tr.Price != 9.30 || tr.Shares != 1000 {
		t.Fatalf("fill = %s %d @ %.3f, want SELL_STOP 1000 @ 9.300", tr.Action, tr.Shares, tr.Price)
	}
	if res.FinalShares != 0 {
		t.Fatalf("final shares = %d, want 0", res.FinalShares)
	}
	proceeds := 1000 * 9.30
	wantCash := 20000 + proceeds - proceeds*sellFeeRate - proceeds*stampTaxRate
	if !approx(res.FinalCash, wantCash) {
		t.Fatalf("final cash = %.4f, want %.4f", res.FinalCash, wantCash)
	}
}

func TestStopLossCheckedBeforeTakeProfit(t *testing.T) {
	cfg := Config{
		Symbol: "600000", Day: ts(0, 0),
		InitialCash: 30000, InitialShares: 1000, InitialCost: 10.00,
		Checkpoints: []Checkpoint{},
	}
	// Wide bar crossing both levels in one minute: the stop wins.
	bars := []Bar{bar(9, 30, 10.00, 10.60, 9.40, 10.00)}
	sigs := []signal.Signal{{
		Timestamp: ts(9, 30), Action: signal.ActionBuy,
		PriceTarget: 9.00, StopLoss: 9.50, TakeProfit: 10.50,
	}}

	res, _ := runUnattended(t, New(cfg, bars, sigs, nil))

	if len(res.Trades) != 1 || res.Trades[0].Action != "SELL_STOP" {
		t.Fatalf("trades = %+v, want a single SELL_STOP", res.Trades)
	}
	if res.Trades[0].Price != 9.50 {
		t.Fatalf("stop fill = %.3f, want 9.500", res.Trades[0].Price)
	}
}

func TestNoPyramiding(t *testing.T) {
	cfg := Config{
		Symbol: "600000", Day: ts(0, 0),
		InitialCash: 50000, InitialShares: 1000, InitialCost: 10.00,
		Checkpoints: []Checkpoint{},
	}
	bars := []Bar{
		bar(9, 30, 10.00, 10.10, 9.90, 10.00),
		bar(9, 31, 10.00, 10.10, 9.90, 10.00),
	}
	sigs := []signal.Signal{
		{Timestamp: ts(9, 30), Action: signal.ActionBuy, PriceTarget: 10.00},
		{Timestamp: ts(9, 31), Action: signal.ActionBuy, PriceTarget: 10.00},
	}

	res, events := runUnattended(t, New(cfg, bars, sigs, nil))

	if len(res.Trades) != 0 {
		t.Fatalf("trades = %+v, want none while already holding", res.Trades)
	}
	if res.FinalShares != 1000 {
		t.Fatalf("final shares = %d, want 1000", res.FinalShares)
	}
	skips := 0
	for _, ev := range events {
		if ev.Type == EventInfo {
			skips++
		}
	}
	if skips != 2 {
		t.Fatalf("info events = %d, want 2 skip notices", skips)
	}
}

func TestInsufficientCashSkipsBuy(t *testing.T) {
	cfg := Config{Symbol: "600000", Day: ts(0, 0), InitialCash: 900, Checkpoints: []Checkpoint{}}
	bars := []Bar{bar(9, 30, 10.00, 10.10, 9.90, 10.00)}
	sigs := []signal.Signal{{Timestamp: ts(9, 30), Action: signal.ActionBuy, PriceTarget: 10.00}}

	res, _ := runUnattended(t, New(cfg, bars, sigs, nil))

	if len(res.Trades) != 0 {
		t.Fatalf("trades = %+v, want none", res.Trades)
	}
	if res.FinalCash != 900 {
		t.Fatalf("final cash = %.2f, want untouched 900", res.FinalCash)
	}
}

func TestOverrideReconciliation(t *testing.T) {
	realShares := int64(5000)
	realCash := 10000.0
	cfg := Config{
		Symbol: "600000", Day: ts(0, 0),
		InitialCash: 50000, InitialShares: 5000, InitialCost: 8.00,
		RealShares: &realShares, RealCash: &realCash,
		Checkpoints: []Checkpoint{},
	}
	bars := []Bar{
		bar(9, 30, 8.00, 8.10, 7.90, 8.00),
		bar(9, 31, 8.00, 8.10, 7.90, 8.00),
	}
	txs := []RealTransaction{{Time: ts(9, 31), Type: TxOverride, Price: 8.00, Amount: 3000}}

	res, events := runUnattended(t, New(cfg, bars, nil, txs))

	if res.RealFinalShares != 3000 {
		t.Fatalf("real shares = %d, want 3000", res.RealFinalShares)
	}
	// Shrinking the position by 2000 shares at 8.00 credits the cash leg.
	if !approx(res.RealFinalCash, 10000+2000*8.00) {
		t.Fatalf("real cash = %.4f, want 26000", res.RealFinalCash)
	}
	found := false
	for _, ev := range events {
		if ev.Type == EventRealTrade {
			found = true
		}
	}
	if !found {
		t.Fatal("no real_trade event emitted for the override")
	}
	if res.RealTradeCount != 1 {
		t.Fatalf("real trade count = %d, want 1", res.RealTradeCount)
	}
}

func TestCheckpointSuspendsAndResumesSameBar(t *testing.T) {
	cfg := Config{Symbol: "600000", Day: ts(0, 0), InitialCash: 100000}
	var bars []Bar
	for m := 0; m <= 60; m++ {
		bars = append(bars, bar(9, 30, 10.00, 10.05, 9.95, 10.00))
		bars[len(bars)-1].Time = ts(9, 30).Add(time.Duration(m) * time.Minute)
	}

	s := New(cfg, bars, nil, nil)
	var suspended *Event
	for i := 0; i < 1000; i++ {
		ev := s.Step(nil)
		if ev.Type == EventNeedStrategy {
			suspended = &ev
			break
		}
		if ev.Terminal() {
			t.Fatal("terminated before the mid-morning checkpoint")
		}
	}
	if suspended == nil {
		t.Fatal("checkpoint never fired")
	}
	if suspended.Checkpoint != "mid-morning" || !suspended.Time.Equal(ts(10, 30)) {
		t.Fatalf("suspended at %s (%s), want mid-morning @ 10:30", suspended.Time, suspended.Checkpoint)
	}
	if s.State() != StateAwaitingSignal {
		t.Fatalf("state = %d, want StateAwaitingSignal", s.State())
	}

	inject := &signal.Signal{Timestamp: suspended.Time, Action: signal.ActionBuy, PriceTarget: 10.00}
	var fill *Trade
	ev := s.Step(inject)
	for !ev.Terminal() {
		if ev.Type == EventNeedStrategy {
			t.Fatalf("re-suspended at %s after resume", ev.Time)
		}
		if ev.Type == EventTick && ev.Tick.Trade != nil {
			fill = ev.Tick.Trade
		}
		ev = s.Step(nil)
	}
	if fill == nil {
		t.Fatal("injected buy never filled")
	}
	if !fill.Time.Equal(ts(10, 30)) {
		t.Fatalf("fill at %s, want the suspension bar 10:30", fill.Time)
	}
}

func TestCheckpointResumeWithoutSignal(t *testing.T) {
	cfg := Config{Symbol: "600000", Day: ts(0, 0), InitialCash: 100000}
	var bars []Bar
	for m := 0; m <= 70; m++ {
		b := bar(9, 30, 10.00, 10.05, 9.95, 10.00)
		b.Time = ts(9, 30).Add(time.Duration(m) * time.Minute)
		bars = append(bars, b)
	}

	s := New(cfg, bars, nil, nil)
	asked := 0
	for i := 0; i < 1000; i++ {
		ev := s.Step(nil)
		if ev.Type == EventNeedStrategy {
			asked++
		}
		if ev.Terminal() {
			if ev.Result.Status != StatusCompleted {
				t.Fatalf("status = %s", ev.Result.Status)
			}
			break
		}
	}
	if asked != 1 {
		t.Fatalf("mid-morning checkpoint asked %d times, want exactly once", asked)
	}
}

func TestDeterminism(t *testing.T) {
	build := func() *Simulator {
		cfg := Config{
			Symbol: "600000", Day: ts(0, 0),
			InitialCash: 100000, InitialShares: 2000, InitialCost: 9.80,
			Checkpoints: []Checkpoint{},
		}
		bars := []Bar{
			bar(9, 30, 10.00, 10.20, 9.90, 10.10),
			bar(9, 31, 10.10, 10.30, 10.00, 10.25),
			bar(9, 32, 10.25, 10.40, 9.60, 9.70),
			bar(9, 33, 9.70, 9.90, 9.50, 9.80),
		}
		sigs := []signal.Signal{
			{Timestamp: ts(9, 30), Action: signal.ActionSell, PriceTarget: 10.15, PositionPct: 0.5},
			{Timestamp: ts(9, 32), Action: signal.ActionBuy, PriceTarget: 9.65, StopLoss: 9.40},
		}
		txs := []RealTransaction{
			{Time: ts(9, 31), Type: TxSell, Price: 10.20, Amount: 1000},
			{Time: ts(9, 33), Type: TxBuy, Price: 9.60, Amount: 500},
		}
		return New(cfg, bars, sigs, txs)
	}

	a, _ := runUnattended(t, build())
	b, _ := runUnattended(t, build())

	if !reflect.DeepEqual(a, b) {
		t.Fatalf("identical inputs diverged:\n%+v\n%+v", a, b)
	}
	if a.InputsHash == "" || a.InputsHash != b.InputsHash {
		t.Fatalf("inputs hash mismatch: %q vs %q", a.InputsHash, b.InputsHash)
	}
}

func TestEquityIdentity(t *testing.T) {
	cfg := Config{
		Symbol: "600000", Day: ts(0, 0),
		InitialCash: 100000, InitialShares: 1000, InitialCost: 10.00,
		Checkpoints: []Checkpoint{},
	}
	bars := []Bar{
		bar(9, 30, 10.00, 10.20, 9.90, 10.10),
		bar(9, 31, 10.10, 10.30, 10.00, 10.25),
	}
	sigs := []signal.Signal{{Timestamp: ts(9, 31), Action: signal.ActionSell, PriceTarget: 10.20, PositionPct: 1.0}}

	res, _ := runUnattended(t, New(cfg, bars, sigs, nil))

	last := bars[len(bars)-1]
	if !approx(res.FinalEquity, res.FinalCash+float64(res.FinalShares)*last.Close) {
		t.Fatalf("equity %.4f != cash %.4f + %d * %.2f",
			res.FinalEquity, res.FinalCash, res.FinalShares, last.Close)
	}
	for _, pt := range res.EquityCurve {
		if pt.AIEquity < 0 || pt.RealEquity < 0 {
			t.Fatalf("negative equity point at %s", pt.Time)
		}
	}
	if res.FinalCash < 0 || res.FinalShares < 0 {
		t.Fatalf("negative ledger: cash %.4f shares %d", res.FinalCash, res.FinalShares)
	}
}

func TestPostCloseTransactionsSettle(t *testing.T) {
	cfg := Config{
		Symbol: "600000", Day: ts(0, 0),
		InitialCash: 100000, InitialShares: 1000, InitialCost: 10.00,
		Checkpoints: []Checkpoint{},
	}
	bars := []Bar{bar(9, 30, 10.00, 10.10, 9.90, 10.00)}
	txs := []RealTransaction{{Time: ts(15, 30), Type: TxSell, Price: 10.05, Amount: 1000}}

	res, events := runUnattended(t, New(cfg, bars, nil, txs))

	if res.RealFinalShares != 0 {
		t.Fatalf("real shares = %d, want 0 after post-close catch-up", res.RealFinalShares)
	}
	for _, ev := range events {
		if ev.Type == EventRealTrade {
			t.Fatal("post-close transaction must not emit a bar-loop event")
		}
	}
	if res.RealTradeCount != 1 {
		t.Fatalf("real trade count = %d, want 1", res.RealTradeCount)
	}
}

func TestSettlementTradeCountConsistency(t *testing.T) {
	cfg := Config{Symbol: "600000", Day: ts(0, 0), InitialCash: 100000, Checkpoints: []Checkpoint{}}
	bars := []Bar{
		bar(9, 30, 10.00, 10.10, 9.90, 10.00),
		bar(9, 31, 10.00, 10.10, 9.90, 10.00),
	}
	sigs := []signal.Signal{
		{Timestamp: ts(9, 30), Action: signal.ActionBuy, PriceTarget: 10.00},
		{Timestamp: ts(9, 31), Action: signal.ActionSell, PriceTarget: 10.00, PositionPct: 1.0},
	}

	res, events := runUnattended(t, New(cfg, bars, sigs, nil))

	fills := 0
	for _, ev := range events {
		if ev.Type == EventTick && ev.Tick.Trade != nil {
			fills++
		}
	}
	if fills != len(res.Trades) {
		t.Fatalf("tick fills %d != settled trades %d", fills, len(res.Trades))
	}
	if len(res.Trades) != 2 {
		t.Fatalf("trades = %d, want buy then sell", len(res.Trades))
	}
}

func TestNoDataTerminal(t *testing.T) {
	cfg := Config{Symbol: "600000", Day: ts(0, 0), InitialCash: 100000}
	s := New(cfg, nil, nil, nil)

	ev := s.Step(nil)
	if ev.Type != EventNoData || ev.Result == nil {
		t.Fatalf("event = %+v, want terminal no_data", ev)
	}
	if ev.Result.Status != StatusNoData {
		t.Fatalf("status = %s", ev.Result.Status)
	}
	if ev.Result.Trades == nil || ev.Result.EquityCurve == nil {
		t.Fatal("terminal result must carry empty, non-nil lists")
	}
	again := s.Step(nil)
	if again.Type != EventNoData {
		t.Fatalf("terminal event not idempotent: %v", again.Type)
	}
}

func TestBreakoutBuyStop(t *testing.T) {
	cfg := Config{Symbol: "600000", Day: ts(0, 0), InitialCash: 100000, Checkpoints: []Checkpoint{}}
	bars := []Bar{
		bar(9, 30, 10.00, 10.10, 9.90, 10.00),
		bar(9, 31, 10.10, 10.40, 10.05, 10.35),
	}
	sigs := []signal.Signal{{Timestamp: ts(9, 30), Action: signal.ActionBuyStop, PriceTarget: 10.20}}

	res, _ := runUnattended(t, New(cfg, bars, sigs, nil))

	if len(res.Trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(res.Trades))
	}
	tr := res.Trades[0]
	if tr.Action != "BUY_STOP" || tr.Price != 10.20 || !tr.Time.Equal(ts(9, 31)) {
		t.Fatalf("fill = %s @ %.3f at %s, want BUY_STOP @ 10.200 on the breakout bar",
			tr.Action, tr.Price, tr.Time)
	}
}

func TestBreakdownSellStopUsesHigherLevel(t *testing.T) {
	cfg := Config{
		Symbol: "600000", Day: ts(0, 0),
		InitialCash: 30000, InitialShares: 1000, InitialCost: 10.00,
		Checkpoints: []Checkpoint{},
	}
	bars := []Bar{
		bar(9, 30, 10.00, 10.10, 9.95, 10.00),
		bar(9, 31, 9.80, 9.85, 9.55, 9.60),
	}
	sigs := []signal.Signal{
		{Timestamp: ts(9, 30), Action: signal.ActionBuy, PriceTarget: 9.00, StopLoss: 9.40},
		{Timestamp: ts(9, 30), Action: signal.ActionSellStop, PriceTarget: 9.70},
	}

	res, _ := runUnattended(t, New(cfg, bars, sigs, nil))

	if len(res.Trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(res.Trades))
	}
	// The breakdown level 9.70 sits above the 9.40 stop-loss and exits first.
	if res.Trades[0].Price != 9.70 {
		t.Fatalf("exit = %.3f, want the 9.70 breakdown level", res.Trades[0].Price)
	}
}
