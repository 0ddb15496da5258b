package engine

import (
	"fmt"
	"sort"
	"time"
)

type TxType string

const (
	TxBuy      TxType = "buy"
	TxSell     TxType = "sell"
	TxOverride TxType = "override" // directly resets the share count
)

// RealTransaction is one recorded historical transaction. These are facts, not
// hypothetical orders: the replayer applies them without affordability checks.
type RealTransaction struct {
	Time   time.Time
	Type   TxType
	Price  float64
	Amount int64
}

// realReplayer merges a date-filtered, time-sorted transaction list into the
// real pipeline as the bar loop advances.
type realReplayer struct {
	txs  []RealTransaction
	next int
}

func newRealReplayer(txs []RealTransaction, day time.Time) *realReplayer {
	y, m, d := day.Date()
	var dayTxs []RealTransaction
	for _, tx := range txs {
		ty, tm, td := tx.Time.Date()
		if ty == y && tm == m && td == d {
			dayTxs = append(dayTxs, tx)
		}
	}
	sort.SliceStable(dayTxs, func(i, j int) bool { return dayTxs[i].Time.Before(dayTxs[j].Time) })
	return &realReplayer{txs: dayTxs}
}

func (r *realReplayer) count() int { return len(r.txs) }

// applyDue replays every transaction timestamped at or before now, emitting
// one event per application.
func (r *realReplayer) applyDue(now time.Time, p *PipelineState, emit func(Event)) {
	for r.next < len(r.txs) && !r.txs[r.next].Time.After(now) {
		tx := r.txs[r.next]
		applied := applyRealTx(p, tx)
		emit(realTradeEvent(tx, applied))
		r.next++
	}
}

// applyRemaining handles post-close records (after the last bar) so the final
// real equity reflects them. No events, the loop is already done.
func (r *realReplayer) applyRemaining(p *PipelineState) {
	for ; r.next < len(r.txs); r.next++ {
		applyRealTx(p, r.txs[r.next])
	}
}

// applyRealTx mutates the ledger and returns the share quantity actually
// applied (sells are capped at the current position).
func applyRealTx(p *PipelineState, tx RealTransaction) int64 {
	switch tx.Type {
	case TxBuy:
		p.Cash -= float64(tx.Amount)*tx.Price + buyFee()
		p.Shares += tx.Amount
		return tx.Amount
	case TxSell:
		qty := tx.Amount
		if qty > p.Shares {
			qty = p.Shares
		}
		proceeds := float64(qty) * tx.Price
		p.Cash += proceeds - sellFee(proceeds)
		p.Shares -= qty
		return qty
	case TxOverride:
		// Manual position correction. The compensating cash adjustment keeps
		// equity continuous across the reset.
		delta := tx.Amount - p.Shares
		if tx.Price > 0 {
			p.Cash -= float64(delta) * tx.Price
		}
		p.Shares = tx.Amount
		return delta
	}
	return 0
}

func realTradeEvent(tx RealTransaction, applied int64) Event {
	e := Event{Type: EventRealTrade, Time: tx.Time}
	switch tx.Type {
	case TxBuy:
		e.Trade = &Trade{Time: tx.Time, Action: "BUY", Price: tx.Price, Shares: applied, Reason: "recorded trade"}
		e.Message = fmt.Sprintf("replayed buy %d @ %.3f", applied, tx.Price)
	case TxSell:
		e.Trade = &Trade{Time: tx.Time, Action: "SELL", Price: tx.Price, Shares: applied, Reason: "recorded trade"}
		e.Message = fmt.Sprintf("replayed sell %d @ %.3f", applied, tx.Price)
	case TxOverride:
		e.Message = fmt.Sprintf("position override %+d shares", applied)
	}
	return e
}
