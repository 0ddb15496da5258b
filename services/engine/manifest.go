package engine

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
)

// inputsDigest hashes everything that determines a run's outcome: bars,
// signals and real transactions in their processed order, plus the initial
// ledgers. Two runs with the same digest must produce identical settlements.
func (s *Simulator) inputsDigest() string {
	h := sha256.New()
	w := func(vs ...float64) {
		var buf [8]byte
		for _, v := range vs {
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
			h.Write(buf[:])
		}
	}
	for _, b := range s.bars {
		w(float64(b.Time.UnixNano()), b.Open, b.High, b.Low, b.Close, b.Volume)
	}
	for _, sg := range s.signals {
		h.Write([]byte(sg.Action))
		w(float64(sg.Timestamp.UnixNano()), sg.PriceTarget, sg.StopLoss, sg.TakeProfit,
			float64(sg.Quantity), sg.PositionPct)
	}
	for _, tx := range s.replayer.txs {
		h.Write([]byte(tx.Type))
		w(float64(tx.Time.UnixNano()), tx.Price, float64(tx.Amount))
	}
	w(s.cfg.InitialCash, float64(s.cfg.InitialShares), s.cfg.InitialCost)
	return fmt.Sprintf("%x", h.Sum(nil))
}
