package engine

import (
	"sort"
	"time"
)

// Bar represents a single minute OHLCV bar.
type Bar struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// SortAndDedup orders bars ascending by time and collapses duplicate
// timestamps, keeping the last occurrence.
func SortAndDedup(bars []Bar) []Bar {
	if len(bars) < 2 {
		return bars
	}
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })
	uniq := bars[:0:0]
	for _, b := range bars {
		if n := len(uniq); n > 0 && uniq[n-1].Time.Equal(b.Time) {
			uniq[n-1] = b
			continue
		}
		uniq = append(uniq, b)
	}
	return uniq
}

// FilterDay keeps only bars whose timestamp falls on the given calendar day.
func FilterDay(bars []Bar, day time.Time) []Bar {
	y, m, d := day.Date()
	var out []Bar
	for _, b := range bars {
		by, bm, bd := b.Time.Date()
		if by == y && bm == m && bd == d {
			out = append(out, b)
		}
	}
	return out
}

// DetectGaps returns the timestamps after which a gap larger than step exists
// in an ascending bar sequence.
func DetectGaps(bars []Bar, step time.Duration) []time.Time {
	var gaps []time.Time
	for i := 1; i < len(bars); i++ {
		if bars[i].Time.Sub(bars[i-1].Time) > step {
			gaps = append(gaps, bars[i-1].Time)
		}
	}
	return gaps
}

// firstValidPrice scans the day for the first positive price, preferring the
// open column, then close/high/low. Suspended or corrupt bars can carry zero
// prices.
func firstValidPrice(bars []Bar) float64 {
	for _, b := range bars {
		if b.Open > 0 {
			return b.Open
		}
	}
	for _, pick := range []func(Bar) float64{
		func(b Bar) float64 { return b.Close },
		func(b Bar) float64 { return b.High },
		func(b Bar) float64 { return b.Low },
	} {
		for _, b := range bars {
			if p := pick(b); p > 0 {
				return p
			}
		}
	}
	return 0
}
