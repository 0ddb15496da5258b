package signal

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// The parser tries a fixed sequence of tiers, highest-confidence first. Each
// tier either produces a populated signal or reports no match; the fallback is
// always a hold, never an error.

var blockHeaders = []string{
	"[decision summary]",
	"[intraday plan]",
	"[premarket plan]",
}

var (
	reFirstNumber  = regexp.MustCompile(`(\d+\.?\d*)`)
	reDecimalPrice = regexp.MustCompile(`(\d+\.\d+)`)
	reAnnotation   = regexp.MustCompile(`^(.*?)\s*\((.*?)\)\s*$`)
	rePercent      = regexp.MustCompile(`(\d+)\s*%`)
	reShareCount   = regexp.MustCompile(`(\d+)\s*(?:shares|shs|lots)`)
	reBreakAbove   = regexp.MustCompile(`breaks?\s+above\s+(\d+\.?\d*)`)
	reBreakBelow   = regexp.MustCompile(`breaks?\s+below\s+(\d+\.?\d*)`)
	reStopLoss     = regexp.MustCompile(`(?:stop[\s-]?loss|protective stop|defend)\D{0,16}?(\d+\.\d+)`)
	reTakeProfit   = regexp.MustCompile(`(?:take[\s-]?profit|target price|upside target)\D{0,16}?(\d+\.\d+)`)
)

var buyWords = []string{"buy", "accumulate", "add on dip", "go long", "enter long", "scale in"}
var sellWords = []string{"sell", "trim", "reduce", "exit", "liquidate", "close out"}

// Parse converts a raw decision-log record into a Signal. The timestamp comes
// from the log record, not the text.
func Parse(ts time.Time, text string) Signal {
	sig := Signal{
		Timestamp:   ts,
		Action:      ActionHold,
		PositionPct: 1.0,
		Raw:         text,
	}
	lower := strings.ToLower(text)

	if parseBlock(lower, &sig) {
		sig.Tier = TierBlock
		return sig
	}
	if parseBreakout(lower, &sig) {
		sig.Tier = TierBreakout
		return sig
	}
	if parseAdvice(lower, &sig) {
		sig.Tier = TierAdvice
		return sig
	}
	sig.Tier = TierNone
	return sig
}

// stripAnnotation removes a trailing bracketed note, e.g.
// "9.85 (near support)" -> "9.85".
func stripAnnotation(v string) string {
	if m := reAnnotation.FindStringSubmatch(v); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(v)
}

func firstNumber(v string) float64 {
	if m := reFirstNumber.FindStringSubmatch(v); m != nil {
		f, err := strconv.ParseFloat(m[1], 64)
		if err == nil {
			return f
		}
	}
	return 0
}

// parseBlock handles tier 1: a labeled block with one field per line.
func parseBlock(text string, sig *Signal) bool {
	found := false
	for _, h := range blockHeaders {
		if strings.Contains(text, h) {
			found = true
			break
		}
	}
	if !found {
		return false
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		key, val, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = stripAnnotation(val)

		switch key {
		case "direction":
			switch {
			case containsAny(val, buyWords):
				sig.Action = ActionBuy
			case containsAny(val, sellWords):
				sig.Action = ActionSell
			default:
				sig.Action = ActionHold
			}
		case "suggested price", "order price":
			sig.PriceTarget = firstNumber(val)
		case "suggested size", "sell size":
			if m := rePercent.FindStringSubmatch(val); m != nil {
				pct, _ := strconv.ParseFloat(m[1], 64)
				sig.PositionPct = pct / 100.0
			} else if n := firstNumber(val); n > 0 {
				sig.Quantity = int64(n)
			}
		case "stop loss":
			sig.StopLoss = firstNumber(val)
		case "take profit":
			sig.TakeProfit = firstNumber(val)
		}
	}
	return true
}

// parseBreakout handles tier 2: conditional phrasing around a breakout or
// breakdown level, yielding a stop-style order.
func parseBreakout(text string, sig *Signal) bool {
	if m := reBreakAbove.FindStringSubmatch(text); m != nil {
		sig.Action = ActionBuyStop
		sig.PriceTarget, _ = strconv.ParseFloat(m[1], 64)
	} else if m := reBreakBelow.FindStringSubmatch(text); m != nil {
		sig.Action = ActionSellStop
		sig.PriceTarget, _ = strconv.ParseFloat(m[1], 64)
	} else {
		return false
	}

	if m := reStopLoss.FindStringSubmatch(text); m != nil {
		sig.StopLoss, _ = strconv.ParseFloat(m[1], 64)
	}
	if m := reTakeProfit.FindStringSubmatch(text); m != nil {
		sig.TakeProfit, _ = strconv.ParseFloat(m[1], 64)
	}
	return true
}

// parseAdvice handles tier 3: a general-advice sentence with a directional
// keyword and at least one decimal price.
func parseAdvice(text string, sig *Signal) bool {
	var action Action
	switch {
	case containsAny(text, buyWords):
		action = ActionBuy
	case containsAny(text, sellWords):
		action = ActionSell
	default:
		return false
	}

	prices := reDecimalPrice.FindAllString(text, -1)
	if len(prices) == 0 {
		return false
	}
	sig.Action = action
	sig.PriceTarget, _ = strconv.ParseFloat(prices[0], 64)

	if m := reShareCount.FindStringSubmatch(text); m != nil {
		sig.Quantity, _ = strconv.ParseInt(m[1], 10, 64)
	}
	if m := reStopLoss.FindStringSubmatch(text); m != nil {
		sig.StopLoss, _ = strconv.ParseFloat(m[1], 64)
	}
	if m := reTakeProfit.FindStringSubmatch(text); m != nil {
		sig.TakeProfit, _ = strconv.ParseFloat(m[1], 64)
	}
	return true
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
