package market

import (
	"math"
	"strconv"
	"strings"

	"github.com/wonny/talos/internal/signal"
)

// Default exchange increments for linear USDT perpetuals.
const (
	DefaultTickSize = 0.01
	DefaultQtyStep  = 0.001
)

// RoundPrice floors a price to the tick size
func RoundPrice(price, tick float64) float64 {
	return roundDown(price, tick)
}

// RoundQuantity floors a quantity to the step size
func RoundQuantity(qty, step float64) float64 {
	return roundDown(qty, step)
}

// roundDown floors value to a multiple of increment.
// 부동소수 오차 보정을 위해 increment 자릿수로 재반올림한다.
func roundDown(value, increment float64) float64 {
	if increment <= 0 {
		return value
	}
	steps := math.Floor(value/increment + 1e-9)
	return roundToDecimals(steps*increment, decimalsOf(increment))
}

func decimalsOf(increment float64) int {
	s := strconv.FormatFloat(increment, 'f', -1, 64)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return len(s) - i - 1
	}
	return 0
}

func roundToDecimals(value float64, decimals int) float64 {
	p := math.Pow10(decimals)
	return math.Round(value*p) / p
}

// PositionSize calculates a risk-based position size:
// (balance × risk% × entry) / |entry − stop|, scaled by leverage and
// floored to the quantity step. A degenerate risk distance yields zero.
func PositionSize(balance, riskPercent, entry, stopLoss float64, leverage int, qtyStep float64) float64 {
	priceDiff := math.Abs(entry - stopLoss)
	if priceDiff == 0 {
		return 0
	}

	riskAmount := balance * (riskPercent / 100)
	size := (riskAmount * entry) / priceDiff
	if leverage > 1 {
		size *= float64(leverage)
	}

	return RoundQuantity(size, qtyStep)
}

// PnL returns the unrealized profit for a position
func PnL(entry, current, qty float64, side signal.Side) float64 {
	if side == signal.SideBuy {
		return (current - entry) * qty
	}
	return (entry - current) * qty
}

// PnLPercent returns the unleveraged profit percentage for a position
func PnLPercent(entry, current float64, side signal.Side) float64 {
	if entry == 0 {
		return 0
	}
	if side == signal.SideBuy {
		return ((current - entry) / entry) * 100
	}
	return ((entry - current) / entry) * 100
}

// PyramidLadder returns `steps` evenly spaced prices from entry to target,
// inclusive of both ends, monotonic toward the target.
func PyramidLadder(entry, target float64, steps int, tick float64) []float64 {
	if steps <= 1 {
		return []float64{RoundPrice(entry, tick)}
	}

	stepSize := math.Abs(target-entry) / float64(steps-1)

	prices := make([]float64, 0, steps)
	for i := 0; i < steps; i++ {
		var price float64
		if entry < target {
			price = entry + stepSize*float64(i)
		} else {
			price = entry - stepSize*float64(i)
		}
		prices = append(prices, RoundPrice(price, tick))
	}

	return prices
}

// TrailingStop computes a candidate stop at trailPercent below the current
// price for a BUY (above for a SELL), never worse than the entry price.
func TrailingStop(entry, current float64, side signal.Side, trailPercent, tick float64) float64 {
	trailAmount := current * (trailPercent / 100)

	if side == signal.SideBuy {
		stop := current - trailAmount
		if stop > entry {
			return RoundPrice(stop, tick)
		}
	} else {
		stop := current + trailAmount
		if stop < entry {
			return RoundPrice(stop, tick)
		}
	}

	return RoundPrice(entry, tick)
}
