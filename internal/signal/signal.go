package signal

import (
	"fmt"
	"sort"
	"strings"
)

// Side is a normalized order direction
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide normalizes LONG/SHORT/BUY/SELL into a Side
func ParseSide(s string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY", "LONG":
		return SideBuy, nil
	case "SELL", "SHORT":
		return SideSell, nil
	default:
		return "", fmt.Errorf("invalid side: %q", s)
	}
}

// Opposite returns the opposing side
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Signal is a structured trade instruction.
// 외부 수집기(파서)가 생성하며, 코어에서는 불변으로 취급한다.
type Signal struct {
	Symbol   string    `json:"symbol"`
	Side     Side      `json:"side"`
	Entries  []float64 `json:"entries"`            // ascending
	StopLoss float64   `json:"stop_loss,omitempty"` // 0 = none
	Targets  []float64 `json:"targets,omitempty"`   // ascending
	Leverage int       `json:"leverage,omitempty"`  // 0 = default
}

// Entry returns the primary entry price
func (s *Signal) Entry() float64 {
	if len(s.Entries) == 0 {
		return 0
	}
	return s.Entries[0]
}

// IsRanged reports whether the signal carries multiple entries
// (pyramid range) rather than a single price.
func (s *Signal) IsRanged() bool {
	return len(s.Entries) > 1
}

// Normalize sorts entries/targets ascending and uppercases the symbol.
func (s *Signal) Normalize() {
	s.Symbol = strings.ToUpper(strings.TrimSpace(s.Symbol))
	sort.Float64s(s.Entries)
	sort.Float64s(s.Targets)
}

// Validate checks the structural invariants of a signal
func (s *Signal) Validate() error {
	if s.Symbol == "" {
		return fmt.Errorf("signal missing symbol")
	}
	if s.Side != SideBuy && s.Side != SideSell {
		return fmt.Errorf("signal has invalid side: %q", s.Side)
	}
	if len(s.Entries) == 0 {
		return fmt.Errorf("signal missing entry price")
	}
	for _, e := range s.Entries {
		if e <= 0 {
			return fmt.Errorf("signal has non-positive entry: %v", e)
		}
	}
	if s.StopLoss < 0 {
		return fmt.Errorf("signal has negative stop loss: %v", s.StopLoss)
	}
	if s.Leverage < 0 {
		return fmt.Errorf("signal has negative leverage: %d", s.Leverage)
	}
	return nil
}
