// Package signal evaluates trend-crossover state transitions and produces
// at most one BUY and one SELL alert per monitor lifetime.
package signal

import (
	"fmt"

	"solana-signal-watch/internal/domain"
)

// State is the per-monitor signal state. The Sent flags are one-shot: once
// set they are never cleared within a monitor's lifetime, which is what
// structurally prevents duplicate alerts. Re-arming requires re-registering
// the monitor.
type State struct {
	EntrySent  bool
	ExitSent   bool
	InPosition bool
	EntryPrice float64
	EntryTime  int64
}

// Evaluate inspects the previous and current indicator snapshots plus the
// last observed price and returns an alert when a state transition fires,
// mutating st accordingly. Both snapshots must be ready; below that the
// evaluation is a no-op. Crossings use strict comparisons, so a flat market
// where the lines stay equal never triggers.
func Evaluate(st *State, prev, curr domain.IndicatorSnapshot, lastPrice float64, ts int64) *domain.AlertEvent {
	if !prev.Ready || !curr.Ready {
		return nil
	}

	if !st.InPosition {
		if st.EntrySent {
			return nil
		}
		crossedUp := prev.FastLine <= prev.SlowLine && curr.FastLine > curr.SlowLine
		if !crossedUp {
			return nil
		}
		st.InPosition = true
		st.EntrySent = true
		st.EntryPrice = lastPrice
		st.EntryTime = ts
		return &domain.AlertEvent{
			Type:      domain.AlertBuy,
			Reason:    domain.ReasonCrossover,
			Price:     lastPrice,
			Timestamp: ts,
			FastLine:  curr.FastLine,
			SlowLine:  curr.SlowLine,
			Message:   fmt.Sprintf("fast line %.10f crossed above slow line %.10f", curr.FastLine, curr.SlowLine),
		}
	}

	if st.ExitSent {
		return nil
	}

	crossedDown := prev.FastLine >= prev.SlowLine && curr.FastLine < curr.SlowLine
	stopped := lastPrice <= curr.SlowLine

	var reason, msg string
	switch {
	case crossedDown:
		reason = domain.ReasonCrossunder
		msg = fmt.Sprintf("fast line %.10f crossed below slow line %.10f", curr.FastLine, curr.SlowLine)
	case stopped:
		reason = domain.ReasonStopLoss
		msg = fmt.Sprintf("price %.10f fell to slow line %.10f", lastPrice, curr.SlowLine)
	default:
		return nil
	}

	st.InPosition = false
	st.ExitSent = true
	return &domain.AlertEvent{
		Type:      domain.AlertSell,
		Reason:    reason,
		Price:     lastPrice,
		Timestamp: ts,
		FastLine:  curr.FastLine,
		SlowLine:  curr.SlowLine,
		Message:   msg,
	}
}
