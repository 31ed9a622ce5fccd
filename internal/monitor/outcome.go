package monitor

import (
	"github.com/example/secondhand-monitor/internal/credentials"
	"github.com/example/secondhand-monitor/internal/parser"
)

// State of the engine. Transitions are strictly sequential; exactly one
// control flow ever mutates it.
type State int

const (
	StateDiscovering State = iota
	StateWaiting
	StatePolling
	StateReserving
	StateVerifying
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDiscovering:
		return "discovering"
	case StateWaiting:
		return "waiting-for-marketplace"
	case StatePolling:
		return "polling"
	case StateReserving:
		return "reserving"
	case StateVerifying:
		return "verifying"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Terminal failure reasons.
const (
	ReasonLinkNotFound = "marketplace link not found"
	ReasonCancelled    = "cancelled"
	ReasonAuthFailure  = "authentication failure"
	ReasonRepeatedErr  = "repeated reservation errors"
)

// Outcome is the single terminal value of a run: Succeeded with the win
// details, or Failed with a reason. Produced exactly once.
type Outcome struct {
	State       State
	Reason      string
	Listing     *parser.Listing
	CheckoutURL string
	Credentials *credentials.Snapshot
}

func (o Outcome) Succeeded() bool { return o.State == StateSucceeded }

func failed(reason string) Outcome {
	return Outcome{State: StateFailed, Reason: reason}
}
