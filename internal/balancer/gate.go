package balancer

import (
	"relay-balancer/internal/relay"
)

// Decision is the outcome of comparing a candidate against the deployed placement.
type Decision int

const (
	Hold Decision = iota
	Migrate
	Idle
)

func (d Decision) String() string {
	switch d {
	case Hold:
		return "hold"
	case Migrate:
		return "migrate"
	case Idle:
		return "idle"
	default:
		return "unknown"
	}
}

// Gate applies hysteresis: a candidate only replaces the deployed placement
// when its CV is lower by more than Sensitivity.
type Gate struct {
	Sensitivity float64
}

func NewGate(sensitivity float64) Gate {
	return Gate{Sensitivity: sensitivity}
}

// PreviousCV replays the deployed assignment against this pass's loads. It
// returns Unbalanced when there is nothing to replay or when the replay
// leaves the group (membership changed between polls).
func (g Gate) PreviousCV(current relay.Assignment, loads map[int]relay.Load, cores []int) float64 {
	if len(current) == 0 {
		return Unbalanced
	}
	coreLoads, err := Replay(current, loads, cores)
	if err != nil {
		return Unbalanced
	}
	return CoefficientOfVariation(coreLoads)
}

func (g Gate) Decide(cvNew, cvPrev float64) Decision {
	switch {
	case cvNew == NoOpinion:
		return Idle
	case cvNew+g.Sensitivity < cvPrev:
		return Migrate
	default:
		return Hold
	}
}
