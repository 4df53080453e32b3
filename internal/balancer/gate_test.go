package balancer

import (
	"math"
	"testing"

	"relay-balancer/internal/relay"
)

func TestCoefficientOfVariation(t *testing.T) {
	tests := []struct {
		name  string
		loads map[int]float64
		want  float64
	}{
		{"identical", map[int]float64{0: 3, 1: 3, 2: 3}, 0},
		{"single core", map[int]float64{4: 7}, 0},
		{"two cores", map[int]float64{0: 14, 1: 10}, 1.0 / 6.0},
		{"all idle", map[int]float64{0: 0, 1: 0}, NoOpinion},
		{"no cores", map[int]float64{}, NoOpinion},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CoefficientOfVariation(tt.loads)
			if math.Abs(got-tt.want) > 1e-12 {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGateHysteresis(t *testing.T) {
	g := NewGate(0.25)
	if d := g.Decide(0.3, 0.5); d != Hold {
		t.Fatalf("0.3 vs 0.5: got %s, want hold", d)
	}
	if d := g.Decide(0.2, 0.5); d != Migrate {
		t.Fatalf("0.2 vs 0.5: got %s, want migrate", d)
	}
	if d := g.Decide(NoOpinion, Unbalanced); d != Idle {
		t.Fatalf("idle candidate: got %s, want idle", d)
	}
}

func TestGateWithoutPreviousAssignment(t *testing.T) {
	g := NewGate(0.25)
	loads := map[int]relay.Load{1: {ID: 1, VM2VF: 1}}

	prev := g.PreviousCV(nil, loads, []int{0, 1})
	if prev != Unbalanced {
		t.Fatalf("cv_prev = %v, want %v", prev, Unbalanced)
	}
	for _, cv := range []float64{0, 0.5, 10} {
		if d := g.Decide(cv, prev); d != Migrate {
			t.Fatalf("cv %v: got %s, want migrate", cv, d)
		}
	}
}

func TestGateReplayOutsideGroup(t *testing.T) {
	g := NewGate(0)
	loads := map[int]relay.Load{1: {ID: 1, VM2VF: 1, VF2VM: 1}}
	current := relay.Assignment{{RelayID: 1, VM2VFCore: 0, VF2VMCore: 12}}

	if prev := g.PreviousCV(current, loads, []int{0, 1}); prev != Unbalanced {
		t.Fatalf("cv_prev = %v, want %v", prev, Unbalanced)
	}

	inside := relay.Assignment{{RelayID: 1, VM2VFCore: 0, VF2VMCore: 1}}
	if prev := g.PreviousCV(inside, loads, []int{0, 1}); prev != 0 {
		t.Fatalf("cv_prev = %v, want 0", prev)
	}
}

func TestDecisionString(t *testing.T) {
	for d, want := range map[Decision]string{Hold: "hold", Migrate: "migrate", Idle: "idle", Decision(9): "unknown"} {
		if d.String() != want {
			t.Fatalf("%d: got %q, want %q", d, d.String(), want)
		}
	}
}
