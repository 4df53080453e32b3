package balancer

import (
	"fmt"
	"sort"

	"relay-balancer/internal/relay"

	"github.com/emirpasic/gods/trees/binaryheap"
)

// Result is a candidate placement for one group.
type Result struct {
	Assignment relay.Assignment
	CV         float64
	CoreLoads  map[int]float64
}

type workItem struct {
	relayID   int
	load      float64
	direction relay.Direction
}

type coreLoad struct {
	core int
	load float64
}

// coreComparator orders cores by accumulated load, then by id.
func coreComparator(a, b interface{}) int {
	ca, cb := a.(*coreLoad), b.(*coreLoad)
	switch {
	case ca.load < cb.load:
		return -1
	case ca.load > cb.load:
		return 1
	case ca.core < cb.core:
		return -1
	case ca.core > cb.core:
		return 1
	default:
		return 0
	}
}

// Balance spreads both directions of every relay over cores using the
// Longest-Processing-Time-first greedy rule: items are taken heaviest first
// and each goes to the currently least loaded core. Equal loads keep their
// input order and equal cores resolve to the lowest id, so the result is
// deterministic. The assignment is ordered by relay id.
func Balance(loads []relay.Load, cores []int) Result {
	if len(cores) == 0 {
		return Result{CV: NoOpinion, CoreLoads: map[int]float64{}}
	}

	items := make([]workItem, 0, 2*len(loads))
	for _, l := range loads {
		items = append(items,
			workItem{relayID: l.ID, load: l.VM2VF, direction: relay.VM2VF},
			workItem{relayID: l.ID, load: l.VF2VM, direction: relay.VF2VM},
		)
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].load > items[j].load })

	heap := binaryheap.NewWith(coreComparator)
	for _, c := range cores {
		heap.Push(&coreLoad{core: c})
	}

	placed := make(map[int]*[2]int, len(loads))
	found := make(map[int]*[2]bool, len(loads))
	for _, it := range items {
		v, _ := heap.Pop()
		least := v.(*coreLoad)
		least.load += it.load
		heap.Push(least)

		if placed[it.relayID] == nil {
			placed[it.relayID] = &[2]int{}
			found[it.relayID] = &[2]bool{}
		}
		placed[it.relayID][it.direction] = least.core
		found[it.relayID][it.direction] = true
	}

	assignment := make(relay.Assignment, 0, len(placed))
	for id, pair := range placed {
		f := found[id]
		if !f[relay.VM2VF] || !f[relay.VF2VM] {
			panic(fmt.Sprintf("balancer: relay %d lost a direction during merge", id))
		}
		assignment = append(assignment, relay.CoreMapping{
			RelayID:   id,
			VM2VFCore: pair[relay.VM2VF],
			VF2VMCore: pair[relay.VF2VM],
		})
	}
	assignment.SortByRelay()

	coreLoads := make(map[int]float64, len(cores))
	for _, v := range heap.Values() {
		cl := v.(*coreLoad)
		coreLoads[cl.core] = cl.load
	}

	return Result{
		Assignment: assignment,
		CV:         CoefficientOfVariation(coreLoads),
		CoreLoads:  coreLoads,
	}
}

// Replay sums loads onto cores as placed by assignment. It fails if the
// assignment references a core outside cores or a relay without a load.
func Replay(assignment relay.Assignment, loads map[int]relay.Load, cores []int) (map[int]float64, error) {
	coreLoads := make(map[int]float64, len(cores))
	for _, c := range cores {
		coreLoads[c] = 0
	}
	for _, m := range assignment {
		l, ok := loads[m.RelayID]
		if !ok {
			return nil, fmt.Errorf("relay %d has no load", m.RelayID)
		}
		for _, d := range []relay.Direction{relay.VM2VF, relay.VF2VM} {
			core := m.Core(d)
			if _, ok := coreLoads[core]; !ok {
				return nil, fmt.Errorf("relay %d %s on core %d outside group", m.RelayID, d, core)
			}
			coreLoads[core] += l.Of(d)
		}
	}
	return coreLoads, nil
}
