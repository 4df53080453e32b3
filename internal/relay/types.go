package relay

import "sort"

// Direction tags one of the two independent forwarding paths of a relay.
type Direction int

const (
	VM2VF Direction = iota
	VF2VM
)

func (d Direction) String() string {
	switch d {
	case VM2VF:
		return "vm2vf"
	case VF2VM:
		return "vf2vm"
	default:
		return "unknown"
	}
}

// DirectionRates are the rate counters of one direction. Rx is measured where
// packets enter the relay, Tx where they leave it.
type DirectionRates struct {
	RxPPS float64 `json:"rx_pps"`
	RxBps float64 `json:"rx_Bps"`
	TxPPS float64 `json:"tx_pps"`
	TxBps float64 `json:"tx_Bps"`

	RxDropped uint64 `json:"rx_dropped,omitempty"`
	TxDropped uint64 `json:"tx_dropped,omitempty"`
}

// CorePair is the worker core serving each direction.
type CorePair struct {
	VM2VF int `json:"vm2vf"`
	VF2VM int `json:"vf2vm"`
}

// Core returns the core serving direction d.
func (cp CorePair) Core(d Direction) int {
	if d == VF2VM {
		return cp.VF2VM
	}
	return cp.VM2VF
}

// Relay is one forwarded flow as reported by the data plane's stats service.
type Relay struct {
	ID       int            `json:"id"`
	Active   bool           `json:"active"`
	SocketID int            `json:"socket_id"`
	Cores    CorePair       `json:"core_assignment"`
	VM2VF    DirectionRates `json:"vm2vf_metrics"`
	VF2VM    DirectionRates `json:"vf2vm_metrics"`
}

// Load is the unit-less load score of one relay, per direction.
type Load struct {
	ID    int
	VM2VF float64
	VF2VM float64
}

func (l Load) Of(d Direction) float64 {
	if d == VF2VM {
		return l.VF2VM
	}
	return l.VM2VF
}

func (l Load) Total() float64 {
	return l.VM2VF + l.VF2VM
}

// CoreMapping places both directions of one relay.
type CoreMapping struct {
	RelayID   int `json:"relay_id"`
	VM2VFCore int `json:"vm2vf_core"`
	VF2VMCore int `json:"vf2vm_core"`
}

func (m CoreMapping) Core(d Direction) int {
	if d == VF2VM {
		return m.VF2VMCore
	}
	return m.VM2VFCore
}

// Assignment is an ordered set of mappings, at most one per relay.
type Assignment []CoreMapping

// CurrentMapping returns the placement the data plane reports for r.
func CurrentMapping(r Relay) CoreMapping {
	return CoreMapping{RelayID: r.ID, VM2VFCore: r.Cores.VM2VF, VF2VMCore: r.Cores.VF2VM}
}

// SortByRelay orders the assignment by relay id in place.
func (a Assignment) SortByRelay() {
	sort.SliceStable(a, func(i, j int) bool { return a[i].RelayID < a[j].RelayID })
}

// Cores returns the sorted, de-duplicated set of cores a references.
func (a Assignment) Cores() []int {
	seen := make(map[int]bool)
	var out []int
	for _, m := range a {
		for _, c := range []int{m.VM2VFCore, m.VF2VMCore} {
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	sort.Ints(out)
	return out
}
