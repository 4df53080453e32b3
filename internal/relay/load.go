package relay

// Coefficients weigh packet and byte rate into a load score. Both are applied
// to rates scaled by 1e-6 (Mpps, MBps).
type Coefficients struct {
	PPS float64
	Bps float64
}

// Model holds the empirically fit coefficients of both directions.
type Model struct {
	VM2VF Coefficients
	VF2VM Coefficients
}

var DefaultModel = Model{
	VM2VF: Coefficients{PPS: 8.2e-2, Bps: 9.3e-5},
	VF2VM: Coefficients{PPS: 7.95e-2, Bps: 8.2e-5},
}

// Estimate scores each direction of r. The ingress and egress measurements
// are averaged since in-flight loss makes them disagree slightly.
func (m Model) Estimate(r Relay) Load {
	return Load{
		ID:    r.ID,
		VM2VF: m.VM2VF.score(r.VM2VF),
		VF2VM: m.VF2VM.score(r.VF2VM),
	}
}

func (c Coefficients) score(d DirectionRates) float64 {
	avgPPS := (d.RxPPS + d.TxPPS) / 2
	avgBps := (d.RxBps + d.TxBps) / 2
	return c.PPS*avgPPS*1e-6 + c.Bps*avgBps*1e-6
}
