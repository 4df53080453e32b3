package controller

import (
	"fmt"
	"sort"
	"strings"

	"relay-balancer/internal/relay"

	"github.com/sirupsen/logrus"
)

// CoreRow is one line of the placement table: the relays whose directions a
// core serves and the load they add up to.
type CoreRow struct {
	Core   int
	Worker bool
	VM2VF  []int
	VF2VM  []int
	Load   float64
}

// PlacementTable lays relays out per core. Every worker core gets a row, even
// when idle; cores outside the worker set only appear if a relay reports them.
func PlacementTable(relays []relay.Relay, workers []int, model relay.Model) []CoreRow {
	rows := make(map[int]*CoreRow, len(workers))
	for _, w := range workers {
		rows[w] = &CoreRow{Core: w, Worker: true}
	}
	row := func(core int) *CoreRow {
		r, ok := rows[core]
		if !ok {
			r = &CoreRow{Core: core}
			rows[core] = r
		}
		return r
	}

	for _, r := range relays {
		load := model.Estimate(r)
		for _, d := range []relay.Direction{relay.VM2VF, relay.VF2VM} {
			cr := row(r.Cores.Core(d))
			if d == relay.VM2VF {
				cr.VM2VF = append(cr.VM2VF, r.ID)
			} else {
				cr.VF2VM = append(cr.VF2VM, r.ID)
			}
			cr.Load += load.Of(d)
		}
	}

	out := make([]CoreRow, 0, len(rows))
	for _, r := range rows {
		sort.Ints(r.VM2VF)
		sort.Ints(r.VF2VM)
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Core < out[j].Core })
	return out
}

func logPlacement(logger logrus.FieldLogger, title string, rows []CoreRow) {
	logger.Debug(title)
	for _, r := range rows {
		entry := logger.WithFields(logrus.Fields{
			"core":  r.Core,
			"vm2vf": joinIDs(r.VM2VF),
			"vf2vm": joinIDs(r.VF2VM),
			"load":  r.Load,
		})
		if !r.Worker {
			entry = entry.WithField("worker", false)
		}
		entry.Debug("Core placement")
	}
}

func joinIDs(ids []int) string {
	if len(ids) == 0 {
		return "-"
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%02d", id)
	}
	return strings.Join(parts, ",")
}
