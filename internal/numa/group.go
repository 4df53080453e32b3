package numa

import (
	"relay-balancer/internal/relay"
	"relay-balancer/internal/topology"

	"github.com/sirupsen/logrus"
	"k8s.io/utils/cpuset"
)

// MergedNode is the node id of the single group built under global optimization.
const MergedNode = -1

// Layout maps each NUMA node holding at least one worker core to all of its CPUs.
type Layout map[int]cpuset.CPUSet

// NewLayout keeps the nodes of topo that share at least one CPU with workers.
func NewLayout(topo map[int]cpuset.CPUSet, workers []int) Layout {
	ws := cpuset.New(workers...)
	layout := make(Layout)
	for node, cpus := range topo {
		if cpus.Intersection(ws).Size() > 0 {
			layout[node] = cpus.Clone()
		}
	}
	return layout
}

// Nodes returns the layout's node ids in ascending order.
func (l Layout) Nodes() []int {
	return topology.SortedNodes(l)
}

// Group is one independent optimization problem for a single pass.
type Group struct {
	Node    int
	Cores   []int
	Loads   []relay.Load
	Current relay.Assignment
}

// LoadByRelay indexes the group's loads by relay id.
func (g Group) LoadByRelay() map[int]relay.Load {
	out := make(map[int]relay.Load, len(g.Loads))
	for _, l := range g.Loads {
		out[l.ID] = l
	}
	return out
}

// Grouper partitions worker cores and relays into per-node groups.
type Grouper struct {
	model  relay.Model
	merge  bool
	logger logrus.FieldLogger
}

func NewGrouper(model relay.Model, merge bool, logger logrus.FieldLogger) *Grouper {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Grouper{model: model, merge: merge, logger: logger}
}

// Partition builds this pass's groups. Relays whose socket id has no group
// are returned as skipped; they keep their current placement. Groups come
// out in ascending node order and keep the relays' reported order.
func (g *Grouper) Partition(layout Layout, workers []int, relays []relay.Relay) ([]Group, []relay.Relay) {
	ws := cpuset.New(workers...)

	nodes := layout.Nodes()
	byNode := make(map[int]*Group, len(nodes))
	groups := make([]*Group, 0, len(nodes))
	for _, node := range nodes {
		cores := layout[node].Intersection(ws).List()
		if len(cores) == 0 {
			continue
		}
		grp := &Group{Node: node, Cores: cores}
		byNode[node] = grp
		groups = append(groups, grp)
	}

	var skipped []relay.Relay
	for _, r := range relays {
		grp, ok := byNode[r.SocketID]
		if !ok {
			g.logger.WithFields(logrus.Fields{
				"socket_id": r.SocketID,
				"relay_id":  r.ID,
			}).Warn("Not a valid socket id, relay will not form part of the optimization")
			skipped = append(skipped, r)
			continue
		}
		grp.Loads = append(grp.Loads, g.model.Estimate(r))
		grp.Current = append(grp.Current, relay.CurrentMapping(r))
	}

	if g.merge {
		merged := Group{Node: MergedNode, Cores: ws.List()}
		for _, grp := range groups {
			merged.Loads = append(merged.Loads, grp.Loads...)
			merged.Current = append(merged.Current, grp.Current...)
		}
		return []Group{merged}, skipped
	}

	out := make([]Group, 0, len(groups))
	for _, grp := range groups {
		out = append(out, *grp)
	}
	return out, skipped
}
