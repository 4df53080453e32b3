package topology

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"relay-balancer/internal/logging"

	"github.com/sirupsen/logrus"
	"k8s.io/utils/cpuset"
)

// Provider reports which CPUs belong to each NUMA node.
type Provider interface {
	NodeCPUs() (map[int]cpuset.CPUSet, error)
}

// SysfsProvider reads node membership from <Root>/devices/system/node.
// Hosts without NUMA support expose no node directories; all online CPUs are
// then reported as node 0.
type SysfsProvider struct {
	Root   string
	logger *logrus.Logger
}

func NewSysfsProvider(root string) *SysfsProvider {
	if root == "" {
		root = "/sys"
	}
	return &SysfsProvider{Root: root, logger: logging.GetLogger()}
}

func (p *SysfsProvider) NodeCPUs() (map[int]cpuset.CPUSet, error) {
	nodeDir := filepath.Join(p.Root, "devices", "system", "node")
	matches, err := filepath.Glob(filepath.Join(nodeDir, "node[0-9]*"))
	if err != nil {
		return nil, err
	}

	nodes := make(map[int]cpuset.CPUSet, len(matches))
	for _, dir := range matches {
		id, err := strconv.Atoi(strings.TrimPrefix(filepath.Base(dir), "node"))
		if err != nil {
			continue
		}
		cpus, err := readCPUList(filepath.Join(dir, "cpulist"))
		if err != nil {
			return nil, fmt.Errorf("node %d: %w", id, err)
		}
		nodes[id] = cpus
	}

	if len(nodes) == 0 {
		online, err := readCPUList(filepath.Join(p.Root, "devices", "system", "cpu", "online"))
		if err != nil {
			return nil, fmt.Errorf("no NUMA nodes under %s and no online cpu list: %w", nodeDir, err)
		}
		p.logger.WithField("cpus", online.String()).Debug("No NUMA nodes exposed, treating host as a single node")
		nodes[0] = online
	}
	return nodes, nil
}

func readCPUList(path string) (cpuset.CPUSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return cpuset.New(), err
	}
	cpus, err := cpuset.Parse(strings.TrimSpace(string(data)))
	if err != nil {
		return cpuset.New(), fmt.Errorf("parse %s: %w", path, err)
	}
	return cpus, nil
}

// Static is a fixed node -> CPU mapping.
type Static map[int]cpuset.CPUSet

func (s Static) NodeCPUs() (map[int]cpuset.CPUSet, error) {
	out := make(map[int]cpuset.CPUSet, len(s))
	for node, cpus := range s {
		out[node] = cpus.Clone()
	}
	return out, nil
}

// SortedNodes returns the node ids of nodes in ascending order.
func SortedNodes(nodes map[int]cpuset.CPUSet) []int {
	ids := make([]int, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
