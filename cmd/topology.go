package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"relay-balancer/internal/numa"
	"relay-balancer/internal/rpc"
	"relay-balancer/internal/topology"

	"github.com/spf13/cobra"
	"k8s.io/utils/cpuset"
)

func newTopologyCommand(opts *options) *cobra.Command {
	var all bool
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "topology",
		Short: "Print the NUMA layout of the forwarder's worker cores",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, warnings, err := loadConfiguration(cmd, opts)
			if err != nil {
				return err
			}
			if err := setupLogging(cfg, warnings); err != nil {
				return err
			}

			nodes, err := topology.NewSysfsProvider(cfg.SysfsRoot).NodeCPUs()
			if err != nil {
				return fmt.Errorf("read numa topology: %w", err)
			}

			var workers []int
			if !all {
				workers, err = fetchWorkers(cmd.Context(), cfg.SchedulerEndpoint, rpc.Options{
					Timeout:   cfg.GetSchedulerTimeout(),
					RetryWait: time.Second,
				}, wait)
				if err != nil {
					return err
				}
			}
			printLayout(cmd, nodes, workers, all)
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Print every node without asking the core scheduler for worker cores")
	cmd.Flags().DurationVar(&wait, "wait", 10*time.Second, "How long to wait for the core scheduler")
	return cmd
}

func fetchWorkers(ctx context.Context, endpoint string, opts rpc.Options, wait time.Duration) ([]int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	sched, err := rpc.NewSchedulerClient(endpoint, opts)
	if err != nil {
		return nil, err
	}
	defer sched.Close()

	workers, _, err := sched.WorkerCores(ctx)
	if errors.Is(err, rpc.ErrShutdown) {
		return nil, fmt.Errorf("core scheduler at %s did not answer within %s", endpoint, wait)
	}
	return workers, err
}

func printLayout(cmd *cobra.Command, nodes map[int]cpuset.CPUSet, workers []int, all bool) {
	out := cmd.OutOrStdout()
	if all {
		for _, node := range topology.SortedNodes(nodes) {
			fmt.Fprintf(out, "node %d: %s\n", node, nodes[node].String())
		}
		return
	}

	ws := cpuset.New(workers...)
	layout := numa.NewLayout(nodes, workers)
	for _, node := range layout.Nodes() {
		fmt.Fprintf(out, "node %d: %s workers %s\n", node, layout[node].String(), layout[node].Intersection(ws).String())
	}
	placed := cpuset.New()
	for _, cpus := range layout {
		placed = placed.Union(cpus)
	}
	if orphans := ws.Difference(placed); orphans.Size() > 0 {
		fmt.Fprintf(out, "workers outside any node: %s\n", orphans.String())
	}
}
