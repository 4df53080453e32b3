package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"relay-balancer/internal/balancer"
	"relay-balancer/internal/config"
	"relay-balancer/internal/logging"
	"relay-balancer/internal/numa"
	"relay-balancer/internal/recorder"
	"relay-balancer/internal/relay"
	"relay-balancer/internal/rpc"
	"relay-balancer/internal/topology"

	"github.com/sirupsen/logrus"
	"k8s.io/utils/cpuset"
)

// StatsSource yields the active relays of the data plane.
type StatsSource interface {
	Fetch(ctx context.Context) ([]relay.Relay, bool, error)
	FetchOnce(ctx context.Context) ([]relay.Relay, error)
}

// CoreScheduler owns the authoritative relay to core mapping.
type CoreScheduler interface {
	WorkerCores(ctx context.Context) ([]int, bool, error)
	Update(ctx context.Context, assignment relay.Assignment) error
}

type State int

const (
	StateInit State = iota
	StateRunning
	StateStopping
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateRunning:
		return "RUNNING"
	case StateStopping:
		return "STOPPING"
	case StateTerminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}

type Options struct {
	PollInterval  time.Duration
	Sensitivity   float64
	GlobalNUMAOpt bool
	Model         relay.Model
	Policy        rpc.IntegrityPolicy
}

// Controller runs the periodic poll, balance, gate and migrate loop.
type Controller struct {
	stats    StatsSource
	sched    CoreScheduler
	topo     topology.Provider
	recorder recorder.Recorder

	opts    Options
	gate    balancer.Gate
	grouper *numa.Grouper
	logger  *logrus.Logger

	state     State
	iteration int
	workers   []int
	layout    numa.Layout
}

func New(stats StatsSource, sched CoreScheduler, topo topology.Provider, rec recorder.Recorder, opts Options) *Controller {
	if rec == nil {
		rec = recorder.Nop()
	}
	if opts.Policy == "" {
		opts.Policy = rpc.FailFast
	}
	logger := logging.GetSchedulerLogger()
	if opts.Sensitivity < 0 {
		logger.WithField("sensitivity", opts.Sensitivity).Warnf("Specified invalid sensitivity. Defaulting to %g", config.DefaultSensitivity)
		opts.Sensitivity = config.DefaultSensitivity
	}
	return &Controller{
		stats:    stats,
		sched:    sched,
		topo:     topo,
		recorder: rec,
		opts:     opts,
		gate:     balancer.NewGate(opts.Sensitivity),
		grouper:  numa.NewGrouper(opts.Model, opts.GlobalNUMAOpt, logger),
		logger:   logger,
		state:    StateInit,
	}
}

func (c *Controller) State() State { return c.state }

// Iterations returns how many stats snapshots the loop has processed.
func (c *Controller) Iterations() int { return c.iteration }

// Run blocks until ctx is cancelled or an unrecoverable error occurs.
// Cancellation is a clean stop and returns nil.
func (c *Controller) Run(ctx context.Context) error {
	defer func() { c.state = StateTerminated }()

	c.logger.WithFields(logrus.Fields{
		"poll_interval":   c.opts.PollInterval,
		"sensitivity":     c.opts.Sensitivity,
		"global_numa_opt": c.opts.GlobalNUMAOpt,
	}).Info("Dynamic load balancing initiated")

	if err := c.start(ctx); err != nil {
		return c.stop(err)
	}

	c.state = StateRunning
	for {
		if ctx.Err() != nil {
			return c.stop(nil)
		}
		if err := c.iterate(ctx); err != nil {
			return c.stop(err)
		}
		if !c.sleep(ctx) {
			return c.stop(nil)
		}
	}
}

func (c *Controller) stop(err error) error {
	c.state = StateStopping
	if errors.Is(err, rpc.ErrShutdown) {
		err = nil
	}
	if err != nil {
		c.logger.WithError(err).Error("Stopping relay balancer")
	} else {
		c.logger.Info("Stopping relay balancer")
	}
	return err
}

func (c *Controller) start(ctx context.Context) error {
	if err := c.refreshWorkers(ctx); err != nil {
		return err
	}
	relays, _, err := c.stats.Fetch(ctx)
	if err != nil {
		return err
	}
	logPlacement(c.logger, "Worker cores at startup", PlacementTable(relays, c.workers, c.opts.Model))
	return nil
}

func (c *Controller) refreshWorkers(ctx context.Context) error {
	workers, _, err := c.sched.WorkerCores(ctx)
	if err != nil {
		return err
	}
	nodes, err := c.topo.NodeCPUs()
	if err != nil {
		return fmt.Errorf("read numa topology: %w", err)
	}
	c.workers = workers
	c.layout = numa.NewLayout(nodes, workers)

	ws := cpuset.New(workers...)
	for _, node := range c.layout.Nodes() {
		c.logger.WithFields(logrus.Fields{
			"node":    node,
			"cpus":    c.layout[node].String(),
			"workers": c.layout[node].Intersection(ws).Size(),
		}).Debug("NUMA node carries worker cores")
	}
	c.logger.WithField("workers", workers).Info("Worker cores discovered")
	return nil
}

// iterate runs one pass: read stats, balance every group, migrate where the
// gate allows.
func (c *Controller) iterate(ctx context.Context) error {
	relays, reconnected, err := c.stats.Fetch(ctx)
	if err != nil {
		return err
	}
	c.iteration++
	if err := c.recorder.RecordIteration(ctx, c.iteration, len(relays)); err != nil {
		c.logger.WithError(err).Warn("Failed to record iteration")
	}

	if reconnected {
		if err := c.refreshWorkers(ctx); err != nil {
			return err
		}
		logPlacement(c.logger, "Worker cores upon reconnection", PlacementTable(relays, c.workers, c.opts.Model))
	}

	if len(relays) == 0 {
		c.logger.WithField("iteration", c.iteration).Debug("No active relays")
		return nil
	}

	groups, _ := c.grouper.Partition(c.layout, c.workers, relays)

	migrated := false
	for _, g := range groups {
		if len(g.Loads) == 0 {
			continue
		}
		ok, err := c.balanceGroup(ctx, g)
		if err != nil {
			return err
		}
		migrated = migrated || ok
	}

	if migrated {
		after, err := c.stats.FetchOnce(ctx)
		if err != nil {
			if c.fatal(err) {
				return err
			}
			c.logger.WithError(err).Warn("Could not read placement after migration")
			return nil
		}
		logPlacement(c.logger, "New worker core mapping", PlacementTable(after, c.workers, c.opts.Model))
	}
	return nil
}

func (c *Controller) balanceGroup(ctx context.Context, g numa.Group) (bool, error) {
	result := balancer.Balance(g.Loads, g.Cores)
	cvPrev := c.gate.PreviousCV(g.Current, g.LoadByRelay(), g.Cores)
	decision := c.gate.Decide(result.CV, cvPrev)

	var load float64
	for _, l := range g.Loads {
		load += l.Total()
	}
	fields := logrus.Fields{
		"node":        g.Node,
		"load":        load,
		"relays":      len(g.Loads),
		"cores":       len(g.Cores),
		"cv_new":      result.CV,
		"cv_prev":     cvPrev,
		"sensitivity": c.gate.Sensitivity,
		"decision":    decision.String(),
	}
	rec := recorder.PassRecord{
		Time:      time.Now(),
		Iteration: c.iteration,
		Node:      g.Node,
		Relays:    len(g.Loads),
		Cores:     len(g.Cores),
		CVNew:     result.CV,
		CVPrev:    cvPrev,
		Decision:  decision.String(),
	}

	var fatal error
	switch decision {
	case balancer.Idle:
		c.logger.WithFields(fields).Debug("No load on worker cores")
	case balancer.Hold:
		c.logger.WithFields(fields).Info("Worker cores still sufficiently balanced")
	case balancer.Migrate:
		c.logger.WithFields(fields).WithField("target_cores", result.Assignment.Cores()).Info("Migrating workers")
		if err := c.sched.Update(ctx, result.Assignment); err != nil {
			rec.Error = err.Error()
			c.logger.WithFields(fields).WithError(err).Error("Could not migrate workers, keeping placement")
			if c.fatal(err) {
				fatal = err
			}
		} else {
			rec.Migrated = true
			c.logger.WithFields(fields).Info("Scheduler response: OK")
		}
	}

	if err := c.recorder.RecordPass(ctx, rec); err != nil {
		c.logger.WithError(err).Warn("Failed to record balancing pass")
	}
	return rec.Migrated, fatal
}

// fatal reports whether err must stop the loop under the integrity policy.
func (c *Controller) fatal(err error) bool {
	var integrity *rpc.IntegrityError
	return errors.As(err, &integrity) && c.opts.Policy == rpc.FailFast
}

func (c *Controller) sleep(ctx context.Context) bool {
	timer := time.NewTimer(c.opts.PollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
