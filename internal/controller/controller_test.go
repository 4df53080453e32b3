package controller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/cpuset"

	"relay-balancer/internal/balancer"
	"relay-balancer/internal/config"
	"relay-balancer/internal/numa"
	"relay-balancer/internal/recorder"
	"relay-balancer/internal/relay"
	"relay-balancer/internal/rpc"
	"relay-balancer/internal/topology"
)

type snapshot struct {
	relays      []relay.Relay
	reconnected bool
	err         error
}

type fakeStats struct {
	snaps     []snapshot
	next      int
	cancel    context.CancelFunc
	onceCalls int
	onceErr   error
}

func (f *fakeStats) Fetch(context.Context) ([]relay.Relay, bool, error) {
	if f.next >= len(f.snaps) {
		f.cancel()
		return nil, false, rpc.ErrShutdown
	}
	s := f.snaps[f.next]
	f.next++
	return s.relays, s.reconnected, s.err
}

func (f *fakeStats) FetchOnce(context.Context) ([]relay.Relay, error) {
	f.onceCalls++
	if f.onceErr != nil {
		return nil, f.onceErr
	}
	if f.next == 0 {
		return nil, nil
	}
	return f.snaps[f.next-1].relays, nil
}

// fakeScheduler answers pools[n] on the n-th WorkerCores call when pools is
// set, repeating the last pool; otherwise workers.
type fakeScheduler struct {
	workers     []int
	pools       [][]int
	workerCalls int
	updates     []relay.Assignment
	updateErr   error
}

func (f *fakeScheduler) WorkerCores(context.Context) ([]int, bool, error) {
	f.workerCalls++
	if len(f.pools) > 0 {
		return f.pools[min(f.workerCalls, len(f.pools))-1], false, nil
	}
	return f.workers, false, nil
}

func (f *fakeScheduler) Update(_ context.Context, a relay.Assignment) error {
	f.updates = append(f.updates, a)
	return f.updateErr
}

type captureRecorder struct {
	iterations []int
	passes     []recorder.PassRecord
}

func (c *captureRecorder) RecordIteration(_ context.Context, iteration, _ int) error {
	c.iterations = append(c.iterations, iteration)
	return nil
}

func (c *captureRecorder) RecordPass(_ context.Context, rec recorder.PassRecord) error {
	c.passes = append(c.passes, rec)
	return nil
}

func (c *captureRecorder) Close() error { return nil }

// mkRelay builds a relay whose directions each carry 1 Mpps.
func mkRelay(id, socket, vm2vfCore, vf2vmCore int) relay.Relay {
	rates := relay.DirectionRates{RxPPS: 1e6, TxPPS: 1e6}
	return relay.Relay{
		ID:       id,
		Active:   true,
		SocketID: socket,
		Cores:    relay.CorePair{VM2VF: vm2vfCore, VF2VM: vf2vmCore},
		VM2VF:    rates,
		VF2VM:    rates,
	}
}

var singleNode = topology.Static{0: cpuset.New(0, 1, 2, 3)}

type harness struct {
	ctx   context.Context
	stats *fakeStats
	sched *fakeScheduler
	rec   *captureRecorder
	ctrl  *Controller
}

func newHarness(t *testing.T, topo topology.Provider, workers []int, opts Options, snaps ...snapshot) *harness {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	if opts.PollInterval == 0 {
		opts.PollInterval = time.Millisecond
	}
	if opts.Model == (relay.Model{}) {
		opts.Model = relay.DefaultModel
	}
	h := &harness{
		ctx:   ctx,
		stats: &fakeStats{snaps: snaps, cancel: cancel},
		sched: &fakeScheduler{workers: workers},
		rec:   &captureRecorder{},
	}
	h.ctrl = New(h.stats, h.sched, topo, h.rec, opts)
	return h
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "INIT", StateInit.String())
	assert.Equal(t, "RUNNING", StateRunning.String())
	assert.Equal(t, "STOPPING", StateStopping.String())
	assert.Equal(t, "TERMINATED", StateTerminated.String())
}

func TestZeroRelaysNeverCallsScheduler(t *testing.T) {
	h := newHarness(t, singleNode, []int{0, 1}, Options{Sensitivity: 0.25},
		snapshot{}, snapshot{}, snapshot{}, snapshot{})

	require.NoError(t, h.ctrl.Run(h.ctx))
	assert.Empty(t, h.sched.updates)
	assert.Empty(t, h.rec.passes)
	assert.Equal(t, 3, h.ctrl.Iterations())
	assert.Equal(t, []int{1, 2, 3}, h.rec.iterations)
	assert.Equal(t, StateTerminated, h.ctrl.State())
}

func TestMigratesImbalancedPlacement(t *testing.T) {
	stacked := []relay.Relay{mkRelay(1, 0, 0, 0), mkRelay(2, 0, 0, 0)}
	h := newHarness(t, singleNode, []int{0, 1}, Options{Sensitivity: 0.25},
		snapshot{relays: stacked}, snapshot{relays: stacked})

	require.NoError(t, h.ctrl.Run(h.ctx))
	require.Len(t, h.sched.updates, 1)
	assert.Equal(t, relay.Assignment{
		{RelayID: 1, VM2VFCore: 0, VF2VMCore: 0},
		{RelayID: 2, VM2VFCore: 1, VF2VMCore: 1},
	}, h.sched.updates[0])
	assert.Equal(t, 1, h.stats.onceCalls)

	require.Len(t, h.rec.passes, 1)
	pass := h.rec.passes[0]
	assert.Equal(t, "migrate", pass.Decision)
	assert.True(t, pass.Migrated)
	assert.InDelta(t, 0.0, pass.CVNew, 1e-9)
	assert.InDelta(t, 1.0, pass.CVPrev, 1e-9)
}

func TestHoldsBalancedPlacement(t *testing.T) {
	spread := []relay.Relay{mkRelay(1, 0, 0, 0), mkRelay(2, 0, 1, 1)}
	h := newHarness(t, singleNode, []int{0, 1}, Options{Sensitivity: 0.25},
		snapshot{relays: spread}, snapshot{relays: spread}, snapshot{relays: spread})

	require.NoError(t, h.ctrl.Run(h.ctx))
	assert.Empty(t, h.sched.updates)
	assert.Zero(t, h.stats.onceCalls)
	require.Len(t, h.rec.passes, 2)
	assert.Equal(t, balancer.Hold.String(), h.rec.passes[0].Decision)
}

func TestIdleRelaysDoNotMigrate(t *testing.T) {
	idle := mkRelay(1, 0, 0, 0)
	idle.VM2VF = relay.DirectionRates{}
	idle.VF2VM = relay.DirectionRates{}
	h := newHarness(t, singleNode, []int{0, 1}, Options{},
		snapshot{relays: []relay.Relay{idle}}, snapshot{relays: []relay.Relay{idle}})

	require.NoError(t, h.ctrl.Run(h.ctx))
	assert.Empty(t, h.sched.updates)
	require.Len(t, h.rec.passes, 1)
	assert.Equal(t, "idle", h.rec.passes[0].Decision)
}

func TestUnknownSocketIsSkipped(t *testing.T) {
	stray := []relay.Relay{mkRelay(7, 3, 0, 0)}
	h := newHarness(t, singleNode, []int{0, 1}, Options{},
		snapshot{relays: stray}, snapshot{relays: stray})

	require.NoError(t, h.ctrl.Run(h.ctx))
	assert.Empty(t, h.sched.updates)
	assert.Empty(t, h.rec.passes)
}

func TestReconnectRefreshesWorkerCores(t *testing.T) {
	twoNodes := topology.Static{
		0: cpuset.New(0, 1, 2, 3),
		1: cpuset.New(4, 5, 6, 7),
	}
	stacked := []relay.Relay{mkRelay(1, 1, 4, 4), mkRelay(2, 1, 4, 4)}
	h := newHarness(t, twoNodes, nil, Options{Sensitivity: 0.25},
		snapshot{relays: stacked},
		snapshot{relays: stacked},
		snapshot{relays: stacked, reconnected: true})
	h.sched.pools = [][]int{{0, 1}, {4, 5}}

	require.NoError(t, h.ctrl.Run(h.ctx))
	assert.Equal(t, 2, h.sched.workerCalls)
	assert.Equal(t, []int{4, 5}, h.ctrl.workers)
	assert.Equal(t, []int{1}, h.ctrl.layout.Nodes())

	// before the reconnect node 1 had no workers and its relays were skipped
	require.Len(t, h.rec.passes, 1)
	pass := h.rec.passes[0]
	assert.Equal(t, 2, pass.Iteration)
	assert.Equal(t, 1, pass.Node)
	assert.Equal(t, 2, pass.Cores)
	assert.Equal(t, "migrate", pass.Decision)
	require.Len(t, h.sched.updates, 1)
	assert.Equal(t, []int{4, 5}, h.sched.updates[0].Cores())
}

func TestNegativeSensitivityFallsBackToDefault(t *testing.T) {
	h := newHarness(t, singleNode, []int{0, 1}, Options{Sensitivity: -0.5})
	assert.Equal(t, config.DefaultSensitivity, h.ctrl.gate.Sensitivity)
	assert.Equal(t, config.DefaultSensitivity, h.ctrl.opts.Sensitivity)

	h = newHarness(t, singleNode, []int{0, 1}, Options{Sensitivity: 0})
	assert.Zero(t, h.ctrl.gate.Sensitivity)
}

func TestIntegrityErrorStopsLoop(t *testing.T) {
	bad := &rpc.IntegrityError{Service: "stats", Err: errors.New("bad json")}
	h := newHarness(t, singleNode, []int{0, 1}, Options{},
		snapshot{}, snapshot{err: bad}, snapshot{})

	err := h.ctrl.Run(h.ctx)
	var integrity *rpc.IntegrityError
	require.True(t, errors.As(err, &integrity))
	assert.Equal(t, StateTerminated, h.ctrl.State())
	assert.Equal(t, 2, h.stats.next, "loop kept polling after an integrity failure")
}

func TestRejectedUpdateKeepsRunning(t *testing.T) {
	stacked := []relay.Relay{mkRelay(1, 0, 0, 0), mkRelay(2, 0, 0, 0)}
	h := newHarness(t, singleNode, []int{0, 1}, Options{Sensitivity: 0.25},
		snapshot{relays: stacked}, snapshot{relays: stacked}, snapshot{relays: stacked})
	h.sched.updateErr = rpc.ErrRejected

	require.NoError(t, h.ctrl.Run(h.ctx))
	assert.Len(t, h.sched.updates, 2)
	assert.Zero(t, h.stats.onceCalls)
	require.Len(t, h.rec.passes, 2)
	assert.False(t, h.rec.passes[0].Migrated)
	assert.NotEmpty(t, h.rec.passes[0].Error)
}

func TestUpdateIntegrityErrorUnderFailSoft(t *testing.T) {
	stacked := []relay.Relay{mkRelay(1, 0, 0, 0), mkRelay(2, 0, 0, 0)}
	h := newHarness(t, singleNode, []int{0, 1}, Options{Sensitivity: 0.25, Policy: rpc.FailSoft},
		snapshot{relays: stacked}, snapshot{relays: stacked}, snapshot{relays: stacked})
	h.sched.updateErr = &rpc.IntegrityError{Service: "core scheduler", Err: errors.New("truncated")}

	require.NoError(t, h.ctrl.Run(h.ctx))
	assert.Len(t, h.sched.updates, 2)
}

func TestGroupsPerNodeAndGlobal(t *testing.T) {
	twoNodes := topology.Static{
		0: cpuset.New(0, 1),
		1: cpuset.New(2, 3),
	}
	relays := []relay.Relay{
		mkRelay(1, 0, 0, 0), mkRelay(2, 0, 0, 0),
		mkRelay(3, 1, 2, 2), mkRelay(4, 1, 2, 2),
	}

	t.Run("per node", func(t *testing.T) {
		h := newHarness(t, twoNodes, []int{0, 1, 2, 3}, Options{Sensitivity: 0.25},
			snapshot{relays: relays}, snapshot{relays: relays})
		require.NoError(t, h.ctrl.Run(h.ctx))

		require.Len(t, h.rec.passes, 2)
		assert.Equal(t, 0, h.rec.passes[0].Node)
		assert.Equal(t, 1, h.rec.passes[1].Node)
		require.Len(t, h.sched.updates, 2)
		for _, m := range h.sched.updates[1] {
			assert.Contains(t, []int{2, 3}, m.VM2VFCore)
			assert.Contains(t, []int{2, 3}, m.VF2VMCore)
		}
	})

	t.Run("global", func(t *testing.T) {
		h := newHarness(t, twoNodes, []int{0, 1, 2, 3}, Options{Sensitivity: 0.25, GlobalNUMAOpt: true},
			snapshot{relays: relays}, snapshot{relays: relays})
		require.NoError(t, h.ctrl.Run(h.ctx))

		require.Len(t, h.rec.passes, 1)
		assert.Equal(t, numa.MergedNode, h.rec.passes[0].Node)
		assert.Equal(t, 4, h.rec.passes[0].Cores)
		require.Len(t, h.sched.updates, 1)
		assert.Len(t, h.sched.updates[0], 4)
	})
}

func TestCancelledBeforeStart(t *testing.T) {
	h := newHarness(t, singleNode, []int{0, 1}, Options{})
	require.NoError(t, h.ctrl.Run(h.ctx))
	assert.Equal(t, StateTerminated, h.ctrl.State())
	assert.Zero(t, h.ctrl.Iterations())
}

func TestPlacementTable(t *testing.T) {
	relays := []relay.Relay{mkRelay(2, 0, 1, 0), mkRelay(1, 0, 1, 5)}
	rows := PlacementTable(relays, []int{0, 1, 3}, relay.DefaultModel)

	require.Len(t, rows, 4)
	assert.Equal(t, CoreRow{Core: 0, Worker: true, VF2VM: []int{2}, Load: 0.0795}, roundRow(rows[0]))
	assert.Equal(t, []int{1, 2}, rows[1].VM2VF)
	assert.InDelta(t, 0.164, rows[1].Load, 1e-9)
	assert.Equal(t, 3, rows[2].Core)
	assert.Empty(t, rows[2].VM2VF)
	assert.Equal(t, 5, rows[3].Core)
	assert.False(t, rows[3].Worker)
	assert.Equal(t, "01,02", joinIDs(rows[1].VM2VF))
	assert.Equal(t, "-", joinIDs(nil))
}

func roundRow(r CoreRow) CoreRow {
	r.Load = float64(int64(r.Load*1e6+0.5)) / 1e6
	return r
}
