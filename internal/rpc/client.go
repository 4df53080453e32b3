package rpc

import (
	"context"
	"fmt"
	"time"

	"relay-balancer/internal/relay"
)

// StatsClient reads relay statistics from the data plane.
type StatsClient struct {
	ch  *channel
	req StatsRequest
}

// NewStatsClient prepares a client for endpoint. delay asks the server to
// sample rates over that window before replying.
func NewStatsClient(endpoint string, delay time.Duration, opts Options) (*StatsClient, error) {
	ch, err := openChannel("stats", endpoint, opts)
	if err != nil {
		return nil, err
	}
	return &StatsClient{
		ch:  ch,
		req: StatsRequest{IncludeInactive: false, DelayMS: int(delay / time.Millisecond)},
	}, nil
}

// Fetch returns the active relays, retrying until the server answers. The
// boolean reports whether the channel had to be reopened on the way.
func (c *StatsClient) Fetch(ctx context.Context) ([]relay.Relay, bool, error) {
	var resp StatsResponse
	reconnected, err := c.ch.callReliable(ctx, getStatsMethod, &c.req, &resp)
	if err != nil {
		return nil, reconnected, err
	}
	return resp.Connections, reconnected, nil
}

// FetchOnce makes a single attempt without reconnecting.
func (c *StatsClient) FetchOnce(ctx context.Context) ([]relay.Relay, error) {
	var resp StatsResponse
	if err := c.ch.call(ctx, getStatsMethod, &c.req, &resp); err != nil {
		return nil, err
	}
	if resp.Status != StatusOK {
		return nil, fmt.Errorf("stats: %w", ErrRejected)
	}
	return resp.Connections, nil
}

func (c *StatsClient) Close() error {
	return c.ch.close()
}

// SchedulerClient talks to the data plane's core scheduler, which owns the
// authoritative relay -> core mapping.
type SchedulerClient struct {
	ch *channel
}

func NewSchedulerClient(endpoint string, opts Options) (*SchedulerClient, error) {
	ch, err := openChannel("core scheduler", endpoint, opts)
	if err != nil {
		return nil, err
	}
	return &SchedulerClient{ch: ch}, nil
}

// WorkerCores returns the forwarding worker pool, retrying until the server
// answers.
func (c *SchedulerClient) WorkerCores(ctx context.Context) ([]int, bool, error) {
	req := CoreSchedRequest{Op: OpGetWorkerCores}
	var resp CoreSchedResponse
	reconnected, err := c.ch.callReliable(ctx, scheduleMethod, &req, &resp)
	if err != nil {
		return nil, reconnected, err
	}
	return resp.WorkerCores, reconnected, nil
}

// Update asks the scheduler to migrate relays to the given cores. It makes
// exactly one attempt. The exchange is detached from ctx cancellation so a
// shutdown never abandons a migration half way; it stays bounded by the
// channel timeout.
func (c *SchedulerClient) Update(ctx context.Context, assignment relay.Assignment) error {
	req := CoreSchedRequest{Op: OpUpdate, Assignments: assignment}
	var resp CoreSchedResponse
	if err := c.ch.call(context.WithoutCancel(ctx), scheduleMethod, &req, &resp); err != nil {
		return err
	}
	if resp.Status != StatusOK {
		return fmt.Errorf("update: %w", ErrRejected)
	}
	return nil
}

func (c *SchedulerClient) Close() error {
	return c.ch.close()
}
