package rpc

import (
	"fmt"

	"relay-balancer/internal/relay"
)

type Status string

const (
	StatusOK    Status = "OK"
	StatusError Status = "ERROR"
)

func (s Status) valid() bool {
	return s == StatusOK || s == StatusError
}

// reply is implemented by every response message.
type reply interface {
	validate() error
	status() Status
	reset()
}

type StatsRequest struct {
	IncludeInactive bool `json:"include_inactive"`
	DelayMS         int  `json:"delay_ms"`
}

type StatsResponse struct {
	Status      Status        `json:"status"`
	Connections []relay.Relay `json:"connections"`
}

func (r *StatsResponse) status() Status { return r.Status }
func (r *StatsResponse) reset()         { *r = StatsResponse{} }

func (r *StatsResponse) validate() error {
	if !r.Status.valid() {
		return fmt.Errorf("stats reply has status %q", r.Status)
	}
	return nil
}

type CoreSchedOp string

const (
	OpGetWorkerCores CoreSchedOp = "GET_WORKER_CORES"
	OpUpdate         CoreSchedOp = "UPDATE"
)

type CoreSchedRequest struct {
	Op          CoreSchedOp         `json:"op"`
	Assignments []relay.CoreMapping `json:"assignments,omitempty"`
}

type CoreSchedResponse struct {
	Status      Status `json:"status"`
	WorkerCores []int  `json:"worker_cores,omitempty"`
}

func (r *CoreSchedResponse) status() Status { return r.Status }
func (r *CoreSchedResponse) reset()         { *r = CoreSchedResponse{} }

func (r *CoreSchedResponse) validate() error {
	if !r.Status.valid() {
		return fmt.Errorf("core scheduler reply has status %q", r.Status)
	}
	return nil
}
