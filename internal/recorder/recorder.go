package recorder

import (
	"context"
	"errors"
	"time"

	"relay-balancer/internal/config"
	"relay-balancer/internal/logging"
)

// PassRecord describes one balancing pass over one group.
type PassRecord struct {
	Time      time.Time `json:"time"`
	Iteration int       `json:"iteration"`
	Node      int       `json:"node"`
	Relays    int       `json:"relays"`
	Cores     int       `json:"cores"`
	CVNew     float64   `json:"cv_new"`
	CVPrev    float64   `json:"cv_prev"`
	Decision  string    `json:"decision"`
	// Migrated is true only when the scheduler accepted the update.
	Migrated bool   `json:"migrated"`
	Error    string `json:"error,omitempty"`
}

// Recorder persists balancing passes. Implementations must tolerate being
// called from the control loop only; they are not safe for concurrent use.
type Recorder interface {
	// RecordIteration is called once per stats snapshot, before any pass.
	RecordIteration(ctx context.Context, iteration, relays int) error
	RecordPass(ctx context.Context, rec PassRecord) error
	Close() error
}

type nop struct{}

func (nop) RecordIteration(context.Context, int, int) error { return nil }
func (nop) RecordPass(context.Context, PassRecord) error    { return nil }
func (nop) Close() error                                    { return nil }

// Nop returns a Recorder that discards everything.
func Nop() Recorder { return nop{} }

type multi []Recorder

// Multi fans every call out to recs. All recorders are called even when one
// fails; the errors are joined.
func Multi(recs ...Recorder) Recorder {
	switch len(recs) {
	case 0:
		return nop{}
	case 1:
		return recs[0]
	}
	return multi(recs)
}

func (m multi) RecordIteration(ctx context.Context, iteration, relays int) error {
	var errs []error
	for _, r := range m {
		if err := r.RecordIteration(ctx, iteration, relays); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m multi) RecordPass(ctx context.Context, rec PassRecord) error {
	var errs []error
	for _, r := range m {
		if err := r.RecordPass(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m multi) Close() error {
	var errs []error
	for _, r := range m {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Open builds the recorders enabled by cfg. With neither InfluxDB nor a spool
// directory configured it returns Nop.
func Open(cfg *config.Config) (Recorder, error) {
	logger := logging.GetLogger()

	var recs []Recorder
	if cfg.Influx.Enabled() {
		ir, err := NewInfluxRecorder(cfg.Influx)
		if err != nil {
			return nil, err
		}
		recs = append(recs, ir)
	} else if cfg.Influx.Host != "" {
		logger.WithField("host", cfg.Influx.Host).Warn("InfluxDB host set without bucket, metrics disabled")
	}
	if cfg.SpoolDir != "" {
		recs = append(recs, NewSpoolRecorder(cfg.SpoolDir))
	}
	return Multi(recs...), nil
}
