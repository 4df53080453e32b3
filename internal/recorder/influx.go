package recorder

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"relay-balancer/internal/config"
	"relay-balancer/internal/logging"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sirupsen/logrus"
)

const (
	passMeasurement      = "balance_pass"
	iterationMeasurement = "balance_iteration"
)

// InfluxRecorder writes one point per pass to InfluxDB.
type InfluxRecorder struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	bucket   string
	org      string
}

func NewInfluxRecorder(cfg config.InfluxConfig) (*InfluxRecorder, error) {
	logger := logging.GetLogger()

	client := influxdb2.NewClient(cfg.Host, cfg.Token)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		logger.WithField("host", cfg.Host).WithError(err).Error("Failed to connect to InfluxDB")
		client.Close()
		return nil, err
	}
	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		logger.WithFields(logrus.Fields{
			"host":    cfg.Host,
			"status":  health.Status,
			"message": msg,
		}).Error("InfluxDB health check failed")
		client.Close()
		return nil, fmt.Errorf("influxdb at %s is %s", cfg.Host, health.Status)
	}

	logger.WithFields(logrus.Fields{
		"host":   cfg.Host,
		"bucket": cfg.Bucket,
		"org":    cfg.Org,
	}).Info("Connected to InfluxDB")

	return &InfluxRecorder{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		bucket:   cfg.Bucket,
		org:      cfg.Org,
	}, nil
}

func (r *InfluxRecorder) RecordIteration(ctx context.Context, iteration, relays int) error {
	p := influxdb2.NewPoint(iterationMeasurement,
		nil,
		map[string]interface{}{
			"iteration": iteration,
			"relays":    relays,
		},
		time.Now())
	if err := r.writeAPI.WritePoint(ctx, p); err != nil {
		return fmt.Errorf("failed to write iteration point: %w", err)
	}
	return nil
}

func (r *InfluxRecorder) RecordPass(ctx context.Context, rec PassRecord) error {
	if err := r.writeAPI.WritePoint(ctx, passPoint(rec)); err != nil {
		return fmt.Errorf("failed to write pass point: %w", err)
	}
	return nil
}

func passPoint(rec PassRecord) *write.Point {
	ts := rec.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	fields := map[string]interface{}{
		"iteration": rec.Iteration,
		"relays":    rec.Relays,
		"cores":     rec.Cores,
		"cv_new":    rec.CVNew,
		"cv_prev":   rec.CVPrev,
		"migrated":  rec.Migrated,
	}
	if rec.Error != "" {
		fields["error"] = rec.Error
	}
	return influxdb2.NewPoint(passMeasurement,
		map[string]string{
			"node":     strconv.Itoa(rec.Node),
			"decision": rec.Decision,
		},
		fields,
		ts)
}

func (r *InfluxRecorder) Close() error {
	if r.client != nil {
		r.client.Close()
	}
	return nil
}
