package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"relay-balancer/internal/config"
	"relay-balancer/internal/controller"
	"relay-balancer/internal/logging"
	"relay-balancer/internal/recorder"
	"relay-balancer/internal/rpc"
	"relay-balancer/internal/topology"

	"github.com/spf13/cobra"
)

func runBalancer(cmd *cobra.Command, opts *options) error {
	cfg, warnings, err := loadConfiguration(cmd, opts)
	if err != nil {
		return err
	}
	if err := setupLogging(cfg, warnings); err != nil {
		return err
	}
	logger := logging.GetLogger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stopSignals := handleSignals(cancel)
	defer stopSignals()

	policy, err := rpc.ParseIntegrityPolicy(cfg.IntegrityPolicy)
	if err != nil {
		return err
	}

	logger.WithField("endpoint", cfg.StatsEndpoint).Info("Connecting to stats server")
	stats, err := rpc.NewStatsClient(cfg.StatsEndpoint, cfg.GetStatsDelay(), rpc.Options{
		Timeout:   cfg.GetStatsTimeout(),
		RetryWait: cfg.GetPollInterval(),
		Policy:    policy,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	defer stats.Close()

	logger.WithField("endpoint", cfg.SchedulerEndpoint).Info("Connecting to core scheduler server")
	sched, err := rpc.NewSchedulerClient(cfg.SchedulerEndpoint, rpc.Options{
		Timeout:   cfg.GetSchedulerTimeout(),
		RetryWait: cfg.GetPollInterval(),
		Policy:    policy,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	defer sched.Close()

	rec, err := recorder.Open(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := rec.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close recorder")
		}
	}()

	ctrl := controller.New(stats, sched, topology.NewSysfsProvider(cfg.SysfsRoot), rec, controllerOptions(cfg, policy))
	return ctrl.Run(ctx)
}

func controllerOptions(cfg *config.Config, policy rpc.IntegrityPolicy) controller.Options {
	return controller.Options{
		PollInterval:  cfg.GetPollInterval(),
		Sensitivity:   cfg.Sensitivity,
		GlobalNUMAOpt: cfg.GlobalNUMAOpt,
		Model:         cfg.GetLoadModel(),
		Policy:        policy,
	}
}

// handleSignals cancels on SIGINT or SIGTERM. SIGHUP is swallowed so that a
// closing terminal does not stop the balancer.
func handleSignals(cancel context.CancelFunc) func() {
	logger := logging.GetLogger()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case sig := <-sigChan:
				if sig == syscall.SIGHUP {
					logger.Debug("Ignoring SIGHUP")
					continue
				}
				logger.WithField("signal", sig.String()).Info("Received interrupt signal, shutting down")
				cancel()
			case <-done:
				return
			}
		}
	}()

	return func() {
		signal.Stop(sigChan)
		close(done)
	}
}
