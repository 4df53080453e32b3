package cmd

import (
	"fmt"

	"relay-balancer/internal/config"
	"relay-balancer/internal/logging"

	"github.com/spf13/cobra"
)

const Version = "1.0.0"

// options mirrors the configuration fields that can be set from the command
// line. Flags only override the file and environment when explicitly given.
type options struct {
	configFile      string
	statsEP         string
	schedEP         string
	pollInterval    float64
	logLevel        int
	logFormat       string
	sensitivity     float64
	globalNUMAOpt   bool
	integrityPolicy string
	sysfsRoot       string
	spoolDir        string
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "relay-balancer",
		Short:         "Dynamic worker core load balancer for relay forwarding",
		Long:          "Periodically rebalances relay directions over the forwarder's worker cores, NUMA node by NUMA node",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBalancer(cmd, opts)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configFile, "config", "c", "", "Path to YAML configuration file")
	flags.StringVar(&opts.statsEP, "stats-ep", config.DefaultStatsEndpoint, "Statistics service endpoint")
	flags.StringVar(&opts.schedEP, "sched-ep", config.DefaultSchedulerEndpoint, "Core scheduler service endpoint")
	flags.Float64Var(&opts.pollInterval, "poll-interval", config.DefaultPollInterval, "Polling/control interval in seconds")
	flags.IntVar(&opts.logLevel, "loglevel", logging.DefaultVerbosity, "Logging verbosity (syslog priority 0-7)")
	flags.StringVar(&opts.logFormat, "log-format", "text", "Log output format (text, json)")
	flags.Float64Var(&opts.sensitivity, "sensitivity", config.DefaultSensitivity, "Load balancing sensitivity (>=0), smaller is more sensitive")
	flags.BoolVar(&opts.globalNUMAOpt, "global-numa-opt", false, "Ignore NUMA affinities when optimizing")
	flags.StringVar(&opts.integrityPolicy, "integrity-policy", config.IntegrityFailFast, "Reaction to malformed replies (fail-fast, fail-soft)")
	flags.StringVar(&opts.sysfsRoot, "sysfs-root", config.DefaultSysfsRoot, "Root of the sysfs tree used for NUMA discovery")
	flags.StringVar(&opts.spoolDir, "spool-dir", "", "Directory for the run summary written on shutdown")

	rootCmd.AddCommand(newRunCommand(opts))
	rootCmd.AddCommand(newValidateCommand(opts))
	rootCmd.AddCommand(newTopologyCommand(opts))
	return rootCmd
}

// Execute runs the command line.
func Execute() error {
	return newRootCommand().Execute()
}

func newRunCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the balancing loop until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBalancer(cmd, opts)
		},
	}
}

// loadConfiguration resolves defaults, file, environment and flags in that
// order, then coerces invalid values. Coercion warnings are returned so the
// caller can log them once logging is configured.
func loadConfiguration(cmd *cobra.Command, opts *options) (*config.Config, []string, error) {
	config.LoadDotEnv()

	cfg, err := config.LoadConfig(opts.configFile)
	if err != nil {
		return nil, nil, err
	}
	applyFlags(cmd, opts, cfg)

	warnings := cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, warnings, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, warnings, nil
}

func applyFlags(cmd *cobra.Command, opts *options, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("stats-ep") {
		cfg.StatsEndpoint = opts.statsEP
	}
	if flags.Changed("sched-ep") {
		cfg.SchedulerEndpoint = opts.schedEP
	}
	if flags.Changed("poll-interval") {
		cfg.PollInterval = opts.pollInterval
	}
	if flags.Changed("loglevel") {
		cfg.LogLevel = opts.logLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = opts.logFormat
	}
	if flags.Changed("sensitivity") {
		cfg.Sensitivity = opts.sensitivity
	}
	if flags.Changed("global-numa-opt") {
		cfg.GlobalNUMAOpt = opts.globalNUMAOpt
	}
	if flags.Changed("integrity-policy") {
		cfg.IntegrityPolicy = opts.integrityPolicy
	}
	if flags.Changed("sysfs-root") {
		cfg.SysfsRoot = opts.sysfsRoot
	}
	if flags.Changed("spool-dir") {
		cfg.SpoolDir = opts.spoolDir
	}
}

// setupLogging applies the configured verbosity and format, then reports the
// coercion warnings collected while loading.
func setupLogging(cfg *config.Config, warnings []string) error {
	if err := logging.SetFormat(cfg.LogFormat); err != nil {
		return err
	}
	if err := logging.SetVerbosity(cfg.LogLevel); err != nil {
		return err
	}
	logger := logging.GetLogger()
	for _, w := range warnings {
		logger.Warn(w)
	}
	return nil
}
