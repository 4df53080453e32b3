package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"relay-balancer/internal/logging"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const envPrefix = "RELAY_BALANCER_"

// LoadConfig returns the defaults overlaid with the YAML file at filepath
// (if any) and the RELAY_BALANCER_* environment.
func LoadConfig(filepath string) (*Config, error) {
	logger := logging.GetLogger()

	config := Default()
	if filepath != "" {
		data, err := os.ReadFile(filepath)
		if err != nil {
			logger.WithField("filepath", filepath).WithError(err).Error("Failed to read config file")
			return nil, err
		}

		dec := yaml.NewDecoder(strings.NewReader(expandEnvVars(string(data))))
		dec.KnownFields(true)
		if err := dec.Decode(config); err != nil && !errors.Is(err, io.EOF) {
			logger.WithField("filepath", filepath).WithError(err).Error("Failed to parse config file")
			return nil, fmt.Errorf("parse %s: %w", filepath, err)
		}
	}

	if err := applyEnv(config); err != nil {
		return nil, err
	}
	return config, nil
}

func expandEnvVars(content string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(content, func(match string) string {
		envVar := strings.Trim(match, "${}")
		if value := os.Getenv(envVar); value != "" {
			return value
		}
		return match
	})
}

func applyEnv(c *Config) error {
	strs := map[string]*string{
		"STATS_EP":         &c.StatsEndpoint,
		"SCHED_EP":         &c.SchedulerEndpoint,
		"LOG_FORMAT":       &c.LogFormat,
		"INTEGRITY_POLICY": &c.IntegrityPolicy,
		"SYSFS_ROOT":       &c.SysfsRoot,
		"SPOOL_DIR":        &c.SpoolDir,
		"INFLUXDB_HOST":    &c.Influx.Host,
		"INFLUXDB_TOKEN":   &c.Influx.Token,
		"INFLUXDB_ORG":     &c.Influx.Org,
		"INFLUXDB_BUCKET":  &c.Influx.Bucket,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			*dst = v
		}
	}

	floats := map[string]*float64{
		"POLL_INTERVAL": &c.PollInterval,
		"SENSITIVITY":   &c.Sensitivity,
	}
	for key, dst := range floats {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return fmt.Errorf("%s%s: %w", envPrefix, key, err)
			}
			*dst = f
		}
	}

	ints := map[string]*int{
		"LOGLEVEL":             &c.LogLevel,
		"STATS_TIMEOUT_MS":     &c.StatsTimeoutMS,
		"SCHEDULER_TIMEOUT_MS": &c.SchedulerTimeoutMS,
		"STATS_DELAY_MS":       &c.StatsDelayMS,
	}
	for key, dst := range ints {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("%s%s: %w", envPrefix, key, err)
			}
			*dst = n
		}
	}

	if v, ok := os.LookupEnv(envPrefix + "GLOBAL_NUMA_OPT"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%sGLOBAL_NUMA_OPT: %w", envPrefix, err)
		}
		c.GlobalNUMAOpt = b
	}
	return nil
}

// Normalize coerces out-of-range values to their defaults and returns one
// warning per coerced field. It never fails.
func (c *Config) Normalize() []string {
	var warnings []string

	if c.Sensitivity < 0 {
		warnings = append(warnings, fmt.Sprintf("Specified invalid sensitivity %g. Defaulting to %g", c.Sensitivity, DefaultSensitivity))
		c.Sensitivity = DefaultSensitivity
	}
	if c.LogLevel < logging.MinVerbosity || c.LogLevel > logging.MaxVerbosity {
		warnings = append(warnings, fmt.Sprintf("Specified invalid loglevel %d. Defaulting to %d", c.LogLevel, logging.DefaultVerbosity))
		c.LogLevel = logging.DefaultVerbosity
	}
	if c.PollInterval <= 0 {
		warnings = append(warnings, fmt.Sprintf("Specified invalid poll interval %g. Defaulting to %g", c.PollInterval, DefaultPollInterval))
		c.PollInterval = DefaultPollInterval
	}
	if c.StatsTimeoutMS <= 0 {
		warnings = append(warnings, fmt.Sprintf("Specified invalid stats timeout %dms. Defaulting to %dms", c.StatsTimeoutMS, DefaultTimeoutMS))
		c.StatsTimeoutMS = DefaultTimeoutMS
	}
	if c.SchedulerTimeoutMS <= 0 {
		warnings = append(warnings, fmt.Sprintf("Specified invalid scheduler timeout %dms. Defaulting to %dms", c.SchedulerTimeoutMS, DefaultTimeoutMS))
		c.SchedulerTimeoutMS = DefaultTimeoutMS
	}
	if c.StatsDelayMS < 0 {
		warnings = append(warnings, fmt.Sprintf("Specified invalid stats delay %dms. Defaulting to %dms", c.StatsDelayMS, DefaultStatsDelayMS))
		c.StatsDelayMS = DefaultStatsDelayMS
	}
	if c.SysfsRoot == "" {
		c.SysfsRoot = DefaultSysfsRoot
	}
	return warnings
}

// Validate rejects configurations that cannot be coerced to something safe.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.StatsEndpoint) == "" {
		return fmt.Errorf("stats endpoint is required")
	}
	if strings.TrimSpace(c.SchedulerEndpoint) == "" {
		return fmt.Errorf("scheduler endpoint is required")
	}
	switch c.IntegrityPolicy {
	case IntegrityFailFast, IntegrityFailSoft:
	default:
		return fmt.Errorf("integrity_policy must be %q or %q, got %q", IntegrityFailFast, IntegrityFailSoft, c.IntegrityPolicy)
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("log_format must be text or json, got %q", c.LogFormat)
	}
	for name, co := range map[string]CoefficientsConfig{"vm2vf": c.LoadModel.VM2VF, "vf2vm": c.LoadModel.VF2VM} {
		if co.PPS < 0 || co.Bps < 0 {
			return fmt.Errorf("load_model.%s coefficients must be non-negative", name)
		}
	}
	if c.Influx.Host != "" && c.Influx.Bucket == "" {
		return fmt.Errorf("influx.bucket is required when influx.host is set")
	}
	return nil
}

// LoadDotEnv loads a .env file from the working directory or, failing that,
// from the directory holding the executable.
func LoadDotEnv() {
	logger := logging.GetLogger()

	candidates := []string{".env"}
	if execPath, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(execPath), ".env"))
	}
	for _, envFile := range candidates {
		if _, err := os.Stat(envFile); err != nil {
			continue
		}
		if err := godotenv.Load(envFile); err != nil {
			logger.WithField("file", envFile).WithError(err).Warn("Error loading .env file")
		} else {
			logger.WithField("file", envFile).Debug("Loaded environment variables")
		}
		return
	}
}
