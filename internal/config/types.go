package config

import (
	"time"

	"relay-balancer/internal/logging"
	"relay-balancer/internal/relay"
)

const (
	DefaultStatsEndpoint     = "unix:///var/run/virtio-forwarder/stats"
	DefaultSchedulerEndpoint = "unix:///var/run/virtio-forwarder/core_sched"
	DefaultPollInterval      = 5.0
	DefaultTimeoutMS         = 2000
	DefaultStatsDelayMS      = 200
	DefaultSensitivity       = 0.25
	DefaultSysfsRoot         = "/sys"

	IntegrityFailFast = "fail-fast"
	IntegrityFailSoft = "fail-soft"
)

type Config struct {
	StatsEndpoint      string          `yaml:"stats_endpoint"`
	SchedulerEndpoint  string          `yaml:"scheduler_endpoint"`
	PollInterval       float64         `yaml:"poll_interval"`
	StatsTimeoutMS     int             `yaml:"stats_timeout_ms"`
	SchedulerTimeoutMS int             `yaml:"scheduler_timeout_ms"`
	StatsDelayMS       int             `yaml:"stats_delay_ms"`
	LogLevel           int             `yaml:"log_level"`
	LogFormat          string          `yaml:"log_format"`
	Sensitivity        float64         `yaml:"sensitivity"`
	GlobalNUMAOpt      bool            `yaml:"global_numa_opt"`
	IntegrityPolicy    string          `yaml:"integrity_policy"`
	SysfsRoot          string          `yaml:"sysfs_root"`
	LoadModel          LoadModelConfig `yaml:"load_model"`
	Influx             InfluxConfig    `yaml:"influx"`
	SpoolDir           string          `yaml:"spool_dir"`
}

// LoadModelConfig holds the per-direction coefficients of the load estimator.
type LoadModelConfig struct {
	VM2VF CoefficientsConfig `yaml:"vm2vf"`
	VF2VM CoefficientsConfig `yaml:"vf2vm"`
}

type CoefficientsConfig struct {
	PPS float64 `yaml:"pps"`
	Bps float64 `yaml:"bps"`
}

type InfluxConfig struct {
	Host   string `yaml:"host"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

// Enabled reports whether enough is configured to open a client.
func (ic InfluxConfig) Enabled() bool {
	return ic.Host != "" && ic.Bucket != ""
}

// Default returns a configuration with every field set to its default.
func Default() *Config {
	return &Config{
		StatsEndpoint:      DefaultStatsEndpoint,
		SchedulerEndpoint:  DefaultSchedulerEndpoint,
		PollInterval:       DefaultPollInterval,
		StatsTimeoutMS:     DefaultTimeoutMS,
		SchedulerTimeoutMS: DefaultTimeoutMS,
		StatsDelayMS:       DefaultStatsDelayMS,
		LogLevel:           logging.DefaultVerbosity,
		LogFormat:          "text",
		Sensitivity:        DefaultSensitivity,
		IntegrityPolicy:    IntegrityFailFast,
		SysfsRoot:          DefaultSysfsRoot,
		LoadModel: LoadModelConfig{
			VM2VF: CoefficientsConfig{PPS: relay.DefaultModel.VM2VF.PPS, Bps: relay.DefaultModel.VM2VF.Bps},
			VF2VM: CoefficientsConfig{PPS: relay.DefaultModel.VF2VM.PPS, Bps: relay.DefaultModel.VF2VM.Bps},
		},
	}
}

func (c *Config) GetPollInterval() time.Duration {
	return time.Duration(c.PollInterval * float64(time.Second))
}

func (c *Config) GetStatsTimeout() time.Duration {
	return time.Duration(c.StatsTimeoutMS) * time.Millisecond
}

func (c *Config) GetStatsDelay() time.Duration {
	return time.Duration(c.StatsDelayMS) * time.Millisecond
}

func (c *Config) GetSchedulerTimeout() time.Duration {
	return time.Duration(c.SchedulerTimeoutMS) * time.Millisecond
}

func (c *Config) GetLoadModel() relay.Model {
	return relay.Model{
		VM2VF: relay.Coefficients{PPS: c.LoadModel.VM2VF.PPS, Bps: c.LoadModel.VM2VF.Bps},
		VF2VM: relay.Coefficients{PPS: c.LoadModel.VF2VM.PPS, Bps: c.LoadModel.VF2VM.Bps},
	}
}
