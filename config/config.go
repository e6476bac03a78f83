package config

import (
	"fmt"
	"io/ioutil"
	"time"

	"github.com/rovalabs/rova/bus"
	"github.com/rovalabs/rova/core"

	"gopkg.in/yaml.v2"
)

// Config is the parsed monitoring configuration: the setup block and
// the list of specifications.
//
// Specifications can be given inline or resolved from a separate
// source (see SpecSource).
type Config struct {
	Setup          Setup         `yaml:"setup"`
	MQTT           *bus.MQTTConf `yaml:"mqtt,omitempty"`
	Specifications []SpecConf    `yaml:"specifications"`
	SpecSource     *SpecSource   `yaml:"specifications_source,omitempty"`
}

// Setup mirrors the configuration file's setup block.
type Setup struct {
	// TargetNode is the observed application's node name.
	TargetNode string `yaml:"target_node"`

	// Topics maps topic name to its declared message type.
	Topics map[string]string `yaml:"topics"`

	// LoggerPath is the directory for run logs and reports.
	LoggerPath string `yaml:"logger_path"`

	// Rate is the heartbeat frequency in Hz.
	Rate float64 `yaml:"rate"`

	// SnapshotCron, when set, schedules heartbeats by crontab
	// expression instead of Rate.
	SnapshotCron string `yaml:"snapshot_cron,omitempty"`

	// MetricsAddr serves Prometheus metrics when set.
	MetricsAddr string `yaml:"metrics_addr,omitempty"`

	// FeedAddr serves the websocket live feed when set.
	FeedAddr string `yaml:"feed_addr,omitempty"`

	// StorePath is the verdict database file when set.
	StorePath string `yaml:"store_path,omitempty"`
}

// SpecConf is one specification as written in YAML.  Durations are
// seconds.  The Target shape depends on the mode; see Compile.
type SpecConf struct {
	Name                string      `yaml:"name"`
	Topic               string      `yaml:"topic"`
	Mode                string      `yaml:"mode"`
	Target              interface{} `yaml:"target"`
	TemporalConsistency bool        `yaml:"temporal_consistency"`
	Tolerance           float64     `yaml:"tolerance"`
	Epsilon             float64     `yaml:"epsilon"`
	Timein              float64     `yaml:"timein"`
	Timeout             float64     `yaml:"timeout"`
	Comparator          string      `yaml:"comparator"`
	Warmup              *bool       `yaml:"warmup"`
}

// Load reads and parses a configuration file, resolving any external
// specification source.
func Load(path string) (*Config, error) {
	body, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(body)
}

// Parse parses configuration YAML.
func Parse(body []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(body, &c); err != nil {
		return nil, err
	}

	if c.SpecSource != nil {
		specs, err := c.SpecSource.Resolve()
		if err != nil {
			return nil, err
		}
		c.Specifications = append(c.Specifications, specs...)
	}

	if c.Setup.TargetNode == "" {
		return nil, fmt.Errorf("setup.target_node is required")
	}
	if c.Setup.Rate < 0 {
		return nil, fmt.Errorf("setup.rate must not be negative")
	}
	if c.Setup.Rate == 0 {
		c.Setup.Rate = 1
	}
	if len(c.Specifications) == 0 {
		return nil, fmt.Errorf("no specifications")
	}

	return &c, nil
}

// HeartbeatInterval converts the setup rate (Hz) to a period.
func (s *Setup) HeartbeatInterval() time.Duration {
	return time.Duration(float64(time.Second) / s.Rate)
}

// Compile turns every SpecConf into a validated core.Spec.  Any
// malformed specification halts compilation with a diagnostic naming
// the specification's index and topic.
func (c *Config) Compile() ([]*core.Spec, error) {
	specs := make([]*core.Spec, 0, len(c.Specifications))
	for i, sc := range c.Specifications {
		spec, err := sc.compile(c.Setup.Topics)
		if err != nil {
			return nil, fmt.Errorf("specification %d (topic '%s'): %w", i, sc.Topic, err)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func (sc *SpecConf) compile(topics map[string]string) (*core.Spec, error) {
	// Defaults, following the original tool's parameter filling.
	if sc.Mode == "" {
		sc.Mode = string(core.Exists)
	}
	mode, err := core.ParseMode(sc.Mode)
	if err != nil {
		return nil, err
	}

	if len(topics) > 0 {
		if _, have := topics[sc.Topic]; !have {
			return nil, fmt.Errorf("topic '%s' is not declared in setup.topics", sc.Topic)
		}
	}

	name := sc.Name
	if name == "" {
		name = fmt.Sprintf("%s %s", sc.Topic, sc.Mode)
	}

	warmup := true
	if sc.Warmup != nil {
		warmup = *sc.Warmup
	}

	targets, err := parseTargets(mode, sc.Target)
	if err != nil {
		return nil, err
	}

	spec := &core.Spec{
		Name:                name,
		Topic:               sc.Topic,
		Mode:                mode,
		Targets:             targets,
		TemporalConsistency: sc.TemporalConsistency,
		Tolerance:           seconds(sc.Tolerance),
		Epsilon:             sc.Epsilon,
		Timein:              seconds(sc.Timein),
		Timeout:             seconds(sc.Timeout),
		Comparator:          core.Comparator(sc.Comparator),
		Warmup:              warmup,
	}

	if err := spec.Compile(); err != nil {
		return nil, err
	}
	return spec, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
