// Package config loads the agent's configuration from a YAML file laid over
// defaults mirroring those enumerated across §5/§6 of the specification. No
// environment variables are read; cmd/concord overrides only the node id,
// from its --node-id flag.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable named in the specification.
type Config struct {
	NodeID   string `yaml:"node_id"`
	DataDir  string `yaml:"data_dir"`

	ClientEndpoint   string `yaml:"client_endpoint"`
	MemberEndpoint   string `yaml:"member_endpoint"`
	TransferEndpoint string `yaml:"transfer_endpoint"`
	LogEndpoint      string `yaml:"log_endpoint"`

	// Timeouts, all in nanoseconds in the spec's vocabulary; stored here as
	// time.Duration for Go ergonomics.
	SessionTimeout          time.Duration `yaml:"session_timeout"`
	LeaderHeartbeatInterval time.Duration `yaml:"leader_heartbeat_interval"`
	LeaderHeartbeatTimeout  time.Duration `yaml:"leader_heartbeat_timeout"`
	CatchupTimeout          time.Duration `yaml:"catchup_timeout"`
	TerminationTimeout      time.Duration `yaml:"termination_timeout"`
	SlowTickInterval        time.Duration `yaml:"slow_tick_interval"`

	MaxConcurrentSessions int `yaml:"max_concurrent_sessions"`
	ServiceMessageLimit   int `yaml:"service_message_limit"`
	PendingQueueCapacity  int `yaml:"pending_queue_capacity"`

	// TimerWheel tuning (§4.4).
	WheelTickResolution time.Duration `yaml:"wheel_tick_resolution"`
	TicksPerWheel       int           `yaml:"ticks_per_wheel"`

	// FileSyncLevel controls whether the RecordingLog fsyncs after snapshot
	// appends (0 = never, >0 = always).
	FileSyncLevel int `yaml:"file_sync_level"`

	AppVersion    int32  `yaml:"app_version"`
	ClusterMajor  int32  `yaml:"cluster_major"`
	MetricsAddr   string `yaml:"metrics_addr"`
	HealthAddr    string `yaml:"health_addr"`
}

// ServiceMessageLimitDefault matches §4.1's SERVICE_MESSAGE_LIMIT=20.
const ServiceMessageLimitDefault = 20

// Default returns a Config with every spec-mandated constant filled in.
func Default() *Config {
	return &Config{
		DataDir:                 "./data",
		ClientEndpoint:          "127.0.0.1:9002",
		MemberEndpoint:          "127.0.0.1:9003",
		TransferEndpoint:        "127.0.0.1:9004",
		LogEndpoint:             "127.0.0.1:9005",
		SessionTimeout:          10 * time.Second,
		LeaderHeartbeatInterval: 250 * time.Millisecond,
		LeaderHeartbeatTimeout:  2 * time.Second,
		CatchupTimeout:          10 * time.Second,
		TerminationTimeout:      10 * time.Second,
		SlowTickInterval:        10 * time.Millisecond,
		MaxConcurrentSessions:   10,
		ServiceMessageLimit:     ServiceMessageLimitDefault,
		PendingQueueCapacity:    1024,
		WheelTickResolution:     8 * time.Millisecond,
		TicksPerWheel:           1024,
		FileSyncLevel:           0,
		AppVersion:              1,
		ClusterMajor:            1,
		MetricsAddr:             ":9100",
		HealthAddr:              ":9101",
	}
}

// Load reads a YAML config file and overlays it on Default().
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
