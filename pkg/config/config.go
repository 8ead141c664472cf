// Package config holds the process-wide cluster configuration singleton.
// The core never parses its own config file; an external loader (out of
// scope here) decodes YAML into a ClusterConfig and calls Init once at
// startup. After Init the snapshot is read-only.
package config

import (
	"sync"
	"sync/atomic"
)

// ProtocolLimits bounds MQTT packet handling.
type ProtocolLimits struct {
	MaxPacketSize    uint32 `yaml:"max_packet_size"`
	TopicAliasMax    uint16 `yaml:"topic_alias_max"`
	ReceiveMax       uint16 `yaml:"receive_max"`
	MaxQoS           uint8  `yaml:"max_qos"`
	RetainAvailable  bool   `yaml:"retain_available"`
	SessionExpiryMax uint32 `yaml:"session_expiry_max"`
}

// SecurityConfig toggles cluster self-protection and auth behavior.
type SecurityConfig struct {
	SelfProtectionEnabled   bool    `yaml:"self_protection_enabled"`
	SelfProtectionThreshold float64 `yaml:"self_protection_threshold"`
	IsSelfProtection        bool    `yaml:"-"`
}

// NetworkThreadConfig sizes the connection manager's worker pools.
type NetworkThreadConfig struct {
	AcceptThreadNum int `yaml:"accept_thread_num"`
	HandlerThreadNum int `yaml:"handler_thread_num"`
	ResponseThreadNum int `yaml:"response_thread_num"`
}

// ConnectionConfig tunes the connection manager's write-half lookup
// retry budget.
type ConnectionConfig struct {
	LockMaxTryMutTimes     int `yaml:"lock_max_try_mut_times"`
	LockTryMutSleepTimeMs  int `yaml:"lock_try_mut_sleep_time_ms"`
}

// SlowSubConfig flags subscribers whose delivery lags behind publish.
type SlowSubConfig struct {
	Enable         bool `yaml:"enable"`
	ThresholdMs    int  `yaml:"threshold_ms"`
}

// FlappingDetectConfig disconnects clients that reconnect too often.
type FlappingDetectConfig struct {
	Enable        bool `yaml:"enable"`
	WindowSeconds int  `yaml:"window_seconds"`
	MaxClientConnections int `yaml:"max_client_connections"`
	BanSeconds    int  `yaml:"ban_seconds"`
}

// OfflineMessagePolicy controls whether and how long messages are queued
// for disconnected sessions.
type OfflineMessagePolicy struct {
	Enable       bool `yaml:"enable"`
	MaxQueuedLen int  `yaml:"max_queued_len"`
}

// SchemaConfig toggles schema validation/registry lookups at publish time.
type SchemaConfig struct {
	Enable bool `yaml:"enable"`
}

// SystemMonitorConfig controls periodic node-health reporting.
type SystemMonitorConfig struct {
	Enable           bool `yaml:"enable"`
	ReportIntervalMs int  `yaml:"report_interval_ms"`
}

// FeatureFlags are dynamically overridable on/off switches.
type FeatureFlags struct {
	Flags map[string]bool `yaml:"flags"`
}

// ClusterConfig is the versioned, dynamically overridable per-cluster bag
// of sub-configs replicated via meta. Brokers cache the composed view.
type ClusterConfig struct {
	Version       uint64               `yaml:"version"`
	ClusterName   string               `yaml:"cluster_name"`
	Protocol      ProtocolLimits       `yaml:"protocol"`
	Security      SecurityConfig       `yaml:"security"`
	NetworkThread NetworkThreadConfig  `yaml:"network_thread"`
	Connection    ConnectionConfig     `yaml:"connection"`
	SlowSub       SlowSubConfig        `yaml:"slow_sub"`
	Flapping      FlappingDetectConfig `yaml:"flapping_detect"`
	OfflineMsg    OfflineMessagePolicy `yaml:"offline_message"`
	Schema        SchemaConfig         `yaml:"schema"`
	SystemMonitor SystemMonitorConfig  `yaml:"system_monitor"`
	Features      FeatureFlags         `yaml:"feature_flags"`
}

var (
	current atomic.Pointer[ClusterConfig]
	initOnce sync.Once
)

// Init sets the process-wide ClusterConfig exactly once. Subsequent calls
// are no-ops, matching the "init, read-only-after-init, never-reinitialized"
// global-state contract.
func Init(cfg ClusterConfig) {
	initOnce.Do(func() {
		current.Store(&cfg)
	})
}

// Get returns the current ClusterConfig snapshot. Panics if Init has not
// been called — reading configuration before startup has completed is a
// programming error, not a recoverable one.
//
// This snapshot is the static boot-time configuration only. The
// per-cluster dynamic overrides meta can push after startup are tracked
// separately by the broker's own versioned cache (internal/broker
// dynamic cache), not by mutating this singleton.
func Get() ClusterConfig {
	p := current.Load()
	if p == nil {
		panic("config: Get called before Init")
	}
	return *p
}
