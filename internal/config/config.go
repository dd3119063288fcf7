/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
Package config loads and validates patchmesh node configuration from a
TOML-ish key=value file, environment variable overrides, and built-in
defaults. Environment variables override the file, and the file
overrides the defaults.
*/
package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	perrors "patchmesh/internal/errors"
)

// Environment variable names recognized by LoadFromEnv.
const (
	EnvNodeID                      = "PATCHMESH_NODE_ID"
	EnvControlGroup                = "PATCHMESH_CONTROL_GROUP"
	EnvControlPort                 = "PATCHMESH_CONTROL_PORT"
	EnvPacketRate                  = "PATCHMESH_PACKET_RATE"
	EnvSampleRate                  = "PATCHMESH_SAMPLE_RATE"
	EnvChannels                    = "PATCHMESH_CHANNELS"
	EnvBufferSize                  = "PATCHMESH_BUFFER_SIZE"
	EnvPeerSilenceTimeoutMs        = "PATCHMESH_PEER_SILENCE_TIMEOUT_MS"
	EnvSnapshotCompressionThresh   = "PATCHMESH_SNAPSHOT_COMPRESSION_THRESHOLD"
	EnvSnapshotGatherDeadlineMs    = "PATCHMESH_SNAPSHOT_GATHER_DEADLINE_MS"
	EnvGatherPolicy                = "PATCHMESH_GATHER_POLICY"
	EnvMDNSEnabled                 = "PATCHMESH_MDNS_ENABLED"
	EnvLogLevel                    = "PATCHMESH_LOG_LEVEL"
	EnvLogJSON                     = "PATCHMESH_LOG_JSON"
)

// Config holds a single node's tunables.
type Config struct {
	NodeID      string
	DisplayName string

	ControlGroup string
	ControlPort  int

	PacketRate int
	SampleRate int
	Channels   int
	BufferSize int

	ElectionTimeoutMinMs int
	ElectionTimeoutMaxMs int
	HeartbeatPeriodMs    int
	PeerSilenceTimeoutMs int

	SnapshotCompressionThreshold int
	SnapshotGatherDeadlineMs     int
	GatherPolicy                 string

	MDNSEnabled     bool
	MDNSServiceName string

	LogLevel string
	LogJSON  bool

	// ConfigFile records the path a config was loaded from, empty if
	// constructed in-process.
	ConfigFile string
}

// DefaultConfig returns a Config populated with the fabric's default
// tunables (spec.md §6 plus the SPEC_FULL.md additions).
func DefaultConfig() *Config {
	return &Config{
		NodeID:       "standalone",
		ControlGroup: "239.0.0.0",
		ControlPort:  19874,

		PacketRate: 1000,
		SampleRate: 48000,
		Channels:   8,
		BufferSize: 16,

		ElectionTimeoutMinMs: 150,
		ElectionTimeoutMaxMs: 300,
		HeartbeatPeriodMs:    50,
		PeerSilenceTimeoutMs: 2000,

		SnapshotCompressionThreshold: 1024,
		SnapshotGatherDeadlineMs:     500,
		GatherPolicy:                 "quorum",

		MDNSEnabled:     false,
		MDNSServiceName: "_patchmesh._udp.local.",

		LogLevel: "info",
		LogJSON:  false,
	}
}

// Validate checks the config for internal consistency, returning a
// *perrors.Error describing the first violation found.
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return perrors.MissingField("node_id")
	}
	if c.ControlPort < 1 || c.ControlPort > 65535 {
		return perrors.InvalidPort("control_port", c.ControlPort)
	}
	if c.PacketRate <= 0 {
		return perrors.MissingField("packet_rate")
	}
	if c.SampleRate <= 0 || c.SampleRate%c.PacketRate != 0 {
		return perrors.InvalidRate(c.SampleRate, c.PacketRate)
	}
	if c.Channels <= 0 {
		return perrors.MissingField("channels")
	}
	if c.BufferSize <= 0 {
		return perrors.MissingField("buffer_size")
	}
	if c.ElectionTimeoutMinMs <= 0 || c.ElectionTimeoutMaxMs <= c.ElectionTimeoutMinMs {
		return (&perrors.Error{
			Code:     perrors.ErrCodeConfig,
			Category: perrors.CategoryConfig,
			Message:  "election_timeout_min_ms must be positive and less than election_timeout_max_ms",
		})
	}
	if c.HeartbeatPeriodMs <= 0 {
		return perrors.MissingField("heartbeat_period_ms")
	}
	if c.PeerSilenceTimeoutMs <= 0 {
		return perrors.MissingField("peer_silence_timeout_ms")
	}
	switch c.GatherPolicy {
	case "eventual", "quorum", "all":
	default:
		return (&perrors.Error{
			Code:     perrors.ErrCodeConfig,
			Category: perrors.CategoryConfig,
			Message:  "invalid gather_policy",
			Detail:   fmt.Sprintf("got %q, want eventual|quorum|all", c.GatherPolicy),
		})
	}
	return nil
}

// BlockSize returns the number of samples per channel in one tick's
// worth of data, derived as SampleRate / PacketRate (spec §6).
func (c *Config) BlockSize() int {
	if c.PacketRate == 0 {
		return 0
	}
	return c.SampleRate / c.PacketRate
}

// String renders a human-readable, multi-line summary of the config.
func (c *Config) String() string {
	return fmt.Sprintf(
		"NodeID: %s\nDisplayName: %s\nControl: %s:%d\nPacketRate: %d Hz\nSampleRate: %d Hz\nChannels: %d\nGatherPolicy: %s\nLogLevel: %s",
		c.NodeID, c.DisplayName, c.ControlGroup, c.ControlPort,
		c.PacketRate, c.SampleRate, c.Channels, c.GatherPolicy, c.LogLevel,
	)
}

// ToTOML renders the config as a TOML-ish key=value document, the same
// format LoadFromFile parses.
func (c *Config) ToTOML() string {
	var b strings.Builder
	fmt.Fprintf(&b, "node_id = %q\n", c.NodeID)
	fmt.Fprintf(&b, "display_name = %q\n", c.DisplayName)
	fmt.Fprintf(&b, "control_group = %q\n", c.ControlGroup)
	fmt.Fprintf(&b, "control_port = %d\n", c.ControlPort)
	fmt.Fprintf(&b, "packet_rate = %d\n", c.PacketRate)
	fmt.Fprintf(&b, "sample_rate = %d\n", c.SampleRate)
	fmt.Fprintf(&b, "channels = %d\n", c.Channels)
	fmt.Fprintf(&b, "buffer_size = %d\n", c.BufferSize)
	fmt.Fprintf(&b, "election_timeout_min_ms = %d\n", c.ElectionTimeoutMinMs)
	fmt.Fprintf(&b, "election_timeout_max_ms = %d\n", c.ElectionTimeoutMaxMs)
	fmt.Fprintf(&b, "heartbeat_period_ms = %d\n", c.HeartbeatPeriodMs)
	fmt.Fprintf(&b, "peer_silence_timeout_ms = %d\n", c.PeerSilenceTimeoutMs)
	fmt.Fprintf(&b, "snapshot_compression_threshold = %d\n", c.SnapshotCompressionThreshold)
	fmt.Fprintf(&b, "snapshot_gather_deadline_ms = %d\n", c.SnapshotGatherDeadlineMs)
	fmt.Fprintf(&b, "gather_policy = %q\n", c.GatherPolicy)
	fmt.Fprintf(&b, "mdns_enabled = %t\n", c.MDNSEnabled)
	fmt.Fprintf(&b, "mdns_service_name = %q\n", c.MDNSServiceName)
	fmt.Fprintf(&b, "log_level = %q\n", c.LogLevel)
	fmt.Fprintf(&b, "log_json = %t\n", c.LogJSON)
	return b.String()
}

// SaveToFile writes the config's TOML rendering to path, creating parent
// directories as needed.
func (c *Config) SaveToFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return perrors.MissingField("config_dir").WithCause(err)
	}
	return os.WriteFile(path, []byte(c.ToTOML()), 0o644)
}

// Manager owns the active Config, supports hot reload from the file it
// was loaded from, and notifies subscribers on reload.
type Manager struct {
	mu       sync.RWMutex
	cfg      *Config
	path     string
	onReload []func(*Config)
}

// NewManager returns a Manager seeded with DefaultConfig.
func NewManager() *Manager {
	return &Manager{cfg: DefaultConfig()}
}

// Get returns the current config. Callers must not mutate the returned
// value.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// LoadFromFile parses a TOML-ish key=value config file into the
// manager's current config and remembers the path for Reload.
func (m *Manager) LoadFromFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return perrors.MissingField("config_file").WithCause(err)
	}
	defer f.Close()

	m.mu.Lock()
	defer m.mu.Unlock()

	cfg := *m.cfg
	if err := applyFile(&cfg, f); err != nil {
		return err
	}
	cfg.ConfigFile = path
	m.cfg = &cfg
	m.path = path
	return nil
}

func applyFile(cfg *Config, f *os.File) error {
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		val = strings.Trim(val, `"`)
		applyKV(cfg, key, val)
	}
	return scanner.Err()
}

func applyKV(cfg *Config, key, val string) {
	switch key {
	case "node_id":
		cfg.NodeID = val
	case "display_name":
		cfg.DisplayName = val
	case "control_group":
		cfg.ControlGroup = val
	case "control_port":
		cfg.ControlPort = atoiOr(val, cfg.ControlPort)
	case "packet_rate":
		cfg.PacketRate = atoiOr(val, cfg.PacketRate)
	case "sample_rate":
		cfg.SampleRate = atoiOr(val, cfg.SampleRate)
	case "channels":
		cfg.Channels = atoiOr(val, cfg.Channels)
	case "buffer_size":
		cfg.BufferSize = atoiOr(val, cfg.BufferSize)
	case "election_timeout_min_ms":
		cfg.ElectionTimeoutMinMs = atoiOr(val, cfg.ElectionTimeoutMinMs)
	case "election_timeout_max_ms":
		cfg.ElectionTimeoutMaxMs = atoiOr(val, cfg.ElectionTimeoutMaxMs)
	case "heartbeat_period_ms":
		cfg.HeartbeatPeriodMs = atoiOr(val, cfg.HeartbeatPeriodMs)
	case "peer_silence_timeout_ms":
		cfg.PeerSilenceTimeoutMs = atoiOr(val, cfg.PeerSilenceTimeoutMs)
	case "snapshot_compression_threshold":
		cfg.SnapshotCompressionThreshold = atoiOr(val, cfg.SnapshotCompressionThreshold)
	case "snapshot_gather_deadline_ms":
		cfg.SnapshotGatherDeadlineMs = atoiOr(val, cfg.SnapshotGatherDeadlineMs)
	case "gather_policy":
		cfg.GatherPolicy = val
	case "mdns_enabled":
		cfg.MDNSEnabled = val == "true"
	case "mdns_service_name":
		cfg.MDNSServiceName = val
	case "log_level":
		cfg.LogLevel = val
	case "log_json":
		cfg.LogJSON = val == "true"
	}
}

func atoiOr(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}

// LoadFromEnv overlays PATCHMESH_* environment variables onto the
// manager's current config. Unset variables leave existing values
// untouched.
func (m *Manager) LoadFromEnv() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg := *m.cfg
	if v, ok := os.LookupEnv(EnvNodeID); ok {
		cfg.NodeID = v
	}
	if v, ok := os.LookupEnv(EnvControlGroup); ok {
		cfg.ControlGroup = v
	}
	if v, ok := os.LookupEnv(EnvControlPort); ok {
		cfg.ControlPort = atoiOr(v, cfg.ControlPort)
	}
	if v, ok := os.LookupEnv(EnvPacketRate); ok {
		cfg.PacketRate = atoiOr(v, cfg.PacketRate)
	}
	if v, ok := os.LookupEnv(EnvSampleRate); ok {
		cfg.SampleRate = atoiOr(v, cfg.SampleRate)
	}
	if v, ok := os.LookupEnv(EnvChannels); ok {
		cfg.Channels = atoiOr(v, cfg.Channels)
	}
	if v, ok := os.LookupEnv(EnvBufferSize); ok {
		cfg.BufferSize = atoiOr(v, cfg.BufferSize)
	}
	if v, ok := os.LookupEnv(EnvPeerSilenceTimeoutMs); ok {
		cfg.PeerSilenceTimeoutMs = atoiOr(v, cfg.PeerSilenceTimeoutMs)
	}
	if v, ok := os.LookupEnv(EnvSnapshotCompressionThresh); ok {
		cfg.SnapshotCompressionThreshold = atoiOr(v, cfg.SnapshotCompressionThreshold)
	}
	if v, ok := os.LookupEnv(EnvSnapshotGatherDeadlineMs); ok {
		cfg.SnapshotGatherDeadlineMs = atoiOr(v, cfg.SnapshotGatherDeadlineMs)
	}
	if v, ok := os.LookupEnv(EnvGatherPolicy); ok {
		cfg.GatherPolicy = v
	}
	if v, ok := os.LookupEnv(EnvMDNSEnabled); ok {
		cfg.MDNSEnabled = v == "true"
	}
	if v, ok := os.LookupEnv(EnvLogLevel); ok {
		cfg.LogLevel = v
	}
	if v, ok := os.LookupEnv(EnvLogJSON); ok {
		cfg.LogJSON = v == "true"
	}
	m.cfg = &cfg
}

// OnReload registers a callback invoked after every successful Reload.
func (m *Manager) OnReload(fn func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReload = append(m.onReload, fn)
}

// Reload re-reads the config file this manager was last loaded from and
// invokes any registered OnReload callbacks.
func (m *Manager) Reload() error {
	m.mu.RLock()
	path := m.path
	m.mu.RUnlock()

	if path == "" {
		return perrors.MissingField("config_file")
	}
	if err := m.LoadFromFile(path); err != nil {
		return err
	}

	m.mu.RLock()
	cfg := m.cfg
	callbacks := append([]func(*Config){}, m.onReload...)
	m.mu.RUnlock()

	for _, cb := range callbacks {
		cb(cfg)
	}
	return nil
}

var (
	globalOnce sync.Once
	globalMgr  *Manager
)

// Global returns the process-wide config manager, constructing it on
// first use.
func Global() *Manager {
	globalOnce.Do(func() {
		globalMgr = NewManager()
	})
	return globalMgr
}
