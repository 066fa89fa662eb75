// Package config loads and persists the gateway's configuration: listen
// binding, auth mode, pairing/exec/session defaults, and the audit sink.
// Adapted from the teacher's config.go (xdg-rooted YAML file, K13D_*
// environment overrides, graceful fallback to defaults on a missing or
// unparsable file) but with the LLM/cluster-specific fields replaced by the
// gateway domain's own surface.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

// Config is the gateway's full configuration surface.
type Config struct {
	Listen  ListenConfig  `yaml:"listen" json:"listen"`
	Auth    AuthConfig    `yaml:"auth" json:"auth"`
	Pairing PairingConfig `yaml:"pairing" json:"pairing"`
	Exec    ExecConfig    `yaml:"exec" json:"exec"`
	Session SessionConfig `yaml:"session" json:"session"`
	Channels []ChannelConfig `yaml:"channels" json:"channels"`
	Audit   AuditConfig   `yaml:"audit" json:"audit"`
	Cron    CronConfig    `yaml:"cron" json:"cron"`

	LogLevel string `yaml:"log_level" json:"log_level"`
	StateDir string `yaml:"state_dir" json:"state_dir"` // overrides the xdg default when set
}

// ListenConfig is the gateway's transport binding, per spec §4.B: one of
// loopback, a local-network interface, or a VPN-tunnel interface.
type ListenConfig struct {
	Bind string `yaml:"bind" json:"bind"` // "127.0.0.1", "0.0.0.0", a tunnel interface address, ...
	Port int    `yaml:"port" json:"port"`
}

// AuthConfig mirrors pkg/authn.Config, kept as plain YAML-friendly fields
// here so the config file format doesn't depend on authn's internal types.
type AuthConfig struct {
	SharedToken    string `yaml:"shared_token" json:"-"`
	SharedPassword string `yaml:"shared_password" json:"-"`

	TunnelEnabled bool   `yaml:"tunnel_enabled" json:"tunnel_enabled"`
	TunnelHeader  string `yaml:"tunnel_header" json:"tunnel_header"`

	LDAP LDAPConfig `yaml:"ldap" json:"ldap"`
}

// LDAPConfig is the supplemental directory-auth backend, off by default.
type LDAPConfig struct {
	Enabled      bool              `yaml:"enabled" json:"enabled"`
	URL          string            `yaml:"url" json:"url"`
	BindDN       string            `yaml:"bind_dn" json:"bind_dn"`
	BindPassword string            `yaml:"bind_password" json:"-"`
	BaseDN       string            `yaml:"base_dn" json:"base_dn"`
	UserFilter   string            `yaml:"user_filter" json:"user_filter"`
	GroupScopes  map[string]string `yaml:"group_scopes" json:"group_scopes"` // directory group -> scope name
}

// PairingConfig sets per-channel pairing defaults (spec §4.E).
type PairingConfig struct {
	DefaultTTLSeconds int `yaml:"default_ttl_seconds" json:"default_ttl_seconds"`
	MaxPending        int `yaml:"max_pending" json:"max_pending"`
}

// ExecConfig sets the global exec policy default, overridable per agent and
// per call (spec §4.J precedence).
type ExecConfig struct {
	DefaultHost     string `yaml:"default_host" json:"default_host"`         // gateway, sandbox, node
	DefaultSecurity string `yaml:"default_security" json:"default_security"` // deny, allowlist, full
	DefaultAsk      string `yaml:"default_ask" json:"default_ask"`           // off, on-miss, always
	ApprovalTimeoutSeconds int `yaml:"approval_timeout_seconds" json:"approval_timeout_seconds"`
}

// SessionConfig sets the session-key resolver's DM scope default and the
// idle-eviction TTL.
type SessionConfig struct {
	DMScope       string `yaml:"dm_scope" json:"dm_scope"` // "peer" or "shared"
	IdleTTLMinutes int   `yaml:"idle_ttl_minutes" json:"idle_ttl_minutes"`
	QueueDepth    int    `yaml:"queue_depth" json:"queue_depth"`
	DebounceMillis int   `yaml:"debounce_millis" json:"debounce_millis"`
	EventBusCapacity int `yaml:"event_bus_capacity" json:"event_bus_capacity"`
}

// ChannelConfig binds one channel plugin instance to an account id and its
// per-channel delivery limits.
type ChannelConfig struct {
	Name          string `yaml:"name" json:"name"`
	AccountID     string `yaml:"account_id" json:"account_id"`
	MaxChars      int    `yaml:"max_chars" json:"max_chars"`
	SupportsMedia bool   `yaml:"supports_media" json:"supports_media"`
	Policy        string `yaml:"policy" json:"policy"` // pairing, allowlist, open, disabled
}

// AuditConfig selects the SQL sink additive to the mandatory JSONL
// transcript persistence.
type AuditConfig struct {
	Driver string `yaml:"driver" json:"driver"` // sqlite (default), postgres, mysql
	DSN    string `yaml:"dsn" json:"dsn"`       // empty uses the driver's default path under StateDir
}

// CronConfig schedules the idle-session sweep and pairing-expiry sweep.
type CronConfig struct {
	SweepSchedule string `yaml:"sweep_schedule" json:"sweep_schedule"` // robfig/cron spec, default "*/5 * * * *"
}

// GetConfigPath returns the xdg-rooted config file location.
func GetConfigPath() string {
	return filepath.Join(xdg.ConfigHome, "k13d", "gateway.yaml")
}

// GetConfigDir returns the k13d configuration directory.
func GetConfigDir() (string, error) {
	return filepath.Join(xdg.ConfigHome, "k13d"), nil
}

// DefaultStateDir returns the xdg-rooted persisted-state directory.
func DefaultStateDir() string {
	return filepath.Join(xdg.DataHome, "k13d")
}

// EffectiveStateDir returns StateDir if set, else the xdg default.
func (c *Config) EffectiveStateDir() string {
	if c.StateDir != "" {
		return c.StateDir
	}
	return DefaultStateDir()
}

// NewDefaultConfig returns the gateway's out-of-the-box configuration:
// loopback-only, no shared token or password set, conservative exec defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Listen: ListenConfig{Bind: "127.0.0.1", Port: 8843},
		Auth: AuthConfig{
			TunnelHeader: "X-Identity",
		},
		Pairing: PairingConfig{DefaultTTLSeconds: 300, MaxPending: 20},
		Exec: ExecConfig{
			DefaultHost:            "gateway",
			DefaultSecurity:        "allowlist",
			DefaultAsk:             "on-miss",
			ApprovalTimeoutSeconds: 60,
		},
		Session: SessionConfig{
			DMScope:          "peer",
			IdleTTLMinutes:   60,
			QueueDepth:       8,
			DebounceMillis:   800,
			EventBusCapacity: 64,
		},
		Audit: AuditConfig{Driver: "sqlite"},
		Cron:  CronConfig{SweepSchedule: "*/5 * * * *"},

		LogLevel: "info",
	}
}

// LoadConfig reads the config file, falling back to defaults if it is
// missing or fails to parse — a malformed config must never prevent the
// gateway from starting with a safe baseline.
func LoadConfig() (*Config, error) {
	path := GetConfigPath()
	cfg := NewDefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		applyEnvOverrides(cfg)
		return cfg, nil
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		cfg = NewDefaultConfig()
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides applies K13D_* environment overrides, letting
// container/systemd deployments configure secrets without a file on disk.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("K13D_LISTEN_BIND"); v != "" {
		cfg.Listen.Bind = v
	}
	if v := os.Getenv("K13D_SHARED_TOKEN"); v != "" {
		cfg.Auth.SharedToken = v
	}
	if v := os.Getenv("K13D_SHARED_PASSWORD"); v != "" {
		cfg.Auth.SharedPassword = v
	}
	if v := os.Getenv("K13D_STATE_DIR"); v != "" {
		cfg.StateDir = v
	}
	if v := os.Getenv("K13D_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

// Save writes the config back to GetConfigPath, creating its directory if
// needed.
func (c *Config) Save() error {
	path := GetConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("config: creating config dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshaling: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

// Validate checks the cross-field invariant the spec requires: any
// non-loopback bind must configure a token or password, or explicitly
// enable tunnel auth.
func (c *Config) Validate() error {
	if c.Listen.Bind != "127.0.0.1" && c.Listen.Bind != "localhost" && c.Listen.Bind != "::1" {
		if c.Auth.SharedToken == "" && c.Auth.SharedPassword == "" && !c.Auth.TunnelEnabled {
			return fmt.Errorf("config: non-loopback bind %q requires a shared token, shared password, or tunnel auth", c.Listen.Bind)
		}
	}
	return nil
}
