// Package config loads the YAML configuration for the excore server and
// applies environment variable overrides for the handful of options that
// are more naturally supplied at deploy time (DOMAIN, SECRET_KEY, ...).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v2"
)

// Config is the top-level configuration document.
type Config struct {
	Global   Global   `yaml:"global"`
	EAS      EAS      `yaml:"eas"`
	SMTP     SMTP     `yaml:"smtp"`
	Database Database `yaml:"database"`
	Logging  Logging  `yaml:"logging"`
}

// Global carries options that apply to every subsystem.
type Global struct {
	// ServerName is the mail domain (DOMAIN); Validate requires it. The
	// Autodiscover ActiveSync/EXHTTP/OWA URLs are built from HostName, not
	// from this field.
	ServerName string `yaml:"server_name"`
	// HostName is the externally reachable host:port the clients connect to.
	HostName string `yaml:"host_name"`
	// SecretKey is loaded from YAML or SECRET_KEY; no component reads it.
	SecretKey string `yaml:"secret_key"`
}

// EAS carries ActiveSync-engine specific tuning.
type EAS struct {
	// ProtocolVersions is loaded and defaults to "14.1". The
	// MS-ASProtocolVersions header carries options.ProtocolVersions; no
	// component reads this field.
	ProtocolVersions string `yaml:"protocol_versions"`
	// ProvisioningPendingTTL is loaded and defaults to 10 minutes. The
	// provisioning handler uses its own provision.PendingTTL constant and
	// does not read this field.
	ProvisioningPendingTTL time.Duration `yaml:"provisioning_pending_ttl"`
	// DefaultHeartbeat / MinHeartbeat / MaxHeartbeat are loaded with the
	// same defaults as the ping package's constants; the Ping handler clamps
	// HeartbeatInterval with those constants and does not read these fields.
	DefaultHeartbeat time.Duration `yaml:"default_heartbeat"`
	MinHeartbeat     time.Duration `yaml:"min_heartbeat"`
	MaxHeartbeat     time.Duration `yaml:"max_heartbeat"`
	// RequestTimeout bounds normal (non-Ping) command handling.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// SMTP carries the ingest listener configuration.
type SMTP struct {
	MTAAddr        string `yaml:"mta_addr"`        // port 25
	SubmissionAddr string `yaml:"submission_addr"` // port 587, STARTTLS
	ImplicitTLSAddr string `yaml:"implicit_tls_addr"` // port 465
	TLSCertPath    string `yaml:"tls_cert_path"`
	TLSKeyPath     string `yaml:"tls_key_path"`
}

// Database carries the DATABASE_URL-equivalent connection options. The
// scheme of ConnectionString selects the driver, mirroring the teacher's
// storage.NewDatabase dispatch.
type Database struct {
	ConnectionString string `yaml:"connection_string"`
	MaxOpenConns     int    `yaml:"max_open_conns"`
	MaxIdleConns     int    `yaml:"max_idle_conns"`
}

// Logging carries structured-logging tuning.
type Logging struct {
	Level string `yaml:"level"` // DEBUG enables per-request WBXML hex dumps
}

// Defaults fills in the zero-value fields every deployment needs even when
// absent from the YAML document.
func (c *Config) Defaults() {
	if c.EAS.ProtocolVersions == "" {
		c.EAS.ProtocolVersions = "14.1"
	}
	if c.EAS.ProvisioningPendingTTL == 0 {
		c.EAS.ProvisioningPendingTTL = 10 * time.Minute
	}
	if c.EAS.DefaultHeartbeat == 0 {
		c.EAS.DefaultHeartbeat = 900 * time.Second
	}
	if c.EAS.MinHeartbeat == 0 {
		c.EAS.MinHeartbeat = 60 * time.Second
	}
	if c.EAS.MaxHeartbeat == 0 {
		c.EAS.MaxHeartbeat = 3540 * time.Second
	}
	if c.EAS.RequestTimeout == 0 {
		c.EAS.RequestTimeout = 60 * time.Second
	}
	if c.SMTP.MTAAddr == "" {
		c.SMTP.MTAAddr = ":25"
	}
	if c.SMTP.SubmissionAddr == "" {
		c.SMTP.SubmissionAddr = ":587"
	}
	if c.SMTP.ImplicitTLSAddr == "" {
		c.SMTP.ImplicitTLSAddr = ":465"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 20
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "INFO"
	}
}

// Load reads a YAML document from path, applies defaults, then overlays
// the recognized environment variables documented in the spec
// (DOMAIN, HOSTNAME, SECRET_KEY, DATABASE_URL, LOG_LEVEL).
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.Defaults()
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("DOMAIN"); v != "" {
		c.Global.ServerName = v
	}
	if v := os.Getenv("HOSTNAME"); v != "" {
		c.Global.HostName = v
	}
	if v := os.Getenv("SECRET_KEY"); v != "" {
		c.Global.SecretKey = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.ConnectionString = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToUpper(v)
	}
}

// Validate reports configuration combinations the server cannot start with.
func (c *Config) Validate() error {
	if c.Global.ServerName == "" {
		return fmt.Errorf("config: global.server_name (or DOMAIN) must be set")
	}
	if c.Database.ConnectionString == "" {
		return fmt.Errorf("config: database.connection_string (or DATABASE_URL) must be set")
	}
	if c.EAS.MinHeartbeat > c.EAS.MaxHeartbeat {
		return fmt.Errorf("config: eas.min_heartbeat must be <= eas.max_heartbeat")
	}
	return nil
}
