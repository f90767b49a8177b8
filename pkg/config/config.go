package config

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mash-protocol/commissioner/pkg/commissioner"
	"github.com/mash-protocol/commissioner/pkg/commissioning"
)

// Validation errors.
var (
	ErrNoFabric         = errors.New("fabric id is required")
	ErrPassphraseNoSSID = errors.New("wifi passphrase given without ssid")
	ErrDataset          = errors.New("thread dataset is not hex")
	ErrTimeout          = errors.New("timeouts must be positive")
	ErrLogLevel         = errors.New("unknown log level")
)

// Fabric names the fabric commissionees are joined to.
type Fabric struct {
	ID          uint64 `yaml:"id"`
	VendorID    uint16 `yaml:"vendor_id"`
	AdminNodeID uint64 `yaml:"admin_node_id"`

	// NodeID is assigned to the next commissionee. Zero picks a random
	// node id per run.
	NodeID uint64 `yaml:"node_id"`
}

// Network holds the credentials provisioned onto commissionees.
type Network struct {
	WiFiSSID       string `yaml:"wifi_ssid"`
	WiFiPassphrase string `yaml:"wifi_passphrase"`

	// ThreadDataset is the operational dataset in hex.
	ThreadDataset string `yaml:"thread_dataset"`
}

// Timeouts bound the phases of a run.
type Timeouts struct {
	Discovery   time.Duration `yaml:"discovery"`
	Pairing     time.Duration `yaml:"pairing"`
	Operational time.Duration `yaml:"operational"`
	FailSafe    time.Duration `yaml:"fail_safe"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
}

// Config is the commissioner configuration file.
type Config struct {
	Fabric   Fabric   `yaml:"fabric"`
	Network  Network  `yaml:"network"`
	Timeouts Timeouts `yaml:"timeouts"`

	// TrustStore is a directory of PEM attestation roots.
	TrustStore string `yaml:"trust_store"`

	// StateDir holds the fabric root and the commissioned nodes.
	StateDir string `yaml:"state_dir"`

	// TraceFile receives the protocol trace. Empty disables it.
	TraceFile string `yaml:"trace_file"`

	// MetricsAddr serves /metrics when set.
	MetricsAddr string `yaml:"metrics_addr"`

	LogLevel string `yaml:"log_level"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	stateDir := ".commissioner"
	if home, err := os.UserHomeDir(); err == nil {
		stateDir = filepath.Join(home, ".commissioner")
	}
	return &Config{
		Fabric: Fabric{
			AdminNodeID: commissioner.DefaultAdminNodeID,
		},
		Timeouts: Timeouts{
			Discovery:   commissioning.DefaultDiscoveryTimeout,
			Pairing:     commissioner.DefaultPairingTimeout,
			Operational: commissioner.DefaultOperationalTimeout,
			FailSafe:    commissioning.DefaultFailSafeExpiry,
			RetryDelay:  commissioner.DefaultRetryDelay,
		},
		StateDir: stateDir,
		LogLevel: "info",
	}
}

// Parse decodes data over Default. Unknown keys are an error.
func Parse(data []byte) (*Config, error) {
	c := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return c, nil
}

// Load reads and parses the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Validate checks the merged configuration.
func (c *Config) Validate() error {
	if c.Fabric.ID == 0 {
		return ErrNoFabric
	}
	if c.Network.WiFiPassphrase != "" && c.Network.WiFiSSID == "" {
		return ErrPassphraseNoSSID
	}
	if _, err := c.threadDataset(); err != nil {
		return err
	}
	t := c.Timeouts
	for _, d := range []time.Duration{t.Discovery, t.Pairing, t.Operational, t.FailSafe, t.RetryDelay} {
		if d <= 0 {
			return ErrTimeout
		}
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

func (c *Config) threadDataset() ([]byte, error) {
	if c.Network.ThreadDataset == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(c.Network.ThreadDataset)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDataset, err)
	}
	return b, nil
}

// Commissioner maps the file onto a commissioner configuration. The
// compressed fabric id is derived from the fabric root by the caller.
func (c *Config) Commissioner() (commissioner.Config, error) {
	if err := c.Validate(); err != nil {
		return commissioner.Config{}, err
	}
	dataset, _ := c.threadDataset()

	out := commissioner.DefaultConfig()
	out.FabricID = commissioning.FabricID(c.Fabric.ID)
	out.NodeID = commissioning.NodeID(c.Fabric.NodeID)
	out.AdminNodeID = c.Fabric.AdminNodeID
	out.AdminVendorID = c.Fabric.VendorID
	out.Network = commissioning.NetworkCredentials{
		WiFiSSID:       c.Network.WiFiSSID,
		WiFiPassphrase: c.Network.WiFiPassphrase,
		ThreadDataset:  dataset,
	}
	out.DiscoveryTimeout = c.Timeouts.Discovery
	out.PairingTimeout = c.Timeouts.Pairing
	out.OperationalTimeout = c.Timeouts.Operational
	out.FailSafeExpiry = c.Timeouts.FailSafe
	out.RetryDelay = c.Timeouts.RetryDelay
	return out, nil
}

// ParseLevel maps a log level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrLogLevel, s)
	}
}
