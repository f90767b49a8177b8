package commissioner

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/mash-protocol/commissioner/pkg/cert"
	"github.com/mash-protocol/commissioner/pkg/commissioning"
	"github.com/mash-protocol/commissioner/pkg/log"
)

// Commissioner errors.
var (
	ErrInvalidConfig   = errors.New("invalid configuration")
	ErrMissingDep      = errors.New("missing dependency")
	ErrNoPairing       = errors.New("no PASE session")
	ErrNoOperational   = errors.New("no operational session")
	ErrNoUsableNetwork = errors.New("no usable network interface")
	ErrNotResolved     = errors.New("operational node not resolved")
)

// Defaults.
const (
	DefaultFabricIndex        commissioning.FabricIndex = 1
	DefaultAdminNodeID        uint64                    = 1
	DefaultPairingTimeout                               = 30 * time.Second
	DefaultOperationalTimeout                           = 60 * time.Second
	DefaultRetryDelay                                   = 1 * time.Second
)

// BackoffConfig configures retry timing for discovery and dialing.
type BackoffConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// newBackOff returns an exponential backoff without an elapsed-time limit.
// Callers bound it with a context.
func (b BackoffConfig) newBackOff() *backoff.ExponentialBackOff {
	eb := backoff.NewExponentialBackOff()
	if b.InitialInterval > 0 {
		eb.InitialInterval = b.InitialInterval
	}
	if b.MaxInterval > 0 {
		eb.MaxInterval = b.MaxInterval
	}
	if b.Multiplier > 1 {
		eb.Multiplier = b.Multiplier
	}
	eb.MaxElapsedTime = 0
	eb.Reset()
	return eb
}

// Config configures a Commissioner.
type Config struct {
	// FabricID is the fabric commissionees are joined to.
	FabricID commissioning.FabricID

	// CompressedFabricID names the fabric in operational instance names.
	CompressedFabricID uint64

	// FabricIndex is the fabric index written to commissionees.
	// Default: 1.
	FabricIndex commissioning.FabricIndex

	// NodeID is assigned to the next commissionee. Zero picks a random
	// operational node id per run.
	NodeID commissioning.NodeID

	// AdminNodeID is the commissioner's own node id, granted administer
	// privilege on each commissionee. Default: 1.
	AdminNodeID uint64

	// AdminVendorID is written with each NOC.
	AdminVendorID uint16

	// Network holds the credentials provisioned onto commissionees. Empty
	// credentials skip network provisioning.
	Network commissioning.NetworkCredentials

	// DiscoveryTimeout bounds commissionable discovery and PASE together.
	DiscoveryTimeout time.Duration

	// FailSafeExpiry is requested from commissionees with ArmFailSafe.
	FailSafeExpiry time.Duration

	// PairingTimeout bounds one PASE attempt. Default: 30 seconds.
	PairingTimeout time.Duration

	// OperationalTimeout bounds operational discovery and the CASE dial
	// together. Default: 60 seconds.
	OperationalTimeout time.Duration

	// RetryDelay is the pause before searching again after a busy
	// commissionee. Default: 1 second.
	RetryDelay time.Duration

	// Backoff configures retries of discovery and dialing.
	Backoff BackoffConfig

	// Logger for operational output. Nil discards.
	Logger *slog.Logger

	// ProtocolLogger receives the engine trace. Nil discards.
	ProtocolLogger log.Logger

	// Recorder receives engine counters. Nil discards.
	Recorder commissioning.Recorder
}

// DefaultConfig returns a Config with defaults for everything except the
// fabric.
func DefaultConfig() Config {
	return Config{
		FabricIndex:        DefaultFabricIndex,
		AdminNodeID:        DefaultAdminNodeID,
		DiscoveryTimeout:   commissioning.DefaultDiscoveryTimeout,
		FailSafeExpiry:     commissioning.DefaultFailSafeExpiry,
		PairingTimeout:     DefaultPairingTimeout,
		OperationalTimeout: DefaultOperationalTimeout,
		RetryDelay:         DefaultRetryDelay,
		Backoff: BackoffConfig{
			InitialInterval: 250 * time.Millisecond,
			MaxInterval:     5 * time.Second,
			Multiplier:      2.0,
		},
	}
}

// Validate checks the configuration and fills zero durations.
func (c *Config) Validate() error {
	if c.FabricID == 0 {
		return fmt.Errorf("%w: fabric id is zero", ErrInvalidConfig)
	}
	if c.FabricIndex == 0 {
		c.FabricIndex = DefaultFabricIndex
	}
	if c.AdminNodeID == 0 {
		c.AdminNodeID = DefaultAdminNodeID
	}
	if c.PairingTimeout <= 0 {
		c.PairingTimeout = DefaultPairingTimeout
	}
	if c.OperationalTimeout <= 0 {
		c.OperationalTimeout = DefaultOperationalTimeout
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.Network.WiFiPassphrase != "" && c.Network.WiFiSSID == "" {
		return fmt.Errorf("%w: Wi-Fi passphrase without SSID", ErrInvalidConfig)
	}
	return nil
}

// Deps are the collaborators a Commissioner drives.
type Deps struct {
	Discoverer Discoverer
	Pairer     Pairer
	Dialer     CaseDialer
	Verifier   AttestationVerifier
	Issuer     commissioning.Issuer

	// Scheduler provides the discovery deadline. Nil uses timer.New().
	Scheduler commissioning.Scheduler

	// Store records commissioned nodes. May be nil.
	Store cert.Store
}

func (d Deps) validate() error {
	switch {
	case d.Discoverer == nil:
		return fmt.Errorf("%w: discoverer", ErrMissingDep)
	case d.Pairer == nil:
		return fmt.Errorf("%w: pairer", ErrMissingDep)
	case d.Dialer == nil:
		return fmt.Errorf("%w: CASE dialer", ErrMissingDep)
	case d.Verifier == nil:
		return fmt.Errorf("%w: attestation verifier", ErrMissingDep)
	case d.Issuer == nil:
		return fmt.Errorf("%w: issuer", ErrMissingDep)
	}
	return nil
}
