package discovery

import (
	"errors"
	"time"
)

// Service type constants for mDNS.
const (
	// ServiceTypeCommissionable is the service type for nodes in commissioning mode.
	ServiceTypeCommissionable = "_matterc._udp"

	// ServiceTypeOperational is the service type for commissioned nodes.
	ServiceTypeOperational = "_matter._tcp"

	// Domain is the mDNS domain.
	Domain = "local"

	// DefaultPort is the default commissioning and operational port.
	DefaultPort = 5540
)

// TXT record keys.
const (
	TXTKeyDiscriminator     = "D"  // 12-bit discriminator, decimal
	TXTKeyVendorProduct     = "VP" // "<vendor>+<product>", decimal
	TXTKeyCommissioningMode = "CM" // 1 basic, 2 enhanced
	TXTKeyDeviceName        = "DN" // optional
)

// Timing constants.
const (
	// BrowseTimeout bounds a browse when the caller's context has no
	// deadline.
	BrowseTimeout = 10 * time.Second

	// DefaultTTL is the record TTL used by the advertiser.
	DefaultTTL = 120 * time.Second
)

// Limits.
const (
	// MaxInstanceNameLen is the DNS label limit.
	MaxInstanceNameLen = 63

	// MaxDiscriminator is the maximum discriminator value (12 bits).
	MaxDiscriminator = 4095

	// IDLength is the hex length of a fabric or node id in instance names.
	IDLength = 16
)

// Discovery errors.
var (
	ErrInvalidDiscriminator = errors.New("discriminator out of range")
	ErrInvalidTXTRecord     = errors.New("invalid TXT record format")
	ErrMissingRequired      = errors.New("missing required field")
	ErrInvalidInstanceName  = errors.New("invalid instance name")
	ErrNotFound             = errors.New("service not found")
)

// CommissionableInfo is what a commissionee advertises while its
// commissioning window is open.
type CommissionableInfo struct {
	// InstanceName is the DNS-SD instance. Empty picks a random one.
	InstanceName string

	Discriminator     uint16
	VendorID          uint16
	ProductID         uint16
	CommissioningMode uint8
	DeviceName        string

	// Port is the commissioning port. Zero means DefaultPort.
	Port uint16
}
