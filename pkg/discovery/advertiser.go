package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/enbility/zeroconf/v3"

	"github.com/mash-protocol/commissioner/pkg/commissioning"
)

// AdvertiserConfig configures advertiser behavior.
type AdvertiserConfig struct {
	// Interface restricts advertising to one network interface.
	// Empty string means all interfaces.
	Interface string

	// TTL is the DNS record TTL. Zero means DefaultTTL.
	TTL time.Duration

	// Logger for advertising events. Nil discards.
	Logger *slog.Logger
}

// registration is a running advertisement.
type registration interface {
	Shutdown()
}

type registerFunc func(instance, service string, port int, txt []string) (registration, error)

// MDNSAdvertiser advertises a commissionee with zeroconf: one commissionable
// service while the window is open and one operational service per fabric.
type MDNSAdvertiser struct {
	config   AdvertiserConfig
	logger   *slog.Logger
	register registerFunc

	mu             sync.Mutex
	commissionable registration
	operational    map[commissioning.PeerID]registration
}

// NewMDNSAdvertiser creates a new mDNS advertiser.
func NewMDNSAdvertiser(config AdvertiserConfig) *MDNSAdvertiser {
	if config.TTL <= 0 {
		config.TTL = DefaultTTL
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	a := &MDNSAdvertiser{
		config:      config,
		logger:      logger,
		operational: make(map[commissioning.PeerID]registration),
	}
	a.register = a.zeroconfRegister
	return a
}

func (a *MDNSAdvertiser) zeroconfRegister(instance, service string, port int, txt []string) (registration, error) {
	var ifaces []net.Interface
	if a.config.Interface != "" {
		if iface, err := net.InterfaceByName(a.config.Interface); err == nil {
			ifaces = []net.Interface{*iface}
		}
	}
	server, err := zeroconf.Register(instance, service, Domain, port, txt, ifaces,
		zeroconf.TTL(uint32(a.config.TTL.Seconds())))
	if err != nil {
		return nil, err
	}
	return server, nil
}

// AdvertiseCommissionable starts advertising info, replacing any previous
// commissionable advertisement. It returns the instance name used.
func (a *MDNSAdvertiser) AdvertiseCommissionable(_ context.Context, info *CommissionableInfo) (string, error) {
	if info.Discriminator > MaxDiscriminator {
		return "", fmt.Errorf("%w: %d", ErrInvalidDiscriminator, info.Discriminator)
	}
	instance := info.InstanceName
	if instance == "" {
		var err error
		if instance, err = RandomInstanceName(); err != nil {
			return "", err
		}
	}
	if err := ValidateInstanceName(instance); err != nil {
		return "", err
	}
	port := int(info.Port)
	if port == 0 {
		port = DefaultPort
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.commissionable != nil {
		a.commissionable.Shutdown()
		a.commissionable = nil
	}

	reg, err := a.register(instance, ServiceTypeCommissionable, port, TXTRecordsToStrings(EncodeCommissionableTXT(info)))
	if err != nil {
		return "", fmt.Errorf("register commissionable service: %w", err)
	}
	a.commissionable = reg
	a.logger.Debug("advertising commissionable", "instance", instance, "discriminator", info.Discriminator, "port", port)
	return instance, nil
}

// StopCommissionable stops the commissionable advertisement.
func (a *MDNSAdvertiser) StopCommissionable() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.commissionable != nil {
		a.commissionable.Shutdown()
		a.commissionable = nil
		a.logger.Debug("stopped commissionable advertisement")
	}
}

// AdvertiseOperational advertises peer at port, replacing an earlier
// advertisement for the same peer.
func (a *MDNSAdvertiser) AdvertiseOperational(_ context.Context, peer commissioning.PeerID, port uint16) error {
	if port == 0 {
		port = DefaultPort
	}
	instance := OperationalInstanceName(peer)

	a.mu.Lock()
	defer a.mu.Unlock()

	if reg, ok := a.operational[peer]; ok {
		reg.Shutdown()
		delete(a.operational, peer)
	}

	reg, err := a.register(instance, ServiceTypeOperational, int(port), nil)
	if err != nil {
		return fmt.Errorf("register operational service: %w", err)
	}
	a.operational[peer] = reg
	a.logger.Debug("advertising operational", "instance", instance, "port", port)
	return nil
}

// StopOperational stops the advertisement for peer.
func (a *MDNSAdvertiser) StopOperational(peer commissioning.PeerID) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if reg, ok := a.operational[peer]; ok {
		reg.Shutdown()
		delete(a.operational, peer)
	}
}

// StopAll stops every advertisement.
func (a *MDNSAdvertiser) StopAll() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.commissionable != nil {
		a.commissionable.Shutdown()
		a.commissionable = nil
	}
	for peer, reg := range a.operational {
		reg.Shutdown()
		delete(a.operational, peer)
	}
}
