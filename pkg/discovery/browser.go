package discovery

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/enbility/zeroconf/v3"

	"github.com/mash-protocol/commissioner/pkg/commissioning"
	"github.com/mash-protocol/commissioner/pkg/payload"
)

// BrowserConfig configures browser behavior.
type BrowserConfig struct {
	// Interface restricts browsing to one network interface.
	// Empty string means all interfaces.
	Interface string

	// BrowseTimeout bounds FindCommissionable and ResolveOperational when
	// the caller's context has no deadline. Zero means BrowseTimeout.
	BrowseTimeout time.Duration

	// Logger for browse diagnostics. Nil discards.
	Logger *slog.Logger
}

// browseFunc runs one DNS-SD browse for service until ctx is done.
type browseFunc func(ctx context.Context, service string, entries, removed chan *zeroconf.ServiceEntry) error

// MDNSBrowser finds commissionable and operational nodes with zeroconf.
type MDNSBrowser struct {
	config BrowserConfig
	logger *slog.Logger
	browse browseFunc
}

// NewMDNSBrowser creates a new mDNS browser.
func NewMDNSBrowser(config BrowserConfig) *MDNSBrowser {
	if config.BrowseTimeout <= 0 {
		config.BrowseTimeout = BrowseTimeout
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	b := &MDNSBrowser{config: config, logger: logger}
	b.browse = b.zeroconfBrowse
	return b
}

func (b *MDNSBrowser) zeroconfBrowse(ctx context.Context, service string, entries, removed chan *zeroconf.ServiceEntry) error {
	var opts []zeroconf.ClientOption
	if b.config.Interface != "" {
		iface, err := net.InterfaceByName(b.config.Interface)
		if err == nil {
			opts = append(opts, zeroconf.SelectIfaces([]net.Interface{*iface}))
		}
	}
	return zeroconf.Browse(ctx, service, Domain, entries, removed, opts...)
}

// BrowseCommissionable streams commissionable nodes until ctx is done.
// Each instance is delivered once, when it is first seen with an address.
func (b *MDNSBrowser) BrowseCommissionable(ctx context.Context) (<-chan *commissioning.NodeRecord, error) {
	out := make(chan *commissioning.NodeRecord)
	entries := b.run(ctx, ServiceTypeCommissionable)

	go func() {
		defer close(out)
		for entry := range entries {
			rec, err := entryToNodeRecord(entry)
			if err != nil {
				b.logger.Debug("ignoring commissionable entry", "instance", entry.Instance, "error", err)
				continue
			}
			select {
			case out <- rec:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// FindCommissionable returns the first commissionable node matching the
// payload's discriminator, and its vendor and product when the payload
// carries them.
func (b *MDNSBrowser) FindCommissionable(ctx context.Context, p *payload.Payload) (*commissioning.NodeRecord, error) {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	results, err := b.BrowseCommissionable(ctx)
	if err != nil {
		return nil, err
	}
	for rec := range results {
		if !p.MatchesDiscriminator(rec.Discriminator) {
			continue
		}
		if p.VendorID != 0 && rec.VendorID != 0 && p.VendorID != rec.VendorID {
			continue
		}
		if p.ProductID != 0 && rec.ProductID != 0 && p.ProductID != rec.ProductID {
			continue
		}
		return rec, nil
	}
	return nil, b.notFound(ctx)
}

// ResolveOperational returns the address of a commissioned node.
func (b *MDNSBrowser) ResolveOperational(ctx context.Context, peer commissioning.PeerID) (*commissioning.OperationalNode, error) {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	want := OperationalInstanceName(peer)
	for entry := range b.run(ctx, ServiceTypeOperational) {
		if entry.Instance != want {
			continue
		}
		return &commissioning.OperationalNode{
			PeerID:    peer,
			HostName:  entry.HostName,
			Addresses: entryAddresses(entry),
			Port:      uint16(entry.Port),
		}, nil
	}
	return nil, b.notFound(ctx)
}

func (b *MDNSBrowser) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, b.config.BrowseTimeout)
}

// notFound reports a browse that ended without a match. The caller's own
// cancellation wins over ErrNotFound.
func (b *MDNSBrowser) notFound(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	return ErrNotFound
}

// run browses service and yields each instance once, when it first has an
// address. An instance that is removed may be yielded again. The channel
// closes when ctx is done or the browse ends.
func (b *MDNSBrowser) run(ctx context.Context, service string) <-chan *zeroconf.ServiceEntry {
	out := make(chan *zeroconf.ServiceEntry)
	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)
	browseCtx, cancel := context.WithCancel(ctx)

	// Browse may return at once and keep delivering in the background, so
	// only a failure ends the loop early.
	failed := make(chan struct{})
	go func() {
		if err := b.browse(browseCtx, service, entries, removed); err != nil && browseCtx.Err() == nil {
			b.logger.Debug("browse failed", "service", service, "error", err)
			close(failed)
		}
	}()

	go func() {
		defer close(out)
		defer cancel()

		seen := make(map[string]bool)
		for {
			select {
			case entry, ok := <-entries:
				if !ok {
					return
				}
				if entry == nil {
					continue
				}
				if seen[entry.Instance] || len(entry.AddrIPv4)+len(entry.AddrIPv6) == 0 {
					continue
				}
				seen[entry.Instance] = true
				select {
				case out <- entry:
				case <-browseCtx.Done():
					return
				}

			case entry, ok := <-removed:
				if !ok {
					removed = nil
					continue
				}
				if entry != nil {
					delete(seen, entry.Instance)
				}

			case <-failed:
				return

			case <-browseCtx.Done():
				return
			}
		}
	}()

	return out
}

func entryToNodeRecord(entry *zeroconf.ServiceEntry) (*commissioning.NodeRecord, error) {
	rec, err := DecodeCommissionableTXT(StringsToTXTRecords(entry.Text))
	if err != nil {
		return nil, err
	}
	rec.InstanceName = entry.Instance
	rec.HostName = entry.HostName
	rec.Port = uint16(entry.Port)
	rec.Addresses = entryAddresses(entry)
	return rec, nil
}

// entryAddresses lists IPv4 before IPv6 addresses.
func entryAddresses(entry *zeroconf.ServiceEntry) []net.IP {
	addrs := make([]net.IP, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	addrs = append(addrs, entry.AddrIPv4...)
	addrs = append(addrs, entry.AddrIPv6...)
	return addrs
}
