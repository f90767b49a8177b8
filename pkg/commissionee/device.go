package commissionee

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mash-protocol/commissioner/pkg/cert"
	"github.com/mash-protocol/commissioner/pkg/cluster"
	"github.com/mash-protocol/commissioner/pkg/commissioning"
	"github.com/mash-protocol/commissioner/pkg/discovery"
	"github.com/mash-protocol/commissioner/pkg/failsafe"
	"github.com/mash-protocol/commissioner/pkg/pase"
	"github.com/mash-protocol/commissioner/pkg/payload"
	"github.com/mash-protocol/commissioner/pkg/transport"
)

// Device errors.
var (
	ErrNotStarted     = errors.New("device not started")
	ErrAlreadyStarted = errors.New("device already started")
	ErrNoAttester     = errors.New("attester is required")
)

// Defaults.
const (
	DefaultIterations  = 1000
	DefaultSaltSize    = 32
	DefaultFabricIndex = 1
)

// Advertiser publishes the device over DNS-SD.
// *discovery.MDNSAdvertiser implements it.
type Advertiser interface {
	AdvertiseCommissionable(ctx context.Context, info *discovery.CommissionableInfo) (string, error)
	StopCommissionable()
	AdvertiseOperational(ctx context.Context, peer commissioning.PeerID, port uint16) error
	StopOperational(peer commissioning.PeerID)
	StopAll()
}

// Config configures a Device.
type Config struct {
	// Passcode is the setup PIN. Zero generates one.
	Passcode uint32

	// Discriminator is advertised while the window is open. Zero generates
	// one.
	Discriminator uint16

	VendorID   uint16
	ProductID  uint16
	DeviceName string

	// Salt and Iterations are the PBKDF2 parameters offered to
	// initiators. Nil salt generates DefaultSaltSize random bytes; zero
	// iterations means DefaultIterations.
	Salt       []byte
	Iterations uint32

	// WindowTimeout is how long the commissioning window stays open. Zero
	// means pase.DefaultWindowTimeout.
	WindowTimeout time.Duration

	// FeatureMap lists the network interfaces the device reports.
	// Default: Wi-Fi.
	FeatureMap commissioning.FeatureMap

	// Address is the commissioning listen address. Default: ":5540".
	Address string

	// OperationalAddress is the operational listen address. Default:
	// ":0", an ephemeral port.
	OperationalAddress string

	// Attester signs attestation and CSR responses. Required.
	Attester *cert.Attester

	// Advertiser publishes the device. Nil disables advertising.
	Advertiser Advertiser

	// MaxFailSafe bounds the cumulative fail-safe. Zero means
	// failsafe.DefaultMaxCumulative.
	MaxFailSafe time.Duration

	// Logger for device events. Nil discards.
	Logger *slog.Logger
}

// fabric is the device's view of the fabric it joined.
type fabric struct {
	root *x509.Certificate
	noc  *x509.Certificate
	key  *ecdsa.PrivateKey
	peer commissioning.PeerID
}

// Device is a simulated commissionee.
type Device struct {
	config Config
	logger *slog.Logger

	window    *pase.Window
	responder *pase.Responder
	failsafe  *failsafe.Timer

	mu      sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc

	commissioningServer *transport.Server
	operationalServer   *transport.Server

	// Provisional until CommissioningComplete disarms the fail-safe.
	csrKey    *ecdsa.PrivateKey
	root      *x509.Certificate
	fabric    *fabric
	networks  map[string][]byte
	connected []byte

	commissioned bool
	instance     string
}

// New creates a device. Start must be called to listen.
func New(config Config) (*Device, error) {
	if config.Attester == nil {
		return nil, ErrNoAttester
	}
	if config.Passcode == 0 {
		p, err := payload.GeneratePasscode()
		if err != nil {
			return nil, err
		}
		config.Passcode = p
	}
	if err := payload.ValidatePasscode(config.Passcode); err != nil {
		return nil, err
	}
	if config.Discriminator == 0 {
		d, err := payload.GenerateDiscriminator()
		if err != nil {
			return nil, err
		}
		config.Discriminator = d
	}
	if config.Salt == nil {
		config.Salt = make([]byte, DefaultSaltSize)
		if _, err := rand.Read(config.Salt); err != nil {
			return nil, fmt.Errorf("generate salt: %w", err)
		}
	}
	if config.Iterations == 0 {
		config.Iterations = DefaultIterations
	}
	if config.FeatureMap == 0 {
		config.FeatureMap = commissioning.FeatureWiFi
	}
	if config.OperationalAddress == "" {
		config.OperationalAddress = ":0"
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	verifier, err := pase.ComputeVerifier(config.Passcode, config.Salt, config.Iterations)
	if err != nil {
		return nil, err
	}
	window := pase.NewWindow(config.WindowTimeout)
	responder, err := pase.NewResponder(pase.ResponderConfig{
		Verifier:   verifier,
		Salt:       config.Salt,
		Iterations: config.Iterations,
		Window:     window,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	d := &Device{
		config:    config,
		logger:    logger,
		window:    window,
		responder: responder,
		failsafe:  failsafe.NewTimerWithConfig(failsafe.Config{MaxCumulative: config.MaxFailSafe}),
		networks:  make(map[string][]byte),
	}
	d.failsafe.OnExpire(d.rollback)
	window.OnStateChange(d.windowChanged)
	return d, nil
}

// Payload returns the onboarding payload for this device.
func (d *Device) Payload() *payload.Payload {
	return &payload.Payload{
		VendorID:      d.config.VendorID,
		ProductID:     d.config.ProductID,
		Flow:          payload.FlowStandard,
		Capabilities:  payload.CapabilityOnNetwork,
		Discriminator: d.config.Discriminator,
		Passcode:      d.config.Passcode,
	}
}

// Start listens on the commissioning channel and opens the commissioning
// window.
func (d *Device) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return ErrAlreadyStarted
	}

	tlsCert, err := transport.SelfSignedCertificate(d.config.DeviceName)
	if err != nil {
		d.mu.Unlock()
		return err
	}
	tlsConfig, err := transport.NewCommissioneeTLSConfig(tlsCert)
	if err != nil {
		d.mu.Unlock()
		return err
	}
	server, err := transport.NewServer(transport.ServerConfig{
		Address:   d.config.Address,
		TLSConfig: tlsConfig,
		Handler:   d.serveCommissioning,
		Logger:    d.logger,
	})
	if err != nil {
		d.mu.Unlock()
		return err
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	if err := server.Start(d.ctx); err != nil {
		d.cancel()
		d.mu.Unlock()
		return err
	}
	d.commissioningServer = server
	d.running = true
	d.mu.Unlock()

	d.logger.Info("commissionee listening", "address", server.Addr(), "discriminator", d.config.Discriminator)
	d.OpenWindow()
	return nil
}

// Stop closes every listener and withdraws all advertisements.
func (d *Device) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return ErrNotStarted
	}
	d.running = false
	d.cancel()
	commissioningServer := d.commissioningServer
	operationalServer := d.operationalServer
	d.operationalServer = nil
	d.mu.Unlock()

	d.failsafe.Reset()
	d.window.Close()
	_ = commissioningServer.Stop()
	if operationalServer != nil {
		_ = operationalServer.Stop()
	}
	if d.config.Advertiser != nil {
		d.config.Advertiser.StopAll()
	}
	return nil
}

// OpenWindow opens the commissioning window. It does nothing once the
// device is commissioned.
func (d *Device) OpenWindow() {
	d.mu.Lock()
	commissioned := d.commissioned
	d.mu.Unlock()
	if commissioned {
		return
	}
	d.window.Open()
}

// Window returns the commissioning window.
func (d *Device) Window() *pase.Window {
	return d.window
}

// FailSafe returns the fail-safe timer.
func (d *Device) FailSafe() *failsafe.Timer {
	return d.failsafe
}

// Port returns the commissioning port, or 0 before Start.
func (d *Device) Port() uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.commissioningServer == nil {
		return 0
	}
	return d.commissioningServer.Port()
}

// OperationalPort returns the operational port, or 0 while no NOC is
// installed.
func (d *Device) OperationalPort() uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.operationalServer == nil {
		return 0
	}
	return d.operationalServer.Port()
}

// Commissioned reports whether CommissioningComplete was accepted.
func (d *Device) Commissioned() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.commissioned
}

// PeerID returns the operational identity, and false while no NOC is
// installed.
func (d *Device) PeerID() (commissioning.PeerID, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fabric == nil {
		return commissioning.PeerID{}, false
	}
	return d.fabric.peer, true
}

// ConnectedNetwork returns the id of the network joined by ConnectNetwork.
func (d *Device) ConnectedNetwork() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

// serveCommissioning runs PASE on conn and then answers commands over it.
func (d *Device) serveCommissioning(ctx context.Context, conn *transport.Conn) {
	session, err := d.responder.Respond(ctx, conn)
	if err != nil {
		d.logger.Debug("PASE rejected", "remote", conn.RemoteAddr(), "error", err)
		return
	}
	d.logger.Info("PASE session established", "remote", conn.RemoteAddr(), "session", session.ID())

	h := &handler{device: d, challenge: session.AttestationChallenge()}
	if err := cluster.NewServer(h, d.logger).Serve(ctx, conn); err != nil {
		d.logger.Debug("commissioning channel ended", "error", err)
	}
}

// serveOperational answers commands over an authenticated operational
// connection.
func (d *Device) serveOperational(ctx context.Context, conn *transport.Conn) {
	d.logger.Info("operational session established", "remote", conn.RemoteAddr())
	h := &handler{device: d, operational: true}
	if err := cluster.NewServer(h, d.logger).Serve(ctx, conn); err != nil {
		d.logger.Debug("operational channel ended", "error", err)
	}
}

// windowChanged keeps the commissionable advertisement in step with the
// window.
func (d *Device) windowChanged(from, to pase.WindowState) {
	d.logger.Debug("commissioning window", "from", from, "to", to)
	adv := d.config.Advertiser
	if adv == nil {
		return
	}
	switch to {
	case pase.WindowOpen:
		if from != pase.WindowClosed {
			return
		}
		d.mu.Lock()
		ctx := d.ctx
		port := uint16(0)
		if d.commissioningServer != nil {
			port = d.commissioningServer.Port()
		}
		d.mu.Unlock()
		if ctx == nil {
			return
		}
		instance, err := adv.AdvertiseCommissionable(ctx, &discovery.CommissionableInfo{
			InstanceName:      d.instance,
			Discriminator:     d.config.Discriminator,
			VendorID:          d.config.VendorID,
			ProductID:         d.config.ProductID,
			CommissioningMode: 1,
			DeviceName:        d.config.DeviceName,
			Port:              port,
		})
		if err != nil {
			d.logger.Warn("cannot advertise commissionable service", "error", err)
			return
		}
		d.mu.Lock()
		d.instance = instance
		d.mu.Unlock()
	case pase.WindowClosed:
		adv.StopCommissionable()
	case pase.WindowPASEInProgress:
	}
}

// installFabric starts the operational listener for a verified NOC.
func (d *Device) installFabric(f *fabric) error {
	tlsConfig, err := transport.NewOperationalServerTLSConfig(
		(&cert.OperationalCert{Certificate: f.noc, PrivateKey: f.key, Root: f.root}).TLSCertificate(),
		poolOf(f.root),
	)
	if err != nil {
		return err
	}
	server, err := transport.NewServer(transport.ServerConfig{
		Address:   d.config.OperationalAddress,
		TLSConfig: tlsConfig,
		Handler:   d.serveOperational,
		Logger:    d.logger,
	})
	if err != nil {
		return err
	}

	d.mu.Lock()
	ctx := d.ctx
	previous := d.operationalServer
	d.mu.Unlock()
	if ctx == nil {
		return ErrNotStarted
	}
	if previous != nil {
		_ = previous.Stop()
	}
	if err := server.Start(ctx); err != nil {
		return err
	}

	d.mu.Lock()
	d.operationalServer = server
	d.fabric = f
	d.mu.Unlock()

	if adv := d.config.Advertiser; adv != nil {
		if err := adv.AdvertiseOperational(ctx, f.peer, server.Port()); err != nil {
			d.logger.Warn("cannot advertise operational service", "peer", f.peer, "error", err)
		}
	}
	d.logger.Info("joined fabric", "peer", f.peer, "port", server.Port())
	return nil
}

// rollback undoes everything added under the fail-safe and reopens the
// window.
func (d *Device) rollback(breadcrumb uint64) {
	d.mu.Lock()
	if d.commissioned {
		d.mu.Unlock()
		return
	}
	f := d.fabric
	server := d.operationalServer
	d.fabric = nil
	d.operationalServer = nil
	d.csrKey = nil
	d.root = nil
	d.networks = make(map[string][]byte)
	d.connected = nil
	running := d.running
	d.mu.Unlock()

	d.logger.Info("fail-safe expired, configuration rolled back", "breadcrumb", breadcrumb)
	if server != nil {
		// Stop waits for handlers, and the expiry may run on one of them.
		go func() { _ = server.Stop() }()
	}
	if f != nil && d.config.Advertiser != nil {
		d.config.Advertiser.StopOperational(f.peer)
	}
	if running {
		d.OpenWindow()
	}
}

// complete commits the configuration and closes the window.
func (d *Device) complete() {
	d.mu.Lock()
	d.commissioned = true
	d.csrKey = nil
	d.mu.Unlock()
	d.window.Close()
	d.logger.Info("commissioning complete")
}

func poolOf(root *x509.Certificate) *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(root)
	return pool
}
