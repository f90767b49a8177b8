// Command commissioner joins a device to a fabric from its onboarding
// payload.
//
// Usage:
//
//	commissioner [flags]
//
// Flags:
//
//	-config string          Configuration file path
//	-payload string         QR code (MT:...) or manual pairing code
//	-log-level string       Log level: debug, info, warn, error
//	-interactive            Enable interactive command mode
//	-trace string           Write the protocol trace to this .clog file
//	-metrics-addr string    Serve Prometheus metrics on this address
//	-state-dir string       Directory for the fabric root and node records
//	-trust-store string     Directory of PEM attestation roots
//	-fabric-id string       Fabric id (hex)
//	-wifi-ssid string       Wi-Fi network to provision
//	-wifi-pass string       Wi-Fi passphrase
//	-thread-dataset string  Thread operational dataset (hex)
//	-timeout duration       Overall deadline for a single run (default 3m)
//
// Examples:
//
//	# Commission one device onto Wi-Fi
//	commissioner -fabric-id FAB000000000001D -trust-store ./paa \
//	    -wifi-ssid home -wifi-pass secret -payload MT:Y.K9042C00KA0648G00
//
//	# Interactive session with metrics
//	commissioner -config commissioner.yaml -interactive -metrics-addr :9100
//
// Interactive Commands:
//
//	commission <code> - Commission a device
//	status            - Show the engine state
//	shutdown          - Abort the current run
//	grab              - Take the last commissioned node
//	nodes             - List commissioned nodes
//	quit              - Exit
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mash-protocol/commissioner/cmd/commissioner/interactive"
	"github.com/mash-protocol/commissioner/pkg/cert"
	"github.com/mash-protocol/commissioner/pkg/commissioner"
	"github.com/mash-protocol/commissioner/pkg/config"
	"github.com/mash-protocol/commissioner/pkg/discovery"
	"github.com/mash-protocol/commissioner/pkg/log"
	"github.com/mash-protocol/commissioner/pkg/metrics"
)

// Flags holds the command-line settings. Empty values leave the
// configuration file untouched.
type Flags struct {
	ConfigFile    string
	Payload       string
	LogLevel      string
	Interactive   bool
	Trace         string
	MetricsAddr   string
	StateDir      string
	TrustStore    string
	FabricID      string
	WiFiSSID      string
	WiFiPass      string
	ThreadDataset string
	Timeout       time.Duration
}

var flags Flags

func init() {
	flag.StringVar(&flags.ConfigFile, "config", "", "Configuration file path")
	flag.StringVar(&flags.Payload, "payload", "", "QR code (MT:...) or manual pairing code")
	flag.StringVar(&flags.LogLevel, "log-level", "", "Log level: debug, info, warn, error")
	flag.BoolVar(&flags.Interactive, "interactive", false, "Enable interactive command mode")
	flag.StringVar(&flags.Trace, "trace", "", "Write the protocol trace to this .clog file")
	flag.StringVar(&flags.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	flag.StringVar(&flags.StateDir, "state-dir", "", "Directory for the fabric root and node records")
	flag.StringVar(&flags.TrustStore, "trust-store", "", "Directory of PEM attestation roots")
	flag.StringVar(&flags.FabricID, "fabric-id", "", "Fabric id (hex)")
	flag.StringVar(&flags.WiFiSSID, "wifi-ssid", "", "Wi-Fi network to provision")
	flag.StringVar(&flags.WiFiPass, "wifi-pass", "", "Wi-Fi passphrase")
	flag.StringVar(&flags.ThreadDataset, "thread-dataset", "", "Thread operational dataset (hex)")
	flag.DurationVar(&flags.Timeout, "timeout", 3*time.Minute, "Overall deadline for a single run")
}

func main() {
	flag.Parse()

	cfg, err := loadConfig(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "commissioner: %v\n", err)
		os.Exit(2)
	}
	if !flags.Interactive && flags.Payload == "" {
		fmt.Fprintln(os.Stderr, "commissioner: -payload is required without -interactive")
		os.Exit(2)
	}

	level, _ := config.ParseLevel(cfg.LogLevel)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(cfg, logger); err != nil {
		logger.Error("commissioning failed", "error", err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration file and applies the flags on top.
func loadConfig(f Flags) (*config.Config, error) {
	cfg := config.Default()
	if f.ConfigFile != "" {
		var err error
		if cfg, err = config.Load(f.ConfigFile); err != nil {
			return nil, err
		}
	}

	if f.FabricID != "" {
		id, err := strconv.ParseUint(f.FabricID, 16, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid fabric id %q: %w", f.FabricID, err)
		}
		cfg.Fabric.ID = id
	}
	if f.LogLevel != "" {
		cfg.LogLevel = f.LogLevel
	}
	if f.Trace != "" {
		cfg.TraceFile = f.Trace
	}
	if f.MetricsAddr != "" {
		cfg.MetricsAddr = f.MetricsAddr
	}
	if f.StateDir != "" {
		cfg.StateDir = f.StateDir
	}
	if f.TrustStore != "" {
		cfg.TrustStore = f.TrustStore
	}
	if f.WiFiSSID != "" {
		cfg.Network.WiFiSSID = f.WiFiSSID
		cfg.Network.WiFiPassphrase = f.WiFiPass
	}
	if f.ThreadDataset != "" {
		cfg.Network.ThreadDataset = f.ThreadDataset
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.TrustStore == "" {
		return nil, errors.New("a trust store is required")
	}
	return cfg, nil
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := cert.NewFileStore(cfg.StateDir)
	fabric, err := cert.LoadOrCreateFabric(store, cfg.Fabric.ID)
	if err != nil {
		return fmt.Errorf("load fabric: %w", err)
	}
	issuer, err := cert.NewIssuer(fabric)
	if err != nil {
		return err
	}
	compressed, err := fabric.CompressedID()
	if err != nil {
		return err
	}
	roots, err := cert.LoadTrustStore(cfg.TrustStore)
	if err != nil {
		return fmt.Errorf("load trust store: %w", err)
	}

	cc, err := cfg.Commissioner()
	if err != nil {
		return err
	}
	cc.CompressedFabricID = compressed
	cc.Logger = logger

	identity, err := issuer.IssueOperational(cc.AdminNodeID)
	if err != nil {
		return err
	}

	var protocol []log.Logger
	if cfg.TraceFile != "" {
		trace, err := log.NewFileLogger(cfg.TraceFile)
		if err != nil {
			return fmt.Errorf("open trace: %w", err)
		}
		defer trace.Close()
		protocol = append(protocol, trace)
	}
	if cfg.LogLevel == "debug" {
		protocol = append(protocol, log.NewSlogAdapter(logger))
	}
	cc.ProtocolLogger = log.Tee(protocol...)

	exchange := commissioner.ExchangeConfig{Logger: logger, ProtocolLogger: cc.ProtocolLogger}
	if cfg.MetricsAddr != "" {
		recorder, err := metrics.New(prometheus.DefaultRegisterer)
		if err != nil {
			return err
		}
		cc.Recorder = recorder
		exchange.Recorder = recorder
		go serveMetrics(ctx, cfg.MetricsAddr, logger)
	}

	dialer, err := commissioner.NewTLSCaseDialer(identity, fabric.Pool(), exchange)
	if err != nil {
		return err
	}
	c, err := commissioner.New(cc, commissioner.Deps{
		Discoverer: discovery.NewMDNSBrowser(discovery.BrowserConfig{Logger: logger}),
		Pairer:     commissioner.NewTLSPairer(exchange),
		Dialer:     dialer,
		Verifier:   cert.NewAttestationVerifier(roots),
		Issuer:     issuer,
		Store:      store,
	})
	if err != nil {
		return err
	}

	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(ctx) }()

	logger.Info("commissioner ready",
		"fabric", cc.FabricID,
		"compressed_fabric", fmt.Sprintf("%016X", compressed),
		"state_dir", cfg.StateDir)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if flags.Interactive {
		shell, err := interactive.New(c, store)
		if err != nil {
			return err
		}
		go shell.Run(ctx, cancel)
		select {
		case sig := <-sigCh:
			logger.Info("received signal", "signal", sig)
		case <-ctx.Done():
		}
		shell.Close()
		cancel()
		return <-runErr
	}

	res, err := commissionOnce(ctx, c, flags.Payload, flags.Timeout, sigCh)
	cancel()
	<-runErr
	if err != nil {
		return err
	}
	return printNode(res)
}

// commissionOnce runs a single commissioning and waits for its result. A
// signal or the deadline shuts the run down.
func commissionOnce(ctx context.Context, c *commissioner.Commissioner, code string, timeout time.Duration, sigCh <-chan os.Signal) (commissioner.Result, error) {
	results, err := c.Commission(ctx, code)
	if err != nil {
		return commissioner.Result{}, err
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	select {
	case res := <-results:
		return res, res.Err
	case <-sigCh:
	case <-deadline.C:
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.Shutdown(shutdownCtx); err != nil {
		return commissioner.Result{}, err
	}
	res := <-results
	return res, res.Err
}

type nodeOutput struct {
	RunID     string   `json:"run_id"`
	NodeID    string   `json:"node_id"`
	Instance  string   `json:"instance"`
	Addresses []string `json:"addresses"`
	Port      uint16   `json:"port"`
	Elapsed   string   `json:"elapsed"`
}

func printNode(res commissioner.Result) error {
	out := nodeOutput{
		RunID:   res.RunID.String(),
		NodeID:  res.NodeID.String(),
		Elapsed: res.Elapsed.Round(time.Millisecond).String(),
	}
	if res.Node != nil {
		out.Instance = discovery.OperationalInstanceName(res.Node.PeerID)
		out.Port = res.Node.Port
		for _, ip := range res.Node.Addresses {
			out.Addresses = append(out.Addresses, ip.String())
		}
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func serveMetrics(ctx context.Context, addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	logger.Info("serving metrics", "address", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server", "error", err)
	}
}
