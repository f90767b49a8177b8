// Command commissionee runs a simulated device that can be commissioned by
// commissioner.
//
// The device generates a development attestation chain on start. Its PAA
// is written to -paa-dir so a commissioner can load it with -trust-store.
//
// Usage:
//
//	commissionee [flags]
//
// Flags:
//
//	-passcode uint          Setup passcode (default: random)
//	-discriminator uint     Discriminator (default: random)
//	-vendor-id uint         Vendor id (default 0xFFF1)
//	-product-id uint        Product id (default 0x8000)
//	-port int               Commissioning port (default 5540)
//	-name string            Device name advertised over mDNS
//	-thread                 Report Thread instead of Wi-Fi
//	-window duration        Commissioning window timeout (default 15m)
//	-paa-dir string         Write the development PAA here
//	-log-level string       Log level: debug, info, warn, error
//
// Sending SIGUSR1 reopens the commissioning window.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/mash-protocol/commissioner/pkg/cert"
	"github.com/mash-protocol/commissioner/pkg/commissionee"
	"github.com/mash-protocol/commissioner/pkg/commissioning"
	"github.com/mash-protocol/commissioner/pkg/config"
	"github.com/mash-protocol/commissioner/pkg/discovery"
)

// Flags holds the command-line settings.
type Flags struct {
	Passcode      uint
	Discriminator uint
	VendorID      uint
	ProductID     uint
	Port          int
	Name          string
	Thread        bool
	Window        time.Duration
	PAADir        string
	LogLevel      string
}

var flags Flags

func init() {
	flag.UintVar(&flags.Passcode, "passcode", 0, "Setup passcode (default: random)")
	flag.UintVar(&flags.Discriminator, "discriminator", 0, "Discriminator (default: random)")
	flag.UintVar(&flags.VendorID, "vendor-id", 0xFFF1, "Vendor id")
	flag.UintVar(&flags.ProductID, "product-id", 0x8000, "Product id")
	flag.IntVar(&flags.Port, "port", int(discovery.DefaultPort), "Commissioning port")
	flag.StringVar(&flags.Name, "name", "Simulated Device", "Device name advertised over mDNS")
	flag.BoolVar(&flags.Thread, "thread", false, "Report Thread instead of Wi-Fi")
	flag.DurationVar(&flags.Window, "window", 15*time.Minute, "Commissioning window timeout")
	flag.StringVar(&flags.PAADir, "paa-dir", "", "Write the development PAA here")
	flag.StringVar(&flags.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
}

func main() {
	flag.Parse()

	level, err := config.ParseLevel(flags.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "commissionee: %v\n", err)
		os.Exit(2)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(logger); err != nil {
		logger.Error("commissionee stopped", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	pki, err := cert.NewDevelopmentPKI(uint16(flags.VendorID), uint16(flags.ProductID))
	if err != nil {
		return err
	}
	if flags.PAADir != "" {
		if err := os.MkdirAll(flags.PAADir, 0o755); err != nil {
			return err
		}
		path := filepath.Join(flags.PAADir, fmt.Sprintf("paa-%04X.pem", flags.VendorID))
		if err := cert.WriteCertFile(path, pki.PAA); err != nil {
			return err
		}
		logger.Info("wrote development PAA", "path", path)
	}

	features := commissioning.FeatureWiFi
	if flags.Thread {
		features = commissioning.FeatureThread
	}

	advertiser := discovery.NewMDNSAdvertiser(discovery.AdvertiserConfig{Logger: logger})
	defer advertiser.StopAll()

	dev, err := commissionee.New(commissionee.Config{
		Passcode:      uint32(flags.Passcode),
		Discriminator: uint16(flags.Discriminator),
		VendorID:      uint16(flags.VendorID),
		ProductID:     uint16(flags.ProductID),
		DeviceName:    flags.Name,
		WindowTimeout: flags.Window,
		FeatureMap:    features,
		Address:       ":" + strconv.Itoa(flags.Port),
		Attester:      pki.Attester,
		Advertiser:    advertiser,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := dev.Start(ctx); err != nil {
		return err
	}
	defer dev.Stop()

	if err := printCodes(dev); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)

	for sig := range sigCh {
		if sig == syscall.SIGUSR1 {
			if dev.Commissioned() {
				logger.Info("already commissioned, window stays closed")
				continue
			}
			dev.OpenWindow()
			logger.Info("commissioning window reopened")
			continue
		}
		logger.Info("received signal", "signal", sig)
		return nil
	}
	return nil
}

func printCodes(dev *commissionee.Device) error {
	p := dev.Payload()
	qr, err := p.QRCode()
	if err != nil {
		return err
	}
	manual, err := p.ManualCode()
	if err != nil {
		return err
	}
	fmt.Printf("Passcode:      %08d\n", p.Passcode)
	fmt.Printf("Discriminator: %d\n", p.Discriminator)
	fmt.Printf("QR code:       %s\n", qr)
	fmt.Printf("Manual code:   %s\n", manual)
	fmt.Printf("Listening on:  port %d\n", dev.Port())
	return nil
}
