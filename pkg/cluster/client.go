package cluster

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mash-protocol/commissioner/pkg/commissioning"
	"github.com/mash-protocol/commissioner/pkg/log"
	"github.com/mash-protocol/commissioner/pkg/transport"
)

// ErrClientClosed is returned by exchanges on a closed client.
var ErrClientClosed = errors.New("client is closed")

// DefaultTimeout bounds one exchange when the caller's context has no
// earlier deadline.
const DefaultTimeout = 30 * time.Second

// ExchangeRecorder receives the outcome of every exchange.
// *metrics.Recorder implements it.
type ExchangeRecorder interface {
	Exchange(command string, err error, elapsed time.Duration)
}

// ClientConfig configures a Client.
type ClientConfig struct {
	// Peer names the commissionee in trace events.
	Peer string

	// RunID tags trace events with the commissioning run.
	RunID string

	// Timeout bounds each exchange. Zero means DefaultTimeout.
	Timeout time.Duration

	// Logger receives an exchange event per command. Nil discards.
	Logger log.Logger

	// Recorder receives exchange timings. Nil discards.
	Recorder ExchangeRecorder
}

// Client invokes commissioning commands over a MessageConn. Exchanges are
// serialized.
type Client struct {
	mu     sync.Mutex
	conn   transport.MessageConn
	config ClientConfig
	nextID uint32
	closed bool
}

// NewClient creates a client on conn. The client does not own conn.
func NewClient(conn transport.MessageConn, config ClientConfig) *Client {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Logger == nil {
		config.Logger = log.NoopLogger{}
	}
	return &Client{conn: conn, config: config}
}

// Close makes further exchanges fail with ErrClientClosed. It does not
// close the underlying connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// ArmFailSafe arms the commissionee fail-safe for expiry. Zero disarms.
func (c *Client) ArmFailSafe(ctx context.Context, expiry time.Duration, breadcrumb uint64) error {
	seconds := expiry.Round(time.Second) / time.Second
	if seconds < 0 || seconds > 0xFFFF {
		return fmt.Errorf("%w: fail-safe expiry %s", ErrInvalidMessage, expiry)
	}
	return c.exchange(ctx, CmdArmFailSafe, &ArmFailSafeRequest{
		ExpiryLengthSeconds: uint16(seconds),
		Breadcrumb:          breadcrumb,
	}, nil)
}

// AttestationRequest asks the commissionee to attest over nonce.
func (c *Client) AttestationRequest(ctx context.Context, nonce []byte) (elements, signature []byte, err error) {
	var resp SignedResponse
	if err := c.exchange(ctx, CmdAttestationRequest, &NonceRequest{Nonce: nonce}, &resp); err != nil {
		return nil, nil, err
	}
	return resp.Elements, resp.Signature, nil
}

// CertificateChainRequest fetches the DAC or PAI.
func (c *Client) CertificateChainRequest(ctx context.Context, typ CertificateType) ([]byte, error) {
	var resp CertificateChainResponse
	if err := c.exchange(ctx, CmdCertificateChainRequest, &CertificateChainRequest{Type: typ}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Certificate) == 0 {
		return nil, fmt.Errorf("%s %s: %w", CmdCertificateChainRequest, typ, ErrMissingPayload)
	}
	return resp.Certificate, nil
}

// CSRRequest asks the commissionee for an operational CSR bound to nonce.
func (c *Client) CSRRequest(ctx context.Context, nonce []byte) (elements, signature []byte, err error) {
	var resp SignedResponse
	if err := c.exchange(ctx, CmdCSRRequest, &NonceRequest{Nonce: nonce}, &resp); err != nil {
		return nil, nil, err
	}
	return resp.Elements, resp.Signature, nil
}

// AddTrustedRootCertificate installs the fabric root.
func (c *Client) AddTrustedRootCertificate(ctx context.Context, root []byte) error {
	return c.exchange(ctx, CmdAddTrustedRootCertificate, &AddTrustedRootCertificateRequest{RootCertificate: root}, nil)
}

// AddNOC installs the NOC, optional ICAC and IPK from creds.
func (c *Client) AddNOC(ctx context.Context, creds commissioning.Credentials) (commissioning.FabricIndex, error) {
	var resp AddNOCResponse
	err := c.exchange(ctx, CmdAddNOC, &AddNOCRequest{
		NOC:              creds.NOC,
		ICAC:             creds.ICAC,
		IPK:              creds.IPK,
		CaseAdminSubject: creds.CaseAdminSubject,
		AdminVendorID:    creds.AdminVendorID,
	}, &resp)
	if err != nil {
		return 0, err
	}
	return commissioning.FabricIndex(resp.FabricIndex), nil
}

// ReadNetworkFeatureMap reads the network commissioning feature map.
func (c *Client) ReadNetworkFeatureMap(ctx context.Context) (commissioning.FeatureMap, error) {
	var resp FeatureMapResponse
	if err := c.exchange(ctx, CmdReadNetworkFeatureMap, nil, &resp); err != nil {
		return 0, err
	}
	return commissioning.FeatureMap(resp.FeatureMap), nil
}

// AddOrUpdateWiFiNetwork provisions Wi-Fi credentials and returns the
// network id.
func (c *Client) AddOrUpdateWiFiNetwork(ctx context.Context, ssid, passphrase []byte, breadcrumb uint64) ([]byte, error) {
	var resp NetworkConfigResponse
	err := c.exchange(ctx, CmdAddOrUpdateWiFiNetwork, &AddOrUpdateWiFiNetworkRequest{
		SSID:        ssid,
		Credentials: passphrase,
		Breadcrumb:  breadcrumb,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.NetworkID, nil
}

// AddOrUpdateThreadNetwork provisions a Thread dataset and returns the
// network id.
func (c *Client) AddOrUpdateThreadNetwork(ctx context.Context, dataset []byte, breadcrumb uint64) ([]byte, error) {
	var resp NetworkConfigResponse
	err := c.exchange(ctx, CmdAddOrUpdateThreadNetwork, &AddOrUpdateThreadNetworkRequest{
		OperationalDataset: dataset,
		Breadcrumb:         breadcrumb,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.NetworkID, nil
}

// ConnectNetwork asks the commissionee to join networkID.
func (c *Client) ConnectNetwork(ctx context.Context, networkID []byte, breadcrumb uint64) error {
	return c.exchange(ctx, CmdConnectNetwork, &ConnectNetworkRequest{NetworkID: networkID, Breadcrumb: breadcrumb}, nil)
}

// CommissioningComplete ends commissioning and disarms the fail-safe.
func (c *Client) CommissioningComplete(ctx context.Context) error {
	return c.exchange(ctx, CmdCommissioningComplete, nil, nil)
}

func (c *Client) exchange(ctx context.Context, cmd Command, req, resp any) (err error) {
	start := time.Now()
	defer func() { c.record(cmd, err, time.Since(start)) }()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClientClosed
	}

	payload, err := encodePayload(req)
	if err != nil {
		return fmt.Errorf("%s: encode: %w", cmd, err)
	}
	c.nextID++
	if c.nextID == 0 {
		c.nextID = 1
	}
	id := c.nextID

	data, err := EncodeRequest(&Request{MessageID: id, Command: cmd, Payload: payload})
	if err != nil {
		return fmt.Errorf("%s: %w", cmd, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	if err := c.conn.Send(data); err != nil {
		return fmt.Errorf("%s: send: %w", cmd, err)
	}
	raw, err := c.conn.Receive(ctx)
	if err != nil {
		return fmt.Errorf("%s: receive: %w", cmd, err)
	}
	r, err := DecodeResponse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", cmd, err)
	}
	if r.MessageID != id {
		return fmt.Errorf("%s: %w: message id %d, want %d", cmd, ErrUnexpectedReply, r.MessageID, id)
	}
	if !r.Status.IsSuccess() {
		return &StatusError{Command: cmd, Status: r.Status, Message: r.Message}
	}
	if resp != nil {
		if err := decodePayload(r.Payload, resp); err != nil {
			return fmt.Errorf("%s: %w", cmd, err)
		}
	}
	return nil
}

func (c *Client) record(cmd Command, err error, elapsed time.Duration) {
	status := "OK"
	if err != nil {
		status = err.Error()
	}
	c.config.Logger.Log(log.Event{
		Timestamp: time.Now(),
		RunID:     c.config.RunID,
		Category:  log.CategoryExchange,
		Exchange: &log.ExchangeEvent{
			Command:  cmd.String(),
			Peer:     c.config.Peer,
			Status:   status,
			Duration: elapsed,
		},
	})
	if c.config.Recorder != nil {
		c.config.Recorder.Exchange(cmd.String(), err, elapsed)
	}
}
