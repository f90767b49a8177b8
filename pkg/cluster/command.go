package cluster

import "fmt"

// Command identifies a commissioning command.
type Command uint8

const (
	CmdArmFailSafe               Command = 1
	CmdAttestationRequest        Command = 2
	CmdCertificateChainRequest   Command = 3
	CmdCSRRequest                Command = 4
	CmdAddTrustedRootCertificate Command = 5
	CmdAddNOC                    Command = 6
	CmdReadNetworkFeatureMap     Command = 7
	CmdAddOrUpdateWiFiNetwork    Command = 8
	CmdAddOrUpdateThreadNetwork  Command = 9
	CmdConnectNetwork            Command = 10
	CmdCommissioningComplete     Command = 11
)

// String returns the command name.
func (c Command) String() string {
	switch c {
	case CmdArmFailSafe:
		return "ArmFailSafe"
	case CmdAttestationRequest:
		return "AttestationRequest"
	case CmdCertificateChainRequest:
		return "CertificateChainRequest"
	case CmdCSRRequest:
		return "CSRRequest"
	case CmdAddTrustedRootCertificate:
		return "AddTrustedRootCertificate"
	case CmdAddNOC:
		return "AddNOC"
	case CmdReadNetworkFeatureMap:
		return "ReadNetworkFeatureMap"
	case CmdAddOrUpdateWiFiNetwork:
		return "AddOrUpdateWiFiNetwork"
	case CmdAddOrUpdateThreadNetwork:
		return "AddOrUpdateThreadNetwork"
	case CmdConnectNetwork:
		return "ConnectNetwork"
	case CmdCommissioningComplete:
		return "CommissioningComplete"
	default:
		return fmt.Sprintf("Command(%d)", uint8(c))
	}
}

// IsValid reports whether c is a known command.
func (c Command) IsValid() bool {
	return c >= CmdArmFailSafe && c <= CmdCommissioningComplete
}

// CertificateType selects the certificate returned by
// CertificateChainRequest.
type CertificateType uint8

const (
	CertificateDAC CertificateType = 1
	CertificatePAI CertificateType = 2
)

// String returns the certificate type name.
func (t CertificateType) String() string {
	switch t {
	case CertificateDAC:
		return "DAC"
	case CertificatePAI:
		return "PAI"
	default:
		return fmt.Sprintf("CertificateType(%d)", uint8(t))
	}
}

// ArmFailSafeRequest arms the fail-safe for ExpiryLengthSeconds. Zero
// disarms it.
type ArmFailSafeRequest struct {
	ExpiryLengthSeconds uint16 `cbor:"1,keyasint"`
	Breadcrumb          uint64 `cbor:"2,keyasint,omitempty"`
}

// NonceRequest carries the nonce of AttestationRequest and CSRRequest.
type NonceRequest struct {
	Nonce []byte `cbor:"1,keyasint"`
}

// SignedResponse is the reply to AttestationRequest and CSRRequest:
// CBOR elements and a DAC signature over them and the session challenge.
type SignedResponse struct {
	Elements  []byte `cbor:"1,keyasint"`
	Signature []byte `cbor:"2,keyasint"`
}

// CertificateChainRequest asks for the DAC or PAI.
type CertificateChainRequest struct {
	Type CertificateType `cbor:"1,keyasint"`
}

// CertificateChainResponse carries a DER certificate.
type CertificateChainResponse struct {
	Certificate []byte `cbor:"1,keyasint"`
}

// AddTrustedRootCertificateRequest installs the fabric root.
type AddTrustedRootCertificateRequest struct {
	RootCertificate []byte `cbor:"1,keyasint"`
}

// AddNOCRequest installs the node operational certificate.
type AddNOCRequest struct {
	NOC              []byte `cbor:"1,keyasint"`
	ICAC             []byte `cbor:"2,keyasint,omitempty"`
	IPK              []byte `cbor:"3,keyasint"`
	CaseAdminSubject uint64 `cbor:"4,keyasint"`
	AdminVendorID    uint16 `cbor:"5,keyasint"`
}

// AddNOCResponse reports the fabric index the NOC was installed at.
type AddNOCResponse struct {
	FabricIndex uint8 `cbor:"1,keyasint"`
}

// FeatureMapResponse carries the network commissioning feature map.
type FeatureMapResponse struct {
	FeatureMap uint32 `cbor:"1,keyasint"`
}

// AddOrUpdateWiFiNetworkRequest provisions Wi-Fi credentials.
type AddOrUpdateWiFiNetworkRequest struct {
	SSID        []byte `cbor:"1,keyasint"`
	Credentials []byte `cbor:"2,keyasint,omitempty"`
	Breadcrumb  uint64 `cbor:"3,keyasint,omitempty"`
}

// AddOrUpdateThreadNetworkRequest provisions a Thread operational dataset.
type AddOrUpdateThreadNetworkRequest struct {
	OperationalDataset []byte `cbor:"1,keyasint"`
	Breadcrumb         uint64 `cbor:"2,keyasint,omitempty"`
}

// NetworkConfigResponse reports the id of the added network.
type NetworkConfigResponse struct {
	NetworkID []byte `cbor:"1,keyasint"`
}

// ConnectNetworkRequest asks the commissionee to join a provisioned network.
type ConnectNetworkRequest struct {
	NetworkID  []byte `cbor:"1,keyasint"`
	Breadcrumb uint64 `cbor:"2,keyasint,omitempty"`
}
