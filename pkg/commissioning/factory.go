package commissioning

import (
	"bytes"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Factory builds the next state from a transition decision. It attaches
// the context data later transitions need and records run artifacts.
type Factory struct {
	ctx         Context
	initialized bool
	logger      *slog.Logger
}

func newFactory(logger *slog.Logger) Factory {
	return Factory{logger: logger}
}

// configure stores the configuration for subsequent runs.
func (f *Factory) configure(c Collaborators, id Identity, network NetworkCredentials) {
	f.ctx.Collaborators = c
	f.ctx.Identity = id.withDefaults()
	f.ctx.Network = network
	f.initialized = true
}

// begin starts a new run.
func (f *Factory) begin(now time.Time) {
	f.ctx.Run = Run{ID: uuid.New(), Started: now}
}

// Build completes next, which was produced by Transition for ev.
func (f *Factory) Build(next State, ev Event) State {
	run := &f.ctx.Run

	switch s := next.(type) {
	case Idle:
		f.releasePairing()
		f.releaseSession()
		f.ctx.Run = Run{}
		return s

	case ParsingOnboardingPayload:
		return s

	case CommissionableNodeDiscovery:
		run.Payload = s.Payload
		return s

	case AbortingCommissionableDiscovery, AwaitingCommissionableDiscovery:
		return s

	case InitiatingPase:
		run.Commissionable = s.Node
		return s

	case FinishingPase:
		return s

	case PaseComplete:
		if paired, _ := artifact(ev).(Paired); paired.Session != nil {
			f.releasePairing()
			run.Pairing = paired.Session
		}
		return s

	case InvokingArmFailSafe:
		if s.Expiry <= 0 {
			s.Expiry = f.ctx.Identity.FailSafeExpiry
		}
		return s

	case FailSafeArmed:
		return s

	case InvokingAttestationRequest:
		run.Attestation = s.Attestation
		return s
	case InvokingDacCertificateChainRequest:
		run.Attestation = s.Attestation
		return s
	case InvokingPaiCertificateChainRequest:
		run.Attestation = s.Attestation
		return s
	case CapturingAttestationChallenge:
		run.Attestation = s.Attestation
		return s
	case AttestationVerification:
		run.Attestation = s.Attestation
		return s
	case AttestationVerified:
		run.Attestation = s.Attestation
		return s

	case InvokingOpCSRRequest:
		run.Nocsr = s.Nocsr
		return s
	case OpCSRResponseReceived:
		run.Nocsr = s.Nocsr
		return s
	case SigningCertificates:
		run.Nocsr = s.Nocsr
		return s

	case CertificatesSigned:
		s.Credentials = f.fillCredentials(s.Credentials)
		run.Credentials = s.Credentials
		return s
	case InvokingAddTrustedRootCertificate:
		run.Credentials = s.Credentials
		return s
	case InvokingAddNOC:
		run.Credentials = s.Credentials
		return s

	case OpCredsWritten, ReadingNetworkFeatureMap:
		return s

	case NetworkFeatureMapRead:
		run.FeatureMap = s.FeatureMap
		return s

	case InvokingAddOrUpdateWiFiNetwork:
		if s.SSID == "" {
			s.SSID = f.ctx.Network.WiFiSSID
		}
		return s

	case InvokingAddOrUpdateThreadNetwork:
		if len(s.Dataset) == 0 {
			s.Dataset = bytes.Clone(f.ctx.Network.ThreadDataset)
		}
		return s

	case NetworkAdded:
		run.NetworkID = s.NetworkID
		return s

	case InvokingConnectNetwork:
		run.NetworkID = s.NetworkID
		return s

	case NetworkEnabled:
		return s

	case OperationalDiscovery:
		s.PeerID = PeerID{
			CompressedFabricID: f.ctx.Identity.CompressedFabricID,
			NodeID:             f.ctx.Identity.NodeID,
		}
		return s

	case InitiatingCase:
		return s

	case CaseComplete:
		est, _ := artifact(ev).(Established)
		if s.Node != nil && est.Session != nil {
			node := *s.Node
			if id := est.Session.PeerNodeID(); id != 0 {
				node.PeerID.NodeID = id
			}
			s.Node = &node
			f.releaseSession()
			run.Operational = &node
			run.Session = est.Session
		}
		return s

	case InvokingCommissioningComplete:
		return s

	case CommissioningComplete:
		f.releasePairing()
		return s

	case Failed:
		if s.Cause == nil {
			s.Cause = errUnspecifiedFailure
		}
		f.releasePairing()
		f.releaseSession()
		return s
	}

	return next
}

// fillCredentials applies identity defaults to issued credentials.
func (f *Factory) fillCredentials(c Credentials) Credentials {
	if c.CaseAdminSubject == 0 {
		c.CaseAdminSubject = f.ctx.Identity.CaseAdminSubject
	}
	if c.AdminVendorID == 0 {
		c.AdminVendorID = f.ctx.Identity.AdminVendorID
	}
	return c
}

func (f *Factory) releasePairing() {
	if f.ctx.Run.Pairing == nil {
		return
	}
	if err := f.ctx.Run.Pairing.Close(); err != nil {
		f.logger.Debug("closing PASE session", "error", err)
	}
	f.ctx.Run.Pairing = nil
}

func (f *Factory) releaseSession() {
	if f.ctx.Run.Session == nil {
		return
	}
	if err := f.ctx.Run.Session.Close(); err != nil {
		f.logger.Debug("closing CASE session", "error", err)
	}
	f.ctx.Run.Session = nil
}

func artifact(ev Event) Artifact {
	if s, ok := ev.(Success); ok {
		return s.Artifact
	}
	return nil
}
