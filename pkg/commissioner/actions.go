package commissioner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/mash-protocol/commissioner/pkg/cert"
	"github.com/mash-protocol/commissioner/pkg/cluster"
	"github.com/mash-protocol/commissioner/pkg/commissioning"
	"github.com/mash-protocol/commissioner/pkg/discovery"
	"github.com/mash-protocol/commissioner/pkg/pase"
	"github.com/mash-protocol/commissioner/pkg/payload"
)

// Breadcrumbs written with the commands that take one.
const (
	breadcrumbFailSafe uint64 = iota + 1
	breadcrumbNetworkAdded
	breadcrumbNetworkConnected
)

// onTransition runs on the loop goroutine after every applied transition
// and starts the work the entered state delegates.
func (c *Commissioner) onTransition(ch commissioning.Change) {
	e := c.engine
	if ch.From.Kind() == commissioning.KindIdle && ch.To.Kind() != commissioning.KindIdle {
		c.attach(e)
	}
	r := c.current
	if r == nil {
		return
	}

	switch s := ch.To.(type) {
	case commissioning.Idle:
		r.end()
		r.finish(Result{Err: commissioning.ErrShutdown})
		c.current = nil

	case commissioning.ParsingOnboardingPayload:
		p, err := payload.Parse(s.Raw)
		if err != nil {
			c.post(r, failure("parse onboarding payload", err))
			return
		}
		c.post(r, commissioning.ParsedPayload{Payload: p})

	case commissioning.CommissionableNodeDiscovery:
		c.discover(r, s.Payload, 0)

	case commissioning.AwaitingCommissionableDiscovery:
		c.discover(r, s.Payload, c.config.RetryDelay)

	case commissioning.AbortingCommissionableDiscovery:
		if r.stopDiscovery != nil {
			r.stopDiscovery()
			r.stopDiscovery = nil
		}
		c.post(r, commissioning.Success{})

	case commissioning.InitiatingPase:
		if s.Node == nil || s.Payload == nil {
			c.post(r, commissioning.Failure{Err: errors.New("PASE: no commissionable node")})
			return
		}
		c.pair(r, s.Node, s.Payload.Passcode)

	case commissioning.FinishingPase:
		// The PASE attempt in flight reports its own result.

	case commissioning.PaseComplete:
		if p, ok := e.Context().Run.Pairing.(Pairing); ok {
			r.pairing = p
		}
		c.post(r, commissioning.ArmFailSafe{})

	case commissioning.InvokingArmFailSafe:
		c.invoke(r, func(ctx context.Context, cm Commissionee) commissioning.Event {
			if err := cm.ArmFailSafe(ctx, s.Expiry, breadcrumbFailSafe); err != nil {
				return failure("arm fail-safe", err)
			}
			return commissioning.Success{}
		})

	case commissioning.FailSafeArmed:
		nonce, err := cert.NewNonce()
		if err != nil {
			c.post(r, failure("attestation nonce", err))
			return
		}
		c.post(r, commissioning.AttestationInformation{Attestation: commissioning.Attestation{Nonce: nonce}})

	case commissioning.InvokingAttestationRequest:
		c.invoke(r, func(ctx context.Context, cm Commissionee) commissioning.Event {
			elements, signature, err := cm.AttestationRequest(ctx, s.Attestation.Nonce)
			if err != nil {
				return failure("attestation request", err)
			}
			return commissioning.AttestationInformation{Attestation: commissioning.Attestation{
				Elements:  elements,
				Signature: signature,
			}}
		})

	case commissioning.InvokingDacCertificateChainRequest:
		c.invoke(r, func(ctx context.Context, cm Commissionee) commissioning.Event {
			dac, err := cm.CertificateChainRequest(ctx, cluster.CertificateDAC)
			if err != nil {
				return failure("DAC certificate request", err)
			}
			return commissioning.AttestationInformation{Attestation: commissioning.Attestation{DAC: dac}}
		})

	case commissioning.InvokingPaiCertificateChainRequest:
		c.invoke(r, func(ctx context.Context, cm Commissionee) commissioning.Event {
			pai, err := cm.CertificateChainRequest(ctx, cluster.CertificatePAI)
			if err != nil {
				return failure("PAI certificate request", err)
			}
			return commissioning.AttestationInformation{Attestation: commissioning.Attestation{PAI: pai}}
		})

	case commissioning.CapturingAttestationChallenge:
		if r.pairing == nil {
			c.post(r, commissioning.Failure{Err: ErrNoPairing})
			return
		}
		c.post(r, commissioning.AttestationInformation{Attestation: commissioning.Attestation{
			Challenge: r.pairing.AttestationChallenge(),
		}})

	case commissioning.AttestationVerification:
		var vendorID, productID uint16
		if p := e.Context().Run.Payload; p != nil {
			vendorID, productID = p.VendorID, p.ProductID
		}
		att := s.Attestation
		c.async(r, func(ctx context.Context) commissioning.Event {
			if err := c.deps.Verifier.Verify(ctx, att, vendorID, productID); err != nil {
				return failure("device attestation", err)
			}
			return commissioning.AttestationInformation{Attestation: commissioning.Attestation{Verified: true}}
		})

	case commissioning.AttestationVerified:
		nonce, err := cert.NewNonce()
		if err != nil {
			c.post(r, failure("CSR nonce", err))
			return
		}
		c.post(r, commissioning.NocsrInformation{Nocsr: commissioning.Nocsr{Nonce: nonce}})

	case commissioning.InvokingOpCSRRequest:
		c.invoke(r, func(ctx context.Context, cm Commissionee) commissioning.Event {
			elements, signature, err := cm.CSRRequest(ctx, s.Nocsr.Nonce)
			if err != nil {
				return failure("CSR request", err)
			}
			return commissioning.NocsrInformation{Nocsr: commissioning.Nocsr{
				Elements:  elements,
				Signature: signature,
			}}
		})

	case commissioning.OpCSRResponseReceived:
		att := e.Context().Run.Attestation
		nocsr := s.Nocsr
		c.async(r, func(ctx context.Context) commissioning.Event {
			csr, err := c.deps.Verifier.VerifyNocsr(ctx, att, nocsr)
			if err != nil {
				return failure("CSR response", err)
			}
			return commissioning.NocsrInformation{Nocsr: commissioning.Nocsr{CSR: csr, Verified: true}}
		})

	case commissioning.SigningCertificates:
		id := e.Context().Identity
		req := commissioning.IssueRequest{
			CSR:              s.Nocsr.CSR,
			FabricID:         id.FabricID,
			NodeID:           id.NodeID,
			CaseAdminSubject: id.CaseAdminSubject,
			AdminVendorID:    id.AdminVendorID,
		}
		c.async(r, func(ctx context.Context) commissioning.Event {
			creds, err := c.deps.Issuer.Issue(ctx, req)
			if err != nil {
				return failure("issue NOC", err)
			}
			return commissioning.OperationalCredentials{Credentials: creds}
		})

	case commissioning.CertificatesSigned:
		c.post(r, commissioning.OperationalCredentials{})

	case commissioning.InvokingAddTrustedRootCertificate:
		c.invoke(r, func(ctx context.Context, cm Commissionee) commissioning.Event {
			if err := cm.AddTrustedRootCertificate(ctx, s.Credentials.RootCert); err != nil {
				return failure("add trusted root", err)
			}
			return commissioning.OperationalCredentials{Credentials: commissioning.Credentials{RootInstalled: true}}
		})

	case commissioning.InvokingAddNOC:
		c.invoke(r, func(ctx context.Context, cm Commissionee) commissioning.Event {
			index, err := cm.AddNOC(ctx, s.Credentials)
			if err != nil {
				return failure("add NOC", err)
			}
			c.logger.Debug("NOC installed", "run", r.id, "fabric_index", index)
			return commissioning.OperationalCredentials{Credentials: commissioning.Credentials{NOCInstalled: true}}
		})

	case commissioning.OpCredsWritten:
		if e.Context().Network.Empty() {
			c.post(r, commissioning.SkipNetworkConfiguration{})
			return
		}
		c.post(r, commissioning.InitiateNetworkConfiguration{})

	case commissioning.ReadingNetworkFeatureMap:
		c.invoke(r, func(ctx context.Context, cm Commissionee) commissioning.Event {
			fm, err := cm.ReadNetworkFeatureMap(ctx)
			if err != nil {
				return failure("read network feature map", err)
			}
			return commissioning.NetworkFeatureMap{FeatureMap: fm}
		})

	case commissioning.NetworkFeatureMapRead:
		c.post(r, selectNetwork(s.FeatureMap, e.Context().Network))

	case commissioning.InvokingAddOrUpdateWiFiNetwork:
		passphrase := e.Context().Network.WiFiPassphrase
		c.invoke(r, func(ctx context.Context, cm Commissionee) commissioning.Event {
			id, err := cm.AddOrUpdateWiFiNetwork(ctx, []byte(s.SSID), []byte(passphrase), breadcrumbNetworkAdded)
			if err != nil {
				return failure("add Wi-Fi network", err)
			}
			return commissioning.NetworkID{ID: id}
		})

	case commissioning.InvokingAddOrUpdateThreadNetwork:
		c.invoke(r, func(ctx context.Context, cm Commissionee) commissioning.Event {
			id, err := cm.AddOrUpdateThreadNetwork(ctx, s.Dataset, breadcrumbNetworkAdded)
			if err != nil {
				return failure("add Thread network", err)
			}
			return commissioning.NetworkID{ID: id}
		})

	case commissioning.NetworkAdded:
		c.post(r, commissioning.NetworkID{})

	case commissioning.InvokingConnectNetwork:
		c.invoke(r, func(ctx context.Context, cm Commissionee) commissioning.Event {
			if err := cm.ConnectNetwork(ctx, s.NetworkID, breadcrumbNetworkConnected); err != nil {
				return failure("connect network", err)
			}
			return commissioning.Success{}
		})

	case commissioning.NetworkEnabled:
		c.post(r, commissioning.InitiateOperationalDiscovery{})

	case commissioning.OperationalDiscovery:
		c.resolve(r, s.PeerID)

	case commissioning.InitiatingCase:
		c.dial(r, s.Node)

	case commissioning.CaseComplete:
		if op, ok := e.Context().Run.Session.(Operational); ok {
			r.operational = op
		}
		c.post(r, commissioning.InvokeCommissioningComplete{})

	case commissioning.InvokingCommissioningComplete:
		if r.operational == nil {
			c.post(r, commissioning.Failure{Err: ErrNoOperational})
			return
		}
		cm := r.operational.Commissionee()
		c.async(r, func(ctx context.Context) commissioning.Event {
			if err := cm.CommissioningComplete(ctx); err != nil {
				return failure("commissioning complete", err)
			}
			return commissioning.Success{}
		})

	case commissioning.CommissioningComplete:
		r.node = s.Node
		c.record(e, s.Node)
		r.end()

	case commissioning.Failed:
		r.end()
	}
}

// attach binds the pending run to the engine run that just started.
func (c *Commissioner) attach(e *commissioning.Engine) {
	r := c.pending
	if r == nil {
		return
	}
	run := e.Context().Run
	r.id = run.ID
	r.started = run.Started
	r.ctx, r.cancel = context.WithCancel(c.base)
	c.current = r
}

// async runs op in its own goroutine and posts its event unless the run
// ended first.
func (c *Commissioner) async(r *run, op func(ctx context.Context) commissioning.Event) {
	go func() {
		ev := op(r.ctx)
		if ev == nil || r.ctx.Err() != nil {
			return
		}
		c.post(r, ev)
	}()
}

// invoke runs a command on the commissionee over PASE.
func (c *Commissioner) invoke(r *run, op func(ctx context.Context, cm Commissionee) commissioning.Event) {
	cm := r.commissionee()
	if cm == nil {
		c.post(r, commissioning.Failure{Err: ErrNoPairing})
		return
	}
	c.async(r, func(ctx context.Context) commissioning.Event {
		return op(ctx, cm)
	})
}

// discover searches for the commissionable node, retrying while the browse
// comes back empty. The engine deadline ends the search.
func (c *Commissioner) discover(r *run, p *payload.Payload, delay time.Duration) {
	if r.stopDiscovery != nil {
		r.stopDiscovery()
	}
	ctx, cancel := context.WithCancel(r.ctx)
	r.stopDiscovery = cancel

	go func() {
		defer cancel()

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
		}

		var node *commissioning.NodeRecord
		err := backoff.Retry(func() error {
			n, err := c.deps.Discoverer.FindCommissionable(ctx, p)
			switch {
			case errors.Is(err, discovery.ErrNotFound):
				c.logger.Debug("commissionable node not found yet", "run", r.id, "payload", p)
				return err
			case err != nil:
				return backoff.Permanent(err)
			}
			node = n
			return nil
		}, backoff.WithContext(c.config.Backoff.newBackOff(), ctx))

		if ctx.Err() != nil {
			return
		}
		if err != nil {
			c.post(r, failure("commissionable discovery", err))
			return
		}
		c.logger.Info("commissionable node found", "run", r.id, "instance", node.InstanceName, "address", node.Address())
		c.post(r, commissioning.Success{Artifact: node})
	}()
}

// pair runs PASE with node. A busy or closed commissioning window sends
// the engine back to discovery.
func (c *Commissioner) pair(r *run, node *commissioning.NodeRecord, passcode uint32) {
	go func() {
		ctx, cancel := context.WithTimeout(r.ctx, c.config.PairingTimeout)
		defer cancel()

		p, err := c.deps.Pairer.Pair(ctx, r.id, node, passcode)
		if r.ctx.Err() != nil {
			if p != nil {
				_ = p.Close()
			}
			return
		}
		switch {
		case err == nil:
			c.postPairing(r, p)
		case errors.Is(err, pase.ErrBusy), errors.Is(err, pase.ErrRefused):
			c.logger.Info("commissionee cannot pair now", "run", r.id, "instance", node.InstanceName, "error", err)
			c.postBusy(r, err)
		default:
			c.post(r, failure("PASE", err))
		}
	}()
}

// resolve finds the operational address of peer, retrying until
// OperationalTimeout.
func (c *Commissioner) resolve(r *run, peer commissioning.PeerID) {
	go func() {
		ctx, cancel := context.WithTimeout(r.ctx, c.config.OperationalTimeout)
		defer cancel()

		var node *commissioning.OperationalNode
		err := backoff.Retry(func() error {
			n, err := c.deps.Discoverer.ResolveOperational(ctx, peer)
			if err != nil {
				c.logger.Debug("operational node not resolved yet", "run", r.id, "peer", peer, "error", err)
				return err
			}
			node = n
			return nil
		}, backoff.WithContext(c.config.Backoff.newBackOff(), ctx))

		if r.ctx.Err() != nil {
			return
		}
		if err != nil {
			c.post(r, commissioning.Failure{Err: fmt.Errorf("%w: %s: %w", ErrNotResolved, peer, err)})
			return
		}
		c.post(r, commissioning.OperationalRecord{Node: node})
	}()
}

// dial establishes the operational session, retrying until
// OperationalTimeout.
func (c *Commissioner) dial(r *run, node *commissioning.OperationalNode) {
	go func() {
		ctx, cancel := context.WithTimeout(r.ctx, c.config.OperationalTimeout)
		defer cancel()

		var op Operational
		err := backoff.Retry(func() error {
			o, err := c.deps.Dialer.Dial(ctx, r.id, node)
			if err != nil {
				c.logger.Debug("operational dial failed", "run", r.id, "address", node.Address(), "error", err)
				return err
			}
			op = o
			return nil
		}, backoff.WithContext(c.config.Backoff.newBackOff(), ctx))

		if r.ctx.Err() != nil {
			if op != nil {
				_ = op.Close()
			}
			return
		}
		if err != nil {
			c.post(r, failure("CASE", err))
			return
		}
		c.postOperational(r, op)
	}()
}

// selectNetwork picks the network to provision from the commissionee's
// interfaces and the configured credentials.
func selectNetwork(fm commissioning.FeatureMap, network commissioning.NetworkCredentials) commissioning.Event {
	switch {
	case fm.Has(commissioning.FeatureWiFi) && network.WiFiSSID != "":
		return commissioning.AddOrUpdateWiFiNetwork{SSID: network.WiFiSSID, Passphrase: network.WiFiPassphrase}
	case fm.Has(commissioning.FeatureThread) && len(network.ThreadDataset) > 0:
		return commissioning.AddOrUpdateThreadNetwork{Dataset: network.ThreadDataset}
	default:
		return commissioning.Failure{Err: fmt.Errorf("%w: commissionee supports %s", ErrNoUsableNetwork, fm)}
	}
}

func failure(step string, err error) commissioning.Failure {
	return commissioning.Failure{Err: fmt.Errorf("%s: %w", step, err)}
}
