// Package commissioner drives real commissioning runs.
//
// A Commissioner owns a commissioning.Engine and its Loop. It observes
// every transition and starts the work each entered state delegates:
// mDNS discovery, PASE pairing, commissioning commands, attestation
// checks, NOC issuance, network provisioning and the operational TLS
// session. Results are posted back to the loop as events, tagged with the
// run they belong to so a late result from an ended run is discarded.
//
// Collaborators are injected through Deps. TLSPairer and TLSCaseDialer
// connect to commissionees with pkg/transport, pkg/pase and pkg/cluster;
// discovery.MDNSBrowser finds them; cert.Issuer and
// cert.AttestationVerifier handle the credentials.
//
//	c, err := commissioner.New(config, deps)
//	go c.Run(ctx)
//	results, err := c.Commission(ctx, "MT:Y.K9042C00KA0648G00")
//	res := <-results
package commissioner
