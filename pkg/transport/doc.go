// Package transport carries commissioning traffic between a commissioner
// and a commissionee.
//
// # Protocol Stack
//
//	┌────────────────────────────────┐
//	│      CBOR Messages             │
//	├────────────────────────────────┤
//	│   Versioned Frames (4B header) │
//	├────────────────────────────────┤
//	│         TLS 1.3                │
//	├────────────────────────────────┤
//	│           TCP                  │
//	└────────────────────────────────┘
//
// Two channel kinds share the stack. The commissioning channel skips
// certificate verification; the commissionee presents a self-signed
// certificate and PASE authenticates both ends. The operational channel is
// mutual TLS with node operational certificates chained to the fabric root,
// and the peer certificate must name the expected node id.
//
// Each kind negotiates its own ALPN protocol so a commissionee can tell the
// channels apart on a single port.
package transport
