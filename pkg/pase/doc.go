// Package pase implements Password-Authenticated Session Establishment, the
// first exchange between a commissioner and an uncommissioned node.
//
// Both ends prove knowledge of the node's setup passcode with SPAKE2+ over
// P-256 (RFC 9383). The passcode is stretched with PBKDF2-HMAC-SHA256 using
// a salt and iteration count chosen by the responder:
//
//	Initiator                              Responder
//	    PBKDFParamRequest  ─────────────▶
//	                       ◀─────────────  PBKDFParamResponse (salt, iterations)
//	    Pake1 (pA)         ─────────────▶
//	                       ◀─────────────  Pake2 (pB, cB)
//	    Pake3 (cA)         ─────────────▶
//	                       ◀─────────────  StatusReport
//
// The responder stores only a Verifier (w0 and L = w1*G). The hash of the
// two parameter messages binds the SPAKE2+ transcript to them.
//
// A completed exchange yields SessionKeys, including the attestation
// challenge that later binds attestation and CSR signatures to the session.
//
// A responder that is already pairing answers with StatusBusy, which Pair
// reports as ErrBusy so the caller can retry.
package pase
