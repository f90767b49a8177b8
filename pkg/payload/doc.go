// Package payload parses and generates onboarding payloads.
//
// An onboarding payload is the information a commissioner needs to find and
// pair with an uncommissioned node. It arrives in one of two forms:
//
// # QR Code
//
//	MT:<base38>
//
// The base38 body packs 88 bits, least significant first:
//
//	version(3) vendor(16) product(16) flow(2) capabilities(8)
//	discriminator(12) passcode(27) padding(4)
//
// Example: MT:Y.K9042C00KA0648G00
//
// # Manual Pairing Code
//
// An 11-digit (or 21-digit, when vendor and product are included) decimal
// string ending in a Verhoeff check digit. It only carries the upper four
// bits of the discriminator, so discovery must match on the short form.
//
// Example: 34970112332
package payload
