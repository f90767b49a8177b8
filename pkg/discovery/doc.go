// Package discovery finds commissionees and commissioned nodes over
// mDNS/DNS-SD and lets a simulated commissionee advertise itself.
//
// # Commissionable Discovery (_matterc._udp)
//
// A node with an open commissioning window advertises a random 64-bit
// instance name. TXT records carry D (12-bit discriminator), VP
// (vendor+product), CM (commissioning mode) and optionally DN (device
// name). The commissioner browses and keeps the first node whose
// discriminator matches the onboarding payload.
//
// # Operational Discovery (_matter._tcp)
//
// A commissioned node advertises <compressed-fabric-id>-<node-id>, both as
// 16 upper-case hex digits. The commissioner resolves that instance name to
// an address before dialing CASE.
package discovery
