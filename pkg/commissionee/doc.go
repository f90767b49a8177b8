// Package commissionee implements a simulated commissionable node.
//
// A Device listens on the commissioning channel, answers PASE while its
// commissioning window is open and then serves commissioning commands. It
// attests with a development PKI, accepts a NOC for a key it generated,
// keeps network configuration provisional under the fail-safe and, once a
// NOC is installed, accepts operational connections so CommissioningComplete
// can be sent over CASE.
//
// It advertises itself over mDNS when given an Advertiser: the
// commissionable service while the window is open and the operational
// service once it has joined a fabric.
//
// The device exists for end-to-end tests and the commissionee CLI; it keeps
// a single fabric and its configuration in memory.
package commissionee
