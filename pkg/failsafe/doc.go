// Package failsafe implements the commissionee's fail-safe context.
//
// A commissioner arms the fail-safe with ArmFailSafe before it changes any
// commissionee configuration. Everything added while the fail-safe is armed
// (trusted root, NOC, network configuration) is provisional: if the timer
// expires before CommissioningComplete disarms it, the commissionee rolls
// the changes back and reopens its commissioning window.
//
// # Expiry
//
// Each ArmFailSafe restarts the timer with the requested expiry. The total
// time since the first arm may not exceed the maximum cumulative period
// (default: 900 seconds). An expiry of zero expires the fail-safe at once.
//
// # States
//
//   - DISARMED: no provisional changes are pending
//   - ARMED: the timer is running
//   - EXPIRED: the timer ran out and the rollback callback ran
//
// Disarm commits the provisional changes and returns to DISARMED. Arming
// again from EXPIRED starts a new cumulative period.
package failsafe
