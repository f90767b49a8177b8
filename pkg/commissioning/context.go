package commissioning

import (
	"time"

	"github.com/google/uuid"

	"github.com/mash-protocol/commissioner/pkg/payload"
)

// Collaborators are the services the engine hands to a run.
type Collaborators struct {
	// Issuer signs operational credentials. May be nil when the caller
	// delivers OperationalCredentials itself.
	Issuer Issuer

	// Scheduler provides the discovery deadline. Without one, every run
	// fails when it tries to arm the deadline.
	Scheduler Scheduler
}

// Context is the commissioning context: configuration set by Init plus the
// artifacts of the current run. The factory is its only writer.
type Context struct {
	Identity      Identity
	Network       NetworkCredentials
	Collaborators Collaborators

	Run Run
}

// Run holds the artifacts collected during one commissioning run. It is
// reset when the engine returns to Idle.
type Run struct {
	ID      uuid.UUID
	Started time.Time

	Payload        *payload.Payload
	Commissionable *NodeRecord

	// Pairing is the PASE session. Owned by the engine until the run ends.
	Pairing PairingSession

	Attestation Attestation
	Nocsr       Nocsr
	Credentials Credentials
	FeatureMap  FeatureMap
	NetworkID   []byte

	// Operational and Session are captured on CaseComplete. Session is
	// owned by the engine until GrabCommissionee transfers it.
	Operational *OperationalNode
	Session     OperationalSession
}

// Active reports whether a run has been started.
func (r *Run) Active() bool {
	return r.ID != uuid.Nil
}
