package commissioning

import (
	"context"
	"time"
)

// Scheduler is the timer facility the engine uses for its single deadline.
// At most one timer is outstanding at a time.
type Scheduler interface {
	// StartTimer calls fire once after d. It returns an error when no timer
	// can be started.
	StartTimer(d time.Duration, fire func()) error

	// CancelTimer stops the outstanding timer, if any.
	CancelTimer()
}

// IssueRequest asks the issuer for a node operational certificate.
type IssueRequest struct {
	CSR              []byte
	FabricID         FabricID
	NodeID           NodeID
	CaseAdminSubject uint64
	AdminVendorID    uint16
}

// Issuer signs operational credentials for a commissionee.
type Issuer interface {
	Issue(ctx context.Context, req IssueRequest) (Credentials, error)
}

// PairingSession is an established PASE session.
type PairingSession interface {
	// AttestationChallenge returns the challenge derived from the session
	// keys, used to bind attestation and CSR signatures to this session.
	AttestationChallenge() []byte

	Close() error
}

// OperationalSession is an established CASE session.
type OperationalSession interface {
	// PeerNodeID returns the node id proven by the peer certificate.
	PeerNodeID() NodeID

	Close() error
}

// Controller receives a commissioned node.
type Controller interface {
	// Adopt takes ownership of session. On error ownership stays with the
	// engine.
	Adopt(node *OperationalNode, session OperationalSession) error
}

// Recorder receives engine counters. pkg/metrics provides a Prometheus
// implementation.
type Recorder interface {
	Transition(from, to StateKind)
	Dropped(state StateKind, event EventKind)
	Completed(terminal StateKind, elapsed time.Duration)
}

type noopRecorder struct{}

func (noopRecorder) Transition(StateKind, StateKind)    {}
func (noopRecorder) Dropped(StateKind, EventKind)       {}
func (noopRecorder) Completed(StateKind, time.Duration) {}
