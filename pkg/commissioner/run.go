package commissioner

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mash-protocol/commissioner/pkg/commissioning"
)

// run is the orchestrator side of one engine run. It is only touched on
// the loop goroutine, except ctx which the delegated operations watch.
type run struct {
	id      uuid.UUID
	nodeID  commissioning.NodeID
	started time.Time

	ctx    context.Context
	cancel context.CancelFunc

	// stopDiscovery cancels the commissionable browse in flight.
	stopDiscovery context.CancelFunc

	pairing     Pairing
	operational Operational
	node        *commissioning.OperationalNode

	results  chan Result
	finished bool
}

// finish delivers res once.
func (r *run) finish(res Result) {
	if r.finished {
		return
	}
	r.finished = true
	res.RunID = r.id
	res.NodeID = r.nodeID
	if !r.started.IsZero() {
		res.Elapsed = time.Since(r.started)
	}
	r.results <- res
	close(r.results)
}

// end cancels every operation of the run.
func (r *run) end() {
	if r.stopDiscovery != nil {
		r.stopDiscovery()
		r.stopDiscovery = nil
	}
	if r.cancel != nil {
		r.cancel()
	}
}

// commissionee returns the command surface over PASE.
func (r *run) commissionee() Commissionee {
	if r.pairing == nil {
		return nil
	}
	return r.pairing.Commissionee()
}
