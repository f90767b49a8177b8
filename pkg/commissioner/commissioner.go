package commissioner

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mash-protocol/commissioner/pkg/cert"
	"github.com/mash-protocol/commissioner/pkg/commissioning"
	"github.com/mash-protocol/commissioner/pkg/payload"
	"github.com/mash-protocol/commissioner/pkg/timer"
)

// maxOperationalNodeID is the largest node id usable for an operational
// node.
const maxOperationalNodeID = 0xFFFFFFEFFFFFFFFF

// Result is the outcome of one commissioning run.
type Result struct {
	RunID  uuid.UUID
	NodeID commissioning.NodeID

	// Node is the operational address of the commissioned node. Nil on
	// failure.
	Node *commissioning.OperationalNode

	// Err is nil on success. A run ended by Shutdown reports
	// commissioning.ErrShutdown.
	Err error

	Elapsed time.Duration
}

// Commissioner runs commissioning sessions one at a time.
type Commissioner struct {
	config Config
	deps   Deps
	logger *slog.Logger

	engine *commissioning.Engine
	loop   *commissioning.Loop

	running atomic.Bool

	// Owned by the loop goroutine.
	base    context.Context
	pending *run
	current *run
}

// New creates a Commissioner. Run must be called before Commission.
func New(config Config, deps Deps) (*Commissioner, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if deps.Scheduler == nil {
		deps.Scheduler = timer.New()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	engine := commissioning.NewEngine(commissioning.EngineConfig{
		Logger:         logger,
		ProtocolLogger: config.ProtocolLogger,
		Recorder:       config.Recorder,
	})

	c := &Commissioner{
		config: config,
		deps:   deps,
		logger: logger,
		engine: engine,
		loop:   commissioning.NewLoop(engine),
		base:   context.Background(),
	}
	engine.OnTransition(c.onTransition)
	return c, nil
}

// Run processes commissioning work until ctx is cancelled. Cancelling ctx
// also abandons the current run.
func (c *Commissioner) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return commissioning.ErrLoopRunning
	}
	c.base = ctx
	err := c.loop.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Commission starts a run from a QR or manual pairing code. The returned
// channel receives exactly one Result.
func (c *Commissioner) Commission(ctx context.Context, code string) (<-chan Result, error) {
	return c.start(ctx, commissioning.OnboardingPayload{Code: code})
}

// CommissionPayload starts a run from a decoded payload.
func (c *Commissioner) CommissionPayload(ctx context.Context, p *payload.Payload) (<-chan Result, error) {
	return c.start(ctx, commissioning.ParsedPayload{Payload: p})
}

func (c *Commissioner) start(ctx context.Context, ev commissioning.Event) (<-chan Result, error) {
	results := make(chan Result, 1)
	var startErr error
	err := c.loop.Do(ctx, func(e *commissioning.Engine) {
		startErr = c.begin(e, ev, results)
	})
	if err != nil {
		return nil, err
	}
	if startErr != nil {
		return nil, startErr
	}
	return results, nil
}

// begin runs on the loop goroutine. A finished run is cleared first so a
// new one can start.
func (c *Commissioner) begin(e *commissioning.Engine, ev commissioning.Event, results chan Result) error {
	if commissioning.Terminal(e.State()) {
		e.Shutdown()
	}
	if e.State().Kind() != commissioning.KindIdle {
		return fmt.Errorf("%w: run in progress (%s)", commissioning.ErrIncorrectState, e.State().Kind())
	}

	nodeID := c.config.NodeID
	if nodeID == 0 {
		var err error
		if nodeID, err = randomNodeID(); err != nil {
			return err
		}
	}
	identity := commissioning.Identity{
		FabricIndex:        c.config.FabricIndex,
		FabricID:           c.config.FabricID,
		CompressedFabricID: c.config.CompressedFabricID,
		NodeID:             nodeID,
		AdminVendorID:      c.config.AdminVendorID,
		CaseAdminSubject:   c.config.AdminNodeID,
		DiscoveryTimeout:   c.config.DiscoveryTimeout,
		FailSafeExpiry:     c.config.FailSafeExpiry,
	}
	collaborators := commissioning.Collaborators{
		Issuer:    c.deps.Issuer,
		Scheduler: c.deps.Scheduler,
	}
	if err := e.Init(collaborators, identity, c.config.Network); err != nil {
		return err
	}

	r := &run{nodeID: nodeID, results: results}
	c.pending = r
	defer func() { c.pending = nil }()

	err := e.Commission(ev,
		func() { c.succeed(r) },
		func(err error) { r.finish(Result{Err: err}) },
	)
	if err != nil {
		return err
	}
	return nil
}

// Shutdown ends the current run without a success or failure callback. Its
// Result reports commissioning.ErrShutdown.
func (c *Commissioner) Shutdown(ctx context.Context) error {
	return c.loop.Do(ctx, func(e *commissioning.Engine) {
		e.Shutdown()
	})
}

// Grab hands the operational session of the last completed run to ctrl.
func (c *Commissioner) Grab(ctx context.Context, ctrl commissioning.Controller) error {
	var grabErr error
	if err := c.loop.Do(ctx, func(e *commissioning.Engine) {
		grabErr = e.GrabCommissionee(ctrl)
	}); err != nil {
		return err
	}
	return grabErr
}

// State returns the current engine state.
func (c *Commissioner) State(ctx context.Context) (commissioning.State, error) {
	var s commissioning.State
	if err := c.loop.Do(ctx, func(e *commissioning.Engine) {
		s = e.State()
	}); err != nil {
		return nil, err
	}
	return s, nil
}

// Dropped returns how many events the engine ignored.
func (c *Commissioner) Dropped(ctx context.Context) (uint64, error) {
	var n uint64
	if err := c.loop.Do(ctx, func(e *commissioning.Engine) {
		n = e.Dropped()
	}); err != nil {
		return 0, err
	}
	return n, nil
}

// succeed runs on the loop goroutine after CommissioningComplete.
func (c *Commissioner) succeed(r *run) {
	r.finish(Result{Node: r.node})
}

// record stores the commissioned node when a store is configured.
func (c *Commissioner) record(e *commissioning.Engine, node *commissioning.OperationalNode) {
	if c.deps.Store == nil || node == nil {
		return
	}
	ctx := e.Context()
	entry := &cert.CommissionedNode{
		NodeID:         uint64(node.PeerID.NodeID),
		NodeIDHex:      node.PeerID.NodeID.String(),
		FabricIDHex:    ctx.Identity.FabricID.String(),
		Address:        node.Address(),
		CommissionedAt: time.Now(),
	}
	if rec := ctx.Run.Commissionable; rec != nil {
		entry.InstanceName = rec.InstanceName
		entry.VendorID = rec.VendorID
		entry.ProductID = rec.ProductID
	}
	if err := c.deps.Store.AddNode(entry); err != nil {
		c.logger.Warn("cannot record commissioned node", "node", node.PeerID.NodeID, "error", err)
	}
}

// post delivers ev to the engine if r is still the current run.
func (c *Commissioner) post(r *run, ev commissioning.Event) {
	c.submit(r, func(e *commissioning.Engine) { e.Dispatch(ev) }, nil)
}

// submit runs fn on the loop goroutine if r is still the current run.
// Otherwise discard is called, if set.
func (c *Commissioner) submit(r *run, fn func(*commissioning.Engine), discard func()) {
	ok := c.loop.Submit(func(e *commissioning.Engine) {
		if e.Context().Run.ID != r.id {
			c.logger.Debug("discarding result of ended run", "run", r.id)
			if discard != nil {
				discard()
			}
			return
		}
		fn(e)
	})
	if !ok && discard != nil {
		discard()
	}
}

// postPairing delivers an established PASE session. The session is closed
// if the engine did not take it.
func (c *Commissioner) postPairing(r *run, p Pairing) {
	release := func() { _ = p.Close() }
	c.submit(r, func(e *commissioning.Engine) {
		e.Dispatch(commissioning.Success{Artifact: commissioning.Paired{Session: p}})
		if e.Context().Run.Pairing != commissioning.PairingSession(p) {
			release()
		}
	}, release)
}

// postOperational delivers an established CASE session. The session is
// closed if the engine did not take it.
func (c *Commissioner) postOperational(r *run, op Operational) {
	release := func() { _ = op.Close() }
	c.submit(r, func(e *commissioning.Engine) {
		e.Dispatch(commissioning.Success{Artifact: commissioning.Established{Session: op}})
		if e.Context().Run.Session != commissioning.OperationalSession(op) {
			release()
		}
	}, release)
}

// postBusy reports a busy commissionee. While PASE is still within the
// deadline the search is repeated. Once the deadline has passed the run
// fails.
func (c *Commissioner) postBusy(r *run, cause error) {
	c.submit(r, func(e *commissioning.Engine) {
		if e.State().Kind() == commissioning.KindFinishingPase {
			e.Dispatch(commissioning.Failure{Err: fmt.Errorf("%w: %w", commissioning.ErrDiscoveryTimeout, cause)})
			return
		}
		e.Dispatch(commissioning.Await{})
	}, nil)
}

// randomNodeID returns a random operational node id.
func randomNodeID() (commissioning.NodeID, error) {
	var b [8]byte
	for {
		if _, err := rand.Read(b[:]); err != nil {
			return 0, fmt.Errorf("generate node id: %w", err)
		}
		id := binary.BigEndian.Uint64(b[:])
		if id != 0 && id <= maxOperationalNodeID {
			return commissioning.NodeID(id), nil
		}
	}
}
