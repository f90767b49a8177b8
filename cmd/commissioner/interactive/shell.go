// Package interactive provides the interactive command-line interface
// for the commissioner.
package interactive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/chzyer/readline"

	"github.com/mash-protocol/commissioner/pkg/cert"
	"github.com/mash-protocol/commissioner/pkg/commissioner"
	"github.com/mash-protocol/commissioner/pkg/commissioning"
	"github.com/mash-protocol/commissioner/pkg/discovery"
)

// Commissioner is the part of *commissioner.Commissioner the shell drives.
type Commissioner interface {
	Commission(ctx context.Context, code string) (<-chan commissioner.Result, error)
	Shutdown(ctx context.Context) error
	Grab(ctx context.Context, ctrl commissioning.Controller) error
	State(ctx context.Context) (commissioning.State, error)
	Dropped(ctx context.Context) (uint64, error)
}

// NodeLister lists commissioned nodes.
type NodeLister interface {
	Nodes() ([]*cert.CommissionedNode, error)
}

// Shell handles interactive mode for the commissioner.
type Shell struct {
	c     Commissioner
	nodes NodeLister
	rl    *readline.Instance
	out   io.Writer

	mu      sync.Mutex
	grabbed *grabbed
}

type grabbed struct {
	node    *commissioning.OperationalNode
	session commissioning.OperationalSession
}

// Adopt implements commissioning.Controller. The previously grabbed
// session, if any, is closed.
func (s *Shell) Adopt(node *commissioning.OperationalNode, session commissioning.OperationalSession) error {
	s.mu.Lock()
	prev := s.grabbed
	s.grabbed = &grabbed{node: node, session: session}
	s.mu.Unlock()
	if prev != nil {
		_ = prev.session.Close()
	}
	return nil
}

// New creates a shell reading from the terminal.
func New(c Commissioner, nodes NodeLister) (*Shell, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "commissioner> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Shell{c: c, nodes: nodes, rl: rl, out: rl.Stdout()}, nil
}

// Stdout returns a writer that coordinates with the readline input.
func (s *Shell) Stdout() io.Writer {
	return s.out
}

// Close releases the terminal and any grabbed session.
func (s *Shell) Close() {
	if s.rl != nil {
		_ = s.rl.Close()
	}
	s.mu.Lock()
	g := s.grabbed
	s.grabbed = nil
	s.mu.Unlock()
	if g != nil {
		_ = g.session.Close()
	}
}

// Run starts the interactive command loop.
func (s *Shell) Run(ctx context.Context, cancel context.CancelFunc) {
	s.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := s.rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			fmt.Fprintln(s.out, "Exiting...")
			cancel()
			return
		}

		if !s.Exec(ctx, line) {
			cancel()
			return
		}
	}
}

// Exec runs one command line. It returns false when the shell should exit.
func (s *Shell) Exec(ctx context.Context, line string) bool {
	parts := strings.Fields(strings.TrimSpace(line))
	if len(parts) == 0 {
		return true
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		s.printHelp()
	case "commission", "c":
		s.cmdCommission(ctx, args)
	case "status", "s":
		s.cmdStatus(ctx)
	case "shutdown":
		s.cmdShutdown(ctx)
	case "grab":
		s.cmdGrab(ctx)
	case "nodes", "ls":
		s.cmdNodes()
	case "quit", "exit", "q":
		fmt.Fprintln(s.out, "Exiting...")
		return false
	default:
		fmt.Fprintf(s.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return true
}

func (s *Shell) printHelp() {
	fmt.Fprintln(s.out, `
Commissioner Commands:
    commission <code>  - Commission a device from its QR or manual code
    status             - Show the engine state
    shutdown           - Abort the current run
    grab               - Take the last commissioned node
    nodes              - List commissioned nodes
    help               - Show this help
    quit               - Exit`)
}

func (s *Shell) cmdCommission(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(s.out, "Usage: commission <code>")
		return
	}
	results, err := s.c.Commission(ctx, args[0])
	if err != nil {
		fmt.Fprintf(s.out, "Cannot start: %v\n", err)
		return
	}
	fmt.Fprintln(s.out, "Commissioning started")

	go func() {
		res := <-results
		if res.Err != nil {
			fmt.Fprintf(s.out, "Run %s failed after %s: %v\n", res.RunID, res.Elapsed.Round(time.Millisecond), res.Err)
			return
		}
		fmt.Fprintf(s.out, "Run %s commissioned node %s in %s\n", res.RunID, res.NodeID, res.Elapsed.Round(time.Millisecond))
		if res.Node != nil {
			fmt.Fprintf(s.out, "  Instance: %s\n", discovery.OperationalInstanceName(res.Node.PeerID))
		}
	}()
}

func (s *Shell) cmdStatus(ctx context.Context) {
	state, err := s.c.State(ctx)
	if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return
	}
	dropped, err := s.c.Dropped(ctx)
	if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(s.out, "State:   %s\n", state.Kind())
	fmt.Fprintf(s.out, "Dropped: %d\n", dropped)

	s.mu.Lock()
	g := s.grabbed
	s.mu.Unlock()
	if g != nil {
		fmt.Fprintf(s.out, "Grabbed: %s\n", g.node.PeerID)
	}
}

func (s *Shell) cmdShutdown(ctx context.Context) {
	if err := s.c.Shutdown(ctx); err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintln(s.out, "Shutdown requested")
}

func (s *Shell) cmdGrab(ctx context.Context) {
	if err := s.c.Grab(ctx, s); err != nil {
		fmt.Fprintf(s.out, "Cannot grab: %v\n", err)
		return
	}
	s.mu.Lock()
	g := s.grabbed
	s.mu.Unlock()
	fmt.Fprintf(s.out, "Grabbed node %s\n", g.node.PeerID)
	for _, ip := range g.node.Addresses {
		fmt.Fprintf(s.out, "  Address: %s port %d\n", ip, g.node.Port)
	}
}

func (s *Shell) cmdNodes() {
	if s.nodes == nil {
		fmt.Fprintln(s.out, "No node store")
		return
	}
	nodes, err := s.nodes.Nodes()
	if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return
	}
	if len(nodes) == 0 {
		fmt.Fprintln(s.out, "No commissioned nodes")
		return
	}
	fmt.Fprintf(s.out, "%-18s %-8s %-8s %-24s %s\n", "NODE", "VENDOR", "PRODUCT", "ADDRESS", "COMMISSIONED")
	for _, n := range nodes {
		fmt.Fprintf(s.out, "%-18s %-8s %-8s %-24s %s\n",
			n.NodeIDHex,
			fmt.Sprintf("0x%04X", n.VendorID),
			fmt.Sprintf("0x%04X", n.ProductID),
			n.Address,
			n.CommissionedAt.Format(time.RFC3339))
	}
}
