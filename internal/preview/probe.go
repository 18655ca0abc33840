package preview

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Reachability is the advisory tri-state for one (drone, hostPort)
// pair. It is UI metadata, refreshed by short connect probes, and is
// never persisted as authoritative state.
type Reachability string

const (
	ReachChecking Reachability = "checking"
	ReachUp       Reachability = "up"
	ReachDown     Reachability = "down"
)

// DefaultProbeTimeout bounds a single connect probe.
const DefaultProbeTimeout = 800 * time.Millisecond

// cronParser uses standard 5-field cron expressions (minute, hour,
// dom, month, dow) for the refresh schedule.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// TargetLister supplies the current probe targets on each refresh.
type TargetLister func(ctx context.Context) ([]Target, error)

// Prober tracks reachability per (drone, hostPort). Unknown pairs read
// as checking until the first probe completes.
type Prober struct {
	timeout time.Duration
	dial    func(addr string, timeout time.Duration) error

	mu    sync.Mutex
	state map[string]Reachability
}

// NewProber returns a Prober with the given per-probe timeout (zero
// means DefaultProbeTimeout).
func NewProber(timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &Prober{
		timeout: timeout,
		dial:    dialTCP,
		state:   map[string]Reachability{},
	}
}

func dialTCP(addr string, timeout time.Duration) error {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return err
	}
	return conn.Close()
}

func key(droneID string, hostPort int) string {
	return fmt.Sprintf("%s:%d", droneID, hostPort)
}

// State returns the current reachability for a (drone, hostPort) pair.
func (p *Prober) State(droneID string, hostPort int) Reachability {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.state[key(droneID, hostPort)]; ok {
		return s
	}
	return ReachChecking
}

// Probe checks one target now and records the result.
func (p *Prober) Probe(ctx context.Context, t Target) Reachability {
	k := key(t.DroneID, t.HostPort)

	p.mu.Lock()
	if _, ok := p.state[k]; !ok {
		p.state[k] = ReachChecking
	}
	p.mu.Unlock()

	result := ReachDown
	if t.HostPort > 0 {
		if err := p.dial(fmt.Sprintf("127.0.0.1:%d", t.HostPort), p.timeout); err == nil {
			result = ReachUp
		}
	}

	p.mu.Lock()
	p.state[k] = result
	p.mu.Unlock()
	return result
}

// Refresh probes every target and drops state for pairs that no longer
// exist.
func (p *Prober) Refresh(ctx context.Context, targets []Target) {
	live := map[string]bool{}
	for _, t := range targets {
		live[key(t.DroneID, t.HostPort)] = true
		p.Probe(ctx, t)
		if ctx.Err() != nil {
			return
		}
	}
	p.mu.Lock()
	for k := range p.state {
		if !live[k] {
			delete(p.state, k)
		}
	}
	p.mu.Unlock()
}

// Run refreshes on the given 5-field cron schedule until ctx is
// cancelled. An unparseable schedule falls back to every minute.
func (p *Prober) Run(ctx context.Context, schedule string, list TargetLister) {
	sched, err := cronParser.Parse(schedule)
	if err != nil {
		log.Printf("preview: parse schedule %q: %v, using every minute", schedule, err)
		sched, _ = cronParser.Parse("* * * * *")
	}

	for {
		next := sched.Next(time.Now())
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(next)):
		}

		targets, err := list(ctx)
		if err != nil {
			log.Printf("preview: list targets: %v", err)
			continue
		}
		p.Refresh(ctx, targets)
	}
}
