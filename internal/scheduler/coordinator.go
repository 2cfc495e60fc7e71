package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/karmacadabra/agent/internal/chat"
	"github.com/karmacadabra/agent/internal/marketplace"
)

// peerState is the last-seen advertisement from one peer, read off the
// marketplace channel -- the coordinator's only view into peer activity,
// per spec §4.8 ("reads all peers' advertised state (best-effort)").
type peerState struct {
	lastSeen time.Time
	lastKind chat.Kind
}

// CoordinatorDeps are the components a CoordinatorRunner composes.
type CoordinatorDeps struct {
	Market      *marketplace.Client
	Chat        *chat.Conn
	Broadcaster *chat.Broadcaster
	IdleAfter   time.Duration // a peer with no advertisement in this window is considered idle
	Now         func() time.Time
}

// CoordinatorRunner implements the coordinator role plan of spec §4.8:
// read peers' advertised state best-effort, route idle agents to work by
// re-announcing open demand, and broadcast host health.
type CoordinatorRunner struct {
	deps CoordinatorDeps

	mu    sync.Mutex
	peers map[string]peerState
}

// NewCoordinatorRunner constructs a CoordinatorRunner.
func NewCoordinatorRunner(deps CoordinatorDeps) *CoordinatorRunner {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.IdleAfter == 0 {
		deps.IdleAfter = 30 * time.Minute
	}
	return &CoordinatorRunner{deps: deps, peers: make(map[string]peerState)}
}

func (c *CoordinatorRunner) Tick(ctx context.Context) TickResult {
	var result TickResult

	c.observePeers(&result)
	c.routeIdleWork(ctx, &result)
	c.broadcastHealth(ctx, &result)

	return result
}

// observePeers drains a short burst of chat traffic, best-effort, and
// records each sender's last-seen time and message kind.
func (c *CoordinatorRunner) observePeers(result *TickResult) {
	if c.deps.Chat == nil {
		return
	}
	now := c.deps.Now()
	for i := 0; i < 20; i++ {
		line, err := c.deps.Chat.Recv(context.Background(), 50*time.Millisecond)
		if err != nil {
			break
		}
		c.mu.Lock()
		c.peers[line.Sender] = peerState{lastSeen: now, lastKind: chat.KindOf(line.Text)}
		c.mu.Unlock()
	}
	result.ok("observed peer chat traffic")
}

// routeIdleWork re-announces any unassigned open task as a NEED, giving an
// idle peer (one with no recent advertisement) a fresh chance to notice it.
// This is advisory only: the coordinator cannot assign work to a peer
// directly, only nudge the shared channel.
func (c *CoordinatorRunner) routeIdleWork(ctx context.Context, result *TickResult) {
	if c.deps.Chat == nil {
		return
	}
	if !c.hasIdlePeer() {
		return
	}

	open, err := c.deps.Market.Browse(ctx, marketplace.BrowseFilter{Limit: 10})
	if err != nil {
		result.fail("browse", err)
		return
	}
	for _, t := range open {
		c.deps.Chat.Send("marketplace", chat.FormatNeed(chat.Need{
			Product:     t.Category,
			BudgetUSDC:  float64(t.Bounty) / 1e6,
			ContactHint: "coordinator relay for " + t.TaskID,
		}))
		result.ok("relayed idle-work nudge for " + t.TaskID)
	}
}

func (c *CoordinatorRunner) hasIdlePeer() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.peers) == 0 {
		return false
	}
	now := c.deps.Now()
	for _, p := range c.peers {
		if now.Sub(p.lastSeen) >= c.deps.IdleAfter {
			return true
		}
	}
	return false
}

func (c *CoordinatorRunner) broadcastHealth(ctx context.Context, result *TickResult) {
	if c.deps.Broadcaster == nil {
		return
	}
	if err := c.deps.Broadcaster.BroadcastHealth(ctx); err != nil {
		result.fail("broadcast health", err)
		return
	}
	result.ok("broadcast health sample")
}
