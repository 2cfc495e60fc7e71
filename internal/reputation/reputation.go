// Package reputation implements C5: a read-only composite reputation
// snapshot over three independent layers, refreshed on a cadence
// independent of the heartbeat (spec §4.5).
package reputation

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"
)

// LayerName identifies one of the three composite layers.
type LayerName string

const (
	LayerOnChain       LayerName = "on_chain"
	LayerOffChain      LayerName = "off_chain"
	LayerTransactional LayerName = "transactional"
)

// Layer is one reputation signal: a score, a confidence weight derived
// from that layer's sample size, and an availability flag.
type Layer struct {
	Score      float64 // [0, 100]
	Confidence float64 // [0, 1]
	Available  bool
}

// Tier is a discrete label bucketing the composite score, per spec §4.5's
// five-bucket scale.
type Tier string

const (
	TierWorst     Tier = "worst"      // [0, 25)
	TierLow       Tier = "low"        // [25, 50)
	TierMid       Tier = "mid"        // [50, 75)
	TierHigh      Tier = "high"       // [75, 90)
	TierBest      Tier = "best"       // [90, 100]
)

// Snapshot is the composite reputation of one agent as of its last refresh.
type Snapshot struct {
	Address    string
	OnChain    Layer
	OffChain   Layer
	Transactional Layer
	Composite  float64
	Confidence float64
	Tier       Tier
}

// Composite computes the confidence-weighted mean over available layers,
// per spec §4.5: neutral (50, confidence 0) if none are available.
func Composite(layers ...Layer) (score, confidence float64) {
	var weightedSum, weightTotal float64
	var availableCount int
	for _, l := range layers {
		if !l.Available {
			continue
		}
		weightedSum += l.Score * l.Confidence
		weightTotal += l.Confidence
		availableCount++
	}
	if weightTotal == 0 || availableCount == 0 {
		return 50, 0
	}
	return weightedSum / weightTotal, weightTotal / float64(availableCount)
}

// BucketTier maps a composite score onto its reputation tier.
func BucketTier(composite float64) Tier {
	switch {
	case composite < 25:
		return TierWorst
	case composite < 50:
		return TierLow
	case composite < 75:
		return TierMid
	case composite < 90:
		return TierHigh
	default:
		return TierBest
	}
}

// Source resolves the three raw layers for one address. Implementations
// query the identity/reputation registries, chat activity, and marketplace
// completion history respectively.
type Source interface {
	OnChainLayer(ctx context.Context, address string) (Layer, error)
	OffChainLayer(ctx context.Context, address string) (Layer, error)
	TransactionalLayer(ctx context.Context, address string) (Layer, error)
}

// Cache holds the most recently refreshed snapshot per address, safe for
// concurrent reads from the scheduler and writes from the refresh cadence.
type Cache struct {
	mu        sync.RWMutex
	snapshots map[string]Snapshot
	source    Source
}

// NewCache constructs an empty Cache backed by source.
func NewCache(source Source) *Cache {
	return &Cache{snapshots: make(map[string]Snapshot), source: source}
}

// Get returns the most recent snapshot for address, if one has been
// computed by a refresh cycle.
func (c *Cache) Get(address string) (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.snapshots[address]
	return s, ok
}

// Refresh recomputes the snapshot for address and stores it.
func (c *Cache) Refresh(ctx context.Context, address string) (Snapshot, error) {
	onChain, err := c.source.OnChainLayer(ctx, address)
	if err != nil {
		onChain = Layer{}
	}
	offChain, err := c.source.OffChainLayer(ctx, address)
	if err != nil {
		offChain = Layer{}
	}
	transactional, err := c.source.TransactionalLayer(ctx, address)
	if err != nil {
		transactional = Layer{}
	}

	composite, confidence := Composite(onChain, offChain, transactional)
	snapshot := Snapshot{
		Address:       address,
		OnChain:       onChain,
		OffChain:      offChain,
		Transactional: transactional,
		Composite:     composite,
		Confidence:    confidence,
		Tier:          BucketTier(composite),
	}

	c.mu.Lock()
	c.snapshots[address] = snapshot
	c.mu.Unlock()
	return snapshot, nil
}

// Scheduler drives Cache.Refresh on a cron cadence independent of the
// agent's heartbeat scheduler, per spec §4.5.
type Scheduler struct {
	cron      *cron.Cron
	cache     *Cache
	addresses func() []string
}

// NewScheduler constructs a Scheduler that refreshes every address returned
// by addresses() according to spec, using the standard 5-field cron syntax.
func NewScheduler(cache *Cache, schedule string, addresses func() []string) (*Scheduler, error) {
	c := cron.New()
	s := &Scheduler{cron: c, cache: cache, addresses: addresses}
	_, err := c.AddFunc(schedule, s.refreshAll)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) refreshAll() {
	ctx := context.Background()
	for _, addr := range s.addresses() {
		_, _ = s.cache.Refresh(ctx, addr)
	}
}

// Start begins the cron schedule.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the cron schedule, waiting for any in-flight refresh to finish.
func (s *Scheduler) Stop() { <-s.cron.Stop().Done() }
