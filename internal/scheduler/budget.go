package scheduler

import (
	"sync"
	"time"
)

// Budget tracks an agent's day-bounded spend against a daily cap, both in
// the stablecoin's smallest unit (spec §4.8). When the remaining budget
// drops below PauseThreshold, purchases are suspended for the rest of the
// window; the daily reset rolls spend back to zero independent of the
// heartbeat tick.
type Budget struct {
	mu             sync.Mutex
	dailyCap       int64
	pauseThreshold int64
	spentToday     int64
	windowStart    time.Time
	clock          func() time.Time
}

// NewBudget constructs a Budget with the given daily cap and pause
// threshold, both in smallest units.
func NewBudget(dailyCap, pauseThreshold int64) *Budget {
	return &Budget{
		dailyCap:       dailyCap,
		pauseThreshold: pauseThreshold,
		clock:          time.Now,
		windowStart:    time.Now(),
	}
}

// CanSpend reports whether amount can be authorized without breaching the
// daily cap or dropping the remaining budget below the pause threshold.
func (b *Budget) CanSpend(amount int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.spentToday+amount > b.dailyCap {
		return false
	}
	return b.dailyCap-(b.spentToday+amount) >= b.pauseThreshold
}

// Paused reports whether the remaining budget has already dropped below
// the pause threshold, independent of any specific prospective amount.
func (b *Budget) Paused() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dailyCap-b.spentToday < b.pauseThreshold
}

// Record adds amount to the day's running spend. It does not check the
// daily cap itself; callers gate a purchase with CanSpend before it is
// made, and Record accepts any amount, even one that takes the spend past
// the cap.
func (b *Budget) Record(amount int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.spentToday += amount
}

// Remaining returns the unspent portion of today's cap.
func (b *Budget) Remaining() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dailyCap - b.spentToday
}

// ResetDaily zeroes the day's running spend, invoked by the daily cron
// rollover (see NewDailyResetScheduler), independent of the heartbeat tick.
func (b *Budget) ResetDaily() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.spentToday = 0
	b.windowStart = b.clock()
}
