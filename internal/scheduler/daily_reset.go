package scheduler

import "github.com/robfig/cron/v3"

// DailyResetScheduler rolls a Budget's spent-today counter back to zero at
// midnight, independent of the heartbeat tick cadence (spec §4.8).
type DailyResetScheduler struct {
	cron   *cron.Cron
	budget *Budget
}

// NewDailyResetScheduler wires budget's daily reset to the standard
// midnight cron entry.
func NewDailyResetScheduler(budget *Budget) (*DailyResetScheduler, error) {
	c := cron.New()
	s := &DailyResetScheduler{cron: c, budget: budget}
	if _, err := c.AddFunc("0 0 * * *", budget.ResetDaily); err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins the cron schedule.
func (s *DailyResetScheduler) Start() { s.cron.Start() }

// Stop halts the cron schedule.
func (s *DailyResetScheduler) Stop() { <-s.cron.Stop().Done() }
