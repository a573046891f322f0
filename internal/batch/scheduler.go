package batch

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseCron parses a five-field cron expression
func ParseCron(expr string) (cron.Schedule, error) {
	return cronParser.Parse(expr)
}

// Sweeper fires on a cron schedule so that inbox files missed by the
// filesystem watcher are still picked up
type Sweeper struct {
	expr     string
	schedule cron.Schedule
}

// NewSweeper creates a Sweeper for expr
func NewSweeper(expr string) (*Sweeper, error) {
	sched, err := ParseCron(expr)
	if err != nil {
		return nil, err
	}
	return &Sweeper{expr: expr, schedule: sched}, nil
}

// Expr returns the cron expression
func (s *Sweeper) Expr() string {
	return s.expr
}

// NextRun returns the first sweep after t
func (s *Sweeper) NextRun(t time.Time) time.Time {
	return s.schedule.Next(t)
}

// Run calls fn on every tick until ctx is done. fn runs on the cron
// goroutine and must not block for long.
func (s *Sweeper) Run(ctx context.Context, fn func()) error {
	c := cron.New(cron.WithParser(cronParser))
	c.Schedule(s.schedule, cron.FuncJob(fn))
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
