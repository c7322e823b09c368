package cadence

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/zbysir/vscheduler"
)

// Runner is satisfied by *vscheduler.Scheduler.
type Runner interface {
	Run(ctx context.Context, now time.Time) (vscheduler.Sweep, error)
}

// Ticker calls Run on a fixed cadence. Every process may run one; the gate and the lock keep sweeps apart.
type Ticker struct {
	runner Runner
	every  time.Duration
	log    zerolog.Logger
	jobs   []job
}

type job struct {
	name  string
	every time.Duration
	fn    func(ctx context.Context) error
}

// New returns a ticker firing every d. cron schedules have second resolution, shorter intervals run every second.
func New(r Runner, d time.Duration, log zerolog.Logger) *Ticker {
	return &Ticker{
		runner: r,
		every:  d,
		log:    log.With().Str("component", "cadence").Logger(),
	}
}

func (t *Ticker) tick(ctx context.Context) {
	sweep, err := t.runner.Run(ctx, time.Now())
	if err != nil {
		t.log.Error().Err(err).Msg("run")
		return
	}
	if sweep.Acquired {
		t.log.Debug().Int("due", sweep.Due).Int("dispatched", sweep.Dispatched).Msg("tick")
	}
}

// Add runs fn every d next to the sweeps, e.g. housekeeping. Must be called before Start.
func (t *Ticker) Add(name string, d time.Duration, fn func(ctx context.Context) error) {
	t.jobs = append(t.jobs, job{name: name, every: d, fn: fn})
}

func (t *Ticker) runJob(ctx context.Context, j job) {
	if err := j.fn(ctx); err != nil {
		t.log.Error().Err(err).Str("job", j.name).Msg("job failed")
	}
}

// Start blocks until ctx is done, then waits for a running tick to finish.
func (t *Ticker) Start(ctx context.Context) error {
	c := cron.New(cron.WithChain(
		cron.Recover(cronLogger{t.log}),
		cron.SkipIfStillRunning(cronLogger{t.log}),
	))
	c.Schedule(cron.Every(t.every), cron.FuncJob(func() {
		t.tick(ctx)
	}))
	for _, j := range t.jobs {
		j := j
		c.Schedule(cron.Every(j.every), cron.FuncJob(func() {
			t.runJob(ctx, j)
		}))
	}
	c.Start()
	t.log.Info().Dur("every", t.every).Msg("ticker started")

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
