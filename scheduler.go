package vscheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/zbysir/vscheduler/internal/store"
)

type Options struct {
	Config Config

	// Store wins over RedisClient, which wins over RedisURL ("redis://<user>:<pass>@localhost:6379/<db>").
	Store       store.Store
	RedisClient redis.UniversalClient
	RedisURL    string

	Backend Backend
	Measure Measure
	Journal Journal
	Logger  *zerolog.Logger
	// Now is used by Schedule, time.Now when nil.
	Now func() time.Time
}

// Scheduler is the entry point application code uses: Schedule to add tasks, Run on a cadence to dispatch them.
// It keeps no state between calls, every process can own one.
type Scheduler struct {
	cfg        Config
	gate       *TriggerGate
	lock       *SweepLock
	tasks      *DelayedTaskStore
	dispatcher *Dispatcher
	measure    Measure
	log        zerolog.Logger
	now        func() time.Time
}

func New(opt Options) (*Scheduler, error) {
	cfg := opt.Config.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opt.Backend == nil {
		return nil, errors.New("backend is required")
	}

	st := opt.Store
	if st == nil {
		client := opt.RedisClient
		if client == nil {
			ro, err := redis.ParseURL(opt.RedisURL)
			if err != nil {
				return nil, fmt.Errorf("parse redis url: %w", err)
			}
			client = redis.NewClient(ro)
		}
		st = store.NewRedisStore(client)
	}
	st = store.NewWithPrefix(cfg.KeyPrefix, st)

	log := zlog.Logger
	if opt.Logger != nil {
		log = *opt.Logger
	}
	log = log.With().Str("component", "vscheduler").Logger()

	measure := opt.Measure
	if measure == nil {
		measure = nopMeasure{}
	}
	now := opt.Now
	if now == nil {
		now = time.Now
	}

	tasks := NewDelayedTaskStore(st, cfg)
	return &Scheduler{
		cfg:        cfg,
		gate:       NewTriggerGate(st, cfg, log),
		lock:       NewSweepLock(st, cfg),
		tasks:      tasks,
		dispatcher: NewDispatcher(tasks, opt.Backend, cfg, measure, opt.Journal, log),
		measure:    measure,
		log:        log,
		now:        now,
	}, nil
}

func (s *Scheduler) Config() Config {
	return s.cfg
}

// Schedule runs methodName on (targetType, targetID) once delay has passed.
// Due times have second precision; scheduling an identical task for the same second stores it once.
func (s *Scheduler) Schedule(ctx context.Context, delay time.Duration, targetType, methodName, targetID string) (Task, error) {
	return s.ScheduleAt(ctx, s.now().Add(delay), targetType, methodName, targetID)
}

func (s *Scheduler) ScheduleAt(ctx context.Context, at time.Time, targetType, methodName, targetID string) (Task, error) {
	t := Task{
		DueAt:      at.Unix(),
		TargetType: targetType,
		MethodName: methodName,
		TargetID:   targetID,
	}
	if err := s.tasks.Schedule(ctx, t); err != nil {
		return t, err
	}

	s.measure.OnSchedule(t)
	s.log.Debug().Str("key", t.Key()).Msg("task scheduled")
	return t, nil
}

// Run performs one sweep if the gate admits it and the lock is free, and returns immediately otherwise.
// Not sweeping is not an error; only store failures are returned.
func (s *Scheduler) Run(ctx context.Context, now time.Time) (sweep Sweep, err error) {
	sweep.At = now
	start := time.Now()
	defer func() {
		s.measure.OnSweep(sweep, time.Since(start))
	}()

	admitted, err := s.gate.TryAdmit(ctx, now)
	if err != nil {
		return sweep, fmt.Errorf("trigger gate: %w", err)
	}
	if !admitted {
		return sweep, nil
	}
	sweep.Admitted = true

	lease, err := s.lock.TryAcquire(ctx, now)
	if err != nil {
		return sweep, err
	}
	if lease == nil {
		s.log.Debug().Msg("sweep lock busy")
		return sweep, nil
	}
	sweep.Acquired = true

	defer func() {
		// release even when ctx was cancelled mid-sweep
		if rerr := lease.Release(context.WithoutCancel(ctx)); rerr != nil {
			s.log.Error().Err(rerr).Msg("release sweep lock")
			if err == nil {
				err = rerr
			}
		}
	}()

	sweep, err = s.dispatcher.RunSweep(ctx, now, lease)
	if sweep.Due > 0 {
		s.log.Info().
			Int("due", sweep.Due).
			Int("dispatched", sweep.Dispatched).
			Int("failed", sweep.Failed).
			Int("dropped", sweep.Dropped).
			Int("malformed", sweep.Malformed).
			Msg("sweep done")
	}
	return sweep, err
}

// Pending lists every stored entry, earliest first.
func (s *Scheduler) Pending(ctx context.Context) ([]DueEntry, error) {
	return s.tasks.Pending(ctx)
}

// LockHolder reports who holds the sweep lock, if anyone.
func (s *Scheduler) LockHolder(ctx context.Context) (at time.Time, owner string, held bool, err error) {
	return s.lock.Holder(ctx)
}
