//go:generate mockgen -source ${GOFILE} -destination mock/backend.go -package mock -mock_names "Backend=Backend"
package vscheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Backend is the at-least-once work queue that eventually invokes methodName on (targetType, targetID).
type Backend interface {
	Enqueue(ctx context.Context, targetType, methodName, targetID string) error
}

type BackendFunc func(ctx context.Context, targetType, methodName, targetID string) error

func (f BackendFunc) Enqueue(ctx context.Context, targetType, methodName, targetID string) error {
	return f(ctx, targetType, methodName, targetID)
}

// Sweep describes one Run.
type Sweep struct {
	At       time.Time `json:"at"`
	Admitted bool      `json:"admitted"`
	Acquired bool      `json:"acquired"`

	Due        int `json:"due"`
	Dispatched int `json:"dispatched"`
	Failed     int `json:"failed"`
	Dropped    int `json:"dropped"`
	Malformed  int `json:"malformed"`
}

// Dispatcher hands due entries to the backend and removes the ones it handed off.
// It does not own the lock: the caller acquires it before RunSweep and releases it after.
type Dispatcher struct {
	tasks   *DelayedTaskStore
	backend Backend
	policy  Policy
	timeout time.Duration
	measure Measure
	journal Journal
	log     zerolog.Logger
}

func NewDispatcher(tasks *DelayedTaskStore, backend Backend, cfg Config, measure Measure, journal Journal, log zerolog.Logger) *Dispatcher {
	cfg = cfg.withDefaults()
	if measure == nil {
		measure = nopMeasure{}
	}
	if journal == nil {
		journal = nopJournal{}
	}
	return &Dispatcher{
		tasks:   tasks,
		backend: backend,
		policy:  cfg.Policy,
		timeout: cfg.EnqueueTimeout,
		measure: measure,
		journal: journal,
		log:     log,
	}
}

// RunSweep dispatches every entry due at now, one at a time in due order.
//
// Malformed entries are logged and left in place. When lease is not nil it is checked before each hand-off,
// and the sweep stops with ErrLockLost once another process owns the lock.
// Store errors abort the sweep; backend errors are handled by the configured Policy.
func (d *Dispatcher) RunSweep(ctx context.Context, now time.Time, lease *Lease) (Sweep, error) {
	sweep := Sweep{At: now, Admitted: true, Acquired: true}

	entries, err := d.tasks.PopDue(ctx, now)
	if err != nil {
		return sweep, err
	}
	sweep.Due = len(entries)

	for _, e := range entries {
		if e.Err != nil {
			sweep.Malformed++
			d.log.Error().Err(e.Err).Str("key", e.Key).Int64("score", e.Score).Msg("skip malformed entry")
			d.record(ctx, e, OutcomeMalformed, e.Err, now)
			continue
		}

		if lease != nil {
			held, err := lease.Held(ctx)
			if err != nil {
				return sweep, err
			}
			if !held {
				d.log.Warn().Str("owner", lease.Owner).Msg("sweep lock lost, stop dispatching")
				return sweep, ErrLockLost
			}
		}

		enqueueErr := d.enqueue(ctx, e.Task)
		if enqueueErr == nil {
			if err := d.tasks.Remove(ctx, e.Key); err != nil {
				return sweep, err
			}
			sweep.Dispatched++
			d.record(ctx, e, OutcomeDispatched, nil, now)
			continue
		}

		sweep.Failed++
		if d.policy == Drop {
			if err := d.tasks.Remove(ctx, e.Key); err != nil {
				return sweep, err
			}
			sweep.Dropped++
			d.log.Error().Err(enqueueErr).Str("key", e.Key).Msg("enqueue failed, entry dropped")
			d.record(ctx, e, OutcomeDropped, enqueueErr, now)
			continue
		}

		d.log.Warn().Err(enqueueErr).Str("key", e.Key).Msg("enqueue failed, entry kept for next sweep")
		d.record(ctx, e, OutcomeFailed, enqueueErr, now)
	}

	return sweep, nil
}

func (d *Dispatcher) enqueue(ctx context.Context, t Task) error {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	err := d.backend.Enqueue(ctx, t.TargetType, t.MethodName, t.TargetID)
	if err != nil {
		return &BackendError{Task: t, Err: err}
	}
	return nil
}

func (d *Dispatcher) record(ctx context.Context, e DueEntry, o Outcome, cause error, now time.Time) {
	if o != OutcomeMalformed {
		d.measure.OnDispatch(e.Task, o)
	}

	je := JournalEntry{Key: e.Key, Task: e.Task, Outcome: o, At: now}
	if cause != nil {
		je.Error = cause.Error()
	}
	if err := d.journal.Record(ctx, je); err != nil {
		d.log.Warn().Err(err).Str("key", e.Key).Msg("journal record failed")
	}
}
