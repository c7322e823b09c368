package vscheduler

import (
	"context"
	"math"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cast"
	"golang.org/x/time/rate"

	"github.com/zbysir/vscheduler/internal/store"
)

// TriggerGate throttles sweeps to one per interval across all processes, using a shared "last checked" timestamp.
//
// Reading and rewriting the timestamp is not atomic: callers racing in the same instant may all be admitted.
// The gate only saves work, SweepLock is what keeps sweeps exclusive.
type TriggerGate struct {
	store    store.Store
	key      string
	interval time.Duration
	local    *rate.Limiter
	log      zerolog.Logger
}

func NewTriggerGate(s store.Store, cfg Config, log zerolog.Logger) *TriggerGate {
	cfg = cfg.withDefaults()
	g := &TriggerGate{
		store:    s,
		key:      cfg.TimerKey,
		interval: cfg.Interval,
		log:      log,
	}
	if cfg.LocalInterval > 0 {
		g.local = rate.NewLimiter(rate.Every(cfg.LocalInterval), 1)
	}
	return g
}

// TryAdmit reports whether a sweep should run at now.
// The first call ever only primes the timer and is not admitted.
func (g *TriggerGate) TryAdmit(ctx context.Context, now time.Time) (bool, error) {
	if g.local != nil && !g.local.AllowN(now, 1) {
		return false, nil
	}

	v, exist, err := g.store.Get(ctx, g.key)
	if err != nil {
		return false, err
	}
	if !exist {
		return false, g.stamp(ctx, now)
	}

	last, err := parseStamp(v)
	if err != nil {
		g.log.Warn().Err(err).Str("key", g.key).Str("value", v).Msg("unreadable sweep timer, priming again")
		return false, g.stamp(ctx, now)
	}

	if now.Sub(last) < g.interval {
		return false, nil
	}

	if err := g.stamp(ctx, now); err != nil {
		return false, err
	}
	return true, nil
}

// stamp writes unix seconds with a millisecond fraction ("1700000000.500").
// Integer stamps from older deployments read back the same way.
func (g *TriggerGate) stamp(ctx context.Context, now time.Time) error {
	return g.store.Set(ctx, g.key, formatStamp(now), 0)
}

func formatStamp(t time.Time) string {
	return strconv.FormatFloat(float64(t.UnixMilli())/1000, 'f', 3, 64)
}

func parseStamp(v string) (time.Time, error) {
	sec, err := cast.ToFloat64E(v)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(int64(math.Round(sec * 1000))), nil
}
