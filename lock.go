package vscheduler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zbysir/vscheduler/internal/store"
)

// SweepLock is a cross-process mutex built on set-if-absent.
//
// Each acquisition writes "<unix seconds>:<owner token>" with an optional TTL, so a holder that crashed before
// releasing stops blocking sweeps after LockTTL. Release and Held compare the token, so a holder whose lease
// expired cannot remove a lock taken over by another process.
type SweepLock struct {
	store store.Store
	key   string
	ttl   time.Duration
}

func NewSweepLock(s store.Store, cfg Config) *SweepLock {
	cfg = cfg.withDefaults()
	return &SweepLock{store: s, key: cfg.LockKey, ttl: cfg.LockTTL}
}

// Lease is one successful acquisition of a SweepLock.
type Lease struct {
	lock  *SweepLock
	value string
	At    time.Time
	Owner string
}

// TryAcquire returns a lease when the lock was free, and nil when another process holds it.
// It never waits.
func (l *SweepLock) TryAcquire(ctx context.Context, now time.Time) (*Lease, error) {
	owner := uuid.NewString()
	value := strconv.FormatInt(now.Unix(), 10) + ":" + owner

	ok, err := l.store.SetNX(ctx, l.key, value, l.ttl)
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", l.key, err)
	}
	if !ok {
		return nil, nil
	}

	return &Lease{lock: l, value: value, At: now, Owner: owner}, nil
}

// Holder returns when the current holder acquired the lock and its owner token.
func (l *SweepLock) Holder(ctx context.Context) (at time.Time, owner string, held bool, err error) {
	v, exist, err := l.store.Get(ctx, l.key)
	if err != nil || !exist {
		return time.Time{}, "", false, err
	}

	// a bare timestamp is what lock holders without owner tokens write
	stamp, owner, _ := strings.Cut(v, ":")
	sec, err := strconv.ParseInt(stamp, 10, 64)
	if err != nil {
		return time.Time{}, owner, true, nil
	}
	return time.Unix(sec, 0), owner, true, nil
}

// Held reports whether the lock still belongs to this lease.
func (le *Lease) Held(ctx context.Context) (bool, error) {
	v, exist, err := le.lock.store.Get(ctx, le.lock.key)
	if err != nil {
		return false, err
	}
	return exist && v == le.value, nil
}

// Release deletes the lock if this lease still owns it. Releasing a lost lease is not an error.
func (le *Lease) Release(ctx context.Context) error {
	_, err := le.lock.store.CompareAndDelete(ctx, le.lock.key, le.value)
	if err != nil {
		return fmt.Errorf("release %s: %w", le.lock.key, err)
	}
	return nil
}
