package vscheduler

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/zbysir/vscheduler/internal/store"
)

// DueEntry is one member read from the task set.
type DueEntry struct {
	Key   string `json:"key"`
	Score int64  `json:"score"`
	Task  Task   `json:"task"`
	// Err is a *MalformedEntryError when Key cannot be decoded or disagrees with Score.
	Err error `json:"-"`
}

// DelayedTaskStore keeps tasks in an ordered set scored by due time.
// Members are task keys, so scheduling an identical task twice stores it once.
type DelayedTaskStore struct {
	store store.Store
	set   string
}

func NewDelayedTaskStore(s store.Store, cfg Config) *DelayedTaskStore {
	cfg = cfg.withDefaults()
	return &DelayedTaskStore{store: s, set: cfg.SetName}
}

func (s *DelayedTaskStore) Schedule(ctx context.Context, t Task) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if err := s.store.ZAdd(ctx, s.set, t.DueAt, t.Key()); err != nil {
		return fmt.Errorf("schedule %s: %w", t, err)
	}
	return nil
}

// PopDue returns every entry due at or before now, earliest first, ties in key order.
// Nothing is removed: the caller removes each entry once it has been handed off.
func (s *DelayedTaskStore) PopDue(ctx context.Context, now time.Time) ([]DueEntry, error) {
	return s.rangeByScore(ctx, now.Unix())
}

// Pending returns every stored entry, due or not.
func (s *DelayedTaskStore) Pending(ctx context.Context) ([]DueEntry, error) {
	return s.rangeByScore(ctx, math.MaxInt64)
}

// Remove deletes key; removing a missing key is a no-op.
func (s *DelayedTaskStore) Remove(ctx context.Context, key string) error {
	if err := s.store.ZRem(ctx, s.set, key); err != nil {
		return fmt.Errorf("remove %q: %w", key, err)
	}
	return nil
}

func (s *DelayedTaskStore) rangeByScore(ctx context.Context, max int64) ([]DueEntry, error) {
	zs, err := s.store.ZRangeByScore(ctx, s.set, math.MinInt64, max)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.set, err)
	}

	entries := make([]DueEntry, 0, len(zs))
	for _, z := range zs {
		e := DueEntry{Key: z.Member, Score: z.Score}
		e.Task, e.Err = DecodeKey(z.Member)
		if e.Err == nil && e.Task.DueAt != z.Score {
			e.Err = &MalformedEntryError{
				Key:    z.Member,
				Reason: fmt.Sprintf("score %d does not match due at %d", z.Score, e.Task.DueAt),
			}
		}
		entries = append(entries, e)
	}
	return entries, nil
}
