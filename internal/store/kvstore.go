package store

import (
	"context"
	"time"
)

// Z is one member of an ordered set together with its score.
type Z struct {
	Score  int64
	Member string
}

// Store is the slice of the shared ordered key-value store the scheduler needs.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, value string, expiration time.Duration) error
	// SetNX writes key only when it does not exist yet and reports whether the write happened.
	SetNX(ctx context.Context, key string, value string, expiration time.Duration) (bool, error)
	// CompareAndDelete deletes key only when it still holds value.
	CompareAndDelete(ctx context.Context, key string, value string) (bool, error)
	Delete(ctx context.Context, key string) error

	ZAdd(ctx context.Context, set string, score int64, member string) error
	// ZRangeByScore returns members with min <= score <= max, ascending by score then member.
	ZRangeByScore(ctx context.Context, set string, min, max int64) ([]Z, error)
	ZRem(ctx context.Context, set string, member string) error
}

var _ Store = (*WithPrefix)(nil)

// WithPrefix namespaces every key and set name, so several schedulers can share one database.
type WithPrefix struct {
	prefix string
	store  Store
}

func (w *WithPrefix) Get(ctx context.Context, key string) (string, bool, error) {
	return w.store.Get(ctx, w.prefix+key)
}

func (w *WithPrefix) Set(ctx context.Context, key string, value string, expiration time.Duration) error {
	return w.store.Set(ctx, w.prefix+key, value, expiration)
}

func (w *WithPrefix) SetNX(ctx context.Context, key string, value string, expiration time.Duration) (bool, error) {
	return w.store.SetNX(ctx, w.prefix+key, value, expiration)
}

func (w *WithPrefix) CompareAndDelete(ctx context.Context, key string, value string) (bool, error) {
	return w.store.CompareAndDelete(ctx, w.prefix+key, value)
}

func (w *WithPrefix) Delete(ctx context.Context, key string) error {
	return w.store.Delete(ctx, w.prefix+key)
}

func (w *WithPrefix) ZAdd(ctx context.Context, set string, score int64, member string) error {
	return w.store.ZAdd(ctx, w.prefix+set, score, member)
}

func (w *WithPrefix) ZRangeByScore(ctx context.Context, set string, min, max int64) ([]Z, error) {
	return w.store.ZRangeByScore(ctx, w.prefix+set, min, max)
}

func (w *WithPrefix) ZRem(ctx context.Context, set string, member string) error {
	return w.store.ZRem(ctx, w.prefix+set, member)
}

func NewWithPrefix(prefix string, store Store) Store {
	if prefix == "" {
		return store
	}
	return &WithPrefix{
		prefix: prefix,
		store:  store,
	}
}
