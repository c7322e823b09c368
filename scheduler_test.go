package vscheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/zbysir/vscheduler/internal/store"
	"github.com/zbysir/vscheduler/mock"
)

func newTestScheduler(t *testing.T, st store.Store, backend Backend, now time.Time) (*Scheduler, *MockMeasure) {
	log := zerolog.Nop()
	measure := NewMockMeasure()
	s, err := New(Options{
		Config:  DefaultConfig(),
		Store:   st,
		Backend: backend,
		Measure: measure,
		Logger:  &log,
		Now:     func() time.Time { return now },
	})
	require.NoError(t, err)
	return s, measure
}

func TestScheduleThenRun(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := mock.NewBackend(ctrl)
	st := store.NewMockStore()
	now := time.Unix(1700000000, 0)
	s, measure := newTestScheduler(t, st, backend, now)
	ctx := context.Background()

	tk, err := s.Schedule(ctx, 5*time.Second, "User", "sendWelcome", "123")
	require.NoError(t, err)
	assert.Equal(t, now.Unix()+5, tk.DueAt)

	// prime the gate
	sweep, err := s.Run(ctx, now)
	require.NoError(t, err)
	assert.False(t, sweep.Admitted)

	backend.EXPECT().Enqueue(gomock.Any(), "User", "sendWelcome", "123").Return(nil).Times(1)

	sweep, err = s.Run(ctx, now.Add(6*time.Second))
	require.NoError(t, err)
	assert.True(t, sweep.Admitted)
	assert.True(t, sweep.Acquired)
	assert.Equal(t, 1, sweep.Dispatched)

	pending, err := s.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	// lock released after the sweep
	_, _, held, err := s.LockHolder(ctx)
	require.NoError(t, err)
	assert.False(t, held)

	count, err := measure.GetCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count["User.sendWelcome:scheduled"])
	assert.Equal(t, int64(1), count["User.sendWelcome:dispatched"])
	assert.Len(t, measure.Sweeps(), 2)
}

func TestRunNotDueYet(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := mock.NewBackend(ctrl)
	now := time.Unix(1700000000, 0)
	s, _ := newTestScheduler(t, store.NewMockStore(), backend, now)
	ctx := context.Background()

	_, err := s.Schedule(ctx, time.Minute, "User", "sendWelcome", "123")
	require.NoError(t, err)

	_, err = s.Run(ctx, now)
	require.NoError(t, err)
	sweep, err := s.Run(ctx, now.Add(2*time.Second))
	require.NoError(t, err)
	assert.True(t, sweep.Acquired)
	assert.Equal(t, 0, sweep.Due)

	pending, err := s.Pending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestRunLockBusy(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := mock.NewBackend(ctrl)
	st := store.NewMockStore()
	now := time.Unix(1700000000, 0)
	s, _ := newTestScheduler(t, st, backend, now)
	ctx := context.Background()

	_, err := s.Schedule(ctx, 0, "User", "sendWelcome", "123")
	require.NoError(t, err)
	_, err = s.Run(ctx, now)
	require.NoError(t, err)

	// another process is sweeping
	require.NoError(t, st.Set(ctx, "vscheduler_lock", "1700000000:other", 0))

	sweep, err := s.Run(ctx, now.Add(2*time.Second))
	require.NoError(t, err)
	assert.True(t, sweep.Admitted)
	assert.False(t, sweep.Acquired)

	v, _, _ := st.Get(ctx, "vscheduler_lock")
	assert.Equal(t, "1700000000:other", v)
}

func TestRunConcurrentProcessesDispatchOnce(t *testing.T) {
	st := store.NewMockStore()
	now := time.Unix(1700000000, 0)
	ctx := context.Background()

	var calls int32
	backend := BackendFunc(func(ctx context.Context, targetType, methodName, targetID string) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	var ss []*Scheduler
	for i := 0; i < 8; i++ {
		s, _ := newTestScheduler(t, st, backend, now)
		ss = append(ss, s)
	}

	for i := 0; i < 20; i++ {
		_, err := ss[0].Schedule(ctx, time.Duration(i)*time.Second, "User", "sendWelcome", "u"+string(rune('a'+i)))
		require.NoError(t, err)
	}
	_, err := ss[0].Run(ctx, now)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, s := range ss {
		wg.Add(1)
		go func(s *Scheduler) {
			defer wg.Done()
			for i := 1; i <= 5; i++ {
				_, err := s.Run(ctx, now.Add(time.Duration(i)*5*time.Second))
				if err != nil {
					t.Error(err)
				}
			}
		}(s)
	}
	wg.Wait()

	// a racing round may have been admitted while another held the lock; one more sweep drains the rest
	_, err = ss[0].Run(ctx, now.Add(time.Minute))
	require.NoError(t, err)

	assert.Equal(t, int32(20), atomic.LoadInt32(&calls))
	pending, err := ss[0].Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRunStoreErrorPropagates(t *testing.T) {
	st := store.NewMockStore()
	st.Err = errors.New("connection refused")
	s, _ := newTestScheduler(t, st, BackendFunc(func(context.Context, string, string, string) error { return nil }), time.Now())

	_, err := s.Run(context.Background(), time.Now())
	assert.ErrorIs(t, err, st.Err)

	_, err = s.Schedule(context.Background(), time.Second, "User", "sendWelcome", "1")
	assert.ErrorIs(t, err, st.Err)
}

func TestScheduleInvalid(t *testing.T) {
	s, measure := newTestScheduler(t, store.NewMockStore(), BackendFunc(func(context.Context, string, string, string) error { return nil }), time.Now())

	_, err := s.Schedule(context.Background(), time.Second, "User", "send.welcome", "1")
	assert.ErrorIs(t, err, ErrInvalidField)

	count, _ := measure.GetCount(context.Background())
	assert.Empty(t, count)
}

func TestNewValidates(t *testing.T) {
	_, err := New(Options{Store: store.NewMockStore()})
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.Policy = "later"
	_, err = New(Options{Config: cfg, Store: store.NewMockStore(), Backend: BackendFunc(nil)})
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.TimerKey = cfg.LockKey
	_, err = New(Options{Config: cfg, Store: store.NewMockStore(), Backend: BackendFunc(nil)})
	assert.Error(t, err)

	_, err = New(Options{Config: DefaultConfig(), RedisURL: "mysql://nope", Backend: BackendFunc(nil)})
	assert.Error(t, err)
}

func TestKeyPrefix(t *testing.T) {
	st := store.NewMockStore()
	cfg := DefaultConfig()
	cfg.KeyPrefix = "app:"
	log := zerolog.Nop()
	s, err := New(Options{Config: cfg, Store: st, Backend: BackendFunc(nil), Logger: &log})
	require.NoError(t, err)

	_, err = s.Schedule(context.Background(), time.Minute, "User", "sendWelcome", "1")
	require.NoError(t, err)
	assert.Equal(t, 1, st.ZCard("app:vscheduler_tasks"))
}

func TestScheduleThenRunEarlyClock(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := mock.NewBackend(ctrl)
	now := time.Unix(10, 0)
	s, _ := newTestScheduler(t, store.NewMockStore(), backend, now)
	ctx := context.Background()

	_, err := s.Schedule(ctx, 5*time.Second, "User", "sendWelcome", "123")
	require.NoError(t, err)
	_, err = s.Run(ctx, now)
	require.NoError(t, err)

	backend.EXPECT().Enqueue(gomock.Any(), "User", "sendWelcome", "123").Return(nil).Times(1)

	sweep, err := s.Run(ctx, now.Add(6*time.Second))
	require.NoError(t, err)
	assert.True(t, sweep.Admitted)
	assert.Equal(t, 1, sweep.Dispatched)
}
