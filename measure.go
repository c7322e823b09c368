package vscheduler

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Measure observes scheduling and sweeping. Implementations must be safe for concurrent use.
type Measure interface {
	OnSchedule(t Task)
	OnSweep(s Sweep, d time.Duration)
	OnDispatch(t Task, o Outcome)
}

// Counter is a Measure that can report what it counted, keyed by "<targetType>.<methodName>:<outcome>".
type Counter interface {
	GetCount(ctx context.Context) (map[string]int64, error)
}

func countKey(t Task, o Outcome) string {
	return t.TargetType + Delimiter + t.MethodName + ":" + string(o)
}

type nopMeasure struct{}

func (nopMeasure) OnSchedule(Task) {}
func (nopMeasure) OnSweep(Sweep, time.Duration) {}
func (nopMeasure) OnDispatch(Task, Outcome) {}

type multiMeasure []Measure

// Measures fans every observation out to ms.
func Measures(ms ...Measure) Measure {
	return multiMeasure(ms)
}

func (m multiMeasure) OnSchedule(t Task) {
	for _, x := range m {
		x.OnSchedule(t)
	}
}

func (m multiMeasure) OnSweep(s Sweep, d time.Duration) {
	for _, x := range m {
		x.OnSweep(s, d)
	}
}

func (m multiMeasure) OnDispatch(t Task, o Outcome) {
	for _, x := range m {
		x.OnDispatch(t, o)
	}
}

type MockMeasure struct {
	m      map[string]int64
	sweeps []Sweep
	lock   sync.Mutex
}

func NewMockMeasure() *MockMeasure {
	return &MockMeasure{
		m: map[string]int64{},
	}
}

func (m *MockMeasure) OnSchedule(t Task) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.m[countKey(t, "scheduled")] += 1
}

func (m *MockMeasure) OnSweep(s Sweep, d time.Duration) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.sweeps = append(m.sweeps, s)
}

func (m *MockMeasure) OnDispatch(t Task, o Outcome) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.m[countKey(t, o)] += 1
}

func (m *MockMeasure) GetCount(ctx context.Context) (map[string]int64, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	r := make(map[string]int64, len(m.m))
	for k, v := range m.m {
		r[k] = v
	}
	return r, nil
}

func (m *MockMeasure) Sweeps() []Sweep {
	m.lock.Lock()
	defer m.lock.Unlock()
	return append([]Sweep(nil), m.sweeps...)
}

var _ Measure = (*MockMeasure)(nil)
var _ Counter = (*MockMeasure)(nil)

// RedisMeasure keeps dispatch counters in a redis hash shared by every process.
type RedisMeasure struct {
	redis redis.UniversalClient
	key   string
}

func NewRedisMeasure(redis redis.UniversalClient, cfg Config) *RedisMeasure {
	cfg = cfg.withDefaults()
	return &RedisMeasure{redis: redis, key: cfg.KeyPrefix + "measure:" + cfg.SetName}
}

func (r *RedisMeasure) OnSchedule(t Task) {
	r.redis.HIncrBy(context.Background(), r.key, countKey(t, "scheduled"), 1)
}

func (r *RedisMeasure) OnSweep(Sweep, time.Duration) {}

func (r *RedisMeasure) OnDispatch(t Task, o Outcome) {
	r.redis.HIncrBy(context.Background(), r.key, countKey(t, o), 1)
}

func (r *RedisMeasure) GetCount(ctx context.Context) (map[string]int64, error) {
	x, err := r.redis.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, err
	}
	rsp := map[string]int64{}
	for k, v := range x {
		rsp[k], _ = strconv.ParseInt(v, 10, 64)
	}
	return rsp, nil
}

var _ Measure = (*RedisMeasure)(nil)
var _ Counter = (*RedisMeasure)(nil)
