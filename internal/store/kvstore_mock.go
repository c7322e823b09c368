package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

type mockValue struct {
	v        string
	expireAt time.Time
}

// MockStore is an in-memory Store used by tests and single-process examples.
// Ordered sets keep redis semantics: unique members, ascending by score then member.
type MockStore struct {
	m    map[string]mockValue
	sets map[string]map[string]int64
	lock sync.Mutex

	// Now drives key expiry, time.Now when nil.
	Now func() time.Time
	// Err, when set, is returned by every call; used to simulate an unreachable server.
	Err error
}

var _ Store = (*MockStore)(nil)

func NewMockStore() *MockStore {
	return &MockStore{
		m:    map[string]mockValue{},
		sets: map[string]map[string]int64{},
	}
}

func (m *MockStore) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

// get must be called with the lock held.
func (m *MockStore) get(key string) (string, bool) {
	v, ok := m.m[key]
	if !ok {
		return "", false
	}
	if !v.expireAt.IsZero() && !m.now().Before(v.expireAt) {
		delete(m.m, key)
		return "", false
	}
	return v.v, true
}

func (m *MockStore) set(key, value string, expiration time.Duration) {
	mv := mockValue{v: value}
	if expiration > 0 {
		mv.expireAt = m.now().Add(expiration)
	}
	m.m[key] = mv
}

func (m *MockStore) Get(ctx context.Context, key string) (string, bool, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.Err != nil {
		return "", false, m.Err
	}

	v, ok := m.get(key)
	return v, ok, nil
}

func (m *MockStore) Set(ctx context.Context, key string, value string, expiration time.Duration) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.Err != nil {
		return m.Err
	}

	m.set(key, value, expiration)
	return nil
}

func (m *MockStore) SetNX(ctx context.Context, key string, value string, expiration time.Duration) (bool, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.Err != nil {
		return false, m.Err
	}

	if _, ok := m.get(key); ok {
		return false, nil
	}
	m.set(key, value, expiration)
	return true, nil
}

func (m *MockStore) CompareAndDelete(ctx context.Context, key string, value string) (bool, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.Err != nil {
		return false, m.Err
	}

	v, ok := m.get(key)
	if !ok || v != value {
		return false, nil
	}
	delete(m.m, key)
	return true, nil
}

func (m *MockStore) Delete(ctx context.Context, key string) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.Err != nil {
		return m.Err
	}

	delete(m.m, key)
	delete(m.sets, key)
	return nil
}

func (m *MockStore) ZAdd(ctx context.Context, set string, score int64, member string) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.Err != nil {
		return m.Err
	}

	s, ok := m.sets[set]
	if !ok {
		s = map[string]int64{}
		m.sets[set] = s
	}
	s[member] = score
	return nil
}

func (m *MockStore) ZRangeByScore(ctx context.Context, set string, min, max int64) ([]Z, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}

	var r []Z
	for member, score := range m.sets[set] {
		if score >= min && score <= max {
			r = append(r, Z{Score: score, Member: member})
		}
	}
	sort.Slice(r, func(i, j int) bool {
		if r[i].Score != r[j].Score {
			return r[i].Score < r[j].Score
		}
		return r[i].Member < r[j].Member
	})
	return r, nil
}

func (m *MockStore) ZRem(ctx context.Context, set string, member string) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.Err != nil {
		return m.Err
	}

	delete(m.sets[set], member)
	return nil
}

// ZCard returns the number of members in set.
func (m *MockStore) ZCard(set string) int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return len(m.sets[set])
}
