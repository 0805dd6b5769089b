package roles

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	authenticated bool
	token         string
}

func (s fakeSession) IsAuthenticated() bool { return s.authenticated }
func (s fakeSession) Token() string { return s.token }

var activeSession = fakeSession{authenticated: true, token: "tok"}

type fakeLister struct {
	mu    sync.Mutex
	calls int32
	roles []Entry
	err   error
	gate  chan struct{}
	begun chan struct{}
	once  sync.Once
}

func (l *fakeLister) ListRoles(ctx context.Context, token string) ([]Entry, error) {
	atomic.AddInt32(&l.calls, 1)
	if l.begun != nil {
		l.once.Do(func() { close(l.begun) })
	}
	if l.gate != nil {
		<-l.gate
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.roles, l.err
}

func (l *fakeLister) set(roles []Entry, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.roles, l.err = roles, err
}

func (l *fakeLister) count() int {
	return int(atomic.LoadInt32(&l.calls))
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type outcomes struct {
	mu sync.Mutex
	m  map[string]int
}

func (o *outcomes) ObserveRoleFetch(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.m == nil {
		o.m = map[string]int{}
	}
	o.m[outcome]++
}

func (o *outcomes) get(outcome string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.m[outcome]
}

func catalog() []Entry {
	return []Entry{
		{ID: 1, Name: "Super Admin"},
		{ID: 2, Name: "Admin", Permissions: []string{"users.view"}},
		{ID: 3, Name: "Instructor", Permissions: []string{"lessons.view"}},
		{ID: 4, Name: "Student"},
	}
}

func TestFetchRolesUnauthenticated(t *testing.T) {
	l := &fakeLister{roles: catalog()}
	c := NewCache(l)
	assert.Empty(t, c.FetchRoles(context.Background(), nil, true))
	assert.Empty(t, c.FetchRoles(context.Background(), fakeSession{}, false))
	assert.Equal(t, 0, l.count())
}

func TestFetchRolesValidityWindow(t *testing.T) {
	l := &fakeLister{roles: catalog()}
	clk := newClock()
	obs := &outcomes{}
	c := NewCache(l, WithClock(clk.Now), WithObserver(obs))

	first := c.FetchRoles(context.Background(), activeSession, false)
	second := c.FetchRoles(context.Background(), activeSession, false)
	assert.Len(t, first, 4)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, l.count())
	assert.True(t, c.IsCacheValid())
	assert.Equal(t, clk.Now(), c.LastFetchedAt())
	assert.Equal(t, 1, obs.get(FetchHit))

	clk.Advance(4*time.Minute + 59*time.Second)
	c.FetchRoles(context.Background(), activeSession, false)
	assert.Equal(t, 1, l.count())

	clk.Advance(time.Second)
	assert.False(t, c.IsCacheValid())
	c.FetchRoles(context.Background(), activeSession, false)
	assert.Equal(t, 2, l.count())
}

func TestFetchRolesEmptyCatalogIsNeverValid(t *testing.T) {
	l := &fakeLister{roles: []Entry{}}
	c := NewCache(l)
	c.FetchRoles(context.Background(), activeSession, false)
	c.FetchRoles(context.Background(), activeSession, false)
	assert.Equal(t, 2, l.count())
	assert.False(t, c.IsCacheValid())
}

func TestFetchRolesErrorCooldown(t *testing.T) {
	l := &fakeLister{err: errors.New("backend down")}
	clk := newClock()
	c := NewCache(l, WithClock(clk.Now))

	assert.Empty(t, c.FetchRoles(context.Background(), activeSession, false))
	require.Error(t, c.Err())
	assert.Equal(t, 1, l.count())

	clk.Advance(29 * time.Second)
	assert.Empty(t, c.FetchRoles(context.Background(), activeSession, false))
	assert.Equal(t, 1, l.count(), "retry within cooldown must not call the backend")

	c.Refetch(context.Background(), activeSession)
	assert.Equal(t, 2, l.count(), "forced refresh ignores the cooldown")

	clk.Advance(30 * time.Second)
	l.set(catalog(), nil)
	assert.Len(t, c.FetchRoles(context.Background(), activeSession, false), 4)
	assert.Equal(t, 3, l.count())
	assert.NoError(t, c.Err())
}

func TestFetchRolesServesStaleOnFailure(t *testing.T) {
	l := &fakeLister{roles: catalog()}
	clk := newClock()
	c := NewCache(l, WithClock(clk.Now))

	before := c.FetchRoles(context.Background(), activeSession, false)
	l.set(nil, errors.New("timeout"))

	after := c.Refetch(context.Background(), activeSession)
	assert.Equal(t, before, after)
	assert.Error(t, c.Err())
	assert.Len(t, c.Roles(), 4)
	assert.False(t, c.Loading())
}

func TestFetchRolesReturnsCopies(t *testing.T) {
	c := NewCache(&fakeLister{roles: catalog()})
	list := c.FetchRoles(context.Background(), activeSession, false)
	list[0].Name = "mutated"
	list[1].Permissions[0] = "mutated"
	again := c.FetchRoles(context.Background(), activeSession, false)
	assert.Equal(t, "Super Admin", again[0].Name)
	assert.Equal(t, "users.view", again[1].Permissions[0])
}

func TestConcurrentFetchesShareOneCall(t *testing.T) {
	l := &fakeLister{roles: catalog(), gate: make(chan struct{}), begun: make(chan struct{})}
	obs := &outcomes{}
	c := NewCache(l, WithObserver(obs))

	results := make([][]Entry, 6)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0] = c.FetchRoles(context.Background(), activeSession, false)
	}()
	<-l.begun
	assert.True(t, c.Loading())

	for i := 1; i < len(results); i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Forced callers join the in-flight fetch as well.
			results[i] = c.FetchRoles(context.Background(), activeSession, i%2 == 0)
		}(i)
	}
	time.Sleep(100 * time.Millisecond)
	close(l.gate)
	wg.Wait()

	assert.Equal(t, 1, l.count())
	for _, r := range results {
		assert.Len(t, r, 4)
	}
	assert.Equal(t, 1, obs.get(FetchSuccess))
	assert.False(t, c.Loading())
}

func TestFetchSurvivesCallerCancellation(t *testing.T) {
	l := &fakeLister{roles: catalog()}
	c := NewCache(l)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Len(t, c.FetchRoles(ctx, activeSession, false), 4)
}

func TestApplyInPlace(t *testing.T) {
	c := NewCache(&fakeLister{roles: catalog()})
	c.FetchRoles(context.Background(), activeSession, false)

	c.Apply(Applied(Entry{ID: 3, Name: "Instructor", Permissions: []string{"lessons.view", "logbook.view"}}))
	roles := c.Roles()
	require.Len(t, roles, 4)
	assert.Equal(t, []string{"lessons.view", "logbook.view"}, roles[2].Permissions)
	assert.True(t, c.IsCacheValid())
}

func TestApplyForkReplacesSharedRoleAtSamePosition(t *testing.T) {
	c := NewCache(&fakeLister{roles: catalog()})
	c.FetchRoles(context.Background(), activeSession, false)

	org := int64(12)
	c.Apply(Forked(3, Entry{ID: 40, Name: "Instructor", Permissions: []string{"lessons.edit"}, AdminIdentifyID: &org}))

	roles := c.Roles()
	require.Len(t, roles, 4)
	assert.Equal(t, int64(40), roles[2].ID)
	assert.Equal(t, int64(4), roles[3].ID)
	for _, r := range roles {
		assert.NotEqual(t, int64(3), r.ID)
	}

	// A second edit of the copy is an in-place update.
	c.Apply(Applied(Entry{ID: 40, Name: "Instructor", AdminIdentifyID: &org}))
	assert.Len(t, c.Roles(), 4)
}

func TestApplyForkWhenCopyAlreadyCached(t *testing.T) {
	org := int64(12)
	list := append(catalog(), Entry{ID: 40, Name: "Instructor", AdminIdentifyID: &org})
	c := NewCache(&fakeLister{roles: list})
	c.FetchRoles(context.Background(), activeSession, false)

	c.Apply(Forked(3, Entry{ID: 40, Name: "Instructor", Permissions: []string{"x"}, AdminIdentifyID: &org}))
	roles := c.Roles()
	require.Len(t, roles, 4)
	assert.Equal(t, int64(40), roles[2].ID)
	assert.Equal(t, []string{"x"}, roles[2].Permissions)
}

func TestRemoveAndInvalidate(t *testing.T) {
	l := &fakeLister{roles: catalog()}
	c := NewCache(l)
	c.FetchRoles(context.Background(), activeSession, false)

	c.Remove(4)
	assert.Len(t, c.Roles(), 3)
	c.Remove(99)
	assert.Len(t, c.Roles(), 3)

	c.Invalidate()
	assert.Empty(t, c.Roles())
	assert.True(t, c.LastFetchedAt().IsZero())
	c.FetchRoles(context.Background(), activeSession, false)
	assert.Equal(t, 2, l.count())
}
