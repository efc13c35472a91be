package feedsync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

var testBaseTime = time.Date(2023, time.May, 10, 12, 0, 0, 0, time.UTC)

type testClock struct {
	stateLock sync.Mutex
	now       time.Time
}

func newTestClock() *testClock {
	return &testClock{
		now: testBaseTime,
	}
}

func (self *testClock) Now() time.Time {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.now
}

func (self *testClock) Advance(d time.Duration) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.now = self.now.Add(d)
}

func stateChannelCallback[D any](c chan QueryState[D]) QueryStateFunction[D] {
	return func(state QueryState[D]) {
		c <- state
	}
}

func waitForStatus[D any](t *testing.T, c chan QueryState[D], status QueryStatus) QueryState[D] {
	t.Helper()
	endTime := time.After(5 * time.Second)
	for {
		select {
		case state := <-c:
			if state.Status == status {
				return state
			}
		case <-endTime:
			t.Fatalf("timeout waiting for status %s", status)
			return QueryState[D]{}
		}
	}
}

type countedFetch struct {
	stateLock sync.Mutex
	count     int
	gate      chan struct{}
	err       error
	posts     []Post
}

func (self *countedFetch) setPosts(posts []Post) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.posts = posts
}

func (self *countedFetch) setGate(gate chan struct{}) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.gate = gate
}

func (self *countedFetch) setErr(err error) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.err = err
}

func (self *countedFetch) fetchCount() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.count
}

func (self *countedFetch) fetch(ctx context.Context, arg EntityId) (EntityTable[Post], error) {
	self.stateLock.Lock()
	self.count += 1
	gate := self.gate
	err := self.err
	posts := self.posts
	self.stateLock.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return EntityTable[Post]{}, err
	}
	return NewPostTable().SetAll(posts)
}

func newTestPostEndpoint(ctx context.Context, fetch FetchFunction[EntityTable[Post]]) *QueryEndpoint[EntityTable[Post]] {
	return NewQueryEndpoint(
		ctx,
		QueryKindGetPosts,
		fetch,
		func(arg EntityId, table EntityTable[Post]) []Tag {
			return postListTags(table)
		},
		EntityTable[Post].Clone,
		newTestClock(),
		nil,
	)
}

func TestQueryDeduplication(t *testing.T) {
	ctx := context.Background()

	gate := make(chan struct{})
	counted := &countedFetch{
		gate: gate,
		posts: []Post{
			testPost(1, "2023-05-01T10:00:00Z"),
		},
	}
	endpoint := newTestPostEndpoint(ctx, counted.fetch)

	statesA := make(chan QueryState[EntityTable[Post]], 32)
	statesB := make(chan QueryState[EntityTable[Post]], 32)

	subA := endpoint.Initiate(NoArg, stateChannelCallback(statesA))
	defer subA.Unsubscribe()
	waitForStatus(t, statesA, QueryStatusPending)

	// a second identical initiate attaches to the in-flight fetch
	subB := endpoint.Initiate(NoArg, stateChannelCallback(statesB))
	defer subB.Unsubscribe()
	waitForStatus(t, statesB, QueryStatusPending)

	close(gate)

	fulfilledA := waitForStatus(t, statesA, QueryStatusFulfilled)
	fulfilledB := waitForStatus(t, statesB, QueryStatusFulfilled)

	assert.Equal(t, 1, counted.fetchCount())
	assert.Equal(t, fulfilledA.Data.SelectIds(), fulfilledB.Data.SelectIds())
	assert.Equal(t, fulfilledA.Data.SelectAll(), fulfilledB.Data.SelectAll())
	assert.Equal(t, 2, endpoint.SubscriberCount(NoArg))
}

func TestQueryRejectedRetainsError(t *testing.T) {
	ctx := context.Background()

	counted := &countedFetch{
		err: &TransportError{
			StatusCode: 500,
			Message:    "backend down",
		},
	}
	endpoint := newTestPostEndpoint(ctx, counted.fetch)

	states := make(chan QueryState[EntityTable[Post]], 32)
	sub := endpoint.Initiate(NoArg, stateChannelCallback(states))
	rejected := waitForStatus(t, states, QueryStatusRejected)

	transportErr, ok := rejected.Error.(*TransportError)
	assert.Equal(t, true, ok)
	assert.Equal(t, 500, transportErr.StatusCode)
	assert.Equal(t, false, rejected.HasData)
	sub.Unsubscribe()

	// no automatic retry: the fetch ran exactly once
	assert.Equal(t, 1, counted.fetchCount())

	// a manual re-initiate is the retry mechanism
	counted.setErr(nil)
	counted.setPosts([]Post{testPost(1, "2023-05-01T10:00:00Z")})
	states2 := make(chan QueryState[EntityTable[Post]], 32)
	sub2 := endpoint.Initiate(NoArg, stateChannelCallback(states2))
	defer sub2.Unsubscribe()
	fulfilled := waitForStatus(t, states2, QueryStatusFulfilled)
	assert.Equal(t, 2, counted.fetchCount())
	assert.Equal(t, []EntityId{1}, fulfilled.Data.SelectIds())
}

func TestQueryInvalidationRefetch(t *testing.T) {
	ctx := context.Background()

	counted := &countedFetch{
		posts: []Post{
			testPost(1, "2023-05-01T10:00:00Z"),
			testPost(7, "2023-05-02T10:00:00Z"),
		},
	}
	endpoint := newTestPostEndpoint(ctx, counted.fetch)

	states := make(chan QueryState[EntityTable[Post]], 32)
	sub := endpoint.Initiate(NoArg, stateChannelCallback(states))
	defer sub.Unsubscribe()
	waitForStatus(t, states, QueryStatusFulfilled)
	assert.Equal(t, 1, counted.fetchCount())

	// a non-matching tag leaves the entry untouched
	endpoint.Invalidate([]Tag{EntityTag(EntityTypePost, 99)})
	assert.Equal(t, 1, counted.fetchCount())

	// post 7 was deleted on the server
	counted.setPosts([]Post{
		testPost(1, "2023-05-01T10:00:00Z"),
	})
	endpoint.Invalidate([]Tag{EntityTag(EntityTypePost, 7)})

	fulfilled := waitForStatus(t, states, QueryStatusFulfilled)
	assert.Equal(t, 2, counted.fetchCount())
	assert.Equal(t, []EntityId{1}, fulfilled.Data.SelectIds())
}

func TestQueryLazyRefetchAtZeroSubscribers(t *testing.T) {
	ctx := context.Background()

	counted := &countedFetch{
		posts: []Post{
			testPost(1, "2023-05-01T10:00:00Z"),
		},
	}
	endpoint := newTestPostEndpoint(ctx, counted.fetch)

	states := make(chan QueryState[EntityTable[Post]], 32)
	sub := endpoint.Initiate(NoArg, stateChannelCallback(states))
	waitForStatus(t, states, QueryStatusFulfilled)
	sub.Unsubscribe()
	assert.Equal(t, 0, endpoint.SubscriberCount(NoArg))

	// no subscribers: the entry goes stale without a refetch
	endpoint.Invalidate([]Tag{EntityTag(EntityTypePost, 1)})
	assert.Equal(t, 1, counted.fetchCount())

	// the next subscribe refetches
	states2 := make(chan QueryState[EntityTable[Post]], 32)
	sub2 := endpoint.Initiate(NoArg, stateChannelCallback(states2))
	defer sub2.Unsubscribe()
	waitForStatus(t, states2, QueryStatusFulfilled)
	assert.Equal(t, 2, counted.fetchCount())
}

func TestQueryInvalidationDuringFlight(t *testing.T) {
	ctx := context.Background()

	counted := &countedFetch{
		posts: []Post{
			testPost(1, "2023-05-01T10:00:00Z"),
		},
	}
	endpoint := newTestPostEndpoint(ctx, counted.fetch)

	states := make(chan QueryState[EntityTable[Post]], 32)
	sub := endpoint.Initiate(NoArg, stateChannelCallback(states))
	defer sub.Unsubscribe()
	waitForStatus(t, states, QueryStatusFulfilled)

	// hold the refetch open, then invalidate twice. the second invalidation
	// lands while the fetch is in flight and triggers one follow-up fetch.
	gate := make(chan struct{})
	counted.setGate(gate)
	endpoint.Invalidate([]Tag{EntityTag(EntityTypePost, 1)})
	waitForStatus(t, states, QueryStatusPending)
	endpoint.Invalidate([]Tag{EntityTag(EntityTypePost, 1)})
	close(gate)

	waitForStatus(t, states, QueryStatusFulfilled)
	assert.Equal(t, 3, counted.fetchCount())
}

func TestUpdateQueryDataAndUndo(t *testing.T) {
	ctx := context.Background()

	counted := &countedFetch{
		posts: []Post{
			testPost(1, "2023-05-01T10:00:00Z"),
		},
	}
	endpoint := newTestPostEndpoint(ctx, counted.fetch)

	states := make(chan QueryState[EntityTable[Post]], 32)
	sub := endpoint.Initiate(NoArg, stateChannelCallback(states))
	defer sub.Unsubscribe()
	waitForStatus(t, states, QueryStatusFulfilled)

	patch, ok := endpoint.UpdateQueryData(NoArg, func(table *EntityTable[Post]) {
		table.PatchOne(1, func(post Post) Post {
			post.Title = "patched"
			return post
		})
	})
	assert.Equal(t, true, ok)

	state := endpoint.State(NoArg)
	patched, _ := state.Data.SelectById(1)
	assert.Equal(t, "patched", patched.Title)

	patch.Undo()
	state = endpoint.State(NoArg)
	restored, _ := state.Data.SelectById(1)
	assert.Equal(t, "title", restored.Title)

	// undo is idempotent
	patch.Undo()
	state = endpoint.State(NoArg)
	restored, _ = state.Data.SelectById(1)
	assert.Equal(t, "title", restored.Title)

	// no data to patch for an unknown key
	_, ok = endpoint.UpdateQueryData(42, func(table *EntityTable[Post]) {})
	assert.Equal(t, false, ok)
}

func TestQueryManualRefetch(t *testing.T) {
	ctx := context.Background()

	counted := &countedFetch{
		posts: []Post{
			testPost(1, "2023-05-01T10:00:00Z"),
		},
	}
	endpoint := newTestPostEndpoint(ctx, counted.fetch)

	states := make(chan QueryState[EntityTable[Post]], 32)
	sub := endpoint.Initiate(NoArg, stateChannelCallback(states))
	defer sub.Unsubscribe()
	waitForStatus(t, states, QueryStatusFulfilled)

	counted.setPosts([]Post{
		testPost(1, "2023-05-01T10:00:00Z"),
		testPost(2, "2023-05-03T10:00:00Z"),
	})
	endpoint.Refetch(NoArg)

	fulfilled := waitForStatus(t, states, QueryStatusFulfilled)
	assert.Equal(t, 2, counted.fetchCount())
	assert.Equal(t, []EntityId{2, 1}, fulfilled.Data.SelectIds())
}

func TestQueryStateBeforeInitiate(t *testing.T) {
	ctx := context.Background()

	counted := &countedFetch{}
	endpoint := newTestPostEndpoint(ctx, counted.fetch)

	state := endpoint.State(NoArg)
	assert.Equal(t, QueryStatusUninitialized, state.Status)
	assert.Equal(t, false, state.HasData)
	assert.Equal(t, 0, counted.fetchCount())
}
