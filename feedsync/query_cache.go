package feedsync

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"
)

type QueryKind string

const (
	QueryKindGetPosts       QueryKind = "getPosts"
	QueryKindGetPostsByUser QueryKind = "getPostsByUser"
	QueryKindGetUsers       QueryKind = "getUsers"
)

// argument for queries that take none
const NoArg = EntityId(0)

// entry state machine is:
// QueryStatusUninitialized
//
//	-> QueryStatusPending
//	  -> QueryStatusFulfilled
//	  -> QueryStatusRejected
//
// fulfilled and rejected entries may re-enter pending on invalidation or a
// new initiate. there is never more than one in-flight fetch per key.
type QueryStatus string

const (
	QueryStatusUninitialized QueryStatus = "uninitialized"
	QueryStatusPending       QueryStatus = "pending"
	QueryStatusFulfilled     QueryStatus = "fulfilled"
	QueryStatusRejected      QueryStatus = "rejected"
)

type QueryState[D any] struct {
	Status      QueryStatus
	Data        D
	HasData     bool
	Error       error
	FulfilledAt time.Time
}

func (self QueryState[D]) IsSuccess() bool {
	return self.Status == QueryStatusFulfilled
}

func (self QueryState[D]) IsError() bool {
	return self.Status == QueryStatusRejected
}

type FetchFunction[D any] func(ctx context.Context, arg EntityId) (D, error)
type ProvidesFunction[D any] func(arg EntityId, data D) []Tag
type CloneFunction[D any] func(data D) D
type QueryStateFunction[D any] func(state QueryState[D])

type queryEntry[D any] struct {
	arg EntityId

	status      QueryStatus
	data        D
	hasData     bool
	err         error
	fulfilledAt time.Time
	tags        []Tag

	subscriberCount int
	stale           bool
	fetching        bool

	stateCallbacks *CallbackList[QueryStateFunction[D]]
}

func (self *queryEntry[D]) state() QueryState[D] {
	return QueryState[D]{
		Status:      self.status,
		Data:        self.data,
		HasData:     self.hasData,
		Error:       self.err,
		FulfilledAt: self.fulfilledAt,
	}
}

// one cache slot per argument for a single query kind. all state is guarded
// by `stateLock`; consumers never hold a writable alias into the entry maps.
type QueryEndpoint[D any] struct {
	ctx context.Context

	kind     QueryKind
	fetch    FetchFunction[D]
	provides ProvidesFunction[D]
	clone    CloneFunction[D]
	clock    Clock
	metrics  *CacheMetrics

	stateLock sync.Mutex
	entries   map[EntityId]*queryEntry[D]
}

func NewQueryEndpoint[D any](
	ctx context.Context,
	kind QueryKind,
	fetch FetchFunction[D],
	provides ProvidesFunction[D],
	clone CloneFunction[D],
	clock Clock,
	metrics *CacheMetrics,
) *QueryEndpoint[D] {
	return &QueryEndpoint[D]{
		ctx:      ctx,
		kind:     kind,
		fetch:    fetch,
		provides: provides,
		clone:    clone,
		clock:    clock,
		metrics:  metrics,
		entries:  map[EntityId]*queryEntry[D]{},
	}
}

// active consumer handle for one cache entry. unsubscribing only drops the
// reference; it does not cancel an in-flight fetch.
type QuerySubscription[D any] struct {
	endpoint *QueryEndpoint[D]
	arg      EntityId

	callbackId  Id
	hasCallback bool
	unsubOnce   sync.Once
}

func (self *QuerySubscription[D]) State() QueryState[D] {
	return self.endpoint.State(self.arg)
}

func (self *QuerySubscription[D]) Unsubscribe() {
	self.unsubOnce.Do(func() {
		self.endpoint.unsubscribe(self.arg, self.callbackId, self.hasCallback)
	})
}

// subscribes to the entry for `arg`, fetching if there is no usable data.
// concurrent identical initiates share one fetch: a pending entry only gains
// a subscriber. `callback` may be nil; when set it is called with the current
// state immediately and again on every state change until unsubscribe.
func (self *QueryEndpoint[D]) Initiate(arg EntityId, callback QueryStateFunction[D]) *QuerySubscription[D] {
	sub := &QuerySubscription[D]{
		endpoint: self,
		arg:      arg,
	}

	startFetch := false
	var state QueryState[D]
	var callbacks []QueryStateFunction[D]

	self.stateLock.Lock()
	entry := self.entryLocked(arg)
	entry.subscriberCount += 1
	if callback != nil {
		sub.callbackId = entry.stateCallbacks.Add(callback)
		sub.hasCallback = true
	}
	switch entry.status {
	case QueryStatusFulfilled:
		if entry.stale && !entry.fetching {
			// invalidated with no subscribers at the time; refetch lazily now
			startFetch = true
		} else {
			self.metrics.hit()
		}
	case QueryStatusPending:
		// attach to the in-flight fetch
		self.metrics.hit()
	default:
		// uninitialized, or rejected and manually re-initiated
		startFetch = true
	}
	if startFetch {
		self.metrics.miss()
		self.beginFetchLocked(entry)
	}
	state = entry.state()
	if startFetch {
		callbacks = entry.stateCallbacks.Get()
	}
	self.stateLock.Unlock()

	if startFetch {
		for _, stateCallback := range callbacks {
			stateCallback(state)
		}
	} else if callback != nil {
		callback(state)
	}
	return sub
}

// current state without subscribing
func (self *QueryEndpoint[D]) State(arg EntityId) QueryState[D] {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	entry, ok := self.entries[arg]
	if !ok {
		return QueryState[D]{
			Status: QueryStatusUninitialized,
		}
	}
	return entry.state()
}

// marks matching entries stale. entries with at least one subscriber refetch
// immediately; zero-subscriber entries refetch on next subscribe. an entry
// already fetching is handled when that fetch completes.
func (self *QueryEndpoint[D]) Invalidate(tags []Tag) {
	type entryNotify struct {
		state     QueryState[D]
		callbacks []QueryStateFunction[D]
	}
	notifies := []entryNotify{}

	self.stateLock.Lock()
	for _, entry := range self.entries {
		if entry.status == QueryStatusUninitialized {
			continue
		}
		if !tagsIntersect(entry.tags, tags) {
			continue
		}
		entry.stale = true
		self.metrics.invalidation()
		glog.V(1).Infof("[qc]%s stale arg=%d subscribers=%d\n", self.kind, entry.arg, entry.subscriberCount)
		if entry.fetching {
			continue
		}
		if 0 < entry.subscriberCount {
			self.beginFetchLocked(entry)
			notifies = append(notifies, entryNotify{
				state:     entry.state(),
				callbacks: entry.stateCallbacks.Get(),
			})
		}
	}
	self.stateLock.Unlock()

	for _, notify := range notifies {
		for _, stateCallback := range notify.callbacks {
			stateCallback(notify.state)
		}
	}
}

// undo handle for one optimistic patch. owned by the mutation call that
// created it. Undo restores the exact pre-patch data and is a no-op after the
// first call.
type PatchRecord struct {
	undo     func()
	undoOnce sync.Once
}

func (self *PatchRecord) Undo() {
	self.undoOnce.Do(self.undo)
}

// applies `mutate` to a cloned copy of the entry's data and swaps the clone
// in. this is the only sanctioned direct-write path into cache data. returns
// false when there is no data to patch.
func (self *QueryEndpoint[D]) UpdateQueryData(arg EntityId, mutate func(data *D)) (*PatchRecord, bool) {
	var state QueryState[D]
	var callbacks []QueryStateFunction[D]

	self.stateLock.Lock()
	entry, ok := self.entries[arg]
	if !ok || !entry.hasData {
		self.stateLock.Unlock()
		return nil, false
	}
	prev := entry.data
	working := self.clone(prev)
	mutate(&working)
	entry.data = working
	state = entry.state()
	callbacks = entry.stateCallbacks.Get()
	self.stateLock.Unlock()

	for _, stateCallback := range callbacks {
		stateCallback(state)
	}

	patch := &PatchRecord{
		undo: func() {
			self.restoreData(arg, prev)
		},
	}
	return patch, true
}

func (self *QueryEndpoint[D]) restoreData(arg EntityId, prev D) {
	var state QueryState[D]
	var callbacks []QueryStateFunction[D]

	self.stateLock.Lock()
	entry, ok := self.entries[arg]
	if !ok {
		self.stateLock.Unlock()
		return
	}
	entry.data = prev
	state = entry.state()
	callbacks = entry.stateCallbacks.Get()
	self.stateLock.Unlock()

	self.metrics.rollback()
	glog.V(1).Infof("[qc]%s rollback arg=%d\n", self.kind, arg)

	for _, stateCallback := range callbacks {
		stateCallback(state)
	}
}

// manual refetch, e.g. a user-driven refresh
func (self *QueryEndpoint[D]) Refetch(arg EntityId) {
	var state QueryState[D]
	var callbacks []QueryStateFunction[D]
	started := false

	self.stateLock.Lock()
	entry, ok := self.entries[arg]
	if ok && !entry.fetching {
		self.beginFetchLocked(entry)
		started = true
		state = entry.state()
		callbacks = entry.stateCallbacks.Get()
	}
	self.stateLock.Unlock()

	if started {
		for _, stateCallback := range callbacks {
			stateCallback(state)
		}
	}
}

func (self *QueryEndpoint[D]) SubscriberCount(arg EntityId) int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	entry, ok := self.entries[arg]
	if !ok {
		return 0
	}
	return entry.subscriberCount
}

// must be called with `stateLock`
func (self *QueryEndpoint[D]) entryLocked(arg EntityId) *queryEntry[D] {
	entry, ok := self.entries[arg]
	if !ok {
		entry = &queryEntry[D]{
			arg:            arg,
			status:         QueryStatusUninitialized,
			stateCallbacks: NewCallbackList[QueryStateFunction[D]](),
		}
		self.entries[arg] = entry
	}
	return entry
}

// must be called with `stateLock`. the fetch that starts here observes server
// truth for any invalidation recorded so far, so `stale` is cleared.
func (self *QueryEndpoint[D]) beginFetchLocked(entry *queryEntry[D]) {
	entry.status = QueryStatusPending
	entry.fetching = true
	entry.stale = false
	self.metrics.fetch()
	glog.V(2).Infof("[qc]%s fetch arg=%d\n", self.kind, entry.arg)
	go self.runFetch(entry.arg)
}

func (self *QueryEndpoint[D]) runFetch(arg EntityId) {
	data, err := self.fetch(self.ctx, arg)

	var state QueryState[D]
	var callbacks []QueryStateFunction[D]

	self.stateLock.Lock()
	entry, ok := self.entries[arg]
	if !ok {
		self.stateLock.Unlock()
		return
	}
	entry.fetching = false
	if err == nil {
		entry.status = QueryStatusFulfilled
		entry.data = data
		entry.hasData = true
		entry.err = nil
		entry.fulfilledAt = self.clock.Now()
		entry.tags = self.provides(arg, data)
		if entry.stale && 0 < entry.subscriberCount {
			// invalidated while this fetch was in flight
			self.beginFetchLocked(entry)
		}
	} else {
		entry.status = QueryStatusRejected
		entry.err = err
		self.metrics.fetchError()
		glog.Infof("[qc]%s fetch error arg=%d = %s\n", self.kind, arg, err)
	}
	state = entry.state()
	callbacks = entry.stateCallbacks.Get()
	self.stateLock.Unlock()

	for _, stateCallback := range callbacks {
		stateCallback(state)
	}
}

func (self *QueryEndpoint[D]) unsubscribe(arg EntityId, callbackId Id, hasCallback bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	entry, ok := self.entries[arg]
	if !ok {
		return
	}
	if 0 < entry.subscriberCount {
		entry.subscriberCount -= 1
	}
	if hasCallback {
		entry.stateCallbacks.Remove(callbackId)
	}
	// entries linger at zero subscribers. eviction timing is an external
	// policy; a stale zero-subscriber entry refetches on next subscribe.
}
