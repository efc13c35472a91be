package feedsync

import (
	"context"
	"sync"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
)

type ClientSettings struct {
	// bearer token attached to api calls. the embedded user id becomes the
	// default author for post drafts.
	AuthJwt string
	// nil keeps cache counters unregistered
	MetricsRegisterer prometheus.Registerer
}

func DefaultClientSettings() *ClientSettings {
	return &ClientSettings{}
}

type PostsQueryFunction = QueryStateFunction[EntityTable[Post]]
type UsersQueryFunction = QueryStateFunction[EntityTable[User]]

type PostsSubscription = QuerySubscription[EntityTable[Post]]
type UsersSubscription = QuerySubscription[EntityTable[User]]

// owns the query cache and its collaborators. there are no ambient
// singletons; everything the cache touches is injected here.
type Client struct {
	ctx    context.Context
	cancel context.CancelFunc

	fetcher  Fetcher
	clock    Clock
	settings *ClientSettings

	metrics       *CacheMetrics
	sessionClaims *SessionClaims

	postQueries     *QueryEndpoint[EntityTable[Post]]
	userPostQueries *QueryEndpoint[EntityTable[Post]]
	userQueries     *QueryEndpoint[EntityTable[User]]

	warmLock sync.Mutex
	warmSubs []func()
}

func NewClientWithDefaults(ctx context.Context, apiUrl string) *Client {
	return NewClient(ctx, NewFeedApiWithContext(ctx, apiUrl), NewSystemClock(), DefaultClientSettings())
}

func NewClient(ctx context.Context, fetcher Fetcher, clock Clock, settings *ClientSettings) *Client {
	cancelCtx, cancel := context.WithCancel(ctx)

	client := &Client{
		ctx:      cancelCtx,
		cancel:   cancel,
		fetcher:  fetcher,
		clock:    clock,
		settings: settings,
		metrics:  NewCacheMetrics(settings.MetricsRegisterer),
	}

	if settings.AuthJwt != "" {
		if authFetcher, ok := fetcher.(interface{ SetAuthJwt(string) }); ok {
			authFetcher.SetAuthJwt(settings.AuthJwt)
		}
		sessionClaims, err := ParseSessionJwtUnverified(settings.AuthJwt)
		if err != nil {
			glog.Infof("[client]session jwt parse error = %s\n", err)
		} else {
			client.sessionClaims = sessionClaims
		}
	}

	client.postQueries = NewQueryEndpoint(
		cancelCtx,
		QueryKindGetPosts,
		func(ctx context.Context, arg EntityId) (EntityTable[Post], error) {
			raw, err := fetcher.ListPosts(ctx)
			if err != nil {
				return EntityTable[Post]{}, err
			}
			return NormalizePosts(raw, clock)
		},
		func(arg EntityId, table EntityTable[Post]) []Tag {
			return postListTags(table)
		},
		EntityTable[Post].Clone,
		clock,
		client.metrics,
	)
	client.userPostQueries = NewQueryEndpoint(
		cancelCtx,
		QueryKindGetPostsByUser,
		func(ctx context.Context, arg EntityId) (EntityTable[Post], error) {
			raw, err := fetcher.ListPostsByUser(ctx, arg)
			if err != nil {
				return EntityTable[Post]{}, err
			}
			return NormalizePosts(raw, clock)
		},
		func(arg EntityId, table EntityTable[Post]) []Tag {
			return postSubsetTags(table)
		},
		EntityTable[Post].Clone,
		clock,
		client.metrics,
	)
	client.userQueries = NewQueryEndpoint(
		cancelCtx,
		QueryKindGetUsers,
		func(ctx context.Context, arg EntityId) (EntityTable[User], error) {
			raw, err := fetcher.ListUsers(ctx)
			if err != nil {
				return EntityTable[User]{}, err
			}
			return NormalizeUsers(raw)
		},
		func(arg EntityId, table EntityTable[User]) []Tag {
			return userListTags(table)
		},
		EntityTable[User].Clone,
		clock,
		client.metrics,
	)

	return client
}

// queries

func (self *Client) GetPosts(callback PostsQueryFunction) *PostsSubscription {
	return self.postQueries.Initiate(NoArg, callback)
}

func (self *Client) GetPostsByUser(userId EntityId, callback PostsQueryFunction) *PostsSubscription {
	return self.userPostQueries.Initiate(userId, callback)
}

func (self *Client) GetUsers(callback UsersQueryFunction) *UsersSubscription {
	return self.userQueries.Initiate(NoArg, callback)
}

func (self *Client) PostsState() QueryState[EntityTable[Post]] {
	return self.postQueries.State(NoArg)
}

func (self *Client) PostsByUserState(userId EntityId) QueryState[EntityTable[Post]] {
	return self.userPostQueries.State(userId)
}

func (self *Client) UsersState() QueryState[EntityTable[User]] {
	return self.userQueries.State(NoArg)
}

// derived selectors. pure projections over the fulfilled `getPosts` /
// `getUsers` entry, falling back to an empty table before first load.

func (self *Client) SelectAllPosts() []Post {
	state := self.PostsState()
	if !state.HasData {
		return []Post{}
	}
	return state.Data.SelectAll()
}

func (self *Client) SelectPostById(postId EntityId) (Post, bool) {
	state := self.PostsState()
	if !state.HasData {
		return Post{}, false
	}
	return state.Data.SelectById(postId)
}

func (self *Client) SelectPostIds() []EntityId {
	state := self.PostsState()
	if !state.HasData {
		return []EntityId{}
	}
	return state.Data.SelectIds()
}

func (self *Client) SelectAllUsers() []User {
	state := self.UsersState()
	if !state.HasData {
		return []User{}
	}
	return state.Data.SelectAll()
}

func (self *Client) SelectUserById(userId EntityId) (User, bool) {
	state := self.UsersState()
	if !state.HasData {
		return User{}, false
	}
	return state.Data.SelectById(userId)
}

func (self *Client) SelectUserIds() []EntityId {
	state := self.UsersState()
	if !state.HasData {
		return []EntityId{}
	}
	return state.Data.SelectIds()
}

// mutations

type PostDraft struct {
	Title  string
	Body   string
	UserId EntityId
}

func (self *Client) AddPost(ctx context.Context, draft *PostDraft) (*Post, error) {
	if draft.Title == "" {
		return nil, &ValidationError{
			Message: "post draft missing title",
		}
	}
	userId := draft.UserId
	if userId == 0 && self.sessionClaims != nil {
		userId = self.sessionClaims.UserId
	}
	post := &Post{
		Title:     draft.Title,
		Body:      draft.Body,
		UserId:    userId,
		Date:      FormatDate(self.clock.Now()),
		Reactions: ZeroReactions(),
	}
	created, err := self.fetcher.CreatePost(ctx, post)
	if err != nil {
		return nil, err
	}
	self.Invalidate([]Tag{CollectionTag(EntityTypePost)})
	return created, nil
}

func (self *Client) UpdatePost(ctx context.Context, post *Post) (*Post, error) {
	if post.Id == 0 {
		return nil, &ValidationError{
			Message: "post missing id",
		}
	}
	updated := *post
	updated.Date = FormatDate(self.clock.Now())
	result, err := self.fetcher.ReplacePost(ctx, &updated)
	if err != nil {
		return nil, err
	}
	self.Invalidate([]Tag{EntityTag(EntityTypePost, post.Id)})
	return result, nil
}

func (self *Client) DeletePost(ctx context.Context, postId EntityId) error {
	if postId == 0 {
		return &ValidationError{
			Message: "post missing id",
		}
	}
	err := self.fetcher.RemovePost(ctx, postId)
	if err != nil {
		return err
	}
	self.Invalidate([]Tag{EntityTag(EntityTypePost, postId)})
	return nil
}

// marks every cached query whose provided tags intersect `tags` stale,
// across all endpoints
func (self *Client) Invalidate(tags []Tag) {
	glog.V(1).Infof("[client]invalidate %v\n", tags)
	self.postQueries.Invalidate(tags)
	self.userPostQueries.Invalidate(tags)
	self.userQueries.Invalidate(tags)
}

// issues the posts and users collection queries eagerly, e.g. at app start.
// the held subscriptions are released by `Close`.
func (self *Client) Warm() {
	postsSub := self.GetPosts(nil)
	usersSub := self.GetUsers(nil)

	self.warmLock.Lock()
	defer self.warmLock.Unlock()
	self.warmSubs = append(self.warmSubs, postsSub.Unsubscribe, usersSub.Unsubscribe)
}

func (self *Client) Close() {
	self.warmLock.Lock()
	warmSubs := self.warmSubs
	self.warmSubs = nil
	self.warmLock.Unlock()

	for _, unsubscribe := range warmSubs {
		unsubscribe()
	}
	self.cancel()
}
