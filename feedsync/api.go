package feedsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const defaultHttpTimeout = 60 * time.Second
const defaultHttpConnectTimeout = 5 * time.Second
const defaultHttpTlsTimeout = 5 * time.Second

func defaultClient() *http.Client {
	// see https://medium.com/@nate510/don-t-use-go-s-default-http-client-4804cb19f779
	dialer := &net.Dialer{
		Timeout: defaultHttpConnectTimeout,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultHttpTlsTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   defaultHttpTimeout,
	}
}

// remote operations the cache core depends on. implemented by `FeedApi`;
// tests substitute their own.
type Fetcher interface {
	ListPosts(ctx context.Context) ([]Post, error)
	ListPostsByUser(ctx context.Context, userId EntityId) ([]Post, error)
	ListUsers(ctx context.Context) ([]User, error)
	CreatePost(ctx context.Context, post *Post) (*Post, error)
	ReplacePost(ctx context.Context, post *Post) (*Post, error)
	RemovePost(ctx context.Context, postId EntityId) error
	PatchPostReactions(ctx context.Context, postId EntityId, reactions ReactionCounts) (*Post, error)
}

type FeedApi struct {
	ctx    context.Context
	cancel context.CancelFunc

	apiUrl string

	sessionJwt string

	httpClient *http.Client
}

func NewFeedApi(apiUrl string) *FeedApi {
	return NewFeedApiWithContext(context.Background(), apiUrl)
}

func NewFeedApiWithContext(ctx context.Context, apiUrl string) *FeedApi {
	cancelCtx, cancel := context.WithCancel(ctx)

	return &FeedApi{
		ctx:        cancelCtx,
		cancel:     cancel,
		apiUrl:     apiUrl,
		httpClient: defaultClient(),
	}
}

// this gets attached to api calls that need it
func (self *FeedApi) SetAuthJwt(sessionJwt string) {
	self.sessionJwt = sessionJwt
}

func (self *FeedApi) ListPosts(ctx context.Context) ([]Post, error) {
	return request[[]Post](ctx, self, "GET", fmt.Sprintf("%s/posts", self.apiUrl), nil)
}

func (self *FeedApi) ListPostsByUser(ctx context.Context, userId EntityId) ([]Post, error) {
	return request[[]Post](ctx, self, "GET", fmt.Sprintf("%s/posts/?userId=%d", self.apiUrl, userId), nil)
}

func (self *FeedApi) ListUsers(ctx context.Context) ([]User, error) {
	return request[[]User](ctx, self, "GET", fmt.Sprintf("%s/users", self.apiUrl), nil)
}

func (self *FeedApi) CreatePost(ctx context.Context, post *Post) (*Post, error) {
	return request[*Post](ctx, self, "POST", fmt.Sprintf("%s/posts", self.apiUrl), post)
}

func (self *FeedApi) ReplacePost(ctx context.Context, post *Post) (*Post, error) {
	return request[*Post](ctx, self, "PUT", fmt.Sprintf("%s/posts/%d", self.apiUrl, post.Id), post)
}

type removePostArgs struct {
	Id EntityId `json:"id"`
}

func (self *FeedApi) RemovePost(ctx context.Context, postId EntityId) error {
	_, err := request[map[string]any](
		ctx,
		self,
		"DELETE",
		fmt.Sprintf("%s/posts/%d", self.apiUrl, postId),
		&removePostArgs{
			Id: postId,
		},
	)
	return err
}

type patchReactionsArgs struct {
	Reactions ReactionCounts `json:"reactions"`
}

func (self *FeedApi) PatchPostReactions(ctx context.Context, postId EntityId, reactions ReactionCounts) (*Post, error) {
	return request[*Post](
		ctx,
		self,
		"PATCH",
		fmt.Sprintf("%s/posts/%d", self.apiUrl, postId),
		&patchReactionsArgs{
			Reactions: reactions,
		},
	)
}

func (self *FeedApi) Close() {
	self.cancel()
}

func request[R any](ctx context.Context, api *FeedApi, method string, url string, args any) (R, error) {
	var empty R

	var requestBodyBytes []byte
	if args != nil {
		var err error
		requestBodyBytes, err = json.Marshal(args)
		if err != nil {
			return empty, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(requestBodyBytes))
	if err != nil {
		return empty, err
	}

	req.Header.Add("Content-Type", "application/json")

	if api.sessionJwt != "" {
		auth := fmt.Sprintf("Bearer %s", api.sessionJwt)
		req.Header.Add("Authorization", auth)
	}

	r, err := api.httpClient.Do(req)
	if err != nil {
		return empty, &TransportError{
			Message: err.Error(),
		}
	}
	defer r.Body.Close()

	responseBodyBytes, err := io.ReadAll(r.Body)

	if r.StatusCode < 200 || 300 <= r.StatusCode {
		// the response body is the error message
		return empty, &TransportError{
			StatusCode: r.StatusCode,
			Message:    strings.TrimSpace(string(responseBodyBytes)),
		}
	}

	if err != nil {
		return empty, &TransportError{
			Message: err.Error(),
		}
	}

	var result R
	if len(responseBodyBytes) == 0 {
		return result, nil
	}
	err = json.Unmarshal(responseBodyBytes, &result)
	if err != nil {
		return empty, &TransportError{
			Message: fmt.Sprintf("malformed response body: %s", err),
		}
	}

	return result, nil
}
