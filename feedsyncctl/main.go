package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"
	"golang.org/x/term"

	"github.com/postboard/feedsync/feedsync"
)

const FeedsyncCtlVersion = "0.0.1"

const DefaultApiUrl = "https://jsonplaceholder.typicode.com"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

var reactionEmoji = map[feedsync.ReactionName]string{
	feedsync.ReactionThumbsUp: "👍",
	feedsync.ReactionWow:      "😮",
	feedsync.ReactionHeart:    "❤️",
	feedsync.ReactionRocket:   "🚀",
	feedsync.ReactionCoffee:   "☕",
}

func main() {
	usage := `Feedsync control.

The default api_url is:
    https://jsonplaceholder.typicode.com

Usage:
    feedsyncctl posts [--api_url=<api_url>] [--jwt=<jwt>]
    feedsyncctl user-posts <user_id> [--api_url=<api_url>] [--jwt=<jwt>]
    feedsyncctl users [--api_url=<api_url>] [--jwt=<jwt>]
    feedsyncctl add-post --title=<title> --body=<body>
        [--user_id=<user_id>]
        [--api_url=<api_url>] [--jwt=<jwt>]
    feedsyncctl update-post <post_id> --title=<title> --body=<body>
        [--api_url=<api_url>] [--jwt=<jwt>]
    feedsyncctl delete-post <post_id> [--api_url=<api_url>] [--jwt=<jwt>]
    feedsyncctl react <post_id> <reaction> [--api_url=<api_url>] [--jwt=<jwt>]
    feedsyncctl watch --live_url=<live_url> [--api_url=<api_url>] [--jwt=<jwt>]

Options:
    -h --help                Show this screen.
    --version                Show version.
    --api_url=<api_url>
    --live_url=<live_url>    Websocket url of the live invalidation feed.
    --jwt=<jwt>              Your session JWT.
    --title=<title>
    --body=<body>
    --user_id=<user_id>`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], FeedsyncCtlVersion)
	if err != nil {
		panic(err)
	}

	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	apiUrl := DefaultApiUrl
	if apiUrlAny, ok := opts["--api_url"]; ok {
		if apiUrlStr, ok := apiUrlAny.(string); ok && apiUrlStr != "" {
			apiUrl = apiUrlStr
		}
	}

	settings := feedsync.DefaultClientSettings()
	if jwtAny, ok := opts["--jwt"]; ok {
		if jwt, ok := jwtAny.(string); ok {
			settings.AuthJwt = jwt
		}
	}

	client := feedsync.NewClient(cancelCtx, feedsync.NewFeedApiWithContext(cancelCtx, apiUrl), feedsync.NewSystemClock(), settings)
	defer client.Close()

	if posts, _ := opts.Bool("posts"); posts {
		listPosts(client)
	} else if userPosts, _ := opts.Bool("user-posts"); userPosts {
		userId := requireEntityId(opts, "<user_id>")
		listUserPosts(client, userId)
	} else if users, _ := opts.Bool("users"); users {
		listUsers(client)
	} else if addPost, _ := opts.Bool("add-post"); addPost {
		title, _ := opts.String("--title")
		body, _ := opts.String("--body")
		draft := &feedsync.PostDraft{
			Title: title,
			Body:  body,
		}
		if userIdAny, ok := opts["--user_id"]; ok {
			if userIdStr, ok := userIdAny.(string); ok && userIdStr != "" {
				draft.UserId = parseEntityId(userIdStr)
			}
		}
		created, err := client.AddPost(cancelCtx, draft)
		if err != nil {
			Err.Fatalf("add-post error = %s", err)
		}
		Out.Printf("created post %d", created.Id)
	} else if updatePost, _ := opts.Bool("update-post"); updatePost {
		postId := requireEntityId(opts, "<post_id>")
		title, _ := opts.String("--title")
		body, _ := opts.String("--body")
		updated, err := client.UpdatePost(cancelCtx, &feedsync.Post{
			Id:    postId,
			Title: title,
			Body:  body,
		})
		if err != nil {
			Err.Fatalf("update-post error = %s", err)
		}
		Out.Printf("updated post %d", updated.Id)
	} else if deletePost, _ := opts.Bool("delete-post"); deletePost {
		postId := requireEntityId(opts, "<post_id>")
		if err := client.DeletePost(cancelCtx, postId); err != nil {
			Err.Fatalf("delete-post error = %s", err)
		}
		Out.Printf("deleted post %d", postId)
	} else if react, _ := opts.Bool("react"); react {
		postId := requireEntityId(opts, "<post_id>")
		reaction, _ := opts.String("<reaction>")
		if err := client.AddReaction(cancelCtx, postId, feedsync.ReactionName(reaction)); err != nil {
			Err.Fatalf("react error = %s", err)
		}
		if post, ok := client.SelectPostById(postId); ok {
			printPost(post)
		} else {
			Out.Printf("reacted %s to post %d", reaction, postId)
		}
	} else if watch, _ := opts.Bool("watch"); watch {
		liveUrl, _ := opts.String("--live_url")
		watchPosts(cancelCtx, client, liveUrl)
	}
}

func listPosts(client *feedsync.Client) {
	state := awaitPosts(client.GetPosts(nil))
	if state.IsError() {
		Err.Fatalf("posts error = %s", state.Error)
	}
	for _, post := range state.Data.SelectAll() {
		printPost(post)
	}
}

func listUserPosts(client *feedsync.Client, userId feedsync.EntityId) {
	state := awaitPosts(client.GetPostsByUser(userId, nil))
	if state.IsError() {
		Err.Fatalf("user-posts error = %s", state.Error)
	}
	for _, post := range state.Data.SelectAll() {
		printPost(post)
	}
}

func listUsers(client *feedsync.Client) {
	sub := client.GetUsers(nil)
	defer sub.Unsubscribe()
	state := awaitSettled(sub.State, 30*time.Second)
	if state.IsError() {
		Err.Fatalf("users error = %s", state.Error)
	}
	for _, user := range state.Data.SelectAll() {
		Out.Printf("%4d  %s (%s)", user.Id, user.Name, user.Username)
	}
}

func watchPosts(ctx context.Context, client *feedsync.Client, liveUrl string) {
	sub := client.GetPosts(func(state feedsync.QueryState[feedsync.EntityTable[feedsync.Post]]) {
		if state.IsSuccess() {
			Out.Printf("-- %d posts at %s --", state.Data.Len(), state.FulfilledAt.Format(time.RFC3339))
			for _, post := range state.Data.SelectAll() {
				printPost(post)
			}
		}
	})
	defer sub.Unsubscribe()

	live := feedsync.NewLiveInvalidationWithDefaults(ctx, client, liveUrl)
	defer live.Close()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-ctx.Done():
	case <-sigs:
	}
}

func printPost(post feedsync.Post) {
	Out.Printf("%4d  %s", post.Id, post.Title)
	if term.IsTerminal(int(os.Stdout.Fd())) {
		line := "      "
		for _, name := range feedsync.AllReactionNames {
			line += fmt.Sprintf("%s %d  ", reactionEmoji[name], post.Reactions[name])
		}
		Out.Print(line)
	}
}

func awaitPosts(sub *feedsync.PostsSubscription) feedsync.QueryState[feedsync.EntityTable[feedsync.Post]] {
	defer sub.Unsubscribe()
	return awaitSettled(sub.State, 30*time.Second)
}

func awaitSettled[D any](state func() feedsync.QueryState[D], timeout time.Duration) feedsync.QueryState[D] {
	endTime := time.Now().Add(timeout)
	for {
		current := state()
		if current.IsSuccess() || current.IsError() {
			return current
		}
		if endTime.Before(time.Now()) {
			Err.Fatalf("timeout waiting for query")
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func requireEntityId(opts docopt.Opts, key string) feedsync.EntityId {
	value, err := opts.String(key)
	if err != nil {
		Err.Fatalf("missing %s", key)
	}
	return parseEntityId(value)
}

func parseEntityId(value string) feedsync.EntityId {
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		Err.Fatalf("malformed id %s", value)
	}
	return feedsync.EntityId(parsed)
}
