package feedsync

import (
	"strings"
	"time"

	"golang.org/x/exp/maps"
)

// fixed reaction set. this is the wire contract of the reactions patch body,
// so the names must match the backend exactly.
type ReactionName string

const (
	ReactionThumbsUp ReactionName = "thumbsUp"
	ReactionWow      ReactionName = "wow"
	ReactionHeart    ReactionName = "heart"
	ReactionRocket   ReactionName = "rocket"
	ReactionCoffee   ReactionName = "coffee"
)

var AllReactionNames = []ReactionName{
	ReactionThumbsUp,
	ReactionWow,
	ReactionHeart,
	ReactionRocket,
	ReactionCoffee,
}

type ReactionCounts map[ReactionName]int

func ZeroReactions() ReactionCounts {
	reactions := ReactionCounts{}
	for _, name := range AllReactionNames {
		reactions[name] = 0
	}
	return reactions
}

func (self ReactionCounts) Clone() ReactionCounts {
	return maps.Clone(self)
}

// returns a new map. the receiver is never mutated so that cached
// snapshots stay stable for rollback.
func (self ReactionCounts) Add(name ReactionName, delta int) ReactionCounts {
	next := maps.Clone(self)
	if next == nil {
		next = ZeroReactions()
	}
	count := next[name] + delta
	if count < 0 {
		count = 0
	}
	next[name] = count
	return next
}

// dates are ISO-8601 strings so that lexicographic comparison equals
// chronological comparison
func FormatDate(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

type Post struct {
	Id        EntityId       `json:"id,omitempty"`
	Title     string         `json:"title"`
	Body      string         `json:"body"`
	UserId    EntityId       `json:"userId,omitempty"`
	Date      string         `json:"date,omitempty"`
	Reactions ReactionCounts `json:"reactions,omitempty"`
}

func (self Post) EntityKey() EntityId {
	return self.Id
}

func (self Post) MergeFrom(update Post) Post {
	merged := self
	if update.Title != "" {
		merged.Title = update.Title
	}
	if update.Body != "" {
		merged.Body = update.Body
	}
	if update.UserId != 0 {
		merged.UserId = update.UserId
	}
	if update.Date != "" {
		merged.Date = update.Date
	}
	if update.Reactions != nil {
		merged.Reactions = update.Reactions
	}
	return merged
}

type User struct {
	Id       EntityId `json:"id,omitempty"`
	Name     string   `json:"name"`
	Username string   `json:"username,omitempty"`
	Email    string   `json:"email,omitempty"`
}

func (self User) EntityKey() EntityId {
	return self.Id
}

func (self User) MergeFrom(update User) User {
	merged := self
	if update.Name != "" {
		merged.Name = update.Name
	}
	if update.Username != "" {
		merged.Username = update.Username
	}
	if update.Email != "" {
		merged.Email = update.Email
	}
	return merged
}

// posts sort newest first
func ComparePostsByDateDesc(a Post, b Post) int {
	return strings.Compare(b.Date, a.Date)
}

func NewPostTable() EntityTable[Post] {
	return NewEntityTable[Post](ComparePostsByDateDesc)
}

// users keep server order
func NewUserTable() EntityTable[User] {
	return NewEntityTable[User](nil)
}
