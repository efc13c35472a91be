package feedsync

import (
	"time"
)

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func NewSystemClock() Clock {
	return &systemClock{}
}

func (self *systemClock) Now() time.Time {
	return time.Now()
}

// back-fills incomplete post records and normalizes them into a table:
// - a missing date is synthesized as now minus k minutes, where k is the
//   record's 1-based position. earlier records get more recent dates, so the
//   default order is deterministic and unique within one batch.
// - missing reactions become a zero map over the fixed reaction set.
// records that already carry both fields pass through unchanged.
func NormalizePosts(raw []Post, clock Clock) (EntityTable[Post], error) {
	loaded := make([]Post, 0, len(raw))
	for i, post := range raw {
		if post.Date == "" {
			post.Date = FormatDate(clock.Now().Add(-time.Duration(i+1) * time.Minute))
		}
		if post.Reactions == nil {
			post.Reactions = ZeroReactions()
		}
		loaded = append(loaded, post)
	}
	return NewPostTable().SetAll(loaded)
}

func NormalizeUsers(raw []User) (EntityTable[User], error) {
	return NewUserTable().SetAll(raw)
}
