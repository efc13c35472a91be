package feedsync

import (
	"context"

	"github.com/golang/glog"
)

// increments a reaction counter, patching the cached `getPosts` entry before
// the round trip resolves. on failure the patch is undone exactly and the
// error is surfaced to the caller; the cache is left at pre-mutation state.
// on success the entity-tag invalidation reconciles with server truth.
//
// at most one patch exists per call. a second reaction on the same post
// before the first resolves overwrites the first's undo basis; with
// single-field counters that is acceptable.
func (self *Client) AddReaction(ctx context.Context, postId EntityId, reaction ReactionName) error {
	if postId == 0 {
		return &ValidationError{
			Message: "post missing id",
		}
	}

	var nextReactions ReactionCounts
	state := self.PostsState()
	if state.HasData {
		if post, ok := state.Data.SelectById(postId); ok {
			nextReactions = post.Reactions.Add(reaction, 1)
		}
	}
	if nextReactions == nil {
		// post not cached. nothing to patch; still send the mutation.
		nextReactions = ZeroReactions().Add(reaction, 1)
	}

	patch, patched := self.postQueries.UpdateQueryData(NoArg, func(table *EntityTable[Post]) {
		table.PatchOne(postId, func(post Post) Post {
			post.Reactions = nextReactions
			return post
		})
	})
	if patched {
		glog.V(2).Infof("[opt]patch post=%d %s\n", postId, reaction)
	}

	_, err := self.fetcher.PatchPostReactions(ctx, postId, nextReactions)
	if err != nil {
		if patched {
			patch.Undo()
		}
		return err
	}

	self.Invalidate([]Tag{EntityTag(EntityTypePost, postId)})
	return nil
}
