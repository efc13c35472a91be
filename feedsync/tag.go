package feedsync

import (
	"fmt"
)

type EntityType string

const (
	EntityTypePost EntityType = "Post"
	EntityTypeUser EntityType = "User"
)

// cache invalidation label. value equality only: a wildcard tag matches a
// wildcard tag, a specific id matches the same specific id. a specific-id
// invalidation never matches a provider's wildcard tag.
type Tag struct {
	Type     EntityType
	Id       EntityId
	Wildcard bool
}

// denotes the whole collection of an entity type
func CollectionTag(entityType EntityType) Tag {
	return Tag{
		Type:     entityType,
		Wildcard: true,
	}
}

func EntityTag(entityType EntityType, id EntityId) Tag {
	return Tag{
		Type: entityType,
		Id:   id,
	}
}

func (self Tag) String() string {
	if self.Wildcard {
		return fmt.Sprintf("%s/*", self.Type)
	}
	return fmt.Sprintf("%s/%d", self.Type, self.Id)
}

func tagsIntersect(provides []Tag, invalidates []Tag) bool {
	for _, invalidated := range invalidates {
		for _, provided := range provides {
			if provided == invalidated {
				return true
			}
		}
	}
	return false
}

// an authoritative collection result provides the wildcard tag plus one tag
// per entity present
func postListTags(table EntityTable[Post]) []Tag {
	tags := []Tag{CollectionTag(EntityTypePost)}
	for _, id := range table.SelectIds() {
		tags = append(tags, EntityTag(EntityTypePost, id))
	}
	return tags
}

// a subset view is not authoritative for the collection, so no wildcard
func postSubsetTags(table EntityTable[Post]) []Tag {
	tags := []Tag{}
	for _, id := range table.SelectIds() {
		tags = append(tags, EntityTag(EntityTypePost, id))
	}
	return tags
}

func userListTags(table EntityTable[User]) []Tag {
	tags := []Tag{CollectionTag(EntityTypeUser)}
	for _, id := range table.SelectIds() {
		tags = append(tags, EntityTag(EntityTypeUser, id))
	}
	return tags
}
