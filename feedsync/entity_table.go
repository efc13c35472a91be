package feedsync

import (
	"fmt"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// EntityId is the stable key of a domain record
type EntityId int64

type Entity[T any] interface {
	EntityKey() EntityId
	// shallow field merge. zero-valued fields of `update` keep the existing value.
	MergeFrom(update T) T
}

type CompareFunction[T any] func(a T, b T) int

// normalized store for one entity kind
// invariant: `ids` contains each key of `entities` exactly once, in comparator
// order when a comparator is configured, else in first-seen order
type EntityTable[T Entity[T]] struct {
	ids      []EntityId
	entities map[EntityId]T
	cmp      CompareFunction[T]
}

func NewEntityTable[T Entity[T]](cmp CompareFunction[T]) EntityTable[T] {
	return EntityTable[T]{
		ids:      []EntityId{},
		entities: map[EntityId]T{},
		cmp:      cmp,
	}
}

// replaces the table contents entirely. the returned table does not alias the
// caller's input slice. a later duplicate id overwrites an earlier one.
func (self EntityTable[T]) SetAll(items []T) (EntityTable[T], error) {
	next := EntityTable[T]{
		ids:      make([]EntityId, 0, len(items)),
		entities: make(map[EntityId]T, len(items)),
		cmp:      self.cmp,
	}
	for _, item := range items {
		id := item.EntityKey()
		if id == 0 {
			return NewEntityTable[T](self.cmp), &ValidationError{
				Message: fmt.Sprintf("entity missing id: %v", item),
			}
		}
		if _, ok := next.entities[id]; !ok {
			next.ids = append(next.ids, id)
		}
		next.entities[id] = item
	}
	next.sort()
	return next, nil
}

// merges `item` into the entity at the same id if present, else appends
func (self EntityTable[T]) UpsertOne(item T) (EntityTable[T], error) {
	id := item.EntityKey()
	if id == 0 {
		return self, &ValidationError{
			Message: fmt.Sprintf("entity missing id: %v", item),
		}
	}
	next := self.Clone()
	if next.entities == nil {
		next.entities = map[EntityId]T{}
	}
	if existing, ok := next.entities[id]; ok {
		next.entities[id] = existing.MergeFrom(item)
	} else {
		next.ids = append(next.ids, id)
		next.entities[id] = item
	}
	next.sort()
	return next, nil
}

// replaces the entity at id in place without changing `ids` membership or
// order. meant to be called on a cloned working copy held by the query cache.
func (self EntityTable[T]) PatchOne(id EntityId, patch func(T) T) bool {
	item, ok := self.entities[id]
	if !ok {
		return false
	}
	self.entities[id] = patch(item)
	return true
}

// shallow clone. entities are values, so patching the clone never writes
// through to the source table.
func (self EntityTable[T]) Clone() EntityTable[T] {
	return EntityTable[T]{
		ids:      slices.Clone(self.ids),
		entities: maps.Clone(self.entities),
		cmp:      self.cmp,
	}
}

func (self EntityTable[T]) SelectAll() []T {
	items := make([]T, 0, len(self.ids))
	for _, id := range self.ids {
		items = append(items, self.entities[id])
	}
	return items
}

func (self EntityTable[T]) SelectById(id EntityId) (T, bool) {
	item, ok := self.entities[id]
	return item, ok
}

func (self EntityTable[T]) SelectIds() []EntityId {
	return slices.Clone(self.ids)
}

func (self EntityTable[T]) Len() int {
	return len(self.ids)
}

func (self *EntityTable[T]) sort() {
	if self.cmp == nil {
		return
	}
	slices.SortStableFunc(self.ids, func(a EntityId, b EntityId) int {
		return self.cmp(self.entities[a], self.entities[b])
	})
}
