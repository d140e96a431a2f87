package match

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/golang/glog"
)


type FeedTraversalState int

const (
	FeedEmpty FeedTraversalState = iota
	FeedPositioned
)

func (self FeedTraversalState) String() string {
	switch self {
	case FeedEmpty:
		return "empty"
	case FeedPositioned:
		return "positioned"
	default:
		return fmt.Sprintf("unknown(%d)", int(self))
	}
}


// a cursor over the feed collection.
// The cursor is a valid index into the feed, or the traversal is empty.
// Consuming the current candidate removes it from the feed and the cursor moves to
// `cursor mod remaining`, which is the next candidate in the list (wrapping at the end).
// When the feed is refilled while empty the cursor resets to 0
type FeedTraversal struct {
	feed *Collection[*User]
	dispatcher *Dispatcher

	// one consume at a time
	consumeLock sync.Mutex

	stateLock sync.Mutex
	cursor int
	// the candidate under the cursor, followed across collection changes.
	// empty while a consume removes it so that the cursor stays by index
	currentId Id
	length int

	unsub func()
}

func NewFeedTraversal(feed *Collection[*User], dispatcher *Dispatcher) *FeedTraversal {
	traversal := &FeedTraversal{
		feed: feed,
		dispatcher: dispatcher,
	}
	traversal.reposition(feed.Items())
	traversal.unsub = feed.AddChangeCallback(func(items []*User, state CollectionState) {
		traversal.reposition(items)
	})
	return traversal
}

func (self *FeedTraversal) reposition(items []*User) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.length = len(items)
	if len(items) == 0 {
		self.cursor = 0
		self.currentId = ""
		return
	}
	if self.currentId != "" {
		if i := slices.IndexFunc(items, func(user *User) bool {
			return user.EntityId() == self.currentId
		}); 0 <= i {
			self.cursor = i
			return
		}
	}
	// from empty the cursor is 0
	self.cursor = self.cursor % len(items)
	self.currentId = items[self.cursor].EntityId()
}

func (self *FeedTraversal) State() FeedTraversalState {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if self.length == 0 {
		return FeedEmpty
	}
	return FeedPositioned
}

// the cursor, or -1 when empty
func (self *FeedTraversal) Cursor() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if self.length == 0 {
		return -1
	}
	return self.cursor
}

// the candidate at the cursor, or nil when empty
func (self *FeedTraversal) Current() *User {
	self.stateLock.Lock()
	cursor := self.cursor
	length := self.length
	self.stateLock.Unlock()
	if length == 0 {
		return nil
	}
	user, ok := self.feed.At(cursor)
	if !ok {
		return nil
	}
	return user.Clone()
}

// `(position, total)` for "profile i of n". Position is 1 based, 0 when empty
func (self *FeedTraversal) Progress() (int, int) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if self.length == 0 {
		return 0, 0
	}
	return self.cursor + 1, self.length
}

// dispatches `action` for the current candidate, then removes it and advances
// regardless of the dispatch outcome. Returns `ErrNoCandidate` when empty
func (self *FeedTraversal) ConsumeCurrent(ctx context.Context, action DispatchAction) (*DispatchOutcome, error) {
	if !action.IsFeedAction() {
		return nil, fmt.Errorf("Not a feed action: %s", action)
	}

	self.consumeLock.Lock()
	defer self.consumeLock.Unlock()

	var entityId Id
	var cursor int
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		if self.length == 0 {
			return
		}
		entityId = self.currentId
		cursor = self.cursor
		// stay by index through the removal
		self.currentId = ""
	}()
	if entityId == "" {
		return nil, ErrNoCandidate
	}

	glog.V(LogLevelKey).Infof("[feed]consume %s %s at %d\n", action, entityId, cursor)

	// removal and advance happen before the request resolves
	if !self.feed.RemoveById(entityId) {
		// already gone, no change was emitted
		self.reposition(self.feed.Items())
	}
	outcome := self.dispatcher.Dispatch(ctx, action, entityId)
	return outcome, nil
}

func (self *FeedTraversal) Close() {
	self.unsub()
}
