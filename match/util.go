package match

import (
	"slices"
	"sync"

	"github.com/oklog/ulid/v2"
)


// a client generated id, ordered by create time.
// used for transcript entries, notifications and dispatch traces
type LocalId = ulid.ULID

func NewLocalId() LocalId {
	return ulid.Make()
}


type callbackEntry[T any] struct {
	callbackId int
	callback T
}

// makes a copy of the list on update
type CallbackList[T any] struct {
	mutex sync.Mutex
	nextCallbackId int
	callbacks []*callbackEntry[T]
}

func NewCallbackList[T any]() *CallbackList[T] {
	return &CallbackList[T]{}
}

func (self *CallbackList[T]) Get() []T {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	callbacks := make([]T, 0, len(self.callbacks))
	for _, entry := range self.callbacks {
		callbacks = append(callbacks, entry.callback)
	}
	return callbacks
}

func (self *CallbackList[T]) Add(callback T) int {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	callbackId := self.nextCallbackId
	self.nextCallbackId += 1

	nextCallbacks := slices.Clone(self.callbacks)
	nextCallbacks = append(nextCallbacks, &callbackEntry[T]{
		callbackId: callbackId,
		callback: callback,
	})
	self.callbacks = nextCallbacks
	return callbackId
}

func (self *CallbackList[T]) Remove(callbackId int) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	i := slices.IndexFunc(self.callbacks, func(entry *callbackEntry[T]) bool {
		return entry.callbackId == callbackId
	})
	if i < 0 {
		// not present
		return
	}
	nextCallbacks := slices.Clone(self.callbacks)
	nextCallbacks = slices.Delete(nextCallbacks, i, i + 1)
	self.callbacks = nextCallbacks
}


// a monitor hands out a channel that is closed on the next update.
// waiters grab `NotifyChannel()` then select on it
type Monitor struct {
	mutex sync.Mutex
	update chan struct{}
}

func NewMonitor() *Monitor {
	return &Monitor{
		update: make(chan struct{}),
	}
}

func (self *Monitor) NotifyChannel() chan struct{} {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.update
}

func (self *Monitor) NotifyAll() {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	// close the update channel and create a new one
	close(self.update)
	self.update = make(chan struct{})
}
