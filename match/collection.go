package match

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/golang/glog"
)


type LoadPolicy int

const (
	// a finite traversal queue. Not replaced under the user once loaded
	LoadOnce LoadPolicy = iota
	// refreshed on every load
	LoadAlways
)


// unloaded, loaded-empty and loaded-nonempty are distinct
// so that an empty state does not flash during the initial fetch
type CollectionState int

const (
	CollectionUnloaded CollectionState = iota
	CollectionEmpty
	CollectionNonEmpty
)

func (self CollectionState) String() string {
	switch self {
	case CollectionUnloaded:
		return "unloaded"
	case CollectionEmpty:
		return "empty"
	case CollectionNonEmpty:
		return "nonempty"
	default:
		return fmt.Sprintf("unknown(%d)", int(self))
	}
}


type CollectionActionKind int

const (
	ActionReplaceAll CollectionActionKind = iota
	ActionAdd
	ActionRemoveById
	ActionClear
	// back to unloaded, e.g. on logout
	ActionUnload
)

type CollectionAction[T Entity] struct {
	Kind CollectionActionKind
	Items []T
	Item T
	Id Id
}

func ReplaceAllAction[T Entity](items []T) CollectionAction[T] {
	return CollectionAction[T]{
		Kind: ActionReplaceAll,
		Items: items,
	}
}

func AddAction[T Entity](item T) CollectionAction[T] {
	return CollectionAction[T]{
		Kind: ActionAdd,
		Item: item,
	}
}

func RemoveByIdAction[T Entity](id Id) CollectionAction[T] {
	return CollectionAction[T]{
		Kind: ActionRemoveById,
		Id: id,
	}
}

func ClearAction[T Entity]() CollectionAction[T] {
	return CollectionAction[T]{
		Kind: ActionClear,
	}
}

func UnloadAction[T Entity]() CollectionAction[T] {
	return CollectionAction[T]{
		Kind: ActionUnload,
	}
}


type FetchFunction[T Entity] func(ctx context.Context) ([]T, error)

type CollectionChangeFunction[T Entity] func(items []T, state CollectionState)


type CollectionSettings struct {
	// total attempts per load, including the first. 1 disables retry
	RetryMaxTries uint
	RetryInitialInterval time.Duration
	RetryMaxInterval time.Duration
	RetryMultiplier float64
	RetryRandomizationFactor float64
}

func DefaultCollectionSettings() *CollectionSettings {
	return &CollectionSettings{
		RetryMaxTries: 4,
		RetryInitialInterval: 500 * time.Millisecond,
		RetryMaxInterval: 8 * time.Second,
		RetryMultiplier: 2,
		RetryRandomizationFactor: 0.2,
	}
}


// a materialized list synced from one endpoint.
// order is the server order, an id appears at most once
type Collection[T Entity] struct {
	name string
	policy LoadPolicy
	fetch FetchFunction[T]
	settings *CollectionSettings

	stateLock sync.Mutex
	items []T
	loaded bool
	lastErr error
	// changes on unload so that a load in flight across a logout does not apply
	generation uint64
	// non-nil while a load chain runs
	loadDone chan struct{}

	monitor *Monitor
	changeCallbacks *CallbackList[CollectionChangeFunction[T]]
}

func NewCollectionWithDefaults[T Entity](name string, policy LoadPolicy, fetch FetchFunction[T]) *Collection[T] {
	return NewCollection[T](name, policy, fetch, DefaultCollectionSettings())
}

func NewCollection[T Entity](name string, policy LoadPolicy, fetch FetchFunction[T], settings *CollectionSettings) *Collection[T] {
	return &Collection[T]{
		name: name,
		policy: policy,
		fetch: fetch,
		settings: settings,
		monitor: NewMonitor(),
		changeCallbacks: NewCallbackList[CollectionChangeFunction[T]](),
	}
}

func (self *Collection[T]) Name() string {
	return self.name
}

// the single mutation entry point
func (self *Collection[T]) Reduce(action CollectionAction[T]) bool {
	changed := false
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		switch action.Kind {
		case ActionReplaceAll:
			self.items = uniqueById(action.Items)
			self.loaded = true
			self.lastErr = nil
			changed = true
		case ActionAdd:
			id := action.Item.EntityId()
			if id == "" || 0 <= self.indexOf(id) {
				return
			}
			self.items = append(slices.Clone(self.items), action.Item)
			self.loaded = true
			changed = true
		case ActionRemoveById:
			i := self.indexOf(action.Id)
			if i < 0 {
				// idempotent
				return
			}
			self.items = slices.Delete(slices.Clone(self.items), i, i + 1)
			changed = true
		case ActionClear:
			changed = !self.loaded || 0 < len(self.items)
			self.items = nil
			self.loaded = true
		case ActionUnload:
			changed = self.loaded
			self.items = nil
			self.loaded = false
			self.lastErr = nil
			self.generation += 1
		}
	}()
	if changed {
		glog.V(LogLevelFrequent).Infof("[%s]reduce %d\n", self.name, action.Kind)
		self.changed()
	}
	return changed
}

func (self *Collection[T]) ReplaceAll(items []T) {
	self.Reduce(ReplaceAllAction(items))
}

func (self *Collection[T]) Add(item T) bool {
	return self.Reduce(AddAction(item))
}

// returns false when the id was not present
func (self *Collection[T]) RemoveById(id Id) bool {
	return self.Reduce(RemoveByIdAction[T](id))
}

func (self *Collection[T]) Clear() {
	self.Reduce(ClearAction[T]())
}

func (self *Collection[T]) Unload() {
	self.Reduce(UnloadAction[T]())
}

// must be called with `stateLock`
func (self *Collection[T]) indexOf(id Id) int {
	return slices.IndexFunc(self.items, func(item T) bool {
		return item.EntityId() == id
	})
}

func (self *Collection[T]) Items() []T {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return slices.Clone(self.items)
}

func (self *Collection[T]) Get(id Id) (T, bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if i := self.indexOf(id); 0 <= i {
		return self.items[i], true
	}
	var empty T
	return empty, false
}

func (self *Collection[T]) At(i int) (T, bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if 0 <= i && i < len(self.items) {
		return self.items[i], true
	}
	var empty T
	return empty, false
}

func (self *Collection[T]) Len() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return len(self.items)
}

func (self *Collection[T]) State() CollectionState {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.state()
}

// must be called with `stateLock`
func (self *Collection[T]) state() CollectionState {
	if !self.loaded {
		return CollectionUnloaded
	}
	if len(self.items) == 0 {
		return CollectionEmpty
	}
	return CollectionNonEmpty
}

func (self *Collection[T]) Loading() bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.loadDone != nil
}

// the error of the last load, cleared by the next successful load.
// views poll this instead of receiving a panic in their render path
func (self *Collection[T]) Err() error {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.lastErr
}

func (self *Collection[T]) AddChangeCallback(changeCallback CollectionChangeFunction[T]) func() {
	callbackId := self.changeCallbacks.Add(changeCallback)
	return func() {
		self.changeCallbacks.Remove(callbackId)
	}
}

func (self *Collection[T]) NotifyChannel() chan struct{} {
	return self.monitor.NotifyChannel()
}

func (self *Collection[T]) changed() {
	var items []T
	var state CollectionState
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		items = slices.Clone(self.items)
		state = self.state()
	}()
	for _, callback := range self.changeCallbacks.Get() {
		HandleError(func() {
			callback(items, state)
		})
	}
	self.monitor.NotifyAll()
}


// syncs the collection from its endpoint.
// A `LoadOnce` collection that is already loaded is left as is.
// Only one load chain (including its retries) runs at a time; a concurrent caller waits for it.
// On error the existing content is untouched and `Err` is set.
// A result that arrives after `ctx` is done is dropped.
func (self *Collection[T]) Load(ctx context.Context) error {
	var done chan struct{}
	var joinDone chan struct{}
	var generation uint64
	skip := false
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		if self.policy == LoadOnce && self.loaded {
			skip = true
			return
		}
		if self.loadDone != nil {
			joinDone = self.loadDone
			return
		}
		done = make(chan struct{})
		self.loadDone = done
		generation = self.generation
	}()
	if skip {
		return nil
	}
	if joinDone != nil {
		select {
		case <-joinDone:
			return self.Err()
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	changed := false
	defer func() {
		func() {
			self.stateLock.Lock()
			defer self.stateLock.Unlock()
			self.loadDone = nil
		}()
		close(done)
		if changed {
			self.changed()
		}
	}()

	items, err := self.fetchWithRetry(ctx)

	if ctxErr := ctx.Err(); ctxErr != nil {
		// the requester is gone
		glog.V(LogLevelKey).Infof("[%s]drop late load result\n", self.name)
		return ctxErr
	}

	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if generation != self.generation {
		// unloaded while in flight
		return ErrMountClosed
	}
	if err != nil {
		glog.Infof("[%s]load error = %s\n", self.name, err)
		self.lastErr = err
		return err
	}
	self.items = uniqueById(items)
	self.loaded = true
	self.lastErr = nil
	changed = true
	return nil
}

func (self *Collection[T]) fetchWithRetry(ctx context.Context) ([]T, error) {
	tries := max(1, self.settings.RetryMaxTries)

	exponential := backoff.NewExponentialBackOff()
	exponential.InitialInterval = self.settings.RetryInitialInterval
	exponential.MaxInterval = self.settings.RetryMaxInterval
	exponential.Multiplier = self.settings.RetryMultiplier
	exponential.RandomizationFactor = self.settings.RetryRandomizationFactor

	attempt := 0
	operation := func() ([]T, error) {
		attempt += 1
		var items []T
		var err error
		HandleError(func() {
			items, err = self.fetch(ctx)
		}, func(panicErr error) {
			err = backoff.Permanent(panicErr)
		})
		if err == nil {
			return items, nil
		}
		if !IsTransient(err) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}
	notify := func(err error, next time.Duration) {
		glog.Infof("[%s]load attempt %d error = %s, retry in %s\n", self.name, attempt, err, next)
	}

	items, err := backoff.Retry(
		ctx,
		operation,
		backoff.WithBackOff(exponential),
		backoff.WithMaxTries(tries),
		backoff.WithNotify(notify),
	)
	if err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			return nil, permanent.Unwrap()
		}
		return nil, err
	}
	return items, nil
}


func uniqueById[T Entity](items []T) []T {
	seen := map[Id]bool{}
	unique := make([]T, 0, len(items))
	for _, item := range items {
		id := item.EntityId()
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		unique = append(unique, item)
	}
	return unique
}
