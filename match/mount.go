package match

import (
	"context"
	"slices"
	"sync"
)


// the lifetime of a view. Acquisitions made in a mount (fetches, channels)
// are paired with releases that run exactly once on `Close`, on every exit path.
// Results of effects are applied through `Apply`, which is a no-op once closed,
// so a fetch that resolves after the view is gone never writes to it
type Mount struct {
	ctx context.Context
	cancel context.CancelFunc

	// held while applying a result, so that close waits for an apply in progress
	applyLock sync.Mutex
	stateLock sync.Mutex
	closed bool
	releases []func()

	effects sync.WaitGroup
}

func NewMount(ctx context.Context) *Mount {
	cancelCtx, cancel := context.WithCancel(ctx)
	mount := &Mount{
		ctx: cancelCtx,
		cancel: cancel,
	}
	// a parent cancel closes the mount
	context.AfterFunc(cancelCtx, mount.Close)
	return mount
}

func (self *Mount) Ctx() context.Context {
	return self.ctx
}

func (self *Mount) Active() bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return !self.closed
}

// runs `effect` in the background with the mount context
func (self *Mount) Go(effect func(ctx context.Context)) {
	if !self.Active() {
		return
	}
	self.effects.Add(1)
	go func() {
		defer self.effects.Done()
		HandleError(func() {
			effect(self.ctx)
		})
	}()
}

// applies a result only while the mount is open. Must not call `Close`
func (self *Mount) Apply(apply func()) bool {
	self.applyLock.Lock()
	defer self.applyLock.Unlock()
	if !self.Active() {
		return false
	}
	HandleError(apply)
	return true
}

// registers a release action. Releases run in reverse order on close.
// When the mount is already closed the release runs now
func (self *Mount) Defer(release func()) {
	runNow := false
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		if self.closed {
			runNow = true
			return
		}
		self.releases = append(self.releases, release)
	}()
	if runNow {
		HandleError(release)
	}
}

func (self *Mount) Close() {
	// closed before cancel, so that an effect woken by the cancel cannot apply
	self.applyLock.Lock()
	var releases []func()
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		if self.closed {
			return
		}
		self.closed = true
		releases = self.releases
		self.releases = nil
	}()
	self.applyLock.Unlock()

	self.cancel()

	slices.Reverse(releases)
	for _, release := range releases {
		HandleError(release)
	}
}

// waits for background effects to exit
func (self *Mount) Wait() {
	self.effects.Wait()
}
