package match

import (
	"sync"

	"github.com/golang/glog"
)


// called with the new user, or nil when the session is cleared
type SessionChangeFunction func(user *User)


// the single source of truth for "am I logged in, and as whom".
// readers get clones; all writes go through `Set`, `Clear`, `Merge` and `SetPremium`
type SessionStore struct {
	stateLock sync.Mutex
	user *User

	monitor *Monitor
	sessionChangeCallbacks *CallbackList[SessionChangeFunction]
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		monitor: NewMonitor(),
		sessionChangeCallbacks: NewCallbackList[SessionChangeFunction](),
	}
}

// nil when absent
func (self *SessionStore) Get() *User {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.user.Clone()
}

func (self *SessionStore) Present() bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.user != nil
}

func (self *SessionStore) UserId() (Id, bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if self.user == nil {
		return "", false
	}
	return self.user.Id, true
}

// replaces the session user wholesale
func (self *SessionStore) Set(user *User) {
	if user == nil {
		self.Clear()
		return
	}
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		self.user = user.Clone()
	}()
	glog.V(LogLevelKey).Infof("[session]set %s\n", user.Id)
	self.changed()
}

func (self *SessionStore) Clear() {
	wasPresent := false
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		wasPresent = self.user != nil
		self.user = nil
	}()
	if wasPresent {
		glog.V(LogLevelKey).Infof("[session]clear\n")
		self.changed()
	}
}

// applies a profile patch to the session user. No-op when absent
func (self *SessionStore) Merge(patch *ProfilePatch) bool {
	merged := false
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		if self.user == nil {
			return
		}
		user := self.user.Clone()
		if patch.FirstName != "" {
			user.FirstName = patch.FirstName
		}
		if patch.LastName != "" {
			user.LastName = patch.LastName
		}
		if patch.Age != nil {
			age := *patch.Age
			user.Age = &age
		}
		if patch.Gender != "" {
			user.Gender = patch.Gender
		}
		if patch.PhotoUrl != "" {
			user.PhotoUrl = patch.PhotoUrl
		}
		if patch.About != "" {
			user.About = patch.About
		}
		if patch.Skills != nil {
			user.Skills = append([]string{}, patch.Skills...)
		}
		self.user = user
		merged = true
	}()
	if merged {
		self.changed()
	}
	return merged
}

// only a server verification may call this
func (self *SessionStore) SetPremium(isPremium bool) bool {
	changed := false
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		if self.user == nil || self.user.IsPremium == isPremium {
			return
		}
		user := self.user.Clone()
		user.IsPremium = isPremium
		self.user = user
		changed = true
	}()
	if changed {
		self.changed()
	}
	return changed
}

func (self *SessionStore) AddSessionChangeCallback(sessionChangeCallback SessionChangeFunction) func() {
	callbackId := self.sessionChangeCallbacks.Add(sessionChangeCallback)
	return func() {
		self.sessionChangeCallbacks.Remove(callbackId)
	}
}

// closed on the next change
func (self *SessionStore) NotifyChannel() chan struct{} {
	return self.monitor.NotifyChannel()
}

func (self *SessionStore) changed() {
	user := self.Get()
	for _, callback := range self.sessionChangeCallbacks.Get() {
		HandleError(func() {
			callback(user)
		})
	}
	self.monitor.NotifyAll()
}
