package match

import (
	"fmt"
	"slices"
	"sync"
	"time"
)


type NotificationKind string

const (
	NotificationInfo NotificationKind = "info"
	NotificationSuccess NotificationKind = "success"
	NotificationError NotificationKind = "error"
)


// a dismissable transient message (the toast of the browser client)
type Notification struct {
	Id LocalId
	Kind NotificationKind
	Message string
	CreatedAt time.Time
}


type NotificationFunction func(notification *Notification)


const DefaultNotificationLimit = 32

type Notifications struct {
	stateLock sync.Mutex
	limit int
	notifications []*Notification

	notificationCallbacks *CallbackList[NotificationFunction]
}

func NewNotificationsWithDefaults() *Notifications {
	return NewNotifications(DefaultNotificationLimit)
}

func NewNotifications(limit int) *Notifications {
	return &Notifications{
		limit: max(1, limit),
		notificationCallbacks: NewCallbackList[NotificationFunction](),
	}
}

func (self *Notifications) Add(kind NotificationKind, message string) *Notification {
	notification := &Notification{
		Id: NewLocalId(),
		Kind: kind,
		Message: message,
		CreatedAt: time.Now(),
	}
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		self.notifications = append(self.notifications, notification)
		if self.limit < len(self.notifications) {
			// drop the oldest
			self.notifications = slices.Clone(self.notifications[len(self.notifications) - self.limit:])
		}
	}()
	for _, callback := range self.notificationCallbacks.Get() {
		HandleError(func() {
			callback(notification)
		})
	}
	return notification
}

func (self *Notifications) Errorf(format string, a ...any) *Notification {
	return self.Add(NotificationError, fmt.Sprintf(format, a...))
}

func (self *Notifications) Successf(format string, a ...any) *Notification {
	return self.Add(NotificationSuccess, fmt.Sprintf(format, a...))
}

func (self *Notifications) Dismiss(notificationId LocalId) bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	i := slices.IndexFunc(self.notifications, func(notification *Notification) bool {
		return notification.Id == notificationId
	})
	if i < 0 {
		return false
	}
	self.notifications = slices.Delete(slices.Clone(self.notifications), i, i + 1)
	return true
}

// oldest first
func (self *Notifications) List() []*Notification {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return slices.Clone(self.notifications)
}

func (self *Notifications) Clear() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.notifications = nil
}

func (self *Notifications) AddNotificationCallback(notificationCallback NotificationFunction) func() {
	callbackId := self.notificationCallbacks.Add(notificationCallback)
	return func() {
		self.notificationCallbacks.Remove(callbackId)
	}
}
