package match

import (
	"testing"

	"github.com/go-playground/assert/v2"
)


func TestNotifications(t *testing.T) {
	notifications := NewNotifications(2)

	added := []*Notification{}
	unsub := notifications.AddNotificationCallback(func(notification *Notification) {
		added = append(added, notification)
	})

	first := notifications.Errorf("Could not send request to %s.", "Ann")
	second := notifications.Successf("Request accepted.")
	assert.Equal(t, first.Kind, NotificationError)
	assert.Equal(t, first.Message, "Could not send request to Ann.")
	assert.Equal(t, len(added), 2)

	// the oldest is dropped past the limit
	third := notifications.Add(NotificationInfo, "Profile saved.")
	list := notifications.List()
	assert.Equal(t, len(list), 2)
	assert.Equal(t, list[0].Id, second.Id)
	assert.Equal(t, list[1].Id, third.Id)

	assert.Equal(t, notifications.Dismiss(second.Id), true)
	assert.Equal(t, notifications.Dismiss(second.Id), false)
	assert.Equal(t, notifications.Dismiss(first.Id), false)
	list = notifications.List()
	assert.Equal(t, len(list), 1)
	assert.Equal(t, list[0].Id, third.Id)

	unsub()
	notifications.Add(NotificationInfo, "ignored by the listener")
	assert.Equal(t, len(added), 3)

	notifications.Clear()
	assert.Equal(t, len(notifications.List()), 0)
}
