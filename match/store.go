package match

import (
	"context"
)


// the client document that every view reads.
// The store is a small set of named, typed slices. Each slice has exactly one
// write path (a reducer for collections, `Set`/`Clear` for the session).
// Views subscribe to a slice with a change callback and unsubscribe with the
// returned function, or select on the slice notify channel.
//
// general pattern:
// store.Feed.Load(mount.Ctx())
// unsub := store.Feed.AddChangeCallback(render)
// mount.Defer(unsub)


// the remote reads that back the collections
type Fetcher interface {
	FetchFeed(ctx context.Context) ([]*User, error)
	FetchConnections(ctx context.Context) ([]*Connection, error)
	FetchRequests(ctx context.Context) ([]*IncomingRequest, error)
}


type AppStore struct {
	Session *SessionStore
	// fetched once per session, a traversal queue
	Feed *Collection[*User]
	// refreshed on every mount
	Connections *Collection[*Connection]
	// refreshed on every mount
	Requests *Collection[*IncomingRequest]
	Notifications *Notifications
}

func NewAppStoreWithDefaults(fetcher Fetcher) *AppStore {
	return NewAppStore(fetcher, DefaultCollectionSettings())
}

func NewAppStore(fetcher Fetcher, settings *CollectionSettings) *AppStore {
	store := &AppStore{
		Session: NewSessionStore(),
		Feed: NewCollection[*User]("feed", LoadOnce, fetcher.FetchFeed, settings),
		Connections: NewCollection[*Connection]("connections", LoadAlways, fetcher.FetchConnections, settings),
		Requests: NewCollection[*IncomingRequest]("requests", LoadAlways, fetcher.FetchRequests, settings),
		Notifications: NewNotificationsWithDefaults(),
	}
	// collections belong to the session user. Any loss of the session
	// (logout or a 401) unloads them
	store.Session.AddSessionChangeCallback(func(user *User) {
		if user == nil {
			store.unloadCollections()
		}
	})
	return store
}

// back to the logged out document. The next login starts with unloaded collections
func (self *AppStore) Reset() {
	self.Session.Clear()
	self.unloadCollections()
	self.Notifications.Clear()
}

func (self *AppStore) unloadCollections() {
	self.Feed.Unload()
	self.Connections.Unload()
	self.Requests.Unload()
}


// adapts the api to the store fetcher
type apiFetcher struct {
	api *DevMatchApi
}

func newApiFetcher(api *DevMatchApi) *apiFetcher {
	return &apiFetcher{
		api: api,
	}
}

func (self *apiFetcher) FetchFeed(ctx context.Context) ([]*User, error) {
	result, err := self.api.FeedSync(ctx)
	if err != nil {
		return nil, err
	}
	return result.Users, nil
}

func (self *apiFetcher) FetchConnections(ctx context.Context) ([]*Connection, error) {
	result, err := self.api.ConnectionsSync(ctx)
	if err != nil {
		return nil, err
	}
	return result.Connections, nil
}

func (self *apiFetcher) FetchRequests(ctx context.Context) ([]*IncomingRequest, error) {
	result, err := self.api.RequestsReceivedSync(ctx)
	if err != nil {
		return nil, err
	}
	return result.Requests, nil
}
