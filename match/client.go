package match

import (
	"context"

	"github.com/golang/glog"
)


type ClientSettings struct {
	ApiSettings *ApiSettings
	CollectionSettings *CollectionSettings
	DispatchSettings *DispatchSettings
	ChatSettings *ChatSettings
	// derived from the api url when empty
	ChatUrl string
}

func DefaultClientSettings() *ClientSettings {
	return &ClientSettings{
		ApiSettings: DefaultApiSettings(),
		CollectionSettings: DefaultCollectionSettings(),
		DispatchSettings: DefaultDispatchSettings(),
		ChatSettings: DefaultChatSettings(),
	}
}


// the client core of one logged in (or logging in) user.
// Everything a view needs hangs off the client: the store to read,
// the account and dispatcher to write, and chat channels
type Client struct {
	ctx context.Context
	cancel context.CancelFunc

	settings *ClientSettings
	chatUrl string

	api *DevMatchApi
	store *AppStore
	gate *Gate
	account *Account
	dispatcher *Dispatcher
	feed *FeedTraversal
}

func NewClientWithDefaults(ctx context.Context, apiUrl string, navigator Navigator) (*Client, error) {
	return NewClient(ctx, apiUrl, navigator, DefaultClientSettings())
}

func NewClient(ctx context.Context, apiUrl string, navigator Navigator, settings *ClientSettings) (*Client, error) {
	chatUrl := settings.ChatUrl
	if chatUrl == "" {
		var err error
		chatUrl, err = ChatUrlFromApiUrl(apiUrl)
		if err != nil {
			return nil, err
		}
	}

	cancelCtx, cancel := context.WithCancel(ctx)

	api := NewDevMatchApi(cancelCtx, apiUrl, settings.ApiSettings)
	store := NewAppStore(newApiFetcher(api), settings.CollectionSettings)
	gate := NewGate(store.Session, navigator)
	account := NewAccount(api, store, gate)
	dispatcher := NewDispatcher(cancelCtx, api, store, gate, settings.DispatchSettings)
	feed := NewFeedTraversal(store.Feed, dispatcher)

	return &Client{
		ctx: cancelCtx,
		cancel: cancel,
		settings: settings,
		chatUrl: chatUrl,
		api: api,
		store: store,
		gate: gate,
		account: account,
		dispatcher: dispatcher,
		feed: feed,
	}, nil
}

func (self *Client) Api() *DevMatchApi {
	return self.api
}

func (self *Client) Store() *AppStore {
	return self.store
}

func (self *Client) Gate() *Gate {
	return self.gate
}

func (self *Client) Account() *Account {
	return self.account
}

func (self *Client) Dispatcher() *Dispatcher {
	return self.dispatcher
}

func (self *Client) Feed() *FeedTraversal {
	return self.feed
}

func (self *Client) ChatUrl() string {
	return self.chatUrl
}

func (self *Client) LoadFeed(ctx context.Context) error {
	return loadProtected(self, ctx, self.store.Feed)
}

func (self *Client) LoadConnections(ctx context.Context) error {
	return loadProtected(self, ctx, self.store.Connections)
}

func (self *Client) LoadRequests(ctx context.Context) error {
	return loadProtected(self, ctx, self.store.Requests)
}

// reviews an incoming request. Same guarantees as any dispatch
func (self *Client) ReviewRequest(ctx context.Context, action DispatchAction, requestId Id) *DispatchOutcome {
	if !action.IsReviewAction() {
		return &DispatchOutcome{
			Action: action,
			EntityId: requestId,
			Err: ErrNoCandidate,
		}
	}
	return self.dispatcher.Dispatch(ctx, action, requestId)
}

// a channel for the conversation as the session user
func (self *Client) OpenChat(ctx context.Context, conversationId Id) (*ChatChannel, error) {
	me := self.store.Session.Get()
	if me == nil {
		self.gate.Navigate(RouteLogin)
		return nil, ErrNotAuthenticated
	}
	return NewChatChannel(ctx, self.chatUrl, self.api.CookieJar(), conversationId, me, self.settings.ChatSettings), nil
}

// a chat mount bound to `mount`. The open channel is closed when the mount closes
func (self *Client) NewChatMount(mount *Mount) *ChatMount {
	chatMount := NewChatMount(func(conversationId Id, me *User) *ChatChannel {
		return NewChatChannel(mount.Ctx(), self.chatUrl, self.api.CookieJar(), conversationId, me, self.settings.ChatSettings)
	})
	mount.Defer(chatMount.Close)
	return chatMount
}

func (self *Client) Close() {
	self.feed.Close()
	self.dispatcher.Close()
	self.api.Close()
	self.cancel()
}


// protected loads go through the gate. Errors become the collection error state
// and a notification, never a panic in the caller
func loadProtected[T Entity](client *Client, ctx context.Context, collection *Collection[T]) error {
	if !client.gate.Allow() {
		return ErrNotAuthenticated
	}
	err := collection.Load(ctx)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return err
	}
	if client.gate.CheckUnauthorized(err) {
		return err
	}
	glog.Infof("[client]load %s error = %s\n", collection.Name(), err)
	client.store.Notifications.Errorf("%s", ErrorMessage(err, "Could not load "+collection.Name()+"."))
	return err
}
