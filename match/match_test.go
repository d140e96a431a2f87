package match

import (
	"context"
	"flag"
	"fmt"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"github.com/devmatch/devmatch/match/mockapi"
)


func init() {
	initGlog()
}

func initGlog() {
	flag.Set("logtostderr", "true")
	flag.Set("stderrthreshold", "INFO")
	flag.Set("v", "0")
}


func testUser(id string) *User {
	return &User{
		Id: Id(id),
		FirstName: fmt.Sprintf("First%s", id),
		LastName: fmt.Sprintf("Last%s", id),
		Skills: []string{},
	}
}

func testUsers(ids ...string) []*User {
	users := []*User{}
	for _, id := range ids {
		users = append(users, testUser(id))
	}
	return users
}

func userIds(users []*User) []Id {
	ids := []Id{}
	for _, user := range users {
		ids = append(ids, user.Id)
	}
	return ids
}

func testCollectionSettings() *CollectionSettings {
	return &CollectionSettings{
		RetryMaxTries: 3,
		RetryInitialInterval: time.Millisecond,
		RetryMaxInterval: 5 * time.Millisecond,
		RetryMultiplier: 2,
		RetryRandomizationFactor: 0,
	}
}


// serves fixed lists
type testFetcher struct {
	stateLock sync.Mutex
	feed []*User
	connections []*Connection
	requests []*IncomingRequest
	feedFetchCount int
}

func (self *testFetcher) FetchFeed(ctx context.Context) ([]*User, error) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.feedFetchCount += 1
	return self.feed, nil
}

func (self *testFetcher) FetchConnections(ctx context.Context) ([]*Connection, error) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.connections, nil
}

func (self *testFetcher) FetchRequests(ctx context.Context) ([]*IncomingRequest, error) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.requests, nil
}


// records each outbound call. With `block` set, calls wait until it is closed
type testSender struct {
	stateLock sync.Mutex
	calls []string
	block chan struct{}
	started chan string
	err error
}

func newTestSender() *testSender {
	return &testSender{
		started: make(chan string, 16),
	}
}

func (self *testSender) call(ctx context.Context, path string) error {
	var block chan struct{}
	var err error
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		self.calls = append(self.calls, path)
		block = self.block
		err = self.err
	}()
	select {
	case self.started <- path:
	default:
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (self *testSender) SendRequestSync(ctx context.Context, status string, toUserId Id) (*SendRequestResult, error) {
	if err := self.call(ctx, sendRequestPath(status, toUserId)); err != nil {
		return nil, err
	}
	return &SendRequestResult{}, nil
}

func (self *testSender) ReviewRequestSync(ctx context.Context, status string, requestId Id) (*ReviewRequestResult, error) {
	if err := self.call(ctx, reviewRequestPath(status, requestId)); err != nil {
		return nil, err
	}
	return &ReviewRequestResult{}, nil
}

func (self *testSender) Calls() []string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return append([]string{}, self.calls...)
}


// records navigations
type testNavigator struct {
	stateLock sync.Mutex
	routes []string
}

func (self *testNavigator) Navigate(route string) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.routes = append(self.routes, route)
}

func (self *testNavigator) Routes() []string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return append([]string{}, self.routes...)
}

func (self *testNavigator) Last() string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if len(self.routes) == 0 {
		return ""
	}
	return self.routes[len(self.routes) - 1]
}


// a client against an in-memory remote api
type testRemote struct {
	server *mockapi.Server
	httpServer *httptest.Server
	navigator *testNavigator
	client *Client
}

func newTestRemote(t *testing.T, ctx context.Context) *testRemote {
	server := mockapi.NewServer()
	httpServer := httptest.NewServer(server.Handler())
	t.Cleanup(func() {
		server.Close()
		httpServer.Close()
	})

	settings := DefaultClientSettings()
	settings.CollectionSettings = testCollectionSettings()
	settings.ChatSettings.HandshakeTimeout = 2 * time.Second

	navigator := &testNavigator{}
	client, err := NewClient(ctx, httpServer.URL, navigator, settings)
	assert.Equal(t, err, nil)
	t.Cleanup(client.Close)

	return &testRemote{
		server: server,
		httpServer: httpServer,
		navigator: navigator,
		client: client,
	}
}

func (self *testRemote) addUser(t *testing.T, firstName string) *mockapi.User {
	user, err := self.server.AddUser(&mockapi.NewUser{
		FirstName: firstName,
		LastName: "Test",
		EmailId: fmt.Sprintf("%s@example.com", firstName),
		Password: "Secret@123",
	})
	assert.Equal(t, err, nil)
	return user
}

func (self *testRemote) login(t *testing.T, ctx context.Context, user *mockapi.User) *User {
	me, err := self.client.Account().Login(ctx, &LoginArgs{
		EmailId: user.EmailId,
		Password: "Secret@123",
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, me.Id, Id(user.Id))
	return me
}


// waits for `condition` up to a timeout
func waitFor(t *testing.T, condition func() bool) {
	t.Helper()
	end := time.Now().Add(5 * time.Second)
	for !condition() {
		if end.Before(time.Now()) {
			t.Fatalf("Timeout.")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
