package match

import (
	"context"
	"net/http"
	"testing"

	"github.com/go-playground/assert/v2"
)


func TestSessionStore(t *testing.T) {
	session := NewSessionStore()
	assert.Equal(t, session.Present(), false)
	assert.Equal(t, session.Get() == nil, true)

	changes := []*User{}
	unsub := session.AddSessionChangeCallback(func(user *User) {
		changes = append(changes, user)
	})
	defer unsub()

	notify := session.NotifyChannel()
	session.Set(testUser("a"))
	select {
	case <-notify:
	default:
		t.Fatalf("Expected notify.")
	}
	assert.Equal(t, session.Present(), true)
	userId, ok := session.UserId()
	assert.Equal(t, ok, true)
	assert.Equal(t, userId, Id("a"))

	// readers get copies
	user := session.Get()
	user.FirstName = "Changed"
	user.Skills = append(user.Skills, "go")
	assert.Equal(t, session.Get().FirstName, "Firsta")
	assert.Equal(t, len(session.Get().Skills), 0)

	age := 30
	assert.Equal(t, session.Merge(&ProfilePatch{About: "hi", Age: &age, Skills: []string{"go"}}), true)
	assert.Equal(t, session.Get().About, "hi")
	assert.Equal(t, *session.Get().Age, 30)
	assert.Equal(t, session.Get().Skills, []string{"go"})
	assert.Equal(t, session.Get().FirstName, "Firsta")

	assert.Equal(t, session.SetPremium(true), true)
	assert.Equal(t, session.SetPremium(true), false)
	assert.Equal(t, session.Get().IsPremium, true)

	session.Clear()
	session.Clear()
	assert.Equal(t, session.Present(), false)
	assert.Equal(t, session.Merge(&ProfilePatch{About: "x"}), false)
	assert.Equal(t, session.SetPremium(false), false)

	// set, merge, premium, clear. The second clear is not a change
	assert.Equal(t, len(changes), 4)
	assert.Equal(t, changes[3] == nil, true)
}

func TestGateProtectedView(t *testing.T) {
	session := NewSessionStore()
	navigator := &testNavigator{}
	gate := NewGate(session, navigator)

	rendered := false
	assert.Equal(t, gate.Allow(), false)
	assert.Equal(t, gate.Protect(func(me *User) {
		rendered = true
	}), false)
	assert.Equal(t, rendered, false)
	assert.Equal(t, navigator.Routes(), []string{RouteLogin, RouteLogin})

	session.Set(testUser("me"))
	assert.Equal(t, gate.Allow(), true)
	assert.Equal(t, gate.Protect(func(me *User) {
		rendered = true
		assert.Equal(t, me.Id, Id("me"))
	}), true)
	assert.Equal(t, rendered, true)
	assert.Equal(t, len(navigator.Routes()), 2)

	assert.Equal(t, gate.CheckUnauthorized(&ApiError{StatusCode: http.StatusInternalServerError}), false)
	assert.Equal(t, session.Present(), true)
	assert.Equal(t, gate.CheckUnauthorized(&ApiError{StatusCode: http.StatusUnauthorized}), true)
	assert.Equal(t, session.Present(), false)
	assert.Equal(t, navigator.Last(), RouteLogin)
}

func TestProtectedLoadWithoutSession(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	remote := newTestRemote(t, ctx)

	assert.Equal(t, remote.client.LoadFeed(ctx), ErrNotAuthenticated)
	assert.Equal(t, remote.client.LoadConnections(ctx), ErrNotAuthenticated)
	assert.Equal(t, remote.navigator.Last(), RouteLogin)
	assert.Equal(t, remote.server.RequestCount("GET", "/feed"), 0)
	assert.Equal(t, remote.client.Store().Feed.State(), CollectionUnloaded)
}

func TestFetchProfileOnce(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	remote := newTestRemote(t, ctx)
	me := remote.addUser(t, "Me")
	remote.login(t, ctx, me)
	assert.Equal(t, remote.client.Store().Session.Present(), true)

	user, err := remote.client.Account().FetchProfile(ctx)
	assert.Equal(t, err, nil)
	assert.Equal(t, user.Id, Id(me.Id))
	assert.Equal(t, remote.server.RequestCount("GET", "/profile/view"), 0)
}

func TestFetchProfileRestoresSession(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	remote := newTestRemote(t, ctx)
	me := remote.addUser(t, "Me")
	remote.login(t, ctx, me)

	// a new process with the saved cookie
	cookies := remote.client.Api().Cookies()
	assert.Equal(t, len(cookies), 1)
	restored, err := NewClient(ctx, remote.httpServer.URL, remote.navigator, DefaultClientSettings())
	assert.Equal(t, err, nil)
	defer restored.Close()
	restored.Api().SetCookies(cookies)

	user, err := restored.Account().FetchProfile(ctx)
	assert.Equal(t, err, nil)
	assert.Equal(t, user.Id, Id(me.Id))
	assert.Equal(t, restored.Store().Session.Present(), true)
	assert.Equal(t, remote.server.RequestCount("GET", "/profile/view"), 1)
}

func TestFetchProfileUnauthorized(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	remote := newTestRemote(t, ctx)

	_, err := remote.client.Account().FetchProfile(ctx)
	assert.Equal(t, IsUnauthorized(err), true)
	assert.Equal(t, remote.client.Store().Session.Present(), false)
	assert.Equal(t, remote.navigator.Last(), RouteLogin)
}

func TestFetchProfileServerError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	remote := newTestRemote(t, ctx)
	remote.server.FailNext("GET", "/profile/view", http.StatusInternalServerError)

	_, err := remote.client.Account().FetchProfile(ctx)
	assert.NotEqual(t, err, nil)
	assert.Equal(t, IsUnauthorized(err), false)
	assert.Equal(t, IsTransient(err), true)
	assert.Equal(t, remote.client.Store().Session.Present(), false)
	// no redirect for other errors
	assert.Equal(t, len(remote.navigator.Routes()), 0)
}
