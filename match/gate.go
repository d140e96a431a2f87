package match

import (
	"github.com/golang/glog"
)


const (
	RouteFeed = "/"
	RouteLogin = "/login"
	RouteSignup = "/signup"
	RouteProfile = "/profile"
	RouteConnections = "/connections"
	RouteRequests = "/requests"
	RoutePremium = "/premium"
)


type Navigator interface {
	Navigate(route string)
}

type NavigatorFunc func(route string)

func (self NavigatorFunc) Navigate(route string) {
	self(route)
}


// session gating for protected views
type Gate struct {
	session *SessionStore
	navigator Navigator
}

func NewGate(session *SessionStore, navigator Navigator) *Gate {
	if navigator == nil {
		navigator = NewNoopNavigator()
	}
	return &Gate{
		session: session,
		navigator: navigator,
	}
}

// true when protected content may render. Otherwise redirects to login
func (self *Gate) Allow() bool {
	if self.session.Present() {
		return true
	}
	self.navigator.Navigate(RouteLogin)
	return false
}

// renders `view` only with a session present
func (self *Gate) Protect(view func(me *User)) bool {
	me := self.session.Get()
	if me == nil {
		self.navigator.Navigate(RouteLogin)
		return false
	}
	view(me)
	return true
}

// authentication loss on any protected call.
// Clears the session and redirects; returns true when `err` was an authorization error
func (self *Gate) CheckUnauthorized(err error) bool {
	if !IsUnauthorized(err) {
		return false
	}
	glog.Infof("[gate]authorization lost = %s\n", err)
	self.session.Clear()
	self.navigator.Navigate(RouteLogin)
	return true
}

func (self *Gate) Navigate(route string) {
	self.navigator.Navigate(route)
}
