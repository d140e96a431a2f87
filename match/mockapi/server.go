package mockapi

import (
	"crypto/rand"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang/glog"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)


const SessionCookieName = "token"

const SessionDuration = 8 * time.Hour

const MaxImageByteCount = 5 * 1024 * 1024


type routeKey struct {
	method string
	path string
}

func newRouteKey(method string, path string) routeKey {
	return routeKey{
		method: strings.ToUpper(method),
		path: path,
	}
}


// an in-memory remote api for the client core.
// Test hooks count requests per route, hold a route open until released,
// and fail the next request on a route with a status
type Server struct {
	secret []byte
	imageBaseUrl string

	stateLock sync.Mutex
	accounts map[string]*account
	// email -> user id
	emails map[string]string
	requests map[string]*ConnectionRequest
	// request order for listings
	requestIds []string
	userIds []string

	hookLock sync.Mutex
	counts map[routeKey]int
	holds map[routeKey]chan struct{}
	failures map[routeKey][]int

	hub *chatHub
	engine *gin.Engine
}

func NewServer() *Server {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		panic(err)
	}
	server := &Server{
		secret: secret,
		imageBaseUrl: "https://images.devmatch.test",
		accounts: map[string]*account{},
		emails: map[string]string{},
		requests: map[string]*ConnectionRequest{},
		counts: map[routeKey]int{},
		holds: map[routeKey]chan struct{}{},
		failures: map[routeKey][]int{},
		hub: newChatHub(),
	}
	server.engine = server.router()
	return server
}

func (self *Server) Handler() http.Handler {
	return self.engine
}

func (self *Server) router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOriginFunc: func(origin string) bool {
			return true
		},
		AllowMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders: []string{"Content-Length", "Content-Type"},
		AllowCredentials: true,
		MaxAge: 12 * time.Hour,
	}))
	router.Use(self.logRequest())
	router.Use(self.testHooks())

	router.POST("/signup", self.signup)
	router.POST("/login", self.login)
	router.POST("/logout", self.logout)
	router.POST("/upload/image", self.uploadImage)

	protected := router.Group("/")
	protected.Use(self.requireSession())

	protected.GET("/profile/view", self.profileView)
	protected.PATCH("/profile/edit", self.profileEdit)
	protected.GET("/feed", self.feed)
	protected.POST("/request/send/:status/:toUserId", self.sendRequest)
	protected.GET("/user/connections", self.connections)
	protected.GET("/user/requests/received", self.requestsReceived)
	protected.POST("/request/review/:status/:requestId", self.reviewRequest)
	protected.POST("/payment/create", self.paymentCreate)
	protected.GET("/premium/verify", self.premiumVerify)
	protected.GET("/chat", self.chat)

	return router
}

func (self *Server) logRequest() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		glog.V(2).Infof("[mockapi]%s %s %d (%s)\n", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

func (self *Server) testHooks() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}
		key := newRouteKey(c.Request.Method, c.Request.URL.Path)

		var hold chan struct{}
		status := 0
		func() {
			self.hookLock.Lock()
			defer self.hookLock.Unlock()
			self.counts[key] += 1
			hold = self.holds[key]
			if failures := self.failures[key]; 0 < len(failures) {
				status = failures[0]
				self.failures[key] = failures[1:]
			}
		}()

		if hold != nil {
			select {
			case <-hold:
			case <-c.Request.Context().Done():
				c.Abort()
				return
			}
		}
		if status != 0 {
			c.String(status, "ERROR : %s", http.StatusText(status))
			c.Abort()
			return
		}
		c.Next()
	}
}


// the number of requests received for the route, including failed and held ones
func (self *Server) RequestCount(method string, path string) int {
	self.hookLock.Lock()
	defer self.hookLock.Unlock()
	return self.counts[newRouteKey(method, path)]
}

// requests on the route wait until `release` is called
func (self *Server) Hold(method string, path string) (release func()) {
	key := newRouteKey(method, path)
	hold := make(chan struct{})
	func() {
		self.hookLock.Lock()
		defer self.hookLock.Unlock()
		self.holds[key] = hold
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			self.hookLock.Lock()
			defer self.hookLock.Unlock()
			if self.holds[key] == hold {
				delete(self.holds, key)
			}
			close(hold)
		})
	}
}

// the next request on the route responds with `status`
func (self *Server) FailNext(method string, path string, status int) {
	key := newRouteKey(method, path)
	self.hookLock.Lock()
	defer self.hookLock.Unlock()
	self.failures[key] = append(self.failures[key], status)
}


func (self *Server) AddUser(newUser *NewUser) (*User, error) {
	emailId := strings.ToLower(strings.TrimSpace(newUser.EmailId))
	if emailId == "" || newUser.Password == "" {
		return nil, fmt.Errorf("Email and password are required")
	}
	passwordHash, err := bcrypt.GenerateFromPassword([]byte(newUser.Password), bcrypt.MinCost)
	if err != nil {
		return nil, err
	}

	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if _, ok := self.emails[emailId]; ok {
		return nil, fmt.Errorf("Email already exists")
	}

	user := &User{
		Id: uuid.NewString(),
		FirstName: newUser.FirstName,
		LastName: newUser.LastName,
		EmailId: emailId,
		Age: newUser.Age,
		Gender: newUser.Gender,
		PhotoUrl: newUser.PhotoUrl,
		About: newUser.About,
		Skills: newUser.Skills,
	}
	self.accounts[user.Id] = &account{
		user: user,
		passwordHash: passwordHash,
	}
	self.emails[emailId] = user.Id
	self.userIds = append(self.userIds, user.Id)
	return user.clone(), nil
}

func (self *Server) User(userId string) (*User, bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	account, ok := self.accounts[userId]
	if !ok {
		return nil, false
	}
	return account.user.clone(), true
}

// the payment provider callback
func (self *Server) SetPremium(userId string, isPremium bool) bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	account, ok := self.accounts[userId]
	if !ok {
		return false
	}
	account.user.IsPremium = isPremium
	return true
}

// seeds a request between two users. An accepted request is a connection
func (self *Server) AddRequest(fromUserId string, toUserId string, status string) (*ConnectionRequest, error) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.addRequest(fromUserId, toUserId, status)
}

// must be called with `stateLock`
func (self *Server) addRequest(fromUserId string, toUserId string, status string) (*ConnectionRequest, error) {
	if _, ok := self.accounts[fromUserId]; !ok {
		return nil, fmt.Errorf("User not found!")
	}
	if _, ok := self.accounts[toUserId]; !ok {
		return nil, fmt.Errorf("User not found!")
	}
	if fromUserId == toUserId {
		return nil, fmt.Errorf("Cannot send a request to yourself")
	}
	for _, request := range self.requests {
		if (request.FromUserId == fromUserId && request.ToUserId == toUserId) ||
			(request.FromUserId == toUserId && request.ToUserId == fromUserId) {
			return nil, fmt.Errorf("Connection Request Already Exists!!")
		}
	}
	now := time.Now()
	request := &ConnectionRequest{
		Id: uuid.NewString(),
		FromUserId: fromUserId,
		ToUserId: toUserId,
		Status: status,
		CreatedAt: now,
		UpdatedAt: now,
	}
	self.requests[request.Id] = request
	self.requestIds = append(self.requestIds, request.Id)
	requestCopy := *request
	return &requestCopy, nil
}

// the number of channels joined to the room
func (self *Server) RoomMembers(room string) int {
	return self.hub.members(room)
}

// closes every chat connection
func (self *Server) Close() {
	self.hub.closeAll()
}
