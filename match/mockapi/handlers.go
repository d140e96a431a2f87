package mockapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)


type sessionClaims struct {
	UserId string `json:"_id"`
	jwt.RegisteredClaims
}


const contextUserIdKey = "userId"


func (self *Server) signSession(userId string) (string, error) {
	now := time.Now()
	claims := &sessionClaims{
		UserId: userId,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(SessionDuration)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(self.secret)
}

func (self *Server) parseSession(tokenString string) (string, error) {
	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return self.secret, nil
	})
	if err != nil {
		return "", err
	}
	if !token.Valid || claims.UserId == "" {
		return "", errors.New("Token is not valid")
	}
	return claims.UserId, nil
}

func (self *Server) requireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}
		tokenString, err := c.Cookie(SessionCookieName)
		if err != nil || tokenString == "" {
			c.String(http.StatusUnauthorized, "Please Login!")
			c.Abort()
			return
		}
		userId, err := self.parseSession(tokenString)
		if err != nil {
			c.String(http.StatusUnauthorized, "Please Login!")
			c.Abort()
			return
		}
		if _, ok := self.User(userId); !ok {
			c.String(http.StatusUnauthorized, "Please Login!")
			c.Abort()
			return
		}
		c.Set(contextUserIdKey, userId)
		c.Next()
	}
}

func sessionUserId(c *gin.Context) string {
	return c.GetString(contextUserIdKey)
}

func setSessionCookie(c *gin.Context, value string, maxAge int) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name: SessionCookieName,
		Value: value,
		Path: "/",
		MaxAge: maxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}


func (self *Server) signup(c *gin.Context) {
	var newUser NewUser
	if err := c.ShouldBindJSON(&newUser); err != nil {
		c.String(http.StatusBadRequest, "ERROR : %s", err)
		return
	}
	user, err := self.AddUser(&newUser)
	if err != nil {
		c.String(http.StatusBadRequest, "ERROR : %s", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "User Added successfully!",
		"data": user,
	})
}

func (self *Server) login(c *gin.Context) {
	var login struct {
		EmailId string `json:"emailId"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&login); err != nil {
		c.String(http.StatusBadRequest, "ERROR : %s", err)
		return
	}

	var user *User
	var passwordHash []byte
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		userId, ok := self.emails[strings.ToLower(strings.TrimSpace(login.EmailId))]
		if !ok {
			return
		}
		account := self.accounts[userId]
		user = account.user.clone()
		passwordHash = account.passwordHash
	}()
	if user == nil || bcrypt.CompareHashAndPassword(passwordHash, []byte(login.Password)) != nil {
		c.String(http.StatusBadRequest, "ERROR : Invalid credentials")
		return
	}

	token, err := self.signSession(user.Id)
	if err != nil {
		c.String(http.StatusInternalServerError, "ERROR : %s", err)
		return
	}
	setSessionCookie(c, token, int(SessionDuration / time.Second))
	c.JSON(http.StatusOK, user)
}

func (self *Server) logout(c *gin.Context) {
	setSessionCookie(c, "", -1)
	c.String(http.StatusOK, "Logout Successful!!")
}

func (self *Server) profileView(c *gin.Context) {
	user, _ := self.User(sessionUserId(c))
	c.JSON(http.StatusOK, user)
}

func (self *Server) profileEdit(c *gin.Context) {
	var patch struct {
		FirstName *string `json:"firstName"`
		LastName *string `json:"lastName"`
		Age *int `json:"age"`
		Gender *string `json:"gender"`
		PhotoUrl *string `json:"photoUrl"`
		About *string `json:"about"`
		Skills []string `json:"skills"`
	}
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.String(http.StatusBadRequest, "ERROR : Invalid Edit Request")
		return
	}
	if patch.Gender != nil && !slices.Contains([]string{"male", "female", "others"}, *patch.Gender) {
		c.String(http.StatusBadRequest, "ERROR : Gender data is not valid")
		return
	}

	var user *User
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		account := self.accounts[sessionUserId(c)]
		if patch.FirstName != nil {
			account.user.FirstName = *patch.FirstName
		}
		if patch.LastName != nil {
			account.user.LastName = *patch.LastName
		}
		if patch.Age != nil {
			age := *patch.Age
			account.user.Age = &age
		}
		if patch.Gender != nil {
			account.user.Gender = *patch.Gender
		}
		if patch.PhotoUrl != nil {
			account.user.PhotoUrl = *patch.PhotoUrl
		}
		if patch.About != nil {
			account.user.About = *patch.About
		}
		if patch.Skills != nil {
			account.user.Skills = slices.Clone(patch.Skills)
		}
		user = account.user.clone()
	}()
	c.JSON(http.StatusOK, gin.H{
		"message": fmt.Sprintf("%s, your profile updated successfully", user.FirstName),
		"user": user,
	})
}

// every other user with no request in either direction
func (self *Server) feed(c *gin.Context) {
	me := sessionUserId(c)
	limit := 0
	if limitString := c.Query("limit"); limitString != "" {
		limit, _ = strconv.Atoi(limitString)
	}

	users := []*User{}
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		hidden := map[string]bool{
			me: true,
		}
		for _, request := range self.requests {
			if request.FromUserId == me {
				hidden[request.ToUserId] = true
			}
			if request.ToUserId == me {
				hidden[request.FromUserId] = true
			}
		}
		for _, userId := range self.userIds {
			if hidden[userId] {
				continue
			}
			users = append(users, self.accounts[userId].user.clone())
			if 0 < limit && limit <= len(users) {
				break
			}
		}
	}()
	c.JSON(http.StatusOK, gin.H{
		"users": users,
	})
}

func (self *Server) sendRequest(c *gin.Context) {
	status := c.Param("status")
	if status != StatusInterested && status != StatusIgnored {
		c.JSON(http.StatusBadRequest, gin.H{
			"message": fmt.Sprintf("Invalid status type: %s", status),
		})
		return
	}
	toUserId := c.Param("toUserId")
	if _, ok := self.User(toUserId); !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"message": "User not found!",
		})
		return
	}
	request, err := self.AddRequest(sessionUserId(c), toUserId, status)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": fmt.Sprintf("Connection request %s", status),
		"data": request,
	})
}

func (self *Server) connections(c *gin.Context) {
	me := sessionUserId(c)
	connections := []*populatedRequest{}
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		for _, requestId := range self.requestIds {
			request := self.requests[requestId]
			if request.Status != StatusAccepted {
				continue
			}
			if request.FromUserId != me && request.ToUserId != me {
				continue
			}
			connections = append(connections, self.populate(request))
		}
	}()
	c.JSON(http.StatusOK, gin.H{
		"data": connections,
	})
}

func (self *Server) requestsReceived(c *gin.Context) {
	me := sessionUserId(c)
	requests := []*populatedRequest{}
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		for _, requestId := range self.requestIds {
			request := self.requests[requestId]
			if request.ToUserId != me || request.Status != StatusInterested {
				continue
			}
			populated := self.populate(request)
			populated.ToUser = nil
			requests = append(requests, populated)
		}
	}()
	c.JSON(http.StatusOK, gin.H{
		"message": "Data fetched successfully",
		"connectionRequests": requests,
	})
}

// must be called with `stateLock`
func (self *Server) populate(request *ConnectionRequest) *populatedRequest {
	populated := &populatedRequest{
		Id: request.Id,
		Status: request.Status,
		CreatedAt: request.CreatedAt,
		UpdatedAt: request.UpdatedAt,
	}
	if account, ok := self.accounts[request.FromUserId]; ok {
		populated.FromUser = account.user.clone()
	}
	if account, ok := self.accounts[request.ToUserId]; ok {
		populated.ToUser = account.user.clone()
	}
	return populated
}

func (self *Server) reviewRequest(c *gin.Context) {
	status := c.Param("status")
	if status != StatusAccepted && status != StatusRejected {
		c.JSON(http.StatusBadRequest, gin.H{
			"message": "Status not allowed!",
		})
		return
	}
	me := sessionUserId(c)
	requestId := c.Param("requestId")

	var reviewed *ConnectionRequest
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		request, ok := self.requests[requestId]
		if !ok || request.ToUserId != me || request.Status != StatusInterested {
			return
		}
		request.Status = status
		request.UpdatedAt = time.Now()
		requestCopy := *request
		reviewed = &requestCopy
	}()
	if reviewed == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"message": "Connection request not found",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": fmt.Sprintf("Connection request %s", status),
		"data": reviewed,
	})
}

func (self *Server) paymentCreate(c *gin.Context) {
	var paymentCreate struct {
		MembershipType string `json:"membershipType"`
		Amount int `json:"amount"`
	}
	if err := c.ShouldBindJSON(&paymentCreate); err != nil {
		c.String(http.StatusBadRequest, "ERROR : %s", err)
		return
	}
	if paymentCreate.MembershipType == "" || paymentCreate.Amount <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"message": "Invalid membership",
		})
		return
	}
	user, _ := self.User(sessionUserId(c))
	c.JSON(http.StatusOK, &PaymentOrder{
		OrderId: fmt.Sprintf("order_%s", strings.ReplaceAll(uuid.NewString(), "-", "")),
		Amount: paymentCreate.Amount,
		Currency: "INR",
		KeyId: "rzp_test_mock",
		Notes: PaymentNotes{
			FirstName: user.FirstName,
			LastName: user.LastName,
			EmailId: user.EmailId,
			MembershipType: paymentCreate.MembershipType,
		},
	})
}

func (self *Server) premiumVerify(c *gin.Context) {
	user, _ := self.User(sessionUserId(c))
	c.JSON(http.StatusOK, gin.H{
		"isPremium": user.IsPremium,
	})
}

var imageExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/jpg": ".jpg",
	"image/png": ".png",
	"image/gif": ".gif",
}

func (self *Server) uploadImage(c *gin.Context) {
	fileHeader, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"message": "No image file provided",
		})
		return
	}
	contentType := fileHeader.Header.Get("Content-Type")
	extension, ok := imageExtensions[contentType]
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"message": "Only image files are allowed",
		})
		return
	}
	if MaxImageByteCount < fileHeader.Size {
		c.JSON(http.StatusBadRequest, gin.H{
			"message": "Image size should be less than 5MB",
		})
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		c.String(http.StatusInternalServerError, "ERROR : %s", err)
		return
	}
	defer file.Close()
	if _, err := io.Copy(io.Discard, file); err != nil {
		c.String(http.StatusInternalServerError, "ERROR : %s", err)
		return
	}
	if fileExtension := strings.ToLower(filepath.Ext(fileHeader.Filename)); fileExtension != "" {
		extension = fileExtension
	}
	c.JSON(http.StatusOK, gin.H{
		"imageUrl": fmt.Sprintf("%s/%s%s", self.imageBaseUrl, uuid.NewString(), extension),
	})
}
