package match

import (
	"fmt"
	"slices"
	"strings"
	"time"
)


// server assigned entity id
type Id string

func (self Id) String() string {
	return string(self)
}


// anything held in a `Collection`
type Entity interface {
	EntityId() Id
}


const SystemSender = "system"

// `/request/send/:status`
const (
	SendStatusInterested = "interested"
	SendStatusIgnored = "ignored"
)

// `/request/review/:status`
const (
	ReviewStatusAccepted = "accepted"
	ReviewStatusRejected = "rejected"
)

const RequestStatusPending = "pending"


type User struct {
	Id Id `json:"_id"`
	FirstName string `json:"firstName"`
	LastName string `json:"lastName"`
	EmailId string `json:"emailId"`
	Age *int `json:"age,omitempty"`
	Gender string `json:"gender,omitempty"`
	PhotoUrl string `json:"photoUrl,omitempty"`
	About string `json:"about,omitempty"`
	Skills []string `json:"skills"`
	IsPremium bool `json:"isPremium"`
}

func (self *User) EntityId() Id {
	if self == nil {
		return ""
	}
	return self.Id
}

func (self *User) DisplayName() string {
	return strings.TrimSpace(fmt.Sprintf("%s %s", self.FirstName, self.LastName))
}

// deep copy. The session store only hands out clones
func (self *User) Clone() *User {
	if self == nil {
		return nil
	}
	user := *self
	user.Skills = slices.Clone(self.Skills)
	if self.Age != nil {
		age := *self.Age
		user.Age = &age
	}
	return &user
}


// a confirmed mutual link
type Connection struct {
	Id Id `json:"_id"`
	FromUser *User `json:"fromUserId"`
	ToUser *User `json:"toUserId"`
	Status string `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (self *Connection) EntityId() Id {
	if self == nil {
		return ""
	}
	return self.Id
}

// the other user in the connection
func (self *Connection) Partner(me Id) *User {
	if self.FromUser != nil && self.FromUser.Id != me {
		return self.FromUser
	}
	if self.ToUser != nil && self.ToUser.Id != me {
		return self.ToUser
	}
	if self.FromUser != nil {
		return self.FromUser
	}
	return self.ToUser
}


// a pending request sent to me
type IncomingRequest struct {
	Id Id `json:"_id"`
	FromUser *User `json:"fromUserId"`
	Status string `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

func (self *IncomingRequest) EntityId() Id {
	if self == nil {
		return ""
	}
	return self.Id
}


type ChatMessage struct {
	Text string `json:"text"`
	// a user id or `SystemSender`
	Sender string `json:"sender"`
}

func (self *ChatMessage) IsSystem() bool {
	return self.Sender == SystemSender
}
