package mockapi

import (
	"slices"
	"time"
)


const (
	StatusInterested = "interested"
	StatusIgnored = "ignored"
	StatusAccepted = "accepted"
	StatusRejected = "rejected"
)


type User struct {
	Id string `json:"_id"`
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

func (self *User) clone() *User {
	user := *self
	user.Skills = slices.Clone(self.Skills)
	if user.Skills == nil {
		user.Skills = []string{}
	}
	if self.Age != nil {
		age := *self.Age
		user.Age = &age
	}
	return &user
}


// the form of `/signup` and `AddUser`
type NewUser struct {
	FirstName string `json:"firstName" binding:"required"`
	LastName string `json:"lastName" binding:"required"`
	EmailId string `json:"emailId" binding:"required"`
	Password string `json:"password" binding:"required"`
	Age *int `json:"age"`
	Gender string `json:"gender"`
	PhotoUrl string `json:"photoUrl"`
	About string `json:"about"`
	Skills []string `json:"skills"`
}


type account struct {
	user *User
	passwordHash []byte
}


// a connection request. Accepted requests are connections
type ConnectionRequest struct {
	Id string `json:"_id"`
	FromUserId string `json:"fromUserId"`
	ToUserId string `json:"toUserId"`
	Status string `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}


// a request with its users populated
type populatedRequest struct {
	Id string `json:"_id"`
	FromUser *User `json:"fromUserId"`
	ToUser *User `json:"toUserId,omitempty"`
	Status string `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}


type PaymentOrder struct {
	OrderId string `json:"orderId"`
	Amount int `json:"amount"`
	Currency string `json:"currency"`
	KeyId string `json:"keyId"`
	Notes PaymentNotes `json:"notes"`
}

type PaymentNotes struct {
	FirstName string `json:"firstName"`
	LastName string `json:"lastName"`
	EmailId string `json:"emailId"`
	MembershipType string `json:"membershipType"`
}
