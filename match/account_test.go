package match

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/go-playground/assert/v2"
)


func TestLoginValidation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	remote := newTestRemote(t, ctx)

	_, err := remote.client.Account().Login(ctx, &LoginArgs{
		EmailId: "not-an-email",
		Password: "123",
	})
	var validationErrors ValidationErrors
	assert.Equal(t, IsValidationError(err), true)
	validationErrors = err.(ValidationErrors)
	assert.Equal(t, validationErrors["emailId"], "Enter a valid email.")
	assert.Equal(t, validationErrors["password"], "Password must be at least 6 characters.")
	// never reaches the network
	assert.Equal(t, remote.server.RequestCount("POST", "/login"), 0)
}

func TestLoginFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	remote := newTestRemote(t, ctx)
	me := remote.addUser(t, "Me")

	_, err := remote.client.Account().Login(ctx, &LoginArgs{
		EmailId: me.EmailId,
		Password: "Wrong@123",
	})
	assert.NotEqual(t, err, nil)
	assert.Equal(t, remote.client.Store().Session.Present(), false)
	notifications := remote.client.Store().Notifications.List()
	assert.Equal(t, len(notifications), 1)
	assert.Equal(t, notifications[0].Message, "Login failed. Please check your credentials.")
}

func TestSignupThenLogin(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	remote := newTestRemote(t, ctx)

	_, err := remote.client.Account().Signup(ctx, &SignupArgs{
		FirstName: "Ann",
		LastName: "Lee",
		EmailId: "ann@example.com",
		Password: "weak",
	})
	assert.Equal(t, IsValidationError(err), true)
	assert.Equal(t, remote.server.RequestCount("POST", "/signup"), 0)

	age := 29
	user, err := remote.client.Account().Signup(ctx, &SignupArgs{
		FirstName: " Ann ",
		LastName: "Lee",
		EmailId: "ann@example.com",
		Password: "Strong@123",
		Age: &age,
		Gender: "female",
		Skills: ParseSkills("go, rust,, "),
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, user.FirstName, "Ann")
	assert.Equal(t, user.Skills, []string{"go", "rust"})
	// signup does not log in
	assert.Equal(t, remote.client.Store().Session.Present(), false)
	assert.Equal(t, remote.navigator.Last(), RouteLogin)

	// the duplicate is refused by the server, the message is shown without the prefix
	_, err = remote.client.Account().Signup(ctx, &SignupArgs{
		FirstName: "Ann",
		LastName: "Lee",
		EmailId: "ann@example.com",
		Password: "Strong@123",
	})
	assert.NotEqual(t, err, nil)
	notifications := remote.client.Store().Notifications.List()
	assert.Equal(t, notifications[len(notifications) - 1].Message, "Email already exists")

	me, err := remote.client.Account().Login(ctx, &LoginArgs{
		EmailId: "ann@example.com",
		Password: "Strong@123",
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, me.FirstName, "Ann")
	assert.Equal(t, remote.navigator.Last(), RouteFeed)
}

func TestLogoutClearsStore(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	remote := newTestRemote(t, ctx)
	me := remote.addUser(t, "Me")
	remote.addUser(t, "Ann")
	remote.login(t, ctx, me)

	assert.Equal(t, remote.client.LoadFeed(ctx), nil)
	assert.Equal(t, remote.client.Store().Feed.Len(), 1)
	assert.NotEqual(t, remote.client.Api().SessionToken(), "")

	assert.Equal(t, remote.client.Account().Logout(ctx), nil)
	assert.Equal(t, remote.client.Store().Session.Present(), false)
	assert.Equal(t, remote.client.Store().Feed.State(), CollectionUnloaded)
	assert.Equal(t, remote.client.Api().SessionToken(), "")
	assert.Equal(t, remote.navigator.Last(), RouteLogin)

	// the session cookie is gone
	_, err := remote.client.Api().ProfileViewSync(ctx)
	assert.Equal(t, IsUnauthorized(err), true)
}

func TestEditProfile(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	remote := newTestRemote(t, ctx)

	_, err := remote.client.Account().EditProfile(ctx, &ProfilePatch{About: "hi"})
	assert.Equal(t, err, ErrNotAuthenticated)

	me := remote.addUser(t, "Me")
	remote.login(t, ctx, me)

	_, err = remote.client.Account().EditProfile(ctx, &ProfilePatch{Gender: "robot"})
	assert.Equal(t, IsValidationError(err), true)
	assert.Equal(t, remote.server.RequestCount("PATCH", "/profile/edit"), 0)

	skills := AddSkill(nil, " go ")
	skills = AddSkill(skills, "go")
	skills = AddSkill(skills, "")
	skills = AddSkill(skills, "sql")
	skills = RemoveSkill(skills, "sql")
	assert.Equal(t, skills, []string{"go"})

	user, err := remote.client.Account().EditProfile(ctx, &ProfilePatch{
		About: "gopher",
		Skills: skills,
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, user.About, "gopher")
	assert.Equal(t, remote.client.Store().Session.Get().Skills, []string{"go"})

	server, ok := remote.server.User(me.Id)
	assert.Equal(t, ok, true)
	assert.Equal(t, server.About, "gopher")
}

func TestUploadImage(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	remote := newTestRemote(t, ctx)

	_, err := remote.client.Account().UploadImage(ctx, &UploadImageArgs{
		FileName: "me.txt",
		ContentType: "text/plain",
		Content: []byte("hello"),
	})
	assert.Equal(t, IsValidationError(err), true)

	_, err = remote.client.Account().UploadImage(ctx, &UploadImageArgs{
		FileName: "me.png",
		ContentType: "image/png",
		Content: bytes.Repeat([]byte{0}, MaxImageByteCount + 1),
	})
	assert.Equal(t, IsValidationError(err), true)
	assert.Equal(t, remote.server.RequestCount("POST", "/upload/image"), 0)

	imageUrl, err := remote.client.Account().UploadImage(ctx, &UploadImageArgs{
		FileName: "me.png",
		ContentType: "image/png",
		Content: []byte{0x89, 'P', 'N', 'G'},
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, strings.HasSuffix(imageUrl, ".png"), true)
}

func TestPremium(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	remote := newTestRemote(t, ctx)
	me := remote.addUser(t, "Me")
	remote.login(t, ctx, me)

	order, err := remote.client.Account().CreatePremiumOrder(ctx)
	assert.Equal(t, err, nil)
	assert.NotEqual(t, order.OrderId, "")
	assert.Equal(t, order.Amount, PremiumAmount)
	assert.Equal(t, order.Notes.MembershipType, MembershipTypePremium)
	assert.Equal(t, order.Notes.EmailId, me.EmailId)
	// an order does not make the user premium
	assert.Equal(t, remote.client.Store().Session.Get().IsPremium, false)

	isPremium, err := remote.client.Account().VerifyPremium(ctx)
	assert.Equal(t, err, nil)
	assert.Equal(t, isPremium, false)

	remote.server.SetPremium(me.Id, true)
	isPremium, err = remote.client.Account().VerifyPremium(ctx)
	assert.Equal(t, err, nil)
	assert.Equal(t, isPremium, true)
	assert.Equal(t, remote.client.Store().Session.Get().IsPremium, true)

	// a payment failure notifies and leaves premium as is
	remote.server.FailNext("POST", "/payment/create", http.StatusBadGateway)
	_, err = remote.client.Account().CreatePremiumOrder(ctx)
	assert.NotEqual(t, err, nil)
	assert.Equal(t, remote.client.Store().Session.Get().IsPremium, true)
	notifications := remote.client.Store().Notifications.List()
	assert.Equal(t, notifications[len(notifications) - 1].Kind, NotificationError)
}
