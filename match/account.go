package match

import (
	"context"
	"slices"
	"strings"

	"github.com/golang/glog"
)


// the account calls of the api. `DevMatchApi` implements this
type AccountApi interface {
	LoginSync(ctx context.Context, login *LoginArgs) (*UserResult, error)
	SignupSync(ctx context.Context, signup *SignupArgs) (*UserResult, error)
	LogoutSync(ctx context.Context) (*LogoutResult, error)
	ProfileViewSync(ctx context.Context) (*UserResult, error)
	ProfileEditSync(ctx context.Context, patch *ProfilePatch) (*UserResult, error)
	UploadImageSync(ctx context.Context, uploadImage *UploadImageArgs) (*UploadImageResult, error)
	PaymentCreateSync(ctx context.Context, paymentCreate *PaymentCreateArgs) (*PaymentOrder, error)
	PremiumVerifySync(ctx context.Context) (*PremiumVerifyResult, error)
	ClearCookies()
}


const PremiumAmount = 1000


// login, signup, logout and the session user's profile.
// These are the only writers of the session store
type Account struct {
	api AccountApi
	store *AppStore
	gate *Gate
}

func NewAccount(api AccountApi, store *AppStore, gate *Gate) *Account {
	return &Account{
		api: api,
		store: store,
		gate: gate,
	}
}

// validation errors are returned as `ValidationErrors` without a request
func (self *Account) Login(ctx context.Context, login *LoginArgs) (*User, error) {
	login.EmailId = strings.TrimSpace(login.EmailId)
	if err := ValidateLogin(login); err != nil {
		return nil, err
	}

	result, err := self.api.LoginSync(ctx, login)
	if err != nil {
		glog.Infof("[account]login error = %s\n", err)
		self.store.Notifications.Errorf("Login failed. Please check your credentials.")
		return nil, err
	}

	user := result.User
	if user == nil {
		// the session cookie is set, read the user
		profileResult, err := self.api.ProfileViewSync(ctx)
		if err != nil {
			return nil, err
		}
		user = profileResult.User
	}
	if user == nil {
		return nil, ErrNotAuthenticated
	}

	if previousId, ok := self.store.Session.UserId(); ok && previousId != user.Id {
		self.store.Reset()
	}
	self.store.Session.Set(user)
	self.gate.Navigate(RouteFeed)
	return user.Clone(), nil
}

// creates the account. Signup does not log in; the caller is directed to login
func (self *Account) Signup(ctx context.Context, signup *SignupArgs) (*User, error) {
	signup.FirstName = strings.TrimSpace(signup.FirstName)
	signup.LastName = strings.TrimSpace(signup.LastName)
	signup.EmailId = strings.TrimSpace(signup.EmailId)
	if err := ValidateSignup(signup); err != nil {
		return nil, err
	}

	result, err := self.api.SignupSync(ctx, signup)
	if err != nil {
		glog.Infof("[account]signup error = %s\n", err)
		self.store.Notifications.Errorf("%s", ErrorMessage(err, "Something went wrong. Please try again."))
		return nil, err
	}

	self.store.Notifications.Successf("Account created successfully! Redirecting to login...")
	self.gate.Navigate(RouteLogin)
	return result.User, nil
}

// on success the session and every collection are cleared
func (self *Account) Logout(ctx context.Context) error {
	_, err := self.api.LogoutSync(ctx)
	if err != nil && !IsUnauthorized(err) {
		glog.Infof("[account]logout error = %s\n", err)
		self.store.Notifications.Errorf("%s", ErrorMessage(err, "Logout failed."))
		return err
	}
	// a 401 means the session is already gone on the server
	self.store.Reset()
	self.api.ClearCookies()
	self.gate.Navigate(RouteLogin)
	return nil
}

// the session user. Fetched only when the session is absent.
// A 401 clears the session and redirects to login; any other error leaves the store as is
func (self *Account) FetchProfile(ctx context.Context) (*User, error) {
	if user := self.store.Session.Get(); user != nil {
		return user, nil
	}

	result, err := self.api.ProfileViewSync(ctx)
	if err != nil {
		if !self.gate.CheckUnauthorized(err) {
			glog.Infof("[account]profile error = %s\n", err)
		}
		return nil, err
	}
	if result.User == nil {
		return nil, ErrNotAuthenticated
	}
	if ctx.Err() != nil {
		// the requesting view is gone
		return nil, ctx.Err()
	}
	self.store.Session.Set(result.User)
	return result.User.Clone(), nil
}

// the response user replaces the session user. When the response has no user
// the patch is merged into the session user
func (self *Account) EditProfile(ctx context.Context, patch *ProfilePatch) (*User, error) {
	if !self.store.Session.Present() {
		self.gate.Navigate(RouteLogin)
		return nil, ErrNotAuthenticated
	}
	if err := ValidateProfilePatch(patch); err != nil {
		return nil, err
	}

	result, err := self.api.ProfileEditSync(ctx, patch)
	if err != nil {
		if !self.gate.CheckUnauthorized(err) {
			glog.Infof("[account]profile edit error = %s\n", err)
			self.store.Notifications.Errorf("%s", ErrorMessage(err, "Failed to update profile"))
		}
		return nil, err
	}

	if result.User != nil {
		self.store.Session.Set(result.User)
	} else {
		self.store.Session.Merge(patch)
	}
	self.store.Notifications.Successf("Profile updated successfully!")
	return self.store.Session.Get(), nil
}

// returns the hosted image url
func (self *Account) UploadImage(ctx context.Context, uploadImage *UploadImageArgs) (string, error) {
	if err := ValidateImage(uploadImage); err != nil {
		return "", err
	}
	result, err := self.api.UploadImageSync(ctx, uploadImage)
	if err != nil {
		if !self.gate.CheckUnauthorized(err) {
			glog.Infof("[account]upload error = %s\n", err)
			self.store.Notifications.Errorf("Failed to upload image. Please try again.")
		}
		return "", err
	}
	self.store.Notifications.Successf("Image uploaded successfully!")
	return result.ImageUrl, nil
}

// creates an order for the premium membership. Premium is not assumed from
// the order or from a completed payment; see `VerifyPremium`
func (self *Account) CreatePremiumOrder(ctx context.Context) (*PaymentOrder, error) {
	if !self.store.Session.Present() {
		self.gate.Navigate(RouteLogin)
		return nil, ErrNotAuthenticated
	}
	order, err := self.api.PaymentCreateSync(ctx, &PaymentCreateArgs{
		MembershipType: MembershipTypePremium,
		Amount: PremiumAmount,
	})
	if err != nil {
		if !self.gate.CheckUnauthorized(err) {
			glog.Infof("[account]payment error = %s\n", err)
			self.store.Notifications.Errorf("%s", ErrorMessage(err, "Payment failed. Please try again."))
		}
		return nil, err
	}
	return order, nil
}

// the only path that updates the premium flag of the session user
func (self *Account) VerifyPremium(ctx context.Context) (bool, error) {
	if !self.store.Session.Present() {
		self.gate.Navigate(RouteLogin)
		return false, ErrNotAuthenticated
	}
	result, err := self.api.PremiumVerifySync(ctx)
	if err != nil {
		if !self.gate.CheckUnauthorized(err) {
			glog.Infof("[account]premium verify error = %s\n", err)
			self.store.Notifications.Errorf("%s", ErrorMessage(err, "Could not verify premium status."))
		}
		return false, err
	}
	self.store.Session.SetPremium(result.IsPremium)
	return result.IsPremium, nil
}


// trims and ignores empty or duplicate skills
func AddSkill(skills []string, skill string) []string {
	skill = strings.TrimSpace(skill)
	if skill == "" || slices.Contains(skills, skill) {
		return skills
	}
	return append(slices.Clone(skills), skill)
}

func RemoveSkill(skills []string, skill string) []string {
	return slices.DeleteFunc(slices.Clone(skills), func(s string) bool {
		return s == skill
	})
}
