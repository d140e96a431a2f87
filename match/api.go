package match

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/golang/glog"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"
)


// the session cookie set by `/login` and `/signup`
const SessionCookieName = "token"


type ApiSettings struct {
	HttpTimeout time.Duration
	HttpConnectTimeout time.Duration
	HttpTlsTimeout time.Duration
	// 0 means unlimited
	RequestsPerSecond float64
	RequestBurst int
}

func DefaultApiSettings() *ApiSettings {
	return &ApiSettings{
		HttpTimeout: 60 * time.Second,
		HttpConnectTimeout: 5 * time.Second,
		HttpTlsTimeout: 5 * time.Second,
		RequestsPerSecond: 0,
		RequestBurst: 1,
	}
}


type apiCallback[R any] interface {
	Result(result R, err error)
}


// for internal use
type simpleApiCallback[R any] struct {
	callback func(result R, err error)
}

func NewApiCallback[R any](callback func(result R, err error)) apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: callback,
	}
}

func NewNoopApiCallback[R any]() apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: func(result R, err error){},
	}
}

func (self *simpleApiCallback[R]) Result(result R, err error) {
	self.callback(result, err)
}


type ApiCallbackResult[R any] struct {
	Result R
	Error error
}


func NewBlockingApiCallback[R any]() (apiCallback[R], chan ApiCallbackResult[R]) {
	c := make(chan ApiCallbackResult[R], 1)
	apiCallback := NewApiCallback[R](func(result R, err error) {
		c <- ApiCallbackResult[R]{
			Result: result,
			Error: err,
		}
	})
	return apiCallback, c
}


// results that carry a server message. A plain text body lands here
type ApiMessage struct {
	Message string `json:"message,omitempty"`
}

func (self *ApiMessage) setRawMessage(message string) {
	self.Message = message
}

type rawMessageResult interface {
	setRawMessage(message string)
}


// a response that is a user, either at the top level or nested under `user` or `data`
type UserResult struct {
	ApiMessage
	User *User `json:"-"`
}

func (self *UserResult) UnmarshalJSON(b []byte) error {
	var nested struct {
		Message string `json:"message"`
		User *User `json:"user"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &nested); err != nil {
		return err
	}
	self.Message = nested.Message
	if nested.User != nil && nested.User.Id != "" {
		self.User = nested.User
		return nil
	}
	if 0 < len(nested.Data) && nested.Data[0] == '{' {
		var user User
		if err := json.Unmarshal(nested.Data, &user); err == nil && user.Id != "" {
			self.User = &user
			return nil
		}
	}
	var user User
	if err := json.Unmarshal(b, &user); err != nil {
		return err
	}
	if user.Id != "" {
		self.User = &user
	}
	return nil
}


type DevMatchApi struct {
	ctx context.Context
	cancel context.CancelFunc

	apiUrl string
	settings *ApiSettings

	jar *cookiejar.Jar
	client *http.Client
	limiter *rate.Limiter
}

func NewDevMatchApiWithDefaults(ctx context.Context, apiUrl string) *DevMatchApi {
	return NewDevMatchApi(ctx, apiUrl, DefaultApiSettings())
}

func NewDevMatchApi(ctx context.Context, apiUrl string, settings *ApiSettings) *DevMatchApi {
	cancelCtx, cancel := context.WithCancel(ctx)

	// the options are always valid
	jar, _ := cookiejar.New(&cookiejar.Options{
		PublicSuffixList: publicsuffix.List,
	})

	// see https://medium.com/@nate510/don-t-use-go-s-default-http-client-4804cb19f779
	dialer := &net.Dialer{
		Timeout: settings.HttpConnectTimeout,
	}
	transport := &http.Transport{
		DialContext: dialer.DialContext,
		TLSHandshakeTimeout: settings.HttpTlsTimeout,
	}
	client := &http.Client{
		Transport: transport,
		Timeout: settings.HttpTimeout,
		// cookie based session, the `withCredentials` of the browser client
		Jar: jar,
	}

	var limiter *rate.Limiter
	if 0 < settings.RequestsPerSecond {
		limiter = rate.NewLimiter(rate.Limit(settings.RequestsPerSecond), max(1, settings.RequestBurst))
	}

	return &DevMatchApi{
		ctx: cancelCtx,
		cancel: cancel,
		apiUrl: strings.TrimRight(apiUrl, "/"),
		settings: settings,
		jar: jar,
		client: client,
		limiter: limiter,
	}
}

func (self *DevMatchApi) ApiUrl() string {
	return self.apiUrl
}

// shared with the chat dialer so that the upgrade carries the session cookie
func (self *DevMatchApi) CookieJar() http.CookieJar {
	return self.jar
}

// the session cookies for the api host
func (self *DevMatchApi) Cookies() []*http.Cookie {
	u, err := url.Parse(self.apiUrl)
	if err != nil {
		return nil
	}
	return self.jar.Cookies(u)
}

func (self *DevMatchApi) SetCookies(cookies []*http.Cookie) {
	u, err := url.Parse(self.apiUrl)
	if err != nil {
		return
	}
	self.jar.SetCookies(u, cookies)
}

// the value of the session cookie, or empty
func (self *DevMatchApi) SessionToken() string {
	for _, cookie := range self.Cookies() {
		if cookie.Name == SessionCookieName {
			return cookie.Value
		}
	}
	return ""
}

// drops the session cookie locally
func (self *DevMatchApi) ClearCookies() {
	u, err := url.Parse(self.apiUrl)
	if err != nil {
		return
	}
	expired := []*http.Cookie{}
	for _, cookie := range self.jar.Cookies(u) {
		expired = append(expired, &http.Cookie{
			Name: cookie.Name,
			Value: "",
			Path: "/",
			MaxAge: -1,
		})
	}
	self.jar.SetCookies(u, expired)
}

// cancels all in-flight requests
func (self *DevMatchApi) Close() {
	self.cancel()
}


type LoginCallback apiCallback[*UserResult]

type LoginArgs struct {
	EmailId string `json:"emailId" validate:"required,email_address"`
	Password string `json:"password" validate:"required,min=6"`
}

func (self *DevMatchApi) Login(login *LoginArgs, callback LoginCallback) {
	go post(self, self.ctx, "/login", login, &UserResult{}, callback)
}

func (self *DevMatchApi) LoginSync(ctx context.Context, login *LoginArgs) (*UserResult, error) {
	return post(self, ctx, "/login", login, &UserResult{}, NewNoopApiCallback[*UserResult]())
}


type SignupCallback apiCallback[*UserResult]

type SignupArgs struct {
	FirstName string `json:"firstName" validate:"required"`
	LastName string `json:"lastName" validate:"required"`
	EmailId string `json:"emailId" validate:"required,email_address"`
	Password string `json:"password" validate:"required,strong_password"`
	Age *int `json:"age,omitempty" validate:"omitempty,min=18,max=120"`
	Gender string `json:"gender,omitempty" validate:"omitempty,oneof=male female others"`
	PhotoUrl string `json:"photoUrl,omitempty" validate:"omitempty,url"`
	About string `json:"about,omitempty"`
	Skills []string `json:"skills,omitempty"`
}

func (self *DevMatchApi) Signup(signup *SignupArgs, callback SignupCallback) {
	go post(self, self.ctx, "/signup", signup, &UserResult{}, callback)
}

func (self *DevMatchApi) SignupSync(ctx context.Context, signup *SignupArgs) (*UserResult, error) {
	return post(self, ctx, "/signup", signup, &UserResult{}, NewNoopApiCallback[*UserResult]())
}


type LogoutCallback apiCallback[*LogoutResult]

type LogoutResult struct {
	ApiMessage
}

func (self *DevMatchApi) Logout(callback LogoutCallback) {
	go post(self, self.ctx, "/logout", nil, &LogoutResult{}, callback)
}

func (self *DevMatchApi) LogoutSync(ctx context.Context) (*LogoutResult, error) {
	return post(self, ctx, "/logout", nil, &LogoutResult{}, NewNoopApiCallback[*LogoutResult]())
}


type ProfileViewCallback apiCallback[*UserResult]

func (self *DevMatchApi) ProfileView(callback ProfileViewCallback) {
	go get(self, self.ctx, "/profile/view", &UserResult{}, callback)
}

func (self *DevMatchApi) ProfileViewSync(ctx context.Context) (*UserResult, error) {
	return get(self, ctx, "/profile/view", &UserResult{}, NewNoopApiCallback[*UserResult]())
}


type ProfileEditCallback apiCallback[*UserResult]

// nil and empty fields are not sent
type ProfilePatch struct {
	FirstName string `json:"firstName,omitempty"`
	LastName string `json:"lastName,omitempty"`
	Age *int `json:"age,omitempty" validate:"omitempty,min=18,max=120"`
	Gender string `json:"gender,omitempty" validate:"omitempty,oneof=male female others"`
	PhotoUrl string `json:"photoUrl,omitempty" validate:"omitempty,url"`
	About string `json:"about,omitempty" validate:"max=500"`
	Skills []string `json:"skills,omitempty" validate:"max=20"`
}

func (self *DevMatchApi) ProfileEdit(patch *ProfilePatch, callback ProfileEditCallback) {
	go patchJson(self, self.ctx, "/profile/edit", patch, &UserResult{}, callback)
}

func (self *DevMatchApi) ProfileEditSync(ctx context.Context, patch *ProfilePatch) (*UserResult, error) {
	return patchJson(self, ctx, "/profile/edit", patch, &UserResult{}, NewNoopApiCallback[*UserResult]())
}


type FeedCallback apiCallback[*FeedResult]

type FeedResult struct {
	ApiMessage
	Users []*User `json:"users"`
}

func (self *DevMatchApi) Feed(callback FeedCallback) {
	go get(self, self.ctx, "/feed", &FeedResult{}, callback)
}

func (self *DevMatchApi) FeedSync(ctx context.Context) (*FeedResult, error) {
	return get(self, ctx, "/feed", &FeedResult{}, NewNoopApiCallback[*FeedResult]())
}


type SendRequestCallback apiCallback[*SendRequestResult]

type SendRequestResult struct {
	ApiMessage
}

// status is `SendStatusInterested` or `SendStatusIgnored`
func (self *DevMatchApi) SendRequest(status string, toUserId Id, callback SendRequestCallback) {
	go post(self, self.ctx, sendRequestPath(status, toUserId), nil, &SendRequestResult{}, callback)
}

func (self *DevMatchApi) SendRequestSync(ctx context.Context, status string, toUserId Id) (*SendRequestResult, error) {
	return post(self, ctx, sendRequestPath(status, toUserId), nil, &SendRequestResult{}, NewNoopApiCallback[*SendRequestResult]())
}

func sendRequestPath(status string, toUserId Id) string {
	return fmt.Sprintf("/request/send/%s/%s", url.PathEscape(status), url.PathEscape(string(toUserId)))
}


type ConnectionsCallback apiCallback[*ConnectionsResult]

type ConnectionsResult struct {
	ApiMessage
	Connections []*Connection `json:"data"`
}

func (self *DevMatchApi) Connections(callback ConnectionsCallback) {
	go get(self, self.ctx, "/user/connections", &ConnectionsResult{}, callback)
}

func (self *DevMatchApi) ConnectionsSync(ctx context.Context) (*ConnectionsResult, error) {
	return get(self, ctx, "/user/connections", &ConnectionsResult{}, NewNoopApiCallback[*ConnectionsResult]())
}


type RequestsReceivedCallback apiCallback[*RequestsReceivedResult]

type RequestsReceivedResult struct {
	ApiMessage
	Requests []*IncomingRequest `json:"connectionRequests"`
}

func (self *DevMatchApi) RequestsReceived(callback RequestsReceivedCallback) {
	go get(self, self.ctx, "/user/requests/received", &RequestsReceivedResult{}, callback)
}

func (self *DevMatchApi) RequestsReceivedSync(ctx context.Context) (*RequestsReceivedResult, error) {
	return get(self, ctx, "/user/requests/received", &RequestsReceivedResult{}, NewNoopApiCallback[*RequestsReceivedResult]())
}


type ReviewRequestCallback apiCallback[*ReviewRequestResult]

type ReviewRequestResult struct {
	ApiMessage
}

// status is `ReviewStatusAccepted` or `ReviewStatusRejected`
func (self *DevMatchApi) ReviewRequest(status string, requestId Id, callback ReviewRequestCallback) {
	go post(self, self.ctx, reviewRequestPath(status, requestId), nil, &ReviewRequestResult{}, callback)
}

func (self *DevMatchApi) ReviewRequestSync(ctx context.Context, status string, requestId Id) (*ReviewRequestResult, error) {
	return post(self, ctx, reviewRequestPath(status, requestId), nil, &ReviewRequestResult{}, NewNoopApiCallback[*ReviewRequestResult]())
}

func reviewRequestPath(status string, requestId Id) string {
	return fmt.Sprintf("/request/review/%s/%s", url.PathEscape(status), url.PathEscape(string(requestId)))
}


type PaymentCreateCallback apiCallback[*PaymentOrder]

const MembershipTypePremium = "premium"

type PaymentCreateArgs struct {
	MembershipType string `json:"membershipType"`
	// minor units
	Amount int `json:"amount"`
}

type PaymentOrder struct {
	ApiMessage
	OrderId string `json:"orderId"`
	Amount int `json:"amount"`
	Currency string `json:"currency"`
	KeyId string `json:"keyId,omitempty"`
	Notes PaymentOrderNotes `json:"notes"`
}

type PaymentOrderNotes struct {
	FirstName string `json:"firstName"`
	LastName string `json:"lastName"`
	EmailId string `json:"emailId"`
	MembershipType string `json:"membershipType"`
}

func (self *DevMatchApi) PaymentCreate(paymentCreate *PaymentCreateArgs, callback PaymentCreateCallback) {
	go post(self, self.ctx, "/payment/create", paymentCreate, &PaymentOrder{}, callback)
}

func (self *DevMatchApi) PaymentCreateSync(ctx context.Context, paymentCreate *PaymentCreateArgs) (*PaymentOrder, error) {
	return post(self, ctx, "/payment/create", paymentCreate, &PaymentOrder{}, NewNoopApiCallback[*PaymentOrder]())
}


type PremiumVerifyCallback apiCallback[*PremiumVerifyResult]

type PremiumVerifyResult struct {
	ApiMessage
	IsPremium bool `json:"isPremium"`
}

func (self *DevMatchApi) PremiumVerify(callback PremiumVerifyCallback) {
	go get(self, self.ctx, "/premium/verify", &PremiumVerifyResult{}, callback)
}

func (self *DevMatchApi) PremiumVerifySync(ctx context.Context) (*PremiumVerifyResult, error) {
	return get(self, ctx, "/premium/verify", &PremiumVerifyResult{}, NewNoopApiCallback[*PremiumVerifyResult]())
}


type UploadImageCallback apiCallback[*UploadImageResult]

type UploadImageArgs struct {
	FileName string
	ContentType string
	Content []byte
}

type UploadImageResult struct {
	ApiMessage
	ImageUrl string `json:"imageUrl"`
}

func (self *DevMatchApi) UploadImage(uploadImage *UploadImageArgs, callback UploadImageCallback) {
	go postImage(self, self.ctx, uploadImage, &UploadImageResult{}, callback)
}

func (self *DevMatchApi) UploadImageSync(ctx context.Context, uploadImage *UploadImageArgs) (*UploadImageResult, error) {
	return postImage(self, ctx, uploadImage, &UploadImageResult{}, NewNoopApiCallback[*UploadImageResult]())
}


// the request ends when either `ctx` or the api is done
func (self *DevMatchApi) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	requestCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(self.ctx, cancel)
	return requestCtx, func() {
		stop()
		cancel()
	}
}


func post[R any](api *DevMatchApi, ctx context.Context, path string, args any, result R, callback apiCallback[R]) (R, error) {
	return sendJson(api, ctx, "POST", path, args, result, callback)
}

func patchJson[R any](api *DevMatchApi, ctx context.Context, path string, args any, result R, callback apiCallback[R]) (R, error) {
	return sendJson(api, ctx, "PATCH", path, args, result, callback)
}

func get[R any](api *DevMatchApi, ctx context.Context, path string, result R, callback apiCallback[R]) (R, error) {
	return do(api, ctx, "GET", path, nil, "", result, callback)
}

func sendJson[R any](api *DevMatchApi, ctx context.Context, method string, path string, args any, result R, callback apiCallback[R]) (R, error) {
	var requestBodyBytes []byte
	if args == nil {
		requestBodyBytes = []byte("{}")
	} else {
		var err error
		requestBodyBytes, err = json.Marshal(args)
		if err != nil {
			var empty R
			callback.Result(empty, err)
			return empty, err
		}
	}
	return do(api, ctx, method, path, requestBodyBytes, "application/json", result, callback)
}

func postImage[R any](api *DevMatchApi, ctx context.Context, uploadImage *UploadImageArgs, result R, callback apiCallback[R]) (R, error) {
	if err := ValidateImage(uploadImage); err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename="%s"`, escapeQuotes(uploadImage.FileName)))
	header.Set("Content-Type", uploadImage.ContentType)
	part, err := writer.CreatePart(header)
	if err == nil {
		_, err = part.Write(uploadImage.Content)
	}
	if err == nil {
		err = writer.Close()
	}
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	return do(api, ctx, "POST", "/upload/image", body.Bytes(), writer.FormDataContentType(), result, callback)
}

func do[R any](api *DevMatchApi, ctx context.Context, method string, path string, requestBodyBytes []byte, contentType string, result R, callback apiCallback[R]) (R, error) {
	requestCtx, cancel := api.requestContext(ctx)
	defer cancel()

	fail := func(err error) (R, error) {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	if api.limiter != nil {
		if err := api.limiter.Wait(requestCtx); err != nil {
			return fail(err)
		}
	}

	var bodyReader io.Reader
	if requestBodyBytes != nil {
		bodyReader = bytes.NewReader(requestBodyBytes)
	}
	req, err := http.NewRequestWithContext(requestCtx, method, api.apiUrl + path, bodyReader)
	if err != nil {
		return fail(err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	glog.V(LogLevelFrequent).Infof("[api]%s %s\n", method, path)

	r, err := api.client.Do(req)
	if err != nil {
		return fail(err)
	}
	defer r.Body.Close()

	responseBodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		return fail(err)
	}

	if r.StatusCode < 200 || 300 <= r.StatusCode {
		// the response body is the error message
		apiErr := &ApiError{
			Method: method,
			Path: path,
			StatusCode: r.StatusCode,
			Message: parseErrorMessage(responseBodyBytes),
		}
		if r.StatusCode == http.StatusUnauthorized {
			glog.Infof("[api]%s %s unauthorized\n", method, path)
		}
		return fail(apiErr)
	}

	trimmed := bytes.TrimSpace(responseBodyBytes)
	if len(trimmed) == 0 {
		// no content
	} else if trimmed[0] == '{' || trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &result); err != nil {
			return fail(err)
		}
	} else if raw, ok := any(result).(rawMessageResult); ok {
		raw.setRawMessage(string(trimmed))
	}

	callback.Result(result, nil)
	return result, nil
}


func parseErrorMessage(responseBodyBytes []byte) string {
	trimmed := bytes.TrimSpace(responseBodyBytes)
	if 0 < len(trimmed) && trimmed[0] == '{' {
		var errorBody struct {
			Message string `json:"message"`
			Error string `json:"error"`
		}
		if err := json.Unmarshal(trimmed, &errorBody); err == nil {
			if errorBody.Message != "" {
				return errorBody.Message
			}
			return errorBody.Error
		}
	}
	// the server prefixes plain text errors
	return strings.TrimPrefix(string(trimmed), "ERROR : ")
}

func escapeQuotes(s string) string {
	return strings.NewReplacer("\\", "\\\\", `"`, "\\\"").Replace(s)
}
