package main

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/golang/glog"

	"github.com/devmatch/devmatch/match"
)


// the session cookie kept between invocations, the browser cookie jar of one user
type SessionFile struct {
	ApiUrl string `json:"api_url"`
	UserId match.Id `json:"user_id,omitempty"`
	Cookies []*SessionCookie `json:"cookies"`
}

type SessionCookie struct {
	Name string `json:"name"`
	Value string `json:"value"`
	// zero when the token has no expiry
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}


func NewSessionFile(api *match.DevMatchApi) *SessionFile {
	sessionFile := &SessionFile{
		ApiUrl: api.ApiUrl(),
		Cookies: []*SessionCookie{},
	}
	for _, cookie := range api.Cookies() {
		sessionCookie := &SessionCookie{
			Name: cookie.Name,
			Value: cookie.Value,
		}
		if cookie.Name == match.SessionCookieName {
			if sessionJwt, err := match.ParseSessionJwtUnverified(cookie.Value); err == nil {
				sessionFile.UserId = sessionJwt.UserId
				sessionCookie.ExpiresAt = sessionJwt.ExpiresAt
			}
		}
		sessionFile.Cookies = append(sessionFile.Cookies, sessionCookie)
	}
	return sessionFile
}

// returns nil when there is no file
func ReadSessionFile(path string) (*SessionFile, error) {
	sessionBytes, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var sessionFile SessionFile
	if err := json.Unmarshal(sessionBytes, &sessionFile); err != nil {
		return nil, err
	}
	return &sessionFile, nil
}

func (self *SessionFile) Write(path string) error {
	sessionBytes, err := json.MarshalIndent(self, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	// the cookie is a credential
	return os.WriteFile(path, sessionBytes, 0600)
}

func RemoveSessionFile(path string) error {
	err := os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// imports the unexpired cookies when the file belongs to the api. Returns the number imported
func (self *SessionFile) Restore(api *match.DevMatchApi, now time.Time) int {
	if self.ApiUrl != api.ApiUrl() {
		glog.V(1).Infof("[matchctl]session file is for %s, not %s\n", self.ApiUrl, api.ApiUrl())
		return 0
	}
	cookies := []*http.Cookie{}
	for _, sessionCookie := range self.Cookies {
		if !sessionCookie.ExpiresAt.IsZero() && !now.Before(sessionCookie.ExpiresAt) {
			glog.V(1).Infof("[matchctl]session cookie %s expired\n", sessionCookie.Name)
			continue
		}
		cookies = append(cookies, &http.Cookie{
			Name: sessionCookie.Name,
			Value: sessionCookie.Value,
			Path: "/",
		})
	}
	if 0 < len(cookies) {
		api.SetCookies(cookies)
	}
	return len(cookies)
}
