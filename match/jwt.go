package match

import (
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
)


// the claims the client reads from the session cookie.
// the signature is the server's concern
type SessionJwt struct {
	UserId Id
	IssuedAt time.Time
	// zero when the token has no expiry
	ExpiresAt time.Time
}

func (self *SessionJwt) Expired(now time.Time) bool {
	return !self.ExpiresAt.IsZero() && !now.Before(self.ExpiresAt)
}


func ParseSessionJwtUnverified(jwt string) (*SessionJwt, error) {
	parser := gojwt.NewParser()
	token, _, err := parser.ParseUnverified(jwt, gojwt.MapClaims{})
	if err != nil {
		return nil, err
	}

	claims := token.Claims.(gojwt.MapClaims)

	sessionJwt := &SessionJwt{}

	if userId, ok := claims["_id"].(string); ok {
		sessionJwt.UserId = Id(userId)
	} else if userId, ok := claims["userId"].(string); ok {
		sessionJwt.UserId = Id(userId)
	}
	if issuedAt, err := claims.GetIssuedAt(); err == nil && issuedAt != nil {
		sessionJwt.IssuedAt = issuedAt.Time
	}
	if expiresAt, err := claims.GetExpirationTime(); err == nil && expiresAt != nil {
		sessionJwt.ExpiresAt = expiresAt.Time
	}

	return sessionJwt, nil
}
