package feedsync

import (
	"strconv"

	gojwt "github.com/golang-jwt/jwt/v5"
)

type SessionClaims struct {
	UserId   EntityId
	Username string
}

// the token is issued and verified by the backend. the client only needs the
// embedded identity, so the signature is not checked here.
func ParseSessionJwtUnverified(sessionJwt string) (*SessionClaims, error) {
	parser := gojwt.NewParser()
	token, _, err := parser.ParseUnverified(sessionJwt, gojwt.MapClaims{})
	if err != nil {
		return nil, err
	}

	claims := token.Claims.(gojwt.MapClaims)

	sessionClaims := &SessionClaims{}

	if userIdClaim, ok := claims["user_id"]; ok {
		switch userId := userIdClaim.(type) {
		case float64:
			sessionClaims.UserId = EntityId(userId)
		case string:
			if parsed, err := strconv.ParseInt(userId, 10, 64); err == nil {
				sessionClaims.UserId = EntityId(parsed)
			}
		}
	}
	if username, ok := claims["username"]; ok {
		if usernameStr, ok := username.(string); ok {
			sessionClaims.Username = usernameStr
		}
	}

	return sessionClaims, nil
}
