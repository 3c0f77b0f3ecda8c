package server

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type unauthorizedError struct {
	reason string
}

func (e unauthorizedError) Error() string { return e.reason }

// verifyCallbackToken checks the bearer token a worker presents when
// posting its results. The token must be signed with the callback secret
// and scoped to the meeting being reported on.
func verifyCallbackToken(authorization, secret, meetingID string) error {
	if secret == "" {
		return unauthorizedError{reason: "callback secret not configured"}
	}
	raw := strings.TrimPrefix(authorization, "Bearer ")
	if raw == "" || raw == authorization {
		return unauthorizedError{reason: "missing bearer token"}
	}
	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return unauthorizedError{reason: fmt.Sprintf("invalid token: %v", err)}
	}
	sub, err := token.Claims.GetSubject()
	if err != nil || sub != meetingID {
		return unauthorizedError{reason: "token not valid for this meeting"}
	}
	return nil
}
