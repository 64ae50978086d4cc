package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// authorized checks the bearer credential on r. An API with neither a
// static token nor a signing secret configured is open.
func (s *Server) authorized(r *http.Request) bool {
	if s.opts.BearerToken == "" && len(s.opts.HS512Secret) == 0 {
		return true
	}

	presented, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || presented == "" {
		return false
	}

	if s.opts.BearerToken != "" &&
		subtle.ConstantTimeCompare([]byte(presented), []byte(s.opts.BearerToken)) == 1 {
		return true
	}

	if len(s.opts.HS512Secret) != 0 {
		token, err := jwt.Parse(presented, func(token *jwt.Token) (interface{}, error) {
			return s.opts.HS512Secret, nil
		}, jwt.WithValidMethods([]string{"HS512"}), jwt.WithExpirationRequired(), jwt.WithStrictDecoding())
		if err == nil && token.Valid {
			return true
		}
	}

	return false
}
