package api

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/JohnnyZhao2/LMS-sub002/internal/errors"
)

const userKey = "auth.username"

// authMiddleware validates the bearer token and resolves the learner
// identity from its subject. Session ownership checks build on it.
func authMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if raw == "" || raw == c.GetHeader("Authorization") {
			abortWithError(c, errors.New(errors.CodeUnauthenticated,
				errors.WithMessagef("missing bearer token")))
			return
		}

		tok, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(secret), nil
		})
		if err != nil || !tok.Valid {
			abortWithError(c, errors.New(errors.CodeUnauthenticated,
				errors.WithMessagef("invalid token"),
				errors.WithCause(err)))
			return
		}

		sub, err := tok.Claims.GetSubject()
		if err != nil || sub == "" {
			abortWithError(c, errors.New(errors.CodeUnauthenticated,
				errors.WithMessagef("token has no subject")))
			return
		}

		c.Set(userKey, sub)
		c.Next()
	}
}

func username(c *gin.Context) string {
	return c.GetString(userKey)
}
