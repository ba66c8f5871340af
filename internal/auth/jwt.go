package auth

import (
	"context"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// JWTVerifier validates HS256 access tokens issued by the backend's auth
// service. The subject claim is the user id.
type JWTVerifier struct {
	signingKey []byte
	audience   string
}

func NewJWTVerifier(signingKey []byte, audience string) *JWTVerifier {
	return &JWTVerifier{
		signingKey: signingKey,
		audience:   audience,
	}
}

func (v *JWTVerifier) Verify(ctx context.Context, credential string) (string, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return "", unauthenticated("token is empty")
	}
	if err := ctx.Err(); err != nil {
		return "", unauthenticated("%v", err)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(credential, claims, func(t *jwt.Token) (any, error) {
		return v.signingKey, nil
	}, opts...)
	if err != nil {
		return "", unauthenticated("parse token: %v", err)
	}
	if !token.Valid {
		return "", unauthenticated("invalid token")
	}

	userId := strings.TrimSpace(claims.Subject)
	if userId == "" {
		return "", unauthenticated("token has no subject")
	}

	return userId, nil
}
