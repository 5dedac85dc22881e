package sandbox

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tyemirov/trainee/pkg/sessiondecoder"
)

const accessTokenType = "access"

var errWrongTokenType = errors.New("sandbox.token.wrong_type")

// accessClaims are embedded in the access token. The claim names match what
// clients decode to display the user and gate admin screens.
type accessClaims struct {
	TokenType string `json:"token_type"`
	UserID    int64  `json:"user_id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	IsActive  bool   `json:"is_active"`
	jwt.RegisteredClaims
}

func roleOf(user *account) sessiondecoder.Role {
	if user.IsStaff {
		return sessiondecoder.RoleAdmin
	}
	return sessiondecoder.RoleUser
}

// mintAccessToken creates a signed HS256 access token for user.
func mintAccessToken(user *account, issuer string, signingKey []byte, ttl time.Duration, now time.Time) (string, time.Time, error) {
	issuedAt := now.UTC()
	expiresAt := issuedAt.Add(ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, accessClaims{
		TokenType: accessTokenType,
		UserID:    user.ID,
		Username:  user.Username,
		Email:     user.Email,
		Role:      string(roleOf(user)),
		IsActive:  user.IsActive,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   fmt.Sprintf("%d", user.ID),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt.Add(-30 * time.Second)),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := token.SignedString(signingKey)
	return signed, expiresAt, err
}

// parseAccessToken verifies signature, issuer and expiry against now.
func parseAccessToken(tokenString string, issuer string, signingKey []byte, now time.Time) (*accessClaims, error) {
	claims := &accessClaims{}
	parsedToken, err := jwt.ParseWithClaims(tokenString, claims, func(parsed *jwt.Token) (interface{}, error) {
		return signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		return nil, err
	}
	if parsedToken == nil || !parsedToken.Valid {
		return nil, jwt.ErrTokenUnverifiable
	}
	if claims.TokenType != accessTokenType {
		return nil, errWrongTokenType
	}
	return claims, nil
}
