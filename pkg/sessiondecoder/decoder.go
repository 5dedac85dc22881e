// Package sessiondecoder turns Trainee access tokens into user identities.
//
// Decoding is local: the payload segment is read without verifying the
// signature. The API server verifies every token it receives; the client only
// needs the claims to display the user and gate role-specific screens.
package sessiondecoder

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role names the authorization level carried by an access token.
type Role string

const (
	// RoleUser is assigned to every approved account.
	RoleUser Role = "user"
	// RoleAdmin is assigned to staff accounts that moderate users and posts.
	RoleAdmin Role = "admin"
)

// Claim names read from the token payload.
const (
	ClaimUserID   = "user_id"
	ClaimUsername = "username"
	ClaimEmail    = "email"
	ClaimRole     = "role"
)

// Sentinel errors exposed by the decoder. Every failure also matches ErrDecode.
var (
	ErrDecode       = errors.New("session.decoder.invalid_token")
	ErrMissingToken = errors.New("session.decoder.missing_token")
	ErrMalformed    = errors.New("session.decoder.malformed")
	ErrMissingClaim = errors.New("session.decoder.missing_claim")
	ErrInvalidClaim = errors.New("session.decoder.invalid_claim")
)

// Identity is the user projection of an access token.
type Identity struct {
	ID        int64
	Username  string
	Email     string
	Role      Role
	ExpiresAt time.Time
}

// IsAdmin reports whether the identity carries the admin role.
func (identity Identity) IsAdmin() bool {
	return identity.Role == RoleAdmin
}

// Expired reports whether the token expiry is at or before the supplied time.
// Tokens without an exp claim never expire client side.
func (identity Identity) Expired(now time.Time) bool {
	if identity.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(identity.ExpiresAt)
}

var segmentDecoder = jwt.NewParser()

// Decode reads the identity claims from an access token without verifying its signature.
func Decode(tokenString string) (Identity, error) {
	if strings.TrimSpace(tokenString) == "" {
		return Identity{}, decodeError(ErrMissingToken, "token is empty")
	}
	claims, claimsErr := decodePayload(tokenString)
	if claimsErr != nil {
		return Identity{}, claimsErr
	}

	userID, userIDErr := readUserID(claims)
	if userIDErr != nil {
		return Identity{}, userIDErr
	}
	username, usernameErr := readString(claims, ClaimUsername, false)
	if usernameErr != nil {
		return Identity{}, usernameErr
	}
	email, emailErr := readString(claims, ClaimEmail, true)
	if emailErr != nil {
		return Identity{}, emailErr
	}
	roleValue, roleErr := readString(claims, ClaimRole, false)
	if roleErr != nil {
		return Identity{}, roleErr
	}
	role := Role(roleValue)
	if role != RoleUser && role != RoleAdmin {
		return Identity{}, decodeError(ErrInvalidClaim, fmt.Sprintf("%s %q is not recognised", ClaimRole, roleValue))
	}

	identity := Identity{
		ID:       userID,
		Username: username,
		Email:    email,
		Role:     role,
	}
	expiresAt, expErr := claims.GetExpirationTime()
	if expErr != nil {
		return Identity{}, decodeError(ErrInvalidClaim, "exp is not a timestamp")
	}
	if expiresAt != nil {
		identity.ExpiresAt = expiresAt.Time.UTC()
	}
	return identity, nil
}

// decodePayload reads the claims segment only. The header is not consulted,
// so its alg value does not matter here.
func decodePayload(tokenString string) (jwt.MapClaims, error) {
	segments := strings.Split(tokenString, ".")
	if len(segments) != 3 {
		return nil, decodeError(ErrMalformed, fmt.Sprintf("token has %d segments, expected 3", len(segments)))
	}
	payload, segmentErr := segmentDecoder.DecodeSegment(segments[1])
	if segmentErr != nil {
		return nil, decodeError(ErrMalformed, "payload is not base64url")
	}
	claims := jwt.MapClaims{}
	jsonDecoder := json.NewDecoder(bytes.NewReader(payload))
	jsonDecoder.UseNumber()
	if jsonErr := jsonDecoder.Decode(&claims); jsonErr != nil {
		return nil, decodeError(ErrMalformed, "payload is not a JSON object")
	}
	return claims, nil
}

func readUserID(claims jwt.MapClaims) (int64, error) {
	rawValue, exists := claims[ClaimUserID]
	if !exists || rawValue == nil {
		return 0, decodeError(ErrMissingClaim, ClaimUserID)
	}
	var textValue string
	switch typed := rawValue.(type) {
	case json.Number:
		textValue = typed.String()
	case string:
		textValue = strings.TrimSpace(typed)
	default:
		return 0, decodeError(ErrInvalidClaim, ClaimUserID+" must be a number")
	}
	userID, parseErr := strconv.ParseInt(textValue, 10, 64)
	if parseErr != nil || userID <= 0 {
		return 0, decodeError(ErrInvalidClaim, ClaimUserID+" must be a positive integer")
	}
	return userID, nil
}

func readString(claims jwt.MapClaims, name string, allowEmpty bool) (string, error) {
	rawValue, exists := claims[name]
	if !exists || rawValue == nil {
		return "", decodeError(ErrMissingClaim, name)
	}
	value, ok := rawValue.(string)
	if !ok {
		return "", decodeError(ErrInvalidClaim, name+" must be a string")
	}
	if !allowEmpty && strings.TrimSpace(value) == "" {
		return "", decodeError(ErrMissingClaim, name)
	}
	return value, nil
}

func decodeError(cause error, detail string) error {
	return fmt.Errorf("session.decoder.decode: %w: %w: %s", ErrDecode, cause, detail)
}
