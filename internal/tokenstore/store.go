package tokenstore

import (
	"context"
	"errors"
)

// Fixed key names under which the tokens are persisted.
const (
	AccessTokenKey  = "token"
	RefreshTokenKey = "refreshToken"
)

var (
	// ErrEmptyAccessToken indicates an attempt to store a blank access token.
	ErrEmptyAccessToken = errors.New("token_store.empty_access_token")
	// ErrStoreClosed indicates the session backing the store has ended.
	ErrStoreClosed = errors.New("token_store.closed")
)

// Tokens holds the stored credentials. An empty field means the entry is absent.
type Tokens struct {
	Access  string
	Refresh string
}

// HasAccess reports whether an access token is stored.
func (tokens Tokens) HasAccess() bool {
	return tokens.Access != ""
}

// HasRefresh reports whether a refresh token is stored.
func (tokens Tokens) HasRefresh() bool {
	return tokens.Refresh != ""
}

// Store persists the access and refresh tokens of a single session.
type Store interface {
	// Set writes both tokens. An empty refresh token removes the refresh entry.
	Set(ctx context.Context, accessToken string, refreshToken string) error
	// SetAccess replaces the access token and keeps the refresh token.
	SetAccess(ctx context.Context, accessToken string) error
	// Load returns the stored tokens.
	Load(ctx context.Context) (Tokens, error)
	// Clear removes both tokens. Clearing an empty store is not an error.
	Clear(ctx context.Context) error
}
