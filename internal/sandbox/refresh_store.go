package sandbox

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

var (
	// ErrRefreshTokenNotFound indicates no refresh token matched the provided value.
	ErrRefreshTokenNotFound = errors.New("refresh_store.not_found")
	// ErrRefreshTokenRevoked indicates the refresh token has been rotated or revoked.
	ErrRefreshTokenRevoked = errors.New("refresh_store.revoked")
	// ErrRefreshTokenExpired indicates the refresh token has exceeded its expiry.
	ErrRefreshTokenExpired = errors.New("refresh_store.expired")
	// ErrRefreshTokenEmptyOpaque indicates that the provided token text is empty.
	ErrRefreshTokenEmptyOpaque = errors.New("refresh_store.empty_token")
)

const refreshOpaqueByteLength = 32

// refreshStore keeps opaque rotating refresh tokens. Only hashes are stored.
type refreshStore struct {
	mutex      sync.Mutex
	byID       map[string]*refreshRecord
	byHash     map[string]string
	sequenceID uint64
}

type refreshRecord struct {
	TokenID         string
	UserID          int64
	Hash            string
	ExpiresAt       time.Time
	RevokedAt       time.Time
	PreviousTokenID string
	IssuedAt        time.Time
}

func newRefreshStore() *refreshStore {
	return &refreshStore{
		byID:   make(map[string]*refreshRecord),
		byHash: make(map[string]string),
	}
}

// Issue creates a token for userID, optionally linked to the token it replaces.
func (store *refreshStore) Issue(userID int64, now time.Time, expiresAt time.Time, previousTokenID string) (string, string, error) {
	opaque, hashValue, err := generateRefreshOpaque()
	if err != nil {
		return "", "", err
	}

	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.sequenceID++
	tokenID := fmt.Sprintf("rt-%d", store.sequenceID)
	store.byID[tokenID] = &refreshRecord{
		TokenID:         tokenID,
		UserID:          userID,
		Hash:            hashValue,
		ExpiresAt:       expiresAt,
		PreviousTokenID: previousTokenID,
		IssuedAt:        now,
	}
	store.byHash[hashValue] = tokenID
	return tokenID, opaque, nil
}

// Validate resolves an opaque token to its owner and token id.
func (store *refreshStore) Validate(opaque string, now time.Time) (int64, string, error) {
	if strings.TrimSpace(opaque) == "" {
		return 0, "", ErrRefreshTokenEmptyOpaque
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()

	tokenID, ok := store.byHash[hashOpaque(opaque)]
	if !ok {
		return 0, "", ErrRefreshTokenNotFound
	}
	record := store.byID[tokenID]
	if record == nil {
		return 0, "", ErrRefreshTokenNotFound
	}
	if !record.RevokedAt.IsZero() {
		return 0, "", ErrRefreshTokenRevoked
	}
	if !record.ExpiresAt.After(now) {
		return 0, "", ErrRefreshTokenExpired
	}
	return record.UserID, record.TokenID, nil
}

// Revoke marks a token as revoked. Revoking twice is a no-op.
func (store *refreshStore) Revoke(tokenID string, now time.Time) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	record := store.byID[tokenID]
	if record == nil {
		return ErrRefreshTokenNotFound
	}
	if record.RevokedAt.IsZero() {
		record.RevokedAt = now
	}
	return nil
}

// RevokeUser revokes every live token of userID.
func (store *refreshStore) RevokeUser(userID int64, now time.Time) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	for _, record := range store.byID {
		if record.UserID == userID && record.RevokedAt.IsZero() {
			record.RevokedAt = now
		}
	}
}

func generateRefreshOpaque() (string, string, error) {
	randomBytes := make([]byte, refreshOpaqueByteLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", fmt.Errorf("refresh_store.random: %w", err)
	}
	opaque := base64.RawURLEncoding.EncodeToString(randomBytes)
	return opaque, hashOpaque(opaque), nil
}

func hashOpaque(opaque string) string {
	sum := sha256.Sum256([]byte(opaque))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
