package sessiondecoder

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func mintToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("server-side-secret"))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"token_type": "access",
		"user_id":    42,
		"username":   "alice",
		"email":      "alice@example.com",
		"role":       "user",
		"exp":        time.Unix(1700000300, 0).Unix(),
	}
}

func TestDecodeValidToken(t *testing.T) {
	t.Parallel()

	identity, err := Decode(mintToken(t, validClaims()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if identity.ID != 42 || identity.Username != "alice" || identity.Email != "alice@example.com" {
		t.Fatalf("unexpected identity: %#v", identity)
	}
	if identity.Role != RoleUser || identity.IsAdmin() {
		t.Fatalf("expected user role, got %q", identity.Role)
	}
	if !identity.ExpiresAt.Equal(time.Unix(1700000300, 0).UTC()) {
		t.Fatalf("unexpected expiry: %v", identity.ExpiresAt)
	}
}

func TestDecodeIgnoresSignature(t *testing.T) {
	t.Parallel()

	claims := validClaims()
	claims["role"] = "admin"
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("a-key-the-client-never-sees"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	identity, decodeErr := Decode(signed)
	if decodeErr != nil {
		t.Fatalf("unexpected error: %v", decodeErr)
	}
	if !identity.IsAdmin() {
		t.Fatalf("expected admin identity")
	}
}

func TestDecodeAcceptsStringUserID(t *testing.T) {
	t.Parallel()

	claims := validClaims()
	claims["user_id"] = "7"
	identity, err := Decode(mintToken(t, claims))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if identity.ID != 7 {
		t.Fatalf("expected id 7, got %d", identity.ID)
	}
}

func TestDecodeWithoutExpiry(t *testing.T) {
	t.Parallel()

	claims := validClaims()
	delete(claims, "exp")
	identity, err := Decode(mintToken(t, claims))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !identity.ExpiresAt.IsZero() {
		t.Fatalf("expected zero expiry, got %v", identity.ExpiresAt)
	}
	if identity.Expired(time.Now()) {
		t.Fatalf("token without exp should not be expired")
	}
}

func TestIdentityExpired(t *testing.T) {
	t.Parallel()

	expiry := time.Unix(1700000000, 0).UTC()
	identity := Identity{ExpiresAt: expiry}
	if identity.Expired(expiry.Add(-time.Second)) {
		t.Fatalf("expected token to be valid before expiry")
	}
	if !identity.Expired(expiry) {
		t.Fatalf("expected token to be expired at expiry")
	}
}

func TestDecodeRejectsInvalidTokens(t *testing.T) {
	encode := func(segment string) string {
		return base64.RawURLEncoding.EncodeToString([]byte(segment))
	}
	header := encode(`{"alg":"HS256","typ":"JWT"}`)

	withClaims := func(mutate func(jwt.MapClaims)) func() string {
		return func() string {
			claims := validClaims()
			mutate(claims)
			return mintToken(t, claims)
		}
	}

	tests := []struct {
		name      string
		tokenFunc func() string
		expectErr error
	}{
		{name: "empty", tokenFunc: func() string { return "" }, expectErr: ErrMissingToken},
		{name: "whitespace", tokenFunc: func() string { return "   " }, expectErr: ErrMissingToken},
		{name: "single segment", tokenFunc: func() string { return "not-a-token" }, expectErr: ErrMalformed},
		{name: "two segments", tokenFunc: func() string { return header + "." + encode(`{}`) }, expectErr: ErrMalformed},
		{name: "four segments", tokenFunc: func() string { return "a.b.c.d" }, expectErr: ErrMalformed},
		{name: "payload not base64", tokenFunc: func() string { return header + ".%%%.sig" }, expectErr: ErrMalformed},
		{name: "payload not json", tokenFunc: func() string { return header + "." + encode("plain text") + ".sig" }, expectErr: ErrMalformed},
		{name: "payload is array", tokenFunc: func() string { return header + "." + encode("[1,2]") + ".sig" }, expectErr: ErrMalformed},
		{name: "missing user_id", tokenFunc: withClaims(func(claims jwt.MapClaims) { delete(claims, "user_id") }), expectErr: ErrMissingClaim},
		{name: "missing username", tokenFunc: withClaims(func(claims jwt.MapClaims) { delete(claims, "username") }), expectErr: ErrMissingClaim},
		{name: "missing email", tokenFunc: withClaims(func(claims jwt.MapClaims) { delete(claims, "email") }), expectErr: ErrMissingClaim},
		{name: "missing role", tokenFunc: withClaims(func(claims jwt.MapClaims) { delete(claims, "role") }), expectErr: ErrMissingClaim},
		{name: "unknown role", tokenFunc: withClaims(func(claims jwt.MapClaims) { claims["role"] = "superuser" }), expectErr: ErrInvalidClaim},
		{name: "non numeric user_id", tokenFunc: withClaims(func(claims jwt.MapClaims) { claims["user_id"] = "abc" }), expectErr: ErrInvalidClaim},
		{name: "boolean username", tokenFunc: withClaims(func(claims jwt.MapClaims) { claims["username"] = true }), expectErr: ErrInvalidClaim},
		{name: "textual exp", tokenFunc: withClaims(func(claims jwt.MapClaims) { claims["exp"] = "tomorrow" }), expectErr: ErrInvalidClaim},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			_, err := Decode(testCase.tokenFunc())
			if err == nil {
				t.Fatalf("expected error")
			}
			if !errors.Is(err, ErrDecode) {
				t.Fatalf("expected ErrDecode, got %v", err)
			}
			if !errors.Is(err, testCase.expectErr) {
				t.Fatalf("expected %v, got %v", testCase.expectErr, err)
			}
		})
	}
}

func TestDecodeIgnoresHeaderAlgorithm(t *testing.T) {
	t.Parallel()

	encode := func(segment string) string {
		return base64.RawURLEncoding.EncodeToString([]byte(segment))
	}
	payload, err := json.Marshal(validClaims())
	if err != nil {
		t.Fatalf("marshal claims: %v", err)
	}
	for _, header := range []string{
		encode(`{"alg":"RS999","typ":"JWT"}`),
		encode(`{"typ":"JWT"}`),
		encode(`{"alg":"none"}`),
		"not-a-header",
	} {
		identity, decodeErr := Decode(header + "." + encode(string(payload)) + ".sig")
		if decodeErr != nil {
			t.Fatalf("header %q: unexpected error: %v", header, decodeErr)
		}
		if identity.ID != 42 || identity.Username != "alice" {
			t.Fatalf("header %q: unexpected identity %#v", header, identity)
		}
	}
}

func TestDecodeNeverPanicsOnArbitraryInput(t *testing.T) {
	t.Parallel()

	alphabet := []byte("abcXYZ0129-_.=+/{}\":, ")
	generator := rand.New(rand.NewSource(1))
	for iteration := 0; iteration < 2000; iteration++ {
		length := generator.Intn(64)
		buffer := make([]byte, length)
		for index := range buffer {
			buffer[index] = alphabet[generator.Intn(len(alphabet))]
		}
		if _, err := Decode(string(buffer)); err != nil && !errors.Is(err, ErrDecode) {
			t.Fatalf("unexpected error class for %q: %v", string(buffer), err)
		}
	}
}
