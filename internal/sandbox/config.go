package sandbox

import (
	"errors"
	"strings"
	"time"

	"github.com/tyemirov/trainee/internal/metrics"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrMissingSigningKey indicates the sandbox was configured without an HS256 secret.
	ErrMissingSigningKey = errors.New("sandbox.config.missing_signing_key")
	// ErrInvalidTTL indicates a non-positive token lifetime.
	ErrInvalidTTL = errors.New("sandbox.config.invalid_ttl")
	// ErrMissingAdmin indicates the seed administrator has no username or password.
	ErrMissingAdmin = errors.New("sandbox.config.missing_admin")
)

// DefaultIssuer is the iss claim of sandbox access tokens.
const DefaultIssuer = "trainee-sandbox"

// SectionSeed describes a section created at startup.
type SectionSeed struct {
	Name        string
	Description string
}

// DefaultSections are seeded when Config.Sections is empty.
func DefaultSections() []SectionSeed {
	return []SectionSeed{
		{Name: "Nutrition", Description: "Meal plans and healthy eating"},
		{Name: "Strength Training", Description: "Lifting programs and technique"},
		{Name: "Cardio", Description: "Running, cycling and conditioning"},
		{Name: "Mobility", Description: "Stretching and recovery routines"},
	}
}

// Config configures the sandbox API.
type Config struct {
	SigningKey    []byte
	Issuer        string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	AdminUsername string
	AdminEmail    string
	AdminPassword string
	Sections      []SectionSeed
	// PasswordCost is the bcrypt cost; zero selects bcrypt.DefaultCost.
	PasswordCost int
	// WrapErrors renders errors as {"error": true, "message", "details"}.
	WrapErrors         bool
	EnableCORS         bool
	CORSAllowedOrigins []string
	// Metrics also receives the auth events exported on /metrics.
	Metrics            metrics.Recorder
	Now                func() time.Time
}

func (configuration Config) withDefaults() (Config, error) {
	if len(configuration.SigningKey) == 0 {
		return Config{}, ErrMissingSigningKey
	}
	if configuration.AccessTTL <= 0 || configuration.RefreshTTL <= 0 {
		return Config{}, ErrInvalidTTL
	}
	if strings.TrimSpace(configuration.AdminUsername) == "" || configuration.AdminPassword == "" {
		return Config{}, ErrMissingAdmin
	}
	if configuration.Issuer == "" {
		configuration.Issuer = DefaultIssuer
	}
	if configuration.AdminEmail == "" {
		configuration.AdminEmail = configuration.AdminUsername + "@trainee.local"
	}
	if len(configuration.Sections) == 0 {
		configuration.Sections = DefaultSections()
	}
	if configuration.PasswordCost == 0 {
		configuration.PasswordCost = bcrypt.DefaultCost
	}
	if configuration.Now == nil {
		configuration.Now = time.Now
	}
	return configuration, nil
}
