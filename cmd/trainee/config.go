package main

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	configCodeMissingAPIBaseURL     = "config.missing_api_base_url"
	configCodeInvalidAPIBaseURL     = "config.invalid_api_base_url"
	configCodeInvalidRequestTimeout = "config.invalid_request_timeout"
	configCodeIncompleteCredentials = "config.incomplete_credentials"
	configCodeMissingJWTSigningKey  = "config.missing_jwt_signing_key"
	configCodeInvalidSessionTTL     = "config.invalid_session_ttl"
	configCodeInvalidRefreshTTL     = "config.invalid_refresh_ttl"
	configCodeMissingAdminPassword  = "config.missing_seed_admin_password"
	configCodeMissingAllowedOrigins = "config.missing_cors_allowed_origins"
)

// ClientConfig configures the API client and its session.
type ClientConfig struct {
	APIBaseURL     string
	RequestTimeout time.Duration
	Username       string
	Password       string
	// TokenStoreURL selects a persistent token store (sqlite:// or
	// postgres://); empty keeps tokens in memory for the process lifetime.
	TokenStoreURL string
	LogLevel      string
	LogPretty     bool
}

// HasCredentials reports whether the command should sign in first.
func (configuration ClientConfig) HasCredentials() bool {
	return configuration.Username != "" && configuration.Password != ""
}

// SandboxConfig configures `trainee sandbox`.
type SandboxConfig struct {
	ListenAddr         string
	JWTSigningKey      string
	SessionTTL         time.Duration
	RefreshTTL         time.Duration
	AdminUsername      string
	AdminPassword      string
	EnableCORS         bool
	CORSAllowedOrigins []string
	WrapErrors         bool
	LogLevel           string
	LogPretty          bool
}

func configError(code, message string) error {
	return fmt.Errorf("%s: %s", code, message)
}

// LoadClientConfig reads and validates the client settings from viper.
func LoadClientConfig() (ClientConfig, error) {
	apiBaseURL := strings.TrimSpace(viper.GetString("api_base_url"))
	if apiBaseURL == "" {
		return ClientConfig{}, configError(configCodeMissingAPIBaseURL, "api_base_url must be provided")
	}
	parsed, parseErr := url.Parse(apiBaseURL)
	if parseErr != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return ClientConfig{}, configError(configCodeInvalidAPIBaseURL, "api_base_url must be an http(s) URL")
	}

	requestTimeout := viper.GetDuration("request_timeout")
	if requestTimeout <= 0 {
		return ClientConfig{}, configError(configCodeInvalidRequestTimeout, "request_timeout must be greater than zero")
	}

	username := strings.TrimSpace(viper.GetString("username"))
	password := viper.GetString("password")
	if (username == "") != (password == "") {
		return ClientConfig{}, configError(configCodeIncompleteCredentials, "username and password must be provided together")
	}

	return ClientConfig{
		APIBaseURL:     apiBaseURL,
		RequestTimeout: requestTimeout,
		Username:       username,
		Password:       password,
		TokenStoreURL:  strings.TrimSpace(viper.GetString("token_store_url")),
		LogLevel:       viper.GetString("log_level"),
		LogPretty:      viper.GetBool("log_pretty"),
	}, nil
}

// LoadSandboxConfig reads and validates the sandbox settings from viper.
func LoadSandboxConfig() (SandboxConfig, error) {
	jwtSigningKey := viper.GetString("jwt_signing_key")
	if jwtSigningKey == "" {
		return SandboxConfig{}, configError(configCodeMissingJWTSigningKey, "jwt_signing_key must be provided")
	}

	sessionTTL := viper.GetDuration("session_ttl")
	if sessionTTL <= 0 {
		return SandboxConfig{}, configError(configCodeInvalidSessionTTL, "session_ttl must be greater than zero")
	}

	refreshTTL := viper.GetDuration("refresh_ttl")
	if refreshTTL <= 0 {
		return SandboxConfig{}, configError(configCodeInvalidRefreshTTL, "refresh_ttl must be greater than zero")
	}

	adminPassword := viper.GetString("seed_admin_password")
	if adminPassword == "" {
		return SandboxConfig{}, configError(configCodeMissingAdminPassword, "seed_admin_password must be provided")
	}

	enableCORS := viper.GetBool("enable_cors")
	allowedOrigins := viper.GetStringSlice("cors_allowed_origins")
	if enableCORS && len(allowedOrigins) == 0 {
		return SandboxConfig{}, configError(configCodeMissingAllowedOrigins, "cors_allowed_origins must be provided when enable_cors is true")
	}

	adminUsername := strings.TrimSpace(viper.GetString("seed_admin_username"))
	if adminUsername == "" {
		adminUsername = "admin"
	}

	return SandboxConfig{
		ListenAddr:         viper.GetString("listen_addr"),
		JWTSigningKey:      jwtSigningKey,
		SessionTTL:         sessionTTL,
		RefreshTTL:         refreshTTL,
		AdminUsername:      adminUsername,
		AdminPassword:      adminPassword,
		EnableCORS:         enableCORS,
		CORSAllowedOrigins: allowedOrigins,
		WrapErrors:         viper.GetBool("wrap_errors"),
		LogLevel:           viper.GetString("log_level"),
		LogPretty:          viper.GetBool("log_pretty"),
	}, nil
}
