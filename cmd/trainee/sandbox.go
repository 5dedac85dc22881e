package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tyemirov/trainee/internal/sandbox"
	"go.uber.org/zap"
)

func newSandboxCommand() *cobra.Command {
	sandboxCmd := &cobra.Command{
		Use:   "sandbox",
		Short: "Serve an in-memory Trainee API for local development",
		Args:  cobra.NoArgs,
		RunE:  runSandbox,
	}

	sandboxCmd.Flags().String("listen_addr", ":8000", "HTTP listen address")
	sandboxCmd.Flags().String("jwt_signing_key", "", "HS256 signing secret for access tokens")
	sandboxCmd.Flags().Duration("session_ttl", 5*time.Minute, "Access token TTL")
	sandboxCmd.Flags().Duration("refresh_ttl", 24*time.Hour, "Refresh token TTL")
	sandboxCmd.Flags().String("seed_admin_username", "admin", "Username of the seeded administrator")
	sandboxCmd.Flags().String("seed_admin_password", "", "Password of the seeded administrator")
	sandboxCmd.Flags().Bool("enable_cors", false, "Enable CORS for browser clients")
	sandboxCmd.Flags().StringSlice("cors_allowed_origins", []string{}, "Allowed origins when CORS is enabled (required if enable_cors is true)")
	sandboxCmd.Flags().Bool("wrap_errors", false, "Render errors as {error, message, details}")

	_ = viper.BindPFlag("listen_addr", sandboxCmd.Flags().Lookup("listen_addr"))
	_ = viper.BindPFlag("jwt_signing_key", sandboxCmd.Flags().Lookup("jwt_signing_key"))
	_ = viper.BindPFlag("session_ttl", sandboxCmd.Flags().Lookup("session_ttl"))
	_ = viper.BindPFlag("refresh_ttl", sandboxCmd.Flags().Lookup("refresh_ttl"))
	_ = viper.BindPFlag("seed_admin_username", sandboxCmd.Flags().Lookup("seed_admin_username"))
	_ = viper.BindPFlag("seed_admin_password", sandboxCmd.Flags().Lookup("seed_admin_password"))
	_ = viper.BindPFlag("enable_cors", sandboxCmd.Flags().Lookup("enable_cors"))
	_ = viper.BindPFlag("cors_allowed_origins", sandboxCmd.Flags().Lookup("cors_allowed_origins"))
	_ = viper.BindPFlag("wrap_errors", sandboxCmd.Flags().Lookup("wrap_errors"))

	return sandboxCmd
}

func runSandbox(command *cobra.Command, arguments []string) error {
	configuration, err := LoadSandboxConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(configuration.LogLevel, configuration.LogPretty)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	gin.SetMode(gin.ReleaseMode)
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	api, err := sandbox.New(sandbox.Config{
		SigningKey:         []byte(configuration.JWTSigningKey),
		AccessTTL:          configuration.SessionTTL,
		RefreshTTL:         configuration.RefreshTTL,
		AdminUsername:      configuration.AdminUsername,
		AdminPassword:      configuration.AdminPassword,
		WrapErrors:         configuration.WrapErrors,
		EnableCORS:         configuration.EnableCORS,
		CORSAllowedOrigins: configuration.CORSAllowedOrigins,
	}, logger, registry)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              configuration.ListenAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()

	go func() {
		stopSignals := make(chan os.Signal, 1)
		signal.Notify(stopSignals, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(stopSignals)
		select {
		case <-stopSignals:
		case <-shutdownCtx.Done():
			return
		}
		graceCtx, graceCancel := context.WithTimeout(shutdownCtx, 10*time.Second)
		defer graceCancel()
		if err := server.Shutdown(graceCtx); err != nil {
			logger.Error("sandbox shutdown error", zap.String("code", "sandbox.shutdown_failed"), zap.Error(err))
		}
	}()

	logger.Info("sandbox listening",
		zap.String("addr", configuration.ListenAddr),
		zap.String("api", sandbox.APIBasePath),
		zap.String("admin", configuration.AdminUsername))
	if err := serveHTTP(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen error: %w", err)
	}
	return nil
}
