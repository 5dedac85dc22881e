package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tyemirov/trainee/internal/views"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var serveHTTP = func(server *http.Server) error {
	return server.ListenAndServe()
}

func main() {
	if err := newRootCommand(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", describeError(err))
		os.Exit(1)
	}
}

func newRootCommand(out io.Writer, errOut io.Writer) *cobra.Command {
	state := &cliState{out: out, errOut: errOut}
	rootCmd := &cobra.Command{
		Use:           "trainee",
		Short:         "Command-line client for the Trainee fitness community API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("api_base_url", "http://localhost:8000/api", "Trainee API root including the /api prefix")
	rootCmd.PersistentFlags().Duration("request_timeout", 15*time.Second, "Timeout of a single API request")
	rootCmd.PersistentFlags().String("username", "", "Sign in with this username before running the command")
	rootCmd.PersistentFlags().String("password", "", "Password for --username")
	rootCmd.PersistentFlags().String("token_store_url", "", "Token store database URL (sqlite:// or postgres://); empty keeps tokens in memory")
	rootCmd.PersistentFlags().String("log_level", "warn", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log_pretty", false, "Human-readable development logs")

	_ = viper.BindPFlag("api_base_url", rootCmd.PersistentFlags().Lookup("api_base_url"))
	_ = viper.BindPFlag("request_timeout", rootCmd.PersistentFlags().Lookup("request_timeout"))
	_ = viper.BindPFlag("username", rootCmd.PersistentFlags().Lookup("username"))
	_ = viper.BindPFlag("password", rootCmd.PersistentFlags().Lookup("password"))
	_ = viper.BindPFlag("token_store_url", rootCmd.PersistentFlags().Lookup("token_store_url"))
	_ = viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log_level"))
	_ = viper.BindPFlag("log_pretty", rootCmd.PersistentFlags().Lookup("log_pretty"))

	viper.SetEnvPrefix("TRAINEE")
	viper.AutomaticEnv()

	rootCmd.AddCommand(newSessionCommands(state)...)
	rootCmd.AddCommand(newShellCommand(state))
	rootCmd.AddCommand(newSandboxCommand())
	closeSessionAfter(rootCmd, state)
	return rootCmd
}

// closeSessionAfter closes the shared session when a command returns,
// including when it fails.
func closeSessionAfter(command *cobra.Command, state *cliState) {
	if run := command.RunE; run != nil {
		command.RunE = func(command *cobra.Command, arguments []string) error {
			defer state.close(command.Context())
			return run(command, arguments)
		}
	}
	for _, subcommand := range command.Commands() {
		closeSessionAfter(subcommand, state)
	}
}

// newLogger builds a zap logger writing to stderr.
func newLogger(level string, pretty bool) (*zap.Logger, error) {
	var loggerConfig zap.Config
	if pretty {
		loggerConfig = zap.NewDevelopmentConfig()
	} else {
		loggerConfig = zap.NewProductionConfig()
	}
	parsedLevel := new(zapcore.Level)
	if err := parsedLevel.Set(level); err != nil {
		*parsedLevel = zapcore.WarnLevel
	}
	loggerConfig.Level = zap.NewAtomicLevelAt(*parsedLevel)
	loggerConfig.EncoderConfig.TimeKey = "ts"
	loggerConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	loggerConfig.OutputPaths = []string{"stderr"}
	return loggerConfig.Build(zap.Fields(zap.String("service", "trainee")))
}

// describeError prefers the text a user would see on screen and falls back
// to the error chain for everything else, such as configuration errors.
func describeError(err error) string {
	if message, known := views.Explain(err); known && message != "" {
		fields := views.FieldMessages(err)
		if len(fields) <= 1 {
			return message
		}
		return fmt.Sprintf("%s %s", message, formatFields(fields))
	}
	return err.Error()
}
