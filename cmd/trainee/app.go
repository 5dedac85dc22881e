package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/tyemirov/trainee/internal/apiclient"
	"github.com/tyemirov/trainee/internal/metrics"
	"github.com/tyemirov/trainee/internal/session"
	"github.com/tyemirov/trainee/internal/tokenstore"
	"github.com/tyemirov/trainee/internal/views"
	"go.uber.org/zap"
)

// application is one client session: a token store, the session manager
// and an API client bound to it.
type application struct {
	configuration ClientConfig
	logger        *zap.Logger
	store         tokenstore.Store
	closeStore    func(context.Context) error
	manager       *session.Manager
	client        *apiclient.Client
	metrics       *metrics.CounterMetrics
	unsubscribe   func()
}

func newApplication(ctx context.Context, configuration ClientConfig, logger *zap.Logger, errOut io.Writer) (*application, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var (
		store      tokenstore.Store
		closeStore = func(context.Context) error { return nil }
	)
	if configuration.TokenStoreURL != "" {
		databaseStore, storeErr := tokenstore.NewDatabaseStore(ctx, configuration.TokenStoreURL)
		if storeErr != nil {
			return nil, storeErr
		}
		logger.Info("using persistent token store",
			zap.String("driver", databaseStore.Driver()),
			zap.String("session_id", databaseStore.SessionID()))
		store = databaseStore
		closeStore = databaseStore.Close
	} else {
		store = tokenstore.NewMemoryStore()
		logger.Debug("using in-memory token store")
	}

	recorder := metrics.NewCounterMetrics()
	manager, err := session.NewManager(session.Config{Store: store, Logger: logger, Metrics: recorder})
	if err != nil {
		return nil, err
	}
	if err := manager.Bootstrap(ctx); err != nil {
		return nil, err
	}
	client, err := apiclient.New(apiclient.Config{
		BaseURL: configuration.APIBaseURL,
		Timeout: configuration.RequestTimeout,
		Session: manager,
		Navigator: apiclient.NavigatorFunc(func(route string) {
			fmt.Fprintf(errOut, "session ended, redirected to %s\n", route)
		}),
		Logger:  logger,
		Metrics: recorder,
	})
	if err != nil {
		return nil, err
	}
	unsubscribe := manager.Subscribe(func(snapshot session.Snapshot) {
		logger.Debug("session changed",
			zap.String("code", "cli.session.changed"),
			zap.String("state", snapshot.State.String()),
			zap.String("username", snapshot.Identity.Username))
	})
	return &application{
		configuration: configuration,
		logger:        logger,
		store:         store,
		closeStore:    closeStore,
		manager:       manager,
		client:        client,
		metrics:       recorder,
		unsubscribe:   unsubscribe,
	}, nil
}

// signIn logs in with the configured credentials unless already signed in.
func (app *application) signIn(ctx context.Context) error {
	if app.manager.Current().Authenticated() || !app.configuration.HasCredentials() {
		return nil
	}
	_, err := views.NewLogin(app.client, app.manager).Submit(ctx, app.configuration.Username, app.configuration.Password)
	return err
}

func (app *application) close(ctx context.Context) {
	app.unsubscribe()
	app.logger.Debug("session events",
		zap.String("code", "cli.session.events"),
		zap.Any("counts", app.metrics.Snapshot()))
	if err := app.closeStore(ctx); err != nil {
		app.logger.Warn("close token store", zap.String("code", "cli.token_store.close_failed"), zap.Error(err))
	}
	_ = app.logger.Sync()
}

// cliState builds the application on first use and shares it between the
// commands of one process, including every line typed into the shell.
type cliState struct {
	out    io.Writer
	errOut io.Writer

	mutex sync.Mutex
	app   *application
}

func (state *cliState) application(ctx context.Context) (*application, error) {
	state.mutex.Lock()
	defer state.mutex.Unlock()
	if state.app != nil {
		return state.app, nil
	}
	configuration, err := LoadClientConfig()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(configuration.LogLevel, configuration.LogPretty)
	if err != nil {
		return nil, err
	}
	app, err := newApplication(ctx, configuration, logger, state.errOut)
	if err != nil {
		return nil, err
	}
	if err := app.signIn(ctx); err != nil {
		app.close(ctx)
		return nil, err
	}
	state.app = app
	return app, nil
}

func (state *cliState) close(ctx context.Context) {
	state.mutex.Lock()
	defer state.mutex.Unlock()
	if state.app == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	state.app.close(ctx)
	state.app = nil
}

func (state *cliState) printJSON(value any) error {
	encoder := json.NewEncoder(state.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func (state *cliState) println(format string, arguments ...any) {
	fmt.Fprintf(state.out, format+"\n", arguments...)
}

func formatFields(fields map[string][]string) string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %s", name, strings.Join(fields[name], " ")))
	}
	return "(" + strings.Join(parts, "; ") + ")"
}
