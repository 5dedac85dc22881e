// Package session owns the signed-in state of a Trainee client.
//
// The Manager is the single writer of the token store and of the identity
// derived from the access token. Readers get consistent snapshots and may
// subscribe to transitions.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tyemirov/trainee/internal/metrics"
	"github.com/tyemirov/trainee/internal/tokenstore"
	"github.com/tyemirov/trainee/pkg/sessiondecoder"
	"go.uber.org/zap"
)

// State enumerates the two session states.
type State int

const (
	// StateAnonymous means no decodable access token is stored.
	StateAnonymous State = iota
	// StateAuthenticated means the stored access token decoded into an identity.
	StateAuthenticated
)

// String returns the lowercase state name.
func (state State) String() string {
	if state == StateAuthenticated {
		return "authenticated"
	}
	return "anonymous"
}

var (
	// ErrMissingStore indicates the manager was configured without a token store.
	ErrMissingStore = errors.New("session.manager.missing_store")
	// ErrLoginTokenInvalid indicates a login response carried an access token that does not decode.
	ErrLoginTokenInvalid = errors.New("session.manager.login_token_invalid")
	// ErrRotateTokenInvalid indicates a refresh response carried an access token that does not decode.
	ErrRotateTokenInvalid = errors.New("session.manager.rotate_token_invalid")
	// ErrSessionChanged indicates the session was replaced or ended while a refresh was in flight.
	ErrSessionChanged = errors.New("session.manager.session_changed")
)

// Snapshot is an immutable view of the session at one point in time.
type Snapshot struct {
	State    State
	Identity sessiondecoder.Identity
}

// Authenticated reports whether the snapshot carries an identity.
func (snapshot Snapshot) Authenticated() bool {
	return snapshot.State == StateAuthenticated
}

// IsAdmin reports whether the snapshot belongs to an administrator.
func (snapshot Snapshot) IsAdmin() bool {
	return snapshot.Authenticated() && snapshot.Identity.IsAdmin()
}

// Credentials are the tokens attached to outgoing requests. Generation changes
// every time the stored tokens change.
type Credentials struct {
	Access     string
	Refresh    string
	Generation uint64
}

// Listener observes transitions. Listeners run synchronously on the goroutine
// that caused the transition and must not call mutating Manager methods.
type Listener func(Snapshot)

// DecodeFunc turns an access token into an identity.
type DecodeFunc func(token string) (sessiondecoder.Identity, error)

// Config configures a Manager.
type Config struct {
	Store   tokenstore.Store
	Logger  *zap.Logger
	Metrics metrics.Recorder
	Decode  DecodeFunc
}

// Manager tracks the signed-in user.
type Manager struct {
	store   tokenstore.Store
	logger  *zap.Logger
	metrics metrics.Recorder
	decode  DecodeFunc

	// transitionMutex serialises writers so listeners observe transitions in order.
	transitionMutex sync.Mutex

	stateMutex sync.RWMutex
	tokens     tokenstore.Tokens
	identity   sessiondecoder.Identity
	state      State
	generation uint64

	listenersMutex sync.Mutex
	listeners      map[uint64]Listener
	nextListenerID uint64

	bootstrapOnce sync.Once
	bootstrapErr  error
	bootstrapped  bool
}

// NewManager constructs an anonymous Manager. Call Bootstrap before rendering
// anything that depends on the session.
func NewManager(configuration Config) (*Manager, error) {
	if configuration.Store == nil {
		return nil, fmt.Errorf("session.manager.new: %w", ErrMissingStore)
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	recorder := configuration.Metrics
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	decode := configuration.Decode
	if decode == nil {
		decode = sessiondecoder.Decode
	}
	return &Manager{
		store:     configuration.Store,
		logger:    logger,
		metrics:   recorder,
		decode:    decode,
		listeners: make(map[uint64]Listener),
	}, nil
}

// Bootstrap restores the session from the token store. It runs once; later
// calls return the first result. A token that fails to decode is cleared and
// the session stays anonymous.
func (manager *Manager) Bootstrap(ctx context.Context) error {
	manager.bootstrapOnce.Do(func() {
		manager.bootstrapErr = manager.bootstrap(ctx)
		manager.stateMutex.Lock()
		manager.bootstrapped = true
		manager.stateMutex.Unlock()
	})
	return manager.bootstrapErr
}

func (manager *Manager) bootstrap(ctx context.Context) error {
	manager.transitionMutex.Lock()
	defer manager.transitionMutex.Unlock()

	tokens, loadErr := manager.store.Load(ctx)
	if loadErr != nil {
		manager.logger.Error("session bootstrap failed",
			zap.String("code", "session.bootstrap.load_failed"),
			zap.Error(loadErr))
		return fmt.Errorf("session.manager.bootstrap: %w", loadErr)
	}
	if !tokens.HasAccess() {
		manager.logger.Debug("session bootstrap found no token",
			zap.String("code", "session.bootstrap.anonymous"))
		return nil
	}

	identity, decodeErr := manager.decode(tokens.Access)
	if decodeErr != nil {
		manager.logger.Warn("stored access token rejected",
			zap.String("code", "session.bootstrap.decode_failed"),
			zap.Error(decodeErr))
		manager.metrics.Increment(metrics.EventBootstrapReset)
		if clearErr := manager.store.Clear(ctx); clearErr != nil {
			return fmt.Errorf("session.manager.bootstrap: %w", clearErr)
		}
		return nil
	}

	snapshot := manager.apply(tokens, identity, StateAuthenticated)
	manager.logger.Info("session restored",
		zap.String("code", "session.bootstrap.restored"),
		zap.Int64("user_id", identity.ID),
		zap.String("role", string(identity.Role)))
	manager.notify(snapshot)
	return nil
}

// Bootstrapped reports whether Bootstrap has completed.
func (manager *Manager) Bootstrapped() bool {
	manager.stateMutex.RLock()
	defer manager.stateMutex.RUnlock()
	return manager.bootstrapped
}

// Login stores the tokens returned by a successful login and authenticates
// the session. A token that does not decode is a contract violation by the
// caller: it is reported with ErrLoginTokenInvalid and nothing is stored.
func (manager *Manager) Login(ctx context.Context, accessToken string, refreshToken string) error {
	identity, decodeErr := manager.decode(accessToken)
	if decodeErr != nil {
		manager.logger.Error("login returned an undecodable access token",
			zap.String("code", "session.login.decode_failed"),
			zap.Error(decodeErr))
		return fmt.Errorf("session.manager.login: %w: %w", ErrLoginTokenInvalid, decodeErr)
	}

	manager.transitionMutex.Lock()
	defer manager.transitionMutex.Unlock()

	if storeErr := manager.store.Set(ctx, accessToken, refreshToken); storeErr != nil {
		return fmt.Errorf("session.manager.login: %w", storeErr)
	}
	snapshot := manager.apply(tokenstore.Tokens{Access: accessToken, Refresh: refreshToken}, identity, StateAuthenticated)
	manager.metrics.Increment(metrics.EventLogin)
	manager.logger.Info("signed in",
		zap.String("code", "session.login"),
		zap.Int64("user_id", identity.ID),
		zap.String("role", string(identity.Role)))
	manager.notify(snapshot)
	return nil
}

// Logout clears the token store and returns to the anonymous state.
// Logging out of an anonymous session changes nothing.
func (manager *Manager) Logout(ctx context.Context) error {
	manager.transitionMutex.Lock()
	defer manager.transitionMutex.Unlock()

	if !manager.hasCredentials() {
		return nil
	}
	if clearErr := manager.store.Clear(ctx); clearErr != nil {
		return fmt.Errorf("session.manager.logout: %w", clearErr)
	}
	snapshot := manager.apply(tokenstore.Tokens{}, sessiondecoder.Identity{}, StateAnonymous)
	manager.metrics.Increment(metrics.EventLogout)
	manager.logger.Info("signed out", zap.String("code", "session.logout"))
	manager.notify(snapshot)
	return nil
}

// Expire ends the session after an unrecoverable auth failure and reports
// whether there was anything to end. Concurrent callers observe true once.
func (manager *Manager) Expire(ctx context.Context) bool {
	manager.transitionMutex.Lock()
	defer manager.transitionMutex.Unlock()

	if !manager.hasCredentials() {
		return false
	}
	if clearErr := manager.store.Clear(ctx); clearErr != nil {
		manager.logger.Error("failed to clear expired session",
			zap.String("code", "session.expire.clear_failed"),
			zap.Error(clearErr))
	}
	snapshot := manager.apply(tokenstore.Tokens{}, sessiondecoder.Identity{}, StateAnonymous)
	manager.metrics.Increment(metrics.EventExpired)
	manager.logger.Warn("session expired", zap.String("code", "session.expired"))
	manager.notify(snapshot)
	return true
}

// Rotate installs the access token minted by a refresh call. previousRefresh
// is the refresh token that was exchanged; if the session no longer holds it
// the rotation is rejected with ErrSessionChanged. An empty refreshToken keeps
// the current refresh token.
func (manager *Manager) Rotate(ctx context.Context, previousRefresh string, accessToken string, refreshToken string) error {
	identity, decodeErr := manager.decode(accessToken)
	if decodeErr != nil {
		return fmt.Errorf("session.manager.rotate: %w: %w", ErrRotateTokenInvalid, decodeErr)
	}

	manager.transitionMutex.Lock()
	defer manager.transitionMutex.Unlock()

	manager.stateMutex.RLock()
	currentRefresh := manager.tokens.Refresh
	manager.stateMutex.RUnlock()
	if currentRefresh == "" || currentRefresh != previousRefresh {
		return fmt.Errorf("session.manager.rotate: %w", ErrSessionChanged)
	}

	nextTokens := tokenstore.Tokens{Access: accessToken, Refresh: currentRefresh}
	var storeErr error
	if refreshToken != "" {
		nextTokens.Refresh = refreshToken
		storeErr = manager.store.Set(ctx, accessToken, refreshToken)
	} else {
		storeErr = manager.store.SetAccess(ctx, accessToken)
	}
	if storeErr != nil {
		return fmt.Errorf("session.manager.rotate: %w", storeErr)
	}
	snapshot := manager.apply(nextTokens, identity, StateAuthenticated)
	manager.logger.Debug("access token rotated",
		zap.String("code", "session.rotate"),
		zap.Int64("user_id", identity.ID))
	manager.notify(snapshot)
	return nil
}

// Current returns the present session state.
func (manager *Manager) Current() Snapshot {
	manager.stateMutex.RLock()
	defer manager.stateMutex.RUnlock()
	return Snapshot{State: manager.state, Identity: manager.identity}
}

// Identity returns the signed-in identity, if any.
func (manager *Manager) Identity() (sessiondecoder.Identity, bool) {
	snapshot := manager.Current()
	return snapshot.Identity, snapshot.Authenticated()
}

// Credentials returns the tokens to attach to outgoing requests.
func (manager *Manager) Credentials() Credentials {
	manager.stateMutex.RLock()
	defer manager.stateMutex.RUnlock()
	return Credentials{
		Access:     manager.tokens.Access,
		Refresh:    manager.tokens.Refresh,
		Generation: manager.generation,
	}
}

// Subscribe registers listener for future transitions and returns a function
// that removes it.
func (manager *Manager) Subscribe(listener Listener) func() {
	manager.listenersMutex.Lock()
	defer manager.listenersMutex.Unlock()
	listenerID := manager.nextListenerID
	manager.nextListenerID++
	manager.listeners[listenerID] = listener
	return func() {
		manager.listenersMutex.Lock()
		defer manager.listenersMutex.Unlock()
		delete(manager.listeners, listenerID)
	}
}

func (manager *Manager) hasCredentials() bool {
	manager.stateMutex.RLock()
	defer manager.stateMutex.RUnlock()
	return manager.state == StateAuthenticated || manager.tokens.HasAccess() || manager.tokens.HasRefresh()
}

func (manager *Manager) apply(tokens tokenstore.Tokens, identity sessiondecoder.Identity, state State) Snapshot {
	manager.stateMutex.Lock()
	defer manager.stateMutex.Unlock()
	manager.tokens = tokens
	manager.identity = identity
	manager.state = state
	manager.generation++
	return Snapshot{State: state, Identity: identity}
}

func (manager *Manager) notify(snapshot Snapshot) {
	manager.listenersMutex.Lock()
	listeners := make([]Listener, 0, len(manager.listeners))
	for _, listener := range manager.listeners {
		listeners = append(listeners, listener)
	}
	manager.listenersMutex.Unlock()
	for _, listener := range listeners {
		listener(snapshot)
	}
}
