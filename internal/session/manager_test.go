package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tyemirov/trainee/internal/metrics"
	"github.com/tyemirov/trainee/internal/tokenstore"
	"github.com/tyemirov/trainee/pkg/sessiondecoder"
)

func mintAccessToken(t *testing.T, userID int64, username string, role sessiondecoder.Role) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id":  userID,
		"username": username,
		"email":    username + "@example.com",
		"role":     string(role),
		"exp":      time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("session-test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func newTestManager(t *testing.T, store tokenstore.Store) (*Manager, *metrics.CounterMetrics) {
	t.Helper()
	recorder := metrics.NewCounterMetrics()
	manager, err := NewManager(Config{Store: store, Metrics: recorder})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return manager, recorder
}

type failingStore struct {
	*tokenstore.MemoryStore
	failSet   bool
	failClear bool
}

var errStoreUnavailable = errors.New("store unavailable")

func (store *failingStore) Set(ctx context.Context, access string, refresh string) error {
	if store.failSet {
		return errStoreUnavailable
	}
	return store.MemoryStore.Set(ctx, access, refresh)
}

func (store *failingStore) Clear(ctx context.Context) error {
	if store.failClear {
		return errStoreUnavailable
	}
	return store.MemoryStore.Clear(ctx)
}

func TestNewManagerRequiresStore(t *testing.T) {
	t.Parallel()
	if _, err := NewManager(Config{}); !errors.Is(err, ErrMissingStore) {
		t.Fatalf("expected ErrMissingStore, got %v", err)
	}
}

func TestBootstrapWithoutTokenIsAnonymous(t *testing.T) {
	t.Parallel()
	manager, _ := newTestManager(t, tokenstore.NewMemoryStore())
	if manager.Bootstrapped() {
		t.Fatalf("manager must not report bootstrapped before Bootstrap")
	}
	if err := manager.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if manager.Current().Authenticated() || !manager.Bootstrapped() {
		t.Fatalf("expected bootstrapped anonymous session, got %#v", manager.Current())
	}
}

func TestBootstrapRestoresValidToken(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := tokenstore.NewMemoryStore()
	access := mintAccessToken(t, 7, "root", sessiondecoder.RoleAdmin)
	if err := store.Set(ctx, access, "refresh-7"); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	manager, _ := newTestManager(t, store)

	var observed []Snapshot
	manager.Subscribe(func(snapshot Snapshot) { observed = append(observed, snapshot) })

	if err := manager.Bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	snapshot := manager.Current()
	if !snapshot.IsAdmin() || snapshot.Identity.ID != 7 || snapshot.Identity.Username != "root" {
		t.Fatalf("unexpected snapshot: %#v", snapshot)
	}
	credentials := manager.Credentials()
	if credentials.Access != access || credentials.Refresh != "refresh-7" {
		t.Fatalf("unexpected credentials: %#v", credentials)
	}
	if len(observed) != 1 || !observed[0].Authenticated() {
		t.Fatalf("expected one authenticated notification, got %#v", observed)
	}
}

func TestBootstrapClearsCorruptToken(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := tokenstore.NewMemoryStore()
	if err := store.Set(ctx, "not-a-jwt", "refresh"); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	manager, recorder := newTestManager(t, store)
	if err := manager.Bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if manager.Current().Authenticated() {
		t.Fatalf("corrupt token must leave the session anonymous")
	}
	if len(store.Entries()) != 0 {
		t.Fatalf("corrupt token must be cleared, store holds %#v", store.Entries())
	}
	if recorder.Count(metrics.EventBootstrapReset) != 1 {
		t.Fatalf("expected bootstrap reset to be recorded")
	}

	restarted, _ := newTestManager(t, store)
	if err := restarted.Bootstrap(ctx); err != nil {
		t.Fatalf("second bootstrap: %v", err)
	}
	if restarted.Current().Authenticated() || len(store.Entries()) != 0 {
		t.Fatalf("second bootstrap must stay anonymous with an empty store")
	}
}

func TestBootstrapRunsOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := tokenstore.NewMemoryStore()
	manager, _ := newTestManager(t, store)
	if err := manager.Bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if err := store.Set(ctx, mintAccessToken(t, 1, "alice", sessiondecoder.RoleUser), "r"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := manager.Bootstrap(ctx); err != nil {
		t.Fatalf("second bootstrap: %v", err)
	}
	if manager.Current().Authenticated() {
		t.Fatalf("second bootstrap must not re-read the store")
	}
}

func TestLoginThenLogoutReturnsToAnonymous(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := tokenstore.NewMemoryStore()
	manager, recorder := newTestManager(t, store)
	if err := manager.Bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	before := manager.Current()
	beforeEntries := store.Entries()

	access := mintAccessToken(t, 42, "alice", sessiondecoder.RoleUser)
	if err := manager.Login(ctx, access, "refresh-42"); err != nil {
		t.Fatalf("login: %v", err)
	}
	identity, ok := manager.Identity()
	if !ok || identity.Username != "alice" || identity.IsAdmin() {
		t.Fatalf("unexpected identity after login: %#v", identity)
	}
	entries := store.Entries()
	if entries[tokenstore.AccessTokenKey] != access || entries[tokenstore.RefreshTokenKey] != "refresh-42" {
		t.Fatalf("tokens not persisted: %#v", entries)
	}

	if err := manager.Logout(ctx); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if manager.Current() != before {
		t.Fatalf("expected pre-login snapshot %#v, got %#v", before, manager.Current())
	}
	if len(store.Entries()) != len(beforeEntries) {
		t.Fatalf("expected pre-login store layout, got %#v", store.Entries())
	}
	if recorder.Count(metrics.EventLogin) != 1 || recorder.Count(metrics.EventLogout) != 1 {
		t.Fatalf("unexpected metrics: %#v", recorder.Snapshot())
	}
}

func TestLogoutWhenAnonymousIsNoop(t *testing.T) {
	t.Parallel()
	manager, recorder := newTestManager(t, tokenstore.NewMemoryStore())
	notifications := 0
	manager.Subscribe(func(Snapshot) { notifications++ })
	if err := manager.Logout(context.Background()); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if notifications != 0 || recorder.Count(metrics.EventLogout) != 0 {
		t.Fatalf("anonymous logout must not notify or record")
	}
}

func TestLoginRejectsUndecodableToken(t *testing.T) {
	t.Parallel()
	store := tokenstore.NewMemoryStore()
	manager, _ := newTestManager(t, store)
	err := manager.Login(context.Background(), "garbage", "refresh")
	if !errors.Is(err, ErrLoginTokenInvalid) || !errors.Is(err, sessiondecoder.ErrDecode) {
		t.Fatalf("expected ErrLoginTokenInvalid wrapping ErrDecode, got %v", err)
	}
	if manager.Current().Authenticated() || len(store.Entries()) != 0 {
		t.Fatalf("failed login must not change state")
	}
}

func TestLoginStoreFailureKeepsAnonymous(t *testing.T) {
	t.Parallel()
	store := &failingStore{MemoryStore: tokenstore.NewMemoryStore(), failSet: true}
	manager, _ := newTestManager(t, store)
	err := manager.Login(context.Background(), mintAccessToken(t, 1, "alice", sessiondecoder.RoleUser), "r")
	if !errors.Is(err, errStoreUnavailable) {
		t.Fatalf("expected store error, got %v", err)
	}
	if manager.Current().Authenticated() {
		t.Fatalf("identity must not exist without a stored token")
	}
}

func TestSubscribersObserveTransitionsInOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	manager, _ := newTestManager(t, tokenstore.NewMemoryStore())

	var states []State
	unsubscribe := manager.Subscribe(func(snapshot Snapshot) { states = append(states, snapshot.State) })

	if err := manager.Login(ctx, mintAccessToken(t, 1, "alice", sessiondecoder.RoleUser), "r"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := manager.Logout(ctx); err != nil {
		t.Fatalf("logout: %v", err)
	}
	unsubscribe()
	if err := manager.Login(ctx, mintAccessToken(t, 1, "alice", sessiondecoder.RoleUser), "r"); err != nil {
		t.Fatalf("login: %v", err)
	}

	expected := []State{StateAuthenticated, StateAnonymous}
	if len(states) != len(expected) {
		t.Fatalf("expected %v, got %v", expected, states)
	}
	for index := range expected {
		if states[index] != expected[index] {
			t.Fatalf("expected %v, got %v", expected, states)
		}
	}
}

func TestRotateReplacesAccessToken(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := tokenstore.NewMemoryStore()
	manager, _ := newTestManager(t, store)
	if err := manager.Login(ctx, mintAccessToken(t, 3, "bob", sessiondecoder.RoleUser), "refresh-a"); err != nil {
		t.Fatalf("login: %v", err)
	}
	generation := manager.Credentials().Generation

	promoted := mintAccessToken(t, 3, "bob", sessiondecoder.RoleAdmin)
	if err := manager.Rotate(ctx, "refresh-a", promoted, ""); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	credentials := manager.Credentials()
	if credentials.Access != promoted || credentials.Refresh != "refresh-a" || credentials.Generation == generation {
		t.Fatalf("unexpected credentials after rotation: %#v", credentials)
	}
	if !manager.Current().IsAdmin() {
		t.Fatalf("rotated identity must reflect the new token")
	}

	if err := manager.Rotate(ctx, "refresh-a", mintAccessToken(t, 3, "bob", sessiondecoder.RoleUser), "refresh-b"); err != nil {
		t.Fatalf("rotate with new refresh: %v", err)
	}
	if store.Entries()[tokenstore.RefreshTokenKey] != "refresh-b" {
		t.Fatalf("expected rotated refresh token to be stored, got %#v", store.Entries())
	}
}

func TestRotateRejectsStaleSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	manager, _ := newTestManager(t, tokenstore.NewMemoryStore())
	access := mintAccessToken(t, 3, "bob", sessiondecoder.RoleUser)

	if err := manager.Rotate(ctx, "refresh-a", access, ""); !errors.Is(err, ErrSessionChanged) {
		t.Fatalf("anonymous rotation must fail with ErrSessionChanged, got %v", err)
	}
	if err := manager.Login(ctx, access, "refresh-b"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := manager.Rotate(ctx, "refresh-a", access, ""); !errors.Is(err, ErrSessionChanged) {
		t.Fatalf("rotation with a replaced refresh token must fail, got %v", err)
	}
	if err := manager.Rotate(ctx, "refresh-b", "garbage", ""); !errors.Is(err, ErrRotateTokenInvalid) {
		t.Fatalf("expected ErrRotateTokenInvalid, got %v", err)
	}
}

func TestExpireReportsWhetherSessionEnded(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := &failingStore{MemoryStore: tokenstore.NewMemoryStore()}
	manager, recorder := newTestManager(t, store)

	if manager.Expire(ctx) {
		t.Fatalf("expiring an anonymous session must report false")
	}
	if err := manager.Login(ctx, mintAccessToken(t, 1, "alice", sessiondecoder.RoleUser), "r"); err != nil {
		t.Fatalf("login: %v", err)
	}
	store.failClear = true
	if !manager.Expire(ctx) {
		t.Fatalf("expected first expire to end the session")
	}
	if manager.Expire(ctx) {
		t.Fatalf("expected second expire to report false")
	}
	if manager.Current().Authenticated() || recorder.Count(metrics.EventExpired) != 1 {
		t.Fatalf("unexpected state after expire: %#v %#v", manager.Current(), recorder.Snapshot())
	}
}

func TestConcurrentExpireEndsSessionOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	manager, _ := newTestManager(t, tokenstore.NewMemoryStore())
	if err := manager.Login(ctx, mintAccessToken(t, 1, "alice", sessiondecoder.RoleUser), "r"); err != nil {
		t.Fatalf("login: %v", err)
	}

	var waitGroup sync.WaitGroup
	var mutex sync.Mutex
	ended := 0
	for index := 0; index < 16; index++ {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			if manager.Expire(ctx) {
				mutex.Lock()
				ended++
				mutex.Unlock()
			}
		}()
	}
	waitGroup.Wait()
	if ended != 1 {
		t.Fatalf("expected exactly one expire to report true, got %d", ended)
	}
}

func TestSnapshotsStayConsistentUnderConcurrency(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	manager, _ := newTestManager(t, tokenstore.NewMemoryStore())
	access := mintAccessToken(t, 9, "carol", sessiondecoder.RoleUser)

	var waitGroup sync.WaitGroup
	waitGroup.Add(2)
	go func() {
		defer waitGroup.Done()
		for index := 0; index < 50; index++ {
			_ = manager.Login(ctx, access, "r")
			_ = manager.Logout(ctx)
		}
	}()
	go func() {
		defer waitGroup.Done()
		for index := 0; index < 200; index++ {
			snapshot := manager.Current()
			if snapshot.Authenticated() != (snapshot.Identity.Username != "") {
				t.Errorf("inconsistent snapshot: %#v", snapshot)
				return
			}
		}
	}()
	waitGroup.Wait()
}
