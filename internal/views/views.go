// Package views holds one controller per Trainee screen.
//
// A controller loads its data through the API client, keeps it behind a
// mutex and exposes it with Snapshot. Independent reads run in parallel.
// Every mutation is followed by a full reload; a failed mutation leaves
// the previous data in place. Screens that need a signed-in user or an
// administrator return a *Redirect instead of loading.
package views

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tyemirov/trainee/internal/apiclient"
	"github.com/tyemirov/trainee/internal/session"
)

// Routes a gated screen redirects to.
const (
	RouteHome  = "/"
	RouteLogin = apiclient.LoginRoute
)

// ErrClosed indicates the controller was closed before the call.
var ErrClosed = errors.New("views.closed")

// API is the subset of the API client the screens use.
type API interface {
	Login(ctx context.Context, username string, password string) (apiclient.LoginResult, error)
	Register(ctx context.Context, input apiclient.RegisterInput) (apiclient.User, error)
	UserPosts(ctx context.Context, userID int64) ([]apiclient.Post, error)
	UpdateProfile(ctx context.Context, input apiclient.ProfileInput) (apiclient.User, error)
	PendingUsers(ctx context.Context) ([]apiclient.User, error)
	ApproveUser(ctx context.Context, userID int64) (apiclient.User, error)
	DeleteUser(ctx context.Context, userID int64) error
	Sections(ctx context.Context) ([]apiclient.Section, error)
	SectionPosts(ctx context.Context, sectionID int64) ([]apiclient.Post, error)
	Post(ctx context.Context, postID int64) (apiclient.Post, error)
	CreatePost(ctx context.Context, input apiclient.PostInput) (apiclient.Post, error)
	UpdatePost(ctx context.Context, postID int64, input apiclient.PostInput) (apiclient.Post, error)
	DeletePost(ctx context.Context, postID int64) error
	ApprovePost(ctx context.Context, postID int64) (apiclient.Post, error)
	PublishPost(ctx context.Context, postID int64) (apiclient.Post, error)
	PendingPosts(ctx context.Context) ([]apiclient.Post, error)
	Comments(ctx context.Context, postID int64) ([]apiclient.Comment, error)
	CreateComment(ctx context.Context, postID int64, text string) (apiclient.Comment, error)
	UpdateComment(ctx context.Context, commentID int64, text string) (apiclient.Comment, error)
	DeleteComment(ctx context.Context, commentID int64) error
	Ratings(ctx context.Context, postID int64) ([]apiclient.Rating, error)
	CreateRating(ctx context.Context, postID int64, value int) (apiclient.Rating, error)
}

var _ API = (*apiclient.Client)(nil)

// Session exposes the signed-in user to the screens.
type Session interface {
	Current() session.Snapshot
}

// Redirect is returned by a gated screen the current user may not see.
type Redirect struct {
	Route string
}

func (redirect *Redirect) Error() string {
	return "views.redirect: " + redirect.Route
}

// State is what a screen renders: its data, whether a load is running, and
// the error of the last load.
type State[T any] struct {
	Loading bool
	Err     error
	Data    T
}

// screen tracks the load lifecycle of one controller. Results of a load
// that was superseded, or that finishes after close, are dropped.
type screen[T any] struct {
	mutex      sync.Mutex
	state      State[T]
	generation uint64
	closed     bool
}

func (current *screen[T]) start() (uint64, error) {
	current.mutex.Lock()
	defer current.mutex.Unlock()
	if current.closed {
		return 0, ErrClosed
	}
	current.generation++
	current.state.Loading = true
	return current.generation, nil
}

func (current *screen[T]) finish(generation uint64, data T, err error) {
	current.mutex.Lock()
	defer current.mutex.Unlock()
	if current.closed || generation != current.generation {
		return
	}
	current.state.Loading = false
	current.state.Err = err
	if err == nil {
		current.state.Data = data
	}
}

func (current *screen[T]) snapshot() State[T] {
	current.mutex.Lock()
	defer current.mutex.Unlock()
	return current.state
}

func (current *screen[T]) close() {
	current.mutex.Lock()
	defer current.mutex.Unlock()
	current.closed = true
	current.state.Loading = false
}

func (current *screen[T]) isClosed() bool {
	current.mutex.Lock()
	defer current.mutex.Unlock()
	return current.closed
}

// requireLogin returns a redirect to the login screen for anonymous users.
func requireLogin(sessionState Session) *Redirect {
	if sessionState.Current().Authenticated() {
		return nil
	}
	return &Redirect{Route: RouteLogin}
}

// requireAdmin sends everyone but administrators home.
func requireAdmin(sessionState Session) *Redirect {
	if sessionState.Current().IsAdmin() {
		return nil
	}
	return &Redirect{Route: RouteHome}
}

// mutation runs action and then reload. A failed action is returned as is
// and reload is skipped, so the screen keeps what it showed before.
func mutation(ctx context.Context, operation string, closed bool, action func(context.Context) error, reload func(context.Context) error) error {
	if closed {
		return ErrClosed
	}
	if err := action(ctx); err != nil {
		return fmt.Errorf("views.%s: %w", operation, err)
	}
	return reload(ctx)
}
