package views

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/tyemirov/trainee/internal/apiclient"
	"github.com/tyemirov/trainee/internal/session"
	"github.com/tyemirov/trainee/pkg/sessiondecoder"
	"golang.org/x/sync/errgroup"
)

// ErrInvalidCredentials indicates the server rejected a username and password.
var ErrInvalidCredentials = errors.New("views.login.invalid_credentials")

// Authenticator is the session the login screen signs in to.
type Authenticator interface {
	Session
	Login(ctx context.Context, accessToken string, refreshToken string) error
	Logout(ctx context.Context) error
}

// Login signs a user in.
type Login struct {
	api     API
	session Authenticator
}

// NewLogin constructs the login screen.
func NewLogin(api API, sessionState Authenticator) *Login {
	return &Login{api: api, session: sessionState}
}

// Submit exchanges the credentials for tokens, hands them to the session
// and returns the route to show next.
func (login *Login) Submit(ctx context.Context, username string, password string) (string, error) {
	result, err := login.api.Login(ctx, strings.TrimSpace(username), password)
	if errors.Is(err, apiclient.ErrUnauthorized) {
		return "", fmt.Errorf("views.login: %w", ErrInvalidCredentials)
	}
	if err != nil {
		return "", fmt.Errorf("views.login: %w", err)
	}
	if err := login.session.Login(ctx, result.Access, result.Refresh); err != nil {
		return "", fmt.Errorf("views.login: %w", err)
	}
	return RouteHome, nil
}

// Logout ends the session and returns the route to show next.
func (login *Login) Logout(ctx context.Context) (string, error) {
	if err := login.session.Logout(ctx); err != nil {
		return "", fmt.Errorf("views.logout: %w", err)
	}
	return RouteLogin, nil
}

// RegisterForm is the sign-up form.
type RegisterForm struct {
	Username        string
	Email           string
	Password        string
	ConfirmPassword string
	FirstName       string
	LastName        string
}

// Register signs a user up. New accounts wait for administrator approval.
type Register struct {
	api   API
	mutex sync.Mutex
	user  *apiclient.User
}

// NewRegister constructs the sign-up screen.
func NewRegister(api API) *Register {
	return &Register{api: api}
}

// Submit checks the password confirmation locally and registers the account.
func (register *Register) Submit(ctx context.Context, form RegisterForm) (apiclient.User, error) {
	if form.Password != form.ConfirmPassword {
		return apiclient.User{}, fmt.Errorf("views.register: %w", &apiclient.ValidationError{
			Fields: map[string][]string{"confirm_password": {"Passwords do not match"}},
		})
	}
	user, err := register.api.Register(ctx, apiclient.RegisterInput{
		Username:  strings.TrimSpace(form.Username),
		Email:     strings.TrimSpace(form.Email),
		Password:  form.Password,
		FirstName: strings.TrimSpace(form.FirstName),
		LastName:  strings.TrimSpace(form.LastName),
	})
	if err != nil {
		return apiclient.User{}, fmt.Errorf("views.register: %w", err)
	}
	register.mutex.Lock()
	register.user = &user
	register.mutex.Unlock()
	return user, nil
}

// Registered returns the account created by the last successful Submit.
func (register *Register) Registered() (apiclient.User, bool) {
	register.mutex.Lock()
	defer register.mutex.Unlock()
	if register.user == nil {
		return apiclient.User{}, false
	}
	return *register.user, true
}

// ProfileData is the content of the profile screen.
type ProfileData struct {
	Identity sessiondecoder.Identity
	Posts    []apiclient.Post
}

// Profile shows the signed-in user's posts, including drafts and posts
// awaiting approval.
type Profile struct {
	api     API
	session Session
	screen  screen[ProfileData]
}

// NewProfile constructs the profile screen.
func NewProfile(api API, sessionState Session) *Profile {
	return &Profile{api: api, session: sessionState}
}

// Load fetches the user's posts.
func (profile *Profile) Load(ctx context.Context) error {
	snapshot := profile.session.Current()
	if !snapshot.Authenticated() {
		return &Redirect{Route: RouteLogin}
	}
	generation, err := profile.screen.start()
	if err != nil {
		return err
	}
	data := ProfileData{Identity: snapshot.Identity}
	data.Posts, err = profile.api.UserPosts(ctx, snapshot.Identity.ID)
	if err != nil {
		err = fmt.Errorf("views.profile.load: %w", err)
	}
	profile.screen.finish(generation, data, err)
	return err
}

// DeletePost removes one of the user's posts and reloads.
func (profile *Profile) DeletePost(ctx context.Context, postID int64) error {
	if redirect := requireLogin(profile.session); redirect != nil {
		return redirect
	}
	return mutation(ctx, "profile.delete_post", profile.screen.isClosed(), func(ctx context.Context) error {
		return profile.api.DeletePost(ctx, postID)
	}, profile.Load)
}

// PublishPost makes a draft public, submitting it for approval, and reloads.
func (profile *Profile) PublishPost(ctx context.Context, postID int64) error {
	if redirect := requireLogin(profile.session); redirect != nil {
		return redirect
	}
	return mutation(ctx, "profile.publish_post", profile.screen.isClosed(), func(ctx context.Context) error {
		_, err := profile.api.PublishPost(ctx, postID)
		return err
	}, profile.Load)
}

// UpdateDetails changes the user's email or name and reloads.
func (profile *Profile) UpdateDetails(ctx context.Context, input apiclient.ProfileInput) error {
	if redirect := requireLogin(profile.session); redirect != nil {
		return redirect
	}
	return mutation(ctx, "profile.update", profile.screen.isClosed(), func(ctx context.Context) error {
		_, err := profile.api.UpdateProfile(ctx, input)
		return err
	}, profile.Load)
}

// Snapshot returns the current state.
func (profile *Profile) Snapshot() State[ProfileData] {
	return profile.screen.snapshot()
}

// Close discards results of loads still running.
func (profile *Profile) Close() {
	profile.screen.close()
}

// AdminPanelData is the moderation queue.
type AdminPanelData struct {
	PendingUsers []apiclient.User
	PendingPosts []apiclient.Post
}

// AdminPanel lets administrators approve accounts and posts.
type AdminPanel struct {
	api     API
	session Session
	screen  screen[AdminPanelData]
}

// NewAdminPanel constructs the admin screen.
func NewAdminPanel(api API, sessionState Session) *AdminPanel {
	return &AdminPanel{api: api, session: sessionState}
}

// Load fetches pending users and pending posts in parallel. Anyone but an
// administrator is redirected home.
func (panel *AdminPanel) Load(ctx context.Context) error {
	if redirect := requireAdmin(panel.session); redirect != nil {
		return redirect
	}
	generation, err := panel.screen.start()
	if err != nil {
		return err
	}
	var data AdminPanelData
	group, groupContext := errgroup.WithContext(ctx)
	group.Go(func() error {
		var loadErr error
		data.PendingUsers, loadErr = panel.api.PendingUsers(groupContext)
		return loadErr
	})
	group.Go(func() error {
		var loadErr error
		data.PendingPosts, loadErr = panel.api.PendingPosts(groupContext)
		return loadErr
	})
	if err = group.Wait(); err != nil {
		err = fmt.Errorf("views.admin_panel.load: %w", err)
	}
	panel.screen.finish(generation, data, err)
	return err
}

// ApproveUser activates an account and reloads.
func (panel *AdminPanel) ApproveUser(ctx context.Context, userID int64) error {
	return panel.mutate(ctx, "admin_panel.approve_user", func(ctx context.Context) error {
		_, err := panel.api.ApproveUser(ctx, userID)
		return err
	})
}

// DeleteUser removes an account with everything it owns and reloads.
func (panel *AdminPanel) DeleteUser(ctx context.Context, userID int64) error {
	return panel.mutate(ctx, "admin_panel.delete_user", func(ctx context.Context) error {
		return panel.api.DeleteUser(ctx, userID)
	})
}

// ApprovePost publishes a pending post and reloads.
func (panel *AdminPanel) ApprovePost(ctx context.Context, postID int64) error {
	return panel.mutate(ctx, "admin_panel.approve_post", func(ctx context.Context) error {
		_, err := panel.api.ApprovePost(ctx, postID)
		return err
	})
}

// RejectPost deletes a pending post and reloads.
func (panel *AdminPanel) RejectPost(ctx context.Context, postID int64) error {
	return panel.mutate(ctx, "admin_panel.reject_post", func(ctx context.Context) error {
		return panel.api.DeletePost(ctx, postID)
	})
}

func (panel *AdminPanel) mutate(ctx context.Context, operation string, action func(context.Context) error) error {
	if redirect := requireAdmin(panel.session); redirect != nil {
		return redirect
	}
	return mutation(ctx, operation, panel.screen.isClosed(), action, panel.Load)
}

// Snapshot returns the current state.
func (panel *AdminPanel) Snapshot() State[AdminPanelData] {
	return panel.screen.snapshot()
}

// Close discards results of loads still running.
func (panel *AdminPanel) Close() {
	panel.screen.close()
}

var _ Authenticator = (*session.Manager)(nil)
