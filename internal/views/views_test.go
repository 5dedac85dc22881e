package views

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tyemirov/trainee/internal/apiclient"
	"github.com/tyemirov/trainee/internal/session"
	"github.com/tyemirov/trainee/pkg/sessiondecoder"
)

// stubAPI implements the calls a test sets; any other call panics through
// the nil embedded interface.
type stubAPI struct {
	API
	sections      func(ctx context.Context) ([]apiclient.Section, error)
	post          func(ctx context.Context, postID int64) (apiclient.Post, error)
	comments      func(ctx context.Context, postID int64) ([]apiclient.Comment, error)
	ratings       func(ctx context.Context, postID int64) ([]apiclient.Rating, error)
	createComment func(ctx context.Context, postID int64, text string) (apiclient.Comment, error)
	createPost    func(ctx context.Context, input apiclient.PostInput) (apiclient.Post, error)
	register      func(ctx context.Context, input apiclient.RegisterInput) (apiclient.User, error)
}

func (api *stubAPI) Sections(ctx context.Context) ([]apiclient.Section, error) {
	return api.sections(ctx)
}

func (api *stubAPI) Post(ctx context.Context, postID int64) (apiclient.Post, error) {
	return api.post(ctx, postID)
}

func (api *stubAPI) Comments(ctx context.Context, postID int64) ([]apiclient.Comment, error) {
	return api.comments(ctx, postID)
}

func (api *stubAPI) Ratings(ctx context.Context, postID int64) ([]apiclient.Rating, error) {
	return api.ratings(ctx, postID)
}

func (api *stubAPI) CreateComment(ctx context.Context, postID int64, text string) (apiclient.Comment, error) {
	return api.createComment(ctx, postID, text)
}

func (api *stubAPI) CreatePost(ctx context.Context, input apiclient.PostInput) (apiclient.Post, error) {
	return api.createPost(ctx, input)
}

func (api *stubAPI) Register(ctx context.Context, input apiclient.RegisterInput) (apiclient.User, error) {
	return api.register(ctx, input)
}

type fixedSession struct {
	snapshot session.Snapshot
}

func (fixed fixedSession) Current() session.Snapshot {
	return fixed.snapshot
}

var (
	anonymousSession = fixedSession{}
	memberSession    = fixedSession{snapshot: session.Snapshot{
		State:    session.StateAuthenticated,
		Identity: sessiondecoder.Identity{ID: 7, Username: "alice", Role: sessiondecoder.RoleUser},
	}}
	adminSession = fixedSession{snapshot: session.Snapshot{
		State:    session.StateAuthenticated,
		Identity: sessiondecoder.Identity{ID: 1, Username: "admin", Role: sessiondecoder.RoleAdmin},
	}}
)

func detailAPI(loads *atomic.Int32) *stubAPI {
	return &stubAPI{
		post: func(context.Context, int64) (apiclient.Post, error) {
			loads.Add(1)
			return apiclient.Post{ID: 5, Title: "Tempo run"}, nil
		},
		comments: func(context.Context, int64) ([]apiclient.Comment, error) {
			return []apiclient.Comment{{ID: 1, Text: "First comment"}}, nil
		},
		ratings: func(context.Context, int64) ([]apiclient.Rating, error) {
			return []apiclient.Rating{{ID: 1, Value: 5, User: apiclient.User{ID: 7}}}, nil
		},
	}
}

func TestPostDetailLoadsInParallel(t *testing.T) {
	var inFlight, peak atomic.Int32
	release := make(chan struct{})
	track := func() {
		current := inFlight.Add(1)
		for {
			previous := peak.Load()
			if current <= previous || peak.CompareAndSwap(previous, current) {
				break
			}
		}
		if current == 3 {
			close(release)
		}
		select {
		case <-release:
		case <-time.After(2 * time.Second):
		}
	}
	api := &stubAPI{
		post: func(context.Context, int64) (apiclient.Post, error) {
			track()
			return apiclient.Post{ID: 5}, nil
		},
		comments: func(context.Context, int64) ([]apiclient.Comment, error) {
			track()
			return []apiclient.Comment{}, nil
		},
		ratings: func(context.Context, int64) ([]apiclient.Rating, error) {
			track()
			return []apiclient.Rating{}, nil
		},
	}
	detail := NewPostDetail(api, anonymousSession, 5)
	if err := detail.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if peak.Load() != 3 {
		t.Fatalf("expected three concurrent reads, saw at most %d", peak.Load())
	}
}

func TestLoadingIsReportedUntilAllReadsResolve(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	api := &stubAPI{sections: func(context.Context) ([]apiclient.Section, error) {
		close(entered)
		<-release
		return []apiclient.Section{{ID: 1, Name: "Nutrition"}}, nil
	}}
	home := NewHome(api)
	done := make(chan error, 1)
	go func() { done <- home.Load(context.Background()) }()
	<-entered
	if !home.Snapshot().Loading {
		t.Fatalf("expected Loading while the read is in flight")
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("load: %v", err)
	}
	state := home.Snapshot()
	if state.Loading || len(state.Data) != 1 {
		t.Fatalf("unexpected state %+v", state)
	}
}

func TestCloseDiscardsInFlightResults(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	api := &stubAPI{sections: func(context.Context) ([]apiclient.Section, error) {
		close(entered)
		<-release
		return []apiclient.Section{{ID: 1}}, nil
	}}
	home := NewHome(api)
	done := make(chan error, 1)
	go func() { done <- home.Load(context.Background()) }()
	<-entered
	home.Close()
	close(release)
	<-done
	if state := home.Snapshot(); state.Data != nil || state.Loading {
		t.Fatalf("expected a closed screen to ignore the result, got %+v", state)
	}
	if err := home.Load(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after Close, got %v", err)
	}
}

func TestFailedMutationKeepsPriorState(t *testing.T) {
	var loads atomic.Int32
	api := detailAPI(&loads)
	api.createComment = func(context.Context, int64, string) (apiclient.Comment, error) {
		return apiclient.Comment{}, &apiclient.ValidationError{Status: http.StatusBadRequest, Fields: map[string][]string{"text": {"Comment must be at least 5 characters long"}}}
	}
	detail := NewPostDetail(api, memberSession, 5)
	if err := detail.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	before := detail.Snapshot()

	err := detail.AddComment(context.Background(), "hey")
	if Message(err) != "Comment must be at least 5 characters long" {
		t.Fatalf("unexpected message %q", Message(err))
	}
	if fields := FieldMessages(err); len(fields["text"]) != 1 {
		t.Fatalf("expected field messages, got %+v", fields)
	}
	after := detail.Snapshot()
	if loads.Load() != 1 {
		t.Fatalf("expected no reload after a failed mutation, got %d loads", loads.Load())
	}
	if after.Err != nil || len(after.Data.Comments) != len(before.Data.Comments) || after.Data.Post.Title != before.Data.Post.Title {
		t.Fatalf("expected prior state, got %+v", after)
	}
}

func TestSuccessfulMutationReloads(t *testing.T) {
	var loads atomic.Int32
	api := detailAPI(&loads)
	api.createComment = func(context.Context, int64, string) (apiclient.Comment, error) {
		return apiclient.Comment{ID: 2}, nil
	}
	detail := NewPostDetail(api, memberSession, 5)
	if err := detail.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := detail.AddComment(context.Background(), "Great plan, thanks"); err != nil {
		t.Fatalf("comment: %v", err)
	}
	if loads.Load() != 2 {
		t.Fatalf("expected a reload after the mutation, got %d loads", loads.Load())
	}
	if got := detail.Snapshot().Data.MyRating(7); got != 5 {
		t.Fatalf("expected my rating 5, got %d", got)
	}
}

func TestFailedReloadKeepsPreviousData(t *testing.T) {
	var calls atomic.Int32
	api := &stubAPI{sections: func(context.Context) ([]apiclient.Section, error) {
		if calls.Add(1) > 1 {
			return nil, &apiclient.TransportError{Method: http.MethodGet, Path: "/sections/", Err: errors.New("connection refused")}
		}
		return []apiclient.Section{{ID: 1}}, nil
	}}
	home := NewHome(api)
	if err := home.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	err := home.Load(context.Background())
	if Message(err) != messageUnreachable {
		t.Fatalf("unexpected message %q", Message(err))
	}
	state := home.Snapshot()
	if len(state.Data) != 1 || state.Err == nil {
		t.Fatalf("expected previous data with the load error, got %+v", state)
	}
}

func TestGatedScreensRedirect(t *testing.T) {
	api := &stubAPI{}
	testCases := []struct {
		name  string
		load  func() error
		route string
	}{
		{name: "profile anonymous", load: func() error { return NewProfile(api, anonymousSession).Load(context.Background()) }, route: RouteLogin},
		{name: "editor anonymous", load: func() error { return NewPostEditor(api, anonymousSession, 0).Load(context.Background()) }, route: RouteLogin},
		{name: "admin anonymous", load: func() error { return NewAdminPanel(api, anonymousSession).Load(context.Background()) }, route: RouteHome},
		{name: "admin member", load: func() error { return NewAdminPanel(api, memberSession).Load(context.Background()) }, route: RouteHome},
		{name: "comment anonymous", load: func() error {
			return NewPostDetail(api, anonymousSession, 1).AddComment(context.Background(), "Nice one")
		}, route: RouteLogin},
		{name: "rate anonymous", load: func() error { return NewPostDetail(api, anonymousSession, 1).Rate(context.Background(), 3) }, route: RouteLogin},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			var redirect *Redirect
			if err := testCase.load(); !errors.As(err, &redirect) || redirect.Route != testCase.route {
				t.Fatalf("expected redirect to %q, got %v", testCase.route, err)
			}
		})
	}
}

func TestAdminPanelLoadsForAdministrators(t *testing.T) {
	api := &adminStub{}
	panel := NewAdminPanel(api, adminSession)
	if err := panel.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := panel.ApproveUser(context.Background(), 3); err != nil {
		t.Fatalf("approve: %v", err)
	}
	state := panel.Snapshot()
	if len(state.Data.PendingUsers) != 0 || len(state.Data.PendingPosts) != 1 {
		t.Fatalf("unexpected queue %+v", state.Data)
	}
}

type adminStub struct {
	stubAPI
	mutex    sync.Mutex
	approved map[int64]bool
}

func (api *adminStub) PendingUsers(context.Context) ([]apiclient.User, error) {
	api.mutex.Lock()
	defer api.mutex.Unlock()
	if api.approved[3] {
		return []apiclient.User{}, nil
	}
	return []apiclient.User{{ID: 3, Username: "carol"}}, nil
}

func (api *adminStub) PendingPosts(context.Context) ([]apiclient.Post, error) {
	return []apiclient.Post{{ID: 9, IsPublic: true}}, nil
}

func (api *adminStub) ApproveUser(_ context.Context, userID int64) (apiclient.User, error) {
	api.mutex.Lock()
	defer api.mutex.Unlock()
	if api.approved == nil {
		api.approved = make(map[int64]bool)
	}
	api.approved[userID] = true
	return apiclient.User{ID: userID}, nil
}

func TestPostEditorDefaultsToPublic(t *testing.T) {
	var sent apiclient.PostInput
	api := &stubAPI{
		sections: func(context.Context) ([]apiclient.Section, error) { return []apiclient.Section{{ID: 2}}, nil },
		post: func(_ context.Context, postID int64) (apiclient.Post, error) {
			return apiclient.Post{ID: postID, IsPublic: true}, nil
		},
		createPost: func(_ context.Context, input apiclient.PostInput) (apiclient.Post, error) {
			sent = input
			return apiclient.Post{ID: 11}, nil
		},
	}
	if draft := NewDraft(); draft.IsPublic == nil || !*draft.IsPublic {
		t.Fatalf("expected drafts to start public")
	}
	editor := NewPostEditor(api, memberSession, 0)
	saved, err := editor.Save(context.Background(), apiclient.PostInput{Title: apiclient.String("Oats")})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if sent.IsPublic == nil || !*sent.IsPublic {
		t.Fatalf("expected is_public to default to true, got %+v", sent.IsPublic)
	}
	if saved.ID != 11 || editor.PostID() != 11 {
		t.Fatalf("expected the editor to follow the created post")
	}
}

func TestRegisterChecksPasswordConfirmationLocally(t *testing.T) {
	var calls atomic.Int32
	api := &stubAPI{register: func(_ context.Context, input apiclient.RegisterInput) (apiclient.User, error) {
		calls.Add(1)
		return apiclient.User{ID: 4, Username: input.Username}, nil
	}}
	register := NewRegister(api)
	_, err := register.Submit(context.Background(), RegisterForm{Username: "dave", Email: "d@example.com", Password: "one", ConfirmPassword: "two"})
	if Message(err) != "Passwords do not match" || calls.Load() != 0 {
		t.Fatalf("expected a local mismatch error, got %q after %d calls", Message(err), calls.Load())
	}
	if _, ok := register.Registered(); ok {
		t.Fatalf("expected nothing registered")
	}
	user, err := register.Submit(context.Background(), RegisterForm{Username: " dave ", Email: "d@example.com", Password: "same", ConfirmPassword: "same"})
	if err != nil || user.Username != "dave" {
		t.Fatalf("unexpected result %+v, %v", user, err)
	}
	if registered, ok := register.Registered(); !ok || registered.ID != 4 {
		t.Fatalf("expected the registered account to be remembered")
	}
}

func TestSectionPostsReportsUnknownSection(t *testing.T) {
	api := &stubAPI{
		sections: func(context.Context) ([]apiclient.Section, error) { return []apiclient.Section{{ID: 1}}, nil },
	}
	api.API = sectionPostsOnly{}
	err := NewSectionPosts(api, 42).Load(context.Background())
	if !errors.Is(err, ErrSectionNotFound) || Message(err) != messageSectionNotFound {
		t.Fatalf("expected ErrSectionNotFound, got %v", err)
	}
}

type sectionPostsOnly struct {
	API
}

func (sectionPostsOnly) SectionPosts(context.Context, int64) ([]apiclient.Post, error) {
	return []apiclient.Post{}, nil
}

func TestMessage(t *testing.T) {
	testCases := []struct {
		name     string
		err      error
		expected string
	}{
		{name: "nil", err: nil, expected: ""},
		{name: "closed", err: ErrClosed, expected: ""},
		{name: "login redirect", err: &Redirect{Route: RouteLogin}, expected: messageLoginRequired},
		{name: "admin redirect", err: &Redirect{Route: RouteHome}, expected: messageAdminRequired},
		{name: "refresh failure", err: fmt.Errorf("wrapped: %w", &apiclient.RefreshError{Err: apiclient.ErrUnauthorized}), expected: messageSessionExpired},
		{name: "unauthorized", err: apiclient.ErrUnauthorized, expected: messageSessionExpired},
		{name: "forbidden", err: &apiclient.StatusError{Status: http.StatusForbidden}, expected: messageForbidden},
		{name: "not found", err: &apiclient.StatusError{Status: http.StatusNotFound, Message: "Post not found"}, expected: messageNotFound},
		{name: "server", err: &apiclient.StatusError{Status: http.StatusBadGateway}, expected: messageServerFailure},
		{name: "other status", err: &apiclient.StatusError{Status: http.StatusTooManyRequests, Message: "Slow down"}, expected: "Slow down"},
		{name: "non field", err: &apiclient.ValidationError{Fields: map[string][]string{apiclient.NonFieldErrorsKey: {"Already rated"}}}, expected: "Already rated"},
		{name: "many fields", err: &apiclient.ValidationError{Fields: map[string][]string{"title": {"a"}, "type": {"b"}}}, expected: messageValidationFailed},
		{name: "message only", err: &apiclient.ValidationError{Message: "Validation error"}, expected: "Validation error"},
		{name: "decode", err: apiclient.ErrDecodeResponse, expected: messageUnexpectedReply},
		{name: "invalid token", err: session.ErrLoginTokenInvalid, expected: messageInvalidSession},
		{name: "unknown", err: errors.New("boom"), expected: messageSomethingWrong},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if got := Message(testCase.err); got != testCase.expected {
				t.Fatalf("expected %q, got %q", testCase.expected, got)
			}
		})
	}
	if _, known := Explain(errors.New("config.missing_api_base_url: api_base_url must be provided")); known {
		t.Fatalf("expected unrelated errors to be reported as unknown")
	}
}
