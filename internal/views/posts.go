package views

import (
	"context"
	"errors"
	"fmt"

	"github.com/tyemirov/trainee/internal/apiclient"
	"golang.org/x/sync/errgroup"
)

// ErrSectionNotFound indicates a section id that is not in the section list.
var ErrSectionNotFound = errors.New("views.section_not_found")

// Home lists the sections.
type Home struct {
	api    API
	screen screen[[]apiclient.Section]
}

// NewHome constructs the home screen.
func NewHome(api API) *Home {
	return &Home{api: api}
}

// Load fetches the sections.
func (home *Home) Load(ctx context.Context) error {
	generation, err := home.screen.start()
	if err != nil {
		return err
	}
	sections, err := home.api.Sections(ctx)
	if err != nil {
		err = fmt.Errorf("views.home.load: %w", err)
	}
	home.screen.finish(generation, sections, err)
	return err
}

// Snapshot returns the current state.
func (home *Home) Snapshot() State[[]apiclient.Section] {
	return home.screen.snapshot()
}

// Close discards results of loads still running.
func (home *Home) Close() {
	home.screen.close()
}

// SectionPostsData is the content of a section screen.
type SectionPostsData struct {
	Section apiclient.Section
	Posts   []apiclient.Post
}

// SectionPosts lists the posts of one section.
type SectionPosts struct {
	api       API
	sectionID int64
	screen    screen[SectionPostsData]
}

// NewSectionPosts constructs the screen for sectionID.
func NewSectionPosts(api API, sectionID int64) *SectionPosts {
	return &SectionPosts{api: api, sectionID: sectionID}
}

// Load fetches the section header and its posts in parallel.
func (view *SectionPosts) Load(ctx context.Context) error {
	generation, err := view.screen.start()
	if err != nil {
		return err
	}
	var (
		data     SectionPostsData
		sections []apiclient.Section
	)
	group, groupContext := errgroup.WithContext(ctx)
	group.Go(func() error {
		var loadErr error
		sections, loadErr = view.api.Sections(groupContext)
		return loadErr
	})
	group.Go(func() error {
		var loadErr error
		data.Posts, loadErr = view.api.SectionPosts(groupContext, view.sectionID)
		return loadErr
	})
	err = group.Wait()
	if err == nil {
		err = ErrSectionNotFound
		for _, candidate := range sections {
			if candidate.ID == view.sectionID {
				data.Section = candidate
				err = nil
				break
			}
		}
	}
	if err != nil {
		err = fmt.Errorf("views.section_posts.load: %w", err)
	}
	view.screen.finish(generation, data, err)
	return err
}

// Snapshot returns the current state.
func (view *SectionPosts) Snapshot() State[SectionPostsData] {
	return view.screen.snapshot()
}

// Close discards results of loads still running.
func (view *SectionPosts) Close() {
	view.screen.close()
}

// PostDetailData is the content of a post screen.
type PostDetailData struct {
	Post     apiclient.Post
	Comments []apiclient.Comment
	Ratings  []apiclient.Rating
}

// MyRating returns the rating userID gave, or zero.
func (data PostDetailData) MyRating(userID int64) int {
	for _, candidate := range data.Ratings {
		if candidate.User.ID == userID {
			return candidate.Value
		}
	}
	return 0
}

// PostDetail shows a post with its comments and ratings. Reading is open to
// everyone; commenting and rating need a signed-in user.
type PostDetail struct {
	api     API
	session Session
	postID  int64
	screen  screen[PostDetailData]
}

// NewPostDetail constructs the screen for postID.
func NewPostDetail(api API, sessionState Session, postID int64) *PostDetail {
	return &PostDetail{api: api, session: sessionState, postID: postID}
}

// Load fetches the post, its comments and its ratings in parallel.
func (detail *PostDetail) Load(ctx context.Context) error {
	generation, err := detail.screen.start()
	if err != nil {
		return err
	}
	var data PostDetailData
	group, groupContext := errgroup.WithContext(ctx)
	group.Go(func() error {
		var loadErr error
		data.Post, loadErr = detail.api.Post(groupContext, detail.postID)
		return loadErr
	})
	group.Go(func() error {
		var loadErr error
		data.Comments, loadErr = detail.api.Comments(groupContext, detail.postID)
		return loadErr
	})
	group.Go(func() error {
		var loadErr error
		data.Ratings, loadErr = detail.api.Ratings(groupContext, detail.postID)
		return loadErr
	})
	if err = group.Wait(); err != nil {
		err = fmt.Errorf("views.post_detail.load: %w", err)
	}
	detail.screen.finish(generation, data, err)
	return err
}

// Snapshot returns the current state.
func (detail *PostDetail) Snapshot() State[PostDetailData] {
	return detail.screen.snapshot()
}

// Close discards results of loads still running.
func (detail *PostDetail) Close() {
	detail.screen.close()
}

// AddComment posts a comment and reloads.
func (detail *PostDetail) AddComment(ctx context.Context, text string) error {
	if redirect := requireLogin(detail.session); redirect != nil {
		return redirect
	}
	return mutation(ctx, "post_detail.comment", detail.screen.isClosed(), func(ctx context.Context) error {
		_, err := detail.api.CreateComment(ctx, detail.postID, text)
		return err
	}, detail.Load)
}

// EditComment replaces the text of one of the user's comments and reloads.
func (detail *PostDetail) EditComment(ctx context.Context, commentID int64, text string) error {
	if redirect := requireLogin(detail.session); redirect != nil {
		return redirect
	}
	return mutation(ctx, "post_detail.edit_comment", detail.screen.isClosed(), func(ctx context.Context) error {
		_, err := detail.api.UpdateComment(ctx, commentID, text)
		return err
	}, detail.Load)
}

// DeleteComment removes a comment and reloads.
func (detail *PostDetail) DeleteComment(ctx context.Context, commentID int64) error {
	if redirect := requireLogin(detail.session); redirect != nil {
		return redirect
	}
	return mutation(ctx, "post_detail.delete_comment", detail.screen.isClosed(), func(ctx context.Context) error {
		return detail.api.DeleteComment(ctx, commentID)
	}, detail.Load)
}

// Rate records the user's 1-5 rating and reloads.
func (detail *PostDetail) Rate(ctx context.Context, value int) error {
	if redirect := requireLogin(detail.session); redirect != nil {
		return redirect
	}
	return mutation(ctx, "post_detail.rate", detail.screen.isClosed(), func(ctx context.Context) error {
		_, err := detail.api.CreateRating(ctx, detail.postID, value)
		return err
	}, detail.Load)
}

// PostEditorData is the content of the editor: the section choices and,
// when editing, the stored post.
type PostEditorData struct {
	Sections []apiclient.Section
	Post     *apiclient.Post
}

// PostEditor creates a post, or edits one when constructed with a post id.
type PostEditor struct {
	api     API
	session Session
	screen  screen[PostEditorData]
	postID  int64
}

// NewPostEditor constructs the editor. A postID of zero creates a new post.
func NewPostEditor(api API, sessionState Session, postID int64) *PostEditor {
	return &PostEditor{api: api, session: sessionState, postID: postID}
}

// NewDraft returns the initial form values of a new post. Posts are public
// unless the author unticks it.
func NewDraft() apiclient.PostInput {
	return apiclient.PostInput{
		Type:     apiclient.String(apiclient.PostTypeMeal),
		IsPublic: apiclient.Bool(true),
	}
}

// PostID returns the id of the post being edited, or zero before creation.
func (editor *PostEditor) PostID() int64 {
	editor.screen.mutex.Lock()
	defer editor.screen.mutex.Unlock()
	return editor.postID
}

// Load fetches the sections and, when editing, the post.
func (editor *PostEditor) Load(ctx context.Context) error {
	if redirect := requireLogin(editor.session); redirect != nil {
		return redirect
	}
	generation, err := editor.screen.start()
	if err != nil {
		return err
	}
	postID := editor.PostID()
	var data PostEditorData
	group, groupContext := errgroup.WithContext(ctx)
	group.Go(func() error {
		var loadErr error
		data.Sections, loadErr = editor.api.Sections(groupContext)
		return loadErr
	})
	if postID != 0 {
		group.Go(func() error {
			stored, loadErr := editor.api.Post(groupContext, postID)
			if loadErr != nil {
				return loadErr
			}
			data.Post = &stored
			return nil
		})
	}
	if err = group.Wait(); err != nil {
		err = fmt.Errorf("views.post_editor.load: %w", err)
	}
	editor.screen.finish(generation, data, err)
	return err
}

// Save creates or updates the post and reloads. After a create the editor
// switches to editing the new post.
func (editor *PostEditor) Save(ctx context.Context, input apiclient.PostInput) (apiclient.Post, error) {
	if redirect := requireLogin(editor.session); redirect != nil {
		return apiclient.Post{}, redirect
	}
	var saved apiclient.Post
	postID := editor.PostID()
	err := mutation(ctx, "post_editor.save", editor.screen.isClosed(), func(ctx context.Context) error {
		var saveErr error
		if postID == 0 {
			if input.IsPublic == nil {
				input.IsPublic = apiclient.Bool(true)
			}
			saved, saveErr = editor.api.CreatePost(ctx, input)
			if saveErr == nil {
				editor.screen.mutex.Lock()
				editor.postID = saved.ID
				editor.screen.mutex.Unlock()
			}
			return saveErr
		}
		saved, saveErr = editor.api.UpdatePost(ctx, postID, input)
		return saveErr
	}, editor.Load)
	if saved.ID == 0 {
		return apiclient.Post{}, err
	}
	return saved, err
}

// Snapshot returns the current state.
func (editor *PostEditor) Snapshot() State[PostEditorData] {
	return editor.screen.snapshot()
}

// Close discards results of loads still running.
func (editor *PostEditor) Close() {
	editor.screen.close()
}
