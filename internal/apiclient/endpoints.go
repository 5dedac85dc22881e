package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// doPublic sends a call that never carries credentials and never enters the
// refresh protocol: a 401 here means the submitted credentials were wrong.
func (client *Client) doPublic(ctx context.Context, operation string, method string, path string, payload any, target any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("apiclient.%s: encode request: %w", operation, err)
	}
	response, err := client.send(ctx, method, path, body, "")
	if err != nil {
		return fmt.Errorf("apiclient.%s: %w", operation, err)
	}
	if response.status < 200 || response.status > 299 {
		return fmt.Errorf("apiclient.%s: %w", operation, errorFromResponse(method, path, response.status, response.body))
	}
	if target == nil || len(bytes.TrimSpace(response.body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(response.body, target); err != nil {
		return fmt.Errorf("apiclient.%s: %w: %w", operation, ErrDecodeResponse, err)
	}
	return nil
}

// Login exchanges a username and password for a token pair. It does not
// touch the session; callers hand the tokens to the session manager.
func (client *Client) Login(ctx context.Context, username string, password string) (LoginResult, error) {
	fields := fieldErrors{}
	fields.require("username", username)
	fields.require("password", password)
	if err := fields.err(); err != nil {
		return LoginResult{}, fmt.Errorf("apiclient.login: %w", err)
	}
	var result LoginResult
	payload := map[string]string{"username": username, "password": password}
	if err := client.doPublic(ctx, "login", http.MethodPost, "/auth/login/", payload, &result); err != nil {
		return LoginResult{}, err
	}
	if strings.TrimSpace(result.Access) == "" {
		return LoginResult{}, fmt.Errorf("apiclient.login: %w: missing access token", ErrDecodeResponse)
	}
	return result, nil
}

// RefreshAccess exchanges a refresh token for a new access token.
func (client *Client) RefreshAccess(ctx context.Context, refreshToken string) (TokenPair, error) {
	var pair TokenPair
	payload := map[string]string{"refresh": refreshToken}
	if err := client.doPublic(ctx, "refresh", http.MethodPost, refreshPath, payload, &pair); err != nil {
		return TokenPair{}, err
	}
	if strings.TrimSpace(pair.Access) == "" {
		return TokenPair{}, fmt.Errorf("apiclient.refresh: %w: missing access token", ErrDecodeResponse)
	}
	return pair, nil
}

// Register creates an inactive account awaiting approval.
func (client *Client) Register(ctx context.Context, input RegisterInput) (User, error) {
	if err := input.Validate(); err != nil {
		return User{}, fmt.Errorf("apiclient.register: %w", err)
	}
	var user User
	if err := client.doPublic(ctx, "register", http.MethodPost, "/users/register/", input, &user); err != nil {
		return User{}, err
	}
	return user, nil
}

// UserPosts lists a user's posts. The owner sees drafts and pending posts.
func (client *Client) UserPosts(ctx context.Context, userID int64) ([]Post, error) {
	return getList[Post](ctx, client, "user_posts", fmt.Sprintf("/users/%d/posts/", userID))
}

// UpdateProfile changes the signed-in user's editable fields.
func (client *Client) UpdateProfile(ctx context.Context, input ProfileInput) (User, error) {
	var user User
	if err := client.do(ctx, "update_profile", http.MethodPatch, "/users/profile/", input, &user); err != nil {
		return User{}, err
	}
	return user, nil
}

// PendingUsers lists accounts awaiting approval. Admin only.
func (client *Client) PendingUsers(ctx context.Context) ([]User, error) {
	return getList[User](ctx, client, "pending_users", "/admin/pending-users/")
}

// ApproveUser activates an account. Admin only.
func (client *Client) ApproveUser(ctx context.Context, userID int64) (User, error) {
	var user User
	if err := client.do(ctx, "approve_user", http.MethodPut, fmt.Sprintf("/admin/users/%d/approve/", userID), nil, &user); err != nil {
		return User{}, err
	}
	return user, nil
}

// DeleteUser removes an account. Admin only.
func (client *Client) DeleteUser(ctx context.Context, userID int64) error {
	return client.do(ctx, "delete_user", http.MethodDelete, fmt.Sprintf("/users/%d/delete/", userID), nil, nil)
}

// Sections lists all sections.
func (client *Client) Sections(ctx context.Context) ([]Section, error) {
	return getList[Section](ctx, client, "sections", "/sections/")
}

// SectionPosts lists the public posts of a section. Anonymous callers only
// see approved posts.
func (client *Client) SectionPosts(ctx context.Context, sectionID int64) ([]Post, error) {
	return getList[Post](ctx, client, "section_posts", fmt.Sprintf("/sections/%d/posts/", sectionID))
}

// Post fetches one post.
func (client *Client) Post(ctx context.Context, postID int64) (Post, error) {
	var post Post
	if err := client.do(ctx, "post", http.MethodGet, fmt.Sprintf("/posts/%d/", postID), nil, &post); err != nil {
		return Post{}, err
	}
	return post, nil
}

// CreatePost creates a post owned by the signed-in user.
func (client *Client) CreatePost(ctx context.Context, input PostInput) (Post, error) {
	if err := input.ValidateCreate(); err != nil {
		return Post{}, fmt.Errorf("apiclient.create_post: %w", err)
	}
	var post Post
	if err := client.do(ctx, "create_post", http.MethodPost, "/posts/create/", input, &post); err != nil {
		return Post{}, err
	}
	return post, nil
}

// UpdatePost applies a partial update to one of the signed-in user's posts.
func (client *Client) UpdatePost(ctx context.Context, postID int64, input PostInput) (Post, error) {
	if err := input.ValidatePatch(); err != nil {
		return Post{}, fmt.Errorf("apiclient.update_post: %w", err)
	}
	var post Post
	if err := client.do(ctx, "update_post", http.MethodPatch, fmt.Sprintf("/posts/%d/update/", postID), input, &post); err != nil {
		return Post{}, err
	}
	return post, nil
}

// DeletePost removes a post. Owners delete their own; admins delete any.
func (client *Client) DeletePost(ctx context.Context, postID int64) error {
	return client.do(ctx, "delete_post", http.MethodDelete, fmt.Sprintf("/posts/%d/delete/", postID), nil, nil)
}

// ApprovePost marks a post approved. Admin only.
func (client *Client) ApprovePost(ctx context.Context, postID int64) (Post, error) {
	var post Post
	if err := client.do(ctx, "approve_post", http.MethodPut, fmt.Sprintf("/posts/%d/approve/", postID), nil, &post); err != nil {
		return Post{}, err
	}
	return post, nil
}

// PublishPost makes one of the signed-in user's posts public.
func (client *Client) PublishPost(ctx context.Context, postID int64) (Post, error) {
	var post Post
	if err := client.do(ctx, "publish_post", http.MethodPut, fmt.Sprintf("/posts/%d/publish/", postID), nil, &post); err != nil {
		return Post{}, err
	}
	return post, nil
}

// PublicPosts lists approved public posts across all sections.
func (client *Client) PublicPosts(ctx context.Context) ([]Post, error) {
	return getList[Post](ctx, client, "public_posts", "/posts/public/")
}

// PendingPosts lists public posts awaiting approval. Admin only.
func (client *Client) PendingPosts(ctx context.Context) ([]Post, error) {
	return getList[Post](ctx, client, "pending_posts", "/admin/pending-posts/")
}

// AllPostsDebug lists every post regardless of state. Admin only.
func (client *Client) AllPostsDebug(ctx context.Context) ([]Post, error) {
	return getList[Post](ctx, client, "all_posts_debug", "/admin/debug/all-posts/")
}

// Comments lists a post's comments.
func (client *Client) Comments(ctx context.Context, postID int64) ([]Comment, error) {
	return getList[Comment](ctx, client, "comments", fmt.Sprintf("/posts/%d/comments/", postID))
}

// CreateComment adds a comment to a post.
func (client *Client) CreateComment(ctx context.Context, postID int64, text string) (Comment, error) {
	if err := ValidateComment(text); err != nil {
		return Comment{}, fmt.Errorf("apiclient.create_comment: %w", err)
	}
	var comment Comment
	payload := map[string]string{"text": text}
	if err := client.do(ctx, "create_comment", http.MethodPost, fmt.Sprintf("/posts/%d/comments/create/", postID), payload, &comment); err != nil {
		return Comment{}, err
	}
	return comment, nil
}

// UpdateComment replaces the text of one of the signed-in user's comments.
func (client *Client) UpdateComment(ctx context.Context, commentID int64, text string) (Comment, error) {
	if err := ValidateComment(text); err != nil {
		return Comment{}, fmt.Errorf("apiclient.update_comment: %w", err)
	}
	var comment Comment
	payload := map[string]string{"text": text}
	if err := client.do(ctx, "update_comment", http.MethodPatch, fmt.Sprintf("/comments/%d/update/", commentID), payload, &comment); err != nil {
		return Comment{}, err
	}
	return comment, nil
}

// DeleteComment removes a comment. Owners delete their own; admins delete any.
func (client *Client) DeleteComment(ctx context.Context, commentID int64) error {
	return client.do(ctx, "delete_comment", http.MethodDelete, fmt.Sprintf("/comments/%d/delete/", commentID), nil, nil)
}

// Ratings lists a post's ratings.
func (client *Client) Ratings(ctx context.Context, postID int64) ([]Rating, error) {
	return getList[Rating](ctx, client, "ratings", fmt.Sprintf("/posts/%d/ratings/", postID))
}

// CreateRating rates a post. Rating the same post again replaces the previous value.
func (client *Client) CreateRating(ctx context.Context, postID int64, value int) (Rating, error) {
	if err := ValidateRating(value); err != nil {
		return Rating{}, fmt.Errorf("apiclient.create_rating: %w", err)
	}
	var rating Rating
	payload := map[string]int{"rating": value}
	if err := client.do(ctx, "create_rating", http.MethodPost, fmt.Sprintf("/posts/%d/ratings/create/", postID), payload, &rating); err != nil {
		return Rating{}, err
	}
	return rating, nil
}
