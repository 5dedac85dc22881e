package apiclient

import (
	"strings"
	"time"
	"unicode/utf8"
)

// Post types accepted by the API.
const (
	PostTypeMeal    = "meal"
	PostTypeWorkout = "workout"
)

// Limits enforced by the API and checked locally before sending.
const (
	MinTitleLength       = 3
	MaxTitleLength       = 100
	MinDescriptionLength = 10
	MinCalories          = 0
	MaxCalories          = 10000
	MinCommentLength     = 5
	MaxCommentLength     = 1000
	MinRating            = 1
	MaxRating            = 5
)

// TokenPair is returned by the login and refresh endpoints. Refresh is empty
// when the server did not rotate the refresh token.
type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh,omitempty"`
}

// LoginUser is the user summary the login endpoint returns next to the tokens.
type LoginUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	IsActive bool   `json:"is_active"`
}

// LoginResult is the login endpoint response.
type LoginResult struct {
	TokenPair
	User *LoginUser `json:"user,omitempty"`
}

// User is the public projection of an account.
type User struct {
	ID         int64     `json:"id"`
	Username   string    `json:"username"`
	Email      string    `json:"email"`
	FirstName  string    `json:"first_name"`
	LastName   string    `json:"last_name"`
	DateJoined time.Time `json:"date_joined"`
}

// Section is a topic grouping posts.
type Section struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Post is a meal plan or workout entry.
type Post struct {
	ID              int64     `json:"id"`
	User            User      `json:"user"`
	Title           string    `json:"title"`
	Type            string    `json:"type"`
	Description     string    `json:"description"`
	IsPublic        bool      `json:"is_public"`
	IsApproved      bool      `json:"is_approved"`
	Calories        *int      `json:"calories"`
	Recommendations string    `json:"recommendations"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	AverageRating   *float64  `json:"average_rating"`
	CommentCount    int       `json:"comment_count"`
}

// Comment is a text reply to a post.
type Comment struct {
	ID        int64     `json:"id"`
	PostID    int64     `json:"post"`
	User      User      `json:"user"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Rating is one user's 1-5 score for a post.
type Rating struct {
	ID        int64     `json:"id"`
	PostID    int64     `json:"post"`
	User      User      `json:"user"`
	Value     int       `json:"rating"`
	CreatedAt time.Time `json:"created_at"`
}

// RegisterInput creates an account. New accounts stay inactive until an
// administrator approves them.
type RegisterInput struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// Validate checks the fields the API requires.
func (input RegisterInput) Validate() error {
	fields := fieldErrors{}
	fields.require("username", input.Username)
	fields.require("email", input.Email)
	fields.require("password", input.Password)
	return fields.err()
}

// ProfileInput updates the signed-in user's editable fields.
type ProfileInput struct {
	Email     *string `json:"email,omitempty"`
	FirstName *string `json:"first_name,omitempty"`
	LastName  *string `json:"last_name,omitempty"`
}

// PostInput carries post fields. CreatePost requires Title, Type,
// Description and SectionID; UpdatePost sends only the non-nil fields.
type PostInput struct {
	Title           *string `json:"title,omitempty"`
	Type            *string `json:"type,omitempty"`
	Description     *string `json:"description,omitempty"`
	SectionID       *int64  `json:"section_id,omitempty"`
	IsPublic        *bool   `json:"is_public,omitempty"`
	Calories        *int    `json:"calories,omitempty"`
	Recommendations *string `json:"recommendations,omitempty"`
}

// ValidateCreate checks a complete post before creation.
func (input PostInput) ValidateCreate() error {
	fields := fieldErrors{}
	if input.Title == nil {
		fields.add("title", "This field is required.")
	}
	if input.Type == nil {
		fields.add("type", "This field is required.")
	}
	if input.Description == nil {
		fields.add("description", "This field is required.")
	}
	if input.SectionID == nil {
		fields.add("section_id", "This field is required.")
	}
	input.check(fields)
	return fields.err()
}

// ValidatePatch checks the fields present in a partial update.
func (input PostInput) ValidatePatch() error {
	fields := fieldErrors{}
	input.check(fields)
	return fields.err()
}

func (input PostInput) check(fields fieldErrors) {
	if input.Title != nil {
		title := *input.Title
		switch {
		case strings.TrimSpace(title) == "":
			fields.add("title", "Title cannot be empty")
		case utf8.RuneCountInString(title) < MinTitleLength:
			fields.add("title", "Title must be at least 3 characters long")
		case utf8.RuneCountInString(title) > MaxTitleLength:
			fields.add("title", "Ensure this field has no more than 100 characters.")
		}
	}
	if input.Type != nil && *input.Type != PostTypeMeal && *input.Type != PostTypeWorkout {
		fields.add("type", "Type must be meal or workout")
	}
	if input.Description != nil {
		description := *input.Description
		switch {
		case strings.TrimSpace(description) == "":
			fields.add("description", "Description cannot be empty")
		case utf8.RuneCountInString(description) < MinDescriptionLength:
			fields.add("description", "Description must be at least 10 characters long")
		}
	}
	if input.Calories != nil && (*input.Calories < MinCalories || *input.Calories > MaxCalories) {
		fields.add("calories", "Calories must be between 0 and 10000")
	}
	if input.SectionID != nil && *input.SectionID <= 0 {
		fields.add("section_id", "Select a section")
	}
}

// ValidateComment checks comment text against the API's limits.
func ValidateComment(text string) error {
	fields := fieldErrors{}
	switch length := utf8.RuneCountInString(text); {
	case strings.TrimSpace(text) == "":
		fields.add("text", "Comment text cannot be empty")
	case length < MinCommentLength:
		fields.add("text", "Comment must be at least 5 characters long")
	case length > MaxCommentLength:
		fields.add("text", "Comment cannot exceed 1000 characters")
	}
	return fields.err()
}

// ValidateRating checks a rating value.
func ValidateRating(value int) error {
	fields := fieldErrors{}
	if value < MinRating || value > MaxRating {
		fields.add("rating", "Rating must be between 1 and 5")
	}
	return fields.err()
}

// String returns a pointer to value, for building inputs.
func String(value string) *string { return &value }

// Int returns a pointer to value.
func Int(value int) *int { return &value }

// Int64 returns a pointer to value.
func Int64(value int64) *int64 { return &value }

// Bool returns a pointer to value.
func Bool(value bool) *bool { return &value }

type fieldErrors map[string][]string

func (fields fieldErrors) add(name string, message string) {
	fields[name] = append(fields[name], message)
}

func (fields fieldErrors) require(name string, value string) {
	if strings.TrimSpace(value) == "" {
		fields.add(name, "This field may not be blank.")
	}
}

func (fields fieldErrors) err() error {
	if len(fields) == 0 {
		return nil
	}
	return &ValidationError{Fields: fields}
}
