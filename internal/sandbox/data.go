package sandbox

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tyemirov/trainee/internal/apiclient"
)

type account struct {
	ID           int64
	Username     string
	Email        string
	FirstName    string
	LastName     string
	PasswordHash []byte
	IsActive     bool
	IsStaff      bool
	DateJoined   time.Time
}

type section struct {
	ID          int64
	Name        string
	Description string
}

type post struct {
	ID              int64
	UserID          int64
	SectionID       int64
	Title           string
	Type            string
	Description     string
	IsPublic        bool
	IsApproved      bool
	Calories        *int
	Recommendations string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type comment struct {
	ID        int64
	PostID    int64
	UserID    int64
	Text      string
	CreatedAt time.Time
}

type rating struct {
	ID        int64
	PostID    int64
	UserID    int64
	Value     int
	CreatedAt time.Time
}

// dataset holds every record served by the sandbox. Callers hold mutex.
type dataset struct {
	mutex    sync.RWMutex
	sequence map[string]int64
	accounts map[int64]*account
	sections map[int64]*section
	posts    map[int64]*post
	comments map[int64]*comment
	ratings  map[int64]*rating
}

func newDataset() *dataset {
	return &dataset{
		sequence: make(map[string]int64),
		accounts: make(map[int64]*account),
		sections: make(map[int64]*section),
		posts:    make(map[int64]*post),
		comments: make(map[int64]*comment),
		ratings:  make(map[int64]*rating),
	}
}

// allocateID returns the next id of kind; each kind counts from 1.
func (data *dataset) allocateID(kind string) int64 {
	data.sequence[kind]++
	return data.sequence[kind]
}

func (data *dataset) accountByUsername(username string) *account {
	for _, candidate := range data.accounts {
		if strings.EqualFold(candidate.Username, username) {
			return candidate
		}
	}
	return nil
}

// deleteAccount removes a user and everything they own.
func (data *dataset) deleteAccount(userID int64) {
	delete(data.accounts, userID)
	for postID, candidate := range data.posts {
		if candidate.UserID == userID {
			data.deletePost(postID)
		}
	}
	for commentID, candidate := range data.comments {
		if candidate.UserID == userID {
			delete(data.comments, commentID)
		}
	}
	for ratingID, candidate := range data.ratings {
		if candidate.UserID == userID {
			delete(data.ratings, ratingID)
		}
	}
}

func (data *dataset) deletePost(postID int64) {
	delete(data.posts, postID)
	for commentID, candidate := range data.comments {
		if candidate.PostID == postID {
			delete(data.comments, commentID)
		}
	}
	for ratingID, candidate := range data.ratings {
		if candidate.PostID == postID {
			delete(data.ratings, ratingID)
		}
	}
}

func (data *dataset) filterPosts(keep func(*post) bool) []apiclient.Post {
	matched := make([]*post, 0)
	for _, candidate := range data.posts {
		if keep(candidate) {
			matched = append(matched, candidate)
		}
	}
	sort.Slice(matched, func(left, right int) bool { return matched[left].ID < matched[right].ID })
	projected := make([]apiclient.Post, 0, len(matched))
	for _, candidate := range matched {
		projected = append(projected, data.projectPost(candidate))
	}
	return projected
}

func (data *dataset) filterAccounts(keep func(*account) bool) []apiclient.User {
	matched := make([]*account, 0)
	for _, candidate := range data.accounts {
		if keep(candidate) {
			matched = append(matched, candidate)
		}
	}
	sort.Slice(matched, func(left, right int) bool { return matched[left].ID < matched[right].ID })
	projected := make([]apiclient.User, 0, len(matched))
	for _, candidate := range matched {
		projected = append(projected, projectUser(candidate))
	}
	return projected
}

func projectUser(user *account) apiclient.User {
	if user == nil {
		return apiclient.User{}
	}
	return apiclient.User{
		ID:         user.ID,
		Username:   user.Username,
		Email:      user.Email,
		FirstName:  user.FirstName,
		LastName:   user.LastName,
		DateJoined: user.DateJoined,
	}
}

func (data *dataset) projectPost(record *post) apiclient.Post {
	var total, count int
	for _, candidate := range data.ratings {
		if candidate.PostID == record.ID {
			total += candidate.Value
			count++
		}
	}
	commentCount := 0
	for _, candidate := range data.comments {
		if candidate.PostID == record.ID {
			commentCount++
		}
	}
	projected := apiclient.Post{
		ID:              record.ID,
		User:            projectUser(data.accounts[record.UserID]),
		Title:           record.Title,
		Type:            record.Type,
		Description:     record.Description,
		IsPublic:        record.IsPublic,
		IsApproved:      record.IsApproved,
		Calories:        record.Calories,
		Recommendations: record.Recommendations,
		CreatedAt:       record.CreatedAt,
		UpdatedAt:       record.UpdatedAt,
		CommentCount:    commentCount,
	}
	if count > 0 {
		average := float64(total) / float64(count)
		projected.AverageRating = &average
	}
	return projected
}

func (data *dataset) projectComment(record *comment) apiclient.Comment {
	return apiclient.Comment{
		ID:        record.ID,
		PostID:    record.PostID,
		User:      projectUser(data.accounts[record.UserID]),
		Text:      record.Text,
		CreatedAt: record.CreatedAt,
	}
}

func (data *dataset) projectRating(record *rating) apiclient.Rating {
	return apiclient.Rating{
		ID:        record.ID,
		PostID:    record.PostID,
		User:      projectUser(data.accounts[record.UserID]),
		Value:     record.Value,
		CreatedAt: record.CreatedAt,
	}
}

func (data *dataset) commentsOf(postID int64) []apiclient.Comment {
	matched := make([]*comment, 0)
	for _, candidate := range data.comments {
		if candidate.PostID == postID {
			matched = append(matched, candidate)
		}
	}
	sort.Slice(matched, func(left, right int) bool { return matched[left].ID < matched[right].ID })
	projected := make([]apiclient.Comment, 0, len(matched))
	for _, candidate := range matched {
		projected = append(projected, data.projectComment(candidate))
	}
	return projected
}

func (data *dataset) ratingsOf(postID int64) []apiclient.Rating {
	matched := make([]*rating, 0)
	for _, candidate := range data.ratings {
		if candidate.PostID == postID {
			matched = append(matched, candidate)
		}
	}
	sort.Slice(matched, func(left, right int) bool { return matched[left].ID < matched[right].ID })
	projected := make([]apiclient.Rating, 0, len(matched))
	for _, candidate := range matched {
		projected = append(projected, data.projectRating(candidate))
	}
	return projected
}

func (data *dataset) ratingBy(postID int64, userID int64) *rating {
	for _, candidate := range data.ratings {
		if candidate.PostID == postID && candidate.UserID == userID {
			return candidate
		}
	}
	return nil
}

func (data *dataset) sectionList() []apiclient.Section {
	projected := make([]apiclient.Section, 0, len(data.sections))
	for _, candidate := range data.sections {
		projected = append(projected, apiclient.Section{ID: candidate.ID, Name: candidate.Name, Description: candidate.Description})
	}
	sort.Slice(projected, func(left, right int) bool { return projected[left].ID < projected[right].ID })
	return projected
}
