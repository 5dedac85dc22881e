package sandbox

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tyemirov/trainee/internal/apiclient"
	"github.com/tyemirov/trainee/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	fieldRequired       = "This field is required."
	invalidCredentials  = "No active account found with the given credentials"
	invalidRefreshToken = "Token is invalid or expired"
)

func (server *Server) mountRoutes(router *gin.RouterGroup) {
	router.Use(server.authenticate())
	requireUser := server.requireUser()
	requireAdmin := server.requireAdmin()

	router.POST("/auth/login/", server.handleLogin)
	router.POST("/auth/refresh/", server.handleRefresh)

	router.POST("/users/register/", server.handleRegister)
	router.GET("/users/:id/posts/", server.handleUserPosts)
	router.PATCH("/users/profile/", requireUser, server.handleUpdateProfile)
	router.DELETE("/users/:id/delete/", requireAdmin, server.handleDeleteUser)

	router.GET("/admin/pending-users/", requireAdmin, server.handlePendingUsers)
	router.PUT("/admin/users/:id/approve/", requireAdmin, server.handleApproveUser)
	router.GET("/admin/pending-posts/", requireAdmin, server.handlePendingPosts)
	router.GET("/admin/debug/all-posts/", requireAdmin, server.handleAllPosts)

	router.GET("/sections/", server.handleSections)
	router.GET("/sections/:id/posts/", server.handleSectionPosts)

	router.GET("/posts/public/", server.handlePublicPosts)
	router.POST("/posts/create/", requireUser, server.handleCreatePost)
	router.GET("/posts/:id/", server.handlePost)
	router.PATCH("/posts/:id/update/", requireUser, server.handleUpdatePost)
	router.DELETE("/posts/:id/delete/", requireUser, server.handleDeletePost)
	router.PUT("/posts/:id/publish/", requireUser, server.handlePublishPost)
	router.PUT("/posts/:id/approve/", requireAdmin, server.handleApprovePost)

	router.GET("/posts/:id/comments/", server.handleComments)
	router.POST("/posts/:id/comments/create/", requireUser, server.handleCreateComment)
	router.PATCH("/comments/:id/update/", requireUser, server.handleUpdateComment)
	router.DELETE("/comments/:id/delete/", requireUser, server.handleDeleteComment)

	router.GET("/posts/:id/ratings/", server.handleRatings)
	router.POST("/posts/:id/ratings/create/", requireUser, server.handleCreateRating)
}

// paginated wraps a list the way paginated list endpoints do.
func paginated[T any](items []T) gin.H {
	return gin.H{"count": len(items), "next": nil, "previous": nil, "results": items}
}

func pathID(contextGin *gin.Context) (int64, bool) {
	identifier, err := strconv.ParseInt(contextGin.Param("id"), 10, 64)
	return identifier, err == nil && identifier > 0
}

func (server *Server) bindJSON(contextGin *gin.Context, target any) bool {
	if err := contextGin.ShouldBindJSON(target); err != nil {
		server.abortWithDetail(contextGin, http.StatusBadRequest, "JSON parse error - "+err.Error())
		return false
	}
	return true
}

// rejectInvalid renders err as a field error response when it is a validation error.
func (server *Server) rejectInvalid(contextGin *gin.Context, err error) bool {
	if err == nil {
		return false
	}
	var validationErr *apiclient.ValidationError
	if errors.As(err, &validationErr) {
		server.abortWithFields(contextGin, validationErr.Fields)
		return true
	}
	server.abortWithDetail(contextGin, http.StatusBadRequest, err.Error())
	return true
}

func (server *Server) handleLogin(contextGin *gin.Context) {
	var inbound struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !server.bindJSON(contextGin, &inbound) {
		return
	}
	fields := map[string][]string{}
	if strings.TrimSpace(inbound.Username) == "" {
		fields["username"] = []string{fieldRequired}
	}
	if inbound.Password == "" {
		fields["password"] = []string{fieldRequired}
	}
	if len(fields) > 0 {
		server.abortWithFields(contextGin, fields)
		return
	}

	server.data.mutex.RLock()
	user := server.data.accountByUsername(inbound.Username)
	var snapshot account
	if user != nil {
		snapshot = *user
	}
	server.data.mutex.RUnlock()
	if user == nil || bcrypt.CompareHashAndPassword(snapshot.PasswordHash, []byte(inbound.Password)) != nil || !snapshot.IsActive {
		server.events.Increment(metrics.EventSandboxLoginRejected)
		server.logger.Info("login rejected",
			zap.String("code", "sandbox.login.rejected"),
			zap.String("username", inbound.Username))
		server.abortWithDetail(contextGin, http.StatusUnauthorized, invalidCredentials)
		return
	}

	pair, ok := server.issueTokens(contextGin, &snapshot, "")
	if !ok {
		return
	}
	server.events.Increment(metrics.EventSandboxLogin)
	contextGin.JSON(http.StatusOK, apiclient.LoginResult{
		TokenPair: pair,
		User: &apiclient.LoginUser{
			ID:       snapshot.ID,
			Username: snapshot.Username,
			Email:    snapshot.Email,
			Role:     string(roleOf(&snapshot)),
			IsActive: snapshot.IsActive,
		},
	})
}

func (server *Server) handleRefresh(contextGin *gin.Context) {
	var inbound struct {
		Refresh string `json:"refresh"`
	}
	if !server.bindJSON(contextGin, &inbound) {
		return
	}
	if strings.TrimSpace(inbound.Refresh) == "" {
		server.abortWithFields(contextGin, map[string][]string{"refresh": {fieldRequired}})
		return
	}
	userID, tokenID, err := server.refreshTokens.Validate(inbound.Refresh, server.now())
	if err != nil {
		if errors.Is(err, ErrRefreshTokenRevoked) {
			server.events.Increment(metrics.EventSandboxRefreshReplay)
		} else {
			server.events.Increment(metrics.EventSandboxRefreshRejected)
		}
		server.logger.Info("refresh rejected",
			zap.String("code", "sandbox.refresh.rejected"),
			zap.Error(err))
		server.abortWithDetail(contextGin, http.StatusUnauthorized, invalidRefreshToken)
		return
	}

	server.data.mutex.RLock()
	user := server.data.accounts[userID]
	var snapshot account
	if user != nil {
		snapshot = *user
	}
	server.data.mutex.RUnlock()
	if user == nil || !snapshot.IsActive {
		server.events.Increment(metrics.EventSandboxRefreshRejected)
		server.abortWithDetail(contextGin, http.StatusUnauthorized, invalidRefreshToken)
		return
	}

	pair, ok := server.issueTokens(contextGin, &snapshot, tokenID)
	if !ok {
		return
	}
	if revokeErr := server.refreshTokens.Revoke(tokenID, server.now()); revokeErr != nil {
		contextGin.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	server.events.Increment(metrics.EventSandboxRefresh)
	contextGin.JSON(http.StatusOK, pair)
}

func (server *Server) issueTokens(contextGin *gin.Context, user *account, previousTokenID string) (apiclient.TokenPair, bool) {
	now := server.now()
	accessToken, _, mintErr := mintAccessToken(user, server.configuration.Issuer, server.configuration.SigningKey, server.configuration.AccessTTL, now)
	if mintErr != nil {
		server.logger.Error("mint access token", zap.String("code", "sandbox.token.mint_failed"), zap.Error(mintErr))
		contextGin.AbortWithStatus(http.StatusInternalServerError)
		return apiclient.TokenPair{}, false
	}
	_, refreshOpaque, issueErr := server.refreshTokens.Issue(user.ID, now, now.Add(server.configuration.RefreshTTL), previousTokenID)
	if issueErr != nil {
		server.logger.Error("issue refresh token", zap.String("code", "sandbox.token.issue_failed"), zap.Error(issueErr))
		contextGin.AbortWithStatus(http.StatusInternalServerError)
		return apiclient.TokenPair{}, false
	}
	return apiclient.TokenPair{Access: accessToken, Refresh: refreshOpaque}, true
}

func (server *Server) handleRegister(contextGin *gin.Context) {
	var input apiclient.RegisterInput
	if !server.bindJSON(contextGin, &input) {
		return
	}
	if server.rejectInvalid(contextGin, input.Validate()) {
		return
	}
	passwordHash, err := bcrypt.GenerateFromPassword([]byte(input.Password), server.configuration.PasswordCost)
	if err != nil {
		contextGin.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	server.data.mutex.Lock()
	defer server.data.mutex.Unlock()
	if server.data.accountByUsername(input.Username) != nil {
		server.abortWithFields(contextGin, map[string][]string{"username": {"A user with that username already exists."}})
		return
	}
	accountID := server.data.allocateID("account")
	created := &account{
		ID:           accountID,
		Username:     strings.TrimSpace(input.Username),
		Email:        strings.TrimSpace(input.Email),
		FirstName:    input.FirstName,
		LastName:     input.LastName,
		PasswordHash: passwordHash,
		DateJoined:   server.now(),
	}
	server.data.accounts[accountID] = created
	server.logger.Info("account registered",
		zap.String("code", "sandbox.register"),
		zap.Int64("user_id", accountID))
	contextGin.JSON(http.StatusCreated, projectUser(created))
}

func (server *Server) handleUserPosts(contextGin *gin.Context) {
	userID, ok := pathID(contextGin)
	if !ok {
		server.abortNotFound(contextGin)
		return
	}
	viewerID, _ := currentAccountID(contextGin)
	server.data.mutex.RLock()
	defer server.data.mutex.RUnlock()
	contextGin.JSON(http.StatusOK, server.data.filterPosts(func(candidate *post) bool {
		if candidate.UserID != userID {
			return false
		}
		return viewerID == userID || (candidate.IsPublic && candidate.IsApproved)
	}))
}

func (server *Server) handleUpdateProfile(contextGin *gin.Context) {
	var input apiclient.ProfileInput
	if !server.bindJSON(contextGin, &input) {
		return
	}
	if input.Email != nil && strings.TrimSpace(*input.Email) == "" {
		server.abortWithFields(contextGin, map[string][]string{"email": {"This field may not be blank."}})
		return
	}
	accountID, _ := currentAccountID(contextGin)
	server.data.mutex.Lock()
	defer server.data.mutex.Unlock()
	user := server.data.accounts[accountID]
	if user == nil {
		server.abortNotFound(contextGin)
		return
	}
	if input.Email != nil {
		user.Email = strings.TrimSpace(*input.Email)
	}
	if input.FirstName != nil {
		user.FirstName = *input.FirstName
	}
	if input.LastName != nil {
		user.LastName = *input.LastName
	}
	contextGin.JSON(http.StatusOK, projectUser(user))
}

func (server *Server) handleDeleteUser(contextGin *gin.Context) {
	userID, ok := pathID(contextGin)
	if !ok {
		server.abortNotFound(contextGin)
		return
	}
	server.data.mutex.Lock()
	if server.data.accounts[userID] == nil {
		server.data.mutex.Unlock()
		server.abortNotFound(contextGin)
		return
	}
	server.data.deleteAccount(userID)
	server.data.mutex.Unlock()
	server.refreshTokens.RevokeUser(userID, server.now())
	server.logger.Info("account deleted", zap.String("code", "sandbox.user.deleted"), zap.Int64("user_id", userID))
	contextGin.Status(http.StatusNoContent)
}

func (server *Server) handlePendingUsers(contextGin *gin.Context) {
	server.data.mutex.RLock()
	defer server.data.mutex.RUnlock()
	contextGin.JSON(http.StatusOK, server.data.filterAccounts(func(candidate *account) bool { return !candidate.IsActive }))
}

func (server *Server) handleApproveUser(contextGin *gin.Context) {
	userID, ok := pathID(contextGin)
	if !ok {
		server.abortNotFound(contextGin)
		return
	}
	server.data.mutex.Lock()
	defer server.data.mutex.Unlock()
	user := server.data.accounts[userID]
	if user == nil {
		server.abortWithPayload(contextGin, http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}
	user.IsActive = true
	contextGin.JSON(http.StatusOK, projectUser(user))
}

func (server *Server) handlePendingPosts(contextGin *gin.Context) {
	server.data.mutex.RLock()
	defer server.data.mutex.RUnlock()
	contextGin.JSON(http.StatusOK, server.data.filterPosts(func(candidate *post) bool {
		return candidate.IsPublic && !candidate.IsApproved
	}))
}

func (server *Server) handleAllPosts(contextGin *gin.Context) {
	server.data.mutex.RLock()
	defer server.data.mutex.RUnlock()
	contextGin.JSON(http.StatusOK, server.data.filterPosts(func(*post) bool { return true }))
}

func (server *Server) handleSections(contextGin *gin.Context) {
	server.data.mutex.RLock()
	defer server.data.mutex.RUnlock()
	contextGin.JSON(http.StatusOK, paginated(server.data.sectionList()))
}

func (server *Server) handleSectionPosts(contextGin *gin.Context) {
	sectionID, ok := pathID(contextGin)
	if !ok {
		server.abortNotFound(contextGin)
		return
	}
	_, authenticated := currentAccountID(contextGin)
	server.data.mutex.RLock()
	defer server.data.mutex.RUnlock()
	contextGin.JSON(http.StatusOK, server.data.filterPosts(func(candidate *post) bool {
		if candidate.SectionID != sectionID || !candidate.IsPublic {
			return false
		}
		return authenticated || candidate.IsApproved
	}))
}

func (server *Server) handlePublicPosts(contextGin *gin.Context) {
	server.data.mutex.RLock()
	defer server.data.mutex.RUnlock()
	contextGin.JSON(http.StatusOK, paginated(server.data.filterPosts(func(candidate *post) bool {
		return candidate.IsPublic && candidate.IsApproved
	})))
}

func (server *Server) handlePost(contextGin *gin.Context) {
	postID, ok := pathID(contextGin)
	if !ok {
		server.abortNotFound(contextGin)
		return
	}
	server.data.mutex.RLock()
	defer server.data.mutex.RUnlock()
	record := server.data.posts[postID]
	if record == nil {
		server.abortNotFound(contextGin)
		return
	}
	contextGin.JSON(http.StatusOK, server.data.projectPost(record))
}

func (server *Server) handleCreatePost(contextGin *gin.Context) {
	var input apiclient.PostInput
	if !server.bindJSON(contextGin, &input) {
		return
	}
	if server.rejectInvalid(contextGin, input.ValidateCreate()) {
		return
	}
	accountID, _ := currentAccountID(contextGin)
	now := server.now()

	server.data.mutex.Lock()
	defer server.data.mutex.Unlock()
	if server.data.sections[*input.SectionID] == nil {
		server.abortWithFields(contextGin, map[string][]string{"section_id": {"Invalid pk - object does not exist."}})
		return
	}
	postID := server.data.allocateID("post")
	record := &post{
		ID:          postID,
		UserID:      accountID,
		SectionID:   *input.SectionID,
		Title:       *input.Title,
		Type:        *input.Type,
		Description: *input.Description,
		Calories:    input.Calories,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if input.IsPublic != nil {
		record.IsPublic = *input.IsPublic
	}
	if input.Recommendations != nil {
		record.Recommendations = *input.Recommendations
	}
	server.data.posts[postID] = record
	server.logger.Info("post created",
		zap.String("code", "sandbox.post.created"),
		zap.Int64("post_id", postID),
		zap.Int64("user_id", accountID))
	contextGin.JSON(http.StatusCreated, server.data.projectPost(record))
}

// ownedPost returns the post when the caller owns it, or any post for staff
// when allowStaff is set. Callers hold the data lock.
func (server *Server) ownedPost(contextGin *gin.Context, allowStaff bool) *post {
	postID, ok := pathID(contextGin)
	if !ok {
		return nil
	}
	accountID, _ := currentAccountID(contextGin)
	record := server.data.posts[postID]
	if record == nil {
		return nil
	}
	if record.UserID == accountID {
		return record
	}
	if caller := server.data.accounts[accountID]; allowStaff && caller != nil && caller.IsStaff {
		return record
	}
	return nil
}

func (server *Server) handleUpdatePost(contextGin *gin.Context) {
	var input apiclient.PostInput
	if !server.bindJSON(contextGin, &input) {
		return
	}
	if server.rejectInvalid(contextGin, input.ValidatePatch()) {
		return
	}
	server.data.mutex.Lock()
	defer server.data.mutex.Unlock()
	record := server.ownedPost(contextGin, false)
	if record == nil {
		server.abortNotFound(contextGin)
		return
	}
	if input.SectionID != nil {
		if server.data.sections[*input.SectionID] == nil {
			server.abortWithFields(contextGin, map[string][]string{"section_id": {"Invalid pk - object does not exist."}})
			return
		}
		record.SectionID = *input.SectionID
	}
	if input.Title != nil {
		record.Title = *input.Title
	}
	if input.Type != nil {
		record.Type = *input.Type
	}
	if input.Description != nil {
		record.Description = *input.Description
	}
	if input.IsPublic != nil {
		record.IsPublic = *input.IsPublic
	}
	if input.Calories != nil {
		record.Calories = input.Calories
	}
	if input.Recommendations != nil {
		record.Recommendations = *input.Recommendations
	}
	record.UpdatedAt = server.now()
	contextGin.JSON(http.StatusOK, server.data.projectPost(record))
}

func (server *Server) handleDeletePost(contextGin *gin.Context) {
	server.data.mutex.Lock()
	defer server.data.mutex.Unlock()
	record := server.ownedPost(contextGin, true)
	if record == nil {
		server.abortNotFound(contextGin)
		return
	}
	server.data.deletePost(record.ID)
	contextGin.Status(http.StatusNoContent)
}

func (server *Server) handlePublishPost(contextGin *gin.Context) {
	server.data.mutex.Lock()
	defer server.data.mutex.Unlock()
	record := server.ownedPost(contextGin, false)
	if record == nil {
		server.abortWithPayload(contextGin, http.StatusNotFound, gin.H{"error": "Post not found"})
		return
	}
	record.IsPublic = true
	record.UpdatedAt = server.now()
	contextGin.JSON(http.StatusOK, server.data.projectPost(record))
}

func (server *Server) handleApprovePost(contextGin *gin.Context) {
	postID, ok := pathID(contextGin)
	server.data.mutex.Lock()
	defer server.data.mutex.Unlock()
	record := server.data.posts[postID]
	if !ok || record == nil {
		server.abortWithPayload(contextGin, http.StatusNotFound, gin.H{"error": "Post not found"})
		return
	}
	record.IsApproved = true
	record.UpdatedAt = server.now()
	server.logger.Info("post approved", zap.String("code", "sandbox.post.approved"), zap.Int64("post_id", postID))
	contextGin.JSON(http.StatusOK, server.data.projectPost(record))
}

func (server *Server) handleComments(contextGin *gin.Context) {
	postID, ok := pathID(contextGin)
	if !ok {
		server.abortNotFound(contextGin)
		return
	}
	server.data.mutex.RLock()
	defer server.data.mutex.RUnlock()
	contextGin.JSON(http.StatusOK, server.data.commentsOf(postID))
}

func (server *Server) handleCreateComment(contextGin *gin.Context) {
	var inbound struct {
		Text string `json:"text"`
	}
	if !server.bindJSON(contextGin, &inbound) {
		return
	}
	if server.rejectInvalid(contextGin, apiclient.ValidateComment(inbound.Text)) {
		return
	}
	postID, ok := pathID(contextGin)
	accountID, _ := currentAccountID(contextGin)
	server.data.mutex.Lock()
	defer server.data.mutex.Unlock()
	if !ok || server.data.posts[postID] == nil {
		server.abortNotFound(contextGin)
		return
	}
	commentID := server.data.allocateID("comment")
	record := &comment{ID: commentID, PostID: postID, UserID: accountID, Text: inbound.Text, CreatedAt: server.now()}
	server.data.comments[commentID] = record
	contextGin.JSON(http.StatusCreated, server.data.projectComment(record))
}

func (server *Server) handleUpdateComment(contextGin *gin.Context) {
	var inbound struct {
		Text string `json:"text"`
	}
	if !server.bindJSON(contextGin, &inbound) {
		return
	}
	if server.rejectInvalid(contextGin, apiclient.ValidateComment(inbound.Text)) {
		return
	}
	commentID, ok := pathID(contextGin)
	accountID, _ := currentAccountID(contextGin)
	server.data.mutex.Lock()
	defer server.data.mutex.Unlock()
	record := server.data.comments[commentID]
	if !ok || record == nil || record.UserID != accountID {
		server.abortNotFound(contextGin)
		return
	}
	record.Text = inbound.Text
	contextGin.JSON(http.StatusOK, server.data.projectComment(record))
}

func (server *Server) handleDeleteComment(contextGin *gin.Context) {
	commentID, ok := pathID(contextGin)
	accountID, _ := currentAccountID(contextGin)
	server.data.mutex.Lock()
	defer server.data.mutex.Unlock()
	record := server.data.comments[commentID]
	caller := server.data.accounts[accountID]
	if !ok || record == nil || (record.UserID != accountID && (caller == nil || !caller.IsStaff)) {
		server.abortNotFound(contextGin)
		return
	}
	delete(server.data.comments, commentID)
	contextGin.Status(http.StatusNoContent)
}

func (server *Server) handleRatings(contextGin *gin.Context) {
	postID, ok := pathID(contextGin)
	if !ok {
		server.abortNotFound(contextGin)
		return
	}
	server.data.mutex.RLock()
	defer server.data.mutex.RUnlock()
	contextGin.JSON(http.StatusOK, server.data.ratingsOf(postID))
}

func (server *Server) handleCreateRating(contextGin *gin.Context) {
	var inbound struct {
		Rating int `json:"rating"`
	}
	if !server.bindJSON(contextGin, &inbound) {
		return
	}
	if server.rejectInvalid(contextGin, apiclient.ValidateRating(inbound.Rating)) {
		return
	}
	postID, ok := pathID(contextGin)
	accountID, _ := currentAccountID(contextGin)
	server.data.mutex.Lock()
	defer server.data.mutex.Unlock()
	if !ok || server.data.posts[postID] == nil {
		server.abortNotFound(contextGin)
		return
	}
	if existing := server.data.ratingBy(postID, accountID); existing != nil {
		existing.Value = inbound.Rating
		contextGin.JSON(http.StatusOK, server.data.projectRating(existing))
		return
	}
	ratingID := server.data.allocateID("rating")
	record := &rating{ID: ratingID, PostID: postID, UserID: accountID, Value: inbound.Rating, CreatedAt: server.now()}
	server.data.ratings[ratingID] = record
	contextGin.JSON(http.StatusCreated, server.data.projectRating(record))
}
