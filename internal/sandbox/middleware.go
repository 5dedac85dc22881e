package sandbox

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const accountIDContextKey = "sandbox_account_id"

// authenticate resolves a bearer token when one is sent. Requests without
// an Authorization header continue anonymously; a bad token is rejected
// even on public routes.
func (server *Server) authenticate() gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		header := contextGin.GetHeader("Authorization")
		if header == "" {
			contextGin.Next()
			return
		}
		tokenString, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(tokenString) == "" {
			server.abortWithDetail(contextGin, http.StatusUnauthorized, "Authorization header must contain two space-delimited values")
			return
		}
		claims, err := parseAccessToken(strings.TrimSpace(tokenString), server.configuration.Issuer, server.configuration.SigningKey, server.now())
		if err != nil {
			server.logger.Debug("access token rejected",
				zap.String("code", "sandbox.auth.invalid_token"),
				zap.Error(err))
			server.abortWithDetail(contextGin, http.StatusUnauthorized, "Given token not valid for any token type")
			return
		}

		server.data.mutex.RLock()
		user := server.data.accounts[claims.UserID]
		active := user != nil && user.IsActive
		server.data.mutex.RUnlock()
		if user == nil {
			server.abortWithDetail(contextGin, http.StatusUnauthorized, "User not found")
			return
		}
		if !active {
			server.abortWithDetail(contextGin, http.StatusUnauthorized, "User is inactive")
			return
		}
		contextGin.Set(accountIDContextKey, claims.UserID)
		contextGin.Next()
	}
}

// requireUser rejects anonymous requests.
func (server *Server) requireUser() gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		if _, ok := currentAccountID(contextGin); !ok {
			server.abortWithDetail(contextGin, http.StatusUnauthorized, "Authentication credentials were not provided.")
			return
		}
		contextGin.Next()
	}
}

// requireAdmin rejects anonymous and non-staff requests.
func (server *Server) requireAdmin() gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		accountID, ok := currentAccountID(contextGin)
		if !ok {
			server.abortWithDetail(contextGin, http.StatusUnauthorized, "Authentication credentials were not provided.")
			return
		}
		server.data.mutex.RLock()
		user := server.data.accounts[accountID]
		isStaff := user != nil && user.IsStaff
		server.data.mutex.RUnlock()
		if !isStaff {
			server.abortWithDetail(contextGin, http.StatusForbidden, "You do not have permission to perform this action.")
			return
		}
		contextGin.Next()
	}
}

func currentAccountID(contextGin *gin.Context) (int64, bool) {
	value, found := contextGin.Get(accountIDContextKey)
	if !found {
		return 0, false
	}
	accountID, ok := value.(int64)
	return accountID, ok && accountID > 0
}

var statusMessages = map[int]string{
	http.StatusBadRequest:          "Bad request - invalid data provided",
	http.StatusUnauthorized:        "Authentication required",
	http.StatusForbidden:           "Permission denied",
	http.StatusNotFound:            "Resource not found",
	http.StatusUnprocessableEntity: "Validation error",
	http.StatusInternalServerError: "Internal server error",
}

func (server *Server) abortWithPayload(contextGin *gin.Context, status int, payload any) {
	if server.configuration.WrapErrors {
		message, ok := statusMessages[status]
		if !ok {
			message = "An error occurred"
		}
		contextGin.AbortWithStatusJSON(status, gin.H{"error": true, "message": message, "details": payload})
		return
	}
	contextGin.AbortWithStatusJSON(status, payload)
}

func (server *Server) abortWithDetail(contextGin *gin.Context, status int, detail string) {
	server.abortWithPayload(contextGin, status, gin.H{"detail": detail})
}

func (server *Server) abortWithFields(contextGin *gin.Context, fields map[string][]string) {
	server.abortWithPayload(contextGin, http.StatusBadRequest, fields)
}

func (server *Server) abortNotFound(contextGin *gin.Context) {
	server.abortWithDetail(contextGin, http.StatusNotFound, "Not found.")
}
