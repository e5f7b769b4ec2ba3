package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AdithyaSrivastava01/Somnium/internal/core/domain"
	"github.com/AdithyaSrivastava01/Somnium/internal/usecase"
)

const (
	currentUserKey = "current_user"
	// AccessTokenCookie is read when no Authorization header is sent.
	AccessTokenCookie = "access_token"
)

// ErrorResponse matches the handlers.ErrorResponse structure
type ErrorResponse struct {
	Error     string `json:"error"`
	ErrorCode string `json:"error_code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// Authenticator resolves the user behind an access token.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (*domain.User, error)
}

// RequireAuth authenticates the bearer token (or access_token cookie) and
// stores the user on the context.
func RequireAuth(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			abortWithError(c, http.StatusUnauthorized, usecase.CodeInvalidAccessToken, "Not authenticated")
			return
		}

		user, err := auth.Authenticate(c.Request.Context(), token)
		if err != nil {
			if authErr, ok := usecase.AsAuthError(err); ok {
				abortWithError(c, authErr.HTTPStatus(), authErr.Code(), authErr.Error())
				return
			}
			_ = c.Error(err)
			abortWithError(c, http.StatusInternalServerError, "", "authentication failed")
			return
		}

		c.Set(currentUserKey, user)
		Metadata(c).UserID = user.ID

		c.Next()
	}
}

// RequireRole rejects authenticated users holding none of roles.
// It must run after RequireAuth.
func RequireRole(roles ...domain.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, _ := CurrentUser(c)
		if err := usecase.RequireRole(user, roles...); err != nil {
			authErr, _ := usecase.AsAuthError(err)
			abortWithError(c, authErr.HTTPStatus(), authErr.Code(), authErr.Error())
			return
		}
		c.Next()
	}
}

// CurrentUser returns the user stored by RequireAuth.
func CurrentUser(c *gin.Context) (*domain.User, bool) {
	value, exists := c.Get(currentUserKey)
	if !exists {
		return nil, false
	}
	user, ok := value.(*domain.User)
	return user, ok && user != nil
}

func bearerToken(c *gin.Context) (string, bool) {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if header != "" {
		scheme, token, found := strings.Cut(header, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") {
			return "", false
		}
		token = strings.TrimSpace(token)
		return token, token != ""
	}

	if cookie, err := c.Cookie(AccessTokenCookie); err == nil && cookie != "" {
		return cookie, true
	}
	return "", false
}

func abortWithError(c *gin.Context, status int, code usecase.ErrorCode, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		Error:     message,
		ErrorCode: string(code),
		RequestID: GetRequestID(c),
	})
}
