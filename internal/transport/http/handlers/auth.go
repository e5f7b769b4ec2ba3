package handlers

import (
	"context"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AdithyaSrivastava01/Somnium/internal/core/domain"
	"github.com/AdithyaSrivastava01/Somnium/internal/transport/http/middleware"
	"github.com/AdithyaSrivastava01/Somnium/internal/usecase"
)

// RefreshTokenCookie holds the refresh token for browser clients.
const RefreshTokenCookie = "refresh_token"

// AuthService is the slice of usecase.AuthService the HTTP adapter drives.
type AuthService interface {
	middleware.Authenticator
	Login(ctx context.Context, in usecase.LoginInput) (*usecase.LoginResult, error)
	CreateUser(ctx context.Context, in usecase.CreateUserInput) (*domain.User, error)
	RefreshAccessToken(ctx context.Context, in usecase.RefreshInput) (*usecase.TokenPair, error)
	Logout(ctx context.Context, in usecase.LogoutInput) error
	ChangePassword(ctx context.Context, in usecase.ChangePasswordInput) error
}

// AuthHandler exposes authentication endpoints. Tokens travel in httpOnly
// cookies; response bodies only describe the user.
type AuthHandler struct {
	auth         AuthService
	secureCookie bool
	now          func() time.Time
}

// AuthHandlerOption configures optional AuthHandler behaviour.
type AuthHandlerOption func(*AuthHandler)

// WithInsecureCookies drops the Secure attribute so cookies work over plain
// HTTP in development.
func WithInsecureCookies(insecure bool) AuthHandlerOption {
	return func(h *AuthHandler) {
		h.secureCookie = !insecure
	}
}

// NewAuthHandler constructs AuthHandler.
func NewAuthHandler(auth AuthService, opts ...AuthHandlerOption) *AuthHandler {
	handler := &AuthHandler{auth: auth, secureCookie: true, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(handler)
		}
	}
	return handler
}

// AuthRateLimits holds the per-endpoint limiter middleware.
type AuthRateLimits struct {
	Login    gin.HandlerFunc
	Register gin.HandlerFunc
	Refresh  gin.HandlerFunc
}

// RegisterRoutes binds authentication routes, applying rate limits ahead of handlers.
func (h *AuthHandler) RegisterRoutes(r *gin.RouterGroup, limits AuthRateLimits) {
	requireAuth := middleware.RequireAuth(h.auth)

	r.POST("/login", withLimit(limits.Login, h.login)...)
	r.POST("/register", withLimit(limits.Register, h.register)...)
	r.POST("/refresh", withLimit(limits.Refresh, h.refresh)...)
	r.POST("/logout", requireAuth, h.logout)
	r.GET("/me", requireAuth, h.me)
	r.POST("/password/change", requireAuth, h.changePassword)
}

func withLimit(limit gin.HandlerFunc, handler gin.HandlerFunc) []gin.HandlerFunc {
	if limit == nil {
		return []gin.HandlerFunc{handler}
	}
	return []gin.HandlerFunc{limit, handler}
}

// Login godoc
// @Summary Authenticate with email, password and role
// @Description Verifies the credentials and the claimed role, then sets httpOnly access and refresh token cookies.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login request"
// @Success 200 {object} UserResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse "Invalid credentials"
// @Failure 403 {object} ErrorResponse "Role mismatch"
// @Failure 423 {object} ErrorResponse "Account locked"
// @Failure 429 {object} ErrorResponse "Rate limit exceeded"
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/auth/login [post]
func (h *AuthHandler) login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, "invalid login payload")
		return
	}
	role, ok := domain.ParseRole(req.Role)
	if !ok {
		respondValidation(c, "unknown role")
		return
	}

	meta := middleware.Metadata(c)
	result, err := h.auth.Login(c.Request.Context(), usecase.LoginInput{
		Email:     req.Email,
		Password:  req.Password,
		Role:      role,
		Remember:  req.RememberMe,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
	})
	if err != nil {
		RespondWithError(c, err)
		return
	}

	h.setTokenCookies(c, result.Tokens, req.RememberMe)
	c.JSON(http.StatusOK, newUserResponse(result.User))
}

// Register godoc
// @Summary Register a new clinical account
// @Description Creates the account and signs it in with session cookies.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body RegisterRequest true "Registration request"
// @Success 201 {object} UserResponse
// @Failure 400 {object} ErrorResponse "Validation error, weak password or email already registered"
// @Failure 429 {object} ErrorResponse "Rate limit exceeded"
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/auth/register [post]
func (h *AuthHandler) register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, "invalid registration payload")
		return
	}
	role, ok := domain.ParseRole(req.Role)
	if !ok {
		respondValidation(c, "unknown role")
		return
	}

	meta := middleware.Metadata(c)
	ctx := c.Request.Context()

	if _, err := h.auth.CreateUser(ctx, usecase.CreateUserInput{
		Email:      req.Email,
		Password:   req.Password,
		FullName:   req.FullName,
		Role:       role,
		HospitalID: req.HospitalID,
		Department: req.Department,
		IP:         meta.IP,
		UserAgent:  meta.UserAgent,
	}); err != nil {
		RespondWithError(c, err)
		return
	}

	result, err := h.auth.Login(ctx, usecase.LoginInput{
		Email:     req.Email,
		Password:  req.Password,
		Role:      role,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
	})
	if err != nil {
		RespondWithError(c, err)
		return
	}

	h.setTokenCookies(c, result.Tokens, false)
	c.JSON(http.StatusCreated, newUserResponse(result.User))
}

// Refresh godoc
// @Summary Rotate the refresh token
// @Description Exchanges the refresh token (cookie or body) for a new token pair. Presenting a rotated token revokes every session of the user.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body RefreshRequest false "Refresh request for non-browser clients"
// @Success 200 {object} MessageResponse
// @Failure 401 {object} ErrorResponse
// @Failure 429 {object} ErrorResponse "Rate limit exceeded"
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/auth/refresh [post]
func (h *AuthHandler) refresh(c *gin.Context) {
	token := refreshTokenFrom(c)
	if token == "" {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, string(usecase.CodeInvalidRefreshToken), "Refresh token not found"))
		return
	}

	meta := middleware.Metadata(c)
	pair, err := h.auth.RefreshAccessToken(c.Request.Context(), usecase.RefreshInput{
		RefreshToken: token,
		IP:           meta.IP,
		UserAgent:    meta.UserAgent,
	})
	if err != nil {
		if code := usecase.CodeOf(err); code == usecase.CodeTokenReuse || code == usecase.CodePasswordChanged {
			h.clearTokenCookies(c)
		}
		RespondWithError(c, err)
		return
	}

	h.setTokenCookies(c, *pair, true)
	c.JSON(http.StatusOK, MessageResponse{Message: "Token refreshed successfully"})
}

// Logout godoc
// @Summary Logout the current session
// @Description Revokes the refresh token cookie, if any, and clears both token cookies.
// @Tags Authentication
// @Produce json
// @Security BearerAuth
// @Success 200 {object} LogoutResponse
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/auth/logout [post]
func (h *AuthHandler) logout(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)
	meta := middleware.Metadata(c)

	if err := h.auth.Logout(c.Request.Context(), usecase.LogoutInput{
		RefreshToken: refreshTokenFrom(c),
		IP:           meta.IP,
		UserAgent:    meta.UserAgent,
	}); err != nil {
		RespondWithError(c, err)
		return
	}

	h.clearTokenCookies(c)
	c.JSON(http.StatusOK, LogoutResponse{Message: "Logged out successfully", UserID: user.ID})
}

// Me godoc
// @Summary Current user
// @Tags Authentication
// @Produce json
// @Security BearerAuth
// @Success 200 {object} UserResponse
// @Failure 401 {object} ErrorResponse
// @Router /api/v1/auth/me [get]
func (h *AuthHandler) me(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)
	c.JSON(http.StatusOK, newUserResponse(*user))
}

// ChangePassword godoc
// @Summary Change the current user's password
// @Description Replaces the password and signs out every session of the user.
// @Tags Authentication
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body ChangePasswordRequest true "Password change"
// @Success 200 {object} MessageResponse
// @Failure 400 {object} ErrorResponse "Current password invalid or weak new password"
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/auth/password/change [post]
func (h *AuthHandler) changePassword(c *gin.Context) {
	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, "invalid password change payload")
		return
	}

	user, _ := middleware.CurrentUser(c)
	meta := middleware.Metadata(c)
	if err := h.auth.ChangePassword(c.Request.Context(), usecase.ChangePasswordInput{
		UserID:          user.ID,
		CurrentPassword: req.CurrentPassword,
		NewPassword:     req.NewPassword,
		IP:              meta.IP,
		UserAgent:       meta.UserAgent,
	}); err != nil {
		RespondWithError(c, err)
		return
	}

	h.clearTokenCookies(c)
	c.JSON(http.StatusOK, MessageResponse{Message: "Password changed. Please sign in again"})
}

func refreshTokenFrom(c *gin.Context) string {
	if cookie, err := c.Cookie(RefreshTokenCookie); err == nil && strings.TrimSpace(cookie) != "" {
		return strings.TrimSpace(cookie)
	}
	if c.Request.ContentLength == 0 {
		return ""
	}
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return ""
	}
	return strings.TrimSpace(req.RefreshToken)
}

// setTokenCookies writes both token cookies. Non-persistent cookies end with
// the browser session.
func (h *AuthHandler) setTokenCookies(c *gin.Context, pair usecase.TokenPair, persistent bool) {
	accessAge, refreshAge := 0, 0
	if persistent {
		now := h.now()
		accessAge = secondsUntil(pair.AccessExpiresAt, now)
		refreshAge = secondsUntil(pair.RefreshExpiresAt, now)
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.AccessTokenCookie, pair.AccessToken, accessAge, "/", "", h.secureCookie, true)
	c.SetCookie(RefreshTokenCookie, pair.RefreshToken, refreshAge, "/", "", h.secureCookie, true)
}

func (h *AuthHandler) clearTokenCookies(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.AccessTokenCookie, "", -1, "/", "", h.secureCookie, true)
	c.SetCookie(RefreshTokenCookie, "", -1, "/", "", h.secureCookie, true)
}

func secondsUntil(t, now time.Time) int {
	seconds := int(math.Ceil(t.Sub(now).Seconds()))
	if seconds < 1 {
		// A zero Max-Age would turn the cookie into a session cookie.
		return -1
	}
	return seconds
}
