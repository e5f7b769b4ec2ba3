package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AdithyaSrivastava01/Somnium/internal/core/domain"
	"github.com/AdithyaSrivastava01/Somnium/internal/transport/http/middleware"
)

// ErrorResponse is the error envelope shared with the middleware package.
type ErrorResponse = middleware.ErrorResponse

// NewErrorResponse creates an error response carrying the request id.
func NewErrorResponse(c *gin.Context, code, message string) ErrorResponse {
	return ErrorResponse{
		Error:     message,
		ErrorCode: code,
		RequestID: middleware.GetRequestID(c),
	}
}

// MessageResponse represents a simple message payload.
type MessageResponse struct {
	Message string `json:"message"`
}

// LogoutResponse acknowledges a logout.
type LogoutResponse struct {
	Message string `json:"message"`
	UserID  string `json:"user_id"`
}

// UserResponse is the public view of an account. Credential material and
// lockout counters never leave the service.
type UserResponse struct {
	ID         string      `json:"id"`
	Email      string      `json:"email"`
	FullName   string      `json:"full_name"`
	Role       domain.Role `json:"role"`
	HospitalID *string     `json:"hospital_id"`
	Department *string     `json:"department"`
	IsActive   bool        `json:"is_active"`
	CreatedAt  time.Time   `json:"created_at"`
	LastLogin  *time.Time  `json:"last_login"`
}

func newUserResponse(user domain.User) UserResponse {
	return UserResponse{
		ID:         user.ID,
		Email:      user.Email,
		FullName:   user.FullName,
		Role:       user.Role,
		HospitalID: user.HospitalID,
		Department: user.Department,
		IsActive:   user.IsActive,
		CreatedAt:  user.CreatedAt,
		LastLogin:  user.LastLogin,
	}
}

// LoginRequest defines the payload for the login endpoint.
type LoginRequest struct {
	Email      string `json:"email" binding:"required,email"`
	Password   string `json:"password" binding:"required,min=6"`
	Role       string `json:"role" binding:"required"`
	RememberMe bool   `json:"remember_me"`
}

// RegisterRequest defines the account registration payload.
type RegisterRequest struct {
	Email      string  `json:"email" binding:"required,email"`
	Password   string  `json:"password" binding:"required,min=6"`
	FullName   string  `json:"full_name" binding:"required,min=2"`
	Role       string  `json:"role" binding:"required"`
	HospitalID *string `json:"hospital_id" binding:"omitempty,uuid"`
	Department *string `json:"department"`
}

// RefreshRequest is optional: browsers send the refresh token as a cookie.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// ChangePasswordRequest carries a password change for the current user.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required"`
}

// HealthResponse contains the health status payload.
type HealthResponse struct {
	Status    string            `json:"status"`
	StartedAt time.Time         `json:"started_at"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// JWKSResponse documents the JSON Web Key Set payload.
type JWKSResponse struct {
	Keys []map[string]string `json:"keys"`
}
