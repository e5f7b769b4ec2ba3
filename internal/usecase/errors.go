package usecase

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/AdithyaSrivastava01/Somnium/internal/core/domain"
)

// ErrorCode is the stable machine-readable identifier of an authentication failure.
type ErrorCode string

const (
	CodeInvalidCredentials     ErrorCode = "INVALID_CREDENTIALS"
	CodeAccountLocked          ErrorCode = "ACCOUNT_LOCKED"
	CodeRoleMismatch           ErrorCode = "ROLE_MISMATCH"
	CodeEmailExists            ErrorCode = "EMAIL_EXISTS"
	CodeInvalidTokenType       ErrorCode = "INVALID_TOKEN_TYPE"
	CodeTokenReuse             ErrorCode = "TOKEN_REUSE"
	CodeTokenExpired           ErrorCode = "TOKEN_EXPIRED"
	CodeUserNotFound           ErrorCode = "USER_NOT_FOUND"
	CodePasswordChanged        ErrorCode = "PASSWORD_CHANGED"
	CodeInvalidRefreshToken    ErrorCode = "INVALID_REFRESH_TOKEN"
	CodeInvalidAccessToken     ErrorCode = "INVALID_ACCESS_TOKEN"
	CodeInsufficientRole       ErrorCode = "INSUFFICIENT_ROLE"
	CodeCurrentPasswordInvalid ErrorCode = "CURRENT_PASSWORD_INVALID"
	CodeWeakPassword           ErrorCode = "WEAK_PASSWORD"
)

var (
	// ErrInvalidCredentials covers both unknown accounts and wrong passwords.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked indicates the lockout window has not elapsed.
	ErrAccountLocked = errors.New("account locked")
	// ErrRoleMismatch indicates the claimed role differs from the account role.
	ErrRoleMismatch = errors.New("role mismatch")
	// ErrEmailExists indicates the email is already registered.
	ErrEmailExists = errors.New("email already registered")
	// ErrInvalidTokenType indicates an access token was presented where a refresh token is required, or vice versa.
	ErrInvalidTokenType = errors.New("invalid token type")
	// ErrTokenReuse indicates a rotated or unknown refresh token was presented.
	ErrTokenReuse = errors.New("refresh token reuse detected")
	// ErrTokenExpired indicates the stored refresh token has expired.
	ErrTokenExpired = errors.New("refresh token expired")
	// ErrUserNotFound indicates the token subject no longer exists or is inactive.
	ErrUserNotFound = errors.New("user not found or inactive")
	// ErrPasswordChanged indicates the token predates the account's current password.
	ErrPasswordChanged = errors.New("token invalid after password change")
	// ErrInvalidRefreshToken indicates the refresh token could not be decoded or verified.
	ErrInvalidRefreshToken = errors.New("invalid or expired refresh token")
	// ErrInvalidAccessToken indicates the access token could not be decoded or verified.
	ErrInvalidAccessToken = errors.New("invalid or expired access token")
	// ErrInsufficientRole indicates the caller's role is not allowed for the operation.
	ErrInsufficientRole = errors.New("insufficient role")
	// ErrCurrentPasswordInvalid indicates the current password supplied to a change request is wrong.
	ErrCurrentPasswordInvalid = errors.New("current password invalid")
	// ErrWeakPassword indicates the new password violates the password policy.
	ErrWeakPassword = errors.New("password does not meet complexity requirements")
)

var codeSentinels = map[ErrorCode]error{
	CodeInvalidCredentials:     ErrInvalidCredentials,
	CodeAccountLocked:          ErrAccountLocked,
	CodeRoleMismatch:           ErrRoleMismatch,
	CodeEmailExists:            ErrEmailExists,
	CodeInvalidTokenType:       ErrInvalidTokenType,
	CodeTokenReuse:             ErrTokenReuse,
	CodeTokenExpired:           ErrTokenExpired,
	CodeUserNotFound:           ErrUserNotFound,
	CodePasswordChanged:        ErrPasswordChanged,
	CodeInvalidRefreshToken:    ErrInvalidRefreshToken,
	CodeInvalidAccessToken:     ErrInvalidAccessToken,
	CodeInsufficientRole:       ErrInsufficientRole,
	CodeCurrentPasswordInvalid: ErrCurrentPasswordInvalid,
	CodeWeakPassword:           ErrWeakPassword,
}

// AuthError is the typed failure returned by AuthService. errors.Is matches both
// the code's sentinel and the wrapped cause, if any.
type AuthError struct {
	code  ErrorCode
	cause error

	// MinutesRemaining is set for ACCOUNT_LOCKED.
	MinutesRemaining int
	// Expected and Actual are set for ROLE_MISMATCH.
	Expected domain.Role
	Actual   domain.Role
}

func newAuthError(code ErrorCode, cause error) *AuthError {
	return &AuthError{code: code, cause: cause}
}

// Code returns the machine-readable failure code.
func (e *AuthError) Code() ErrorCode {
	return e.code
}

// HTTPStatus maps the failure onto the status code the transport layer responds with.
func (e *AuthError) HTTPStatus() int {
	switch e.code {
	case CodeAccountLocked:
		return http.StatusLocked
	case CodeRoleMismatch, CodeInsufficientRole:
		return http.StatusForbidden
	case CodeEmailExists, CodeCurrentPasswordInvalid, CodeWeakPassword:
		return http.StatusBadRequest
	default:
		return http.StatusUnauthorized
	}
}

// Error returns the caller-facing message. Unknown accounts and wrong passwords
// share one message.
func (e *AuthError) Error() string {
	switch e.code {
	case CodeInvalidCredentials:
		return "Invalid credentials"
	case CodeAccountLocked:
		return fmt.Sprintf("Account locked. Try again in %d minutes", e.MinutesRemaining)
	case CodeRoleMismatch:
		return fmt.Sprintf("Role mismatch. This account is %s, not %s", e.Actual, e.Expected)
	case CodeEmailExists:
		return "Email already registered"
	case CodeInvalidTokenType:
		return "Invalid token type"
	case CodeTokenReuse:
		return "Token reuse detected - all sessions invalidated"
	case CodeTokenExpired:
		return "Refresh token expired"
	case CodeUserNotFound:
		return "User not found or inactive"
	case CodePasswordChanged:
		return "Token invalid - password changed"
	case CodeInvalidRefreshToken:
		return "Invalid or expired refresh token"
	case CodeInvalidAccessToken:
		return "Could not validate credentials"
	case CodeInsufficientRole:
		return "Insufficient permissions"
	case CodeCurrentPasswordInvalid:
		return "Current password is incorrect"
	case CodeWeakPassword:
		if e.cause != nil {
			return e.cause.Error()
		}
		return "Password does not meet complexity requirements"
	default:
		return string(e.code)
	}
}

// Unwrap exposes the code sentinel and the underlying cause.
func (e *AuthError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if sentinel, ok := codeSentinels[e.code]; ok {
		errs = append(errs, sentinel)
	}
	if e.cause != nil {
		errs = append(errs, e.cause)
	}
	return errs
}

// AsAuthError extracts an *AuthError from err.
func AsAuthError(err error) (*AuthError, bool) {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr, true
	}
	return nil, false
}

// CodeOf returns the failure code of err, or "" when err is not an AuthError.
func CodeOf(err error) ErrorCode {
	if authErr, ok := AsAuthError(err); ok {
		return authErr.Code()
	}
	return ""
}
