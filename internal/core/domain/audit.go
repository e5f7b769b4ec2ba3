package domain

import "time"

// AuditStatus is the outcome recorded on an audit entry.
type AuditStatus string

const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusFailure AuditStatus = "failure"
	AuditStatusAlert   AuditStatus = "alert"
)

// Audit actions.
const (
	AuditActionAuthenticate  = "authenticate"
	AuditActionSecurityEvent = "security_event"
	AuditActionCreate        = "create"
	AuditActionUpdate        = "update"
)

// Audit event types emitted by the authentication core.
const (
	EventLoginSuccess         = "login_success"
	EventLoginFailed          = "login_failed"
	EventLoginBlocked         = "login_blocked"
	EventAccountLocked        = "account_locked"
	EventTokenRefreshed       = "token_refreshed"
	EventTokenRefreshFailed   = "token_refresh_failed"
	EventTokenReuseDetected   = "token_reuse_detected"
	EventLogout               = "logout"
	EventRegistrationSuccess  = "registration_success"
	EventRegistrationFailed   = "registration_failed"
	EventPasswordChanged      = "password_changed"
	EventPasswordChangeFailed = "password_change_failed"
)

// AuditLog is an append-only security event.
type AuditLog struct {
	ID           string
	Timestamp    time.Time
	UserID       *string
	EventType    string
	ResourceType *string
	ResourceID   *string
	Action       string
	Status       AuditStatus
	IPAddress    string
	UserAgent    *string
	Details      map[string]any
}
