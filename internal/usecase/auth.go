package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/AdithyaSrivastava01/Somnium/internal/core/domain"
	"github.com/AdithyaSrivastava01/Somnium/internal/core/port"
	"github.com/AdithyaSrivastava01/Somnium/internal/infra/config"
	"github.com/AdithyaSrivastava01/Somnium/internal/infra/logger"
	"github.com/AdithyaSrivastava01/Somnium/internal/infra/security"
	"github.com/AdithyaSrivastava01/Somnium/internal/repository"
)

const (
	defaultAccessTokenTTL          = 60 * time.Minute
	defaultRefreshTokenTTL         = 7 * 24 * time.Hour
	defaultRememberRefreshTokenTTL = 30 * 24 * time.Hour

	outcomeSuccess = "success"
)

// ErrInvalidInput indicates a request was missing required fields.
var ErrInvalidInput = errors.New("invalid input")

// AuthConfig holds the token lifetimes and lockout policy used by AuthService.
type AuthConfig struct {
	AccessTokenTTL          time.Duration
	RefreshTokenTTL         time.Duration
	RememberRefreshTokenTTL time.Duration
	Lockout                 domain.LockoutPolicy
}

// AuthConfigFromSettings derives AuthConfig from the application configuration.
func AuthConfigFromSettings(cfg *config.AppConfig) AuthConfig {
	if cfg == nil {
		return AuthConfig{}.withDefaults()
	}
	return AuthConfig{
		AccessTokenTTL:          cfg.JWT.AccessTokenTTL,
		RefreshTokenTTL:         cfg.JWT.RefreshTokenTTL,
		RememberRefreshTokenTTL: cfg.JWT.RememberRefreshTokenTTL,
		Lockout:                 domain.NewLockoutPolicy(cfg.Lockout.MaxAttempts, cfg.Lockout.Duration),
	}.withDefaults()
}

func (c AuthConfig) withDefaults() AuthConfig {
	if c.AccessTokenTTL <= 0 {
		c.AccessTokenTTL = defaultAccessTokenTTL
	}
	if c.RefreshTokenTTL <= 0 {
		c.RefreshTokenTTL = defaultRefreshTokenTTL
	}
	if c.RememberRefreshTokenTTL <= 0 {
		c.RememberRefreshTokenTTL = defaultRememberRefreshTokenTTL
	}
	c.Lockout = domain.NewLockoutPolicy(c.Lockout.Threshold, c.Lockout.Duration)
	return c
}

// AuthDependencies are the collaborators AuthService orchestrates.
type AuthDependencies struct {
	Users         port.UserRepository
	RefreshTokens port.RefreshTokenStore
	Transactor    port.Transactor
	Hasher        port.PasswordHasher
	Codec         port.TokenCodec
	Validator     port.PasswordStrengthValidator
	Audit         *AuditService
	Metrics       port.AuthMetrics
	Logger        *zap.Logger
}

// AuthService coordinates login, registration, logout and refresh-token rotation.
type AuthService struct {
	cfg       AuthConfig
	users     port.UserRepository
	tokens    port.RefreshTokenStore
	tx        port.Transactor
	hasher    port.PasswordHasher
	codec     port.TokenCodec
	validator port.PasswordStrengthValidator
	audit     *AuditService
	metrics   port.AuthMetrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(cfg AuthConfig, deps AuthDependencies) (*AuthService, error) {
	switch {
	case deps.Users == nil:
		return nil, fmt.Errorf("user repository is required")
	case deps.RefreshTokens == nil:
		return nil, fmt.Errorf("refresh token store is required")
	case deps.Transactor == nil:
		return nil, fmt.Errorf("transactor is required")
	case deps.Hasher == nil:
		return nil, fmt.Errorf("password hasher is required")
	case deps.Codec == nil:
		return nil, fmt.Errorf("token codec is required")
	}

	if deps.Validator == nil {
		deps.Validator = security.DefaultPasswordValidator()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Audit == nil {
		deps.Audit = NewAuditService(deps.Logger, deps.Metrics)
	}
	if deps.Metrics == nil {
		deps.Metrics = noopMetrics{}
	}

	return &AuthService{
		cfg:       cfg.withDefaults(),
		users:     deps.Users,
		tokens:    deps.RefreshTokens,
		tx:        deps.Transactor,
		hasher:    deps.Hasher,
		codec:     deps.Codec,
		validator: deps.Validator,
		audit:     deps.Audit,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// WithClock overrides the time source used for lockout and token decisions.
func (s *AuthService) WithClock(now func() time.Time) *AuthService {
	if now != nil {
		s.now = now
	}
	return s
}

// LoginInput carries the credentials and request provenance of a login attempt.
type LoginInput struct {
	Email     string
	Password  string
	Role      domain.Role
	Remember  bool
	IP        string
	UserAgent string
}

// TokenPair is a freshly minted access and refresh token.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// LoginResult is returned on successful authentication.
type LoginResult struct {
	User   domain.User
	Tokens TokenPair
}

// Login authenticates a user against email, password and claimed role.
// Every terminal failure is audited exactly once before it is returned.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	email := domain.NormalizeEmail(in.Email)
	ip := normalizeIP(in.IP)
	log := logger.FromContext(ctx, s.logger).With(zap.String("email", logger.MaskEmail(email)), zap.String("ip", logger.MaskIP(ip)))

	user, err := s.users.GetActiveByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.audit.LogAuthentication(ctx, AuditEvent{
				EventType: domain.EventLoginFailed,
				Status:    domain.AuditStatusFailure,
				IP:        ip,
				UserAgent: in.UserAgent,
				Details:   map[string]any{"reason": "user_not_found", "email": email},
			})
			return nil, s.loginFailed(newAuthError(CodeInvalidCredentials, nil))
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	now := s.now()
	if s.cfg.Lockout.IsLocked(user.Lockout(), now) {
		return nil, s.loginBlocked(ctx, user.ID, user.Lockout(), now, ip, in.UserAgent)
	}

	// Hashing is CPU bound and runs before any row lock is taken.
	ok, err := s.hasher.Verify(in.Password, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		log.Info("login rejected: invalid password")
		return nil, s.recordFailedPassword(ctx, user.ID, ip, in.UserAgent)
	}

	if user.Role != in.Role {
		s.audit.LogAuthentication(ctx, AuditEvent{
			EventType: domain.EventLoginFailed,
			UserID:    user.ID,
			Status:    domain.AuditStatusFailure,
			IP:        ip,
			UserAgent: in.UserAgent,
			Details: map[string]any{
				"reason":   "role_mismatch",
				"expected": string(in.Role),
				"actual":   string(user.Role),
			},
		})
		authErr := newAuthError(CodeRoleMismatch, nil)
		authErr.Expected = in.Role
		authErr.Actual = user.Role
		return nil, s.loginFailed(authErr)
	}

	refreshTTL := s.cfg.RefreshTokenTTL
	if in.Remember {
		refreshTTL = s.cfg.RememberRefreshTokenTTL
	}

	var upgradedHash string
	if rehasher, ok := s.hasher.(port.PasswordRehasher); ok && rehasher.NeedsRehash(user.PasswordHash) {
		if upgradedHash, err = s.hasher.Hash(in.Password); err != nil {
			log.Warn("password rehash skipped", zap.Error(err))
			upgradedHash = ""
		}
	}

	var (
		result   *LoginResult
		blocked  *domain.LockoutState
		vanished bool
	)
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context, repos port.TxRepositories) error {
		fresh, err := repos.Users.GetByIDForUpdate(ctx, user.ID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				vanished = true
				return errAbort
			}
			return fmt.Errorf("lock user: %w", err)
		}
		if !fresh.IsActive {
			vanished = true
			return errAbort
		}
		// A concurrent failed attempt may have locked the account since the first read.
		if state := fresh.Lockout(); s.cfg.Lockout.IsLocked(state, now) {
			blocked = &state
			return errAbort
		}

		state := s.cfg.Lockout.RecordSuccess(fresh.Lockout())
		if err := repos.Users.UpdateLockout(ctx, fresh.ID, state); err != nil {
			return err
		}
		if err := repos.Users.RecordLogin(ctx, fresh.ID, now, &ip); err != nil {
			return err
		}
		if upgradedHash != "" {
			if err := repos.Users.UpgradePasswordHash(ctx, fresh.ID, upgradedHash); err != nil {
				return err
			}
		}
		fresh.ApplyLockout(state)
		fresh.RecordLogin(now, ip)

		pair, err := s.issuePair(*fresh, refreshTTL, now)
		if err != nil {
			return err
		}
		if _, err := repos.RefreshTokens.Create(ctx, s.refreshRecord(fresh.ID, pair, now, ip, in.UserAgent)); err != nil {
			return err
		}

		result = &LoginResult{User: fresh.Sanitized(), Tokens: *pair}
		return nil
	})
	switch {
	case blocked != nil:
		return nil, s.loginBlocked(ctx, user.ID, *blocked, now, ip, in.UserAgent)
	case vanished:
		s.audit.LogAuthentication(ctx, AuditEvent{
			EventType: domain.EventLoginFailed,
			UserID:    user.ID,
			Status:    domain.AuditStatusFailure,
			IP:        ip,
			UserAgent: in.UserAgent,
			Details:   map[string]any{"reason": "user_not_found", "email": email},
		})
		return nil, s.loginFailed(newAuthError(CodeInvalidCredentials, nil))
	case err != nil:
		return nil, fmt.Errorf("complete login: %w", err)
	}

	s.audit.LogAuthentication(ctx, AuditEvent{
		EventType: domain.EventLoginSuccess,
		UserID:    user.ID,
		Status:    domain.AuditStatusSuccess,
		IP:        ip,
		UserAgent: in.UserAgent,
	})
	s.metrics.ObserveLogin(outcomeSuccess)
	log.Info("login succeeded", zap.String("user_id", user.ID), zap.Bool("remember", in.Remember))

	return result, nil
}

// recordFailedPassword applies the lockout state machine to the locked user row.
func (s *AuthService) recordFailedPassword(ctx context.Context, userID, ip, userAgent string) error {
	now := s.now()

	var (
		next      domain.LockoutState
		triggered bool
		blocked   *domain.LockoutState
		vanished  bool
	)
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context, repos port.TxRepositories) error {
		fresh, err := repos.Users.GetByIDForUpdate(ctx, userID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				vanished = true
				return errAbort
			}
			return fmt.Errorf("lock user: %w", err)
		}
		if state := fresh.Lockout(); s.cfg.Lockout.IsLocked(state, now) {
			blocked = &state
			return errAbort
		}

		next, triggered = s.cfg.Lockout.RecordFailure(fresh.Lockout(), now)
		return repos.Users.UpdateLockout(ctx, userID, next)
	})
	switch {
	case blocked != nil:
		return s.loginBlocked(ctx, userID, *blocked, now, ip, userAgent)
	case vanished:
		return s.loginFailed(newAuthError(CodeInvalidCredentials, nil))
	case err != nil:
		return fmt.Errorf("record failed login: %w", err)
	}

	if triggered {
		s.audit.LogSecurityEvent(ctx, AuditEvent{
			EventType: domain.EventAccountLocked,
			UserID:    userID,
			IP:        ip,
			UserAgent: userAgent,
			Details: map[string]any{
				"reason":                   "too_many_failed_attempts",
				"lockout_duration_minutes": int(s.cfg.Lockout.Duration / time.Minute),
			},
		})
		s.metrics.ObserveLockout()
		logger.FromContext(ctx, s.logger).Warn("account locked after repeated failures",
			zap.String("user_id", userID),
			zap.Int("attempts", next.FailedAttempts),
		)
	}

	s.audit.LogAuthentication(ctx, AuditEvent{
		EventType: domain.EventLoginFailed,
		UserID:    userID,
		Status:    domain.AuditStatusFailure,
		IP:        ip,
		UserAgent: userAgent,
		Details:   map[string]any{"reason": "invalid_password", "attempts": next.FailedAttempts},
	})
	return s.loginFailed(newAuthError(CodeInvalidCredentials, nil))
}

func (s *AuthService) loginBlocked(ctx context.Context, userID string, state domain.LockoutState, now time.Time, ip, userAgent string) error {
	minutes := s.cfg.Lockout.MinutesRemaining(state, now)
	s.audit.LogAuthentication(ctx, AuditEvent{
		EventType: domain.EventLoginBlocked,
		UserID:    userID,
		Status:    domain.AuditStatusFailure,
		IP:        ip,
		UserAgent: userAgent,
		Details:   map[string]any{"reason": "account_locked", "minutes_remaining": minutes},
	})
	authErr := newAuthError(CodeAccountLocked, nil)
	authErr.MinutesRemaining = minutes
	return s.loginFailed(authErr)
}

func (s *AuthService) loginFailed(err *AuthError) error {
	s.metrics.ObserveLogin(string(err.Code()))
	return err
}

// RefreshInput carries a refresh token and request provenance.
type RefreshInput struct {
	RefreshToken string
	IP           string
	UserAgent    string
}

// RefreshAccessToken rotates a refresh token. Presenting a token that is not
// active in the store revokes every active token of its subject.
func (s *AuthService) RefreshAccessToken(ctx context.Context, in RefreshInput) (*TokenPair, error) {
	pair, err := s.refresh(ctx, in)
	if err != nil {
		outcome := string(CodeOf(err))
		if outcome == "" {
			outcome = "error"
		}
		s.metrics.ObserveRefresh(outcome)
		return nil, err
	}
	s.metrics.ObserveRefresh(outcomeSuccess)
	return pair, nil
}

func (s *AuthService) refresh(ctx context.Context, in RefreshInput) (*TokenPair, error) {
	ip := normalizeIP(in.IP)
	log := logger.FromContext(ctx, s.logger)

	claims, err := s.codec.Verify(in.RefreshToken)
	if err != nil {
		log.Warn("refresh token validation failed", zap.Error(err))
		return nil, s.refreshFailed(ctx, "", ip, in.UserAgent, newAuthError(CodeInvalidRefreshToken, err))
	}
	if claims.Kind != domain.TokenKindRefresh {
		return nil, s.refreshFailed(ctx, claims.Subject, ip, in.UserAgent, newAuthError(CodeInvalidTokenType, nil))
	}
	if _, err := uuid.Parse(claims.Subject); err != nil {
		return nil, s.refreshFailed(ctx, "", ip, in.UserAgent, newAuthError(CodeInvalidRefreshToken, err))
	}

	hash := security.HashToken(in.RefreshToken)
	now := s.now()

	var (
		pair            *TokenPair
		reused          bool
		revokedFamily   int
		passwordChanged bool
	)
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context, repos port.TxRepositories) error {
		stored, err := repos.RefreshTokens.FindActiveByHash(ctx, hash)
		if err != nil {
			if !errors.Is(err, repository.ErrNotFound) {
				return err
			}
			revokedFamily, err = repos.RefreshTokens.RevokeAllForUser(ctx, claims.Subject, domain.RevokeReasonReuseDetected, now)
			if err != nil {
				return err
			}
			reused = true
			return nil
		}

		if stored.IsExpired(now) {
			return newAuthError(CodeTokenExpired, nil)
		}

		user, err := repos.Users.GetByID(ctx, claims.Subject)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return newAuthError(CodeUserNotFound, nil)
			}
			return fmt.Errorf("load user: %w", err)
		}
		if !user.IsActive {
			return newAuthError(CodeUserNotFound, nil)
		}

		if claims.IssuedBeforePasswordChange(user.PasswordChangedAt) {
			if err := repos.RefreshTokens.Revoke(ctx, stored.ID, domain.RevokeReasonPasswordChanged, now); err != nil {
				return err
			}
			passwordChanged = true
			return nil
		}

		if err := repos.RefreshTokens.Revoke(ctx, stored.ID, domain.RevokeReasonRotated, now); err != nil {
			return err
		}
		pair, err = s.issuePair(*user, s.cfg.RefreshTokenTTL, now)
		if err != nil {
			return err
		}
		newID, err := repos.RefreshTokens.Create(ctx, s.refreshRecord(user.ID, pair, now, ip, in.UserAgent))
		if err != nil {
			return err
		}
		return repos.RefreshTokens.LinkReplacement(ctx, stored.ID, newID)
	})
	if err != nil {
		if authErr, ok := AsAuthError(err); ok {
			subject := claims.Subject
			if authErr.Code() == CodeUserNotFound {
				subject = ""
			}
			return nil, s.refreshFailed(ctx, subject, ip, in.UserAgent, authErr)
		}
		return nil, fmt.Errorf("rotate refresh token: %w", err)
	}

	if reused {
		s.audit.LogSecurityEvent(ctx, AuditEvent{
			EventType: domain.EventTokenReuseDetected,
			UserID:    claims.Subject,
			IP:        ip,
			UserAgent: in.UserAgent,
			Details:   map[string]any{"action": "all_tokens_revoked", "revoked_tokens": revokedFamily},
		})
		s.metrics.ObserveTokenReuse()
		log.Warn("refresh token reuse detected",
			zap.String("user_id", claims.Subject),
			zap.Int("revoked_tokens", revokedFamily),
			zap.String("token_id", logger.MaskString(claims.ID)),
			zap.String("ip", logger.MaskIP(ip)),
		)
		return nil, newAuthError(CodeTokenReuse, nil)
	}
	if passwordChanged {
		return nil, s.refreshFailed(ctx, claims.Subject, ip, in.UserAgent, newAuthError(CodePasswordChanged, nil), "action", "token_revoked")
	}

	s.audit.LogAuthentication(ctx, AuditEvent{
		EventType: domain.EventTokenRefreshed,
		UserID:    claims.Subject,
		Status:    domain.AuditStatusSuccess,
		IP:        ip,
		UserAgent: in.UserAgent,
	})
	return pair, nil
}

// refreshFailed audits a rejected refresh once and returns authErr. extra is
// appended to the details as key/value pairs.
func (s *AuthService) refreshFailed(ctx context.Context, userID, ip, userAgent string, authErr *AuthError, extra ...string) error {
	details := map[string]any{"reason": string(authErr.Code())}
	for i := 0; i+1 < len(extra); i += 2 {
		details[extra[i]] = extra[i+1]
	}
	s.audit.LogAuthentication(ctx, AuditEvent{
		EventType: domain.EventTokenRefreshFailed,
		UserID:    userID,
		Status:    domain.AuditStatusFailure,
		IP:        ip,
		UserAgent: userAgent,
		Details:   details,
	})
	return authErr
}

// LogoutInput carries the refresh token to revoke.
type LogoutInput struct {
	RefreshToken string
	IP           string
	UserAgent    string
}

// Logout revokes the presented refresh token. Unknown or already revoked
// tokens are acknowledged without side effects.
func (s *AuthService) Logout(ctx context.Context, in LogoutInput) error {
	raw := strings.TrimSpace(in.RefreshToken)
	if raw == "" {
		return nil
	}

	token, err := s.tokens.FindByHash(ctx, security.HashToken(raw))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("lookup refresh token: %w", err)
	}
	if token.Revoked {
		return nil
	}

	if err := s.tokens.Revoke(ctx, token.ID, domain.RevokeReasonLogout, s.now()); err != nil {
		return err
	}

	s.audit.LogAuthentication(ctx, AuditEvent{
		EventType: domain.EventLogout,
		UserID:    token.UserID,
		Status:    domain.AuditStatusSuccess,
		IP:        normalizeIP(in.IP),
		UserAgent: in.UserAgent,
	})
	return nil
}

// CreateUserInput describes a new account.
type CreateUserInput struct {
	Email      string
	Password   string
	FullName   string
	Role       domain.Role
	HospitalID *string
	Department *string
	IP         string
	UserAgent  string
}

// CreateUser registers a new account after checking email uniqueness and password strength.
func (s *AuthService) CreateUser(ctx context.Context, in CreateUserInput) (*domain.User, error) {
	email := domain.NormalizeEmail(in.Email)
	fullName := strings.TrimSpace(in.FullName)
	ip := normalizeIP(in.IP)

	switch {
	case email == "" || !strings.Contains(email, "@"):
		return nil, fmt.Errorf("%w: a valid email is required", ErrInvalidInput)
	case in.Password == "":
		return nil, fmt.Errorf("%w: password is required", ErrInvalidInput)
	case fullName == "":
		return nil, fmt.Errorf("%w: full name is required", ErrInvalidInput)
	case !in.Role.Valid():
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, in.Role)
	}

	exists, err := s.users.EmailExists(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("check email: %w", err)
	}
	if exists {
		return nil, s.registrationFailed(ctx, email, "email_exists", ip, in.UserAgent, newAuthError(CodeEmailExists, nil))
	}

	if err := s.validator.Validate(in.Password, email, fullName); err != nil {
		return nil, s.registrationFailed(ctx, email, "weak_password", ip, in.UserAgent, newAuthError(CodeWeakPassword, err))
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := s.now().Truncate(time.Microsecond)
	user := domain.User{
		ID:                uuid.NewString(),
		Email:             email,
		PasswordHash:      hash,
		FullName:          fullName,
		Role:              in.Role,
		HospitalID:        trimmed(in.HospitalID),
		Department:        trimmed(in.Department),
		IsActive:          true,
		CreatedAt:         now,
		PasswordChangedAt: now,
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, s.registrationFailed(ctx, email, "email_exists", ip, in.UserAgent, newAuthError(CodeEmailExists, err))
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.audit.LogEvent(ctx, domain.AuditLog{
		UserID:    &user.ID,
		EventType: domain.EventRegistrationSuccess,
		Action:    domain.AuditActionCreate,
		Status:    domain.AuditStatusSuccess,
		IPAddress: ip,
		UserAgent: optional(in.UserAgent),
		Details:   map[string]any{"role": string(user.Role)},
	})
	s.metrics.ObserveRegistration(outcomeSuccess)

	sanitized := user.Sanitized()
	return &sanitized, nil
}

func (s *AuthService) registrationFailed(ctx context.Context, email, reason, ip, userAgent string, authErr *AuthError) error {
	s.audit.LogEvent(ctx, domain.AuditLog{
		EventType: domain.EventRegistrationFailed,
		Action:    domain.AuditActionCreate,
		Status:    domain.AuditStatusFailure,
		IPAddress: ip,
		UserAgent: optional(userAgent),
		Details:   map[string]any{"reason": reason, "email": email},
	})
	s.metrics.ObserveRegistration(string(authErr.Code()))
	return authErr
}

// Authenticate resolves the user behind an access token.
func (s *AuthService) Authenticate(ctx context.Context, accessToken string) (*domain.User, error) {
	claims, err := s.codec.Verify(strings.TrimSpace(accessToken))
	if err != nil {
		return nil, newAuthError(CodeInvalidAccessToken, err)
	}
	if claims.Kind != domain.TokenKindAccess {
		return nil, newAuthError(CodeInvalidTokenType, nil)
	}

	user, err := s.users.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newAuthError(CodeUserNotFound, nil)
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !user.IsActive {
		return nil, newAuthError(CodeUserNotFound, nil)
	}
	if claims.IssuedBeforePasswordChange(user.PasswordChangedAt) {
		return nil, newAuthError(CodePasswordChanged, nil)
	}

	sanitized := user.Sanitized()
	return &sanitized, nil
}

// RequireRole fails with INSUFFICIENT_ROLE unless user holds one of roles.
func RequireRole(user *domain.User, roles ...domain.Role) error {
	if user == nil {
		return newAuthError(CodeInvalidAccessToken, nil)
	}
	for _, role := range roles {
		if user.Role == role {
			return nil
		}
	}
	return newAuthError(CodeInsufficientRole, nil)
}

// ChangePasswordInput carries a password change request for an authenticated user.
type ChangePasswordInput struct {
	UserID          string
	CurrentPassword string
	NewPassword     string
	IP              string
	UserAgent       string
}

// ChangePassword replaces the password, advances the password epoch and
// revokes every refresh token of the user in one transaction.
func (s *AuthService) ChangePassword(ctx context.Context, in ChangePasswordInput) error {
	ip := normalizeIP(in.IP)

	user, err := s.users.GetByID(ctx, in.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return s.passwordChangeFailed(ctx, "", ip, in.UserAgent, newAuthError(CodeUserNotFound, nil))
		}
		return fmt.Errorf("load user: %w", err)
	}
	if !user.IsActive {
		return s.passwordChangeFailed(ctx, user.ID, ip, in.UserAgent, newAuthError(CodeUserNotFound, nil))
	}

	ok, err := s.hasher.Verify(in.CurrentPassword, user.PasswordHash)
	if err != nil {
		return fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return s.passwordChangeFailed(ctx, user.ID, ip, in.UserAgent, newAuthError(CodeCurrentPasswordInvalid, nil))
	}

	if in.NewPassword == in.CurrentPassword {
		return s.passwordChangeFailed(ctx, user.ID, ip, in.UserAgent, newAuthError(CodeWeakPassword, &security.PasswordValidationError{
			Code:    "different",
			Message: "new password must differ from the current password",
		}))
	}
	if err := s.validator.Validate(in.NewPassword, user.Email, user.FullName); err != nil {
		return s.passwordChangeFailed(ctx, user.ID, ip, in.UserAgent, newAuthError(CodeWeakPassword, err))
	}

	hash, err := s.hasher.Hash(in.NewPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	changedAt := s.now().Truncate(time.Microsecond)
	var revoked int
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context, repos port.TxRepositories) error {
		if err := repos.Users.UpdatePassword(ctx, user.ID, hash, changedAt); err != nil {
			return err
		}
		revoked, err = repos.RefreshTokens.RevokeAllForUser(ctx, user.ID, domain.RevokeReasonPasswordChanged, changedAt)
		return err
	})
	if err != nil {
		return fmt.Errorf("change password: %w", err)
	}

	s.audit.LogEvent(ctx, domain.AuditLog{
		UserID:    &user.ID,
		EventType: domain.EventPasswordChanged,
		Action:    domain.AuditActionUpdate,
		Status:    domain.AuditStatusSuccess,
		IPAddress: ip,
		UserAgent: optional(in.UserAgent),
		Details:   map[string]any{"revoked_tokens": revoked},
	})
	return nil
}

func (s *AuthService) passwordChangeFailed(ctx context.Context, userID, ip, userAgent string, authErr *AuthError) error {
	s.audit.LogEvent(ctx, domain.AuditLog{
		UserID:    optional(userID),
		EventType: domain.EventPasswordChangeFailed,
		Action:    domain.AuditActionUpdate,
		Status:    domain.AuditStatusFailure,
		IPAddress: ip,
		UserAgent: optional(userAgent),
		Details:   map[string]any{"reason": string(authErr.Code())},
	})
	return authErr
}

func (s *AuthService) issuePair(user domain.User, refreshTTL time.Duration, now time.Time) (*TokenPair, error) {
	claims := domain.ClaimsForUser(user)

	access, err := s.codec.Issue(claims, domain.TokenKindAccess, s.cfg.AccessTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	refresh, err := s.codec.Issue(claims, domain.TokenKindRefresh, refreshTTL)
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  now.Add(s.cfg.AccessTokenTTL),
		RefreshExpiresAt: now.Add(refreshTTL),
	}, nil
}

func (s *AuthService) refreshRecord(userID string, pair *TokenPair, now time.Time, ip, userAgent string) domain.RefreshToken {
	return domain.RefreshToken{
		UserID:    userID,
		TokenHash: security.HashToken(pair.RefreshToken),
		CreatedAt: now,
		ExpiresAt: pair.RefreshExpiresAt,
		IP:        optional(ip),
		UserAgent: optional(userAgent),
	}
}

// errAbort rolls a transaction back when the outcome was captured in closure state.
var errAbort = errors.New("abort transaction")

func normalizeIP(ip string) string {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return unknownIP
	}
	return ip
}

func trimmed(value *string) *string {
	if value == nil {
		return nil
	}
	return optional(*value)
}

type noopMetrics struct{}

func (noopMetrics) ObserveLogin(string)        {}
func (noopMetrics) ObserveRefresh(string)      {}
func (noopMetrics) ObserveRegistration(string) {}
func (noopMetrics) ObserveLockout()            {}
func (noopMetrics) ObserveTokenReuse()         {}
func (noopMetrics) ObserveAuditFailure(string) {}
