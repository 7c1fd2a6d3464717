package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"storefront/internal/auth"
	"storefront/internal/models"
	"storefront/internal/otp"
	"storefront/internal/redisclient"
	"storefront/internal/store"
	"storefront/internal/util"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const minPasswordLength = 6

var validate = validator.New()

// AuthConfig holds OTP timings
type AuthConfig struct {
	OTPTTL      time.Duration
	OTPCooldown time.Duration
}

// AuthService handles OTP-gated signup, login and token refresh
type AuthService struct {
	users    UserRepository
	sessions SessionStore
	tokens   *auth.TokenManager
	sender   otp.Sender
	cfg      AuthConfig
	logger   *zap.Logger
}

// NewAuthService creates a new auth service
func NewAuthService(users UserRepository, sessions SessionStore, tokens *auth.TokenManager, sender otp.Sender, cfg AuthConfig) *AuthService {
	return &AuthService{
		users:    users,
		sessions: sessions,
		tokens:   tokens,
		sender:   sender,
		cfg:      cfg,
		logger:   util.GetLogger(),
	}
}

// SignupRequest is the registration payload
type SignupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Phone    string `json:"phone"`
}

// SendOTP issues a code for phone. Repeated requests within the cooldown fail
// with ErrOTPCooldown.
func (s *AuthService) SendOTP(ctx context.Context, phone string) error {
	ctx, span := util.StartSpan(ctx, "AuthService.SendOTP")
	defer span.End()

	phone = strings.TrimSpace(phone)
	if phone == "" {
		return invalid("phone number is required")
	}
	return s.issueOTP(ctx, phone, phone)
}

// issueOTP stores a fresh code under subject and delivers it to to. The
// cooldown lock is released again if the code never went out.
func (s *AuthService) issueOTP(ctx context.Context, subject, to string) error {
	lockKey := "otp:" + subject
	acquired, err := s.sessions.AcquireLock(ctx, lockKey, s.cfg.OTPCooldown)
	if err != nil {
		return fmt.Errorf("failed to acquire otp cooldown: %w", err)
	}
	if !acquired {
		return ErrOTPCooldown
	}

	code, err := otp.GenerateCode()
	if err != nil {
		_ = s.sessions.ReleaseLock(ctx, lockKey)
		return err
	}
	if err := s.sessions.StoreOTP(ctx, subject, code, s.cfg.OTPTTL); err != nil {
		_ = s.sessions.ReleaseLock(ctx, lockKey)
		return fmt.Errorf("failed to store otp: %w", err)
	}
	if err := s.sender.Send(ctx, to, code); err != nil {
		_ = s.sessions.ReleaseLock(ctx, lockKey)
		return fmt.Errorf("failed to deliver otp: %w", err)
	}

	util.OTPSentTotal.Inc()
	return nil
}

// VerifyOTP marks the phone verified if code matches the pending one
func (s *AuthService) VerifyOTP(ctx context.Context, phone, code string) error {
	ctx, span := util.StartSpan(ctx, "AuthService.VerifyOTP")
	defer span.End()

	phone, code = strings.TrimSpace(phone), strings.TrimSpace(code)
	if phone == "" || code == "" {
		return invalid("phone and code are required")
	}

	ok, err := s.sessions.VerifyOTP(ctx, phone, code)
	if err != nil {
		return fmt.Errorf("failed to verify otp: %w", err)
	}
	if !ok {
		return ErrInvalidOTP
	}
	return nil
}

// Signup creates an account for a verified phone and logs it in
func (s *AuthService) Signup(ctx context.Context, req SignupRequest) (*models.User, *auth.TokenPair, error) {
	ctx, span := util.StartSpan(ctx, "AuthService.Signup")
	defer span.End()

	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Phone = strings.TrimSpace(req.Phone)
	if err := validateSignup(req); err != nil {
		return nil, nil, err
	}

	_, err := s.users.GetUserByEmail(ctx, req.Email)
	if err == nil {
		return nil, nil, ErrUserExists
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, nil, fmt.Errorf("failed to check email: %w", err)
	}

	verified, err := s.sessions.ConsumeOTPVerification(ctx, req.Phone)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to consume otp: %w", err)
	}
	if !verified {
		return nil, nil, ErrOTPNotVerified
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		Name:         req.Name,
		Email:        req.Email,
		Phone:        req.Phone,
		PasswordHash: hash,
		Role:         models.RoleCustomer,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, nil, ErrUserExists
		}
		return nil, nil, fmt.Errorf("failed to create user: %w", err)
	}

	pair, err := s.issue(ctx, user)
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info("User signed up", zap.Int64("user_id", user.ID))
	return user, pair, nil
}

func validateSignup(req SignupRequest) error {
	if req.Name == "" {
		return invalid("name is required")
	}
	if err := validate.Var(req.Email, "required,email"); err != nil {
		return invalid("a valid email is required")
	}
	if len(req.Password) < minPasswordLength {
		return invalid("password must be at least %d characters", minPasswordLength)
	}
	if req.Phone == "" {
		return invalid("phone number is required")
	}
	return nil
}

// Login checks credentials and issues tokens
func (s *AuthService) Login(ctx context.Context, email, password string) (*models.User, *auth.TokenPair, error) {
	ctx, span := util.StartSpan(ctx, "AuthService.Login")
	defer span.End()

	user, err := s.users.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, fmt.Errorf("failed to load user: %w", err)
	}
	if !auth.CheckPassword(user.PasswordHash, password) {
		return nil, nil, ErrInvalidCredentials
	}

	pair, err := s.issue(ctx, user)
	if err != nil {
		return nil, nil, err
	}
	return user, pair, nil
}

func (s *AuthService) issue(ctx context.Context, user *models.User) (*auth.TokenPair, error) {
	pair, err := s.tokens.Issue(user.ID, user.Role)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.SetRefreshToken(ctx, user.ID, pair.RefreshToken, s.tokens.RefreshTTL()); err != nil {
		return nil, fmt.Errorf("failed to store refresh token: %w", err)
	}
	return pair, nil
}

// Logout revokes the stored refresh token. An unparseable token is ignored.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	claims, err := s.tokens.ParseRefresh(refreshToken)
	if err != nil {
		return nil
	}
	if err := s.sessions.DeleteRefreshToken(ctx, claims.UserID); err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	return nil
}

// Refresh exchanges the current refresh token for a new access token
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (string, time.Time, error) {
	ctx, span := util.StartSpan(ctx, "AuthService.Refresh")
	defer span.End()

	if refreshToken == "" {
		return "", time.Time{}, ErrInvalidRefreshToken
	}
	claims, err := s.tokens.ParseRefresh(refreshToken)
	if err != nil {
		return "", time.Time{}, ErrInvalidRefreshToken
	}

	stored, err := s.sessions.GetRefreshToken(ctx, claims.UserID)
	if errors.Is(err, redisclient.ErrCacheMiss) || (err == nil && stored != refreshToken) {
		return "", time.Time{}, ErrInvalidRefreshToken
	}
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to load refresh token: %w", err)
	}

	user, err := s.Profile(ctx, claims.UserID)
	if err != nil {
		return "", time.Time{}, err
	}
	return s.tokens.SignAccess(user.ID, user.Role)
}

// Profile returns the user
func (s *AuthService) Profile(ctx context.Context, userID int64) (*models.User, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return user, nil
}

// UpdateProfile changes the user's name and phone
func (s *AuthService) UpdateProfile(ctx context.Context, userID int64, name, phone string) (*models.User, error) {
	ctx, span := util.StartSpan(ctx, "AuthService.UpdateProfile")
	defer span.End()

	name, phone = strings.TrimSpace(name), strings.TrimSpace(phone)
	if name == "" {
		return nil, invalid("name is required")
	}

	if err := s.users.UpdateUserProfile(ctx, userID, name, phone); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	return s.Profile(ctx, userID)
}

// ChangePassword replaces the password after checking the current one
func (s *AuthService) ChangePassword(ctx context.Context, userID int64, current, next string) error {
	ctx, span := util.StartSpan(ctx, "AuthService.ChangePassword")
	defer span.End()

	if len(next) < minPasswordLength {
		return invalid("password must be at least %d characters", minPasswordLength)
	}

	user, err := s.Profile(ctx, userID)
	if err != nil {
		return err
	}
	if !auth.CheckPassword(user.PasswordHash, current) {
		return ErrInvalidCredentials
	}

	hash, err := auth.HashPassword(next)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if err := s.users.UpdateUserPassword(ctx, userID, hash); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	// force other sessions to log in again
	if err := s.sessions.DeleteRefreshToken(ctx, userID); err != nil {
		s.logger.Warn("Failed to revoke refresh token", zap.Int64("user_id", userID), zap.Error(err))
	}
	return nil
}

func resetSubject(email string) string {
	return "reset:" + email
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := validate.Var(email, "required,email"); err != nil {
		return "", invalid("a valid email is required")
	}
	return email, nil
}

// ForgotPassword emails a reset code to the account's address. An unknown
// address gets the same answer as a known one.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	ctx, span := util.StartSpan(ctx, "AuthService.ForgotPassword")
	defer span.End()

	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}

	if _, err := s.users.GetUserByEmail(ctx, email); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.logger.Info("Password reset requested for unknown email")
			return nil
		}
		return fmt.Errorf("failed to load user: %w", err)
	}
	return s.issueOTP(ctx, resetSubject(email), email)
}

// VerifyResetOTP checks a password reset code without consuming it
func (s *AuthService) VerifyResetOTP(ctx context.Context, email, code string) error {
	ctx, span := util.StartSpan(ctx, "AuthService.VerifyResetOTP")
	defer span.End()

	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}
	if code = strings.TrimSpace(code); code == "" {
		return invalid("code is required")
	}

	ok, err := s.sessions.VerifyOTP(ctx, resetSubject(email), code)
	if err != nil {
		return fmt.Errorf("failed to verify otp: %w", err)
	}
	if !ok {
		return ErrInvalidOTP
	}
	return nil
}

// ResetPassword sets a new password for the account once code checks out.
// The code is single use and every session of the account is revoked.
func (s *AuthService) ResetPassword(ctx context.Context, email, code, next string) error {
	ctx, span := util.StartSpan(ctx, "AuthService.ResetPassword")
	defer span.End()

	if len(next) < minPasswordLength {
		return invalid("password must be at least %d characters", minPasswordLength)
	}
	if err := s.VerifyResetOTP(ctx, email, code); err != nil {
		return err
	}
	email, _ = normalizeEmail(email)

	consumed, err := s.sessions.ConsumeOTPVerification(ctx, resetSubject(email))
	if err != nil {
		return fmt.Errorf("failed to consume otp: %w", err)
	}
	if !consumed {
		return ErrOTPNotVerified
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("failed to load user: %w", err)
	}

	hash, err := auth.HashPassword(next)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if err := s.users.UpdateUserPassword(ctx, user.ID, hash); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if err := s.sessions.DeleteRefreshToken(ctx, user.ID); err != nil {
		s.logger.Warn("Failed to revoke refresh token", zap.Int64("user_id", user.ID), zap.Error(err))
	}

	s.logger.Info("Password reset", zap.Int64("user_id", user.ID))
	return nil
}
