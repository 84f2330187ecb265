// Package service provides business logic for the application.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/credvault/credvault/internal/auth"
	"github.com/credvault/credvault/internal/metrics"
	"github.com/credvault/credvault/internal/model"
	"github.com/credvault/credvault/internal/repository"
	"github.com/credvault/credvault/internal/storage"
)

// Validation errors. All of them are user-correctable.
var (
	ErrMissingFields    = errors.New("required fields are missing")
	ErrPasswordMismatch = errors.New("passwords do not match")
	ErrFieldTooLong     = errors.New("field exceeds maximum length")
	ErrPasswordTooLong  = errors.New("password must be at most 72 bytes")
	ErrInvalidImage     = errors.New("profile image must be a png, jpeg, gif or webp file")
)

// Outcome errors.
var (
	ErrConflict           = errors.New("username or email already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailNotFound      = errors.New("email not found")
	ErrSchemaMissing      = errors.New("credential store is not initialized")
	ErrUnavailable        = errors.New("credential store unavailable")
)

// IsValidation reports whether err is a user-correctable input error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrMissingFields) ||
		errors.Is(err, ErrPasswordMismatch) ||
		errors.Is(err, ErrFieldTooLong) ||
		errors.Is(err, ErrPasswordTooLong) ||
		errors.Is(err, ErrInvalidImage)
}

// UserStore persists user records.
type UserStore interface {
	InsertUser(ctx context.Context, user model.NewUser) (int64, error)
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	UpdatePassword(ctx context.Context, email, passwordHash string) (int64, error)
}

// EmailCache remembers emails known to be registered.
type EmailCache interface {
	EmailKnown(ctx context.Context, email string) (bool, error)
	MarkEmail(ctx context.Context, email string) error
}

// ImageStore keeps uploaded profile images and hands back a reference.
type ImageStore interface {
	Save(ctx context.Context, filename string, r io.Reader, size int64) (string, error)
	Remove(ctx context.Context, publicPath string) error
}

// Options configures a CredentialService. Hasher is required; Cache and
// Images may be nil.
type Options struct {
	Hasher              auth.Hasher
	Cache               EmailCache
	Images              ImageStore
	Metrics             metrics.Recorder
	Logger              *slog.Logger
	RequireConfirmation bool
	// StoreTimeout bounds each store call, including the wait for a pooled
	// connection. Zero means DefaultStoreTimeout.
	StoreTimeout time.Duration
}

// DefaultStoreTimeout is used when Options.StoreTimeout is zero.
const DefaultStoreTimeout = 5 * time.Second

// CredentialService handles signup, login, email checks and password resets.
type CredentialService struct {
	store               UserStore
	hasher              auth.Hasher
	cache               EmailCache
	images              ImageStore
	metrics             metrics.Recorder
	logger              *slog.Logger
	requireConfirmation bool
	storeTimeout        time.Duration

	dummyOnce sync.Once
	dummyHash string
}

// NewCredentialService creates a new CredentialService.
func NewCredentialService(store UserStore, opts Options) *CredentialService {
	if opts.Hasher == nil {
		opts.Hasher = auth.NewBcryptHasher(auth.DefaultBcryptCost)
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNoop()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = DefaultStoreTimeout
	}
	return &CredentialService{
		store:               store,
		hasher:              opts.Hasher,
		cache:               opts.Cache,
		images:              opts.Images,
		metrics:             opts.Metrics,
		logger:              opts.Logger,
		requireConfirmation: opts.RequireConfirmation,
		storeTimeout:        opts.StoreTimeout,
	}
}

// ImageUpload is an optional profile image attached to a signup.
type ImageUpload struct {
	Filename string
	Size     int64
	Content  io.Reader
}

// SignupInput defines input for creating an account.
type SignupInput struct {
	Username        string
	Email           string
	Password        string
	ConfirmPassword string
	ProfileImage    *ImageUpload
}

// SignupResult identifies the created account.
type SignupResult struct {
	UserID       int64
	ProfileImage *string
}

// Signup validates the input, hashes the password and stores the user.
func (s *CredentialService) Signup(ctx context.Context, input SignupInput) (*SignupResult, error) {
	username := strings.TrimSpace(input.Username)
	email := strings.TrimSpace(input.Email)

	if err := s.validateSignup(username, email, input.Password, input.ConfirmPassword); err != nil {
		s.metrics.IncSignup(metrics.OutcomeInvalid)
		return nil, err
	}

	hash, err := s.hash(input.Password)
	if err != nil {
		s.metrics.IncSignup(metrics.OutcomeInvalid)
		return nil, err
	}

	var imageRef *string
	if input.ProfileImage != nil && s.images != nil {
		ref, err := s.images.Save(ctx, input.ProfileImage.Filename, input.ProfileImage.Content, input.ProfileImage.Size)
		if err != nil {
			if errors.Is(err, storage.ErrUnsupportedImage) {
				s.metrics.IncSignup(metrics.OutcomeInvalid)
				return nil, ErrInvalidImage
			}
			s.metrics.IncSignup(metrics.OutcomeError)
			return nil, fmt.Errorf("save profile image: %w", err)
		}
		imageRef = &ref
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	id, err := s.store.InsertUser(storeCtx, model.NewUser{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		ProfileImage: imageRef,
	})
	cancel()
	if err != nil {
		if imageRef != nil {
			s.discardImage(*imageRef)
		}
		err = mapStoreError(err)
		if errors.Is(err, ErrConflict) {
			s.metrics.IncSignup(metrics.OutcomeConflict)
		} else {
			s.metrics.IncSignup(metrics.OutcomeError)
		}
		return nil, err
	}

	s.metrics.IncSignup(metrics.OutcomeSuccess)
	s.rememberEmail(ctx, email)

	return &SignupResult{UserID: id, ProfileImage: imageRef}, nil
}

// Login verifies email and password. Unknown emails and wrong passwords
// both yield ErrInvalidCredentials after comparable work.
func (s *CredentialService) Login(ctx context.Context, email, password string) (*model.User, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		s.metrics.IncLogin(metrics.OutcomeInvalid)
		return nil, ErrMissingFields
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	user, err := s.store.FindByEmail(storeCtx, email)
	cancel()
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			s.burnVerify(password)
			s.metrics.IncLogin(metrics.OutcomeFailure)
			return nil, ErrInvalidCredentials
		}
		s.metrics.IncLogin(metrics.OutcomeError)
		return nil, mapStoreError(err)
	}

	ok, err := s.verify(password, user.PasswordHash)
	if err != nil {
		s.metrics.IncLogin(metrics.OutcomeError)
		return nil, fmt.Errorf("verify password for user %d: %w", user.ID, err)
	}
	if !ok {
		s.metrics.IncLogin(metrics.OutcomeFailure)
		return nil, ErrInvalidCredentials
	}

	s.metrics.IncLogin(metrics.OutcomeSuccess)
	user.PasswordHash = ""
	return user, nil
}

// CheckEmail reports whether an account uses exactly this email.
func (s *CredentialService) CheckEmail(ctx context.Context, email string) (bool, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		s.metrics.IncEmailCheck(metrics.OutcomeInvalid)
		return false, ErrMissingFields
	}

	if s.cache != nil {
		known, err := s.cache.EmailKnown(ctx, email)
		switch {
		case err != nil:
			s.metrics.IncEmailCacheError()
			s.logger.Warn("email cache lookup failed", slog.String("error", err.Error()))
		case known:
			s.metrics.IncEmailCacheHit()
			s.metrics.IncEmailCheck(metrics.OutcomeSuccess)
			return true, nil
		default:
			s.metrics.IncEmailCacheMiss()
		}
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	exists, err := s.store.ExistsByEmail(storeCtx, email)
	cancel()
	if err != nil {
		s.metrics.IncEmailCheck(metrics.OutcomeError)
		return false, mapStoreError(err)
	}
	if exists {
		s.rememberEmail(ctx, email)
	}

	s.metrics.IncEmailCheck(metrics.OutcomeSuccess)
	return exists, nil
}

// ResetInput defines input for replacing a password.
type ResetInput struct {
	Email              string
	NewPassword        string
	ConfirmNewPassword string
}

// ResetPassword sets a new password for the account with this email.
func (s *CredentialService) ResetPassword(ctx context.Context, input ResetInput) error {
	email := strings.TrimSpace(input.Email)

	if email == "" || input.NewPassword == "" || (s.requireConfirmation && input.ConfirmNewPassword == "") {
		s.metrics.IncPasswordReset(metrics.OutcomeInvalid)
		return ErrMissingFields
	}
	if input.ConfirmNewPassword != "" && input.NewPassword != input.ConfirmNewPassword {
		s.metrics.IncPasswordReset(metrics.OutcomeInvalid)
		return ErrPasswordMismatch
	}

	hash, err := s.hash(input.NewPassword)
	if err != nil {
		s.metrics.IncPasswordReset(metrics.OutcomeInvalid)
		return err
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	n, err := s.store.UpdatePassword(storeCtx, email, hash)
	cancel()
	if err != nil {
		s.metrics.IncPasswordReset(metrics.OutcomeError)
		return mapStoreError(err)
	}
	if n == 0 {
		s.metrics.IncPasswordReset(metrics.OutcomeNotFound)
		return ErrEmailNotFound
	}

	s.metrics.IncPasswordReset(metrics.OutcomeSuccess)
	return nil
}

func (s *CredentialService) validateSignup(username, email, password, confirm string) error {
	if username == "" || email == "" || password == "" {
		return ErrMissingFields
	}
	if s.requireConfirmation && confirm == "" {
		return ErrMissingFields
	}
	if confirm != "" && password != confirm {
		return ErrPasswordMismatch
	}
	if utf8.RuneCountInString(username) > model.MaxUsernameLength {
		return fmt.Errorf("%w: username is limited to %d characters", ErrFieldTooLong, model.MaxUsernameLength)
	}
	if utf8.RuneCountInString(email) > model.MaxEmailLength {
		return fmt.Errorf("%w: email is limited to %d characters", ErrFieldTooLong, model.MaxEmailLength)
	}
	return nil
}

func (s *CredentialService) hash(password string) (string, error) {
	start := time.Now()
	hash, err := s.hasher.Hash(password)
	s.metrics.ObserveHashDuration(time.Since(start))
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooLong) {
			return "", ErrPasswordTooLong
		}
		return "", fmt.Errorf("hash password: %w", err)
	}
	return hash, nil
}

func (s *CredentialService) verify(password, encodedHash string) (bool, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveHashDuration(time.Since(start)) }()
	return s.hasher.Verify(password, encodedHash)
}

// burnVerify runs a comparison against a throwaway hash so that unknown
// emails cost as much as wrong passwords.
func (s *CredentialService) burnVerify(password string) {
	s.dummyOnce.Do(func() {
		hash, err := s.hasher.Hash("credvault-timing-equalizer")
		if err != nil {
			s.logger.Error("failed to build dummy hash", slog.String("error", err.Error()))
			return
		}
		s.dummyHash = hash
	})
	if s.dummyHash != "" {
		_, _ = s.verify(password, s.dummyHash)
	}
}

func (s *CredentialService) rememberEmail(ctx context.Context, email string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.MarkEmail(ctx, email); err != nil {
		s.metrics.IncEmailCacheError()
		s.logger.Warn("email cache update failed", slog.String("error", err.Error()))
	}
}

// discardImage removes an upload whose account was never created.
func (s *CredentialService) discardImage(ref string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.images.Remove(ctx, ref); err != nil {
		s.logger.Warn("failed to remove orphaned profile image",
			slog.String("image", ref),
			slog.String("error", err.Error()),
		)
	}
}

// mapStoreError converts store errors into service errors. Errors it does
// not recognise are returned unchanged and surface as internal errors.
func mapStoreError(err error) error {
	switch {
	case errors.Is(err, repository.ErrDuplicateUser):
		return ErrConflict
	case errors.Is(err, repository.ErrSchemaMissing):
		return ErrSchemaMissing
	case errors.Is(err, repository.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	default:
		return err
	}
}
