package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"net/url"

	"github.com/credvault/credvault/internal/handler/dto"
	"github.com/credvault/credvault/internal/service"
)

const (
	profileImageField = "profileImage"
	// multipart parts above this size spill to temporary files.
	maxMultipartMemory = 1 << 20
)

var errImageTooLarge = errors.New("profile image too large")

// formBinder is implemented by request DTOs that accept form encoding.
type formBinder interface {
	BindForm(v url.Values)
}

// CredentialHandler handles HTTP requests for credential operations.
type CredentialHandler struct {
	svc          *service.CredentialService
	logger       *slog.Logger
	maxImageSize int64
}

// NewCredentialHandler creates a new CredentialHandler. maxImageSize bounds
// the profile image accepted by Signup.
func NewCredentialHandler(svc *service.CredentialService, logger *slog.Logger, maxImageSize int64) *CredentialHandler {
	return &CredentialHandler{
		svc:          svc,
		logger:       logger,
		maxImageSize: maxImageSize,
	}
}

// Signup handles POST /api/signup and /signup-data.
func (h *CredentialHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req dto.SignupRequest
	if !h.decode(w, r, &req) {
		return
	}

	input := service.SignupInput{
		Username:        req.Username,
		Email:           req.Email,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
	}

	upload, closeUpload, err := h.profileImage(r)
	if err != nil {
		if errors.Is(err, errImageTooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "IMAGE_TOO_LARGE", "Profile image exceeds the maximum size")
			return
		}
		writeError(w, http.StatusBadRequest, "INVALID_UPLOAD", "Invalid profile image upload")
		return
	}
	defer closeUpload()
	input.ProfileImage = upload

	result, err := h.svc.Signup(r.Context(), input)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	h.logger.Info("user_signed_up",
		"user_id", result.UserID,
		"has_profile_image", result.ProfileImage != nil,
	)

	writeJSON(w, http.StatusCreated, dto.UserResponse{
		Message: "User created successfully",
		UserID:  result.UserID,
	})
}

// Login handles POST /api/login and /login-data.
func (h *CredentialHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req dto.LoginRequest
	if !h.decode(w, r, &req) {
		return
	}

	user, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	h.logger.Info("user_logged_in", "user_id", user.ID)

	writeJSON(w, http.StatusOK, dto.UserResponse{
		Message: "Login successful",
		UserID:  user.ID,
	})
}

// CheckEmail handles POST /api/check-email and /check-email-data.
func (h *CredentialHandler) CheckEmail(w http.ResponseWriter, r *http.Request) {
	var req dto.CheckEmailRequest
	if !h.decode(w, r, &req) {
		return
	}

	exists, err := h.svc.CheckEmail(r.Context(), req.Email)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.CheckEmailResponse{Exists: exists})
}

// ResetPassword handles POST /api/reset-password and /reset-password-data.
func (h *CredentialHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req dto.ResetPasswordRequest
	if !h.decode(w, r, &req) {
		return
	}

	err := h.svc.ResetPassword(r.Context(), service.ResetInput{
		Email:              req.Email,
		NewPassword:        req.NewPassword,
		ConfirmNewPassword: req.ConfirmNewPassword,
	})
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	h.logger.Info("password_reset")

	writeJSON(w, http.StatusOK, dto.MessageResponse{Message: "Password reset successfully"})
}

// decode reads a JSON, urlencoded or multipart body into dst. It writes the
// error response itself and reports whether the handler should continue.
func (h *CredentialHandler) decode(w http.ResponseWriter, r *http.Request, dst formBinder) bool {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	var err error
	switch mediaType {
	case "multipart/form-data":
		if err = r.ParseMultipartForm(maxMultipartMemory); err == nil {
			dst.BindForm(r.PostForm)
		}
	case "application/x-www-form-urlencoded":
		if err = r.ParseForm(); err == nil {
			dst.BindForm(r.PostForm)
		}
	default:
		err = json.NewDecoder(r.Body).Decode(dst)
	}
	if err == nil {
		return true
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Request body too large")
		return false
	}
	writeError(w, http.StatusBadRequest, "INVALID_BODY", "Invalid request body")
	return false
}

// profileImage returns the uploaded profile image, if any, and a func that
// releases it.
func (h *CredentialHandler) profileImage(r *http.Request) (*service.ImageUpload, func(), error) {
	noop := func() {}
	if r.MultipartForm == nil {
		return nil, noop, nil
	}

	file, header, err := r.FormFile(profileImageField)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, noop, nil
		}
		return nil, noop, err
	}
	if h.maxImageSize > 0 && header.Size > h.maxImageSize {
		_ = file.Close()
		return nil, noop, errImageTooLarge
	}

	upload := &service.ImageUpload{
		Filename: header.Filename,
		Size:     header.Size,
		Content:  file,
	}
	return upload, func() { _ = file.Close() }, nil
}

// handleServiceError maps service errors to HTTP responses.
func (h *CredentialHandler) handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrMissingFields):
		writeError(w, http.StatusBadRequest, "MISSING_FIELDS", "All fields are required")
	case errors.Is(err, service.ErrPasswordMismatch):
		writeError(w, http.StatusBadRequest, "PASSWORD_MISMATCH", "Passwords do not match")
	case errors.Is(err, service.ErrFieldTooLong):
		writeError(w, http.StatusBadRequest, "FIELD_TOO_LONG", err.Error())
	case errors.Is(err, service.ErrPasswordTooLong):
		writeError(w, http.StatusBadRequest, "PASSWORD_TOO_LONG", "Password must be at most 72 bytes")
	case errors.Is(err, service.ErrInvalidImage):
		writeError(w, http.StatusBadRequest, "INVALID_IMAGE", "Profile image must be a png, jpeg, gif or webp file")
	case errors.Is(err, service.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid credentials")
	case errors.Is(err, service.ErrEmailNotFound):
		writeError(w, http.StatusNotFound, "EMAIL_NOT_FOUND", "Email not found")
	case errors.Is(err, service.ErrConflict):
		writeError(w, http.StatusConflict, "USER_EXISTS", "Username or email already exists")
	case errors.Is(err, service.ErrUnavailable):
		h.logger.Error("store_unavailable", "error", err)
		writeError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Service temporarily unavailable")
	case errors.Is(err, service.ErrSchemaMissing):
		h.logger.Error("schema_missing", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
	default:
		h.logger.Error("internal_error", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
	}
}
