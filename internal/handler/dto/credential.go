// Package dto provides Data Transfer Objects for API requests and responses.
package dto

import "net/url"

// SignupRequest represents the request body for creating an account.
type SignupRequest struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

// BindForm fills the request from form values.
func (r *SignupRequest) BindForm(v url.Values) {
	r.Username = v.Get("username")
	r.Email = v.Get("email")
	r.Password = v.Get("password")
	r.ConfirmPassword = v.Get("confirmPassword")
}

// LoginRequest represents the request body for verifying credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// BindForm fills the request from form values.
func (r *LoginRequest) BindForm(v url.Values) {
	r.Email = v.Get("email")
	r.Password = v.Get("password")
}

// CheckEmailRequest represents the request body for an email lookup.
type CheckEmailRequest struct {
	Email string `json:"email"`
}

// BindForm fills the request from form values.
func (r *CheckEmailRequest) BindForm(v url.Values) {
	r.Email = v.Get("email")
}

// ResetPasswordRequest represents the request body for a password reset.
type ResetPasswordRequest struct {
	Email              string `json:"email"`
	NewPassword        string `json:"newPassword"`
	ConfirmNewPassword string `json:"confirmNewPassword"`
}

// BindForm fills the request from form values.
func (r *ResetPasswordRequest) BindForm(v url.Values) {
	r.Email = v.Get("email")
	r.NewPassword = v.Get("newPassword")
	r.ConfirmNewPassword = v.Get("confirmNewPassword")
}

// UserResponse carries the id of the account an operation acted on.
type UserResponse struct {
	Message string `json:"message"`
	UserID  int64  `json:"userId"`
}

// MessageResponse is a plain acknowledgement.
type MessageResponse struct {
	Message string `json:"message"`
}

// CheckEmailResponse reports whether an email is registered.
type CheckEmailResponse struct {
	Exists bool `json:"exists"`
}

// ErrorResponse represents an error in API responses.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
