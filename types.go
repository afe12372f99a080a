package lexiread

import (
	"strings"
	"time"
)

// User is the account returned by the authentication endpoints.
type User struct {
	Id     int64  `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Avatar string `json:"avatar"`
	Token  string `json:"token"`
}

type AuthResponse struct {
	User User `json:"user"`
}

// ServerErrorResponse is the body of every non-2xx response.
type ServerErrorResponse struct {
	Message string `json:"message"`
}

type RegisterRequest struct {
	Name                 string `json:"name"`
	Email                string `json:"email"`
	Password             string `json:"password"`
	PasswordConfirmation string `json:"password_confirmation"`
	Avatar               string `json:"avatar,omitempty"`
}

func (r *RegisterRequest) Validate() error {
	if strings.TrimSpace(r.Email) == "" {
		return newError(CodeInvalidRequest, "email is required")
	}
	return checkPasswords(r.Password, r.PasswordConfirmation)
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r *LoginRequest) Validate() error {
	if strings.TrimSpace(r.Email) == "" || r.Password == "" {
		return newError(CodeInvalidRequest, "email and password are required")
	}
	return nil
}

type ForgetPasswordRequest struct {
	Email string `json:"email"`
}

type ForgetPasswordResponse struct {
	Data string `json:"data"`
}

type ResendOTPRequest struct {
	Email string `json:"email"`
}

type ResendOTPResponse struct {
	Data string `json:"data"`
}

type VerifyOTPRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

// VerifyOTPData carries the reset token that authorizes the following
// reset-password call.
type VerifyOTPData struct {
	Message    string `json:"message"`
	ResetToken string `json:"reset_token"`
}

type VerifyOTPResponse struct {
	Data VerifyOTPData `json:"data"`
}

type ResetPasswordRequest struct {
	Email                string `json:"email"`
	ResetToken           string `json:"reset_token"`
	Password             string `json:"password"`
	PasswordConfirmation string `json:"password_confirmation"`
}

func (r *ResetPasswordRequest) Validate() error {
	if r.ResetToken == "" {
		return newError(CodeNoResetToken, "reset token is required, verify the OTP first")
	}
	return checkPasswords(r.Password, r.PasswordConfirmation)
}

type ResetPasswordResponse struct {
	Data string `json:"data"`
}

// ChatMessage is one entry of a conversation log. Messages are never
// mutated once appended.
type ChatMessage struct {
	Id        string    `json:"id"`
	Text      string    `json:"text"`
	IsUser    bool      `json:"is_user"`
	CreatedAt time.Time `json:"created_at"`
}

type BotRequest struct {
	Message string `json:"message"`
}

type BotResponse struct {
	Reply string `json:"reply"`
}

func checkPasswords(password, confirmation string) error {
	if password == "" {
		return newError(CodeInvalidRequest, "password is required")
	}
	if password != confirmation {
		return newError(CodeInvalidRequest, "password confirmation does not match")
	}
	return nil
}
