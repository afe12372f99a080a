package main

import lexiread "github.com/lexiread/lexiread-go"

type CommonResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type LoginRequest struct {
	UserId   string `json:"user_id" binding:"required"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	UserId string `json:"user_id" binding:"required"`
	lexiread.RegisterRequest
}

type UserResponse struct {
	CommonResponse
	Data *lexiread.User `json:"data"`
}

type ForgotPasswordRequest struct {
	UserId string `json:"user_id" binding:"required"`
	Email  string `json:"email"`
}

type VerifyOTPRequest struct {
	UserId string `json:"user_id" binding:"required"`
	OTP    string `json:"otp"`
}

type ResetPasswordRequest struct {
	UserId               string `json:"user_id" binding:"required"`
	Password             string `json:"password"`
	PasswordConfirmation string `json:"password_confirmation"`
}

type UserIdRequest struct {
	UserId string `json:"user_id" binding:"required"`
}

type StatusResponse struct {
	CommonResponse
	Data string `json:"data"`
}

type VerifyOTPResponse struct {
	CommonResponse
	Data *VerifyOTPData `json:"data"`
}

// VerifyOTPData hides the reset token; the gateway keeps it server side.
type VerifyOTPData struct {
	Message  string `json:"message"`
	CanReset bool   `json:"can_reset"`
}

type AskRequest struct {
	UserId string `json:"user_id" binding:"required"`
	Prompt string `json:"prompt"`
}

type AskResponse struct {
	CommonResponse
	Data *lexiread.ChatMessage `json:"data"`
}

type MessagesData struct {
	Messages []lexiread.ChatMessage `json:"messages"`
	Loading  bool                   `json:"loading"`
}

type MessagesResponse struct {
	CommonResponse
	Data *MessagesData `json:"data"`
}
