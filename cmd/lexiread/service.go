package main

import (
	"context"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	lexiread "github.com/lexiread/lexiread-go"
)

// client is the library state kept for one gateway user.
type client struct {
	auth         *lexiread.Authenticator
	conversation *lexiread.Conversation
}

type service struct {
	config    *lexiread.Config
	logger    *logrus.Logger
	responder lexiread.Responder // shared responder, nil means per-user HTTP
	clients   sync.Map
}

func newService(config *lexiread.Config, logger *logrus.Logger) (*service, error) {
	s := &service{config: config, logger: logger}
	if config.OpenAIKey != "" {
		r, err := lexiread.NewOpenAIResponder(config)
		if err != nil {
			return nil, errors.Wrap(err, "openai responder")
		}
		s.responder = r
	}
	return s, nil
}

// user ids name token cache files, so they are limited to one plain path
// element.
var userIdPattern = regexp.MustCompile(`^[A-Za-z0-9_-][A-Za-z0-9_.-]{0,63}$`)

func (s *service) client(userId string) (*client, error) {
	if !userIdPattern.MatchString(userId) {
		return nil, &lexiread.Error{Code: lexiread.CodeInvalidRequest, Message: "invalid user_id"}
	}
	if c, ok := s.clients.Load(userId); ok {
		return c.(*client), nil
	}
	config := *s.config
	if config.TokenCachePath != "" {
		config.TokenCachePath = filepath.Join(config.TokenCachePath, userId+".json")
	}
	auth, err := lexiread.NewAuthenticator(&config)
	if err != nil {
		return nil, err
	}
	auth.WithLogger(s.logger)
	responder := s.responder
	if responder == nil {
		responder = lexiread.NewHTTPResponder(&config, auth).WithLogger(s.logger)
	}
	c := &client{
		auth:         auth,
		conversation: lexiread.NewConversation(responder, lexiread.WithConversationLogger(s.logger)),
	}
	actual, _ := s.clients.LoadOrStore(userId, c)
	return actual.(*client), nil
}

func (s *service) Login(ctx context.Context, req *LoginRequest) *UserResponse {
	c, err := s.client(req.UserId)
	if err != nil {
		return &UserResponse{CommonResponse: error2CommonResponse(err)}
	}
	user, err := c.auth.Login(ctx, req.Email, req.Password)
	return &UserResponse{CommonResponse: error2CommonResponse(err), Data: user}
}

func (s *service) Register(ctx context.Context, req *RegisterRequest) *UserResponse {
	c, err := s.client(req.UserId)
	if err != nil {
		return &UserResponse{CommonResponse: error2CommonResponse(err)}
	}
	user, err := c.auth.Register(ctx, &req.RegisterRequest)
	return &UserResponse{CommonResponse: error2CommonResponse(err), Data: user}
}

func (s *service) Logout(ctx context.Context, req *UserIdRequest) CommonResponse {
	c, err := s.client(req.UserId)
	if err != nil {
		return error2CommonResponse(err)
	}
	err = c.auth.Logout(ctx)
	if resetErr := c.conversation.Reset(); resetErr != nil {
		s.logger.WithError(resetErr).WithField("user_id", req.UserId).Warn("conversation kept after logout")
	}
	return error2CommonResponse(err)
}

func (s *service) ForgotPassword(ctx context.Context, req *ForgotPasswordRequest) *StatusResponse {
	c, err := s.client(req.UserId)
	if err != nil {
		return &StatusResponse{CommonResponse: error2CommonResponse(err)}
	}
	status, err := c.auth.ForgotPassword(ctx, req.Email)
	return &StatusResponse{CommonResponse: error2CommonResponse(err), Data: status}
}

func (s *service) ResendOTP(ctx context.Context, req *UserIdRequest) *StatusResponse {
	c, err := s.client(req.UserId)
	if err != nil {
		return &StatusResponse{CommonResponse: error2CommonResponse(err)}
	}
	status, err := c.auth.ResendOTP(ctx)
	return &StatusResponse{CommonResponse: error2CommonResponse(err), Data: status}
}

func (s *service) VerifyOTP(ctx context.Context, req *VerifyOTPRequest) *VerifyOTPResponse {
	c, err := s.client(req.UserId)
	if err != nil {
		return &VerifyOTPResponse{CommonResponse: error2CommonResponse(err)}
	}
	data, err := c.auth.VerifyOTP(ctx, req.OTP)
	if err != nil {
		return &VerifyOTPResponse{CommonResponse: error2CommonResponse(err)}
	}
	return &VerifyOTPResponse{
		CommonResponse: error2CommonResponse(nil),
		Data:           &VerifyOTPData{Message: data.Message, CanReset: c.auth.HasResetToken()},
	}
}

func (s *service) ResetPassword(ctx context.Context, req *ResetPasswordRequest) *StatusResponse {
	c, err := s.client(req.UserId)
	if err != nil {
		return &StatusResponse{CommonResponse: error2CommonResponse(err)}
	}
	status, err := c.auth.ResetPassword(ctx, req.Password, req.PasswordConfirmation)
	return &StatusResponse{CommonResponse: error2CommonResponse(err), Data: status}
}

func (s *service) Ask(ctx context.Context, req *AskRequest) *AskResponse {
	c, err := s.client(req.UserId)
	if err != nil {
		return &AskResponse{CommonResponse: error2CommonResponse(err)}
	}
	msg, err := c.conversation.Send(ctx, req.Prompt)
	return &AskResponse{CommonResponse: error2CommonResponse(err), Data: msg}
}

func (s *service) Messages(userId string) *MessagesResponse {
	c, err := s.client(userId)
	if err != nil {
		return &MessagesResponse{CommonResponse: error2CommonResponse(err)}
	}
	return &MessagesResponse{
		CommonResponse: error2CommonResponse(nil),
		Data: &MessagesData{
			Messages: c.conversation.Messages(),
			Loading:  c.conversation.Loading(),
		},
	}
}

func error2CommonResponse(err error) CommonResponse {
	if err != nil {
		var e *lexiread.Error
		if errors.As(err, &e) {
			return CommonResponse{Code: e.Code, Message: e.Message}
		}
		return CommonResponse{Code: 500, Message: err.Error()}
	}
	return CommonResponse{Code: 200, Message: ""}
}
