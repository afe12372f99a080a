package lexiread

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/chyroc/gorequests"
	"github.com/sirupsen/logrus"
)

// Authenticator talks to the LexiRead authentication service and holds the
// resulting session and password-reset state.
type Authenticator struct {
	config    *Config
	transport *transport
	logger    *logrus.Logger
	now       func() time.Time
	cachePath string

	mu    sync.Mutex
	user  *User
	email string // email of the password reset in progress
	grant *resetGrant
}

func NewAuthenticator(config *Config) (*Authenticator, error) {
	if config == nil {
		return nil, newError(CodeConfig, "config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	logger := logrus.StandardLogger()
	a := &Authenticator{
		config:    config,
		logger:    logger,
		now:       time.Now,
		transport: &transport{config: config, logger: logger, retry: true},
	}
	if config.TokenCachePath != "" {
		a.WithTokenCache(config.TokenCachePath)
	}
	return a, nil
}

func (a *Authenticator) WithLogger(logger *logrus.Logger) *Authenticator {
	a.logger = logger
	a.transport.logger = logger
	return a
}

// WithSession routes requests through a gorequests session, e.g. one with a
// persistent cookie jar.
func (a *Authenticator) WithSession(session *gorequests.Session) *Authenticator {
	a.transport.session = session
	return a
}

func (a *Authenticator) WithClock(now func() time.Time) *Authenticator {
	a.now = now
	return a
}

// WithTokenCache persists the session at path and restores it if present.
func (a *Authenticator) WithTokenCache(path string) *Authenticator {
	a.cachePath = path
	user, err := readSessionCache(path)
	if err != nil {
		a.logger.WithError(err).WithField("path", path).Warn("ignoring token cache")
		return a
	}
	if user != nil {
		a.mu.Lock()
		a.user = user
		a.mu.Unlock()
		a.logger.WithField("user_id", user.Id).Info("session restored from cache")
	}
	return a
}

func (a *Authenticator) Register(ctx context.Context, req *RegisterRequest) (*User, error) {
	if req == nil {
		return nil, newError(CodeInvalidRequest, "register request cannot be nil")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	resp := &AuthResponse{}
	if err := a.transport.post(ctx, a.url(pathRegister), "", req, resp); err != nil {
		a.logger.WithError(err).Error("register failed")
		return nil, err
	}
	return a.startSession(&resp.User)
}

func (a *Authenticator) Login(ctx context.Context, email, password string) (*User, error) {
	req := &LoginRequest{Email: strings.TrimSpace(email), Password: password}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	resp := &AuthResponse{}
	if err := a.transport.post(ctx, a.url(pathLogin), "", req, resp); err != nil {
		a.logger.WithError(err).Error("login failed")
		return nil, err
	}
	return a.startSession(&resp.User)
}

// Logout ends the session. Local state is cleared even when the server call
// fails.
func (a *Authenticator) Logout(ctx context.Context) error {
	a.mu.Lock()
	user := a.user
	a.user = nil
	a.mu.Unlock()
	if user == nil {
		return newError(CodeUnauthenticated, "not logged in")
	}
	if a.cachePath != "" {
		if err := removeSessionCache(a.cachePath); err != nil {
			a.logger.WithError(err).Warn("token cache not removed")
		}
	}
	if err := a.transport.post(ctx, a.url(pathLogout), user.Token, struct{}{}, nil); err != nil {
		a.logger.WithError(err).WithField("user_id", user.Id).Warn("logout call failed")
		return err
	}
	a.logger.WithField("user_id", user.Id).Info("logged out")
	return nil
}

// ForgotPassword starts a password reset for email. Any reset token held
// from an earlier flow is discarded.
func (a *Authenticator) ForgotPassword(ctx context.Context, email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", newError(CodeInvalidRequest, "email is required")
	}
	a.mu.Lock()
	a.email = email
	a.grant = nil
	a.mu.Unlock()

	resp := &ForgetPasswordResponse{}
	if err := a.transport.post(ctx, a.url(pathForgotPassword), "", &ForgetPasswordRequest{Email: email}, resp); err != nil {
		a.logger.WithError(err).Error("forgot password failed")
		return "", err
	}
	return resp.Data, nil
}

func (a *Authenticator) ResendOTP(ctx context.Context) (string, error) {
	email, err := a.resetEmail()
	if err != nil {
		return "", err
	}
	resp := &ResendOTPResponse{}
	if err := a.transport.post(ctx, a.url(pathResendOTP), "", &ResendOTPRequest{Email: email}, resp); err != nil {
		a.logger.WithError(err).Error("resend otp failed")
		return "", err
	}
	return resp.Data, nil
}

// VerifyOTP exchanges the emailed code for a reset token, which is held for
// the following ResetPassword call.
func (a *Authenticator) VerifyOTP(ctx context.Context, otp string) (*VerifyOTPData, error) {
	otp = strings.TrimSpace(otp)
	if otp == "" {
		return nil, newError(CodeInvalidRequest, "otp is required")
	}
	email, err := a.resetEmail()
	if err != nil {
		return nil, err
	}
	resp := &VerifyOTPResponse{}
	if err := a.transport.post(ctx, a.url(pathVerifyOTP), "", &VerifyOTPRequest{Email: email, OTP: otp}, resp); err != nil {
		a.logger.WithError(err).Error("verify otp failed")
		return nil, err
	}
	if resp.Data.ResetToken == "" {
		return nil, newError(CodeDecode, "verify otp response has no reset token")
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.email != email {
		return nil, newError(CodeInvalidRequest, "password reset restarted for another address, verify the new OTP")
	}
	a.grant = &resetGrant{email: email, token: resp.Data.ResetToken, issuedAt: a.now()}
	return &resp.Data, nil
}

// ResetPassword sets a new password using the token from VerifyOTP. The
// token is consumed on success.
func (a *Authenticator) ResetPassword(ctx context.Context, password, confirmation string) (string, error) {
	a.mu.Lock()
	grant := a.grant
	a.mu.Unlock()
	if grant == nil {
		return "", newError(CodeNoResetToken, "no reset token held, verify the OTP first")
	}
	if grant.expired(a.now(), a.config.ResetTokenTTL) {
		a.clearGrant(grant)
		return "", newError(CodeResetTokenExpired, "reset token expired, request a new OTP")
	}
	req := &ResetPasswordRequest{
		Email:                grant.email,
		ResetToken:           grant.token,
		Password:             password,
		PasswordConfirmation: confirmation,
	}
	if err := req.Validate(); err != nil {
		return "", err
	}
	resp := &ResetPasswordResponse{}
	if err := a.transport.post(ctx, a.url(pathResetPassword), "", req, resp); err != nil {
		a.logger.WithError(err).Error("reset password failed")
		if IsCode(err, CodeUnauthenticated) {
			a.clearGrant(grant)
		}
		return "", err
	}
	a.clearGrant(grant)
	a.mu.Lock()
	if a.email == grant.email {
		a.email = ""
	}
	a.mu.Unlock()
	return resp.Data, nil
}

func (a *Authenticator) HasResetToken() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.grant != nil && !a.grant.expired(a.now(), a.config.ResetTokenTTL)
}

func (a *Authenticator) CurrentUser() *User {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.user == nil {
		return nil
	}
	u := *a.user
	return &u
}

// Token returns the session token, or "" when logged out.
func (a *Authenticator) Token() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.user == nil {
		return ""
	}
	return a.user.Token
}

func (a *Authenticator) IsAuthenticated() bool {
	return a.Token() != ""
}

func (a *Authenticator) startSession(user *User) (*User, error) {
	if user.Token == "" {
		return nil, newError(CodeDecode, "auth response has no token")
	}
	u := *user
	a.mu.Lock()
	a.user = &u
	a.mu.Unlock()
	if a.cachePath != "" {
		if err := writeSessionCache(a.cachePath, &u, a.now()); err != nil {
			a.logger.WithError(err).Warn("token cache not written")
		}
	}
	a.logger.WithField("user_id", u.Id).Info("session started")
	out := u
	return &out, nil
}

func (a *Authenticator) resetEmail() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.email == "" {
		return "", newError(CodeInvalidRequest, "no password reset in progress, call ForgotPassword first")
	}
	return a.email, nil
}

func (a *Authenticator) clearGrant(grant *resetGrant) {
	a.mu.Lock()
	if a.grant == grant {
		a.grant = nil
	}
	a.mu.Unlock()
}

func (a *Authenticator) url(path string) string {
	return joinURL(a.config.BaseURL, path)
}
