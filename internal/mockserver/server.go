// Package mockserver is an in-memory LexiRead backend used by tests and for
// local development.
package mockserver

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	lexiread "github.com/lexiread/lexiread-go"
)

const (
	errInvalidCredentials = "invalid credentials"
	errUserExists         = "user already exists"
	errUserNotFound       = "user not found"
	errInvalidOTP         = "invalid or expired otp"
	errInvalidResetToken  = "invalid or expired reset token"
)

type account struct {
	user         lexiread.User
	passwordHash []byte
}

type otpEntry struct {
	code      string
	expiresAt time.Time
}

type resetEntry struct {
	email     string
	expiresAt time.Time
}

type Config struct {
	OTPTTL        time.Duration
	ResetTokenTTL time.Duration
	// GenerateOTP overrides the random 6 digit code generator.
	GenerateOTP func() string
	// Reply overrides the chat echo.
	Reply  func(message string) string
	Logger *logrus.Logger
	Now    func() time.Time
}

type Server struct {
	config Config
	router *mux.Router

	mu          sync.Mutex
	nextId      int64
	accounts    map[string]*account // by email
	sessions    map[string]string   // token -> email
	otps        map[string]otpEntry // by email
	resetTokens map[string]resetEntry
	chatCalls   int
}

func New(config Config) *Server {
	if config.OTPTTL == 0 {
		config.OTPTTL = 10 * time.Minute
	}
	if config.ResetTokenTTL == 0 {
		config.ResetTokenTTL = 15 * time.Minute
	}
	if config.GenerateOTP == nil {
		config.GenerateOTP = randomOTP
	}
	if config.Reply == nil {
		config.Reply = func(message string) string { return "You said: " + message }
	}
	if config.Logger == nil {
		config.Logger = logrus.StandardLogger()
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	s := &Server{
		config:      config,
		accounts:    map[string]*account{},
		sessions:    map[string]string{},
		otps:        map[string]otpEntry{},
		resetTokens: map[string]resetEntry{},
	}
	s.router = s.newRouter()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) newRouter() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprintln(w, "OK")
	}).Methods("GET")
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/auth/register", s.handleRegister).Methods("POST")
	api.HandleFunc("/auth/login", s.handleLogin).Methods("POST")
	api.HandleFunc("/auth/logout", s.requireAuth(s.handleLogout)).Methods("POST")
	api.HandleFunc("/auth/forgot-password", s.handleForgotPassword).Methods("POST")
	api.HandleFunc("/auth/resend-otp", s.handleResendOTP).Methods("POST")
	api.HandleFunc("/auth/verify-otp", s.handleVerifyOTP).Methods("POST")
	api.HandleFunc("/auth/reset-password", s.handleResetPassword).Methods("POST")
	api.HandleFunc("/chat", s.requireAuth(s.handleChat)).Methods("POST")
	return r
}

// LastOTP returns the code most recently issued for email.
func (s *Server) LastOTP(email string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.otps[normalizeEmail(email)]
	return entry.code, ok
}

// ChatCalls is the number of chat requests that reached the handler.
func (s *Server) ChatCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chatCalls
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	req := &lexiread.RegisterRequest{}
	if !decode(w, r, req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, validationMessage(err))
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.MinCost)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not hash password")
		return
	}
	email := normalizeEmail(req.Email)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[email]; ok {
		writeError(w, http.StatusConflict, errUserExists)
		return
	}
	s.nextId++
	acc := &account{
		user:         lexiread.User{Id: s.nextId, Name: req.Name, Email: email, Avatar: req.Avatar},
		passwordHash: hash,
	}
	s.accounts[email] = acc
	s.config.Logger.WithField("user_id", acc.user.Id).Info("mock user registered")
	writeJSON(w, http.StatusCreated, &lexiread.AuthResponse{User: s.issueSessionLocked(acc)})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	req := &lexiread.LoginRequest{}
	if !decode(w, r, req) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[normalizeEmail(req.Email)]
	if !ok || bcrypt.CompareHashAndPassword(acc.passwordHash, []byte(req.Password)) != nil {
		writeError(w, http.StatusUnauthorized, errInvalidCredentials)
		return
	}
	writeJSON(w, http.StatusOK, &lexiread.AuthResponse{User: s.issueSessionLocked(acc)})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, token string) {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"data": "logged out"})
}

func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	req := &lexiread.ForgetPasswordRequest{}
	if !decode(w, r, req) {
		return
	}
	if !s.issueOTP(w, req.Email) {
		return
	}
	writeJSON(w, http.StatusOK, &lexiread.ForgetPasswordResponse{Data: "otp sent"})
}

func (s *Server) handleResendOTP(w http.ResponseWriter, r *http.Request) {
	req := &lexiread.ResendOTPRequest{}
	if !decode(w, r, req) {
		return
	}
	if !s.issueOTP(w, req.Email) {
		return
	}
	writeJSON(w, http.StatusOK, &lexiread.ResendOTPResponse{Data: "otp resent"})
}

func (s *Server) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	req := &lexiread.VerifyOTPRequest{}
	if !decode(w, r, req) {
		return
	}
	email := normalizeEmail(req.Email)
	now := s.config.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.otps[email]
	if !ok || entry.code != req.OTP || now.After(entry.expiresAt) {
		writeError(w, http.StatusBadRequest, errInvalidOTP)
		return
	}
	delete(s.otps, email)
	token := uuid.NewString()
	s.resetTokens[token] = resetEntry{email: email, expiresAt: now.Add(s.config.ResetTokenTTL)}
	writeJSON(w, http.StatusOK, &lexiread.VerifyOTPResponse{Data: lexiread.VerifyOTPData{
		Message:    "otp verified",
		ResetToken: token,
	}})
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	req := &lexiread.ResetPasswordRequest{}
	if !decode(w, r, req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, validationMessage(err))
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.MinCost)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not hash password")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.resetTokens[req.ResetToken]
	if !ok || entry.email != normalizeEmail(req.Email) || s.config.Now().After(entry.expiresAt) {
		writeError(w, http.StatusUnauthorized, errInvalidResetToken)
		return
	}
	delete(s.resetTokens, req.ResetToken)
	acc, ok := s.accounts[entry.email]
	if !ok {
		writeError(w, http.StatusNotFound, errUserNotFound)
		return
	}
	acc.passwordHash = hash
	for token, email := range s.sessions {
		if email == entry.email {
			delete(s.sessions, token)
		}
	}
	writeJSON(w, http.StatusOK, &lexiread.ResetPasswordResponse{Data: "password updated"})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request, _ string) {
	req := &lexiread.BotRequest{}
	if !decode(w, r, req) {
		return
	}
	s.mu.Lock()
	s.chatCalls++
	s.mu.Unlock()
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	writeJSON(w, http.StatusOK, &lexiread.BotResponse{Reply: s.config.Reply(req.Message)})
}

func (s *Server) issueOTP(w http.ResponseWriter, email string) bool {
	email = normalizeEmail(email)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[email]; !ok {
		writeError(w, http.StatusNotFound, errUserNotFound)
		return false
	}
	code := s.config.GenerateOTP()
	s.otps[email] = otpEntry{code: code, expiresAt: s.config.Now().Add(s.config.OTPTTL)}
	s.config.Logger.WithField("email", email).Debug("mock otp issued")
	return true
}

func (s *Server) issueSessionLocked(acc *account) lexiread.User {
	token := uuid.NewString()
	s.sessions[token] = acc.user.Email
	u := acc.user
	u.Token = token
	return u
}

func (s *Server) requireAuth(next func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		s.mu.Lock()
		_, ok := s.sessions[token]
		s.mu.Unlock()
		if token == "" || !ok {
			writeError(w, http.StatusUnauthorized, "missing or invalid token")
			return
		}
		next(w, r, token)
	}
}

func bearerToken(r *http.Request) string {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, &lexiread.ServerErrorResponse{Message: message})
}

func validationMessage(err error) string {
	var e *lexiread.Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func randomOTP() string {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		panic(err)
	}
	return fmt.Sprintf("%06d", n.Int64())
}
