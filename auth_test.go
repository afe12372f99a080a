package lexiread_test

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lexiread "github.com/lexiread/lexiread-go"
	"github.com/lexiread/lexiread-go/internal/mockserver"
)

const testOTP = "424242"

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func newBackend(t *testing.T) (*mockserver.Server, *lexiread.Config) {
	mock := mockserver.New(mockserver.Config{
		GenerateOTP: func() string { return testOTP },
		Logger:      quietLogger(),
	})
	srv := httptest.NewServer(mock.Handler())
	t.Cleanup(srv.Close)
	return mock, &lexiread.Config{BaseURL: srv.URL, Timeout: 5 * time.Second}
}

// unreachableConfig points at a closed server, so any request fails with a
// transport error.
func unreachableConfig(t *testing.T) *lexiread.Config {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	return &lexiread.Config{BaseURL: srv.URL, Timeout: time.Second}
}

func newAuthenticator(t *testing.T, config *lexiread.Config) *lexiread.Authenticator {
	a, err := lexiread.NewAuthenticator(config)
	require.Nil(t, err)
	return a.WithLogger(quietLogger())
}

func register(t *testing.T, a *lexiread.Authenticator, email, password string) *lexiread.User {
	user, err := a.Register(context.Background(), &lexiread.RegisterRequest{
		Name:                 "Mia",
		Email:                email,
		Password:             password,
		PasswordConfirmation: password,
		Avatar:               "avatars/mia.png",
	})
	require.Nil(t, err)
	return user
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestNewAuthenticatorRejectsBadConfig(t *testing.T) {
	_, err := lexiread.NewAuthenticator(nil)
	assert.True(t, lexiread.IsCode(err, lexiread.CodeConfig))
	_, err = lexiread.NewAuthenticator(&lexiread.Config{BaseURL: "not a url"})
	assert.True(t, lexiread.IsCode(err, lexiread.CodeConfig))
}

func TestRegisterAndLogin(t *testing.T) {
	_, config := newBackend(t)
	a := newAuthenticator(t, config)

	user := register(t, a, "mia@example.com", "secret")
	assert.Equal(t, int64(1), user.Id)
	assert.Equal(t, "Mia", user.Name)
	assert.Equal(t, "avatars/mia.png", user.Avatar)
	assert.NotEmpty(t, user.Token)
	assert.True(t, a.IsAuthenticated())
	assert.Equal(t, user, a.CurrentUser())

	b := newAuthenticator(t, config)
	logged, err := b.Login(context.Background(), "mia@example.com", "secret")
	require.Nil(t, err)
	assert.Equal(t, user.Id, logged.Id)
	assert.NotEqual(t, user.Token, logged.Token)
	assert.Equal(t, logged.Token, b.Token())
}

func TestRegisterPasswordMismatchRejectedLocally(t *testing.T) {
	a := newAuthenticator(t, unreachableConfig(t))
	_, err := a.Register(context.Background(), &lexiread.RegisterRequest{
		Email:                "mia@example.com",
		Password:             "secret",
		PasswordConfirmation: "secreT",
	})
	assert.True(t, lexiread.IsCode(err, lexiread.CodeInvalidRequest))
	assert.False(t, a.IsAuthenticated())
}

func TestServerErrorsSurface(t *testing.T) {
	_, config := newBackend(t)
	a := newAuthenticator(t, config)
	register(t, a, "mia@example.com", "secret")

	_, err := a.Register(context.Background(), &lexiread.RegisterRequest{
		Email: "mia@example.com", Password: "x", PasswordConfirmation: "x",
	})
	var e *lexiread.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, lexiread.CodeServer, e.Code)
	assert.Equal(t, http.StatusConflict, e.Status)
	assert.Equal(t, "user already exists", e.Message)

	_, err = newAuthenticator(t, config).Login(context.Background(), "mia@example.com", "wrong")
	require.ErrorAs(t, err, &e)
	assert.Equal(t, lexiread.CodeUnauthenticated, e.Code)
	assert.Equal(t, "invalid credentials", e.Message)
}

func TestTransportFailure(t *testing.T) {
	a := newAuthenticator(t, unreachableConfig(t))
	_, err := a.Login(context.Background(), "mia@example.com", "secret")
	assert.True(t, lexiread.IsCode(err, lexiread.CodeTransport))
}

func TestConnectFailureRetried(t *testing.T) {
	mock := mockserver.New(mockserver.Config{Logger: quietLogger()})
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.Nil(t, err)
	addr := l.Addr().String()
	require.Nil(t, l.Close())

	served := make(chan *http.Server, 1)
	go func() {
		time.Sleep(300 * time.Millisecond)
		l, err := net.Listen("tcp", addr)
		if err != nil {
			served <- nil
			return
		}
		srv := &http.Server{Handler: mock.Handler()}
		served <- srv
		_ = srv.Serve(l)
	}()
	defer func() {
		if srv := <-served; srv != nil {
			_ = srv.Close()
		}
	}()

	config := &lexiread.Config{BaseURL: "http://" + addr, Timeout: 10 * time.Second, RetryMaxElapsed: 5 * time.Second}
	a := newAuthenticator(t, config)
	register(t, a, "mia@example.com", "secret")
	assert.True(t, a.IsAuthenticated())
}

func TestDroppedResponseNotReplayed(t *testing.T) {
	mock := mockserver.New(mockserver.Config{
		GenerateOTP: func() string { return testOTP },
		Logger:      quietLogger(),
	})
	var verifyCalls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/auth/verify-otp" {
			mock.Handler().ServeHTTP(w, r)
			return
		}
		atomic.AddInt64(&verifyCalls, 1)
		// the server consumes the otp, then the connection drops
		mock.Handler().ServeHTTP(httptest.NewRecorder(), r)
		conn, _, err := w.(http.Hijacker).Hijack()
		if err == nil {
			_ = conn.Close()
		}
	}))
	defer srv.Close()

	config := &lexiread.Config{BaseURL: srv.URL, Timeout: 5 * time.Second, RetryMaxElapsed: 5 * time.Second}
	a := newAuthenticator(t, config)
	register(t, a, "mia@example.com", "secret")
	_, err := a.ForgotPassword(context.Background(), "mia@example.com")
	require.Nil(t, err)

	_, err = a.VerifyOTP(context.Background(), testOTP)
	assert.True(t, lexiread.IsCode(err, lexiread.CodeTransport))
	assert.Equal(t, int64(1), atomic.LoadInt64(&verifyCalls))
	assert.False(t, a.HasResetToken())
}

// stalledServer holds every request until the client gives up.
func stalledServer(t *testing.T) string {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })
	return srv.URL
}

func TestRequestTimeout(t *testing.T) {
	config := &lexiread.Config{BaseURL: stalledServer(t), Timeout: 200 * time.Millisecond}
	a := newAuthenticator(t, config)

	start := time.Now()
	_, err := a.Login(context.Background(), "mia@example.com", "secret")
	assert.True(t, lexiread.IsCode(err, lexiread.CodeTransport))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestRequestCancelled(t *testing.T) {
	config := &lexiread.Config{BaseURL: stalledServer(t), Timeout: 30 * time.Second}
	a := newAuthenticator(t, config)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)
	start := time.Now()
	_, err := a.Login(ctx, "mia@example.com", "secret")
	assert.True(t, lexiread.IsCode(err, lexiread.CodeTransport))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func captureStdout(t *testing.T, f func()) string {
	r, w, err := os.Pipe()
	require.Nil(t, err)
	var buf bytes.Buffer
	done := make(chan struct{})
	go func() {
		_, _ = io.Copy(&buf, r)
		close(done)
	}()

	stdout := os.Stdout
	os.Stdout = w
	func() {
		defer func() { os.Stdout = stdout }()
		f()
	}()
	_ = w.Close()
	<-done
	return buf.String()
}

func TestSecretsNotPrinted(t *testing.T) {
	mock, config := newBackend(t)
	out := captureStdout(t, func() {
		a := newAuthenticator(t, config)
		register(t, a, "mia@example.com", "hunter2-secret")
		_, err := a.ForgotPassword(context.Background(), "mia@example.com")
		require.Nil(t, err)
		otp, _ := mock.LastOTP("mia@example.com")
		_, err = a.VerifyOTP(context.Background(), otp)
		require.Nil(t, err)
		_, err = a.ResetPassword(context.Background(), "fresh-secret", "fresh-secret")
		require.Nil(t, err)
	})
	assert.NotContains(t, out, "hunter2-secret")
	assert.NotContains(t, out, "fresh-secret")
	assert.NotContains(t, out, testOTP)
	assert.Empty(t, out)
}

func TestLogout(t *testing.T) {
	_, config := newBackend(t)
	a := newAuthenticator(t, config)
	register(t, a, "mia@example.com", "secret")

	require.Nil(t, a.Logout(context.Background()))
	assert.False(t, a.IsAuthenticated())
	assert.Nil(t, a.CurrentUser())

	err := a.Logout(context.Background())
	assert.True(t, lexiread.IsCode(err, lexiread.CodeUnauthenticated))
}

func TestPasswordResetFlow(t *testing.T) {
	mock, config := newBackend(t)
	a := newAuthenticator(t, config)
	register(t, a, "mia@example.com", "secret")

	status, err := a.ForgotPassword(context.Background(), "mia@example.com")
	require.Nil(t, err)
	assert.Equal(t, "otp sent", status)
	assert.False(t, a.HasResetToken())

	status, err = a.ResendOTP(context.Background())
	require.Nil(t, err)
	assert.Equal(t, "otp resent", status)

	otp, ok := mock.LastOTP("mia@example.com")
	require.True(t, ok)
	data, err := a.VerifyOTP(context.Background(), otp)
	require.Nil(t, err)
	assert.NotEmpty(t, data.ResetToken)
	assert.True(t, a.HasResetToken())

	status, err = a.ResetPassword(context.Background(), "fresh", "fresh")
	require.Nil(t, err)
	assert.Equal(t, "password updated", status)
	assert.False(t, a.HasResetToken())

	_, err = newAuthenticator(t, config).Login(context.Background(), "mia@example.com", "fresh")
	assert.Nil(t, err)
	_, err = newAuthenticator(t, config).Login(context.Background(), "mia@example.com", "secret")
	assert.True(t, lexiread.IsCode(err, lexiread.CodeUnauthenticated))
}

func TestResetPasswordRequiresVerifiedOTP(t *testing.T) {
	a := newAuthenticator(t, unreachableConfig(t))
	_, err := a.ResetPassword(context.Background(), "fresh", "fresh")
	assert.True(t, lexiread.IsCode(err, lexiread.CodeNoResetToken))
}

func TestVerifyOTPRequiresForgotPassword(t *testing.T) {
	a := newAuthenticator(t, unreachableConfig(t))
	_, err := a.VerifyOTP(context.Background(), testOTP)
	assert.True(t, lexiread.IsCode(err, lexiread.CodeInvalidRequest))
	_, err = a.ResendOTP(context.Background())
	assert.True(t, lexiread.IsCode(err, lexiread.CodeInvalidRequest))
}

func TestWrongOTPHoldsNoToken(t *testing.T) {
	_, config := newBackend(t)
	a := newAuthenticator(t, config)
	register(t, a, "mia@example.com", "secret")

	_, err := a.ForgotPassword(context.Background(), "mia@example.com")
	require.Nil(t, err)
	_, err = a.VerifyOTP(context.Background(), "000000")
	assert.True(t, lexiread.IsCode(err, lexiread.CodeServer))
	assert.False(t, a.HasResetToken())

	_, err = a.ResetPassword(context.Background(), "fresh", "fresh")
	assert.True(t, lexiread.IsCode(err, lexiread.CodeNoResetToken))
}

func TestResetTokenIsSingleUse(t *testing.T) {
	_, config := newBackend(t)
	a := newAuthenticator(t, config)
	register(t, a, "mia@example.com", "secret")

	_, err := a.ForgotPassword(context.Background(), "mia@example.com")
	require.Nil(t, err)
	_, err = a.VerifyOTP(context.Background(), testOTP)
	require.Nil(t, err)
	_, err = a.ResetPassword(context.Background(), "fresh", "fresh")
	require.Nil(t, err)

	_, err = a.ResetPassword(context.Background(), "again", "again")
	assert.True(t, lexiread.IsCode(err, lexiread.CodeNoResetToken))
}

func TestResetTokenExpires(t *testing.T) {
	_, config := newBackend(t)
	config.ResetTokenTTL = time.Minute
	clock := &fakeClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	a := newAuthenticator(t, config).WithClock(clock.Now)
	register(t, a, "mia@example.com", "secret")

	_, err := a.ForgotPassword(context.Background(), "mia@example.com")
	require.Nil(t, err)
	_, err = a.VerifyOTP(context.Background(), testOTP)
	require.Nil(t, err)
	assert.True(t, a.HasResetToken())

	clock.Advance(2 * time.Minute)
	assert.False(t, a.HasResetToken())
	_, err = a.ResetPassword(context.Background(), "fresh", "fresh")
	assert.True(t, lexiread.IsCode(err, lexiread.CodeResetTokenExpired))

	_, err = a.ResetPassword(context.Background(), "fresh", "fresh")
	assert.True(t, lexiread.IsCode(err, lexiread.CodeNoResetToken))
}

func TestResetPasswordMismatchKeepsToken(t *testing.T) {
	_, config := newBackend(t)
	a := newAuthenticator(t, config)
	register(t, a, "mia@example.com", "secret")

	_, err := a.ForgotPassword(context.Background(), "mia@example.com")
	require.Nil(t, err)
	_, err = a.VerifyOTP(context.Background(), testOTP)
	require.Nil(t, err)

	_, err = a.ResetPassword(context.Background(), "fresh", "fresh!")
	assert.True(t, lexiread.IsCode(err, lexiread.CodeInvalidRequest))
	assert.True(t, a.HasResetToken())
}

func TestForgotPasswordDiscardsHeldToken(t *testing.T) {
	_, config := newBackend(t)
	a := newAuthenticator(t, config)
	register(t, a, "mia@example.com", "secret")

	_, err := a.ForgotPassword(context.Background(), "mia@example.com")
	require.Nil(t, err)
	_, err = a.VerifyOTP(context.Background(), testOTP)
	require.Nil(t, err)
	require.True(t, a.HasResetToken())

	_, err = a.ForgotPassword(context.Background(), "mia@example.com")
	require.Nil(t, err)
	assert.False(t, a.HasResetToken())
}

func TestTokenCache(t *testing.T) {
	_, config := newBackend(t)
	config.TokenCachePath = filepath.Join(t.TempDir(), "session", "token.json")

	a := newAuthenticator(t, config)
	user := register(t, a, "mia@example.com", "secret")

	info, err := os.Stat(config.TokenCachePath)
	require.Nil(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	restored := newAuthenticator(t, config)
	assert.True(t, restored.IsAuthenticated())
	assert.Equal(t, user, restored.CurrentUser())

	require.Nil(t, restored.Logout(context.Background()))
	_, err = os.Stat(config.TokenCachePath)
	assert.True(t, os.IsNotExist(err))
}

func TestCorruptTokenCacheIgnored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	require.Nil(t, os.WriteFile(path, []byte("{not json"), 0o600))

	config := unreachableConfig(t)
	config.TokenCachePath = path
	a := newAuthenticator(t, config)
	assert.False(t, a.IsAuthenticated())
}

func TestServerRejectedResetTokenIsDropped(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	mock := mockserver.New(mockserver.Config{
		GenerateOTP:   func() string { return testOTP },
		ResetTokenTTL: time.Minute,
		Logger:        quietLogger(),
		Now:           clock.Now,
	})
	srv := httptest.NewServer(mock.Handler())
	defer srv.Close()

	a := newAuthenticator(t, &lexiread.Config{BaseURL: srv.URL, Timeout: 5 * time.Second})
	register(t, a, "mia@example.com", "secret")
	_, err := a.ForgotPassword(context.Background(), "mia@example.com")
	require.Nil(t, err)
	_, err = a.VerifyOTP(context.Background(), testOTP)
	require.Nil(t, err)
	require.True(t, a.HasResetToken())

	clock.Advance(2 * time.Minute)
	_, err = a.ResetPassword(context.Background(), "fresh", "fresh")
	assert.True(t, lexiread.IsCode(err, lexiread.CodeUnauthenticated))
	assert.False(t, a.HasResetToken())

	_, err = a.ResetPassword(context.Background(), "fresh", "fresh")
	assert.True(t, lexiread.IsCode(err, lexiread.CodeNoResetToken))
}

func TestVerifyOTPForRestartedFlowHoldsNoToken(t *testing.T) {
	arrived := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/auth/forgot-password":
			_, _ = w.Write([]byte(`{"data":"otp sent"}`))
		case "/api/auth/verify-otp":
			close(arrived)
			<-release
			_, _ = w.Write([]byte(`{"data":{"message":"otp verified","reset_token":"reset-1"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	a := newAuthenticator(t, &lexiread.Config{BaseURL: srv.URL, Timeout: 5 * time.Second})
	_, err := a.ForgotPassword(context.Background(), "mia@example.com")
	require.Nil(t, err)

	verified := make(chan error, 1)
	go func() {
		_, err := a.VerifyOTP(context.Background(), testOTP)
		verified <- err
	}()
	<-arrived
	_, err = a.ForgotPassword(context.Background(), "leo@example.com")
	require.Nil(t, err)
	close(release)

	err = <-verified
	assert.True(t, lexiread.IsCode(err, lexiread.CodeInvalidRequest))
	assert.False(t, a.HasResetToken())
}
